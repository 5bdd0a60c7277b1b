package app_test

import (
	"context"
	"testing"
	"time"

	"duel-ladder-service/internal/app"
)

func newTestRoom() *app.Room {
	return app.NewRoom(staticQuestions{q: sampleQuestion()}, nil)
}

func TestRoomLobbyFlow(t *testing.T) {
	room := newTestRoom()

	if room.Join(1, "Alice") {
		t.Fatalf("join must fail while the lobby is closed")
	}

	room.OpenLobby(3, 10*time.Second)
	if !room.Join(1, "Alice") {
		t.Fatalf("join failed with an open lobby")
	}
	if !room.Join(1, "Alice") {
		t.Fatalf("rejoin must stay accepted")
	}
	if !room.Join(2, "Bob") {
		t.Fatalf("second join failed")
	}
	if got := room.PlayerCount(); got != 2 {
		t.Fatalf("expected 2 players, got %d", got)
	}

	if !room.Start() {
		t.Fatalf("start failed with players joined")
	}
	if room.Join(3, "Carol") {
		t.Fatalf("join must fail once running")
	}
	if room.Start() {
		t.Fatalf("double start must fail")
	}
}

func TestRoomStartRequiresPlayers(t *testing.T) {
	room := newTestRoom()
	room.OpenLobby(3, 10*time.Second)
	if room.Start() {
		t.Fatalf("start must fail with an empty lobby")
	}
}

func TestRoomRoundScoring(t *testing.T) {
	ctx := context.Background()
	room := newTestRoom()
	room.OpenLobby(2, 10*time.Second)
	room.Join(1, "Alice")
	room.Join(2, "Bob")
	room.Join(3, "Carol")
	room.Start()

	if !room.NextRound(ctx) {
		t.Fatalf("first round failed to start")
	}
	correct := sampleQuestion().CorrectIdx
	if !room.SubmitAnswer(1, correct) {
		t.Fatalf("Alice's answer rejected")
	}
	if room.SubmitAnswer(1, correct) {
		t.Fatalf("duplicate answer must be rejected")
	}
	if !room.SubmitAnswer(2, correct+1) {
		t.Fatalf("Bob's answer rejected")
	}
	if room.SubmitAnswer(99, correct) {
		t.Fatalf("non-joined player must be rejected")
	}
	// Carol never answers.

	result := room.EndRound()
	if result.Round != 1 {
		t.Fatalf("expected round 1 in the log, got %d", result.Round)
	}
	if len(result.PlayerResults) != 3 {
		t.Fatalf("every joined player gets a result row, got %d", len(result.PlayerResults))
	}

	ranks := room.Leaderboard(0)
	if len(ranks) != 3 {
		t.Fatalf("expected 3 ranked players, got %d", len(ranks))
	}
	if ranks[0].PlayerID != 1 || ranks[0].Score != 2 {
		t.Fatalf("expected Alice leading with 2 points, got %+v", ranks[0])
	}
	if ranks[0].Correct != 1 {
		t.Fatalf("expected Alice with 1 correct, got %+v", ranks[0])
	}
	// Bob answered wrong, Carol missed; both on 0, tie broken by player ID.
	if ranks[1].PlayerID != 2 || ranks[2].PlayerID != 3 {
		t.Fatalf("expected 0-point tie broken by ascending ID, got %+v", ranks[1:])
	}
	if ranks[2].Wrong != 1 {
		t.Fatalf("a missed round counts as wrong, got %+v", ranks[2])
	}
}

func TestRoomFinishesAfterAllRounds(t *testing.T) {
	ctx := context.Background()
	room := newTestRoom()
	room.OpenLobby(2, 10*time.Second)
	room.Join(1, "Alice")
	room.Start()

	for round := 0; round < 2; round++ {
		if !room.NextRound(ctx) {
			t.Fatalf("round %d failed to start", round+1)
		}
		room.SubmitAnswer(1, sampleQuestion().CorrectIdx)
		room.EndRound()
	}
	if room.NextRound(ctx) {
		t.Fatalf("round past the total must not start")
	}

	state := room.StateFor(1)
	if !state.IsFinished || state.IsRunning {
		t.Fatalf("expected a finished room, got %+v", state)
	}
	if len(state.FinalLeaderboard) != 1 {
		t.Fatalf("expected a final leaderboard, got %+v", state.FinalLeaderboard)
	}
}

func TestRoomStateForAnonymous(t *testing.T) {
	ctx := context.Background()
	room := newTestRoom()
	room.OpenLobby(2, 10*time.Second)
	room.Join(1, "Alice")
	room.Start()
	room.NextRound(ctx)

	state := room.StateFor(0)
	if state.MyScore != nil || state.MyRank != nil || state.AlreadyAnswered != nil {
		t.Fatalf("anonymous state must omit personal fields, got %+v", state)
	}
	if state.Question == nil {
		t.Fatalf("expected the running question in the snapshot")
	}
	if state.Question.Prompt != sampleQuestion().Prompt {
		t.Fatalf("unexpected prompt %q", state.Question.Prompt)
	}

	identified := room.StateFor(1)
	if identified.MyScore == nil || identified.AlreadyAnswered == nil {
		t.Fatalf("identified state must carry personal fields, got %+v", identified)
	}
	if *identified.AlreadyAnswered {
		t.Fatalf("player has not answered yet")
	}
	room.SubmitAnswer(1, 0)
	identified = room.StateFor(1)
	if !*identified.AlreadyAnswered {
		t.Fatalf("expected already_answered after submitting")
	}
}

func TestRoomRunLoopDrivesRounds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	room := newTestRoom()
	room.OpenLobby(2, 40*time.Millisecond)
	room.Join(1, "Alice")
	room.Start()

	go room.RunLoop(ctx, 5*time.Millisecond, 5*time.Millisecond)

	// The loop starts round one on its own; answering immediately ends it
	// early because everyone has answered.
	waitFor(t, "first round to start", func() bool { return room.RoundActive() })
	room.SubmitAnswer(1, sampleQuestion().CorrectIdx)
	waitFor(t, "second round to start", func() bool {
		return len(room.RoundResults()) >= 1 && room.RoundActive()
	})

	// Let the second round expire on the clock.
	waitFor(t, "room to finish", func() bool { return room.StateFor(0).IsFinished })

	results := room.RoundResults()
	if len(results) != 2 {
		t.Fatalf("expected 2 logged rounds, got %d", len(results))
	}
}

func TestRoomResetClearsEverything(t *testing.T) {
	ctx := context.Background()
	room := newTestRoom()
	room.OpenLobby(2, 10*time.Second)
	room.Join(1, "Alice")
	room.Start()
	room.NextRound(ctx)
	room.SubmitAnswer(1, 0)
	room.EndRound()

	room.Reset()
	state := room.StateFor(0)
	if state.IsOpen || state.IsRunning || state.IsFinished {
		t.Fatalf("expected a closed idle room, got %+v", state)
	}
	if state.PlayerCount != 0 {
		t.Fatalf("expected no players after reset, got %d", state.PlayerCount)
	}
	if len(room.RoundResults()) != 0 {
		t.Fatalf("expected an empty round log after reset")
	}
}
