package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"duel-ladder-service/internal/domain"
)

// Duel is a paired 1:1 session. Round state is guarded by the duel's own
// mutex; the arena mutex is only involved when binding and unbinding.
type Duel struct {
	id       int64
	eventID  int64
	p1, p2   int64
	category domain.Category

	roundsTotal int
	roundTime   time.Duration

	mu         sync.Mutex
	roundIdx   int
	scores     map[int64]int
	question   *domain.Question
	roundStart time.Time
	answers    map[int64]domain.Answer
	allIn      chan struct{}
	done       bool
}

func newDuel(id, eventID, p1, p2 int64, category domain.Category, rounds int, roundTime time.Duration) *Duel {
	return &Duel{
		id:          id,
		eventID:     eventID,
		p1:          p1,
		p2:          p2,
		category:    category,
		roundsTotal: rounds,
		roundTime:   roundTime,
		scores:      map[int64]int{p1: 0, p2: 0},
	}
}

// ID returns the duel identifier.
func (d *Duel) ID() int64 { return d.id }

// Players returns both participants.
func (d *Duel) Players() (int64, int64) { return d.p1, d.p2 }

// submit records at most one answer per player per round. Returns false for
// finished duels, non-participants, stale rounds, duplicates, and rounds
// with no active question.
func (d *Duel) submit(playerID int64, roundIdx, choice int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.done || d.question == nil {
		return false
	}
	if playerID != d.p1 && playerID != d.p2 {
		return false
	}
	if roundIdx != d.roundIdx {
		return false
	}
	if _, dup := d.answers[playerID]; dup {
		return false
	}
	d.answers[playerID] = domain.Answer{
		Choice:  choice,
		Latency: time.Since(d.roundStart),
	}
	if len(d.answers) == 2 {
		close(d.allIn)
	}
	return true
}

// beginRound installs the question and resets per-round state. Returns the
// round index and the channel closed when both answers are in.
func (d *Duel) beginRound(q domain.Question) (int, chan struct{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.question = &q
	d.category = q.Category
	d.roundStart = time.Now()
	d.answers = make(map[int64]domain.Answer)
	d.allIn = make(chan struct{})
	return d.roundIdx, d.allIn
}

func (d *Duel) isDone() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.done
}

func (d *Duel) currentRound() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.roundIdx
}

// runDuel drives a duel from intro to finish. It owns the per-round timer:
// the select below waits on whichever comes first, timeout or both answers.
// Because the wait lives inside the round iteration, a timer can never act
// on a later round.
func (a *Arena) runDuel(d *Duel) {
	ctx := context.Background()

	intro := fmt.Sprintf(
		"Duel found!\nPlayer %d vs player %d\nMode: %s\nRounds: %d\n\nStarting soon…",
		d.p1, d.p2, d.category, d.roundsTotal,
	)
	a.notify.SendText(d.p1, intro)
	a.notify.SendText(d.p2, intro)
	time.Sleep(a.settings.PreDuelCountdown)

	for {
		if d.isDone() {
			return
		}
		if d.currentRound() >= d.roundsTotal {
			a.finishDuel(ctx, d, false)
			return
		}

		q, err := a.buildWithFallback(ctx, d.category)
		if err != nil {
			msg := "Not enough vocabulary to generate questions."
			a.notify.SendText(d.p1, msg)
			a.notify.SendText(d.p2, msg)
			a.finishDuel(ctx, d, true)
			return
		}

		round, allIn := d.beginRound(q)
		refs := a.sendDuelQuestion(d, round, q)

		timer := time.NewTimer(d.roundTime)
		timedOut := false
		select {
		case <-timer.C:
			timedOut = true
		case <-allIn:
			// Both answered early; stopping a fired timer is a no-op.
			timer.Stop()
		}

		a.revealDuelRound(ctx, d, refs, timedOut)
		time.Sleep(a.settings.RevealPause)
	}
}

func (a *Arena) sendDuelQuestion(d *Duel, round int, q domain.Question) [2]MessageRef {
	d.mu.Lock()
	s1, s2 := d.scores[d.p1], d.scores[d.p2]
	d.mu.Unlock()

	header := func(opponent int64) string {
		return fmt.Sprintf("Round %d/%d\nOpponent: player %d\nScore: %d - %d\n\n",
			round+1, d.roundsTotal, opponent, s1, s2)
	}
	var refs [2]MessageRef
	refs[0] = a.notify.SendQuestion(d.p1, QuestionMessage{
		SessionID: d.id,
		RoundIdx:  round,
		Header:    header(d.p2),
		Prompt:    q.Prompt,
		Options:   q.Options,
	})
	refs[1] = a.notify.SendQuestion(d.p2, QuestionMessage{
		SessionID: d.id,
		RoundIdx:  round,
		Header:    header(d.p1),
		Prompt:    q.Prompt,
		Options:   q.Options,
	})
	return refs
}

// revealDuelRound scores both players, persists the outcomes, shows the
// reveal, and advances the round index. Ledger writes happen exactly once
// per player per round; submit gates duplicates before they get here.
func (a *Arena) revealDuelRound(ctx context.Context, d *Duel, refs [2]MessageRef, timedOut bool) {
	d.mu.Lock()
	q := d.question
	if q == nil {
		d.mu.Unlock()
		return
	}
	o1 := evalDuelAnswer(q, d.answers, d.p1)
	o2 := evalDuelAnswer(q, d.answers, d.p2)
	d.scores[d.p1] += o1.Points
	d.scores[d.p2] += o2.Points
	s1, s2 := d.scores[d.p1], d.scores[d.p2]
	d.question = nil
	d.roundIdx++
	d.mu.Unlock()

	if err := a.ledger.RecordRoundResult(ctx, d.eventID, d.p1, o1.Points, o1.Correct); err != nil {
		a.log.Warn("record round result", zap.Int64("player_id", d.p1), zap.Error(err))
	}
	if err := a.ledger.RecordRoundResult(ctx, d.eventID, d.p2, o2.Points, o2.Correct); err != nil {
		a.log.Warn("record round result", zap.Int64("player_id", d.p2), zap.Error(err))
	}

	header := "Time!"
	if !timedOut {
		header = "Both answered!"
	}
	text := fmt.Sprintf(
		"%s\n\nCorrect answer: %s\n\nplayer %d: %s\nplayer %d: %s\n\nScore: %d - %d",
		header, q.Options[q.CorrectIdx],
		d.p1, outcomeLine(o1),
		d.p2, outcomeLine(o2),
		s1, s2,
	)
	a.notify.EditMessage(refs[0], text)
	a.notify.EditMessage(refs[1], text)
}

func evalDuelAnswer(q *domain.Question, answers map[int64]domain.Answer, playerID int64) domain.RoundOutcome {
	ans, ok := answers[playerID]
	if !ok {
		return domain.RoundOutcome{PlayerID: playerID}
	}
	correct := ans.Choice == q.CorrectIdx
	return domain.RoundOutcome{
		PlayerID: playerID,
		Answered: true,
		Correct:  correct,
		Points:   DuelPoints(correct, ans.Latency),
		Latency:  ans.Latency,
	}
}

func outcomeLine(o domain.RoundOutcome) string {
	if !o.Answered {
		return "no answer"
	}
	verdict := "wrong"
	if o.Correct {
		verdict = "correct"
	}
	return fmt.Sprintf("%s • %dms • +%d", verdict, o.Latency.Milliseconds(), o.Points)
}

// finishDuel declares the outcome, records win/loss, releases both players,
// and after the rest interval offers them back to matchmaking.
func (a *Arena) finishDuel(ctx context.Context, d *Duel, forceDraw bool) {
	d.mu.Lock()
	if d.done {
		d.mu.Unlock()
		return
	}
	d.done = true
	s1, s2 := d.scores[d.p1], d.scores[d.p2]
	d.mu.Unlock()

	var winner, loser int64
	if !forceDraw {
		switch {
		case s1 > s2:
			winner, loser = d.p1, d.p2
		case s2 > s1:
			winner, loser = d.p2, d.p1
		}
	}

	if winner != 0 {
		if err := a.ledger.RecordDuelOutcome(ctx, d.eventID, winner, loser); err != nil {
			a.log.Warn("record duel outcome", zap.Int64("duel_id", d.id), zap.Error(err))
		}
	}

	outcome := "Draw!"
	if winner != 0 {
		outcome = fmt.Sprintf("Winner: player %d", winner)
	}
	text := fmt.Sprintf(
		"Duel finished\n\nplayer %d vs player %d\nFinal score: %d - %d\n%s",
		d.p1, d.p2, s1, s2, outcome,
	)
	a.notify.SendText(d.p1, text)
	a.notify.SendText(d.p2, text)
	a.notify.SendText(d.p1, a.buildRecap(ctx, d.eventID, d.p1))
	a.notify.SendText(d.p2, a.buildRecap(ctx, d.eventID, d.p2))

	a.unbindDuel(d)
	a.log.Info("duel finished",
		zap.Int64("duel_id", d.id),
		zap.Int64("winner_id", winner),
		zap.Bool("draw", winner == 0),
	)

	time.Sleep(a.settings.RestBetweenDuels)
	a.Enqueue(ctx, d.p1)
	a.Enqueue(ctx, d.p2)
}
