package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"duel-ladder-service/internal/app"
	"duel-ladder-service/internal/domain"
	"duel-ladder-service/internal/infra/memory"
)

func newWSServer(t *testing.T) (*httptest.Server, *app.Arena) {
	t.Helper()
	log := zap.NewNop()
	vocab := memory.NewVocabStore([]domain.VocabEntry{
		{Word: "big", Definition: "of great size", Translation: "grande", Synonyms: []string{"large"}, Antonyms: []string{"small"}, Example: "The big dog barked."},
		{Word: "small", Definition: "of little size", Translation: "pequeno", Synonyms: []string{"tiny"}, Antonyms: []string{"big"}, Example: "A small cat."},
		{Word: "fast", Definition: "moving quickly", Translation: "rapido", Synonyms: []string{"quick"}, Antonyms: []string{"slow"}, Example: "She is fast."},
		{Word: "slow", Definition: "without speed", Translation: "lento", Synonyms: []string{"sluggish"}, Antonyms: []string{"fast"}, Example: "A slow train."},
	})
	settings := app.DefaultSettings()
	settings.RoundsPerDuel = 1
	settings.PreDuelCountdown = time.Millisecond
	settings.RevealPause = time.Millisecond
	settings.RestBetweenDuels = time.Millisecond

	hub := NewHub(log)
	arena := app.NewArena(settings, memory.NewLedger(), vocab, hub, log)
	wsHandler := NewWSHandler(arena, hub, testBotSecret, log)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsHandler.ServeWS)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, arena
}

func dialWS(t *testing.T, server *httptest.Server, playerID int64) *websocket.Conn {
	t.Helper()
	initData := SignInitData(WebUser{ID: playerID, FirstName: "Tester"}, testBotSecret, nil)
	u := "ws" + server.URL[len("http"):] + "/ws?init_data=" + url.QueryEscape(initData)
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) (string, map[string]any) {
	t.Helper()
	var msg struct {
		Type    string         `json:"type"`
		Payload map[string]any `json:"payload"`
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg.Type, msg.Payload
}

func readUntil(t *testing.T, conn *websocket.Conn, want string) map[string]any {
	t.Helper()
	for i := 0; i < 20; i++ {
		typ, payload := readMessage(t, conn)
		if typ == want {
			return payload
		}
	}
	t.Fatalf("never received a %q message", want)
	return nil
}

func TestWSRejectsUnsignedConnections(t *testing.T) {
	server, _ := newWSServer(t)
	u := "ws" + server.URL[len("http"):] + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	if err == nil {
		t.Fatalf("expected the dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %+v", resp)
	}
}

func TestWSStatusRoundTrip(t *testing.T) {
	server, _ := newWSServer(t)
	conn := dialWS(t, server, 7)

	if err := conn.WriteJSON(map[string]any{"type": "status"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	payload := readUntil(t, conn, "status")
	if payload["state"] != string(app.PlayerIdle) {
		t.Fatalf("expected idle state, got %v", payload)
	}
	if payload["eventId"] != float64(0) {
		t.Fatalf("expected no active event, got %v", payload)
	}
}

func TestWSJoinWithoutEvent(t *testing.T) {
	server, _ := newWSServer(t)
	conn := dialWS(t, server, 7)

	if err := conn.WriteJSON(map[string]any{"type": "join"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	payload := readUntil(t, conn, "text")
	if payload["text"] != "No duel event is running right now." {
		t.Fatalf("unexpected text %v", payload)
	}
}

func TestWSSoloFlow(t *testing.T) {
	server, _ := newWSServer(t)
	conn := dialWS(t, server, 7)

	if err := conn.WriteJSON(map[string]any{"type": "solo"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	payload := readUntil(t, conn, "question")
	if payload["solo"] != true {
		t.Fatalf("expected a solo question, got %v", payload)
	}
	sessionID := int64(payload["sessionId"].(float64))
	roundIdx := int(payload["roundIdx"].(float64))
	options := payload["options"].([]any)
	if len(options) < 2 {
		t.Fatalf("expected at least 2 options, got %v", options)
	}

	answer := map[string]any{
		"type": "answer",
		"payload": map[string]any{
			"sessionId": sessionID,
			"roundIdx":  roundIdx,
			"solo":      true,
			"choice":    0,
		},
	}
	if err := conn.WriteJSON(answer); err != nil {
		t.Fatalf("write answer: %v", err)
	}

	edit := readUntil(t, conn, "edit")
	if edit["text"] == "" {
		t.Fatalf("expected a reveal edit, got %v", edit)
	}
}

func TestWSDuelFlow(t *testing.T) {
	server, arena := newWSServer(t)

	ctx := context.Background()
	if _, err := arena.StartEvent(ctx, time.Minute, time.Minute); err != nil {
		t.Fatalf("start event: %v", err)
	}
	defer arena.StopEvent(ctx)

	alice := dialWS(t, server, 1)
	bob := dialWS(t, server, 2)

	if err := alice.WriteJSON(map[string]any{"type": "join"}); err != nil {
		t.Fatalf("alice join: %v", err)
	}
	if err := bob.WriteJSON(map[string]any{"type": "join"}); err != nil {
		t.Fatalf("bob join: %v", err)
	}

	qa := readUntil(t, alice, "question")
	qb := readUntil(t, bob, "question")
	if qa["sessionId"] != qb["sessionId"] {
		t.Fatalf("players landed in different duels: %v vs %v", qa["sessionId"], qb["sessionId"])
	}

	for _, pair := range []struct {
		conn    *websocket.Conn
		payload map[string]any
	}{{alice, qa}, {bob, qb}} {
		answer := map[string]any{
			"type": "answer",
			"payload": map[string]any{
				"sessionId": pair.payload["sessionId"],
				"roundIdx":  pair.payload["roundIdx"],
				"choice":    0,
			},
		}
		if err := pair.conn.WriteJSON(answer); err != nil {
			t.Fatalf("write answer: %v", err)
		}
	}

	// Both clients see the reveal edit once everyone answered.
	if edit := readUntil(t, alice, "edit"); edit["text"] == "" {
		t.Fatalf("expected a reveal for alice, got %v", edit)
	}
	if edit := readUntil(t, bob, "edit"); edit["text"] == "" {
		t.Fatalf("expected a reveal for bob, got %v", edit)
	}
}
