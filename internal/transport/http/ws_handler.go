package http

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"duel-ladder-service/internal/app"
)

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type outboundMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type textPayload struct {
	Text string `json:"text"`
}

type questionPayload struct {
	MessageID int64    `json:"messageId"`
	SessionID int64    `json:"sessionId"`
	RoundIdx  int      `json:"roundIdx"`
	Solo      bool     `json:"solo"`
	Header    string   `json:"header"`
	Prompt    string   `json:"prompt"`
	Options   []string `json:"options"`
}

type editPayload struct {
	MessageID int64  `json:"messageId"`
	Text      string `json:"text"`
}

type answerPayload struct {
	SessionID int64 `json:"sessionId"`
	RoundIdx  int   `json:"roundIdx"`
	Solo      bool  `json:"solo"`
	Choice    int   `json:"choice"`
}

type statusPayload struct {
	State            string  `json:"state"`
	EventID          int64   `json:"eventId"`
	EventSecondsLeft float64 `json:"eventSecondsLeft"`
	Category         string  `json:"category"`
}

// Hub tracks connected players and delivers arena notifications to them.
// Delivery is best effort; a disconnected player simply misses the message.
type Hub struct {
	log *zap.Logger

	mu    sync.Mutex
	conns map[int64]*wsClient

	msgSeq atomic.Int64
}

type wsClient struct {
	playerID int64
	send     chan outboundMessage
	closed   chan struct{}
	once     sync.Once
}

func NewHub(log *zap.Logger) *Hub {
	return &Hub{log: log, conns: make(map[int64]*wsClient)}
}

func (h *Hub) SendText(playerID int64, text string) {
	h.deliver(playerID, outboundMessage{Type: "text", Payload: textPayload{Text: text}})
}

func (h *Hub) SendQuestion(playerID int64, msg app.QuestionMessage) app.MessageRef {
	id := h.msgSeq.Add(1)
	h.deliver(playerID, outboundMessage{Type: "question", Payload: questionPayload{
		MessageID: id,
		SessionID: msg.SessionID,
		RoundIdx:  msg.RoundIdx,
		Solo:      msg.Solo,
		Header:    msg.Header,
		Prompt:    msg.Prompt,
		Options:   msg.Options,
	}})
	return app.MessageRef{PlayerID: playerID, MessageID: id}
}

func (h *Hub) EditMessage(ref app.MessageRef, text string) {
	h.deliver(ref.PlayerID, outboundMessage{Type: "edit", Payload: editPayload{
		MessageID: ref.MessageID,
		Text:      text,
	}})
}

func (h *Hub) deliver(playerID int64, msg outboundMessage) {
	h.mu.Lock()
	c := h.conns[playerID]
	h.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case c.send <- msg:
	case <-c.closed:
	default:
		h.log.Warn("ws send buffer full, dropping message", zap.Int64("player", playerID))
	}
}

func (h *Hub) attach(c *wsClient) {
	h.mu.Lock()
	if prev := h.conns[c.playerID]; prev != nil {
		prev.close()
	}
	h.conns[c.playerID] = c
	h.mu.Unlock()
}

func (h *Hub) detach(c *wsClient) {
	h.mu.Lock()
	if h.conns[c.playerID] == c {
		delete(h.conns, c.playerID)
	}
	h.mu.Unlock()
	c.close()
}

func (c *wsClient) close() {
	c.once.Do(func() { close(c.closed) })
}

// WSHandler upgrades player connections and routes their commands into the
// arena.
type WSHandler struct {
	arena     *app.Arena
	hub       *Hub
	botSecret string
	log       *zap.Logger
	upgrader  websocket.Upgrader
}

func NewWSHandler(arena *app.Arena, hub *Hub, botSecret string, log *zap.Logger) *WSHandler {
	return &WSHandler{
		arena:     arena,
		hub:       hub,
		botSecret: botSecret,
		log:       log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// ServeWS authenticates via signed init data in the query string, then pumps
// messages both ways until the client goes away.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	user, err := ValidateInitData(r.URL.Query().Get("init_data"), h.botSecret)
	if err != nil {
		http.Error(w, "invalid init data", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	client := &wsClient{
		playerID: user.ID,
		send:     make(chan outboundMessage, 32),
		closed:   make(chan struct{}),
	}
	h.hub.attach(client)
	defer h.hub.detach(client)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case msg := <-client.send:
				if err := conn.WriteJSON(msg); err != nil {
					h.log.Debug("ws write failed", zap.Int64("player", user.ID), zap.Error(err))
					return
				}
			case <-client.closed:
				return
			}
		}
	}()

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		h.dispatch(r, user.ID, msg)
	}
	client.close()
	<-writerDone
}

func (h *WSHandler) dispatch(r *http.Request, playerID int64, msg inboundMessage) {
	ctx := r.Context()
	switch msg.Type {
	case "join":
		if err := h.arena.JoinEvent(ctx, playerID); err != nil {
			h.hub.SendText(playerID, "No duel event is running right now.")
		}
	case "pause":
		if err := h.arena.PauseMatchmaking(ctx, playerID); err != nil {
			h.hub.SendText(playerID, "Nothing to pause.")
		}
	case "resume":
		if err := h.arena.ResumeMatchmaking(ctx, playerID); err != nil {
			h.hub.SendText(playerID, "Join the event first.")
		}
	case "solo":
		if _, err := h.arena.StartSolo(ctx, playerID); err != nil {
			h.hub.SendText(playerID, "Could not start solo mode.")
		}
	case "solo_stop":
		h.arena.StopSolo(playerID)
	case "answer":
		var p answerPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return
		}
		if p.Solo {
			h.arena.SubmitSoloAnswer(playerID, p.SessionID, p.RoundIdx, p.Choice)
		} else {
			h.arena.SubmitDuelAnswer(playerID, p.SessionID, p.RoundIdx, p.Choice)
		}
	case "status":
		h.hub.deliver(playerID, outboundMessage{Type: "status", Payload: statusPayload{
			State:            string(h.arena.PlayerStatus(playerID)),
			EventID:          h.arena.ActiveEventID(),
			EventSecondsLeft: h.arena.EventTimeLeft().Seconds(),
			Category:         string(h.arena.CurrentCategory()),
		}})
	default:
		h.log.Debug("unknown ws message", zap.String("type", msg.Type))
	}
}
