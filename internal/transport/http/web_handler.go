package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"duel-ladder-service/internal/app"
	"duel-ladder-service/internal/domain"
)

// VocabAdmin is the slice of the vocabulary store the admin API needs.
type VocabAdmin interface {
	AddEntry(ctx context.Context, e domain.VocabEntry) (int64, error)
	Count(ctx context.Context) (int, error)
}

// WebHandler serves the classroom mini-game API and the admin surface.
type WebHandler struct {
	room       *app.Room
	arena      *app.Arena
	vocab      VocabAdmin
	botSecret  string
	adminToken string
	log        *zap.Logger
}

func NewWebHandler(room *app.Room, arena *app.Arena, vocab VocabAdmin, botSecret, adminToken string, log *zap.Logger) *WebHandler {
	return &WebHandler{
		room:       room,
		arena:      arena,
		vocab:      vocab,
		botSecret:  botSecret,
		adminToken: adminToken,
		log:        log,
	}
}

// Register mounts all routes on the mux.
func (h *WebHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/state", h.handleState)
	mux.HandleFunc("/api/join", h.handleJoin)
	mux.HandleFunc("/api/answer", h.handleAnswer)
	mux.HandleFunc("/api/admin/open", h.admin(h.handleAdminOpen))
	mux.HandleFunc("/api/admin/start", h.admin(h.handleAdminStart))
	mux.HandleFunc("/api/admin/next", h.admin(h.handleAdminNext))
	mux.HandleFunc("/api/admin/reset", h.admin(h.handleAdminReset))
	mux.HandleFunc("/api/admin/event/start", h.admin(h.handleAdminEventStart))
	mux.HandleFunc("/api/admin/event/stop", h.admin(h.handleAdminEventStop))
	mux.HandleFunc("/api/admin/words", h.admin(h.handleAdminWords))
	mux.HandleFunc("/api/admin/words/count", h.admin(h.handleAdminWordCount))
}

func (h *WebHandler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// initData is carried in the X-Init-Data header (the mini-app frontend sets
// it on every request).
func (h *WebHandler) identify(r *http.Request) (WebUser, bool) {
	raw := r.Header.Get("X-Init-Data")
	if raw == "" {
		raw = r.URL.Query().Get("init_data")
	}
	if raw == "" {
		return WebUser{}, false
	}
	user, err := ValidateInitData(raw, h.botSecret)
	if err != nil {
		return WebUser{}, false
	}
	return user, true
}

func (h *WebHandler) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var playerID int64
	if user, ok := h.identify(r); ok {
		playerID = user.ID
	}
	writeJSON(w, http.StatusOK, h.room.StateFor(playerID))
}

func (h *WebHandler) handleJoin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	user, ok := h.identify(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid init data")
		return
	}
	joined := h.room.Join(user.ID, user.DisplayName())
	writeJSON(w, http.StatusOK, map[string]bool{"ok": joined})
}

func (h *WebHandler) handleAnswer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	user, ok := h.identify(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid init data")
		return
	}
	var body struct {
		Choice int `json:"choice"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	accepted := h.room.SubmitAnswer(user.ID, body.Choice)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": accepted})
}

func (h *WebHandler) admin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if h.adminToken == "" || token != h.adminToken {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		next(w, r)
	}
}

func (h *WebHandler) handleAdminOpen(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Rounds  int `json:"rounds"`
		Seconds int `json:"seconds"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	h.room.OpenLobby(body.Rounds, time.Duration(body.Seconds)*time.Second)
	h.log.Info("room lobby opened", zap.Int("rounds", body.Rounds), zap.Int("seconds", body.Seconds))
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *WebHandler) handleAdminStart(w http.ResponseWriter, _ *http.Request) {
	ok := h.room.Start()
	writeJSON(w, http.StatusOK, map[string]bool{"ok": ok})
}

// handleAdminNext forces the current round to end, or advances past the
// pause if no round is running.
func (h *WebHandler) handleAdminNext(w http.ResponseWriter, r *http.Request) {
	if h.room.RoundActive() {
		h.room.EndRound()
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}
	ok := h.room.NextRound(r.Context())
	writeJSON(w, http.StatusOK, map[string]bool{"ok": ok})
}

func (h *WebHandler) handleAdminReset(w http.ResponseWriter, _ *http.Request) {
	h.room.Reset()
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *WebHandler) handleAdminEventStart(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Minutes      int `json:"minutes"`
		PhaseMinutes int `json:"phase_minutes"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	if body.Minutes <= 0 {
		body.Minutes = 2
	}
	if body.PhaseMinutes <= 0 {
		body.PhaseMinutes = 2
	}
	id, err := h.arena.StartEvent(r.Context(),
		time.Duration(body.Minutes)*time.Minute,
		time.Duration(body.PhaseMinutes)*time.Minute)
	if err != nil {
		h.log.Warn("event start failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "event start failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "event_id": id})
}

func (h *WebHandler) handleAdminEventStop(w http.ResponseWriter, r *http.Request) {
	h.arena.StopEvent(r.Context())
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// handleAdminWords ingests vocabulary, one pipe-separated entry per line:
// word | translation | definition | synonyms | antonyms | example
// (synonyms and antonyms comma-separated, trailing fields optional).
func (h *WebHandler) handleAdminWords(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var body struct {
		Lines string `json:"lines"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	added := 0
	for _, line := range strings.Split(body.Lines, "\n") {
		entry, ok := parseWordLine(line)
		if !ok {
			continue
		}
		if _, err := h.vocab.AddEntry(r.Context(), entry); err != nil {
			h.log.Warn("add vocab failed", zap.String("word", entry.Word), zap.Error(err))
			continue
		}
		added++
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "added": added})
}

func (h *WebHandler) handleAdminWordCount(w http.ResponseWriter, r *http.Request) {
	n, err := h.vocab.Count(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "count failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": n})
}

func parseWordLine(line string) (domain.VocabEntry, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return domain.VocabEntry{}, false
	}
	parts := strings.Split(line, "|")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	e := domain.VocabEntry{Word: parts[0]}
	if e.Word == "" {
		return domain.VocabEntry{}, false
	}
	if len(parts) > 1 {
		e.Translation = parts[1]
	}
	if len(parts) > 2 {
		e.Definition = parts[2]
	}
	if len(parts) > 3 {
		e.Synonyms = splitList(parts[3])
	}
	if len(parts) > 4 {
		e.Antonyms = splitList(parts[4])
	}
	if len(parts) > 5 {
		e.Example = parts[5]
	}
	return e, true
}

func splitList(s string) []string {
	var out []string
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
