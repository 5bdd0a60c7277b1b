package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"duel-ladder-service/internal/domain"
)

// Settings controls session pacing. Durations are shrunk in tests.
type Settings struct {
	RoundsPerDuel    int
	RoundTime        time.Duration
	PhaseTime        time.Duration
	RestBetweenDuels time.Duration
	PreDuelCountdown time.Duration
	RevealPause      time.Duration
	OptionCount      int
}

// DefaultSettings mirrors the ladder's production pacing.
func DefaultSettings() Settings {
	return Settings{
		RoundsPerDuel:    6,
		RoundTime:        12 * time.Second,
		PhaseTime:        120 * time.Second,
		RestBetweenDuels: 7 * time.Second,
		PreDuelCountdown: 5 * time.Second,
		RevealPause:      700 * time.Millisecond,
		OptionCount:      4,
	}
}

// PlayerState is the runtime status of a player, used by the dashboard.
type PlayerState string

const (
	PlayerIdle   PlayerState = "idle"
	PlayerQueued PlayerState = "queued"
	PlayerInDuel PlayerState = "in_duel"
	PlayerInSolo PlayerState = "in_solo"
)

// Arena is the process-wide coordinator: it owns the single active event,
// the matchmaking queue, the active-duel table, the player-to-duel index,
// and the solo-session table. All mutations of that shared state go through
// the arena mutex; the mutex is never held across ledger calls, notifier
// calls, or timers.
type Arena struct {
	settings  Settings
	ledger    Ledger
	questions QuestionSource
	notify    Notifier
	log       *zap.Logger

	mu         sync.Mutex
	event      *eventState
	duels      map[int64]*Duel
	playerDuel map[int64]int64
	solo       map[int64]*SoloSession
	duelSeq    int64
	soloSeq    int64
}

type eventState struct {
	id          int64
	endsAt      time.Time
	phase       time.Duration
	categoryIdx int
	queue       []int64
	rotateStop  chan struct{}
	expiry      *time.Timer
	stopped     bool
}

func NewArena(settings Settings, ledger Ledger, questions QuestionSource, notify Notifier, log *zap.Logger) *Arena {
	if log == nil {
		log = zap.NewNop()
	}
	return &Arena{
		settings:   settings,
		ledger:     ledger,
		questions:  questions,
		notify:     notify,
		log:        log,
		duels:      make(map[int64]*Duel),
		playerDuel: make(map[int64]int64),
		solo:       make(map[int64]*SoloSession),
	}
}

// StartEvent deactivates any running event and opens a new one. The category
// rotates every phase; the event expires after duration. Returns the new
// event ID.
func (a *Arena) StartEvent(ctx context.Context, duration, phase time.Duration) (int64, error) {
	if duration <= 0 {
		return 0, fmt.Errorf("event duration must be positive")
	}
	if phase <= 0 {
		phase = a.settings.PhaseTime
	}
	a.StopEvent(ctx)

	eventID, err := a.ledger.CreateEvent(ctx, duration, int(phase/time.Second))
	if err != nil {
		return 0, fmt.Errorf("create event: %w", err)
	}

	ev := &eventState{
		id:         eventID,
		endsAt:     time.Now().Add(duration),
		phase:      phase,
		rotateStop: make(chan struct{}),
	}
	ev.expiry = time.AfterFunc(duration, func() {
		a.stopEvent(context.Background(), ev)
	})

	a.mu.Lock()
	old := a.event
	a.event = ev
	if old != nil && !old.stopped {
		old.stopped = true
		old.queue = nil
		close(old.rotateStop)
	} else {
		old = nil
	}
	a.mu.Unlock()

	if old != nil {
		old.expiry.Stop()
	}

	go a.rotateCategories(ev)

	a.log.Info("event started",
		zap.Int64("event_id", eventID),
		zap.Duration("duration", duration),
		zap.Duration("phase", phase),
	)
	return eventID, nil
}

func (a *Arena) rotateCategories(ev *eventState) {
	ticker := time.NewTicker(ev.phase)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			a.mu.Lock()
			if a.event == ev {
				ev.categoryIdx = (ev.categoryIdx + 1) % len(domain.Categories)
			}
			a.mu.Unlock()
		case <-ev.rotateStop:
			return
		}
	}
}

// StopEvent cancels the rotation and expiry timers, clears the waiting
// queue, and deactivates the event. Safe to call with no active event;
// stopping an already-fired timer is a no-op. Duels and solo sessions that
// are already past round start run to natural completion.
func (a *Arena) StopEvent(ctx context.Context) {
	a.stopEvent(ctx, nil)
}

// stopEvent tears down the active event. A non-nil expected makes the call
// conditional: a fired expiry timer must not touch an event that replaced
// the one it was scheduled for.
func (a *Arena) stopEvent(ctx context.Context, expected *eventState) {
	a.mu.Lock()
	if expected != nil && a.event != expected {
		a.mu.Unlock()
		return
	}
	ev := a.event
	a.event = nil
	if ev != nil && !ev.stopped {
		ev.stopped = true
		ev.queue = nil
		close(ev.rotateStop)
	} else {
		ev = nil
	}
	a.mu.Unlock()

	if ev != nil {
		ev.expiry.Stop()
		a.log.Info("event stopped", zap.Int64("event_id", ev.id))
	}
	if err := a.ledger.DeactivateEvents(ctx); err != nil {
		a.log.Warn("deactivate events", zap.Error(err))
	}
}

// CurrentCategory returns the category at the current rotation index, or the
// first category when no event is active.
func (a *Arena) CurrentCategory() domain.Category {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.event == nil {
		return domain.Categories[0]
	}
	return domain.Categories[a.event.categoryIdx%len(domain.Categories)]
}

// ActiveEventID returns the running event's ID, or 0.
func (a *Arena) ActiveEventID() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.event == nil {
		return 0
	}
	return a.event.id
}

// EventTimeLeft reports the remaining event window, zero with no event.
func (a *Arena) EventTimeLeft() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.event == nil {
		return 0
	}
	if left := time.Until(a.event.endsAt); left > 0 {
		return left
	}
	return 0
}

// JoinEvent enrolls the player in the active event, turns auto-queue on, and
// enters matchmaking.
func (a *Arena) JoinEvent(ctx context.Context, playerID int64) error {
	eventID := a.ActiveEventID()
	if eventID == 0 {
		return domain.ErrNoActiveEvent
	}
	if err := a.ledger.EnsurePlayer(ctx, eventID, playerID); err != nil {
		return fmt.Errorf("ensure player: %w", err)
	}
	if err := a.ledger.SetAutoQueue(ctx, eventID, playerID, true); err != nil {
		return fmt.Errorf("set auto queue: %w", err)
	}
	a.Enqueue(ctx, playerID)
	return nil
}

// PauseMatchmaking turns auto-queue off and removes the player from the
// waiting queue. Stats are kept.
func (a *Arena) PauseMatchmaking(ctx context.Context, playerID int64) error {
	eventID := a.ActiveEventID()
	if eventID == 0 {
		return domain.ErrNoActiveEvent
	}
	if _, err := a.ledger.PlayerStats(ctx, eventID, playerID); err != nil {
		return err
	}
	if err := a.ledger.SetAutoQueue(ctx, eventID, playerID, false); err != nil {
		return fmt.Errorf("set auto queue: %w", err)
	}
	a.mu.Lock()
	if a.event != nil {
		a.event.queue = removeAll(a.event.queue, playerID)
	}
	a.mu.Unlock()
	return nil
}

// ResumeMatchmaking turns auto-queue back on and re-enters matchmaking.
func (a *Arena) ResumeMatchmaking(ctx context.Context, playerID int64) error {
	eventID := a.ActiveEventID()
	if eventID == 0 {
		return domain.ErrNoActiveEvent
	}
	if _, err := a.ledger.PlayerStats(ctx, eventID, playerID); err != nil {
		return err
	}
	if err := a.ledger.SetAutoQueue(ctx, eventID, playerID, true); err != nil {
		return fmt.Errorf("set auto queue: %w", err)
	}
	a.Enqueue(ctx, playerID)
	return nil
}

// Enqueue offers a player to matchmaking. A no-op unless an event is active,
// the player is enrolled, auto-queue is on, and the player is not already in
// a duel. Ineligible enqueues are silent; they signal nothing happened.
func (a *Arena) Enqueue(ctx context.Context, playerID int64) {
	eventID := a.ActiveEventID()
	if eventID == 0 {
		return
	}
	if _, err := a.ledger.PlayerStats(ctx, eventID, playerID); err != nil {
		if !errors.Is(err, domain.ErrNotEnrolled) {
			a.log.Warn("player stats lookup", zap.Int64("player_id", playerID), zap.Error(err))
		}
		return
	}
	autoQueue, err := a.ledger.AutoQueue(ctx, eventID, playerID)
	if err != nil {
		a.log.Warn("auto queue lookup", zap.Int64("player_id", playerID), zap.Error(err))
		return
	}
	if !autoQueue {
		return
	}

	a.mu.Lock()
	if a.event == nil || a.event.id != eventID {
		a.mu.Unlock()
		return
	}
	if _, dueling := a.playerDuel[playerID]; dueling {
		a.mu.Unlock()
		return
	}
	if !contains(a.event.queue, playerID) {
		a.event.queue = append(a.event.queue, playerID)
		a.notifyAsync(playerID, "Searching for an opponent…")
	}
	a.matchmakeLocked()
	a.mu.Unlock()
}

// QueueLen reports the number of waiting entries.
func (a *Arena) QueueLen() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.event == nil {
		return 0
	}
	return len(a.event.queue)
}

// Matchmake drains the queue into duels. Exposed for callers that mutate the
// queue out of band; Enqueue invokes it automatically.
func (a *Arena) Matchmake() {
	a.mu.Lock()
	a.matchmakeLocked()
	a.mu.Unlock()
}

// matchmakeLocked pairs the queue head with the first distinct entry after
// it, first-in-first-matched. Called with the arena mutex held.
func (a *Arena) matchmakeLocked() {
	ev := a.event
	if ev == nil {
		return
	}
	for len(ev.queue) >= 2 {
		p1 := ev.queue[0]
		ev.queue = ev.queue[1:]

		p2 := int64(0)
		found := false
		for i, cand := range ev.queue {
			if cand != p1 {
				p2 = cand
				ev.queue = append(ev.queue[:i], ev.queue[i+1:]...)
				found = true
				break
			}
		}
		if !found {
			// Queue holds only copies of one player; wait for more.
			ev.queue = append([]int64{p1}, ev.queue...)
			return
		}

		if _, busy := a.playerDuel[p1]; busy {
			continue
		}
		if _, busy := a.playerDuel[p2]; busy {
			continue
		}

		a.duelSeq++
		d := newDuel(a.duelSeq, ev.id, p1, p2,
			domain.Categories[ev.categoryIdx%len(domain.Categories)],
			a.settings.RoundsPerDuel, a.settings.RoundTime)
		a.duels[d.id] = d
		a.playerDuel[p1] = d.id
		a.playerDuel[p2] = d.id

		// The duel advances on its own; matchmaking keeps draining.
		go a.runDuel(d)
	}
}

// SubmitDuelAnswer records a player's choice for a duel round. Late answers,
// duplicates, and answers from non-participants are silently ignored.
func (a *Arena) SubmitDuelAnswer(playerID, duelID int64, roundIdx, choice int) {
	a.mu.Lock()
	d := a.duels[duelID]
	a.mu.Unlock()
	if d == nil {
		return
	}
	d.submit(playerID, roundIdx, choice)
}

// PlayerStatus reports what the player is doing right now.
func (a *Arena) PlayerStatus(playerID int64) PlayerState {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.solo[playerID]; ok {
		return PlayerInSolo
	}
	if _, ok := a.playerDuel[playerID]; ok {
		return PlayerInDuel
	}
	if a.event != nil && contains(a.event.queue, playerID) {
		return PlayerQueued
	}
	return PlayerIdle
}

func (a *Arena) unbindDuel(d *Duel) {
	a.mu.Lock()
	delete(a.duels, d.id)
	delete(a.playerDuel, d.p1)
	delete(a.playerDuel, d.p2)
	a.mu.Unlock()
}

// buildWithFallback asks for a question in the preferred category, then
// walks every category in fixed order before giving up.
func (a *Arena) buildWithFallback(ctx context.Context, preferred domain.Category) (domain.Question, error) {
	q, err := a.questions.BuildQuestion(ctx, preferred, a.settings.OptionCount)
	if err == nil {
		return q, nil
	}
	if !errors.Is(err, domain.ErrNoQuestion) {
		a.log.Warn("build question", zap.String("category", string(preferred)), zap.Error(err))
	}
	for _, cat := range domain.Categories {
		if cat == preferred {
			continue
		}
		q, err = a.questions.BuildQuestion(ctx, cat, a.settings.OptionCount)
		if err == nil {
			return q, nil
		}
	}
	return domain.Question{}, domain.ErrNoQuestion
}

// notifyAsync fires a text send without blocking the caller. Used from paths
// that hold the arena mutex.
func (a *Arena) notifyAsync(playerID int64, text string) {
	go a.notify.SendText(playerID, text)
}

// buildRecap renders a player's rank plus the top three, post-duel.
func (a *Arena) buildRecap(ctx context.Context, eventID, playerID int64) string {
	rows, err := a.ledger.Leaderboard(ctx, eventID)
	if err != nil {
		a.log.Warn("leaderboard", zap.Error(err))
		return ""
	}
	if len(rows) == 0 {
		return "Leaderboard is empty."
	}

	rank := 0
	var me domain.PlayerStats
	for i, r := range rows {
		if r.PlayerID == playerID {
			rank = i + 1
			me = r
			break
		}
	}

	text := "Quick recap\n"
	if rank > 0 {
		text += fmt.Sprintf("Your rank: #%d (wins %d, points %d)\n", rank, me.Wins, me.Points)
	}
	text += "Top 3:\n"
	for i, r := range rows {
		if i >= 3 {
			break
		}
		text += fmt.Sprintf("%d. player %d: W:%d Pts:%d\n", i+1, r.PlayerID, r.Wins, r.Points)
	}
	return text
}

func contains(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func removeAll(ids []int64, id int64) []int64 {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
