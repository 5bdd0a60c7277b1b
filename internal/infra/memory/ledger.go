package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"duel-ladder-service/internal/domain"
)

type playerRecord struct {
	stats     domain.PlayerStats
	autoQueue bool
}

// Ledger is the in-memory score ledger, the default when no Redis or
// Postgres is configured.
type Ledger struct {
	mu       sync.Mutex
	eventSeq int64
	events   map[int64]*domain.Event
	players  map[int64]map[int64]*playerRecord // eventID -> playerID
}

func NewLedger() *Ledger {
	return &Ledger{
		events:  make(map[int64]*domain.Event),
		players: make(map[int64]map[int64]*playerRecord),
	}
}

func (l *Ledger) CreateEvent(_ context.Context, duration time.Duration, phaseSeconds int) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, ev := range l.events {
		ev.Active = false
	}
	l.eventSeq++
	now := time.Now()
	l.events[l.eventSeq] = &domain.Event{
		ID:           l.eventSeq,
		StartedAt:    now,
		EndsAt:       now.Add(duration),
		PhaseSeconds: phaseSeconds,
		Active:       true,
	}
	l.players[l.eventSeq] = make(map[int64]*playerRecord)
	return l.eventSeq, nil
}

func (l *Ledger) DeactivateEvents(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, ev := range l.events {
		ev.Active = false
	}
	return nil
}

func (l *Ledger) EnsurePlayer(_ context.Context, eventID, playerID int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	players, ok := l.players[eventID]
	if !ok {
		return domain.ErrEventNotFound
	}
	if _, ok := players[playerID]; !ok {
		players[playerID] = &playerRecord{
			stats:     domain.PlayerStats{PlayerID: playerID},
			autoQueue: true,
		}
	}
	return nil
}

func (l *Ledger) RemovePlayer(_ context.Context, eventID, playerID int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if players, ok := l.players[eventID]; ok {
		delete(players, playerID)
	}
	return nil
}

func (l *Ledger) SetAutoQueue(_ context.Context, eventID, playerID int64, on bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.record(eventID, playerID)
	if !ok {
		return domain.ErrNotEnrolled
	}
	rec.autoQueue = on
	return nil
}

func (l *Ledger) AutoQueue(_ context.Context, eventID, playerID int64) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.record(eventID, playerID)
	if !ok {
		// Unknown players default to auto-queue on, matching the pref store.
		return true, nil
	}
	return rec.autoQueue, nil
}

func (l *Ledger) RecordRoundResult(_ context.Context, eventID, playerID int64, points int, correct bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.record(eventID, playerID)
	if !ok {
		return domain.ErrNotEnrolled
	}
	rec.stats.Points += points
	if correct {
		rec.stats.Correct++
	} else {
		rec.stats.Wrong++
	}
	return nil
}

func (l *Ledger) RecordDuelOutcome(_ context.Context, eventID, winnerID, loserID int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if rec, ok := l.record(eventID, winnerID); ok {
		rec.stats.Wins++
	}
	if rec, ok := l.record(eventID, loserID); ok {
		rec.stats.Losses++
	}
	return nil
}

func (l *Ledger) PlayerStats(_ context.Context, eventID, playerID int64) (domain.PlayerStats, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.record(eventID, playerID)
	if !ok {
		return domain.PlayerStats{}, domain.ErrNotEnrolled
	}
	return rec.stats, nil
}

func (l *Ledger) Leaderboard(_ context.Context, eventID int64) ([]domain.PlayerStats, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.PlayerStats, 0, len(l.players[eventID]))
	for _, rec := range l.players[eventID] {
		out = append(out, rec.stats)
	}
	SortLeaderboard(out)
	return out, nil
}

func (l *Ledger) record(eventID, playerID int64) (*playerRecord, bool) {
	players, ok := l.players[eventID]
	if !ok {
		return nil, false
	}
	rec, ok := players[playerID]
	return rec, ok
}

// SortLeaderboard orders stats by wins desc, points desc, correct desc, with
// ascending player ID as the stable tie-break. Shared by the redis ledger.
func SortLeaderboard(rows []domain.PlayerStats) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Wins != rows[j].Wins {
			return rows[i].Wins > rows[j].Wins
		}
		if rows[i].Points != rows[j].Points {
			return rows[i].Points > rows[j].Points
		}
		if rows[i].Correct != rows[j].Correct {
			return rows[i].Correct > rows[j].Correct
		}
		return rows[i].PlayerID < rows[j].PlayerID
	})
}
