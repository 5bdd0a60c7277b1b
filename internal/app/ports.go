package app

import (
	"context"
	"time"

	"duel-ladder-service/internal/domain"
)

// Ledger records per-event scores, outcomes, and player preferences. Every
// call is a self-contained read or write; callers guarantee at-most-once
// invocation per round outcome.
type Ledger interface {
	CreateEvent(ctx context.Context, duration time.Duration, phaseSeconds int) (int64, error)
	DeactivateEvents(ctx context.Context) error
	EnsurePlayer(ctx context.Context, eventID, playerID int64) error
	RemovePlayer(ctx context.Context, eventID, playerID int64) error
	SetAutoQueue(ctx context.Context, eventID, playerID int64, on bool) error
	AutoQueue(ctx context.Context, eventID, playerID int64) (bool, error)
	RecordRoundResult(ctx context.Context, eventID, playerID int64, points int, correct bool) error
	RecordDuelOutcome(ctx context.Context, eventID, winnerID, loserID int64) error
	// PlayerStats returns domain.ErrNotEnrolled for players who never joined.
	PlayerStats(ctx context.Context, eventID, playerID int64) (domain.PlayerStats, error)
	// Leaderboard orders by wins desc, points desc, correct desc; equal keys
	// break by ascending player ID.
	Leaderboard(ctx context.Context, eventID int64) ([]domain.PlayerStats, error)
}

// QuestionSource assembles multiple-choice questions from the vocabulary
// store. Returns domain.ErrNoQuestion when the category has no eligible row
// or fewer than two distinct options can be collected.
type QuestionSource interface {
	BuildQuestion(ctx context.Context, category domain.Category, optionCount int) (domain.Question, error)
}

// MessageRef identifies a previously delivered message so a reveal can edit
// it in place.
type MessageRef struct {
	PlayerID  int64
	MessageID int64
}

// QuestionMessage carries a round's question to one player. Answer callbacks
// are keyed by (SessionID, RoundIdx, option index).
type QuestionMessage struct {
	SessionID int64
	RoundIdx  int
	Solo      bool
	Header    string
	Prompt    string
	Options   []string
}

// Notifier delivers messages to players. Delivery is best effort: failures
// are logged by the implementation and never surface to the state machine.
type Notifier interface {
	SendText(playerID int64, text string)
	SendQuestion(playerID int64, msg QuestionMessage) MessageRef
	EditMessage(ref MessageRef, text string)
}
