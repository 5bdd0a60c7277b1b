package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"duel-ladder-service/internal/domain"
	"duel-ladder-service/internal/infra/memory"
)

func TestLedgerEventLifecycle(t *testing.T) {
	ctx := context.Background()
	ledger := memory.NewLedger()

	first, err := ledger.CreateEvent(ctx, time.Hour, 120)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	second, err := ledger.CreateEvent(ctx, time.Hour, 120)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if second <= first {
		t.Fatalf("event IDs must increase: %d then %d", first, second)
	}
	if err := ledger.DeactivateEvents(ctx); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
}

func TestLedgerStatsAndOutcomes(t *testing.T) {
	ctx := context.Background()
	ledger := memory.NewLedger()
	eventID, _ := ledger.CreateEvent(ctx, time.Hour, 120)

	if _, err := ledger.PlayerStats(ctx, eventID, 1); !errors.Is(err, domain.ErrNotEnrolled) {
		t.Fatalf("expected ErrNotEnrolled before joining, got %v", err)
	}

	for _, id := range []int64{1, 2} {
		if err := ledger.EnsurePlayer(ctx, eventID, id); err != nil {
			t.Fatalf("ensure %d: %v", id, err)
		}
	}
	// EnsurePlayer is idempotent.
	if err := ledger.EnsurePlayer(ctx, eventID, 1); err != nil {
		t.Fatalf("re-ensure: %v", err)
	}

	if err := ledger.RecordRoundResult(ctx, eventID, 1, 2, true); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := ledger.RecordRoundResult(ctx, eventID, 2, 0, false); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := ledger.RecordDuelOutcome(ctx, eventID, 1, 2); err != nil {
		t.Fatalf("outcome: %v", err)
	}

	stats, err := ledger.PlayerStats(ctx, eventID, 1)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Wins != 1 || stats.Points != 2 || stats.Correct != 1 {
		t.Fatalf("unexpected winner stats %+v", stats)
	}
	stats, _ = ledger.PlayerStats(ctx, eventID, 2)
	if stats.Losses != 1 || stats.Wrong != 1 {
		t.Fatalf("unexpected loser stats %+v", stats)
	}
}

func TestLedgerAutoQueue(t *testing.T) {
	ctx := context.Background()
	ledger := memory.NewLedger()
	eventID, _ := ledger.CreateEvent(ctx, time.Hour, 120)
	_ = ledger.EnsurePlayer(ctx, eventID, 1)

	on, err := ledger.AutoQueue(ctx, eventID, 1)
	if err != nil || !on {
		t.Fatalf("auto-queue should default on, got %v (%v)", on, err)
	}
	if err := ledger.SetAutoQueue(ctx, eventID, 1, false); err != nil {
		t.Fatalf("set: %v", err)
	}
	on, _ = ledger.AutoQueue(ctx, eventID, 1)
	if on {
		t.Fatalf("expected auto-queue off")
	}
	if err := ledger.SetAutoQueue(ctx, eventID, 99, false); !errors.Is(err, domain.ErrNotEnrolled) {
		t.Fatalf("expected ErrNotEnrolled for unknown player, got %v", err)
	}
}

func TestLedgerRemovePlayer(t *testing.T) {
	ctx := context.Background()
	ledger := memory.NewLedger()
	eventID, _ := ledger.CreateEvent(ctx, time.Hour, 120)
	_ = ledger.EnsurePlayer(ctx, eventID, 1)

	if err := ledger.RemovePlayer(ctx, eventID, 1); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := ledger.PlayerStats(ctx, eventID, 1); !errors.Is(err, domain.ErrNotEnrolled) {
		t.Fatalf("expected ErrNotEnrolled after removal, got %v", err)
	}
}

func TestSortLeaderboard(t *testing.T) {
	rows := []domain.PlayerStats{
		{PlayerID: 4, Wins: 1, Points: 5, Correct: 2},
		{PlayerID: 3, Wins: 1, Points: 5, Correct: 2},
		{PlayerID: 2, Wins: 2, Points: 1},
		{PlayerID: 1, Wins: 1, Points: 9},
		{PlayerID: 5, Wins: 1, Points: 5, Correct: 3},
	}
	memory.SortLeaderboard(rows)

	want := []int64{2, 1, 5, 3, 4}
	for i, id := range want {
		if rows[i].PlayerID != id {
			t.Fatalf("position %d: expected player %d, got %d (%+v)", i, id, rows[i].PlayerID, rows)
		}
	}
}
