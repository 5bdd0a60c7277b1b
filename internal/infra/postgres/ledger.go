package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"duel-ladder-service/internal/domain"
	"duel-ladder-service/internal/infra/memory"
)

// Ledger persists events, enrollment, and per-player tallies in Postgres.
type Ledger struct {
	pool *pgxpool.Pool
}

func NewLedger(pool *pgxpool.Pool) *Ledger {
	return &Ledger{pool: pool}
}

func (l *Ledger) CreateEvent(ctx context.Context, duration time.Duration, phaseSeconds int) (int64, error) {
	now := time.Now()
	var id int64
	err := l.pool.QueryRow(ctx, `
		INSERT INTO events(started_at, ends_at, phase_seconds, active)
		VALUES ($1, $2, $3, TRUE)
		RETURNING id`,
		now, now.Add(duration), phaseSeconds,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create event: %w", err)
	}
	return id, nil
}

func (l *Ledger) DeactivateEvents(ctx context.Context) error {
	if _, err := l.pool.Exec(ctx, `UPDATE events SET active = FALSE WHERE active`); err != nil {
		return fmt.Errorf("deactivate events: %w", err)
	}
	return nil
}

func (l *Ledger) EnsurePlayer(ctx context.Context, eventID, playerID int64) error {
	_, err := l.pool.Exec(ctx, `
		INSERT INTO event_players(event_id, player_id)
		VALUES ($1, $2)
		ON CONFLICT (event_id, player_id) DO NOTHING`, eventID, playerID)
	if err != nil {
		return fmt.Errorf("ensure player: %w", err)
	}
	return nil
}

func (l *Ledger) RemovePlayer(ctx context.Context, eventID, playerID int64) error {
	_, err := l.pool.Exec(ctx,
		`DELETE FROM event_players WHERE event_id = $1 AND player_id = $2`, eventID, playerID)
	if err != nil {
		return fmt.Errorf("remove player: %w", err)
	}
	return nil
}

func (l *Ledger) SetAutoQueue(ctx context.Context, eventID, playerID int64, on bool) error {
	_, err := l.pool.Exec(ctx, `
		INSERT INTO player_prefs(event_id, player_id, auto_queue)
		VALUES ($1, $2, $3)
		ON CONFLICT (event_id, player_id) DO UPDATE SET auto_queue = EXCLUDED.auto_queue`,
		eventID, playerID, on)
	if err != nil {
		return fmt.Errorf("set auto queue: %w", err)
	}
	return nil
}

func (l *Ledger) AutoQueue(ctx context.Context, eventID, playerID int64) (bool, error) {
	var on bool
	err := l.pool.QueryRow(ctx,
		`SELECT auto_queue FROM player_prefs WHERE event_id = $1 AND player_id = $2`,
		eventID, playerID).Scan(&on)
	if err == pgx.ErrNoRows {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("auto queue: %w", err)
	}
	return on, nil
}

func (l *Ledger) RecordRoundResult(ctx context.Context, eventID, playerID int64, points int, correct bool) error {
	correctInc, wrongInc := 0, 1
	if correct {
		correctInc, wrongInc = 1, 0
	}
	_, err := l.pool.Exec(ctx, `
		UPDATE event_players
		SET points = points + $3, correct = correct + $4, wrong = wrong + $5
		WHERE event_id = $1 AND player_id = $2`,
		eventID, playerID, points, correctInc, wrongInc)
	if err != nil {
		return fmt.Errorf("record round result: %w", err)
	}
	return nil
}

func (l *Ledger) RecordDuelOutcome(ctx context.Context, eventID, winnerID, loserID int64) error {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("record duel outcome: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		UPDATE event_players SET wins = wins + 1
		WHERE event_id = $1 AND player_id = $2`, eventID, winnerID); err != nil {
		return fmt.Errorf("record win: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE event_players SET losses = losses + 1
		WHERE event_id = $1 AND player_id = $2`, eventID, loserID); err != nil {
		return fmt.Errorf("record loss: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("record duel outcome: %w", err)
	}
	return nil
}

func (l *Ledger) PlayerStats(ctx context.Context, eventID, playerID int64) (domain.PlayerStats, error) {
	row := l.pool.QueryRow(ctx, `
		SELECT player_id, wins, losses, points, correct, wrong
		FROM event_players WHERE event_id = $1 AND player_id = $2`,
		eventID, playerID)

	var s domain.PlayerStats
	err := row.Scan(&s.PlayerID, &s.Wins, &s.Losses, &s.Points, &s.Correct, &s.Wrong)
	if err == pgx.ErrNoRows {
		return domain.PlayerStats{}, domain.ErrNotEnrolled
	}
	if err != nil {
		return domain.PlayerStats{}, fmt.Errorf("player stats: %w", err)
	}
	return s, nil
}

func (l *Ledger) Leaderboard(ctx context.Context, eventID int64) ([]domain.PlayerStats, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT player_id, wins, losses, points, correct, wrong
		FROM event_players WHERE event_id = $1`, eventID)
	if err != nil {
		return nil, fmt.Errorf("leaderboard: %w", err)
	}
	defer rows.Close()

	var out []domain.PlayerStats
	for rows.Next() {
		var s domain.PlayerStats
		if err := rows.Scan(&s.PlayerID, &s.Wins, &s.Losses, &s.Points, &s.Correct, &s.Wrong); err != nil {
			return nil, fmt.Errorf("leaderboard: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	memory.SortLeaderboard(out)
	return out, nil
}
