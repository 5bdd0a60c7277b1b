package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"duel-ladder-service/internal/domain"
	"duel-ladder-service/internal/infra/memory"
)

// Ledger stores event scores in Redis:
//
//	SET  ladder:event:active                 -> event ID
//	HSET ladder:event:{id}                   -> started_at / ends_at / phase_seconds
//	SADD ladder:event:{id}:players           -> player IDs
//	HSET ladder:event:{id}:player:{pid}      -> wins / losses / points / correct / wrong
//	SET  ladder:event:{id}:autoq:{pid}       -> 0 / 1
type Ledger struct {
	client *redis.Client
	seqKey string
}

func NewLedger(client *redis.Client) *Ledger {
	return &Ledger{client: client, seqKey: "ladder:event:seq"}
}

func (l *Ledger) CreateEvent(ctx context.Context, duration time.Duration, phaseSeconds int) (int64, error) {
	id, err := l.client.Incr(ctx, l.seqKey).Result()
	if err != nil {
		return 0, fmt.Errorf("next event id: %w", err)
	}
	now := time.Now()
	pipe := l.client.Pipeline()
	pipe.HSet(ctx, l.eventKey(id),
		"started_at", now.Unix(),
		"ends_at", now.Add(duration).Unix(),
		"phase_seconds", phaseSeconds,
	)
	pipe.Set(ctx, "ladder:event:active", id, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("create event: %w", err)
	}
	return id, nil
}

func (l *Ledger) DeactivateEvents(ctx context.Context) error {
	return l.client.Del(ctx, "ladder:event:active").Err()
}

func (l *Ledger) EnsurePlayer(ctx context.Context, eventID, playerID int64) error {
	pipe := l.client.Pipeline()
	pipe.SAdd(ctx, l.playersKey(eventID), playerID)
	pipe.HSetNX(ctx, l.statsKey(eventID, playerID), "wins", 0)
	pipe.SetNX(ctx, l.autoQueueKey(eventID, playerID), 1, 0)
	_, err := pipe.Exec(ctx)
	return err
}

func (l *Ledger) RemovePlayer(ctx context.Context, eventID, playerID int64) error {
	pipe := l.client.Pipeline()
	pipe.SRem(ctx, l.playersKey(eventID), playerID)
	pipe.Del(ctx, l.statsKey(eventID, playerID))
	pipe.Del(ctx, l.autoQueueKey(eventID, playerID))
	_, err := pipe.Exec(ctx)
	return err
}

func (l *Ledger) SetAutoQueue(ctx context.Context, eventID, playerID int64, on bool) error {
	v := 0
	if on {
		v = 1
	}
	return l.client.Set(ctx, l.autoQueueKey(eventID, playerID), v, 0).Err()
}

func (l *Ledger) AutoQueue(ctx context.Context, eventID, playerID int64) (bool, error) {
	v, err := l.client.Get(ctx, l.autoQueueKey(eventID, playerID)).Result()
	if err == redis.Nil {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return v == "1", nil
}

func (l *Ledger) RecordRoundResult(ctx context.Context, eventID, playerID int64, points int, correct bool) error {
	field := "wrong"
	if correct {
		field = "correct"
	}
	pipe := l.client.Pipeline()
	pipe.HIncrBy(ctx, l.statsKey(eventID, playerID), "points", int64(points))
	pipe.HIncrBy(ctx, l.statsKey(eventID, playerID), field, 1)
	_, err := pipe.Exec(ctx)
	return err
}

func (l *Ledger) RecordDuelOutcome(ctx context.Context, eventID, winnerID, loserID int64) error {
	pipe := l.client.Pipeline()
	if winnerID != 0 {
		pipe.HIncrBy(ctx, l.statsKey(eventID, winnerID), "wins", 1)
	}
	if loserID != 0 {
		pipe.HIncrBy(ctx, l.statsKey(eventID, loserID), "losses", 1)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (l *Ledger) PlayerStats(ctx context.Context, eventID, playerID int64) (domain.PlayerStats, error) {
	member, err := l.client.SIsMember(ctx, l.playersKey(eventID), playerID).Result()
	if err != nil {
		return domain.PlayerStats{}, err
	}
	if !member {
		return domain.PlayerStats{}, domain.ErrNotEnrolled
	}
	fields, err := l.client.HGetAll(ctx, l.statsKey(eventID, playerID)).Result()
	if err != nil {
		return domain.PlayerStats{}, err
	}
	return statsFromHash(playerID, fields), nil
}

func (l *Ledger) Leaderboard(ctx context.Context, eventID int64) ([]domain.PlayerStats, error) {
	ids, err := l.client.SMembers(ctx, l.playersKey(eventID)).Result()
	if err != nil {
		return nil, err
	}
	rows := make([]domain.PlayerStats, 0, len(ids))
	for _, raw := range ids {
		playerID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		fields, err := l.client.HGetAll(ctx, l.statsKey(eventID, playerID)).Result()
		if err != nil {
			return nil, err
		}
		rows = append(rows, statsFromHash(playerID, fields))
	}
	memory.SortLeaderboard(rows)
	return rows, nil
}

func (l *Ledger) eventKey(eventID int64) string {
	return fmt.Sprintf("ladder:event:%d", eventID)
}

func (l *Ledger) playersKey(eventID int64) string {
	return fmt.Sprintf("ladder:event:%d:players", eventID)
}

func (l *Ledger) statsKey(eventID, playerID int64) string {
	return fmt.Sprintf("ladder:event:%d:player:%d", eventID, playerID)
}

func (l *Ledger) autoQueueKey(eventID, playerID int64) string {
	return fmt.Sprintf("ladder:event:%d:autoq:%d", eventID, playerID)
}

func statsFromHash(playerID int64, fields map[string]string) domain.PlayerStats {
	atoi := func(k string) int {
		n, _ := strconv.Atoi(fields[k])
		return n
	}
	return domain.PlayerStats{
		PlayerID: playerID,
		Wins:     atoi("wins"),
		Losses:   atoi("losses"),
		Points:   atoi("points"),
		Correct:  atoi("correct"),
		Wrong:    atoi("wrong"),
	}
}
