package integration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"

	"github.com/jackc/pgx/v4/pgxpool"

	"duel-ladder-service/internal/domain"
	pgstore "duel-ladder-service/internal/infra/postgres"
	pgmigrations "duel-ladder-service/internal/infra/postgres/migrations"
	infraredis "duel-ladder-service/internal/infra/redis"
)

func TestPostgresVocabAndLedgerEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()

	applyMigrations(t, ctx, pgURL)

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	vocab := pgstore.NewVocabStore(pool, time.Minute)
	for _, e := range seedEntries() {
		if _, err := vocab.AddEntry(ctx, e); err != nil {
			t.Fatalf("add %q: %v", e.Word, err)
		}
	}
	n, err := vocab.Count(ctx)
	if err != nil || n != len(seedEntries()) {
		t.Fatalf("expected %d entries, got %d (%v)", len(seedEntries()), n, err)
	}

	for _, category := range domain.Categories {
		q, err := vocab.BuildQuestion(ctx, category, 4)
		if err != nil {
			t.Fatalf("build %s: %v", category, err)
		}
		if len(q.Options) < 2 {
			t.Fatalf("%s: expected at least 2 options, got %v", category, q.Options)
		}
		if q.CorrectIdx < 0 || q.CorrectIdx >= len(q.Options) {
			t.Fatalf("%s: correct index %d out of range", category, q.CorrectIdx)
		}
	}

	ledger := pgstore.NewLedger(pool)
	eventID, err := ledger.CreateEvent(ctx, time.Hour, 120)
	if err != nil {
		t.Fatalf("create event: %v", err)
	}
	if _, err := ledger.PlayerStats(ctx, eventID, 1); !errors.Is(err, domain.ErrNotEnrolled) {
		t.Fatalf("expected ErrNotEnrolled, got %v", err)
	}
	for _, id := range []int64{1, 2} {
		if err := ledger.EnsurePlayer(ctx, eventID, id); err != nil {
			t.Fatalf("ensure %d: %v", id, err)
		}
	}
	if err := ledger.RecordRoundResult(ctx, eventID, 1, 2, true); err != nil {
		t.Fatalf("record round: %v", err)
	}
	if err := ledger.RecordDuelOutcome(ctx, eventID, 1, 2); err != nil {
		t.Fatalf("record outcome: %v", err)
	}

	rows, err := ledger.Leaderboard(ctx, eventID)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(rows) != 2 || rows[0].PlayerID != 1 || rows[0].Wins != 1 || rows[0].Points != 2 {
		t.Fatalf("unexpected leaderboard %+v", rows)
	}

	on, err := ledger.AutoQueue(ctx, eventID, 1)
	if err != nil || !on {
		t.Fatalf("auto-queue should default on, got %v (%v)", on, err)
	}
	if err := ledger.SetAutoQueue(ctx, eventID, 1, false); err != nil {
		t.Fatalf("set auto queue: %v", err)
	}
	on, _ = ledger.AutoQueue(ctx, eventID, 1)
	if on {
		t.Fatalf("expected auto-queue off after set")
	}

	// Rows whose stored synonym list fails to decode must be skipped, not
	// crash question assembly.
	if _, err := pool.Exec(ctx, `UPDATE vocab SET synonyms_json = 'oops'`); err != nil {
		t.Fatalf("corrupt synonyms: %v", err)
	}
	if _, err := vocab.BuildQuestion(ctx, domain.CategorySynonym, 4); !errors.Is(err, domain.ErrNoQuestion) {
		t.Fatalf("expected ErrNoQuestion for undecodable synonyms, got %v", err)
	}
}

func TestRedisLedgerEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	client, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	ledger := infraredis.NewLedger(client)

	eventID, err := ledger.CreateEvent(ctx, time.Hour, 120)
	if err != nil {
		t.Fatalf("create event: %v", err)
	}
	if err := ledger.EnsurePlayer(ctx, eventID, 1); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if err := ledger.RecordRoundResult(ctx, eventID, 1, 2, true); err != nil {
		t.Fatalf("record: %v", err)
	}
	stats, err := ledger.PlayerStats(ctx, eventID, 1)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Points != 2 || stats.Correct != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func seedEntries() []domain.VocabEntry {
	return []domain.VocabEntry{
		{Word: "big", Definition: "of great size", Translation: "grande", Synonyms: []string{"large", "huge"}, Antonyms: []string{"small"}, Example: "The big dog barked."},
		{Word: "small", Definition: "of little size", Translation: "pequeno", Synonyms: []string{"tiny"}, Antonyms: []string{"big"}, Example: "A small cat slept."},
		{Word: "fast", Definition: "moving quickly", Translation: "rapido", Synonyms: []string{"quick"}, Antonyms: []string{"slow"}, Example: "She is fast."},
		{Word: "slow", Definition: "moving without speed", Translation: "lento", Synonyms: []string{"sluggish"}, Antonyms: []string{"fast"}, Example: "A slow train."},
		{Word: "bright", Definition: "giving out much light", Translation: "brilhante", Synonyms: []string{"shiny"}, Antonyms: []string{"dim"}, Example: "A bright star."},
	}
}

func applyMigrations(t *testing.T, ctx context.Context, dsn string) {
	t.Helper()
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "ladder", "POSTGRES_PASSWORD": "ladderpass", "POSTGRES_DB": "ladderdb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://ladder:ladderpass@%s:%s/ladderdb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
