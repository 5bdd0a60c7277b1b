package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"duel-ladder-service/internal/app"
	"duel-ladder-service/internal/config"
	"duel-ladder-service/internal/infra/memory"
	pgstore "duel-ladder-service/internal/infra/postgres"
	redisledger "duel-ladder-service/internal/infra/redis"
	transport "duel-ladder-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the duel ladder server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Server.BotSecret == "" {
		return fmt.Errorf("server.bot_secret not configured")
	}
	if cfg.Server.AdminToken == "" {
		return fmt.Errorf("server.admin_token not configured")
	}

	log, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer log.Sync()

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg, log); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	settings := settingsFromConfig(cfg)

	memVocab := memory.NewVocabStore(nil)
	var questions app.QuestionSource = memVocab
	var vocabAdmin transport.VocabAdmin = memVocab
	if pool != nil {
		poolTTL := config.Duration(cfg.Postgres.PoolTTL, 10*time.Minute)
		pgVocab := pgstore.NewVocabStore(pool, poolTTL)
		questions = pgVocab
		vocabAdmin = pgVocab
	}

	var ledger app.Ledger = memory.NewLedger()
	switch {
	case pool != nil:
		ledger = pgstore.NewLedger(pool)
	case redisClient != nil:
		ledger = redisledger.NewLedger(redisClient)
	}

	hub := transport.NewHub(log)
	arena := app.NewArena(settings, ledger, questions, hub, log)
	room := app.NewRoom(questions, log)

	roomPoll := config.Duration(cfg.Game.RoomPollTime, 500*time.Millisecond)
	roomPause := config.Duration(cfg.Game.RoomPauseTime, 2*time.Second)
	loopCtx, stopLoop := context.WithCancel(ctx)
	defer stopLoop()
	go room.RunLoop(loopCtx, roomPoll, roomPause)

	wsHandler := transport.NewWSHandler(arena, hub, cfg.Server.BotSecret, log)
	webHandler := transport.NewWebHandler(room, arena, vocabAdmin, cfg.Server.BotSecret, cfg.Server.AdminToken, log)

	mux := http.NewServeMux()
	webHandler.Register(mux)
	mux.HandleFunc("/ws", wsHandler.ServeWS)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info("starting duel ladder service", zap.String("port", finalPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info("shutting down server")
	case <-ctx.Done():
		log.Info("context canceled, shutting down server")
	}

	arena.StopEvent(context.Background())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func settingsFromConfig(cfg config.Config) app.Settings {
	s := app.DefaultSettings()
	if cfg.Game.Rounds > 0 {
		s.RoundsPerDuel = cfg.Game.Rounds
	}
	if cfg.Game.OptionCount > 0 {
		s.OptionCount = cfg.Game.OptionCount
	}
	s.RoundTime = config.Duration(cfg.Game.RoundTime, s.RoundTime)
	s.PhaseTime = config.Duration(cfg.Game.PhaseTime, s.PhaseTime)
	s.RestBetweenDuels = config.Duration(cfg.Game.RestBetween, s.RestBetweenDuels)
	s.PreDuelCountdown = config.Duration(cfg.Game.Countdown, s.PreDuelCountdown)
	s.RevealPause = config.Duration(cfg.Game.RevealPause, s.RevealPause)
	return s
}
