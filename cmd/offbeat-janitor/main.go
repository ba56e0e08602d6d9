// Command offbeat-janitor removes abandoned games from the Postgres document
// store on a cron schedule.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"offbeat/internal/config"
	"offbeat/internal/logging"
	"offbeat/internal/ports/postgres"

	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "game config file (defaults are used when empty)")
	once := flag.Bool("once", false, "purge once and exit instead of scheduling")
	dev := flag.Bool("dev", false, "development logging")
	flag.Parse()

	logger, err := logging.New(*dev)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg := config.Default()
	if *configPath != "" {
		if cfg, err = config.ReadFile(*configPath); err != nil {
			logger.Fatal("Failed to read config", zap.String("path", *configPath), zap.Error(err))
		}
	}
	if cfg, err = cfg.ApplyEnv(config.OSEnv()); err != nil {
		logger.Fatal("Invalid environment overrides", zap.Error(err))
	}
	if cfg.PostgresDSN == "" {
		logger.Fatal("postgres_dsn is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Open(cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
	}
	opts := []postgres.Option{postgres.WithLogger(logging.NewPrintf(logger, "component", "store"))}
	if cfg.RedisAddr != "" {
		rdb, err := postgres.DialRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			logger.Warn("Redis unavailable, purges will not be announced", zap.Error(err))
		} else {
			defer rdb.Close()
			opts = append(opts, postgres.WithNotifier(postgres.NewRedisNotifier(rdb, "")))
		}
	}
	store, err := postgres.NewStore(db, opts...)
	if err != nil {
		logger.Fatal("Failed to prepare document store", zap.Error(err))
	}

	report := func(ids []string, err error) {
		if err != nil {
			logger.Error("Purge failed", zap.Error(err))
			return
		}
		logger.Info("Purge finished", zap.Int("removed", len(ids)), zap.Strings("game_ids", ids))
	}

	if *once {
		report(store.PurgeStale(ctx, cfg.StaleAfter()))
		return
	}

	janitor, err := postgres.StartJanitor(store, cfg.JanitorSchedule, cfg.StaleAfter(), report)
	if err != nil {
		logger.Fatal("Failed to schedule janitor", zap.String("schedule", cfg.JanitorSchedule), zap.Error(err))
	}
	logger.Info("Janitor scheduled",
		zap.String("schedule", cfg.JanitorSchedule),
		zap.Duration("stale_after", cfg.StaleAfter()),
	)
	<-ctx.Done()
	janitor.Stop()
	logger.Info("Janitor stopped")
}
