package nakama

import (
	"context"
	"database/sql"
	"fmt"

	"offbeat/internal/app"
	"offbeat/internal/config"
	"offbeat/internal/ports"
	"offbeat/internal/ports/postgres"
	"offbeat/internal/ports/spotify"

	"github.com/heroiclabs/nakama-common/runtime"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// InitModule wires the game store, RPCs and auth hook into the Nakama runtime.
func InitModule(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, initializer runtime.Initializer) error {
	cfg, err := loadConfig(ctx, logger)
	if err != nil {
		return err
	}

	stream := NewGameStream(nk, logger)
	store, err := newStore(ctx, cfg, logger, db, nk, stream)
	if err != nil {
		return err
	}

	svc := app.NewService(store, app.SettingsFromConfig(cfg), nil, app.WithServiceLogger(logger.WithField("component", "service")))
	rpcs := NewRPCs(svc, stream, spotify.NewClient("", nil), cfg.TopTracksLimit, WithAccounts(NewAccountAdapter(nk)))
	if err := rpcs.Register(initializer); err != nil {
		return err
	}
	if err := initializer.RegisterAfterAuthenticateDevice(AfterAuthenticateDevice); err != nil {
		return err
	}

	logger.WithField("storage", cfg.StorageBackend).Info("Off Beat Go module loaded.")
	return nil
}

func loadConfig(ctx context.Context, logger runtime.Logger) (config.GameConfig, error) {
	if err := config.LoadGameConfig(config.DefaultPath); err != nil {
		logger.Warn("Could not load game config, using defaults: %v", err)
	}
	cfg := config.GetGameConfig()
	if env, ok := ctx.Value(runtime.RUNTIME_CTX_ENV).(map[string]string); ok {
		var err error
		if cfg, err = cfg.ApplyEnv(env); err != nil {
			logger.Warn("Ignoring malformed runtime env values: %v", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid game config: %w", err)
	}
	return cfg, nil
}

// newStore picks the document store backend. The postgres backend reuses
// Nakama's own database connection.
func newStore(ctx context.Context, cfg config.GameConfig, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, stream *GameStream) (ports.DocumentStore, error) {
	if cfg.StorageBackend != config.BackendPostgres {
		return NewStorageStore(nk, logger,
			WithTransactionAttempts(cfg.MaxTransactionAttempts),
			WithPollInterval(cfg.PollInterval()),
			WithChangeListener(stream.Push),
		), nil
	}

	gdb, err := gorm.Open(gormpostgres.New(gormpostgres.Config{Conn: db}), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open gorm over nakama db: %w", err)
	}
	opts := []postgres.Option{
		postgres.WithAttempts(cfg.MaxTransactionAttempts),
		postgres.WithLogger(logger),
		postgres.WithChangeListener(stream.Push),
	}
	if cfg.RedisAddr != "" {
		rdb, err := postgres.DialRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			logger.Warn("Redis unavailable, cross-node pushes disabled: %v", err)
		} else {
			opts = append(opts, postgres.WithNotifier(postgres.NewRedisNotifier(rdb, "")))
		}
	}
	store, err := postgres.NewStore(gdb, opts...)
	if err != nil {
		return nil, err
	}
	if err := store.Watch(context.Background()); err != nil {
		logger.Warn("Change watch not started: %v", err)
	}
	if _, err := postgres.StartJanitor(store, cfg.JanitorSchedule, cfg.StaleAfter(), func(ids []string, err error) {
		if err != nil {
			logger.Error("Janitor run failed: %v", err)
			return
		}
		if len(ids) > 0 {
			logger.Info("Janitor removed %d stale games", len(ids))
		}
	}); err != nil {
		logger.Warn("Janitor not scheduled: %v", err)
	}
	return store, nil
}
