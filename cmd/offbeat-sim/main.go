// Command offbeat-sim plays a scripted Off Beat game against a document store,
// exercising the same client path the game UI uses.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"offbeat/internal/app"
	"offbeat/internal/auth"
	"offbeat/internal/config"
	"offbeat/internal/docstore"
	"offbeat/internal/domain"
	"offbeat/internal/logging"
	"offbeat/internal/ports"
	"offbeat/internal/ports/postgres"

	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "game config file (defaults are used when empty)")
	players := flag.Int("players", 4, "number of simulated players")
	rounds := flag.Int("rounds", 12, "maximum number of turns to play")
	voteEvery := flag.Int("vote-every", 4, "call a vote every n turns")
	seed := flag.Int64("seed", time.Now().UnixNano(), "random seed")
	dev := flag.Bool("dev", false, "development logging")
	flag.Parse()

	logger, err := logging.New(*dev)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to open store", zap.Error(err))
	}
	defer closeStore()

	rng := rand.New(rand.NewSource(*seed))
	svc := app.NewService(store, app.SettingsFromConfig(cfg), rand.New(rand.NewSource(rng.Int63())),
		app.WithServiceLogger(logging.NewPrintf(logger, "component", "service")))
	sim := &simulation{svc: svc, rng: rng, logger: logger, voteEvery: *voteEvery}
	if err := sim.run(ctx, *players, *rounds); err != nil {
		logger.Fatal("Simulation failed", zap.Error(err))
	}
}

func loadConfig(path string) (config.GameConfig, error) {
	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.ReadFile(path); err != nil {
			return cfg, err
		}
	}
	cfg, err := cfg.ApplyEnv(config.OSEnv())
	if err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// openStore uses Postgres when configured and an in-process store otherwise;
// the Nakama backend only exists inside the server.
func openStore(ctx context.Context, cfg config.GameConfig, logger *zap.Logger) (ports.DocumentStore, func(), error) {
	if cfg.StorageBackend != config.BackendPostgres || cfg.PostgresDSN == "" {
		logger.Info("Using in-memory document store")
		return docstore.NewMemory(docstore.WithMaxAttempts(cfg.MaxTransactionAttempts * 10)), func() {}, nil
	}

	db, err := postgres.Open(cfg.PostgresDSN)
	if err != nil {
		return nil, nil, err
	}
	opts := []postgres.Option{
		postgres.WithAttempts(cfg.MaxTransactionAttempts),
		postgres.WithLogger(logging.NewPrintf(logger, "component", "store")),
	}
	closeFn := func() {}
	if cfg.RedisAddr != "" {
		rdb, err := postgres.DialRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			logger.Warn("Redis unavailable, continuing without cross-process notifications", zap.Error(err))
		} else {
			opts = append(opts, postgres.WithNotifier(postgres.NewRedisNotifier(rdb, "")))
			closeFn = func() { _ = rdb.Close() }
		}
	}
	store, err := postgres.NewStore(db, opts...)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	if err := store.Watch(ctx); err != nil {
		logger.Warn("Change watch not started", zap.Error(err))
	}
	logger.Info("Using postgres document store")
	return store, closeFn, nil
}

type seat struct {
	id     string
	name   string
	client *app.Client
}

type simulation struct {
	svc       *app.Service
	rng       *rand.Rand
	logger    *zap.Logger
	voteEvery int
	gameID    string
	seats     []*seat
}

func (s *simulation) run(ctx context.Context, players, rounds int) error {
	if players < 1 {
		return fmt.Errorf("need at least one player")
	}
	for i := 0; i < players; i++ {
		id, err := auth.NewAnonymous("").SignInAnonymously(ctx)
		if err != nil {
			return err
		}
		s.seats = append(s.seats, &seat{id: id, name: domain.RandomFriendlyName(s.rng)})
	}

	host := s.seats[0]
	maxPlayers := players
	if maxPlayers < 3 {
		maxPlayers = 3
	}
	g, _, err := s.svc.CreateGame(ctx, host.id, host.name, domain.LobbyOptions{
		LobbyName:  "Sim Night",
		MaxPlayers: maxPlayers,
		IsPublic:   true,
	})
	if err != nil {
		return err
	}
	s.gameID = g.ID
	s.logger.Info("Lobby created", zap.String("game_id", g.ID), zap.String("host", host.name))

	for i, st := range s.seats {
		log := logging.NewPrintf(s.logger, "player", st.name, "game_id", g.ID)
		st.client = app.NewClient(s.svc, g.ID, st.id, st.name, app.WithClientLogger(log))
		defer st.client.Close()
		if i > 0 {
			if err := st.client.Join(ctx); err != nil {
				return err
			}
		}
		if err := st.client.LinkTracks(ctx, sampleTracks(i)); err != nil {
			return err
		}
		if err := st.client.Open(ctx); err != nil {
			return err
		}
		go s.watch(st)
	}

	if err := host.client.StartGame(ctx); err != nil {
		return err
	}
	if g, err = s.waitForSong(ctx); err != nil {
		return err
	}
	s.logger.Info("Game started", zap.String("song", g.Song.Name), zap.String("artist", g.Song.Artist))

	for turn := 1; turn <= rounds; turn++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		g, err := s.svc.GetGame(ctx, s.gameID)
		if err != nil {
			return err
		}
		if g.AliveCount() <= 2 {
			break
		}
		if s.voteEvery > 0 && turn%s.voteEvery == 0 {
			if err := s.vote(ctx, g); err != nil {
				return err
			}
			continue
		}
		holder, ok := g.TurnHolder()
		if !ok {
			return fmt.Errorf("no turn holder in %s", s.gameID)
		}
		if err := s.seat(holder).client.Send(ctx, fmt.Sprintf("clue %d", turn)); err != nil {
			return err
		}
	}

	final, err := s.svc.GetGame(ctx, s.gameID)
	if err != nil {
		return err
	}
	s.logger.Info("Simulation finished",
		zap.Int("alive", final.AliveCount()),
		zap.Int("messages", len(final.Messages)),
		zap.Strings("turn_order", final.TurnOrder),
	)
	return nil
}

// vote has every alive player call and then cast a random vote.
func (s *simulation) vote(ctx context.Context, g *domain.Game) error {
	alive := make([]string, 0, len(g.TurnOrder))
	for _, id := range g.TurnOrder {
		if g.IsAlive(id) {
			alive = append(alive, id)
		}
	}
	for _, id := range alive {
		res, err := s.seat(id).client.CallVote(ctx)
		if err != nil {
			return err
		}
		if res.SessionStarted {
			break
		}
	}
	for _, id := range alive {
		target := domain.SkipTarget
		if pick := alive[s.rng.Intn(len(alive))]; pick != id {
			target = pick
		}
		if err := s.seat(id).client.Vote(ctx, target); err != nil {
			return err
		}
	}
	after, err := s.svc.GetGame(ctx, s.gameID)
	if err != nil {
		return err
	}
	s.logger.Info("Vote finished", zap.Int("alive", after.AliveCount()))
	return nil
}

func (s *simulation) waitForSong(ctx context.Context) (*domain.Game, error) {
	deadline := time.Now().Add(5 * time.Second)
	for {
		g, err := s.svc.GetGame(ctx, s.gameID)
		if err != nil {
			return nil, err
		}
		if g.Song != nil {
			return g, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("no song selected in %s", s.gameID)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func (s *simulation) watch(st *seat) {
	for ev := range st.client.Events() {
		if ev.Kind == app.ClientViewChanged {
			continue
		}
		s.logger.Info("Client event", zap.String("player", st.name), zap.String("event", string(ev.Kind)))
	}
}

func (s *simulation) seat(id string) *seat {
	for _, st := range s.seats {
		if st.id == id {
			return st
		}
	}
	return nil
}

func sampleTracks(i int) []domain.Track {
	return []domain.Track{
		{ID: fmt.Sprintf("track-%d-a", i), Name: fmt.Sprintf("Album %d", i), Artist: []string{fmt.Sprintf("Artist %d", i)}},
		{ID: fmt.Sprintf("track-%d-b", i), Name: fmt.Sprintf("B-Sides %d", i), Artist: []string{fmt.Sprintf("Artist %d", i), "Guest"}},
	}
}
