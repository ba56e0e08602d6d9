package app

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"offbeat/internal/config"
	"offbeat/internal/domain"
	"offbeat/internal/ports"

	"github.com/google/uuid"
)

// ErrUnauthenticated is returned when an intent arrives without a user id.
var ErrUnauthenticated = errors.New("caller is not authenticated")

// Settings are the tunable game rules.
type Settings struct {
	MinPlayersToStart int
	TurnDuration      time.Duration
	LobbyListLimit    int
	Topics            []string
}

// SettingsFromConfig maps the loaded game config onto Settings.
func SettingsFromConfig(c config.GameConfig) Settings {
	return Settings{
		MinPlayersToStart: c.MinPlayersToStart,
		TurnDuration:      c.TurnDuration(),
		LobbyListLimit:    c.LobbyListLimit,
		Topics:            c.Topics,
	}
}

// Service contains Off Beat use-cases operating on the shared game document.
// It is safe for concurrent use.
type Service struct {
	store    ports.DocumentStore
	settings Settings

	rngMu sync.Mutex
	rng   *rand.Rand

	newID func() string
	log   Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithServiceLogger sets the logger for failures that do not fail the intent.
func WithServiceLogger(l Logger) ServiceOption {
	return func(s *Service) { s.log = l }
}

// NewService constructs a Service with provided rng or a time-seeded default.
func NewService(store ports.DocumentStore, settings Settings, rng *rand.Rand, opts ...ServiceOption) *Service {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if settings.MinPlayersToStart < 1 {
		settings.MinPlayersToStart = MinPlayersToStartGame
	}
	if settings.TurnDuration <= 0 {
		settings.TurnDuration = DefaultTurnDuration
	}
	s := &Service{
		store:    store,
		settings: settings,
		rng:      rng,
		newID:    newMessageID,
		log:      nopLogger{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Settings returns the rules the service was built with.
func (s *Service) Settings() Settings {
	return s.settings
}

// Store exposes the backing document store.
func (s *Service) Store() ports.DocumentStore {
	return s.store
}

func newMessageID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func (s *Service) withRand(fn func(r *rand.Rand)) {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	fn(s.rng)
}

func (s *Service) displayName(name string) string {
	name = strings.TrimSpace(name)
	if name != "" {
		return name
	}
	s.withRand(func(r *rand.Rand) { name = domain.RandomFriendlyName(r) })
	return name
}

func requireCaller(id string) error {
	if id == "" {
		return ErrUnauthenticated
	}
	return domain.ValidatePlayerID(id)
}

// update loads gameID inside a transaction and hands it to fn. fn runs again on
// every optimistic retry, so it must reset anything it accumulates.
func (s *Service) update(ctx context.Context, gameID string, fn func(ctx context.Context, tx ports.Tx, g *domain.Game) error) error {
	return s.store.RunTransaction(ctx, func(ctx context.Context, tx ports.Tx) error {
		snap, err := tx.Get(ctx, gameID)
		if err != nil {
			return err
		}
		g, err := domain.DecodeGame(gameID, snap.Data)
		if err != nil {
			return err
		}
		return fn(ctx, tx, g)
	})
}

// GetGame reads and decodes a game. Missing games return ports.ErrNotFound.
func (s *Service) GetGame(ctx context.Context, gameID string) (*domain.Game, error) {
	snap, err := s.store.Get(ctx, gameID)
	if err != nil {
		return nil, fmt.Errorf("get game %s: %w", gameID, err)
	}
	return domain.DecodeGame(gameID, snap.Data)
}

// turnUpdates rewrites every player's isTurn flag so exactly holder holds the turn.
func turnUpdates(g *domain.Game, holder string) []ports.FieldUpdate {
	flags := g.TurnFlags(holder)
	updates := make([]ports.FieldUpdate, 0, len(flags))
	for id, on := range flags {
		updates = append(updates, ports.Set(domain.PlayerPath(id, domain.FieldIsTurn), on))
	}
	return updates
}

// passTurn hands the turn to the next alive player when leaving holds it.
// The caller is responsible for clearing or deleting leaving's own entry.
func passTurn(g *domain.Game, leaving string) ([]ports.FieldUpdate, string) {
	holder, ok := g.TurnHolder()
	if !ok || holder != leaving {
		return nil, ""
	}
	next := g.NextTurnExcluding(leaving)
	if next == "" {
		return nil, ""
	}
	return []ports.FieldUpdate{ports.Set(domain.PlayerPath(next, domain.FieldIsTurn), true)}, next
}
