package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Storage backends selectable through StorageBackend.
const (
	BackendNakama   = "nakama"
	BackendPostgres = "postgres"
)

// DefaultPath is where the Nakama module looks for its config file.
const DefaultPath = "data/offbeat_config.json"

type GameConfig struct {
	MinPlayersToStart      int      `json:"min_players_to_start"`
	TurnDurationSeconds    int      `json:"turn_duration_seconds"`
	MaxTransactionAttempts int      `json:"max_transaction_attempts"`
	TopTracksLimit         int      `json:"top_tracks_limit"`
	LobbyListLimit         int      `json:"lobby_list_limit"`
	Topics                 []string `json:"topics"`

	StorageBackend      string `json:"storage_backend"`
	PostgresDSN         string `json:"postgres_dsn"`
	RedisAddr           string `json:"redis_addr"`
	RedisPassword       string `json:"redis_password"`
	RedisDB             int    `json:"redis_db"`
	StaleGameHours      int    `json:"stale_game_hours"`
	JanitorSchedule     string `json:"janitor_schedule"`
	SubscribePollMillis int    `json:"subscribe_poll_millis"`
}

// Default returns the configuration used when no file is present.
func Default() GameConfig {
	return GameConfig{
		MinPlayersToStart:      1,
		TurnDurationSeconds:    30,
		MaxTransactionAttempts: 5,
		TopTracksLimit:         10,
		LobbyListLimit:         100,
		StorageBackend:         BackendNakama,
		RedisAddr:              "localhost:6379",
		StaleGameHours:         24,
		JanitorSchedule:        "@hourly",
		SubscribePollMillis:    500,
	}
}

// TurnDuration is the local turn timeout.
func (c GameConfig) TurnDuration() time.Duration {
	return time.Duration(c.TurnDurationSeconds) * time.Second
}

// StaleAfter is how long an untouched game survives before the janitor removes it.
func (c GameConfig) StaleAfter() time.Duration {
	return time.Duration(c.StaleGameHours) * time.Hour
}

// PollInterval is how often polling subscriptions re-read a document.
func (c GameConfig) PollInterval() time.Duration {
	return time.Duration(c.SubscribePollMillis) * time.Millisecond
}

var (
	cfg      *GameConfig
	loadOnce sync.Once
	loadErr  error
)

// LoadGameConfig loads the game configuration from the given path once.
// A missing file leaves the defaults in place.
func LoadGameConfig(path string) error {
	loadOnce.Do(func() {
		c, err := ReadFile(path)
		if err != nil {
			loadErr = err
			return
		}
		cfg = &c
	})
	return loadErr
}

// ReadFile parses a config file on top of the defaults.
func ReadFile(path string) (GameConfig, error) {
	c := Default()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return c, fmt.Errorf("failed to read game config: %w", err)
	}
	if err := json.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("failed to unmarshal game config: %w", err)
	}
	return c, nil
}

// GetGameConfig returns the global game configuration, or the defaults before loading.
func GetGameConfig() GameConfig {
	if cfg == nil {
		return Default()
	}
	return *cfg
}

// ApplyEnv overrides fields from offbeat_* keys, e.g. the Nakama runtime env map.
// Unparseable numbers are reported and leave the field unchanged.
func (c GameConfig) ApplyEnv(env map[string]string) (GameConfig, error) {
	var errs []error
	setInt := func(key string, dst *int) {
		v, ok := env[key]
		if !ok || v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = n
	}
	setString := func(key string, dst *string) {
		if v, ok := env[key]; ok && v != "" {
			*dst = v
		}
	}

	setInt("offbeat_min_players_to_start", &c.MinPlayersToStart)
	setInt("offbeat_turn_duration_seconds", &c.TurnDurationSeconds)
	setInt("offbeat_max_transaction_attempts", &c.MaxTransactionAttempts)
	setInt("offbeat_top_tracks_limit", &c.TopTracksLimit)
	setInt("offbeat_lobby_list_limit", &c.LobbyListLimit)
	setInt("offbeat_redis_db", &c.RedisDB)
	setInt("offbeat_stale_game_hours", &c.StaleGameHours)
	setInt("offbeat_subscribe_poll_millis", &c.SubscribePollMillis)
	setString("offbeat_storage_backend", &c.StorageBackend)
	setString("offbeat_postgres_dsn", &c.PostgresDSN)
	setString("offbeat_redis_addr", &c.RedisAddr)
	setString("offbeat_redis_password", &c.RedisPassword)
	setString("offbeat_janitor_schedule", &c.JanitorSchedule)
	if v := env["offbeat_topics"]; v != "" {
		var topics []string
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				topics = append(topics, t)
			}
		}
		c.Topics = topics
	}

	return c, errors.Join(errs...)
}

// OSEnv collects the process environment with keys lower-cased, for binaries
// that run outside Nakama.
func OSEnv() map[string]string {
	env := map[string]string{}
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if ok {
			env[strings.ToLower(k)] = v
		}
	}
	return env
}

// Validate rejects settings the game cannot run with.
func (c GameConfig) Validate() error {
	switch {
	case c.MinPlayersToStart < 1:
		return errors.New("min_players_to_start must be at least 1")
	case c.TurnDurationSeconds < 1:
		return errors.New("turn_duration_seconds must be positive")
	case c.MaxTransactionAttempts < 1:
		return errors.New("max_transaction_attempts must be positive")
	case c.StorageBackend != BackendNakama && c.StorageBackend != BackendPostgres:
		return fmt.Errorf("unknown storage_backend %q", c.StorageBackend)
	}
	return nil
}
