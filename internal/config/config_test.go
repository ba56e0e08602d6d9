package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestReadFileMissingUsesDefaults(t *testing.T) {
	c, err := ReadFile(filepath.Join(t.TempDir(), "none.json"))
	if err != nil {
		t.Fatalf("ReadFile error: %v", err)
	}
	if c.TurnDuration() != 30*time.Second || c.MinPlayersToStart != 1 || c.MaxTransactionAttempts != 5 {
		t.Fatalf("unexpected defaults: %+v", c)
	}
}

func TestReadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.json")
	if err := os.WriteFile(path, []byte(`{"min_players_to_start": 3, "topics": ["Animals"]}`), 0o600); err != nil {
		t.Fatal(err)
	}
	c, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile error: %v", err)
	}
	if c.MinPlayersToStart != 3 || len(c.Topics) != 1 || c.TurnDurationSeconds != 30 {
		t.Fatalf("unexpected config: %+v", c)
	}
}

func TestReadFileRejectsBadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.json")
	_ = os.WriteFile(path, []byte(`{`), 0o600)
	if _, err := ReadFile(path); err == nil {
		t.Fatal("expected unmarshal error")
	}
}

func TestApplyEnv(t *testing.T) {
	c, err := Default().ApplyEnv(map[string]string{
		"offbeat_turn_duration_seconds": "10",
		"offbeat_storage_backend":       BackendPostgres,
		"offbeat_topics":                "Animals, Foods,",
		"offbeat_redis_db":              "nope",
	})
	if err == nil {
		t.Fatal("expected error for bad redis db")
	}
	if c.TurnDurationSeconds != 10 || c.StorageBackend != BackendPostgres || c.RedisDB != 0 {
		t.Fatalf("unexpected config: %+v", c)
	}
	if len(c.Topics) != 2 || c.Topics[1] != "Foods" {
		t.Fatalf("topics = %v", c.Topics)
	}
}

func TestValidate(t *testing.T) {
	c := Default()
	if err := c.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	c.StorageBackend = "sqlite"
	if err := c.Validate(); err == nil {
		t.Fatal("expected unknown backend error")
	}
}
