package app

import (
	"context"
	"math/rand"
	"testing"

	"offbeat/internal/docstore"
	"offbeat/internal/domain"
)

func newTestService(t *testing.T, settings Settings) (*Service, *docstore.Memory) {
	t.Helper()
	store := docstore.NewMemory(docstore.WithMaxAttempts(200))
	return NewService(store, settings, rand.New(rand.NewSource(42))), store
}

// setupLobby creates a waiting game hosted by ids[0] and joins the rest.
func setupLobby(t *testing.T, svc *Service, maxPlayers int, ids ...string) string {
	t.Helper()
	ctx := context.Background()
	g, _, err := svc.CreateGame(ctx, ids[0], ids[0], domain.LobbyOptions{LobbyName: "Test Lobby", MaxPlayers: maxPlayers, IsPublic: true})
	if err != nil {
		t.Fatalf("CreateGame error: %v", err)
	}
	for _, id := range ids[1:] {
		if _, err := svc.Join(ctx, g.ID, id, id); err != nil {
			t.Fatalf("Join(%s) error: %v", id, err)
		}
	}
	return g.ID
}

// setupPlaying is setupLobby followed by a host start.
func setupPlaying(t *testing.T, svc *Service, ids ...string) string {
	t.Helper()
	id := setupLobby(t, svc, 8, ids...)
	if _, err := svc.StartGame(context.Background(), id, ids[0]); err != nil {
		t.Fatalf("StartGame error: %v", err)
	}
	return id
}

func mustGame(t *testing.T, svc *Service, id string) *domain.Game {
	t.Helper()
	g, err := svc.GetGame(context.Background(), id)
	if err != nil {
		t.Fatalf("GetGame error: %v", err)
	}
	return g
}
