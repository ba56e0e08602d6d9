package app

import (
	"context"
	"fmt"
	"math/rand"
	"sort"

	"offbeat/internal/domain"
	"offbeat/internal/ports"
)

// StartGame moves a waiting game to playing. Only the host may start, and at
// least MinPlayersToStart alive players must be present. The first player in
// join order receives the turn.
func (s *Service) StartGame(ctx context.Context, gameID, callerID string) ([]Event, error) {
	if err := requireCaller(callerID); err != nil {
		return nil, err
	}

	var events []Event
	err := s.update(ctx, gameID, func(ctx context.Context, tx ports.Tx, g *domain.Game) error {
		events = nil
		if !g.IsHost(callerID) {
			return domain.ErrNotHost
		}
		if g.Status != domain.StatusWaiting {
			return domain.ErrGameStarted
		}
		order := g.StartingOrder()
		if len(order) < s.settings.MinPlayersToStart {
			return domain.ErrTooFewPlayers
		}

		updates := []ports.FieldUpdate{
			ports.Set(domain.FieldStatus, domain.StatusPlaying),
			ports.Set(domain.FieldTurnOrder, order),
		}
		updates = append(updates, turnUpdates(g, order[0])...)
		events = []Event{{
			Kind:    EventGameStarted,
			GameID:  gameID,
			Payload: GameStartedPayload{TurnOrder: order, FirstTurnUserID: order[0]},
		}}
		return tx.Update(ctx, gameID, updates...)
	})
	if err != nil {
		return nil, fmt.Errorf("start %s: %w", gameID, err)
	}

	// Clients retry selection when they observe playing without a song.
	if _, songEvents, err := s.SelectSong(ctx, gameID); err == nil {
		events = append(events, songEvents...)
	}
	return events, nil
}

// SelectSong writes the game's song at most once. Every client that sees the
// game playing may call it; only the first commit picks a track.
func (s *Service) SelectSong(ctx context.Context, gameID string) (domain.Song, []Event, error) {
	var (
		song   domain.Song
		events []Event
	)
	err := s.update(ctx, gameID, func(ctx context.Context, tx ports.Tx, g *domain.Game) error {
		events = nil
		if g.Status != domain.StatusPlaying {
			return domain.ErrNotPlaying
		}
		if g.Song != nil {
			song = *g.Song
			return nil
		}
		s.withRand(func(r *rand.Rand) { song = domain.PickSong(g.Players, r) })
		events = []Event{{Kind: EventSongSelected, GameID: gameID, Payload: SongSelectedPayload{Song: song}}}
		return tx.Update(ctx, gameID, ports.Set(domain.FieldSong, song))
	})
	if err != nil {
		return domain.Song{}, nil, fmt.Errorf("select song %s: %w", gameID, err)
	}
	return song, events, nil
}

// ListLobbies returns up to LobbyListLimit public waiting games that still
// have room, sorted by name. Full lobbies do not count toward the limit: the
// query window grows until enough joinable games are found or the store runs
// out of matches.
func (s *Service) ListLobbies(ctx context.Context) ([]*domain.Game, error) {
	want := s.settings.LobbyListLimit
	if want <= 0 {
		want = defaultLobbyListLimit
	}

	var lobbies []*domain.Game
	for window := want; ; window *= lobbyWindowGrowth {
		if window > want*maxLobbyWindowFactor {
			window = want * maxLobbyWindowFactor
		}
		snaps, err := s.store.Query(ctx, ports.Filter{
			Conditions: []ports.Condition{
				ports.Where(domain.FieldStatus, domain.StatusWaiting),
				ports.Where(domain.FieldIsPublic, true),
			},
			Limit: window,
		})
		if err != nil {
			return nil, fmt.Errorf("list lobbies: %w", err)
		}

		lobbies = lobbies[:0]
		for _, snap := range snaps {
			g, err := domain.DecodeGame(snap.ID, snap.Data)
			if err != nil {
				continue
			}
			if g.IsJoinable() {
				lobbies = append(lobbies, g)
			}
		}
		if len(lobbies) >= want || len(snaps) < window || window >= want*maxLobbyWindowFactor {
			break
		}
	}

	sort.Slice(lobbies, func(i, j int) bool {
		if lobbies[i].LobbyName != lobbies[j].LobbyName {
			return lobbies[i].LobbyName < lobbies[j].LobbyName
		}
		return lobbies[i].ID < lobbies[j].ID
	})
	if len(lobbies) > want {
		lobbies = lobbies[:want]
	}
	if lobbies == nil {
		lobbies = []*domain.Game{}
	}
	return lobbies, nil
}

// FindLobbyByName returns a waiting game with exactly this lobby name.
func (s *Service) FindLobbyByName(ctx context.Context, name string) (*domain.Game, error) {
	snaps, err := s.store.Query(ctx, ports.Filter{
		Conditions: []ports.Condition{
			ports.Where(domain.FieldLobbyName, name),
			ports.Where(domain.FieldStatus, domain.StatusWaiting),
		},
		Limit: s.settings.LobbyListLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("find lobby: %w", err)
	}
	if len(snaps) == 0 {
		return nil, fmt.Errorf("find lobby %q: %w", name, ports.ErrNotFound)
	}
	return domain.DecodeGame(snaps[0].ID, snaps[0].Data)
}
