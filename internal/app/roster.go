package app

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"offbeat/internal/domain"
	"offbeat/internal/ports"
)

// CreateGame validates opts, picks an unused code and writes a new waiting game
// with the host as its only player.
func (s *Service) CreateGame(ctx context.Context, hostID, hostName string, opts domain.LobbyOptions) (*domain.Game, []Event, error) {
	if err := requireCaller(hostID); err != nil {
		return nil, nil, err
	}
	opts, err := opts.Normalize(s.settings.Topics)
	if err != nil {
		return nil, nil, err
	}

	name := s.displayName(hostName)
	g := &domain.Game{
		HostID:       hostID,
		LobbyName:    opts.LobbyName,
		Topic:        opts.Topic,
		MaxPlayers:   opts.MaxPlayers,
		IsPublic:     opts.IsPublic,
		Status:       domain.StatusWaiting,
		Players:      map[string]*domain.Player{hostID: {Name: name, Alive: true}},
		Messages:     []domain.Message{},
		TurnOrder:    []string{hostID},
		CallVoteList: []string{},
	}
	doc, err := g.Document()
	if err != nil {
		return nil, nil, err
	}

	for attempt := 0; attempt < createAttempts; attempt++ {
		s.withRand(func(r *rand.Rand) { g.ID = domain.GenerateCode(r) })
		err = s.store.Create(ctx, g.ID, doc)
		if errors.Is(err, ports.ErrAlreadyExists) {
			continue
		}
		if err != nil {
			return nil, nil, fmt.Errorf("create game: %w", err)
		}
		return g, []Event{{
			Kind:    EventGameCreated,
			GameID:  g.ID,
			Payload: PlayerPayload{UserID: hostID, Name: name},
		}}, nil
	}
	return nil, nil, fmt.Errorf("create game: no free code after %d attempts: %w", createAttempts, err)
}

// Join ensures playerID is on the roster. An existing entry is left untouched,
// so the first name written wins and kicked or eliminated players stay out.
func (s *Service) Join(ctx context.Context, gameID, playerID, displayName string) ([]Event, error) {
	if err := requireCaller(playerID); err != nil {
		return nil, err
	}
	name := s.displayName(displayName)

	var events []Event
	err := s.update(ctx, gameID, func(ctx context.Context, tx ports.Tx, g *domain.Game) error {
		events = nil
		if g.Player(playerID) != nil {
			return nil
		}
		if g.Status != domain.StatusWaiting {
			return domain.ErrGameStarted
		}
		if g.IsFull() {
			return domain.ErrLobbyFull
		}
		events = []Event{{
			Kind:    EventPlayerJoined,
			GameID:  gameID,
			Payload: PlayerPayload{UserID: playerID, Name: name},
		}}
		return tx.Update(ctx, gameID,
			ports.Set(domain.PlayerPath(playerID), domain.Player{Name: name, Alive: true}),
			ports.ArrayUnion(domain.FieldTurnOrder, playerID),
		)
	})
	if err != nil {
		return nil, fmt.Errorf("join %s: %w", gameID, err)
	}
	return events, nil
}

// Leave removes playerID from the roster, deleting the game when nobody is left.
// The host id is never reassigned.
func (s *Service) Leave(ctx context.Context, gameID, playerID string) ([]Event, error) {
	if err := requireCaller(playerID); err != nil {
		return nil, err
	}

	var events []Event
	err := s.update(ctx, gameID, func(ctx context.Context, tx ports.Tx, g *domain.Game) error {
		events = nil
		if g.Player(playerID) == nil {
			return nil
		}
		if len(g.Players) == 1 {
			events = []Event{{Kind: EventGameEnded, GameID: gameID}}
			return tx.Delete(ctx, gameID)
		}

		callers := domain.Without(g.CallVoteList, playerID)
		updates := []ports.FieldUpdate{
			ports.DeleteField(domain.PlayerPath(playerID)),
			ports.ArrayRemove(domain.FieldTurnOrder, playerID),
			ports.Set(domain.FieldCallVoteList, callers),
			ports.Set(domain.FieldCallVote, len(callers)),
		}
		pass, next := passTurn(g, playerID)
		updates = append(updates, pass...)

		events = []Event{{Kind: EventPlayerLeft, GameID: gameID, Payload: PlayerPayload{UserID: playerID}}}
		if next != "" {
			events = append(events, Event{
				Kind:    EventTurnAdvanced,
				GameID:  gameID,
				Payload: TurnAdvancedPayload{FromUserID: playerID, ToUserID: next},
			})
		}
		return tx.Update(ctx, gameID, updates...)
	})
	if err != nil {
		return nil, fmt.Errorf("leave %s: %w", gameID, err)
	}
	return events, nil
}

// Kick marks playerID as not alive. The entry stays so the kicked client can
// observe the flag and leave on its own.
func (s *Service) Kick(ctx context.Context, gameID, hostID, playerID string) ([]Event, error) {
	if err := requireCaller(hostID); err != nil {
		return nil, err
	}

	var events []Event
	err := s.update(ctx, gameID, func(ctx context.Context, tx ports.Tx, g *domain.Game) error {
		events = nil
		if !g.IsHost(hostID) {
			return domain.ErrNotHost
		}
		if playerID == hostID {
			return domain.ErrCannotKickSelf
		}
		p := g.Player(playerID)
		if p == nil {
			return domain.ErrUnknownPlayer
		}
		if !p.Alive {
			return nil
		}

		updates := removeFromPlay(g, playerID)
		events = []Event{{
			Kind:    EventPlayerKicked,
			GameID:  gameID,
			Payload: PlayerPayload{UserID: playerID, Name: p.Name},
		}}
		return tx.Update(ctx, gameID, updates...)
	})
	if err != nil {
		return nil, fmt.Errorf("kick %s: %w", gameID, err)
	}
	return events, nil
}

// removeFromPlay marks id as out of the game while keeping its roster entry.
// It is shared by kicks and vote eliminations.
func removeFromPlay(g *domain.Game, id string) []ports.FieldUpdate {
	callers := domain.Without(g.CallVoteList, id)
	updates := []ports.FieldUpdate{
		ports.Set(domain.PlayerPath(id, domain.FieldAlive), false),
		ports.Set(domain.PlayerPath(id, domain.FieldIsTurn), false),
		ports.Set(domain.FieldTurnOrder, domain.Without(g.TurnOrder, id)),
		ports.Set(domain.FieldCallVoteList, callers),
		ports.Set(domain.FieldCallVote, len(callers)),
	}
	pass, _ := passTurn(g, id)
	return append(updates, pass...)
}

// SetTopTracks stores the player's linked tracks for song selection.
func (s *Service) SetTopTracks(ctx context.Context, gameID, playerID string, tracks []domain.Track) ([]Event, error) {
	if err := requireCaller(playerID); err != nil {
		return nil, err
	}
	if tracks == nil {
		tracks = []domain.Track{}
	}
	err := s.update(ctx, gameID, func(ctx context.Context, tx ports.Tx, g *domain.Game) error {
		if g.Player(playerID) == nil {
			return domain.ErrUnknownPlayer
		}
		return tx.Update(ctx, gameID, ports.Set(domain.PlayerPath(playerID, domain.FieldTopTracks), tracks))
	})
	if err != nil {
		return nil, fmt.Errorf("set top tracks %s: %w", gameID, err)
	}
	return []Event{{
		Kind:       EventTracksLinked,
		GameID:     gameID,
		Payload:    PlayerPayload{UserID: playerID},
		Recipients: []string{playerID},
	}}, nil
}
