package app

import (
	"context"
	"fmt"

	"offbeat/internal/domain"
	"offbeat/internal/ports"
)

// AdvanceTurn moves the turn to the next alive player in turnOrder.
func (s *Service) AdvanceTurn(ctx context.Context, gameID string) ([]Event, error) {
	return s.advance(ctx, gameID, "")
}

// AdvanceTurnFrom advances only if holderID still holds the turn, so a timeout
// and a chat message racing each other move the turn once.
func (s *Service) AdvanceTurnFrom(ctx context.Context, gameID, holderID string) ([]Event, error) {
	if holderID == "" {
		return nil, nil
	}
	return s.advance(ctx, gameID, holderID)
}

// SkipTurn is the host's way to unblock a game whose turn holder went quiet.
func (s *Service) SkipTurn(ctx context.Context, gameID, callerID string) ([]Event, error) {
	if err := requireCaller(callerID); err != nil {
		return nil, err
	}
	g, err := s.GetGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if holder, _ := g.TurnHolder(); holder == callerID {
		return s.AdvanceTurnFrom(ctx, gameID, callerID)
	}
	if !g.IsHost(callerID) {
		return nil, domain.ErrNotHost
	}
	return s.AdvanceTurn(ctx, gameID)
}

func (s *Service) advance(ctx context.Context, gameID, expected string) ([]Event, error) {
	var events []Event
	err := s.update(ctx, gameID, func(ctx context.Context, tx ports.Tx, g *domain.Game) error {
		events = nil
		if g.Status != domain.StatusPlaying {
			if expected != "" {
				return nil
			}
			return domain.ErrNotPlaying
		}
		holder, _ := g.TurnHolder()
		if expected != "" && holder != expected {
			return nil
		}
		next := g.NextTurn()
		if next == "" || next == holder {
			return nil
		}
		events = []Event{{
			Kind:    EventTurnAdvanced,
			GameID:  gameID,
			Payload: TurnAdvancedPayload{FromUserID: holder, ToUserID: next},
		}}
		return tx.Update(ctx, gameID, turnUpdates(g, next)...)
	})
	if err != nil {
		return nil, fmt.Errorf("advance turn %s: %w", gameID, err)
	}
	return events, nil
}
