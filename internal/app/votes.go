package app

import (
	"context"
	"fmt"

	"offbeat/internal/domain"
	"offbeat/internal/ports"
)

// CallVoteResult reports the effect of a call-vote toggle.
type CallVoteResult struct {
	Calling        bool `json:"calling"`
	Count          int  `json:"count"`
	SessionStarted bool `json:"sessionStarted"`
}

// CastResult reports whether the session can now be resolved.
type CastResult struct {
	EndReached bool `json:"endReached"`
}

// Resolution is the result of a resolution pass. Resolved is false when there
// was nothing to resolve.
type Resolution struct {
	Resolved bool           `json:"resolved"`
	Outcome  domain.Outcome `json:"outcome"`
}

// ToggleCallVote flips the caller's call-to-vote request. When alive callers
// form a strict majority and no session is running, the same transaction
// clears the requests and opens a session over every alive player.
func (s *Service) ToggleCallVote(ctx context.Context, gameID, playerID string) (CallVoteResult, []Event, error) {
	if err := requireCaller(playerID); err != nil {
		return CallVoteResult{}, nil, err
	}

	var (
		res    CallVoteResult
		events []Event
	)
	err := s.update(ctx, gameID, func(ctx context.Context, tx ports.Tx, g *domain.Game) error {
		res, events = CallVoteResult{}, nil
		if g.Status != domain.StatusPlaying {
			return domain.ErrNotPlaying
		}
		if !g.IsAlive(playerID) {
			return domain.ErrNotAlive
		}

		list := domain.Without(g.CallVoteList, playerID)
		res.Calling = !domain.Contains(g.CallVoteList, playerID)
		if res.Calling {
			list = append(list, playerID)
		}
		g.CallVoteList = list
		res.Count = len(list)
		events = []Event{{
			Kind:    EventCallVoteToggled,
			GameID:  gameID,
			Payload: CallVotePayload{UserID: playerID, Calling: res.Calling, Count: res.Count},
		}}

		if g.HasActiveVote() || !domain.QuorumReached(g.AliveCallers(), g.AliveCount()) {
			return tx.Update(ctx, gameID,
				ports.Set(domain.FieldCallVoteList, list),
				ports.Set(domain.FieldCallVote, len(list)),
			)
		}

		candidates := g.AliveIDs()
		res.SessionStarted, res.Count = true, 0
		events = append(events, Event{
			Kind:    EventVoteStarted,
			GameID:  gameID,
			Payload: VoteStartedPayload{Candidates: candidates},
		})
		return tx.Update(ctx, gameID,
			ports.Set(domain.FieldCallVoteList, []string{}),
			ports.Set(domain.FieldCallVote, 0),
			ports.Set(domain.FieldVoteSession, domain.NewVoteSession(candidates)),
		)
	})
	if err != nil {
		return CallVoteResult{}, nil, fmt.Errorf("call vote %s: %w", gameID, err)
	}
	return res, events, nil
}

// CastVote records one vote for targetID, which is a candidate id or "skip".
// A second vote from the same player fails with domain.ErrAlreadyVoted and
// writes nothing.
func (s *Service) CastVote(ctx context.Context, gameID, voterID, targetID string) (CastResult, []Event, error) {
	if err := requireCaller(voterID); err != nil {
		return CastResult{}, nil, err
	}

	var (
		res    CastResult
		events []Event
	)
	err := s.update(ctx, gameID, func(ctx context.Context, tx ports.Tx, g *domain.Game) error {
		res, events = CastResult{}, nil
		if err := g.CanVote(voterID); err != nil {
			return err
		}
		if _, ok := g.VoteSession.Votes[targetID]; !ok {
			return domain.ErrInvalidTarget
		}

		g.VoteSession.Votes[targetID]++
		g.VoteSession.Voted[voterID] = true
		res.EndReached = g.VoteEndReached()
		events = []Event{{
			Kind:    EventVoteCast,
			GameID:  gameID,
			Payload: VoteCastPayload{VoterID: voterID, EndReached: res.EndReached},
		}}
		return tx.Update(ctx, gameID,
			ports.Increment(domain.VotePath(domain.FieldVotes, targetID), 1),
			ports.Set(domain.VotePath(domain.FieldVoted, voterID), true),
		)
	})
	if err != nil {
		return CastResult{}, nil, fmt.Errorf("cast vote %s: %w", gameID, err)
	}
	return res, events, nil
}

// ResolveVote closes the active session once an end condition holds. It is
// idempotent, so every client that notices completion may call it.
func (s *Service) ResolveVote(ctx context.Context, gameID string) (Resolution, []Event, error) {
	return s.resolve(ctx, gameID, func(g *domain.Game) (bool, error) {
		return g.VoteEndReached(), nil
	})
}

// EndVote lets the host resolve the active session early.
func (s *Service) EndVote(ctx context.Context, gameID, callerID string) (Resolution, []Event, error) {
	if err := requireCaller(callerID); err != nil {
		return Resolution{}, nil, err
	}
	return s.resolve(ctx, gameID, func(g *domain.Game) (bool, error) {
		if !g.IsHost(callerID) {
			return false, domain.ErrNotHost
		}
		return true, nil
	})
}

// resolve applies the tally inside one transaction: a strict leader other than
// "skip" is eliminated and dropped from turnOrder, and the session is closed
// with its tallies kept for display.
func (s *Service) resolve(ctx context.Context, gameID string, gate func(g *domain.Game) (bool, error)) (Resolution, []Event, error) {
	var (
		res    Resolution
		events []Event
	)
	err := s.update(ctx, gameID, func(ctx context.Context, tx ports.Tx, g *domain.Game) error {
		res, events = Resolution{}, nil
		if !g.HasActiveVote() {
			return nil
		}
		ok, err := gate(g)
		if err != nil || !ok {
			return err
		}

		out := g.Resolve()
		res = Resolution{Resolved: true, Outcome: out}
		updates := []ports.FieldUpdate{ports.Set(domain.VotePath(domain.FieldActive), false)}
		if out.Eliminated != "" {
			updates = append(updates, removeFromPlay(g, out.Eliminated)...)
		}

		events = []Event{{
			Kind:    EventVoteResolved,
			GameID:  gameID,
			Payload: VoteResolvedPayload{Outcome: out, Forced: !g.VoteEndReached()},
		}}
		if out.Eliminated != "" {
			events = append(events, Event{
				Kind:    EventPlayerEliminated,
				GameID:  gameID,
				Payload: PlayerPayload{UserID: out.Eliminated, Name: g.Player(out.Eliminated).Name},
			})
		}
		return tx.Update(ctx, gameID, updates...)
	})
	if err != nil {
		return Resolution{}, nil, fmt.Errorf("resolve vote %s: %w", gameID, err)
	}
	return res, events, nil
}
