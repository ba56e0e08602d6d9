package app

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"

	"offbeat/internal/domain"
)

// startSession opens a vote session by having callers request it.
func startSession(t *testing.T, svc *Service, id string, callers ...string) {
	t.Helper()
	for _, c := range callers {
		if _, _, err := svc.ToggleCallVote(context.Background(), id, c); err != nil {
			t.Fatalf("ToggleCallVote(%s) error: %v", c, err)
		}
	}
	if !mustGame(t, svc, id).HasActiveVote() {
		t.Fatal("expected an active vote session")
	}
}

func assertVoteSums(t *testing.T, g *domain.Game) {
	t.Helper()
	votes, voted := g.VoteSession.Totals()
	if votes != voted {
		t.Fatalf("sum(votes) = %d but %d players voted", votes, voted)
	}
}

func TestScenarioAQuorumCreatesSession(t *testing.T) {
	svc, _ := newTestService(t, Settings{})
	ctx := context.Background()
	id := setupPlaying(t, svc, "p1", "p2", "p3")

	res, _, err := svc.ToggleCallVote(ctx, id, "p1")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Calling || res.SessionStarted || res.Count != 1 {
		t.Fatalf("first call = %+v", res)
	}
	if g := mustGame(t, svc, id); g.CallVote != 1 || g.HasActiveVote() {
		t.Fatalf("after one call: callVote=%d active=%v", g.CallVote, g.HasActiveVote())
	}

	res, evs, err := svc.ToggleCallVote(ctx, id, "p2")
	if err != nil {
		t.Fatal(err)
	}
	if !res.SessionStarted {
		t.Fatalf("second call = %+v, want session started", res)
	}
	if kinds := Kinds(evs); !reflect.DeepEqual(kinds, []EventKind{EventCallVoteToggled, EventVoteStarted}) {
		t.Fatalf("events = %v", kinds)
	}

	g := mustGame(t, svc, id)
	wantVotes := map[string]int{"p1": 0, "p2": 0, "p3": 0, domain.SkipTarget: 0}
	wantVoted := map[string]bool{"p1": false, "p2": false, "p3": false}
	if !reflect.DeepEqual(g.VoteSession.Votes, wantVotes) || !reflect.DeepEqual(g.VoteSession.Voted, wantVoted) {
		t.Fatalf("session = %+v", g.VoteSession)
	}
	if len(g.CallVoteList) != 0 || g.CallVote != 0 {
		t.Fatalf("call list not cleared: %v / %d", g.CallVoteList, g.CallVote)
	}
}

func TestToggleCallVoteWithdraws(t *testing.T) {
	svc, _ := newTestService(t, Settings{})
	ctx := context.Background()
	id := setupPlaying(t, svc, "p1", "p2", "p3", "p4")

	_, _, _ = svc.ToggleCallVote(ctx, id, "p1")
	res, _, err := svc.ToggleCallVote(ctx, id, "p1")
	if err != nil {
		t.Fatal(err)
	}
	if res.Calling || res.Count != 0 {
		t.Fatalf("withdraw = %+v", res)
	}
	if g := mustGame(t, svc, id); len(g.CallVoteList) != 0 || g.CallVote != 0 {
		t.Fatalf("call list = %v / %d", g.CallVoteList, g.CallVote)
	}
}

func TestToggleCallVoteRequiresAlivePlayingMember(t *testing.T) {
	svc, _ := newTestService(t, Settings{})
	ctx := context.Background()

	lobby := setupLobby(t, svc, 5, "p1", "p2")
	if _, _, err := svc.ToggleCallVote(ctx, lobby, "p1"); !errors.Is(err, domain.ErrNotPlaying) {
		t.Fatalf("err = %v, want ErrNotPlaying", err)
	}

	id := setupPlaying(t, svc, "p1", "p2", "p3")
	_, _ = svc.Kick(ctx, id, "p1", "p3")
	if _, _, err := svc.ToggleCallVote(ctx, id, "p3"); !errors.Is(err, domain.ErrNotAlive) {
		t.Fatalf("err = %v, want ErrNotAlive", err)
	}
}

func TestQuorumExcludesDeadPlayers(t *testing.T) {
	svc, _ := newTestService(t, Settings{})
	ctx := context.Background()
	id := setupPlaying(t, svc, "p1", "p2", "p3", "p4")
	_, _ = svc.Kick(ctx, id, "p1", "p4")
	_, _ = svc.Kick(ctx, id, "p1", "p3")

	// One of two alive players is not a strict majority.
	res, _, err := svc.ToggleCallVote(ctx, id, "p1")
	if err != nil {
		t.Fatal(err)
	}
	if res.SessionStarted {
		t.Fatal("1/2 should not reach quorum")
	}
	res, _, _ = svc.ToggleCallVote(ctx, id, "p2")
	if !res.SessionStarted {
		t.Fatal("2/2 should reach quorum")
	}
	g := mustGame(t, svc, id)
	if _, ok := g.VoteSession.Votes["p3"]; ok {
		t.Fatal("dead players should not be candidates")
	}
}

func TestConcurrentCallersCreateOneSession(t *testing.T) {
	svc, _ := newTestService(t, Settings{})
	ctx := context.Background()
	ids := []string{"p1", "p2", "p3", "p4", "p5", "p6"}
	id := setupPlaying(t, svc, ids...)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		started int
	)
	for _, pid := range ids {
		wg.Add(1)
		go func(pid string) {
			defer wg.Done()
			res, _, err := svc.ToggleCallVote(ctx, id, pid)
			if err != nil {
				t.Errorf("ToggleCallVote(%s) error: %v", pid, err)
				return
			}
			if res.SessionStarted {
				mu.Lock()
				started++
				mu.Unlock()
			}
		}(pid)
	}
	wg.Wait()

	if started != 1 {
		t.Fatalf("sessions started = %d, want 1", started)
	}
	if !mustGame(t, svc, id).HasActiveVote() {
		t.Fatal("expected active session")
	}
}

func TestScenarioBMajorityEliminates(t *testing.T) {
	svc, _ := newTestService(t, Settings{})
	ctx := context.Background()
	id := setupPlaying(t, svc, "p1", "p2", "p3")
	startSession(t, svc, id, "p1", "p2")

	casts := []struct{ voter, target string }{{"p1", "p2"}, {"p2", "p3"}, {"p3", "p2"}}
	var last CastResult
	for _, c := range casts {
		res, _, err := svc.CastVote(ctx, id, c.voter, c.target)
		if err != nil {
			t.Fatalf("CastVote(%s→%s) error: %v", c.voter, c.target, err)
		}
		assertVoteSums(t, mustGame(t, svc, id))
		last = res
	}
	if !last.EndReached {
		t.Fatal("all voted should reach the end condition")
	}

	g := mustGame(t, svc, id)
	if want := map[string]int{"p1": 0, "p2": 2, "p3": 1, domain.SkipTarget: 0}; !reflect.DeepEqual(g.VoteSession.Votes, want) {
		t.Fatalf("votes = %v, want %v", g.VoteSession.Votes, want)
	}

	res, evs, err := svc.ResolveVote(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Resolved || res.Outcome.Eliminated != "p2" {
		t.Fatalf("resolution = %+v", res)
	}
	if kinds := Kinds(evs); !reflect.DeepEqual(kinds, []EventKind{EventVoteResolved, EventPlayerEliminated}) {
		t.Fatalf("events = %v", kinds)
	}

	g = mustGame(t, svc, id)
	if g.IsAlive("p2") || g.Player("p2") == nil {
		t.Fatal("p2 should be present and not alive")
	}
	if domain.Contains(g.TurnOrder, "p2") {
		t.Fatalf("turnOrder still has p2: %v", g.TurnOrder)
	}
	if g.VoteSession.Active {
		t.Fatal("session should be inactive")
	}
	if g.VoteSession.Votes["p2"] != 2 {
		t.Fatal("tallies should be kept for display")
	}
}

func TestScenarioCTieNoElimination(t *testing.T) {
	svc, _ := newTestService(t, Settings{})
	ctx := context.Background()
	id := setupPlaying(t, svc, "p1", "p2", "p3", "p4")
	startSession(t, svc, id, "p1", "p2", "p3")

	for _, c := range []struct{ voter, target string }{{"p1", "p2"}, {"p2", "p3"}, {"p3", "p2"}, {"p4", "p3"}} {
		if _, _, err := svc.CastVote(ctx, id, c.voter, c.target); err != nil {
			t.Fatal(err)
		}
	}

	before := mustGame(t, svc, id)
	res, _, err := svc.ResolveVote(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Resolved || !res.Outcome.Tie || res.Outcome.Eliminated != "" {
		t.Fatalf("resolution = %+v", res)
	}
	after := mustGame(t, svc, id)
	for pid, p := range before.Players {
		if after.Players[pid].Alive != p.Alive {
			t.Fatalf("%s alive flag changed on a tie", pid)
		}
	}
	if after.VoteSession.Active {
		t.Fatal("session should be inactive")
	}
}

func TestSkipMajorityEndsWithoutElimination(t *testing.T) {
	svc, _ := newTestService(t, Settings{})
	ctx := context.Background()
	id := setupPlaying(t, svc, "p1", "p2", "p3")
	startSession(t, svc, id, "p1", "p2")

	_, _, _ = svc.CastVote(ctx, id, "p1", domain.SkipTarget)
	res, _, err := svc.CastVote(ctx, id, "p2", domain.SkipTarget)
	if err != nil {
		t.Fatal(err)
	}
	if !res.EndReached {
		t.Fatal("2/3 skip should end the vote")
	}
	out, _, err := svc.ResolveVote(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if !out.Outcome.Skipped || out.Outcome.Eliminated != "" {
		t.Fatalf("outcome = %+v", out.Outcome)
	}
	if mustGame(t, svc, id).AliveCount() != 3 {
		t.Fatal("skip should not eliminate")
	}
}

func TestCastVoteRejections(t *testing.T) {
	svc, _ := newTestService(t, Settings{})
	ctx := context.Background()
	id := setupPlaying(t, svc, "p1", "p2", "p3")

	if _, _, err := svc.CastVote(ctx, id, "p1", "p2"); !errors.Is(err, domain.ErrNoActiveVote) {
		t.Fatalf("err = %v, want ErrNoActiveVote", err)
	}
	startSession(t, svc, id, "p1", "p2")

	if _, _, err := svc.CastVote(ctx, id, "p1", "ghost"); !errors.Is(err, domain.ErrInvalidTarget) {
		t.Fatalf("err = %v, want ErrInvalidTarget", err)
	}
	if _, _, err := svc.CastVote(ctx, id, "p1", "p2"); err != nil {
		t.Fatal(err)
	}
	before := mustGame(t, svc, id)
	if _, _, err := svc.CastVote(ctx, id, "p1", "p3"); !errors.Is(err, domain.ErrAlreadyVoted) {
		t.Fatalf("err = %v, want ErrAlreadyVoted", err)
	}
	if after := mustGame(t, svc, id); !reflect.DeepEqual(before.VoteSession, after.VoteSession) {
		t.Fatal("double vote changed the session")
	}
}

func TestConcurrentVotesKeepSums(t *testing.T) {
	svc, _ := newTestService(t, Settings{})
	ctx := context.Background()
	ids := []string{"p1", "p2", "p3", "p4", "p5", "p6", "p7", "p8"}
	id := setupPlaying(t, svc, ids...)
	startSession(t, svc, id, "p1", "p2", "p3", "p4", "p5")

	var wg sync.WaitGroup
	for i, pid := range ids {
		pid := pid
		target := ids[(i+1)%len(ids)]
		wg.Add(2)
		// Each voter races itself; exactly one of the two votes may land.
		for j := 0; j < 2; j++ {
			go func() {
				defer wg.Done()
				_, _, err := svc.CastVote(ctx, id, pid, target)
				if err != nil && !errors.Is(err, domain.ErrAlreadyVoted) {
					t.Errorf("CastVote(%s) error: %v", pid, err)
				}
			}()
		}
	}
	wg.Wait()

	g := mustGame(t, svc, id)
	assertVoteSums(t, g)
	if votes, _ := g.VoteSession.Totals(); votes != len(ids) {
		t.Fatalf("votes = %d, want %d", votes, len(ids))
	}
	if !g.VoteEndReached() {
		t.Fatal("everyone voted")
	}
}

func TestResolveVoteWaitsForEndCondition(t *testing.T) {
	svc, _ := newTestService(t, Settings{})
	ctx := context.Background()
	id := setupPlaying(t, svc, "p1", "p2", "p3")
	startSession(t, svc, id, "p1", "p2")
	_, _, _ = svc.CastVote(ctx, id, "p1", "p2")

	res, _, err := svc.ResolveVote(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if res.Resolved || !mustGame(t, svc, id).HasActiveVote() {
		t.Fatal("incomplete vote should not be resolved by a non-host")
	}
}

func TestResolveVoteIsIdempotent(t *testing.T) {
	svc, _ := newTestService(t, Settings{})
	ctx := context.Background()
	id := setupPlaying(t, svc, "p1", "p2", "p3")
	startSession(t, svc, id, "p1", "p2")
	_, _, _ = svc.CastVote(ctx, id, "p1", "p3")
	_, _, _ = svc.CastVote(ctx, id, "p2", "p3")
	_, _, _ = svc.CastVote(ctx, id, "p3", "p1")

	var wg sync.WaitGroup
	resolved := make(chan Resolution, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, _, err := svc.ResolveVote(ctx, id)
			if err != nil {
				t.Errorf("ResolveVote error: %v", err)
			}
			resolved <- res
		}()
	}
	wg.Wait()
	close(resolved)

	n := 0
	for res := range resolved {
		if res.Resolved {
			n++
		}
	}
	if n != 1 {
		t.Fatalf("resolutions = %d, want 1", n)
	}
	g := mustGame(t, svc, id)
	if g.IsAlive("p3") || g.AliveCount() != 2 {
		t.Fatalf("expected exactly p3 eliminated, alive = %v", g.AliveIDs())
	}
}

func TestEndVoteHostOnly(t *testing.T) {
	svc, _ := newTestService(t, Settings{})
	ctx := context.Background()
	id := setupPlaying(t, svc, "p1", "p2", "p3")
	startSession(t, svc, id, "p1", "p2")
	_, _, _ = svc.CastVote(ctx, id, "p2", "p3")

	if _, _, err := svc.EndVote(ctx, id, "p2"); !errors.Is(err, domain.ErrNotHost) {
		t.Fatalf("err = %v, want ErrNotHost", err)
	}
	res, evs, err := svc.EndVote(ctx, id, "p1")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Resolved || res.Outcome.Eliminated != "p3" {
		t.Fatalf("resolution = %+v", res)
	}
	if payload := evs[0].Payload.(VoteResolvedPayload); !payload.Forced {
		t.Fatal("early resolution should be marked forced")
	}
}

func TestEliminatedTurnHolderPassesTurn(t *testing.T) {
	svc, _ := newTestService(t, Settings{})
	ctx := context.Background()
	id := setupPlaying(t, svc, "p1", "p2", "p3")
	startSession(t, svc, id, "p2", "p3")
	for _, voter := range []string{"p1", "p2", "p3"} {
		_, _, _ = svc.CastVote(ctx, id, voter, "p1")
	}
	if _, _, err := svc.ResolveVote(ctx, id); err != nil {
		t.Fatal(err)
	}
	g := mustGame(t, svc, id)
	holder, ok := g.TurnHolder()
	if !ok || holder != "p2" {
		t.Fatalf("holder = %q, want p2", holder)
	}
	if g.Player("p1").IsTurn {
		t.Fatal("eliminated player still holds the turn")
	}
}

func TestNewSessionAfterResolution(t *testing.T) {
	svc, _ := newTestService(t, Settings{})
	ctx := context.Background()
	id := setupPlaying(t, svc, "p1", "p2", "p3", "p4")
	startSession(t, svc, id, "p1", "p2", "p3")
	if _, _, err := svc.EndVote(ctx, id, "p1"); err != nil {
		t.Fatal(err)
	}
	startSession(t, svc, id, "p1", "p2", "p3")
	g := mustGame(t, svc, id)
	if _, voted := g.VoteSession.Totals(); voted != 0 {
		t.Fatalf("new session should start clean, %d voted", voted)
	}
}
