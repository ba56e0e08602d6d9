package domain

// QuorumReached reports whether callers form a strict majority of alive players.
func QuorumReached(callers, alive int) bool {
	return alive > 0 && 2*callers > alive
}

// AliveCallers counts call-vote requests from alive roster members.
func (g *Game) AliveCallers() int {
	n := 0
	seen := make(map[string]bool, len(g.CallVoteList))
	for _, id := range g.CallVoteList {
		if !seen[id] && g.IsAlive(id) {
			seen[id] = true
			n++
		}
	}
	return n
}

// NewVoteSession opens a session where every candidate and "skip" start at zero.
func NewVoteSession(candidates []string) *VoteSession {
	s := &VoteSession{
		Active: true,
		Votes:  make(map[string]int, len(candidates)+1),
		Voted:  make(map[string]bool, len(candidates)),
	}
	s.Votes[SkipTarget] = 0
	for _, id := range candidates {
		s.Votes[id] = 0
		s.Voted[id] = false
	}
	return s
}

// Totals returns the sum of all vote counts and the number of players marked as voted.
func (s *VoteSession) Totals() (votes, voted int) {
	for _, n := range s.Votes {
		votes += n
	}
	for _, v := range s.Voted {
		if v {
			voted++
		}
	}
	return votes, voted
}

// EligibleVoters lists alive roster members that were part of the session when it opened.
func (g *Game) EligibleVoters() []string {
	if g.VoteSession == nil {
		return nil
	}
	var out []string
	for _, id := range g.AliveIDs() {
		if _, ok := g.VoteSession.Voted[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

// CanVote reports whether id may still cast a vote in the active session.
func (g *Game) CanVote(id string) error {
	if !g.HasActiveVote() {
		return ErrNoActiveVote
	}
	if !g.IsAlive(id) {
		return ErrNotAlive
	}
	voted, ok := g.VoteSession.Voted[id]
	if !ok {
		return ErrNotEligible
	}
	if voted {
		return ErrAlreadyVoted
	}
	return nil
}

// VoteEndReached reports whether the active session should be resolved: every
// eligible voter has voted, or skip alone holds a strict majority of them.
func (g *Game) VoteEndReached() bool {
	if !g.HasActiveVote() {
		return false
	}
	eligible := g.EligibleVoters()
	if len(eligible) == 0 {
		return true
	}
	all := true
	for _, id := range eligible {
		if !g.VoteSession.Voted[id] {
			all = false
			break
		}
	}
	if all {
		return true
	}
	return 2*g.VoteSession.Votes[SkipTarget] > len(eligible)
}

// Outcome is the result of resolving a vote session.
type Outcome struct {
	Eliminated string `json:"eliminated,omitempty"`
	Tie        bool   `json:"tie"`
	Skipped    bool   `json:"skipped"`
	TopCount   int    `json:"topCount"`
}

// Tally finds the strict maximum of votes. Two or more candidates sharing the
// top count, including "skip" and the all-zero case, produce a tie.
func Tally(votes map[string]int) Outcome {
	top, leaders := 0, []string(nil)
	for _, key := range sortedKeys(votes) {
		n := votes[key]
		switch {
		case leaders == nil || n > top:
			top, leaders = n, []string{key}
		case n == top:
			leaders = append(leaders, key)
		}
	}
	out := Outcome{TopCount: top}
	switch {
	case len(leaders) != 1 || top == 0:
		out.Tie = true
	case leaders[0] == SkipTarget:
		out.Skipped = true
	default:
		out.Eliminated = leaders[0]
	}
	return out
}

// Resolve tallies the current session. A leader that is no longer an alive
// roster member is not eliminated again.
func (g *Game) Resolve() Outcome {
	if g.VoteSession == nil {
		return Outcome{Tie: true}
	}
	out := Tally(g.VoteSession.Votes)
	if out.Eliminated != "" && !g.IsAlive(out.Eliminated) {
		out.Eliminated = ""
	}
	return out
}
