package domain

// NextTurn returns the alive player that follows the current turn holder.
func (g *Game) NextTurn() string {
	return g.NextTurnExcluding("")
}

// NextTurnExcluding is NextTurn but never lands on exclude. The holder index
// defaults to 0 when nobody holds the turn.
func (g *Game) NextTurnExcluding(exclude string) string {
	n := len(g.TurnOrder)
	if n == 0 {
		return ""
	}
	holder, _ := g.TurnHolder()
	idx := indexOf(g.TurnOrder, holder)
	if idx < 0 {
		idx = 0
	}
	for step := 1; step <= n; step++ {
		id := g.TurnOrder[(idx+step)%n]
		if id != exclude && g.IsAlive(id) {
			return id
		}
	}
	return ""
}

// StartingOrder returns the alive players in join order, followed by any
// alive players missing from turnOrder.
func (g *Game) StartingOrder() []string {
	return g.AliveIDs()
}

// TurnFlags maps every roster member to whether it holds the turn after the
// rotation moves to holder. An empty holder clears every flag.
func (g *Game) TurnFlags(holder string) map[string]bool {
	flags := make(map[string]bool, len(g.Players))
	for id := range g.Players {
		flags[id] = id == holder
	}
	return flags
}
