package app

import "time"

// MinPlayersToStartGame is the default number of alive players required to start.
const MinPlayersToStartGame = 1

// DefaultTurnDuration is how long a player holds the turn before the local timer passes it on.
const DefaultTurnDuration = 30 * time.Second

// createAttempts bounds game code collisions during CreateGame.
const createAttempts = 10

const (
	// defaultLobbyListLimit applies when Settings.LobbyListLimit is unset.
	defaultLobbyListLimit = 100
	// lobbyWindowGrowth and maxLobbyWindowFactor bound the over-fetch that
	// skips full lobbies in ListLobbies.
	lobbyWindowGrowth    = 4
	maxLobbyWindowFactor = 16
)
