package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Status is the lifecycle phase of a game document.
type Status string

const (
	StatusWaiting Status = "waiting"
	StatusPlaying Status = "playing"
)

// SkipTarget is the synthetic vote option that never eliminates anyone.
const SkipTarget = "skip"

// NoSongName is written to song when no player linked any tracks.
const NoSongName = "No song"

// Document field names. These are shared with every other client of the store.
const (
	FieldHostID       = "hostId"
	FieldLobbyName    = "lobbyName"
	FieldTopic        = "topic"
	FieldMaxPlayers   = "maxPlayers"
	FieldIsPublic     = "isPublic"
	FieldStatus       = "status"
	FieldPlayers      = "players"
	FieldMessages     = "messages"
	FieldTurnOrder    = "turnOrder"
	FieldCallVoteList = "callVoteList"
	FieldCallVote     = "callVote"
	FieldVoteSession  = "voteSession"
	FieldSong         = "song"

	FieldName      = "name"
	FieldAlive     = "alive"
	FieldIsTurn    = "isTurn"
	FieldTopTracks = "topTracks"

	FieldActive = "active"
	FieldVotes  = "votes"
	FieldVoted  = "voted"
)

// Game is the shared document for a single match.
type Game struct {
	ID           string             `json:"-"`
	HostID       string             `json:"hostId"`
	LobbyName    string             `json:"lobbyName"`
	Topic        string             `json:"topic"`
	MaxPlayers   int                `json:"maxPlayers"`
	IsPublic     bool               `json:"isPublic"`
	Status       Status             `json:"status"`
	Players      map[string]*Player `json:"players"`
	Messages     []Message          `json:"messages"`
	TurnOrder    []string           `json:"turnOrder"`
	CallVoteList []string           `json:"callVoteList"`
	CallVote     int                `json:"callVote"`
	VoteSession  *VoteSession       `json:"voteSession,omitempty"`
	Song         *Song              `json:"song,omitempty"`
}

// Player is a roster entry keyed by player id.
type Player struct {
	Name      string  `json:"name"`
	Alive     bool    `json:"alive"`
	IsTurn    bool    `json:"isTurn,omitempty"`
	TopTracks []Track `json:"topTracks,omitempty"`
}

// Message is an immutable chat entry.
type Message struct {
	ID         string `json:"id"`
	SenderID   string `json:"senderId"`
	SenderName string `json:"senderName"`
	Text       string `json:"text"`
}

// VoteSession tracks a single round of elimination voting.
type VoteSession struct {
	Active bool            `json:"active"`
	Votes  map[string]int  `json:"votes"`
	Voted  map[string]bool `json:"voted"`
}

// Track is the track descriptor supplied by the music provider.
type Track struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Artist []string `json:"artist"`
	Image  string   `json:"image"`
}

// Song is the track chosen once per game.
type Song struct {
	Name       string `json:"name"`
	Artist     string `json:"artist"`
	AlbumCover string `json:"albumCover"`
}

// IsPlaceholder reports whether the song is the "No song" sentinel.
func (s Song) IsPlaceholder() bool {
	return s.Name == NoSongName && s.Artist == "" && s.AlbumCover == ""
}

// SongFromTrack converts a provider track into the stored song shape.
func SongFromTrack(t Track) Song {
	return Song{
		Name:       t.Name,
		Artist:     strings.Join(t.Artist, ", "),
		AlbumCover: t.Image,
	}
}

// PlaceholderSong returns the sentinel written when no tracks are available.
func PlaceholderSong() Song {
	return Song{Name: NoSongName}
}

// PlayerPath builds a field path into a player entry, e.g. players.<id>.alive.
func PlayerPath(playerID string, field ...string) string {
	parts := append([]string{FieldPlayers, playerID}, field...)
	return strings.Join(parts, ".")
}

// VotePath builds a field path into the active vote session.
func VotePath(field string, key ...string) string {
	parts := append([]string{FieldVoteSession, field}, key...)
	return strings.Join(parts, ".")
}

// DecodeGame converts a generic document body into a Game.
func DecodeGame(id string, data map[string]any) (*Game, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode document %s: %w", id, err)
	}
	var g Game
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, fmt.Errorf("decode game %s: %w", id, err)
	}
	g.ID = id
	if g.Players == nil {
		g.Players = map[string]*Player{}
	}
	return &g, nil
}

// Document converts the game into a generic document body.
func (g *Game) Document() (map[string]any, error) {
	raw, err := json.Marshal(g)
	if err != nil {
		return nil, fmt.Errorf("encode game %s: %w", g.ID, err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode document %s: %w", g.ID, err)
	}
	return doc, nil
}

// IsHost reports whether playerID created the game.
func (g *Game) IsHost(playerID string) bool {
	return playerID != "" && g.HostID == playerID
}

// Player returns the roster entry for id, or nil.
func (g *Game) Player(id string) *Player {
	if g.Players == nil {
		return nil
	}
	return g.Players[id]
}

// IsAlive reports whether id is a present, alive roster member.
func (g *Game) IsAlive(id string) bool {
	p := g.Player(id)
	return p != nil && p.Alive
}

// AliveIDs lists alive roster members, in turn order first, then any others sorted by id.
func (g *Game) AliveIDs() []string {
	seen := make(map[string]bool, len(g.Players))
	out := make([]string, 0, len(g.Players))
	for _, id := range g.TurnOrder {
		if !seen[id] && g.IsAlive(id) {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, id := range sortedKeys(g.Players) {
		if !seen[id] && g.IsAlive(id) {
			out = append(out, id)
		}
	}
	return out
}

// AliveCount returns the number of alive roster members.
func (g *Game) AliveCount() int {
	n := 0
	for _, p := range g.Players {
		if p != nil && p.Alive {
			n++
		}
	}
	return n
}

// TurnHolder returns the player currently flagged with isTurn.
func (g *Game) TurnHolder() (string, bool) {
	for _, id := range g.TurnOrder {
		if p := g.Player(id); p != nil && p.IsTurn {
			return id, true
		}
	}
	for _, id := range sortedKeys(g.Players) {
		if g.Players[id] != nil && g.Players[id].IsTurn {
			return id, true
		}
	}
	return "", false
}

// HasActiveVote reports whether a vote session is in progress.
func (g *Game) HasActiveVote() bool {
	return g.VoteSession != nil && g.VoteSession.Active
}

// IsFull reports whether the roster has reached maxPlayers.
func (g *Game) IsFull() bool {
	return g.MaxPlayers > 0 && len(g.Players) >= g.MaxPlayers
}

// IsJoinable reports whether the game should appear in the public lobby browser.
func (g *Game) IsJoinable() bool {
	return g.Status == StatusWaiting && g.IsPublic && !g.IsFull()
}
