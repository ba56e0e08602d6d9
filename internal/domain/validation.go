package domain

import (
	"errors"
	"strings"
	"unicode/utf8"
)

// ValidationError marks input rejected before any write is attempted.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

func invalid(reason string) *ValidationError { return &ValidationError{Reason: reason} }

var (
	ErrEmptyMessage      = invalid("message text is empty")
	ErrInvalidPlayerID   = invalid("player id is not usable as a document field")
	ErrInvalidLobbyName  = invalid("lobby name must be 4-15 characters")
	ErrInvalidMaxPlayers = invalid("max players must be between 3 and 8")
	ErrInvalidTopic      = invalid("unknown topic")
	ErrNotHost           = invalid("actor is not the game host")
	ErrCannotKickSelf    = invalid("host cannot kick themself")
	ErrUnknownPlayer     = invalid("player not found")
	ErrNotAlive          = invalid("player is not alive")
	ErrLobbyFull         = invalid("lobby is full")
	ErrGameStarted       = invalid("game already started")
	ErrNotPlaying        = invalid("game is not in playing phase")
	ErrTooFewPlayers     = invalid("not enough players to start")
	ErrNoActiveVote      = invalid("no active vote session")
	ErrNotEligible       = invalid("player is not eligible to vote in this session")
	ErrAlreadyVoted      = invalid("player already voted")
	ErrInvalidTarget     = invalid("vote target is not a candidate")
)

// IsValidation reports whether err carries a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

const (
	MinLobbyNameLen   = 4
	MaxLobbyNameLen   = 15
	MinMaxPlayers     = 3
	MaxMaxPlayers     = 8
	DefaultMaxPlayers = 3
	DefaultTopic      = "Spotify"
	MaxMessageRunes   = 500
)

// DefaultTopics is the prompt category list offered at lobby creation.
var DefaultTopics = []string{
	"Spotify", "Animals", "Pop Singers", "Colors", "Country",
	"Sports", "Movies", "Countries", "Foods", "Everyday Objects",
}

// LobbyOptions is the creation-time configuration of a game.
type LobbyOptions struct {
	LobbyName  string `json:"lobbyName"`
	MaxPlayers int    `json:"maxPlayers"`
	IsPublic   bool   `json:"isPublic"`
	Topic      string `json:"topic"`
}

// Normalize applies defaults and validates the options against the allowed topics.
// An empty topics list falls back to DefaultTopics.
func (o LobbyOptions) Normalize(topics []string) (LobbyOptions, error) {
	o.LobbyName = strings.TrimSpace(o.LobbyName)
	if n := utf8.RuneCountInString(o.LobbyName); n < MinLobbyNameLen || n > MaxLobbyNameLen {
		return o, ErrInvalidLobbyName
	}
	if o.MaxPlayers == 0 {
		o.MaxPlayers = DefaultMaxPlayers
	}
	if o.MaxPlayers < MinMaxPlayers || o.MaxPlayers > MaxMaxPlayers {
		return o, ErrInvalidMaxPlayers
	}
	if o.Topic == "" {
		o.Topic = DefaultTopic
	}
	if len(topics) == 0 {
		topics = DefaultTopics
	}
	if !Contains(topics, o.Topic) {
		return o, ErrInvalidTopic
	}
	return o, nil
}

// ValidatePlayerID rejects ids that would break field paths or collide with the skip option.
func ValidatePlayerID(id string) error {
	if id == "" || strings.Contains(id, ".") || id == SkipTarget {
		return ErrInvalidPlayerID
	}
	return nil
}

// NormalizeMessage trims text and caps its length. Whitespace-only text is rejected.
func NormalizeMessage(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyMessage
	}
	if utf8.RuneCountInString(text) > MaxMessageRunes {
		text = string([]rune(text)[:MaxMessageRunes])
	}
	return text, nil
}
