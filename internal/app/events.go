package app

import "offbeat/internal/domain"

// EventKind identifies emitted domain events for Nakama dispatch.
type EventKind string

const (
	EventGameCreated      EventKind = "game_created"
	EventPlayerJoined     EventKind = "player_joined"
	EventPlayerLeft       EventKind = "player_left"
	EventPlayerKicked     EventKind = "player_kicked"
	EventTracksLinked     EventKind = "tracks_linked"
	EventMessageSent      EventKind = "message_sent"
	EventGameStarted      EventKind = "game_started"
	EventSongSelected     EventKind = "song_selected"
	EventTurnAdvanced     EventKind = "turn_advanced"
	EventCallVoteToggled  EventKind = "call_vote_toggled"
	EventVoteStarted      EventKind = "vote_started"
	EventVoteCast         EventKind = "vote_cast"
	EventVoteResolved     EventKind = "vote_resolved"
	EventPlayerEliminated EventKind = "player_eliminated"
	EventGameEnded        EventKind = "game_ended"
)

// Event is a domain/app event with optional targeted recipients.
type Event struct {
	Kind       EventKind
	GameID     string
	Payload    any
	Recipients []string // user IDs; empty means broadcast
}

type PlayerPayload struct {
	UserID string
	Name   string
}

type MessageSentPayload struct {
	Message domain.Message
}

type GameStartedPayload struct {
	TurnOrder       []string
	FirstTurnUserID string
}

type SongSelectedPayload struct {
	Song domain.Song
}

type TurnAdvancedPayload struct {
	FromUserID string
	ToUserID   string
}

type CallVotePayload struct {
	UserID  string
	Calling bool
	Count   int
}

type VoteStartedPayload struct {
	Candidates []string
}

type VoteCastPayload struct {
	VoterID    string
	EndReached bool
}

type VoteResolvedPayload struct {
	Outcome domain.Outcome
	Forced  bool
}

// Kinds lists the kinds of evs in order, for logging.
func Kinds(evs []Event) []EventKind {
	out := make([]EventKind, len(evs))
	for i, ev := range evs {
		out[i] = ev.Kind
	}
	return out
}
