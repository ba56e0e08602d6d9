package app

import (
	"context"
	"fmt"

	"offbeat/internal/domain"
	"offbeat/internal/ports"
)

// SendMessage appends a chat message with an atomic array union. Blank text is
// rejected before any write. A message from the turn holder also passes the turn;
// a failure to pass it is logged and does not fail the send.
func (s *Service) SendMessage(ctx context.Context, gameID, senderID, senderName, text string) (domain.Message, []Event, error) {
	if err := requireCaller(senderID); err != nil {
		return domain.Message{}, nil, err
	}
	text, err := domain.NormalizeMessage(text)
	if err != nil {
		return domain.Message{}, nil, err
	}

	msg := domain.Message{
		ID:         s.newID(),
		SenderID:   senderID,
		SenderName: senderName,
		Text:       text,
	}
	if err := s.store.Update(ctx, gameID, ports.ArrayUnion(domain.FieldMessages, msg)); err != nil {
		return domain.Message{}, nil, fmt.Errorf("send message %s: %w", gameID, err)
	}
	events := []Event{{Kind: EventMessageSent, GameID: gameID, Payload: MessageSentPayload{Message: msg}}}

	turnEvents, err := s.AdvanceTurnFrom(ctx, gameID, senderID)
	if err != nil {
		s.log.Warn("turn pass after message in %s failed: %v", gameID, err)
		return msg, events, nil
	}
	return msg, append(events, turnEvents...), nil
}
