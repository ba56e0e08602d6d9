package ports

import (
	"context"

	"offbeat/internal/domain"
)

// TrackPort fetches a player's favourite tracks from the linked music service.
type TrackPort interface {
	// GetTopTracks returns up to limit tracks for the account that owns token.
	GetTopTracks(ctx context.Context, token string, limit int) ([]domain.Track, error)
}
