package ports

import "context"

// AccountPort reads and writes the player-facing profile of an account.
type AccountPort interface {
	// UpdateProfile sets the account's username and display name.
	UpdateProfile(ctx context.Context, userID, username, displayName string) error
	// DisplayName returns the account's display name, or "" when none is set.
	DisplayName(ctx context.Context, userID string) (string, error)
}
