package docstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"offbeat/internal/ports"
)

// DefaultMaxAttempts bounds optimistic transaction retries when no setting is given.
const DefaultMaxAttempts = 5

// Retry runs fn until it succeeds, fails with anything other than
// ports.ErrConflict, or attempts run out.
func Retry(ctx context.Context, attempts int, fn func(attempt int) error) error {
	if attempts < 1 {
		attempts = DefaultMaxAttempts
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		err = fn(attempt)
		if err == nil || !errors.Is(err, ports.ErrConflict) {
			return err
		}
		if attempt < attempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Millisecond):
			}
		}
	}
	return fmt.Errorf("transaction failed after %d attempts: %w", attempts, err)
}
