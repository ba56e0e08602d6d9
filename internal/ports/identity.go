package ports

import "context"

// IdentityPort yields a stable opaque user id for the current device.
type IdentityPort interface {
	// SignInAnonymously returns the signed-in user id, creating one if needed.
	SignInAnonymously(ctx context.Context) (string, error)
	// OnAuthStateChanged registers fn for sign-in changes; an empty id means signed out.
	// The returned func removes the registration.
	OnAuthStateChanged(fn func(userID string)) (unsubscribe func())
}
