package auth

import (
	"context"
	"sync"

	"offbeat/internal/ports"

	"github.com/google/uuid"
)

// Anonymous is an in-process identity provider: the first sign-in mints a
// random user id that stays stable until SignOut.
type Anonymous struct {
	mu        sync.Mutex
	userID    string
	nextToken int
	listeners map[int]func(string)
}

// NewAnonymous creates a signed-out provider. A non-empty userID restores a
// previous session.
func NewAnonymous(userID string) *Anonymous {
	return &Anonymous{userID: userID, listeners: map[int]func(string){}}
}

// SignInAnonymously returns the current user id, minting one when signed out.
func (a *Anonymous) SignInAnonymously(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	a.mu.Lock()
	if a.userID != "" {
		id := a.userID
		a.mu.Unlock()
		return id, nil
	}
	a.userID = uuid.NewString()
	id, fns := a.userID, a.snapshotLocked()
	a.mu.Unlock()

	for _, fn := range fns {
		fn(id)
	}
	return id, nil
}

// SignOut forgets the user id and notifies listeners with "".
func (a *Anonymous) SignOut() {
	a.mu.Lock()
	if a.userID == "" {
		a.mu.Unlock()
		return
	}
	a.userID = ""
	fns := a.snapshotLocked()
	a.mu.Unlock()

	for _, fn := range fns {
		fn("")
	}
}

// OnAuthStateChanged calls fn with the current id and on every later change.
func (a *Anonymous) OnAuthStateChanged(fn func(userID string)) func() {
	a.mu.Lock()
	token := a.nextToken
	a.nextToken++
	a.listeners[token] = fn
	current := a.userID
	a.mu.Unlock()

	fn(current)
	return func() {
		a.mu.Lock()
		delete(a.listeners, token)
		a.mu.Unlock()
	}
}

func (a *Anonymous) snapshotLocked() []func(string) {
	fns := make([]func(string), 0, len(a.listeners))
	for _, fn := range a.listeners {
		fns = append(fns, fn)
	}
	return fns
}

var _ ports.IdentityPort = (*Anonymous)(nil)
