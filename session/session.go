// Package session keeps server-side login sessions. A session is an opaque
// random token mapped to a user id.
package session

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned for unknown, revoked or expired tokens.
var ErrNotFound = errors.New("session not found")

// Store persists sessions.
type Store interface {
	// Create starts a session for userID and returns its token.
	Create(ctx context.Context, userID int64) (string, error)
	// Lookup returns the user behind token.
	Lookup(ctx context.Context, token string) (int64, error)
	// Delete ends one session. Unknown tokens are ignored.
	Delete(ctx context.Context, token string) error
	// DeleteUser ends every session of userID.
	DeleteUser(ctx context.Context, userID int64) error
	Close() error
}

func newToken() string { return uuid.NewString() }
