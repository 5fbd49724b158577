// Package auth defines the bearer-token authentication contract used by the
// relayhttp transport, plus two self-contained implementations: JWT access
// tokens validated against a static JWKS endpoint, and a shared-secret
// token for internal deployments.
package auth

import (
	"context"
	"errors"
)

// ErrUnauthorized indicates authentication failed or no valid credentials
// were supplied.
var ErrUnauthorized = errors.New("unauthorized")

// UserInfo represents an authenticated principal. Implementations should be
// lightweight and safe for concurrent use.
type UserInfo interface {
	// UserID returns the unique identifier for the user.
	UserID() string
	// Claims unmarshals the user's claims into the provided struct reference.
	Claims(ref any) error
}

// Authenticator validates bearer tokens and returns associated user info.
// It should return ErrUnauthorized for invalid credentials.
type Authenticator interface {
	CheckAuthentication(ctx context.Context, tok string) (UserInfo, error)
}
