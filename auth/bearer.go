package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
)

// NewBearerToken returns an Authenticator that accepts exactly one shared
// secret, compared in constant time. Intended for internal relays where a
// full token issuer is overkill. All accepted requests map to userID.
func NewBearerToken(secret, userID string) (Authenticator, error) {
	if secret == "" {
		return nil, errors.New("secret is required")
	}
	if userID == "" {
		userID = "bearer-user"
	}
	return &bearerAuthenticator{secret: []byte(secret), userID: userID}, nil
}

type bearerAuthenticator struct {
	secret []byte
	userID string
}

func (a *bearerAuthenticator) CheckAuthentication(ctx context.Context, tok string) (UserInfo, error) {
	if subtle.ConstantTimeCompare([]byte(tok), a.secret) != 1 {
		return nil, fmt.Errorf("%w: token mismatch", ErrUnauthorized)
	}
	return &staticUser{id: a.userID}, nil
}

type staticUser struct {
	id string
}

func (u *staticUser) UserID() string { return u.id }
func (u *staticUser) Claims(ref any) error { return nil }

var _ Authenticator = (*bearerAuthenticator)(nil)
