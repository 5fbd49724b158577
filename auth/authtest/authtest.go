// Package authtest provides trivial Authenticator implementations for tests
// and development environments.
package authtest

import (
	"context"

	"github.com/ggoodman/streamguard-go/auth"
)

// NoAuth is a test authenticator that accepts every token.
type NoAuth struct {
	UserID string
}

// NewNoAuth creates a NoAuth authenticator. If userID is empty, it defaults
// to "test-user".
func NewNoAuth(userID string) *NoAuth {
	if userID == "" {
		userID = "test-user"
	}
	return &NoAuth{UserID: userID}
}

// CheckAuthentication implements auth.Authenticator.
func (n *NoAuth) CheckAuthentication(ctx context.Context, tok string) (auth.UserInfo, error) {
	return &noAuthUserInfo{userID: n.UserID}, nil
}

type noAuthUserInfo struct {
	userID string
}

func (n *noAuthUserInfo) UserID() string { return n.userID }

func (n *noAuthUserInfo) Claims(ref any) error { return nil }

var _ auth.Authenticator = (*NoAuth)(nil)
