package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	keyfunc "github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// JWKSConfig controls validation of JWT access tokens against a statically
// configured issuer, audiences and JWKS URI.
type JWKSConfig struct {
	Issuer string
	// ExpectedAudiences contains the audiences a token may carry; a token
	// is accepted when its aud claim intersects this set.
	ExpectedAudiences []string
	AllowedAlgs       []string
	Leeway            time.Duration
}

type jwksAuthenticator struct {
	cfg     *JWKSConfig
	keyfunc jwt.Keyfunc
}

// NewJWKS constructs an Authenticator that validates RFC 9068-shaped JWT
// access tokens using keys fetched (and auto-refreshed) from jwksURI.
func NewJWKS(ctx context.Context, cfg *JWKSConfig, jwksURI string) (Authenticator, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if cfg.Issuer == "" {
		return nil, errors.New("issuer is required")
	}
	if len(cfg.ExpectedAudiences) == 0 {
		return nil, errors.New("at least one expected audience required")
	}
	if jwksURI == "" {
		return nil, errors.New("jwks uri required")
	}
	if len(cfg.AllowedAlgs) == 0 {
		cfg.AllowedAlgs = []string{"RS256"}
	}
	if cfg.Leeway == 0 {
		cfg.Leeway = 60 * time.Second
	}

	kf, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURI})
	if err != nil {
		return nil, fmt.Errorf("jwks init failed: %w", err)
	}

	return &jwksAuthenticator{cfg: cfg, keyfunc: func(t *jwt.Token) (any, error) {
		alg := t.Method.Alg()
		allowed := false
		for _, a := range cfg.AllowedAlgs {
			if alg == a {
				allowed = true
				break
			}
		}
		if !allowed {
			return nil, fmt.Errorf("disallowed alg: %s", alg)
		}
		return kf.Keyfunc(t)
	}}, nil
}

// CheckAuthentication implements Authenticator.
func (a *jwksAuthenticator) CheckAuthentication(ctx context.Context, tok string) (UserInfo, error) {
	if tok == "" {
		return nil, fmt.Errorf("%w: empty token", ErrUnauthorized)
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods(a.cfg.AllowedAlgs),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(a.cfg.Issuer),
		jwt.WithLeeway(a.cfg.Leeway),
	)
	parsed, err := parser.Parse(tok, a.keyfunc)
	if err != nil {
		return nil, fmt.Errorf("%w: token parse/verify failed: %v", ErrUnauthorized, err)
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: invalid claims type", ErrUnauthorized)
	}
	if !audIntersects(claims["aud"], a.cfg.ExpectedAudiences) {
		return nil, fmt.Errorf("%w: audience mismatch", ErrUnauthorized)
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, fmt.Errorf("%w: missing sub", ErrUnauthorized)
	}
	return &userInfo{sub: sub, claims: claims}, nil
}

type userInfo struct {
	sub    string
	claims map[string]any
}

func (u *userInfo) UserID() string { return u.sub }

func (u *userInfo) Claims(ref any) error {
	b, err := json.Marshal(u.claims)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, ref)
}

// audIntersects reports whether the aud claim (string or array form) shares
// a member with the expected set.
func audIntersects(aud any, wants []string) bool {
	wantSet := map[string]struct{}{}
	for _, w := range wants {
		wantSet[w] = struct{}{}
	}
	switch v := aud.(type) {
	case string:
		_, ok := wantSet[v]
		return ok
	case []any:
		for _, e := range v {
			if s, ok := e.(string); ok {
				if _, ok2 := wantSet[s]; ok2 {
					return true
				}
			}
		}
	case []string:
		for _, s := range v {
			if _, ok := wantSet[s]; ok {
				return true
			}
		}
	}
	return false
}

var _ Authenticator = (*jwksAuthenticator)(nil)
