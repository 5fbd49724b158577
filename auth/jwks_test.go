package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
)

func genRSA(t *testing.T) (*rsa.PrivateKey, string, []byte) {
	t.Helper()
	pk, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("gen key: %v", err)
	}
	kid := "test-key"
	jwk := jose.JSONWebKey{Key: &pk.PublicKey, KeyID: kid, Algorithm: "RS256", Use: "sig"}
	set := struct {
		Keys []jose.JSONWebKey `json:"keys"`
	}{Keys: []jose.JSONWebKey{jwk}}
	b, err := json.Marshal(set)
	if err != nil {
		t.Fatalf("marshal jwks: %v", err)
	}
	return pk, kid, b
}

func newJWKSServer(t *testing.T, keysJSON []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(keysJSON)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func signToken(t *testing.T, pk *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = kid
	tok.Header["typ"] = "at+jwt"
	s, err := tok.SignedString(pk)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func TestJWKSAuthenticator_HappyPath(t *testing.T) {
	pk, kid, jwks := genRSA(t)
	srv := newJWKSServer(t, jwks)

	const issuer = "https://issuer.example.com"
	const aud = "https://relay.example.com/streams"

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := NewJWKS(ctx, &JWKSConfig{
		Issuer:            issuer,
		ExpectedAudiences: []string{aud},
	}, srv.URL)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	now := time.Now()
	tok := signToken(t, pk, kid, jwt.MapClaims{
		"iss":   issuer,
		"sub":   "user-123",
		"aud":   aud,
		"exp":   now.Add(time.Hour).Unix(),
		"iat":   now.Unix(),
		"scope": "streams:read",
	})

	ui, err := a.CheckAuthentication(ctx, tok)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if ui.UserID() != "user-123" {
		t.Fatalf("want sub user-123, got %s", ui.UserID())
	}

	var out struct {
		Scope string `json:"scope"`
	}
	if err := ui.Claims(&out); err != nil {
		t.Fatalf("claims: %v", err)
	}
	if out.Scope != "streams:read" {
		t.Fatalf("scope roundtrip mismatch: %q", out.Scope)
	}
}

func TestJWKSAuthenticator_AudienceArray(t *testing.T) {
	pk, kid, jwks := genRSA(t)
	srv := newJWKSServer(t, jwks)

	const issuer = "https://issuer.example.com"
	const aud = "https://relay.example.com/streams"

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := NewJWKS(ctx, &JWKSConfig{
		Issuer:            issuer,
		ExpectedAudiences: []string{aud},
	}, srv.URL)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	now := time.Now()
	tok := signToken(t, pk, kid, jwt.MapClaims{
		"iss": issuer,
		"sub": "user-123",
		"aud": []string{"https://other", aud},
		"exp": now.Add(time.Hour).Unix(),
		"iat": now.Unix(),
	})

	if _, err := a.CheckAuthentication(ctx, tok); err != nil {
		t.Fatalf("check: %v", err)
	}
}

func TestJWKSAuthenticator_Rejections(t *testing.T) {
	pk, kid, jwks := genRSA(t)
	srv := newJWKSServer(t, jwks)

	const issuer = "https://issuer.example.com"
	const aud = "https://relay.example.com/streams"

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := NewJWKS(ctx, &JWKSConfig{
		Issuer:            issuer,
		ExpectedAudiences: []string{aud},
		Leeway:            time.Second,
	}, srv.URL)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	now := time.Now()
	cases := []struct {
		name   string
		claims jwt.MapClaims
	}{
		{"wrong audience", jwt.MapClaims{
			"iss": issuer, "sub": "u", "aud": "https://elsewhere",
			"exp": now.Add(time.Hour).Unix(), "iat": now.Unix(),
		}},
		{"wrong issuer", jwt.MapClaims{
			"iss": "https://rogue", "sub": "u", "aud": aud,
			"exp": now.Add(time.Hour).Unix(), "iat": now.Unix(),
		}},
		{"expired", jwt.MapClaims{
			"iss": issuer, "sub": "u", "aud": aud,
			"exp": now.Add(-time.Hour).Unix(), "iat": now.Add(-2 * time.Hour).Unix(),
		}},
		{"missing sub", jwt.MapClaims{
			"iss": issuer, "aud": aud,
			"exp": now.Add(time.Hour).Unix(), "iat": now.Unix(),
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tok := signToken(t, pk, kid, tc.claims)
			if _, err := a.CheckAuthentication(ctx, tok); !errors.Is(err, ErrUnauthorized) {
				t.Fatalf("want ErrUnauthorized, got %v", err)
			}
		})
	}

	t.Run("empty token", func(t *testing.T) {
		if _, err := a.CheckAuthentication(ctx, ""); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("want ErrUnauthorized, got %v", err)
		}
	})
}

func TestBearerTokenAuthenticator(t *testing.T) {
	a, err := NewBearerToken("sekrit", "svc-relay")
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	ui, err := a.CheckAuthentication(context.Background(), "sekrit")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if want, got := "svc-relay", ui.UserID(); want != got {
		t.Fatalf("want user %q, got %q", want, got)
	}

	if _, err := a.CheckAuthentication(context.Background(), "nope"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized, got %v", err)
	}

	if _, err := NewBearerToken("", ""); err == nil {
		t.Fatalf("want error for empty secret")
	}
}
