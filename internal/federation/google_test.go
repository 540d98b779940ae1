package federation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestGoogleSignatureVerification(t *testing.T) {
	signer := newTestSigner(t, "g-kid-1")
	jwks := httptest.NewServer(jwksHandler(signer))
	defer jwks.Close()

	g := NewGoogle("client-123", jwks.Client(), discardLogger())
	g.jwksURL = jwks.URL
	ctx := context.Background()

	token := signer.sign(t, googleClaims{
		Email:         "user@example.com",
		EmailVerified: true,
		Name:          "Test User",
		Picture:       "https://lh3.example.com/p.jpg",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "https://accounts.google.com",
			Subject:   "sub-1",
			Audience:  jwt.ClaimStrings{"client-123"},
			ExpiresAt: futureDate(),
		},
	})

	identity, err := g.Verify(ctx, token)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if identity.Provider != "google" || identity.Subject != "sub-1" || identity.Email != "user@example.com" {
		t.Fatalf("unexpected identity: %+v", identity)
	}
}

func TestGoogleSignatureRejections(t *testing.T) {
	signer := newTestSigner(t, "g-kid-1")
	jwks := httptest.NewServer(jwksHandler(signer))
	defer jwks.Close()

	g := NewGoogle("client-123", jwks.Client(), discardLogger())
	g.jwksURL = jwks.URL
	ctx := context.Background()

	base := func() googleClaims {
		return googleClaims{
			Email:         "user@example.com",
			EmailVerified: true,
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    "accounts.google.com",
				Subject:   "sub-1",
				Audience:  jwt.ClaimStrings{"client-123"},
				ExpiresAt: futureDate(),
			},
		}
	}

	cases := []struct {
		name   string
		mutate func(*googleClaims)
	}{
		{"wrong audience", func(c *googleClaims) { c.Audience = jwt.ClaimStrings{"other-app"} }},
		{"wrong issuer", func(c *googleClaims) { c.Issuer = "https://evil.example.com" }},
		{"expired", func(c *googleClaims) { c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute)) }},
		{"missing expiry", func(c *googleClaims) { c.ExpiresAt = nil }},
		{"email not verified", func(c *googleClaims) { c.EmailVerified = false }},
		{"missing email", func(c *googleClaims) { c.Email = "" }},
	}
	for _, tc := range cases {
		claims := base()
		tc.mutate(&claims)
		if _, err := g.Verify(ctx, signer.sign(t, claims)); !errors.Is(err, ErrRejected) {
			t.Errorf("%s: expected ErrRejected, got %v", tc.name, err)
		}
	}

	// Token signed by a key outside the JWKS.
	rogue := newTestSigner(t, "g-kid-1")
	claims := base()
	if _, err := g.Verify(ctx, rogue.sign(t, claims)); !errors.Is(err, ErrRejected) {
		t.Fatalf("rogue signature: expected ErrRejected, got %v", err)
	}
}

func TestGoogleTokenInfoFallback(t *testing.T) {
	exp := time.Now().Add(time.Hour).Unix()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("id_token") {
		case "good":
			fmt.Fprintf(w, `{"sub":"sub-9","email":"u@example.com","email_verified":"true","name":"U","exp":"%d"}`, exp)
		case "stale":
			fmt.Fprintf(w, `{"sub":"sub-9","email":"u@example.com","email_verified":"true","exp":"%d"}`, time.Now().Add(-time.Minute).Unix())
		case "unverified":
			fmt.Fprintf(w, `{"sub":"sub-9","email":"u@example.com","email_verified":"false","exp":"%d"}`, exp)
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	defer srv.Close()

	// No client ID configured: tokeninfo path.
	g := NewGoogle("", srv.Client(), discardLogger())
	g.tokenInfoURL = srv.URL
	ctx := context.Background()

	identity, err := g.Verify(ctx, "good")
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if identity.Subject != "sub-9" || identity.Email != "u@example.com" {
		t.Fatalf("unexpected identity: %+v", identity)
	}

	for _, token := range []string{"stale", "unverified", "rejected-upstream"} {
		if _, err := g.Verify(ctx, token); !errors.Is(err, ErrRejected) {
			t.Errorf("%s: expected ErrRejected, got %v", token, err)
		}
	}
}
