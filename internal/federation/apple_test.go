package federation

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func appleClaimsFor(audience, email string) appleClaims {
	return appleClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "https://appleid.apple.com",
			Subject:   "apple-sub-1",
			Audience:  jwt.ClaimStrings{audience},
			ExpiresAt: futureDate(),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
}

func TestAppleVerify(t *testing.T) {
	signer := newTestSigner(t, "apple-k1")
	srv := httptest.NewServer(jwksHandler(signer))
	defer srv.Close()

	a := NewApple("com.example.app", srv.Client())
	a.keysURL = srv.URL
	ctx := context.Background()

	// First authorization carries the email.
	identity, err := a.Verify(ctx, signer.sign(t, appleClaimsFor("com.example.app", "real@example.com")))
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if identity.Subject != "apple-sub-1" || identity.Email != "real@example.com" {
		t.Fatalf("unexpected identity: %+v", identity)
	}

	// Subsequent logins omit the email; the placeholder keeps the mapping
	// stable.
	identity, err = a.Verify(ctx, signer.sign(t, appleClaimsFor("com.example.app", "")))
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if identity.Email != "apple-sub-1@privaterelay.appleid.com" {
		t.Fatalf("unexpected placeholder email: %q", identity.Email)
	}
}

func TestAppleRejections(t *testing.T) {
	signer := newTestSigner(t, "apple-k1")
	srv := httptest.NewServer(jwksHandler(signer))
	defer srv.Close()

	a := NewApple("com.example.app", srv.Client())
	a.keysURL = srv.URL
	ctx := context.Background()

	wrongAud := signer.sign(t, appleClaimsFor("com.other.app", "x@example.com"))
	if _, err := a.Verify(ctx, wrongAud); !errors.Is(err, ErrRejected) {
		t.Fatalf("wrong audience: expected ErrRejected, got %v", err)
	}

	claims := appleClaimsFor("com.example.app", "x@example.com")
	claims.Issuer = "https://evil.example.com"
	if _, err := a.Verify(ctx, signer.sign(t, claims)); !errors.Is(err, ErrRejected) {
		t.Fatalf("wrong issuer: expected ErrRejected, got %v", err)
	}

	claims = appleClaimsFor("com.example.app", "x@example.com")
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	if _, err := a.Verify(ctx, signer.sign(t, claims)); !errors.Is(err, ErrRejected) {
		t.Fatalf("expired: expected ErrRejected, got %v", err)
	}

	if _, err := a.Verify(ctx, "not-a-jwt"); !errors.Is(err, ErrRejected) {
		t.Fatalf("garbage token: expected ErrRejected, got %v", err)
	}

	unconfigured := NewApple("", srv.Client())
	if _, err := unconfigured.Verify(ctx, "anything"); !errors.Is(err, ErrRejected) {
		t.Fatalf("missing audience config: expected ErrRejected, got %v", err)
	}
}

func TestAppleKeyRotationForcesSingleRefetch(t *testing.T) {
	oldSigner := newTestSigner(t, "apple-old")
	newSigner := newTestSigner(t, "apple-new")

	var fetches atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// First fetch serves the old key, later fetches the rotated one.
		if fetches.Add(1) == 1 {
			jwksHandler(oldSigner)(w, r)
			return
		}
		jwksHandler(newSigner)(w, r)
	}))
	defer srv.Close()

	a := NewApple("com.example.app", srv.Client())
	a.keysURL = srv.URL
	ctx := context.Background()

	if _, err := a.Verify(ctx, oldSigner.sign(t, appleClaimsFor("com.example.app", "x@example.com"))); err != nil {
		t.Fatalf("first verify failed: %v", err)
	}
	if got := fetches.Load(); got != 1 {
		t.Fatalf("expected 1 fetch, got %d", got)
	}

	// A token under the rotated kid misses the cache and triggers exactly
	// one re-fetch.
	if _, err := a.Verify(ctx, newSigner.sign(t, appleClaimsFor("com.example.app", "x@example.com"))); err != nil {
		t.Fatalf("post-rotation verify failed: %v", err)
	}
	if got := fetches.Load(); got != 2 {
		t.Fatalf("expected 2 fetches, got %d", got)
	}
}

func TestAppleUnknownKidFailsAfterOneRefetch(t *testing.T) {
	signer := newTestSigner(t, "apple-k1")
	var fetches atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		jwksHandler(signer)(w, r)
	}))
	defer srv.Close()

	a := NewApple("com.example.app", srv.Client())
	a.keysURL = srv.URL
	ctx := context.Background()

	// Warm the cache.
	if _, err := a.Verify(ctx, signer.sign(t, appleClaimsFor("com.example.app", "x@example.com"))); err != nil {
		t.Fatalf("warmup verify failed: %v", err)
	}

	rogue := newTestSigner(t, "apple-unknown")
	if _, err := a.Verify(ctx, rogue.sign(t, appleClaimsFor("com.example.app", "x@example.com"))); !errors.Is(err, ErrRejected) {
		t.Fatalf("unknown kid: expected ErrRejected, got %v", err)
	}
	if got := fetches.Load(); got != 2 {
		t.Fatalf("expected exactly one re-fetch (2 total), got %d", got)
	}
}

func TestAppleServesFromCacheWithinWindow(t *testing.T) {
	signer := newTestSigner(t, "apple-k1")
	var fetches atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		jwksHandler(signer)(w, r)
	}))
	defer srv.Close()

	a := NewApple("com.example.app", srv.Client())
	a.keysURL = srv.URL
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := a.Verify(ctx, signer.sign(t, appleClaimsFor("com.example.app", "x@example.com"))); err != nil {
			t.Fatalf("verify %d failed: %v", i, err)
		}
	}
	if got := fetches.Load(); got != 1 {
		t.Fatalf("expected a single fetch for a fresh cache, got %d", got)
	}
}
