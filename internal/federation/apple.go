package federation

import (
	"context"
	"crypto/rsa"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/averlonhq/authcore/jwk"
)

const (
	appleKeysURL   = "https://appleid.apple.com/auth/keys"
	appleIssuer    = "https://appleid.apple.com"
	appleKeyMaxAge = 24 * time.Hour
)

type appleClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Apple verifies Sign in with Apple ID tokens. Apple's public key set is
// fetched with a process-wide 24-hour cache; an unknown kid forces exactly
// one re-fetch before the token is rejected, covering mid-window key
// rotation. Subsequent-login tokens carry no email, so a stable placeholder
// is synthesized from the subject claim to keep the identity mapping stable.
type Apple struct {
	audience string
	client   *http.Client

	keysURL string

	mu        sync.Mutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
}

func NewApple(audience string, client *http.Client) *Apple {
	return &Apple{
		audience: audience,
		client:   client,
		keysURL:  appleKeysURL,
	}
}

func (a *Apple) Name() string { return "apple" }

func (a *Apple) Verify(ctx context.Context, rawToken string) (*Identity, error) {
	if a.audience == "" {
		return nil, fmt.Errorf("%w: apple client id not configured", ErrRejected)
	}

	kid, err := tokenKid(rawToken)
	if err != nil {
		return nil, err
	}

	pub, err := a.keyForKid(ctx, kid)
	if err != nil {
		return nil, err
	}

	claims := &appleClaims{}
	_, err = jwt.ParseWithClaims(rawToken, claims,
		func(*jwt.Token) (any, error) { return pub, nil },
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithIssuer(appleIssuer),
		jwt.WithAudience(a.audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: apple id token: %v", ErrRejected, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: apple token missing subject", ErrRejected)
	}

	email := claims.Email
	if email == "" {
		// Apple only delivers the email on the first authorization. The
		// placeholder is derived from the subject so the same person maps
		// to the same account on every subsequent login.
		email = claims.Subject + "@privaterelay.appleid.com"
	}

	return &Identity{
		Provider: "apple",
		Subject:  claims.Subject,
		Email:    email,
	}, nil
}

// keyForKid serves from the cache when fresh, and on a miss forces one
// re-fetch before giving up. Concurrent cache-miss fetches are serialized by
// the mutex; a few redundant outbound calls across processes are tolerable.
func (a *Apple) keyForKid(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.keys != nil && time.Since(a.fetchedAt) < appleKeyMaxAge {
		if pub, ok := a.keys[kid]; ok {
			return pub, nil
		}
	}

	if err := a.fetchKeysLocked(ctx); err != nil {
		return nil, err
	}
	if pub, ok := a.keys[kid]; ok {
		return pub, nil
	}
	return nil, fmt.Errorf("%w: apple signing key %q not found", ErrRejected, kid)
}

func (a *Apple) fetchKeysLocked(ctx context.Context) error {
	var set jwk.Set
	if err := getJSON(ctx, a.client, a.keysURL, nil, &set); err != nil {
		return fmt.Errorf("apple keys: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, k := range set.Keys {
		pub, err := k.PublicKey()
		if err != nil {
			// A single malformed entry must not poison the whole set.
			continue
		}
		keys[k.Kid] = pub
	}
	if len(keys) == 0 {
		return fmt.Errorf("%w: apple key set empty", ErrRejected)
	}

	a.keys = keys
	a.fetchedAt = time.Now()
	return nil
}

func tokenKid(rawToken string) (string, error) {
	token, _, err := jwt.NewParser().ParseUnverified(rawToken, jwt.MapClaims{})
	if err != nil {
		return "", fmt.Errorf("%w: apple token header: %v", ErrRejected, err)
	}
	kid, _ := token.Header["kid"].(string)
	if kid == "" {
		return "", fmt.Errorf("%w: apple token missing kid", ErrRejected)
	}
	return kid, nil
}
