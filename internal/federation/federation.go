package federation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Identity is the normalized claim every provider strategy produces.
type Identity struct {
	Provider    string
	Subject     string
	Email       string
	DisplayName string
	AvatarURL   string
}

// Verifier turns an opaque third-party token into a verified Identity.
// Implementations are state-free apart from key caches and must treat the
// network as untrusted: explicit timeouts, explicit status-code checks, no
// retries.
type Verifier interface {
	Name() string
	Verify(ctx context.Context, rawToken string) (*Identity, error)
}

// ErrRejected covers every verification failure inside this package. The
// wrapping message carries the internal cause for logs; the root package
// collapses it further so callers only ever observe one error class.
var ErrRejected = errors.New("federation: token rejected")

// Registry dispatches by provider name. Adding a provider means adding one
// Verifier at construction, not editing dispatch internals.
type Registry struct {
	verifiers map[string]Verifier
}

func NewRegistry(verifiers ...Verifier) *Registry {
	r := &Registry{verifiers: make(map[string]Verifier, len(verifiers))}
	for _, v := range verifiers {
		r.verifiers[strings.ToLower(v.Name())] = v
	}
	return r
}

// Verify dispatches to the named provider's strategy.
func (r *Registry) Verify(ctx context.Context, provider, rawToken string) (*Identity, error) {
	v, ok := r.verifiers[strings.ToLower(strings.TrimSpace(provider))]
	if !ok {
		return nil, fmt.Errorf("%w: unknown provider %q", ErrRejected, provider)
	}
	if strings.TrimSpace(rawToken) == "" {
		return nil, fmt.Errorf("%w: empty token", ErrRejected)
	}
	return v.Verify(ctx, rawToken)
}

// Providers lists the registered provider names.
func (r *Registry) Providers() []string {
	out := make([]string, 0, len(r.verifiers))
	for name := range r.verifiers {
		out = append(out, name)
	}
	return out
}

const maxProviderResponseBytes = 1 << 20

// getJSON performs a GET with the given headers and decodes a JSON body,
// enforcing a 2xx status and a 1 MiB response cap.
func getJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRejected, err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRejected, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: endpoint returned %d", ErrRejected, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProviderResponseBytes))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRejected, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %v", ErrRejected, err)
	}
	return nil
}
