package authcore

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/redis/go-redis/v9"

	internalaudit "github.com/averlonhq/authcore/internal/audit"
	"github.com/averlonhq/authcore/internal/federation"
	internalmetrics "github.com/averlonhq/authcore/internal/metrics"
)

// Builder assembles an [Engine]. Construction is allocation-only: no
// network I/O happens until Engine methods run.
type Builder struct {
	config Config
	redis  *redis.Client

	creds   CredentialStore
	devices DeviceStore
	users   UserDirectory
	limiter AttemptLimiter

	httpClient *http.Client
	logger     *slog.Logger
	auditSink  AuditSink

	built bool
}

// New returns a Builder seeded with defaults.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the configuration. The builder keeps a clone.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis supplies the key-value client backing the revocation store.
func (b *Builder) WithRedis(client *redis.Client) *Builder {
	b.redis = client
	return b
}

// WithCredentialStore supplies the MFA credential persistence collaborator.
func (b *Builder) WithCredentialStore(store CredentialStore) *Builder {
	b.creds = store
	return b
}

// WithDeviceStore supplies the trusted-device persistence collaborator.
func (b *Builder) WithDeviceStore(store DeviceStore) *Builder {
	b.devices = store
	return b
}

// WithUserDirectory supplies the account lookup collaborator used by
// enforcement policy.
func (b *Builder) WithUserDirectory(dir UserDirectory) *Builder {
	b.users = dir
	return b
}

// WithAttemptLimiter supplies the external lockout integration. When unset,
// a no-op limiter is used.
func (b *Builder) WithAttemptLimiter(limiter AttemptLimiter) *Builder {
	b.limiter = limiter
	return b
}

// WithHTTPClient supplies the client for outbound provider calls. When the
// client has no timeout of its own, Config.Outbound.Timeout is applied.
func (b *Builder) WithHTTPClient(client *http.Client) *Builder {
	b.httpClient = client
	return b
}

// WithLogger supplies the structured logger. Defaults to [slog.Default].
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithAuditSink supplies the audit event receiver.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// Build validates the configuration, wires defaults, and returns the
// engine. A Builder is single-use.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if err := b.config.Validate(); err != nil {
		return nil, err
	}
	if b.redis == nil {
		return nil, errors.New("redis client is required")
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	httpClient := b.httpClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if httpClient.Timeout == 0 {
		// Copy before mutating: the caller may share the client.
		clone := *httpClient
		clone.Timeout = b.config.Outbound.Timeout
		httpClient = &clone
	}

	limiter := b.limiter
	if limiter == nil {
		limiter = noopLimiter{}
	}

	var dispatcher *internalaudit.Dispatcher
	if b.config.Audit.Enabled {
		dispatcher = internalaudit.NewDispatcher(internalaudit.DispatcherConfig{
			BufferSize: b.config.Audit.BufferSize,
			DropIfFull: b.config.Audit.DropIfFull,
		}, b.auditSink)
	}

	registry := federation.NewRegistry(
		federation.NewGoogle(b.config.Providers.Google.ClientID, httpClient, logger),
		federation.NewFacebook(b.config.Providers.Facebook.AppID, b.config.Providers.Facebook.AppSecret, httpClient),
		federation.NewApple(b.config.Providers.Apple.ClientID, httpClient),
		federation.NewGitHub(httpClient),
	)

	b.built = true
	return &Engine{
		config:     b.config,
		creds:      b.creds,
		devices:    b.devices,
		users:      b.users,
		limiter:    limiter,
		totp:       newTOTPManager(b.config.MFA),
		revocation: newRevocationStore(b.redis, b.config.Revocation.KeyPrefix),
		federation: registry,
		audit:      dispatcher,
		metrics:    internalmetrics.New(internalmetrics.Config{Enabled: b.config.Metrics.Enabled}),
		logger:     logger,
	}, nil
}
