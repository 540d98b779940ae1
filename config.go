package authcore

import (
	"errors"
	"time"

	"github.com/joeshaw/envdecode"
)

// Config carries every tunable the core reads. Instances are treated as
// immutable after Build; the builder stores a clone.
type Config struct {
	MFA        MFAConfig
	Revocation RevocationConfig
	Providers  ProvidersConfig
	Outbound   OutboundConfig
	Audit      AuditConfig
	Metrics    MetricsConfig
}

/*
====================================
MFA CONFIG
====================================
*/

// MFAConfig controls the TOTP codec, backup codes, enforcement policy, and
// the trusted-device ledger.
type MFAConfig struct {
	Issuer    string `env:"AUTHCORE_MFA_ISSUER"`
	Digits    int
	Period    int
	Skew      int
	Algorithm string

	BackupCodeCount int

	// MandatoryRoles lists roles that must have MFA enabled to log in.
	MandatoryRoles []string `env:"AUTHCORE_MFA_MANDATORY_ROLES"`
	// SetupGracePeriod is how long after account creation a mandatory-MFA
	// user may still log in without MFA enabled.
	SetupGracePeriod time.Duration `env:"AUTHCORE_MFA_GRACE_PERIOD"`

	TrustedDevices   bool          `env:"AUTHCORE_MFA_TRUSTED_DEVICES"`
	TrustedDeviceTTL time.Duration `env:"AUTHCORE_MFA_TRUSTED_DEVICE_TTL"`
}

/*
====================================
REVOCATION CONFIG
====================================
*/

// RevocationConfig controls blacklist and invalidation-marker TTLs.
type RevocationConfig struct {
	KeyPrefix string
	// MaxTokenLifetime is a duration string ("30d", "24h", "15m"; units
	// s/m/h/d/w). It must cover the longest-lived token type the host
	// issues so an invalidation marker outlives every token it rejects.
	// Unparseable values fall back to FallbackTTL rather than erroring: a
	// rejected marker write would fail open, an overly long one cannot.
	MaxTokenLifetime string `env:"AUTHCORE_MAX_TOKEN_LIFETIME"`
	FallbackTTL      time.Duration
}

/*
====================================
PROVIDER CONFIG
====================================
*/

// ProvidersConfig holds per-provider credentials. A provider with empty
// configuration either runs a weaker documented fallback (Google) or needs
// none (GitHub).
type ProvidersConfig struct {
	Google   GoogleConfig
	Facebook FacebookConfig
	Apple    AppleConfig
	GitHub   GitHubConfig
}

// GoogleConfig configures ID-token verification. With an empty ClientID the
// verifier falls back to the tokeninfo endpoint, which does not check the
// signature locally and is logged as the weaker path.
type GoogleConfig struct {
	ClientID string `env:"AUTHCORE_GOOGLE_CLIENT_ID"`
}

// FacebookConfig configures debug_token validation. With empty credentials
// only the profile fetch runs.
type FacebookConfig struct {
	AppID     string `env:"AUTHCORE_FACEBOOK_APP_ID"`
	AppSecret string `env:"AUTHCORE_FACEBOOK_APP_SECRET"`
}

// AppleConfig configures Sign in with Apple ID-token verification.
// ClientID is the expected audience (the app's bundle or service ID).
type AppleConfig struct {
	ClientID string `env:"AUTHCORE_APPLE_CLIENT_ID"`
}

// GitHubConfig exists for symmetry; GitHub access-token verification needs
// no pre-registered credentials.
type GitHubConfig struct{}

/*
====================================
OUTBOUND / AMBIENT CONFIG
====================================
*/

// OutboundConfig bounds every call to provider endpoints and is applied to
// the injected HTTP client when that client has no timeout of its own.
type OutboundConfig struct {
	Timeout time.Duration `env:"AUTHCORE_OUTBOUND_TIMEOUT"`
}

// AuditConfig controls the buffered audit dispatcher.
type AuditConfig struct {
	Enabled    bool `env:"AUTHCORE_AUDIT_ENABLED"`
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls the in-process counter table.
type MetricsConfig struct {
	Enabled bool `env:"AUTHCORE_METRICS_ENABLED"`
}

func defaultConfig() Config {
	return Config{
		MFA: MFAConfig{
			Issuer:           "authcore",
			Digits:           6,
			Period:           30,
			Skew:             1,
			Algorithm:        "SHA1",
			BackupCodeCount:  8,
			SetupGracePeriod: 7 * 24 * time.Hour,
			TrustedDevices:   true,
			TrustedDeviceTTL: 30 * 24 * time.Hour,
		},
		Revocation: RevocationConfig{
			KeyPrefix:        "rvk",
			MaxTokenLifetime: "30d",
			FallbackTTL:      30 * 24 * time.Hour,
		},
		Outbound: OutboundConfig{
			Timeout: 10 * time.Second,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.MFA.MandatoryRoles = append([]string(nil), cfg.MFA.MandatoryRoles...)
	return out
}

// ConfigFromEnv starts from defaults and overlays AUTHCORE_* environment
// variables. Unset variables keep their defaults.
func ConfigFromEnv() (Config, error) {
	cfg := defaultConfig()
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the engine cannot run safely with.
func (c Config) Validate() error {
	if c.MFA.Digits < 6 || c.MFA.Digits > 10 {
		return errors.New("mfa digits must be between 6 and 10")
	}
	if c.MFA.Period <= 0 {
		return errors.New("mfa period must be positive")
	}
	if c.MFA.Skew < 0 || c.MFA.Skew > 2 {
		return errors.New("mfa skew must be between 0 and 2 steps")
	}
	if c.MFA.BackupCodeCount <= 0 || c.MFA.BackupCodeCount > 32 {
		return errors.New("backup code count must be between 1 and 32")
	}
	if c.MFA.SetupGracePeriod < 0 {
		return errors.New("mfa grace period must not be negative")
	}
	if c.MFA.TrustedDeviceTTL <= 0 {
		return errors.New("trusted device ttl must be positive")
	}
	if c.Revocation.KeyPrefix == "" {
		return errors.New("revocation key prefix must not be empty")
	}
	if c.Revocation.FallbackTTL <= 0 {
		return errors.New("revocation fallback ttl must be positive")
	}
	if c.Outbound.Timeout <= 0 {
		return errors.New("outbound timeout must be positive")
	}
	return nil
}
