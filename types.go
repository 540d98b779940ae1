package authcore

import (
	"context"
	"io"
	"time"

	internalaudit "github.com/averlonhq/authcore/internal/audit"
	internalmetrics "github.com/averlonhq/authcore/internal/metrics"
)

// MfaCredential is the per-user MFA record held by a [CredentialStore].
// At most one exists per user. Invariant: Enabled implies Secret != "".
// Disabling clears Secret and BackupCodes; no recovery state is retained.
type MfaCredential struct {
	UserID      string
	Secret      string // base32, present while pending or enabled
	BackupCodes []BackupCodeRecord
	Enabled     bool
	VerifiedAt  time.Time
}

// BackupCodeRecord stores the SHA-256 hash of a single backup code.
// The plaintext is never persisted.
type BackupCodeRecord struct {
	Hash [32]byte
}

// TrustedDevice records a client fingerprint permitted to bypass the MFA
// challenge until ExpiresAt. A successful bypass refreshes LastUsedAt and
// UseCount but never extends ExpiresAt.
type TrustedDevice struct {
	UserID       string
	DeviceID     string
	Label        string
	ExpiresAt    time.Time
	Active       bool
	LastUsedAt   time.Time
	UseCount     int64
	RevokedAt    time.Time
	RevokeReason string
}

// UserRecord is the minimal account view the core needs from the host
// application: role for enforcement policy and creation time for the setup
// grace period.
type UserRecord struct {
	UserID    string
	Role      string
	CreatedAt time.Time
}

// CredentialStore is the persistence collaborator for [MfaCredential].
// Lookups return (nil, nil) when no credential exists.
type CredentialStore interface {
	GetMfaCredential(ctx context.Context, userID string) (*MfaCredential, error)
	UpsertMfaCredential(ctx context.Context, cred *MfaCredential) error
	// ConsumeBackupCode removes the code with the given hash from the
	// stored list as a single atomic read-modify-write and reports whether
	// it was present. Two concurrent calls with the same hash must not
	// both return true.
	ConsumeBackupCode(ctx context.Context, userID string, hash [32]byte) (bool, error)
}

// DeviceStore is the persistence collaborator for [TrustedDevice].
// Lookups return (nil, nil) when no record exists.
type DeviceStore interface {
	GetTrustedDevice(ctx context.Context, userID, deviceID string) (*TrustedDevice, error)
	UpsertTrustedDevice(ctx context.Context, device *TrustedDevice) error
	UpdateTrustedDevice(ctx context.Context, device *TrustedDevice) error
	ListTrustedDevices(ctx context.Context, userID string) ([]TrustedDevice, error)
}

// UserDirectory resolves user IDs to the minimal [UserRecord] view.
type UserDirectory interface {
	GetUser(ctx context.Context, userID string) (UserRecord, error)
}

// AttemptLimiter integrates an external lockout/brute-force detector around
// MFA code verification. The core never implements the algorithm itself:
// Check runs before verification, RecordFailure after a miss, Reset after a
// hit. A Check error wrapping [ErrMFARateLimited] blocks the attempt.
type AttemptLimiter interface {
	Check(ctx context.Context, userID string) error
	RecordFailure(ctx context.Context, userID string) error
	Reset(ctx context.Context, userID string) error
}

// MFASetup is returned by [Engine.SetupMFA]. BackupCodes are the only
// plaintext copies that will ever exist.
type MFASetup struct {
	Secret          string
	ProvisioningURI string
	BackupCodes     []string
}

// ChallengeOptions control the trusted-device side effect of a successful
// [Engine.VerifyMFAChallenge].
type ChallengeOptions struct {
	TrustDevice bool
	DeviceID    string
	DeviceLabel string
}

// ChallengeResult is returned by [Engine.VerifyMFAChallenge].
type ChallengeResult struct {
	Verified       bool
	UsedBackupCode bool
	TrustedDevice  *TrustedDevice
}

// MfaStatus is the login-gate decision from [Engine.CheckLoginRequirements].
// Exactly one of the Requires flags is set when CanLogin is true and the
// user's role mandates MFA.
type MfaStatus struct {
	CanLogin             bool
	RequiresVerification bool
	RequiresSetup        bool
	GraceExpiresAt       time.Time
}

// VerifiedIdentity is the normalized claim produced by every federated
// provider strategy, so callers are provider-agnostic.
type VerifiedIdentity struct {
	Provider    string
	Subject     string
	Email       string
	DisplayName string
	AvatarURL   string
}

// BlacklistStats is an operational snapshot from [Engine.RevocationStats].
// It is informational only; no correctness path depends on it.
type BlacklistStats struct {
	BlacklistedTokens int64
	InvalidatedUsers  int64
}

// AuditEvent is a structured audit record emitted by the engine.
type AuditEvent = internalaudit.Event

// AuditSink receives [AuditEvent] values from the engine's audit dispatcher.
type AuditSink = internalaudit.Sink

// NoOpSink is an [AuditSink] that silently discards all events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink is a buffered channel-based [AuditSink].
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink is an [AuditSink] that writes JSON-encoded events to an
// [io.Writer], one object per line.
type JSONWriterSink = internalaudit.JSONWriterSink

// NewChannelSink creates a [ChannelSink] with the given buffer capacity.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink creates a [JSONWriterSink] that writes to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

// MetricID identifies a counter in the in-process metrics system.
type MetricID = internalmetrics.MetricID

const (
	// MetricMFASetupRequested counts SetupMFA calls that issued a secret.
	MetricMFASetupRequested = internalmetrics.MetricMFASetupRequested
	// MetricMFAEnabled counts successful ConfirmMFASetup calls.
	MetricMFAEnabled = internalmetrics.MetricMFAEnabled
	// MetricMFADisabled counts successful DisableMFA calls.
	MetricMFADisabled = internalmetrics.MetricMFADisabled
	// MetricChallengeSuccess counts accepted MFA challenges.
	MetricChallengeSuccess = internalmetrics.MetricChallengeSuccess
	// MetricChallengeFailure counts rejected MFA challenges.
	MetricChallengeFailure = internalmetrics.MetricChallengeFailure
	// MetricBackupCodeUsed counts challenges satisfied by a backup code.
	MetricBackupCodeUsed = internalmetrics.MetricBackupCodeUsed
	// MetricTokenBlacklisted counts blacklist writes.
	MetricTokenBlacklisted = internalmetrics.MetricTokenBlacklisted
	// MetricBlacklistHit counts revocation checks that rejected a token.
	MetricBlacklistHit = internalmetrics.MetricBlacklistHit
	// MetricBlacklistFailClosed counts revocation checks rejected because
	// the store or the token itself could not be read.
	MetricBlacklistFailClosed = internalmetrics.MetricBlacklistFailClosed
	// MetricUserInvalidated counts InvalidateAllTokens calls.
	MetricUserInvalidated = internalmetrics.MetricUserInvalidated
	// MetricFederatedSuccess counts successful provider verifications.
	MetricFederatedSuccess = internalmetrics.MetricFederatedSuccess
	// MetricFederatedFailure counts failed provider verifications.
	MetricFederatedFailure = internalmetrics.MetricFederatedFailure
	// MetricDeviceTrusted counts trusted-device upserts.
	MetricDeviceTrusted = internalmetrics.MetricDeviceTrusted
	// MetricDeviceBypass counts MFA bypasses granted to trusted devices.
	MetricDeviceBypass = internalmetrics.MetricDeviceBypass
	// MetricDeviceRevoked counts trusted-device revocations.
	MetricDeviceRevoked = internalmetrics.MetricDeviceRevoked
)

// Metrics holds atomic counters for the engine.
type Metrics = internalmetrics.Metrics

// MetricsSnapshot is a point-in-time copy of all counters.
type MetricsSnapshot = internalmetrics.Snapshot
