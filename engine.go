package authcore

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	internalaudit "github.com/averlonhq/authcore/internal/audit"
	"github.com/averlonhq/authcore/internal/federation"
)

// Engine is the authentication security core. Instances are built once via
// [Builder.Build] and are immutable afterwards; all methods are safe for
// concurrent use.
type Engine struct {
	config Config

	creds      CredentialStore
	devices    DeviceStore
	users      UserDirectory
	limiter    AttemptLimiter
	totp       *totpManager
	revocation *revocationStore
	federation *federation.Registry
	audit      *internalaudit.Dispatcher
	metrics    *Metrics
	logger     *slog.Logger
}

// Close releases background resources (the audit dispatcher). The engine
// must not be used after Close.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports how many audit events were discarded because the
// dispatch buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a point-in-time copy of all engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}
	return e.metrics.SnapshotNow()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) emitAudit(ctx context.Context, eventType string, success bool, userID, provider, deviceID string, err error, meta map[string]string) {
	if e == nil || e.audit == nil {
		return
	}

	event := internalaudit.Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		EventType: eventType,
		UserID:    userID,
		Provider:  provider,
		DeviceID:  deviceID,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  meta,
	}
	if err != nil {
		event.Error = err.Error()
	}

	e.audit.Emit(ctx, event)
}

const (
	auditEventMFASetupRequested = "mfa.setup.requested"
	auditEventMFAEnabled        = "mfa.enabled"
	auditEventMFADisabled       = "mfa.disabled"
	auditEventMFAChallenge      = "mfa.challenge"
	auditEventMFALoginGate      = "mfa.login_gate"
	auditEventTokenBlacklisted  = "revocation.token_blacklisted"
	auditEventUserInvalidated   = "revocation.user_invalidated"
	auditEventInvalidationClear = "revocation.user_invalidation_cleared"
	auditEventFederatedVerify   = "federation.verify"
	auditEventDeviceTrusted     = "device.trusted"
	auditEventDeviceBypass      = "device.bypass"
	auditEventDeviceRevoked     = "device.revoked"
)

// noopLimiter is the default AttemptLimiter: lockout integration is the
// host's responsibility and absence must not block verification.
type noopLimiter struct{}

func (noopLimiter) Check(context.Context, string) error         { return nil }
func (noopLimiter) RecordFailure(context.Context, string) error { return nil }
func (noopLimiter) Reset(context.Context, string) error         { return nil }
