package authcore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// tokenClaims is the unverified-claim view revocation works with. The
// signature is deliberately not checked: blacklisting must keep working for
// tokens whose signing secret has since rotated.
type tokenClaims struct {
	ID        string
	Subject   string
	ExpiresAt time.Time
	IssuedAt  time.Time
}

// BlacklistToken records the token as revoked for exactly its remaining
// validity. An already-expired token needs no entry; the call is still a
// success. A token that cannot be decoded at all is keyed by its hash with
// the maximum token lifetime, since its expiry is unknowable.
//
// Write failures surface as [ErrStoreUnavailable] so callers know a logout
// may not have taken effect.
func (e *Engine) BlacklistToken(ctx context.Context, rawToken string) error {
	if e == nil || e.revocation == nil {
		return ErrEngineNotReady
	}
	if rawToken == "" {
		return nil
	}

	now := time.Now()
	key := tokenHashKey(rawToken)
	ttl := e.maxTokenLifetime()
	record := &blacklistRecord{BlacklistedAt: now.Unix()}

	if claims, err := decodeTokenClaims(rawToken); err == nil {
		if claims.ID != "" {
			key = claims.ID
		}
		record.UserID = claims.Subject
		if !claims.ExpiresAt.IsZero() {
			record.ExpiresAt = claims.ExpiresAt.Unix()
			ttl = claims.ExpiresAt.Sub(now)
			if ttl <= 0 {
				return nil
			}
		}
	}

	if err := e.revocation.SaveEntry(ctx, key, record, ttl); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.metricInc(MetricTokenBlacklisted)
	e.emitAudit(ctx, auditEventTokenBlacklisted, true, record.UserID, "", "", nil, nil)
	return nil
}

// IsTokenBlacklisted is the revocation gate. It returns true when the token
// is individually blacklisted, when its user invalidated all tokens after
// it was issued, or when the decision cannot be made at all — an
// unreadable token or an unreachable store fails closed, never open.
func (e *Engine) IsTokenBlacklisted(ctx context.Context, rawToken string) bool {
	if e == nil || e.revocation == nil {
		return true
	}

	claims, err := decodeTokenClaims(rawToken)
	if err != nil {
		e.metricInc(MetricBlacklistFailClosed)
		return true
	}

	key := claims.ID
	if key == "" {
		key = tokenHashKey(rawToken)
	}
	found, err := e.revocation.HasEntry(ctx, key)
	if err != nil {
		e.logger.WarnContext(ctx, "revocation check failed closed", "err", err)
		e.metricInc(MetricBlacklistFailClosed)
		return true
	}
	if found {
		e.metricInc(MetricBlacklistHit)
		return true
	}

	if claims.Subject == "" {
		return false
	}
	invalidatedAt, ok, err := e.revocation.Marker(ctx, claims.Subject)
	if err != nil {
		e.logger.WarnContext(ctx, "invalidation marker check failed closed", "err", err)
		e.metricInc(MetricBlacklistFailClosed)
		return true
	}
	if !ok {
		return false
	}
	// A token without an iat cannot be placed relative to the boundary;
	// with a marker present it is rejected.
	if claims.IssuedAt.IsZero() || claims.IssuedAt.Before(invalidatedAt) {
		e.metricInc(MetricBlacklistHit)
		return true
	}
	return false
}

// InvalidateAllTokens writes the user's invalidation marker at now. Every
// token issued before this instant is rejected from here on, without
// enumerating tokens. The marker lives as long as the longest-lived token
// type so it outlives anything it must reject; a newer marker simply
// overwrites an older one.
func (e *Engine) InvalidateAllTokens(ctx context.Context, userID string) error {
	if e == nil || e.revocation == nil {
		return ErrEngineNotReady
	}
	if userID == "" {
		return ErrUserNotFound
	}

	record := &invalidationRecord{InvalidatedAt: time.Now().Unix()}
	if err := e.revocation.SaveMarker(ctx, userID, record, e.maxTokenLifetime()); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.metricInc(MetricUserInvalidated)
	e.emitAudit(ctx, auditEventUserInvalidated, true, userID, "", "", nil, nil)
	return nil
}

// ClearInvalidation deletes the user's marker. Tokens issued before the old
// boundary stay rejected only if individually blacklisted; the clear does
// not retroactively validate them against any future marker.
func (e *Engine) ClearInvalidation(ctx context.Context, userID string) error {
	if e == nil || e.revocation == nil {
		return ErrEngineNotReady
	}
	if userID == "" {
		return ErrUserNotFound
	}

	if err := e.revocation.DeleteMarker(ctx, userID); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.emitAudit(ctx, auditEventInvalidationClear, true, userID, "", "", nil, nil)
	return nil
}

// RevocationStats counts live blacklist entries and invalidation markers.
// Informational only — it scans keys and must stay off correctness paths.
func (e *Engine) RevocationStats(ctx context.Context) (*BlacklistStats, error) {
	if e == nil || e.revocation == nil {
		return nil, ErrEngineNotReady
	}

	tokens, users, err := e.revocation.Counts(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return &BlacklistStats{
		BlacklistedTokens: tokens,
		InvalidatedUsers:  users,
	}, nil
}

func (e *Engine) maxTokenLifetime() time.Duration {
	return parseLifetime(e.config.Revocation.MaxTokenLifetime, e.config.Revocation.FallbackTTL)
}

func decodeTokenClaims(rawToken string) (*tokenClaims, error) {
	registered := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(rawToken, registered); err != nil {
		return nil, err
	}

	out := &tokenClaims{
		ID:      registered.ID,
		Subject: registered.Subject,
	}
	if registered.ExpiresAt != nil {
		out.ExpiresAt = registered.ExpiresAt.Time
	}
	if registered.IssuedAt != nil {
		out.IssuedAt = registered.IssuedAt.Time
	}
	return out, nil
}

func tokenHashKey(rawToken string) string {
	sum := sha256.Sum256([]byte(rawToken))
	return hex.EncodeToString(sum[:])
}
