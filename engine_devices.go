package authcore

import (
	"context"
	"fmt"
	"time"
)

// IsTrustedDevice reports whether the device may bypass the MFA challenge.
// A granted bypass refreshes LastUsedAt and UseCount but never extends
// ExpiresAt: trust is re-earned only by passing a challenge. The check is a
// pure bypass signal and returns false for any missing, inactive, expired,
// or revoked record, and whenever the feature is disabled by configuration.
func (e *Engine) IsTrustedDevice(ctx context.Context, userID, deviceID string) (bool, error) {
	if e == nil || e.devices == nil {
		return false, ErrEngineNotReady
	}
	if !e.config.MFA.TrustedDevices {
		return false, nil
	}
	if userID == "" || deviceID == "" {
		return false, nil
	}

	device, err := e.devices.GetTrustedDevice(ctx, userID, deviceID)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if device == nil || !device.Active || !device.ExpiresAt.After(time.Now()) {
		return false, nil
	}

	device.LastUsedAt = time.Now()
	device.UseCount++
	if err := e.devices.UpdateTrustedDevice(ctx, device); err != nil {
		// The bypass decision stands; the usage stamp is best-effort.
		e.logger.WarnContext(ctx, "trusted device usage update failed", "user_id", userID, "err", err)
	}

	e.metricInc(MetricDeviceBypass)
	e.emitAudit(ctx, auditEventDeviceBypass, true, userID, "", deviceID, nil, nil)
	return true, nil
}

// RevokeTrustedDevice deactivates one device. Revoking an already-revoked
// or unknown device is a no-op success.
func (e *Engine) RevokeTrustedDevice(ctx context.Context, userID, deviceID, reason string) error {
	if e == nil || e.devices == nil {
		return ErrEngineNotReady
	}
	if userID == "" || deviceID == "" {
		return nil
	}

	device, err := e.devices.GetTrustedDevice(ctx, userID, deviceID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if device == nil || !device.Active {
		return nil
	}

	if err := e.revokeDevice(ctx, device, reason); err != nil {
		return err
	}
	e.emitAudit(ctx, auditEventDeviceRevoked, true, userID, "", deviceID, nil, map[string]string{"reason": reason})
	return nil
}

// RevokeAllTrustedDevices deactivates every active device for the user.
func (e *Engine) RevokeAllTrustedDevices(ctx context.Context, userID, reason string) error {
	if e == nil || e.devices == nil {
		return ErrEngineNotReady
	}
	if userID == "" {
		return nil
	}

	devices, err := e.devices.ListTrustedDevices(ctx, userID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	for i := range devices {
		if !devices[i].Active {
			continue
		}
		if err := e.revokeDevice(ctx, &devices[i], reason); err != nil {
			return err
		}
	}

	e.emitAudit(ctx, auditEventDeviceRevoked, true, userID, "", "", nil, map[string]string{
		"reason": reason,
		"scope":  "all",
	})
	return nil
}

func (e *Engine) revokeDevice(ctx context.Context, device *TrustedDevice, reason string) error {
	device.Active = false
	device.RevokedAt = time.Now()
	device.RevokeReason = reason
	if err := e.devices.UpdateTrustedDevice(ctx, device); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	e.metricInc(MetricDeviceRevoked)
	return nil
}

// trustDevice upserts the ledger entry after a successful challenge. The
// expiry is always reset here and only here.
func (e *Engine) trustDevice(ctx context.Context, userID string, opts ChallengeOptions) (*TrustedDevice, error) {
	label := opts.DeviceLabel
	if label == "" {
		label = userAgentFromContext(ctx)
	}

	now := time.Now()
	device := &TrustedDevice{
		UserID:     userID,
		DeviceID:   opts.DeviceID,
		Label:      label,
		ExpiresAt:  now.Add(e.config.MFA.TrustedDeviceTTL),
		Active:     true,
		LastUsedAt: now,
	}
	if err := e.devices.UpsertTrustedDevice(ctx, device); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.metricInc(MetricDeviceTrusted)
	e.emitAudit(ctx, auditEventDeviceTrusted, true, userID, "", opts.DeviceID, nil, nil)
	return device, nil
}
