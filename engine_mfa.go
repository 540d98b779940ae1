package authcore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

const backupCodeBytes = 4

// SetupMFA generates a fresh TOTP secret and backup codes for the user and
// stores them in the pending (not enabled) state. The returned plaintext
// backup codes are the only copies that will ever exist; the store keeps
// hashes. Fails with [ErrMFAAlreadyEnabled] when an enabled credential
// exists — setup never silently rotates a live secret.
func (e *Engine) SetupMFA(ctx context.Context, userID string) (*MFASetup, error) {
	if e == nil || e.creds == nil || e.totp == nil {
		return nil, ErrEngineNotReady
	}
	if userID == "" {
		return nil, ErrUserNotFound
	}

	cred, err := e.creds.GetMfaCredential(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if cred != nil && cred.Enabled {
		return nil, ErrMFAAlreadyEnabled
	}

	secret, err := e.totp.GenerateSecret()
	if err != nil {
		return nil, fmt.Errorf("generate totp secret: %w", err)
	}

	plaintext := make([]string, 0, e.config.MFA.BackupCodeCount)
	records := make([]BackupCodeRecord, 0, e.config.MFA.BackupCodeCount)
	for i := 0; i < e.config.MFA.BackupCodeCount; i++ {
		code, err := newBackupCode()
		if err != nil {
			return nil, fmt.Errorf("generate backup code: %w", err)
		}
		plaintext = append(plaintext, code)
		records = append(records, BackupCodeRecord{Hash: backupCodeHash(userID, code)})
	}

	if err := e.creds.UpsertMfaCredential(ctx, &MfaCredential{
		UserID:      userID,
		Secret:      secret,
		BackupCodes: records,
		Enabled:     false,
	}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.metricInc(MetricMFASetupRequested)
	e.emitAudit(ctx, auditEventMFASetupRequested, true, userID, "", "", nil, nil)

	return &MFASetup{
		Secret:          secret,
		ProvisioningURI: e.totp.ProvisionURI(secret, userID),
		BackupCodes:     plaintext,
	}, nil
}

// ConfirmMFASetup verifies the first code against the pending secret and
// flips the credential to enabled. Only this transition sets VerifiedAt.
func (e *Engine) ConfirmMFASetup(ctx context.Context, userID, code string) error {
	if e == nil || e.creds == nil || e.totp == nil {
		return ErrEngineNotReady
	}
	if userID == "" {
		return ErrUserNotFound
	}

	cred, err := e.creds.GetMfaCredential(ctx, userID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if cred == nil || cred.Secret == "" {
		return ErrMFANotSetUp
	}
	if cred.Enabled {
		return ErrMFAAlreadyEnabled
	}

	ok, err := e.totp.VerifyCode(cred.Secret, code, time.Now())
	if err != nil || !ok {
		e.metricInc(MetricChallengeFailure)
		e.emitAudit(ctx, auditEventMFAEnabled, false, userID, "", "", ErrMFAInvalidCode, nil)
		return ErrMFAInvalidCode
	}

	cred.Enabled = true
	cred.VerifiedAt = time.Now()
	if err := e.creds.UpsertMfaCredential(ctx, cred); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.metricInc(MetricMFAEnabled)
	e.emitAudit(ctx, auditEventMFAEnabled, true, userID, "", "", nil, nil)
	return nil
}

// VerifyMFAChallenge checks a login challenge: TOTP first, then the backup
// code list. A matching backup code is consumed atomically and can never be
// replayed. On success with TrustDevice set and a device fingerprint
// supplied, the device is recorded for the configured trust window.
func (e *Engine) VerifyMFAChallenge(ctx context.Context, userID, code string, opts ChallengeOptions) (*ChallengeResult, error) {
	if e == nil || e.creds == nil || e.totp == nil {
		return nil, ErrEngineNotReady
	}
	if userID == "" {
		return nil, ErrUserNotFound
	}

	cred, err := e.creds.GetMfaCredential(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if cred == nil || !cred.Enabled || cred.Secret == "" {
		return nil, ErrMFANotSetUp
	}

	usedBackup, err := e.verifyAnyCode(ctx, cred, code)
	if err != nil {
		e.metricInc(MetricChallengeFailure)
		e.emitAudit(ctx, auditEventMFAChallenge, false, userID, "", opts.DeviceID, err, nil)
		return nil, err
	}

	result := &ChallengeResult{
		Verified:       true,
		UsedBackupCode: usedBackup,
	}
	if usedBackup {
		e.metricInc(MetricBackupCodeUsed)
	}
	e.metricInc(MetricChallengeSuccess)

	if opts.TrustDevice && opts.DeviceID != "" && e.config.MFA.TrustedDevices && e.devices != nil {
		device, err := e.trustDevice(ctx, userID, opts)
		if err != nil {
			// The challenge itself succeeded; a failed trust write only
			// loses the bypass, never the login.
			e.logger.WarnContext(ctx, "trusted device upsert failed", "user_id", userID, "err", err)
		} else {
			result.TrustedDevice = device
		}
	}

	e.emitAudit(ctx, auditEventMFAChallenge, true, userID, "", opts.DeviceID, nil, map[string]string{
		"backup_code": fmt.Sprintf("%t", usedBackup),
	})
	return result, nil
}

// DisableMFA turns MFA off after re-verification. The role policy check
// runs before any code verification so a rejection does not reveal whether
// the submitted code would have been accepted. Disabling clears the secret
// and all backup codes and revokes every trusted device.
func (e *Engine) DisableMFA(ctx context.Context, userID, code string) error {
	if e == nil || e.creds == nil || e.totp == nil {
		return ErrEngineNotReady
	}
	if userID == "" {
		return ErrUserNotFound
	}

	if len(e.config.MFA.MandatoryRoles) > 0 {
		if e.users == nil {
			return ErrEngineNotReady
		}
		user, err := e.users.GetUser(ctx, userID)
		if err != nil {
			return ErrUserNotFound
		}
		if e.roleRequiresMFA(user.Role) {
			e.emitAudit(ctx, auditEventMFADisabled, false, userID, "", "", ErrMFARequiredByRole, nil)
			return ErrMFARequiredByRole
		}
	}

	cred, err := e.creds.GetMfaCredential(ctx, userID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if cred == nil || !cred.Enabled {
		return ErrMFANotSetUp
	}

	if _, err := e.verifyAnyCode(ctx, cred, code); err != nil {
		e.emitAudit(ctx, auditEventMFADisabled, false, userID, "", "", err, nil)
		return err
	}

	cred.Secret = ""
	cred.BackupCodes = nil
	cred.Enabled = false
	cred.VerifiedAt = time.Time{}
	if err := e.creds.UpsertMfaCredential(ctx, cred); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if e.devices != nil {
		if err := e.RevokeAllTrustedDevices(ctx, userID, "mfa disabled"); err != nil {
			e.logger.WarnContext(ctx, "trusted device revocation failed on mfa disable", "user_id", userID, "err", err)
		}
	}

	e.metricInc(MetricMFADisabled)
	e.emitAudit(ctx, auditEventMFADisabled, true, userID, "", "", nil, nil)
	return nil
}

// RegenerateBackupCodes replaces the stored backup codes after the user
// re-verifies with a current code. All previously issued codes stop
// working.
func (e *Engine) RegenerateBackupCodes(ctx context.Context, userID, code string) ([]string, error) {
	if e == nil || e.creds == nil || e.totp == nil {
		return nil, ErrEngineNotReady
	}
	if userID == "" {
		return nil, ErrUserNotFound
	}

	cred, err := e.creds.GetMfaCredential(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if cred == nil || !cred.Enabled || cred.Secret == "" {
		return nil, ErrMFANotSetUp
	}

	if _, err := e.verifyAnyCode(ctx, cred, code); err != nil {
		return nil, err
	}

	plaintext := make([]string, 0, e.config.MFA.BackupCodeCount)
	records := make([]BackupCodeRecord, 0, e.config.MFA.BackupCodeCount)
	for i := 0; i < e.config.MFA.BackupCodeCount; i++ {
		fresh, err := newBackupCode()
		if err != nil {
			return nil, fmt.Errorf("generate backup code: %w", err)
		}
		plaintext = append(plaintext, fresh)
		records = append(records, BackupCodeRecord{Hash: backupCodeHash(userID, fresh)})
	}

	cred.BackupCodes = records
	if err := e.creds.UpsertMfaCredential(ctx, cred); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return plaintext, nil
}

// CheckLoginRequirements is the login gate. Roles outside the mandatory set
// can always log in, with a verification pause when MFA is enabled. A
// mandatory role without MFA gets CanLogin only inside the setup grace
// period measured from account creation; past it the caller receives
// [ErrMFAGracePeriodExpired] so the user can be routed to mandatory setup
// instead of a generic failure.
func (e *Engine) CheckLoginRequirements(ctx context.Context, userID string) (*MfaStatus, error) {
	if e == nil || e.creds == nil || e.users == nil {
		return nil, ErrEngineNotReady
	}
	if userID == "" {
		return nil, ErrUserNotFound
	}

	user, err := e.users.GetUser(ctx, userID)
	if err != nil {
		return nil, ErrUserNotFound
	}

	cred, err := e.creds.GetMfaCredential(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	enabled := cred != nil && cred.Enabled

	if !e.roleRequiresMFA(user.Role) {
		return &MfaStatus{
			CanLogin:             true,
			RequiresVerification: enabled,
		}, nil
	}

	if enabled {
		return &MfaStatus{
			CanLogin:             true,
			RequiresVerification: true,
		}, nil
	}

	graceEnd := user.CreatedAt.Add(e.config.MFA.SetupGracePeriod)
	if time.Now().Before(graceEnd) {
		return &MfaStatus{
			CanLogin:       true,
			RequiresSetup:  true,
			GraceExpiresAt: graceEnd,
		}, nil
	}

	e.emitAudit(ctx, auditEventMFALoginGate, false, userID, "", "", ErrMFAGracePeriodExpired, nil)
	return &MfaStatus{
		CanLogin:       false,
		GraceExpiresAt: graceEnd,
	}, ErrMFAGracePeriodExpired
}

// verifyAnyCode accepts a current TOTP code or an unused backup code, in
// that order, inside the attempt-limiter envelope.
func (e *Engine) verifyAnyCode(ctx context.Context, cred *MfaCredential, code string) (usedBackup bool, err error) {
	if err := e.limiter.Check(ctx, cred.UserID); err != nil {
		if errors.Is(err, ErrMFARateLimited) {
			return false, ErrMFARateLimited
		}
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	ok, err := e.totp.VerifyCode(cred.Secret, code, time.Now())
	if err == nil && ok {
		_ = e.limiter.Reset(ctx, cred.UserID)
		return false, nil
	}

	consumed, err := e.creds.ConsumeBackupCode(ctx, cred.UserID, backupCodeHash(cred.UserID, code))
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if consumed {
		_ = e.limiter.Reset(ctx, cred.UserID)
		return true, nil
	}

	if recErr := e.limiter.RecordFailure(ctx, cred.UserID); recErr != nil && errors.Is(recErr, ErrMFARateLimited) {
		return false, ErrMFARateLimited
	}
	return false, ErrMFAInvalidCode
}

func (e *Engine) roleRequiresMFA(role string) bool {
	for _, r := range e.config.MFA.MandatoryRoles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

func newBackupCode() (string, error) {
	raw := make([]byte, backupCodeBytes)
	if _, err := randRead(raw); err != nil {
		return "", err
	}
	return strings.ToUpper(hex.EncodeToString(raw)), nil
}

// backupCodeHash salts with the user ID so equal codes issued to different
// users never share a stored hash. Comparison is case-insensitive via
// canonicalization.
func backupCodeHash(userID, code string) [32]byte {
	canonical := strings.ToUpper(strings.TrimSpace(code))
	return sha256.Sum256([]byte(userID + ":" + canonical))
}
