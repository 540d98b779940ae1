package authcore

import "errors"

var (
	// ErrEngineNotReady is returned when an Engine method is called before
	// Build wired the dependency that method needs.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrUserNotFound is returned when the user directory has no record for
	// the requested user ID.
	ErrUserNotFound = errors.New("user not found")

	// ErrMFAAlreadyEnabled is returned by SetupMFA when the user already has
	// an enabled credential; setup must not silently rotate a live secret.
	ErrMFAAlreadyEnabled = errors.New("mfa already enabled")
	// ErrMFANotSetUp is returned when a confirm or challenge runs against a
	// user with no pending or enabled credential.
	ErrMFANotSetUp = errors.New("mfa not set up")
	// ErrMFAInvalidCode is returned when neither the TOTP code nor any
	// remaining backup code matches. User-correctable.
	ErrMFAInvalidCode = errors.New("invalid mfa code")
	// ErrMFARequiredByRole is returned by DisableMFA when the user's role is
	// in the mandatory-MFA set. Checked before code verification so the
	// response does not reveal whether the code would have been accepted.
	ErrMFARequiredByRole = errors.New("role requires mfa")
	// ErrMFAGracePeriodExpired is returned by CheckLoginRequirements when a
	// mandatory-MFA account outlived its setup grace period without
	// enabling MFA. Distinct from a generic auth failure so callers can
	// route the user to mandatory setup.
	ErrMFAGracePeriodExpired = errors.New("mfa setup grace period expired")
	// ErrMFARateLimited is surfaced when the attempt-limiter collaborator
	// rejects further code verification for the user.
	ErrMFARateLimited = errors.New("mfa attempts rate limited")

	// ErrProviderVerification is the single error class for every federated
	// verification failure, regardless of internal cause.
	ErrProviderVerification = errors.New("provider token verification failed")

	// ErrStoreUnavailable is returned for write operations when a backing
	// store cannot be reached, so callers know a logout or disable may not
	// have taken effect. Read paths on the revocation store never return
	// it; they fail closed instead.
	ErrStoreUnavailable = errors.New("backing store unavailable")
)
