package authcore

import "context"

// VerifyFederatedToken turns an opaque third-party token into a verified,
// normalized identity claim. Every failure — unknown provider, transport
// error, signature mismatch, policy rejection — surfaces as the single
// [ErrProviderVerification] so callers cannot be used to probe which
// specific check failed; the internal cause goes to the debug log only.
func (e *Engine) VerifyFederatedToken(ctx context.Context, provider, rawToken string) (*VerifiedIdentity, error) {
	if e == nil || e.federation == nil {
		return nil, ErrEngineNotReady
	}

	identity, err := e.federation.Verify(ctx, provider, rawToken)
	if err != nil {
		e.logger.DebugContext(ctx, "federated verification rejected", "provider", provider, "cause", err)
		e.metricInc(MetricFederatedFailure)
		e.emitAudit(ctx, auditEventFederatedVerify, false, "", provider, "", ErrProviderVerification, nil)
		return nil, ErrProviderVerification
	}

	e.metricInc(MetricFederatedSuccess)
	e.emitAudit(ctx, auditEventFederatedVerify, true, "", identity.Provider, "", nil, map[string]string{
		"subject": identity.Subject,
	})

	return &VerifiedIdentity{
		Provider:    identity.Provider,
		Subject:     identity.Subject,
		Email:       identity.Email,
		DisplayName: identity.DisplayName,
		AvatarURL:   identity.AvatarURL,
	}, nil
}

// FederatedProviders lists the provider names the engine can dispatch to.
func (e *Engine) FederatedProviders() []string {
	if e == nil || e.federation == nil {
		return nil
	}
	return e.federation.Providers()
}
