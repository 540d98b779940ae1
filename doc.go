// Package authcore implements the authentication security core of a platform:
// TOTP-based multi-factor authentication, distributed token revocation, and
// federated identity token verification, behind one [Engine] built through
// [Builder.Build].
//
// The package is designed for concurrent server workloads: Engine methods are
// safe to call from multiple goroutines after initialization. There is no
// in-process long-lived state beyond a 24-hour cache of Apple's public key
// set; everything else lives in the caller-supplied stores.
//
// # Architecture boundaries
//
// authcore is the public surface. It exposes [Engine], [Builder], [Config],
// collaborator interfaces ([CredentialStore], [DeviceStore], [UserDirectory],
// [AttemptLimiter]) and value types (MFASetup, VerifiedIdentity, MfaStatus).
// Provider strategies, audit dispatch, and metrics live under internal/ and
// are never exported. The JWK-to-RSA converter is the public subpackage
// [github.com/averlonhq/authcore/jwk] because provider integrations outside
// this module need it too.
//
// # What this package must NOT do
//
//   - Persist raw TOTP codes, raw bearer tokens, or plaintext backup codes.
//   - Implement password hashing, token issuance, rate-limit algorithms, or
//     HTTP routing. Those are collaborators behind narrow interfaces.
//   - Fail open: a revocation check that cannot reach its store reports the
//     token as revoked, and a provider verification that cannot complete
//     reports failure.
package authcore
