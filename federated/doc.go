// Package federated verifies Google ID tokens and Apple identity tokens.
//
// Tokens are RS256 JWTs checked against the provider's JSON Web Key Set,
// the configured client ids (aud) and the provider's issuer. Every failure
// is reported as ErrInvalidToken; callers never learn which check failed.
// Mapping a verified identity to a local account is the engine's job.
package federated
