// Package rideauth is the authentication and session core of a ride-hailing
// backend: access/refresh token pairs, email OTPs for verification and
// password reset, Google/Apple sign-in, multi-role accounts with an explicit
// active role, and a shared-secret gate for internal services.
//
// Engine methods are safe for concurrent use after [Builder.Build].
//
// # Architecture boundaries
//
// rideauth owns the types, the store interfaces and the flows. Persistence
// lives in store/ (Redis, Postgres, memory), HTTP plumbing in middleware/,
// response/ and internal/httpapi. Those packages import rideauth, never the
// other way round.
//
// # Consume semantics
//
// Refresh rotation and OTP consumption are atomic compare-and-set operations
// in the store. Exactly one concurrent caller wins; losers see
// [ErrInvalidRefreshToken] or [ErrCodeAlreadyUsed]. A failed verification
// never mutates state.
//
// # Access token verification
//
// VerifyAccessToken is the hot path. It performs no store round-trip: the
// active role travels in the token. A role switch therefore takes effect for
// new tokens only; tokens carrying the previous role stay valid until expiry
// unless the caller also revokes refresh tokens.
package rideauth
