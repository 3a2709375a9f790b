// Package middleware adapts rideauth.Engine to net/http.
//
// # Guards
//
//   - [Guard] verifies the bearer access token and stores the claims on the
//     request context (rideauth.ClaimsFromContext).
//   - [RequireRole] checks the active role against a required role.
//   - [InternalKey] gates service-to-service routes on the shared key header.
//
// # Plumbing
//
//   - [RequestContext] assigns request ids and records the client IP.
//   - [IPRateLimiter] is a per-IP token bucket.
//   - [AccessLog] and [HTTPMetrics] log and count requests.
//
// Every rejection is written with the response envelope. This package makes
// no authentication decisions itself; they are all delegated to the engine.
package middleware
