// Package internal holds helpers private to rideauth: OTP generation and
// hashing. Sub-packages carry the audit dispatcher, the Redis rate limiter,
// identifiers, logging and the HTTP API.
package internal
