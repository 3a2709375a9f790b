package rideauth

import "errors"

var (
	// ErrInvalidSignature is returned when a token was tampered with, signed with
	// the wrong key or algorithm, or minted for another issuer or audience.
	ErrInvalidSignature = errors.New("invalid token signature")
	// ErrExpiredToken is returned for a correctly signed token past its expiry.
	ErrExpiredToken = errors.New("token expired")
	// ErrMalformedToken is returned when a token cannot be parsed or its claims
	// are structurally invalid.
	ErrMalformedToken = errors.New("malformed token")
	// ErrInvalidRefreshToken covers unknown, consumed, expired and foreign refresh tokens.
	ErrInvalidRefreshToken = errors.New("invalid refresh token")

	ErrCodeExpired     = errors.New("verification code expired")
	ErrCodeInvalid     = errors.New("verification code invalid")
	ErrCodeAlreadyUsed = errors.New("verification code already used")

	// ErrInvalidProviderToken is returned for any federated token that fails verification.
	ErrInvalidProviderToken = errors.New("invalid provider token")
	// ErrAccountLinkRequired is returned when a federated identity matches an
	// existing account by email but the link policy forbids implicit linking.
	ErrAccountLinkRequired = errors.New("account link required")

	ErrRoleNotAssigned = errors.New("role not assigned")
	ErrForbidden       = errors.New("forbidden")
	ErrUnauthorized    = errors.New("unauthorized")

	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidInput       = errors.New("invalid input")
	ErrRateLimited        = errors.New("rate limited")

	// ErrEmailNotVerified is returned by Login when OTP.RequireVerifiedLogin is
	// set and the account has not completed email verification.
	ErrEmailNotVerified = errors.New("email not verified")

	// ErrNotFound and ErrConflict are the only errors store implementations
	// return for missing rows and uniqueness violations.
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")

	// ErrStoreUnavailable wraps backend failures. It maps to a 5xx response.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrEmailDeliveryFailed is returned together with a valid OTP dispatch when
	// the email sender fails. The code remains usable.
	ErrEmailDeliveryFailed = errors.New("email delivery failed")
	ErrEngineNotReady      = errors.New("engine not initialized")
)
