// Package response writes the uniform JSON envelope every endpoint returns
// and maps rideauth errors to HTTP status codes and stable error codes.
package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/MrEthical07/rideauth"
)

// Code is the machine-readable error code carried by failed responses.
type Code string

const (
	CodeUnauthorized        Code = "UNAUTHORIZED"
	CodeForbidden           Code = "FORBIDDEN"
	CodeValidation          Code = "VALIDATION_ERROR"
	CodeNotFound            Code = "NOT_FOUND"
	CodeConflict            Code = "CONFLICT"
	CodeTokenExpired        Code = "TOKEN_EXPIRED"
	CodeInvalidRefreshToken Code = "INVALID_REFRESH_TOKEN"
	CodeOTPExpired          Code = "OTP_EXPIRED"
	CodeOTPInvalid          Code = "OTP_INVALID"
	CodeOTPAlreadyUsed      Code = "OTP_ALREADY_USED"
	CodeRoleNotAssigned     Code = "ROLE_NOT_ASSIGNED"
	CodeAccountLinkRequired Code = "ACCOUNT_LINK_REQUIRED"
	CodeEmailNotVerified    Code = "EMAIL_NOT_VERIFIED"
	CodeRateLimited         Code = "RATE_LIMIT_EXCEEDED"
	CodeServiceUnavailable  Code = "SERVICE_UNAVAILABLE"
	CodeInternal            Code = "INTERNAL_ERROR"
)

// Envelope is the body of every response.
type Envelope struct {
	Success   bool       `json:"success"`
	Message   string     `json:"message"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorBody `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

type ErrorBody struct {
	Code    Code `json:"code"`
	Details any  `json:"details,omitempty"`
}

// Now is the clock used for envelope timestamps.
var Now = func() time.Time { return time.Now().UTC() }

// OK writes a success envelope.
func OK(w http.ResponseWriter, status int, message string, data any) {
	write(w, status, Envelope{
		Success:   true,
		Message:   message,
		Data:      data,
		Timestamp: Now(),
	})
}

// Fail writes a failure envelope with an explicit status and code.
func Fail(w http.ResponseWriter, status int, code Code, message string, details any) {
	write(w, status, Envelope{
		Success:   false,
		Message:   message,
		Error:     &ErrorBody{Code: code, Details: details},
		Timestamp: Now(),
	})
}

// Error maps err with StatusFor and writes the failure envelope. Unknown
// errors become a 500 with a generic message; their text is never sent.
func Error(w http.ResponseWriter, err error) {
	status, code, message := StatusFor(err)
	if status == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", "60")
	}
	Fail(w, status, code, message, nil)
}

// StatusFor returns the HTTP status, envelope code and client message for err.
func StatusFor(err error) (int, Code, string) {
	switch {
	case err == nil:
		return http.StatusOK, "", ""
	case errors.Is(err, rideauth.ErrExpiredToken):
		return http.StatusUnauthorized, CodeTokenExpired, "access token expired"
	case errors.Is(err, rideauth.ErrInvalidSignature),
		errors.Is(err, rideauth.ErrMalformedToken),
		errors.Is(err, rideauth.ErrUnauthorized):
		return http.StatusUnauthorized, CodeUnauthorized, "unauthorized"
	case errors.Is(err, rideauth.ErrInvalidCredentials):
		return http.StatusUnauthorized, CodeUnauthorized, "invalid email or password"
	case errors.Is(err, rideauth.ErrInvalidProviderToken):
		return http.StatusUnauthorized, CodeUnauthorized, "invalid provider token"
	case errors.Is(err, rideauth.ErrInvalidRefreshToken):
		return http.StatusUnauthorized, CodeInvalidRefreshToken, "invalid refresh token"
	case errors.Is(err, rideauth.ErrCodeExpired):
		return http.StatusBadRequest, CodeOTPExpired, "verification code expired"
	case errors.Is(err, rideauth.ErrCodeInvalid):
		return http.StatusBadRequest, CodeOTPInvalid, "verification code invalid"
	case errors.Is(err, rideauth.ErrCodeAlreadyUsed):
		return http.StatusBadRequest, CodeOTPAlreadyUsed, "verification code already used"
	case errors.Is(err, rideauth.ErrForbidden):
		return http.StatusForbidden, CodeForbidden, "forbidden"
	case errors.Is(err, rideauth.ErrRoleNotAssigned):
		return http.StatusForbidden, CodeRoleNotAssigned, "role not assigned to this account"
	case errors.Is(err, rideauth.ErrEmailNotVerified):
		return http.StatusForbidden, CodeEmailNotVerified, "email address not verified"
	case errors.Is(err, rideauth.ErrAccountLinkRequired):
		return http.StatusConflict, CodeAccountLinkRequired, "an account with this email already exists"
	case errors.Is(err, rideauth.ErrConflict):
		return http.StatusConflict, CodeConflict, "conflict"
	case errors.Is(err, rideauth.ErrNotFound):
		return http.StatusNotFound, CodeNotFound, "not found"
	case errors.Is(err, rideauth.ErrInvalidInput):
		return http.StatusBadRequest, CodeValidation, err.Error()
	case errors.Is(err, rideauth.ErrRateLimited):
		return http.StatusTooManyRequests, CodeRateLimited, "too many requests"
	case errors.Is(err, rideauth.ErrStoreUnavailable),
		errors.Is(err, rideauth.ErrEmailDeliveryFailed),
		errors.Is(err, rideauth.ErrEngineNotReady):
		return http.StatusServiceUnavailable, CodeServiceUnavailable, "service temporarily unavailable"
	default:
		return http.StatusInternalServerError, CodeInternal, "internal error"
	}
}

func write(w http.ResponseWriter, status int, env Envelope) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}
