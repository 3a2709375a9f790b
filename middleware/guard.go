package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/MrEthical07/rideauth"
	"github.com/MrEthical07/rideauth/response"
)

// TokenVerifier is the part of *rideauth.Engine the bearer guard needs.
type TokenVerifier interface {
	VerifyAccessToken(ctx context.Context, token string) (rideauth.AccessClaims, error)
}

// Authorizer is the part of *rideauth.Engine RequireRole needs.
type Authorizer interface {
	Authorize(ctx context.Context, claims rideauth.AccessClaims, required rideauth.Role) error
}

// Guard verifies the bearer access token and stores its claims on the request
// context. Verification is stateless; no store is consulted.
func Guard(v TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v == nil {
				response.Error(w, rideauth.ErrEngineNotReady)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				response.Error(w, rideauth.ErrUnauthorized)
				return
			}

			claims, err := v.VerifyAccessToken(r.Context(), token)
			if err != nil {
				response.Error(w, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(rideauth.WithClaims(r.Context(), claims)))
		})
	}
}

// RequireRole rejects requests whose active role does not satisfy role.
// It must run after Guard.
func RequireRole(a Authorizer, role rideauth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := rideauth.ClaimsFromContext(r.Context())
			if !ok {
				response.Error(w, rideauth.ErrUnauthorized)
				return
			}
			if err := a.Authorize(r.Context(), claims, role); err != nil {
				response.Error(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
