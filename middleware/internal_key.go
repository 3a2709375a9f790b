package middleware

import (
	"context"
	"net/http"

	"github.com/MrEthical07/rideauth"
	"github.com/MrEthical07/rideauth/response"
	"github.com/MrEthical07/rideauth/servicekey"
)

// KeyVerifier is the part of *rideauth.Engine InternalKey needs.
type KeyVerifier interface {
	VerifyInternalKey(ctx context.Context, key string) servicekey.Decision
}

// InternalKey admits only requests carrying the shared internal API key in
// header. Missing and wrong keys both get a 401. Routes behind it must not
// serve end users.
func InternalKey(v KeyVerifier, header string) func(http.Handler) http.Handler {
	if header == "" {
		header = servicekey.DefaultHeader
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !v.VerifyInternalKey(r.Context(), r.Header.Get(header)).Allowed() {
				response.Error(w, rideauth.ErrUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
