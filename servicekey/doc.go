// Package servicekey gates service-to-service calls with a shared secret.
//
// It is a flat allow/deny check with no claims and no session, weaker than
// end-user authentication, and must not guard end-user facing operations.
// HTTP callers use the middleware package; gRPC servers install the
// interceptors from this package.
package servicekey
