// Package jwt signs and verifies the access and refresh tokens issued by the
// engine. Each Manager handles a single token type with its own key material,
// so a refresh secret can be rotated without touching access verification.
package jwt
