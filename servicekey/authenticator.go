package servicekey

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"strings"

	"go.uber.org/zap"
)

// DefaultHeader is the HTTP header carrying the key.
const DefaultHeader = "X-Internal-API-Key"

// Decision is the result of a key check.
type Decision int

const (
	Allow Decision = iota
	DenyMissing
	DenyMismatch
)

// Allowed reports whether d is Allow.
func (d Decision) Allowed() bool {
	return d == Allow
}

// Signal is the log message recorded for d.
func (d Decision) Signal() string {
	switch d {
	case Allow:
		return "internal_key_ok"
	case DenyMissing:
		return "internal_key_missing"
	default:
		return "internal_key_mismatch"
	}
}

// ErrNoSecret is returned by New when no secret is configured.
var ErrNoSecret = errors.New("servicekey: secret not configured")

// Authenticator compares presented keys against one configured secret.
type Authenticator struct {
	digest [32]byte
	header string
	log    *zap.Logger
	onDeny func(Decision)
}

// Option customizes an Authenticator.
type Option func(*Authenticator)

// WithLogger records deny decisions on l.
func WithLogger(l *zap.Logger) Option {
	return func(a *Authenticator) {
		if l != nil {
			a.log = l
		}
	}
}

// WithDenyHook calls fn for every denied key, for example to count denials.
func WithDenyHook(fn func(Decision)) Option {
	return func(a *Authenticator) {
		a.onDeny = fn
	}
}

// WithHeader overrides DefaultHeader.
func WithHeader(h string) Option {
	return func(a *Authenticator) {
		if h = strings.TrimSpace(h); h != "" {
			a.header = h
		}
	}
}

func New(secret string, opts ...Option) (*Authenticator, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}
	a := &Authenticator{
		digest: sha256.Sum256([]byte(secret)),
		header: DefaultHeader,
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Header is the HTTP header name the key is read from.
func (a *Authenticator) Header() string {
	return a.header
}

// Verify checks provided against the secret. Both sides are hashed first so
// the comparison is constant-time regardless of length.
func (a *Authenticator) Verify(provided string) Decision {
	if a == nil {
		return DenyMismatch
	}
	d := a.decide(provided)
	if d != Allow {
		a.log.Warn(d.Signal())
		if a.onDeny != nil {
			a.onDeny(d)
		}
	}
	return d
}

func (a *Authenticator) decide(provided string) Decision {
	if provided == "" {
		return DenyMissing
	}
	got := sha256.Sum256([]byte(provided))
	if subtle.ConstantTimeCompare(got[:], a.digest[:]) != 1 {
		return DenyMismatch
	}
	return Allow
}
