package federated

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	ProviderGoogle = "google"
	ProviderApple  = "apple"
)

var (
	GoogleIssuers = []string{"accounts.google.com", "https://accounts.google.com"}
	AppleIssuers  = []string{"https://appleid.apple.com"}
)

// ErrInvalidToken is the only error Verify returns for a rejected token.
var ErrInvalidToken = errors.New("federated: invalid provider token")

// Identity is the verified subset of provider claims.
type Identity struct {
	Provider       string
	Subject        string
	Email          string
	EmailVerified  bool
	IsPrivateEmail bool
}

// Config configures one provider verifier.
type Config struct {
	ClientIDs []string
	Issuers   []string
	Keys      KeySource
	Leeway    time.Duration
	Now       func() time.Time
}

// Verifier checks tokens from a single provider. Safe for concurrent use.
type Verifier struct {
	provider  string
	clientIDs map[string]struct{}
	issuers   map[string]struct{}
	keys      KeySource
	leeway    time.Duration
	now       func() time.Time
}

// NewGoogleVerifier verifies Google ID tokens. keys is usually RemoteKeys
// for https://www.googleapis.com/oauth2/v3/certs.
func NewGoogleVerifier(clientIDs []string, keys KeySource, leeway time.Duration, now func() time.Time) (*Verifier, error) {
	return NewVerifier(ProviderGoogle, Config{ClientIDs: clientIDs, Issuers: GoogleIssuers, Keys: keys, Leeway: leeway, Now: now})
}

// NewAppleVerifier verifies Sign in with Apple identity tokens. keys is
// usually RemoteKeys for https://appleid.apple.com/auth/keys.
func NewAppleVerifier(clientIDs []string, keys KeySource, leeway time.Duration, now func() time.Time) (*Verifier, error) {
	return NewVerifier(ProviderApple, Config{ClientIDs: clientIDs, Issuers: AppleIssuers, Keys: keys, Leeway: leeway, Now: now})
}

func NewVerifier(provider string, cfg Config) (*Verifier, error) {
	if provider == "" {
		return nil, errors.New("federated: provider name required")
	}
	if len(cfg.ClientIDs) == 0 {
		return nil, fmt.Errorf("federated: %s requires at least one client id", provider)
	}
	if len(cfg.Issuers) == 0 {
		return nil, fmt.Errorf("federated: %s requires at least one issuer", provider)
	}
	if cfg.Keys == nil {
		return nil, fmt.Errorf("federated: %s requires a key set", provider)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	v := &Verifier{
		provider:  provider,
		clientIDs: toSet(cfg.ClientIDs),
		issuers:   toSet(cfg.Issuers),
		keys:      cfg.Keys,
		leeway:    cfg.Leeway,
		now:       cfg.Now,
	}
	return v, nil
}

// NewRemoteVerifier wires RemoteKeys for jwksURL into a verifier. Close the
// verifier to stop the background key refresh.
func NewRemoteVerifier(provider, jwksURL string, clientIDs []string, keys RemoteKeysOptions, leeway time.Duration) (*Verifier, error) {
	issuers := GoogleIssuers
	if provider == ProviderApple {
		issuers = AppleIssuers
	}
	remote, err := NewRemoteKeys(jwksURL, keys)
	if err != nil {
		return nil, err
	}
	v, err := NewVerifier(provider, Config{
		ClientIDs: clientIDs,
		Issuers:   issuers,
		Keys:      remote,
		Leeway:    leeway,
	})
	if err != nil {
		remote.Close()
		return nil, err
	}
	return v, nil
}

// Close releases the key source when it holds background resources.
func (v *Verifier) Close() {
	if c, ok := v.keys.(interface{ Close() }); ok {
		c.Close()
	}
}

// Provider returns the provider name this verifier was built for.
func (v *Verifier) Provider() string {
	return v.provider
}

type providerClaims struct {
	Email          string   `json:"email"`
	EmailVerified  flexBool `json:"email_verified"`
	IsPrivateEmail flexBool `json:"is_private_email"`
	jwt.RegisteredClaims
}

// Verify validates raw and returns the identity it asserts.
func (v *Verifier) Verify(ctx context.Context, raw string) (Identity, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Identity{}, ErrInvalidToken
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(v.leeway),
		jwt.WithTimeFunc(v.now),
	)

	token, err := parser.ParseWithClaims(raw, &providerClaims{}, strongKeys(v.keys.KeyfuncCtx(ctx)))
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*providerClaims)
	if !ok || !token.Valid {
		return Identity{}, ErrInvalidToken
	}
	if _, ok := v.issuers[claims.Issuer]; !ok {
		return Identity{}, fmt.Errorf("%w: unexpected issuer", ErrInvalidToken)
	}
	if !v.audienceAllowed(claims.Audience) {
		return Identity{}, fmt.Errorf("%w: unexpected audience", ErrInvalidToken)
	}
	if claims.Subject == "" {
		return Identity{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	return Identity{
		Provider:       v.provider,
		Subject:        claims.Subject,
		Email:          strings.ToLower(strings.TrimSpace(claims.Email)),
		EmailVerified:  bool(claims.EmailVerified),
		IsPrivateEmail: bool(claims.IsPrivateEmail),
	}, nil
}

func (v *Verifier) audienceAllowed(aud jwt.ClaimStrings) bool {
	for _, a := range aud {
		if _, ok := v.clientIDs[a]; ok {
			return true
		}
	}
	return false
}

// flexBool accepts true, false, "true" and "false". Apple sends booleans as strings.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	var asBool bool
	if err := json.Unmarshal(data, &asBool); err == nil {
		*b = flexBool(asBool)
		return nil
	}
	var asString string
	if err := json.Unmarshal(data, &asString); err != nil {
		return fmt.Errorf("invalid boolean claim %s", data)
	}
	*b = flexBool(strings.EqualFold(asString, "true"))
	return nil
}

func toSet(in []string) map[string]struct{} {
	out := make(map[string]struct{}, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out[s] = struct{}{}
		}
	}
	return out
}
