package rideauth

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config is built once at process start and handed to the Builder. Nothing
// in the engine reads configuration from anywhere else.
type Config struct {
	JWT       JWTConfig
	Refresh   RefreshConfig
	OTP       OTPConfig
	Federated FederatedConfig
	Roles     RolesConfig
	Internal  InternalConfig
	Password  PasswordConfig
	RateLimit RateLimitConfig
	Audit     AuditConfig
	Metrics   MetricsConfig
}

/*
====================================
TOKEN CONFIG
====================================
*/

// JWTConfig configures access tokens. SigningMethod is "hs256" (AccessSecret)
// or "ed25519" (PrivateKey/PublicKey, optional VerifyKeys for rotation).
type JWTConfig struct {
	AccessTTL     time.Duration
	SigningMethod string
	AccessSecret  []byte
	PrivateKey    []byte
	PublicKey     []byte
	KeyID         string
	VerifyKeys    map[string][]byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
}

// RefreshConfig configures refresh tokens. Secret must differ from the access secret.
type RefreshConfig struct {
	TTL    time.Duration
	Secret []byte
	// RevokeAllOnReuse deletes every refresh record of an account when an
	// already consumed refresh token is presented again.
	RevokeAllOnReuse bool
}

/*
====================================
OTP CONFIG
====================================
*/

type OTPConfig struct {
	Digits int
	TTL    time.Duration
	// Retention keeps consumed and expired records readable after TTL so
	// verification can report "already used" and "expired" distinctly.
	Retention            time.Duration
	Pepper               []byte
	RequireVerifiedLogin bool
	AppName              string
}

/*
====================================
FEDERATED CONFIG
====================================
*/

// LinkPolicy decides what happens when a federated identity has no mapping
// yet but an account with the same email exists.
type LinkPolicy string

const (
	// LinkVerifiedEmail links to the existing account when the provider asserts
	// the email is verified. An unverified provider email that matches an
	// existing account returns ErrAccountLinkRequired.
	LinkVerifiedEmail LinkPolicy = "link-verified-email"
	// RequireExplicitLink never links implicitly and returns ErrAccountLinkRequired.
	RequireExplicitLink LinkPolicy = "require-explicit-link"
)

type FederatedConfig struct {
	LinkPolicy   LinkPolicy
	Google       ProviderConfig
	Apple        ProviderConfig
	JWKSCacheTTL time.Duration
	Leeway       time.Duration
	HTTPTimeout  time.Duration
}

type ProviderConfig struct {
	Enabled   bool
	ClientIDs []string
	JWKSURL   string
}

/*
====================================
ROLES CONFIG
====================================
*/

// RolesConfig lists the known roles. Inherits maps a role to the roles it may
// act as, for example admin -> driver.
type RolesConfig struct {
	Known    []Role
	Default  Role
	Admin    Role
	Inherits map[Role][]Role
}

type InternalConfig struct {
	APIKey string
	Header string
}

type PasswordConfig struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
	MinLength   int
}

type RateLimitConfig struct {
	Enabled              bool
	RedisPrefix          string
	LoginMaxAttempts     int
	LoginWindow          time.Duration
	OTPVerifyMaxAttempts int
	OTPVerifyWindow      time.Duration
}

type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns the baseline configuration. Secrets are left empty
// and must be supplied before Validate passes.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			SigningMethod: "hs256",
			Issuer:        "rideauth",
			Leeway:        5 * time.Second,
		},
		Refresh: RefreshConfig{
			TTL: 7 * 24 * time.Hour,
		},
		OTP: OTPConfig{
			Digits:    6,
			TTL:       10 * time.Minute,
			Retention: 24 * time.Hour,
			AppName:   "RideAuth",
		},
		Federated: FederatedConfig{
			LinkPolicy: LinkVerifiedEmail,
			Google: ProviderConfig{
				JWKSURL: "https://www.googleapis.com/oauth2/v3/certs",
			},
			Apple: ProviderConfig{
				JWKSURL: "https://appleid.apple.com/auth/keys",
			},
			JWKSCacheTTL: time.Hour,
			Leeway:       30 * time.Second,
			HTTPTimeout:  5 * time.Second,
		},
		Roles: RolesConfig{
			Known:   []Role{"rider", "driver", "admin"},
			Default: "rider",
			Admin:   "admin",
		},
		Internal: InternalConfig{
			Header: "X-Internal-API-Key",
		},
		Password: PasswordConfig{
			Memory:      64 * 1024,
			Time:        3,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
			MinLength:   10,
		},
		RateLimit: RateLimitConfig{
			Enabled:              true,
			RedisPrefix:          "rl",
			LoginMaxAttempts:     5,
			LoginWindow:          15 * time.Minute,
			OTPVerifyMaxAttempts: 5,
			OTPVerifyWindow:      10 * time.Minute,
		},
		Audit: AuditConfig{
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.AccessSecret = cloneBytes(cfg.JWT.AccessSecret)
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	if cfg.JWT.VerifyKeys != nil {
		out.JWT.VerifyKeys = make(map[string][]byte, len(cfg.JWT.VerifyKeys))
		for kid, key := range cfg.JWT.VerifyKeys {
			out.JWT.VerifyKeys[kid] = cloneBytes(key)
		}
	}
	out.Refresh.Secret = cloneBytes(cfg.Refresh.Secret)
	out.OTP.Pepper = cloneBytes(cfg.OTP.Pepper)
	out.Federated.Google.ClientIDs = append([]string(nil), cfg.Federated.Google.ClientIDs...)
	out.Federated.Apple.ClientIDs = append([]string(nil), cfg.Federated.Apple.ClientIDs...)
	out.Roles.Known = append([]Role(nil), cfg.Roles.Known...)
	if cfg.Roles.Inherits != nil {
		out.Roles.Inherits = make(map[Role][]Role, len(cfg.Roles.Inherits))
		for role, implied := range cfg.Roles.Inherits {
			out.Roles.Inherits[role] = append([]Role(nil), implied...)
		}
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Validate checks the configuration for missing secrets and inconsistent values.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}

	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	switch strings.ToLower(c.JWT.SigningMethod) {
	case "hs256":
		if len(c.JWT.AccessSecret) < 32 {
			return errors.New("JWT AccessSecret must be at least 32 bytes for hs256")
		}
	case "ed25519":
		if len(c.JWT.PrivateKey) == 0 {
			return errors.New("JWT PrivateKey is required for ed25519")
		}
	default:
		return fmt.Errorf("JWT SigningMethod %q is not supported", c.JWT.SigningMethod)
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be between 0 and 2m")
	}

	if c.Refresh.TTL <= c.JWT.AccessTTL {
		return errors.New("Refresh TTL must be greater than JWT AccessTTL")
	}
	if len(c.Refresh.Secret) < 32 {
		return errors.New("Refresh Secret must be at least 32 bytes")
	}
	if string(c.Refresh.Secret) == string(c.JWT.AccessSecret) {
		return errors.New("Refresh Secret must differ from JWT AccessSecret")
	}

	if c.OTP.Digits < 6 || c.OTP.Digits > 10 {
		return errors.New("OTP Digits must be between 6 and 10")
	}
	if c.OTP.TTL <= 0 {
		return errors.New("OTP TTL must be > 0")
	}
	if c.OTP.Retention < 0 {
		return errors.New("OTP Retention must be >= 0")
	}
	if len(c.OTP.Pepper) < 16 {
		return errors.New("OTP Pepper must be at least 16 bytes")
	}

	switch c.Federated.LinkPolicy {
	case LinkVerifiedEmail, RequireExplicitLink:
	default:
		return fmt.Errorf("Federated LinkPolicy %q is not supported", c.Federated.LinkPolicy)
	}
	for name, p := range map[string]ProviderConfig{"Google": c.Federated.Google, "Apple": c.Federated.Apple} {
		if !p.Enabled {
			continue
		}
		if len(p.ClientIDs) == 0 {
			return fmt.Errorf("Federated %s requires at least one client id", name)
		}
		if u, err := url.Parse(p.JWKSURL); err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("Federated %s JWKSURL is invalid", name)
		}
	}

	if len(c.Roles.Known) == 0 {
		return errors.New("Roles Known must not be empty")
	}
	known := make(map[Role]struct{}, len(c.Roles.Known))
	for _, r := range c.Roles.Known {
		if strings.TrimSpace(string(r)) == "" {
			return errors.New("Roles Known contains an empty role")
		}
		known[r] = struct{}{}
	}
	if _, ok := known[c.Roles.Default]; !ok {
		return errors.New("Roles Default must be a known role")
	}
	if _, ok := known[c.Roles.Admin]; !ok {
		return errors.New("Roles Admin must be a known role")
	}
	for role, implied := range c.Roles.Inherits {
		if _, ok := known[role]; !ok {
			return fmt.Errorf("Roles Inherits references unknown role %q", role)
		}
		for _, r := range implied {
			if _, ok := known[r]; !ok {
				return fmt.Errorf("Roles Inherits references unknown role %q", r)
			}
		}
	}

	if c.Internal.APIKey != "" && len(c.Internal.APIKey) < 16 {
		return errors.New("Internal APIKey must be at least 16 characters")
	}
	if strings.TrimSpace(c.Internal.Header) == "" {
		return errors.New("Internal Header must not be empty")
	}

	if c.Password.MinLength < 8 {
		return errors.New("Password MinLength must be >= 8")
	}
	if c.Password.Memory < 8*1024 || c.Password.Time == 0 || c.Password.Parallelism == 0 {
		return errors.New("Password argon2 parameters are too weak")
	}
	if c.Password.SaltLength < 16 || c.Password.KeyLength < 16 {
		return errors.New("Password SaltLength and KeyLength must be >= 16")
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.LoginMaxAttempts <= 0 || c.RateLimit.LoginWindow <= 0 {
			return errors.New("RateLimit login limits must be > 0")
		}
		if c.RateLimit.OTPVerifyMaxAttempts <= 0 || c.RateLimit.OTPVerifyWindow <= 0 {
			return errors.New("RateLimit OTP verify limits must be > 0")
		}
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}

	return nil
}
