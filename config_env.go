package rideauth

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

type envConfig struct {
	AccessTTL        time.Duration `env:"RIDEAUTH_ACCESS_TTL"           envDefault:"15m"`
	SigningMethod    string        `env:"RIDEAUTH_JWT_SIGNING_METHOD"   envDefault:"hs256"`
	AccessSecret     string        `env:"RIDEAUTH_JWT_ACCESS_SECRET"`
	PrivateKeyB64    string        `env:"RIDEAUTH_JWT_PRIVATE_KEY_B64"`
	PublicKeyB64     string        `env:"RIDEAUTH_JWT_PUBLIC_KEY_B64"`
	KeyID            string        `env:"RIDEAUTH_JWT_KEY_ID"`
	Issuer           string        `env:"RIDEAUTH_JWT_ISSUER"           envDefault:"rideauth"`
	Audience         string        `env:"RIDEAUTH_JWT_AUDIENCE"`
	Leeway           time.Duration `env:"RIDEAUTH_JWT_LEEWAY"           envDefault:"5s"`
	RefreshTTL       time.Duration `env:"RIDEAUTH_REFRESH_TTL"          envDefault:"168h"`
	RefreshSecret    string        `env:"RIDEAUTH_REFRESH_SECRET"`
	RevokeAllOnReuse bool          `env:"RIDEAUTH_REFRESH_REVOKE_ALL_ON_REUSE"`

	OTPDigits            int           `env:"RIDEAUTH_OTP_DIGITS"                 envDefault:"6"`
	OTPTTL               time.Duration `env:"RIDEAUTH_OTP_TTL"                    envDefault:"10m"`
	OTPRetention         time.Duration `env:"RIDEAUTH_OTP_RETENTION"              envDefault:"24h"`
	OTPPepper            string        `env:"RIDEAUTH_OTP_PEPPER"`
	RequireVerifiedLogin bool          `env:"RIDEAUTH_OTP_REQUIRE_VERIFIED_LOGIN"`
	AppName              string        `env:"RIDEAUTH_APP_NAME"                   envDefault:"RideAuth"`

	LinkPolicy      string        `env:"RIDEAUTH_FEDERATED_LINK_POLICY"   envDefault:"link-verified-email"`
	GoogleClientIDs []string      `env:"RIDEAUTH_GOOGLE_CLIENT_IDS"       envSeparator:","`
	GoogleJWKSURL   string        `env:"RIDEAUTH_GOOGLE_JWKS_URL"         envDefault:"https://www.googleapis.com/oauth2/v3/certs"`
	AppleClientIDs  []string      `env:"RIDEAUTH_APPLE_CLIENT_IDS"        envSeparator:","`
	AppleJWKSURL    string        `env:"RIDEAUTH_APPLE_JWKS_URL"          envDefault:"https://appleid.apple.com/auth/keys"`
	JWKSCacheTTL    time.Duration `env:"RIDEAUTH_JWKS_CACHE_TTL"          envDefault:"1h"`
	FederatedLeeway time.Duration `env:"RIDEAUTH_FEDERATED_LEEWAY"        envDefault:"30s"`
	JWKSTimeout     time.Duration `env:"RIDEAUTH_JWKS_HTTP_TIMEOUT"       envDefault:"5s"`

	Roles        []string          `env:"RIDEAUTH_ROLES"          envSeparator:"," envDefault:"rider,driver,admin"`
	DefaultRole  string            `env:"RIDEAUTH_DEFAULT_ROLE"   envDefault:"rider"`
	AdminRole    string            `env:"RIDEAUTH_ADMIN_ROLE"     envDefault:"admin"`
	RoleInherits map[string]string `env:"RIDEAUTH_ROLE_INHERITS"  envSeparator:"," envKeyValSeparator:":"`

	InternalAPIKey string `env:"RIDEAUTH_INTERNAL_API_KEY"`
	InternalHeader string `env:"RIDEAUTH_INTERNAL_HEADER" envDefault:"X-Internal-API-Key"`

	PasswordMinLength int `env:"RIDEAUTH_PASSWORD_MIN_LENGTH" envDefault:"10"`

	RateLimitEnabled     bool          `env:"RIDEAUTH_RATE_LIMIT_ENABLED"       envDefault:"true"`
	LoginMaxAttempts     int           `env:"RIDEAUTH_LOGIN_MAX_ATTEMPTS"       envDefault:"5"`
	LoginWindow          time.Duration `env:"RIDEAUTH_LOGIN_WINDOW"             envDefault:"15m"`
	OTPVerifyMaxAttempts int           `env:"RIDEAUTH_OTP_VERIFY_MAX_ATTEMPTS"  envDefault:"5"`
	OTPVerifyWindow      time.Duration `env:"RIDEAUTH_OTP_VERIFY_WINDOW"        envDefault:"10m"`

	AuditEnabled   bool `env:"RIDEAUTH_AUDIT_ENABLED"`
	MetricsEnabled bool `env:"RIDEAUTH_METRICS_ENABLED"  envDefault:"true"`
	LatencyHist    bool `env:"RIDEAUTH_METRICS_LATENCY"`
}

// LoadConfigFromEnv builds a Config from RIDEAUTH_* environment variables on
// top of DefaultConfig. The result is validated.
func LoadConfigFromEnv() (Config, error) {
	var raw envConfig
	if err := env.Parse(&raw); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	cfg, err := raw.toConfig()
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (e envConfig) toConfig() (Config, error) {
	cfg := DefaultConfig()

	cfg.JWT.AccessTTL = e.AccessTTL
	cfg.JWT.SigningMethod = strings.ToLower(e.SigningMethod)
	cfg.JWT.AccessSecret = []byte(e.AccessSecret)
	cfg.JWT.KeyID = e.KeyID
	cfg.JWT.Issuer = e.Issuer
	cfg.JWT.Audience = e.Audience
	cfg.JWT.Leeway = e.Leeway
	if e.PrivateKeyB64 != "" {
		key, err := base64.StdEncoding.DecodeString(e.PrivateKeyB64)
		if err != nil {
			return Config{}, fmt.Errorf("decode RIDEAUTH_JWT_PRIVATE_KEY_B64: %w", err)
		}
		cfg.JWT.PrivateKey = key
	}
	if e.PublicKeyB64 != "" {
		key, err := base64.StdEncoding.DecodeString(e.PublicKeyB64)
		if err != nil {
			return Config{}, fmt.Errorf("decode RIDEAUTH_JWT_PUBLIC_KEY_B64: %w", err)
		}
		cfg.JWT.PublicKey = key
	}

	cfg.Refresh.TTL = e.RefreshTTL
	cfg.Refresh.Secret = []byte(e.RefreshSecret)
	cfg.Refresh.RevokeAllOnReuse = e.RevokeAllOnReuse

	cfg.OTP.Digits = e.OTPDigits
	cfg.OTP.TTL = e.OTPTTL
	cfg.OTP.Retention = e.OTPRetention
	cfg.OTP.Pepper = []byte(e.OTPPepper)
	cfg.OTP.RequireVerifiedLogin = e.RequireVerifiedLogin
	cfg.OTP.AppName = e.AppName

	cfg.Federated.LinkPolicy = LinkPolicy(e.LinkPolicy)
	cfg.Federated.Google = ProviderConfig{
		Enabled:   len(e.GoogleClientIDs) > 0,
		ClientIDs: e.GoogleClientIDs,
		JWKSURL:   e.GoogleJWKSURL,
	}
	cfg.Federated.Apple = ProviderConfig{
		Enabled:   len(e.AppleClientIDs) > 0,
		ClientIDs: e.AppleClientIDs,
		JWKSURL:   e.AppleJWKSURL,
	}
	cfg.Federated.JWKSCacheTTL = e.JWKSCacheTTL
	cfg.Federated.Leeway = e.FederatedLeeway
	cfg.Federated.HTTPTimeout = e.JWKSTimeout

	cfg.Roles.Known = cfg.Roles.Known[:0]
	for _, r := range e.Roles {
		if r = strings.TrimSpace(r); r != "" {
			cfg.Roles.Known = append(cfg.Roles.Known, Role(r))
		}
	}
	cfg.Roles.Default = Role(e.DefaultRole)
	cfg.Roles.Admin = Role(e.AdminRole)
	if len(e.RoleInherits) > 0 {
		// RIDEAUTH_ROLE_INHERITS=admin:driver|rider
		cfg.Roles.Inherits = make(map[Role][]Role, len(e.RoleInherits))
		for role, implied := range e.RoleInherits {
			for _, r := range strings.Split(implied, "|") {
				if r = strings.TrimSpace(r); r != "" {
					cfg.Roles.Inherits[Role(role)] = append(cfg.Roles.Inherits[Role(role)], Role(r))
				}
			}
		}
	}

	cfg.Internal.APIKey = e.InternalAPIKey
	cfg.Internal.Header = e.InternalHeader
	cfg.Password.MinLength = e.PasswordMinLength

	cfg.RateLimit.Enabled = e.RateLimitEnabled
	cfg.RateLimit.LoginMaxAttempts = e.LoginMaxAttempts
	cfg.RateLimit.LoginWindow = e.LoginWindow
	cfg.RateLimit.OTPVerifyMaxAttempts = e.OTPVerifyMaxAttempts
	cfg.RateLimit.OTPVerifyWindow = e.OTPVerifyWindow

	cfg.Audit.Enabled = e.AuditEnabled
	cfg.Metrics.Enabled = e.MetricsEnabled
	cfg.Metrics.EnableLatencyHistograms = e.LatencyHist

	return cfg, nil
}
