package rideauth_test

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/MrEthical07/rideauth"
)

func TestDefaultConfigNeedsSecrets(t *testing.T) {
	cfg := rideauth.DefaultConfig()
	if err := cfg.Validate(); err == nil {
		t.Fatal("default config without secrets must not validate")
	}
	cfg = testConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("test config should validate: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*rideauth.Config)
		wantErr string
	}{
		{"short access secret", func(c *rideauth.Config) { c.JWT.AccessSecret = []byte("short") }, "AccessSecret"},
		{"unknown signing method", func(c *rideauth.Config) { c.JWT.SigningMethod = "rs512" }, "SigningMethod"},
		{"ed25519 without key", func(c *rideauth.Config) { c.JWT.SigningMethod = "ed25519" }, "PrivateKey"},
		{"leeway too large", func(c *rideauth.Config) { c.JWT.Leeway = 3 * time.Minute }, "Leeway"},
		{"refresh ttl not longer", func(c *rideauth.Config) { c.Refresh.TTL = c.JWT.AccessTTL }, "Refresh TTL"},
		{"shared secrets", func(c *rideauth.Config) { c.Refresh.Secret = c.JWT.AccessSecret }, "differ"},
		{"otp digits", func(c *rideauth.Config) { c.OTP.Digits = 4 }, "Digits"},
		{"otp pepper", func(c *rideauth.Config) { c.OTP.Pepper = nil }, "Pepper"},
		{"link policy", func(c *rideauth.Config) { c.Federated.LinkPolicy = "auto" }, "LinkPolicy"},
		{"google without client id", func(c *rideauth.Config) { c.Federated.Google.Enabled = true }, "client id"},
		{"apple bad jwks url", func(c *rideauth.Config) {
			c.Federated.Apple = rideauth.ProviderConfig{Enabled: true, ClientIDs: []string{"app"}, JWKSURL: "not a url"}
		}, "JWKSURL"},
		{"default role unknown", func(c *rideauth.Config) { c.Roles.Default = "pilot" }, "Default"},
		{"inherit unknown", func(c *rideauth.Config) {
			c.Roles.Inherits = map[rideauth.Role][]rideauth.Role{"admin": {"pilot"}}
		}, "Inherits"},
		{"short internal key", func(c *rideauth.Config) { c.Internal.APIKey = "short" }, "APIKey"},
		{"weak password params", func(c *rideauth.Config) { c.Password.Time = 0 }, "argon2"},
		{"rate limit zero", func(c *rideauth.Config) { c.RateLimit.LoginMaxAttempts = 0 }, "login limits"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error mentioning %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestConfigDisabledRateLimitSkipsLimits(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.Enabled = false
	cfg.RateLimit.LoginMaxAttempts = 0
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled rate limit should not be checked: %v", err)
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("RIDEAUTH_JWT_ACCESS_SECRET", "env-access-secret-0123456789abcdef")
	t.Setenv("RIDEAUTH_REFRESH_SECRET", "env-refresh-secret-0123456789abcde")
	t.Setenv("RIDEAUTH_OTP_PEPPER", "env-pepper-0123456789")
	t.Setenv("RIDEAUTH_ACCESS_TTL", "5m")
	t.Setenv("RIDEAUTH_OTP_DIGITS", "8")
	t.Setenv("RIDEAUTH_ROLES", "rider, driver ,admin,dispatcher")
	t.Setenv("RIDEAUTH_ROLE_INHERITS", "admin:driver|rider,dispatcher:driver")
	t.Setenv("RIDEAUTH_GOOGLE_CLIENT_IDS", "web.apps.googleusercontent.com,ios.apps.googleusercontent.com")
	t.Setenv("RIDEAUTH_FEDERATED_LINK_POLICY", "require-explicit-link")

	cfg, err := rideauth.LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.JWT.AccessTTL != 5*time.Minute || cfg.OTP.Digits != 8 {
		t.Fatalf("unexpected durations/digits: %v %d", cfg.JWT.AccessTTL, cfg.OTP.Digits)
	}
	if len(cfg.Roles.Known) != 4 || cfg.Roles.Known[1] != "driver" {
		t.Fatalf("unexpected roles: %v", cfg.Roles.Known)
	}
	if got := cfg.Roles.Inherits["admin"]; len(got) != 2 || got[0] != "driver" || got[1] != "rider" {
		t.Fatalf("unexpected admin inheritance: %v", got)
	}
	if !cfg.Federated.Google.Enabled || len(cfg.Federated.Google.ClientIDs) != 2 {
		t.Fatalf("google should be enabled with two client ids: %+v", cfg.Federated.Google)
	}
	if cfg.Federated.Apple.Enabled {
		t.Fatal("apple should stay disabled without client ids")
	}
	if cfg.Federated.LinkPolicy != rideauth.RequireExplicitLink {
		t.Fatalf("unexpected link policy %q", cfg.Federated.LinkPolicy)
	}
}

func TestLoadConfigFromEnvRejectsInvalid(t *testing.T) {
	t.Setenv("RIDEAUTH_JWT_ACCESS_SECRET", "too-short")
	t.Setenv("RIDEAUTH_REFRESH_SECRET", "env-refresh-secret-0123456789abcde")
	t.Setenv("RIDEAUTH_OTP_PEPPER", "env-pepper-0123456789")

	if _, err := rideauth.LoadConfigFromEnv(); err == nil {
		t.Fatal("expected validation error")
	}

	t.Setenv("RIDEAUTH_JWT_ACCESS_SECRET", "env-access-secret-0123456789abcdef")
	t.Setenv("RIDEAUTH_JWT_PRIVATE_KEY_B64", "***")
	if _, err := rideauth.LoadConfigFromEnv(); err == nil {
		t.Fatal("expected base64 decode error")
	}

	t.Setenv("RIDEAUTH_JWT_PRIVATE_KEY_B64", base64.StdEncoding.EncodeToString([]byte("ignored-for-hs256")))
	if _, err := rideauth.LoadConfigFromEnv(); err != nil {
		t.Fatalf("valid env should load: %v", err)
	}
}

func TestEngineConfigIsACopy(t *testing.T) {
	h := newHarness(t, testConfig())
	cfg := h.engine.Config()
	cfg.JWT.AccessSecret[0] = 'X'
	cfg.Roles.Known[0] = "changed"

	again := h.engine.Config()
	if again.JWT.AccessSecret[0] == 'X' || again.Roles.Known[0] == "changed" {
		t.Fatal("Config must return a deep copy")
	}
}
