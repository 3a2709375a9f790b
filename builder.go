package rideauth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MrEthical07/rideauth/federated"
	"github.com/MrEthical07/rideauth/internal/audit"
	"github.com/MrEthical07/rideauth/internal/rate"
	"github.com/MrEthical07/rideauth/jwt"
	"github.com/MrEthical07/rideauth/password"
	"github.com/MrEthical07/rideauth/roles"
	"github.com/MrEthical07/rideauth/servicekey"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Builder collects configuration and collaborators, then produces an
// immutable Engine. A Builder can be used once.
type Builder struct {
	config Config
	redis  redis.UniversalClient
	log    *zap.Logger
	now    func() time.Time

	accounts AccountStore
	refresh  RefreshTokenStore
	otp      OTPStore
	email    EmailSender

	google     IdentityVerifier
	apple      IdentityVerifier
	httpClient *http.Client

	auditSink AuditSink

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis enables the login and OTP rate limiter.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithLogger(log *zap.Logger) *Builder {
	b.log = log
	return b
}

func (b *Builder) WithAccountStore(s AccountStore) *Builder {
	b.accounts = s
	return b
}

func (b *Builder) WithRefreshStore(s RefreshTokenStore) *Builder {
	b.refresh = s
	return b
}

func (b *Builder) WithOTPStore(s OTPStore) *Builder {
	b.otp = s
	return b
}

func (b *Builder) WithEmailSender(s EmailSender) *Builder {
	b.email = s
	return b
}

// WithGoogleVerifier overrides the verifier built from Federated.Google.
func (b *Builder) WithGoogleVerifier(v IdentityVerifier) *Builder {
	b.google = v
	return b
}

// WithAppleVerifier overrides the verifier built from Federated.Apple.
func (b *Builder) WithAppleVerifier(v IdentityVerifier) *Builder {
	b.apple = v
	return b
}

// WithHTTPClient sets the client used to fetch provider JWKS documents.
func (b *Builder) WithHTTPClient(c *http.Client) *Builder {
	b.httpClient = c
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithClock replaces time.Now for token issuance and expiry checks.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires every component.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.accounts == nil {
		return nil, errors.New("account store required")
	}
	if b.refresh == nil {
		return nil, errors.New("refresh token store required")
	}
	if b.otp == nil {
		return nil, errors.New("otp store required")
	}
	if b.email == nil {
		return nil, errors.New("email sender required")
	}

	log := b.log
	if log == nil {
		log = zap.NewNop()
	}
	now := b.now
	if now == nil {
		now = time.Now
	}

	// -------- ROLES --------
	roleManager := roles.NewManager()
	for _, r := range cfg.Roles.Known {
		if err := roleManager.RegisterRole(string(r)); err != nil {
			return nil, fmt.Errorf("register role %q: %w", r, err)
		}
	}
	for role, implied := range cfg.Roles.Inherits {
		names := make([]string, 0, len(implied))
		for _, r := range implied {
			names = append(names, string(r))
		}
		if err := roleManager.Inherit(string(role), names...); err != nil {
			return nil, fmt.Errorf("role hierarchy: %w", err)
		}
	}
	roleManager.Freeze()

	// -------- TOKENS --------
	accessCfg := jwt.Config{
		Type:          jwt.TypeAccess,
		TTL:           cfg.JWT.AccessTTL,
		SigningMethod: jwt.SigningMethod(strings.ToLower(cfg.JWT.SigningMethod)),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		KeyID:         cfg.JWT.KeyID,
		Now:           now,
	}
	if accessCfg.SigningMethod == jwt.MethodHS256 {
		accessCfg.PrivateKey = cloneBytes(cfg.JWT.AccessSecret)
	} else {
		accessCfg.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
		accessCfg.PublicKey = cloneBytes(cfg.JWT.PublicKey)
		accessCfg.VerifyKeys = cfg.JWT.VerifyKeys
	}
	accessManager, err := jwt.NewManager(accessCfg)
	if err != nil {
		return nil, fmt.Errorf("access token manager: %w", err)
	}

	refreshManager, err := jwt.NewManager(jwt.Config{
		Type:          jwt.TypeRefresh,
		TTL:           cfg.Refresh.TTL,
		SigningMethod: jwt.MethodHS256,
		PrivateKey:    cloneBytes(cfg.Refresh.Secret),
		Issuer:        cfg.JWT.Issuer,
		Leeway:        cfg.JWT.Leeway,
		Now:           now,
	})
	if err != nil {
		return nil, fmt.Errorf("refresh token manager: %w", err)
	}

	// -------- PASSWORDS --------
	hasher, err := password.NewHasher(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
		MinLength:   cfg.Password.MinLength,
	})
	if err != nil {
		return nil, fmt.Errorf("password hasher: %w", err)
	}
	dummyHash, err := hasher.Hash(strings.Repeat("x", cfg.Password.MinLength))
	if err != nil {
		return nil, fmt.Errorf("password hasher: %w", err)
	}

	// -------- FEDERATED --------
	httpClient := b.httpClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Federated.HTTPTimeout}
	}
	jwksOpts := federated.RemoteKeysOptions{
		Client:          httpClient,
		RefreshInterval: cfg.Federated.JWKSCacheTTL,
		Logger:          log,
	}
	// Verifiers built here own background JWKS refreshers; the engine stops
	// them on Close. Injected verifiers belong to the caller.
	var owned []*federated.Verifier
	google := b.google
	if google == nil && cfg.Federated.Google.Enabled {
		v, err := federated.NewRemoteVerifier(federated.ProviderGoogle, cfg.Federated.Google.JWKSURL,
			cfg.Federated.Google.ClientIDs, jwksOpts, cfg.Federated.Leeway)
		if err != nil {
			return nil, err
		}
		google = v
		owned = append(owned, v)
	}
	apple := b.apple
	if apple == nil && cfg.Federated.Apple.Enabled {
		v, err := federated.NewRemoteVerifier(federated.ProviderApple, cfg.Federated.Apple.JWKSURL,
			cfg.Federated.Apple.ClientIDs, jwksOpts, cfg.Federated.Leeway)
		if err != nil {
			for _, o := range owned {
				o.Close()
			}
			return nil, err
		}
		apple = v
		owned = append(owned, v)
	}

	metrics := NewMetrics(cfg.Metrics)

	// -------- INTERNAL KEY --------
	var internalKey *servicekey.Authenticator
	if cfg.Internal.APIKey != "" {
		internalKey, err = servicekey.New(cfg.Internal.APIKey,
			servicekey.WithLogger(log),
			servicekey.WithHeader(cfg.Internal.Header),
			servicekey.WithDenyHook(func(servicekey.Decision) {
				metrics.Inc(MetricInternalKeyDenied)
			}))
		if err != nil {
			return nil, err
		}
	}

	engine := &Engine{
		config:       cfg,
		log:          log.Named("rideauth"),
		now:          now,
		access:       accessManager,
		refresh:      refreshManager,
		hasher:       hasher,
		dummyHash:    dummyHash,
		roles:        roleManager,
		accounts:     b.accounts,
		refreshStore: b.refresh,
		otpStore:     b.otp,
		email:        b.email,
		google:       google,
		apple:        apple,
		internalKey:  internalKey,
		metrics:      metrics,
		verifiers:    owned,
	}

	if b.redis != nil && cfg.RateLimit.Enabled {
		engine.limiter = rate.New(b.redis, rate.Config{
			Prefix:               cfg.RateLimit.RedisPrefix,
			EnableIPThrottle:     true,
			LoginMaxAttempts:     cfg.RateLimit.LoginMaxAttempts,
			LoginWindow:          cfg.RateLimit.LoginWindow,
			OTPVerifyMaxAttempts: cfg.RateLimit.OTPVerifyMaxAttempts,
			OTPVerifyWindow:      cfg.RateLimit.OTPVerifyWindow,
		})
	}

	sink := b.auditSink
	if sink == nil {
		sink = audit.NewZapSink(log)
	}
	engine.audit = audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
		OnDrop: func(audit.Event) {
			metrics.Inc(MetricAuditDropped)
		},
	}, sink)

	b.built = true
	return engine, nil
}
