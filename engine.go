package rideauth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/rideauth/federated"
	"github.com/MrEthical07/rideauth/internal/audit"
	"github.com/MrEthical07/rideauth/internal/rate"
	"github.com/MrEthical07/rideauth/jwt"
	"github.com/MrEthical07/rideauth/password"
	"github.com/MrEthical07/rideauth/roles"
	"github.com/MrEthical07/rideauth/servicekey"
	"go.uber.org/zap"
)

// IdentityVerifier validates a provider token. *federated.Verifier
// implements it.
type IdentityVerifier interface {
	Verify(ctx context.Context, raw string) (federated.Identity, error)
}

// Engine runs every authentication flow. Build one with New().…Build().
type Engine struct {
	config Config
	log    *zap.Logger
	now    func() time.Time

	access    *jwt.Manager
	refresh   *jwt.Manager
	hasher    *password.Hasher
	dummyHash string
	roles     *roles.Manager

	accounts     AccountStore
	refreshStore RefreshTokenStore
	otpStore     OTPStore
	email        EmailSender

	google      IdentityVerifier
	apple       IdentityVerifier
	internalKey *servicekey.Authenticator

	limiter *rate.Limiter
	audit   *audit.Dispatcher
	metrics *Metrics

	// verifiers are the provider verifiers Build created and Close stops.
	verifiers []*federated.Verifier
}

// Close stops background JWKS refreshes and flushes pending audit events.
// The engine must not be used afterwards.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	for _, v := range e.verifiers {
		v.Close()
	}
	e.audit.Close()
	_ = e.log.Sync()
}

// Config returns a copy of the configuration the engine was built with.
func (e *Engine) Config() Config {
	return cloneConfig(e.config)
}

// InternalAuthenticator returns the shared-secret gate, or nil when no
// internal API key is configured.
func (e *Engine) InternalAuthenticator() *servicekey.Authenticator {
	return e.internalKey
}

// Account loads an account by id.
func (e *Engine) Account(ctx context.Context, id string) (Account, error) {
	if strings.TrimSpace(id) == "" {
		return Account{}, ErrInvalidInput
	}
	acc, err := e.accounts.GetByID(ctx, id)
	if err != nil {
		return Account{}, e.storeErr("get account", err)
	}
	return acc, nil
}

// storeErr passes ErrNotFound and ErrConflict through and logs everything
// else as a backend failure.
func (e *Engine) storeErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrConflict):
		return err
	case errors.Is(err, ErrStoreUnavailable):
		e.log.Error("store failure", zap.String("op", op), zap.Error(err))
		return err
	default:
		e.log.Error("store failure", zap.String("op", op), zap.Error(err))
		return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
