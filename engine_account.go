package rideauth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"

	"github.com/MrEthical07/rideauth/internal/rate"
	"github.com/MrEthical07/rideauth/password"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RegisterInput is the core input for password registration. Role is
// optional and defaults to Roles.Default; the admin role cannot be
// self-assigned.
type RegisterInput struct {
	Email    string
	Password string
	Role     Role
}

// RegisterResult carries the new account and the verify-email dispatch.
type RegisterResult struct {
	Account  Account
	Dispatch OTPDispatch
}

// LoginResult is returned by password and federated sign-in.
type LoginResult struct {
	Account Account
	Pair    TokenPair
	// Created is set by federated sign-in when the account was created.
	Created bool
}

// Register creates an unverified password account and emails a verify-email
// code. If only the email fails, the account exists and the error wraps
// ErrEmailDeliveryFailed.
func (e *Engine) Register(ctx context.Context, in RegisterInput) (RegisterResult, error) {
	email := normalizeEmail(in.Email)
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return RegisterResult{}, fmt.Errorf("%w: email is invalid", ErrInvalidInput)
	}

	role := in.Role
	if role == "" {
		role = e.config.Roles.Default
	}
	if !e.roles.Known(string(role)) || role == e.config.Roles.Admin {
		return RegisterResult{}, fmt.Errorf("%w: role %q cannot be self-assigned", ErrInvalidInput, role)
	}

	hash, err := e.hasher.Hash(in.Password)
	if err != nil {
		if errors.Is(err, password.ErrTooShort) {
			return RegisterResult{}, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, e.hasher.MinLength())
		}
		return RegisterResult{}, err
	}

	account, err := e.accounts.Create(ctx, NewAccount{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		Roles:        []Role{role},
		ActiveRole:   role,
	})
	if err != nil {
		if errors.Is(err, ErrConflict) {
			e.metricInc(MetricRegisterDuplicate)
			e.emitAudit(ctx, auditEventRegister, false, "", "", err, nil)
			return RegisterResult{}, ErrConflict
		}
		return RegisterResult{}, e.storeErr("create account", err)
	}

	e.metricInc(MetricRegisterSuccess)
	e.emitAudit(ctx, auditEventRegister, true, account.ID, role, nil, nil)

	dispatch, err := e.SendOTP(ctx, account, PurposeVerifyEmail)
	return RegisterResult{Account: account, Dispatch: dispatch}, err
}

// Login checks email and password and issues a pair for the stored active
// role. Failures are counted per email and client IP when a rate limiter is
// configured.
func (e *Engine) Login(ctx context.Context, email, pass string) (LoginResult, error) {
	email = normalizeEmail(email)
	if email == "" || pass == "" {
		return LoginResult{}, ErrInvalidCredentials
	}
	ip := ClientIPFromContext(ctx)

	if e.limiter != nil {
		if err := e.limiter.CheckLogin(ctx, email, ip); err != nil {
			return LoginResult{}, e.loginLimiterErr(ctx, err)
		}
	}

	account, err := e.accounts.GetByEmail(ctx, email)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return LoginResult{}, e.storeErr("get account by email", err)
	}

	ok := false
	if err == nil && account.PasswordHash != "" {
		ok, err = e.hasher.Verify(pass, account.PasswordHash)
		if err != nil {
			e.log.Error("stored password hash is unreadable", zap.String("account_id", account.ID), zap.Error(err))
			ok = false
		}
	} else {
		// Same argon2 cost for unknown emails and federated-only accounts.
		_, _ = e.hasher.Verify(pass, e.dummyHash)
	}

	if !ok {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, account.ID, "", ErrInvalidCredentials, nil)
		if e.limiter != nil {
			if err := e.limiter.RecordLoginFailure(ctx, email, ip); err != nil && !errors.Is(err, rate.ErrRateLimited) {
				e.log.Warn("record login failure", zap.Error(err))
			}
		}
		return LoginResult{}, ErrInvalidCredentials
	}

	if e.config.OTP.RequireVerifiedLogin && !account.Verified {
		e.emitAudit(ctx, auditEventLoginFailure, false, account.ID, "", ErrEmailNotVerified, nil)
		return LoginResult{}, ErrEmailNotVerified
	}

	if e.limiter != nil {
		if err := e.limiter.ResetLogin(ctx, email, ip); err != nil {
			e.log.Warn("reset login attempts", zap.String("account_id", account.ID), zap.Error(err))
		}
	}
	e.upgradeHash(ctx, account, pass)

	pair, _, err := e.issuePair(ctx, account, account.ActiveRole)
	if err != nil {
		return LoginResult{}, err
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, account.ID, account.ActiveRole, nil, nil)
	return LoginResult{Account: account, Pair: pair}, nil
}

func (e *Engine) loginLimiterErr(ctx context.Context, err error) error {
	if errors.Is(err, rate.ErrRateLimited) {
		e.metricInc(MetricLoginRateLimited)
		e.emitRateLimit(ctx, "login", "")
		return ErrRateLimited
	}
	return e.storeErr("login rate limiter", err)
}

// upgradeHash rehashes with the current parameters after a successful login.
// Failures are logged; the login still succeeds.
func (e *Engine) upgradeHash(ctx context.Context, account Account, pass string) {
	needs, err := e.hasher.NeedsUpgrade(account.PasswordHash)
	if err != nil || !needs {
		return
	}
	hash, err := e.hasher.Hash(pass)
	if err != nil {
		return
	}
	if err := e.accounts.UpdatePasswordHash(ctx, account.ID, hash); err != nil {
		e.log.Warn("password hash upgrade failed", zap.String("account_id", account.ID), zap.Error(err))
	}
}

// VerifyEmail consumes a verify-email code and marks the account verified.
// Unknown emails report ErrCodeInvalid so the endpoint does not reveal
// which addresses are registered.
func (e *Engine) VerifyEmail(ctx context.Context, email, code string) (Account, error) {
	account, err := e.accounts.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Account{}, ErrCodeInvalid
		}
		return Account{}, e.storeErr("get account by email", err)
	}

	if err := e.VerifyOTP(ctx, account.ID, PurposeVerifyEmail, code); err != nil {
		return Account{}, err
	}

	if err := e.accounts.UpdateVerificationStatus(ctx, account.ID, true); err != nil {
		return Account{}, e.storeErr("mark account verified", err)
	}
	account.Verified = true

	e.emitAudit(ctx, auditEventEmailVerified, true, account.ID, "", nil, nil)
	return account, nil
}

// ResendVerification emails a new verify-email code. Unknown and already
// verified emails succeed without sending anything.
func (e *Engine) ResendVerification(ctx context.Context, email string) (OTPDispatch, error) {
	account, err := e.accounts.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return OTPDispatch{}, nil
		}
		return OTPDispatch{}, e.storeErr("get account by email", err)
	}
	if account.Verified {
		return OTPDispatch{}, nil
	}
	return e.SendOTP(ctx, account, PurposeVerifyEmail)
}

// RequestPasswordReset emails a reset-password code. It returns nil for
// unknown emails and logs delivery failures instead of returning them, so
// the response never reveals whether an account exists.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) error {
	e.metricInc(MetricPasswordResetRequest)

	account, err := e.accounts.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			e.emitAudit(ctx, auditEventResetRequested, false, "", "", err, nil)
			return nil
		}
		return e.storeErr("get account by email", err)
	}

	if _, err := e.SendOTP(ctx, account, PurposeResetPassword); err != nil {
		if errors.Is(err, ErrEmailDeliveryFailed) {
			return nil
		}
		return err
	}
	e.emitAudit(ctx, auditEventResetRequested, true, account.ID, "", nil, nil)
	return nil
}

// ResetPassword consumes a reset-password code, stores the new password and
// revokes every refresh token of the account. A successful reset also proves
// ownership of the email, so the account becomes verified.
func (e *Engine) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	if len(newPassword) < e.hasher.MinLength() {
		return fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, e.hasher.MinLength())
	}

	email = normalizeEmail(email)
	account, err := e.accounts.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrCodeInvalid
		}
		return e.storeErr("get account by email", err)
	}

	if err := e.VerifyOTP(ctx, account.ID, PurposeResetPassword, code); err != nil {
		return err
	}

	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := e.accounts.UpdatePasswordHash(ctx, account.ID, hash); err != nil {
		return e.storeErr("update password hash", err)
	}
	if !account.Verified {
		if err := e.accounts.UpdateVerificationStatus(ctx, account.ID, true); err != nil {
			return e.storeErr("mark account verified", err)
		}
	}
	if err := e.RevokeAll(ctx, account.ID); err != nil {
		return err
	}
	if e.limiter != nil {
		if err := e.limiter.ResetLogin(ctx, email, ClientIPFromContext(ctx)); err != nil {
			e.log.Warn("reset login attempts", zap.String("account_id", account.ID), zap.Error(err))
		}
	}

	e.metricInc(MetricPasswordResetSuccess)
	e.emitAudit(ctx, auditEventResetCompleted, true, account.ID, "", nil, nil)
	return nil
}
