package rideauth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/rideauth/internal"
	"github.com/MrEthical07/rideauth/internal/ids"
	"github.com/MrEthical07/rideauth/internal/rate"
	"go.uber.org/zap"
)

// OTPDispatch describes a code that was generated and handed to the email
// sender. Delivered is false when the sender failed; the code is still valid.
type OTPDispatch struct {
	AccountID string    `json:"account_id"`
	Purpose   Purpose   `json:"purpose"`
	ExpiresAt time.Time `json:"expires_at"`
	Delivered bool      `json:"delivered"`
}

// GenerateOTP creates a numeric code for (account, purpose), stores its
// HMAC and replaces any previous code of the same purpose. The plaintext is
// returned for delivery and never stored or logged.
func (e *Engine) GenerateOTP(ctx context.Context, account Account, purpose Purpose) (string, time.Time, error) {
	if !purpose.Valid() || account.ID == "" {
		return "", time.Time{}, ErrInvalidInput
	}

	code, err := internal.NewOTP(e.config.OTP.Digits)
	if err != nil {
		return "", time.Time{}, err
	}

	now := e.now()
	rec := OTPRecord{
		ID:        ids.NewAt(now),
		AccountID: account.ID,
		Purpose:   purpose,
		CodeHash:  internal.HashOTP(e.config.OTP.Pepper, code),
		ExpiresAt: now.Add(e.config.OTP.TTL),
		CreatedAt: now,
	}
	if err := e.otpStore.Save(ctx, rec, e.config.OTP.Retention); err != nil {
		return "", time.Time{}, e.storeErr("save otp", err)
	}

	if e.limiter != nil {
		if err := e.limiter.ResetOTP(ctx, account.ID, string(purpose)); err != nil {
			e.log.Warn("reset otp attempts", zap.String("account_id", account.ID), zap.Error(err))
		}
	}

	e.metricInc(MetricOTPIssued)
	e.emitAudit(ctx, auditEventOTPIssued, true, account.ID, "", nil, func() map[string]string {
		return map[string]string{"purpose": string(purpose)}
	})
	return code, rec.ExpiresAt, nil
}

// VerifyOTP checks code against the current record for (accountID, purpose)
// and consumes it on success. A failed check never changes the record.
func (e *Engine) VerifyOTP(ctx context.Context, accountID string, purpose Purpose, code string) error {
	if !purpose.Valid() || accountID == "" {
		return ErrInvalidInput
	}

	if e.limiter != nil {
		if err := e.limiter.CountOTPAttempt(ctx, accountID, string(purpose)); err != nil {
			if errors.Is(err, rate.ErrRateLimited) {
				e.metricInc(MetricOTPRateLimited)
				e.emitRateLimit(ctx, "otp_verify", accountID)
				return ErrRateLimited
			}
			return e.storeErr("otp rate limiter", err)
		}
	}

	err := e.verifyOTP(ctx, accountID, purpose, strings.TrimSpace(code))
	if err != nil {
		e.metricInc(MetricOTPFailure)
		e.emitAudit(ctx, auditEventOTPFailure, false, accountID, "", err, func() map[string]string {
			return map[string]string{"purpose": string(purpose)}
		})
		return err
	}

	e.metricInc(MetricOTPVerified)
	e.emitAudit(ctx, auditEventOTPVerified, true, accountID, "", nil, func() map[string]string {
		return map[string]string{"purpose": string(purpose)}
	})
	return nil
}

func (e *Engine) verifyOTP(ctx context.Context, accountID string, purpose Purpose, code string) error {
	rec, err := e.otpStore.FindCurrent(ctx, accountID, purpose)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrCodeInvalid
		}
		return e.storeErr("find otp", err)
	}

	now := e.now()
	if rec.Consumed {
		return ErrCodeAlreadyUsed
	}
	if !now.Before(rec.ExpiresAt) {
		return ErrCodeExpired
	}
	if len(code) != e.config.OTP.Digits || !internal.IsNumeric(code) {
		return ErrCodeInvalid
	}
	if !internal.EqualHash(internal.HashOTP(e.config.OTP.Pepper, code), rec.CodeHash) {
		return ErrCodeInvalid
	}

	res, err := e.otpStore.MarkConsumed(ctx, accountID, purpose, rec.ID, now)
	if err != nil {
		return e.storeErr("consume otp", err)
	}
	switch res {
	case ConsumeOK:
		return nil
	case ConsumeAlreadyConsumed:
		return ErrCodeAlreadyUsed
	case ConsumeExpired:
		return ErrCodeExpired
	default:
		// Superseded between read and consume.
		return ErrCodeInvalid
	}
}

// SendOTP generates a code and emails it. When the sender fails the
// returned error wraps ErrEmailDeliveryFailed and the dispatch is still
// valid.
func (e *Engine) SendOTP(ctx context.Context, account Account, purpose Purpose) (OTPDispatch, error) {
	code, expiresAt, err := e.GenerateOTP(ctx, account, purpose)
	if err != nil {
		return OTPDispatch{}, err
	}

	dispatch := OTPDispatch{
		AccountID: account.ID,
		Purpose:   purpose,
		ExpiresAt: expiresAt,
	}
	subject, body := e.renderOTPEmail(purpose, code)
	if err := e.email.Send(ctx, account.Email, subject, body); err != nil {
		e.metricInc(MetricEmailDeliveryFailure)
		e.log.Warn("otp email delivery failed",
			zap.String("account_id", account.ID),
			zap.String("purpose", string(purpose)),
			zap.Error(err))
		e.emitAudit(ctx, auditEventOTPIssued, false, account.ID, "", ErrEmailDeliveryFailed, nil)
		return dispatch, fmt.Errorf("%w: %v", ErrEmailDeliveryFailed, err)
	}
	dispatch.Delivered = true
	return dispatch, nil
}

// ResendOTP issues a fresh code, superseding the previous one. Callers
// throttle how often it runs.
func (e *Engine) ResendOTP(ctx context.Context, accountID string, purpose Purpose) (OTPDispatch, error) {
	if !purpose.Valid() {
		return OTPDispatch{}, ErrInvalidInput
	}
	account, err := e.Account(ctx, accountID)
	if err != nil {
		return OTPDispatch{}, err
	}
	if purpose == PurposeVerifyEmail && account.Verified {
		return OTPDispatch{}, fmt.Errorf("%w: email already verified", ErrConflict)
	}
	return e.SendOTP(ctx, account, purpose)
}

func (e *Engine) renderOTPEmail(purpose Purpose, code string) (string, string) {
	app := e.config.OTP.AppName
	minutes := int(e.config.OTP.TTL / time.Minute)
	if minutes < 1 {
		minutes = 1
	}

	switch purpose {
	case PurposeResetPassword:
		return fmt.Sprintf("%s password reset code", app),
			fmt.Sprintf("Your %s password reset code is %s.\nIt expires in %d minutes. If you did not ask to reset your password, ignore this email.\n", app, code, minutes)
	default:
		return fmt.Sprintf("Verify your %s email", app),
			fmt.Sprintf("Your %s verification code is %s.\nIt expires in %d minutes.\n", app, code, minutes)
	}
}
