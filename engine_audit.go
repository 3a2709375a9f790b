package rideauth

import (
	"context"
	"errors"
	"time"
)

const (
	auditEventRegister         = "account_register"
	auditEventLoginSuccess     = "login_success"
	auditEventLoginFailure     = "login_failure"
	auditEventRefreshSuccess   = "refresh_success"
	auditEventRefreshInvalid   = "refresh_invalid"
	auditEventRefreshReuse     = "refresh_reuse_detected"
	auditEventLogout           = "logout"
	auditEventLogoutAll        = "logout_all"
	auditEventOTPIssued        = "otp_issued"
	auditEventOTPVerified      = "otp_verified"
	auditEventOTPFailure       = "otp_failure"
	auditEventEmailVerified    = "email_verified"
	auditEventResetRequested   = "password_reset_request"
	auditEventResetCompleted   = "password_reset_confirm"
	auditEventFederatedSignIn  = "federated_sign_in"
	auditEventFederatedFailure = "federated_failure"
	auditEventFederatedLinked  = "federated_linked"
	auditEventRoleSwitch       = "role_switch"
	auditEventRoleUpdate       = "role_update"
	auditEventRoleForbidden    = "role_forbidden"
	auditEventInternalDenied   = "internal_key_denied"
	auditEventRateLimited      = "rate_limit_triggered"
)

// AuditErrorCode is the stable error label carried by failed audit events.
type AuditErrorCode string

const (
	auditErrUnauthorized       AuditErrorCode = "unauthorized"
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrRateLimited        AuditErrorCode = "rate_limited"
	auditErrInvalidToken       AuditErrorCode = "invalid_token"
	auditErrExpiredToken       AuditErrorCode = "expired_token"
	auditErrRefreshInvalid     AuditErrorCode = "refresh_invalid"
	auditErrCodeExpired        AuditErrorCode = "code_expired"
	auditErrCodeInvalid        AuditErrorCode = "code_invalid"
	auditErrCodeUsed           AuditErrorCode = "code_already_used"
	auditErrProviderToken      AuditErrorCode = "provider_token_invalid"
	auditErrLinkRequired       AuditErrorCode = "link_required"
	auditErrRoleNotAssigned    AuditErrorCode = "role_not_assigned"
	auditErrForbidden          AuditErrorCode = "forbidden"
	auditErrNotFound           AuditErrorCode = "not_found"
	auditErrDuplicate          AuditErrorCode = "duplicate"
	auditErrEmailDelivery      AuditErrorCode = "email_delivery_failed"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	accountID string,
	role Role,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: e.now().UTC(),
		EventType: eventType,
		AccountID: accountID,
		Role:      string(role),
		RequestID: RequestIDFromContext(ctx),
		IP:        ClientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}
	liftAuditField(&event, "provider", &event.Provider)
	liftAuditField(&event, "purpose", &event.Purpose)

	e.audit.Emit(ctx, event)
}

// liftAuditField moves metadata[key] into a first-class event field.
func liftAuditField(event *AuditEvent, key string, dst *string) {
	v, ok := event.Metadata[key]
	if !ok {
		return
	}
	*dst = v
	delete(event.Metadata, key)
	if len(event.Metadata) == 0 {
		event.Metadata = nil
	}
}

func (e *Engine) emitRateLimit(ctx context.Context, scope string, accountID string) {
	e.metricInc(MetricRateLimitHit)
	e.emitAudit(ctx, auditEventRateLimited, false, accountID, "", ErrRateLimited, func() map[string]string {
		return map[string]string{"scope": scope}
	})
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrUnauthorized):
		return auditErrUnauthorized
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrExpiredToken):
		return auditErrExpiredToken
	case errors.Is(err, ErrInvalidSignature), errors.Is(err, ErrMalformedToken):
		return auditErrInvalidToken
	case errors.Is(err, ErrInvalidRefreshToken):
		return auditErrRefreshInvalid
	case errors.Is(err, ErrCodeExpired):
		return auditErrCodeExpired
	case errors.Is(err, ErrCodeInvalid):
		return auditErrCodeInvalid
	case errors.Is(err, ErrCodeAlreadyUsed):
		return auditErrCodeUsed
	case errors.Is(err, ErrInvalidProviderToken):
		return auditErrProviderToken
	case errors.Is(err, ErrAccountLinkRequired):
		return auditErrLinkRequired
	case errors.Is(err, ErrRoleNotAssigned):
		return auditErrRoleNotAssigned
	case errors.Is(err, ErrForbidden):
		return auditErrForbidden
	case errors.Is(err, ErrNotFound):
		return auditErrNotFound
	case errors.Is(err, ErrConflict):
		return auditErrDuplicate
	case errors.Is(err, ErrEmailDeliveryFailed):
		return auditErrEmailDelivery
	case errors.Is(err, ErrStoreUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) metricObserve(id MetricID, start time.Time) {
	if e == nil || !e.metrics.LatencyEnabled() {
		return
	}
	e.metrics.Observe(id, time.Since(start))
}

// MetricsSnapshot returns the current counter values.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil {
		return (*Metrics)(nil).Snapshot()
	}
	return e.metrics.Snapshot()
}

// AuditDropped reports audit events dropped because the buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}
