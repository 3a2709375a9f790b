package rideauth

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/rideauth/internal/ids"
	"github.com/MrEthical07/rideauth/jwt"
	"go.uber.org/zap"
)

const tokenTypeBearer = "Bearer"

// IssueTokenPair signs an access token carrying activeRole and a refresh
// token, and persists the refresh record. activeRole must be assigned.
func (e *Engine) IssueTokenPair(ctx context.Context, account Account, activeRole Role) (TokenPair, error) {
	if !account.HasRole(activeRole) {
		return TokenPair{}, ErrRoleNotAssigned
	}
	pair, _, err := e.issuePair(ctx, account, activeRole)
	return pair, err
}

func (e *Engine) issuePair(ctx context.Context, account Account, role Role) (TokenPair, AccessClaims, error) {
	accessID := ids.New()
	accessToken, accessExp, err := e.access.Issue(account.ID, accessID, account.Email, string(role))
	if err != nil {
		e.log.Error("sign access token", zap.String("account_id", account.ID), zap.Error(err))
		return TokenPair{}, AccessClaims{}, err
	}

	now := e.now()
	refreshID := ids.NewAt(now)
	refreshToken, refreshExp, err := e.refresh.Issue(account.ID, refreshID, "", "")
	if err != nil {
		e.log.Error("sign refresh token", zap.String("account_id", account.ID), zap.Error(err))
		return TokenPair{}, AccessClaims{}, err
	}

	if err := e.refreshStore.Save(ctx, RefreshRecord{
		ID:        refreshID,
		AccountID: account.ID,
		IssuedAt:  now,
		ExpiresAt: refreshExp,
	}); err != nil {
		return TokenPair{}, AccessClaims{}, e.storeErr("save refresh record", err)
	}

	pair := TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		TokenType:        tokenTypeBearer,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}
	claims := AccessClaims{
		AccountID: account.ID,
		Email:     account.Email,
		Role:      role,
		TokenID:   accessID,
		IssuedAt:  now.Truncate(time.Second),
		ExpiresAt: accessExp,
	}
	return pair, claims, nil
}

// VerifyAccessToken checks signature, algorithm, issuer, audience, expiry and
// claim shape. It never touches a store.
func (e *Engine) VerifyAccessToken(ctx context.Context, token string) (AccessClaims, error) {
	start := time.Now()
	defer e.metricObserve(MetricVerifyLatency, start)

	claims, err := e.access.Parse(token)
	if err != nil {
		return AccessClaims{}, mapTokenError(err)
	}

	out := AccessClaims{
		AccountID: claims.Subject,
		Email:     claims.Email,
		Role:      Role(claims.Role),
		TokenID:   claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	return out, nil
}

func mapTokenError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrExpired):
		return ErrExpiredToken
	case errors.Is(err, jwt.ErrSignature):
		return ErrInvalidSignature
	default:
		return ErrMalformedToken
	}
}

// Refresh rotates a refresh token. The old record is consumed with an atomic
// compare-and-set, so of two concurrent calls with one token exactly one
// gets a new pair and the other gets ErrInvalidRefreshToken. The new access
// token carries the account's current active role.
//
// The old record is consumed before the account is loaded and the new pair
// is stored. If either of those later steps fails the caller has lost the
// session and must sign in again; the failure is logged at error level with
// the consumed rotation id.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	claims, err := e.refresh.Parse(refreshToken)
	if err != nil {
		e.refreshFailed(ctx, "", err)
		return TokenPair{}, ErrInvalidRefreshToken
	}

	res, err := e.refreshStore.MarkConsumed(ctx, claims.ID, e.now())
	if err != nil {
		return TokenPair{}, e.storeErr("consume refresh record", err)
	}

	switch res {
	case ConsumeOK:
	case ConsumeAlreadyConsumed:
		e.metricInc(MetricRefreshReuseDetected)
		e.emitAudit(ctx, auditEventRefreshReuse, false, claims.Subject, "", ErrInvalidRefreshToken, nil)
		if e.config.Refresh.RevokeAllOnReuse {
			if err := e.refreshStore.DeleteAllForAccount(ctx, claims.Subject); err != nil {
				e.log.Error("revoke after refresh reuse", zap.String("account_id", claims.Subject), zap.Error(err))
			}
		}
		e.metricInc(MetricRefreshFailure)
		return TokenPair{}, ErrInvalidRefreshToken
	default:
		e.refreshFailed(ctx, claims.Subject, errors.New(res.String()))
		return TokenPair{}, ErrInvalidRefreshToken
	}

	account, err := e.accounts.GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			e.refreshFailed(ctx, claims.Subject, err)
			return TokenPair{}, ErrInvalidRefreshToken
		}
		e.rotationLost(claims, "load account", err)
		return TokenPair{}, e.storeErr("load account for refresh", err)
	}

	pair, _, err := e.issuePair(ctx, account, account.ActiveRole)
	if err != nil {
		e.rotationLost(claims, "issue pair", err)
		return TokenPair{}, err
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, true, account.ID, account.ActiveRole, nil, nil)
	return pair, nil
}

func (e *Engine) rotationLost(claims *jwt.Claims, step string, err error) {
	e.metricInc(MetricRefreshFailure)
	e.log.Error("refresh rotation lost after consume",
		zap.String("step", step),
		zap.String("rotation_id", claims.ID),
		zap.String("account_id", claims.Subject),
		zap.Error(err))
}

func (e *Engine) refreshFailed(ctx context.Context, accountID string, cause error) {
	e.metricInc(MetricRefreshFailure)
	e.emitAudit(ctx, auditEventRefreshInvalid, false, accountID, "", ErrInvalidRefreshToken, func() map[string]string {
		return map[string]string{"reason": cause.Error()}
	})
}

// Revoke consumes a refresh token. Revoking a consumed, expired or unknown
// token is not an error; only tokens we did not sign are rejected.
func (e *Engine) Revoke(ctx context.Context, refreshToken string) error {
	claims, err := e.refresh.ParseAllowExpired(refreshToken)
	if err != nil {
		return ErrInvalidRefreshToken
	}
	if _, err := e.refreshStore.MarkConsumed(ctx, claims.ID, e.now()); err != nil {
		return e.storeErr("revoke refresh record", err)
	}
	return nil
}

// RevokeAll deletes every refresh record of the account.
func (e *Engine) RevokeAll(ctx context.Context, accountID string) error {
	if accountID == "" {
		return ErrInvalidInput
	}
	if err := e.refreshStore.DeleteAllForAccount(ctx, accountID); err != nil {
		return e.storeErr("revoke all refresh records", err)
	}
	return nil
}

// Logout revokes a single refresh token.
func (e *Engine) Logout(ctx context.Context, refreshToken string) error {
	if err := e.Revoke(ctx, refreshToken); err != nil {
		return err
	}
	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditEventLogout, true, "", "", nil, nil)
	return nil
}

// LogoutAll revokes every refresh token of the account. Access tokens stay
// valid until they expire.
func (e *Engine) LogoutAll(ctx context.Context, accountID string) error {
	if err := e.RevokeAll(ctx, accountID); err != nil {
		return err
	}
	e.metricInc(MetricLogoutAll)
	e.emitAudit(ctx, auditEventLogoutAll, true, accountID, "", nil, nil)
	return nil
}
