package rideauth

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/rideauth/roles"
	"github.com/MrEthical07/rideauth/servicekey"
	"go.uber.org/zap"
)

// RoleSwitch is the result of SwitchActiveRole.
type RoleSwitch struct {
	Account Account
	Claims  AccessClaims
	Pair    TokenPair
}

// Authorize reports whether claims may act as required. The active role must
// equal required or inherit it through the configured hierarchy.
func (e *Engine) Authorize(ctx context.Context, claims AccessClaims, required Role) error {
	if e.roles.Permits(string(claims.Role), string(required)) {
		return nil
	}
	e.metricInc(MetricRoleForbidden)
	e.emitAudit(ctx, auditEventRoleForbidden, false, claims.AccountID, claims.Role, ErrForbidden, func() map[string]string {
		return map[string]string{"required": string(required)}
	})
	return ErrForbidden
}

// SwitchActiveRole persists requested as the account's active role and
// issues a pair carrying it. Existing access tokens keep their old role
// until they expire.
func (e *Engine) SwitchActiveRole(ctx context.Context, accountID string, requested Role) (RoleSwitch, error) {
	account, err := e.Account(ctx, accountID)
	if err != nil {
		return RoleSwitch{}, err
	}
	if !account.HasRole(requested) {
		e.emitAudit(ctx, auditEventRoleSwitch, false, account.ID, requested, ErrRoleNotAssigned, nil)
		return RoleSwitch{}, ErrRoleNotAssigned
	}

	// The store rechecks membership; an admin may have removed the role
	// since the read above.
	account, err = e.accounts.SetActiveRole(ctx, account.ID, requested)
	if err != nil {
		if errors.Is(err, ErrConflict) || errors.Is(err, ErrNotFound) {
			e.emitAudit(ctx, auditEventRoleSwitch, false, accountID, requested, ErrRoleNotAssigned, nil)
			return RoleSwitch{}, ErrRoleNotAssigned
		}
		return RoleSwitch{}, e.storeErr("set active role", err)
	}

	pair, claims, err := e.issuePair(ctx, account, requested)
	if err != nil {
		return RoleSwitch{}, err
	}

	e.metricInc(MetricRoleSwitch)
	e.emitAudit(ctx, auditEventRoleSwitch, true, account.ID, requested, nil, nil)
	return RoleSwitch{Account: account, Claims: claims, Pair: pair}, nil
}

// UpdateAssignedRoles replaces the target's role set. Only the admin role may
// call it, and that is checked before the target is loaded. When the active
// role is dropped, the first new role becomes active.
func (e *Engine) UpdateAssignedRoles(ctx context.Context, actor AccessClaims, targetID string, newRoles []Role) (Account, error) {
	if actor.Role != e.config.Roles.Admin {
		e.metricInc(MetricRoleForbidden)
		e.emitAudit(ctx, auditEventRoleUpdate, false, actor.AccountID, actor.Role, ErrForbidden, nil)
		return Account{}, ErrForbidden
	}

	names := make([]string, 0, len(newRoles))
	for _, r := range newRoles {
		names = append(names, string(r))
	}
	normalized, err := e.roles.Normalize(names)
	if err != nil {
		if errors.Is(err, roles.ErrNoRoles) {
			return Account{}, fmt.Errorf("%w: at least one role is required", ErrInvalidInput)
		}
		return Account{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	assigned := make([]Role, 0, len(normalized))
	for _, r := range normalized {
		assigned = append(assigned, Role(r))
	}

	target, err := e.Account(ctx, targetID)
	if err != nil {
		return Account{}, err
	}

	active := target.ActiveRole
	keep := false
	for _, r := range assigned {
		if r == active {
			keep = true
			break
		}
	}
	if !keep {
		active = assigned[0]
	}

	updated, err := e.accounts.UpdateRoles(ctx, target.ID, assigned, active)
	if err != nil {
		return Account{}, e.storeErr("update roles", err)
	}

	e.metricInc(MetricRoleUpdate)
	e.emitAudit(ctx, auditEventRoleUpdate, true, target.ID, active, nil, func() map[string]string {
		return map[string]string{"actor": actor.AccountID}
	})
	return updated, nil
}

// VerifyInternalKey checks a service-to-service key. With no key configured
// every call is denied.
func (e *Engine) VerifyInternalKey(ctx context.Context, key string) servicekey.Decision {
	if e.internalKey == nil {
		d := servicekey.DenyMismatch
		e.metricInc(MetricInternalKeyDenied)
		e.log.Warn(d.Signal(), zap.String("cause", "no internal key configured"))
		e.emitInternalDenied(ctx, d)
		return d
	}
	d := e.internalKey.Verify(key)
	if !d.Allowed() {
		e.emitInternalDenied(ctx, d)
	}
	return d
}

func (e *Engine) emitInternalDenied(ctx context.Context, d servicekey.Decision) {
	e.emitAudit(ctx, auditEventInternalDenied, false, "", "", ErrUnauthorized, func() map[string]string {
		return map[string]string{"reason": d.Signal()}
	})
}
