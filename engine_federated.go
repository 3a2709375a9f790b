package rideauth

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/rideauth/federated"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// VerifyGoogleToken validates a Google ID token. Every rejection is
// ErrInvalidProviderToken.
func (e *Engine) VerifyGoogleToken(ctx context.Context, idToken string) (federated.Identity, error) {
	return e.verifyProviderToken(ctx, ProviderGoogle, e.google, idToken)
}

// VerifyAppleToken validates a Sign in with Apple identity token.
func (e *Engine) VerifyAppleToken(ctx context.Context, identityToken string) (federated.Identity, error) {
	return e.verifyProviderToken(ctx, ProviderApple, e.apple, identityToken)
}

func (e *Engine) verifyProviderToken(ctx context.Context, provider Provider, v IdentityVerifier, raw string) (federated.Identity, error) {
	if v == nil {
		return federated.Identity{}, fmt.Errorf("%w: %s sign-in is not enabled", ErrInvalidProviderToken, provider)
	}
	id, err := v.Verify(ctx, raw)
	if err != nil {
		e.metricInc(MetricFederatedFailure)
		e.log.Debug("provider token rejected", zap.String("provider", string(provider)), zap.Error(err))
		e.emitAudit(ctx, auditEventFederatedFailure, false, "", "", ErrInvalidProviderToken, func() map[string]string {
			return map[string]string{"provider": string(provider)}
		})
		return federated.Identity{}, ErrInvalidProviderToken
	}
	if id.Provider == "" {
		id.Provider = string(provider)
	}
	return id, nil
}

type linkAction int

const (
	linkCreate linkAction = iota
	linkExisting
	linkRefuse
)

// linkDecision is the whole link policy. emailOwned reports whether a local
// account already owns the identity's email.
func linkDecision(policy LinkPolicy, emailOwned, emailVerified bool) linkAction {
	if !emailOwned {
		return linkCreate
	}
	if policy == LinkVerifiedEmail && emailVerified {
		return linkExisting
	}
	return linkRefuse
}

// ResolveAccount maps a verified identity to a local account. An existing
// provider mapping always wins; otherwise the configured LinkPolicy decides
// between linking, creating and ErrAccountLinkRequired.
func (e *Engine) ResolveAccount(ctx context.Context, id federated.Identity) (Account, bool, error) {
	if id.Provider == "" || id.Subject == "" {
		return Account{}, false, ErrInvalidProviderToken
	}
	provider := Provider(id.Provider)

	account, err := e.accounts.GetByProviderIdentity(ctx, provider, id.Subject)
	if err == nil {
		return account, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Account{}, false, e.storeErr("get account by identity", err)
	}

	email := normalizeEmail(id.Email)
	if email == "" {
		return Account{}, false, fmt.Errorf("%w: identity has no email", ErrInvalidProviderToken)
	}

	existing, err := e.accounts.GetByEmail(ctx, email)
	owned := err == nil
	if err != nil && !errors.Is(err, ErrNotFound) {
		return Account{}, false, e.storeErr("get account by email", err)
	}

	identity := FederatedIdentity{
		Provider:  provider,
		Subject:   id.Subject,
		AccountID: existing.ID,
		Email:     email,
		LinkedAt:  e.now(),
	}

	switch linkDecision(e.config.Federated.LinkPolicy, owned, id.EmailVerified) {
	case linkExisting:
		if err := e.accounts.LinkIdentity(ctx, identity); err != nil {
			if errors.Is(err, ErrConflict) {
				// Lost a race with another sign-in for the same subject.
				return e.accountByIdentity(ctx, provider, id.Subject)
			}
			return Account{}, false, e.storeErr("link identity", err)
		}
		if !existing.Verified {
			if err := e.accounts.UpdateVerificationStatus(ctx, existing.ID, true); err != nil {
				return Account{}, false, e.storeErr("mark account verified", err)
			}
			existing.Verified = true
		}
		e.emitAudit(ctx, auditEventFederatedLinked, true, existing.ID, "", nil, func() map[string]string {
			return map[string]string{"provider": id.Provider}
		})
		return existing, false, nil

	case linkRefuse:
		e.metricInc(MetricFederatedLinkRequired)
		e.emitAudit(ctx, auditEventFederatedFailure, false, existing.ID, "", ErrAccountLinkRequired, func() map[string]string {
			return map[string]string{"provider": id.Provider}
		})
		return Account{}, false, ErrAccountLinkRequired
	}

	role := e.config.Roles.Default
	created, err := e.accounts.Create(ctx, NewAccount{
		ID:         uuid.NewString(),
		Email:      email,
		Roles:      []Role{role},
		ActiveRole: role,
		Verified:   id.EmailVerified,
		Identity:   &identity,
	})
	if err != nil {
		if errors.Is(err, ErrConflict) {
			// Either the subject or the email was taken concurrently. A
			// mapping for this subject means the other request won.
			acc, _, lookupErr := e.accountByIdentity(ctx, provider, id.Subject)
			if lookupErr == nil {
				return acc, false, nil
			}
			return Account{}, false, ErrAccountLinkRequired
		}
		return Account{}, false, e.storeErr("create federated account", err)
	}
	e.metricInc(MetricRegisterSuccess)
	e.emitAudit(ctx, auditEventRegister, true, created.ID, role, nil, func() map[string]string {
		return map[string]string{"provider": id.Provider}
	})
	return created, true, nil
}

func (e *Engine) accountByIdentity(ctx context.Context, provider Provider, subject string) (Account, bool, error) {
	acc, err := e.accounts.GetByProviderIdentity(ctx, provider, subject)
	if err != nil {
		return Account{}, false, e.storeErr("get account by identity", err)
	}
	return acc, false, nil
}

// SignInWithGoogle verifies a Google ID token, resolves the account and
// issues a token pair for its active role.
func (e *Engine) SignInWithGoogle(ctx context.Context, idToken string) (LoginResult, error) {
	id, err := e.VerifyGoogleToken(ctx, idToken)
	if err != nil {
		return LoginResult{}, err
	}
	return e.signInFederated(ctx, id)
}

// SignInWithApple is SignInWithGoogle for Apple identity tokens.
func (e *Engine) SignInWithApple(ctx context.Context, identityToken string) (LoginResult, error) {
	id, err := e.VerifyAppleToken(ctx, identityToken)
	if err != nil {
		return LoginResult{}, err
	}
	return e.signInFederated(ctx, id)
}

func (e *Engine) signInFederated(ctx context.Context, id federated.Identity) (LoginResult, error) {
	account, created, err := e.ResolveAccount(ctx, id)
	if err != nil {
		if !errors.Is(err, ErrAccountLinkRequired) {
			e.metricInc(MetricFederatedFailure)
		}
		return LoginResult{}, err
	}

	pair, _, err := e.issuePair(ctx, account, account.ActiveRole)
	if err != nil {
		return LoginResult{}, err
	}

	e.metricInc(MetricFederatedSuccess)
	e.emitAudit(ctx, auditEventFederatedSignIn, true, account.ID, account.ActiveRole, nil, func() map[string]string {
		return map[string]string{"provider": id.Provider}
	})
	return LoginResult{Account: account, Pair: pair, Created: created}, nil
}
