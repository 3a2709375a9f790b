package rideauth

import (
	"context"
	"time"
)

// Role names a capability set such as rider, driver or admin.
type Role string

// Purpose scopes an OTP record.
type Purpose string

const (
	PurposeVerifyEmail   Purpose = "verify-email"
	PurposeResetPassword Purpose = "reset-password"
)

// Valid reports whether p is one of the known purposes.
func (p Purpose) Valid() bool {
	return p == PurposeVerifyEmail || p == PurposeResetPassword
}

// Provider identifies a federated identity provider.
type Provider string

const (
	ProviderGoogle Provider = "google"
	ProviderApple  Provider = "apple"
)

// Account is the persisted user record.
//
// ActiveRole is always a member of Roles. Stores persist both fields together.
type Account struct {
	ID           string
	Email        string
	PasswordHash string
	Roles        []Role
	ActiveRole   Role
	Verified     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HasRole reports whether r is in the assigned role set.
func (a Account) HasRole(r Role) bool {
	for _, assigned := range a.Roles {
		if assigned == r {
			return true
		}
	}
	return false
}

// FederatedIdentity links a provider subject to a local account.
type FederatedIdentity struct {
	Provider  Provider
	Subject   string
	AccountID string
	Email     string
	LinkedAt  time.Time
}

// AccessClaims is the verified view of an access token.
type AccessClaims struct {
	AccountID string
	Email     string
	Role      Role
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenPair is returned by every operation that mints credentials.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// RefreshRecord is the persisted reference to an issued refresh token.
// ID is the token's rotation identifier (the jti claim).
type RefreshRecord struct {
	ID         string
	AccountID  string
	IssuedAt   time.Time
	ExpiresAt  time.Time
	ConsumedAt time.Time
}

// Consumed reports whether the record has been rotated or revoked.
func (r RefreshRecord) Consumed() bool {
	return !r.ConsumedAt.IsZero()
}

// OTPRecord stores the hash of a one-time code, never the code itself.
type OTPRecord struct {
	ID        string
	AccountID string
	Purpose   Purpose
	CodeHash  [32]byte
	ExpiresAt time.Time
	Consumed  bool
	CreatedAt time.Time
}

// ConsumeResult is the outcome of an atomic consume on a refresh or OTP record.
type ConsumeResult int

const (
	// ConsumeOK means this caller flipped the record to consumed.
	ConsumeOK ConsumeResult = iota
	// ConsumeNotFound means the record does not exist or was superseded.
	ConsumeNotFound
	// ConsumeAlreadyConsumed means another caller won the race, or the record was revoked.
	ConsumeAlreadyConsumed
	// ConsumeExpired means the record exists but is past its expiry.
	ConsumeExpired
)

func (r ConsumeResult) String() string {
	switch r {
	case ConsumeOK:
		return "ok"
	case ConsumeNotFound:
		return "not_found"
	case ConsumeAlreadyConsumed:
		return "already_consumed"
	case ConsumeExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// NewAccount is the input to AccountStore.Create. Identity is set for
// accounts created by a first federated sign-in.
type NewAccount struct {
	ID           string
	Email        string
	PasswordHash string
	Roles        []Role
	ActiveRole   Role
	Verified     bool
	Identity     *FederatedIdentity
}

// AccountStore persists accounts and their federated identities.
// Implementations return ErrNotFound and ErrConflict; anything else is
// treated as a backend failure.
type AccountStore interface {
	GetByID(ctx context.Context, id string) (Account, error)
	GetByEmail(ctx context.Context, email string) (Account, error)
	GetByProviderIdentity(ctx context.Context, provider Provider, subject string) (Account, error)
	Create(ctx context.Context, in NewAccount) (Account, error)
	LinkIdentity(ctx context.Context, identity FederatedIdentity) error
	UpdateRoles(ctx context.Context, id string, roles []Role, active Role) (Account, error)
	// SetActiveRole changes only the active role, and only while role is in
	// the stored assigned set. It returns ErrConflict when it is not.
	SetActiveRole(ctx context.Context, id string, role Role) (Account, error)
	UpdateVerificationStatus(ctx context.Context, id string, verified bool) error
	UpdatePasswordHash(ctx context.Context, id string, hash string) error
}

// RefreshTokenStore persists refresh token references.
//
// MarkConsumed must be an atomic compare-and-set: for one record id exactly
// one concurrent caller observes ConsumeOK.
type RefreshTokenStore interface {
	Save(ctx context.Context, rec RefreshRecord) error
	FindByID(ctx context.Context, id string) (RefreshRecord, error)
	MarkConsumed(ctx context.Context, id string, now time.Time) (ConsumeResult, error)
	DeleteAllForAccount(ctx context.Context, accountID string) error
}

// OTPStore persists hashed one-time codes.
//
// Save replaces the current record for (AccountID, Purpose) atomically.
// FindCurrent returns that record even when it is consumed or expired, so
// callers can tell those states apart. MarkConsumed only succeeds for the
// record id that is still current.
type OTPStore interface {
	Save(ctx context.Context, rec OTPRecord, retain time.Duration) error
	FindCurrent(ctx context.Context, accountID string, purpose Purpose) (OTPRecord, error)
	MarkConsumed(ctx context.Context, accountID string, purpose Purpose, recordID string, now time.Time) (ConsumeResult, error)
}

// EmailSender delivers plain-text mail.
type EmailSender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// EmailSenderFunc adapts a function to EmailSender.
type EmailSenderFunc func(ctx context.Context, to, subject, body string) error

// Send calls f.
func (f EmailSenderFunc) Send(ctx context.Context, to, subject, body string) error {
	return f(ctx, to, subject, body)
}
