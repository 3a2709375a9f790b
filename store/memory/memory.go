// Package memory provides mutex-guarded in-process implementations of the
// rideauth stores. They are meant for tests and single-process development.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MrEthical07/rideauth"
)

type identityKey struct {
	provider rideauth.Provider
	subject  string
}

// AccountStore implements rideauth.AccountStore.
type AccountStore struct {
	mu         sync.RWMutex
	accounts   map[string]rideauth.Account
	byEmail    map[string]string
	identities map[identityKey]rideauth.FederatedIdentity
	now        func() time.Time
}

var _ rideauth.AccountStore = (*AccountStore)(nil)

func NewAccountStore() *AccountStore {
	return &AccountStore{
		accounts:   make(map[string]rideauth.Account),
		byEmail:    make(map[string]string),
		identities: make(map[identityKey]rideauth.FederatedIdentity),
		now:        time.Now,
	}
}

func cloneAccount(a rideauth.Account) rideauth.Account {
	a.Roles = append([]rideauth.Role(nil), a.Roles...)
	return a
}

func (s *AccountStore) GetByID(_ context.Context, id string) (rideauth.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[id]
	if !ok {
		return rideauth.Account{}, rideauth.ErrNotFound
	}
	return cloneAccount(a), nil
}

func (s *AccountStore) GetByEmail(_ context.Context, email string) (rideauth.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return rideauth.Account{}, rideauth.ErrNotFound
	}
	return cloneAccount(s.accounts[id]), nil
}

func (s *AccountStore) GetByProviderIdentity(_ context.Context, provider rideauth.Provider, subject string) (rideauth.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fi, ok := s.identities[identityKey{provider, subject}]
	if !ok {
		return rideauth.Account{}, rideauth.ErrNotFound
	}
	a, ok := s.accounts[fi.AccountID]
	if !ok {
		return rideauth.Account{}, rideauth.ErrNotFound
	}
	return cloneAccount(a), nil
}

func (s *AccountStore) Create(_ context.Context, in rideauth.NewAccount) (rideauth.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := strings.ToLower(in.Email)
	if _, ok := s.accounts[in.ID]; ok {
		return rideauth.Account{}, fmt.Errorf("%w: account id", rideauth.ErrConflict)
	}
	if _, ok := s.byEmail[email]; ok {
		return rideauth.Account{}, fmt.Errorf("%w: email", rideauth.ErrConflict)
	}
	if in.Identity != nil {
		if _, ok := s.identities[identityKey{in.Identity.Provider, in.Identity.Subject}]; ok {
			return rideauth.Account{}, fmt.Errorf("%w: identity", rideauth.ErrConflict)
		}
	}

	now := s.now()
	a := rideauth.Account{
		ID:           in.ID,
		Email:        in.Email,
		PasswordHash: in.PasswordHash,
		Roles:        append([]rideauth.Role(nil), in.Roles...),
		ActiveRole:   in.ActiveRole,
		Verified:     in.Verified,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.accounts[a.ID] = a
	s.byEmail[email] = a.ID
	if in.Identity != nil {
		fi := *in.Identity
		fi.AccountID = a.ID
		fi.LinkedAt = now
		s.identities[identityKey{fi.Provider, fi.Subject}] = fi
	}
	return cloneAccount(a), nil
}

func (s *AccountStore) LinkIdentity(_ context.Context, identity rideauth.FederatedIdentity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[identity.AccountID]; !ok {
		return rideauth.ErrNotFound
	}
	key := identityKey{identity.Provider, identity.Subject}
	if _, ok := s.identities[key]; ok {
		return fmt.Errorf("%w: identity", rideauth.ErrConflict)
	}
	if identity.LinkedAt.IsZero() {
		identity.LinkedAt = s.now()
	}
	s.identities[key] = identity
	return nil
}

func (s *AccountStore) UpdateRoles(_ context.Context, id string, roles []rideauth.Role, active rideauth.Role) (rideauth.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return rideauth.Account{}, rideauth.ErrNotFound
	}
	a.Roles = append([]rideauth.Role(nil), roles...)
	a.ActiveRole = active
	a.UpdatedAt = s.now()
	s.accounts[id] = a
	return cloneAccount(a), nil
}

func (s *AccountStore) SetActiveRole(_ context.Context, id string, role rideauth.Role) (rideauth.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return rideauth.Account{}, rideauth.ErrNotFound
	}
	if !a.HasRole(role) {
		return rideauth.Account{}, fmt.Errorf("%w: role %q not assigned", rideauth.ErrConflict, role)
	}
	a.ActiveRole = role
	a.UpdatedAt = s.now()
	s.accounts[id] = a
	return cloneAccount(a), nil
}

func (s *AccountStore) UpdateVerificationStatus(_ context.Context, id string, verified bool) error {
	return s.update(id, func(a *rideauth.Account) { a.Verified = verified })
}

func (s *AccountStore) UpdatePasswordHash(_ context.Context, id string, hash string) error {
	return s.update(id, func(a *rideauth.Account) { a.PasswordHash = hash })
}

func (s *AccountStore) update(id string, fn func(*rideauth.Account)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return rideauth.ErrNotFound
	}
	fn(&a)
	a.UpdatedAt = s.now()
	s.accounts[id] = a
	return nil
}

// RefreshStore implements rideauth.RefreshTokenStore.
type RefreshStore struct {
	mu      sync.Mutex
	records map[string]rideauth.RefreshRecord
}

var _ rideauth.RefreshTokenStore = (*RefreshStore)(nil)

func NewRefreshStore() *RefreshStore {
	return &RefreshStore{records: make(map[string]rideauth.RefreshRecord)}
}

func (s *RefreshStore) Save(_ context.Context, rec rideauth.RefreshRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.ID]; ok {
		return rideauth.ErrConflict
	}
	s.records[rec.ID] = rec
	return nil
}

func (s *RefreshStore) FindByID(_ context.Context, id string) (rideauth.RefreshRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return rideauth.RefreshRecord{}, rideauth.ErrNotFound
	}
	return rec, nil
}

func (s *RefreshStore) MarkConsumed(_ context.Context, id string, now time.Time) (rideauth.ConsumeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	switch {
	case !ok:
		return rideauth.ConsumeNotFound, nil
	case rec.Consumed():
		return rideauth.ConsumeAlreadyConsumed, nil
	case !now.Before(rec.ExpiresAt):
		return rideauth.ConsumeExpired, nil
	}
	rec.ConsumedAt = now
	s.records[id] = rec
	return rideauth.ConsumeOK, nil
}

func (s *RefreshStore) DeleteAllForAccount(_ context.Context, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, rec := range s.records {
		if rec.AccountID == accountID {
			delete(s.records, id)
		}
	}
	return nil
}

type otpKey struct {
	account string
	purpose rideauth.Purpose
}

// OTPStore implements rideauth.OTPStore. Retention is not enforced.
type OTPStore struct {
	mu      sync.Mutex
	records map[otpKey]rideauth.OTPRecord
}

var _ rideauth.OTPStore = (*OTPStore)(nil)

func NewOTPStore() *OTPStore {
	return &OTPStore{records: make(map[otpKey]rideauth.OTPRecord)}
}

func (s *OTPStore) Save(_ context.Context, rec rideauth.OTPRecord, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[otpKey{rec.AccountID, rec.Purpose}] = rec
	return nil
}

func (s *OTPStore) FindCurrent(_ context.Context, accountID string, purpose rideauth.Purpose) (rideauth.OTPRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[otpKey{accountID, purpose}]
	if !ok {
		return rideauth.OTPRecord{}, rideauth.ErrNotFound
	}
	return rec, nil
}

func (s *OTPStore) MarkConsumed(_ context.Context, accountID string, purpose rideauth.Purpose, recordID string, now time.Time) (rideauth.ConsumeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := otpKey{accountID, purpose}
	rec, ok := s.records[key]
	switch {
	case !ok || rec.ID != recordID:
		return rideauth.ConsumeNotFound, nil
	case rec.Consumed:
		return rideauth.ConsumeAlreadyConsumed, nil
	case !now.Before(rec.ExpiresAt):
		return rideauth.ConsumeExpired, nil
	}
	rec.Consumed = true
	s.records[key] = rec
	return rideauth.ConsumeOK, nil
}
