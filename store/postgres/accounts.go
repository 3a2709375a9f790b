package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/MrEthical07/rideauth"
)

// AccountStore implements rideauth.AccountStore.
type AccountStore struct {
	db *sql.DB
}

var _ rideauth.AccountStore = (*AccountStore)(nil)

const accountColumns = `id, email, password_hash, roles, active_role, verified, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (rideauth.Account, error) {
	var (
		a     rideauth.Account
		roles []byte
	)
	if err := row.Scan(&a.ID, &a.Email, &a.PasswordHash, &roles, &a.ActiveRole, &a.Verified, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return rideauth.Account{}, mapErr(err)
	}
	if err := json.Unmarshal(roles, &a.Roles); err != nil {
		return rideauth.Account{}, fmt.Errorf("%w: decode roles: %v", rideauth.ErrStoreUnavailable, err)
	}
	return a, nil
}

func (s *AccountStore) GetByID(ctx context.Context, id string) (rideauth.Account, error) {
	return scanAccount(s.db.QueryRowContext(ctx,
		`select `+accountColumns+` from accounts where id = $1`, id))
}

func (s *AccountStore) GetByEmail(ctx context.Context, email string) (rideauth.Account, error) {
	return scanAccount(s.db.QueryRowContext(ctx,
		`select `+accountColumns+` from accounts where email = $1`, email))
}

func (s *AccountStore) GetByProviderIdentity(ctx context.Context, provider rideauth.Provider, subject string) (rideauth.Account, error) {
	return scanAccount(s.db.QueryRowContext(ctx,
		`select a.id, a.email, a.password_hash, a.roles, a.active_role, a.verified, a.created_at, a.updated_at
		   from accounts a
		   join federated_identities f on f.account_id = a.id
		  where f.provider = $1 and f.subject = $2`, string(provider), subject))
}

// Create inserts the account and, when present, its first federated identity
// in one transaction.
func (s *AccountStore) Create(ctx context.Context, in rideauth.NewAccount) (rideauth.Account, error) {
	roles, err := json.Marshal(in.Roles)
	if err != nil {
		return rideauth.Account{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return rideauth.Account{}, mapErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	acc, err := scanAccount(tx.QueryRowContext(ctx,
		`insert into accounts (id, email, password_hash, roles, active_role, verified)
		 values ($1, $2, $3, $4, $5, $6)
		 returning `+accountColumns,
		in.ID, in.Email, in.PasswordHash, roles, string(in.ActiveRole), in.Verified))
	if err != nil {
		return rideauth.Account{}, err
	}

	if in.Identity != nil {
		if _, err := tx.ExecContext(ctx,
			`insert into federated_identities (provider, subject, account_id, email) values ($1, $2, $3, $4)`,
			string(in.Identity.Provider), in.Identity.Subject, acc.ID, in.Identity.Email); err != nil {
			return rideauth.Account{}, mapErr(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return rideauth.Account{}, mapErr(err)
	}
	return acc, nil
}

func (s *AccountStore) LinkIdentity(ctx context.Context, identity rideauth.FederatedIdentity) error {
	_, err := s.db.ExecContext(ctx,
		`insert into federated_identities (provider, subject, account_id, email) values ($1, $2, $3, $4)`,
		string(identity.Provider), identity.Subject, identity.AccountID, identity.Email)
	return mapErr(err)
}

func (s *AccountStore) UpdateRoles(ctx context.Context, id string, roles []rideauth.Role, active rideauth.Role) (rideauth.Account, error) {
	raw, err := json.Marshal(roles)
	if err != nil {
		return rideauth.Account{}, err
	}
	return scanAccount(s.db.QueryRowContext(ctx,
		`update accounts set roles = $2, active_role = $3, updated_at = now()
		  where id = $1
		 returning `+accountColumns,
		id, raw, string(active)))
}

// SetActiveRole checks membership in the same statement as the write. A miss
// is reported as ErrConflict when the account exists.
func (s *AccountStore) SetActiveRole(ctx context.Context, id string, role rideauth.Role) (rideauth.Account, error) {
	acc, err := scanAccount(s.db.QueryRowContext(ctx,
		`update accounts set active_role = $2, updated_at = now()
		  where id = $1 and roles ? $2
		 returning `+accountColumns,
		id, string(role)))
	if !errors.Is(err, rideauth.ErrNotFound) {
		return acc, err
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, `select exists(select 1 from accounts where id = $1)`, id).Scan(&exists); err != nil {
		return rideauth.Account{}, mapErr(err)
	}
	if exists {
		return rideauth.Account{}, fmt.Errorf("%w: role %q not assigned", rideauth.ErrConflict, role)
	}
	return rideauth.Account{}, rideauth.ErrNotFound
}

func (s *AccountStore) UpdateVerificationStatus(ctx context.Context, id string, verified bool) error {
	return s.execOne(ctx, `update accounts set verified = $2, updated_at = now() where id = $1`, id, verified)
}

func (s *AccountStore) UpdatePasswordHash(ctx context.Context, id string, hash string) error {
	return s.execOne(ctx, `update accounts set password_hash = $2, updated_at = now() where id = $1`, id, hash)
}

func (s *AccountStore) execOne(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return mapErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mapErr(err)
	}
	if n == 0 {
		return rideauth.ErrNotFound
	}
	return nil
}
