package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/rideauth"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// Open connects with the pgx driver and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Store bundles the three store implementations over one *sql.DB.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Accounts() *AccountStore { return &AccountStore{db: s.db} }
func (s *Store) Refresh() *RefreshStore  { return &RefreshStore{db: s.db} }
func (s *Store) OTP() *OTPStore          { return &OTPStore{db: s.db} }

var schema = []string{
	`create table if not exists accounts (
		id            text primary key,
		email         text not null unique,
		password_hash text not null default '',
		roles         jsonb not null,
		active_role   text not null,
		verified      boolean not null default false,
		created_at    timestamptz not null default now(),
		updated_at    timestamptz not null default now()
	)`,
	`create table if not exists federated_identities (
		provider   text not null,
		subject    text not null,
		account_id text not null references accounts(id) on delete cascade,
		email      text not null default '',
		linked_at  timestamptz not null default now(),
		primary key (provider, subject)
	)`,
	`create index if not exists federated_identities_account_idx on federated_identities(account_id)`,
	`create table if not exists refresh_tokens (
		id          text primary key,
		account_id  text not null references accounts(id) on delete cascade,
		issued_at   timestamptz not null,
		expires_at  timestamptz not null,
		consumed_at timestamptz
	)`,
	`create index if not exists refresh_tokens_account_idx on refresh_tokens(account_id)`,
	`create table if not exists otp_codes (
		account_id text not null references accounts(id) on delete cascade,
		purpose    text not null,
		id         text not null,
		code_hash  bytea not null,
		expires_at timestamptz not null,
		created_at timestamptz not null,
		consumed   boolean not null default false,
		primary key (account_id, purpose)
	)`,
}

// Migrate creates the tables if they do not exist.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// mapErr converts driver errors to rideauth sentinels.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return rideauth.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return fmt.Errorf("%w: %s", rideauth.ErrConflict, pgErr.ConstraintName)
		case pgForeignKeyViolation:
			return fmt.Errorf("%w: %s", rideauth.ErrNotFound, pgErr.ConstraintName)
		}
	}
	return fmt.Errorf("%w: %v", rideauth.ErrStoreUnavailable, err)
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

var errCorruptHash = errors.New("otp code hash has unexpected length")
