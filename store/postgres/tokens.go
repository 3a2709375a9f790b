package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/MrEthical07/rideauth"
)

// RefreshStore implements rideauth.RefreshTokenStore.
type RefreshStore struct {
	db *sql.DB
}

var _ rideauth.RefreshTokenStore = (*RefreshStore)(nil)

func (s *RefreshStore) Save(ctx context.Context, rec rideauth.RefreshRecord) error {
	_, err := s.db.ExecContext(ctx,
		`insert into refresh_tokens (id, account_id, issued_at, expires_at, consumed_at) values ($1, $2, $3, $4, $5)`,
		rec.ID, rec.AccountID, rec.IssuedAt, rec.ExpiresAt, nullTime(rec.ConsumedAt))
	return mapErr(err)
}

func (s *RefreshStore) FindByID(ctx context.Context, id string) (rideauth.RefreshRecord, error) {
	var (
		rec      rideauth.RefreshRecord
		consumed sql.NullTime
	)
	err := s.db.QueryRowContext(ctx,
		`select id, account_id, issued_at, expires_at, consumed_at from refresh_tokens where id = $1`, id).
		Scan(&rec.ID, &rec.AccountID, &rec.IssuedAt, &rec.ExpiresAt, &consumed)
	if err != nil {
		return rideauth.RefreshRecord{}, mapErr(err)
	}
	if consumed.Valid {
		rec.ConsumedAt = consumed.Time
	}
	return rec, nil
}

func (s *RefreshStore) MarkConsumed(ctx context.Context, id string, now time.Time) (rideauth.ConsumeResult, error) {
	res, err := s.db.ExecContext(ctx,
		`update refresh_tokens set consumed_at = $2
		  where id = $1 and consumed_at is null and expires_at > $2`, id, now)
	if err != nil {
		return 0, mapErr(err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return 0, mapErr(err)
	} else if n == 1 {
		return rideauth.ConsumeOK, nil
	}

	rec, err := s.FindByID(ctx, id)
	switch {
	case errors.Is(err, rideauth.ErrNotFound):
		return rideauth.ConsumeNotFound, nil
	case err != nil:
		return 0, err
	case rec.Consumed():
		return rideauth.ConsumeAlreadyConsumed, nil
	default:
		return rideauth.ConsumeExpired, nil
	}
}

func (s *RefreshStore) DeleteAllForAccount(ctx context.Context, accountID string) error {
	_, err := s.db.ExecContext(ctx, `delete from refresh_tokens where account_id = $1`, accountID)
	return mapErr(err)
}

// OTPStore implements rideauth.OTPStore. The (account_id, purpose) primary
// key keeps one current row; Save upserts over it.
type OTPStore struct {
	db *sql.DB
}

var _ rideauth.OTPStore = (*OTPStore)(nil)

// Save upserts the record. Retention is handled by the periodic cleanup of
// the surrounding deployment, so retain is unused here.
func (s *OTPStore) Save(ctx context.Context, rec rideauth.OTPRecord, _ time.Duration) error {
	_, err := s.db.ExecContext(ctx,
		`insert into otp_codes (account_id, purpose, id, code_hash, expires_at, created_at, consumed)
		 values ($1, $2, $3, $4, $5, $6, $7)
		 on conflict (account_id, purpose) do update
		    set id = excluded.id,
		        code_hash = excluded.code_hash,
		        expires_at = excluded.expires_at,
		        created_at = excluded.created_at,
		        consumed = excluded.consumed`,
		rec.AccountID, string(rec.Purpose), rec.ID, rec.CodeHash[:], rec.ExpiresAt, rec.CreatedAt, rec.Consumed)
	return mapErr(err)
}

func (s *OTPStore) FindCurrent(ctx context.Context, accountID string, purpose rideauth.Purpose) (rideauth.OTPRecord, error) {
	var (
		rec  rideauth.OTPRecord
		hash []byte
		p    string
	)
	err := s.db.QueryRowContext(ctx,
		`select id, account_id, purpose, code_hash, expires_at, created_at, consumed
		   from otp_codes where account_id = $1 and purpose = $2`, accountID, string(purpose)).
		Scan(&rec.ID, &rec.AccountID, &p, &hash, &rec.ExpiresAt, &rec.CreatedAt, &rec.Consumed)
	if err != nil {
		return rideauth.OTPRecord{}, mapErr(err)
	}
	if len(hash) != len(rec.CodeHash) {
		return rideauth.OTPRecord{}, mapErr(errCorruptHash)
	}
	rec.Purpose = rideauth.Purpose(p)
	copy(rec.CodeHash[:], hash)
	return rec, nil
}

func (s *OTPStore) MarkConsumed(ctx context.Context, accountID string, purpose rideauth.Purpose, recordID string, now time.Time) (rideauth.ConsumeResult, error) {
	res, err := s.db.ExecContext(ctx,
		`update otp_codes set consumed = true
		  where account_id = $1 and purpose = $2 and id = $3 and not consumed and expires_at > $4`,
		accountID, string(purpose), recordID, now)
	if err != nil {
		return 0, mapErr(err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return 0, mapErr(err)
	} else if n == 1 {
		return rideauth.ConsumeOK, nil
	}

	rec, err := s.FindCurrent(ctx, accountID, purpose)
	switch {
	case errors.Is(err, rideauth.ErrNotFound):
		return rideauth.ConsumeNotFound, nil
	case err != nil:
		return 0, err
	case rec.ID != recordID:
		return rideauth.ConsumeNotFound, nil
	case rec.Consumed:
		return rideauth.ConsumeAlreadyConsumed, nil
	default:
		return rideauth.ConsumeExpired, nil
	}
}
