package redisstore

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/rideauth"
	"github.com/redis/go-redis/v9"
)

// consumeOTPLua marks the current record consumed if it is still the record
// the caller read.
// KEYS[1] = otp key
// ARGV[1] = record id
// ARGV[2] = now (unix ms)
//
// Returns 0 not found or superseded, 1 consumed by this call, 2 already consumed, 3 expired.
var consumeOTPLua = redis.NewScript(`
local id = redis.call('HGET', KEYS[1], 'id')
if not id or id ~= ARGV[1] then
  return 0
end
if redis.call('HGET', KEYS[1], 'consumed') == '1' then
  return 2
end
local now = tonumber(ARGV[2])
local expires = tonumber(redis.call('HGET', KEYS[1], 'expires_at') or '0')
if now >= expires then
  return 3
end
redis.call('HSET', KEYS[1], 'consumed', '1')
return 1
`)

// OTPStore implements rideauth.OTPStore. There is one key per
// (account, purpose), so Save replacing that key is the supersession.
type OTPStore struct {
	s *Store
}

var _ rideauth.OTPStore = (*OTPStore)(nil)

// Save replaces the current record. The key lives for retain past the
// record's expiry so late verifications can still be told apart.
func (o *OTPStore) Save(ctx context.Context, rec rideauth.OTPRecord, retain time.Duration) error {
	key := o.s.otpKey(rec.AccountID, rec.Purpose)
	consumed := "0"
	if rec.Consumed {
		consumed = "1"
	}

	_, err := o.s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, map[string]interface{}{
			"id":         rec.ID,
			"account_id": rec.AccountID,
			"purpose":    string(rec.Purpose),
			"code_hash":  hex.EncodeToString(rec.CodeHash[:]),
			"expires_at": millis(rec.ExpiresAt),
			"created_at": millis(rec.CreatedAt),
			"consumed":   consumed,
		})
		pipe.PExpireAt(ctx, key, rec.ExpiresAt.Add(retain))
		return nil
	})
	if err != nil {
		return unavailable(err)
	}
	return nil
}

func (o *OTPStore) FindCurrent(ctx context.Context, accountID string, purpose rideauth.Purpose) (rideauth.OTPRecord, error) {
	fields, err := o.s.redis.HGetAll(ctx, o.s.otpKey(accountID, purpose)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return rideauth.OTPRecord{}, rideauth.ErrNotFound
		}
		return rideauth.OTPRecord{}, unavailable(err)
	}
	if len(fields) == 0 {
		return rideauth.OTPRecord{}, rideauth.ErrNotFound
	}
	return decodeOTP(fields)
}

func (o *OTPStore) MarkConsumed(ctx context.Context, accountID string, purpose rideauth.Purpose, recordID string, now time.Time) (rideauth.ConsumeResult, error) {
	result, err := consumeOTPLua.Run(ctx, o.s.redis, []string{o.s.otpKey(accountID, purpose)}, recordID, now.UnixMilli()).Result()
	if err != nil {
		return 0, unavailable(err)
	}
	return scriptStatus(result)
}

func decodeOTP(fields map[string]string) (rideauth.OTPRecord, error) {
	rec := rideauth.OTPRecord{
		ID:        fields["id"],
		AccountID: fields["account_id"],
		Purpose:   rideauth.Purpose(fields["purpose"]),
		Consumed:  fields["consumed"] == "1",
	}

	raw, err := hex.DecodeString(fields["code_hash"])
	if err != nil || len(raw) != len(rec.CodeHash) {
		return rideauth.OTPRecord{}, fmt.Errorf("%w: corrupt otp record", rideauth.ErrStoreUnavailable)
	}
	copy(rec.CodeHash[:], raw)

	if rec.ExpiresAt, err = fromMillis(fields["expires_at"]); err != nil {
		return rideauth.OTPRecord{}, unavailable(err)
	}
	if rec.CreatedAt, err = fromMillis(fields["created_at"]); err != nil {
		return rideauth.OTPRecord{}, unavailable(err)
	}
	return rec, nil
}
