package redisstore

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/rideauth"
	"github.com/redis/go-redis/v9"
)

// consumeRefreshLua flips consumed_at from 0 to now.
// KEYS[1] = refresh record key
// ARGV[1] = now (unix ms)
//
// Returns 0 not found, 1 consumed by this call, 2 already consumed, 3 expired.
var consumeRefreshLua = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
local consumed = tonumber(redis.call('HGET', KEYS[1], 'consumed_at') or '0')
if consumed and consumed > 0 then
  return 2
end
local now = tonumber(ARGV[1])
local expires = tonumber(redis.call('HGET', KEYS[1], 'expires_at') or '0')
if now >= expires then
  return 3
end
redis.call('HSET', KEYS[1], 'consumed_at', ARGV[1])
return 1
`)

// RefreshStore implements rideauth.RefreshTokenStore.
type RefreshStore struct {
	s *Store
}

var _ rideauth.RefreshTokenStore = (*RefreshStore)(nil)

// Save writes the record and indexes it under its account. The record key
// expires with the token.
func (r *RefreshStore) Save(ctx context.Context, rec rideauth.RefreshRecord) error {
	key := r.s.refreshKey(rec.ID)
	accountKey := r.s.accountKey(rec.AccountID)

	_, err := r.s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, map[string]interface{}{
			"account_id":  rec.AccountID,
			"issued_at":   millis(rec.IssuedAt),
			"expires_at":  millis(rec.ExpiresAt),
			"consumed_at": millis(rec.ConsumedAt),
		})
		pipe.PExpireAt(ctx, key, rec.ExpiresAt)
		pipe.SAdd(ctx, accountKey, rec.ID)
		pipe.PExpireAt(ctx, accountKey, rec.ExpiresAt)
		return nil
	})
	if err != nil {
		return unavailable(err)
	}
	return nil
}

func (r *RefreshStore) FindByID(ctx context.Context, id string) (rideauth.RefreshRecord, error) {
	fields, err := r.s.redis.HGetAll(ctx, r.s.refreshKey(id)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return rideauth.RefreshRecord{}, rideauth.ErrNotFound
		}
		return rideauth.RefreshRecord{}, unavailable(err)
	}
	if len(fields) == 0 {
		return rideauth.RefreshRecord{}, rideauth.ErrNotFound
	}

	rec := rideauth.RefreshRecord{ID: id, AccountID: fields["account_id"]}
	if rec.IssuedAt, err = fromMillis(fields["issued_at"]); err != nil {
		return rideauth.RefreshRecord{}, unavailable(err)
	}
	if rec.ExpiresAt, err = fromMillis(fields["expires_at"]); err != nil {
		return rideauth.RefreshRecord{}, unavailable(err)
	}
	if rec.ConsumedAt, err = fromMillis(fields["consumed_at"]); err != nil {
		return rideauth.RefreshRecord{}, unavailable(err)
	}
	return rec, nil
}

// MarkConsumed runs the consume script. Exactly one concurrent caller per id
// receives rideauth.ConsumeOK.
func (r *RefreshStore) MarkConsumed(ctx context.Context, id string, now time.Time) (rideauth.ConsumeResult, error) {
	result, err := consumeRefreshLua.Run(ctx, r.s.redis, []string{r.s.refreshKey(id)}, now.UnixMilli()).Result()
	if err != nil {
		return 0, unavailable(err)
	}
	return scriptStatus(result)
}

// DeleteAllForAccount removes every refresh record indexed for the account.
// A token saved between SMEMBERS and DEL survives; it stays revocable by id
// and expires on its own.
func (r *RefreshStore) DeleteAllForAccount(ctx context.Context, accountID string) error {
	accountKey := r.s.accountKey(accountID)

	ids, err := r.s.redis.SMembers(ctx, accountKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return unavailable(err)
	}

	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, r.s.refreshKey(id))
	}
	keys = append(keys, accountKey)

	if err := r.s.redis.Del(ctx, keys...).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}
