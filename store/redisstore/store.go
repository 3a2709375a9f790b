package redisstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/MrEthical07/rideauth"
	"github.com/redis/go-redis/v9"
)

// Store holds the client and key prefix shared by the refresh and OTP stores.
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

// New returns a Store. An empty prefix becomes "ra".
func New(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "ra"
	}
	return &Store{redis: client, prefix: prefix}
}

// Refresh returns the refresh token store view.
func (s *Store) Refresh() *RefreshStore {
	return &RefreshStore{s: s}
}

// OTP returns the OTP store view.
func (s *Store) OTP() *OTPStore {
	return &OTPStore{s: s}
}

// Ping reports round-trip latency to Redis.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return 0, unavailable(err)
	}
	return time.Since(start), nil
}

func (s *Store) refreshKey(id string) string {
	return s.prefix + ":rt:" + id
}

func (s *Store) accountKey(accountID string) string {
	return s.prefix + ":rta:" + accountID
}

func (s *Store) otpKey(accountID string, purpose rideauth.Purpose) string {
	return s.prefix + ":otp:" + string(purpose) + ":" + accountID
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", rideauth.ErrStoreUnavailable, err)
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(v string) (time.Time, error) {
	if v == "" || v == "0" {
		return time.Time{}, nil
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms).UTC(), nil
}

func scriptStatus(result interface{}) (rideauth.ConsumeResult, error) {
	code, ok := result.(int64)
	if !ok {
		return 0, fmt.Errorf("%w: invalid consume script status", rideauth.ErrStoreUnavailable)
	}
	switch code {
	case statusNotFound:
		return rideauth.ConsumeNotFound, nil
	case statusConsumed:
		return rideauth.ConsumeOK, nil
	case statusAlreadyConsumed:
		return rideauth.ConsumeAlreadyConsumed, nil
	case statusExpired:
		return rideauth.ConsumeExpired, nil
	default:
		return 0, fmt.Errorf("%w: unknown consume script status %d", rideauth.ErrStoreUnavailable, code)
	}
}

const (
	statusNotFound        int64 = 0
	statusConsumed        int64 = 1
	statusAlreadyConsumed int64 = 2
	statusExpired         int64 = 3
)
