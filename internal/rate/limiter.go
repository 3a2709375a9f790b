package rate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds rate limiter tuning parameters.
type Config struct {
	Prefix               string
	EnableIPThrottle     bool
	LoginMaxAttempts     int
	LoginWindow          time.Duration
	OTPVerifyMaxAttempts int
	OTPVerifyWindow      time.Duration
}

// Limiter enforces per-email, per-IP and per-OTP-scope limits using Redis
// counters.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a rate [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	if cfg.Prefix == "" {
		cfg.Prefix = "rl"
	}
	return &Limiter{
		redis:  redisClient,
		config: cfg,
	}
}

// CheckLogin returns ErrRateLimited when the email or IP has used up its
// failed-login budget. It does not count the attempt.
func (l *Limiter) CheckLogin(ctx context.Context, email, ip string) error {
	if err := l.checkCounter(ctx, l.loginUserKey(email), l.config.LoginMaxAttempts); err != nil {
		return err
	}
	if l.config.EnableIPThrottle && ip != "" {
		return l.checkCounter(ctx, l.loginIPKey(ip), l.config.LoginMaxAttempts)
	}
	return nil
}

// RecordLoginFailure counts a failed login for the email and IP.
func (l *Limiter) RecordLoginFailure(ctx context.Context, email, ip string) error {
	count, err := l.incrementWithTTL(ctx, l.loginUserKey(email), l.config.LoginWindow)
	if err != nil {
		return err
	}
	if count > int64(l.config.LoginMaxAttempts) {
		return ErrRateLimited
	}

	if l.config.EnableIPThrottle && ip != "" {
		count, err = l.incrementWithTTL(ctx, l.loginIPKey(ip), l.config.LoginWindow)
		if err != nil {
			return err
		}
		if count > int64(l.config.LoginMaxAttempts) {
			return ErrRateLimited
		}
	}
	return nil
}

// ResetLogin clears the failed-login counters after a successful login or a
// password reset.
func (l *Limiter) ResetLogin(ctx context.Context, email, ip string) error {
	keys := []string{l.loginUserKey(email)}
	if l.config.EnableIPThrottle && ip != "" {
		keys = append(keys, l.loginIPKey(ip))
	}
	if err := l.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// CountOTPAttempt counts one verification attempt and returns ErrRateLimited
// once the budget for the window is exceeded.
func (l *Limiter) CountOTPAttempt(ctx context.Context, accountID, purpose string) error {
	count, err := l.incrementWithTTL(ctx, l.otpKey(accountID, purpose), l.config.OTPVerifyWindow)
	if err != nil {
		return err
	}
	if count > int64(l.config.OTPVerifyMaxAttempts) {
		return ErrRateLimited
	}
	return nil
}

// ResetOTP clears the attempt counter, typically when a fresh code is issued.
func (l *Limiter) ResetOTP(ctx context.Context, accountID, purpose string) error {
	if err := l.redis.Del(ctx, l.otpKey(accountID, purpose)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// LoginAttempts returns the failed-login counter for an email. Missing keys
// return zero.
func (l *Limiter) LoginAttempts(ctx context.Context, email string) (int, error) {
	count, err := l.redis.Get(ctx, l.loginUserKey(email)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return int(count), nil
}

func (l *Limiter) checkCounter(ctx context.Context, key string, maxAttempts int) error {
	count, err := l.redis.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count >= int64(maxAttempts) {
		return ErrRateLimited
	}
	return nil
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}
	return count, nil
}

func (l *Limiter) loginUserKey(email string) string {
	return l.config.Prefix + ":login:u:" + strings.ToLower(email)
}

func (l *Limiter) loginIPKey(ip string) string {
	return l.config.Prefix + ":login:ip:" + ip
}

func (l *Limiter) otpKey(accountID, purpose string) string {
	return l.config.Prefix + ":otp:" + purpose + ":" + accountID
}
