package rate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newLimiter(t *testing.T, cfg Config) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, cfg), mr
}

func TestLoginBudget(t *testing.T) {
	l, _ := newLimiter(t, Config{LoginMaxAttempts: 3, LoginWindow: time.Minute, EnableIPThrottle: true})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := l.CheckLogin(ctx, "a@example.com", "10.0.0.1"); err != nil {
			t.Fatalf("attempt %d: unexpected %v", i, err)
		}
		_ = l.RecordLoginFailure(ctx, "a@example.com", "10.0.0.1")
	}
	if err := l.CheckLogin(ctx, "a@example.com", "10.0.0.1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if err := l.CheckLogin(ctx, "b@example.com", "10.0.0.2"); err != nil {
		t.Fatalf("other identity limited: %v", err)
	}

	if err := l.ResetLogin(ctx, "a@example.com", "10.0.0.1"); err != nil {
		t.Fatalf("ResetLogin: %v", err)
	}
	if err := l.CheckLogin(ctx, "a@example.com", "10.0.0.1"); err != nil {
		t.Fatalf("after reset: %v", err)
	}
}

func TestLoginWindowExpires(t *testing.T) {
	l, mr := newLimiter(t, Config{LoginMaxAttempts: 1, LoginWindow: time.Minute})
	ctx := context.Background()

	_ = l.RecordLoginFailure(ctx, "a@example.com", "")
	if err := l.CheckLogin(ctx, "a@example.com", ""); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	mr.FastForward(2 * time.Minute)
	if err := l.CheckLogin(ctx, "a@example.com", ""); err != nil {
		t.Fatalf("window did not expire: %v", err)
	}
}

func TestOTPAttempts(t *testing.T) {
	l, _ := newLimiter(t, Config{OTPVerifyMaxAttempts: 2, OTPVerifyWindow: time.Minute})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := l.CountOTPAttempt(ctx, "acc", "verify-email"); err != nil {
			t.Fatalf("attempt %d: %v", i, err)
		}
	}
	if err := l.CountOTPAttempt(ctx, "acc", "verify-email"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if err := l.CountOTPAttempt(ctx, "acc", "reset-password"); err != nil {
		t.Fatalf("purposes must be independent: %v", err)
	}
	_ = l.ResetOTP(ctx, "acc", "verify-email")
	if err := l.CountOTPAttempt(ctx, "acc", "verify-email"); err != nil {
		t.Fatalf("after reset: %v", err)
	}
}

func TestRedisDown(t *testing.T) {
	l, mr := newLimiter(t, Config{LoginMaxAttempts: 1, LoginWindow: time.Minute})
	mr.Close()
	if err := l.RecordLoginFailure(context.Background(), "a@example.com", ""); !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected ErrRedisUnavailable, got %v", err)
	}
}
