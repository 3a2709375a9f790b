package rideauth_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/rideauth"
	"github.com/MrEthical07/rideauth/store/memory"
	gjwt "github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestAccessTokenRoundTrip(t *testing.T) {
	h := newHarness(t, testConfig())
	account, pair := h.register(t, "ana@example.com")

	if pair.TokenType != "Bearer" {
		t.Fatalf("expected Bearer token type, got %q", pair.TokenType)
	}
	claims, err := h.engine.VerifyAccessToken(context.Background(), pair.AccessToken)
	if err != nil {
		t.Fatalf("verify access token: %v", err)
	}
	if claims.AccountID != account.ID || claims.Email != "ana@example.com" || claims.Role != "rider" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if !claims.ExpiresAt.Equal(pair.AccessExpiresAt) {
		t.Fatalf("claims expiry %v != pair expiry %v", claims.ExpiresAt, pair.AccessExpiresAt)
	}
}

func TestAccessTokenRejections(t *testing.T) {
	h := newHarness(t, testConfig())
	_, pair := h.register(t, "ana@example.com")

	otherCfg := testConfig()
	otherCfg.JWT.AccessSecret = []byte("another-access-secret-0123456789ab")
	other := newHarness(t, otherCfg)
	_, foreign := other.register(t, "ana@example.com")

	parts := strings.Split(pair.AccessToken, ".")
	sig := []byte(parts[2])
	if sig[0] == 'A' {
		sig[0] = 'B'
	} else {
		sig[0] = 'A'
	}
	tampered := parts[0] + "." + parts[1] + "." + string(sig)

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{"tampered signature", tampered, rideauth.ErrInvalidSignature},
		{"foreign key", foreign.AccessToken, rideauth.ErrInvalidSignature},
		{"refresh token as access", pair.RefreshToken, rideauth.ErrInvalidSignature},
		{"garbage", "not-a-token", rideauth.ErrMalformedToken},
		{"empty", "", rideauth.ErrMalformedToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.engine.VerifyAccessToken(context.Background(), tt.token)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestAccessTokenExpiry(t *testing.T) {
	cfg := testConfig()
	h := newHarness(t, cfg)
	_, pair := h.register(t, "ana@example.com")

	h.clock.Advance(cfg.JWT.AccessTTL + cfg.JWT.Leeway + time.Second)

	_, err := h.engine.VerifyAccessToken(context.Background(), pair.AccessToken)
	if !errors.Is(err, rideauth.ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestIssueTokenPairRequiresAssignedRole(t *testing.T) {
	h := newHarness(t, testConfig())
	account, _ := h.register(t, "ana@example.com")

	_, err := h.engine.IssueTokenPair(context.Background(), account, "driver")
	if !errors.Is(err, rideauth.ErrRoleNotAssigned) {
		t.Fatalf("expected ErrRoleNotAssigned, got %v", err)
	}
}

func TestRefreshRotatesAndRejectsReuse(t *testing.T) {
	h := newHarness(t, testConfig())
	_, pair := h.register(t, "ana@example.com")
	ctx := context.Background()

	next, err := h.engine.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if next.RefreshToken == pair.RefreshToken {
		t.Fatal("expected a new refresh token")
	}

	if _, err := h.engine.Refresh(ctx, pair.RefreshToken); !errors.Is(err, rideauth.ErrInvalidRefreshToken) {
		t.Fatalf("expected reuse to fail with ErrInvalidRefreshToken, got %v", err)
	}
	if got := h.engine.MetricsSnapshot().Counters[rideauth.MetricRefreshReuseDetected]; got != 1 {
		t.Fatalf("expected one reuse detection, got %d", got)
	}

	// Reuse does not revoke the family unless configured.
	if _, err := h.engine.Refresh(ctx, next.RefreshToken); err != nil {
		t.Fatalf("refresh with rotated token: %v", err)
	}
}

func TestRefreshReuseRevokesAllWhenConfigured(t *testing.T) {
	cfg := testConfig()
	cfg.Refresh.RevokeAllOnReuse = true
	h := newHarness(t, cfg)
	_, pair := h.register(t, "ana@example.com")
	ctx := context.Background()

	next, err := h.engine.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if _, err := h.engine.Refresh(ctx, pair.RefreshToken); !errors.Is(err, rideauth.ErrInvalidRefreshToken) {
		t.Fatalf("expected ErrInvalidRefreshToken, got %v", err)
	}
	if _, err := h.engine.Refresh(ctx, next.RefreshToken); !errors.Is(err, rideauth.ErrInvalidRefreshToken) {
		t.Fatalf("expected rotated token to be revoked, got %v", err)
	}
}

func TestRefreshConcurrentSingleWinner(t *testing.T) {
	h := newHarness(t, testConfig())
	_, pair := h.register(t, "ana@example.com")

	const callers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		wins    int
		invalid int
	)
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := h.engine.Refresh(context.Background(), pair.RefreshToken)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, rideauth.ErrInvalidRefreshToken):
				invalid++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if wins != 1 || invalid != callers-1 {
		t.Fatalf("expected 1 winner and %d rejections, got %d and %d", callers-1, wins, invalid)
	}
}

func TestRefreshExpired(t *testing.T) {
	cfg := testConfig()
	h := newHarness(t, cfg)
	_, pair := h.register(t, "ana@example.com")

	h.clock.Advance(cfg.Refresh.TTL + cfg.JWT.Leeway + time.Second)

	if _, err := h.engine.Refresh(context.Background(), pair.RefreshToken); !errors.Is(err, rideauth.ErrInvalidRefreshToken) {
		t.Fatalf("expected ErrInvalidRefreshToken, got %v", err)
	}
}

func TestRefreshCarriesCurrentActiveRole(t *testing.T) {
	h := newHarness(t, testConfig())
	account, pair := h.register(t, "dev@example.com", "rider", "driver")
	ctx := context.Background()

	if _, err := h.engine.SwitchActiveRole(ctx, account.ID, "driver"); err != nil {
		t.Fatalf("switch role: %v", err)
	}

	next, err := h.engine.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	claims, err := h.engine.VerifyAccessToken(ctx, next.AccessToken)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Role != "driver" {
		t.Fatalf("expected driver after refresh, got %s", claims.Role)
	}
}

func TestLogoutIsIdempotent(t *testing.T) {
	h := newHarness(t, testConfig())
	_, pair := h.register(t, "ana@example.com")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := h.engine.Logout(ctx, pair.RefreshToken); err != nil {
			t.Fatalf("logout #%d: %v", i+1, err)
		}
	}
	if _, err := h.engine.Refresh(ctx, pair.RefreshToken); !errors.Is(err, rideauth.ErrInvalidRefreshToken) {
		t.Fatalf("expected revoked token to fail refresh, got %v", err)
	}
	if err := h.engine.Logout(ctx, "forged"); !errors.Is(err, rideauth.ErrInvalidRefreshToken) {
		t.Fatalf("expected forged token to be rejected, got %v", err)
	}
}

func TestLogoutAllRevokesEveryRefreshToken(t *testing.T) {
	h := newHarness(t, testConfig())
	account, first := h.register(t, "ana@example.com")
	ctx := context.Background()

	second, err := h.engine.Login(ctx, "ana@example.com", testPassword)
	if err != nil {
		t.Fatalf("second login: %v", err)
	}

	if err := h.engine.LogoutAll(ctx, account.ID); err != nil {
		t.Fatalf("logout all: %v", err)
	}
	for _, tok := range []string{first.RefreshToken, second.Pair.RefreshToken} {
		if _, err := h.engine.Refresh(ctx, tok); !errors.Is(err, rideauth.ErrInvalidRefreshToken) {
			t.Fatalf("expected ErrInvalidRefreshToken, got %v", err)
		}
	}

	// Access tokens are stateless and stay valid until expiry.
	if _, err := h.engine.VerifyAccessToken(ctx, first.AccessToken); err != nil {
		t.Fatalf("access token should still verify: %v", err)
	}
}

// unreachableAccounts fails GetByID with a backend error once down is set.
type unreachableAccounts struct {
	*memory.AccountStore
	down bool
}

func (s *unreachableAccounts) GetByID(ctx context.Context, id string) (rideauth.Account, error) {
	if s.down {
		return rideauth.Account{}, errors.New("connection refused")
	}
	return s.AccountStore.GetByID(ctx, id)
}

func TestRefreshLogsRotationLostAfterConsume(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	accounts := &unreachableAccounts{AccountStore: memory.NewAccountStore()}
	h := newHarness(t, testConfig(), func(b *rideauth.Builder) {
		b.WithAccountStore(accounts).WithLogger(zap.New(core))
	})
	ctx := context.Background()

	res, err := h.engine.Register(ctx, rideauth.RegisterInput{Email: "lee@example.com", Password: testPassword})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	pair, err := h.engine.IssueTokenPair(ctx, res.Account, res.Account.ActiveRole)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	var claims gjwt.RegisteredClaims
	if _, _, err := gjwt.NewParser().ParseUnverified(pair.RefreshToken, &claims); err != nil {
		t.Fatalf("decode refresh: %v", err)
	}

	accounts.down = true
	if _, err := h.engine.Refresh(ctx, pair.RefreshToken); !errors.Is(err, rideauth.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}

	lost := logs.FilterMessage("refresh rotation lost after consume").All()
	if len(lost) != 1 {
		t.Fatalf("expected one rotation-lost entry, got %d", len(lost))
	}
	fields := lost[0].ContextMap()
	if fields["rotation_id"] != claims.ID || fields["account_id"] != res.Account.ID {
		t.Fatalf("unexpected fields: %v", fields)
	}

	accounts.down = false
	if _, err := h.engine.Refresh(ctx, pair.RefreshToken); !errors.Is(err, rideauth.ErrInvalidRefreshToken) {
		t.Fatalf("consumed token must stay consumed, got %v", err)
	}
}
