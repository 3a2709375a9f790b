package rideauth_test

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/rideauth"
	"github.com/MrEthical07/rideauth/federated"
	"github.com/MrEthical07/rideauth/store/memory"
	"github.com/MrEthical07/rideauth/store/redisstore"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const testPassword = "correct-horse-battery"

func testConfig() rideauth.Config {
	cfg := rideauth.DefaultConfig()
	cfg.JWT.AccessSecret = []byte("access-secret-0123456789abcdef0123")
	cfg.JWT.AccessTTL = 10 * time.Minute
	cfg.Refresh.Secret = []byte("refresh-secret-0123456789abcdef012")
	cfg.Refresh.TTL = 24 * time.Hour
	cfg.OTP.Pepper = []byte("otp-pepper-0123456789")
	cfg.Roles.Known = []rideauth.Role{"rider", "driver", "admin"}
	cfg.Roles.Inherits = map[rideauth.Role][]rideauth.Role{"admin": {"driver", "rider"}}
	cfg.Internal.APIKey = "internal-key-0123456789"
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	return cfg
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Now().Truncate(time.Second)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type sentMail struct {
	To, Subject, Body string
}

// mailbox captures outgoing mail. With fail set, Send still records the
// message so tests can read the code, then returns an error.
type mailbox struct {
	mu   sync.Mutex
	sent []sentMail
	fail bool
}

var codePattern = regexp.MustCompile(`\b(\d{6})\b`)

func (m *mailbox) Send(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMail{To: to, Subject: subject, Body: body})
	if m.fail {
		return errors.New("smtp: connection refused")
	}
	return nil
}

func (m *mailbox) setFail(v bool) {
	m.mu.Lock()
	m.fail = v
	m.mu.Unlock()
}

func (m *mailbox) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func (m *mailbox) lastCode(t *testing.T, to string) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.sent) - 1; i >= 0; i-- {
		if m.sent[i].To != to {
			continue
		}
		match := codePattern.FindStringSubmatch(m.sent[i].Body)
		if match == nil {
			t.Fatalf("no code in mail body %q", m.sent[i].Body)
		}
		return match[1]
	}
	t.Fatalf("no mail sent to %s", to)
	return ""
}

// stubVerifier maps raw tokens to identities.
type stubVerifier map[string]federated.Identity

func (s stubVerifier) Verify(_ context.Context, raw string) (federated.Identity, error) {
	id, ok := s[raw]
	if !ok {
		return federated.Identity{}, federated.ErrInvalidToken
	}
	return id, nil
}

type harness struct {
	engine   *rideauth.Engine
	accounts *memory.AccountStore
	refresh  *redisstore.RefreshStore
	otp      *redisstore.OTPStore
	redis    *miniredis.Miniredis
	clock    *testClock
	mail     *mailbox
}

type harnessOption func(*rideauth.Builder)

func withGoogle(v rideauth.IdentityVerifier) harnessOption {
	return func(b *rideauth.Builder) { b.WithGoogleVerifier(v) }
}

func withApple(v rideauth.IdentityVerifier) harnessOption {
	return func(b *rideauth.Builder) { b.WithAppleVerifier(v) }
}

func newHarness(t *testing.T, cfg rideauth.Config, opts ...harnessOption) *harness {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	h := &harness{
		accounts: memory.NewAccountStore(),
		redis:    mr,
		clock:    newTestClock(),
		mail:     &mailbox{},
	}
	store := redisstore.New(rdb, "test")
	h.refresh = store.Refresh()
	h.otp = store.OTP()

	b := rideauth.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithAccountStore(h.accounts).
		WithRefreshStore(h.refresh).
		WithOTPStore(h.otp).
		WithEmailSender(h.mail).
		WithClock(h.clock.Now)
	for _, opt := range opts {
		opt(b)
	}

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(engine.Close)
	h.engine = engine
	return h
}

// register creates a verified password account with the given roles and
// returns it with a fresh token pair for its first role.
func (h *harness) register(t *testing.T, email string, assigned ...rideauth.Role) (rideauth.Account, rideauth.TokenPair) {
	t.Helper()
	ctx := context.Background()

	res, err := h.engine.Register(ctx, rideauth.RegisterInput{Email: email, Password: testPassword})
	if err != nil {
		t.Fatalf("register %s: %v", email, err)
	}
	if _, err := h.engine.VerifyEmail(ctx, email, h.mail.lastCode(t, email)); err != nil {
		t.Fatalf("verify %s: %v", email, err)
	}

	account := res.Account
	if len(assigned) > 0 {
		account, err = h.accounts.UpdateRoles(ctx, account.ID, assigned, assigned[0])
		if err != nil {
			t.Fatalf("assign roles: %v", err)
		}
	}

	login, err := h.engine.Login(ctx, email, testPassword)
	if err != nil {
		t.Fatalf("login %s: %v", email, err)
	}
	return login.Account, login.Pair
}
