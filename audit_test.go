package rideauth_test

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/MrEthical07/rideauth"
)

type recordingSink struct {
	mu     sync.Mutex
	events []rideauth.AuditEvent
}

func (s *recordingSink) Emit(_ context.Context, e rideauth.AuditEvent) {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
}

func (s *recordingSink) byType(eventType string) []rideauth.AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []rideauth.AuditEvent
	for _, e := range s.events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

func withAuditSink(sink rideauth.AuditSink) harnessOption {
	return func(b *rideauth.Builder) { b.WithAuditSink(sink) }
}

func auditConfig() rideauth.Config {
	cfg := testConfig()
	cfg.Audit.Enabled = true
	cfg.Audit.DropIfFull = false
	return cfg
}

func TestAuditRecordsLoginOutcomes(t *testing.T) {
	sink := &recordingSink{}
	h := newHarness(t, auditConfig(), withAuditSink(sink))
	account, _ := h.register(t, "ana@example.com")

	ctx := rideauth.WithRequestID(rideauth.WithClientIP(context.Background(), "198.51.100.4"), "req-1")
	_, _ = h.engine.Login(ctx, "ana@example.com", "wrong-password-123")
	h.engine.Close()

	failures := sink.byType("login_failure")
	if len(failures) != 1 {
		t.Fatalf("expected one login_failure, got %d", len(failures))
	}
	f := failures[0]
	if f.Success || f.AccountID != account.ID || f.Error != "invalid_credentials" {
		t.Fatalf("unexpected failure event: %+v", f)
	}
	if f.IP != "198.51.100.4" || f.RequestID != "req-1" {
		t.Fatalf("request context not carried: ip=%q request=%q", f.IP, f.RequestID)
	}

	if len(sink.byType("login_success")) != 1 || len(sink.byType("account_register")) != 1 {
		t.Fatal("expected register and login success events")
	}
}

func TestAuditNeverCarriesSecrets(t *testing.T) {
	var buf bytes.Buffer
	var mu sync.Mutex
	h := newHarness(t, auditConfig(), withAuditSink(rideauth.NewJSONWriterSink(lockedWriter{&mu, &buf})))
	_, pair := h.register(t, "ana@example.com")
	code := h.mail.lastCode(t, "ana@example.com")
	h.engine.Close()

	mu.Lock()
	out := buf.String()
	mu.Unlock()

	for _, secret := range []string{testPassword, pair.AccessToken, pair.RefreshToken, code} {
		if strings.Contains(out, secret) {
			t.Fatalf("audit output leaked %q", secret)
		}
	}
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		var e map[string]any
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			t.Fatalf("audit line is not JSON: %q", line)
		}
	}
}

func TestAuditRoleEvents(t *testing.T) {
	sink := &recordingSink{}
	h := newHarness(t, auditConfig(), withAuditSink(sink))
	account, _ := h.register(t, "dual@example.com", "rider", "driver")
	ctx := context.Background()

	_ = h.engine.Authorize(ctx, rideauth.AccessClaims{AccountID: account.ID, Role: "rider"}, "admin")
	if _, err := h.engine.SwitchActiveRole(ctx, account.ID, "driver"); err != nil {
		t.Fatalf("switch: %v", err)
	}
	h.engine.Close()

	forbidden := sink.byType("role_forbidden")
	if len(forbidden) != 1 || forbidden[0].Metadata["required"] != "admin" {
		t.Fatalf("unexpected role_forbidden events: %+v", forbidden)
	}
	switches := sink.byType("role_switch")
	if len(switches) != 1 || !switches[0].Success || switches[0].Role != "driver" {
		t.Fatalf("unexpected role_switch events: %+v", switches)
	}
}

func TestAuditCarriesPurposeAsField(t *testing.T) {
	sink := &recordingSink{}
	h := newHarness(t, auditConfig(), withAuditSink(sink))
	h.register(t, "ana@example.com")
	h.engine.Close()

	issued := sink.byType("otp_issued")
	if len(issued) == 0 {
		t.Fatal("expected an otp_issued event")
	}
	if issued[0].Purpose != string(rideauth.PurposeVerifyEmail) {
		t.Fatalf("purpose = %q", issued[0].Purpose)
	}
	if _, ok := issued[0].Metadata["purpose"]; ok {
		t.Fatalf("purpose must not be duplicated in metadata: %v", issued[0].Metadata)
	}
}

// stalledSink holds the dispatcher goroutine until release is closed.
type stalledSink struct{ release chan struct{} }

func (s stalledSink) Emit(context.Context, rideauth.AuditEvent) { <-s.release }

func TestAuditDropsAreCounted(t *testing.T) {
	cfg := auditConfig()
	cfg.Audit.BufferSize = 1
	cfg.Audit.DropIfFull = true
	sink := stalledSink{release: make(chan struct{})}
	h := newHarness(t, cfg, withAuditSink(sink))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _ = h.engine.Login(ctx, "nobody@example.com", "wrong-password-123")
	}
	close(sink.release)
	h.engine.Close()

	dropped := h.engine.AuditDropped()
	if dropped == 0 {
		t.Fatal("expected drops with a stalled sink")
	}
	if got := h.engine.MetricsSnapshot().Counters[rideauth.MetricAuditDropped]; got != dropped {
		t.Fatalf("metric = %d, dispatcher counted %d", got, dropped)
	}
}

type lockedWriter struct {
	mu  *sync.Mutex
	buf *bytes.Buffer
}

func (w lockedWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}
