package rideauth_test

import (
	"context"
	"errors"
	"testing"

	"github.com/MrEthical07/rideauth"
	"github.com/MrEthical07/rideauth/servicekey"
	"github.com/MrEthical07/rideauth/store/memory"
)

func TestAuthorizeUsesActiveRoleAndHierarchy(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	tests := []struct {
		active   rideauth.Role
		required rideauth.Role
		allowed  bool
	}{
		{"rider", "rider", true},
		{"rider", "driver", false},
		{"driver", "rider", false},
		{"admin", "driver", true},
		{"admin", "rider", true},
		{"driver", "admin", false},
		{"", "rider", false},
		{"ghost", "ghost", false},
	}
	for _, tt := range tests {
		err := h.engine.Authorize(ctx, rideauth.AccessClaims{AccountID: "a", Role: tt.active}, tt.required)
		if tt.allowed && err != nil {
			t.Fatalf("%s -> %s: expected allowed, got %v", tt.active, tt.required, err)
		}
		if !tt.allowed && !errors.Is(err, rideauth.ErrForbidden) {
			t.Fatalf("%s -> %s: expected ErrForbidden, got %v", tt.active, tt.required, err)
		}
	}
}

func TestAuthorizeIgnoresInactiveAssignedRoles(t *testing.T) {
	h := newHarness(t, testConfig())
	_, pair := h.register(t, "dual@example.com", "rider", "driver")
	ctx := context.Background()

	claims, err := h.engine.VerifyAccessToken(ctx, pair.AccessToken)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := h.engine.Authorize(ctx, claims, "driver"); !errors.Is(err, rideauth.ErrForbidden) {
		t.Fatalf("assigned but inactive role must not authorize, got %v", err)
	}
}

func TestSwitchActiveRole(t *testing.T) {
	h := newHarness(t, testConfig())
	account, _ := h.register(t, "dual@example.com", "rider", "driver")
	ctx := context.Background()

	res, err := h.engine.SwitchActiveRole(ctx, account.ID, "driver")
	if err != nil {
		t.Fatalf("switch: %v", err)
	}
	if res.Account.ActiveRole != "driver" || res.Claims.Role != "driver" {
		t.Fatalf("unexpected switch result: %+v", res)
	}
	claims, err := h.engine.VerifyAccessToken(ctx, res.Pair.AccessToken)
	if err != nil || claims.Role != "driver" {
		t.Fatalf("new access token should carry driver: %v %+v", err, claims)
	}
	stored, _ := h.accounts.GetByID(ctx, account.ID)
	if stored.ActiveRole != "driver" {
		t.Fatalf("active role not persisted: %s", stored.ActiveRole)
	}

	if _, err := h.engine.SwitchActiveRole(ctx, account.ID, "admin"); !errors.Is(err, rideauth.ErrRoleNotAssigned) {
		t.Fatalf("expected ErrRoleNotAssigned, got %v", err)
	}
	if _, err := h.engine.SwitchActiveRole(ctx, "missing", "rider"); !errors.Is(err, rideauth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// interleavedAccounts runs afterGet once, right after the next GetByID
// returns, to simulate a write landing between a read and its follow-up.
type interleavedAccounts struct {
	*memory.AccountStore
	afterGet func(id string)
}

func (s *interleavedAccounts) GetByID(ctx context.Context, id string) (rideauth.Account, error) {
	acc, err := s.AccountStore.GetByID(ctx, id)
	if hook := s.afterGet; hook != nil {
		s.afterGet = nil
		hook(id)
	}
	return acc, err
}

func TestSwitchActiveRoleCannotRestoreRemovedRole(t *testing.T) {
	accounts := &interleavedAccounts{AccountStore: memory.NewAccountStore()}
	h := newHarness(t, testConfig(), func(b *rideauth.Builder) { b.WithAccountStore(accounts) })
	ctx := context.Background()

	res, err := h.engine.Register(ctx, rideauth.RegisterInput{Email: "dana@example.com", Password: testPassword})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	acc, err := accounts.UpdateRoles(ctx, res.Account.ID, []rideauth.Role{"rider", "driver"}, "rider")
	if err != nil {
		t.Fatalf("assign roles: %v", err)
	}

	accounts.afterGet = func(id string) {
		if _, err := accounts.UpdateRoles(ctx, id, []rideauth.Role{"rider"}, "rider"); err != nil {
			t.Errorf("remove driver: %v", err)
		}
	}
	if _, err := h.engine.SwitchActiveRole(ctx, acc.ID, "driver"); !errors.Is(err, rideauth.ErrRoleNotAssigned) {
		t.Fatalf("expected ErrRoleNotAssigned, got %v", err)
	}

	final, err := accounts.AccountStore.GetByID(ctx, acc.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if final.HasRole("driver") || final.ActiveRole != "rider" {
		t.Fatalf("removed role came back: roles=%v active=%s", final.Roles, final.ActiveRole)
	}
}

func TestUpdateAssignedRolesRequiresAdmin(t *testing.T) {
	h := newHarness(t, testConfig())
	target, _ := h.register(t, "rider@example.com")
	ctx := context.Background()

	_, err := h.engine.UpdateAssignedRoles(ctx, rideauth.AccessClaims{AccountID: "x", Role: "driver"}, target.ID, []rideauth.Role{"driver"})
	if !errors.Is(err, rideauth.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	// Checked before the lookup: a missing target still reports forbidden.
	_, err = h.engine.UpdateAssignedRoles(ctx, rideauth.AccessClaims{AccountID: "x", Role: "rider"}, "missing", []rideauth.Role{"driver"})
	if !errors.Is(err, rideauth.ErrForbidden) {
		t.Fatalf("expected ErrForbidden for missing target, got %v", err)
	}
}

func TestUpdateAssignedRolesResetsActiveRole(t *testing.T) {
	h := newHarness(t, testConfig())
	target, _ := h.register(t, "rider@example.com")
	admin := rideauth.AccessClaims{AccountID: "root", Role: "admin"}
	ctx := context.Background()

	updated, err := h.engine.UpdateAssignedRoles(ctx, admin, target.ID, []rideauth.Role{"driver", "rider", "driver"})
	if err != nil {
		t.Fatalf("update roles: %v", err)
	}
	if len(updated.Roles) != 2 || updated.Roles[0] != "driver" || updated.Roles[1] != "rider" {
		t.Fatalf("expected deduplicated [driver rider], got %v", updated.Roles)
	}
	if updated.ActiveRole != "rider" {
		t.Fatalf("active role still assigned, expected rider, got %s", updated.ActiveRole)
	}

	updated, err = h.engine.UpdateAssignedRoles(ctx, admin, target.ID, []rideauth.Role{"driver"})
	if err != nil {
		t.Fatalf("update roles: %v", err)
	}
	if updated.ActiveRole != "driver" {
		t.Fatalf("expected active role reset to driver, got %s", updated.ActiveRole)
	}

	for _, bad := range [][]rideauth.Role{nil, {"pilot"}} {
		if _, err := h.engine.UpdateAssignedRoles(ctx, admin, target.ID, bad); !errors.Is(err, rideauth.ErrInvalidInput) {
			t.Fatalf("roles %v: expected ErrInvalidInput, got %v", bad, err)
		}
	}
	if _, err := h.engine.UpdateAssignedRoles(ctx, admin, "missing", []rideauth.Role{"rider"}); !errors.Is(err, rideauth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestVerifyInternalKey(t *testing.T) {
	cfg := testConfig()
	h := newHarness(t, cfg)
	ctx := context.Background()

	if d := h.engine.VerifyInternalKey(ctx, cfg.Internal.APIKey); !d.Allowed() {
		t.Fatalf("expected allow, got %s", d.Signal())
	}
	if d := h.engine.VerifyInternalKey(ctx, ""); d != servicekey.DenyMissing {
		t.Fatalf("expected DenyMissing, got %s", d.Signal())
	}
	if d := h.engine.VerifyInternalKey(ctx, "internal-key-0123456788"); d != servicekey.DenyMismatch {
		t.Fatalf("expected DenyMismatch, got %s", d.Signal())
	}
	if got := h.engine.MetricsSnapshot().Counters[rideauth.MetricInternalKeyDenied]; got != 2 {
		t.Fatalf("expected 2 denials counted, got %d", got)
	}

	cfg.Internal.APIKey = ""
	open := newHarness(t, cfg)
	if d := open.engine.VerifyInternalKey(ctx, "anything"); d.Allowed() {
		t.Fatal("without a configured key every call must be denied")
	}
}

func TestVerifyInternalKeyWithoutSecretIsAudited(t *testing.T) {
	cfg := auditConfig()
	cfg.Internal.APIKey = ""
	sink := &recordingSink{}
	h := newHarness(t, cfg, withAuditSink(sink))

	if d := h.engine.VerifyInternalKey(context.Background(), "anything"); d != servicekey.DenyMismatch {
		t.Fatalf("expected DenyMismatch, got %s", d.Signal())
	}
	h.engine.Close()

	denied := sink.byType("internal_key_denied")
	if len(denied) != 1 || denied[0].Metadata["reason"] != "internal_key_mismatch" || denied[0].Success {
		t.Fatalf("unexpected internal_key_denied events: %+v", denied)
	}
	if got := h.engine.MetricsSnapshot().Counters[rideauth.MetricInternalKeyDenied]; got != 1 {
		t.Fatalf("expected 1 denial counted, got %d", got)
	}
}
