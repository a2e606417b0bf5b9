package tenantauth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestAuditErrorCodeMapping(t *testing.T) {
	tests := []struct {
		err  error
		want AuditErrorCode
	}{
		{nil, ""},
		{ErrInvalidCredentials, auditErrInvalidCredentials},
		{fmt.Errorf("wrapped: %w", ErrAccountLocked), auditErrAccountLocked},
		{invalidField("Email", "bad"), auditErrValidation},
		{&QuotaError{Kind: ResourcePrincipal, Reason: QuotaReasonLimitReached, Limit: 5, Current: 5}, auditErrQuotaExceeded},
		{&QuotaError{Kind: ResourcePrincipal, Reason: QuotaReasonNoActivePlan}, auditErrNoActivePlan},
		{ErrTokenExpired, auditErrInvalidToken},
		{ErrChallengeExpired, auditErrChallenge},
		{ErrStoreUnavailable, auditErrUnavailable},
		{errors.New("boom"), auditErrInternal},
	}
	for _, tc := range tests {
		if got := auditErrorCode(tc.err); got != tc.want {
			t.Fatalf("auditErrorCode(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

func TestAuditLoginFlowEvents(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.Audit.Enabled = true })
	t1 := env.seedTenant(t, "Acme", env.seedPlan(t, "Basic", 5))
	ada := env.seedPrincipal(t, "ada", t1.ID)
	env.drainEvents(t)

	ctx := WithCorrelationID(context.Background(), "req-42")
	if _, err := env.engine.Login(ctx, "ada@x.io", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := env.engine.Login(ctx, "ada@x.io", testPassword); err != nil {
		t.Fatalf("Login: %v", err)
	}

	events := env.drainEvents(t)
	got := eventTypes(events)
	want := []string{auditEventLoginFailure, auditEventLoginSuccess}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("events = %v, want %v", got, want)
	}

	failure := events[0]
	if failure.Success || failure.Error != string(auditErrInvalidCredentials) {
		t.Fatalf("unexpected failure event %+v", failure)
	}
	for _, ev := range events {
		if ev.CorrelationID != "req-42" {
			t.Fatalf("event %s lost correlation id: %+v", ev.EventType, ev)
		}
		if ev.PrincipalID != ada.ID || ev.TenantID != t1.ID {
			t.Fatalf("event %s has wrong subject: %+v", ev.EventType, ev)
		}
		if ev.ID == "" || !ev.Timestamp.Equal(env.clock.Now()) {
			t.Fatalf("event %s missing id or timestamp: %+v", ev.EventType, ev)
		}
	}
}

func TestAuditLockoutEmitsAccountLocked(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.Audit.Enabled = true
		c.Lockout.Threshold = 2
	})
	t1 := env.seedTenant(t, "Acme", env.seedPlan(t, "Basic", 5))
	env.seedPrincipal(t, "ada", t1.ID)
	env.drainEvents(t)

	for i := 0; i < 2; i++ {
		_, _ = env.engine.Login(context.Background(), "ada@x.io", "wrong-password")
	}

	var locked int
	for _, ev := range env.drainEvents(t) {
		if ev.EventType == auditEventAccountLocked {
			locked++
			if ev.Metadata["until"] == "" {
				t.Fatalf("account_locked without until: %+v", ev)
			}
		}
	}
	if locked != 1 {
		t.Fatalf("account_locked events = %d, want 1", locked)
	}
}

func TestAuditLifecycleEvents(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.Audit.Enabled = true })
	ctx := context.Background()
	plan := env.seedPlan(t, "Basic", 5)
	t1 := env.seedTenant(t, "Acme", plan)

	if _, err := env.engine.Tenants().Suspend(ctx, t1.ID, "audit"); err != nil {
		t.Fatalf("Suspend: %v", err)
	}
	if _, err := env.engine.Subscriptions().Suspend(ctx, t1.ID); err != nil {
		t.Fatalf("Suspend subscription: %v", err)
	}

	got := eventTypes(env.drainEvents(t))
	want := []string{
		auditEventPlanCreated,
		auditEventTenantCreated,
		auditEventTenantActivated,
		auditEventSubscriptionAssigned,
		auditEventTenantSuspended,
		auditEventSubscriptionSuspended,
	}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("events = %v, want %v", got, want)
	}
}

func TestAuditDisabledEmitsNothing(t *testing.T) {
	env := newTestEnv(t, nil)
	t1 := env.seedTenant(t, "Acme", env.seedPlan(t, "Basic", 5))
	env.seedPrincipal(t, "ada", t1.ID)

	if _, err := env.engine.Login(context.Background(), "ada@x.io", testPassword); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if env.engine.AuditDropped() != 0 {
		t.Fatal("disabled audit must not count drops")
	}
}
