package tenantauth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestChangePasswordRevokesSessions(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	t1 := env.seedTenant(t, "Acme", env.seedPlan(t, "Basic", 5))
	ada := env.seedPrincipal(t, "ada", t1.ID)

	res, err := env.engine.Login(ctx, "ada@x.io", testPassword)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	const next = "another-long-passphrase"
	if err := env.engine.ChangePassword(ctx, ada.ID, "wrong-password", next); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if err := env.engine.ChangePassword(ctx, ada.ID, testPassword, testPassword); !errors.Is(err, ErrValidationFailed) {
		t.Fatalf("same password: expected ErrValidationFailed, got %v", err)
	}
	if err := env.engine.ChangePassword(ctx, ada.ID, testPassword, "short"); !errors.Is(err, ErrValidationFailed) {
		t.Fatalf("short password: expected ErrValidationFailed, got %v", err)
	}
	if err := env.engine.ChangePassword(ctx, ada.ID, testPassword, next); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}

	if _, err := env.engine.Refresh(ctx, res.RefreshToken); !errors.Is(err, ErrTokenRejected) {
		t.Fatalf("refresh after password change: expected ErrTokenRejected, got %v", err)
	}
	if _, err := env.engine.Login(ctx, "ada@x.io", testPassword); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password: expected ErrInvalidCredentials, got %v", err)
	}
	env.clock.Advance(time.Second)
	if _, err := env.engine.Login(ctx, "ada@x.io", next); err != nil {
		t.Fatalf("new password: %v", err)
	}
}

func TestRequestPasswordResetNeverReveals(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.Audit.Enabled = true })
	ctx := context.Background()
	t1 := env.seedTenant(t, "Acme", env.seedPlan(t, "Basic", 5))
	env.seedPrincipal(t, "ada", t1.ID)
	env.drainEvents(t)

	for _, email := range []string{"ada@x.io", "nobody@x.io", ""} {
		if err := env.engine.RequestPasswordReset(ctx, email); err != nil {
			t.Fatalf("RequestPasswordReset(%q): %v", email, err)
		}
	}

	var known, unknown int
	for _, ev := range env.drainEvents(t) {
		if ev.EventType != auditEventPasswordResetRequest {
			continue
		}
		if ev.Success {
			known++
		} else {
			unknown++
		}
	}
	if known != 1 || unknown != 1 {
		t.Fatalf("reset events known=%d unknown=%d, want 1/1", known, unknown)
	}
}
