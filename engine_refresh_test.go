package tenantauth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func loginAda(t *testing.T, env *testEnv) (*LoginResult, PrincipalView) {
	t.Helper()

	t1 := env.seedTenant(t, "Acme", env.seedPlan(t, "Basic", 5))
	ada := env.seedPrincipal(t, "ada", t1.ID)
	res, err := env.engine.Login(context.Background(), "ada@x.io", testPassword)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	return res, ada
}

func TestRefreshRotates(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	res, ada := loginAda(t, env)

	env.clock.Advance(time.Minute)
	next, err := env.engine.Refresh(ctx, res.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if next.RefreshToken == res.RefreshToken || next.AccessToken == res.AccessToken {
		t.Fatal("refresh must issue a new pair")
	}
	if _, err := env.engine.Refresh(ctx, res.RefreshToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("replayed refresh token: expected ErrTokenInvalid, got %v", err)
	}
	if _, err := env.engine.Refresh(ctx, next.RefreshToken); err != nil {
		t.Fatalf("rotated token should work: %v", err)
	}
	if n, _ := env.engine.ActiveSessions(ctx, ada.ID); n != 1 {
		t.Fatalf("active sessions = %d, want 1", n)
	}
}

func TestRefreshExpiresAtBoundary(t *testing.T) {
	env := newTestEnv(t, nil)
	res, _ := loginAda(t, env)

	env.clock.Advance(7 * 24 * time.Hour)
	if _, err := env.engine.Refresh(context.Background(), res.RefreshToken); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired when exp == now, got %v", err)
	}
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	env := newTestEnv(t, nil)
	res, _ := loginAda(t, env)

	_, err := env.engine.Refresh(context.Background(), res.AccessToken)
	if !errors.Is(err, ErrTokenRejected) {
		t.Fatalf("expected ErrTokenRejected, got %v", err)
	}
	if got := env.engine.MetricsSnapshot().Counters[MetricRefreshFailure]; got != 1 {
		t.Fatalf("refresh failure metric = %d, want 1", got)
	}
}

func TestRefreshInactivePrincipal(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	res, ada := loginAda(t, env)

	if err := env.engine.SetPrincipalStatus(ctx, ada.TenantID, ada.ID, PrincipalSuspended); err != nil {
		t.Fatalf("suspend: %v", err)
	}
	if _, err := env.engine.Refresh(ctx, res.RefreshToken); !errors.Is(err, ErrPrincipalInactive) {
		t.Fatalf("expected ErrPrincipalInactive, got %v", err)
	}
}

func TestRefreshConcurrentOnlyOneWins(t *testing.T) {
	env := newTestEnv(t, nil)
	res, _ := loginAda(t, env)

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := env.engine.Refresh(context.Background(), res.RefreshToken); err == nil {
				mu.Lock()
				success++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if success != 1 {
		t.Fatalf("successful refreshes = %d, want exactly 1", success)
	}
}

func TestLogoutIsIdempotent(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	res, ada := loginAda(t, env)

	for i := 0; i < 2; i++ {
		if err := env.engine.Logout(ctx, res.RefreshToken); err != nil {
			t.Fatalf("Logout #%d: %v", i+1, err)
		}
	}
	if err := env.engine.Logout(ctx, "not-a-token"); err != nil {
		t.Fatalf("Logout of unknown token: %v", err)
	}
	if _, err := env.engine.Refresh(ctx, res.RefreshToken); !errors.Is(err, ErrTokenRejected) {
		t.Fatalf("expected ErrTokenRejected after logout, got %v", err)
	}
	if n, _ := env.engine.ActiveSessions(ctx, ada.ID); n != 0 {
		t.Fatalf("active sessions = %d, want 0", n)
	}
}

func TestLogoutAllRequiresPrincipal(t *testing.T) {
	env := newTestEnv(t, nil)

	if err := env.engine.LogoutAll(context.Background(), ""); !errors.Is(err, ErrValidationFailed) {
		t.Fatalf("expected ErrValidationFailed, got %v", err)
	}
}
