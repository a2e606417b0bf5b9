package memstore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/tenantauth/store"
)

var errFull = errors.New("full")

func seedTenant(t *testing.T, s *Store, id string) {
	t.Helper()
	require.NoError(t, s.CreateTenant(context.Background(), &store.Tenant{
		ID: id, Code: id, Name: id, Status: store.TenantActive,
	}, nil))
}

func seedPrincipal(t *testing.T, s *Store, id, tenantID string) *store.Principal {
	t.Helper()
	p := &store.Principal{
		ID:       id,
		Username: id,
		Email:    id + "@x.io",
		Role:     store.RoleCustomer,
		TenantID: tenantID,
		Status:   store.PrincipalActive,
	}
	require.NoError(t, s.CreatePrincipal(context.Background(), p, nil))
	return p
}

func TestCreatePrincipalRejectsDuplicates(t *testing.T) {
	s := New()
	seedTenant(t, s, "t1")
	seedPrincipal(t, s, "p1", "t1")

	dupEmail := &store.Principal{ID: "p2", Username: "other", Email: "p1@x.io", TenantID: "t1"}
	assert.ErrorIs(t, s.CreatePrincipal(context.Background(), dupEmail, nil), store.ErrDuplicate)

	dupUser := &store.Principal{ID: "p3", Username: "p1", Email: "other@x.io", TenantID: "t1"}
	assert.ErrorIs(t, s.CreatePrincipal(context.Background(), dupUser, nil), store.ErrDuplicate)

	orphan := &store.Principal{ID: "p4", Username: "p4", Email: "p4@x.io", TenantID: "missing"}
	assert.ErrorIs(t, s.CreatePrincipal(context.Background(), orphan, nil), store.ErrNotFound)
}

func TestCreatePrincipalAdmitIsSerialised(t *testing.T) {
	s := New()
	seedTenant(t, s, "t1")
	for i := 0; i < 4; i++ {
		seedPrincipal(t, s, "seed"+string(rune('a'+i)), "t1")
	}

	admit := func(current int64, _ *store.Plan, _ *store.TenantPlan) error {
		if current >= 5 {
			return errFull
		}
		return nil
	}

	var ok, denied atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := "c" + string(rune('a'+i))
			err := s.CreatePrincipal(context.Background(), &store.Principal{
				ID: id, Username: id, Email: id + "@x.io", TenantID: "t1",
			}, admit)
			if err == nil {
				ok.Add(1)
			} else if errors.Is(err, errFull) {
				denied.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int32(7), denied.Load())
	n, err := s.CountPrincipals(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
}

func TestRecordLoginFailureLocksAtThreshold(t *testing.T) {
	s := New()
	seedTenant(t, s, "t1")
	seedPrincipal(t, s, "p1", "t1")
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	policy := store.LockoutPolicy{Threshold: 3, Backoff: time.Minute}

	for i := 1; i <= 2; i++ {
		st, err := s.RecordLoginFailure(context.Background(), "p1", now, policy)
		require.NoError(t, err)
		assert.Equal(t, i, st.FailedLoginCount)
		assert.False(t, st.Locked)
	}
	st, err := s.RecordLoginFailure(context.Background(), "p1", now, policy)
	require.NoError(t, err)
	assert.True(t, st.Locked)
	assert.Equal(t, now.Add(time.Minute), st.LockoutUntil)

	p, err := s.GetPrincipal(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, store.PrincipalLocked, p.Status)

	// After the window a new failure starts a fresh count.
	st, err = s.RecordLoginFailure(context.Background(), "p1", now.Add(2*time.Minute), policy)
	require.NoError(t, err)
	assert.Equal(t, 1, st.FailedLoginCount)
	assert.False(t, st.Locked)

	require.NoError(t, s.RecordLoginSuccess(context.Background(), "p1", now.Add(3*time.Minute)))
	p, err = s.GetPrincipal(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, 0, p.FailedLoginCount)
	assert.Equal(t, store.PrincipalActive, p.Status)
}

func TestUpdatePrincipalStatusRejectsCrossTenant(t *testing.T) {
	s := New()
	seedTenant(t, s, "t1")
	seedTenant(t, s, "t2")
	seedPrincipal(t, s, "p1", "t1")

	err := s.UpdatePrincipalStatus(context.Background(), "t2", "p1", store.PrincipalSuspended)
	assert.ErrorIs(t, err, store.ErrCrossTenant)
}

func TestRotateRefreshTokenIsSingleUse(t *testing.T) {
	s := New()
	seedTenant(t, s, "t1")
	seedPrincipal(t, s, "p1", "t1")
	now := time.Now()
	ctx := context.Background()

	require.NoError(t, s.InsertRefreshToken(ctx, &store.RefreshToken{
		ID: "r1", TokenHash: "h1", PrincipalID: "p1", TenantID: "t1", IssuedAt: now, ExpiresAt: now.Add(time.Hour),
	}))
	next := &store.RefreshToken{ID: "r2", TokenHash: "h2", PrincipalID: "p1", TenantID: "t1", IssuedAt: now, ExpiresAt: now.Add(time.Hour)}
	require.NoError(t, s.RotateRefreshToken(ctx, "h1", next))

	third := &store.RefreshToken{ID: "r3", TokenHash: "h3", PrincipalID: "p1", TenantID: "t1", IssuedAt: now, ExpiresAt: now.Add(time.Hour)}
	assert.ErrorIs(t, s.RotateRefreshToken(ctx, "h1", third), store.ErrNotFound)

	n, err := s.CountActiveRefreshTokens(ctx, "p1", now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestMutateTenantPlanKeepsSingleActiveRow(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedTenant(t, s, "t1")
	require.NoError(t, s.CreatePlan(ctx, &store.Plan{ID: "basic", Name: "Basic", Active: true}))
	now := time.Now()

	_, err := s.MutateTenantPlan(ctx, "t1", func(cur *store.TenantPlan) (*store.TenantPlan, error) {
		assert.Nil(t, cur)
		return &store.TenantPlan{ID: "tp1", TenantID: "t1", PlanID: "basic", StartAt: now, EndAt: now.Add(time.Hour), Status: store.SubscriptionActive}, nil
	})
	require.NoError(t, err)

	_, err = s.MutateTenantPlan(ctx, "t1", func(*store.TenantPlan) (*store.TenantPlan, error) {
		return &store.TenantPlan{ID: "tp2", TenantID: "t1", PlanID: "basic", StartAt: now, EndAt: now.Add(time.Hour), Status: store.SubscriptionActive}, nil
	})
	assert.ErrorIs(t, err, store.ErrDuplicate)

	expired, err := s.ExpireTenantPlans(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, expired, 1)
	_, err = s.GetActiveTenantPlan(ctx, "t1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeleteTenantCascades(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedTenant(t, s, "t1")
	seedPrincipal(t, s, "p1", "t1")
	now := time.Now()
	require.NoError(t, s.InsertRefreshToken(ctx, &store.RefreshToken{
		ID: "r1", TokenHash: "h1", PrincipalID: "p1", TenantID: "t1", IssuedAt: now, ExpiresAt: now.Add(time.Hour),
	}))

	require.NoError(t, s.DeleteTenant(ctx, "t1", now))

	_, err := s.GetPrincipal(ctx, "p1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetRefreshToken(ctx, "h1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	tenant, err := s.GetTenant(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, store.TenantDeleted, tenant.Status)

	// The email is free again.
	seedTenant(t, s, "t2")
	seedPrincipal(t, s, "p1", "t2")
}

func TestConsumeBackupCodeOnce(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedTenant(t, s, "t1")
	seedPrincipal(t, s, "p1", "t1")
	require.NoError(t, s.ReplaceBackupCodes(ctx, "p1", [][]byte{[]byte("a"), []byte("b")}))

	ok, err := s.ConsumeBackupCode(ctx, "p1", []byte("a"), time.Now())
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.ConsumeBackupCode(ctx, "p1", []byte("a"), time.Now())
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := s.CountUnusedBackupCodes(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
