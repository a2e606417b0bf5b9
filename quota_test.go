package tenantauth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/tenantauth/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecide(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	plan := &store.Plan{Limits: store.Limits{MaxPrincipals: 5, MaxBranches: 0}}
	active := &store.TenantPlan{Status: store.SubscriptionActive, StartAt: now.Add(-time.Hour), EndAt: now.Add(time.Hour)}
	ended := &store.TenantPlan{Status: store.SubscriptionActive, StartAt: now.Add(-time.Hour), EndAt: now}
	suspended := &store.TenantPlan{Status: store.SubscriptionSuspended, StartAt: now.Add(-time.Hour), EndAt: now.Add(time.Hour)}

	tests := []struct {
		name    string
		kind    ResourceKind
		current int64
		plan    *store.Plan
		row     *store.TenantPlan
		want    QuotaDecision
	}{
		{"below limit", ResourcePrincipal, 4, plan, active, QuotaDecision{Allowed: true, Kind: ResourcePrincipal, Limit: 5, Current: 4}},
		{"at limit", ResourcePrincipal, 5, plan, active, QuotaDecision{Kind: ResourcePrincipal, Reason: QuotaReasonLimitReached, Limit: 5, Current: 5}},
		{"unlimited", ResourceBranch, 1000, plan, active, QuotaDecision{Allowed: true, Kind: ResourceBranch, Current: 1000}},
		{"no plan", ResourcePrincipal, 0, nil, nil, QuotaDecision{Kind: ResourcePrincipal, Reason: QuotaReasonNoActivePlan}},
		{"window ended", ResourcePrincipal, 0, plan, ended, QuotaDecision{Kind: ResourcePrincipal, Reason: QuotaReasonNoActivePlan}},
		{"suspended", ResourcePrincipal, 0, plan, suspended, QuotaDecision{Kind: ResourcePrincipal, Reason: QuotaReasonNoActivePlan}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, decide(tc.kind, tc.current, tc.plan, tc.row, now))
		})
	}
}

func TestCheckQuota(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	t1 := env.seedTenant(t, "Acme", env.seedPlan(t, "Basic", 2))

	d, err := env.engine.Quota().CheckQuota(ctx, t1.ID, ResourcePrincipal)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.EqualValues(t, 1, d.Current)
	assert.NoError(t, d.Err())

	env.seedPrincipal(t, "ada", t1.ID)
	d, err = env.engine.Quota().CheckQuota(ctx, t1.ID, ResourcePrincipal)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, QuotaReasonLimitReached, d.Reason)
	assert.ErrorIs(t, d.Err(), ErrQuotaExceeded)

	_, err = env.engine.Quota().CheckQuota(ctx, t1.ID, "seats")
	assert.ErrorIs(t, err, ErrValidationFailed)

	_, err = env.engine.Quota().CheckQuota(ctx, "missing", ResourcePrincipal)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReserveAndRelease(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	t1 := env.seedTenant(t, "Acme", env.seedPlan(t, "Basic", 5))
	q := env.engine.Quota()

	for i := int64(1); i <= 2; i++ {
		used, err := q.Reserve(ctx, t1.ID, ResourceBranch)
		require.NoError(t, err)
		assert.Equal(t, i, used)
	}

	_, err := q.Reserve(ctx, t1.ID, ResourceBranch)
	var qerr *QuotaError
	require.ErrorAs(t, err, &qerr)
	assert.EqualValues(t, 2, qerr.Limit)
	assert.EqualValues(t, 2, qerr.Current)

	require.NoError(t, q.Release(ctx, t1.ID, ResourceBranch))
	_, err = q.Reserve(ctx, t1.ID, ResourceBranch)
	require.NoError(t, err)

	_, err = q.Reserve(ctx, t1.ID, ResourcePrincipal)
	assert.ErrorIs(t, err, ErrValidationFailed)
	assert.ErrorIs(t, q.Release(ctx, t1.ID, ResourcePrincipal), ErrValidationFailed)

	// Unlimited kinds are admitted without bound.
	for i := 0; i < 10; i++ {
		_, err := q.Reserve(ctx, t1.ID, ResourceStorage)
		require.NoError(t, err)
	}
}

func TestReserveConcurrentNeverOvershoots(t *testing.T) {
	env := newTestEnv(t, nil)
	t1 := env.seedTenant(t, "Acme", env.seedPlan(t, "Basic", 5))

	const workers = 16
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		admits int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.engine.Quota().Reserve(context.Background(), t1.ID, ResourceBranch)
			if err == nil {
				mu.Lock()
				admits++
				mu.Unlock()
			} else if !errors.Is(err, ErrQuotaExceeded) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 2, admits)
}

func TestRegisterConcurrentLastSlot(t *testing.T) {
	env := newTestEnv(t, nil)
	t1 := env.seedTenant(t, "Acme", env.seedPlan(t, "Basic", 3))

	names := []string{"ann", "ben", "cat", "dan", "eli", "fay"}
	var wg sync.WaitGroup
	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			_, _ = env.engine.Register(context.Background(), RegisterInput{
				Username: name, Email: name + "@x.io", Password: testPassword, Role: RoleCustomer, TenantID: t1.ID,
			})
		}(name)
	}
	wg.Wait()

	n, err := env.store.CountPrincipals(context.Background(), t1.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
}
