package tenantauth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTenantCode(t *testing.T) {
	tests := map[string]string{
		"Acme":                 "ACME",
		"Globex Corporation":   "GLOBEXCO",
		"  d'Artagnan & Sons ": "DARTAGNA",
		"Café 24":              "CAF24",
		"!!!":                  "TENANT",
		"":                     "TENANT",
	}
	for in, want := range tests {
		assert.Equal(t, want, TenantCode(in), "TenantCode(%q)", in)
	}
}

func TestCreateTenantWithAdmin(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	tenant, admin, err := env.engine.Tenants().Create(ctx, TenantInput{
		Name:     "Acme <b>Corp</b>",
		Contact:  "ops@acme.example",
		Settings: map[string]string{"timezone": "UTC"},
	}, AdminInput{
		Username: "Boss",
		Email:    "Boss@Acme.Example",
		Password: testPassword,
	})
	require.NoError(t, err)

	assert.Equal(t, TenantPending, tenant.Status)
	assert.Equal(t, "ACMEBCOR", tenant.Code)
	assert.NotContains(t, tenant.Name, "<b>")
	assert.Equal(t, RoleTenantAdmin, admin.Role)
	assert.Equal(t, PrincipalActive, admin.Status)
	assert.Equal(t, tenant.ID, admin.TenantID)
	assert.Equal(t, "boss@acme.example", admin.Email)

	// A pending tenant refuses logins.
	_, err = env.engine.Login(ctx, "boss@acme.example", testPassword)
	assert.ErrorIs(t, err, ErrTenantInactive)

	_, err = env.engine.Tenants().Activate(ctx, tenant.ID)
	require.NoError(t, err)
	_, err = env.engine.Login(ctx, "boss@acme.example", testPassword)
	assert.NoError(t, err)
}

func TestCreateTenantCodeCollision(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	codes := make([]string, 0, 3)
	for i, email := range []string{"a@x.io", "b@x.io", "c@x.io"} {
		tenant, _, err := env.engine.Tenants().Create(ctx, TenantInput{Name: "Initech Systems"}, AdminInput{
			Username: "admin" + string(rune('a'+i)),
			Email:    email,
			Password: testPassword,
		})
		require.NoError(t, err)
		codes = append(codes, tenant.Code)
	}
	assert.Equal(t, []string{"INITECHS", "INITECH2", "INITECH3"}, codes)
}

func TestCreateTenantDuplicateAdmin(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.seedTenant(t, "Acme", nil)

	_, _, err := env.engine.Tenants().Create(ctx, TenantInput{Name: "Globex"}, AdminInput{
		Username: "admin-acme", Email: "new@x.io", Password: testPassword,
	})
	assert.ErrorIs(t, err, ErrDuplicate)

	_, _, err = env.engine.Tenants().Create(ctx, TenantInput{Name: "G"}, AdminInput{
		Username: "fresh", Email: "fresh@x.io", Password: testPassword,
	})
	assert.ErrorIs(t, err, ErrValidationFailed)
}

func TestTenantStatusTransitions(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	t1 := env.seedTenant(t, "Acme", nil)
	tenants := env.engine.Tenants()

	suspended, err := tenants.Suspend(ctx, t1.ID, "unpaid invoice")
	require.NoError(t, err)
	assert.Equal(t, TenantSuspended, suspended.Status)
	assert.Equal(t, "unpaid invoice", suspended.StatusReason)

	again, err := tenants.Suspend(ctx, t1.ID, "unpaid invoice")
	require.NoError(t, err)
	assert.Equal(t, suspended.UpdatedAt, again.UpdatedAt)

	active, err := tenants.Activate(ctx, t1.ID)
	require.NoError(t, err)
	assert.Equal(t, TenantActive, active.Status)

	_, err = tenants.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteTenantCascades(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	t1 := env.seedTenant(t, "Acme", env.seedPlan(t, "Basic", 5))
	ada := env.seedPrincipal(t, "ada", t1.ID)
	res, err := env.engine.Login(ctx, "ada@x.io", testPassword)
	require.NoError(t, err)

	require.NoError(t, env.engine.Tenants().Delete(ctx, t1.ID))
	require.NoError(t, env.engine.Tenants().Delete(ctx, t1.ID))

	_, err = env.engine.GetPrincipal(ctx, ada.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = env.engine.Refresh(ctx, res.RefreshToken)
	assert.ErrorIs(t, err, ErrTokenRejected)

	_, err = env.engine.Tenants().Activate(ctx, t1.ID)
	assert.ErrorIs(t, err, ErrIllegalTransition)
	_, err = env.engine.Tenants().ExtendSubscription(ctx, t1.ID, 1, "")
	assert.ErrorIs(t, err, ErrIllegalTransition)
}

func TestExtendSubscriptionRevivesExpiredTenant(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	basic := env.seedPlan(t, "Basic", 5)
	t1 := env.seedTenant(t, "Acme", nil)

	_, err := env.engine.Subscriptions().Assign(ctx, t1.ID, basic.ID, time.Hour)
	require.NoError(t, err)
	env.clock.Advance(2 * time.Hour)
	_, err = env.engine.Sweep(ctx)
	require.NoError(t, err)

	tenant, err := env.engine.Tenants().Get(ctx, t1.ID)
	require.NoError(t, err)
	require.Equal(t, TenantExpired, tenant.Status)

	_, err = env.engine.Tenants().Suspend(ctx, t1.ID, "")
	assert.ErrorIs(t, err, ErrIllegalTransition)

	row, err := env.engine.Tenants().ExtendSubscription(ctx, t1.ID, 1, "")
	require.NoError(t, err)
	assert.Equal(t, basic.ID, row.PlanID)
	assert.Equal(t, env.clock.Now().AddDate(0, 1, 0), row.EndAt)
	assert.Equal(t, SubscriptionActive, row.Status)

	tenant, err = env.engine.Tenants().Get(ctx, t1.ID)
	require.NoError(t, err)
	assert.Equal(t, TenantActive, tenant.Status)

	rows, err := env.engine.Subscriptions().History(ctx, t1.ID)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestExtendSubscriptionExtendsRunningRow(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	t1 := env.seedTenant(t, "Acme", env.seedPlan(t, "Basic", 5))

	cur, err := env.engine.Subscriptions().Current(ctx, t1.ID)
	require.NoError(t, err)

	row, err := env.engine.Tenants().ExtendSubscription(ctx, t1.ID, 12, "")
	require.NoError(t, err)
	assert.Equal(t, cur.ID, row.ID)
	assert.Equal(t, cur.EndAt.AddDate(0, 12, 0), row.EndAt)
}

func TestExtendSubscriptionWithoutHistoryNeedsPlan(t *testing.T) {
	env := newTestEnv(t, nil)
	t1 := env.seedTenant(t, "Acme", nil)

	_, err := env.engine.Tenants().ExtendSubscription(context.Background(), t1.ID, 1, "")
	assert.ErrorIs(t, err, ErrValidationFailed)
}
