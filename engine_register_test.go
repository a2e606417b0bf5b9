package tenantauth

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestRegisterNormalizesAndStoresPending(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	t1 := env.seedTenant(t, "Acme", env.seedPlan(t, "Basic", 5))

	view, err := env.engine.Register(ctx, RegisterInput{
		Username:    "  Ada ",
		Email:       " ADA@X.IO ",
		Password:    testPassword,
		DisplayName: "<script>alert(1)</script>Ada <b>L</b>",
		Phone:       "+1 (555) 010-0000 ext",
		Role:        RoleCustomer,
		TenantID:    t1.ID,
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if view.Username != "ada" || view.Email != "ada@x.io" {
		t.Fatalf("identity not normalized: %+v", view)
	}
	if strings.Contains(view.DisplayName, "<script") {
		t.Fatalf("display name not sanitized: %q", view.DisplayName)
	}
	if view.Phone != "+1 (555) 010-0000" {
		t.Fatalf("phone = %q", view.Phone)
	}

	p := env.principal(t, view.ID)
	if p.Status != PrincipalPending {
		t.Fatalf("status = %q, want pending", p.Status)
	}
	if !strings.HasPrefix(p.PasswordHash, "$argon2id$") {
		t.Fatalf("password not hashed with argon2id: %q", p.PasswordHash)
	}
}

func TestRegisterRejectsInvalidInput(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	t1 := env.seedTenant(t, "Acme", env.seedPlan(t, "Basic", 5))

	base := RegisterInput{
		Username: "ada",
		Email:    "ada@x.io",
		Password: testPassword,
		Role:     RoleCustomer,
		TenantID: t1.ID,
	}
	tests := []struct {
		name   string
		mutate func(*RegisterInput)
		field  string
	}{
		{"bad email", func(in *RegisterInput) { in.Email = "not-an-email" }, "Email"},
		{"short password", func(in *RegisterInput) { in.Password = "short" }, "Password"},
		{"short username", func(in *RegisterInput) { in.Username = "ab" }, "Username"},
		{"unknown role", func(in *RegisterInput) { in.Role = "owner" }, "Role"},
		{"customer without tenant", func(in *RegisterInput) { in.TenantID = "" }, "TenantID"},
		{"super admin with tenant", func(in *RegisterInput) { in.Role = RoleSuperAdmin }, "TenantID"},
		{"unknown tenant", func(in *RegisterInput) { in.TenantID = "missing" }, "TenantID"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			in := base
			tc.mutate(&in)
			_, err := env.engine.Register(ctx, in)
			if !errors.Is(err, ErrValidationFailed) {
				t.Fatalf("expected ErrValidationFailed, got %v", err)
			}
			var verr *ValidationError
			if !errors.As(err, &verr) || verr.Fields[tc.field] == "" {
				t.Fatalf("expected field %s, got %v", tc.field, err)
			}
		})
	}
}

func TestRegisterDuplicateUsernameAndEmail(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	t1 := env.seedTenant(t, "Acme", env.seedPlan(t, "Basic", 10))
	env.seedPrincipal(t, "ada", t1.ID)

	_, err := env.engine.Register(ctx, RegisterInput{
		Username: "ADA", Email: "other@x.io", Password: testPassword, Role: RoleCustomer, TenantID: t1.ID,
	})
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("duplicate username: expected ErrDuplicate, got %v", err)
	}

	_, err = env.engine.Register(ctx, RegisterInput{
		Username: "other", Email: "Ada@X.io", Password: testPassword, Role: RoleCustomer, TenantID: t1.ID,
	})
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("duplicate email: expected ErrDuplicate, got %v", err)
	}

	if got := env.engine.MetricsSnapshot().Counters[MetricRegisterDuplicate]; got != 2 {
		t.Fatalf("duplicate metric = %d, want 2", got)
	}
}

func TestRegisterSuperAdminWithoutTenant(t *testing.T) {
	env := newTestEnv(t, nil)

	view, err := env.engine.Register(context.Background(), RegisterInput{
		Username: "root", Email: "root@x.io", Password: testPassword, Role: RoleSuperAdmin,
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if view.TenantID != "" || view.Role != RoleSuperAdmin {
		t.Fatalf("unexpected view %+v", view)
	}
}

func TestRegisterStaffIsNotQuotaGated(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	t1 := env.seedTenant(t, "Acme", env.seedPlan(t, "Tiny", 1))

	// The admin already fills the only slot.
	if _, err := env.engine.Register(ctx, RegisterInput{
		Username: "ada", Email: "ada@x.io", Password: testPassword, Role: RoleCustomer, TenantID: t1.ID,
	}); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("customer: expected ErrQuotaExceeded, got %v", err)
	}
	if _, err := env.engine.Register(ctx, RegisterInput{
		Username: "sam", Email: "sam@x.io", Password: testPassword, Role: RoleStaff, TenantID: t1.ID,
	}); err != nil {
		t.Fatalf("staff: %v", err)
	}
}

func TestRegisterQuotaBoundary(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	t1 := env.seedTenant(t, "Acme", env.seedPlan(t, "Three", 3))

	env.seedPrincipal(t, "one", t1.ID)
	env.seedPrincipal(t, "two", t1.ID)

	_, err := env.engine.Register(ctx, RegisterInput{
		Username: "three", Email: "three@x.io", Password: testPassword, Role: RoleCustomer, TenantID: t1.ID,
	})
	var qerr *QuotaError
	if !errors.As(err, &qerr) || qerr.Limit != 3 || qerr.Current != 3 {
		t.Fatalf("expected limit 3 current 3 denial, got %v", err)
	}
	if got := env.engine.MetricsSnapshot().Counters[MetricRegisterQuotaDenied]; got != 1 {
		t.Fatalf("quota denied metric = %d, want 1", got)
	}
}

func TestRegisterWithoutActivePlanIsDenied(t *testing.T) {
	env := newTestEnv(t, nil)
	t1 := env.seedTenant(t, "Acme", nil)

	_, err := env.engine.Register(context.Background(), RegisterInput{
		Username: "ada", Email: "ada@x.io", Password: testPassword, Role: RoleCustomer, TenantID: t1.ID,
	})
	if !errors.Is(err, ErrNoActivePlan) {
		t.Fatalf("expected ErrNoActivePlan, got %v", err)
	}
}

func TestSetPrincipalStatusScopedToTenant(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	plan := env.seedPlan(t, "Basic", 5)
	t1 := env.seedTenant(t, "Acme", plan)
	t2 := env.seedTenant(t, "Globex", plan)
	ada := env.seedPrincipal(t, "ada", t1.ID)

	if err := env.engine.SetPrincipalStatus(ctx, t2.ID, ada.ID, PrincipalSuspended); err == nil {
		t.Fatal("status change across tenants must fail")
	}
	if err := env.engine.SetPrincipalStatus(ctx, t1.ID, ada.ID, "gone"); !errors.Is(err, ErrValidationFailed) {
		t.Fatalf("expected ErrValidationFailed, got %v", err)
	}
	if err := env.engine.SetPrincipalStatus(ctx, t1.ID, ada.ID, PrincipalSuspended); err != nil {
		t.Fatalf("suspend: %v", err)
	}
	view, err := env.engine.GetPrincipal(ctx, ada.ID)
	if err != nil {
		t.Fatalf("GetPrincipal: %v", err)
	}
	if view.Status != PrincipalSuspended {
		t.Fatalf("status = %q, want suspended", view.Status)
	}
}
