package tenantauth

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/tenantauth/store"
	"github.com/MrEthical07/tenantauth/store/memstore"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const testPassword = "correct-horse-battery-staple"

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.AccessKey = []byte("access-signing-key-0123456789abcdef")
	cfg.JWT.RefreshKey = []byte("refresh-signing-key-0123456789abcdef")
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Password.SaltLength = 16
	cfg.Password.KeyLength = 16
	cfg.Store.RetryBackoff = time.Millisecond
	cfg.Metrics.Enabled = true
	return cfg
}

type testEnv struct {
	engine *Engine
	store  *memstore.Store
	clock  *testClock
	redis  *miniredis.Miniredis
	events *ChannelSink
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

// newTestEnv builds an engine over a memstore and miniredis. mutate, when
// set, edits the config before Build.
func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	mr, rdb := newTestRedis(t)
	st := memstore.New()
	clock := newTestClock()

	var sink *ChannelSink
	b := New().
		WithConfig(cfg).
		WithStore(st).
		WithRedis(rdb).
		WithClock(clock.Now).
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	if cfg.Audit.Enabled {
		sink = NewChannelSink(256)
		b = b.WithAuditSink(sink)
	}

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(engine.Close)

	return &testEnv{engine: engine, store: st, clock: clock, redis: mr, events: sink}
}

// seedPlan inserts an active plan with the given principal limit.
func (env *testEnv) seedPlan(t *testing.T, name string, maxPrincipals int64) *Plan {
	t.Helper()

	p, err := env.engine.Plans().Create(context.Background(), PlanInput{
		Name:          name,
		PriceMinor:    1900,
		Currency:      "usd",
		BillingPeriod: BillingMonthly,
		Limits:        Limits{MaxPrincipals: maxPrincipals, MaxBranches: 2},
		Active:        true,
	})
	if err != nil {
		t.Fatalf("create plan %s: %v", name, err)
	}
	return p
}

// seedTenant creates an active tenant on plan for 30 days. The tenant
// starts with one principal, its admin.
func (env *testEnv) seedTenant(t *testing.T, name string, plan *Plan) *Tenant {
	t.Helper()
	ctx := context.Background()

	tenant, _, err := env.engine.Tenants().Create(ctx, TenantInput{Name: name}, AdminInput{
		Username: "admin-" + TenantCode(name),
		Email:    "admin@" + TenantCode(name) + ".example",
		Password: testPassword,
	})
	if err != nil {
		t.Fatalf("create tenant %s: %v", name, err)
	}
	if _, err := env.engine.Tenants().Activate(ctx, tenant.ID); err != nil {
		t.Fatalf("activate tenant: %v", err)
	}
	if plan != nil {
		if _, err := env.engine.Subscriptions().Assign(ctx, tenant.ID, plan.ID, 30*24*time.Hour); err != nil {
			t.Fatalf("assign plan: %v", err)
		}
	}
	return tenant
}

// seedPrincipal registers and activates a customer of tenantID.
func (env *testEnv) seedPrincipal(t *testing.T, username, tenantID string) PrincipalView {
	t.Helper()
	ctx := context.Background()

	view, err := env.engine.Register(ctx, RegisterInput{
		Username: username,
		Email:    username + "@x.io",
		Password: testPassword,
		Role:     RoleCustomer,
		TenantID: tenantID,
	})
	if err != nil {
		t.Fatalf("register %s: %v", username, err)
	}
	if err := env.engine.SetPrincipalStatus(ctx, tenantID, view.ID, PrincipalActive); err != nil {
		t.Fatalf("activate %s: %v", username, err)
	}
	view.Status = PrincipalActive
	return view
}

func (env *testEnv) principal(t *testing.T, id string) *store.Principal {
	t.Helper()

	p, err := env.store.GetPrincipal(context.Background(), id)
	if err != nil {
		t.Fatalf("get principal: %v", err)
	}
	return p
}

// totpNow returns the current code for the principal's confirmed secret.
func (env *testEnv) totpNow(t *testing.T, principalID string) string {
	t.Helper()

	code, err := env.engine.totp.Code(env.principal(t, principalID).SecondFactorSecret, env.clock.Now())
	if err != nil {
		t.Fatalf("totp code: %v", err)
	}
	return code
}

// enableSecondFactor enrolls and confirms TOTP for principalID and returns
// the backup codes. The clock is moved one step on so the confirming code
// cannot collide with the next one used by the caller.
func (env *testEnv) enableSecondFactor(t *testing.T, principalID string) []string {
	t.Helper()
	ctx := context.Background()

	enr, err := env.engine.EnrollSecondFactor(ctx, principalID, "ada@x.io")
	if err != nil {
		t.Fatalf("enroll: %v", err)
	}
	pending, err := env.store.GetPendingEnrollment(ctx, principalID, env.clock.Now())
	if err != nil {
		t.Fatalf("pending enrollment: %v", err)
	}
	code, err := env.engine.totp.Code(pending.Secret, env.clock.Now())
	if err != nil {
		t.Fatalf("totp code: %v", err)
	}
	if err := env.engine.ConfirmSecondFactor(ctx, principalID, code); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	env.clock.Advance(30 * time.Second)
	return enr.BackupCodes
}

// drainEvents collects every audit event delivered so far, waiting briefly
// for the dispatcher goroutine.
func (env *testEnv) drainEvents(t *testing.T) []AuditEvent {
	t.Helper()

	if env.events == nil {
		t.Fatal("audit not enabled for this env")
	}
	var out []AuditEvent
	timeout := time.After(200 * time.Millisecond)
	for {
		select {
		case ev := <-env.events.Events():
			out = append(out, ev)
		case <-timeout:
			return out
		}
	}
}

func eventTypes(events []AuditEvent) []string {
	out := make([]string, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.EventType)
	}
	return out
}
