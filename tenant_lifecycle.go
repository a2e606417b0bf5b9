package tenantauth

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/MrEthical07/tenantauth/internal/ids"
	"github.com/MrEthical07/tenantauth/internal/sanitize"
	"github.com/MrEthical07/tenantauth/store"
	"github.com/google/uuid"
)

const (
	tenantCodeMaxLen   = 8
	tenantCodeFallback = "TENANT"
	tenantCodeAttempts = 100
	tenantCreateRetry  = 3
)

// TenantLifecycle creates tenants and moves them between statuses. It is the
// only writer that crosses tenant boundaries.
//
//	pending   -> active     Activate
//	active    -> suspended  Suspend
//	suspended -> active     Activate
//	active    -> expired    subscription ended (sweeper)
//	expired   -> active     ExtendSubscription, Activate
//	*         -> deleted    Delete
type TenantLifecycle struct {
	engine *Engine
}

// Create inserts a pending tenant and its active tenant_admin in one
// transaction. The short code is derived from the tenant name.
func (l *TenantLifecycle) Create(ctx context.Context, in TenantInput, admin AdminInput) (*Tenant, PrincipalView, error) {
	if l == nil || l.engine == nil {
		return nil, PrincipalView{}, ErrEngineNotReady
	}
	e := l.engine

	codeSource := sanitize.StripControl(in.Name)
	in.Name = sanitize.Text(in.Name)
	in.Contact = sanitize.Text(in.Contact)
	in.ApprovedBy = strings.TrimSpace(sanitize.StripControl(in.ApprovedBy))
	admin = normalizeAdminInput(admin)

	if err := validateInput(&in); err != nil {
		return nil, PrincipalView{}, err
	}
	if err := validateInput(&admin); err != nil {
		return nil, PrincipalView{}, err
	}
	if err := e.ensureUnique(ctx, admin.Username, admin.Email); err != nil {
		return nil, PrincipalView{}, err
	}

	digest, err := e.hasher.Hash(admin.Password)
	if err != nil {
		return nil, PrincipalView{}, invalidField("Password", err.Error())
	}

	now := e.now().UTC()
	settings := make(map[string]string, len(in.Settings))
	for k, v := range in.Settings {
		settings[sanitize.Text(k)] = sanitize.Text(v)
	}

	t := &store.Tenant{
		ID:         ids.New(now),
		Name:       in.Name,
		Status:     TenantPending,
		Contact:    in.Contact,
		Settings:   settings,
		ApprovedBy: in.ApprovedBy,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	p := &store.Principal{
		ID:           uuid.NewString(),
		Username:     admin.Username,
		Email:        admin.Email,
		PasswordHash: digest,
		DisplayName:  admin.DisplayName,
		Phone:        admin.Phone,
		NationalID:   admin.NationalID,
		Role:         RoleTenantAdmin,
		TenantID:     t.ID,
		Status:       PrincipalActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	for attempt := 0; ; attempt++ {
		t.Code, err = l.nextCode(ctx, codeSource)
		if err != nil {
			return nil, PrincipalView{}, err
		}
		err = e.write(ctx, "create tenant", func(ctx context.Context) error {
			return e.store.CreateTenant(ctx, t, p)
		})
		if err == nil {
			break
		}
		if !errors.Is(err, ErrDuplicate) || attempt+1 >= tenantCreateRetry {
			return nil, PrincipalView{}, err
		}
		// Only a code clash is retried.
		if uerr := e.ensureUnique(ctx, admin.Username, admin.Email); uerr != nil {
			return nil, PrincipalView{}, uerr
		}
	}

	e.metricInc(MetricTenantCreated)
	e.emitAudit(ctx, auditEventTenantCreated, true, p.ID, t.ID, nil, func() map[string]string {
		return map[string]string{"code": t.Code}
	})
	return t, viewOf(p), nil
}

func (l *TenantLifecycle) Get(ctx context.Context, tenantID string) (*Tenant, error) {
	if l == nil || l.engine == nil {
		return nil, ErrEngineNotReady
	}
	t, err := l.engine.store.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, l.engine.storeError(ctx, "get tenant", err)
	}
	return t, nil
}

// Activate makes the tenant usable for logins.
func (l *TenantLifecycle) Activate(ctx context.Context, tenantID string) (*Tenant, error) {
	return l.setStatus(ctx, tenantID, TenantActive, "", auditEventTenantActivated)
}

// Suspend blocks logins of the tenant's principals. reason is stored with
// the status.
func (l *TenantLifecycle) Suspend(ctx context.Context, tenantID, reason string) (*Tenant, error) {
	return l.setStatus(ctx, tenantID, TenantSuspended, sanitize.Text(reason), auditEventTenantSuspended)
}

// Delete marks the tenant deleted and removes its principals, refresh
// tokens, enrollments and usage counters in one transaction. Deleting a
// deleted tenant succeeds.
func (l *TenantLifecycle) Delete(ctx context.Context, tenantID string) error {
	if l == nil || l.engine == nil {
		return ErrEngineNotReady
	}
	e := l.engine

	t, err := e.store.GetTenant(ctx, tenantID)
	if err != nil {
		return e.storeError(ctx, "get tenant", err)
	}
	if t.Status == TenantDeleted {
		return nil
	}

	now := e.now().UTC()
	if err := e.write(ctx, "delete tenant", func(ctx context.Context) error {
		return e.store.DeleteTenant(ctx, tenantID, now)
	}); err != nil {
		return err
	}

	e.metricInc(MetricTenantDeleted)
	e.emitAudit(ctx, auditEventTenantDeleted, true, "", tenantID, nil, func() map[string]string {
		return map[string]string{"code": t.Code}
	})
	return nil
}

// ExtendSubscription extends the tenant's active subscription by months.
// When the tenant has no running subscription a new one of newPlanID, or
// of the most recent plan when newPlanID is empty, starts now. An expired
// tenant becomes active again.
func (l *TenantLifecycle) ExtendSubscription(ctx context.Context, tenantID string, months int, newPlanID string) (*TenantPlan, error) {
	if l == nil || l.engine == nil {
		return nil, ErrEngineNotReady
	}
	e := l.engine
	if months <= 0 {
		return nil, invalidField("Months", "must be positive")
	}

	t, err := e.store.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, e.storeError(ctx, "get tenant", err)
	}
	if t.Status == TenantDeleted {
		return nil, ErrIllegalTransition
	}

	now := e.now().UTC()
	var row *TenantPlan
	cur, err := e.subs.Current(ctx, tenantID)
	switch {
	case err == nil && cur.ActiveAt(now):
		row, err = e.subs.Extend(ctx, tenantID, months, newPlanID)
	case err == nil || errors.Is(err, ErrNoActivePlan):
		planID := newPlanID
		if planID == "" {
			planID, err = l.lastPlanID(ctx, tenantID)
			if err != nil {
				return nil, err
			}
		}
		row, err = e.subs.Assign(ctx, tenantID, planID, now.AddDate(0, months, 0).Sub(now))
	}
	if err != nil {
		return nil, err
	}

	if t.Status == TenantExpired {
		if _, err := l.setStatus(ctx, tenantID, TenantActive, "", auditEventTenantActivated); err != nil {
			return nil, err
		}
	}
	return row, nil
}

func (l *TenantLifecycle) lastPlanID(ctx context.Context, tenantID string) (string, error) {
	rows, err := l.engine.subs.History(ctx, tenantID)
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "", invalidField("PlanID", "is required for a tenant without a subscription")
	}
	latest := rows[0]
	for _, r := range rows[1:] {
		if r.UpdatedAt.After(latest.UpdatedAt) {
			latest = r
		}
	}
	return latest.PlanID, nil
}

// expireIfActive moves an active tenant with no running subscription to
// expired.
func (l *TenantLifecycle) expireIfActive(ctx context.Context, tenantID string, now time.Time) error {
	e := l.engine
	t, err := e.store.GetTenant(ctx, tenantID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return e.storeError(ctx, "get tenant", err)
	}
	if t.Status != TenantActive {
		return nil
	}
	if row, err := e.store.GetActiveTenantPlan(ctx, tenantID); err == nil && row.ActiveAt(now) {
		return nil
	}

	if err := e.write(ctx, "expire tenant", func(ctx context.Context) error {
		return e.store.UpdateTenantStatus(ctx, tenantID, TenantExpired, "subscription expired", now)
	}); err != nil {
		return err
	}
	e.emitAudit(ctx, auditEventTenantExpired, true, "", tenantID, nil, nil)
	return nil
}

func (l *TenantLifecycle) setStatus(ctx context.Context, tenantID string, status TenantStatus, reason, event string) (*Tenant, error) {
	if l == nil || l.engine == nil {
		return nil, ErrEngineNotReady
	}
	e := l.engine

	t, err := e.store.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, e.storeError(ctx, "get tenant", err)
	}
	switch {
	case t.Status == TenantDeleted:
		return nil, ErrIllegalTransition
	case t.Status == status:
		return t, nil
	case status == TenantSuspended && t.Status == TenantExpired:
		return nil, ErrIllegalTransition
	}

	now := e.now().UTC()
	if err := e.write(ctx, "update tenant status", func(ctx context.Context) error {
		return e.store.UpdateTenantStatus(ctx, tenantID, status, reason, now)
	}); err != nil {
		return nil, err
	}
	t.Status = status
	t.StatusReason = reason
	t.UpdatedAt = now

	e.emitAudit(ctx, event, true, "", tenantID, nil, func() map[string]string {
		if reason == "" {
			return nil
		}
		return map[string]string{"reason": reason}
	})
	return t, nil
}

// nextCode returns the first free code derived from name: its first eight
// upper-case letters and digits, then the same with a numeric suffix.
func (l *TenantLifecycle) nextCode(ctx context.Context, name string) (string, error) {
	base := TenantCode(name)
	for n := 1; n <= tenantCodeAttempts; n++ {
		code := base
		if n > 1 {
			suffix := strconv.Itoa(n)
			prefix := base
			if len(prefix)+len(suffix) > tenantCodeMaxLen {
				prefix = prefix[:tenantCodeMaxLen-len(suffix)]
			}
			code = prefix + suffix
		}
		_, err := l.engine.store.GetTenantByCode(ctx, code)
		if errors.Is(err, store.ErrNotFound) {
			return code, nil
		}
		if err != nil {
			return "", l.engine.storeError(ctx, "lookup tenant code", err)
		}
	}
	return "", ErrDuplicate
}

// TenantCode derives the base short code of a tenant name.
func TenantCode(name string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(name) {
		if r > unicode.MaxASCII {
			continue
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			if b.Len() == tenantCodeMaxLen {
				break
			}
		}
	}
	if b.Len() == 0 {
		return tenantCodeFallback
	}
	return b.String()
}

func normalizeAdminInput(in AdminInput) AdminInput {
	in.Username = sanitize.Username(in.Username)
	in.Email = sanitize.Email(in.Email)
	in.DisplayName = sanitize.Text(in.DisplayName)
	in.Phone = sanitize.Phone(in.Phone)
	in.NationalID = sanitize.Identifier(in.NationalID)
	return in
}
