// Package store defines the persistence contract used by tenantauth.
//
// Records are plain values. Relations are expressed as ids and resolved with
// explicit lookups; no record holds a pointer to another record.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a looked-up record does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicate is returned on a unique constraint violation.
	ErrDuplicate = errors.New("store: duplicate")
	// ErrConflict is a transient serialization failure. Read-then-write
	// sequences may be retried when they see it.
	ErrConflict = errors.New("store: conflict")
	// ErrCrossTenant is returned when a tenant-scoped write names a record
	// owned by another tenant.
	ErrCrossTenant = errors.New("store: cross-tenant write")
	// ErrUnavailable wraps connectivity failures.
	ErrUnavailable = errors.New("store: unavailable")
)

// Role is the authorization role of a principal.
type Role string

const (
	RoleSuperAdmin  Role = "super_admin"
	RoleTenantAdmin Role = "tenant_admin"
	RoleStaff       Role = "staff"
	RoleCustomer    Role = "customer"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleSuperAdmin, RoleTenantAdmin, RoleStaff, RoleCustomer:
		return true
	}
	return false
}

// PrincipalStatus is the account state of a principal.
type PrincipalStatus string

const (
	PrincipalPending   PrincipalStatus = "pending"
	PrincipalActive    PrincipalStatus = "active"
	PrincipalSuspended PrincipalStatus = "suspended"
	PrincipalLocked    PrincipalStatus = "locked"
)

// TenantStatus is the lifecycle state of a tenant.
type TenantStatus string

const (
	TenantPending   TenantStatus = "pending"
	TenantActive    TenantStatus = "active"
	TenantSuspended TenantStatus = "suspended"
	TenantExpired   TenantStatus = "expired"
	TenantDeleted   TenantStatus = "deleted"
)

// SubscriptionStatus is the state of a TenantPlan row.
type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionSuspended SubscriptionStatus = "suspended"
	SubscriptionExpired   SubscriptionStatus = "expired"
)

// BillingPeriod is the billing cadence of a plan.
type BillingPeriod string

const (
	BillingMonthly BillingPeriod = "monthly"
	BillingYearly  BillingPeriod = "yearly"
)

// ResourceKind names a quantity limited by a plan.
type ResourceKind string

const (
	ResourcePrincipal   ResourceKind = "principal"
	ResourceBranch      ResourceKind = "branch"
	ResourceCurrency    ResourceKind = "currency"
	ResourceTransaction ResourceKind = "transaction-volume"
	ResourceStorage     ResourceKind = "storage"
)

// Valid reports whether k is a known resource kind.
func (k ResourceKind) Valid() bool {
	switch k {
	case ResourcePrincipal, ResourceBranch, ResourceCurrency, ResourceTransaction, ResourceStorage:
		return true
	}
	return false
}

// Principal is an authenticatable identity.
type Principal struct {
	ID                  string
	Username            string
	Email               string
	PasswordHash        string
	DisplayName         string
	Phone               string
	NationalID          string
	Role                Role
	TenantID            string
	BranchID            string
	Status              PrincipalStatus
	FailedLoginCount    int
	LockoutUntil        time.Time
	LastLoginAt         time.Time
	SecondFactorEnabled bool
	SecondFactorSecret  []byte
	LastTOTPCounter     int64
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Tenant is an organisational unit that owns principals and usage.
type Tenant struct {
	ID           string
	Code         string
	Name         string
	Status       TenantStatus
	StatusReason string
	Contact      string
	Settings     map[string]string
	ApprovedBy   string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Limits holds per-kind quantity limits. A value <= 0 means unlimited.
type Limits struct {
	MaxPrincipals   int64
	MaxBranches     int64
	MaxCurrencies   int64
	MaxTransactions int64
	MaxStorage      int64
}

// For returns the limit configured for kind.
func (l Limits) For(kind ResourceKind) int64 {
	switch kind {
	case ResourcePrincipal:
		return l.MaxPrincipals
	case ResourceBranch:
		return l.MaxBranches
	case ResourceCurrency:
		return l.MaxCurrencies
	case ResourceTransaction:
		return l.MaxTransactions
	case ResourceStorage:
		return l.MaxStorage
	}
	return 0
}

// Plan is a named bundle of limits.
type Plan struct {
	ID            string
	Name          string
	PriceMinor    int64
	Currency      string
	BillingPeriod BillingPeriod
	Limits        Limits
	Active        bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// TenantPlan binds a tenant to a plan for a validity window.
type TenantPlan struct {
	ID        string
	TenantID  string
	PlanID    string
	StartAt   time.Time
	EndAt     time.Time
	Status    SubscriptionStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ActiveAt reports whether the row grants its plan at t.
func (tp *TenantPlan) ActiveAt(t time.Time) bool {
	return tp != nil &&
		tp.Status == SubscriptionActive &&
		!t.Before(tp.StartAt) &&
		t.Before(tp.EndAt)
}

// RefreshToken is the persisted half of an issued refresh credential.
// Only the SHA-256 hash of the signed token string is stored.
type RefreshToken struct {
	ID          string
	TokenHash   string
	PrincipalID string
	TenantID    string
	IssuedAt    time.Time
	ExpiresAt   time.Time
	Revoked     bool
}

// UsableAt reports whether the row can still be exchanged at now.
// A row whose expiry equals now is not usable.
func (r *RefreshToken) UsableAt(now time.Time) bool {
	return r != nil && !r.Revoked && now.Before(r.ExpiresAt)
}

// SecondFactorEnrollment is a TOTP secret awaiting confirmation.
type SecondFactorEnrollment struct {
	PrincipalID  string
	Secret       []byte
	BackupHashes [][]byte
	Confirmed    bool
	ExpiresAt    time.Time
	CreatedAt    time.Time
}

// LockoutPolicy configures failure counting.
type LockoutPolicy struct {
	Threshold int
	Backoff   time.Duration
}

// LoginState is the result of a failure or success update.
type LoginState struct {
	FailedLoginCount int
	LockoutUntil     time.Time
	Locked           bool
}

// ApplyLoginFailure mutates p for one failed attempt at now. Both store
// implementations call it inside their per-principal critical section.
func ApplyLoginFailure(p *Principal, now time.Time, policy LockoutPolicy) LoginState {
	if !p.LockoutUntil.IsZero() && !now.Before(p.LockoutUntil) {
		p.FailedLoginCount = 0
		p.LockoutUntil = time.Time{}
		if p.Status == PrincipalLocked {
			p.Status = PrincipalActive
		}
	}
	p.FailedLoginCount++
	locked := false
	if policy.Threshold > 0 && p.FailedLoginCount >= policy.Threshold {
		p.LockoutUntil = now.Add(policy.Backoff)
		p.Status = PrincipalLocked
		locked = true
	}
	p.UpdatedAt = now
	return LoginState{
		FailedLoginCount: p.FailedLoginCount,
		LockoutUntil:     p.LockoutUntil,
		Locked:           locked,
	}
}

// ApplyLoginSuccess resets counters on p. A locked principal whose lockout
// window has passed returns to active; a manual lock is left untouched.
func ApplyLoginSuccess(p *Principal, now time.Time) {
	if p.Status == PrincipalLocked && !p.LockoutUntil.IsZero() && !now.Before(p.LockoutUntil) {
		p.Status = PrincipalActive
	}
	if p.Status != PrincipalLocked {
		p.LockoutUntil = time.Time{}
	}
	p.FailedLoginCount = 0
	p.LastLoginAt = now
	p.UpdatedAt = now
}

// AdmitFunc decides whether one more instance may be created. It runs inside
// the create transaction with the current count and the tenant's active plan
// (nil when there is none).
type AdmitFunc func(current int64, plan *Plan, active *TenantPlan) error

// TenantPlanMutator computes the next state of a tenant's subscription from
// its current active-or-latest row (nil when the tenant has none). Returning
// nil leaves storage untouched. A returned row with the same ID updates it in
// place; a new ID inserts.
type TenantPlanMutator func(current *TenantPlan) (*TenantPlan, error)

// PrincipalStore holds principal credentials and counters.
type PrincipalStore interface {
	GetPrincipal(ctx context.Context, id string) (*Principal, error)
	GetPrincipalByUsername(ctx context.Context, username string) (*Principal, error)
	GetPrincipalByEmail(ctx context.Context, email string) (*Principal, error)
	// CreatePrincipal inserts p. When admit is non-nil it is evaluated in the
	// same transaction, with the tenant row locked, before the insert.
	CreatePrincipal(ctx context.Context, p *Principal, admit AdmitFunc) error
	UpdatePrincipalStatus(ctx context.Context, tenantID, id string, status PrincipalStatus) error
	UpdatePasswordHash(ctx context.Context, id, hash string) error
	RecordLoginFailure(ctx context.Context, id string, now time.Time, policy LockoutPolicy) (LoginState, error)
	RecordLoginSuccess(ctx context.Context, id string, now time.Time) error
	// AdvanceTOTPCounter stores counter when it is greater than the stored
	// one and reports whether it did.
	AdvanceTOTPCounter(ctx context.Context, id string, counter int64) (bool, error)
	CountPrincipals(ctx context.Context, tenantID string) (int64, error)
}

// SecondFactorStore holds enrollments and backup codes.
type SecondFactorStore interface {
	SavePendingEnrollment(ctx context.Context, e *SecondFactorEnrollment) error
	GetPendingEnrollment(ctx context.Context, principalID string, now time.Time) (*SecondFactorEnrollment, error)
	ConfirmSecondFactor(ctx context.Context, principalID string, now time.Time) error
	DisableSecondFactor(ctx context.Context, principalID string) error
	ReplaceBackupCodes(ctx context.Context, principalID string, hashes [][]byte) error
	ConsumeBackupCode(ctx context.Context, principalID string, hash []byte, now time.Time) (bool, error)
	CountUnusedBackupCodes(ctx context.Context, principalID string) (int, error)
	DeleteExpiredEnrollments(ctx context.Context, now time.Time) (int64, error)
}

// RefreshTokenStore holds refresh token rows.
type RefreshTokenStore interface {
	InsertRefreshToken(ctx context.Context, t *RefreshToken) error
	GetRefreshToken(ctx context.Context, hash string) (*RefreshToken, error)
	// RotateRefreshToken deletes the row identified by oldHash and inserts
	// next atomically. A missing old row yields ErrNotFound and no insert.
	RotateRefreshToken(ctx context.Context, oldHash string, next *RefreshToken) error
	DeleteRefreshToken(ctx context.Context, hash string) error
	DeleteRefreshTokensForPrincipal(ctx context.Context, principalID string) (int64, error)
	CountActiveRefreshTokens(ctx context.Context, principalID string, now time.Time) (int64, error)
	DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error)
}

// TenantStore holds tenants.
type TenantStore interface {
	// CreateTenant inserts t and its bootstrap admin in one transaction.
	CreateTenant(ctx context.Context, t *Tenant, admin *Principal) error
	GetTenant(ctx context.Context, id string) (*Tenant, error)
	GetTenantByCode(ctx context.Context, code string) (*Tenant, error)
	UpdateTenantStatus(ctx context.Context, id string, status TenantStatus, reason string, now time.Time) error
	// DeleteTenant marks the tenant deleted and removes everything it owns
	// in one transaction.
	DeleteTenant(ctx context.Context, id string, now time.Time) error
}

// PlanStore holds the plan catalog.
type PlanStore interface {
	CreatePlan(ctx context.Context, p *Plan) error
	UpdatePlan(ctx context.Context, p *Plan) error
	GetPlan(ctx context.Context, id string) (*Plan, error)
	ListPlans(ctx context.Context) ([]Plan, error)
}

// SubscriptionStore holds tenant-plan bindings and usage counters.
type SubscriptionStore interface {
	GetActiveTenantPlan(ctx context.Context, tenantID string) (*TenantPlan, error)
	ListTenantPlans(ctx context.Context, tenantID string) ([]TenantPlan, error)
	// MutateTenantPlan serialises fn per tenant. The tenant must exist and
	// not be deleted.
	MutateTenantPlan(ctx context.Context, tenantID string, fn TenantPlanMutator) (*TenantPlan, error)
	ExpireTenantPlans(ctx context.Context, now time.Time) ([]TenantPlan, error)
	// ReserveUsage evaluates admit against the current usage of kind and
	// increments it in the same transaction when admit returns nil.
	ReserveUsage(ctx context.Context, tenantID string, kind ResourceKind, admit AdmitFunc) (int64, error)
	ReleaseUsage(ctx context.Context, tenantID string, kind ResourceKind) error
	UsageCount(ctx context.Context, tenantID string, kind ResourceKind) (int64, error)
}

// CredentialStore is the full persistence contract.
type CredentialStore interface {
	PrincipalStore
	SecondFactorStore
	RefreshTokenStore
	TenantStore
	PlanStore
	SubscriptionStore
	Ping(ctx context.Context) error
}
