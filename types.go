package tenantauth

import (
	"time"

	"github.com/MrEthical07/tenantauth/store"
)

type (
	Role               = store.Role
	PrincipalStatus    = store.PrincipalStatus
	TenantStatus       = store.TenantStatus
	SubscriptionStatus = store.SubscriptionStatus
	BillingPeriod      = store.BillingPeriod
	ResourceKind       = store.ResourceKind
	Limits             = store.Limits
	Plan               = store.Plan
	Tenant             = store.Tenant
	TenantPlan         = store.TenantPlan
)

const (
	RoleSuperAdmin  = store.RoleSuperAdmin
	RoleTenantAdmin = store.RoleTenantAdmin
	RoleStaff       = store.RoleStaff
	RoleCustomer    = store.RoleCustomer

	PrincipalPending   = store.PrincipalPending
	PrincipalActive    = store.PrincipalActive
	PrincipalSuspended = store.PrincipalSuspended
	PrincipalLocked    = store.PrincipalLocked

	TenantPending   = store.TenantPending
	TenantActive    = store.TenantActive
	TenantSuspended = store.TenantSuspended
	TenantExpired   = store.TenantExpired
	TenantDeleted   = store.TenantDeleted

	SubscriptionActive    = store.SubscriptionActive
	SubscriptionSuspended = store.SubscriptionSuspended
	SubscriptionExpired   = store.SubscriptionExpired

	BillingMonthly = store.BillingMonthly
	BillingYearly  = store.BillingYearly

	ResourcePrincipal   = store.ResourcePrincipal
	ResourceBranch      = store.ResourceBranch
	ResourceCurrency    = store.ResourceCurrency
	ResourceTransaction = store.ResourceTransaction
	ResourceStorage     = store.ResourceStorage
)

// PrincipalView is the redacted principal returned to callers. It never
// carries the password hash or second-factor secret.
type PrincipalView struct {
	ID                  string          `json:"id"`
	Username            string          `json:"username"`
	Email               string          `json:"email"`
	DisplayName         string          `json:"display_name,omitempty"`
	Phone               string          `json:"phone,omitempty"`
	Role                Role            `json:"role"`
	TenantID            string          `json:"tenant_id,omitempty"`
	BranchID            string          `json:"branch_id,omitempty"`
	Status              PrincipalStatus `json:"status"`
	SecondFactorEnabled bool            `json:"second_factor_enabled"`
	LastLoginAt         time.Time       `json:"last_login_at,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
}

func viewOf(p *store.Principal) PrincipalView {
	return PrincipalView{
		ID:                  p.ID,
		Username:            p.Username,
		Email:               p.Email,
		DisplayName:         p.DisplayName,
		Phone:               p.Phone,
		Role:                p.Role,
		TenantID:            p.TenantID,
		BranchID:            p.BranchID,
		Status:              p.Status,
		SecondFactorEnabled: p.SecondFactorEnabled,
		LastLoginAt:         p.LastLoginAt,
		CreatedAt:           p.CreatedAt,
	}
}

// RegisterInput is the payload of Engine.Register. Free-text fields are
// sanitized; Email and Username are normalized to lower case.
type RegisterInput struct {
	Username    string `json:"username" validate:"required,min=3,max=64"`
	Email       string `json:"email" validate:"required,email,max=254"`
	Password    string `json:"password" validate:"required,min=10,max=1024"`
	DisplayName string `json:"display_name" validate:"max=128"`
	Phone       string `json:"phone" validate:"max=32"`
	NationalID  string `json:"national_id" validate:"max=64"`
	Role        Role   `json:"role" validate:"required,oneof=super_admin tenant_admin staff customer"`
	TenantID    string `json:"tenant_id" validate:"required_unless=Role super_admin,max=64"`
	BranchID    string `json:"branch_id" validate:"max=64"`
}

// TokenPair carries an issued access and refresh token.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// LoginResult is returned by Login and VerifySecondFactor. When
// SecondFactorRequired is set only Challenge and ChallengeExpiresAt are
// filled; no tokens were issued.
type LoginResult struct {
	TokenPair
	Principal            PrincipalView `json:"principal"`
	SecondFactorRequired bool          `json:"second_factor_required"`
	Challenge            string        `json:"challenge,omitempty"`
	ChallengeExpiresAt   time.Time     `json:"challenge_expires_at,omitempty"`
}

// RefreshResult is returned by Refresh. The refresh token is always
// rotated.
type RefreshResult struct {
	TokenPair
}

// Enrollment is the one-time output of EnrollSecondFactor. BackupCodes are
// never retrievable again.
type Enrollment struct {
	Secret          string    `json:"secret"`
	ProvisioningURI string    `json:"provisioning_uri"`
	BackupCodes     []string  `json:"backup_codes"`
	ExpiresAt       time.Time `json:"expires_at"`
}

// AccessClaims is the verified content of an access token.
type AccessClaims struct {
	PrincipalID string
	TenantID    string
	Role        Role
	TokenID     string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// TenantInput describes a tenant to create.
type TenantInput struct {
	Name       string            `json:"name" validate:"required,min=2,max=128"`
	Contact    string            `json:"contact" validate:"max=256"`
	Settings   map[string]string `json:"settings" validate:"max=64,dive,keys,max=64,endkeys,max=1024"`
	ApprovedBy string            `json:"approved_by" validate:"max=64"`
}

// AdminInput is the bootstrap tenant_admin of a new tenant.
type AdminInput struct {
	Username    string `json:"username" validate:"required,min=3,max=64"`
	Email       string `json:"email" validate:"required,email,max=254"`
	Password    string `json:"password" validate:"required,min=10,max=1024"`
	DisplayName string `json:"display_name" validate:"max=128"`
	Phone       string `json:"phone" validate:"max=32"`
	NationalID  string `json:"national_id" validate:"max=64"`
}

// PlanInput creates or updates a catalog plan.
type PlanInput struct {
	ID            string        `json:"id" validate:"omitempty,max=64"`
	Name          string        `json:"name" validate:"required,min=2,max=64"`
	PriceMinor    int64         `json:"price_minor" validate:"gte=0"`
	Currency      string        `json:"currency" validate:"required,len=3,alpha"`
	BillingPeriod BillingPeriod `json:"billing_period" validate:"required,oneof=monthly yearly"`
	Limits        Limits        `json:"limits"`
	Active        bool          `json:"active"`
}

// QuotaDecision is the outcome of a plan-limit check. Limit and Current are
// only meaningful for QuotaReasonLimitReached.
type QuotaDecision struct {
	Allowed bool
	Kind    ResourceKind
	Reason  QuotaReason
	Limit   int64
	Current int64
}

// Err converts a denied decision into a *QuotaError; it is nil when the
// decision allows.
func (d QuotaDecision) Err() error {
	if d.Allowed {
		return nil
	}
	return &QuotaError{Kind: d.Kind, Reason: d.Reason, Limit: d.Limit, Current: d.Current}
}
