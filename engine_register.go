package tenantauth

import (
	"context"
	"errors"
	"strings"

	"github.com/MrEthical07/tenantauth/internal/sanitize"
	"github.com/MrEthical07/tenantauth/password"
	"github.com/MrEthical07/tenantauth/store"
	"github.com/google/uuid"
)

// Register creates a principal in pending status. A customer bound to a
// tenant is admitted against the tenant's principal limit inside the create
// transaction; a denial is returned as *QuotaError.
func (e *Engine) Register(ctx context.Context, in RegisterInput) (PrincipalView, error) {
	if e == nil || e.store == nil {
		return PrincipalView{}, ErrEngineNotReady
	}

	in = normalizeRegisterInput(in)
	if err := validateInput(&in); err != nil {
		e.emitAudit(ctx, auditEventRegisterFailure, false, "", in.TenantID, err, nil)
		return PrincipalView{}, err
	}
	if in.Role == RoleSuperAdmin && in.TenantID != "" {
		err := invalidField("TenantID", "must be empty for super_admin")
		e.emitAudit(ctx, auditEventRegisterFailure, false, "", in.TenantID, err, nil)
		return PrincipalView{}, err
	}

	if err := e.ensureUnique(ctx, in.Username, in.Email); err != nil {
		if errors.Is(err, ErrDuplicate) {
			e.metricInc(MetricRegisterDuplicate)
		}
		e.emitAudit(ctx, auditEventRegisterFailure, false, "", in.TenantID, err, nil)
		return PrincipalView{}, err
	}

	digest, err := e.hasher.Hash(in.Password)
	if err != nil {
		switch {
		case errors.Is(err, password.ErrTooShort), errors.Is(err, password.ErrTooLong):
			return PrincipalView{}, invalidField("Password", err.Error())
		default:
			return PrincipalView{}, e.internalError(ctx, "hash password", err)
		}
	}

	now := e.now().UTC()
	p := &store.Principal{
		ID:           uuid.NewString(),
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: digest,
		DisplayName:  in.DisplayName,
		Phone:        in.Phone,
		NationalID:   in.NationalID,
		Role:         in.Role,
		TenantID:     in.TenantID,
		BranchID:     in.BranchID,
		Status:       PrincipalPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	var admit store.AdmitFunc
	if in.Role == RoleCustomer && in.TenantID != "" {
		admit = e.quota.admitFunc(ResourcePrincipal, now)
	}

	err = e.write(ctx, "create principal", func(ctx context.Context) error {
		return e.store.CreatePrincipal(ctx, p, admit)
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrQuotaExceeded):
			e.metricInc(MetricRegisterQuotaDenied)
		case errors.Is(err, ErrDuplicate):
			e.metricInc(MetricRegisterDuplicate)
		case errors.Is(err, ErrNotFound):
			err = invalidField("TenantID", "does not exist")
		}
		e.emitAudit(ctx, auditEventRegisterFailure, false, "", in.TenantID, err, nil)
		return PrincipalView{}, err
	}

	e.metricInc(MetricRegisterSuccess)
	e.emitAudit(ctx, auditEventRegisterSuccess, true, p.ID, p.TenantID, nil, func() map[string]string {
		return map[string]string{"role": string(p.Role)}
	})

	return viewOf(p), nil
}

// SetPrincipalStatus changes the status of a principal owned by tenantID
// (empty for super_admin). Leaving locked clears the lockout counters;
// setting locked here is a manual lock with no expiry.
func (e *Engine) SetPrincipalStatus(ctx context.Context, tenantID, principalID string, status PrincipalStatus) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}
	switch status {
	case PrincipalPending, PrincipalActive, PrincipalSuspended, PrincipalLocked:
	default:
		return invalidField("Status", "is not a principal status")
	}

	err := e.write(ctx, "update principal status", func(ctx context.Context) error {
		return e.store.UpdatePrincipalStatus(ctx, tenantID, principalID, status)
	})
	e.emitAudit(ctx, auditEventPrincipalStatus, err == nil, principalID, tenantID, err, func() map[string]string {
		return map[string]string{"status": string(status)}
	})
	return err
}

// GetPrincipal returns the redacted view of a principal.
func (e *Engine) GetPrincipal(ctx context.Context, principalID string) (PrincipalView, error) {
	if e == nil || e.store == nil {
		return PrincipalView{}, ErrEngineNotReady
	}
	p, err := e.store.GetPrincipal(ctx, principalID)
	if err != nil {
		return PrincipalView{}, e.storeError(ctx, "get principal", err)
	}
	return viewOf(p), nil
}

func (e *Engine) ensureUnique(ctx context.Context, username, email string) error {
	if _, err := e.store.GetPrincipalByUsername(ctx, username); err == nil {
		return ErrDuplicate
	} else if !errors.Is(err, store.ErrNotFound) {
		return e.storeError(ctx, "lookup username", err)
	}
	if _, err := e.store.GetPrincipalByEmail(ctx, email); err == nil {
		return ErrDuplicate
	} else if !errors.Is(err, store.ErrNotFound) {
		return e.storeError(ctx, "lookup email", err)
	}
	return nil
}

func normalizeRegisterInput(in RegisterInput) RegisterInput {
	in.Username = sanitize.Username(in.Username)
	in.Email = sanitize.Email(in.Email)
	in.DisplayName = sanitize.Text(in.DisplayName)
	in.Phone = sanitize.Phone(in.Phone)
	in.NationalID = sanitize.Identifier(in.NationalID)
	in.TenantID = strings.TrimSpace(sanitize.StripControl(in.TenantID))
	in.BranchID = strings.TrimSpace(sanitize.StripControl(in.BranchID))
	return in
}
