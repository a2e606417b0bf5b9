package tenantauth

import (
	"context"
	"errors"
	"log/slog"

	"github.com/MrEthical07/tenantauth/internal/sanitize"
	"github.com/MrEthical07/tenantauth/password"
	"github.com/MrEthical07/tenantauth/store"
)

// ChangePassword replaces the password of principalID after re-verifying
// the old one. Every refresh token of the principal is revoked.
func (e *Engine) ChangePassword(ctx context.Context, principalID, oldPassword, newPassword string) error {
	if e == nil || e.store == nil || e.hasher == nil {
		return ErrEngineNotReady
	}

	p, err := e.store.GetPrincipal(ctx, principalID)
	if err != nil {
		return e.storeError(ctx, "get principal", err)
	}

	ok, err := e.hasher.Verify(oldPassword, p.PasswordHash)
	if err != nil || !ok {
		e.emitAudit(ctx, auditEventPasswordChangeFailure, false, p.ID, p.TenantID, ErrInvalidCredentials, nil)
		return ErrInvalidCredentials
	}
	if oldPassword == newPassword {
		err := invalidField("NewPassword", "must differ from the current password")
		e.emitAudit(ctx, auditEventPasswordChangeFailure, false, p.ID, p.TenantID, err, nil)
		return err
	}

	digest, err := e.hasher.Hash(newPassword)
	if err != nil {
		if errors.Is(err, password.ErrTooShort) || errors.Is(err, password.ErrTooLong) {
			return invalidField("NewPassword", err.Error())
		}
		return e.internalError(ctx, "hash password", err)
	}

	if err := e.write(ctx, "update password hash", func(ctx context.Context) error {
		return e.store.UpdatePasswordHash(ctx, p.ID, digest)
	}); err != nil {
		return err
	}
	if err := e.write(ctx, "revoke refresh tokens", func(ctx context.Context) error {
		_, err := e.store.DeleteRefreshTokensForPrincipal(ctx, p.ID)
		return err
	}); err != nil {
		return err
	}

	e.metricInc(MetricPasswordChanged)
	e.emitAudit(ctx, auditEventPasswordChanged, true, p.ID, p.TenantID, nil, nil)
	return nil
}

// RequestPasswordReset is the reset entry point. Delivery of a reset link
// is left to the caller's integration; the call records an audit event and
// returns nil whether or not the address is known.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}
	email = sanitize.Email(email)
	if email == "" {
		return nil
	}

	p, err := e.store.GetPrincipalByEmail(ctx, email)
	switch {
	case err == nil:
		e.emitAudit(ctx, auditEventPasswordResetRequest, true, p.ID, p.TenantID, nil, nil)
	case errors.Is(err, store.ErrNotFound):
		e.emitAudit(ctx, auditEventPasswordResetRequest, false, "", "", nil, nil)
	default:
		e.log(ctx).Warn("password reset lookup failed", slog.Any("error", err))
	}
	return nil
}
