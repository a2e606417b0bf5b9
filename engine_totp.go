package tenantauth

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/tenantauth/store"
)

// EnrollSecondFactor starts TOTP enrollment for principalID. The secret and
// backup codes in the result are shown once and are not retrievable later.
// Enrollment takes effect only after ConfirmSecondFactor; an unconfirmed
// enrollment expires after TOTP.EnrollmentTTL. account labels the entry in
// the authenticator app and defaults to the principal's email.
func (e *Engine) EnrollSecondFactor(ctx context.Context, principalID, account string) (*Enrollment, error) {
	if e == nil || e.store == nil || e.totp == nil {
		return nil, ErrEngineNotReady
	}

	p, err := e.store.GetPrincipal(ctx, principalID)
	if err != nil {
		return nil, e.storeError(ctx, "get principal", err)
	}
	if p.SecondFactorEnabled {
		return nil, ErrSecondFactorEnabled
	}
	if account == "" {
		account = p.Email
	}

	raw, encoded, err := e.totp.GenerateSecret()
	if err != nil {
		return nil, e.internalError(ctx, "generate totp secret", err)
	}
	codes, hashes, err := e.generateBackupCodes(p.ID)
	if err != nil {
		return nil, e.internalError(ctx, "generate backup codes", err)
	}

	now := e.now()
	expires := now.Add(e.config.TOTP.EnrollmentTTL)
	enrollment := &store.SecondFactorEnrollment{
		PrincipalID:  p.ID,
		Secret:       raw,
		BackupHashes: hashes,
		ExpiresAt:    expires,
		CreatedAt:    now,
	}
	if err := e.write(ctx, "save enrollment", func(ctx context.Context) error {
		return e.store.SavePendingEnrollment(ctx, enrollment)
	}); err != nil {
		return nil, err
	}

	e.emitAudit(ctx, auditEventSecondFactorEnroll, true, p.ID, p.TenantID, nil, nil)

	return &Enrollment{
		Secret:          encoded,
		ProvisioningURI: e.totp.ProvisionURI(encoded, account),
		BackupCodes:     codes,
		ExpiresAt:       expires,
	}, nil
}

// ConfirmSecondFactor promotes the pending enrollment once code matches its
// secret. The code is not recorded as used, so it remains valid for one
// login within its step.
func (e *Engine) ConfirmSecondFactor(ctx context.Context, principalID, code string) error {
	if e == nil || e.store == nil || e.totp == nil {
		return ErrEngineNotReady
	}

	now := e.now()
	enrollment, err := e.store.GetPendingEnrollment(ctx, principalID, now)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrSecondFactorNoEnrolment
		}
		return e.storeError(ctx, "get enrollment", err)
	}

	ok, _, err := e.totp.VerifyCode(enrollment.Secret, code, now)
	if err != nil {
		return e.internalError(ctx, "verify totp", err)
	}
	if !ok {
		e.metricInc(MetricSecondFactorFailure)
		e.emitAudit(ctx, auditEventSecondFactorFailure, false, principalID, "", ErrSecondFactorInvalid, nil)
		return ErrSecondFactorInvalid
	}

	if err := e.write(ctx, "confirm second factor", func(ctx context.Context) error {
		return e.store.ConfirmSecondFactor(ctx, principalID, now)
	}); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrSecondFactorNoEnrolment
		}
		return err
	}

	e.emitAudit(ctx, auditEventSecondFactorEnabled, true, principalID, "", nil, nil)
	return nil
}

// DisableSecondFactor turns TOTP off after re-verifying the password and a
// current TOTP code. The secret and all backup codes are removed.
func (e *Engine) DisableSecondFactor(ctx context.Context, principalID, pass, code string) error {
	if e == nil || e.store == nil || e.totp == nil {
		return ErrEngineNotReady
	}

	p, err := e.store.GetPrincipal(ctx, principalID)
	if err != nil {
		return e.storeError(ctx, "get principal", err)
	}
	if !p.SecondFactorEnabled {
		return ErrSecondFactorNotEnabled
	}

	ok, err := e.hasher.Verify(pass, p.PasswordHash)
	if err != nil || !ok {
		e.emitAudit(ctx, auditEventSecondFactorFailure, false, p.ID, p.TenantID, ErrInvalidCredentials, nil)
		return ErrInvalidCredentials
	}

	if err := e.requireTOTP(ctx, p, code, e.now()); err != nil {
		return err
	}

	if err := e.write(ctx, "disable second factor", func(ctx context.Context) error {
		return e.store.DisableSecondFactor(ctx, p.ID)
	}); err != nil {
		return err
	}

	e.emitAudit(ctx, auditEventSecondFactorDisabled, true, p.ID, p.TenantID, nil, nil)
	return nil
}

// requireTOTP accepts only a TOTP code, never a backup code, and records
// its step so it cannot be replayed.
func (e *Engine) requireTOTP(ctx context.Context, p *store.Principal, code string, now time.Time) error {
	if !e.totp.LooksLikeCode(code) {
		e.metricInc(MetricSecondFactorFailure)
		return ErrSecondFactorInvalid
	}
	ok, _, err := e.checkSecondFactor(ctx, p, code, now)
	if err != nil {
		return err
	}
	if !ok {
		e.metricInc(MetricSecondFactorFailure)
		e.emitAudit(ctx, auditEventSecondFactorFailure, false, p.ID, p.TenantID, ErrSecondFactorInvalid, nil)
		return ErrSecondFactorInvalid
	}
	return nil
}
