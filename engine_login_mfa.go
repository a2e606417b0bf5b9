package tenantauth

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/tenantauth/internal"
	"github.com/MrEthical07/tenantauth/store"
)

// VerifySecondFactor completes a login that returned SecondFactorRequired.
// code is either a current TOTP code or an unused backup code. A challenge
// is single use: once tokens are issued any further call with it fails with
// ErrChallengeInvalid.
//
// A rejected code counts as a failed login for the principal and as one
// attempt on the challenge; the challenge is discarded after
// TOTP.ChallengeMaxAttempts rejections.
func (e *Engine) VerifySecondFactor(ctx context.Context, challenge, code string) (*LoginResult, error) {
	if e == nil || e.store == nil || e.challenges == nil {
		return nil, ErrEngineNotReady
	}
	if challenge == "" {
		return nil, ErrChallengeInvalid
	}

	record, err := e.challenges.Get(ctx, challenge)
	if err != nil {
		err = e.challengeError(ctx, err)
		e.emitAudit(ctx, auditEventSecondFactorFailure, false, "", "", err, nil)
		return nil, err
	}

	p, err := e.store.GetPrincipal(ctx, record.PrincipalID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrChallengeInvalid
		}
		return nil, e.storeError(ctx, "get principal", err)
	}
	if p.TenantID != record.TenantID || !p.SecondFactorEnabled {
		return nil, ErrChallengeInvalid
	}

	now := e.now()
	if lockedAt(p, now) {
		_, _ = e.challenges.Consume(ctx, challenge)
		e.emitAudit(ctx, auditEventSecondFactorFailure, false, p.ID, p.TenantID, ErrAccountLocked, nil)
		return nil, ErrAccountLocked
	}

	ok, backup, err := e.checkSecondFactor(ctx, p, code, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, e.secondFactorFailure(ctx, p, challenge, now)
	}

	consumed, err := e.challenges.Consume(ctx, challenge)
	if err != nil {
		return nil, e.challengeError(ctx, err)
	}
	if !consumed {
		return nil, ErrChallengeInvalid
	}

	if err := e.write(ctx, "record login success", func(ctx context.Context) error {
		return e.store.RecordLoginSuccess(ctx, p.ID, now)
	}); err != nil {
		return nil, err
	}
	store.ApplyLoginSuccess(p, now)

	pair, err := e.issueTokens(ctx, p, "")
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricSecondFactorSuccess)
	e.metricInc(MetricLoginSuccess)
	if backup {
		e.metricInc(MetricBackupCodeUsed)
		e.emitAudit(ctx, auditEventBackupCodeUsed, true, p.ID, p.TenantID, nil, nil)
	}
	e.emitAudit(ctx, auditEventSecondFactorSuccess, true, p.ID, p.TenantID, nil, func() map[string]string {
		if backup {
			return map[string]string{"method": "backup_code"}
		}
		return map[string]string{"method": "totp"}
	})

	return &LoginResult{TokenPair: pair, Principal: viewOf(p)}, nil
}

func (e *Engine) secondFactorFailure(ctx context.Context, p *store.Principal, challenge string, now time.Time) error {
	e.metricInc(MetricSecondFactorFailure)

	exceeded, cerr := e.challenges.RecordFailure(ctx, challenge, e.config.TOTP.ChallengeMaxAttempts)
	if cerr == nil && exceeded {
		e.emitAudit(ctx, auditEventChallengeExhausted, false, p.ID, p.TenantID, ErrSecondFactorInvalid, nil)
	}

	if err := e.loginFailure(ctx, p, now, ErrSecondFactorInvalid); !errors.Is(err, ErrSecondFactorInvalid) {
		return err
	}
	e.emitAudit(ctx, auditEventSecondFactorFailure, false, p.ID, p.TenantID, ErrSecondFactorInvalid, nil)
	return ErrSecondFactorInvalid
}

// checkSecondFactor accepts a TOTP code whose step is newer than the last
// accepted one, or an unused backup code. backup reports which kind matched.
func (e *Engine) checkSecondFactor(ctx context.Context, p *store.Principal, code string, now time.Time) (ok bool, backup bool, err error) {
	if e.totp.LooksLikeCode(code) {
		valid, counter, err := e.totp.VerifyCode(p.SecondFactorSecret, code, now)
		if err != nil {
			return false, false, e.internalError(ctx, "verify totp", err)
		}
		if !valid {
			return false, false, nil
		}
		var advanced bool
		err = e.write(ctx, "advance totp counter", func(ctx context.Context) error {
			var err error
			advanced, err = e.store.AdvanceTOTPCounter(ctx, p.ID, counter)
			return err
		})
		if err != nil {
			return false, false, err
		}
		return advanced, false, nil
	}

	canonical := internal.CanonicalizeBackupCode(code)
	if len(canonical) != e.config.TOTP.BackupCodeLength {
		return false, true, nil
	}
	hash := internal.BackupCodeHash(p.ID, canonical)

	var consumed bool
	err = e.write(ctx, "consume backup code", func(ctx context.Context) error {
		var err error
		consumed, err = e.store.ConsumeBackupCode(ctx, p.ID, hash, now)
		return err
	})
	if err != nil {
		return false, true, err
	}
	return consumed, true, nil
}
