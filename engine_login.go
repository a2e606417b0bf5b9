package tenantauth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/MrEthical07/tenantauth/internal"
	"github.com/MrEthical07/tenantauth/internal/sanitize"
	"github.com/MrEthical07/tenantauth/internal/stores"
	"github.com/MrEthical07/tenantauth/store"
)

// Login authenticates a principal by email and password.
//
// An unknown email and a wrong password both fail with
// ErrInvalidCredentials. A locked principal fails with ErrAccountLocked
// before the password is checked. When the principal has a second factor
// enabled the result carries a one-use challenge and no tokens.
func (e *Engine) Login(ctx context.Context, email, pass string) (*LoginResult, error) {
	if e == nil || e.store == nil || e.hasher == nil {
		return nil, ErrEngineNotReady
	}
	start := time.Now()

	email = sanitize.Email(email)
	if email == "" || pass == "" {
		e.hasher.Equalize(pass)
		e.metricInc(MetricLoginFailure)
		return nil, ErrInvalidCredentials
	}

	p, err := e.store.GetPrincipalByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			e.hasher.Equalize(pass)
			e.metricInc(MetricLoginFailure)
			e.emitAudit(ctx, auditEventLoginFailure, false, "", "", ErrInvalidCredentials, nil)
			return nil, ErrInvalidCredentials
		}
		return nil, e.storeError(ctx, "lookup principal", err)
	}

	now := e.now()
	if lockedAt(p, now) {
		e.metricInc(MetricLoginLocked)
		e.emitAudit(ctx, auditEventLoginFailure, false, p.ID, p.TenantID, ErrAccountLocked, nil)
		return nil, ErrAccountLocked
	}

	ok, err := e.hasher.Verify(pass, p.PasswordHash)
	if err != nil {
		e.log(ctx).Warn("stored password digest unreadable",
			slog.String("principal_id", p.ID),
			slog.Any("error", err),
		)
		ok = false
	}
	if !ok {
		return nil, e.loginFailure(ctx, p, now, ErrInvalidCredentials)
	}

	if p.Status == PrincipalPending || p.Status == PrincipalSuspended {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, p.ID, p.TenantID, ErrPrincipalInactive, nil)
		return nil, ErrPrincipalInactive
	}

	if err := e.write(ctx, "record login success", func(ctx context.Context) error {
		return e.store.RecordLoginSuccess(ctx, p.ID, now)
	}); err != nil {
		return nil, err
	}
	store.ApplyLoginSuccess(p, now)

	e.upgradeHash(ctx, p, pass)

	if err := e.requireActiveTenant(ctx, p); err != nil {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, p.ID, p.TenantID, err, nil)
		return nil, err
	}

	if p.SecondFactorEnabled {
		return e.startSecondFactor(ctx, p, now)
	}

	pair, err := e.issueTokens(ctx, p, "")
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, p.ID, p.TenantID, nil, nil)
	if e.metrics.LatencyEnabled() {
		e.metrics.Observe(MetricLoginLatency, time.Since(start))
	}

	return &LoginResult{TokenPair: pair, Principal: viewOf(p)}, nil
}

// lockedAt reports whether p is refused at now without a password check.
// A lockout whose window has passed no longer counts; a manual lock has no
// window and always counts.
func lockedAt(p *store.Principal, now time.Time) bool {
	if !p.LockoutUntil.IsZero() && now.Before(p.LockoutUntil) {
		return true
	}
	return p.Status == PrincipalLocked && p.LockoutUntil.IsZero()
}

// loginFailure records one failed attempt for p and returns cause.
func (e *Engine) loginFailure(ctx context.Context, p *store.Principal, now time.Time, cause error) error {
	var state store.LoginState
	err := e.write(ctx, "record login failure", func(ctx context.Context) error {
		var err error
		state, err = e.store.RecordLoginFailure(ctx, p.ID, now, e.lockoutPolicy())
		return err
	})
	if err != nil {
		return err
	}

	e.metricInc(MetricLoginFailure)
	e.emitAudit(ctx, auditEventLoginFailure, false, p.ID, p.TenantID, cause, nil)
	if state.Locked {
		e.metricInc(MetricAccountLocked)
		e.emitAudit(ctx, auditEventAccountLocked, true, p.ID, p.TenantID, nil, func() map[string]string {
			return map[string]string{"until": state.LockoutUntil.UTC().Format(time.RFC3339)}
		})
	}
	return cause
}

func (e *Engine) requireActiveTenant(ctx context.Context, p *store.Principal) error {
	if p.Role == RoleSuperAdmin {
		return nil
	}
	t, err := e.store.GetTenant(ctx, p.TenantID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrTenantInactive
		}
		return e.storeError(ctx, "get tenant", err)
	}
	if t.Status != TenantActive {
		return ErrTenantInactive
	}
	return nil
}

// upgradeHash re-hashes pass under the current cost when the stored digest
// is older. Failure is logged and never fails the login.
func (e *Engine) upgradeHash(ctx context.Context, p *store.Principal, pass string) {
	if !e.config.Password.UpgradeOnLogin {
		return
	}
	stale, err := e.hasher.NeedsUpgrade(p.PasswordHash)
	if err != nil || !stale {
		return
	}
	digest, err := e.hasher.Hash(pass)
	if err != nil {
		return
	}
	err = e.write(ctx, "upgrade password hash", func(ctx context.Context) error {
		return e.store.UpdatePasswordHash(ctx, p.ID, digest)
	})
	if err != nil {
		e.log(ctx).Warn("password rehash failed", slog.String("principal_id", p.ID), slog.Any("error", err))
		return
	}
	p.PasswordHash = digest
	e.emitAudit(ctx, auditEventPasswordRehashed, true, p.ID, p.TenantID, nil, nil)
}

func (e *Engine) startSecondFactor(ctx context.Context, p *store.Principal, now time.Time) (*LoginResult, error) {
	id, err := internal.NewChallengeID()
	if err != nil {
		return nil, e.internalError(ctx, "generate challenge", err)
	}
	expires := now.Add(e.config.TOTP.ChallengeTTL)
	record := &stores.Challenge{
		PrincipalID: p.ID,
		TenantID:    p.TenantID,
		ExpiresAt:   expires.UnixMilli(),
	}
	if err := e.challenges.Save(ctx, id, record, e.config.TOTP.ChallengeTTL); err != nil {
		return nil, e.challengeError(ctx, err)
	}

	e.metricInc(MetricSecondFactorRequired)
	e.emitAudit(ctx, auditEventSecondFactorRequired, true, p.ID, p.TenantID, nil, nil)

	return &LoginResult{
		SecondFactorRequired: true,
		Challenge:            id,
		ChallengeExpiresAt:   expires,
	}, nil
}

func (e *Engine) challengeError(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, stores.ErrChallengeNotFound):
		return ErrChallengeInvalid
	case errors.Is(err, stores.ErrChallengeExpired):
		return ErrChallengeExpired
	case errors.Is(err, stores.ErrChallengeBackend):
		e.log(ctx).Warn("challenge store unavailable", slog.Any("error", err))
		return ErrStoreUnavailable
	default:
		return e.internalError(ctx, "challenge store", err)
	}
}
