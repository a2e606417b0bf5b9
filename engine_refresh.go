package tenantauth

import (
	"context"
	"errors"
	"strconv"

	"github.com/MrEthical07/tenantauth/internal"
	"github.com/MrEthical07/tenantauth/jwt"
	"github.com/MrEthical07/tenantauth/store"
)

// Refresh exchanges a refresh token for a new token pair. The presented
// token is always rotated: its row is deleted in the same store transaction
// that inserts the new one, so a refresh token works exactly once.
//
// Refresh re-checks the principal's status but not the tenant's plan.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*RefreshResult, error) {
	if e == nil || e.codec == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}

	claims, err := e.codec.Verify(refreshToken, jwt.ClassRefresh)
	if err != nil {
		err = tokenError(err)
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, "", "", err, nil)
		return nil, err
	}

	hash := internal.HashToken(refreshToken)
	row, err := e.store.GetRefreshToken(ctx, hash)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, e.refreshRejected(ctx, claims, ErrTokenInvalid)
		}
		return nil, e.storeError(ctx, "get refresh token", err)
	}

	now := e.now()
	switch {
	case row.PrincipalID != claims.PrincipalID() || row.TenantID != claims.TenantID:
		return nil, e.refreshRejected(ctx, claims, ErrTokenInvalid)
	case row.Revoked:
		return nil, e.refreshRejected(ctx, claims, ErrTokenInvalid)
	case !row.UsableAt(now):
		return nil, e.refreshRejected(ctx, claims, ErrTokenExpired)
	}

	p, err := e.store.GetPrincipal(ctx, row.PrincipalID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, e.refreshRejected(ctx, claims, ErrTokenInvalid)
		}
		return nil, e.storeError(ctx, "get principal", err)
	}
	if p.Status != PrincipalActive {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, p.ID, p.TenantID, ErrPrincipalInactive, nil)
		return nil, ErrPrincipalInactive
	}

	pair, err := e.issueTokens(ctx, p, hash)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Rotated or revoked by a concurrent request.
			return nil, e.refreshRejected(ctx, claims, ErrTokenInvalid)
		}
		return nil, err
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, true, p.ID, p.TenantID, nil, nil)

	return &RefreshResult{TokenPair: pair}, nil
}

func (e *Engine) refreshRejected(ctx context.Context, claims *jwt.Claims, err error) error {
	e.metricInc(MetricRefreshFailure)
	e.emitAudit(ctx, auditEventRefreshInvalid, false, claims.PrincipalID(), claims.TenantID, err, nil)
	return err
}

// Logout deletes the stored row of refreshToken. The token is not decoded;
// an unknown, expired or malformed token is a successful no-op.
func (e *Engine) Logout(ctx context.Context, refreshToken string) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}
	if refreshToken == "" {
		return nil
	}
	hash := internal.HashToken(refreshToken)
	if err := e.write(ctx, "delete refresh token", func(ctx context.Context) error {
		return e.store.DeleteRefreshToken(ctx, hash)
	}); err != nil {
		return err
	}
	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditEventLogout, true, "", "", nil, nil)
	return nil
}

// LogoutAll deletes every refresh token of principalID. Access tokens
// already issued stay valid until they expire.
func (e *Engine) LogoutAll(ctx context.Context, principalID string) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}
	if principalID == "" {
		return invalidField("PrincipalID", "is required")
	}
	var n int64
	if err := e.write(ctx, "delete principal refresh tokens", func(ctx context.Context) error {
		var err error
		n, err = e.store.DeleteRefreshTokensForPrincipal(ctx, principalID)
		return err
	}); err != nil {
		return err
	}
	e.metricInc(MetricLogoutAll)
	e.emitAudit(ctx, auditEventLogoutAll, true, principalID, "", nil, func() map[string]string {
		return map[string]string{"revoked": strconv.FormatInt(n, 10)}
	})
	return nil
}

// ActiveSessions returns the number of usable refresh tokens of
// principalID.
func (e *Engine) ActiveSessions(ctx context.Context, principalID string) (int64, error) {
	if e == nil || e.store == nil {
		return 0, ErrEngineNotReady
	}
	n, err := e.store.CountActiveRefreshTokens(ctx, principalID, e.now())
	if err != nil {
		return 0, e.storeError(ctx, "count refresh tokens", err)
	}
	return n, nil
}
