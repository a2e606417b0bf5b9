package tenantauth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/MrEthical07/tenantauth/internal"
	"github.com/MrEthical07/tenantauth/internal/audit"
	"github.com/MrEthical07/tenantauth/internal/logging"
	"github.com/MrEthical07/tenantauth/internal/stores"
	"github.com/MrEthical07/tenantauth/jwt"
	"github.com/MrEthical07/tenantauth/password"
	"github.com/MrEthical07/tenantauth/store"
)

// Engine is the authentication core. It is built once by Builder and is
// safe for concurrent use; all per-request state lives in the store and in
// Redis.
type Engine struct {
	config     Config
	store      store.CredentialStore
	hasher     *password.Hasher
	codec      *jwt.Codec
	totp       *TOTPEngine
	challenges *stores.ChallengeStore
	audit      *audit.Dispatcher
	metrics    *Metrics
	logger     *slog.Logger
	now        func() time.Time

	quota   *PlanLimitEvaluator
	subs    *SubscriptionManager
	tenants *TenantLifecycle
	plans   *PlanCatalog
}

// Close flushes and stops the audit dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped returns the number of audit events dropped because the
// dispatcher buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:      map[MetricID]uint64{},
			Histograms:    map[MetricID][]uint64{},
			HistogramSums: map[MetricID]float64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// Quota returns the plan-limit evaluator bound to this engine's store.
func (e *Engine) Quota() *PlanLimitEvaluator { return e.quota }

// Subscriptions returns the tenant subscription state machine.
func (e *Engine) Subscriptions() *SubscriptionManager { return e.subs }

// Tenants returns the tenant lifecycle operations.
func (e *Engine) Tenants() *TenantLifecycle { return e.tenants }

// Plans returns the plan catalog.
func (e *Engine) Plans() *PlanCatalog { return e.plans }

// Health pings the credential store and Redis.
func (e *Engine) Health(ctx context.Context) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}
	if err := e.store.Ping(ctx); err != nil {
		return errors.Join(ErrStoreUnavailable, err)
	}
	if err := e.challenges.Ping(ctx); err != nil {
		return errors.Join(ErrStoreUnavailable, err)
	}
	return nil
}

// ValidateAccess verifies an access token and returns its claims. No store
// lookup is made; a revoked principal keeps access until the token expires.
func (e *Engine) ValidateAccess(ctx context.Context, token string) (*AccessClaims, error) {
	if e == nil || e.codec == nil {
		return nil, ErrEngineNotReady
	}
	claims, err := e.codec.Verify(token, jwt.ClassAccess)
	if err != nil {
		return nil, tokenError(err)
	}
	out := &AccessClaims{
		PrincipalID: claims.PrincipalID(),
		TenantID:    claims.TenantID,
		Role:        Role(claims.Role),
		TokenID:     claims.ID,
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}

func tokenError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrExpired):
		return ErrTokenExpired
	case errors.Is(err, jwt.ErrWrongClass):
		return ErrTokenWrongClass
	default:
		return ErrTokenInvalid
	}
}

// issueTokens signs a token pair for p and persists the refresh row. When
// rotateFrom is set the old refresh row is replaced atomically.
func (e *Engine) issueTokens(ctx context.Context, p *store.Principal, rotateFrom string) (TokenPair, error) {
	sub := jwt.Subject{PrincipalID: p.ID, TenantID: p.TenantID, Role: string(p.Role)}

	access, accessClaims, err := e.codec.Issue(jwt.ClassAccess, sub)
	if err != nil {
		return TokenPair{}, e.internalError(ctx, "issue access token", err)
	}
	refresh, refreshClaims, err := e.codec.Issue(jwt.ClassRefresh, sub)
	if err != nil {
		return TokenPair{}, e.internalError(ctx, "issue refresh token", err)
	}

	row := &store.RefreshToken{
		ID:          refreshClaims.ID,
		TokenHash:   internal.HashToken(refresh),
		PrincipalID: p.ID,
		TenantID:    p.TenantID,
		IssuedAt:    refreshClaims.IssuedAt.Time,
		ExpiresAt:   refreshClaims.ExpiresAt.Time,
	}

	err = e.write(ctx, "persist refresh token", func(ctx context.Context) error {
		if rotateFrom != "" {
			return e.store.RotateRefreshToken(ctx, rotateFrom, row)
		}
		return e.store.InsertRefreshToken(ctx, row)
	})
	if err != nil {
		return TokenPair{}, err
	}

	return TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  accessClaims.ExpiresAt.Time,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshClaims.ExpiresAt.Time,
	}, nil
}

func (e *Engine) lockoutPolicy() store.LockoutPolicy {
	return store.LockoutPolicy{
		Threshold: e.config.Lockout.Threshold,
		Backoff:   e.config.Lockout.Backoff,
	}
}

func (e *Engine) log(ctx context.Context) *slog.Logger {
	return logging.WithContext(ctx, e.logger)
}
