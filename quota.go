package tenantauth

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/tenantauth/store"
)

// PlanLimitEvaluator decides whether a tenant may create one more instance
// of a resource kind under its active plan.
//
// CheckQuota is advisory. Reserve and Register take the decision inside the
// store transaction of the create, so two concurrent creates cannot both
// take the last slot.
type PlanLimitEvaluator struct {
	engine *Engine
}

// CheckQuota evaluates kind for tenantID at the engine's current time. A
// subscription whose end has passed counts as no plan even before the
// sweeper marks it expired.
func (q *PlanLimitEvaluator) CheckQuota(ctx context.Context, tenantID string, kind ResourceKind) (QuotaDecision, error) {
	if q == nil || q.engine == nil {
		return QuotaDecision{}, ErrEngineNotReady
	}
	e := q.engine
	if !kind.Valid() {
		return QuotaDecision{}, invalidField("Kind", "is not a resource kind")
	}

	if _, err := e.store.GetTenant(ctx, tenantID); err != nil {
		return QuotaDecision{}, e.storeError(ctx, "get tenant", err)
	}

	var (
		plan   *store.Plan
		active *store.TenantPlan
	)
	row, err := e.store.GetActiveTenantPlan(ctx, tenantID)
	switch {
	case err == nil:
		active = row
		plan, err = e.store.GetPlan(ctx, row.PlanID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return QuotaDecision{}, e.storeError(ctx, "get plan", err)
		}
	case errors.Is(err, store.ErrNotFound):
	default:
		return QuotaDecision{}, e.storeError(ctx, "get active plan", err)
	}

	var current int64
	if kind == ResourcePrincipal {
		current, err = e.store.CountPrincipals(ctx, tenantID)
	} else {
		current, err = e.store.UsageCount(ctx, tenantID, kind)
	}
	if err != nil {
		return QuotaDecision{}, e.storeError(ctx, "count usage", err)
	}

	d := decide(kind, current, plan, active, e.now())
	q.record(ctx, tenantID, d)
	return d, nil
}

// Reserve admits one more instance of kind and increments the tenant's
// usage counter in the same transaction. Principals are admitted by
// Register and cannot be reserved here.
func (q *PlanLimitEvaluator) Reserve(ctx context.Context, tenantID string, kind ResourceKind) (int64, error) {
	if q == nil || q.engine == nil {
		return 0, ErrEngineNotReady
	}
	e := q.engine
	if !kind.Valid() || kind == ResourcePrincipal {
		return 0, invalidField("Kind", "must be branch, currency, transaction-volume or storage")
	}

	now := e.now()
	var used int64
	err := e.write(ctx, "reserve usage", func(ctx context.Context) error {
		var err error
		used, err = e.store.ReserveUsage(ctx, tenantID, kind, q.admitFunc(kind, now))
		return err
	})
	if err != nil {
		if errors.Is(err, ErrQuotaExceeded) {
			e.emitAudit(ctx, auditEventQuotaDenied, false, "", tenantID, err, func() map[string]string {
				return map[string]string{"kind": string(kind)}
			})
		}
		return 0, err
	}
	return used, nil
}

// Release returns one unit of kind to the tenant. Releasing below zero is
// a no-op.
func (q *PlanLimitEvaluator) Release(ctx context.Context, tenantID string, kind ResourceKind) error {
	if q == nil || q.engine == nil {
		return ErrEngineNotReady
	}
	e := q.engine
	if !kind.Valid() || kind == ResourcePrincipal {
		return invalidField("Kind", "must be branch, currency, transaction-volume or storage")
	}
	return e.write(ctx, "release usage", func(ctx context.Context) error {
		return e.store.ReleaseUsage(ctx, tenantID, kind)
	})
}

// admitFunc returns the admission callback run inside the store's create
// transaction.
func (q *PlanLimitEvaluator) admitFunc(kind ResourceKind, now time.Time) store.AdmitFunc {
	return func(current int64, plan *store.Plan, active *store.TenantPlan) error {
		d := decide(kind, current, plan, active, now)
		if d.Allowed {
			q.engine.metricInc(MetricQuotaAllowed)
		} else {
			q.engine.metricInc(MetricQuotaDenied)
		}
		return d.Err()
	}
}

func (q *PlanLimitEvaluator) record(ctx context.Context, tenantID string, d QuotaDecision) {
	if d.Allowed {
		q.engine.metricInc(MetricQuotaAllowed)
		return
	}
	q.engine.metricInc(MetricQuotaDenied)
	q.engine.emitAudit(ctx, auditEventQuotaDenied, false, "", tenantID, d.Err(), func() map[string]string {
		return map[string]string{"kind": string(d.Kind), "reason": string(d.Reason)}
	})
}

func decide(kind ResourceKind, current int64, plan *store.Plan, active *store.TenantPlan, now time.Time) QuotaDecision {
	if plan == nil || !active.ActiveAt(now) {
		return QuotaDecision{Kind: kind, Reason: QuotaReasonNoActivePlan}
	}
	limit := plan.Limits.For(kind)
	if limit <= 0 || current < limit {
		return QuotaDecision{Allowed: true, Kind: kind, Limit: limit, Current: current}
	}
	return QuotaDecision{Kind: kind, Reason: QuotaReasonLimitReached, Limit: limit, Current: current}
}
