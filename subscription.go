package tenantauth

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/tenantauth/internal/ids"
	"github.com/MrEthical07/tenantauth/store"
)

// SubscriptionManager runs the per-tenant subscription state machine:
//
//	none      -> active     Assign
//	active    -> active     Assign (replaced in place), Extend
//	active    -> suspended  Suspend
//	suspended -> active     Resume
//	active    -> expired    Expire, or the clock passing EndAt
//
// Every transition is serialised per tenant by the store and re-applying a
// transition to a row already in the target state succeeds without change.
type SubscriptionManager struct {
	engine *Engine
}

// Assign binds tenantID to planID for duration starting now. An active row
// is replaced in place; otherwise a new row is inserted and older rows are
// kept for history.
func (s *SubscriptionManager) Assign(ctx context.Context, tenantID, planID string, duration time.Duration) (*TenantPlan, error) {
	if s == nil || s.engine == nil {
		return nil, ErrEngineNotReady
	}
	if duration <= 0 {
		return nil, invalidField("Duration", "must be positive")
	}
	e := s.engine
	if err := s.requirePlan(ctx, planID); err != nil {
		return nil, err
	}

	now := e.now().UTC()
	row, err := s.mutate(ctx, tenantID, "assign subscription", func(cur *store.TenantPlan) (*store.TenantPlan, error) {
		if cur != nil && cur.Status == SubscriptionActive {
			next := *cur
			next.PlanID = planID
			next.StartAt = now
			next.EndAt = now.Add(duration)
			next.UpdatedAt = now
			return &next, nil
		}
		return &store.TenantPlan{
			ID:        ids.New(now),
			TenantID:  tenantID,
			PlanID:    planID,
			StartAt:   now,
			EndAt:     now.Add(duration),
			Status:    SubscriptionActive,
			CreatedAt: now,
			UpdatedAt: now,
		}, nil
	})
	if err != nil {
		return nil, err
	}

	e.emitAudit(ctx, auditEventSubscriptionAssigned, true, "", tenantID, nil, func() map[string]string {
		return map[string]string{"plan_id": planID, "end_at": row.EndAt.Format(time.RFC3339)}
	})
	return row, nil
}

// Suspend moves the active row to suspended.
func (s *SubscriptionManager) Suspend(ctx context.Context, tenantID string) (*TenantPlan, error) {
	return s.transition(ctx, tenantID, "suspend subscription", auditEventSubscriptionSuspended,
		func(cur *store.TenantPlan, now time.Time) (SubscriptionStatus, error) {
			switch cur.Status {
			case SubscriptionSuspended:
				return "", nil
			case SubscriptionActive:
				if !now.Before(cur.EndAt) {
					return "", ErrIllegalTransition
				}
				return SubscriptionSuspended, nil
			}
			return "", ErrIllegalTransition
		})
}

// Resume moves a suspended row back to active. A row whose window has
// already passed cannot be resumed; assign or extend instead.
func (s *SubscriptionManager) Resume(ctx context.Context, tenantID string) (*TenantPlan, error) {
	return s.transition(ctx, tenantID, "resume subscription", auditEventSubscriptionResumed,
		func(cur *store.TenantPlan, now time.Time) (SubscriptionStatus, error) {
			switch cur.Status {
			case SubscriptionActive:
				return "", nil
			case SubscriptionSuspended:
				if !now.Before(cur.EndAt) {
					return "", ErrIllegalTransition
				}
				return SubscriptionActive, nil
			}
			return "", ErrIllegalTransition
		})
}

// Expire ends the active row now.
func (s *SubscriptionManager) Expire(ctx context.Context, tenantID string) (*TenantPlan, error) {
	return s.transition(ctx, tenantID, "expire subscription", auditEventSubscriptionExpired,
		func(cur *store.TenantPlan, _ time.Time) (SubscriptionStatus, error) {
			switch cur.Status {
			case SubscriptionExpired:
				return "", nil
			case SubscriptionActive:
				return SubscriptionExpired, nil
			}
			return "", ErrIllegalTransition
		})
}

// Extend pushes the end of the active row out by months calendar months
// and, when newPlanID is set, swaps the plan.
func (s *SubscriptionManager) Extend(ctx context.Context, tenantID string, months int, newPlanID string) (*TenantPlan, error) {
	if s == nil || s.engine == nil {
		return nil, ErrEngineNotReady
	}
	if months <= 0 {
		return nil, invalidField("Months", "must be positive")
	}
	e := s.engine
	if newPlanID != "" {
		if err := s.requirePlan(ctx, newPlanID); err != nil {
			return nil, err
		}
	}

	now := e.now().UTC()
	row, err := s.mutate(ctx, tenantID, "extend subscription", func(cur *store.TenantPlan) (*store.TenantPlan, error) {
		if cur == nil || !cur.ActiveAt(now) {
			return nil, ErrIllegalTransition
		}
		next := *cur
		next.EndAt = cur.EndAt.AddDate(0, months, 0)
		if newPlanID != "" {
			next.PlanID = newPlanID
		}
		next.UpdatedAt = now
		return &next, nil
	})
	if err != nil {
		return nil, err
	}

	e.emitAudit(ctx, auditEventSubscriptionExtended, true, "", tenantID, nil, func() map[string]string {
		return map[string]string{"plan_id": row.PlanID, "end_at": row.EndAt.Format(time.RFC3339)}
	})
	return row, nil
}

// EffectivePlanAt returns the plan granted to tenantID at t, or
// ErrNoActivePlan.
func (s *SubscriptionManager) EffectivePlanAt(ctx context.Context, tenantID string, t time.Time) (*Plan, error) {
	if s == nil || s.engine == nil {
		return nil, ErrEngineNotReady
	}
	e := s.engine
	if _, err := e.store.GetTenant(ctx, tenantID); err != nil {
		return nil, e.storeError(ctx, "get tenant", err)
	}
	row, err := e.store.GetActiveTenantPlan(ctx, tenantID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNoActivePlan
		}
		return nil, e.storeError(ctx, "get active plan", err)
	}
	if !row.ActiveAt(t) {
		return nil, ErrNoActivePlan
	}
	plan, err := e.store.GetPlan(ctx, row.PlanID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNoActivePlan
		}
		return nil, e.storeError(ctx, "get plan", err)
	}
	return plan, nil
}

// Current returns the active row of tenantID, or ErrNoActivePlan.
func (s *SubscriptionManager) Current(ctx context.Context, tenantID string) (*TenantPlan, error) {
	if s == nil || s.engine == nil {
		return nil, ErrEngineNotReady
	}
	row, err := s.engine.store.GetActiveTenantPlan(ctx, tenantID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNoActivePlan
		}
		return nil, s.engine.storeError(ctx, "get active plan", err)
	}
	return row, nil
}

// History lists every subscription row of tenantID, oldest first.
func (s *SubscriptionManager) History(ctx context.Context, tenantID string) ([]TenantPlan, error) {
	if s == nil || s.engine == nil {
		return nil, ErrEngineNotReady
	}
	rows, err := s.engine.store.ListTenantPlans(ctx, tenantID)
	if err != nil {
		return nil, s.engine.storeError(ctx, "list tenant plans", err)
	}
	return rows, nil
}

// ExpireDue marks every active row whose window has ended as expired and
// moves active tenants left without a plan to expired.
func (s *SubscriptionManager) ExpireDue(ctx context.Context) ([]TenantPlan, error) {
	if s == nil || s.engine == nil {
		return nil, ErrEngineNotReady
	}
	e := s.engine
	now := e.now().UTC()

	var rows []store.TenantPlan
	if err := e.write(ctx, "expire tenant plans", func(ctx context.Context) error {
		var err error
		rows, err = e.store.ExpireTenantPlans(ctx, now)
		return err
	}); err != nil {
		return nil, err
	}

	for _, row := range rows {
		e.metricInc(MetricSweepSubscriptionsExpired)
		e.emitAudit(ctx, auditEventSubscriptionExpired, true, "", row.TenantID, nil, func() map[string]string {
			return map[string]string{"plan_id": row.PlanID, "reason": "end_at reached"}
		})
		if err := e.tenants.expireIfActive(ctx, row.TenantID, now); err != nil {
			return rows, err
		}
	}
	return rows, nil
}

type transitionFunc func(cur *store.TenantPlan, now time.Time) (SubscriptionStatus, error)

// transition applies fn to the tenant's current row. fn returns the target
// status, or "" to leave the row untouched.
func (s *SubscriptionManager) transition(ctx context.Context, tenantID, op, event string, fn transitionFunc) (*TenantPlan, error) {
	if s == nil || s.engine == nil {
		return nil, ErrEngineNotReady
	}
	e := s.engine
	now := e.now().UTC()

	changed := false
	row, err := s.mutate(ctx, tenantID, op, func(cur *store.TenantPlan) (*store.TenantPlan, error) {
		if cur == nil {
			return nil, ErrIllegalTransition
		}
		status, err := fn(cur, now)
		if err != nil || status == "" {
			return nil, err
		}
		next := *cur
		next.Status = status
		next.UpdatedAt = now
		changed = true
		return &next, nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		e.emitAudit(ctx, event, true, "", tenantID, nil, func() map[string]string {
			return map[string]string{"plan_id": row.PlanID, "status": string(row.Status)}
		})
	}
	return row, nil
}

func (s *SubscriptionManager) mutate(ctx context.Context, tenantID, op string, fn store.TenantPlanMutator) (*TenantPlan, error) {
	e := s.engine
	var row *store.TenantPlan
	err := e.write(ctx, op, func(ctx context.Context) error {
		var err error
		row, err = e.store.MutateTenantPlan(ctx, tenantID, fn)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.metricInc(MetricSubscriptionTransition)
	return row, nil
}

func (s *SubscriptionManager) requirePlan(ctx context.Context, planID string) error {
	plan, err := s.engine.store.GetPlan(ctx, planID)
	if err != nil {
		return s.engine.storeError(ctx, "get plan", err)
	}
	if !plan.Active {
		return invalidField("PlanID", "plan is not active")
	}
	return nil
}
