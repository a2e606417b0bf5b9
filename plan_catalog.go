package tenantauth

import (
	"context"
	"strings"

	"github.com/MrEthical07/tenantauth/internal/ids"
	"github.com/MrEthical07/tenantauth/internal/sanitize"
	"github.com/MrEthical07/tenantauth/store"
)

// PlanCatalog manages the shared plan catalog. Plans are never deleted;
// deactivate a plan to stop new assignments.
type PlanCatalog struct {
	engine *Engine
}

// Create adds a plan. An empty ID is generated.
func (c *PlanCatalog) Create(ctx context.Context, in PlanInput) (*Plan, error) {
	if c == nil || c.engine == nil {
		return nil, ErrEngineNotReady
	}
	e := c.engine

	in = normalizePlanInput(in)
	if err := validateInput(&in); err != nil {
		return nil, err
	}

	now := e.now().UTC()
	p := &store.Plan{
		ID:            in.ID,
		Name:          in.Name,
		PriceMinor:    in.PriceMinor,
		Currency:      in.Currency,
		BillingPeriod: in.BillingPeriod,
		Limits:        in.Limits,
		Active:        in.Active,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if p.ID == "" {
		p.ID = ids.New(now)
	}

	if err := e.write(ctx, "create plan", func(ctx context.Context) error {
		return e.store.CreatePlan(ctx, p)
	}); err != nil {
		return nil, err
	}

	e.emitAudit(ctx, auditEventPlanCreated, true, "", "", nil, func() map[string]string {
		return map[string]string{"plan_id": p.ID, "name": p.Name}
	})
	return p, nil
}

// Update overwrites the plan identified by in.ID. Rows already bound to
// the plan see the new limits immediately.
func (c *PlanCatalog) Update(ctx context.Context, in PlanInput) (*Plan, error) {
	if c == nil || c.engine == nil {
		return nil, ErrEngineNotReady
	}
	e := c.engine

	in = normalizePlanInput(in)
	if in.ID == "" {
		return nil, invalidField("ID", "is required")
	}
	if err := validateInput(&in); err != nil {
		return nil, err
	}

	cur, err := e.store.GetPlan(ctx, in.ID)
	if err != nil {
		return nil, e.storeError(ctx, "get plan", err)
	}

	next := *cur
	next.Name = in.Name
	next.PriceMinor = in.PriceMinor
	next.Currency = in.Currency
	next.BillingPeriod = in.BillingPeriod
	next.Limits = in.Limits
	next.Active = in.Active
	next.UpdatedAt = e.now().UTC()

	if err := e.write(ctx, "update plan", func(ctx context.Context) error {
		return e.store.UpdatePlan(ctx, &next)
	}); err != nil {
		return nil, err
	}

	e.emitAudit(ctx, auditEventPlanUpdated, true, "", "", nil, func() map[string]string {
		return map[string]string{"plan_id": next.ID, "name": next.Name}
	})
	return &next, nil
}

func (c *PlanCatalog) Get(ctx context.Context, id string) (*Plan, error) {
	if c == nil || c.engine == nil {
		return nil, ErrEngineNotReady
	}
	p, err := c.engine.store.GetPlan(ctx, id)
	if err != nil {
		return nil, c.engine.storeError(ctx, "get plan", err)
	}
	return p, nil
}

// List returns every plan ordered by name.
func (c *PlanCatalog) List(ctx context.Context) ([]Plan, error) {
	if c == nil || c.engine == nil {
		return nil, ErrEngineNotReady
	}
	plans, err := c.engine.store.ListPlans(ctx)
	if err != nil {
		return nil, c.engine.storeError(ctx, "list plans", err)
	}
	return plans, nil
}

func normalizePlanInput(in PlanInput) PlanInput {
	in.ID = strings.TrimSpace(sanitize.StripControl(in.ID))
	in.Name = sanitize.Text(in.Name)
	in.Currency = strings.ToUpper(strings.TrimSpace(in.Currency))
	return in
}
