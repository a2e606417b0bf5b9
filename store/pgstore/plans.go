package pgstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/MrEthical07/tenantauth/store"
)

const planColumns = `id, name, price_minor, currency, billing_period,
		max_principals, max_branches, max_currencies, max_transactions, max_storage,
		active, created_at, updated_at`

func scanPlan(row pgx.Row) (*store.Plan, error) {
	var (
		p      store.Plan
		period string
	)
	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.PriceMinor,
		&p.Currency,
		&period,
		&p.Limits.MaxPrincipals,
		&p.Limits.MaxBranches,
		&p.Limits.MaxCurrencies,
		&p.Limits.MaxTransactions,
		&p.Limits.MaxStorage,
		&p.Active,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.BillingPeriod = store.BillingPeriod(period)
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

// CreatePlan inserts a catalog entry. Names are unique.
func (s *Store) CreatePlan(ctx context.Context, p *store.Plan) error {
	query := `
		INSERT INTO plans (` + planColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := s.db.Exec(ctx, query,
		p.ID,
		p.Name,
		p.PriceMinor,
		p.Currency,
		string(p.BillingPeriod),
		p.Limits.MaxPrincipals,
		p.Limits.MaxBranches,
		p.Limits.MaxCurrencies,
		p.Limits.MaxTransactions,
		p.Limits.MaxStorage,
		p.Active,
		p.CreatedAt.UTC(),
		p.UpdatedAt.UTC(),
	)
	if err != nil {
		return mapError("insert plan", err)
	}
	return nil
}

// UpdatePlan overwrites every mutable field of an existing plan.
func (s *Store) UpdatePlan(ctx context.Context, p *store.Plan) error {
	query := `
		UPDATE plans
		SET name = $2, price_minor = $3, currency = $4, billing_period = $5,
		    max_principals = $6, max_branches = $7, max_currencies = $8, max_transactions = $9, max_storage = $10,
		    active = $11, updated_at = $12
		WHERE id = $1`

	ct, err := s.db.Exec(ctx, query,
		p.ID,
		p.Name,
		p.PriceMinor,
		p.Currency,
		string(p.BillingPeriod),
		p.Limits.MaxPrincipals,
		p.Limits.MaxBranches,
		p.Limits.MaxCurrencies,
		p.Limits.MaxTransactions,
		p.Limits.MaxStorage,
		p.Active,
		p.UpdatedAt.UTC(),
	)
	if err != nil {
		return mapError("update plan", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("pgstore: update plan: %w", store.ErrNotFound)
	}
	return nil
}

// GetPlan retrieves a plan by id.
func (s *Store) GetPlan(ctx context.Context, id string) (*store.Plan, error) {
	return getPlan(ctx, s.db, id)
}

func getPlan(ctx context.Context, q querier, id string) (*store.Plan, error) {
	p, err := scanPlan(q.QueryRow(ctx, `SELECT `+planColumns+` FROM plans WHERE id = $1`, id))
	if err != nil {
		return nil, mapError("get plan", err)
	}
	return p, nil
}

// ListPlans returns the catalog ordered by name.
func (s *Store) ListPlans(ctx context.Context) ([]store.Plan, error) {
	rows, err := s.db.Query(ctx, `SELECT `+planColumns+` FROM plans ORDER BY name`)
	if err != nil {
		return nil, mapError("list plans", err)
	}
	defer rows.Close()

	var plans []store.Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, mapError("scan plan", err)
		}
		plans = append(plans, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("iterate plans", err)
	}
	return plans, nil
}
