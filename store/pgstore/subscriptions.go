package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/MrEthical07/tenantauth/store"
)

const tenantPlanColumns = `id, tenant_id, plan_id, start_at, end_at, status, created_at, updated_at`

func scanTenantPlan(row pgx.Row) (*store.TenantPlan, error) {
	var (
		tp     store.TenantPlan
		status string
	)
	err := row.Scan(
		&tp.ID,
		&tp.TenantID,
		&tp.PlanID,
		&tp.StartAt,
		&tp.EndAt,
		&status,
		&tp.CreatedAt,
		&tp.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	tp.Status = store.SubscriptionStatus(status)
	tp.StartAt = tp.StartAt.UTC()
	tp.EndAt = tp.EndAt.UTC()
	tp.CreatedAt = tp.CreatedAt.UTC()
	tp.UpdatedAt = tp.UpdatedAt.UTC()
	return &tp, nil
}

func collectTenantPlans(rows pgx.Rows, op string) ([]store.TenantPlan, error) {
	defer rows.Close()
	var out []store.TenantPlan
	for rows.Next() {
		tp, err := scanTenantPlan(rows)
		if err != nil {
			return nil, mapError(op, err)
		}
		out = append(out, *tp)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(op, err)
	}
	return out, nil
}

func activeRow(ctx context.Context, q querier, tenantID string) (*store.TenantPlan, error) {
	query := `SELECT ` + tenantPlanColumns + ` FROM tenant_plans WHERE tenant_id = $1 AND status = 'active'`
	tp, err := scanTenantPlan(q.QueryRow(ctx, query, tenantID))
	if err != nil {
		return nil, mapError("get active tenant plan", err)
	}
	return tp, nil
}

// activePlan returns the tenant's active row and its plan, or two nils.
func activePlan(ctx context.Context, q querier, tenantID string) (*store.Plan, *store.TenantPlan, error) {
	row, err := activeRow(ctx, q, tenantID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	plan, err := getPlan(ctx, q, row.PlanID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return plan, row, nil
}

// GetActiveTenantPlan returns the tenant's row in status active.
func (s *Store) GetActiveTenantPlan(ctx context.Context, tenantID string) (*store.TenantPlan, error) {
	return activeRow(ctx, s.db, tenantID)
}

// ListTenantPlans returns the tenant's subscription history, oldest first.
func (s *Store) ListTenantPlans(ctx context.Context, tenantID string) ([]store.TenantPlan, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+tenantPlanColumns+` FROM tenant_plans WHERE tenant_id = $1 ORDER BY created_at, id`, tenantID)
	if err != nil {
		return nil, mapError("list tenant plans", err)
	}
	return collectTenantPlans(rows, "list tenant plans")
}

// MutateTenantPlan runs fn under the tenant row lock against the active row,
// or the most recently updated one when none is active.
func (s *Store) MutateTenantPlan(ctx context.Context, tenantID string, fn store.TenantPlanMutator) (*store.TenantPlan, error) {
	var out *store.TenantPlan
	err := s.withTx(ctx, "mutate tenant plan", func(tx pgx.Tx) error {
		if err := lockTenant(ctx, tx, tenantID); err != nil {
			return err
		}

		cur, err := activeRow(ctx, tx, tenantID)
		if errors.Is(err, store.ErrNotFound) {
			query := `SELECT ` + tenantPlanColumns + ` FROM tenant_plans
				WHERE tenant_id = $1 ORDER BY updated_at DESC, id DESC LIMIT 1`
			cur, err = scanTenantPlan(tx.QueryRow(ctx, query, tenantID))
			if err != nil {
				err = mapError("get latest tenant plan", err)
			}
		}
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}

		next, err := fn(cur)
		if err != nil {
			return err
		}
		if next == nil {
			out = cur
			return nil
		}
		if next.TenantID != tenantID {
			return fmt.Errorf("pgstore: mutate tenant plan: %w", store.ErrCrossTenant)
		}

		query := `
			INSERT INTO tenant_plans (` + tenantPlanColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (id) DO UPDATE
			SET plan_id = EXCLUDED.plan_id, start_at = EXCLUDED.start_at, end_at = EXCLUDED.end_at,
			    status = EXCLUDED.status, updated_at = EXCLUDED.updated_at`

		_, err = tx.Exec(ctx, query,
			next.ID,
			next.TenantID,
			next.PlanID,
			next.StartAt.UTC(),
			next.EndAt.UTC(),
			string(next.Status),
			next.CreatedAt.UTC(),
			next.UpdatedAt.UTC(),
		)
		if err != nil {
			return mapError("upsert tenant plan", err)
		}
		c := *next
		out = &c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ExpireTenantPlans flips every active row whose window closed at or before
// now to expired and returns the affected rows.
func (s *Store) ExpireTenantPlans(ctx context.Context, now time.Time) ([]store.TenantPlan, error) {
	rows, err := s.db.Query(ctx, `
		UPDATE tenant_plans SET status = 'expired', updated_at = $1
		WHERE status = 'active' AND end_at <= $1
		RETURNING `+tenantPlanColumns, now.UTC())
	if err != nil {
		return nil, mapError("expire tenant plans", err)
	}
	return collectTenantPlans(rows, "expire tenant plans")
}

// ReserveUsage admits and increments one unit of kind under the tenant lock.
func (s *Store) ReserveUsage(ctx context.Context, tenantID string, kind store.ResourceKind, admit store.AdmitFunc) (int64, error) {
	var current int64
	err := s.withTx(ctx, "reserve usage", func(tx pgx.Tx) error {
		if err := lockTenant(ctx, tx, tenantID); err != nil {
			return err
		}
		n, err := usageCount(ctx, tx, tenantID, kind)
		if err != nil {
			return err
		}
		current = n

		if admit != nil {
			plan, active, err := activePlan(ctx, tx, tenantID)
			if err != nil {
				return err
			}
			if err := admit(n, plan, active); err != nil {
				return err
			}
		}

		err = tx.QueryRow(ctx, `
			INSERT INTO tenant_usage (tenant_id, kind, count) VALUES ($1, $2, 1)
			ON CONFLICT (tenant_id, kind) DO UPDATE SET count = tenant_usage.count + 1
			RETURNING count`, tenantID, string(kind)).Scan(&current)
		if err != nil {
			return mapError("reserve usage", err)
		}
		return nil
	})
	return current, err
}

// ReleaseUsage returns one unit of kind. The counter never goes below zero.
func (s *Store) ReleaseUsage(ctx context.Context, tenantID string, kind store.ResourceKind) error {
	_, err := s.db.Exec(ctx,
		`UPDATE tenant_usage SET count = count - 1 WHERE tenant_id = $1 AND kind = $2 AND count > 0`,
		tenantID, string(kind),
	)
	if err != nil {
		return mapError("release usage", err)
	}
	return nil
}

// UsageCount returns the current counter for kind, zero when never reserved.
func (s *Store) UsageCount(ctx context.Context, tenantID string, kind store.ResourceKind) (int64, error) {
	return usageCount(ctx, s.db, tenantID, kind)
}

func usageCount(ctx context.Context, q querier, tenantID string, kind store.ResourceKind) (int64, error) {
	var n int64
	err := q.QueryRow(ctx,
		`SELECT count FROM tenant_usage WHERE tenant_id = $1 AND kind = $2`, tenantID, string(kind),
	).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, mapError("usage count", err)
	}
	return n, nil
}
