package pgstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/MrEthical07/tenantauth/store"
)

const tenantColumns = `id, code, name, status, status_reason, contact, settings, approved_by, created_at, updated_at`

func scanTenant(row pgx.Row) (*store.Tenant, error) {
	var (
		t      store.Tenant
		status string
	)
	err := row.Scan(
		&t.ID,
		&t.Code,
		&t.Name,
		&status,
		&t.StatusReason,
		&t.Contact,
		&t.Settings,
		&t.ApprovedBy,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Status = store.TenantStatus(status)
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return &t, nil
}

// CreateTenant inserts t and its bootstrap admin in one transaction.
func (s *Store) CreateTenant(ctx context.Context, t *store.Tenant, admin *store.Principal) error {
	if admin != nil && admin.TenantID != t.ID {
		return fmt.Errorf("pgstore: create tenant: %w", store.ErrCrossTenant)
	}

	settings := t.Settings
	if settings == nil {
		settings = map[string]string{}
	}

	return s.withTx(ctx, "create tenant", func(tx pgx.Tx) error {
		query := `
			INSERT INTO tenants (` + tenantColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

		_, err := tx.Exec(ctx, query,
			t.ID,
			t.Code,
			t.Name,
			string(t.Status),
			t.StatusReason,
			t.Contact,
			settings,
			t.ApprovedBy,
			t.CreatedAt.UTC(),
			t.UpdatedAt.UTC(),
		)
		if err != nil {
			return mapError("insert tenant", err)
		}
		if admin == nil {
			return nil
		}
		return insertPrincipal(ctx, tx, admin)
	})
}

// GetTenant retrieves a tenant by id, including deleted ones.
func (s *Store) GetTenant(ctx context.Context, id string) (*store.Tenant, error) {
	t, err := scanTenant(s.db.QueryRow(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, id))
	if err != nil {
		return nil, mapError("get tenant", err)
	}
	return t, nil
}

// GetTenantByCode retrieves a tenant by its short code.
func (s *Store) GetTenantByCode(ctx context.Context, code string) (*store.Tenant, error) {
	t, err := scanTenant(s.db.QueryRow(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE code = $1`, code))
	if err != nil {
		return nil, mapError("get tenant by code", err)
	}
	return t, nil
}

// UpdateTenantStatus sets status and reason.
func (s *Store) UpdateTenantStatus(ctx context.Context, id string, status store.TenantStatus, reason string, now time.Time) error {
	ct, err := s.db.Exec(ctx,
		`UPDATE tenants SET status = $2, status_reason = $3, updated_at = $4 WHERE id = $1`,
		id, string(status), reason, now.UTC(),
	)
	if err != nil {
		return mapError("update tenant status", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("pgstore: update tenant status: %w", store.ErrNotFound)
	}
	return nil
}

// DeleteTenant marks the tenant deleted and removes its principals, sessions
// and usage counters. Subscription rows are kept as history.
func (s *Store) DeleteTenant(ctx context.Context, id string, now time.Time) error {
	return s.withTx(ctx, "delete tenant", func(tx pgx.Tx) error {
		var status string
		err := tx.QueryRow(ctx, `SELECT status FROM tenants WHERE id = $1 FOR UPDATE`, id).Scan(&status)
		if err != nil {
			return mapError("delete tenant", err)
		}

		statements := []struct {
			query string
			args  []any
		}{
			{`DELETE FROM refresh_tokens WHERE tenant_id = $1`, []any{id}},
			{`DELETE FROM principals WHERE tenant_id = $1`, []any{id}},
			{`UPDATE tenant_plans SET status = 'expired', updated_at = $2 WHERE tenant_id = $1 AND status = 'active'`, []any{id, now.UTC()}},
			{`DELETE FROM tenant_usage WHERE tenant_id = $1`, []any{id}},
			{`UPDATE tenants SET status = 'deleted', updated_at = $2 WHERE id = $1`, []any{id, now.UTC()}},
		}
		for _, st := range statements {
			if _, err := tx.Exec(ctx, st.query, st.args...); err != nil {
				return mapError("delete tenant", err)
			}
		}
		return nil
	})
}
