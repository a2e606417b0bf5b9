package pgstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/MrEthical07/tenantauth/store"
)

const principalColumns = `id, username, email, password_hash, display_name, phone, national_id, role,
		COALESCE(tenant_id, ''), branch_id, status, failed_login_count, lockout_until, last_login_at,
		second_factor_enabled, second_factor_secret, last_totp_counter, created_at, updated_at`

func scanPrincipal(row pgx.Row) (*store.Principal, error) {
	var (
		p            store.Principal
		role, status string
		lockoutUntil *time.Time
		lastLoginAt  *time.Time
	)
	err := row.Scan(
		&p.ID,
		&p.Username,
		&p.Email,
		&p.PasswordHash,
		&p.DisplayName,
		&p.Phone,
		&p.NationalID,
		&role,
		&p.TenantID,
		&p.BranchID,
		&status,
		&p.FailedLoginCount,
		&lockoutUntil,
		&lastLoginAt,
		&p.SecondFactorEnabled,
		&p.SecondFactorSecret,
		&p.LastTOTPCounter,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Role = store.Role(role)
	p.Status = store.PrincipalStatus(status)
	p.LockoutUntil = fromNullTime(lockoutUntil)
	p.LastLoginAt = fromNullTime(lastLoginAt)
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

func (s *Store) getPrincipalBy(ctx context.Context, column, value string) (*store.Principal, error) {
	query := `SELECT ` + principalColumns + ` FROM principals WHERE ` + column + ` = $1`
	p, err := scanPrincipal(s.db.QueryRow(ctx, query, value))
	if err != nil {
		return nil, mapError("get principal", err)
	}
	return p, nil
}

// GetPrincipal retrieves a principal by id.
func (s *Store) GetPrincipal(ctx context.Context, id string) (*store.Principal, error) {
	return s.getPrincipalBy(ctx, "id", id)
}

// GetPrincipalByUsername retrieves a principal by its normalized username.
func (s *Store) GetPrincipalByUsername(ctx context.Context, username string) (*store.Principal, error) {
	return s.getPrincipalBy(ctx, "username", username)
}

// GetPrincipalByEmail retrieves a principal by its normalized email.
func (s *Store) GetPrincipalByEmail(ctx context.Context, email string) (*store.Principal, error) {
	return s.getPrincipalBy(ctx, "email", email)
}

func insertPrincipal(ctx context.Context, q querier, p *store.Principal) error {
	query := `
		INSERT INTO principals (id, username, email, password_hash, display_name, phone, national_id, role,
			tenant_id, branch_id, status, failed_login_count, lockout_until, last_login_at,
			second_factor_enabled, second_factor_secret, last_totp_counter, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`

	_, err := q.Exec(ctx, query,
		p.ID,
		p.Username,
		p.Email,
		p.PasswordHash,
		p.DisplayName,
		p.Phone,
		p.NationalID,
		string(p.Role),
		nullString(p.TenantID),
		p.BranchID,
		string(p.Status),
		p.FailedLoginCount,
		nullTime(p.LockoutUntil),
		nullTime(p.LastLoginAt),
		p.SecondFactorEnabled,
		p.SecondFactorSecret,
		p.LastTOTPCounter,
		p.CreatedAt.UTC(),
		p.UpdatedAt.UTC(),
	)
	if err != nil {
		return mapError("insert principal", err)
	}
	return nil
}

// CreatePrincipal inserts p. A tenant-scoped insert locks the tenant row so
// that concurrent admissions against the same plan limit are serialised.
func (s *Store) CreatePrincipal(ctx context.Context, p *store.Principal, admit store.AdmitFunc) error {
	if p.TenantID == "" {
		if admit != nil {
			if err := admit(0, nil, nil); err != nil {
				return err
			}
		}
		return insertPrincipal(ctx, s.db, p)
	}

	return s.withTx(ctx, "create principal", func(tx pgx.Tx) error {
		if err := lockTenant(ctx, tx, p.TenantID); err != nil {
			return err
		}
		if admit != nil {
			current, err := countPrincipals(ctx, tx, p.TenantID)
			if err != nil {
				return err
			}
			plan, active, err := activePlan(ctx, tx, p.TenantID)
			if err != nil {
				return err
			}
			if err := admit(current, plan, active); err != nil {
				return err
			}
		}
		return insertPrincipal(ctx, tx, p)
	})
}

// UpdatePrincipalStatus sets the status of a principal owned by tenantID.
// Leaving the locked state clears the failure counters.
func (s *Store) UpdatePrincipalStatus(ctx context.Context, tenantID, id string, status store.PrincipalStatus) error {
	return s.withTx(ctx, "update principal status", func(tx pgx.Tx) error {
		var owner string
		err := tx.QueryRow(ctx,
			`SELECT COALESCE(tenant_id, '') FROM principals WHERE id = $1 FOR UPDATE`, id,
		).Scan(&owner)
		if err != nil {
			return mapError("update principal status", err)
		}
		if owner != tenantID {
			return fmt.Errorf("pgstore: update principal status: %w", store.ErrCrossTenant)
		}

		query := `UPDATE principals SET status = $2 WHERE id = $1`
		if status != store.PrincipalLocked {
			query = `UPDATE principals SET status = $2, failed_login_count = 0, lockout_until = NULL WHERE id = $1`
		}
		if _, err := tx.Exec(ctx, query, id, string(status)); err != nil {
			return mapError("update principal status", err)
		}
		return nil
	})
}

// UpdatePasswordHash replaces the stored PHC hash.
func (s *Store) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	ct, err := s.db.Exec(ctx, `UPDATE principals SET password_hash = $2 WHERE id = $1`, id, hash)
	if err != nil {
		return mapError("update password hash", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("pgstore: update password hash: %w", store.ErrNotFound)
	}
	return nil
}

func lockPrincipal(ctx context.Context, tx pgx.Tx, id string) (*store.Principal, error) {
	query := `SELECT ` + principalColumns + ` FROM principals WHERE id = $1 FOR UPDATE`
	p, err := scanPrincipal(tx.QueryRow(ctx, query, id))
	if err != nil {
		return nil, mapError("lock principal", err)
	}
	return p, nil
}

func writeLoginCounters(ctx context.Context, tx pgx.Tx, p *store.Principal) error {
	query := `
		UPDATE principals
		SET failed_login_count = $2, lockout_until = $3, last_login_at = $4, status = $5, updated_at = $6
		WHERE id = $1`

	_, err := tx.Exec(ctx, query,
		p.ID,
		p.FailedLoginCount,
		nullTime(p.LockoutUntil),
		nullTime(p.LastLoginAt),
		string(p.Status),
		p.UpdatedAt.UTC(),
	)
	if err != nil {
		return mapError("write login counters", err)
	}
	return nil
}

// RecordLoginFailure counts one failed attempt under the principal row lock.
func (s *Store) RecordLoginFailure(ctx context.Context, id string, now time.Time, policy store.LockoutPolicy) (store.LoginState, error) {
	var state store.LoginState
	err := s.withTx(ctx, "record login failure", func(tx pgx.Tx) error {
		p, err := lockPrincipal(ctx, tx, id)
		if err != nil {
			return err
		}
		state = store.ApplyLoginFailure(p, now, policy)
		return writeLoginCounters(ctx, tx, p)
	})
	if err != nil {
		return store.LoginState{}, err
	}
	return state, nil
}

// RecordLoginSuccess resets the failure counters under the principal row lock.
func (s *Store) RecordLoginSuccess(ctx context.Context, id string, now time.Time) error {
	return s.withTx(ctx, "record login success", func(tx pgx.Tx) error {
		p, err := lockPrincipal(ctx, tx, id)
		if err != nil {
			return err
		}
		store.ApplyLoginSuccess(p, now)
		return writeLoginCounters(ctx, tx, p)
	})
}

// AdvanceTOTPCounter moves the replay high-water mark forward.
func (s *Store) AdvanceTOTPCounter(ctx context.Context, id string, counter int64) (bool, error) {
	ct, err := s.db.Exec(ctx,
		`UPDATE principals SET last_totp_counter = $2 WHERE id = $1 AND last_totp_counter < $2`,
		id, counter,
	)
	if err != nil {
		return false, mapError("advance totp counter", err)
	}
	if ct.RowsAffected() == 1 {
		return true, nil
	}

	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM principals WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, mapError("advance totp counter", err)
	}
	if !exists {
		return false, fmt.Errorf("pgstore: advance totp counter: %w", store.ErrNotFound)
	}
	return false, nil
}

// CountPrincipals counts every principal owned by tenantID.
func (s *Store) CountPrincipals(ctx context.Context, tenantID string) (int64, error) {
	if tenantID == "" {
		return 0, nil
	}
	return countPrincipals(ctx, s.db, tenantID)
}

func countPrincipals(ctx context.Context, q querier, tenantID string) (int64, error) {
	var n int64
	if err := q.QueryRow(ctx, `SELECT count(*) FROM principals WHERE tenant_id = $1`, tenantID).Scan(&n); err != nil {
		return 0, mapError("count principals", err)
	}
	return n, nil
}
