package pgstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/MrEthical07/tenantauth/store"
)

// SavePendingEnrollment upserts the principal's unconfirmed enrollment.
func (s *Store) SavePendingEnrollment(ctx context.Context, e *store.SecondFactorEnrollment) error {
	query := `
		INSERT INTO second_factor_enrollments (principal_id, secret, backup_hashes, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (principal_id) DO UPDATE
		SET secret = EXCLUDED.secret, backup_hashes = EXCLUDED.backup_hashes,
		    expires_at = EXCLUDED.expires_at, created_at = EXCLUDED.created_at`

	_, err := s.db.Exec(ctx, query,
		e.PrincipalID,
		e.Secret,
		e.BackupHashes,
		e.ExpiresAt.UTC(),
		e.CreatedAt.UTC(),
	)
	if err != nil {
		return mapError("save enrollment", err)
	}
	return nil
}

// GetPendingEnrollment returns the enrollment if it has not expired at now.
func (s *Store) GetPendingEnrollment(ctx context.Context, principalID string, now time.Time) (*store.SecondFactorEnrollment, error) {
	query := `
		SELECT principal_id, secret, backup_hashes, expires_at, created_at
		FROM second_factor_enrollments
		WHERE principal_id = $1 AND expires_at > $2`

	var e store.SecondFactorEnrollment
	err := s.db.QueryRow(ctx, query, principalID, now.UTC()).Scan(
		&e.PrincipalID,
		&e.Secret,
		&e.BackupHashes,
		&e.ExpiresAt,
		&e.CreatedAt,
	)
	if err != nil {
		return nil, mapError("get enrollment", err)
	}
	e.ExpiresAt = e.ExpiresAt.UTC()
	e.CreatedAt = e.CreatedAt.UTC()
	return &e, nil
}

// ConfirmSecondFactor promotes the pending enrollment onto the principal and
// installs its backup codes.
func (s *Store) ConfirmSecondFactor(ctx context.Context, principalID string, now time.Time) error {
	return s.withTx(ctx, "confirm second factor", func(tx pgx.Tx) error {
		var (
			secret []byte
			hashes [][]byte
		)
		err := tx.QueryRow(ctx, `
			SELECT secret, backup_hashes FROM second_factor_enrollments
			WHERE principal_id = $1 AND expires_at > $2
			FOR UPDATE`, principalID, now.UTC()).Scan(&secret, &hashes)
		if err != nil {
			return mapError("confirm second factor", err)
		}

		ct, err := tx.Exec(ctx, `
			UPDATE principals
			SET second_factor_enabled = TRUE, second_factor_secret = $2, last_totp_counter = 0, updated_at = $3
			WHERE id = $1`, principalID, secret, now.UTC())
		if err != nil {
			return mapError("confirm second factor", err)
		}
		if ct.RowsAffected() == 0 {
			return fmt.Errorf("pgstore: confirm second factor: %w", store.ErrNotFound)
		}

		if err := replaceBackupCodes(ctx, tx, principalID, hashes); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM second_factor_enrollments WHERE principal_id = $1`, principalID); err != nil {
			return mapError("confirm second factor", err)
		}
		return nil
	})
}

// DisableSecondFactor clears the secret, the backup codes and any pending
// enrollment.
func (s *Store) DisableSecondFactor(ctx context.Context, principalID string) error {
	return s.withTx(ctx, "disable second factor", func(tx pgx.Tx) error {
		ct, err := tx.Exec(ctx, `
			UPDATE principals
			SET second_factor_enabled = FALSE, second_factor_secret = NULL, last_totp_counter = 0
			WHERE id = $1`, principalID)
		if err != nil {
			return mapError("disable second factor", err)
		}
		if ct.RowsAffected() == 0 {
			return fmt.Errorf("pgstore: disable second factor: %w", store.ErrNotFound)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM backup_codes WHERE principal_id = $1`, principalID); err != nil {
			return mapError("disable second factor", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM second_factor_enrollments WHERE principal_id = $1`, principalID); err != nil {
			return mapError("disable second factor", err)
		}
		return nil
	})
}

// ReplaceBackupCodes swaps the principal's backup code set.
func (s *Store) ReplaceBackupCodes(ctx context.Context, principalID string, hashes [][]byte) error {
	return s.withTx(ctx, "replace backup codes", func(tx pgx.Tx) error {
		if _, err := lockPrincipal(ctx, tx, principalID); err != nil {
			return err
		}
		return replaceBackupCodes(ctx, tx, principalID, hashes)
	})
}

func replaceBackupCodes(ctx context.Context, tx pgx.Tx, principalID string, hashes [][]byte) error {
	if _, err := tx.Exec(ctx, `DELETE FROM backup_codes WHERE principal_id = $1`, principalID); err != nil {
		return mapError("replace backup codes", err)
	}
	if len(hashes) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx,
		`INSERT INTO backup_codes (principal_id, code_hash) SELECT $1, unnest($2::bytea[])`,
		principalID, hashes,
	)
	if err != nil {
		return mapError("replace backup codes", err)
	}
	return nil
}

// ConsumeBackupCode marks a matching unused code as used. The conditional
// update makes concurrent redemptions of one code race to a single winner.
func (s *Store) ConsumeBackupCode(ctx context.Context, principalID string, hash []byte, now time.Time) (bool, error) {
	ct, err := s.db.Exec(ctx, `
		UPDATE backup_codes SET used_at = $3
		WHERE principal_id = $1 AND code_hash = $2 AND used_at IS NULL`,
		principalID, hash, now.UTC(),
	)
	if err != nil {
		return false, mapError("consume backup code", err)
	}
	return ct.RowsAffected() == 1, nil
}

// CountUnusedBackupCodes returns how many codes remain redeemable.
func (s *Store) CountUnusedBackupCodes(ctx context.Context, principalID string) (int, error) {
	var n int
	err := s.db.QueryRow(ctx,
		`SELECT count(*) FROM backup_codes WHERE principal_id = $1 AND used_at IS NULL`, principalID,
	).Scan(&n)
	if err != nil {
		return 0, mapError("count backup codes", err)
	}
	return n, nil
}

// DeleteExpiredEnrollments removes enrollments that expired at or before now.
func (s *Store) DeleteExpiredEnrollments(ctx context.Context, now time.Time) (int64, error) {
	ct, err := s.db.Exec(ctx, `DELETE FROM second_factor_enrollments WHERE expires_at <= $1`, now.UTC())
	if err != nil {
		return 0, mapError("delete expired enrollments", err)
	}
	return ct.RowsAffected(), nil
}
