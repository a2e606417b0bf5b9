package pgstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/MrEthical07/tenantauth/store"
)

func insertRefreshToken(ctx context.Context, q querier, t *store.RefreshToken) error {
	query := `
		INSERT INTO refresh_tokens (id, token_hash, principal_id, tenant_id, issued_at, expires_at, revoked)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := q.Exec(ctx, query,
		t.ID,
		t.TokenHash,
		t.PrincipalID,
		t.TenantID,
		t.IssuedAt.UTC(),
		t.ExpiresAt.UTC(),
		t.Revoked,
	)
	if err != nil {
		return mapError("insert refresh token", err)
	}
	return nil
}

// InsertRefreshToken persists a newly issued refresh token row.
func (s *Store) InsertRefreshToken(ctx context.Context, t *store.RefreshToken) error {
	return insertRefreshToken(ctx, s.db, t)
}

// GetRefreshToken looks a row up by the hash of the signed token.
func (s *Store) GetRefreshToken(ctx context.Context, hash string) (*store.RefreshToken, error) {
	query := `
		SELECT id, token_hash, principal_id, tenant_id, issued_at, expires_at, revoked
		FROM refresh_tokens
		WHERE token_hash = $1`

	var t store.RefreshToken
	err := s.db.QueryRow(ctx, query, hash).Scan(
		&t.ID,
		&t.TokenHash,
		&t.PrincipalID,
		&t.TenantID,
		&t.IssuedAt,
		&t.ExpiresAt,
		&t.Revoked,
	)
	if err != nil {
		return nil, mapError("get refresh token", err)
	}
	t.IssuedAt = t.IssuedAt.UTC()
	t.ExpiresAt = t.ExpiresAt.UTC()
	return &t, nil
}

// RotateRefreshToken deletes oldHash and inserts next in one transaction.
// The DELETE takes the row lock, so a concurrent rotation of the same token
// observes zero affected rows once the winner commits.
func (s *Store) RotateRefreshToken(ctx context.Context, oldHash string, next *store.RefreshToken) error {
	return s.withTx(ctx, "rotate refresh token", func(tx pgx.Tx) error {
		ct, err := tx.Exec(ctx, `DELETE FROM refresh_tokens WHERE token_hash = $1`, oldHash)
		if err != nil {
			return mapError("rotate refresh token", err)
		}
		if ct.RowsAffected() == 0 {
			return fmt.Errorf("pgstore: rotate refresh token: %w", store.ErrNotFound)
		}
		return insertRefreshToken(ctx, tx, next)
	})
}

// DeleteRefreshToken removes a row. Deleting a missing row is not an error.
func (s *Store) DeleteRefreshToken(ctx context.Context, hash string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM refresh_tokens WHERE token_hash = $1`, hash); err != nil {
		return mapError("delete refresh token", err)
	}
	return nil
}

// DeleteRefreshTokensForPrincipal revokes every session of a principal.
func (s *Store) DeleteRefreshTokensForPrincipal(ctx context.Context, principalID string) (int64, error) {
	ct, err := s.db.Exec(ctx, `DELETE FROM refresh_tokens WHERE principal_id = $1`, principalID)
	if err != nil {
		return 0, mapError("delete principal refresh tokens", err)
	}
	return ct.RowsAffected(), nil
}

// CountActiveRefreshTokens counts rows still usable at now.
func (s *Store) CountActiveRefreshTokens(ctx context.Context, principalID string, now time.Time) (int64, error) {
	var n int64
	err := s.db.QueryRow(ctx, `
		SELECT count(*) FROM refresh_tokens
		WHERE principal_id = $1 AND NOT revoked AND expires_at > $2`,
		principalID, now.UTC(),
	).Scan(&n)
	if err != nil {
		return 0, mapError("count refresh tokens", err)
	}
	return n, nil
}

// DeleteExpiredRefreshTokens removes rows that are revoked or expired at now.
func (s *Store) DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error) {
	ct, err := s.db.Exec(ctx, `DELETE FROM refresh_tokens WHERE revoked OR expires_at <= $1`, now.UTC())
	if err != nil {
		return 0, mapError("delete expired refresh tokens", err)
	}
	return ct.RowsAffected(), nil
}
