package authz

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atelier-erp/atelier-erp/internal/platform/db"
)

// OverrideStore persists per-user permission overrides.
type OverrideStore interface {
	LoadOverrides(ctx context.Context, userID int64) (OverrideSet, error)
	ReplaceOverrides(ctx context.Context, userID int64, set OverrideSet) error
}

// Repository provides PostgreSQL backed override persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// LoadOverrides returns the sparse override set for a user. Rows whose
// stored key no longer parses against the current catalog are skipped
// rather than failing the whole read.
func (r *Repository) LoadOverrides(ctx context.Context, userID int64) (OverrideSet, error) {
	rows, err := r.pool.Query(ctx, `SELECT perm_key, allowed FROM user_permission_overrides WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("authz: load overrides: %w", err)
	}
	defer rows.Close()

	set := make(OverrideSet)
	for rows.Next() {
		var raw string
		var allowed bool
		if err := rows.Scan(&raw, &allowed); err != nil {
			return nil, fmt.Errorf("authz: scan override: %w", err)
		}
		key, err := ParseOverrideKey(raw)
		if err != nil {
			continue
		}
		set[key] = allowed
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("authz: load overrides: %w", err)
	}
	return set, nil
}

// ReplaceOverrides swaps the full override set for a user atomically.
func (r *Repository) ReplaceOverrides(ctx context.Context, userID int64, set OverrideSet) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM user_permission_overrides WHERE user_id = $1`, userID); err != nil {
			return fmt.Errorf("authz: clear overrides: %w", err)
		}
		for key, allowed := range set {
			if _, err := tx.Exec(ctx, `INSERT INTO user_permission_overrides (user_id, perm_key, allowed) VALUES ($1, $2, $3)`, userID, key.String(), allowed); err != nil {
				return fmt.Errorf("authz: insert override: %w", err)
			}
		}
		return nil
	})
}
