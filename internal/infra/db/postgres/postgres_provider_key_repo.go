// File: internal/infra/db/postgres/postgres_provider_key_repo.go
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"socratic-ai-service/internal/domain"
	"socratic-ai-service/internal/domain/ports/repository"
)

// ProviderKeyRepo stores user-owned provider credentials. Only ciphertext
// ever touches the table; encryption happens in the use case layer.
var _ repository.ProviderKeyRepository = (*ProviderKeyRepo)(nil)

type ProviderKeyRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresProviderKeyRepo(pool *pgxpool.Pool) *ProviderKeyRepo {
	return &ProviderKeyRepo{pool: pool}
}

func (r *ProviderKeyRepo) Save(ctx context.Context, qx any, key *repository.ProviderKey) error {
	const q = `
INSERT INTO provider_keys (user_id, provider, ciphertext, created_at)
VALUES ($1,$2,$3,COALESCE($4,NOW()))
ON CONFLICT (user_id, provider) DO UPDATE SET
  ciphertext = EXCLUDED.ciphertext,
  created_at = NOW();`
	ex, err := getExecutor(r.pool, qx)
	if err != nil {
		return err
	}
	if _, err := ex.Exec(ctx, q, key.UserID, key.Provider, key.Ciphertext, key.CreatedAt); err != nil {
		return fmt.Errorf("save provider key: %w", err)
	}
	return nil
}

func (r *ProviderKeyRepo) Find(ctx context.Context, qx any, userID, provider string) (*repository.ProviderKey, error) {
	const q = `SELECT user_id, provider, ciphertext, created_at FROM provider_keys
WHERE user_id=$1 AND provider=$2;`
	row, err := pickRow(ctx, r.pool, qx, q, userID, provider)
	if err != nil {
		return nil, err
	}
	var k repository.ProviderKey
	if err := row.Scan(&k.UserID, &k.Provider, &k.Ciphertext, &k.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return &k, nil
}

func (r *ProviderKeyRepo) ListByUser(ctx context.Context, qx any, userID string) ([]*repository.ProviderKey, error) {
	const q = `SELECT user_id, provider, ciphertext, created_at FROM provider_keys
WHERE user_id=$1 ORDER BY provider;`
	ex, err := getExecutor(r.pool, qx)
	if err != nil {
		return nil, err
	}
	rows, err := ex.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*repository.ProviderKey
	for rows.Next() {
		var k repository.ProviderKey
		if err := rows.Scan(&k.UserID, &k.Provider, &k.Ciphertext, &k.CreatedAt); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, &k)
	}
	return out, rows.Err()
}

func (r *ProviderKeyRepo) Delete(ctx context.Context, qx any, userID, provider string) error {
	ex, err := getExecutor(r.pool, qx)
	if err != nil {
		return err
	}
	tag, err := ex.Exec(ctx, `DELETE FROM provider_keys WHERE user_id=$1 AND provider=$2;`, userID, provider)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
