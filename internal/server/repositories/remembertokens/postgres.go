// Package remembertokens provides a PostgreSQL-backed repository for
// remember-me token hashes.
package remembertokens

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ssjbox/ssjbox/internal/common"
	"github.com/ssjbox/ssjbox/internal/dbx"
	"github.com/ssjbox/ssjbox/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, ownerID string, tokenHash []byte, expiresAt time.Time) error {
	query := `
		INSERT INTO remember_tokens (token_hash, owner_id, expires_at)
		VALUES ($1, $2, $3)
	`
	if _, err := r.db.ExecContext(ctx, query, tokenHash, ownerID, expiresAt); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) FindValid(ctx context.Context, tokenHash []byte) (*models.RememberToken, error) {
	query := `
		SELECT token_hash, owner_id, expires_at, created_at
		FROM remember_tokens
		WHERE token_hash = $1 AND expires_at > now()
	`
	tok := &models.RememberToken{}
	err := r.db.QueryRowContext(ctx, query, tokenHash).Scan(
		&tok.TokenHash, &tok.OwnerID, &tok.ExpiresAt, &tok.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return tok, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, tokenHash []byte) error {
	query := `DELETE FROM remember_tokens WHERE token_hash = $1`
	if _, err := r.db.ExecContext(ctx, query, tokenHash); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) DeleteByOwner(ctx context.Context, ownerID string) error {
	query := `DELETE FROM remember_tokens WHERE owner_id = $1`
	if _, err := r.db.ExecContext(ctx, query, ownerID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) DeleteExpired(ctx context.Context) (int64, error) {
	query := `DELETE FROM remember_tokens WHERE expires_at < now()`
	res, err := r.db.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}
