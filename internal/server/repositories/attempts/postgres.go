// Package attempts provides a PostgreSQL-backed repository for the rate
// limiter's per-(identifier, action) attempt records.
package attempts

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

// PostgresRepository implements Repository over dbx.DBTX (satisfied by
// *sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Get(ctx context.Context, identifier, action string) (*models.AttemptRecord, error) {
	query := `
		SELECT identifier, action, attempt_count, strike_count, lockout_until, updated_at
		FROM attempt_records
		WHERE identifier = $1 AND action = $2
	`
	rec := &models.AttemptRecord{}
	var lockout sql.NullTime
	err := r.db.QueryRowContext(ctx, query, identifier, action).
		Scan(&rec.Identifier, &rec.Action, &rec.AttemptCount, &rec.StrikeCount, &lockout, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	if lockout.Valid {
		rec.LockoutUntil = &lockout.Time
	}
	return rec, nil
}

// IncrementAndGet is a single atomic upsert; two concurrent failures can
// never both observe the same pre-increment count.
func (r *PostgresRepository) IncrementAndGet(ctx context.Context, identifier, action string) (*models.AttemptRecord, error) {
	query := `
		INSERT INTO attempt_records (identifier, action, attempt_count)
		VALUES ($1, $2, 1)
		ON CONFLICT (identifier, action) DO UPDATE
		SET attempt_count = attempt_records.attempt_count + 1, updated_at = now()
		RETURNING identifier, action, attempt_count, strike_count, lockout_until, updated_at
	`
	rec := &models.AttemptRecord{}
	var lockout sql.NullTime
	err := r.db.QueryRowContext(ctx, query, identifier, action).
		Scan(&rec.Identifier, &rec.Action, &rec.AttemptCount, &rec.StrikeCount, &lockout, &rec.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	if lockout.Valid {
		rec.LockoutUntil = &lockout.Time
	}
	return rec, nil
}

func (r *PostgresRepository) ApplyLockout(ctx context.Context, identifier, action string, threshold int, until time.Time) (int, error) {
	query := `
		UPDATE attempt_records
		SET attempt_count = 0, strike_count = strike_count + 1, lockout_until = $3, updated_at = now()
		WHERE identifier = $1 AND action = $2 AND attempt_count >= $4
		RETURNING strike_count
	`
	var strikes int
	err := r.db.QueryRowContext(ctx, query, identifier, action, until, threshold).Scan(&strikes)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Another writer already reset the counter; no transition here.
			return 0, nil
		}
		return 0, fmt.Errorf("db error: %w", err)
	}
	return strikes, nil
}

func (r *PostgresRepository) ResetAttempts(ctx context.Context, identifier, action string) error {
	query := `
		UPDATE attempt_records
		SET attempt_count = 0, updated_at = now()
		WHERE identifier = $1 AND action = $2
	`
	if _, err := r.db.ExecContext(ctx, query, identifier, action); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) AdminReset(ctx context.Context, identifier, action string) error {
	query := `
		UPDATE attempt_records
		SET attempt_count = 0, strike_count = 0, lockout_until = NULL, updated_at = now()
		WHERE identifier = $1 AND action = $2
	`
	if _, err := r.db.ExecContext(ctx, query, identifier, action); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) DeleteStale(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM attempt_records
		WHERE updated_at < $1
		  AND (lockout_until IS NULL OR lockout_until < now())
	`
	res, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}
