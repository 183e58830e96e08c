// Package uploads provides a PostgreSQL-backed repository for upload
// records created by the intake pipeline.
package uploads

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/ssjbox/ssjbox/internal/common"
	"github.com/ssjbox/ssjbox/internal/dbx"
	"github.com/ssjbox/ssjbox/internal/server/models"
)

const uniqueViolation = "23505"

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, rec *models.UploadRecord) (*models.UploadRecord, error) {
	query := `
		INSERT INTO upload_records
			(id, owner_id, original_name, stored_name, category, logical_date,
			 size, content_digest, storage_path, status, client_ip)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at
	`
	err := r.db.QueryRowContext(ctx, query,
		rec.ID, rec.OwnerID, rec.OriginalName, rec.StoredName, rec.Category, rec.LogicalDate,
		rec.Size, rec.ContentDigest, rec.StoragePath, rec.Status, rec.ClientIP).
		Scan(&rec.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, common.ErrorAlreadyExists
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return rec, nil
}

func (r *PostgresRepository) ExistsCompleted(ctx context.Context, ownerID, digest, category string, logicalDate time.Time) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM upload_records
			WHERE owner_id = $1 AND content_digest = $2 AND category = $3
			  AND logical_date = $4 AND status = 'completed'
		)
	`
	var exists bool
	if err := r.db.QueryRowContext(ctx, query, ownerID, digest, category, logicalDate).Scan(&exists); err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return exists, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id, ownerID string) (*models.UploadRecord, error) {
	query := `
		SELECT id, owner_id, original_name, stored_name, category, logical_date,
		       size, content_digest, storage_path, status, client_ip, created_at
		FROM upload_records
		WHERE id = $1 AND owner_id = $2
	`
	rec := &models.UploadRecord{}
	err := r.db.QueryRowContext(ctx, query, id, ownerID).Scan(
		&rec.ID, &rec.OwnerID, &rec.OriginalName, &rec.StoredName, &rec.Category, &rec.LogicalDate,
		&rec.Size, &rec.ContentDigest, &rec.StoragePath, &rec.Status, &rec.ClientIP, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return rec, nil
}

func (r *PostgresRepository) ListByOwner(ctx context.Context, ownerID, category string, limit, offset int) ([]*models.UploadRecord, error) {
	query := `
		SELECT id, owner_id, original_name, stored_name, category, logical_date,
		       size, content_digest, storage_path, status, client_ip, created_at
		FROM upload_records
		WHERE owner_id = $1 AND status <> 'deleted'
		  AND ($2 = '' OR category = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`
	rows, err := r.db.QueryContext(ctx, query, ownerID, category, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var recs []*models.UploadRecord
	for rows.Next() {
		rec := &models.UploadRecord{}
		if err := rows.Scan(
			&rec.ID, &rec.OwnerID, &rec.OriginalName, &rec.StoredName, &rec.Category, &rec.LogicalDate,
			&rec.Size, &rec.ContentDigest, &rec.StoragePath, &rec.Status, &rec.ClientIP, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return recs, nil
}

func (r *PostgresRepository) MarkDeleted(ctx context.Context, id, ownerID string) (*models.UploadRecord, error) {
	query := `
		UPDATE upload_records
		SET status = 'deleted'
		WHERE id = $1 AND owner_id = $2 AND status = 'completed'
		RETURNING id, owner_id, original_name, stored_name, category, logical_date,
		          size, content_digest, storage_path, status, client_ip, created_at
	`
	rec := &models.UploadRecord{}
	err := r.db.QueryRowContext(ctx, query, id, ownerID).Scan(
		&rec.ID, &rec.OwnerID, &rec.OriginalName, &rec.StoredName, &rec.Category, &rec.LogicalDate,
		&rec.Size, &rec.ContentDigest, &rec.StoragePath, &rec.Status, &rec.ClientIP, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return rec, nil
}

func (r *PostgresRepository) TotalCompletedSize(ctx context.Context, ownerID string) (int64, error) {
	query := `
		SELECT COALESCE(SUM(size), 0)
		FROM upload_records
		WHERE owner_id = $1 AND status = 'completed'
	`
	var total int64
	if err := r.db.QueryRowContext(ctx, query, ownerID).Scan(&total); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return total, nil
}
