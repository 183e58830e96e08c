// Package users provides a PostgreSQL-backed repository for account rows.
package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

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

func (r *PostgresRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	query := `
		INSERT INTO users
			(id, username, password_hash, status, role, hosp_code, session_timeout,
			 enc_prefix, enc_first_name, enc_last_name, enc_position,
			 enc_citizen_id, enc_email, enc_phone, citizen_id_hash, email_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING created_at
	`
	err := r.db.QueryRowContext(ctx, query,
		user.ID, user.UserName, user.PasswordHash, user.Status, user.Role, user.HospCode, user.SessionTimeout,
		user.EncPrefix, user.EncFirstName, user.EncLastName, user.EncPosition,
		user.EncCitizenID, user.EncEmail, user.EncPhone, user.CitizenIDHash, user.EmailHash).
		Scan(&user.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, common.ErrorAlreadyExists
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return user, nil
}

func (r *PostgresRepository) GetByUserName(ctx context.Context, userName string) (*models.User, error) {
	return r.getOne(ctx, `WHERE username = $1`, userName)
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	return r.getOne(ctx, `WHERE id = $1`, id)
}

func (r *PostgresRepository) getOne(ctx context.Context, where string, arg any) (*models.User, error) {
	query := `
		SELECT id, username, password_hash, status, role, hosp_code, session_timeout,
		       enc_prefix, enc_first_name, enc_last_name, enc_position,
		       enc_citizen_id, enc_email, enc_phone, citizen_id_hash, email_hash,
		       created_at, last_login_at
		FROM users ` + where

	user := &models.User{}
	var lastLogin sql.NullTime
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&user.ID, &user.UserName, &user.PasswordHash, &user.Status, &user.Role, &user.HospCode, &user.SessionTimeout,
		&user.EncPrefix, &user.EncFirstName, &user.EncLastName, &user.EncPosition,
		&user.EncCitizenID, &user.EncEmail, &user.EncPhone, &user.CitizenIDHash, &user.EmailHash,
		&user.CreatedAt, &lastLogin)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	if lastLogin.Valid {
		user.LastLoginAt = &lastLogin.Time
	}
	return user, nil
}

func (r *PostgresRepository) ExistsByLookupHashes(ctx context.Context, cidHash, emailHash []byte) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM users WHERE citizen_id_hash = $1 OR email_hash = $2
		)
	`
	var exists bool
	if err := r.db.QueryRowContext(ctx, query, cidHash, emailHash).Scan(&exists); err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return exists, nil
}

func (r *PostgresRepository) UpdateLastLogin(ctx context.Context, id string) error {
	query := `UPDATE users SET last_login_at = now() WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) SetStatus(ctx context.Context, id, status string) error {
	query := `UPDATE users SET status = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, status); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
