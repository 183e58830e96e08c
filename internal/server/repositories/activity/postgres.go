// Package activity provides a PostgreSQL-backed, write-only activity log.
package activity

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ssjbox/ssjbox/internal/dbx"
	"github.com/ssjbox/ssjbox/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Insert(ctx context.Context, ev *models.ActivityEvent) error {
	query := `
		INSERT INTO activity_log (user_id, action, detail, client_ip)
		VALUES ($1, $2, $3, $4)
	`
	// Anonymous events (e.g. failed logins) carry no user id.
	userID := sql.NullString{String: ev.UserID, Valid: ev.UserID != ""}
	if _, err := r.db.ExecContext(ctx, query, userID, ev.Action, ev.Detail, ev.ClientIP); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
