package sessions

import (
	"context"
	"time"

	"github.com/ssjbox/ssjbox/internal/server/models"
)

// Repository persists session rows. The session guard is the only writer.
type Repository interface {
	Create(ctx context.Context, s *models.Session) error
	Get(ctx context.Context, id string) (*models.Session, error)
	UpdateActivity(ctx context.Context, id string, at time.Time) error
	UpdateCSRF(ctx context.Context, id, token string, at time.Time) error
	Delete(ctx context.Context, id string) error

	// DeleteExpired removes sessions whose inactivity window has elapsed.
	DeleteExpired(ctx context.Context) (int64, error)
}
