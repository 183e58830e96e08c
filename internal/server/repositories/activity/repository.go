package activity

import (
	"context"

	"github.com/ssjbox/ssjbox/internal/server/models"
)

// Repository is the write-only activity log collaborator.
type Repository interface {
	Insert(ctx context.Context, ev *models.ActivityEvent) error
}
