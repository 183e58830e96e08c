package uploads

import (
	"context"
	"time"

	"github.com/ssjbox/ssjbox/internal/server/models"
)

// Repository persists upload records. Create relies on the partial unique
// index over completed rows and returns common.ErrorAlreadyExists on a
// duplicate, so concurrent identical uploads resolve deterministically.
type Repository interface {
	Create(ctx context.Context, rec *models.UploadRecord) (*models.UploadRecord, error)

	// ExistsCompleted reports whether the owner already has a completed record
	// for the same content digest, category and logical date.
	ExistsCompleted(ctx context.Context, ownerID, digest, category string, logicalDate time.Time) (bool, error)

	GetByID(ctx context.Context, id, ownerID string) (*models.UploadRecord, error)
	ListByOwner(ctx context.Context, ownerID, category string, limit, offset int) ([]*models.UploadRecord, error)

	// MarkDeleted transitions a completed record to deleted and returns it so
	// the caller can remove the blob. common.ErrorNotFound if there is no
	// completed record to delete.
	MarkDeleted(ctx context.Context, id, ownerID string) (*models.UploadRecord, error)

	// TotalCompletedSize sums the stored size of the owner's completed records.
	TotalCompletedSize(ctx context.Context, ownerID string) (int64, error)
}
