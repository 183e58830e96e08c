package users

import (
	"context"

	"github.com/ssjbox/ssjbox/internal/server/models"
)

// Repository persists account rows with encrypted PII fields.
type Repository interface {
	Create(ctx context.Context, user *models.User) (*models.User, error)
	GetByUserName(ctx context.Context, userName string) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)

	// ExistsByLookupHashes reports whether any account already carries one of
	// the given PII lookup digests (duplicate registration check).
	ExistsByLookupHashes(ctx context.Context, cidHash, emailHash []byte) (bool, error)

	UpdateLastLogin(ctx context.Context, id string) error
	SetStatus(ctx context.Context, id, status string) error
}
