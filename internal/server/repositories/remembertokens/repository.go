package remembertokens

import (
	"context"
	"time"

	"github.com/ssjbox/ssjbox/internal/server/models"
)

// Repository persists remember-me token hashes. Only the hash of the bearer
// secret is ever written.
type Repository interface {
	Create(ctx context.Context, ownerID string, tokenHash []byte, expiresAt time.Time) error

	// FindValid returns the token row for the hash if it has not expired,
	// common.ErrorNotFound otherwise.
	FindValid(ctx context.Context, tokenHash []byte) (*models.RememberToken, error)

	Delete(ctx context.Context, tokenHash []byte) error
	DeleteByOwner(ctx context.Context, ownerID string) error
	DeleteExpired(ctx context.Context) (int64, error)
}
