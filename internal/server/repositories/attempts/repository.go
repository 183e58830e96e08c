package attempts

import (
	"context"
	"time"

	"github.com/ssjbox/ssjbox/internal/server/models"
)

// Repository persists rate-limiter attempt records. IncrementAndGet and
// ApplyLockout are meant to run on the same transactional handle so the row
// lock taken by the upsert serializes concurrent escalations.
type Repository interface {
	// Get returns the record for (identifier, action) or common.ErrorNotFound.
	Get(ctx context.Context, identifier, action string) (*models.AttemptRecord, error)

	// IncrementAndGet atomically increments attempt_count (creating the row on
	// first use) and returns the post-increment state.
	IncrementAndGet(ctx context.Context, identifier, action string) (*models.AttemptRecord, error)

	// ApplyLockout raises strike_count, sets lockout_until and zeroes
	// attempt_count, but only while attempt_count is still at or above
	// threshold. Returns the new strike count, or 0 when another writer
	// already applied the transition.
	ApplyLockout(ctx context.Context, identifier, action string, threshold int, until time.Time) (int, error)

	// ResetAttempts clears attempt_count only. Strike history and any active
	// lockout are preserved.
	ResetAttempts(ctx context.Context, identifier, action string) error

	// AdminReset clears attempt_count, strike_count and lockout_until. This is
	// the only path that ever lowers strike_count.
	AdminReset(ctx context.Context, identifier, action string) error

	// DeleteStale removes released rows not touched since the cutoff.
	DeleteStale(ctx context.Context, cutoff time.Time) (int64, error)
}
