package services

import (
	"context"
	"database/sql"
	"time"

	"github.com/ssjbox/ssjbox/internal/logging"
	"github.com/ssjbox/ssjbox/internal/server/repositories/repomanager"
)

// staleAttemptAge is how long a released attempt row may sit untouched
// before the janitor drops it.
const staleAttemptAge = 7 * 24 * time.Hour

// Janitor periodically sweeps expired sessions, expired remember tokens and
// stale attempt rows.
type Janitor struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	interval    time.Duration
	logger      logging.Logger
	now         func() time.Time
}

func NewJanitor(db *sql.DB, m repomanager.RepositoryManager, interval time.Duration, logger logging.Logger) *Janitor {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &Janitor{db: db, repomanager: m, interval: interval, logger: logger, now: time.Now}
}

// Run sweeps on the configured interval until the context is cancelled. One
// immediate sweep happens on start.
func (j *Janitor) Run(ctx context.Context) {
	j.Sweep(ctx)
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.Sweep(ctx)
		}
	}
}

// Sweep runs one cleanup pass. Each step is independent; a failure in one
// does not stop the others.
func (j *Janitor) Sweep(ctx context.Context) {
	if n, err := j.repomanager.Sessions(j.db).DeleteExpired(ctx); err != nil {
		j.logger.Warn(ctx, "session sweep failed", "error", err.Error())
	} else if n > 0 {
		j.logger.Info(ctx, "expired sessions removed", "count", n)
	}

	if n, err := j.repomanager.RememberTokens(j.db).DeleteExpired(ctx); err != nil {
		j.logger.Warn(ctx, "remember token sweep failed", "error", err.Error())
	} else if n > 0 {
		j.logger.Info(ctx, "expired remember tokens removed", "count", n)
	}

	cutoff := j.now().Add(-staleAttemptAge)
	if n, err := j.repomanager.Attempts(j.db).DeleteStale(ctx, cutoff); err != nil {
		j.logger.Warn(ctx, "attempt sweep failed", "error", err.Error())
	} else if n > 0 {
		j.logger.Info(ctx, "stale attempt rows removed", "count", n)
	}
}
