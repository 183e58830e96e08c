// Package services contains server-side business logic: the rate limiter,
// upload validation and intake, the session guard, account management and
// the background janitor.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/ssjbox/ssjbox/internal/common"
	"github.com/ssjbox/ssjbox/internal/dbx"
	"github.com/ssjbox/ssjbox/internal/logging"
	"github.com/ssjbox/ssjbox/internal/server/repositories/repomanager"
)

// DefaultPenalties is the escalation table indexed by strike count:
// 5m, 15m, 30m, 1h, 1d, clamped at the last entry for further strikes.
var DefaultPenalties = []time.Duration{
	5 * time.Minute,
	15 * time.Minute,
	30 * time.Minute,
	time.Hour,
	24 * time.Hour,
}

// LimitStatus is the answer to a lockout status query.
type LimitStatus struct {
	Allowed           bool
	RetryAfterSeconds int
	AttemptCount      int
	StrikeCount       int
}

// RateLimiter enforces escalating lockouts per (identifier, action).
//
// Failure policy: if the counter store is unreachable the limiter fails
// closed. Check and RecordFailure return an error and the caller must deny
// the request. A store outage never opens an unlimited-attempts window. The
// single atomic increment gets exactly one retry before giving up.
type RateLimiter struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	maxAttempts map[string]int
	penalties   []time.Duration
	logger      logging.Logger
	now         func() time.Time
}

// NewRateLimiter constructs a RateLimiter. maxAttempts maps each action to
// its threshold; penalties is the strike-indexed lockout table.
func NewRateLimiter(db *sql.DB, m repomanager.RepositoryManager, maxAttempts map[string]int, penalties []time.Duration, logger logging.Logger) *RateLimiter {
	if len(penalties) == 0 {
		penalties = DefaultPenalties
	}
	return &RateLimiter{
		db:          db,
		repomanager: m,
		maxAttempts: maxAttempts,
		penalties:   penalties,
		logger:      logger,
		now:         time.Now,
	}
}

// Check reports whether the identifier may attempt the action now. When a
// lockout is active the status carries the remaining seconds.
func (l *RateLimiter) Check(ctx context.Context, identifier, action string) (*LimitStatus, error) {
	repo := l.repomanager.Attempts(l.db)

	rec, err := repo.Get(ctx, identifier, action)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return &LimitStatus{Allowed: true}, nil
		}
		return nil, fmt.Errorf("rate limit check: %w", err)
	}

	status := &LimitStatus{Allowed: true, AttemptCount: rec.AttemptCount, StrikeCount: rec.StrikeCount}
	if rec.LockoutUntil != nil {
		if remaining := rec.LockoutUntil.Sub(l.now()); remaining > 0 {
			status.Allowed = false
			status.RetryAfterSeconds = int(math.Ceil(remaining.Seconds()))
		}
	}
	return status, nil
}

// RecordFailure counts one failed attempt. Crossing the action threshold
// raises strike_count, sets the lockout from the penalty table and zeroes
// attempt_count. The increment and the escalation run in one transaction so
// the row lock taken by the upsert serializes concurrent failures.
func (l *RateLimiter) RecordFailure(ctx context.Context, identifier, action string) (*LimitStatus, error) {
	threshold := l.threshold(action)

	var status *LimitStatus
	err := retry.Do(ctx, retry.WithMaxRetries(1, retry.NewConstant(100*time.Millisecond)), func(ctx context.Context) error {
		status = nil
		err := dbx.WithTx(ctx, l.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
			repo := l.repomanager.Attempts(tx)

			rec, err := repo.IncrementAndGet(ctx, identifier, action)
			if err != nil {
				return err
			}
			status = &LimitStatus{Allowed: true, AttemptCount: rec.AttemptCount, StrikeCount: rec.StrikeCount}

			if rec.AttemptCount < threshold {
				return nil
			}

			penalty := l.penalty(rec.StrikeCount + 1)
			until := l.now().Add(penalty)
			strikes, err := repo.ApplyLockout(ctx, identifier, action, threshold, until)
			if err != nil {
				return err
			}
			if strikes > 0 {
				status = &LimitStatus{
					Allowed:           false,
					RetryAfterSeconds: int(math.Ceil(penalty.Seconds())),
					AttemptCount:      0,
					StrikeCount:       strikes,
				}
			}
			return nil
		})
		if err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		l.logger.Error(ctx, "rate limit increment failed", "identifier", identifier, "action", action, "error", err.Error())
		return nil, fmt.Errorf("rate limit increment: %w", err)
	}
	return status, nil
}

// RecordSuccess clears the immediate attempt counter. Strike history and any
// active lockout are deliberately preserved: success does not erase an abuse
// history.
func (l *RateLimiter) RecordSuccess(ctx context.Context, identifier, action string) error {
	repo := l.repomanager.Attempts(l.db)
	if err := repo.ResetAttempts(ctx, identifier, action); err != nil {
		return fmt.Errorf("rate limit reset: %w", err)
	}
	return nil
}

// AdminReset clears attempts, strikes and lockout for the identifier. This
// is the only path that lowers strike_count.
func (l *RateLimiter) AdminReset(ctx context.Context, identifier, action string) error {
	repo := l.repomanager.Attempts(l.db)
	if err := repo.AdminReset(ctx, identifier, action); err != nil {
		return fmt.Errorf("rate limit admin reset: %w", err)
	}
	return nil
}

func (l *RateLimiter) threshold(action string) int {
	if t, ok := l.maxAttempts[action]; ok && t > 0 {
		return t
	}
	return 5
}

// penalty returns the lockout duration for the given strike, clamped to the
// last table entry.
func (l *RateLimiter) penalty(strike int) time.Duration {
	if strike < 1 {
		strike = 1
	}
	if strike > len(l.penalties) {
		strike = len(l.penalties)
	}
	return l.penalties[strike-1]
}
