package services

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/ssjbox/ssjbox/internal/common"
	"github.com/ssjbox/ssjbox/internal/logging"
	"github.com/ssjbox/ssjbox/internal/server/models"
	"github.com/ssjbox/ssjbox/internal/server/repositories/repomanager"
)

const (
	sessionIDBytes      = 32
	csrfTokenBytes      = 32
	rememberSecretBytes = 32

	// DefaultCSRFLifetime bounds how long an issued CSRF token stays
	// verifiable, independent of the session's own expiry.
	DefaultCSRFLifetime = 2 * time.Hour

	// DefaultRememberLifetime is the validity window of a remember-me token.
	DefaultRememberLifetime = 30 * 24 * time.Hour
)

// Session timeout clamp in seconds. Accounts carry their own preference but
// the guard never honours values outside this range.
const (
	MinSessionTimeout = 5 * 60
	MaxSessionTimeout = 24 * 60 * 60
)

// SessionCache is an optional read-through cache in front of the session
// table. The database stays authoritative; a cache outage only costs reads.
type SessionCache interface {
	Get(ctx context.Context, id string) (*models.Session, error)
	Set(ctx context.Context, s *models.Session, ttl time.Duration) error
	Del(ctx context.Context, id string) error
}

// RedisSessionCache stores sessions as JSON with a TTL equal to the
// inactivity window, refreshed on every validation, so cache expiry tracks
// the sliding session expiry.
type RedisSessionCache struct {
	client *redis.Client
}

func NewRedisSessionCache(client *redis.Client) *RedisSessionCache {
	return &RedisSessionCache{client: client}
}

func cacheKey(id string) string { return "ssjbox:session:" + id }

func (c *RedisSessionCache) Get(ctx context.Context, id string) (*models.Session, error) {
	raw, err := c.client.Get(ctx, cacheKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("session cache get: %w", err)
	}
	var s models.Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("session cache decode: %w", err)
	}
	return &s, nil
}

func (c *RedisSessionCache) Set(ctx context.Context, s *models.Session, ttl time.Duration) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("session cache encode: %w", err)
	}
	if err := c.client.Set(ctx, cacheKey(s.ID), raw, ttl).Err(); err != nil {
		return fmt.Errorf("session cache set: %w", err)
	}
	return nil
}

func (c *RedisSessionCache) Del(ctx context.Context, id string) error {
	if err := c.client.Del(ctx, cacheKey(id)).Err(); err != nil {
		return fmt.Errorf("session cache del: %w", err)
	}
	return nil
}

// SessionGuard owns the session lifecycle: issuance, sliding-expiry
// validation, CSRF tokens and remember-me redemption. Nothing else reads or
// writes session state.
type SessionGuard struct {
	db               *sql.DB
	repomanager      repomanager.RepositoryManager
	cache            SessionCache
	timeoutMin       int
	timeoutMax       int
	csrfLifetime     time.Duration
	rememberLifetime time.Duration
	logger           logging.Logger
	now              func() time.Time
}

// GuardSettings carries the configurable lifetimes. Zero values fall back to
// the package defaults.
type GuardSettings struct {
	TimeoutMinSeconds int
	TimeoutMaxSeconds int
	CSRFLifetime      time.Duration
	RememberLifetime  time.Duration
}

// NewSessionGuard constructs a guard. cache may be nil.
func NewSessionGuard(db *sql.DB, m repomanager.RepositoryManager, cache SessionCache, settings GuardSettings, logger logging.Logger) *SessionGuard {
	if settings.TimeoutMinSeconds <= 0 {
		settings.TimeoutMinSeconds = MinSessionTimeout
	}
	if settings.TimeoutMaxSeconds <= 0 {
		settings.TimeoutMaxSeconds = MaxSessionTimeout
	}
	if settings.CSRFLifetime <= 0 {
		settings.CSRFLifetime = DefaultCSRFLifetime
	}
	if settings.RememberLifetime <= 0 {
		settings.RememberLifetime = DefaultRememberLifetime
	}
	return &SessionGuard{
		db:               db,
		repomanager:      m,
		cache:            cache,
		timeoutMin:       settings.TimeoutMinSeconds,
		timeoutMax:       settings.TimeoutMaxSeconds,
		csrfLifetime:     settings.CSRFLifetime,
		rememberLifetime: settings.RememberLifetime,
		logger:           logger,
		now:              time.Now,
	}
}

func (g *SessionGuard) clampTimeout(seconds int) int {
	if seconds < g.timeoutMin {
		return g.timeoutMin
	}
	if seconds > g.timeoutMax {
		return g.timeoutMax
	}
	return seconds
}

// Issue creates a fresh session for the owner with the account's inactivity
// timeout, clamped to the allowed range.
func (g *SessionGuard) Issue(ctx context.Context, ownerID string, timeoutSeconds int) (*models.Session, error) {
	id, err := common.MakeRandHexString(sessionIDBytes)
	if err != nil {
		return nil, fmt.Errorf("session id: %w", err)
	}
	now := g.now()
	s := &models.Session{
		ID:             id,
		OwnerID:        ownerID,
		IssuedAt:       now,
		LastActivity:   now,
		TimeoutSeconds: g.clampTimeout(timeoutSeconds),
	}
	if err := g.repomanager.Sessions(g.db).Create(ctx, s); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	g.cacheSet(ctx, s)
	return s, nil
}

// Validate authenticates a session id. A live session has its activity
// timestamp advanced (sliding expiry); an expired one is destroyed and
// reported as common.ErrorSessionExpired. Unknown ids return
// common.ErrorNotFound.
func (g *SessionGuard) Validate(ctx context.Context, id string) (*models.Session, error) {
	if id == "" {
		return nil, common.ErrorNotFound
	}

	s, err := g.lookup(ctx, id)
	if err != nil {
		return nil, err
	}

	now := g.now()
	deadline := s.LastActivity.Add(time.Duration(s.TimeoutSeconds) * time.Second)
	if now.After(deadline) {
		if err := g.Destroy(ctx, id); err != nil {
			g.logger.Warn(ctx, "expired session cleanup failed", "error", err.Error())
		}
		return nil, common.ErrorSessionExpired
	}

	if err := g.repomanager.Sessions(g.db).UpdateActivity(ctx, id, now); err != nil {
		return nil, fmt.Errorf("touch session: %w", err)
	}
	s.LastActivity = now
	g.cacheSet(ctx, s)
	return s, nil
}

func (g *SessionGuard) lookup(ctx context.Context, id string) (*models.Session, error) {
	if g.cache != nil {
		s, err := g.cache.Get(ctx, id)
		if err == nil {
			return s, nil
		}
		if !errors.Is(err, common.ErrorNotFound) {
			g.logger.Warn(ctx, "session cache read failed", "error", err.Error())
		}
	}
	return g.repomanager.Sessions(g.db).Get(ctx, id)
}

func (g *SessionGuard) cacheSet(ctx context.Context, s *models.Session) {
	if g.cache == nil {
		return
	}
	ttl := time.Duration(s.TimeoutSeconds) * time.Second
	if err := g.cache.Set(ctx, s, ttl); err != nil {
		g.logger.Warn(ctx, "session cache write failed", "error", err.Error())
	}
}

// Destroy removes the session row and its cache entry.
func (g *SessionGuard) Destroy(ctx context.Context, id string) error {
	if g.cache != nil {
		if err := g.cache.Del(ctx, id); err != nil {
			g.logger.Warn(ctx, "session cache delete failed", "error", err.Error())
		}
	}
	if err := g.repomanager.Sessions(g.db).Delete(ctx, id); err != nil {
		return fmt.Errorf("destroy session: %w", err)
	}
	return nil
}

// IssueCSRF attaches a fresh CSRF token to the session and returns it. The
// token has its own lifetime, shorter than the session's.
func (g *SessionGuard) IssueCSRF(ctx context.Context, s *models.Session) (string, error) {
	token, err := common.MakeRandHexString(csrfTokenBytes)
	if err != nil {
		return "", fmt.Errorf("csrf token: %w", err)
	}
	now := g.now()
	if err := g.repomanager.Sessions(g.db).UpdateCSRF(ctx, s.ID, token, now); err != nil {
		return "", fmt.Errorf("store csrf token: %w", err)
	}
	s.CSRFToken = token
	s.CSRFIssuedAt = now
	g.cacheSet(ctx, s)
	return token, nil
}

// VerifyCSRF checks a submitted token against the session's token in
// constant time and enforces the token's own expiry.
func (g *SessionGuard) VerifyCSRF(s *models.Session, token string) bool {
	if s.CSRFToken == "" || token == "" {
		return false
	}
	if g.now().Sub(s.CSRFIssuedAt) > g.csrfLifetime {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(s.CSRFToken), []byte(token)) == 1
}

// IssueRememberToken mints a remember-me bearer secret for the owner and
// persists only its SHA-256 hash. The returned secret goes to the client
// once and cannot be recovered from the server.
func (g *SessionGuard) IssueRememberToken(ctx context.Context, ownerID string) (string, error) {
	secret, err := common.MakeRandHexString(rememberSecretBytes)
	if err != nil {
		return "", fmt.Errorf("remember secret: %w", err)
	}
	hash := sha256.Sum256([]byte(secret))
	expires := g.now().Add(g.rememberLifetime)
	if err := g.repomanager.RememberTokens(g.db).Create(ctx, ownerID, hash[:], expires); err != nil {
		return "", fmt.Errorf("store remember token: %w", err)
	}
	return secret, nil
}

// RedeemRememberToken exchanges a bearer secret for a fresh session and a
// rotated secret. The old token is consumed whether or not issuance
// succeeds afterwards: a remember token is single use.
func (g *SessionGuard) RedeemRememberToken(ctx context.Context, secret string, timeoutSeconds int) (*models.Session, string, error) {
	hash := sha256.Sum256([]byte(secret))
	repo := g.repomanager.RememberTokens(g.db)

	tok, err := repo.FindValid(ctx, hash[:])
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, "", common.ErrorInvalidToken
		}
		return nil, "", fmt.Errorf("find remember token: %w", err)
	}
	if err := repo.Delete(ctx, hash[:]); err != nil {
		return nil, "", fmt.Errorf("consume remember token: %w", err)
	}

	s, err := g.Issue(ctx, tok.OwnerID, timeoutSeconds)
	if err != nil {
		return nil, "", err
	}
	next, err := g.IssueRememberToken(ctx, tok.OwnerID)
	if err != nil {
		return nil, "", err
	}
	return s, next, nil
}

// RevokeRememberTokens drops all of the owner's remember tokens, e.g. on
// logout or password change.
func (g *SessionGuard) RevokeRememberTokens(ctx context.Context, ownerID string) error {
	if err := g.repomanager.RememberTokens(g.db).DeleteByOwner(ctx, ownerID); err != nil {
		return fmt.Errorf("revoke remember tokens: %w", err)
	}
	return nil
}
