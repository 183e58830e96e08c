package httpapi_test

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/ssjbox/ssjbox/internal/common"
	"github.com/ssjbox/ssjbox/internal/dbx"
	"github.com/ssjbox/ssjbox/internal/logging"
	"github.com/ssjbox/ssjbox/internal/server/models"
	"github.com/ssjbox/ssjbox/internal/server/repositories/activity"
	"github.com/ssjbox/ssjbox/internal/server/repositories/attempts"
	"github.com/ssjbox/ssjbox/internal/server/repositories/remembertokens"
	"github.com/ssjbox/ssjbox/internal/server/repositories/sessions"
	"github.com/ssjbox/ssjbox/internal/server/repositories/uploads"
	"github.com/ssjbox/ssjbox/internal/server/repositories/users"
)

func discardLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// txDB returns a sqlmock handle prepared for up to n transactions.
func txDB(t *testing.T, n int) *sql.DB {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	mock.MatchExpectationsInOrder(false)
	for i := 0; i < n; i++ {
		mock.ExpectBegin()
		mock.ExpectCommit()
	}
	return db
}

// memStore is a single in-memory backing store shared by all fake
// repositories in one test server.
type memStore struct {
	mu       sync.Mutex
	users    map[string]*models.User
	attempts map[string]*models.AttemptRecord
	uploads  map[string]*models.UploadRecord
	sessions map[string]*models.Session
	remember map[string]*models.RememberToken
	events   []*models.ActivityEvent

	// Injected store outage for user creation.
	createUserErr error
}

func newMemStore() *memStore {
	return &memStore{
		users:    map[string]*models.User{},
		attempts: map[string]*models.AttemptRecord{},
		uploads:  map[string]*models.UploadRecord{},
		sessions: map[string]*models.Session{},
		remember: map[string]*models.RememberToken{},
	}
}

type memManager struct{ st *memStore }

func (m *memManager) Users(db dbx.DBTX) users.Repository                   { return (*usersRepo)(m) }
func (m *memManager) Attempts(db dbx.DBTX) attempts.Repository             { return (*attemptsRepo)(m) }
func (m *memManager) Uploads(db dbx.DBTX) uploads.Repository               { return (*uploadsRepo)(m) }
func (m *memManager) Sessions(db dbx.DBTX) sessions.Repository             { return (*sessionsRepo)(m) }
func (m *memManager) RememberTokens(db dbx.DBTX) remembertokens.Repository { return (*rememberRepo)(m) }
func (m *memManager) Activity(db dbx.DBTX) activity.Repository             { return (*activityRepo)(m) }
func (m *memManager) RunMigrations(ctx context.Context, db *sql.DB) error  { return nil }

type usersRepo memManager

func (r *usersRepo) Create(ctx context.Context, u *models.User) (*models.User, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	if r.st.createUserErr != nil {
		return nil, r.st.createUserErr
	}
	for _, row := range r.st.users {
		if row.UserName == u.UserName {
			return nil, common.ErrorAlreadyExists
		}
	}
	cp := *u
	cp.CreatedAt = time.Now()
	r.st.users[u.ID] = &cp
	out := cp
	return &out, nil
}

func (r *usersRepo) GetByUserName(ctx context.Context, userName string) (*models.User, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	for _, row := range r.st.users {
		if row.UserName == userName {
			cp := *row
			return &cp, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r *usersRepo) GetByID(ctx context.Context, id string) (*models.User, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	row, ok := r.st.users[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *row
	return &cp, nil
}

func (r *usersRepo) ExistsByLookupHashes(ctx context.Context, cidHash, emailHash []byte) (bool, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	for _, row := range r.st.users {
		if string(row.CitizenIDHash) == string(cidHash) || string(row.EmailHash) == string(emailHash) {
			return true, nil
		}
	}
	return false, nil
}

func (r *usersRepo) UpdateLastLogin(ctx context.Context, id string) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	if row, ok := r.st.users[id]; ok {
		now := time.Now()
		row.LastLoginAt = &now
	}
	return nil
}

func (r *usersRepo) SetStatus(ctx context.Context, id, status string) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	if row, ok := r.st.users[id]; ok {
		row.Status = status
	}
	return nil
}

type attemptsRepo memManager

func attemptID(identifier, action string) string { return identifier + "|" + action }

func (r *attemptsRepo) Get(ctx context.Context, identifier, action string) (*models.AttemptRecord, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	rec, ok := r.st.attempts[attemptID(identifier, action)]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *rec
	return &cp, nil
}

func (r *attemptsRepo) IncrementAndGet(ctx context.Context, identifier, action string) (*models.AttemptRecord, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	id := attemptID(identifier, action)
	rec, ok := r.st.attempts[id]
	if !ok {
		rec = &models.AttemptRecord{Identifier: identifier, Action: action}
		r.st.attempts[id] = rec
	}
	rec.AttemptCount++
	rec.UpdatedAt = time.Now()
	cp := *rec
	return &cp, nil
}

func (r *attemptsRepo) ApplyLockout(ctx context.Context, identifier, action string, threshold int, until time.Time) (int, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	rec, ok := r.st.attempts[attemptID(identifier, action)]
	if !ok || rec.AttemptCount < threshold {
		return 0, nil
	}
	rec.AttemptCount = 0
	rec.StrikeCount++
	u := until
	rec.LockoutUntil = &u
	return rec.StrikeCount, nil
}

func (r *attemptsRepo) ResetAttempts(ctx context.Context, identifier, action string) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	if rec, ok := r.st.attempts[attemptID(identifier, action)]; ok {
		rec.AttemptCount = 0
	}
	return nil
}

func (r *attemptsRepo) AdminReset(ctx context.Context, identifier, action string) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	if rec, ok := r.st.attempts[attemptID(identifier, action)]; ok {
		rec.AttemptCount = 0
		rec.StrikeCount = 0
		rec.LockoutUntil = nil
	}
	return nil
}

func (r *attemptsRepo) DeleteStale(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

type uploadsRepo memManager

func dupID(owner, digest, category string, d time.Time) string {
	return owner + "|" + digest + "|" + category + "|" + d.Format("2006-01-02")
}

func (r *uploadsRepo) Create(ctx context.Context, rec *models.UploadRecord) (*models.UploadRecord, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	for _, row := range r.st.uploads {
		if row.Status == models.UploadStatusCompleted &&
			dupID(row.OwnerID, row.ContentDigest, row.Category, row.LogicalDate) ==
				dupID(rec.OwnerID, rec.ContentDigest, rec.Category, rec.LogicalDate) {
			return nil, common.ErrorAlreadyExists
		}
	}
	cp := *rec
	cp.CreatedAt = time.Now()
	r.st.uploads[rec.ID] = &cp
	out := cp
	return &out, nil
}

func (r *uploadsRepo) ExistsCompleted(ctx context.Context, ownerID, digest, category string, logicalDate time.Time) (bool, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	for _, row := range r.st.uploads {
		if row.Status == models.UploadStatusCompleted &&
			dupID(row.OwnerID, row.ContentDigest, row.Category, row.LogicalDate) == dupID(ownerID, digest, category, logicalDate) {
			return true, nil
		}
	}
	return false, nil
}

func (r *uploadsRepo) GetByID(ctx context.Context, id, ownerID string) (*models.UploadRecord, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	row, ok := r.st.uploads[id]
	if !ok || row.OwnerID != ownerID {
		return nil, common.ErrorNotFound
	}
	cp := *row
	return &cp, nil
}

func (r *uploadsRepo) ListByOwner(ctx context.Context, ownerID, category string, limit, offset int) ([]*models.UploadRecord, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	var out []*models.UploadRecord
	for _, row := range r.st.uploads {
		if row.OwnerID != ownerID || row.Status != models.UploadStatusCompleted {
			continue
		}
		if category != "" && row.Category != category {
			continue
		}
		cp := *row
		out = append(out, &cp)
	}
	return out, nil
}

func (r *uploadsRepo) MarkDeleted(ctx context.Context, id, ownerID string) (*models.UploadRecord, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	row, ok := r.st.uploads[id]
	if !ok || row.OwnerID != ownerID || row.Status != models.UploadStatusCompleted {
		return nil, common.ErrorNotFound
	}
	row.Status = models.UploadStatusDeleted
	cp := *row
	return &cp, nil
}

func (r *uploadsRepo) TotalCompletedSize(ctx context.Context, ownerID string) (int64, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	var total int64
	for _, row := range r.st.uploads {
		if row.OwnerID == ownerID && row.Status == models.UploadStatusCompleted {
			total += row.Size
		}
	}
	return total, nil
}

type sessionsRepo memManager

func (r *sessionsRepo) Create(ctx context.Context, s *models.Session) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	cp := *s
	r.st.sessions[s.ID] = &cp
	return nil
}

func (r *sessionsRepo) Get(ctx context.Context, id string) (*models.Session, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	s, ok := r.st.sessions[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *sessionsRepo) UpdateActivity(ctx context.Context, id string, at time.Time) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	if s, ok := r.st.sessions[id]; ok {
		s.LastActivity = at
	}
	return nil
}

func (r *sessionsRepo) UpdateCSRF(ctx context.Context, id, token string, at time.Time) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	if s, ok := r.st.sessions[id]; ok {
		s.CSRFToken = token
		s.CSRFIssuedAt = at
	}
	return nil
}

func (r *sessionsRepo) Delete(ctx context.Context, id string) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	delete(r.st.sessions, id)
	return nil
}

func (r *sessionsRepo) DeleteExpired(ctx context.Context) (int64, error) { return 0, nil }

type rememberRepo memManager

func (r *rememberRepo) Create(ctx context.Context, ownerID string, tokenHash []byte, expiresAt time.Time) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	r.st.remember[string(tokenHash)] = &models.RememberToken{OwnerID: ownerID, TokenHash: tokenHash, ExpiresAt: expiresAt}
	return nil
}

func (r *rememberRepo) FindValid(ctx context.Context, tokenHash []byte) (*models.RememberToken, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	tok, ok := r.st.remember[string(tokenHash)]
	if !ok || time.Now().After(tok.ExpiresAt) {
		return nil, common.ErrorNotFound
	}
	cp := *tok
	return &cp, nil
}

func (r *rememberRepo) Delete(ctx context.Context, tokenHash []byte) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	delete(r.st.remember, string(tokenHash))
	return nil
}

func (r *rememberRepo) DeleteByOwner(ctx context.Context, ownerID string) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	for k, tok := range r.st.remember {
		if tok.OwnerID == ownerID {
			delete(r.st.remember, k)
		}
	}
	return nil
}

func (r *rememberRepo) DeleteExpired(ctx context.Context) (int64, error) { return 0, nil }

type activityRepo memManager

func (r *activityRepo) Insert(ctx context.Context, ev *models.ActivityEvent) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	cp := *ev
	r.st.events = append(r.st.events, &cp)
	return nil
}
