package services

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"sync"
	"time"

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

// fakeRepoManager hands out the in-memory fakes regardless of the handle it
// is given, so services can be exercised without a database.
type fakeRepoManager struct {
	attempts       attempts.Repository
	uploads        uploads.Repository
	sessions       sessions.Repository
	remembertokens remembertokens.Repository
	users          users.Repository
	activity       activity.Repository
}

func (m *fakeRepoManager) Users(db dbx.DBTX) users.Repository         { return m.users }
func (m *fakeRepoManager) Attempts(db dbx.DBTX) attempts.Repository   { return m.attempts }
func (m *fakeRepoManager) Uploads(db dbx.DBTX) uploads.Repository     { return m.uploads }
func (m *fakeRepoManager) Sessions(db dbx.DBTX) sessions.Repository   { return m.sessions }
func (m *fakeRepoManager) Activity(db dbx.DBTX) activity.Repository   { return m.activity }
func (m *fakeRepoManager) RememberTokens(db dbx.DBTX) remembertokens.Repository {
	return m.remembertokens
}
func (m *fakeRepoManager) RunMigrations(ctx context.Context, db *sql.DB) error { return nil }

type attemptKey struct {
	identifier string
	action     string
}

// memAttempts mimics the conditional SQL semantics of the postgres attempts
// repository under a mutex.
type memAttempts struct {
	mu   sync.Mutex
	rows map[attemptKey]*models.AttemptRecord
	fail error
}

func newMemAttempts() *memAttempts {
	return &memAttempts{rows: map[attemptKey]*models.AttemptRecord{}}
}

func (r *memAttempts) Get(ctx context.Context, identifier, action string) (*models.AttemptRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return nil, r.fail
	}
	rec, ok := r.rows[attemptKey{identifier, action}]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *rec
	return &cp, nil
}

func (r *memAttempts) IncrementAndGet(ctx context.Context, identifier, action string) (*models.AttemptRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return nil, r.fail
	}
	k := attemptKey{identifier, action}
	rec, ok := r.rows[k]
	if !ok {
		rec = &models.AttemptRecord{Identifier: identifier, Action: action}
		r.rows[k] = rec
	}
	rec.AttemptCount++
	rec.UpdatedAt = time.Now()
	cp := *rec
	return &cp, nil
}

func (r *memAttempts) ApplyLockout(ctx context.Context, identifier, action string, threshold int, until time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return 0, r.fail
	}
	rec, ok := r.rows[attemptKey{identifier, action}]
	if !ok || rec.AttemptCount < threshold {
		return 0, nil
	}
	rec.AttemptCount = 0
	rec.StrikeCount++
	u := until
	rec.LockoutUntil = &u
	return rec.StrikeCount, nil
}

func (r *memAttempts) ResetAttempts(ctx context.Context, identifier, action string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	if rec, ok := r.rows[attemptKey{identifier, action}]; ok {
		rec.AttemptCount = 0
	}
	return nil
}

func (r *memAttempts) AdminReset(ctx context.Context, identifier, action string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	if rec, ok := r.rows[attemptKey{identifier, action}]; ok {
		rec.AttemptCount = 0
		rec.StrikeCount = 0
		rec.LockoutUntil = nil
	}
	return nil
}

type uploadKey struct {
	owner    string
	digest   string
	category string
	date     string
}

func keyOf(owner, digest, category string, logicalDate time.Time) uploadKey {
	return uploadKey{owner, digest, category, logicalDate.Format("2006-01-02")}
}

// memUploads mimics the partial-unique-index behaviour of the postgres
// uploads repository.
type memUploads struct {
	mu        sync.Mutex
	rows      map[string]*models.UploadRecord
	completed map[uploadKey]string
	failTotal error
}

func newMemUploads() *memUploads {
	return &memUploads{rows: map[string]*models.UploadRecord{}, completed: map[uploadKey]string{}}
}

func (r *memUploads) Create(ctx context.Context, rec *models.UploadRecord) (*models.UploadRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := keyOf(rec.OwnerID, rec.ContentDigest, rec.Category, rec.LogicalDate)
	if _, dup := r.completed[k]; dup {
		return nil, common.ErrorAlreadyExists
	}
	cp := *rec
	cp.CreatedAt = time.Now()
	r.rows[cp.ID] = &cp
	if cp.Status == models.UploadStatusCompleted {
		r.completed[k] = cp.ID
	}
	out := cp
	return &out, nil
}

func (r *memUploads) ExistsCompleted(ctx context.Context, ownerID, digest, category string, logicalDate time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.completed[keyOf(ownerID, digest, category, logicalDate)]
	return ok, nil
}

func (r *memUploads) GetByID(ctx context.Context, id, ownerID string) (*models.UploadRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.rows[id]
	if !ok || rec.OwnerID != ownerID {
		return nil, common.ErrorNotFound
	}
	cp := *rec
	return &cp, nil
}

func (r *memUploads) ListByOwner(ctx context.Context, ownerID, category string, limit, offset int) ([]*models.UploadRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.UploadRecord
	for _, rec := range r.rows {
		if rec.OwnerID != ownerID || rec.Status != models.UploadStatusCompleted {
			continue
		}
		if category != "" && rec.Category != category {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}
	return out, nil
}

func (r *memUploads) MarkDeleted(ctx context.Context, id, ownerID string) (*models.UploadRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.rows[id]
	if !ok || rec.OwnerID != ownerID || rec.Status != models.UploadStatusCompleted {
		return nil, common.ErrorNotFound
	}
	rec.Status = models.UploadStatusDeleted
	delete(r.completed, keyOf(rec.OwnerID, rec.ContentDigest, rec.Category, rec.LogicalDate))
	cp := *rec
	return &cp, nil
}

func (r *memUploads) TotalCompletedSize(ctx context.Context, ownerID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failTotal != nil {
		return 0, r.failTotal
	}
	var total int64
	for _, rec := range r.rows {
		if rec.OwnerID == ownerID && rec.Status == models.UploadStatusCompleted {
			total += rec.Size
		}
	}
	return total, nil
}

func (r *memAttempts) DeleteStale(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for k, rec := range r.rows {
		released := rec.LockoutUntil == nil || rec.LockoutUntil.Before(time.Now())
		if released && rec.UpdatedAt.Before(cutoff) {
			delete(r.rows, k)
			n++
		}
	}
	return n, nil
}

type memSessions struct {
	mu   sync.Mutex
	rows map[string]*models.Session
}

func newMemSessions() *memSessions {
	return &memSessions{rows: map[string]*models.Session{}}
}

func (r *memSessions) Create(ctx context.Context, s *models.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	r.rows[s.ID] = &cp
	return nil
}

func (r *memSessions) Get(ctx context.Context, id string) (*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.rows[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *memSessions) UpdateActivity(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.rows[id]; ok {
		s.LastActivity = at
	}
	return nil
}

func (r *memSessions) UpdateCSRF(ctx context.Context, id, token string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.rows[id]; ok {
		s.CSRFToken = token
		s.CSRFIssuedAt = at
	}
	return nil
}

func (r *memSessions) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rows, id)
	return nil
}

func (r *memSessions) DeleteExpired(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, s := range r.rows {
		if time.Now().After(s.LastActivity.Add(time.Duration(s.TimeoutSeconds) * time.Second)) {
			delete(r.rows, id)
			n++
		}
	}
	return n, nil
}

type memRememberTokens struct {
	mu   sync.Mutex
	rows map[string]*models.RememberToken
}

func newMemRememberTokens() *memRememberTokens {
	return &memRememberTokens{rows: map[string]*models.RememberToken{}}
}

func (r *memRememberTokens) Create(ctx context.Context, ownerID string, tokenHash []byte, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[string(tokenHash)] = &models.RememberToken{
		OwnerID:   ownerID,
		TokenHash: append([]byte(nil), tokenHash...),
		ExpiresAt: expiresAt,
		CreatedAt: time.Now(),
	}
	return nil
}

func (r *memRememberTokens) FindValid(ctx context.Context, tokenHash []byte) (*models.RememberToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tok, ok := r.rows[string(tokenHash)]
	if !ok || time.Now().After(tok.ExpiresAt) {
		return nil, common.ErrorNotFound
	}
	cp := *tok
	return &cp, nil
}

func (r *memRememberTokens) Delete(ctx context.Context, tokenHash []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rows, string(tokenHash))
	return nil
}

func (r *memRememberTokens) DeleteByOwner(ctx context.Context, ownerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, tok := range r.rows {
		if tok.OwnerID == ownerID {
			delete(r.rows, k)
		}
	}
	return nil
}

func (r *memRememberTokens) DeleteExpired(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for k, tok := range r.rows {
		if time.Now().After(tok.ExpiresAt) {
			delete(r.rows, k)
			n++
		}
	}
	return n, nil
}

type memUsers struct {
	mu   sync.Mutex
	rows map[string]*models.User
}

func newMemUsers() *memUsers {
	return &memUsers{rows: map[string]*models.User{}}
}

func (r *memUsers) Create(ctx context.Context, u *models.User) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.UserName == u.UserName {
			return nil, common.ErrorAlreadyExists
		}
	}
	cp := *u
	cp.CreatedAt = time.Now()
	r.rows[u.ID] = &cp
	out := cp
	return &out, nil
}

func (r *memUsers) GetByUserName(ctx context.Context, userName string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.UserName == userName {
			cp := *row
			return &cp, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r *memUsers) GetByID(ctx context.Context, id string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *row
	return &cp, nil
}

func (r *memUsers) ExistsByLookupHashes(ctx context.Context, cidHash, emailHash []byte) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if string(row.CitizenIDHash) == string(cidHash) || string(row.EmailHash) == string(emailHash) {
			return true, nil
		}
	}
	return false, nil
}

func (r *memUsers) UpdateLastLogin(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if row, ok := r.rows[id]; ok {
		now := time.Now()
		row.LastLoginAt = &now
	}
	return nil
}

func (r *memUsers) SetStatus(ctx context.Context, id, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if row, ok := r.rows[id]; ok {
		row.Status = status
	}
	return nil
}

type memActivity struct {
	mu     sync.Mutex
	events []*models.ActivityEvent
	fail   error
}

func (r *memActivity) Insert(ctx context.Context, ev *models.ActivityEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	cp := *ev
	r.events = append(r.events, &cp)
	return nil
}
