package services

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/ssjbox/ssjbox/internal/common"
	"github.com/ssjbox/ssjbox/internal/dbx"
	"github.com/ssjbox/ssjbox/internal/logging"
	"github.com/ssjbox/ssjbox/internal/server/models"
	"github.com/ssjbox/ssjbox/internal/server/repositories/repomanager"
	"github.com/ssjbox/ssjbox/internal/server/storage"
)

// Upload outcomes. Duplicate and Rejected are expected results of a
// well-formed request, not errors; only infrastructure failures surface as
// errors from Upload.
type UploadStatus int

const (
	UploadAccepted UploadStatus = iota
	UploadDuplicate
	UploadRejected
)

// UploadResult is the outcome of one intake attempt. Record is set only for
// accepted uploads; Reason only for rejected ones.
type UploadResult struct {
	Status UploadStatus
	Reason string
	Record *models.UploadRecord
}

// UploadRequest carries one incoming archive through the pipeline. Body is
// consumed exactly once.
type UploadRequest struct {
	OwnerID      string
	ClientIP     string
	Category     string
	LogicalDate  time.Time
	OriginalName string
	Size         int64
	TransportErr error
	Body         io.Reader
}

// DownloadHandle resolves a stored archive for serving. PresignedURL is set
// when an object-storage mirror is configured, otherwise LocalPath points at
// the blob on disk.
type DownloadHandle struct {
	Record       *models.UploadRecord
	LocalPath    string
	PresignedURL string
}

// Mirror replicates placed archives to object storage. *storage.S3Mirror
// implements it.
type Mirror interface {
	Mirror(ctx context.Context, storagePath string) error
	PresignedGetURL(ctx context.Context, storagePath string) (string, error)
}

// IntakeService validates, places and records incoming archives. Placement
// happens before the record insert; every later failure compensates by
// removing the placed file so storage and records never drift apart.
type IntakeService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	store       *storage.LocalStore
	mirror      Mirror
	validator   *Validator
	quotaBytes  int64
	logger      logging.Logger
	now         func() time.Time
}

// NewIntakeService constructs the pipeline. mirror may be nil; quotaBytes
// zero disables the per-owner quota.
func NewIntakeService(db *sql.DB, m repomanager.RepositoryManager, store *storage.LocalStore, mirror Mirror, validator *Validator, quotaBytes int64, logger logging.Logger) *IntakeService {
	return &IntakeService{
		db:          db,
		repomanager: m,
		store:       store,
		mirror:      mirror,
		validator:   validator,
		quotaBytes:  quotaBytes,
		logger:      logger,
		now:         time.Now,
	}
}

// Upload runs the full pipeline: validate, advisory quota check, atomic
// placement, duplicate detection, record insert, best-effort mirroring.
func (s *IntakeService) Upload(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	if req.TransportErr != nil {
		return &UploadResult{Status: UploadRejected, Reason: fmt.Sprintf("incomplete transfer: %v", req.TransportErr)}, nil
	}
	if !models.ValidCategory(req.Category) {
		return &UploadResult{Status: UploadRejected, Reason: fmt.Sprintf("unknown category %q", req.Category)}, nil
	}
	if req.LogicalDate.IsZero() {
		return &UploadResult{Status: UploadRejected, Reason: "missing report date"}, nil
	}
	// The report date is a calendar day, so the comparison is at day
	// granularity: any date after today's server-local date is rejected,
	// including tomorrow at midnight.
	if dayOf(req.LogicalDate, s.now().Location()).After(dayOf(s.now(), s.now().Location())) {
		return &UploadResult{Status: UploadRejected, Reason: "report date is in the future"}, nil
	}

	head := make([]byte, HeadProbeSize)
	n, err := io.ReadFull(req.Body, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return &UploadResult{Status: UploadRejected, Reason: fmt.Sprintf("unreadable payload: %v", err)}, nil
	}
	head = head[:n]

	meta := FileMeta{Name: req.OriginalName, Size: req.Size, TransportErr: req.TransportErr}
	if res := s.validator.Validate(meta, head); !res.OK {
		return &UploadResult{Status: UploadRejected, Reason: res.Reason}, nil
	}

	// The quota check is advisory. If the sum cannot be computed the upload
	// proceeds: quota enforcement degrades, intake does not.
	if s.quotaBytes > 0 {
		total, err := s.repomanager.Uploads(s.db).TotalCompletedSize(ctx, req.OwnerID)
		if err != nil {
			s.logger.Warn(ctx, "quota check unavailable, admitting upload", "owner", req.OwnerID, "error", err.Error())
		} else if total+req.Size > s.quotaBytes {
			return &UploadResult{Status: UploadRejected, Reason: "storage quota exceeded"}, nil
		}
	}

	src := io.MultiReader(bytes.NewReader(head), req.Body)
	placed, err := s.store.Place(ctx, req.OwnerID, req.Category, req.LogicalDate, req.OriginalName, src)
	if err != nil {
		return nil, fmt.Errorf("place archive: %w", err)
	}

	rec := &models.UploadRecord{
		ID:            uuid.NewString(),
		OwnerID:       req.OwnerID,
		OriginalName:  req.OriginalName,
		StoredName:    placed.StoredName,
		Category:      req.Category,
		LogicalDate:   req.LogicalDate,
		Size:          placed.Size,
		ContentDigest: placed.Digest,
		StoragePath:   placed.StoragePath,
		Status:        models.UploadStatusCompleted,
		ClientIP:      req.ClientIP,
	}

	duplicate := false
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Uploads(tx)
		exists, err := repo.ExistsCompleted(ctx, req.OwnerID, placed.Digest, req.Category, req.LogicalDate)
		if err != nil {
			return err
		}
		if exists {
			duplicate = true
			return nil
		}
		created, err := repo.Create(ctx, rec)
		if err != nil {
			// Lost a race with an identical concurrent upload.
			if errors.Is(err, common.ErrorAlreadyExists) {
				duplicate = true
				return nil
			}
			return err
		}
		rec = created
		return nil
	})
	if err != nil {
		s.compensate(ctx, placed.StoragePath)
		return nil, fmt.Errorf("record archive: %w", err)
	}
	if duplicate {
		s.compensate(ctx, placed.StoragePath)
		return &UploadResult{Status: UploadDuplicate}, nil
	}

	if s.mirror != nil {
		if err := s.mirror.Mirror(ctx, placed.StoragePath); err != nil {
			s.logger.Warn(ctx, "mirror upload failed", "path", placed.StoragePath, "error", err.Error())
		}
	}

	s.logger.Info(ctx, "archive accepted", "owner", req.OwnerID, "category", req.Category, "stored", placed.StoredName, "size", placed.Size)
	return &UploadResult{Status: UploadAccepted, Record: rec}, nil
}

// compensate removes a placed file after the record step declined it.
// dayOf truncates t to its calendar date in loc.
func dayOf(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

func (s *IntakeService) compensate(ctx context.Context, storagePath string) {
	if err := s.store.Remove(storagePath); err != nil {
		s.logger.Error(ctx, "compensating delete failed, orphan blob left behind", "path", storagePath, "error", err.Error())
	}
}

// List returns the owner's completed records, optionally filtered by
// category.
func (s *IntakeService) List(ctx context.Context, ownerID, category string, limit, offset int) ([]*models.UploadRecord, error) {
	if category != "" && !models.ValidCategory(category) {
		return nil, fmt.Errorf("unknown category %q: %w", category, common.ErrorNotFound)
	}
	return s.repomanager.Uploads(s.db).ListByOwner(ctx, ownerID, category, limit, offset)
}

// Delete soft-deletes the record first and then removes the blob. A failed
// blob removal is logged and swept up later; the record transition is what
// matters.
func (s *IntakeService) Delete(ctx context.Context, id, ownerID string) error {
	rec, err := s.repomanager.Uploads(s.db).MarkDeleted(ctx, id, ownerID)
	if err != nil {
		return err
	}
	if err := s.store.Remove(rec.StoragePath); err != nil {
		s.logger.Warn(ctx, "blob removal failed after delete", "path", rec.StoragePath, "error", err.Error())
	}
	return nil
}

// ResolveDownload locates a completed archive for serving. Deleted records
// are not served.
func (s *IntakeService) ResolveDownload(ctx context.Context, id, ownerID string) (*DownloadHandle, error) {
	rec, err := s.repomanager.Uploads(s.db).GetByID(ctx, id, ownerID)
	if err != nil {
		return nil, err
	}
	if rec.Status != models.UploadStatusCompleted {
		return nil, common.ErrorNotFound
	}

	h := &DownloadHandle{Record: rec, LocalPath: s.store.AbsPath(rec.StoragePath)}
	if s.mirror != nil {
		url, err := s.mirror.PresignedGetURL(ctx, rec.StoragePath)
		if err != nil {
			s.logger.Warn(ctx, "presign failed, falling back to local file", "path", rec.StoragePath, "error", err.Error())
		} else {
			h.PresignedURL = url
		}
	}
	return h, nil
}
