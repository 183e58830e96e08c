package models

import "time"

// Archive categories accepted by the intake pipeline.
const (
	CategoryHIS = "HIS"
	CategoryF43 = "F43"
)

// Upload record statuses. Completed records transition to deleted exactly
// once and the row is never reused; completed rows are authoritative for
// duplicate detection.
const (
	UploadStatusCompleted = "completed"
	UploadStatusDeleted   = "deleted"
)

// ValidCategory reports whether c is one of the accepted archive categories.
func ValidCategory(c string) bool {
	return c == CategoryHIS || c == CategoryF43
}

// UploadRecord is the persisted metadata of one accepted archive. It is
// created only after the physical file is durably placed.
type UploadRecord struct {
	ID            string
	OwnerID       string
	OriginalName  string
	StoredName    string
	Category      string
	LogicalDate   time.Time
	Size          int64
	ContentDigest string
	StoragePath   string
	Status        string
	ClientIP      string
	CreatedAt     time.Time
}
