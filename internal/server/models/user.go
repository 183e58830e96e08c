// Package models defines server-side data models persisted in the database.
package models

import "time"

// User statuses. New registrations start as pending and must be approved
// before login succeeds.
const (
	UserStatusPending  = "pending"
	UserStatusActive   = "active"
	UserStatusDisabled = "disabled"
)

// User is an account row. PII fields are stored as FieldCipher blobs; the
// *_Hash columns are deterministic lookup digests that allow duplicate
// checks without decrypting the table.
type User struct {
	ID           string
	UserName     string
	PasswordHash string
	Status       string
	Role         string
	HospCode     string

	// SessionTimeout is the per-account inactivity timeout in seconds.
	SessionTimeout int

	// Encrypted PII (nonce || ciphertext blobs).
	EncPrefix    []byte
	EncFirstName []byte
	EncLastName  []byte
	EncPosition  []byte
	EncCitizenID []byte
	EncEmail     []byte
	EncPhone     []byte

	// Lookup digests over the plaintext PII.
	CitizenIDHash []byte
	EmailHash     []byte

	CreatedAt   time.Time
	LastLoginAt *time.Time
}
