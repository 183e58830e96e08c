package models

import "time"

// Session is an authenticated session row, owned exclusively by the session
// guard. Expiry is sliding: a session dies when now minus LastActivity
// exceeds TimeoutSeconds, not at a fixed wall-clock instant.
type Session struct {
	ID           string
	OwnerID      string
	IssuedAt     time.Time
	LastActivity time.Time

	// TimeoutSeconds is the inactivity window for this session.
	TimeoutSeconds int

	CSRFToken    string
	CSRFIssuedAt time.Time
}

// RememberToken stores only the one-way hash of a remember-me bearer secret;
// the secret itself is never persisted.
type RememberToken struct {
	OwnerID   string
	TokenHash []byte
	ExpiresAt time.Time
	CreatedAt time.Time
}
