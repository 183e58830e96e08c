package models

import "time"

// ActivityEvent is a write-only audit entry for auth and upload actions.
type ActivityEvent struct {
	UserID    string
	Action    string
	Detail    string
	ClientIP  string
	CreatedAt time.Time
}
