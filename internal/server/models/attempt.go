package models

import "time"

// Rate-limited actions. Each keeps its own attempt threshold.
const (
	ActionLogin    = "login"
	ActionRegister = "register"
)

// AttemptRecord is one row per (identifier, action) tracked by the rate
// limiter. StrikeCount never decreases except through administrative reset;
// LockoutUntil is set only when AttemptCount crosses the action threshold.
type AttemptRecord struct {
	Identifier   string
	Action       string
	AttemptCount int
	StrikeCount  int
	LockoutUntil *time.Time
	UpdatedAt    time.Time
}
