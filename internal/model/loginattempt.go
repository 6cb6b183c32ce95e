package model

import "time"

// LoginAttempt tracks consecutive password-login failures for a normalized
// identifier. Records are created on first failure, reset on success, and
// expire after a window of inactivity.
type LoginAttempt struct {
	Identifier  string     `db:"identifier"`
	Failures    int        `db:"failures"`
	LastFailure time.Time  `db:"last_failure"`
	LockedUntil *time.Time `db:"locked_until"`
}

// Project is the minimal project record this core keeps: enough to verify
// that a requested project belongs to a session's active organization and
// to scope credentials. Everything else about projects lives upstream.
type Project struct {
	ID        string    `json:"id" db:"id"`
	OrgID     string    `json:"org_id" db:"org_id"`
	Name      string    `json:"name" db:"name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
