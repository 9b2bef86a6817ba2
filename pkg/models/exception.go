package models

import (
	"time"

	"github.com/google/uuid"
)

// Exception is the deduplicated record of every error in a project that shares
// the same signature. At most one exists per (ProjectID, Signature).
type Exception struct {
	ID          uuid.UUID  `db:"id"            json:"id"`
	ProjectID   uuid.UUID  `db:"project_id"    json:"project_id"`
	Signature   string     `db:"signature"     json:"signature"`
	ErrorType   string     `db:"error_type"    json:"error_type"`
	Message     string     `db:"message"       json:"message"`
	Location    string     `db:"location"      json:"location"`
	Occurrences int        `db:"occurrences"   json:"occurrences"`
	FirstSeenAt time.Time  `db:"first_seen_at" json:"first_seen_at"`
	LastSeenAt  time.Time  `db:"last_seen_at"  json:"last_seen_at"`
	AssigneeID  *uuid.UUID `db:"assignee_id"   json:"assignee_id,omitempty"`
	CreatedAt   time.Time  `db:"created_at"    json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at"    json:"updated_at"`
}

// Assigned reports whether the exception currently has an assignee.
func (e *Exception) Assigned() bool {
	return e.AssigneeID != nil
}
