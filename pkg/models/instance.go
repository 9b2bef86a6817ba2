package models

import (
	"time"

	"github.com/google/uuid"
)

// Instance is one raw occurrence of an Exception. Instances are never updated.
type Instance struct {
	ID          uuid.UUID      `db:"id"           json:"id"`
	ExceptionID uuid.UUID      `db:"exception_id" json:"exception_id"`
	OccurredAt  time.Time      `db:"occurred_at"  json:"occurred_at"`
	Message     string         `db:"message"      json:"message"`
	Stack       string         `db:"stack"        json:"stack,omitempty"`
	Metadata    map[string]any `db:"metadata"     json:"metadata,omitempty"`
	CreatedAt   time.Time      `db:"created_at"   json:"created_at"`
}
