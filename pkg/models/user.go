// Package models contains shared data models used across the errorhub codebase.
package models

import (
	"time"

	"github.com/google/uuid"
)

// User is a registered identity. Users are never hard-deleted.
type User struct {
	ID           uuid.UUID `db:"id"            json:"id"`
	FirstName    string    `db:"first_name"    json:"first_name"`
	LastName     string    `db:"last_name"     json:"last_name"`
	Email        string    `db:"email"         json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	CreatedAt    time.Time `db:"created_at"    json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"    json:"updated_at"`
}
