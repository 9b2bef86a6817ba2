package models

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// Project groups exceptions and owns the team whose members may see and triage them.
// Members is ordered by the sequence in which each membership was added.
type Project struct {
	ID        uuid.UUID   `db:"id"         json:"id"`
	Name      string      `db:"name"       json:"name"`
	Members   []uuid.UUID `db:"-"          json:"members"`
	CreatedAt time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt time.Time   `db:"updated_at" json:"updated_at"`
}

// HasMember reports whether userID is in the project's team.
func (p *Project) HasMember(userID uuid.UUID) bool {
	return slices.Contains(p.Members, userID)
}
