package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/errorhub/pkg/models"
)

var (
	ErrNotFound     = errors.New("resource not found")
	ErrDuplicateKey = errors.New("duplicate key violation")
	// ErrConflict is returned when a write lost a race (deadlock or serialization
	// failure). The caller may retry after re-reading.
	ErrConflict = errors.New("concurrent write conflict")
	// ErrNotMember is returned by AssignException when the user is not in the
	// exception's project at the time of the write.
	ErrNotMember = errors.New("user is not a project member")
)

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	CreateUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	ListUsers(ctx context.Context, page Page) ([]*models.User, int, error)
	UpdateUser(ctx context.Context, user *models.User) error

	// CreateProject inserts the project and its members in slice order.
	CreateProject(ctx context.Context, project *models.Project) error
	GetProject(ctx context.Context, id uuid.UUID) (*models.Project, error)
	ListProjects(ctx context.Context, page Page) ([]*models.Project, int, error)
	UpdateProject(ctx context.Context, project *models.Project) error
	// AddProjectMember reports whether the membership was newly created.
	AddProjectMember(ctx context.Context, projectID, userID uuid.UUID) (bool, error)
	// RemoveProjectMember deletes the membership and, when clearAssignments is
	// set, clears the user's assignments in the project in the same transaction.
	RemoveProjectMember(ctx context.Context, projectID, userID uuid.UUID, clearAssignments bool) (MemberRemoval, error)
	IsProjectMember(ctx context.Context, projectID, userID uuid.UUID) (bool, error)
	// ListProjectsByMember returns the user's projects ordered by membership sequence.
	ListProjectsByMember(ctx context.Context, userID uuid.UUID) ([]*models.Project, error)

	// RecordOccurrence atomically finds or creates the exception for
	// (exc.ProjectID, exc.Signature) and appends inst to it. The returned bool
	// is true when the exception was created by this call.
	RecordOccurrence(ctx context.Context, exc *models.Exception, inst *models.Instance) (*models.Exception, bool, error)
	GetException(ctx context.Context, id uuid.UUID) (*models.Exception, error)
	ListExceptions(ctx context.Context, filter ExceptionFilter) ([]*models.Exception, int, error)
	AssignException(ctx context.Context, exceptionID, userID uuid.UUID) (*models.Exception, error)
	UnassignException(ctx context.Context, exceptionID uuid.UUID) (*models.Exception, error)

	GetInstance(ctx context.Context, id uuid.UUID) (*models.Instance, error)
	ListInstances(ctx context.Context, filter InstanceFilter) ([]*models.Instance, int, error)
}

// MemberRemoval describes the effect of RemoveProjectMember.
type MemberRemoval struct {
	Removed           bool
	ClearedExceptions []uuid.UUID
}

// Page selects a window of a list query. Zero values fall back to defaults.
type Page struct {
	Page  int
	Limit int
}

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// MaxPage is the highest page number served. It keeps offsets far from
// integer overflow at any limit.
const MaxPage = 1_000_000

// Normalize clamps the page to valid bounds and returns (limit, offset).
func (p Page) Normalize() (limit, offset int) {
	limit = p.Limit
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	page := min(max(p.Page, 1), MaxPage)
	return limit, (page - 1) * limit
}

type ExceptionFilter struct {
	ProjectID  uuid.UUID
	AssigneeID uuid.UUID
	Page
}

type InstanceFilter struct {
	ExceptionID uuid.UUID
	Page
}
