// Package projects owns project records and their teams, and answers which
// projects a given user may see.
package projects

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/errorhub/internal/apperror"
	"github.com/kiranshivaraju/errorhub/internal/cache"
	"github.com/kiranshivaraju/errorhub/internal/metrics"
	"github.com/kiranshivaraju/errorhub/internal/store"
	"github.com/kiranshivaraju/errorhub/pkg/models"
)

const maxNameLength = 255

// CreateParams holds the fields accepted when creating a project.
type CreateParams struct {
	Name    string      `json:"name"`
	Members []uuid.UUID `json:"members"`
}

// UpdateParams holds the mutable fields of a project.
type UpdateParams struct {
	Name string `json:"name"`
}

// AccessibleProjectsResult is the set of projects a user is a member of,
// in the order the memberships were created.
type AccessibleProjectsResult struct {
	UserID   uuid.UUID         `json:"user_id"`
	Projects []*models.Project `json:"projects"`
}

// Config controls Directory policies.
type Config struct {
	// AutoClearAssigneeOnRevoke clears a removed member's assignments in the
	// project in the same transaction as the removal.
	AutoClearAssigneeOnRevoke bool
	// AccessCacheTTL is how long an AllAccessibleByUser result is cached.
	// Zero disables caching.
	AccessCacheTTL time.Duration
}

// Directory is the project service.
type Directory struct {
	store   store.Store
	cache   cache.Cache
	metrics *metrics.Metrics
	cfg     Config
	now     func() time.Time
}

// NewDirectory creates a new Directory. c and m may be nil.
func NewDirectory(st store.Store, c cache.Cache, m *metrics.Metrics, cfg Config) *Directory {
	return &Directory{
		store:   st,
		cache:   c,
		metrics: m,
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func validateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", apperror.Validation("is required", "name")
	}
	if len(name) > maxNameLength {
		return "", apperror.Validation(fmt.Sprintf("must be at most %d characters", maxNameLength), "name")
	}
	return name, nil
}

// Create stores a new project. Duplicate members are dropped, keeping the
// first occurrence.
func (d *Directory) Create(ctx context.Context, params CreateParams) (*models.Project, error) {
	name, err := validateName(params.Name)
	if err != nil {
		return nil, err
	}

	members := make([]uuid.UUID, 0, len(params.Members))
	seen := make(map[uuid.UUID]struct{}, len(params.Members))
	for _, id := range params.Members {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if _, err := d.store.GetUser(ctx, id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, apperror.NotFound("user", id)
			}
			return nil, fmt.Errorf("get member: %w", err)
		}
		members = append(members, id)
	}

	now := d.now()
	p := &models.Project{
		ID:        uuid.New(),
		Name:      name,
		Members:   members,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := d.store.CreateProject(ctx, p); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperror.Validation("references an unknown user", "members")
		}
		return nil, fmt.Errorf("create project: %w", err)
	}
	d.invalidate(ctx, members...)
	slog.Info("project created", "project_id", p.ID, "members", len(members))
	return p, nil
}

// List returns every project regardless of membership.
func (d *Directory) List(ctx context.Context, page store.Page) ([]*models.Project, int, error) {
	projects, total, err := d.store.ListProjects(ctx, page)
	if err != nil {
		return nil, 0, fmt.Errorf("list projects: %w", err)
	}
	return projects, total, nil
}

func (d *Directory) Find(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	p, err := d.store.GetProject(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperror.NotFound("project", id)
	}
	if err != nil {
		return nil, fmt.Errorf("find project: %w", err)
	}
	return p, nil
}

// Update renames a project.
func (d *Directory) Update(ctx context.Context, id uuid.UUID, params UpdateParams) (*models.Project, error) {
	name, err := validateName(params.Name)
	if err != nil {
		return nil, err
	}
	p, err := d.Find(ctx, id)
	if err != nil {
		return nil, err
	}

	p.Name = name
	p.UpdatedAt = d.now()
	if err := d.store.UpdateProject(ctx, p); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperror.NotFound("project", id)
		}
		return nil, fmt.Errorf("update project: %w", err)
	}
	d.invalidate(ctx, p.Members...)
	return p, nil
}

// AddTeamMember adds userID to the project's team. Adding an existing member
// is a no-op; the returned bool reports whether the membership is new.
func (d *Directory) AddTeamMember(ctx context.Context, projectID, userID uuid.UUID) (bool, error) {
	p, err := d.ensureExists(ctx, projectID, userID)
	if err != nil {
		return false, err
	}

	added, err := d.store.AddProjectMember(ctx, projectID, userID)
	if errors.Is(err, store.ErrNotFound) {
		return false, apperror.NotFound("project", projectID)
	}
	if err != nil {
		return false, fmt.Errorf("add project member: %w", err)
	}
	if added {
		// Cached entries embed each project's member list.
		d.invalidate(ctx, append(p.Members, userID)...)
		slog.Info("team member added", "project_id", projectID, "user_id", userID)
	}
	return added, nil
}

// RemoveTeamMember removes userID from the project's team and returns the ids
// of exceptions whose assignee was cleared as a result. Removing a non-member
// is a no-op.
func (d *Directory) RemoveTeamMember(ctx context.Context, projectID, userID uuid.UUID) ([]uuid.UUID, error) {
	p, err := d.ensureExists(ctx, projectID, userID)
	if err != nil {
		return nil, err
	}

	removal, err := d.store.RemoveProjectMember(ctx, projectID, userID, d.cfg.AutoClearAssigneeOnRevoke)
	if err != nil {
		return nil, fmt.Errorf("remove project member: %w", err)
	}
	if !removal.Removed {
		return []uuid.UUID{}, nil
	}

	d.invalidate(ctx, p.Members...)
	d.metrics.AssignmentChanged("revoke", len(removal.ClearedExceptions))
	slog.Info("team member removed",
		"project_id", projectID,
		"user_id", userID,
		"cleared_assignments", len(removal.ClearedExceptions),
	)
	if removal.ClearedExceptions == nil {
		return []uuid.UUID{}, nil
	}
	return removal.ClearedExceptions, nil
}

// AllAccessibleByUser returns the projects whose team contains userID, ordered
// by when each membership was created. An unknown user is a NotFoundError; a
// known user without memberships gets an empty result.
func (d *Directory) AllAccessibleByUser(ctx context.Context, userID uuid.UUID) (*AccessibleProjectsResult, error) {
	if _, err := d.store.GetUser(ctx, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperror.NotFound("user", userID)
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	// The generation is read before the store so that a membership change
	// landing mid-read moves readers to a key this result is never written to.
	gen, cacheable := d.accessGeneration(ctx, userID)
	if cacheable {
		if cached, ok := d.cachedAccessible(ctx, userID, gen); ok {
			return &AccessibleProjectsResult{UserID: userID, Projects: cached}, nil
		}
	}

	projects, err := d.store.ListProjectsByMember(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list projects by member: %w", err)
	}
	if projects == nil {
		projects = []*models.Project{}
	}
	if cacheable {
		d.storeAccessible(ctx, userID, gen, projects)
	}
	return &AccessibleProjectsResult{UserID: userID, Projects: projects}, nil
}

// CanAccess reports whether userID is a member of projectID.
func (d *Directory) CanAccess(ctx context.Context, userID, projectID uuid.UUID) (bool, error) {
	ok, err := d.store.IsProjectMember(ctx, projectID, userID)
	if err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return ok, nil
}

func (d *Directory) ensureExists(ctx context.Context, projectID, userID uuid.UUID) (*models.Project, error) {
	p, err := d.Find(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if _, err := d.store.GetUser(ctx, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperror.NotFound("user", userID)
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return p, nil
}

// The access cache fails open: read errors fall through to the store and
// write errors are only logged. Entries are keyed by a per-user generation
// token; invalidation replaces the token instead of deleting entries, so a
// slow reader can only ever write to a key nobody looks up any more.

const initialGeneration = "0"

func (d *Directory) cacheEnabled() bool {
	return d.cache != nil && d.cfg.AccessCacheTTL > 0
}

// accessGeneration returns the user's current generation token. The bool is
// false when the cache must be bypassed.
func (d *Directory) accessGeneration(ctx context.Context, userID uuid.UUID) (string, bool) {
	if !d.cacheEnabled() {
		return "", false
	}
	data, found, err := d.cache.Get(ctx, cache.AccessGenerationKey(userID))
	if err != nil {
		slog.Warn("access cache read failed", "user_id", userID, "error", err)
		return "", false
	}
	if !found {
		return initialGeneration, true
	}
	return string(data), true
}

func (d *Directory) cachedAccessible(ctx context.Context, userID uuid.UUID, gen string) ([]*models.Project, bool) {
	data, found, err := d.cache.Get(ctx, cache.AccessibleProjectsKey(userID, gen))
	if err != nil {
		slog.Warn("access cache read failed", "user_id", userID, "error", err)
		return nil, false
	}
	if !found {
		return nil, false
	}
	var projects []*models.Project
	if err := json.Unmarshal(data, &projects); err != nil {
		slog.Warn("access cache entry corrupt", "user_id", userID, "error", err)
		return nil, false
	}
	if projects == nil {
		projects = []*models.Project{}
	}
	return projects, true
}

func (d *Directory) storeAccessible(ctx context.Context, userID uuid.UUID, gen string, projects []*models.Project) {
	data, err := json.Marshal(projects)
	if err != nil {
		slog.Warn("access cache encode failed", "user_id", userID, "error", err)
		return
	}
	if err := d.cache.Set(ctx, cache.AccessibleProjectsKey(userID, gen), data, d.cfg.AccessCacheTTL); err != nil {
		slog.Warn("access cache write failed", "user_id", userID, "error", err)
	}
}

// invalidate gives each user a fresh generation token. Tokens do not expire;
// orphaned entries age out with AccessCacheTTL.
func (d *Directory) invalidate(ctx context.Context, userIDs ...uuid.UUID) {
	if d.cache == nil {
		return
	}
	for _, id := range userIDs {
		token := []byte(uuid.NewString())
		if err := d.cache.Set(ctx, cache.AccessGenerationKey(id), token, 0); err != nil {
			slog.Warn("access cache invalidation failed", "user_id", id, "error", err)
		}
	}
}
