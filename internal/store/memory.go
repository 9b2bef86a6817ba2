package store

import (
	"context"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/errorhub/pkg/models"
)

// MemoryStore is a Store held in process memory. A single mutex serializes
// every operation, which gives the same find-or-create and membership-lock
// guarantees as the Postgres store. Used by tests and local runs.
type MemoryStore struct {
	mu sync.Mutex

	users       map[uuid.UUID]*models.User
	userOrder   []uuid.UUID
	projects    map[uuid.UUID]*models.Project
	projOrder   []uuid.UUID
	memberships []membership
	seq         int64

	exceptions  map[uuid.UUID]*models.Exception
	bySignature map[signatureKey]uuid.UUID
	instances   map[uuid.UUID]*models.Instance
	instOrder   []uuid.UUID

	now func() time.Time
}

type membership struct {
	projectID uuid.UUID
	userID    uuid.UUID
	seq       int64
}

type signatureKey struct {
	projectID uuid.UUID
	signature string
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:       make(map[uuid.UUID]*models.User),
		projects:    make(map[uuid.UUID]*models.Project),
		exceptions:  make(map[uuid.UUID]*models.Exception),
		bySignature: make(map[signatureKey]uuid.UUID),
		instances:   make(map[uuid.UUID]*models.Instance),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Ping(_ context.Context) error { return nil }

// --- Users ---

func (s *MemoryStore) CreateUser(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[user.ID]; ok {
		return ErrDuplicateKey
	}
	if s.emailTaken(user.Email, uuid.Nil) {
		return ErrDuplicateKey
	}
	u := *user
	s.users[u.ID] = &u
	s.userOrder = append(s.userOrder, u.ID)
	return nil
}

func (s *MemoryStore) GetUser(_ context.Context, id uuid.UUID) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *u
	return &out, nil
}

func (s *MemoryStore) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Email == email {
			out := *u
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListUsers(_ context.Context, page Page) ([]*models.User, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := make([]*models.User, 0, len(s.userOrder))
	for _, id := range s.userOrder {
		u := *s.users[id]
		all = append(all, &u)
	}
	return paginate(all, page), len(all), nil
}

func (s *MemoryStore) UpdateUser(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[user.ID]; !ok {
		return ErrNotFound
	}
	if s.emailTaken(user.Email, user.ID) {
		return ErrDuplicateKey
	}
	u := *user
	s.users[u.ID] = &u
	return nil
}

func (s *MemoryStore) emailTaken(email string, except uuid.UUID) bool {
	for id, u := range s.users {
		if id != except && strings.EqualFold(u.Email, email) {
			return true
		}
	}
	return false
}

// --- Projects ---

func (s *MemoryStore) CreateProject(_ context.Context, project *models.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.projects[project.ID]; ok {
		return ErrDuplicateKey
	}
	for _, userID := range project.Members {
		if _, ok := s.users[userID]; !ok {
			return ErrNotFound
		}
	}

	p := *project
	p.Members = nil
	s.projects[p.ID] = &p
	s.projOrder = append(s.projOrder, p.ID)
	for _, userID := range project.Members {
		s.addMember(p.ID, userID)
	}
	return nil
}

func (s *MemoryStore) GetProject(_ context.Context, id uuid.UUID) (*models.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.projects[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s.projectView(p), nil
}

func (s *MemoryStore) ListProjects(_ context.Context, page Page) ([]*models.Project, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := make([]*models.Project, 0, len(s.projOrder))
	for _, id := range s.projOrder {
		all = append(all, s.projectView(s.projects[id]))
	}
	return paginate(all, page), len(all), nil
}

func (s *MemoryStore) UpdateProject(_ context.Context, project *models.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.projects[project.ID]
	if !ok {
		return ErrNotFound
	}
	p.Name = project.Name
	p.UpdatedAt = project.UpdatedAt
	return nil
}

func (s *MemoryStore) AddProjectMember(_ context.Context, projectID, userID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.projects[projectID]; !ok {
		return false, ErrNotFound
	}
	if _, ok := s.users[userID]; !ok {
		return false, ErrNotFound
	}
	return s.addMember(projectID, userID), nil
}

func (s *MemoryStore) addMember(projectID, userID uuid.UUID) bool {
	if s.isMember(projectID, userID) {
		return false
	}
	s.seq++
	s.memberships = append(s.memberships, membership{projectID: projectID, userID: userID, seq: s.seq})
	return true
}

func (s *MemoryStore) RemoveProjectMember(_ context.Context, projectID, userID uuid.UUID, clearAssignments bool) (MemberRemoval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result MemberRemoval
	idx := slices.IndexFunc(s.memberships, func(m membership) bool {
		return m.projectID == projectID && m.userID == userID
	})
	if idx < 0 {
		return result, nil
	}
	s.memberships = slices.Delete(s.memberships, idx, idx+1)
	result.Removed = true

	if clearAssignments {
		now := s.now()
		for _, e := range s.exceptions {
			if e.ProjectID == projectID && e.AssigneeID != nil && *e.AssigneeID == userID {
				e.AssigneeID = nil
				e.UpdatedAt = now
				result.ClearedExceptions = append(result.ClearedExceptions, e.ID)
			}
		}
		slices.SortFunc(result.ClearedExceptions, func(a, b uuid.UUID) int {
			return strings.Compare(a.String(), b.String())
		})
	}
	return result, nil
}

func (s *MemoryStore) IsProjectMember(_ context.Context, projectID, userID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isMember(projectID, userID), nil
}

func (s *MemoryStore) isMember(projectID, userID uuid.UUID) bool {
	return slices.ContainsFunc(s.memberships, func(m membership) bool {
		return m.projectID == projectID && m.userID == userID
	})
}

func (s *MemoryStore) ListProjectsByMember(_ context.Context, userID uuid.UUID) ([]*models.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// memberships is append-only apart from deletes, so it is already in seq order.
	projects := []*models.Project{}
	for _, m := range s.memberships {
		if m.userID == userID {
			projects = append(projects, s.projectView(s.projects[m.projectID]))
		}
	}
	return projects, nil
}

func (s *MemoryStore) projectView(p *models.Project) *models.Project {
	out := *p
	out.Members = []uuid.UUID{}
	for _, m := range s.memberships {
		if m.projectID == p.ID {
			out.Members = append(out.Members, m.userID)
		}
	}
	return &out
}

// --- Exceptions ---

func (s *MemoryStore) RecordOccurrence(_ context.Context, exc *models.Exception, inst *models.Instance) (*models.Exception, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.projects[exc.ProjectID]; !ok {
		return nil, false, ErrNotFound
	}

	key := signatureKey{projectID: exc.ProjectID, signature: exc.Signature}
	var (
		current *models.Exception
		created bool
	)
	if id, ok := s.bySignature[key]; ok {
		current = s.exceptions[id]
		current.Occurrences++
		if exc.LastSeenAt.After(current.LastSeenAt) {
			current.LastSeenAt = exc.LastSeenAt
		}
		current.UpdatedAt = exc.UpdatedAt
	} else {
		e := *exc
		e.Occurrences = 1
		e.AssigneeID = nil
		s.exceptions[e.ID] = &e
		s.bySignature[key] = e.ID
		current = &e
		created = true
	}

	i := *inst
	i.ExceptionID = current.ID
	i.Metadata = maps.Clone(inst.Metadata)
	s.instances[i.ID] = &i
	s.instOrder = append(s.instOrder, i.ID)
	inst.ExceptionID = current.ID

	return copyException(current), created, nil
}

func (s *MemoryStore) GetException(_ context.Context, id uuid.UUID) (*models.Exception, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.exceptions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyException(e), nil
}

func (s *MemoryStore) ListExceptions(_ context.Context, filter ExceptionFilter) ([]*models.Exception, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := []*models.Exception{}
	for _, e := range s.exceptions {
		if filter.ProjectID != uuid.Nil && e.ProjectID != filter.ProjectID {
			continue
		}
		if filter.AssigneeID != uuid.Nil && (e.AssigneeID == nil || *e.AssigneeID != filter.AssigneeID) {
			continue
		}
		all = append(all, copyException(e))
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].LastSeenAt.Equal(all[j].LastSeenAt) {
			return all[i].LastSeenAt.After(all[j].LastSeenAt)
		}
		return all[i].ID.String() < all[j].ID.String()
	})
	return paginate(all, filter.Page), len(all), nil
}

func (s *MemoryStore) AssignException(_ context.Context, exceptionID, userID uuid.UUID) (*models.Exception, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.exceptions[exceptionID]
	if !ok {
		return nil, ErrNotFound
	}
	if !s.isMember(e.ProjectID, userID) {
		return nil, ErrNotMember
	}
	assignee := userID
	e.AssigneeID = &assignee
	e.UpdatedAt = s.now()
	return copyException(e), nil
}

func (s *MemoryStore) UnassignException(_ context.Context, exceptionID uuid.UUID) (*models.Exception, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.exceptions[exceptionID]
	if !ok {
		return nil, ErrNotFound
	}
	if e.AssigneeID != nil {
		e.AssigneeID = nil
		e.UpdatedAt = s.now()
	}
	return copyException(e), nil
}

func copyException(e *models.Exception) *models.Exception {
	out := *e
	if e.AssigneeID != nil {
		id := *e.AssigneeID
		out.AssigneeID = &id
	}
	return &out
}

// --- Instances ---

func (s *MemoryStore) GetInstance(_ context.Context, id uuid.UUID) (*models.Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.instances[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *i
	out.Metadata = maps.Clone(i.Metadata)
	return &out, nil
}

func (s *MemoryStore) ListInstances(_ context.Context, filter InstanceFilter) ([]*models.Instance, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := []*models.Instance{}
	for _, id := range s.instOrder {
		i := s.instances[id]
		if filter.ExceptionID != uuid.Nil && i.ExceptionID != filter.ExceptionID {
			continue
		}
		out := *i
		out.Metadata = maps.Clone(i.Metadata)
		all = append(all, &out)
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].OccurredAt.After(all[j].OccurredAt)
	})
	return paginate(all, filter.Page), len(all), nil
}

func paginate[T any](items []T, page Page) []T {
	limit, offset := page.Normalize()
	if offset >= len(items) {
		return []T{}
	}
	end := min(offset+limit, len(items))
	return items[offset:end]
}
