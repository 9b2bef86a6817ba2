package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/errorhub/pkg/models"
)

// Pool is the subset of *pgxpool.Pool used by PostgresStore. pgxmock pools
// satisfy it as well.
type Pool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
}

var _ Pool = (*pgxpool.Pool)(nil)

// querier is satisfied by both Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool Pool
	now  func() time.Time
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool, now: func() time.Time { return time.Now().UTC() }}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Users ---

const userColumns = `id, first_name, last_name, email, password_hash, created_at, updated_at`

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.FirstName, &u.LastName, &u.Email, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, user *models.User) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		user.ID, user.FirstName, user.LastName, user.Email, user.PasswordHash, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) ListUsers(ctx context.Context, page Page) ([]*models.User, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}

	limit, offset := page.Normalize()
	rows, err := s.pool.Query(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY created_at, id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := []*models.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, total, rows.Err()
}

func (s *PostgresStore) UpdateUser(ctx context.Context, user *models.User) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET first_name = $2, last_name = $3, email = $4, password_hash = $5, updated_at = $6
		 WHERE id = $1`,
		user.ID, user.FirstName, user.LastName, user.Email, user.PasswordHash, user.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Projects ---

const projectColumns = `id, name, created_at, updated_at`

func (s *PostgresStore) CreateProject(ctx context.Context, project *models.Project) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create project: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO projects (`+projectColumns+`) VALUES ($1, $2, $3, $4)`,
		project.ID, project.Name, project.CreatedAt, project.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create project: %w", err)
	}

	// One statement per member so seq follows slice order.
	for _, userID := range project.Members {
		_, err := tx.Exec(ctx,
			`INSERT INTO project_members (project_id, user_id, created_at) VALUES ($1, $2, $3)
			 ON CONFLICT DO NOTHING`,
			project.ID, userID, project.CreatedAt)
		if err != nil {
			if isForeignKeyError(err) {
				return ErrNotFound
			}
			return fmt.Errorf("add project member: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit create project: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetProject(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	var p models.Project
	err := s.pool.QueryRow(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}

	projects := []*models.Project{&p}
	if err := loadMembers(ctx, s.pool, projects); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStore) ListProjects(ctx context.Context, page Page) ([]*models.Project, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM projects`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count projects: %w", err)
	}

	limit, offset := page.Normalize()
	projects, err := queryProjects(ctx, s.pool,
		`SELECT `+projectColumns+` FROM projects ORDER BY created_at, id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list projects: %w", err)
	}
	if err := loadMembers(ctx, s.pool, projects); err != nil {
		return nil, 0, err
	}
	return projects, total, nil
}

func (s *PostgresStore) UpdateProject(ctx context.Context, project *models.Project) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE projects SET name = $2, updated_at = $3 WHERE id = $1`,
		project.ID, project.Name, project.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) AddProjectMember(ctx context.Context, projectID, userID uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO project_members (project_id, user_id, created_at) VALUES ($1, $2, $3)
		 ON CONFLICT DO NOTHING`,
		projectID, userID, s.now())
	if err != nil {
		if isForeignKeyError(err) {
			return false, ErrNotFound
		}
		return false, fmt.Errorf("add project member: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) RemoveProjectMember(ctx context.Context, projectID, userID uuid.UUID, clearAssignments bool) (MemberRemoval, error) {
	var result MemberRemoval

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return result, fmt.Errorf("begin remove project member: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// The DELETE holds the membership row lock; AssignException takes a share
	// lock on the same row, so the two serialize.
	tag, err := tx.Exec(ctx,
		`DELETE FROM project_members WHERE project_id = $1 AND user_id = $2`, projectID, userID)
	if err != nil {
		return result, classify("remove project member", err)
	}
	result.Removed = tag.RowsAffected() == 1

	if result.Removed && clearAssignments {
		rows, err := tx.Query(ctx,
			`UPDATE exceptions SET assignee_id = NULL, updated_at = $3
			 WHERE project_id = $1 AND assignee_id = $2
			 RETURNING id`,
			projectID, userID, s.now())
		if err != nil {
			return result, classify("clear assignments", err)
		}
		ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
		if err != nil {
			return result, classify("clear assignments", err)
		}
		result.ClearedExceptions = ids
	}

	if err := tx.Commit(ctx); err != nil {
		return MemberRemoval{}, classify("commit remove project member", err)
	}
	return result, nil
}

func (s *PostgresStore) IsProjectMember(ctx context.Context, projectID, userID uuid.UUID) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM project_members WHERE project_id = $1 AND user_id = $2)`,
		projectID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check project member: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) ListProjectsByMember(ctx context.Context, userID uuid.UUID) ([]*models.Project, error) {
	projects, err := queryProjects(ctx, s.pool,
		`SELECT p.id, p.name, p.created_at, p.updated_at
		 FROM project_members m JOIN projects p ON p.id = m.project_id
		 WHERE m.user_id = $1
		 ORDER BY m.seq`, userID)
	if err != nil {
		return nil, fmt.Errorf("list projects by member: %w", err)
	}
	if err := loadMembers(ctx, s.pool, projects); err != nil {
		return nil, err
	}
	return projects, nil
}

func queryProjects(ctx context.Context, q querier, sql string, args ...any) ([]*models.Project, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	projects := []*models.Project{}
	for rows.Next() {
		var p models.Project
		if err := rows.Scan(&p.ID, &p.Name, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		p.Members = []uuid.UUID{}
		projects = append(projects, &p)
	}
	return projects, rows.Err()
}

// loadMembers fills Members on each project, ordered by membership sequence.
func loadMembers(ctx context.Context, q querier, projects []*models.Project) error {
	if len(projects) == 0 {
		return nil
	}
	byID := make(map[uuid.UUID]*models.Project, len(projects))
	ids := make([]uuid.UUID, 0, len(projects))
	for _, p := range projects {
		p.Members = []uuid.UUID{}
		byID[p.ID] = p
		ids = append(ids, p.ID)
	}

	rows, err := q.Query(ctx,
		`SELECT project_id, user_id FROM project_members WHERE project_id = ANY($1) ORDER BY seq`, ids)
	if err != nil {
		return fmt.Errorf("load project members: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var projectID, userID uuid.UUID
		if err := rows.Scan(&projectID, &userID); err != nil {
			return fmt.Errorf("scan project member: %w", err)
		}
		if p, ok := byID[projectID]; ok {
			p.Members = append(p.Members, userID)
		}
	}
	return rows.Err()
}

// --- Exceptions ---

const exceptionColumns = `id, project_id, signature, error_type, message, location, occurrences,
	first_seen_at, last_seen_at, assignee_id, created_at, updated_at`

func scanException(row pgx.Row, extra ...any) (*models.Exception, error) {
	var e models.Exception
	dest := []any{&e.ID, &e.ProjectID, &e.Signature, &e.ErrorType, &e.Message, &e.Location, &e.Occurrences,
		&e.FirstSeenAt, &e.LastSeenAt, &e.AssigneeID, &e.CreatedAt, &e.UpdatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	return &e, nil
}

// first_seen_at is fixed at creation; last_seen_at only moves forward.
const upsertExceptionSQL = `INSERT INTO exceptions (id, project_id, signature, error_type, message, location, occurrences,
	first_seen_at, last_seen_at, created_at, updated_at)
 VALUES ($1, $2, $3, $4, $5, $6, 1, $7, $7, $8, $8)
 ON CONFLICT (project_id, signature) DO UPDATE SET
   occurrences = exceptions.occurrences + 1,
   last_seen_at = GREATEST(exceptions.last_seen_at, EXCLUDED.last_seen_at),
   updated_at = EXCLUDED.updated_at
 RETURNING ` + exceptionColumns + `, (xmax = 0) AS inserted`

const insertInstanceSQL = `INSERT INTO instances (id, exception_id, occurred_at, message, stack, metadata, created_at)
 VALUES ($1, $2, $3, $4, $5, $6, $7)`

func (s *PostgresStore) RecordOccurrence(ctx context.Context, exc *models.Exception, inst *models.Instance) (*models.Exception, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("begin record occurrence: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var inserted bool
	result, err := scanException(tx.QueryRow(ctx, upsertExceptionSQL,
		exc.ID, exc.ProjectID, exc.Signature, exc.ErrorType, exc.Message, exc.Location,
		exc.FirstSeenAt, exc.CreatedAt,
	), &inserted)
	if err != nil {
		return nil, false, classify("upsert exception", err)
	}

	metadata := inst.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	inst.ExceptionID = result.ID
	_, err = tx.Exec(ctx, insertInstanceSQL,
		inst.ID, inst.ExceptionID, inst.OccurredAt, inst.Message, inst.Stack, metadata, inst.CreatedAt)
	if err != nil {
		return nil, false, classify("insert instance", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, classify("commit record occurrence", err)
	}
	return result, inserted, nil
}

func (s *PostgresStore) GetException(ctx context.Context, id uuid.UUID) (*models.Exception, error) {
	e, err := scanException(s.pool.QueryRow(ctx, `SELECT `+exceptionColumns+` FROM exceptions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get exception: %w", err)
	}
	return e, nil
}

func (s *PostgresStore) ListExceptions(ctx context.Context, filter ExceptionFilter) ([]*models.Exception, int, error) {
	// Build WHERE clause dynamically
	conditions := []string{"TRUE"}
	args := []any{}
	argIdx := 1

	if filter.ProjectID != uuid.Nil {
		conditions = append(conditions, fmt.Sprintf("project_id = $%d", argIdx))
		args = append(args, filter.ProjectID)
		argIdx++
	}
	if filter.AssigneeID != uuid.Nil {
		conditions = append(conditions, fmt.Sprintf("assignee_id = $%d", argIdx))
		args = append(args, filter.AssigneeID)
		argIdx++
	}
	where := strings.Join(conditions, " AND ")

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM exceptions WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count exceptions: %w", err)
	}

	limit, offset := filter.Normalize()
	dataQuery := fmt.Sprintf(
		`SELECT %s FROM exceptions WHERE %s ORDER BY last_seen_at DESC, id LIMIT $%d OFFSET $%d`,
		exceptionColumns, where, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list exceptions: %w", err)
	}
	defer rows.Close()

	exceptions := []*models.Exception{}
	for rows.Next() {
		e, err := scanException(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan exception: %w", err)
		}
		exceptions = append(exceptions, e)
	}
	return exceptions, total, rows.Err()
}

func (s *PostgresStore) AssignException(ctx context.Context, exceptionID, userID uuid.UUID) (*models.Exception, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin assign exception: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var projectID uuid.UUID
	err = tx.QueryRow(ctx, `SELECT project_id FROM exceptions WHERE id = $1`, exceptionID).Scan(&projectID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, classify("get exception project", err)
	}

	// Membership row first, exception row second: same lock order as RemoveProjectMember.
	var one int
	err = tx.QueryRow(ctx,
		`SELECT 1 FROM project_members WHERE project_id = $1 AND user_id = $2 FOR SHARE`,
		projectID, userID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotMember
	}
	if err != nil {
		return nil, classify("lock project member", err)
	}

	e, err := scanException(tx.QueryRow(ctx,
		`UPDATE exceptions SET assignee_id = $2, updated_at = $3 WHERE id = $1 RETURNING `+exceptionColumns,
		exceptionID, userID, s.now()))
	if err != nil {
		return nil, classify("assign exception", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, classify("commit assign exception", err)
	}
	return e, nil
}

func (s *PostgresStore) UnassignException(ctx context.Context, exceptionID uuid.UUID) (*models.Exception, error) {
	e, err := scanException(s.pool.QueryRow(ctx,
		`UPDATE exceptions
		 SET assignee_id = NULL,
		     updated_at = CASE WHEN assignee_id IS NULL THEN updated_at ELSE $2 END
		 WHERE id = $1
		 RETURNING `+exceptionColumns,
		exceptionID, s.now()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, classify("unassign exception", err)
	}
	return e, nil
}

// --- Instances ---

const instanceColumns = `id, exception_id, occurred_at, message, stack, metadata, created_at`

func scanInstance(row pgx.Row) (*models.Instance, error) {
	var i models.Instance
	if err := row.Scan(&i.ID, &i.ExceptionID, &i.OccurredAt, &i.Message, &i.Stack, &i.Metadata, &i.CreatedAt); err != nil {
		return nil, err
	}
	return &i, nil
}

func (s *PostgresStore) GetInstance(ctx context.Context, id uuid.UUID) (*models.Instance, error) {
	i, err := scanInstance(s.pool.QueryRow(ctx, `SELECT `+instanceColumns+` FROM instances WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get instance: %w", err)
	}
	return i, nil
}

func (s *PostgresStore) ListInstances(ctx context.Context, filter InstanceFilter) ([]*models.Instance, int, error) {
	where := "TRUE"
	args := []any{}
	argIdx := 1
	if filter.ExceptionID != uuid.Nil {
		where = "exception_id = $1"
		args = append(args, filter.ExceptionID)
		argIdx++
	}

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM instances WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count instances: %w", err)
	}

	limit, offset := filter.Normalize()
	dataQuery := fmt.Sprintf(
		`SELECT %s FROM instances WHERE %s ORDER BY occurred_at DESC, id LIMIT $%d OFFSET $%d`,
		instanceColumns, where, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list instances: %w", err)
	}
	defer rows.Close()

	instances := []*models.Instance{}
	for rows.Next() {
		i, err := scanInstance(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan instance: %w", err)
		}
		instances = append(instances, i)
	}
	return instances, total, rows.Err()
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	return pgErrorCode(err) == "23505" // unique_violation
}

func isForeignKeyError(err error) bool {
	return pgErrorCode(err) == "23503" // foreign_key_violation
}

func pgErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// classify maps lock and integrity failures to store sentinels.
func classify(op string, err error) error {
	switch pgErrorCode(err) {
	case "40001", "40P01": // serialization_failure, deadlock_detected
		return fmt.Errorf("%s: %w: %v", op, ErrConflict, err)
	case "23505":
		return fmt.Errorf("%s: %w: %v", op, ErrConflict, err)
	case "23503":
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}
