package project

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/trackline/platform/internal/authz"
	"github.com/trackline/platform/internal/lifecycle"
	"github.com/trackline/platform/internal/shared/errors"
	"github.com/trackline/platform/internal/shared/types"
)

// Repository provides database operations for the project tree. It is also
// the concrete entity store behind the lifecycle cascader and the chain
// resolver behind permission checks.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new project repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ authz.AreaResolver = (*Repository)(nil)
var _ lifecycle.Runner = (*Repository)(nil)

// --- Project operations ---

// CreateProject creates a new project
func (r *Repository) CreateProject(ctx context.Context, project *Project) error {
	query := `
		INSERT INTO project.projects (id, category_id, unit_id, name, status)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := r.pool.Exec(ctx, query,
		project.ID, project.CategoryID, project.UnitID, project.Name, project.Status,
	)
	if err != nil {
		if strings.Contains(err.Error(), "foreign key") {
			return errors.BadRequest("category or unit does not exist")
		}
		return errors.Wrap(err, "failed to create project")
	}

	return nil
}

// GetProject retrieves a project by ID
func (r *Repository) GetProject(ctx context.Context, id types.ID) (*Project, error) {
	query := `
		SELECT id, category_id, unit_id, name, status,
			archived_at, archived_by, created_at, updated_at
		FROM project.projects
		WHERE id = $1`

	project := &Project{}
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&project.ID, &project.CategoryID, &project.UnitID, &project.Name, &project.Status,
		&project.ArchivedAt, &project.ArchivedBy, &project.CreatedAt, &project.UpdatedAt,
	)

	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("project", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get project")
	}

	return project, nil
}

// UpdateProject updates a project's mutable fields
func (r *Repository) UpdateProject(ctx context.Context, project *Project) error {
	query := `
		UPDATE project.projects SET
			category_id = $2, unit_id = $3, name = $4, status = $5
		WHERE id = $1`

	result, err := r.pool.Exec(ctx, query,
		project.ID, project.CategoryID, project.UnitID, project.Name, project.Status,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update project")
	}

	if result.RowsAffected() == 0 {
		return errors.NotFound("project", project.ID.String())
	}

	return nil
}

// ListProjects lists projects with optional filters. Archived projects are
// excluded unless the filter asks for them.
func (r *Repository) ListProjects(ctx context.Context, filter ListProjectsFilter) ([]Project, int, error) {
	var conditions []string
	var args []interface{}
	argNum := 1

	if !filter.IncludeArchived {
		conditions = append(conditions, "archived_at IS NULL")
	}

	if filter.CategoryID != nil {
		conditions = append(conditions, fmt.Sprintf("category_id = $%d", argNum))
		args = append(args, *filter.CategoryID)
		argNum++
	}

	if filter.UnitID != nil {
		conditions = append(conditions, fmt.Sprintf("unit_id = $%d", argNum))
		args = append(args, *filter.UnitID)
		argNum++
	}

	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argNum))
		args = append(args, *filter.Status)
		argNum++
	}

	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("name ILIKE $%d", argNum))
		args = append(args, "%"+filter.Search+"%")
		argNum++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM project.projects %s", whereClause)
	var total int
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "failed to count projects")
	}

	limit := 50
	if filter.Limit > 0 && filter.Limit <= 100 {
		limit = filter.Limit
	}

	query := fmt.Sprintf(`
		SELECT id, category_id, unit_id, name, status,
			archived_at, archived_by, created_at, updated_at
		FROM project.projects
		%s
		ORDER BY name
		LIMIT $%d OFFSET $%d`, whereClause, argNum, argNum+1)

	args = append(args, limit, filter.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to list projects")
	}
	defer rows.Close()

	var projects []Project
	for rows.Next() {
		var project Project
		err := rows.Scan(
			&project.ID, &project.CategoryID, &project.UnitID, &project.Name, &project.Status,
			&project.ArchivedAt, &project.ArchivedBy, &project.CreatedAt, &project.UpdatedAt,
		)
		if err != nil {
			return nil, 0, errors.Wrap(err, "failed to scan project")
		}
		projects = append(projects, project)
	}

	return projects, total, nil
}

// --- Process operations ---

// CreateProcess creates a new process under a project
func (r *Repository) CreateProcess(ctx context.Context, process *Process) error {
	query := `
		INSERT INTO project.processes (id, project_id, name)
		VALUES ($1, $2, $3)`

	_, err := r.pool.Exec(ctx, query, process.ID, process.ProjectID, process.Name)
	if err != nil {
		if strings.Contains(err.Error(), "foreign key") {
			return errors.NotFound("project", process.ProjectID.String())
		}
		return errors.Wrap(err, "failed to create process")
	}

	return nil
}

// GetProcess retrieves a process by ID
func (r *Repository) GetProcess(ctx context.Context, id types.ID) (*Process, error) {
	query := `
		SELECT id, project_id, name, archived_at, archived_by, created_at, updated_at
		FROM project.processes
		WHERE id = $1`

	process := &Process{}
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&process.ID, &process.ProjectID, &process.Name,
		&process.ArchivedAt, &process.ArchivedBy, &process.CreatedAt, &process.UpdatedAt,
	)

	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("process", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get process")
	}

	return process, nil
}

// ListProcesses lists the processes of a project
func (r *Repository) ListProcesses(ctx context.Context, projectID types.ID, includeArchived bool) ([]Process, error) {
	query := `
		SELECT id, project_id, name, archived_at, archived_by, created_at, updated_at
		FROM project.processes
		WHERE project_id = $1`
	if !includeArchived {
		query += ` AND archived_at IS NULL`
	}
	query += ` ORDER BY created_at`

	rows, err := r.pool.Query(ctx, query, projectID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list processes")
	}
	defer rows.Close()

	var processes []Process
	for rows.Next() {
		var process Process
		err := rows.Scan(
			&process.ID, &process.ProjectID, &process.Name,
			&process.ArchivedAt, &process.ArchivedBy, &process.CreatedAt, &process.UpdatedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan process")
		}
		processes = append(processes, process)
	}

	return processes, nil
}

// --- Task operations ---

// CreateTask creates a new task under a process
func (r *Repository) CreateTask(ctx context.Context, task *Task) error {
	query := `
		INSERT INTO project.tasks (id, process_id, title, status)
		VALUES ($1, $2, $3, $4)`

	_, err := r.pool.Exec(ctx, query, task.ID, task.ProcessID, task.Title, task.Status)
	if err != nil {
		if strings.Contains(err.Error(), "foreign key") {
			return errors.NotFound("process", task.ProcessID.String())
		}
		return errors.Wrap(err, "failed to create task")
	}

	return nil
}

// GetTask retrieves a task by ID
func (r *Repository) GetTask(ctx context.Context, id types.ID) (*Task, error) {
	query := `
		SELECT id, process_id, title, status, archived_at, archived_by, created_at, updated_at
		FROM project.tasks
		WHERE id = $1`

	task := &Task{}
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&task.ID, &task.ProcessID, &task.Title, &task.Status,
		&task.ArchivedAt, &task.ArchivedBy, &task.CreatedAt, &task.UpdatedAt,
	)

	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("task", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get task")
	}

	return task, nil
}

// UpdateTask updates a task's mutable fields
func (r *Repository) UpdateTask(ctx context.Context, task *Task) error {
	query := `
		UPDATE project.tasks SET title = $2, status = $3
		WHERE id = $1`

	result, err := r.pool.Exec(ctx, query, task.ID, task.Title, task.Status)
	if err != nil {
		return errors.Wrap(err, "failed to update task")
	}

	if result.RowsAffected() == 0 {
		return errors.NotFound("task", task.ID.String())
	}

	return nil
}

// ListTasks lists the tasks of a process
func (r *Repository) ListTasks(ctx context.Context, processID types.ID, includeArchived bool) ([]Task, error) {
	query := `
		SELECT id, process_id, title, status, archived_at, archived_by, created_at, updated_at
		FROM project.tasks
		WHERE process_id = $1`
	if !includeArchived {
		query += ` AND archived_at IS NULL`
	}
	query += ` ORDER BY created_at`

	rows, err := r.pool.Query(ctx, query, processID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list tasks")
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		var task Task
		err := rows.Scan(
			&task.ID, &task.ProcessID, &task.Title, &task.Status,
			&task.ArchivedAt, &task.ArchivedBy, &task.CreatedAt, &task.UpdatedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan task")
		}
		tasks = append(tasks, task)
	}

	return tasks, nil
}

// --- Evidence operations ---

// CreateEvidence attaches evidence to a task
func (r *Repository) CreateEvidence(ctx context.Context, evidence *Evidence) error {
	query := `
		INSERT INTO project.evidences (id, task_id, name, file_url)
		VALUES ($1, $2, $3, $4)`

	_, err := r.pool.Exec(ctx, query, evidence.ID, evidence.TaskID, evidence.Name, evidence.FileURL)
	if err != nil {
		if strings.Contains(err.Error(), "foreign key") {
			return errors.NotFound("task", evidence.TaskID.String())
		}
		return errors.Wrap(err, "failed to create evidence")
	}

	return nil
}

// ListEvidences lists the evidence rows of a task
func (r *Repository) ListEvidences(ctx context.Context, taskID types.ID, includeArchived bool) ([]Evidence, error) {
	query := `
		SELECT id, task_id, name, file_url, archived_at, archived_by, created_at
		FROM project.evidences
		WHERE task_id = $1`
	if !includeArchived {
		query += ` AND archived_at IS NULL`
	}
	query += ` ORDER BY created_at`

	rows, err := r.pool.Query(ctx, query, taskID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list evidences")
	}
	defer rows.Close()

	var evidences []Evidence
	for rows.Next() {
		var evidence Evidence
		err := rows.Scan(
			&evidence.ID, &evidence.TaskID, &evidence.Name, &evidence.FileURL,
			&evidence.ArchivedAt, &evidence.ArchivedBy, &evidence.CreatedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan evidence")
		}
		evidences = append(evidences, evidence)
	}

	return evidences, nil
}

// --- Chain resolution (permission checks) ---

// ResolveChain walks the ownership chain of a resource up to its owning
// area in a single query per kind. NotFound only when the resource itself is
// missing; a broken hop above it leaves the corresponding fields zero so the
// permission check fails closed.
func (r *Repository) ResolveChain(ctx context.Context, kind authz.ResourceKind, id types.ID) (authz.Chain, error) {
	switch kind {
	case authz.KindArea:
		if err := r.checkExists(ctx, `SELECT EXISTS (SELECT 1 FROM org.areas WHERE id = $1)`, id, "area"); err != nil {
			return authz.Chain{}, err
		}
		return authz.Chain{AreaID: id}, nil

	case authz.KindUnit:
		if err := r.checkExists(ctx, `SELECT EXISTS (SELECT 1 FROM org.units WHERE id = $1)`, id, "unit"); err != nil {
			return authz.Chain{}, err
		}
		return authz.Chain{UnitID: id}, nil

	case authz.KindProject:
		return r.scanChain(ctx, `
			SELECT p.id, c.area_id, p.unit_id
			FROM project.projects p
			LEFT JOIN org.categories c ON c.id = p.category_id
			WHERE p.id = $1`, id, "project")

	case authz.KindProcess:
		return r.scanChain(ctx, `
			SELECT p.id, c.area_id, p.unit_id
			FROM project.processes pr
			JOIN project.projects p ON p.id = pr.project_id
			LEFT JOIN org.categories c ON c.id = p.category_id
			WHERE pr.id = $1`, id, "process")

	case authz.KindTask:
		return r.scanChain(ctx, `
			SELECT p.id, c.area_id, p.unit_id
			FROM project.tasks t
			JOIN project.processes pr ON pr.id = t.process_id
			JOIN project.projects p ON p.id = pr.project_id
			LEFT JOIN org.categories c ON c.id = p.category_id
			WHERE t.id = $1`, id, "task")
	}

	return authz.Chain{}, errors.BadRequest("unknown resource kind")
}

func (r *Repository) checkExists(ctx context.Context, query string, id types.ID, resource string) error {
	var exists bool
	if err := r.pool.QueryRow(ctx, query, id).Scan(&exists); err != nil {
		return errors.Wrap(err, "failed to resolve "+resource)
	}
	if !exists {
		return errors.NotFound(resource, id.String())
	}
	return nil
}

func (r *Repository) scanChain(ctx context.Context, query string, id types.ID, resource string) (authz.Chain, error) {
	var projectID types.ID
	var areaID, unitID *types.ID

	err := r.pool.QueryRow(ctx, query, id).Scan(&projectID, &areaID, &unitID)
	if err == pgx.ErrNoRows {
		return authz.Chain{}, errors.NotFound(resource, id.String())
	}
	if err != nil {
		return authz.Chain{}, errors.Wrap(err, "failed to resolve "+resource+" chain")
	}

	chain := authz.Chain{ProjectID: projectID}
	if areaID != nil {
		chain.AreaID = *areaID
	}
	if unitID != nil {
		chain.UnitID = *unitID
	}
	return chain, nil
}

// --- Entity store (lifecycle cascades) ---

// InTx runs fn against an entity store bound to a single transaction. The
// whole archive chain of one request commits or rolls back together.
func (r *Repository) InTx(ctx context.Context, fn func(lifecycle.EntityStore) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback(ctx)

	if err := fn(&txEntityStore{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "failed to commit transaction")
	}

	return nil
}

// txEntityStore implements the lifecycle entity store over one transaction
type txEntityStore struct {
	tx pgx.Tx
}

var _ lifecycle.EntityStore = (*txEntityStore)(nil)

type entityTable struct {
	table      string
	parentCol  string
	childKind  lifecycle.EntityKind
	childTable string
}

var entityTables = map[lifecycle.EntityKind]entityTable{
	lifecycle.EntityProject: {
		table:      "project.projects",
		childKind:  lifecycle.EntityProcess,
		childTable: "project.processes",
	},
	lifecycle.EntityProcess: {
		table:      "project.processes",
		parentCol:  "project_id",
		childKind:  lifecycle.EntityTask,
		childTable: "project.tasks",
	},
	lifecycle.EntityTask: {
		table:      "project.tasks",
		parentCol:  "process_id",
		childKind:  lifecycle.EntityEvidence,
		childTable: "project.evidences",
	},
	lifecycle.EntityEvidence: {
		table:     "project.evidences",
		parentCol: "task_id",
	},
}

// Get loads the archive-relevant state of one entity
func (s *txEntityStore) Get(ctx context.Context, kind lifecycle.EntityKind, id types.ID) (*lifecycle.Entity, error) {
	meta, ok := entityTables[kind]
	if !ok {
		return nil, errors.BadRequest("unknown entity kind")
	}

	parentExpr := "NULL::uuid"
	if meta.parentCol != "" {
		parentExpr = meta.parentCol
	}

	query := fmt.Sprintf(
		`SELECT id, %s, archived_at, archived_by FROM %s WHERE id = $1`,
		parentExpr, meta.table,
	)

	entity := &lifecycle.Entity{Kind: kind}
	var parentID *types.ID
	err := s.tx.QueryRow(ctx, query, id).Scan(
		&entity.ID, &parentID, &entity.ArchivedAt, &entity.ArchivedBy,
	)

	if err == pgx.ErrNoRows {
		return nil, errors.NotFound(string(kind), id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get "+string(kind))
	}

	if parentID != nil {
		entity.ParentID = *parentID
	}
	return entity, nil
}

// ListChildren loads the direct children of a parent entity
func (s *txEntityStore) ListChildren(ctx context.Context, parentKind lifecycle.EntityKind, parentID types.ID) ([]*lifecycle.Entity, error) {
	meta, ok := entityTables[parentKind]
	if !ok || meta.childTable == "" {
		return nil, errors.BadRequest("entity kind has no children")
	}

	childMeta := entityTables[meta.childKind]

	query := fmt.Sprintf(
		`SELECT id, archived_at, archived_by FROM %s WHERE %s = $1 ORDER BY created_at`,
		meta.childTable, childMeta.parentCol,
	)

	rows, err := s.tx.Query(ctx, query, parentID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list children")
	}
	defer rows.Close()

	var children []*lifecycle.Entity
	for rows.Next() {
		child := &lifecycle.Entity{Kind: meta.childKind, ParentID: parentID}
		if err := rows.Scan(&child.ID, &child.ArchivedAt, &child.ArchivedBy); err != nil {
			return nil, errors.Wrap(err, "failed to scan child entity")
		}
		children = append(children, child)
	}

	return children, nil
}

// CountChildren counts children and archived children in one query, against
// live transaction state
func (s *txEntityStore) CountChildren(ctx context.Context, parentKind lifecycle.EntityKind, parentID types.ID) (int, int, error) {
	meta, ok := entityTables[parentKind]
	if !ok || meta.childTable == "" {
		return 0, 0, errors.BadRequest("entity kind has no children")
	}

	childMeta := entityTables[meta.childKind]

	query := fmt.Sprintf(
		`SELECT COUNT(*), COUNT(archived_at) FROM %s WHERE %s = $1`,
		meta.childTable, childMeta.parentCol,
	)

	var total, archived int
	if err := s.tx.QueryRow(ctx, query, parentID).Scan(&total, &archived); err != nil {
		return 0, 0, errors.Wrap(err, "failed to count children")
	}

	return total, archived, nil
}

// SetArchived stamps the archive pair. A nil archivedBy is the cascade
// marker.
func (s *txEntityStore) SetArchived(ctx context.Context, kind lifecycle.EntityKind, id types.ID, archivedAt time.Time, archivedBy *types.ID) error {
	meta, ok := entityTables[kind]
	if !ok {
		return errors.BadRequest("unknown entity kind")
	}

	query := fmt.Sprintf(
		`UPDATE %s SET archived_at = $2, archived_by = $3 WHERE id = $1`,
		meta.table,
	)

	result, err := s.tx.Exec(ctx, query, id, archivedAt, archivedBy)
	if err != nil {
		return errors.Wrap(err, "failed to archive "+string(kind))
	}
	if result.RowsAffected() == 0 {
		return errors.NotFound(string(kind), id.String())
	}

	return nil
}

// ClearArchived clears the archive pair
func (s *txEntityStore) ClearArchived(ctx context.Context, kind lifecycle.EntityKind, id types.ID) error {
	meta, ok := entityTables[kind]
	if !ok {
		return errors.BadRequest("unknown entity kind")
	}

	query := fmt.Sprintf(
		`UPDATE %s SET archived_at = NULL, archived_by = NULL WHERE id = $1`,
		meta.table,
	)

	result, err := s.tx.Exec(ctx, query, id)
	if err != nil {
		return errors.Wrap(err, "failed to unarchive "+string(kind))
	}
	if result.RowsAffected() == 0 {
		return errors.NotFound(string(kind), id.String())
	}

	return nil
}

// LockParent takes a transaction-scoped advisory lock on the parent so
// concurrent sibling archives serialize their count-and-archive checks.
func (s *txEntityStore) LockParent(ctx context.Context, kind lifecycle.EntityKind, id types.ID) error {
	key := string(kind) + ":" + id.String()
	_, err := s.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key)
	if err != nil {
		return errors.Wrap(err, "failed to lock "+string(kind))
	}
	return nil
}
