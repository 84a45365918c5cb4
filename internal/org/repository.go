package org

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/trackline/platform/internal/authz"
	"github.com/trackline/platform/internal/shared/errors"
	"github.com/trackline/platform/internal/shared/types"
)

// Repository provides database operations for areas, categories, units,
// users and memberships. It is the concrete membership store behind the
// permission resolver and role promoter.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new org repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ authz.MembershipStore = (*Repository)(nil)

// --- Area operations ---

// CreateArea creates a new area
func (r *Repository) CreateArea(ctx context.Context, area *Area) error {
	query := `
		INSERT INTO org.areas (id, name, description)
		VALUES ($1, $2, $3)`

	_, err := r.pool.Exec(ctx, query, area.ID, area.Name, area.Description)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return errors.Conflict("area with this name already exists")
		}
		return errors.Wrap(err, "failed to create area")
	}

	return nil
}

// GetArea retrieves an area by ID
func (r *Repository) GetArea(ctx context.Context, id types.ID) (*Area, error) {
	query := `
		SELECT id, name, description, created_at, updated_at
		FROM org.areas
		WHERE id = $1`

	area := &Area{}
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&area.ID, &area.Name, &area.Description, &area.CreatedAt, &area.UpdatedAt,
	)

	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("area", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get area")
	}

	return area, nil
}

// UpdateArea updates an area
func (r *Repository) UpdateArea(ctx context.Context, area *Area) error {
	query := `
		UPDATE org.areas SET name = $2, description = $3
		WHERE id = $1`

	result, err := r.pool.Exec(ctx, query, area.ID, area.Name, area.Description)
	if err != nil {
		return errors.Wrap(err, "failed to update area")
	}

	if result.RowsAffected() == 0 {
		return errors.NotFound("area", area.ID.String())
	}

	return nil
}

// DeleteArea deletes an area
func (r *Repository) DeleteArea(ctx context.Context, id types.ID) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM org.areas WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "failed to delete area")
	}

	if result.RowsAffected() == 0 {
		return errors.NotFound("area", id.String())
	}

	return nil
}

// ListAreas lists all areas
func (r *Repository) ListAreas(ctx context.Context) ([]Area, error) {
	query := `
		SELECT id, name, description, created_at, updated_at
		FROM org.areas
		ORDER BY name`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list areas")
	}
	defer rows.Close()

	var areas []Area
	for rows.Next() {
		var area Area
		if err := rows.Scan(&area.ID, &area.Name, &area.Description, &area.CreatedAt, &area.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan area")
		}
		areas = append(areas, area)
	}

	return areas, nil
}

// --- Category operations ---

// CreateCategory creates a new category under an area
func (r *Repository) CreateCategory(ctx context.Context, category *Category) error {
	query := `
		INSERT INTO org.categories (id, area_id, name)
		VALUES ($1, $2, $3)`

	_, err := r.pool.Exec(ctx, query, category.ID, category.AreaID, category.Name)
	if err != nil {
		if strings.Contains(err.Error(), "foreign key") {
			return errors.NotFound("area", category.AreaID.String())
		}
		return errors.Wrap(err, "failed to create category")
	}

	return nil
}

// GetCategory retrieves a category by ID
func (r *Repository) GetCategory(ctx context.Context, id types.ID) (*Category, error) {
	query := `
		SELECT id, area_id, name, created_at, updated_at
		FROM org.categories
		WHERE id = $1`

	category := &Category{}
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&category.ID, &category.AreaID, &category.Name, &category.CreatedAt, &category.UpdatedAt,
	)

	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("category", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get category")
	}

	return category, nil
}

// ListCategories lists the categories of an area
func (r *Repository) ListCategories(ctx context.Context, areaID types.ID) ([]Category, error) {
	query := `
		SELECT id, area_id, name, created_at, updated_at
		FROM org.categories
		WHERE area_id = $1
		ORDER BY name`

	rows, err := r.pool.Query(ctx, query, areaID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list categories")
	}
	defer rows.Close()

	var categories []Category
	for rows.Next() {
		var category Category
		if err := rows.Scan(&category.ID, &category.AreaID, &category.Name, &category.CreatedAt, &category.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan category")
		}
		categories = append(categories, category)
	}

	return categories, nil
}

// --- Unit operations ---

// CreateUnit creates a new unit
func (r *Repository) CreateUnit(ctx context.Context, unit *Unit) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO org.units (id, name) VALUES ($1, $2)`, unit.ID, unit.Name)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return errors.Conflict("unit with this name already exists")
		}
		return errors.Wrap(err, "failed to create unit")
	}

	return nil
}

// GetUnit retrieves a unit by ID
func (r *Repository) GetUnit(ctx context.Context, id types.ID) (*Unit, error) {
	query := `
		SELECT id, name, created_at, updated_at
		FROM org.units
		WHERE id = $1`

	unit := &Unit{}
	err := r.pool.QueryRow(ctx, query, id).Scan(&unit.ID, &unit.Name, &unit.CreatedAt, &unit.UpdatedAt)

	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("unit", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get unit")
	}

	return unit, nil
}

// DeleteUnit deletes a unit
func (r *Repository) DeleteUnit(ctx context.Context, id types.ID) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM org.units WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "failed to delete unit")
	}

	if result.RowsAffected() == 0 {
		return errors.NotFound("unit", id.String())
	}

	return nil
}

// ListUnits lists all units
func (r *Repository) ListUnits(ctx context.Context) ([]Unit, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, created_at, updated_at FROM org.units ORDER BY name`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list units")
	}
	defer rows.Close()

	var units []Unit
	for rows.Next() {
		var unit Unit
		if err := rows.Scan(&unit.ID, &unit.Name, &unit.CreatedAt, &unit.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan unit")
		}
		units = append(units, unit)
	}

	return units, nil
}

// --- User operations ---

// CreateUser creates a new user with the base role label
func (r *Repository) CreateUser(ctx context.Context, user *User) error {
	query := `
		INSERT INTO org.users (id, email, display_name, system_role)
		VALUES ($1, $2, $3, $4)`

	_, err := r.pool.Exec(ctx, query, user.ID, user.Email, user.DisplayName, user.SystemRole)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return errors.Conflict("user with this email already exists")
		}
		return errors.Wrap(err, "failed to create user")
	}

	return nil
}

// GetUser retrieves a user by ID
func (r *Repository) GetUser(ctx context.Context, id types.ID) (*User, error) {
	query := `
		SELECT id, email, display_name, system_role, created_at, updated_at
		FROM org.users
		WHERE id = $1`

	user := &User{}
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&user.ID, &user.Email, &user.DisplayName, &user.SystemRole, &user.CreatedAt, &user.UpdatedAt,
	)

	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("user", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get user")
	}

	return user, nil
}

// ListUsers lists users with optional search
func (r *Repository) ListUsers(ctx context.Context, search string, limit, offset int) ([]User, int, error) {
	var conditions []string
	var args []interface{}
	argNum := 1

	if search != "" {
		conditions = append(conditions, fmt.Sprintf("(email ILIKE $%d OR display_name ILIKE $%d)", argNum, argNum))
		args = append(args, "%"+search+"%")
		argNum++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM org.users %s", whereClause)
	var total int
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "failed to count users")
	}

	if limit <= 0 || limit > 100 {
		limit = 50
	}

	query := fmt.Sprintf(`
		SELECT id, email, display_name, system_role, created_at, updated_at
		FROM org.users
		%s
		ORDER BY email
		LIMIT $%d OFFSET $%d`, whereClause, argNum, argNum+1)

	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to list users")
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var user User
		err := rows.Scan(&user.ID, &user.Email, &user.DisplayName, &user.SystemRole, &user.CreatedAt, &user.UpdatedAt)
		if err != nil {
			return nil, 0, errors.Wrap(err, "failed to scan user")
		}
		users = append(users, user)
	}

	return users, total, nil
}

// --- Membership operations ---

// CreateMembership grants a membership. The (kind, user, target) triple is
// unique; a duplicate grant is a conflict, detected via ON CONFLICT DO
// NOTHING and the affected row count.
func (r *Repository) CreateMembership(ctx context.Context, m *Membership) error {
	query := `
		INSERT INTO org.memberships (id, kind, user_id, target_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (kind, user_id, target_id) DO NOTHING`

	result, err := r.pool.Exec(ctx, query, m.ID, m.Kind, m.UserID, m.TargetID)
	if err != nil {
		if strings.Contains(err.Error(), "foreign key") {
			return errors.NotFound("user", m.UserID.String())
		}
		return errors.Wrap(err, "failed to create membership")
	}

	if result.RowsAffected() == 0 {
		return errors.Conflict("membership already exists")
	}

	return nil
}

// GetMembership retrieves a membership by ID
func (r *Repository) GetMembership(ctx context.Context, id types.ID) (*Membership, error) {
	query := `
		SELECT id, kind, user_id, target_id, created_at
		FROM org.memberships
		WHERE id = $1`

	m := &Membership{}
	err := r.pool.QueryRow(ctx, query, id).Scan(&m.ID, &m.Kind, &m.UserID, &m.TargetID, &m.CreatedAt)

	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("membership", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get membership")
	}

	return m, nil
}

// DeleteMembership revokes a membership by ID
func (r *Repository) DeleteMembership(ctx context.Context, id types.ID) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM org.memberships WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "failed to delete membership")
	}

	if result.RowsAffected() == 0 {
		return errors.NotFound("membership", id.String())
	}

	return nil
}

// ListMemberships lists memberships with optional filters
func (r *Repository) ListMemberships(ctx context.Context, filter ListMembershipsFilter) ([]Membership, int, error) {
	var conditions []string
	var args []interface{}
	argNum := 1

	if filter.Kind != nil {
		conditions = append(conditions, fmt.Sprintf("kind = $%d", argNum))
		args = append(args, *filter.Kind)
		argNum++
	}

	if filter.UserID != nil {
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", argNum))
		args = append(args, *filter.UserID)
		argNum++
	}

	if filter.TargetID != nil {
		conditions = append(conditions, fmt.Sprintf("target_id = $%d", argNum))
		args = append(args, *filter.TargetID)
		argNum++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM org.memberships %s", whereClause)
	var total int
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "failed to count memberships")
	}

	limit := 50
	if filter.Limit > 0 && filter.Limit <= 100 {
		limit = filter.Limit
	}

	query := fmt.Sprintf(`
		SELECT id, kind, user_id, target_id, created_at
		FROM org.memberships
		%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`, whereClause, argNum, argNum+1)

	args = append(args, limit, filter.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to list memberships")
	}
	defer rows.Close()

	var memberships []Membership
	for rows.Next() {
		var m Membership
		if err := rows.Scan(&m.ID, &m.Kind, &m.UserID, &m.TargetID, &m.CreatedAt); err != nil {
			return nil, 0, errors.Wrap(err, "failed to scan membership")
		}
		memberships = append(memberships, m)
	}

	return memberships, total, nil
}

// --- Membership store surface (permission resolver and role promoter) ---

// GetSystemRole returns the user's stored role label
func (r *Repository) GetSystemRole(ctx context.Context, userID types.ID) (authz.RoleLabel, error) {
	var label authz.RoleLabel
	err := r.pool.QueryRow(ctx, `SELECT system_role FROM org.users WHERE id = $1`, userID).Scan(&label)

	if err == pgx.ErrNoRows {
		return "", errors.NotFound("user", userID.String())
	}
	if err != nil {
		return "", errors.Wrap(err, "failed to get system role")
	}

	return label, nil
}

// SetSystemRole persists a new role label for the user
func (r *Repository) SetSystemRole(ctx context.Context, userID types.ID, label authz.RoleLabel) error {
	result, err := r.pool.Exec(ctx, `UPDATE org.users SET system_role = $2 WHERE id = $1`, userID, label)
	if err != nil {
		return errors.Wrap(err, "failed to set system role")
	}

	if result.RowsAffected() == 0 {
		return errors.NotFound("user", userID.String())
	}

	return nil
}

// ListAreaAdmin returns the area ids the user administers
func (r *Repository) ListAreaAdmin(ctx context.Context, userID types.ID) ([]types.ID, error) {
	return r.listTargets(ctx, MembershipAreaAdmin, userID)
}

// ListAreaMember returns the area ids the user is a plain member of
func (r *Repository) ListAreaMember(ctx context.Context, userID types.ID) ([]types.ID, error) {
	return r.listTargets(ctx, MembershipAreaMember, userID)
}

// ListUnitMember returns the unit ids the user is a member of
func (r *Repository) ListUnitMember(ctx context.Context, userID types.ID) ([]types.ID, error) {
	return r.listTargets(ctx, MembershipUnitMember, userID)
}

// IsProjectMember reports a direct project membership
func (r *Repository) IsProjectMember(ctx context.Context, userID, projectID types.ID) (bool, error) {
	return r.hasMembership(ctx, MembershipProjectMember, userID, projectID)
}

// IsTaskMember reports a direct task membership
func (r *Repository) IsTaskMember(ctx context.Context, userID, taskID types.ID) (bool, error) {
	return r.hasMembership(ctx, MembershipTaskMember, userID, taskID)
}

func (r *Repository) listTargets(ctx context.Context, kind MembershipKind, userID types.ID) ([]types.ID, error) {
	query := `
		SELECT target_id FROM org.memberships
		WHERE kind = $1 AND user_id = $2`

	rows, err := r.pool.Query(ctx, query, kind, userID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list memberships")
	}
	defer rows.Close()

	var ids []types.ID
	for rows.Next() {
		var id types.ID
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "failed to scan membership target")
		}
		ids = append(ids, id)
	}

	return ids, nil
}

func (r *Repository) hasMembership(ctx context.Context, kind MembershipKind, userID, targetID types.ID) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM org.memberships
			WHERE kind = $1 AND user_id = $2 AND target_id = $3
		)`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, kind, userID, targetID).Scan(&exists); err != nil {
		return false, errors.Wrap(err, "failed to check membership")
	}

	return exists, nil
}
