package authz

import (
	"context"

	"github.com/trackline/platform/internal/shared/errors"
	"github.com/trackline/platform/internal/shared/metrics"
	"github.com/trackline/platform/internal/shared/types"
)

// Authorizer is the resource-typed facade the CRUD layer consumes. It has no
// logic of its own beyond composing the resolver and direct membership
// checks.
type Authorizer struct {
	resolver *Resolver
	members  MembershipStore
}

// NewAuthorizer creates the facade over a resolver and membership store
func NewAuthorizer(resolver *Resolver, members MembershipStore) *Authorizer {
	return &Authorizer{resolver: resolver, members: members}
}

// CanPerformTaskAction checks the action against a task
func (a *Authorizer) CanPerformTaskAction(ctx context.Context, userID, taskID types.ID, action Action) (bool, error) {
	return a.canPerform(ctx, userID, KindTask, taskID, action)
}

// CanPerformProcessAction checks the action against a process
func (a *Authorizer) CanPerformProcessAction(ctx context.Context, userID, processID types.ID, action Action) (bool, error) {
	return a.canPerform(ctx, userID, KindProcess, processID, action)
}

// CanPerformProjectAction checks the action against a project
func (a *Authorizer) CanPerformProjectAction(ctx context.Context, userID, projectID types.ID, action Action) (bool, error) {
	return a.canPerform(ctx, userID, KindProject, projectID, action)
}

// CanPerformAreaAction checks the action against an area
func (a *Authorizer) CanPerformAreaAction(ctx context.Context, userID, areaID types.ID, action Action) (bool, error) {
	return a.canPerform(ctx, userID, KindArea, areaID, action)
}

// CanPerformUnitAction checks the action against a unit
func (a *Authorizer) CanPerformUnitAction(ctx context.Context, userID, unitID types.ID, action Action) (bool, error) {
	return a.canPerform(ctx, userID, KindUnit, unitID, action)
}

func (a *Authorizer) canPerform(ctx context.Context, userID types.ID, kind ResourceKind, resourceID types.ID, action Action) (bool, error) {
	allowed, err := a.resolver.CanPerform(ctx, userID, kind, resourceID, action)
	if err != nil {
		return false, err
	}
	metrics.RecordAuthorizationDecision(string(kind), string(action), allowed)
	return allowed, nil
}

// Require variants return a typed error instead of a boolean so handlers can
// pass it straight to the error writer. A NotFound from the chain walk is
// preserved, never converted into a denial.

// RequireTaskAction fails with Forbidden unless the user may act on the task
func (a *Authorizer) RequireTaskAction(ctx context.Context, userID, taskID types.ID, action Action) error {
	return a.require(ctx, userID, KindTask, taskID, action)
}

// RequireProcessAction fails with Forbidden unless the user may act on the process
func (a *Authorizer) RequireProcessAction(ctx context.Context, userID, processID types.ID, action Action) error {
	return a.require(ctx, userID, KindProcess, processID, action)
}

// RequireProjectAction fails with Forbidden unless the user may act on the project
func (a *Authorizer) RequireProjectAction(ctx context.Context, userID, projectID types.ID, action Action) error {
	return a.require(ctx, userID, KindProject, projectID, action)
}

// RequireAreaAction fails with Forbidden unless the user may act on the area
func (a *Authorizer) RequireAreaAction(ctx context.Context, userID, areaID types.ID, action Action) error {
	return a.require(ctx, userID, KindArea, areaID, action)
}

// RequireUnitAction fails with Forbidden unless the user may act on the unit
func (a *Authorizer) RequireUnitAction(ctx context.Context, userID, unitID types.ID, action Action) error {
	return a.require(ctx, userID, KindUnit, unitID, action)
}

func (a *Authorizer) require(ctx context.Context, userID types.ID, kind ResourceKind, resourceID types.ID, action Action) error {
	allowed, err := a.canPerform(ctx, userID, kind, resourceID, action)
	if err != nil {
		return err
	}
	if !allowed {
		return errors.Forbidden("not allowed to " + string(action) + " this " + string(kind))
	}
	return nil
}

// Direct membership checks, used by CRUD services for per-field decisions
// that need no hierarchy walk (e.g. "can comment" = "is task member").

// IsProjectMember reports a direct project membership
func (a *Authorizer) IsProjectMember(ctx context.Context, userID, projectID types.ID) (bool, error) {
	return a.members.IsProjectMember(ctx, userID, projectID)
}

// IsTaskMember reports a direct task membership
func (a *Authorizer) IsTaskMember(ctx context.Context, userID, taskID types.ID) (bool, error) {
	return a.members.IsTaskMember(ctx, userID, taskID)
}

// IsUnitMember reports membership of the specific unit
func (a *Authorizer) IsUnitMember(ctx context.Context, userID, unitID types.ID) (bool, error) {
	units, err := a.members.ListUnitMember(ctx, userID)
	if err != nil {
		return false, err
	}
	return containsID(units, unitID), nil
}

// IsAreaMember reports membership of the specific area. There is no
// "member of any area" variant; callers always check against a concrete area.
func (a *Authorizer) IsAreaMember(ctx context.Context, userID, areaID types.ID) (bool, error) {
	areas, err := a.members.ListAreaMember(ctx, userID)
	if err != nil {
		return false, err
	}
	return containsID(areas, areaID), nil
}

// IsAreaAdmin reports an admin membership of the specific area
func (a *Authorizer) IsAreaAdmin(ctx context.Context, userID, areaID types.ID) (bool, error) {
	areas, err := a.members.ListAreaAdmin(ctx, userID)
	if err != nil {
		return false, err
	}
	return containsID(areas, areaID), nil
}
