package authz

import (
	"context"

	"github.com/trackline/platform/internal/shared/types"
)

// MembershipStore is the narrow surface over raw membership facts the
// resolver and promoter read. The concrete implementation lives in the org
// repository; membership state is never cached across calls.
type MembershipStore interface {
	// GetSystemRole returns the user's stored role label. NotFound when the
	// user does not exist.
	GetSystemRole(ctx context.Context, userID types.ID) (RoleLabel, error)

	// SetSystemRole persists a new role label for the user.
	SetSystemRole(ctx context.Context, userID types.ID, label RoleLabel) error

	// ListAreaAdmin returns the area ids the user administers.
	ListAreaAdmin(ctx context.Context, userID types.ID) ([]types.ID, error)

	// ListAreaMember returns the area ids the user is a plain member of.
	ListAreaMember(ctx context.Context, userID types.ID) ([]types.ID, error)

	// ListUnitMember returns the unit ids the user is a member of.
	ListUnitMember(ctx context.Context, userID types.ID) ([]types.ID, error)

	// IsProjectMember reports a direct project membership.
	IsProjectMember(ctx context.Context, userID, projectID types.ID) (bool, error)

	// IsTaskMember reports a direct task membership.
	IsTaskMember(ctx context.Context, userID, taskID types.ID) (bool, error)
}

// Chain is the resolved ownership context of a resource. Fields are zero when
// that level does not apply to the resource kind or the chain is broken at
// that hop (e.g. a project without a category has a zero AreaID).
type Chain struct {
	AreaID    types.ID
	UnitID    types.ID
	ProjectID types.ID
}

// AreaResolver walks the ownership chain of a resource up to its owning area
// (task -> process -> project -> category -> area). It returns NotFound only
// when the resource itself does not exist; a broken hop above it yields zero
// fields so permission checks fail closed instead of throwing.
type AreaResolver interface {
	ResolveChain(ctx context.Context, kind ResourceKind, id types.ID) (Chain, error)
}

// Resolver computes effective permissions by walking the membership chain
// from the resource up to its area, short-circuiting at the first grant.
type Resolver struct {
	members MembershipStore
	chain   AreaResolver
}

// NewResolver creates a resolver over the given stores
func NewResolver(members MembershipStore, chain AreaResolver) *Resolver {
	return &Resolver{members: members, chain: chain}
}

// CanPerform reports whether the user may perform the action on the resource.
// Checks run in fixed precedence order; the first grant wins and no further
// checks run. A NotFound from the chain walk propagates so callers can tell
// a missing resource from a denied one.
func (r *Resolver) CanPerform(ctx context.Context, userID types.ID, kind ResourceKind, resourceID types.ID, action Action) (bool, error) {
	// 1. Super admin grants everything.
	label, err := r.members.GetSystemRole(ctx, userID)
	if err != nil {
		return false, err
	}
	if label == RoleSuperAdmin {
		return true, nil
	}

	ch, err := r.chain.ResolveChain(ctx, kind, resourceID)
	if err != nil {
		return false, err
	}

	// 2. Admin of the resource's owning area. The check is scoped to the
	// specific resolved area, never "admin of some area".
	if !ch.AreaID.IsZero() {
		adminAreas, err := r.members.ListAreaAdmin(ctx, userID)
		if err != nil {
			return false, err
		}
		if containsID(adminAreas, ch.AreaID) {
			return true, nil
		}
	}

	// 3. Direct membership on the resource itself.
	switch kind {
	case KindTask:
		ok, err := r.members.IsTaskMember(ctx, userID, resourceID)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	case KindProject:
		ok, err := r.members.IsProjectMember(ctx, userID, resourceID)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}

	// 4. Project membership one level up the ownership chain.
	if kind != KindProject && !ch.ProjectID.IsZero() {
		ok, err := r.members.IsProjectMember(ctx, userID, ch.ProjectID)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}

	// 5. Membership of the unit the resource's project belongs to.
	if !ch.UnitID.IsZero() {
		units, err := r.members.ListUnitMember(ctx, userID)
		if err != nil {
			return false, err
		}
		if containsID(units, ch.UnitID) {
			return true, nil
		}
	}

	// 6. Plain area membership covers read and reactivate actions only,
	// and only for the resource's own area.
	if action.AreaMemberAllowed() && !ch.AreaID.IsZero() {
		memberAreas, err := r.members.ListAreaMember(ctx, userID)
		if err != nil {
			return false, err
		}
		if containsID(memberAreas, ch.AreaID) {
			return true, nil
		}
	}

	return false, nil
}

func containsID(ids []types.ID, id types.ID) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}
