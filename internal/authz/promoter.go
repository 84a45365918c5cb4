package authz

import (
	"context"

	"github.com/trackline/platform/internal/shared/metrics"
	"github.com/trackline/platform/internal/shared/types"
)

// MembershipSnapshot is a freshly-read view of the memberships a role label
// derives from. It is always re-read in full; the label is never patched
// incrementally from the previous value.
type MembershipSnapshot struct {
	AreaAdmin  []types.ID
	AreaMember []types.ID
	UnitMember []types.ID
}

// DeriveRole computes the role label a membership snapshot implies. The
// current label matters only for the super_admin guard: once set it is an
// out-of-band assignment immune to membership-derived recalculation.
func DeriveRole(current RoleLabel, snap MembershipSnapshot) RoleLabel {
	if current == RoleSuperAdmin {
		return RoleSuperAdmin
	}
	if len(snap.AreaAdmin) > 0 || len(snap.AreaMember) > 0 {
		return RoleAreaRole
	}
	if len(snap.UnitMember) > 0 {
		return RoleUnitRole
	}
	return RoleUser
}

// Promoter recomputes a user's system role label from current memberships.
// It is invoked synchronously after every membership mutation for the
// affected user.
type Promoter struct {
	members MembershipStore
}

// NewPromoter creates a promoter over the membership store
func NewPromoter(members MembershipStore) *Promoter {
	return &Promoter{members: members}
}

// Promote reloads the user's memberships, derives the implied label and
// persists it only when it differs from the stored one. Calling it again
// without an intervening membership change is a no-op.
func (p *Promoter) Promote(ctx context.Context, userID types.ID) (RoleLabel, error) {
	current, err := p.members.GetSystemRole(ctx, userID)
	if err != nil {
		return "", err
	}
	if current == RoleSuperAdmin {
		return RoleSuperAdmin, nil
	}

	snap, err := p.snapshot(ctx, userID)
	if err != nil {
		return "", err
	}

	target := DeriveRole(current, snap)
	if target == current {
		return current, nil
	}

	if err := p.members.SetSystemRole(ctx, userID, target); err != nil {
		return "", err
	}
	metrics.RecordRolePromotion(string(target))
	return target, nil
}

func (p *Promoter) snapshot(ctx context.Context, userID types.ID) (MembershipSnapshot, error) {
	var snap MembershipSnapshot
	var err error

	if snap.AreaAdmin, err = p.members.ListAreaAdmin(ctx, userID); err != nil {
		return snap, err
	}
	if snap.AreaMember, err = p.members.ListAreaMember(ctx, userID); err != nil {
		return snap, err
	}
	if snap.UnitMember, err = p.members.ListUnitMember(ctx, userID); err != nil {
		return snap, err
	}
	return snap, nil
}
