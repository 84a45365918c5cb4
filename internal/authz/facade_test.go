package authz

import (
	"context"
	"testing"

	"github.com/trackline/platform/internal/shared/errors"
	"github.com/trackline/platform/internal/shared/types"
)

func TestRequireDistinguishesDenialFromMissing(t *testing.T) {
	members := newMemMembers()
	chain := newMemChain()
	authorizer := NewAuthorizer(NewResolver(members, chain), members)

	user := types.NewID()
	task := types.NewID()
	chain.set(KindTask, task, Chain{})

	err := authorizer.RequireTaskAction(context.Background(), user, task, ActionEdit)
	if !errors.Is(err, errors.ErrForbidden) {
		t.Errorf("Expected Forbidden for an existing resource, got %v", err)
	}

	err = authorizer.RequireTaskAction(context.Background(), user, types.NewID(), ActionEdit)
	if !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("Expected NotFound for a missing resource, got %v", err)
	}
}

func TestDirectMembershipChecks(t *testing.T) {
	members := newMemMembers()
	chain := newMemChain()
	authorizer := NewAuthorizer(NewResolver(members, chain), members)

	user := types.NewID()
	areaX := types.NewID()
	areaY := types.NewID()
	unit := types.NewID()
	project := types.NewID()
	task := types.NewID()

	members.areaMember[user] = []types.ID{areaX}
	members.unitMember[user] = []types.ID{unit}
	members.projectRows[pairKey(user, project)] = true
	members.taskRows[pairKey(user, task)] = true

	ctx := context.Background()

	if ok, _ := authorizer.IsAreaMember(ctx, user, areaX); !ok {
		t.Error("Expected area membership of X")
	}
	if ok, _ := authorizer.IsAreaMember(ctx, user, areaY); ok {
		t.Error("Expected no area membership of Y")
	}
	if ok, _ := authorizer.IsUnitMember(ctx, user, unit); !ok {
		t.Error("Expected unit membership")
	}
	if ok, _ := authorizer.IsProjectMember(ctx, user, project); !ok {
		t.Error("Expected project membership")
	}
	if ok, _ := authorizer.IsTaskMember(ctx, user, task); !ok {
		t.Error("Expected task membership")
	}
	if ok, _ := authorizer.IsAreaAdmin(ctx, user, areaX); ok {
		t.Error("Expected plain member not to be area admin")
	}
}
