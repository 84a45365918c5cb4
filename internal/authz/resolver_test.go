package authz

import (
	"context"
	"testing"

	"github.com/trackline/platform/internal/shared/errors"
	"github.com/trackline/platform/internal/shared/types"
)

// memMembers is an in-memory MembershipStore for tests
type memMembers struct {
	roles        map[types.ID]RoleLabel
	areaAdmin    map[types.ID][]types.ID
	areaMember   map[types.ID][]types.ID
	unitMember   map[types.ID][]types.ID
	projectRows  map[string]bool // userID|projectID
	taskRows     map[string]bool // userID|taskID
	setRoleCalls int
}

func newMemMembers() *memMembers {
	return &memMembers{
		roles:       make(map[types.ID]RoleLabel),
		areaAdmin:   make(map[types.ID][]types.ID),
		areaMember:  make(map[types.ID][]types.ID),
		unitMember:  make(map[types.ID][]types.ID),
		projectRows: make(map[string]bool),
		taskRows:    make(map[string]bool),
	}
}

func pairKey(a, b types.ID) string { return a.String() + "|" + b.String() }

func (m *memMembers) GetSystemRole(ctx context.Context, userID types.ID) (RoleLabel, error) {
	if label, ok := m.roles[userID]; ok {
		return label, nil
	}
	return RoleUser, nil
}

func (m *memMembers) SetSystemRole(ctx context.Context, userID types.ID, label RoleLabel) error {
	m.setRoleCalls++
	m.roles[userID] = label
	return nil
}

func (m *memMembers) ListAreaAdmin(ctx context.Context, userID types.ID) ([]types.ID, error) {
	return m.areaAdmin[userID], nil
}

func (m *memMembers) ListAreaMember(ctx context.Context, userID types.ID) ([]types.ID, error) {
	return m.areaMember[userID], nil
}

func (m *memMembers) ListUnitMember(ctx context.Context, userID types.ID) ([]types.ID, error) {
	return m.unitMember[userID], nil
}

func (m *memMembers) IsProjectMember(ctx context.Context, userID, projectID types.ID) (bool, error) {
	return m.projectRows[pairKey(userID, projectID)], nil
}

func (m *memMembers) IsTaskMember(ctx context.Context, userID, taskID types.ID) (bool, error) {
	return m.taskRows[pairKey(userID, taskID)], nil
}

// memChain is an in-memory AreaResolver for tests
type memChain struct {
	chains map[string]Chain // kind|id
}

func newMemChain() *memChain {
	return &memChain{chains: make(map[string]Chain)}
}

func (c *memChain) set(kind ResourceKind, id types.ID, ch Chain) {
	c.chains[string(kind)+"|"+id.String()] = ch
}

func (c *memChain) ResolveChain(ctx context.Context, kind ResourceKind, id types.ID) (Chain, error) {
	ch, ok := c.chains[string(kind)+"|"+id.String()]
	if !ok {
		return Chain{}, errors.NotFound(string(kind), id.String())
	}
	return ch, nil
}

func TestRoleLabelPrecedence(t *testing.T) {
	ordered := []RoleLabel{RoleUser, RoleUnitRole, RoleAreaRole, RoleAdmin, RoleSuperAdmin}
	for i := 1; i < len(ordered); i++ {
		if ordered[i].Precedence() <= ordered[i-1].Precedence() {
			t.Errorf("Expected %s to outrank %s", ordered[i], ordered[i-1])
		}
	}

	if RoleLabel("bogus").Valid() {
		t.Error("Expected unknown label to be invalid")
	}
	if RoleLabel("bogus").Precedence() >= RoleUser.Precedence() {
		t.Error("Expected unknown label to rank below user")
	}
}

func TestCanPerformSuperAdmin(t *testing.T) {
	members := newMemMembers()
	chain := newMemChain()
	resolver := NewResolver(members, chain)

	admin := types.NewID()
	task := types.NewID()
	members.roles[admin] = RoleSuperAdmin
	// No chain entry registered: super admin short-circuits before the walk.

	allowed, err := resolver.CanPerform(context.Background(), admin, KindTask, task, ActionDelete)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !allowed {
		t.Error("Expected super admin to be allowed everything")
	}
}

func TestCanPerformAreaAdminOnTask(t *testing.T) {
	members := newMemMembers()
	chain := newMemChain()
	resolver := NewResolver(members, chain)

	admin := types.NewID()
	areaX := types.NewID()
	project := types.NewID()
	task := types.NewID()

	// Adm administers Area X; the task resolves to Area X through its
	// process -> project -> category chain. No direct memberships at all.
	members.areaAdmin[admin] = []types.ID{areaX}
	chain.set(KindTask, task, Chain{AreaID: areaX, ProjectID: project})

	allowed, err := resolver.CanPerform(context.Background(), admin, KindTask, task, ActionArchive)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !allowed {
		t.Error("Expected area admin to be allowed to archive a task in their area")
	}
}

func TestAreaAdminScopedToOwningArea(t *testing.T) {
	members := newMemMembers()
	chain := newMemChain()
	resolver := NewResolver(members, chain)

	admin := types.NewID()
	areaX := types.NewID()
	areaY := types.NewID()
	task := types.NewID()

	members.areaAdmin[admin] = []types.ID{areaY}
	chain.set(KindTask, task, Chain{AreaID: areaX})

	allowed, err := resolver.CanPerform(context.Background(), admin, KindTask, task, ActionEdit)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if allowed {
		t.Error("Expected admin of a different area to be denied")
	}
}

func TestProjectMemberDoesNotLeakAcrossProjects(t *testing.T) {
	members := newMemMembers()
	chain := newMemChain()
	resolver := NewResolver(members, chain)

	userA := types.NewID()
	areaX := types.NewID()
	projectP1 := types.NewID()
	projectP2 := types.NewID()
	processQ := types.NewID()
	processQ2 := types.NewID()

	// A is a member of P1 only. Both processes sit in Area X.
	members.projectRows[pairKey(userA, projectP1)] = true
	chain.set(KindProcess, processQ, Chain{AreaID: areaX, ProjectID: projectP1})
	chain.set(KindProcess, processQ2, Chain{AreaID: areaX, ProjectID: projectP2})

	allowed, err := resolver.CanPerform(context.Background(), userA, KindProcess, processQ, ActionEdit)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !allowed {
		t.Error("Expected project member to edit a process of their project")
	}

	allowed, err = resolver.CanPerform(context.Background(), userA, KindProcess, processQ2, ActionEdit)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if allowed {
		t.Error("Expected project membership not to leak to another project in the same area")
	}
}

func TestDirectTaskMember(t *testing.T) {
	members := newMemMembers()
	chain := newMemChain()
	resolver := NewResolver(members, chain)

	user := types.NewID()
	task := types.NewID()

	members.taskRows[pairKey(user, task)] = true
	chain.set(KindTask, task, Chain{})

	allowed, err := resolver.CanPerform(context.Background(), user, KindTask, task, ActionComment)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !allowed {
		t.Error("Expected direct task member to be allowed")
	}
}

func TestUnitMemberPath(t *testing.T) {
	members := newMemMembers()
	chain := newMemChain()
	resolver := NewResolver(members, chain)

	user := types.NewID()
	unit := types.NewID()
	task := types.NewID()

	members.unitMember[user] = []types.ID{unit}
	chain.set(KindTask, task, Chain{UnitID: unit, ProjectID: types.NewID()})

	allowed, err := resolver.CanPerform(context.Background(), user, KindTask, task, ActionEdit)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !allowed {
		t.Error("Expected unit member to reach tasks of the unit's projects")
	}
}

func TestAreaMemberReadAndReactivateOnly(t *testing.T) {
	members := newMemMembers()
	chain := newMemChain()
	resolver := NewResolver(members, chain)

	user := types.NewID()
	areaX := types.NewID()
	task := types.NewID()

	members.areaMember[user] = []types.ID{areaX}
	chain.set(KindTask, task, Chain{AreaID: areaX})

	tests := []struct {
		action  Action
		allowed bool
	}{
		{ActionView, true},
		{ActionList, true},
		{ActionExport, true},
		{ActionReactivate, true},
		{ActionEdit, false},
		{ActionDelete, false},
		{ActionArchive, false},
		{ActionCreate, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.action), func(t *testing.T) {
			allowed, err := resolver.CanPerform(context.Background(), user, KindTask, task, tt.action)
			if err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}
			if allowed != tt.allowed {
				t.Errorf("Expected %s -> %v, got %v", tt.action, tt.allowed, allowed)
			}
		})
	}
}

func TestAreaMemberScopedToResourceArea(t *testing.T) {
	members := newMemMembers()
	chain := newMemChain()
	resolver := NewResolver(members, chain)

	user := types.NewID()
	areaX := types.NewID()
	areaY := types.NewID()
	task := types.NewID()

	// Member of some area, but not the one owning the task.
	members.areaMember[user] = []types.ID{areaY}
	chain.set(KindTask, task, Chain{AreaID: areaX})

	allowed, err := resolver.CanPerform(context.Background(), user, KindTask, task, ActionView)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if allowed {
		t.Error("Expected membership of an unrelated area to grant nothing")
	}
}

func TestBrokenChainFailsClosed(t *testing.T) {
	members := newMemMembers()
	chain := newMemChain()
	resolver := NewResolver(members, chain)

	user := types.NewID()
	areaX := types.NewID()
	project := types.NewID()

	// The project exists but its category is missing, so no area resolves.
	members.areaAdmin[user] = []types.ID{areaX}
	members.areaMember[user] = []types.ID{areaX}
	chain.set(KindProject, project, Chain{})

	allowed, err := resolver.CanPerform(context.Background(), user, KindProject, project, ActionView)
	if err != nil {
		t.Fatalf("Expected fail-closed false, got error %v", err)
	}
	if allowed {
		t.Error("Expected a broken ownership chain to deny, not grant")
	}
}

func TestNotFoundPropagates(t *testing.T) {
	members := newMemMembers()
	chain := newMemChain()
	resolver := NewResolver(members, chain)

	user := types.NewID()
	missing := types.NewID()

	_, err := resolver.CanPerform(context.Background(), user, KindTask, missing, ActionView)
	if err == nil {
		t.Fatal("Expected an error for a missing resource")
	}
	if !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("Expected NotFound, got %v", err)
	}
}

// TestMonotonicity verifies that granting an additional membership never
// flips a previously-true check to false.
func TestMonotonicity(t *testing.T) {
	members := newMemMembers()
	chain := newMemChain()
	resolver := NewResolver(members, chain)

	user := types.NewID()
	areaX := types.NewID()
	unit := types.NewID()
	project := types.NewID()
	task := types.NewID()

	members.projectRows[pairKey(user, project)] = true
	chain.set(KindTask, task, Chain{AreaID: areaX, UnitID: unit, ProjectID: project})

	actions := []Action{ActionView, ActionEdit, ActionArchive, ActionReactivate}

	before := make(map[Action]bool)
	for _, action := range actions {
		allowed, err := resolver.CanPerform(context.Background(), user, KindTask, task, action)
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		before[action] = allowed
	}

	// Pile on additional grants, one at a time.
	members.unitMember[user] = []types.ID{unit}
	members.areaMember[user] = []types.ID{areaX}
	members.areaAdmin[user] = []types.ID{areaX}

	for _, action := range actions {
		allowed, err := resolver.CanPerform(context.Background(), user, KindTask, task, action)
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if before[action] && !allowed {
			t.Errorf("Expected %s to stay allowed after granting more memberships", action)
		}
	}
}
