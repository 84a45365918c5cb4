// Package authz resolves a user's effective permission on a resource from the
// chain of memberships they hold, and keeps the coarse system-wide role label
// derived from those memberships.
package authz

// RoleLabel is the single system-wide role stored per user. Labels below
// super_admin are a pure function of the user's current memberships.
type RoleLabel string

// Role labels, precedence ascending
const (
	RoleUser       RoleLabel = "user"
	RoleUnitRole   RoleLabel = "unit_role"
	RoleAreaRole   RoleLabel = "area_role"
	RoleAdmin      RoleLabel = "admin"
	RoleSuperAdmin RoleLabel = "super_admin"
)

var rolePrecedence = map[RoleLabel]int{
	RoleUser:       0,
	RoleUnitRole:   1,
	RoleAreaRole:   2,
	RoleAdmin:      3,
	RoleSuperAdmin: 4,
}

// Precedence returns the label's rank in the role ladder. Unknown labels rank
// below user.
func (r RoleLabel) Precedence() int {
	if p, ok := rolePrecedence[r]; ok {
		return p
	}
	return -1
}

// Valid reports whether the label is a known role
func (r RoleLabel) Valid() bool {
	_, ok := rolePrecedence[r]
	return ok
}

// ResourceKind identifies the type of resource a permission check targets
type ResourceKind string

const (
	KindArea    ResourceKind = "area"
	KindUnit    ResourceKind = "unit"
	KindProject ResourceKind = "project"
	KindProcess ResourceKind = "process"
	KindTask    ResourceKind = "task"
)

// Action is the operation a user wants to perform on a resource
type Action string

const (
	ActionView       Action = "view"
	ActionList       Action = "list"
	ActionExport     Action = "export"
	ActionCreate     Action = "create"
	ActionEdit       Action = "edit"
	ActionDelete     Action = "delete"
	ActionComment    Action = "comment"
	ActionArchive    Action = "archive"
	ActionReactivate Action = "reactivate"
)

// readActions are the actions a plain area member reaches through the last
// step of the resolution chain. Write actions never fall through to it.
var readActions = map[Action]bool{
	ActionView:   true,
	ActionList:   true,
	ActionExport: true,
}

// AreaMemberAllowed reports whether the action is read-style or
// reactivate-style, the only classes an AreaMember grant covers.
func (a Action) AreaMemberAllowed() bool {
	return readActions[a] || a == ActionReactivate
}
