package org

import (
	"time"

	"github.com/trackline/platform/internal/authz"
	"github.com/trackline/platform/internal/shared/types"
)

// Area is the top organizational unit
type Area struct {
	ID          types.ID  `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Category groups projects under an area; it is the path from a project up
// to its owning area
type Category struct {
	ID        types.ID  `json:"id"`
	AreaID    types.ID  `json:"area_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Unit is an organizational team projects can belong to
type Unit struct {
	ID        types.ID  `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// User represents a platform account
type User struct {
	ID          types.ID        `json:"id"`
	Email       string          `json:"email"`
	DisplayName string          `json:"display_name"`
	SystemRole  authz.RoleLabel `json:"system_role"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// MembershipKind identifies what a membership row grants
type MembershipKind string

const (
	MembershipAreaAdmin     MembershipKind = "area_admin"
	MembershipAreaMember    MembershipKind = "area_member"
	MembershipUnitMember    MembershipKind = "unit_member"
	MembershipProjectMember MembershipKind = "project_member"
	MembershipTaskMember    MembershipKind = "task_member"
)

// Valid reports whether the kind is one of the known membership kinds
func (k MembershipKind) Valid() bool {
	switch k {
	case MembershipAreaAdmin, MembershipAreaMember, MembershipUnitMember,
		MembershipProjectMember, MembershipTaskMember:
		return true
	}
	return false
}

// Membership is a (user, target) grant of a given kind. At most one row may
// exist per (kind, user, target) triple.
type Membership struct {
	ID        types.ID       `json:"id"`
	Kind      MembershipKind `json:"kind"`
	UserID    types.ID       `json:"user_id"`
	TargetID  types.ID       `json:"target_id"`
	CreatedAt time.Time      `json:"created_at"`
}

// CreateAreaRequest is the request to create an area
type CreateAreaRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// UpdateAreaRequest is the request to update an area
type UpdateAreaRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

// CreateCategoryRequest is the request to create a category under an area
type CreateCategoryRequest struct {
	Name string `json:"name"`
}

// CreateUnitRequest is the request to create a unit
type CreateUnitRequest struct {
	Name string `json:"name"`
}

// CreateUserRequest is the request to create a user
type CreateUserRequest struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}

// CreateMembershipRequest is the request to grant a membership
type CreateMembershipRequest struct {
	Kind     MembershipKind `json:"kind"`
	UserID   types.ID       `json:"user_id"`
	TargetID types.ID       `json:"target_id"`
}

// ListMembershipsFilter defines filters for listing memberships
type ListMembershipsFilter struct {
	Kind     *MembershipKind `json:"kind,omitempty"`
	UserID   *types.ID       `json:"user_id,omitempty"`
	TargetID *types.ID       `json:"target_id,omitempty"`
	Limit    int             `json:"limit,omitempty"`
	Offset   int             `json:"offset,omitempty"`
}
