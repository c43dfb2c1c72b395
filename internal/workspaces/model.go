package workspaces

import (
	"errors"
	"strings"
	"time"
)

// Membership roles, from most to least privileged.
const (
	RoleAdmin  = "Admin"
	RoleEditor = "Editor"
	RoleViewer = "Viewer"
)

var (
	// ErrMissingName indicates workspace creation without a name.
	ErrMissingName = errors.New("workspaces: name required")
	// ErrNotFound indicates the requested workspace does not exist.
	ErrNotFound = errors.New("workspaces: not found")
	// ErrNotMember indicates the user has no membership in the workspace.
	ErrNotMember = errors.New("workspaces: not a member")
	// ErrInvalidRole indicates an unknown membership role.
	ErrInvalidRole = errors.New("workspaces: invalid role")
	// ErrOwnerImmutable indicates an attempt to remove or demote the owner.
	ErrOwnerImmutable = errors.New("workspaces: owner membership cannot be changed")
)

// Workspace groups documents and members under one collaboration space.
type Workspace struct {
	ID          string    `gorm:"column:id;primaryKey;size:190;not null"`
	Name        string    `gorm:"column:name;size:320;not null"`
	Description string    `gorm:"column:description;size:1024"`
	OwnerID     string    `gorm:"column:owner_id;size:190;not null;index"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Workspace) TableName() string {
	return "workspaces"
}

// Membership binds a user to a workspace with a role.
type Membership struct {
	WorkspaceID string    `gorm:"column:workspace_id;primaryKey;size:190;not null"`
	UserID      string    `gorm:"column:user_id;primaryKey;size:190;not null;index"`
	Role        string    `gorm:"column:role;size:32;not null;default:'Viewer'"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Membership) TableName() string {
	return "workspace_memberships"
}

func validRole(role string) bool {
	switch role {
	case RoleAdmin, RoleEditor, RoleViewer:
		return true
	}
	return false
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
