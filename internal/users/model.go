package users

import (
	"strings"
	"time"
)

// Role names a coarse permission tier. Workspace memberships refine these
// per workspace; the user-level role is the default applied at signup.
const (
	RoleAdmin  = "Admin"
	RoleEditor = "Editor"
	RoleViewer = "Viewer"
)

const (
	// ProviderLocal marks accounts created through email/password signup.
	ProviderLocal = "local"
	// ProviderGoogle marks accounts provisioned from a Google ID token.
	ProviderGoogle = "google"
)

// User models an account able to sign in and collaborate.
type User struct {
	ID           string    `gorm:"column:id;primaryKey;size:190;not null"`
	Email        string    `gorm:"column:email;size:320;not null;uniqueIndex"`
	DisplayName  string    `gorm:"column:display_name;size:320;not null;default:''"`
	PasswordHash string    `gorm:"column:password_hash;size:190;not null;default:''"`
	RolesCSV     string    `gorm:"column:roles;size:190;not null;default:'Viewer'"`
	Provider     string    `gorm:"column:provider;size:32;not null;default:'local'"`
	ProviderID   string    `gorm:"column:provider_id;size:190;index"`
	AvatarURL    string    `gorm:"column:avatar_url;size:512"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (User) TableName() string {
	return "users"
}

// Roles splits the stored role list.
func (u User) Roles() []string {
	if strings.TrimSpace(u.RolesCSV) == "" {
		return nil
	}
	parts := strings.Split(u.RolesCSV, ",")
	roles := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			roles = append(roles, trimmed)
		}
	}
	return roles
}

func joinRoles(roles []string) string {
	cleaned := make([]string, 0, len(roles))
	for _, role := range roles {
		if trimmed := strings.TrimSpace(role); trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}
	if len(cleaned) == 0 {
		return RoleViewer
	}
	return strings.Join(cleaned, ",")
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}

func normalizeEmail(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
