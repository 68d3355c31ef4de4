package users

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Role names understood by the authorization layer.
const (
	RoleUser   = "USER"
	RoleBooth  = "BOOTH"
	RoleSafety = "SAFETY"
	RoleAdmin  = "ADMIN"
)

// User is a festival account identified by a verified phone number.
type User struct {
	ID          string    `gorm:"column:id;primaryKey;size:36;not null"`
	PhoneNumber string    `gorm:"column:phone_number;size:32;not null;uniqueIndex:idx_users_phone_number"`
	Name        string    `gorm:"column:name;size:190"`
	Roles       string    `gorm:"column:roles;size:190;not null;default:''"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (User) TableName() string {
	return "users"
}

// BeforeCreate assigns a UUID when none was provided.
func (u *User) BeforeCreate(*gorm.DB) error {
	if u.ID == "" {
		value, err := uuid.NewV7()
		if err != nil {
			return err
		}
		u.ID = value.String()
	}
	return nil
}

// RoleList splits the stored role names.
func (u User) RoleList() []string {
	if u.Roles == "" {
		return nil
	}
	parts := strings.Split(u.Roles, ",")
	roles := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			roles = append(roles, trimmed)
		}
	}
	return roles
}

// HasRole reports whether the user carries the given role.
func (u User) HasRole(role string) bool {
	for _, candidate := range u.RoleList() {
		if candidate == role {
			return true
		}
	}
	return false
}

// JoinRoles renders a role slice into the stored representation.
func JoinRoles(roles []string) string {
	return strings.Join(roles, ",")
}
