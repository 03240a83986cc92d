package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrUserNotFound = errors.New("user_not_found")
	ErrWeakPassword = errors.New("weak_password")
	ErrInvalidEmail = errors.New("invalid_email")
	ErrInvalidRole  = errors.New("invalid_role")
)

const MinPasswordLength = 8

// Roles map onto authorization subjects "role:<name>".
const (
	RoleGuest     = "guest"
	RoleFrontDesk = "frontdesk"
	RoleAdmin     = "admin"
)

func IsValidRole(role string) bool {
	switch role {
	case RoleGuest, RoleFrontDesk, RoleAdmin:
		return true
	}
	return false
}

type User struct {
	ID                snowflake.ID `json:"id" gorm:"primaryKey"`
	Email             string       `json:"email"`
	DisplayName       string       `json:"display_name"`
	Role              string       `json:"role"`
	PasswordHash      *string      `json:"-"`
	PasswordChangedAt *time.Time   `json:"password_changed_at,omitempty"`
	CreatedAt         time.Time    `json:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at"`
}

func (User) TableName() string { return "users" }

type Repository interface {
	FindByEmail(ctx context.Context, db *gorm.DB, email string) (*User, error)
	// Insert reports false when the email is already registered.
	Insert(ctx context.Context, db *gorm.DB, user *User) (bool, error)
	UpdatePassword(ctx context.Context, db *gorm.DB, email, hash string, now time.Time) (bool, error)
	UpdateRole(ctx context.Context, db *gorm.DB, email, role string, now time.Time) (bool, error)
}

type Service interface {
	// EnsureUser registers email after a verified register challenge. An
	// empty password leaves the account without one until a reset.
	EnsureUser(ctx context.Context, email, displayName, password string) (*User, error)
	// SetRole grants an operator role; guest revokes it.
	SetRole(ctx context.Context, email, role string) (*User, error)
	// ChangePassword redeems a reset token and stores the new hash.
	ChangePassword(ctx context.Context, resetToken, newPassword string) error
}
