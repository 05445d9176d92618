package users

import (
	"strings"
	"time"
)

// User is a registered account. The bcrypt hash never leaves this package.
type User struct {
	UserID       string    `gorm:"column:user_id;primaryKey;size:190;not null"`
	Name         string    `gorm:"column:name;size:320;not null"`
	Email        string    `gorm:"column:email;size:320;not null;uniqueIndex"`
	PasswordHash []byte    `gorm:"column:password_hash;not null"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing user accounts.
func (User) TableName() string {
	return "users"
}

// Ref is the public slice of a user embedded in poll listings.
type Ref struct {
	Name  string
	Email string
}

// NormalizeEmail canonicalizes an email for uniqueness checks.
func NormalizeEmail(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
