package models

import (
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// UserRole distinguishes issuing users from administrators.
type UserRole string

const (
	RoleUser  UserRole = "user"
	RoleAdmin UserRole = "admin"
)

// User represents an authenticated user in the system.
type User struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	Email    string   `gorm:"uniqueIndex;size:255;not null" json:"email"`
	Name     string   `gorm:"size:255" json:"name,omitempty"`
	Password string   `gorm:"size:255;not null" json:"-"` // Hashed, never exposed in JSON
	Role     UserRole `gorm:"size:20;default:'user'" json:"role"`

	// CompanyName appears on rendered invoices and outgoing mail.
	CompanyName string `gorm:"size:100;default:'My Company'" json:"company_name"`

	// InvoicePrefix overrides the global invoice number prefix for invoices
	// this user issues.
	InvoicePrefix string `gorm:"size:10" json:"invoice_prefix,omitempty"`

	// EmailNotificationsEnabled controls whether in-app notifications are
	// also mirrored to the user's mailbox.
	EmailNotificationsEnabled bool `gorm:"default:true" json:"email_notifications_enabled"`
}

// SetPassword hashes and stores the given plaintext password.
func (u *User) SetPassword(plain string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.Password = string(hash)
	return nil
}

// CheckPassword reports whether the plaintext matches the stored hash.
func (u *User) CheckPassword(plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(plain)) == nil
}

// IsAdmin returns true for administrator accounts.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}
