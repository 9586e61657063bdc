package models

import (
	"time"

	"gorm.io/gorm"
)

// Client represents a billing recipient.
type Client struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	// UserID is the issuing user this client belongs to.
	UserID uint `gorm:"index;not null" json:"user_id"`
	User   User `gorm:"foreignKey:UserID" json:"-"`

	Name    string `gorm:"size:100;not null" json:"name"`
	Email   string `gorm:"size:120;not null" json:"email"`
	Phone   string `gorm:"size:20" json:"phone,omitempty"`
	Address string `gorm:"type:text" json:"address,omitempty"`

	// InvoicePrefix, when set, takes precedence over the issuing user's
	// prefix for invoices addressed to this client.
	InvoicePrefix string `gorm:"size:10" json:"invoice_prefix,omitempty"`

	Invoices []Invoice `gorm:"foreignKey:ClientID" json:"-"`
}
