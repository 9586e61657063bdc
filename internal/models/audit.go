package models

import "time"

// AuditLog records who did what to which entity.
type AuditLog struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	UserID     uint   `gorm:"index" json:"user_id"`
	Action     string `gorm:"size:50;not null" json:"action"`
	EntityType string `gorm:"size:50;not null" json:"entity_type"`
	EntityID   uint   `json:"entity_id"`
	Details    string `gorm:"type:text" json:"details,omitempty"`
}
