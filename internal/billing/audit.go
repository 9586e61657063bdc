package billing

import (
	"gorm.io/gorm"

	"github.com/diewo77/invoiceflow/internal/models"
)

// RecordAudit writes an audit row. Best-effort: audit storage is a
// collaborator and a failure here never fails the business operation.
func RecordAudit(db *gorm.DB, userID uint, action, entityType string, entityID uint, details string) {
	_ = db.Create(&models.AuditLog{
		UserID:     userID,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Details:    details,
	}).Error
}
