// Package notify is the notification sink: in-app notification rows,
// optionally mirrored to the user's mailbox. Everything here is best-effort;
// a failure is logged and never propagated to the triggering operation.
package notify

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/diewo77/invoiceflow/internal/mailer"
	"github.com/diewo77/invoiceflow/internal/models"
)

const emailTimeout = 15 * time.Second

// Service persists notifications and mirrors them by email when the user
// opted in.
type Service struct {
	db     *gorm.DB
	mailer mailer.Mailer
	log    *zap.Logger
}

func NewService(db *gorm.DB, m mailer.Mailer, log *zap.Logger) *Service {
	return &Service{db: db, mailer: m, log: log}
}

// Notify implements billing.Notifier.
func (s *Service) Notify(userID uint, title, message string, sendEmail bool) {
	n := models.Notification{UserID: userID, Title: title, Message: message}
	if err := s.db.Create(&n).Error; err != nil {
		s.log.Error("failed to store notification",
			zap.Uint("user_id", userID),
			zap.String("title", title),
			zap.Error(err))
		return
	}

	if !sendEmail || s.mailer == nil {
		return
	}

	var user models.User
	if err := s.db.First(&user, userID).Error; err != nil {
		s.log.Warn("notification email skipped, user not found", zap.Uint("user_id", userID))
		return
	}
	if !user.EmailNotificationsEnabled {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), emailTimeout)
	defer cancel()

	body := fmt.Sprintf(
		"<h2>%s</h2><p>%s</p><p style='color:#888'>This is an automated notification from your invoice management system.</p>",
		title, message)
	if err := s.mailer.Deliver(ctx, user.Email, title, body, nil); err != nil {
		s.log.Warn("notification email failed",
			zap.String("to", user.Email),
			zap.Error(err))
	}
}

// Unread returns the user's unread notifications, newest first.
func (s *Service) Unread(userID uint) ([]models.Notification, error) {
	var out []models.Notification
	err := s.db.Where("user_id = ? AND read = ?", userID, false).
		Order("created_at DESC").Find(&out).Error
	return out, err
}

// List returns the user's notifications, newest first, capped at limit.
func (s *Service) List(userID uint, limit int) ([]models.Notification, error) {
	var out []models.Notification
	err := s.db.Where("user_id = ?", userID).
		Order("created_at DESC").Limit(limit).Find(&out).Error
	return out, err
}

// MarkRead flags one notification as read.
func (s *Service) MarkRead(userID, id uint) error {
	return s.db.Model(&models.Notification{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("read", true).Error
}

// MarkAllRead flags every notification of the user as read.
func (s *Service) MarkAllRead(userID uint) error {
	return s.db.Model(&models.Notification{}).
		Where("user_id = ? AND read = ?", userID, false).
		Update("read", true).Error
}
