package handlers

import (
	"net/http"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/diewo77/invoiceflow/httpx"
	"github.com/diewo77/invoiceflow/internal/models"
	"github.com/diewo77/invoiceflow/validation"
)

// SettingsHandler exposes the per-user account settings: company name,
// contact email, invoice prefix, notification preference, password.
type SettingsHandler struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewSettingsHandler(db *gorm.DB, log *zap.Logger) *SettingsHandler {
	return &SettingsHandler{db: db, log: log}
}

func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(h.db, w, r)
	if !ok {
		return
	}
	httpx.JSON(w, http.StatusOK, user)
}

// Absent fields keep their current value.
type settingsRequest struct {
	Email                     *string `json:"email"`
	CompanyName               *string `json:"company_name"`
	InvoicePrefix             *string `json:"invoice_prefix"`
	EmailNotificationsEnabled *bool   `json:"email_notifications_enabled"`
	NewPassword               *string `json:"new_password"`
}

// Update applies partial changes to the user's settings. Changing the email
// re-checks uniqueness against other accounts first.
func (h *SettingsHandler) Update(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(h.db, w, r)
	if !ok {
		return
	}

	var req settingsRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_json", nil)
		return
	}

	if req.Email != nil && *req.Email != user.Email {
		v := make(validation.Violations)
		validation.Required("email", *req.Email, v)
		if !v.Empty() {
			httpx.JSONError(w, http.StatusUnprocessableEntity, "validation_failed", v)
			return
		}
		var taken int64
		if err := h.db.Model(&models.User{}).
			Where("email = ? AND id <> ?", *req.Email, user.ID).
			Count(&taken).Error; err != nil {
			httpx.JSONError(w, http.StatusInternalServerError, "query_failed", nil)
			return
		}
		if taken > 0 {
			httpx.JSONError(w, http.StatusConflict, "email_taken", nil)
			return
		}
		user.Email = *req.Email
	}

	if req.CompanyName != nil {
		user.CompanyName = *req.CompanyName
	}
	if req.InvoicePrefix != nil {
		user.InvoicePrefix = *req.InvoicePrefix
	}
	if req.EmailNotificationsEnabled != nil {
		user.EmailNotificationsEnabled = *req.EmailNotificationsEnabled
	}
	if req.NewPassword != nil && *req.NewPassword != "" {
		if err := user.SetPassword(*req.NewPassword); err != nil {
			httpx.JSONError(w, http.StatusInternalServerError, "update_failed", nil)
			return
		}
	}

	if err := h.db.Save(user).Error; err != nil {
		h.log.Error("settings update failed", zap.Uint("user_id", user.ID), zap.Error(err))
		httpx.JSONError(w, http.StatusInternalServerError, "update_failed", nil)
		return
	}
	httpx.JSON(w, http.StatusOK, user)
}
