package handlers

import (
	"net/http"
	"strconv"

	"gorm.io/gorm"

	"github.com/diewo77/invoiceflow/httpx"
	"github.com/diewo77/invoiceflow/internal/notify"
)

type NotificationHandler struct {
	db      *gorm.DB
	service *notify.Service
}

func NewNotificationHandler(db *gorm.DB, service *notify.Service) *NotificationHandler {
	return &NotificationHandler{db: db, service: service}
}

func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(h.db, w, r)
	if !ok {
		return
	}
	notifications, err := h.service.List(user.ID, 50)
	if err != nil {
		httpx.JSONError(w, http.StatusInternalServerError, "query_failed", nil)
		return
	}
	httpx.JSON(w, http.StatusOK, notifications)
}

func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(h.db, w, r)
	if !ok {
		return
	}
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 32)
	if err != nil {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_id", nil)
		return
	}
	if err := h.service.MarkRead(user.ID, uint(id)); err != nil {
		httpx.JSONError(w, http.StatusInternalServerError, "update_failed", nil)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "read"})
}

func (h *NotificationHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(h.db, w, r)
	if !ok {
		return
	}
	if err := h.service.MarkAllRead(user.ID); err != nil {
		httpx.JSONError(w, http.StatusInternalServerError, "update_failed", nil)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "all_read"})
}
