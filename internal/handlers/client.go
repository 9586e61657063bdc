package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/diewo77/invoiceflow/httpx"
	"github.com/diewo77/invoiceflow/internal/billing"
	"github.com/diewo77/invoiceflow/internal/models"
	"github.com/diewo77/invoiceflow/validation"
)

type ClientHandler struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewClientHandler(db *gorm.DB, log *zap.Logger) *ClientHandler {
	return &ClientHandler{db: db, log: log}
}

type clientRequest struct {
	Name          string `json:"name"`
	Email         string `json:"email"`
	Phone         string `json:"phone"`
	Address       string `json:"address"`
	InvoicePrefix string `json:"invoice_prefix"`
}

func (req clientRequest) validate() validation.Violations {
	v := make(validation.Violations)
	validation.Required("name", req.Name, v)
	validation.Required("email", req.Email, v)
	return v
}

func (h *ClientHandler) List(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(h.db, w, r)
	if !ok {
		return
	}
	var clients []models.Client
	if err := h.db.Where("user_id = ?", user.ID).Order("name").Find(&clients).Error; err != nil {
		httpx.JSONError(w, http.StatusInternalServerError, "query_failed", nil)
		return
	}
	httpx.JSON(w, http.StatusOK, clients)
}

func (h *ClientHandler) Create(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(h.db, w, r)
	if !ok {
		return
	}
	var req clientRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_json", nil)
		return
	}
	if v := req.validate(); !v.Empty() {
		httpx.JSONError(w, http.StatusUnprocessableEntity, "validation_failed", v)
		return
	}

	client := models.Client{
		UserID:        user.ID,
		Name:          req.Name,
		Email:         req.Email,
		Phone:         req.Phone,
		Address:       req.Address,
		InvoicePrefix: req.InvoicePrefix,
	}
	if err := h.db.Create(&client).Error; err != nil {
		httpx.JSONError(w, http.StatusInternalServerError, "create_failed", nil)
		return
	}
	billing.RecordAudit(h.db, user.ID, "create", "client", client.ID,
		fmt.Sprintf("Created client %s", client.Name))
	httpx.JSON(w, http.StatusCreated, client)
}

func (h *ClientHandler) load(w http.ResponseWriter, r *http.Request, userID uint) (*models.Client, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 32)
	if err != nil {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_id", nil)
		return nil, false
	}
	var client models.Client
	if err := h.db.Where("id = ? AND user_id = ?", id, userID).First(&client).Error; err != nil {
		httpx.JSONError(w, http.StatusNotFound, "not_found", nil)
		return nil, false
	}
	return &client, true
}

func (h *ClientHandler) Update(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(h.db, w, r)
	if !ok {
		return
	}
	client, ok := h.load(w, r, user.ID)
	if !ok {
		return
	}
	var req clientRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_json", nil)
		return
	}
	if v := req.validate(); !v.Empty() {
		httpx.JSONError(w, http.StatusUnprocessableEntity, "validation_failed", v)
		return
	}

	client.Name = req.Name
	client.Email = req.Email
	client.Phone = req.Phone
	client.Address = req.Address
	client.InvoicePrefix = req.InvoicePrefix
	if err := h.db.Save(client).Error; err != nil {
		httpx.JSONError(w, http.StatusInternalServerError, "update_failed", nil)
		return
	}
	billing.RecordAudit(h.db, user.ID, "update", "client", client.ID,
		fmt.Sprintf("Updated client %s", client.Name))
	httpx.JSON(w, http.StatusOK, client)
}

// Delete refuses to remove a client that still owns invoices.
func (h *ClientHandler) Delete(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(h.db, w, r)
	if !ok {
		return
	}
	client, ok := h.load(w, r, user.ID)
	if !ok {
		return
	}

	var invoices int64
	if err := h.db.Model(&models.Invoice{}).Where("client_id = ?", client.ID).Count(&invoices).Error; err != nil {
		httpx.JSONError(w, http.StatusInternalServerError, "query_failed", nil)
		return
	}
	if invoices > 0 {
		httpx.JSONError(w, http.StatusConflict, "client_has_invoices", nil)
		return
	}

	if err := h.db.Delete(client).Error; err != nil {
		httpx.JSONError(w, http.StatusInternalServerError, "delete_failed", nil)
		return
	}
	billing.RecordAudit(h.db, user.ID, "delete", "client", client.ID,
		fmt.Sprintf("Deleted client %s", client.Name))
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
