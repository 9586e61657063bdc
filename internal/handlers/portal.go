package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/diewo77/invoiceflow/httpx"
	"github.com/diewo77/invoiceflow/internal/billing"
	"github.com/diewo77/invoiceflow/internal/models"
)

// PortalHandler is the customer-facing surface: a user whose email matches a
// client record sees that client's invoices and can settle them. Admins use
// the invoice endpoints instead.
type PortalHandler struct {
	db        *gorm.DB
	lifecycle *billing.Lifecycle
	notifier  billing.Notifier
	log       *zap.Logger
}

func NewPortalHandler(db *gorm.DB, lifecycle *billing.Lifecycle, notifier billing.Notifier, log *zap.Logger) *PortalHandler {
	return &PortalHandler{db: db, lifecycle: lifecycle, notifier: notifier, log: log}
}

// List returns the invoices billed to the user's email address, newest
// first. ?status= narrows the result.
func (h *PortalHandler) List(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(h.db, w, r)
	if !ok {
		return
	}
	if user.IsAdmin() {
		httpx.JSONError(w, http.StatusForbidden, "admin_uses_invoice_endpoints", nil)
		return
	}

	q := h.db.Joins("JOIN clients ON clients.id = invoices.client_id").
		Where("clients.email = ?", user.Email).
		Preload("Items").Preload("Client")
	if status := r.URL.Query().Get("status"); status != "" {
		q = q.Where("invoices.status = ?", status)
	}

	var invoices []models.Invoice
	if err := q.Order("invoices.date DESC").Find(&invoices).Error; err != nil {
		httpx.JSONError(w, http.StatusInternalServerError, "query_failed", nil)
		return
	}
	httpx.JSON(w, http.StatusOK, invoices)
}

// Pay lets the customer settle their own invoice. Terminal invoices are
// left untouched; the owner is notified through the lifecycle engine and
// the customer gets a payment confirmation.
func (h *PortalHandler) Pay(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(h.db, w, r)
	if !ok {
		return
	}
	if user.IsAdmin() {
		httpx.JSONError(w, http.StatusForbidden, "admin_uses_invoice_endpoints", nil)
		return
	}

	id, err := strconv.ParseUint(r.PathValue("id"), 10, 32)
	if err != nil {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_id", nil)
		return
	}
	var inv models.Invoice
	err = h.db.Joins("JOIN clients ON clients.id = invoices.client_id").
		Where("invoices.id = ? AND clients.email = ?", id, user.Email).
		Preload("Client").
		First(&inv).Error
	if err != nil {
		httpx.JSONError(w, http.StatusNotFound, "not_found", nil)
		return
	}

	err = h.lifecycle.Transition(r.Context(), &inv, models.InvoiceStatusPaid)
	switch {
	case err == nil:
	case errors.Is(err, billing.ErrTerminalState):
		httpx.JSONError(w, http.StatusConflict, "terminal_state", nil)
		return
	default:
		h.log.Error("customer payment failed", zap.String("number", inv.Number), zap.Error(err))
		httpx.JSONError(w, http.StatusInternalServerError, "transition_failed", nil)
		return
	}

	billing.RecordAudit(h.db, user.ID, "update", "invoice", inv.ID,
		fmt.Sprintf("Customer marked invoice %s as paid", inv.Number))
	h.notifier.Notify(user.ID,
		"Payment Confirmation",
		fmt.Sprintf("Your payment for invoice %s in the amount of %.2f has been confirmed.", inv.Number, inv.TotalAmount),
		true)
	httpx.JSON(w, http.StatusOK, inv)
}
