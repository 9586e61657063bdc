package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/diewo77/invoiceflow/httpx"
	"github.com/diewo77/invoiceflow/internal/billing"
	"github.com/diewo77/invoiceflow/internal/models"
	"github.com/diewo77/invoiceflow/internal/pdf"
	"github.com/diewo77/invoiceflow/validation"
)

type InvoiceHandler struct {
	db        *gorm.DB
	invoices  *billing.InvoiceService
	lifecycle *billing.Lifecycle
	renderer  pdf.Renderer
	log       *zap.Logger
}

func NewInvoiceHandler(db *gorm.DB, invoices *billing.InvoiceService, lifecycle *billing.Lifecycle, renderer pdf.Renderer, log *zap.Logger) *InvoiceHandler {
	return &InvoiceHandler{db: db, invoices: invoices, lifecycle: lifecycle, renderer: renderer, log: log}
}

// List returns the user's invoices. ?completed=true switches to the
// paid/cancelled archive; ?status= filters within either view.
func (h *InvoiceHandler) List(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(h.db, w, r)
	if !ok {
		return
	}

	q := h.db.Where("user_id = ?", user.ID).Preload("Client")
	completed := r.URL.Query().Get("completed") == "true"
	if completed {
		q = q.Where("status IN ?", []models.InvoiceStatus{models.InvoiceStatusPaid, models.InvoiceStatusCancelled})
	} else {
		q = q.Where("status NOT IN ?", []models.InvoiceStatus{models.InvoiceStatusPaid, models.InvoiceStatusCancelled})
	}
	if status := r.URL.Query().Get("status"); status != "" {
		q = q.Where("status = ?", status)
	}

	var invoices []models.Invoice
	if err := q.Order("date DESC").Find(&invoices).Error; err != nil {
		httpx.JSONError(w, http.StatusInternalServerError, "query_failed", nil)
		return
	}
	httpx.JSON(w, http.StatusOK, invoices)
}

type newItemRequest struct {
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
}

type newInvoiceRequest struct {
	ClientID        uint             `json:"client_id"`
	Title           string           `json:"title"`
	Date            string           `json:"date"`
	DueDate         string           `json:"due_date"`
	TaxRate         float64          `json:"tax_rate"`
	Notes           string           `json:"notes"`
	Terms           string           `json:"terms"`
	Prefix          string           `json:"prefix"`
	IsRecurring     bool             `json:"is_recurring"`
	Frequency       string           `json:"frequency"`
	InitialSendDate string           `json:"initial_send_date"`
	Items           []newItemRequest `json:"items"`
}

// Create persists a new invoice (or recurring template) with its items.
func (h *InvoiceHandler) Create(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(h.db, w, r)
	if !ok {
		return
	}

	var req newInvoiceRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_json", nil)
		return
	}

	v := make(validation.Violations)
	validation.RequiredID("client_id", req.ClientID, v)
	validation.NonNegativeFloat("tax_rate", req.TaxRate, v)

	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		v["date"] = "invalid_date"
	}
	due, err := time.Parse("2006-01-02", req.DueDate)
	if err != nil {
		v["due_date"] = "invalid_date"
	} else if v["date"] == "" && due.Before(date) {
		v["due_date"] = "before_date"
	}

	in := billing.NewInvoiceInput{
		ClientID: req.ClientID,
		Title:    req.Title,
		Date:     date,
		DueDate:  due,
		TaxRate:  req.TaxRate,
		Notes:    req.Notes,
		Terms:    req.Terms,
		Prefix:   req.Prefix,
	}

	if req.IsRecurring {
		f := models.Frequency(req.Frequency)
		if !models.ValidFrequency(f) {
			v["frequency"] = "unknown_frequency"
		} else {
			in.IsRecurring = true
			in.Frequency = &f
		}
		if req.InitialSendDate != "" {
			initial, err := time.Parse("2006-01-02", req.InitialSendDate)
			if err != nil {
				v["initial_send_date"] = "invalid_date"
			} else {
				in.InitialSendDate = &initial
			}
		}
	}

	for i, item := range req.Items {
		iv := make(validation.Violations)
		validation.Required("description", item.Description, iv)
		validation.NonNegativeFloat("quantity", item.Quantity, iv)
		validation.NonNegativeFloat("unit_price", item.UnitPrice, iv)
		if !iv.Empty() {
			v[fmt.Sprintf("items[%d]", i)] = "invalid"
			continue
		}
		in.Items = append(in.Items, models.InvoiceItem{
			Description: item.Description,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
		})
	}

	if !v.Empty() {
		httpx.JSONError(w, http.StatusUnprocessableEntity, "validation_failed", v)
		return
	}

	inv, err := h.invoices.Create(user, in)
	if err != nil {
		h.log.Error("invoice creation failed", zap.Error(err))
		httpx.JSONError(w, http.StatusInternalServerError, "create_failed", nil)
		return
	}
	httpx.JSON(w, http.StatusCreated, inv)
}

// load fetches an invoice owned by the user, with items and client.
func (h *InvoiceHandler) load(w http.ResponseWriter, r *http.Request, userID uint) (*models.Invoice, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 32)
	if err != nil {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_id", nil)
		return nil, false
	}
	var inv models.Invoice
	err = h.db.Where("id = ? AND user_id = ?", id, userID).
		Preload("Items").
		Preload("Client").
		Preload("User").
		First(&inv).Error
	if err != nil {
		httpx.JSONError(w, http.StatusNotFound, "not_found", nil)
		return nil, false
	}
	return &inv, true
}

func (h *InvoiceHandler) Detail(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(h.db, w, r)
	if !ok {
		return
	}
	inv, ok := h.load(w, r, user.ID)
	if !ok {
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

type statusRequest struct {
	Status string `json:"status"`
}

// UpdateStatus drives an invoice through the lifecycle state machine. A
// transition to sent attempts delivery first and fails without changing
// state when delivery fails.
func (h *InvoiceHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(h.db, w, r)
	if !ok {
		return
	}
	inv, ok := h.load(w, r, user.ID)
	if !ok {
		return
	}

	var req statusRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_json", nil)
		return
	}

	target := models.InvoiceStatus(req.Status)
	old := inv.Status
	err := h.lifecycle.Transition(r.Context(), inv, target)
	switch {
	case err == nil:
		if old != inv.Status {
			billing.RecordAudit(h.db, user.ID, "update", "invoice", inv.ID,
				fmt.Sprintf("Status changed from %s to %s", old, inv.Status))
		}
		httpx.JSON(w, http.StatusOK, inv)
	case errors.Is(err, billing.ErrUnknownStatus):
		httpx.JSONError(w, http.StatusBadRequest, "unknown_status", nil)
	case errors.Is(err, billing.ErrTerminalState):
		httpx.JSONError(w, http.StatusConflict, "terminal_state", nil)
	case errors.Is(err, billing.ErrDeliveryFailed):
		httpx.JSONError(w, http.StatusBadGateway, "delivery_failed", nil)
	default:
		h.log.Error("status transition failed", zap.Error(err))
		httpx.JSONError(w, http.StatusInternalServerError, "transition_failed", nil)
	}
}

type numberRequest struct {
	Number string `json:"invoice_number"`
}

// UpdateNumber is the administrative number override; uniqueness is
// re-checked before the change.
func (h *InvoiceHandler) UpdateNumber(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(h.db, w, r)
	if !ok {
		return
	}
	inv, ok := h.load(w, r, user.ID)
	if !ok {
		return
	}

	var req numberRequest
	if err := httpx.Decode(r, &req); err != nil || req.Number == "" {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_number", nil)
		return
	}

	err := h.invoices.UpdateNumber(user.ID, inv, req.Number)
	switch {
	case err == nil:
		httpx.JSON(w, http.StatusOK, inv)
	case errors.Is(err, billing.ErrDuplicateNumber):
		httpx.JSONError(w, http.StatusConflict, "number_exists", nil)
	default:
		httpx.JSONError(w, http.StatusInternalServerError, "update_failed", nil)
	}
}

// Delete removes a draft invoice. The allocated number is never reused.
func (h *InvoiceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(h.db, w, r)
	if !ok {
		return
	}
	inv, ok := h.load(w, r, user.ID)
	if !ok {
		return
	}
	err := h.invoices.Delete(user.ID, inv)
	switch {
	case err == nil:
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	case errors.Is(err, billing.ErrNotDraft):
		httpx.JSONError(w, http.StatusConflict, "not_draft", nil)
	default:
		httpx.JSONError(w, http.StatusInternalServerError, "delete_failed", nil)
	}
}

// AddItem appends a line item; totals are recomputed and persisted.
func (h *InvoiceHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(h.db, w, r)
	if !ok {
		return
	}
	inv, ok := h.load(w, r, user.ID)
	if !ok {
		return
	}

	var req newItemRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_json", nil)
		return
	}
	v := make(validation.Violations)
	validation.Required("description", req.Description, v)
	validation.NonNegativeFloat("quantity", req.Quantity, v)
	validation.NonNegativeFloat("unit_price", req.UnitPrice, v)
	if !v.Empty() {
		httpx.JSONError(w, http.StatusUnprocessableEntity, "validation_failed", v)
		return
	}

	item := models.InvoiceItem{Description: req.Description, Quantity: req.Quantity, UnitPrice: req.UnitPrice}
	if err := h.invoices.AddItem(inv, item); err != nil {
		httpx.JSONError(w, http.StatusInternalServerError, "add_item_failed", nil)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

// RemoveItem deletes a line item; totals are recomputed and persisted.
func (h *InvoiceHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(h.db, w, r)
	if !ok {
		return
	}
	inv, ok := h.load(w, r, user.ID)
	if !ok {
		return
	}
	itemID, err := strconv.ParseUint(r.PathValue("itemID"), 10, 32)
	if err != nil {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_id", nil)
		return
	}
	if err := h.invoices.RemoveItem(inv, uint(itemID)); err != nil {
		httpx.JSONError(w, http.StatusInternalServerError, "remove_item_failed", nil)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

// PDF streams the rendered invoice document.
func (h *InvoiceHandler) PDF(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(h.db, w, r)
	if !ok {
		return
	}
	inv, ok := h.load(w, r, user.ID)
	if !ok {
		return
	}
	data, err := h.renderer.Render(inv)
	if err != nil {
		h.log.Error("pdf render failed", zap.String("number", inv.Number), zap.Error(err))
		httpx.JSONError(w, http.StatusInternalServerError, "render_failed", nil)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", pdf.Filename(inv)))
	_, _ = w.Write(data)
}
