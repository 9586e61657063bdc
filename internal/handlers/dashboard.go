package handlers

import (
	"net/http"

	"gorm.io/gorm"

	"github.com/diewo77/invoiceflow/httpx"
	"github.com/diewo77/invoiceflow/internal/billing"
	"github.com/diewo77/invoiceflow/internal/models"
)

type DashboardHandler struct {
	db       *gorm.DB
	invoices *billing.InvoiceService
}

func NewDashboardHandler(db *gorm.DB, invoices *billing.InvoiceService) *DashboardHandler {
	return &DashboardHandler{db: db, invoices: invoices}
}

type dashboardResponse struct {
	Counts  map[models.InvoiceStatus]int64 `json:"counts"`
	Revenue float64                        `json:"revenue"`
}

// Summary returns per-status invoice counts and paid revenue for the user.
func (h *DashboardHandler) Summary(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(h.db, w, r)
	if !ok {
		return
	}

	counts, err := h.invoices.StatusCounts(user.ID)
	if err != nil {
		httpx.JSONError(w, http.StatusInternalServerError, "query_failed", nil)
		return
	}
	revenue, err := h.invoices.Revenue(user.ID)
	if err != nil {
		httpx.JSONError(w, http.StatusInternalServerError, "query_failed", nil)
		return
	}
	httpx.JSON(w, http.StatusOK, dashboardResponse{Counts: counts, Revenue: revenue})
}
