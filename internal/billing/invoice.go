package billing

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/diewo77/invoiceflow/internal/models"
	"github.com/diewo77/invoiceflow/internal/numbering"
)

// ErrDuplicateNumber is returned by UpdateNumber when the requested number
// is already taken by another invoice.
var ErrDuplicateNumber = errors.New("invoice number already exists")

// ErrNotDraft is returned by Delete for invoices that already left draft.
var ErrNotDraft = errors.New("only draft invoices can be deleted")

// NewInvoiceInput is the data needed to create an invoice (or a recurring
// template) from user input.
type NewInvoiceInput struct {
	ClientID        uint
	Title           string
	Date            time.Time
	DueDate         time.Time
	TaxRate         float64
	Notes           string
	Terms           string
	Prefix          string // optional explicit prefix override
	IsRecurring     bool
	Frequency       *models.Frequency
	InitialSendDate *time.Time
	Items           []models.InvoiceItem
}

// InvoiceService encapsulates invoice business logic shared by the HTTP
// surface and the recurring generator.
type InvoiceService struct {
	db        *gorm.DB
	allocator *numbering.Allocator
	log       *zap.Logger
}

func NewInvoiceService(db *gorm.DB, allocator *numbering.Allocator, log *zap.Logger) *InvoiceService {
	return &InvoiceService{db: db, allocator: allocator, log: log}
}

// Create allocates a number and persists a new invoice with its items.
// For recurring templates the first next send date is derived from the
// initial send date (falling back to the invoice date).
func (s *InvoiceService) Create(user *models.User, in NewInvoiceInput) (*models.Invoice, error) {
	var client models.Client
	if err := s.db.Where("id = ? AND user_id = ?", in.ClientID, user.ID).First(&client).Error; err != nil {
		return nil, fmt.Errorf("load client %d: %w", in.ClientID, err)
	}

	if in.DueDate.Before(in.Date) {
		return nil, errors.New("due date must not precede invoice date")
	}

	inv := &models.Invoice{
		Title:    in.Title,
		UserID:   user.ID,
		ClientID: client.ID,
		Date:     in.Date,
		DueDate:  in.DueDate,
		Status:   models.InvoiceStatusDraft,
		TaxRate:  in.TaxRate,
		Notes:    in.Notes,
		Terms:    in.Terms,
	}
	for i := range in.Items {
		item := in.Items[i]
		item.CalculateAmount()
		inv.Items = append(inv.Items, item)
	}
	inv.CalculateTotals()

	if in.IsRecurring && in.Frequency != nil {
		inv.IsRecurring = true
		inv.Frequency = in.Frequency
		initial := in.Date
		if in.InitialSendDate != nil {
			initial = *in.InitialSendDate
		}
		inv.InitialSendDate = &initial
		inv.NextSendDate = inv.NextOccurrence()
	}

	prefix := s.allocator.ResolvePrefix(in.Prefix, &client, user)
	_, err := s.allocator.Allocate(s.db, prefix, in.Date, func(number string) error {
		inv.Number = number
		return s.db.Create(inv).Error
	})
	if err != nil {
		return nil, err
	}
	inv.Client = &client

	RecordAudit(s.db, user.ID, "create", "invoice", inv.ID,
		fmt.Sprintf("Created invoice %s", inv.Number))
	return inv, nil
}

// Recalculate recomputes item amounts and invoice totals from the current
// item set and persists the derived fields. Must run after every item
// mutation and before any totals-dependent transition.
func (s *InvoiceService) Recalculate(inv *models.Invoice) error {
	for i := range inv.Items {
		inv.Items[i].CalculateAmount()
		if err := s.db.Model(&inv.Items[i]).Update("amount", inv.Items[i].Amount).Error; err != nil {
			return fmt.Errorf("persist item amount: %w", err)
		}
	}
	inv.CalculateTotals()
	return s.db.Model(inv).Updates(map[string]any{
		"subtotal":     inv.Subtotal,
		"tax_amount":   inv.TaxAmount,
		"total_amount": inv.TotalAmount,
	}).Error
}

// AddItem appends a line item and recomputes totals.
func (s *InvoiceService) AddItem(inv *models.Invoice, item models.InvoiceItem) error {
	item.InvoiceID = inv.ID
	item.CalculateAmount()
	if err := s.db.Create(&item).Error; err != nil {
		return fmt.Errorf("create item: %w", err)
	}
	inv.Items = append(inv.Items, item)
	return s.Recalculate(inv)
}

// RemoveItem deletes a line item and recomputes totals.
func (s *InvoiceService) RemoveItem(inv *models.Invoice, itemID uint) error {
	if err := s.db.Where("invoice_id = ?", inv.ID).Delete(&models.InvoiceItem{}, itemID).Error; err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	kept := inv.Items[:0]
	for _, it := range inv.Items {
		if it.ID != itemID {
			kept = append(kept, it)
		}
	}
	inv.Items = kept
	return s.Recalculate(inv)
}

// UpdateNumber is the administrative override for an invoice number. The
// uniqueness invariant is re-checked before the mutation.
func (s *InvoiceService) UpdateNumber(userID uint, inv *models.Invoice, newNumber string) error {
	var count int64
	err := s.db.Unscoped().Model(&models.Invoice{}).
		Where("number = ? AND id <> ?", newNumber, inv.ID).
		Count(&count).Error
	if err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("%w: %s", ErrDuplicateNumber, newNumber)
	}

	old := inv.Number
	if err := s.db.Model(inv).Update("number", newNumber).Error; err != nil {
		return err
	}
	inv.Number = newNumber

	RecordAudit(s.db, userID, "update", "invoice", inv.ID,
		fmt.Sprintf("Invoice number changed from %s to %s", old, newNumber))
	return nil
}

// Delete removes a draft invoice and, through the cascade, its items. An
// invoice that already left draft is part of the books and stays. The number
// stays burned either way: soft-deleted rows still count during allocation.
func (s *InvoiceService) Delete(userID uint, inv *models.Invoice) error {
	if !inv.IsDraft() {
		return fmt.Errorf("%w: %s is %s", ErrNotDraft, inv.Number, inv.Status)
	}
	if err := s.db.Select("Items").Delete(inv).Error; err != nil {
		return err
	}
	RecordAudit(s.db, userID, "delete", "invoice", inv.ID,
		fmt.Sprintf("Deleted invoice %s", inv.Number))
	return nil
}

// Revenue sums the totals of paid invoices for a user.
func (s *InvoiceService) Revenue(userID uint) (float64, error) {
	var total float64
	err := s.db.Model(&models.Invoice{}).
		Where("user_id = ? AND status = ?", userID, models.InvoiceStatusPaid).
		Select("COALESCE(SUM(total_amount), 0)").
		Scan(&total).Error
	return total, err
}

// StatusCounts returns per-status invoice counts for the dashboard.
func (s *InvoiceService) StatusCounts(userID uint) (map[models.InvoiceStatus]int64, error) {
	counts := make(map[models.InvoiceStatus]int64)
	for _, status := range []models.InvoiceStatus{
		models.InvoiceStatusDraft,
		models.InvoiceStatusSent,
		models.InvoiceStatusPaid,
		models.InvoiceStatusOverdue,
		models.InvoiceStatusCancelled,
	} {
		var n int64
		if err := s.db.Model(&models.Invoice{}).
			Where("user_id = ? AND status = ?", userID, status).
			Count(&n).Error; err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, nil
}
