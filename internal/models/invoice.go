package models

import (
	"time"

	"gorm.io/gorm"
)

// InvoiceStatus represents the lifecycle status of an invoice.
type InvoiceStatus string

const (
	InvoiceStatusDraft     InvoiceStatus = "draft"
	InvoiceStatusSent      InvoiceStatus = "sent"
	InvoiceStatusPaid      InvoiceStatus = "paid"
	InvoiceStatusOverdue   InvoiceStatus = "overdue"
	InvoiceStatusCancelled InvoiceStatus = "cancelled"
)

// ValidStatus reports whether s is one of the known invoice statuses.
func ValidStatus(s InvoiceStatus) bool {
	switch s {
	case InvoiceStatusDraft, InvoiceStatusSent, InvoiceStatusPaid,
		InvoiceStatusOverdue, InvoiceStatusCancelled:
		return true
	}
	return false
}

// Frequency is the recurrence interval of a recurring invoice template.
type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

// ValidFrequency reports whether f is a recognized recurrence frequency.
func ValidFrequency(f Frequency) bool {
	return f == FrequencyDaily || f == FrequencyWeekly || f == FrequencyMonthly
}

// Invoice represents a billing invoice. A row with IsRecurring set acts as a
// recurring template: it is never sent itself, and the generator clones it
// into independent child invoices each cycle ("copy not link" - children
// carry no back-reference).
type Invoice struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	// Number is globally unique, format {PREFIX}-{YYYYMM}-{NNNN}.
	// Assigned once at creation and never reused, even after deletion.
	Number string `gorm:"size:50;uniqueIndex;not null" json:"invoice_number"`
	Title  string `gorm:"size:200" json:"title,omitempty"`

	UserID   uint    `gorm:"index;not null" json:"user_id"`
	User     User    `gorm:"foreignKey:UserID" json:"-"`
	ClientID uint    `gorm:"index;not null" json:"client_id"`
	Client   *Client `gorm:"foreignKey:ClientID" json:"client,omitempty"`

	Date    time.Time `gorm:"not null" json:"date"`
	DueDate time.Time `gorm:"not null" json:"due_date"`

	Status InvoiceStatus `gorm:"size:20;default:'draft'" json:"status"`

	// Derived amounts, recomputed via CalculateTotals whenever items change.
	// Never edited directly. Stored unrounded; rounding is display-only.
	Subtotal    float64 `json:"subtotal"`
	TaxRate     float64 `json:"tax_rate"`
	TaxAmount   float64 `json:"tax_amount"`
	TotalAmount float64 `json:"total_amount"`

	Notes string `gorm:"type:text" json:"notes,omitempty"`
	Terms string `gorm:"type:text" json:"terms,omitempty"`

	// Recurrence control. All four are zero/nil on a non-recurring invoice.
	IsRecurring     bool       `gorm:"default:false" json:"is_recurring"`
	Frequency       *Frequency `gorm:"size:20" json:"frequency,omitempty"`
	InitialSendDate *time.Time `json:"initial_send_date,omitempty"`
	NextSendDate    *time.Time `gorm:"index" json:"next_send_date,omitempty"`

	Items []InvoiceItem `gorm:"foreignKey:InvoiceID;constraint:OnDelete:CASCADE" json:"items,omitempty"`
}

// CalculateTotals recomputes the derived amounts from the current item set.
// Pure over Items; callers must persist the result themselves.
func (i *Invoice) CalculateTotals() {
	var subtotal float64
	for _, item := range i.Items {
		subtotal += item.Amount
	}
	i.Subtotal = subtotal
	i.TaxAmount = subtotal * (i.TaxRate / 100)
	i.TotalAmount = i.Subtotal + i.TaxAmount
}

// IsCompleted returns true when the invoice is in a terminal status.
func (i *Invoice) IsCompleted() bool {
	return i.Status == InvoiceStatusPaid || i.Status == InvoiceStatusCancelled
}

// IsDraft returns true if the invoice is in draft status.
func (i *Invoice) IsDraft() bool {
	return i.Status == InvoiceStatusDraft
}

// NextOccurrence computes the next scheduled generation time for a recurring
// template, or nil when recurrence is disabled or the frequency is not
// recognized. The base date is the first non-nil of NextSendDate,
// InitialSendDate, Date. "monthly" is a fixed 30-day offset, deliberately
// not calendar-month-aware.
func (i *Invoice) NextOccurrence() *time.Time {
	if !i.IsRecurring || i.Frequency == nil {
		return nil
	}
	base := i.Date
	if i.NextSendDate != nil {
		base = *i.NextSendDate
	} else if i.InitialSendDate != nil {
		base = *i.InitialSendDate
	}
	var next time.Time
	switch *i.Frequency {
	case FrequencyDaily:
		next = base.AddDate(0, 0, 1)
	case FrequencyWeekly:
		next = base.AddDate(0, 0, 7)
	case FrequencyMonthly:
		next = base.AddDate(0, 0, 30)
	default:
		return nil
	}
	return &next
}

// InvoiceItem represents a line item on an invoice. Items are exclusively
// owned by their invoice and deleted with it.
type InvoiceItem struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	InvoiceID uint     `gorm:"index;not null" json:"invoice_id"`
	Invoice   *Invoice `gorm:"foreignKey:InvoiceID" json:"-"`

	Description string  `gorm:"size:200;not null" json:"description"`
	Quantity    float64 `gorm:"default:1" json:"quantity"`
	UnitPrice   float64 `gorm:"default:0" json:"unit_price"`

	// Amount is always Quantity * UnitPrice, recomputed on every mutation.
	Amount float64 `gorm:"default:0" json:"amount"`
}

// CalculateAmount recomputes the line amount from quantity and unit price.
func (item *InvoiceItem) CalculateAmount() {
	item.Amount = item.Quantity * item.UnitPrice
}
