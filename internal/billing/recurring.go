package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/diewo77/invoiceflow/internal/models"
	"github.com/diewo77/invoiceflow/internal/numbering"
)

// ErrMalformedTemplate marks a recurring template the generator cannot
// process (unrecognized frequency, unusable due-date offset). The template
// is skipped for the cycle and its recurrence halted.
var ErrMalformedTemplate = errors.New("malformed recurring template")

// DefaultDeliveryTimeout bounds a single delivery attempt so one
// unresponsive mail server cannot stall the whole cycle.
const DefaultDeliveryTimeout = 30 * time.Second

// CycleReport summarizes one generation sweep.
type CycleReport struct {
	Due       int      `json:"due"`
	Generated int      `json:"generated"`
	Sent      int      `json:"sent"`
	Failed    int      `json:"failed"`  // generated but delivery failed, child left draft
	Skipped   int      `json:"skipped"` // malformed templates
	Errors    []string `json:"errors,omitempty"`
}

// Recurring materializes child invoices from recurring templates. One
// RunCycle call processes every due template independently: a failure in one
// never aborts the rest.
type Recurring struct {
	db              *gorm.DB
	allocator       *numbering.Allocator
	lifecycle       *Lifecycle
	notifier        Notifier
	log             *zap.Logger
	deliveryTimeout time.Duration
}

func NewRecurring(db *gorm.DB, allocator *numbering.Allocator, lifecycle *Lifecycle, notifier Notifier, log *zap.Logger) *Recurring {
	return &Recurring{
		db:              db,
		allocator:       allocator,
		lifecycle:       lifecycle,
		notifier:        notifier,
		log:             log,
		deliveryTimeout: DefaultDeliveryTimeout,
	}
}

// SetDeliveryTimeout overrides the per-delivery bound.
func (r *Recurring) SetDeliveryTimeout(d time.Duration) {
	if d > 0 {
		r.deliveryTimeout = d
	}
}

// RunCycle finds templates due as of now and generates one child invoice per
// template. The child is created, its items copied, totals computed, and the
// template's next send date advanced in a single transaction; only then is
// delivery attempted. Recurrence progresses whether or not delivery
// succeeds, so a bad mailbox does not stall the schedule.
func (r *Recurring) RunCycle(ctx context.Context, now time.Time) CycleReport {
	var report CycleReport

	var templates []models.Invoice
	err := r.db.
		Where("is_recurring = ? AND next_send_date <= ? AND status <> ?",
			true, now, models.InvoiceStatusCancelled).
		Preload("Items").
		Preload("Client").
		Preload("User").
		Find(&templates).Error
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("find due templates: %v", err))
		r.log.Error("recurring cycle query failed", zap.Error(err))
		return report
	}

	report.Due = len(templates)
	if len(templates) > 0 {
		r.log.Info("processing recurring templates",
			zap.Int("due", len(templates)),
			zap.Time("as_of", now))
	}

	for i := range templates {
		tmpl := &templates[i]
		child, err := r.processTemplate(ctx, tmpl, now)
		switch {
		case errors.Is(err, ErrMalformedTemplate):
			report.Skipped++
			report.Errors = append(report.Errors, fmt.Sprintf("template %s: %v", tmpl.Number, err))
		case err != nil:
			report.Errors = append(report.Errors, fmt.Sprintf("template %s: %v", tmpl.Number, err))
		default:
			report.Generated++
			if err := r.deliver(ctx, child); err != nil {
				report.Failed++
			} else {
				report.Sent++
			}
		}
	}
	return report
}

// processTemplate runs steps allocate→clone→totals→advance as one unit. The
// returned child is durably committed in draft before any delivery happens,
// and the template's next_send_date has advanced in the same transaction, so
// a retried tick can never produce a duplicate child for the same due date.
func (r *Recurring) processTemplate(ctx context.Context, tmpl *models.Invoice, now time.Time) (child *models.Invoice, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			child = nil
			err = fmt.Errorf("panic processing template %s: %v", tmpl.Number, rec)
			r.log.Error("recurring template panicked",
				zap.String("template", tmpl.Number),
				zap.Any("panic", rec))
		}
	}()

	if err := r.validate(tmpl); err != nil {
		return nil, err
	}

	next := tmpl.NextOccurrence()
	prefix := r.allocator.ResolvePrefix("", tmpl.Client, &tmpl.User)

	// The template's original due-date offset is preserved, not its
	// absolute due date.
	offset := tmpl.DueDate.Sub(tmpl.Date)

	child = &models.Invoice{
		Title:       tmpl.Title,
		UserID:      tmpl.UserID,
		User:        tmpl.User,
		ClientID:    tmpl.ClientID,
		Client:      tmpl.Client,
		Date:        now,
		DueDate:     now.Add(offset),
		Status:      models.InvoiceStatusDraft,
		TaxRate:     tmpl.TaxRate,
		Notes:       tmpl.Notes,
		Terms:       tmpl.Terms,
		IsRecurring: false,
	}
	for _, item := range tmpl.Items {
		copied := models.InvoiceItem{
			Description: item.Description,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
		}
		copied.CalculateAmount()
		child.Items = append(child.Items, copied)
	}
	child.CalculateTotals()

	_, err = r.allocator.Allocate(r.db, prefix, now, func(number string) error {
		child.Number = number
		return r.db.Transaction(func(tx *gorm.DB) error {
			// Client is association data, not part of the insert.
			if err := tx.Omit("Client", "User").Create(child).Error; err != nil {
				return err
			}
			if err := tx.Model(&models.Invoice{}).
				Where("id = ?", tmpl.ID).
				Update("next_send_date", next).Error; err != nil {
				return fmt.Errorf("advance template: %w", err)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("create child invoice: %w", err)
	}
	tmpl.NextSendDate = next

	r.log.Info("generated recurring invoice",
		zap.String("template", tmpl.Number),
		zap.String("child", child.Number),
		zap.Float64("total", child.TotalAmount),
		zap.Timep("next_send", next))
	return child, nil
}

// validate halts recurrence for templates the generator cannot process. The
// next send date is cleared so the template stops matching the due predicate
// instead of re-erroring every cycle, and the owner is warned.
func (r *Recurring) validate(tmpl *models.Invoice) error {
	var reason string
	switch {
	case tmpl.Frequency == nil || !models.ValidFrequency(*tmpl.Frequency):
		reason = "unrecognized frequency"
	case tmpl.Date.IsZero() || tmpl.DueDate.IsZero():
		reason = "missing due-date offset"
	default:
		return nil
	}

	if err := r.db.Model(&models.Invoice{}).
		Where("id = ?", tmpl.ID).
		Update("next_send_date", nil).Error; err != nil {
		r.log.Error("failed to halt malformed template",
			zap.String("template", tmpl.Number), zap.Error(err))
	}
	r.notifier.Notify(tmpl.UserID,
		"Recurring Schedule Halted",
		fmt.Sprintf("Recurring invoice %s could not be processed (%s). Recurrence has been disabled.", tmpl.Number, reason),
		false)
	r.log.Warn("skipping malformed template",
		zap.String("template", tmpl.Number),
		zap.String("reason", reason))
	return fmt.Errorf("%w: %s", ErrMalformedTemplate, reason)
}

// deliver attempts the draft→sent transition under a bounded timeout. A
// delivery failure is an expected outcome, not a cycle error: the child
// stays draft and the lifecycle has already queued the failure notification.
func (r *Recurring) deliver(ctx context.Context, child *models.Invoice) error {
	ctx, cancel := context.WithTimeout(ctx, r.deliveryTimeout)
	defer cancel()

	err := r.lifecycle.Transition(ctx, child, models.InvoiceStatusSent)
	if err != nil {
		r.log.Warn("recurring invoice left as draft",
			zap.String("child", child.Number),
			zap.Error(err))
		return err
	}
	r.log.Info("recurring invoice sent", zap.String("child", child.Number))
	return nil
}
