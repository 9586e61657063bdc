package billing

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/diewo77/invoiceflow/internal/models"
)

var (
	// ErrTerminalState is returned for transitions attempted from paid or
	// cancelled, which have no outgoing automated transitions.
	ErrTerminalState = errors.New("invoice is in a terminal state")

	// ErrDeliveryFailed is returned when a draft→sent transition was gated
	// on a delivery attempt that did not succeed. The invoice stays draft.
	ErrDeliveryFailed = errors.New("invoice delivery failed")

	// ErrUnknownStatus is returned for a target outside the status enum.
	ErrUnknownStatus = errors.New("unknown invoice status")
)

// transitions is the explicit state table: state × target → allowed.
// Moving to sent is additionally gated on delivery success, and a
// same-status transition short-circuits as a no-op before the table is
// consulted. paid and cancelled have no rows: they are terminal.
var transitions = map[models.InvoiceStatus]map[models.InvoiceStatus]bool{
	models.InvoiceStatusDraft: {
		models.InvoiceStatusSent:      true,
		models.InvoiceStatusPaid:      true,
		models.InvoiceStatusOverdue:   true,
		models.InvoiceStatusCancelled: true,
	},
	models.InvoiceStatusSent: {
		models.InvoiceStatusDraft:     true,
		models.InvoiceStatusPaid:      true,
		models.InvoiceStatusOverdue:   true,
		models.InvoiceStatusCancelled: true,
	},
	models.InvoiceStatusOverdue: {
		models.InvoiceStatusDraft:     true,
		models.InvoiceStatusSent:      true,
		models.InvoiceStatusPaid:      true,
		models.InvoiceStatusCancelled: true,
	},
}

// statusMessages is the notification copy for unconditional transitions.
var statusMessages = map[models.InvoiceStatus]string{
	models.InvoiceStatusPaid:      "has been Paid",
	models.InvoiceStatusOverdue:   "is now Overdue",
	models.InvoiceStatusCancelled: "has been Cancelled",
}

// Lifecycle drives invoice status transitions and the side effects gated on
// them.
type Lifecycle struct {
	db       *gorm.DB
	sender   InvoiceSender
	notifier Notifier
	log      *zap.Logger
}

func NewLifecycle(db *gorm.DB, sender InvoiceSender, notifier Notifier, log *zap.Logger) *Lifecycle {
	return &Lifecycle{db: db, sender: sender, notifier: notifier, log: log}
}

// Transition moves inv to target and persists the outcome.
//
// Rules:
//   - a transition to the current status is an idempotent no-op
//   - paid and cancelled reject everything with ErrTerminalState
//   - any transition to sent is gated on a successful delivery attempt; on
//     failure the status is untouched and ErrDeliveryFailed is returned
//   - every state change queues an informational notification, except
//     reversions to draft, which are silent
func (l *Lifecycle) Transition(ctx context.Context, inv *models.Invoice, target models.InvoiceStatus) error {
	if !models.ValidStatus(target) {
		return fmt.Errorf("%w: %q", ErrUnknownStatus, target)
	}
	if inv.Status == target {
		return nil
	}
	allowed, ok := transitions[inv.Status]
	if !ok {
		return fmt.Errorf("cannot leave %s: %w", inv.Status, ErrTerminalState)
	}
	if !allowed[target] {
		return fmt.Errorf("transition %s → %s not allowed", inv.Status, target)
	}

	if target == models.InvoiceStatusSent {
		return l.send(ctx, inv)
	}

	if err := l.setStatus(inv, target); err != nil {
		return err
	}

	if target != models.InvoiceStatusDraft {
		l.notifier.Notify(inv.UserID,
			fmt.Sprintf("Invoice Status Changed: %s", title(target)),
			fmt.Sprintf("Invoice %s %s", inv.Number, statusMessages[target]),
			true)
	}
	return nil
}

// send attempts delivery and only then flips the status to sent. A failed
// attempt leaves the invoice in its current status; the failure is surfaced
// to the caller and to the owner through a notification.
func (l *Lifecycle) send(ctx context.Context, inv *models.Invoice) error {
	if err := l.sender.Send(ctx, inv); err != nil {
		l.log.Warn("invoice delivery failed",
			zap.String("number", inv.Number),
			zap.Error(err))
		l.notifier.Notify(inv.UserID,
			"Invoice Email Failed",
			fmt.Sprintf("Generated invoice %s but email failed. Status is Draft.", inv.Number),
			false)
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}

	if err := l.setStatus(inv, models.InvoiceStatusSent); err != nil {
		return err
	}

	recipient := ""
	if inv.Client != nil {
		recipient = " to " + inv.Client.Name
	}
	l.notifier.Notify(inv.UserID,
		"Invoice Sent",
		fmt.Sprintf("Invoice %s successfully sent%s", inv.Number, recipient),
		false)
	return nil
}

func (l *Lifecycle) setStatus(inv *models.Invoice, target models.InvoiceStatus) error {
	if err := l.db.Model(inv).Update("status", target).Error; err != nil {
		return fmt.Errorf("persist status %s for %s: %w", target, inv.Number, err)
	}
	inv.Status = target
	return nil
}

func title(s models.InvoiceStatus) string {
	switch s {
	case models.InvoiceStatusPaid:
		return "Paid"
	case models.InvoiceStatusOverdue:
		return "Overdue"
	case models.InvoiceStatusCancelled:
		return "Cancelled"
	case models.InvoiceStatusSent:
		return "Sent"
	default:
		return "Draft"
	}
}
