package billing

import (
	"context"

	"github.com/diewo77/invoiceflow/internal/models"
)

// InvoiceSender delivers an invoice to its client, typically by rendering a
// PDF and emailing it. Failure reasons are opaque to the engine; they are
// logged, never branched on.
type InvoiceSender interface {
	Send(ctx context.Context, inv *models.Invoice) error
}

// Notifier records a user-facing notification, optionally mirrored by email.
// Implementations are best-effort: a notifier failure must never roll back
// or fail the invoice operation that triggered it.
type Notifier interface {
	Notify(userID uint, title, message string, sendEmail bool)
}

// NopNotifier discards notifications. Useful in tests.
type NopNotifier struct{}

func (NopNotifier) Notify(uint, string, string, bool) {}
