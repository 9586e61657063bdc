package billing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diewo77/invoiceflow/internal/models"
)

func createInvoice(t *testing.T, f *fixture, status models.InvoiceStatus) *models.Invoice {
	t.Helper()
	user, client := seedOwner(t, f.db)
	inv := &models.Invoice{
		Number:   "INV-202401-0001",
		UserID:   user.ID,
		ClientID: client.ID,
		Client:   &client,
		Date:     time.Now(),
		DueDate:  time.Now().AddDate(0, 0, 14),
		Status:   status,
	}
	require.NoError(t, f.db.Omit("Client").Create(inv).Error)
	return inv
}

func reload(t *testing.T, f *fixture, id uint) models.Invoice {
	t.Helper()
	var inv models.Invoice
	require.NoError(t, f.db.First(&inv, id).Error)
	return inv
}

func TestLifecycle_DraftToSent_RequiresDelivery(t *testing.T) {
	f := newFixture(t)
	inv := createInvoice(t, f, models.InvoiceStatusDraft)

	require.NoError(t, f.lifecycle.Transition(context.Background(), inv, models.InvoiceStatusSent))

	assert.Equal(t, models.InvoiceStatusSent, inv.Status)
	assert.Equal(t, models.InvoiceStatusSent, reload(t, f, inv.ID).Status)
	assert.Equal(t, []string{inv.Number}, f.sender.calls)
	assert.Equal(t, []string{"Invoice Sent"}, f.notifier.titles())
}

func TestLifecycle_DeliveryFailureKeepsDraft(t *testing.T) {
	f := newFixture(t)
	f.sender.err = errSMTP
	inv := createInvoice(t, f, models.InvoiceStatusDraft)

	err := f.lifecycle.Transition(context.Background(), inv, models.InvoiceStatusSent)

	require.ErrorIs(t, err, ErrDeliveryFailed)
	assert.Equal(t, models.InvoiceStatusDraft, inv.Status)
	assert.Equal(t, models.InvoiceStatusDraft, reload(t, f, inv.ID).Status)
	assert.Equal(t, []string{"Invoice Email Failed"}, f.notifier.titles())
}

func TestLifecycle_UnconditionalTransitionsNotify(t *testing.T) {
	tests := []struct {
		target    models.InvoiceStatus
		wantTitle string
	}{
		{models.InvoiceStatusPaid, "Invoice Status Changed: Paid"},
		{models.InvoiceStatusOverdue, "Invoice Status Changed: Overdue"},
		{models.InvoiceStatusCancelled, "Invoice Status Changed: Cancelled"},
	}
	for _, tt := range tests {
		t.Run(string(tt.target), func(t *testing.T) {
			f := newFixture(t)
			inv := createInvoice(t, f, models.InvoiceStatusSent)

			require.NoError(t, f.lifecycle.Transition(context.Background(), inv, tt.target))

			assert.Equal(t, tt.target, reload(t, f, inv.ID).Status)
			assert.Equal(t, []string{tt.wantTitle}, f.notifier.titles())
			assert.Empty(t, f.sender.calls, "no delivery for unconditional transitions")
		})
	}
}

func TestLifecycle_RevertToDraftIsSilent(t *testing.T) {
	f := newFixture(t)
	inv := createInvoice(t, f, models.InvoiceStatusSent)

	require.NoError(t, f.lifecycle.Transition(context.Background(), inv, models.InvoiceStatusDraft))

	assert.Equal(t, models.InvoiceStatusDraft, reload(t, f, inv.ID).Status)
	assert.Empty(t, f.notifier.sent)
}

func TestLifecycle_SameStatusIsNoOp(t *testing.T) {
	f := newFixture(t)
	inv := createInvoice(t, f, models.InvoiceStatusSent)

	require.NoError(t, f.lifecycle.Transition(context.Background(), inv, models.InvoiceStatusSent))

	assert.Empty(t, f.sender.calls, "re-entrant transition must not re-deliver")
	assert.Empty(t, f.notifier.sent)
}

func TestLifecycle_TerminalStatesRejectTransitions(t *testing.T) {
	for _, terminal := range []models.InvoiceStatus{models.InvoiceStatusPaid, models.InvoiceStatusCancelled} {
		t.Run(string(terminal), func(t *testing.T) {
			f := newFixture(t)
			inv := createInvoice(t, f, terminal)

			err := f.lifecycle.Transition(context.Background(), inv, models.InvoiceStatusDraft)

			require.ErrorIs(t, err, ErrTerminalState)
			assert.Equal(t, terminal, reload(t, f, inv.ID).Status)
			assert.Empty(t, f.notifier.sent)
		})
	}
}

func TestLifecycle_UnknownTargetRejected(t *testing.T) {
	f := newFixture(t)
	inv := createInvoice(t, f, models.InvoiceStatusDraft)

	err := f.lifecycle.Transition(context.Background(), inv, models.InvoiceStatus("archived"))

	require.ErrorIs(t, err, ErrUnknownStatus)
}
