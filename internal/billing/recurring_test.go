package billing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diewo77/invoiceflow/internal/models"
)

// newTemplate persists a monthly recurring template due on 2024-01-01 with
// one line item (2 × 50.00) and an 8% tax rate.
func newTemplate(t *testing.T, f *fixture, user models.User, client models.Client, number string) *models.Invoice {
	t.Helper()
	next := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tmpl := &models.Invoice{
		Number:       number,
		Title:        "Retainer",
		UserID:       user.ID,
		ClientID:     client.ID,
		Date:         time.Date(2023, 12, 1, 0, 0, 0, 0, time.UTC),
		DueDate:      time.Date(2023, 12, 15, 0, 0, 0, 0, time.UTC),
		Status:       models.InvoiceStatusDraft,
		TaxRate:      8,
		Notes:        "net 14",
		Terms:        "payable on receipt",
		IsRecurring:  true,
		Frequency:    freq(models.FrequencyMonthly),
		NextSendDate: &next,
		Items: []models.InvoiceItem{
			{Description: "Consulting", Quantity: 2, UnitPrice: 50, Amount: 100},
		},
	}
	require.NoError(t, f.db.Create(tmpl).Error)
	return tmpl
}

func TestRunCycle_GeneratesChildFromDueTemplate(t *testing.T) {
	f := newFixture(t)
	user, client := seedOwner(t, f.db)
	tmpl := newTemplate(t, f, user, client, "INV-202312-0001")

	now := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	report := f.recurring.RunCycle(context.Background(), now)

	assert.Equal(t, 1, report.Due)
	assert.Equal(t, 1, report.Generated)
	assert.Equal(t, 1, report.Sent)
	assert.Empty(t, report.Errors)

	var child models.Invoice
	require.NoError(t, f.db.Preload("Items").
		Where("id <> ?", tmpl.ID).First(&child).Error)

	assert.Equal(t, "INV-202401-0001", child.Number)
	assert.Equal(t, 100.0, child.Subtotal)
	assert.Equal(t, 8.0, child.TaxAmount)
	assert.Equal(t, 108.0, child.TotalAmount)
	assert.Equal(t, models.InvoiceStatusSent, child.Status)
	assert.False(t, child.IsRecurring, "children never themselves recur")
	assert.Nil(t, child.Frequency)
	assert.Nil(t, child.NextSendDate)

	// Items are copies, not links.
	require.Len(t, child.Items, 1)
	assert.Equal(t, "Consulting", child.Items[0].Description)
	assert.Equal(t, 2.0, child.Items[0].Quantity)
	assert.Equal(t, 50.0, child.Items[0].UnitPrice)
	assert.Equal(t, 100.0, child.Items[0].Amount)
	assert.NotEqual(t, tmpl.Items[0].ID, child.Items[0].ID)

	// Dates: issue date is now, due date preserves the template's offset.
	assert.True(t, child.Date.Equal(now))
	assert.True(t, child.DueDate.Equal(now.AddDate(0, 0, 14)))

	// Template advanced by the fixed 30-day monthly step from its previous
	// next send date, and was never itself transitioned.
	fresh := reload(t, f, tmpl.ID)
	require.NotNil(t, fresh.NextSendDate)
	assert.True(t, fresh.NextSendDate.Equal(time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)),
		"next_send_date = %v", fresh.NextSendDate)
	assert.Equal(t, models.InvoiceStatusDraft, fresh.Status)
}

func TestRunCycle_DeliveryFailureLeavesDraftButAdvances(t *testing.T) {
	f := newFixture(t)
	f.sender.err = errSMTP
	user, client := seedOwner(t, f.db)
	tmpl := newTemplate(t, f, user, client, "INV-202312-0001")

	now := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	report := f.recurring.RunCycle(context.Background(), now)

	assert.Equal(t, 1, report.Generated)
	assert.Equal(t, 0, report.Sent)
	assert.Equal(t, 1, report.Failed)

	var child models.Invoice
	require.NoError(t, f.db.Where("id <> ?", tmpl.ID).First(&child).Error)
	assert.Equal(t, models.InvoiceStatusDraft, child.Status,
		"draft→sent must never happen without delivery success")

	// Recurrence progresses independently of delivery outcome.
	fresh := reload(t, f, tmpl.ID)
	require.NotNil(t, fresh.NextSendDate)
	assert.True(t, fresh.NextSendDate.After(now))

	// The owner learned about the failure.
	assert.Contains(t, f.notifier.titles(), "Invoice Email Failed")
}

func TestRunCycle_SkipsTemplatesNotDue(t *testing.T) {
	f := newFixture(t)
	user, client := seedOwner(t, f.db)

	future := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	tmpl := newTemplate(t, f, user, client, "INV-202312-0001")
	require.NoError(t, f.db.Model(tmpl).Update("next_send_date", future).Error)

	report := f.recurring.RunCycle(context.Background(), time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC))

	assert.Equal(t, 0, report.Due)
	assert.Equal(t, 0, report.Generated)
}

func TestRunCycle_SkipsCancelledTemplates(t *testing.T) {
	f := newFixture(t)
	user, client := seedOwner(t, f.db)
	tmpl := newTemplate(t, f, user, client, "INV-202312-0001")
	require.NoError(t, f.db.Model(tmpl).Update("status", models.InvoiceStatusCancelled).Error)

	report := f.recurring.RunCycle(context.Background(), time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC))

	assert.Equal(t, 0, report.Due)
}

func TestRunCycle_MalformedTemplateIsIsolated(t *testing.T) {
	f := newFixture(t)
	user, client := seedOwner(t, f.db)

	bad := newTemplate(t, f, user, client, "INV-202312-0001")
	require.NoError(t, f.db.Model(bad).Update("frequency", "yearly").Error)
	good := newTemplate(t, f, user, client, "INV-202312-0002")

	now := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	report := f.recurring.RunCycle(context.Background(), now)

	assert.Equal(t, 2, report.Due)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 1, report.Generated)
	assert.Len(t, report.Errors, 1)

	// The malformed template halted instead of re-erroring every cycle.
	assert.Nil(t, reload(t, f, bad.ID).NextSendDate)
	assert.Contains(t, f.notifier.titles(), "Recurring Schedule Halted")

	// The good template was still fully processed.
	var child models.Invoice
	require.NoError(t, f.db.
		Where("id NOT IN ?", []uint{bad.ID, good.ID}).First(&child).Error)
	assert.Equal(t, "INV-202401-0001", child.Number)
	require.NotNil(t, reload(t, f, good.ID).NextSendDate)
}

func TestRunCycle_SecondRunDoesNotDuplicate(t *testing.T) {
	f := newFixture(t)
	user, client := seedOwner(t, f.db)
	tmpl := newTemplate(t, f, user, client, "INV-202312-0001")

	now := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	first := f.recurring.RunCycle(context.Background(), now)
	second := f.recurring.RunCycle(context.Background(), now)

	assert.Equal(t, 1, first.Generated)
	assert.Equal(t, 0, second.Generated, "advanced template must not reprocess in the same window")

	var children int64
	require.NoError(t, f.db.Model(&models.Invoice{}).
		Where("id <> ? AND is_recurring = ?", tmpl.ID, false).
		Count(&children).Error)
	assert.EqualValues(t, 1, children)
}

func TestRunCycle_SharedScopeGetsSequentialNumbers(t *testing.T) {
	f := newFixture(t)
	user, client := seedOwner(t, f.db)
	newTemplate(t, f, user, client, "INV-202312-0001")
	newTemplate(t, f, user, client, "INV-202312-0002")

	now := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	report := f.recurring.RunCycle(context.Background(), now)
	require.Equal(t, 2, report.Generated)

	var numbers []string
	require.NoError(t, f.db.Model(&models.Invoice{}).
		Where("is_recurring = ?", false).
		Order("number").
		Pluck("number", &numbers).Error)
	assert.Equal(t, []string{"INV-202401-0001", "INV-202401-0002"}, numbers)
}

func TestRunCycle_UsesClientPrefixForScope(t *testing.T) {
	f := newFixture(t)
	user, client := seedOwner(t, f.db)
	require.NoError(t, f.db.Model(&client).Update("invoice_prefix", "acme").Error)
	client.InvoicePrefix = "acme"
	newTemplate(t, f, user, client, "INV-202312-0001")

	now := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	report := f.recurring.RunCycle(context.Background(), now)
	require.Equal(t, 1, report.Generated)

	var child models.Invoice
	require.NoError(t, f.db.Where("is_recurring = ?", false).First(&child).Error)
	assert.Equal(t, "ACME-202401-0001", child.Number)
}
