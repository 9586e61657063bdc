package billing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/diewo77/invoiceflow/internal/models"
	"github.com/diewo77/invoiceflow/internal/numbering"
)

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.User{}, &models.Client{}, &models.Invoice{},
		&models.InvoiceItem{}, &models.Notification{}, &models.AuditLog{},
	))
	return db
}

func seedOwner(t *testing.T, db *gorm.DB) (models.User, models.Client) {
	t.Helper()
	user := models.User{Email: "owner@test", Password: "x", Name: "Owner"}
	require.NoError(t, db.Create(&user).Error)
	client := models.Client{UserID: user.ID, Name: "ClientCo", Email: "billing@clientco.test"}
	require.NoError(t, db.Create(&client).Error)
	return user, client
}

// fakeSender stands in for the delivery collaborator.
type fakeSender struct {
	mu    sync.Mutex
	err   error
	calls []string
}

func (f *fakeSender) Send(_ context.Context, inv *models.Invoice) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, inv.Number)
	return f.err
}

type notification struct {
	userID    uint
	title     string
	message   string
	sendEmail bool
}

// recordingNotifier captures notifications for assertions.
type recordingNotifier struct {
	mu   sync.Mutex
	sent []notification
}

func (r *recordingNotifier) Notify(userID uint, title, message string, sendEmail bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, notification{userID, title, message, sendEmail})
}

func (r *recordingNotifier) titles() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.sent))
	for i, n := range r.sent {
		out[i] = n.title
	}
	return out
}

type fixture struct {
	db        *gorm.DB
	sender    *fakeSender
	notifier  *recordingNotifier
	lifecycle *Lifecycle
	recurring *Recurring
	invoices  *InvoiceService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := setupDB(t)
	sender := &fakeSender{}
	notifier := &recordingNotifier{}
	log := zap.NewNop()
	allocator := numbering.NewAllocator(log)
	lifecycle := NewLifecycle(db, sender, notifier, log)
	return &fixture{
		db:        db,
		sender:    sender,
		notifier:  notifier,
		lifecycle: lifecycle,
		recurring: NewRecurring(db, allocator, lifecycle, notifier, log),
		invoices:  NewInvoiceService(db, allocator, log),
	}
}

var errSMTP = errors.New("smtp: connection refused")

func freq(f models.Frequency) *models.Frequency { return &f }

func timePtr(t time.Time) *time.Time { return &t }
