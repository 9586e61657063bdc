// Package numbering assigns unique sequential invoice numbers.
//
// Numbers follow {PREFIX}-{YYYYMM}-{NNNN}. The trailing sequence restarts at
// 0001 for every (prefix, year-month) scope and widens past four digits
// instead of overflowing. The last used number is re-derived from persisted
// state on every allocation rather than held in memory, so correctness under
// concurrency comes from per-scope serialization plus the unique index on
// the number column.
package numbering

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/diewo77/invoiceflow/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DefaultPrefix is the global fallback when neither the request, the client,
// nor the issuing user configures one.
const DefaultPrefix = "INV"

// maxAttempts bounds conflict retries before allocation is reported fatal.
const maxAttempts = 5

// ErrAllocationConflict is returned when allocation keeps colliding with
// concurrently inserted numbers even after retrying with re-read state.
var ErrAllocationConflict = errors.New("invoice number allocation conflict")

// Allocator hands out invoice numbers, serializing per scope.
type Allocator struct {
	log           *zap.Logger
	defaultPrefix string

	mu     sync.Mutex
	scopes map[string]*sync.Mutex
}

func NewAllocator(log *zap.Logger) *Allocator {
	return &Allocator{log: log, defaultPrefix: DefaultPrefix, scopes: make(map[string]*sync.Mutex)}
}

// SetDefaultPrefix overrides the global fallback prefix (INVOICE_PREFIX).
// Empty input keeps the built-in default.
func (a *Allocator) SetDefaultPrefix(prefix string) {
	if prefix != "" {
		a.defaultPrefix = strings.ToUpper(prefix)
	}
}

// ResolvePrefix applies the precedence chain: explicit request prefix,
// client prefix, user prefix, global default. The result is upper-cased.
func (a *Allocator) ResolvePrefix(explicit string, client *models.Client, user *models.User) string {
	switch {
	case explicit != "":
		return strings.ToUpper(explicit)
	case client != nil && client.InvoicePrefix != "":
		return strings.ToUpper(client.InvoicePrefix)
	case user != nil && user.InvoicePrefix != "":
		return strings.ToUpper(user.InvoicePrefix)
	default:
		return a.defaultPrefix
	}
}

// Scope returns the (prefix, year-month) sequence key for asOf,
// e.g. "INV-202401".
func Scope(prefix string, asOf time.Time) string {
	return fmt.Sprintf("%s-%s", strings.ToUpper(prefix), asOf.Format("200601"))
}

// Next computes the next number in the scope from persisted state: the
// greatest existing sequence wins, incremented by one, starting at 1 for a
// fresh scope. Ordering by length before value keeps widened sequences
// (10000 and up) above their four-digit predecessors, which plain string
// ordering would rank wrong. Soft-deleted invoices still count so numbers
// are never reused.
func (a *Allocator) Next(db *gorm.DB, prefix string, asOf time.Time) (string, error) {
	scope := Scope(prefix, asOf)

	var last models.Invoice
	err := db.Unscoped().
		Where("number LIKE ?", scope+"-%").
		Order("LENGTH(number) DESC, number DESC").
		Limit(1).
		Find(&last).Error
	if err != nil {
		return "", fmt.Errorf("scan last number for %s: %w", scope, err)
	}

	seq := 1
	if last.Number != "" {
		n, err := strconv.Atoi(last.Number[strings.LastIndex(last.Number, "-")+1:])
		if err != nil {
			return "", fmt.Errorf("parse sequence of %q: %w", last.Number, err)
		}
		seq = n + 1
	}
	return fmt.Sprintf("%s-%04d", scope, seq), nil
}

// Allocate serializes allocation for the scope of (prefix, asOf), computes
// the next free number and hands it to create, which must durably insert the
// row carrying it. A unique-constraint conflict (another writer won the
// number outside our lock, e.g. a second process) re-reads and retries a
// bounded number of times.
func (a *Allocator) Allocate(db *gorm.DB, prefix string, asOf time.Time, create func(number string) error) (string, error) {
	lock := a.scopeLock(Scope(prefix, asOf))
	lock.Lock()
	defer lock.Unlock()

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		number, err := a.Next(db, prefix, asOf)
		if err != nil {
			return "", err
		}
		err = create(number)
		if err == nil {
			return number, nil
		}
		if !isDuplicate(err) {
			return "", err
		}
		a.log.Warn("invoice number conflict, retrying",
			zap.String("number", number),
			zap.Int("attempt", attempt))
	}
	return "", fmt.Errorf("%w: scope %s exhausted %d attempts", ErrAllocationConflict, Scope(prefix, asOf), maxAttempts)
}

func (a *Allocator) scopeLock(scope string) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.scopes[scope]
	if !ok {
		l = &sync.Mutex{}
		a.scopes[scope] = l
	}
	return l
}

// isDuplicate recognizes unique-constraint violations across drivers.
func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value")
}
