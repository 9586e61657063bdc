package numbering

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/diewo77/invoiceflow/internal/models"
)

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.Client{}, &models.Invoice{}, &models.InvoiceItem{}))
	return db
}

func seedOwner(t *testing.T, db *gorm.DB) (models.User, models.Client) {
	t.Helper()
	user := models.User{Email: "owner@test", Password: "x"}
	require.NoError(t, db.Create(&user).Error)
	client := models.Client{UserID: user.ID, Name: "ClientCo", Email: "client@test"}
	require.NoError(t, db.Create(&client).Error)
	return user, client
}

func createWithNumber(db *gorm.DB, user models.User, client models.Client) func(string) error {
	return func(number string) error {
		return db.Create(&models.Invoice{
			Number:   number,
			UserID:   user.ID,
			ClientID: client.ID,
			Date:     time.Now(),
			DueDate:  time.Now(),
		}).Error
	}
}

func TestResolvePrefix(t *testing.T) {
	a := NewAllocator(zap.NewNop())
	user := &models.User{InvoicePrefix: "usr"}
	client := &models.Client{InvoicePrefix: "cli"}

	assert.Equal(t, "REQ", a.ResolvePrefix("req", client, user))
	assert.Equal(t, "CLI", a.ResolvePrefix("", client, user))
	assert.Equal(t, "USR", a.ResolvePrefix("", &models.Client{}, user))
	assert.Equal(t, "USR", a.ResolvePrefix("", nil, user))
	assert.Equal(t, "INV", a.ResolvePrefix("", nil, nil))
	assert.Equal(t, "INV", a.ResolvePrefix("", &models.Client{}, &models.User{}))
}

func TestResolvePrefix_ConfiguredDefault(t *testing.T) {
	a := NewAllocator(zap.NewNop())
	a.SetDefaultPrefix("bill")

	assert.Equal(t, "BILL", a.ResolvePrefix("", nil, nil))
	assert.Equal(t, "CLI", a.ResolvePrefix("", &models.Client{InvoicePrefix: "cli"}, nil))

	a.SetDefaultPrefix("")
	assert.Equal(t, "BILL", a.ResolvePrefix("", nil, nil))
}

func TestAllocator_StartsAtOne(t *testing.T) {
	db := setupDB(t)
	user, client := seedOwner(t, db)
	a := NewAllocator(zap.NewNop())

	asOf := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	number, err := a.Allocate(db, "INV", asOf, createWithNumber(db, user, client))
	require.NoError(t, err)
	assert.Equal(t, "INV-202401-0001", number)
}

func TestAllocator_Increments(t *testing.T) {
	db := setupDB(t)
	user, client := seedOwner(t, db)
	a := NewAllocator(zap.NewNop())

	asOf := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 1; i <= 3; i++ {
		number, err := a.Allocate(db, "inv", asOf, createWithNumber(db, user, client))
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("INV-202403-%04d", i), number)
	}
}

func TestAllocator_ScopesAreIndependent(t *testing.T) {
	db := setupDB(t)
	user, client := seedOwner(t, db)
	a := NewAllocator(zap.NewNop())

	jan := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	feb := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	n1, err := a.Allocate(db, "INV", jan, createWithNumber(db, user, client))
	require.NoError(t, err)
	n2, err := a.Allocate(db, "INV", feb, createWithNumber(db, user, client))
	require.NoError(t, err)
	n3, err := a.Allocate(db, "ACME", jan, createWithNumber(db, user, client))
	require.NoError(t, err)

	assert.Equal(t, "INV-202401-0001", n1)
	assert.Equal(t, "INV-202402-0001", n2)
	assert.Equal(t, "ACME-202401-0001", n3)
}

// Sequence values past 9999 widen the field instead of overflowing.
func TestAllocator_WidensPastFourDigits(t *testing.T) {
	db := setupDB(t)
	user, client := seedOwner(t, db)
	a := NewAllocator(zap.NewNop())

	asOf := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, createWithNumber(db, user, client)("INV-202406-9999"))

	number, err := a.Allocate(db, "INV", asOf, createWithNumber(db, user, client))
	require.NoError(t, err)
	assert.Equal(t, "INV-202406-10000", number)

	// A widened number must beat its four-digit predecessors in the scan,
	// otherwise the scope would re-derive 10000 forever.
	number, err = a.Allocate(db, "INV", asOf, createWithNumber(db, user, client))
	require.NoError(t, err)
	assert.Equal(t, "INV-202406-10001", number)
}

// Numbers of soft-deleted invoices are never handed out again.
func TestAllocator_SkipsDeletedNumbers(t *testing.T) {
	db := setupDB(t)
	user, client := seedOwner(t, db)
	a := NewAllocator(zap.NewNop())

	asOf := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	_, err := a.Allocate(db, "INV", asOf, createWithNumber(db, user, client))
	require.NoError(t, err)
	require.NoError(t, db.Where("number = ?", "INV-202405-0001").Delete(&models.Invoice{}).Error)

	number, err := a.Allocate(db, "INV", asOf, createWithNumber(db, user, client))
	require.NoError(t, err)
	assert.Equal(t, "INV-202405-0002", number)
}

// N concurrent allocations in one scope yield N distinct sequential numbers.
func TestAllocator_ConcurrentAllocationsAreUnique(t *testing.T) {
	db := setupDB(t)
	user, client := seedOwner(t, db)
	a := NewAllocator(zap.NewNop())

	asOf := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	const n = 20

	var wg sync.WaitGroup
	results := make(chan string, n)
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			number, err := a.Allocate(db, "INV", asOf, createWithNumber(db, user, client))
			if err != nil {
				errs <- err
				return
			}
			results <- number
		}()
	}
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		t.Fatalf("allocation failed: %v", err)
	}

	seen := make(map[string]bool)
	for number := range results {
		if seen[number] {
			t.Fatalf("duplicate number allocated: %s", number)
		}
		seen[number] = true
	}
	require.Len(t, seen, n)
	for i := 1; i <= n; i++ {
		assert.Contains(t, seen, fmt.Sprintf("INV-202407-%04d", i))
	}
}

// A create closure that collides retries with freshly re-read state.
func TestAllocator_RetriesOnConflict(t *testing.T) {
	db := setupDB(t)
	user, client := seedOwner(t, db)
	a := NewAllocator(zap.NewNop())

	asOf := time.Date(2024, 8, 1, 0, 0, 0, 0, time.UTC)
	create := createWithNumber(db, user, client)

	// Simulate a second process stealing the first candidate between the
	// read and the insert.
	stole := false
	number, err := a.Allocate(db, "INV", asOf, func(number string) error {
		if !stole {
			stole = true
			if err := create(number); err != nil {
				return err
			}
			// Our own insert now collides.
			return create(number)
		}
		return create(number)
	})
	require.NoError(t, err)
	assert.Equal(t, "INV-202408-0002", number)
}
