package persistence

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/invoices/backend/internal/domain/invoicing"
	"github.com/invoices/backend/internal/infrastructure/persistence/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var t0 = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

// setupTestDB opens an in-memory SQLite database. A single connection
// keeps every statement on the same in-memory database and serializes
// transactions the way row locks do on PostgreSQL.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(models.All()...))
	return db
}

type fixture struct {
	db        *gorm.DB
	repos     Repositories
	company   *invoicing.Company
	client    *invoicing.Client
	numberSeq int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := setupTestDB(t)
	f := &fixture{db: db, repos: Wrap(db).Repositories()}

	f.company = invoicing.NewCompany("B12345678", "Acme Servicios SL")
	f.company.City = "Madrid"
	f.company.Country = "ES"
	require.NoError(t, f.repos.Companies.Create(t.Context(), f.company))

	f.client = invoicing.NewClient(f.company.ID, "A87654321", "Cliente Final SA")
	require.NoError(t, f.repos.Clients.Create(t.Context(), f.client))
	return f
}

// pending stores a PENDING invoice for the fixture company
func (f *fixture) pending(t *testing.T) *invoicing.Invoice {
	t.Helper()
	f.numberSeq++
	items := []invoicing.Item{
		{Description: "Consulting", Quantity: decimal.NewFromInt(2), UnitPrice: decimal.RequireFromString("50.25"), TaxRate: decimal.NewFromInt(21)},
		{Description: "Travel", Quantity: decimal.NewFromInt(1), UnitPrice: decimal.RequireFromString("19.50"), TaxRate: decimal.NewFromInt(10)},
	}
	inv := invoicing.NewInvoice(f.company.ID, f.client.ID, "F-"+uuid.NewString()[:8], t0, items, decimal.Zero, decimal.Zero)
	require.NoError(t, inv.MarkPending(t0))
	require.NoError(t, f.repos.Invoices.Create(t.Context(), inv))
	return inv
}

// processing stores a PENDING invoice and moves it to PROCESSING
func (f *fixture) processing(t *testing.T) *invoicing.Invoice {
	t.Helper()
	inv := f.pending(t)
	require.NoError(t, inv.BeginProcessing(t0))
	require.NoError(t, f.repos.Invoices.Update(t.Context(), inv))
	return inv
}
