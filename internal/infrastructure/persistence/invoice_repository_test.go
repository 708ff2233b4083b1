package persistence

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/invoices/backend/internal/domain/invoicing"
	"github.com/invoices/backend/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGormInvoiceRepository_CreateAndFind(t *testing.T) {
	f := newFixture(t)
	inv := f.pending(t)

	found, err := f.repos.Invoices.FindByID(t.Context(), inv.ID)
	require.NoError(t, err)

	assert.Equal(t, inv.Number, found.Number)
	assert.Equal(t, invoicing.StatusPending, found.Status)
	assert.Equal(t, 1, found.Version)
	require.Len(t, found.Items, 2)
	assert.Equal(t, "Consulting", found.Items[0].Description)
	assert.True(t, found.Totals.Total.Equal(inv.Totals.Total), "total %s != %s", found.Totals.Total, inv.Totals.Total)
	assert.Equal(t, t0, found.IssueDate)
}

func TestGormInvoiceRepository_FindByID_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.repos.Invoices.FindByID(t.Context(), uuid.New())
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestGormInvoiceRepository_Update_OptimisticLock(t *testing.T) {
	f := newFixture(t)
	inv := f.pending(t)

	stale, err := f.repos.Invoices.FindByID(t.Context(), inv.ID)
	require.NoError(t, err)

	require.NoError(t, inv.BeginProcessing(t0.Add(time.Minute)))
	require.NoError(t, f.repos.Invoices.Update(t.Context(), inv))
	assert.Equal(t, 2, inv.Version)

	require.NoError(t, stale.BeginProcessing(t0.Add(2*time.Minute)))
	err = f.repos.Invoices.Update(t.Context(), stale)
	assert.ErrorIs(t, err, shared.ErrConcurrencyConflict)
	assert.Equal(t, 1, stale.Version, "version is untouched on conflict")

	missing := invoicing.NewInvoice(f.company.ID, f.client.ID, "X", t0, nil, inv.WithholdingRate, inv.SurchargeRate)
	assert.ErrorIs(t, f.repos.Invoices.Update(t.Context(), missing), shared.ErrNotFound)
}

func TestGormInvoiceRepository_FindStaleAndRetryable(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()

	old := f.processing(t)
	f.pending(t)

	failed := f.processing(t)
	require.NoError(t, failed.MarkFailed(shared.CodeTransmission, "connection reset", t0))
	require.NoError(t, f.repos.Invoices.Update(ctx, failed))

	dead := f.processing(t)
	require.NoError(t, dead.MarkTimedOut("no answer", t0))
	dead.MarkDeadLettered(t0)
	require.NoError(t, f.repos.Invoices.Update(ctx, dead))

	later := t0.Add(time.Hour)
	stale, err := f.repos.Invoices.FindStale(ctx, []invoicing.Status{invoicing.StatusProcessing}, later, 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, old.ID, stale[0].ID)
	assert.Len(t, stale[0].Items, 2)

	pending, err := f.repos.Invoices.FindStale(ctx, []invoicing.Status{invoicing.StatusPending}, t0, 10)
	require.NoError(t, err)
	assert.Empty(t, pending, "status_changed_at must be strictly before the cutoff")

	retryable, err := f.repos.Invoices.FindRetryable(ctx, later, 10)
	require.NoError(t, err)
	require.Len(t, retryable, 1)
	assert.Equal(t, failed.ID, retryable[0].ID)
	assert.Equal(t, shared.CodeTransmission, retryable[0].LastErrorCode)
}

func TestGormCompanyRepository_DuplicateTaxID(t *testing.T) {
	f := newFixture(t)
	dup := invoicing.NewCompany(f.company.TaxID, "Other")
	err := f.repos.Companies.Create(t.Context(), dup)
	assert.ErrorIs(t, err, shared.ErrInvalidInput)

	got, err := f.repos.Companies.FindByID(t.Context(), f.company.ID)
	require.NoError(t, err)
	assert.Equal(t, "Madrid", got.City)
	assert.Empty(t, got.LastHash)

	client, err := f.repos.Clients.FindByID(t.Context(), f.client.ID)
	require.NoError(t, err)
	assert.Equal(t, f.company.ID, client.CompanyID)

	_, err = f.repos.Clients.FindByID(t.Context(), uuid.New())
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestGormInvoiceRepository_List(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()

	for range 3 {
		f.pending(t)
	}
	failed := f.processing(t)
	require.NoError(t, failed.MarkFailed(shared.CodeTransmission, "connection reset", t0))
	require.NoError(t, f.repos.Invoices.Update(ctx, failed))
	dead := f.processing(t)
	require.NoError(t, dead.MarkTimedOut("no answer", t0))
	dead.MarkDeadLettered(t0)
	require.NoError(t, f.repos.Invoices.Update(ctx, dead))

	byCompany := invoicing.InvoiceFilter{CompanyID: f.company.ID, Filter: shared.Filter{PageSize: 2}}
	page1, total, err := f.repos.Invoices.List(ctx, byCompany)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	assert.Len(t, page1, 2)
	assert.Len(t, page1[0].Items, 2, "lines are preloaded")

	byCompany.Page = 3
	page3, _, err := f.repos.Invoices.List(ctx, byCompany)
	require.NoError(t, err)
	assert.Len(t, page3, 1)

	failedOnly, total, err := f.repos.Invoices.List(ctx, invoicing.InvoiceFilter{Status: invoicing.StatusFailed})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, failedOnly, 1)
	assert.Equal(t, failed.ID, failedOnly[0].ID)

	yes := true
	dlq, total, err := f.repos.Invoices.List(ctx, invoicing.InvoiceFilter{DeadLettered: &yes})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, dead.ID, dlq[0].ID)

	none, total, err := f.repos.Invoices.List(ctx, invoicing.InvoiceFilter{CompanyID: uuid.New()})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, none)
}

func TestGormInvoiceRepository_List_UnknownSortFallsBack(t *testing.T) {
	f := newFixture(t)
	f.pending(t)

	got, total, err := f.repos.Invoices.List(t.Context(), invoicing.InvoiceFilter{
		Filter: shared.Filter{OrderBy: "hash; DROP TABLE invoices", OrderDir: "sideways"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Len(t, got, 1)
}
