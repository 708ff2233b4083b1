package invoicing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/invoices/backend/internal/domain/invoicing"
	"github.com/invoices/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockInvoiceLister struct {
	mock.Mock
}

func (m *MockInvoiceLister) List(ctx context.Context, filter invoicing.InvoiceFilter) ([]*invoicing.Invoice, int64, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]*invoicing.Invoice), args.Get(1).(int64), args.Error(2)
}

func listedInvoice(companyID uuid.UUID) *invoicing.Invoice {
	items := []invoicing.Item{{Description: "Consulting", Quantity: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(100), TaxRate: decimal.NewFromInt(21)}}
	return invoicing.NewInvoice(companyID, uuid.New(), "F-1", time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), items, decimal.Zero, decimal.Zero)
}

func TestQueryService_ListInvoices(t *testing.T) {
	lister := new(MockInvoiceLister)
	svc := NewQueryService(lister, nil)
	companyID := uuid.New()
	yes := true

	want := invoicing.InvoiceFilter{
		Filter:       shared.Filter{Page: 2, PageSize: 10, OrderBy: "issue_date", OrderDir: "asc"},
		CompanyID:    companyID,
		Status:       invoicing.StatusFailed,
		DeadLettered: &yes,
	}
	lister.On("List", mock.Anything, want).Return([]*invoicing.Invoice{listedInvoice(companyID)}, int64(11), nil)

	page, err := svc.ListInvoices(context.Background(), ListInvoicesQuery{
		CompanyID:    companyID.String(),
		Status:       "FAILED",
		DeadLettered: &yes,
		Page:         2,
		PageSize:     10,
		OrderBy:      "issue_date",
		OrderDir:     "asc",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(11), page.Total)
	assert.Equal(t, 2, page.TotalPages)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "F-1", page.Items[0].Number)
	lister.AssertExpectations(t)
}

func TestQueryService_ListInvoices_Defaults(t *testing.T) {
	lister := new(MockInvoiceLister)
	svc := NewQueryService(lister, nil)

	lister.On("List", mock.Anything, mock.MatchedBy(func(f invoicing.InvoiceFilter) bool {
		return f.Page == 1 && f.PageSize == 20 && f.CompanyID == uuid.Nil && f.Status == ""
	})).Return([]*invoicing.Invoice{}, int64(0), nil)

	page, err := svc.ListInvoices(context.Background(), ListInvoicesQuery{})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.NotNil(t, page.Items)
	assert.Equal(t, 0, page.TotalPages)
}

func TestQueryService_ListInvoices_Errors(t *testing.T) {
	lister := new(MockInvoiceLister)
	svc := NewQueryService(lister, nil)

	_, err := svc.ListInvoices(context.Background(), ListInvoicesQuery{CompanyID: "nope"})
	assert.ErrorIs(t, err, shared.ErrInvalidInput)

	lister.On("List", mock.Anything, mock.Anything).Return(nil, int64(0), errors.New("db down"))
	_, err = svc.ListInvoices(context.Background(), ListInvoicesQuery{})
	assert.EqualError(t, err, "db down")
}
