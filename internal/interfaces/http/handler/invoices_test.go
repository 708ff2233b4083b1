package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	invoicingapp "github.com/invoices/backend/internal/application/invoicing"
	"github.com/invoices/backend/internal/domain/shared"
	"github.com/invoices/backend/internal/interfaces/http/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockInvoiceQuery struct {
	mock.Mock
}

func (m *MockInvoiceQuery) ListInvoices(ctx context.Context, q invoicingapp.ListInvoicesQuery) (*invoicingapp.InvoicePage, error) {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*invoicingapp.InvoicePage), args.Error(1)
}

func newInvoiceListRouter(q InvoiceQuery) *gin.Engine {
	middleware.SetupValidator()
	h := NewInvoiceListHandler(q)
	router := gin.New()
	router.GET("/invoices", h.List)
	return router
}

func TestInvoiceListHandler_List(t *testing.T) {
	q := new(MockInvoiceQuery)
	page := shared.NewPaginated([]invoicingapp.InvoiceResponse{{Number: "F-1", Status: "ACCEPTED"}}, 1, 2, 10)
	q.On("ListInvoices", mock.Anything, mock.MatchedBy(func(in invoicingapp.ListInvoicesQuery) bool {
		return in.Status == "ACCEPTED" && in.Page == 2 && in.PageSize == 10 && in.OrderBy == "number"
	})).Return(&page, nil)

	w := serve(newInvoiceListRouter(q), http.MethodGet, "/invoices?status=ACCEPTED&page=2&page_size=10&order_by=number")

	require.Equal(t, http.StatusOK, w.Code)
	data := decodeResponse(t, w).Data.(map[string]any)
	assert.EqualValues(t, 1, data["total"])
	assert.EqualValues(t, 2, data["page"])
	items := data["items"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, "F-1", items[0].(map[string]any)["number"])
	q.AssertExpectations(t)
}

func TestInvoiceListHandler_ListRejectsBadQuery(t *testing.T) {
	tests := []struct {
		name string
		path string
	}{
		{"unknown status", "/invoices?status=LOST"},
		{"page size too large", "/invoices?page_size=500"},
		{"company id not a uuid", "/invoices?company_id=acme"},
		{"bad direction", "/invoices?order_dir=sideways"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := new(MockInvoiceQuery)
			w := serve(newInvoiceListRouter(q), http.MethodGet, tt.path)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			q.AssertNotCalled(t, "ListInvoices", mock.Anything, mock.Anything)
		})
	}
}

func TestInvoiceListHandler_ListPropagatesDomainError(t *testing.T) {
	q := new(MockInvoiceQuery)
	q.On("ListInvoices", mock.Anything, mock.Anything).
		Return(nil, shared.NewDomainError(shared.CodeInvalidInput, "company_id must be a UUID"))

	w := serve(newInvoiceListRouter(q), http.MethodGet, "/invoices")

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
