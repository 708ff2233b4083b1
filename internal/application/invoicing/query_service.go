package invoicing

import (
	"context"

	"github.com/google/uuid"
	"github.com/invoices/backend/internal/domain/invoicing"
	"github.com/invoices/backend/internal/domain/shared"
	"go.uber.org/zap"
)

// ListInvoicesQuery filters the operator invoice listing
type ListInvoicesQuery struct {
	CompanyID    string `form:"company_id" binding:"omitempty,uuid"`
	Status       string `form:"status" binding:"omitempty,oneof=DRAFT PENDING PROCESSING SENDING SENT ACCEPTED REJECTED FAILED TIMEOUT"`
	DeadLettered *bool  `form:"dead_lettered"`
	Page         int    `form:"page" binding:"omitempty,min=1"`
	PageSize     int    `form:"page_size" binding:"omitempty,min=1,max=100"`
	OrderBy      string `form:"order_by" binding:"max=40"`
	OrderDir     string `form:"order_dir" binding:"omitempty,oneof=asc desc ASC DESC"`
}

// InvoicePage is one page of the invoice listing
type InvoicePage = shared.Paginated[InvoiceResponse]

// QueryService answers read-only invoice listings
type QueryService struct {
	invoices invoicing.InvoiceLister
	logger   *zap.Logger
}

// NewQueryService creates a QueryService
func NewQueryService(invoices invoicing.InvoiceLister, logger *zap.Logger) *QueryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueryService{invoices: invoices, logger: logger}
}

// ListInvoices returns a page of invoices, newest first unless q orders otherwise
func (s *QueryService) ListInvoices(ctx context.Context, q ListInvoicesQuery) (*InvoicePage, error) {
	filter := invoicing.InvoiceFilter{
		Filter: shared.Filter{
			Page:     q.Page,
			PageSize: q.PageSize,
			OrderBy:  q.OrderBy,
			OrderDir: q.OrderDir,
		}.Normalize(100),
		Status:       invoicing.Status(q.Status),
		DeadLettered: q.DeadLettered,
	}
	if q.CompanyID != "" {
		id, err := uuid.Parse(q.CompanyID)
		if err != nil {
			return nil, shared.NewDomainError(shared.CodeInvalidInput, "company_id must be a UUID")
		}
		filter.CompanyID = id
	}

	invoices, total, err := s.invoices.List(ctx, filter)
	if err != nil {
		s.logger.Error("Failed to list invoices", zap.Error(err))
		return nil, err
	}
	items := make([]InvoiceResponse, len(invoices))
	for i, inv := range invoices {
		items[i] = ToInvoiceResponse(inv)
	}
	page := shared.NewPaginated(items, total, filter.Page, filter.PageSize)
	return &page, nil
}
