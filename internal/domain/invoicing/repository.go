package invoicing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/invoices/backend/internal/domain/shared"
)

// InvoiceRepository persists invoices. Update is optimistic: it fails with
// shared.ErrConcurrencyConflict when the stored version differs.
type InvoiceRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*Invoice, error)
	Create(ctx context.Context, invoice *Invoice) error
	Update(ctx context.Context, invoice *Invoice) error

	// FindStale returns invoices in one of statuses whose last transition is older than before
	FindStale(ctx context.Context, statuses []Status, before time.Time, limit int) ([]*Invoice, error)

	// FindRetryable returns FAILED/TIMEOUT invoices not yet dead-lettered whose last transition is older than before
	FindRetryable(ctx context.Context, before time.Time, limit int) ([]*Invoice, error)

	// FindChain returns a company's chained invoices ordered by chain sequence
	FindChain(ctx context.Context, companyID uuid.UUID) ([]*Invoice, error)
}

// InvoiceFilter narrows an invoice listing. Zero fields do not filter.
type InvoiceFilter struct {
	shared.Filter
	CompanyID    uuid.UUID
	Status       Status
	DeadLettered *bool
}

// InvoiceLister pages through invoices for operators
type InvoiceLister interface {
	List(ctx context.Context, filter InvoiceFilter) ([]*Invoice, int64, error)
}

// CompanyRepository persists companies
type CompanyRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*Company, error)
	Create(ctx context.Context, company *Company) error
}

// ClientRepository persists clients
type ClientRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*Client, error)
	Create(ctx context.Context, client *Client) error
}

// LinkFunc mutates the locked company and invoice inside a chain commit.
type LinkFunc func(company *Company, invoice *Invoice) error

// ChainRepository commits chain links atomically.
//
// CommitLink reads the company and invoice under a row lock, lets fn
// compute and attach the link, then persists the invoice's chain fields and
// the company tip in one transaction. Storage failures are reported as
// shared.ErrChainIntegrity so the caller can retry the whole step.
type ChainRepository interface {
	CommitLink(ctx context.Context, companyID, invoiceID uuid.UUID, fn LinkFunc) (*Invoice, error)
}
