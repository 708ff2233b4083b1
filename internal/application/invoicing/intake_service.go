package invoicing

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/invoices/backend/internal/domain/invoicing"
	"github.com/invoices/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var hundred = decimal.NewFromInt(100)

// CertificateSealer encrypts a company's signing secret bound to its tax ID
type CertificateSealer interface {
	Seal(plaintext []byte, companyTaxID string) (string, error)
}

// IntakeService registers companies and clients and records draft invoices.
// Issuing (DRAFT to PENDING) belongs to the submission pipeline.
type IntakeService struct {
	companies invoicing.CompanyRepository
	clients   invoicing.ClientRepository
	invoices  invoicing.InvoiceRepository
	sealer    CertificateSealer
	logger    *zap.Logger
	now       func() time.Time
}

// NewIntakeService creates an IntakeService
func NewIntakeService(companies invoicing.CompanyRepository, clients invoicing.ClientRepository, invoices invoicing.InvoiceRepository, sealer CertificateSealer, logger *zap.Logger) *IntakeService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IntakeService{
		companies: companies,
		clients:   clients,
		invoices:  invoices,
		sealer:    sealer,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CreateCompany seals the certificate and stores the company with an empty chain
func (s *IntakeService) CreateCompany(ctx context.Context, req CreateCompanyRequest) (*CompanyResponse, error) {
	taxID := normalizeTaxID(req.TaxID)
	if taxID == "" || strings.TrimSpace(req.Name) == "" {
		return nil, shared.NewDomainError(shared.CodeInvalidInput, "Tax ID and name are required")
	}
	if req.Certificate == "" {
		return nil, shared.NewDomainError(shared.CodeInvalidInput, "A signing certificate is required")
	}

	company := invoicing.NewCompany(taxID, strings.TrimSpace(req.Name))
	company.Address = req.Address
	company.City = req.City
	company.Country = strings.ToUpper(req.Country)

	ref, err := s.sealer.Seal([]byte(req.Certificate), taxID)
	if err != nil {
		return nil, shared.NewDomainErrorf(shared.CodeSigning, "failed to seal certificate: %v", err)
	}
	company.CertificateRef = ref

	if err := s.companies.Create(ctx, company); err != nil {
		return nil, err
	}
	s.logger.Info("Company registered",
		zap.String("company_id", company.ID.String()),
		zap.String("tax_id", taxID),
	)
	resp := ToCompanyResponse(company)
	return &resp, nil
}

// GetCompany returns a company including its chain tip
func (s *IntakeService) GetCompany(ctx context.Context, id uuid.UUID) (*CompanyResponse, error) {
	company, err := s.companies.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	resp := ToCompanyResponse(company)
	return &resp, nil
}

// CreateClient stores a recipient for an existing company
func (s *IntakeService) CreateClient(ctx context.Context, req CreateClientRequest) (*ClientResponse, error) {
	if _, err := s.findCompany(ctx, req.CompanyID); err != nil {
		return nil, err
	}
	taxID := normalizeTaxID(req.TaxID)
	if taxID == "" || strings.TrimSpace(req.Name) == "" {
		return nil, shared.NewDomainError(shared.CodeInvalidInput, "Tax ID and name are required")
	}

	client := invoicing.NewClient(req.CompanyID, taxID, strings.TrimSpace(req.Name))
	client.Address = req.Address
	client.City = req.City
	client.Country = strings.ToUpper(req.Country)
	if err := s.clients.Create(ctx, client); err != nil {
		return nil, err
	}
	resp := ToClientResponse(client)
	return &resp, nil
}

// CreateInvoice records a DRAFT invoice with its totals computed
func (s *IntakeService) CreateInvoice(ctx context.Context, req CreateInvoiceRequest) (*InvoiceResponse, error) {
	if _, err := s.findCompany(ctx, req.CompanyID); err != nil {
		return nil, err
	}
	client, err := s.clients.FindByID(ctx, req.ClientID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, shared.NewDomainError(shared.CodeInvalidInput, "Client not found")
		}
		return nil, err
	}
	if client.CompanyID != req.CompanyID {
		return nil, shared.NewDomainError(shared.CodeInvalidInput, "Client belongs to another company")
	}
	if err := validateRates(req.WithholdingRate, req.SurchargeRate); err != nil {
		return nil, err
	}

	items := make([]invoicing.Item, 0, len(req.Items))
	for i, it := range req.Items {
		if err := validateItem(i, it); err != nil {
			return nil, err
		}
		items = append(items, invoicing.Item{
			Description:  strings.TrimSpace(it.Description),
			Quantity:     it.Quantity,
			UnitPrice:    it.UnitPrice,
			TaxRate:      it.TaxRate,
			DiscountRate: it.DiscountRate,
		})
	}

	issueDate := req.IssueDate
	if issueDate.IsZero() {
		issueDate = s.now()
	}
	inv := invoicing.NewInvoice(req.CompanyID, req.ClientID, strings.TrimSpace(req.Number), issueDate.UTC(), items, req.WithholdingRate, req.SurchargeRate)
	inv.Series = req.Series
	inv.Notes = req.Notes
	if err := inv.Validate(); err != nil {
		return nil, err
	}
	if err := s.invoices.Create(ctx, inv); err != nil {
		return nil, err
	}
	resp := ToInvoiceResponse(inv)
	return &resp, nil
}

// GetInvoice returns the current pipeline view of an invoice
func (s *IntakeService) GetInvoice(ctx context.Context, id uuid.UUID) (*InvoiceResponse, error) {
	inv, err := s.invoices.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	resp := ToInvoiceResponse(inv)
	return &resp, nil
}

func (s *IntakeService) findCompany(ctx context.Context, id uuid.UUID) (*invoicing.Company, error) {
	company, err := s.companies.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, shared.NewDomainError(shared.CodeInvalidInput, "Company not found")
		}
		return nil, err
	}
	return company, nil
}

func normalizeTaxID(taxID string) string {
	return strings.ToUpper(strings.Join(strings.Fields(taxID), ""))
}

func validatePercent(field string, v decimal.Decimal) error {
	if v.IsNegative() || v.GreaterThan(hundred) {
		return shared.NewDomainErrorf(shared.CodeInvalidInput, "%s must be between 0 and 100", field)
	}
	return nil
}

func validateRates(withholding, surcharge decimal.Decimal) error {
	if err := validatePercent("withholding_rate", withholding); err != nil {
		return err
	}
	return validatePercent("surcharge_rate", surcharge)
}

func validateItem(i int, it ItemRequest) error {
	if strings.TrimSpace(it.Description) == "" {
		return shared.NewDomainErrorf(shared.CodeInvalidInput, "item %d: description is required", i)
	}
	if !it.Quantity.IsPositive() {
		return shared.NewDomainErrorf(shared.CodeInvalidInput, "item %d: quantity must be positive", i)
	}
	if it.UnitPrice.IsNegative() {
		return shared.NewDomainErrorf(shared.CodeInvalidInput, "item %d: unit price cannot be negative", i)
	}
	if err := validatePercent("tax_rate", it.TaxRate); err != nil {
		return err
	}
	return validatePercent("discount_rate", it.DiscountRate)
}
