package invoicing

import (
	"time"

	"github.com/google/uuid"
	"github.com/invoices/backend/internal/domain/invoicing"
	"github.com/shopspring/decimal"
)

// CreateCompanyRequest registers an issuer. Certificate is sealed before it is stored.
type CreateCompanyRequest struct {
	TaxID       string `json:"tax_id" binding:"required,min=9,max=20"`
	Name        string `json:"name" binding:"required,min=1,max=200"`
	Address     string `json:"address" binding:"max=300"`
	City        string `json:"city" binding:"max=100"`
	Country     string `json:"country" binding:"omitempty,len=2"`
	Certificate string `json:"certificate" binding:"required,min=16"`
}

// CreateClientRequest registers a recipient under a company
type CreateClientRequest struct {
	CompanyID uuid.UUID `json:"company_id" binding:"required"`
	TaxID     string    `json:"tax_id" binding:"required,min=9,max=20"`
	Name      string    `json:"name" binding:"required,min=1,max=200"`
	Address   string    `json:"address" binding:"max=300"`
	City      string    `json:"city" binding:"max=100"`
	Country   string    `json:"country" binding:"omitempty,len=2"`
}

// ItemRequest is one invoice line
type ItemRequest struct {
	Description  string          `json:"description" binding:"required,max=500"`
	Quantity     decimal.Decimal `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	TaxRate      decimal.Decimal `json:"tax_rate"`
	DiscountRate decimal.Decimal `json:"discount_rate"`
}

// CreateInvoiceRequest creates a DRAFT invoice
type CreateInvoiceRequest struct {
	CompanyID       uuid.UUID       `json:"company_id" binding:"required"`
	ClientID        uuid.UUID       `json:"client_id" binding:"required"`
	Series          string          `json:"series" binding:"max=20"`
	Number          string          `json:"number" binding:"required,max=60"`
	IssueDate       time.Time       `json:"issue_date" binding:"required"`
	Notes           string          `json:"notes" binding:"max=2000"`
	WithholdingRate decimal.Decimal `json:"withholding_rate"`
	SurchargeRate   decimal.Decimal `json:"surcharge_rate"`
	Items           []ItemRequest   `json:"items" binding:"required,min=1,dive"`
}

// CompanyResponse is a company as exposed over the API. The sealed
// certificate reference is never returned.
type CompanyResponse struct {
	ID          uuid.UUID `json:"id"`
	TaxID       string    `json:"tax_id"`
	Name        string    `json:"name"`
	Address     string    `json:"address,omitempty"`
	City        string    `json:"city,omitempty"`
	Country     string    `json:"country,omitempty"`
	LastHash    string    `json:"last_hash"`
	ChainLength int64     `json:"chain_length"`
	CreatedAt   time.Time `json:"created_at"`
}

// ClientResponse is a client as exposed over the API
type ClientResponse struct {
	ID        uuid.UUID `json:"id"`
	CompanyID uuid.UUID `json:"company_id"`
	TaxID     string    `json:"tax_id"`
	Name      string    `json:"name"`
	Address   string    `json:"address,omitempty"`
	City      string    `json:"city,omitempty"`
	Country   string    `json:"country,omitempty"`
}

// TotalsResponse carries the derived amounts
type TotalsResponse struct {
	Base        decimal.Decimal `json:"base"`
	Tax         decimal.Decimal `json:"tax"`
	Withholding decimal.Decimal `json:"withholding"`
	Surcharge   decimal.Decimal `json:"surcharge"`
	Total       decimal.Decimal `json:"total"`
}

// InvoiceResponse is the pipeline view of an invoice
type InvoiceResponse struct {
	ID                uuid.UUID       `json:"id"`
	CompanyID         uuid.UUID       `json:"company_id"`
	ClientID          uuid.UUID       `json:"client_id"`
	Series            string          `json:"series,omitempty"`
	Number            string          `json:"number"`
	IssueDate         time.Time       `json:"issue_date"`
	Totals            *TotalsResponse `json:"totals,omitempty"`
	Status            string          `json:"status"`
	StatusChangedAt   time.Time       `json:"status_changed_at"`
	HashBefore        string          `json:"hash_before,omitempty"`
	Hash              string          `json:"hash,omitempty"`
	ChainSequence     int64           `json:"chain_sequence,omitempty"`
	SignedDocumentRef string          `json:"signed_document_ref,omitempty"`
	AckCode           string          `json:"ack_code,omitempty"`
	QRPayload         string          `json:"qr_payload,omitempty"`
	RetryCount        int             `json:"retry_count"`
	LastErrorCode     string          `json:"last_error_code,omitempty"`
	LastError         string          `json:"last_error,omitempty"`
	DeadLettered      bool            `json:"dead_lettered"`
	SubmittedAt       *time.Time      `json:"submitted_at,omitempty"`
	ResolvedAt        *time.Time      `json:"resolved_at,omitempty"`
	Version           int             `json:"version"`
}

// ToCompanyResponse maps a company
func ToCompanyResponse(c *invoicing.Company) CompanyResponse {
	return CompanyResponse{
		ID:          c.ID,
		TaxID:       c.TaxID,
		Name:        c.Name,
		Address:     c.Address,
		City:        c.City,
		Country:     c.Country,
		LastHash:    c.LastHash,
		ChainLength: c.ChainLength,
		CreatedAt:   c.CreatedAt,
	}
}

// ToClientResponse maps a client
func ToClientResponse(c *invoicing.Client) ClientResponse {
	return ClientResponse{
		ID:        c.ID,
		CompanyID: c.CompanyID,
		TaxID:     c.TaxID,
		Name:      c.Name,
		Address:   c.Address,
		City:      c.City,
		Country:   c.Country,
	}
}

// ToInvoiceResponse maps an invoice
func ToInvoiceResponse(inv *invoicing.Invoice) InvoiceResponse {
	resp := InvoiceResponse{
		ID:                inv.ID,
		CompanyID:         inv.CompanyID,
		ClientID:          inv.ClientID,
		Series:            inv.Series,
		Number:            inv.Number,
		IssueDate:         inv.IssueDate,
		Status:            inv.Status.String(),
		StatusChangedAt:   inv.StatusChangedAt,
		HashBefore:        inv.HashBefore,
		Hash:              inv.Hash,
		ChainSequence:     inv.ChainSequence,
		SignedDocumentRef: inv.SignedDocumentRef,
		AckCode:           inv.AckCode,
		QRPayload:         inv.QRPayload,
		RetryCount:        inv.RetryCount,
		LastErrorCode:     inv.LastErrorCode,
		LastError:         inv.LastError,
		DeadLettered:      inv.DeadLettered,
		SubmittedAt:       inv.SubmittedAt,
		ResolvedAt:        inv.ResolvedAt,
		Version:           inv.Version,
	}
	if t := inv.Totals; t != nil {
		resp.Totals = &TotalsResponse{
			Base:        t.Base,
			Tax:         t.Tax,
			Withholding: t.Withholding,
			Surcharge:   t.Surcharge,
			Total:       t.Total,
		}
	}
	return resp
}
