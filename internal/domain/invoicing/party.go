package invoicing

import (
	"time"

	"github.com/google/uuid"
	"github.com/invoices/backend/internal/domain/shared"
)

// Party is the issuer or recipient snapshot embedded in the canonical form
type Party struct {
	TaxID   string
	Name    string
	Address string
	City    string
	Country string
}

// Client is an invoice recipient owned by a company
type Client struct {
	shared.BaseEntity
	CompanyID uuid.UUID
	TaxID     string
	Name      string
	Address   string
	City      string
	Country   string
}

// NewClient creates a client
func NewClient(companyID uuid.UUID, taxID, name string) *Client {
	return &Client{
		BaseEntity: shared.NewBaseEntity(),
		CompanyID:  companyID,
		TaxID:      taxID,
		Name:       name,
	}
}

// Snapshot returns the recipient view of the client
func (c *Client) Snapshot() Party {
	return Party{
		TaxID:   c.TaxID,
		Name:    c.Name,
		Address: c.Address,
		City:    c.City,
		Country: c.Country,
	}
}

// Company is a tenant: an issuer owning one hash chain
type Company struct {
	shared.BaseAggregateRoot
	TaxID          string
	Name           string
	Address        string
	City           string
	Country        string
	LastHash       string
	ChainLength    int64
	CertificateRef string // sealed, opaque to the domain
}

// NewCompany creates a company with an empty chain
func NewCompany(taxID, name string) *Company {
	return &Company{
		BaseAggregateRoot: shared.NewBaseAggregateRoot(),
		TaxID:             taxID,
		Name:              name,
	}
}

// Snapshot returns the issuer view of the company
func (c *Company) Snapshot() Party {
	return Party{
		TaxID:   c.TaxID,
		Name:    c.Name,
		Address: c.Address,
		City:    c.City,
		Country: c.Country,
	}
}

// AdvanceTip moves the chain tip forward. expectedPrev must equal the
// current tip; the tip never moves backwards or sideways.
func (c *Company) AdvanceTip(expectedPrev, next string, now time.Time) error {
	if c.LastHash != expectedPrev {
		return shared.NewDomainErrorf(shared.CodeChainIntegrity,
			"company %s tip moved: expected %q, found %q", c.ID, expectedPrev, c.LastHash)
	}
	if next == "" || next == c.LastHash {
		return shared.NewDomainErrorf(shared.CodeChainIntegrity, "company %s: invalid next tip", c.ID)
	}
	c.LastHash = next
	c.ChainLength++
	c.Touch(now)
	return nil
}
