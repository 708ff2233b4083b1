package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/invoices/backend/internal/domain/invoicing"
	"github.com/invoices/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// CompanyModel is the persistence model for the Company aggregate.
// LastHash and ChainLength form the chain tip.
type CompanyModel struct {
	AggregateModel
	TaxID          string `gorm:"type:varchar(32);not null;uniqueIndex"`
	Name           string `gorm:"type:varchar(200);not null"`
	Address        string `gorm:"type:varchar(300)"`
	City           string `gorm:"type:varchar(100)"`
	Country        string `gorm:"type:varchar(2)"`
	LastHash       string `gorm:"type:varchar(64);not null;default:''"`
	ChainLength    int64  `gorm:"not null;default:0"`
	CertificateRef string `gorm:"type:text"`
}

func (CompanyModel) TableName() string {
	return "companies"
}

// ToDomain converts the model to a domain Company
func (m *CompanyModel) ToDomain() *invoicing.Company {
	return &invoicing.Company{
		BaseAggregateRoot: m.aggregateRoot(),
		TaxID:             m.TaxID,
		Name:              m.Name,
		Address:           m.Address,
		City:              m.City,
		Country:           m.Country,
		LastHash:          m.LastHash,
		ChainLength:       m.ChainLength,
		CertificateRef:    m.CertificateRef,
	}
}

// CompanyModelFromDomain creates a model from a domain Company
func CompanyModelFromDomain(c *invoicing.Company) *CompanyModel {
	m := &CompanyModel{
		TaxID:          c.TaxID,
		Name:           c.Name,
		Address:        c.Address,
		City:           c.City,
		Country:        c.Country,
		LastHash:       c.LastHash,
		ChainLength:    c.ChainLength,
		CertificateRef: c.CertificateRef,
	}
	m.FromDomainAggregateRoot(c.BaseAggregateRoot)
	return m
}

// ClientModel is the persistence model for invoice recipients
type ClientModel struct {
	BaseModel
	CompanyID uuid.UUID `gorm:"type:uuid;not null;index"`
	TaxID     string    `gorm:"type:varchar(32);not null"`
	Name      string    `gorm:"type:varchar(200);not null"`
	Address   string    `gorm:"type:varchar(300)"`
	City      string    `gorm:"type:varchar(100)"`
	Country   string    `gorm:"type:varchar(2)"`
}

func (ClientModel) TableName() string {
	return "clients"
}

// ToDomain converts the model to a domain Client
func (m *ClientModel) ToDomain() *invoicing.Client {
	return &invoicing.Client{
		BaseEntity: m.BaseModel.ToDomain(),
		CompanyID:  m.CompanyID,
		TaxID:      m.TaxID,
		Name:       m.Name,
		Address:    m.Address,
		City:       m.City,
		Country:    m.Country,
	}
}

// ClientModelFromDomain creates a model from a domain Client
func ClientModelFromDomain(c *invoicing.Client) *ClientModel {
	m := &ClientModel{
		CompanyID: c.CompanyID,
		TaxID:     c.TaxID,
		Name:      c.Name,
		Address:   c.Address,
		City:      c.City,
		Country:   c.Country,
	}
	m.FromDomainBaseEntity(c.BaseEntity)
	return m
}

// InvoiceModel is the persistence model for the Invoice aggregate
type InvoiceModel struct {
	AggregateModel
	CompanyID       uuid.UUID          `gorm:"type:uuid;not null;index;uniqueIndex:idx_invoice_number,priority:1"`
	ClientID        uuid.UUID          `gorm:"type:uuid;not null"`
	Series          string             `gorm:"type:varchar(20);not null;default:'';uniqueIndex:idx_invoice_number,priority:2"`
	Number          string             `gorm:"type:varchar(50);not null;uniqueIndex:idx_invoice_number,priority:3"`
	IssueDate       time.Time          `gorm:"type:date;not null"`
	Notes           string             `gorm:"type:text"`
	WithholdingRate decimal.Decimal    `gorm:"type:decimal(7,4);not null;default:0"`
	SurchargeRate   decimal.Decimal    `gorm:"type:decimal(7,4);not null;default:0"`
	BaseAmount      decimal.Decimal    `gorm:"type:decimal(18,2);not null;default:0"`
	TaxAmount       decimal.Decimal    `gorm:"type:decimal(18,2);not null;default:0"`
	Withholding     decimal.Decimal    `gorm:"type:decimal(18,2);not null;default:0"`
	Surcharge       decimal.Decimal    `gorm:"type:decimal(18,2);not null;default:0"`
	Total           decimal.Decimal    `gorm:"type:decimal(18,2);not null;default:0"`
	Items           []InvoiceItemModel `gorm:"foreignKey:InvoiceID;references:ID"`

	Status          invoicing.Status `gorm:"type:varchar(20);not null;default:'DRAFT';index:idx_invoice_status_changed,priority:1"`
	StatusChangedAt time.Time        `gorm:"not null;index:idx_invoice_status_changed,priority:2"`

	HashBefore    string `gorm:"type:varchar(64);not null;default:''"`
	Hash          string `gorm:"type:varchar(64);not null;default:''"`
	ChainSequence int64  `gorm:"not null;default:0"`

	SignedDocumentRef string `gorm:"type:varchar(500)"`
	AckCode           string `gorm:"type:varchar(100)"`
	QRPayload         string `gorm:"column:qr_payload;type:text"`
	RawTransmission   string `gorm:"type:text"`

	RetryCount    int    `gorm:"not null;default:0"`
	LastErrorCode string `gorm:"type:varchar(50);not null;default:''"`
	LastError     string `gorm:"type:text"`
	DeadLettered  bool   `gorm:"not null;default:false"`

	SubmittedAt *time.Time
	ResolvedAt  *time.Time `gorm:"index"`
}

func (InvoiceModel) TableName() string {
	return "invoices"
}

// ToDomain converts the model, including loaded items, to a domain Invoice
func (m *InvoiceModel) ToDomain() *invoicing.Invoice {
	inv := &invoicing.Invoice{
		BaseAggregateRoot: m.aggregateRoot(),
		CompanyID:         m.CompanyID,
		ClientID:          m.ClientID,
		Series:            m.Series,
		Number:            m.Number,
		IssueDate:         m.IssueDate.UTC(),
		Notes:             m.Notes,
		WithholdingRate:   m.WithholdingRate,
		SurchargeRate:     m.SurchargeRate,
		Totals: &invoicing.Totals{
			Base:        m.BaseAmount,
			Tax:         m.TaxAmount,
			Withholding: m.Withholding,
			Surcharge:   m.Surcharge,
			Total:       m.Total,
		},
		Status:            m.Status,
		StatusChangedAt:   m.StatusChangedAt.UTC(),
		HashBefore:        m.HashBefore,
		Hash:              m.Hash,
		ChainSequence:     m.ChainSequence,
		SignedDocumentRef: m.SignedDocumentRef,
		AckCode:           m.AckCode,
		QRPayload:         m.QRPayload,
		RawTransmission:   m.RawTransmission,
		RetryCount:        m.RetryCount,
		LastErrorCode:     m.LastErrorCode,
		LastError:         m.LastError,
		DeadLettered:      m.DeadLettered,
		SubmittedAt:       utcPtr(m.SubmittedAt),
		ResolvedAt:        utcPtr(m.ResolvedAt),
	}
	inv.Items = make([]invoicing.Item, len(m.Items))
	for i, item := range m.Items {
		inv.Items[i] = item.ToDomain()
	}
	return inv
}

// InvoiceModelFromDomain creates a model from a domain Invoice
func InvoiceModelFromDomain(inv *invoicing.Invoice) *InvoiceModel {
	m := &InvoiceModel{
		CompanyID:         inv.CompanyID,
		ClientID:          inv.ClientID,
		Series:            inv.Series,
		Number:            inv.Number,
		IssueDate:         inv.IssueDate,
		Notes:             inv.Notes,
		WithholdingRate:   inv.WithholdingRate,
		SurchargeRate:     inv.SurchargeRate,
		Status:            inv.Status,
		StatusChangedAt:   inv.StatusChangedAt,
		HashBefore:        inv.HashBefore,
		Hash:              inv.Hash,
		ChainSequence:     inv.ChainSequence,
		SignedDocumentRef: inv.SignedDocumentRef,
		AckCode:           inv.AckCode,
		QRPayload:         inv.QRPayload,
		RawTransmission:   inv.RawTransmission,
		RetryCount:        inv.RetryCount,
		LastErrorCode:     inv.LastErrorCode,
		LastError:         inv.LastError,
		DeadLettered:      inv.DeadLettered,
		SubmittedAt:       inv.SubmittedAt,
		ResolvedAt:        inv.ResolvedAt,
	}
	m.FromDomainAggregateRoot(inv.BaseAggregateRoot)
	if inv.Totals != nil {
		m.BaseAmount = inv.Totals.Base
		m.TaxAmount = inv.Totals.Tax
		m.Withholding = inv.Totals.Withholding
		m.Surcharge = inv.Totals.Surcharge
		m.Total = inv.Totals.Total
	}
	m.Items = make([]InvoiceItemModel, len(inv.Items))
	for i, item := range inv.Items {
		m.Items[i] = InvoiceItemModel{
			ID:           uuid.New(),
			InvoiceID:    inv.ID,
			Position:     i,
			Description:  item.Description,
			Quantity:     item.Quantity,
			UnitPrice:    item.UnitPrice,
			TaxRate:      item.TaxRate,
			DiscountRate: item.DiscountRate,
		}
	}
	return m
}

// MutableColumns are the invoice columns a pipeline transition may change.
// Lines, amounts and identity are fixed once the invoice exists.
func (m *InvoiceModel) MutableColumns() map[string]any {
	return map[string]any{
		"status":              m.Status,
		"status_changed_at":   m.StatusChangedAt,
		"hash_before":         m.HashBefore,
		"hash":                m.Hash,
		"chain_sequence":      m.ChainSequence,
		"signed_document_ref": m.SignedDocumentRef,
		"ack_code":            m.AckCode,
		"qr_payload":          m.QRPayload,
		"raw_transmission":    m.RawTransmission,
		"retry_count":         m.RetryCount,
		"last_error_code":     m.LastErrorCode,
		"last_error":          m.LastError,
		"dead_lettered":       m.DeadLettered,
		"submitted_at":        m.SubmittedAt,
		"resolved_at":         m.ResolvedAt,
		"updated_at":          m.UpdatedAt,
	}
}

// InvoiceItemModel is one stored invoice line
type InvoiceItemModel struct {
	ID           uuid.UUID       `gorm:"type:uuid;primary_key"`
	InvoiceID    uuid.UUID       `gorm:"type:uuid;not null;index"`
	Position     int             `gorm:"not null"`
	Description  string          `gorm:"type:varchar(500);not null"`
	Quantity     decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	UnitPrice    decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	TaxRate      decimal.Decimal `gorm:"type:decimal(7,4);not null;default:0"`
	DiscountRate decimal.Decimal `gorm:"type:decimal(7,4);not null;default:0"`
}

func (InvoiceItemModel) TableName() string {
	return "invoice_items"
}

// ToDomain converts the model to a domain Item
func (m InvoiceItemModel) ToDomain() invoicing.Item {
	return invoicing.Item{
		Description:  m.Description,
		Quantity:     m.Quantity,
		UnitPrice:    m.UnitPrice,
		TaxRate:      m.TaxRate,
		DiscountRate: m.DiscountRate,
	}
}

func (m *AggregateModel) aggregateRoot() shared.BaseAggregateRoot {
	return shared.BaseAggregateRoot{BaseEntity: m.BaseModel.ToDomain(), Version: m.Version}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
