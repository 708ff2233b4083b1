package persistence

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/invoices/backend/internal/domain/invoicing"
	"github.com/invoices/backend/internal/domain/shared"
	"github.com/invoices/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormChainRepository commits chain links inside a single transaction
// holding row locks on the company and the invoice.
type GormChainRepository struct {
	db *gorm.DB
}

// NewGormChainRepository creates a new GormChainRepository
func NewGormChainRepository(db *gorm.DB) *GormChainRepository {
	return &GormChainRepository{db: db}
}

var _ invoicing.ChainRepository = (*GormChainRepository)(nil)

// CommitLink implements invoicing.ChainRepository.
//
// The company row is locked first so that concurrent commits for the same
// company queue behind each other. The tip update is a compare-and-set on
// the previous hash as well as the version.
func (r *GormChainRepository) CommitLink(ctx context.Context, companyID, invoiceID uuid.UUID, fn invoicing.LinkFunc) (*invoicing.Invoice, error) {
	var committed *invoicing.Invoice
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var companyModel models.CompanyModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&companyModel, "id = ?", companyID).Error; err != nil {
			return notFoundOr(err)
		}
		var invoiceModel models.InvoiceModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&invoiceModel, "id = ?", invoiceID).Error; err != nil {
			return notFoundOr(err)
		}
		if err := tx.Where("invoice_id = ?", invoiceID).Order("position ASC").
			Find(&invoiceModel.Items).Error; err != nil {
			return err
		}

		company := companyModel.ToDomain()
		inv := invoiceModel.ToDomain()
		if inv.CompanyID != company.ID {
			return shared.NewDomainErrorf(shared.CodeInvalidInput, "invoice %s does not belong to company %s", inv.ID, company.ID)
		}

		prevTip, prevVersion := company.LastHash, company.Version
		if err := fn(company, inv); err != nil {
			return err
		}

		if err := updateInvoice(tx, inv); err != nil {
			return err
		}
		if company.LastHash != prevTip {
			result := tx.Model(&models.CompanyModel{}).
				Where("id = ? AND version = ? AND last_hash = ?", company.ID, prevVersion, prevTip).
				Updates(map[string]any{
					"last_hash":    company.LastHash,
					"chain_length": company.ChainLength,
					"version":      prevVersion + 1,
					"updated_at":   company.UpdatedAt,
				})
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				return shared.NewDomainErrorf(shared.CodeChainIntegrity, "company %s tip changed during commit", company.ID)
			}
		}
		committed = inv
		return nil
	})
	if err != nil {
		return nil, chainError(err)
	}
	return committed, nil
}

// chainError keeps domain errors as they are and reports storage failures
// as chain integrity errors so the caller retries the whole step.
func chainError(err error) error {
	var de *shared.DomainError
	if errors.As(err, &de) {
		if de.Code == shared.CodeConcurrencyConflict {
			return shared.NewDomainError(shared.CodeChainIntegrity, de.Message)
		}
		return err
	}
	return shared.NewDomainErrorf(shared.CodeChainIntegrity, "chain commit failed: %v", err)
}

func notFoundOr(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return shared.ErrNotFound
	}
	return err
}
