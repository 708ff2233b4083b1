package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/invoices/backend/internal/domain/invoicing"
	"github.com/invoices/backend/internal/domain/shared"
	"github.com/invoices/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
)

// GormInvoiceRepository implements invoicing.InvoiceRepository using GORM
type GormInvoiceRepository struct {
	db *gorm.DB
}

// NewGormInvoiceRepository creates a new GormInvoiceRepository
func NewGormInvoiceRepository(db *gorm.DB) *GormInvoiceRepository {
	return &GormInvoiceRepository{db: db}
}

var (
	_ invoicing.InvoiceRepository = (*GormInvoiceRepository)(nil)
	_ invoicing.InvoiceLister     = (*GormInvoiceRepository)(nil)
)

// maxListPageSize caps one page of an invoice listing
const maxListPageSize = 100

// FindByID loads an invoice with its lines
func (r *GormInvoiceRepository) FindByID(ctx context.Context, id uuid.UUID) (*invoicing.Invoice, error) {
	var model models.InvoiceModel
	err := r.db.WithContext(ctx).
		Preload("Items", orderByPosition).
		First(&model, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// Create stores a new invoice and its lines
func (r *GormInvoiceRepository) Create(ctx context.Context, inv *invoicing.Invoice) error {
	model := models.InvoiceModelFromDomain(inv)
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Items").Create(model).Error; err != nil {
			return err
		}
		if len(model.Items) == 0 {
			return nil
		}
		return tx.Create(&model.Items).Error
	})
}

// Update persists a state transition with optimistic locking. On success
// inv.Version is bumped to the stored value.
func (r *GormInvoiceRepository) Update(ctx context.Context, inv *invoicing.Invoice) error {
	return updateInvoice(r.db.WithContext(ctx), inv)
}

func updateInvoice(db *gorm.DB, inv *invoicing.Invoice) error {
	currentVersion := inv.Version
	model := models.InvoiceModelFromDomain(inv)
	columns := model.MutableColumns()
	columns["version"] = currentVersion + 1

	result := db.Model(&models.InvoiceModel{}).
		Where("id = ? AND version = ?", inv.ID, currentVersion).
		Updates(columns)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := db.Model(&models.InvoiceModel{}).Where("id = ?", inv.ID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return shared.ErrNotFound
		}
		return shared.NewDomainErrorf(shared.CodeConcurrencyConflict, "invoice %s was modified concurrently", inv.ID)
	}
	inv.Version = currentVersion + 1
	return nil
}

// FindStale returns invoices sitting in one of statuses since before
func (r *GormInvoiceRepository) FindStale(ctx context.Context, statuses []invoicing.Status, before time.Time, limit int) ([]*invoicing.Invoice, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	var rows []models.InvoiceModel
	err := r.db.WithContext(ctx).
		Preload("Items", orderByPosition).
		Where("status IN ? AND status_changed_at < ?", statuses, before).
		Order("status_changed_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return toDomainInvoices(rows), nil
}

// FindRetryable returns FAILED and TIMEOUT invoices that are not yet dead-lettered
func (r *GormInvoiceRepository) FindRetryable(ctx context.Context, before time.Time, limit int) ([]*invoicing.Invoice, error) {
	var rows []models.InvoiceModel
	err := r.db.WithContext(ctx).
		Preload("Items", orderByPosition).
		Where("status IN ? AND dead_lettered = ? AND status_changed_at < ?",
			[]invoicing.Status{invoicing.StatusFailed, invoicing.StatusTimeout}, false, before).
		Order("status_changed_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return toDomainInvoices(rows), nil
}

// FindChain returns a company's chained invoices in chain order
func (r *GormInvoiceRepository) FindChain(ctx context.Context, companyID uuid.UUID) ([]*invoicing.Invoice, error) {
	var rows []models.InvoiceModel
	err := r.db.WithContext(ctx).
		Preload("Items", orderByPosition).
		Where("company_id = ? AND hash <> ''", companyID).
		Order("chain_sequence ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return toDomainInvoices(rows), nil
}

// List returns one page of invoices matching filter plus the total count
func (r *GormInvoiceRepository) List(ctx context.Context, filter invoicing.InvoiceFilter) ([]*invoicing.Invoice, int64, error) {
	scope := func(db *gorm.DB) *gorm.DB {
		if filter.CompanyID != uuid.Nil {
			db = db.Where("company_id = ?", filter.CompanyID)
		}
		if filter.Status != "" {
			db = db.Where("status = ?", filter.Status)
		}
		if filter.DeadLettered != nil {
			db = db.Where("dead_lettered = ?", *filter.DeadLettered)
		}
		return db
	}

	var total int64
	if err := r.db.WithContext(ctx).Model(&models.InvoiceModel{}).Scopes(scope).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := filter.Filter.Normalize(maxListPageSize)
	sortField := ValidateSortField(page.OrderBy, InvoiceSortFields, "created_at")
	sortOrder := ValidateSortOrder(page.OrderDir)

	var rows []models.InvoiceModel
	err := r.db.WithContext(ctx).
		Scopes(scope).
		Preload("Items", orderByPosition).
		Order(sortField + " " + sortOrder).
		Order("id ASC").
		Offset(page.Offset()).
		Limit(page.PageSize).
		Find(&rows).Error
	if err != nil {
		return nil, 0, err
	}
	return toDomainInvoices(rows), total, nil
}

func orderByPosition(db *gorm.DB) *gorm.DB {
	return db.Order("position ASC")
}

func toDomainInvoices(rows []models.InvoiceModel) []*invoicing.Invoice {
	out := make([]*invoicing.Invoice, len(rows))
	for i := range rows {
		out[i] = rows[i].ToDomain()
	}
	return out
}
