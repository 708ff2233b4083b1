package persistence

import (
	"errors"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/invoices/backend/internal/domain/invoicing"
	"github.com/invoices/backend/internal/domain/shared"
	"github.com/invoices/backend/internal/domain/verifactu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func (f *fixture) linkFunc(recipient invoicing.Party) invoicing.LinkFunc {
	return func(company *invoicing.Company, inv *invoicing.Invoice) error {
		link, err := verifactu.ComputeLink(inv, company, recipient)
		if err != nil {
			return err
		}
		if err := inv.AttachChain(link.HashBefore, link.Hash, link.Sequence, t0); err != nil {
			return err
		}
		return company.AdvanceTip(link.HashBefore, link.Hash, t0)
	}
}

func TestGormChainRepository_CommitLink(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()

	first := f.processing(t)
	second := f.processing(t)

	got, err := f.repos.Chain.CommitLink(ctx, f.company.ID, first.ID, f.linkFunc(f.client.Snapshot()))
	require.NoError(t, err)
	assert.Equal(t, invoicing.StatusSending, got.Status)
	assert.Empty(t, got.HashBefore)
	assert.Equal(t, int64(1), got.ChainSequence)

	got2, err := f.repos.Chain.CommitLink(ctx, f.company.ID, second.ID, f.linkFunc(f.client.Snapshot()))
	require.NoError(t, err)
	assert.Equal(t, got.Hash, got2.HashBefore)
	assert.Equal(t, int64(2), got2.ChainSequence)

	company, err := f.repos.Companies.FindByID(ctx, f.company.ID)
	require.NoError(t, err)
	assert.Equal(t, got2.Hash, company.LastHash)
	assert.Equal(t, int64(2), company.ChainLength)
	assert.Equal(t, 3, company.Version)

	stored, err := f.repos.Invoices.FindByID(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, got2.Hash, stored.Hash)
	assert.Equal(t, got2.Version, stored.Version)
}

func TestGormChainRepository_CommitLink_FnErrorRollsBack(t *testing.T) {
	f := newFixture(t)
	inv := f.processing(t)

	_, err := f.repos.Chain.CommitLink(t.Context(), f.company.ID, inv.ID, func(c *invoicing.Company, i *invoicing.Invoice) error {
		if err := c.AdvanceTip("", "deadbeef", t0); err != nil {
			return err
		}
		return shared.NewDomainError(shared.CodeInvalidState, "refused")
	})
	assert.ErrorIs(t, err, shared.ErrInvalidState)

	company, err := f.repos.Companies.FindByID(t.Context(), f.company.ID)
	require.NoError(t, err)
	assert.Empty(t, company.LastHash, "tip must not move when the link is refused")
}

func TestGormChainRepository_CommitLink_WrongCompany(t *testing.T) {
	f := newFixture(t)
	inv := f.processing(t)
	other := invoicing.NewCompany("B99999999", "Other SL")
	require.NoError(t, f.repos.Companies.Create(t.Context(), other))

	_, err := f.repos.Chain.CommitLink(t.Context(), other.ID, inv.ID, f.linkFunc(f.client.Snapshot()))
	assert.ErrorIs(t, err, shared.ErrInvalidInput)

	_, err = f.repos.Chain.CommitLink(t.Context(), f.company.ID, uuid.New(), f.linkFunc(f.client.Snapshot()))
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestGormChainRepository_ConcurrentCommitsFormOneChain(t *testing.T) {
	f := newFixture(t)
	const n = 8
	invoices := make([]*invoicing.Invoice, n)
	for i := range invoices {
		invoices[i] = f.processing(t)
	}

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i, inv := range invoices {
		wg.Add(1)
		go func(i int, id uuid.UUID) {
			defer wg.Done()
			_, errs[i] = f.repos.Chain.CommitLink(t.Context(), f.company.ID, id, f.linkFunc(f.client.Snapshot()))
		}(i, inv.ID)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	chain, err := f.repos.Invoices.FindChain(t.Context(), f.company.ID)
	require.NoError(t, err)
	require.Len(t, chain, n)

	entries := make([]verifactu.ChainEntry, len(chain))
	for i, inv := range chain {
		link, err := verifactu.ComputeLink(inv, &invoicing.Company{
			BaseAggregateRoot: f.company.BaseAggregateRoot,
			TaxID:             f.company.TaxID,
			Name:              f.company.Name,
			City:              f.company.City,
			Country:           f.company.Country,
			LastHash:          inv.HashBefore,
			ChainLength:       inv.ChainSequence - 1,
		}, f.client.Snapshot())
		require.NoError(t, err)
		entries[i] = verifactu.ChainEntry{
			InvoiceID:  inv.ID,
			Sequence:   inv.ChainSequence,
			HashBefore: inv.HashBefore,
			Hash:       inv.Hash,
			Recomputed: link.Hash,
		}
	}
	idx, err := verifactu.VerifyChain(entries)
	assert.NoError(t, err)
	assert.Equal(t, -1, idx)
}

func TestGormChainRepository_StorageErrorIsChainIntegrity(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	companyID, invoiceID := uuid.New(), uuid.New()
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "companies" WHERE id = \$1 .*FOR UPDATE`).
		WillReturnError(errors.New("connection reset by peer"))
	mock.ExpectRollback()

	_, err = NewGormChainRepository(db).CommitLink(t.Context(), companyID, invoiceID, func(*invoicing.Company, *invoicing.Invoice) error {
		t.Fatal("link function must not run")
		return nil
	})
	assert.ErrorIs(t, err, shared.ErrChainIntegrity)
	assert.Contains(t, err.Error(), "connection reset")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChainError(t *testing.T) {
	conflict := shared.NewDomainError(shared.CodeConcurrencyConflict, "stale")
	assert.ErrorIs(t, chainError(conflict), shared.ErrChainIntegrity)
	assert.ErrorIs(t, chainError(shared.ErrNotFound), shared.ErrNotFound)
	assert.ErrorIs(t, chainError(errors.New("io")), shared.ErrChainIntegrity)
}
