package verifactu

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/invoices/backend/internal/domain/invoicing"
	"github.com/invoices/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return testNow }

// memStore backs the fake repositories. CommitLink reads, yields and then
// writes without any check of its own, so only the service's locker keeps
// concurrent chain steps apart.
type memStore struct {
	mu        sync.Mutex
	invoices  map[uuid.UUID]*invoicing.Invoice
	companies map[uuid.UUID]*invoicing.Company
	clients   map[uuid.UUID]*invoicing.Client

	yield           func()
	commitFailures  int
	commitCalls     int
	observedTips    []string
	updateConflicts int
}

func newMemStore() *memStore {
	return &memStore{
		invoices:  make(map[uuid.UUID]*invoicing.Invoice),
		companies: make(map[uuid.UUID]*invoicing.Company),
		clients:   make(map[uuid.UUID]*invoicing.Client),
	}
}

func cloneInvoice(inv *invoicing.Invoice) *invoicing.Invoice {
	c := *inv
	c.Items = append([]invoicing.Item(nil), inv.Items...)
	if inv.Totals != nil {
		t := *inv.Totals
		c.Totals = &t
	}
	return &c
}

func cloneCompany(co *invoicing.Company) *invoicing.Company {
	c := *co
	return &c
}

func (m *memStore) putInvoice(inv *invoicing.Invoice) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invoices[inv.ID] = cloneInvoice(inv)
}

func (m *memStore) invoice(t *testing.T, id uuid.UUID) *invoicing.Invoice {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[id]
	require.True(t, ok)
	return cloneInvoice(inv)
}

func (m *memStore) company(t *testing.T, id uuid.UUID) *invoicing.Company {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	co, ok := m.companies[id]
	require.True(t, ok)
	return cloneCompany(co)
}

type invoiceRepo struct{ *memStore }

func (r invoiceRepo) FindByID(_ context.Context, id uuid.UUID) (*invoicing.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.invoices[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return cloneInvoice(inv), nil
}

func (r invoiceRepo) Create(_ context.Context, inv *invoicing.Invoice) error {
	r.putInvoice(inv)
	return nil
}

func (r invoiceRepo) Update(_ context.Context, inv *invoicing.Invoice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.invoices[inv.ID]
	if !ok {
		return shared.ErrNotFound
	}
	if stored.Version != inv.Version {
		r.updateConflicts++
		return shared.ErrConcurrencyConflict
	}
	inv.Version++
	r.invoices[inv.ID] = cloneInvoice(inv)
	return nil
}

func (r invoiceRepo) FindStale(_ context.Context, statuses []invoicing.Status, before time.Time, limit int) ([]*invoicing.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*invoicing.Invoice
	for _, inv := range r.invoices {
		for _, s := range statuses {
			if inv.Status == s && inv.StatusChangedAt.Before(before) {
				out = append(out, cloneInvoice(inv))
			}
		}
	}
	return limitInvoices(out, limit), nil
}

func (r invoiceRepo) FindRetryable(_ context.Context, before time.Time, limit int) ([]*invoicing.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*invoicing.Invoice
	for _, inv := range r.invoices {
		if inv.Status.IsRetryable() && !inv.DeadLettered && inv.StatusChangedAt.Before(before) {
			out = append(out, cloneInvoice(inv))
		}
	}
	return limitInvoices(out, limit), nil
}

func (r invoiceRepo) FindChain(_ context.Context, companyID uuid.UUID) ([]*invoicing.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*invoicing.Invoice
	for _, inv := range r.invoices {
		if inv.CompanyID == companyID && inv.IsChained() {
			out = append(out, cloneInvoice(inv))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChainSequence < out[j].ChainSequence })
	return out, nil
}

func limitInvoices(in []*invoicing.Invoice, limit int) []*invoicing.Invoice {
	sort.Slice(in, func(i, j int) bool { return in[i].StatusChangedAt.Before(in[j].StatusChangedAt) })
	if limit > 0 && len(in) > limit {
		return in[:limit]
	}
	return in
}

type companyRepo struct{ *memStore }

func (r companyRepo) FindByID(_ context.Context, id uuid.UUID) (*invoicing.Company, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	co, ok := r.companies[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return cloneCompany(co), nil
}

func (r companyRepo) Create(_ context.Context, co *invoicing.Company) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.companies[co.ID] = cloneCompany(co)
	return nil
}

type clientRepo struct{ *memStore }

func (r clientRepo) FindByID(_ context.Context, id uuid.UUID) (*invoicing.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cl, ok := r.clients[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	c := *cl
	return &c, nil
}

func (r clientRepo) Create(_ context.Context, cl *invoicing.Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *cl
	r.clients[cl.ID] = &c
	return nil
}

type chainRepo struct{ *memStore }

func (r chainRepo) CommitLink(_ context.Context, companyID, invoiceID uuid.UUID, fn invoicing.LinkFunc) (*invoicing.Invoice, error) {
	r.mu.Lock()
	r.commitCalls++
	if r.commitFailures > 0 {
		r.commitFailures--
		r.mu.Unlock()
		return nil, shared.NewDomainError(shared.CodeChainIntegrity, "simulated serialization failure")
	}
	co, ok := r.companies[companyID]
	inv, iok := r.invoices[invoiceID]
	if !ok || !iok {
		r.mu.Unlock()
		return nil, shared.ErrNotFound
	}
	company, invoice := cloneCompany(co), cloneInvoice(inv)
	r.mu.Unlock()

	if r.yield != nil {
		r.yield()
	}
	chainedBefore := invoice.IsChained()
	if err := fn(company, invoice); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if !chainedBefore {
		r.observedTips = append(r.observedTips, invoice.HashBefore)
		company.Version++
		r.companies[companyID] = cloneCompany(company)
	}
	invoice.Version++
	r.invoices[invoiceID] = cloneInvoice(invoice)
	return cloneInvoice(invoice), nil
}

type mutexLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newMutexLocker() *mutexLocker {
	return &mutexLocker{locks: make(map[string]*sync.Mutex)}
}

func (l *mutexLocker) Lock(_ context.Context, key string) (func(), error) {
	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()
	m.Lock()
	return m.Unlock, nil
}

type fakeSigner struct {
	err   error
	calls int
	mu    sync.Mutex
}

func (s *fakeSigner) Sign(_ context.Context, company *invoicing.Company, inv *invoicing.Invoice, canonical []byte) (SignedDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return SignedDocument{}, s.err
	}
	return SignedDocument{Ref: "signed/" + company.TaxID + "/" + inv.ID.String(), Digest: inv.Hash, Body: canonical}, nil
}

type fakeTransmitter struct {
	mu    sync.Mutex
	calls []Transmission
	fn    func(ctx context.Context, t Transmission) (TransmissionReceipt, error)
}

func (f *fakeTransmitter) Transmit(ctx context.Context, t Transmission) (TransmissionReceipt, error) {
	f.mu.Lock()
	f.calls = append(f.calls, t)
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(ctx, t)
	}
	return TransmissionReceipt{Raw: "sent:" + t.Hash}, nil
}

func (f *fakeTransmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func acceptingTransmitter() *fakeTransmitter {
	return &fakeTransmitter{fn: func(_ context.Context, t Transmission) (TransmissionReceipt, error) {
		return TransmissionReceipt{
			Raw:     "simulated:" + t.Hash,
			Outcome: &invoicing.Outcome{Accepted: true, AckCode: "SIM-" + t.Number, QRPayload: "qr:" + t.Hash[:8]},
		}, nil
	}}
}

type enqueued struct {
	InvoiceID uuid.UUID
	Reason    string
}

type fakeQueue struct {
	mu    sync.Mutex
	err   error
	items []enqueued
}

func (q *fakeQueue) Enqueue(_ context.Context, id uuid.UUID, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.items = append(q.items, enqueued{id, reason})
	return nil
}

type fakeNotifier struct {
	mu       sync.Mutex
	resolved []uuid.UUID
}

func (n *fakeNotifier) InvoiceResolved(_ context.Context, inv *invoicing.Invoice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.resolved = append(n.resolved, inv.ID)
	return nil
}

type fakeDLQ struct {
	mu      sync.Mutex
	letters []DeadLetter
	err     error
}

func (d *fakeDLQ) Publish(_ context.Context, dl DeadLetter) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.letters = append(d.letters, dl)
	return nil
}

func (d *fakeDLQ) Count(context.Context) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return int64(len(d.letters)), nil
}

type fakeBatch struct {
	mu      sync.Mutex
	summary BatchSummary
}

func (b *fakeBatch) Record(_ context.Context, s SweepStats) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.summary.TotalRuns++
	b.summary.TotalFound += int64(s.Found)
	b.summary.TotalRequeued += int64(s.Requeued)
	b.summary.TotalDeadLettered += int64(s.DeadLettered)
	ran := s.RanAt
	b.summary.LastRunAt = &ran
	b.summary.LastFound = int64(s.Found)
	b.summary.LastRequeued = int64(s.Requeued)
	b.summary.LastDeadLettered = int64(s.DeadLettered)
	return nil
}

func (b *fakeBatch) Load(context.Context) (BatchSummary, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.summary, nil
}

type memIdempotency struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func newMemIdempotency() *memIdempotency {
	return &memIdempotency{keys: make(map[string]struct{})}
}

func (m *memIdempotency) MarkProcessed(_ context.Context, key string, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keys[key]; ok {
		return false, nil
	}
	m.keys[key] = struct{}{}
	return true, nil
}

func (m *memIdempotency) IsProcessed(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.keys[key]
	return ok, nil
}

func (m *memIdempotency) Forget(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	return nil
}

func (m *memIdempotency) Close() error { return nil }

var errBoom = errors.New("boom")

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// seedCompany stores a company with an empty chain and one client
func seedCompany(store *memStore, taxID string) (*invoicing.Company, *invoicing.Client) {
	company := invoicing.NewCompany(taxID, "Acme "+taxID)
	company.Country = "ES"
	client := invoicing.NewClient(company.ID, "12345678Z", "Jane Roe")
	store.companies[company.ID] = cloneCompany(company)
	c := *client
	store.clients[client.ID] = &c
	return company, client
}

// seedPending stores a PENDING invoice totalling 121.00
func seedPending(store *memStore, company *invoicing.Company, client *invoicing.Client, number string) *invoicing.Invoice {
	items := []invoicing.Item{{Description: "Consulting", Quantity: dec("1"), UnitPrice: dec("100"), TaxRate: dec("21")}}
	inv := invoicing.NewInvoice(company.ID, client.ID, number, testNow, items, decimal.Zero, decimal.Zero)
	inv.Status = invoicing.StatusPending
	inv.StatusChangedAt = testNow
	store.putInvoice(inv)
	return inv
}
