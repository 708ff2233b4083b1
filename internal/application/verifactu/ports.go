package verifactu

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/invoices/backend/internal/domain/invoicing"
	"github.com/invoices/backend/internal/domain/verifactu"
)

// TenantLocker serializes chain mutations per company.
// Lock blocks until the key is free or ctx is done.
type TenantLocker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// SignedDocument is the signer's output for one invoice
type SignedDocument struct {
	Ref    string
	Digest string
	Body   []byte
}

// Signer produces a signed document with the company's certificate
type Signer interface {
	Sign(ctx context.Context, company *invoicing.Company, invoice *invoicing.Invoice, canonical []byte) (SignedDocument, error)
}

// Transmission is what gets dispatched to the tax authority (or the simulated path)
type Transmission struct {
	InvoiceID    uuid.UUID
	CompanyTaxID string
	Number       string
	HashBefore   string
	Hash         string
	Canonical    []byte
	Document     SignedDocument
}

// TransmissionReceipt is the transport's answer. Outcome is set when the
// result is known immediately (simulated path); otherwise it arrives by webhook.
type TransmissionReceipt struct {
	Raw     string
	Outcome *invoicing.Outcome
}

// Transmitter dispatches an invoice
type Transmitter interface {
	Transmit(ctx context.Context, t Transmission) (TransmissionReceipt, error)
}

// VerificationQueue receives invoices that should be (re)submitted
type VerificationQueue interface {
	Enqueue(ctx context.Context, invoiceID uuid.UUID, reason string) error
}

// QueueMessage is one delivery from the verification queue
type QueueMessage struct {
	ID        string
	InvoiceID uuid.UUID
	Reason    string
}

// QueueConsumer reads verification requests
type QueueConsumer interface {
	Receive(ctx context.Context, max int, block time.Duration) ([]QueueMessage, error)
	Ack(ctx context.Context, ids ...string) error
}

// DeadLetter describes an invoice that exhausted its retries
type DeadLetter struct {
	InvoiceID  uuid.UUID
	CompanyID  uuid.UUID
	Status     invoicing.Status
	RetryCount int
	LastError  string
	FailedAt   time.Time
}

// DeadLetterQueue is the channel for manual intervention
type DeadLetterQueue interface {
	Publish(ctx context.Context, dl DeadLetter) error
	Count(ctx context.Context) (int64, error)
}

// BatchMetricsStore accumulates sweep counters
type BatchMetricsStore interface {
	Record(ctx context.Context, stats SweepStats) error
	Load(ctx context.Context) (BatchSummary, error)
}

// Notifier is told once about every resolved invoice
type Notifier interface {
	InvoiceResolved(ctx context.Context, invoice *invoicing.Invoice) error
}

// RolloutProvider hands out the current immutable rollout snapshot
type RolloutProvider interface {
	Current() verifactu.RolloutConfig
}

// StaticRollout is a RolloutProvider with a fixed value
type StaticRollout verifactu.RolloutConfig

// Current implements RolloutProvider
func (s StaticRollout) Current() verifactu.RolloutConfig {
	return verifactu.RolloutConfig(s)
}

// Recorder receives pipeline measurements
type Recorder interface {
	SubmissionFinished(ctx context.Context, status invoicing.Status, realPath bool, elapsed time.Duration)
	ChainCommitted(ctx context.Context, attempts int)
	WebhookHandled(ctx context.Context, result string)
	SweepFinished(ctx context.Context, stats SweepStats)
}

type nopRecorder struct{}

func (nopRecorder) SubmissionFinished(context.Context, invoicing.Status, bool, time.Duration) {}
func (nopRecorder) ChainCommitted(context.Context, int)                                       {}
func (nopRecorder) WebhookHandled(context.Context, string)                                    {}
func (nopRecorder) SweepFinished(context.Context, SweepStats)                                 {}

// NopRecorder discards measurements
func NopRecorder() Recorder { return nopRecorder{} }
