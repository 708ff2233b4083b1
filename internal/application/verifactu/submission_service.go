package verifactu

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/invoices/backend/internal/domain/invoicing"
	"github.com/invoices/backend/internal/domain/shared"
	"github.com/invoices/backend/internal/domain/verifactu"
	"github.com/invoices/backend/internal/infrastructure/profiling"
	"go.uber.org/zap"
)

// Enqueue reasons
const (
	ReasonIssued = "issued"
	ReasonRetry  = "retry"
	ReasonManual = "manual_retry"
	ReasonStale  = "stale_pending"
)

// SubmissionConfig wires the submission pipeline
type SubmissionConfig struct {
	Invoices  invoicing.InvoiceRepository
	Companies invoicing.CompanyRepository
	Clients   invoicing.ClientRepository
	Chain     invoicing.ChainRepository
	Locker    TenantLocker
	Signer    Signer
	Real      Transmitter
	Simulated Transmitter
	Queue     VerificationQueue
	Notifier  Notifier
	Recorder  Recorder
	Logger    *zap.Logger

	TransmissionTimeout time.Duration
	ChainRetryAttempts  int
	ChainRetryBackoff   time.Duration
	Now                 func() time.Time
}

// SubmissionService drives an invoice from PENDING through chaining,
// signing and transmission.
type SubmissionService struct {
	invoices  invoicing.InvoiceRepository
	companies invoicing.CompanyRepository
	clients   invoicing.ClientRepository
	chain     invoicing.ChainRepository
	locker    TenantLocker
	signer    Signer
	real      Transmitter
	simulated Transmitter
	queue     VerificationQueue
	notifier  Notifier
	recorder  Recorder
	logger    *zap.Logger

	timeout       time.Duration
	chainAttempts int
	chainBackoff  time.Duration
	now           func() time.Time
}

// SubmitResult reports where a submission left the invoice. Chain and
// transmission failures are recorded on the invoice and reported here,
// not returned as errors.
type SubmitResult struct {
	InvoiceID        uuid.UUID
	Status           invoicing.Status
	HashBefore       string
	Hash             string
	Sequence         int64
	RealTransmission bool
	AckCode          string
	ErrorCode        string
	Error            string
}

// EnqueueResult separates "the invoice moved" from "the verification
// request was delivered". A failed enqueue leaves the invoice eligible for
// a later sweep.
type EnqueueResult struct {
	InvoiceID    uuid.UUID
	Status       invoicing.Status
	Enqueued     bool
	EnqueueError string
}

// NewSubmissionService creates a SubmissionService
func NewSubmissionService(cfg SubmissionConfig) *SubmissionService {
	s := &SubmissionService{
		invoices:      cfg.Invoices,
		companies:     cfg.Companies,
		clients:       cfg.Clients,
		chain:         cfg.Chain,
		locker:        cfg.Locker,
		signer:        cfg.Signer,
		real:          cfg.Real,
		simulated:     cfg.Simulated,
		queue:         cfg.Queue,
		notifier:      cfg.Notifier,
		recorder:      cfg.Recorder,
		logger:        cfg.Logger,
		timeout:       cfg.TransmissionTimeout,
		chainAttempts: cfg.ChainRetryAttempts,
		chainBackoff:  cfg.ChainRetryBackoff,
		now:           cfg.Now,
	}
	if s.recorder == nil {
		s.recorder = NopRecorder()
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.timeout <= 0 {
		s.timeout = 30 * time.Second
	}
	if s.chainAttempts <= 0 {
		s.chainAttempts = 3
	}
	if s.chainBackoff <= 0 {
		s.chainBackoff = 50 * time.Millisecond
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s
}

// MarkPending hands a DRAFT invoice to the pipeline and requests verification
func (s *SubmissionService) MarkPending(ctx context.Context, invoiceID uuid.UUID) (*EnqueueResult, error) {
	inv, err := s.invoices.FindByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if err := inv.MarkPending(s.now()); err != nil {
		return nil, err
	}
	if err := s.invoices.Update(ctx, inv); err != nil {
		return nil, err
	}
	return s.enqueue(ctx, inv, ReasonIssued), nil
}

// Retry is the manual retry: a FAILED or TIMEOUT invoice goes back to
// PENDING with a fresh retry budget and is enqueued again.
func (s *SubmissionService) Retry(ctx context.Context, invoiceID uuid.UUID) (*EnqueueResult, error) {
	inv, err := s.invoices.FindByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if err := inv.Requeue(s.now()); err != nil {
		return nil, err
	}
	inv.ResetForManualRetry()
	if err := s.invoices.Update(ctx, inv); err != nil {
		return nil, err
	}
	return s.enqueue(ctx, inv, ReasonManual), nil
}

func (s *SubmissionService) enqueue(ctx context.Context, inv *invoicing.Invoice, reason string) *EnqueueResult {
	res := &EnqueueResult{InvoiceID: inv.ID, Status: inv.Status}
	if s.queue == nil {
		res.EnqueueError = "verification queue not configured"
		return res
	}
	if err := s.queue.Enqueue(ctx, inv.ID, reason); err != nil {
		s.logger.Warn("Failed to enqueue invoice for verification",
			zap.String("invoice_id", inv.ID.String()),
			zap.String("reason", reason),
			zap.Error(err),
		)
		res.EnqueueError = err.Error()
		return res
	}
	res.Enqueued = true
	return res
}

// Submit runs the pipeline for one PENDING invoice using the given rollout
// snapshot. Validation, not-found and state errors are returned; everything
// after the validation gate ends on the invoice itself.
func (s *SubmissionService) Submit(ctx context.Context, invoiceID uuid.UUID, rollout verifactu.RolloutConfig) (*SubmitResult, error) {
	started := s.now()
	inv, err := s.invoices.FindByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	company, err := s.companies.FindByID(ctx, inv.CompanyID)
	if err != nil {
		return nil, err
	}
	client, err := s.clients.FindByID(ctx, inv.ClientID)
	if err != nil {
		return nil, err
	}
	recipient := client.Snapshot()

	if err := inv.BeginProcessing(s.now()); err != nil {
		return nil, err
	}
	if err := s.invoices.Update(ctx, inv); err != nil {
		return nil, err
	}

	log := s.logger.With(
		zap.String("invoice_id", inv.ID.String()),
		zap.String("company_id", inv.CompanyID.String()),
	)

	// From here on the invoice owns the outcome; a cancelled caller must
	// not leave it half-recorded.
	persistCtx := context.WithoutCancel(ctx)

	chained, err := s.chainWithRetry(ctx, inv.CompanyID, inv.ID, recipient, log)
	if err != nil {
		code := shared.ErrorCode(err)
		if code == "" {
			code = shared.CodeChainIntegrity
		}
		log.Error("Chaining failed", zap.String("code", code), zap.Error(err))
		return s.finish(persistCtx, inv, false, started, func(i *invoicing.Invoice, now time.Time) error {
			return i.MarkFailed(code, err.Error(), now)
		})
	}
	inv = chained
	log = log.With(zap.String("hash", inv.Hash), zap.Int64("sequence", inv.ChainSequence))

	canonical, err := verifactu.Canonicalize(inv, company.Snapshot(), recipient)
	if err != nil {
		return s.finish(persistCtx, inv, false, started, func(i *invoicing.Invoice, now time.Time) error {
			return i.MarkFailed(shared.CodeValidation, err.Error(), now)
		})
	}

	doc, err := s.signer.Sign(ctx, company, inv, canonical)
	if err != nil {
		log.Error("Signing failed", zap.Error(err))
		return s.finish(persistCtx, inv, false, started, func(i *invoicing.Invoice, now time.Time) error {
			return i.MarkFailed(shared.CodeSigning, err.Error(), now)
		})
	}
	inv.AttachSignedDocument(doc.Ref)

	useReal := rollout.ShouldUseRealTransmission(company.TaxID) && s.real != nil
	transport := s.simulated
	if useReal {
		transport = s.real
	}
	tctx, cancel := context.WithTimeout(ctx, s.timeout)
	receipt, err := transport.Transmit(tctx, Transmission{
		InvoiceID:    inv.ID,
		CompanyTaxID: company.TaxID,
		Number:       inv.Number,
		HashBefore:   inv.HashBefore,
		Hash:         inv.Hash,
		Canonical:    canonical,
		Document:     doc,
	})
	timedOut := errors.Is(tctx.Err(), context.DeadlineExceeded)
	cancel()
	if err != nil {
		if timedOut || errors.Is(err, context.DeadlineExceeded) {
			log.Warn("Transmission timed out", zap.Duration("timeout", s.timeout), zap.Bool("real", useReal))
			return s.finish(persistCtx, inv, useReal, started, func(i *invoicing.Invoice, now time.Time) error {
				return i.MarkTimedOut("transmission timed out after "+s.timeout.String(), now)
			})
		}
		log.Error("Transmission failed", zap.Bool("real", useReal), zap.Error(err))
		return s.finish(persistCtx, inv, useReal, started, func(i *invoicing.Invoice, now time.Time) error {
			return i.MarkFailed(shared.CodeTransmission, err.Error(), now)
		})
	}

	res, won, err := s.apply(persistCtx, inv, useReal, started, func(i *invoicing.Invoice, now time.Time) error {
		if err := i.MarkSent(receipt.Raw, now); err != nil {
			return err
		}
		if receipt.Outcome != nil {
			return i.Resolve(*receipt.Outcome, now)
		}
		return nil
	})
	if err == nil && won && res.Status.IsTerminal() {
		s.notify(persistCtx, inv, log)
	}
	return res, err
}

// chainWithRetry repeats the whole chain step on CHAIN_INTEGRITY errors
func (s *SubmissionService) chainWithRetry(ctx context.Context, companyID, invoiceID uuid.UUID, recipient invoicing.Party, log *zap.Logger) (*invoicing.Invoice, error) {
	var lastErr error
	for attempt := 1; attempt <= s.chainAttempts; attempt++ {
		inv, err := s.commitLink(ctx, companyID, invoiceID, recipient)
		if err == nil {
			s.recorder.ChainCommitted(ctx, attempt)
			return inv, nil
		}
		lastErr = err
		if !errors.Is(err, shared.ErrChainIntegrity) {
			return nil, err
		}
		log.Warn("Chain step failed, retrying", zap.Int("attempt", attempt), zap.Error(err))
		if attempt == s.chainAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, shared.NewDomainErrorf(shared.CodeChainIntegrity, "chain retry aborted: %v", ctx.Err())
		case <-time.After(s.chainBackoff * time.Duration(attempt)):
		}
	}
	return nil, lastErr
}

// commitLink holds the company lock from reading the tip until the new tip
// is durable. An invoice that already owns a link keeps it.
func (s *SubmissionService) commitLink(ctx context.Context, companyID, invoiceID uuid.UUID, recipient invoicing.Party) (inv *invoicing.Invoice, err error) {
	profiling.Do(ctx, profiling.CompanyOperation(companyID.String(), profiling.OperationChainCommit), func(ctx context.Context) {
		inv, err = s.commitLinkLocked(ctx, companyID, invoiceID, recipient)
	})
	return inv, err
}

func (s *SubmissionService) commitLinkLocked(ctx context.Context, companyID, invoiceID uuid.UUID, recipient invoicing.Party) (*invoicing.Invoice, error) {
	unlock, err := s.locker.Lock(ctx, companyID.String())
	if err != nil {
		return nil, shared.NewDomainErrorf(shared.CodeChainIntegrity, "lock company %s: %v", companyID, err)
	}
	defer unlock()

	now := s.now()
	return s.chain.CommitLink(ctx, companyID, invoiceID, func(company *invoicing.Company, inv *invoicing.Invoice) error {
		if inv.IsChained() {
			return inv.ResumeSending(now)
		}
		link, err := verifactu.ComputeLink(inv, company, recipient)
		if err != nil {
			return err
		}
		if err := inv.AttachChain(link.HashBefore, link.Hash, link.Sequence, now); err != nil {
			return err
		}
		return company.AdvanceTip(link.HashBefore, link.Hash, now)
	})
}

func (s *SubmissionService) finish(ctx context.Context, inv *invoicing.Invoice, useReal bool, started time.Time, step func(*invoicing.Invoice, time.Time) error) (*SubmitResult, error) {
	res, _, err := s.apply(ctx, inv, useReal, started, step)
	return res, err
}

// apply runs a final step and persists it. A version conflict means someone
// else (usually a fast webhook) moved the invoice first; the stored state
// wins and won is false.
func (s *SubmissionService) apply(ctx context.Context, inv *invoicing.Invoice, useReal bool, started time.Time, step func(*invoicing.Invoice, time.Time) error) (res *SubmitResult, won bool, err error) {
	now := s.now()
	if err := step(inv, now); err != nil {
		return nil, false, err
	}
	won = true
	if err := s.invoices.Update(ctx, inv); err != nil {
		if !errors.Is(err, shared.ErrConcurrencyConflict) {
			return nil, false, err
		}
		stored, ferr := s.invoices.FindByID(ctx, inv.ID)
		if ferr != nil {
			return nil, false, ferr
		}
		won = false
		s.logger.Info("Invoice moved concurrently, keeping stored state",
			zap.String("invoice_id", inv.ID.String()),
			zap.String("status", stored.Status.String()),
		)
		inv = stored
	}
	s.recorder.SubmissionFinished(ctx, inv.Status, useReal, now.Sub(started))
	return &SubmitResult{
		InvoiceID:        inv.ID,
		Status:           inv.Status,
		HashBefore:       inv.HashBefore,
		Hash:             inv.Hash,
		Sequence:         inv.ChainSequence,
		RealTransmission: useReal,
		AckCode:          inv.AckCode,
		ErrorCode:        inv.LastErrorCode,
		Error:            inv.LastError,
	}, won, nil
}

func (s *SubmissionService) notify(ctx context.Context, inv *invoicing.Invoice, log *zap.Logger) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.InvoiceResolved(ctx, inv); err != nil {
		log.Warn("Resolution notification failed", zap.Error(err))
	}
}
