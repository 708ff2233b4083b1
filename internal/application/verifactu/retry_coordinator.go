package verifactu

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/invoices/backend/internal/domain/invoicing"
	"github.com/invoices/backend/internal/domain/shared"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// SweepStats counts what one sweep did. Found covers invoices timed out by
// the sweep plus FAILED/TIMEOUT invoices considered for retry.
type SweepStats struct {
	Found        int           `json:"found"`
	TimedOut     int           `json:"timedOut"`
	Requeued     int           `json:"requeued"`
	DeadLettered int           `json:"deadLettered"`
	Reenqueued   int           `json:"reenqueued"`
	Errors       int           `json:"errors"`
	RanAt        time.Time     `json:"ranAt"`
	Duration     time.Duration `json:"duration"`
}

// BatchSummary accumulates sweep runs
type BatchSummary struct {
	TotalRuns         int64      `json:"totalRuns"`
	TotalFound        int64      `json:"totalFound"`
	TotalRequeued     int64      `json:"totalRequeued"`
	TotalDeadLettered int64      `json:"totalDeadLettered"`
	LastRunAt         *time.Time `json:"lastRunAt,omitempty"`
	LastFound         int64      `json:"lastFound"`
	LastRequeued      int64      `json:"lastRequeued"`
	LastDeadLettered  int64      `json:"lastDeadLettered"`
}

// RetryConfig wires the retry coordinator
type RetryConfig struct {
	Invoices    invoicing.InvoiceRepository
	Queue       VerificationQueue
	DeadLetters DeadLetterQueue
	Batch       BatchMetricsStore
	Recorder    Recorder
	Logger      *zap.Logger

	StuckThreshold  time.Duration
	CallbackTimeout time.Duration
	RetryDelay      time.Duration
	MaxRetries      int
	BatchSize       int
	Concurrency     int
	Now             func() time.Time
}

// RetryCoordinator sweeps stuck invoices into TIMEOUT, requeues retryable
// ones and dead-letters those out of retries.
type RetryCoordinator struct {
	invoices    invoicing.InvoiceRepository
	queue       VerificationQueue
	deadLetters DeadLetterQueue
	batch       BatchMetricsStore
	recorder    Recorder
	logger      *zap.Logger

	stuck       time.Duration
	callback    time.Duration
	retryDelay  time.Duration
	maxRetries  int
	batchSize   int
	concurrency int
	now         func() time.Time
}

// NewRetryCoordinator creates a RetryCoordinator
func NewRetryCoordinator(cfg RetryConfig) *RetryCoordinator {
	c := &RetryCoordinator{
		invoices:    cfg.Invoices,
		queue:       cfg.Queue,
		deadLetters: cfg.DeadLetters,
		batch:       cfg.Batch,
		recorder:    cfg.Recorder,
		logger:      cfg.Logger,
		stuck:       cfg.StuckThreshold,
		callback:    cfg.CallbackTimeout,
		retryDelay:  cfg.RetryDelay,
		maxRetries:  cfg.MaxRetries,
		batchSize:   cfg.BatchSize,
		concurrency: cfg.Concurrency,
		now:         cfg.Now,
	}
	if c.recorder == nil {
		c.recorder = NopRecorder()
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.stuck <= 0 {
		c.stuck = time.Hour
	}
	if c.callback <= 0 {
		c.callback = 48 * time.Hour
	}
	if c.retryDelay <= 0 {
		c.retryDelay = 5 * time.Minute
	}
	if c.maxRetries <= 0 {
		c.maxRetries = 5
	}
	if c.batchSize <= 0 {
		c.batchSize = 500
	}
	if c.concurrency <= 0 {
		c.concurrency = 8
	}
	if c.now == nil {
		c.now = func() time.Time { return time.Now().UTC() }
	}
	return c
}

type sweepCounters struct {
	timedOut, considered, requeued, deadLettered, reenqueued, errors atomic.Int64
}

// Sweep runs one pass. Per-invoice failures are logged and counted; only
// failures to query candidates abort the sweep.
func (c *RetryCoordinator) Sweep(ctx context.Context) (SweepStats, error) {
	now := c.now()
	var n sweepCounters

	if err := c.timeoutStale(ctx, now, &n); err != nil {
		return SweepStats{}, err
	}
	if err := c.reenqueuePending(ctx, now, &n); err != nil {
		return SweepStats{}, err
	}
	if err := c.retryFailed(ctx, now, &n); err != nil {
		return SweepStats{}, err
	}

	stats := SweepStats{
		Found:        int(n.timedOut.Load() + n.considered.Load()),
		TimedOut:     int(n.timedOut.Load()),
		Requeued:     int(n.requeued.Load()),
		DeadLettered: int(n.deadLettered.Load()),
		Reenqueued:   int(n.reenqueued.Load()),
		Errors:       int(n.errors.Load()),
		RanAt:        now,
		Duration:     c.now().Sub(now),
	}
	if c.batch != nil {
		if err := c.batch.Record(ctx, stats); err != nil {
			c.logger.Warn("Failed to record batch metrics", zap.Error(err))
		}
	}
	c.recorder.SweepFinished(ctx, stats)
	c.logger.Info("Retry sweep finished",
		zap.Int("found", stats.Found),
		zap.Int("timed_out", stats.TimedOut),
		zap.Int("requeued", stats.Requeued),
		zap.Int("dead_lettered", stats.DeadLettered),
		zap.Int("errors", stats.Errors),
	)
	return stats, nil
}

// timeoutStale moves invoices stuck in flight to TIMEOUT
func (c *RetryCoordinator) timeoutStale(ctx context.Context, now time.Time, n *sweepCounters) error {
	inFlight, err := c.invoices.FindStale(ctx,
		[]invoicing.Status{invoicing.StatusProcessing, invoicing.StatusSending}, now.Add(-c.stuck), c.batchSize)
	if err != nil {
		return err
	}
	awaiting, err := c.invoices.FindStale(ctx,
		[]invoicing.Status{invoicing.StatusSent}, now.Add(-c.callback), c.batchSize)
	if err != nil {
		return err
	}
	return c.each(ctx, append(inFlight, awaiting...), func(ctx context.Context, inv *invoicing.Invoice) error {
		msg := "no progress in " + inv.Status.String() + " since " + inv.StatusChangedAt.Format(time.RFC3339)
		if err := inv.MarkTimedOut(msg, now); err != nil {
			return err
		}
		if err := c.invoices.Update(ctx, inv); err != nil {
			return err
		}
		n.timedOut.Add(1)
		return nil
	}, n)
}

// reenqueuePending re-sends verification requests that were never delivered
func (c *RetryCoordinator) reenqueuePending(ctx context.Context, now time.Time, n *sweepCounters) error {
	if c.queue == nil {
		return nil
	}
	pending, err := c.invoices.FindStale(ctx,
		[]invoicing.Status{invoicing.StatusPending}, now.Add(-c.retryDelay), c.batchSize)
	if err != nil {
		return err
	}
	return c.each(ctx, pending, func(ctx context.Context, inv *invoicing.Invoice) error {
		if err := c.queue.Enqueue(ctx, inv.ID, ReasonStale); err != nil {
			return err
		}
		n.reenqueued.Add(1)
		return nil
	}, n)
}

// retryFailed requeues FAILED/TIMEOUT invoices or routes them to the DLQ
func (c *RetryCoordinator) retryFailed(ctx context.Context, now time.Time, n *sweepCounters) error {
	candidates, err := c.invoices.FindRetryable(ctx, now.Add(-c.retryDelay), c.batchSize)
	if err != nil {
		return err
	}
	n.considered.Add(int64(len(candidates)))
	return c.each(ctx, candidates, func(ctx context.Context, inv *invoicing.Invoice) error {
		if inv.RetryCount < c.maxRetries {
			return c.requeue(ctx, inv, now, n)
		}
		return c.deadLetter(ctx, inv, now, n)
	}, n)
}

func (c *RetryCoordinator) requeue(ctx context.Context, inv *invoicing.Invoice, now time.Time, n *sweepCounters) error {
	if err := inv.Requeue(now); err != nil {
		return err
	}
	if err := c.invoices.Update(ctx, inv); err != nil {
		return err
	}
	n.requeued.Add(1)
	if c.queue == nil {
		return nil
	}
	if err := c.queue.Enqueue(ctx, inv.ID, ReasonRetry); err != nil {
		// stays PENDING and is picked up by the next sweep
		c.logger.Warn("Requeued invoice could not be enqueued",
			zap.String("invoice_id", inv.ID.String()), zap.Error(err))
	}
	return nil
}

func (c *RetryCoordinator) deadLetter(ctx context.Context, inv *invoicing.Invoice, now time.Time, n *sweepCounters) error {
	if c.deadLetters != nil {
		err := c.deadLetters.Publish(ctx, DeadLetter{
			InvoiceID:  inv.ID,
			CompanyID:  inv.CompanyID,
			Status:     inv.Status,
			RetryCount: inv.RetryCount,
			LastError:  inv.LastError,
			FailedAt:   now,
		})
		if err != nil {
			return err
		}
	}
	inv.MarkDeadLettered(now)
	if err := c.invoices.Update(ctx, inv); err != nil {
		return err
	}
	n.deadLettered.Add(1)
	c.logger.Warn("Invoice moved to dead-letter queue",
		zap.String("invoice_id", inv.ID.String()),
		zap.String("company_id", inv.CompanyID.String()),
		zap.Int("retry_count", inv.RetryCount),
		zap.String("last_error_code", inv.LastErrorCode),
	)
	return nil
}

// each runs fn over invoices with bounded concurrency. A version conflict
// means the invoice moved on its own and is skipped silently.
func (c *RetryCoordinator) each(ctx context.Context, invoices []*invoicing.Invoice, fn func(context.Context, *invoicing.Invoice) error, n *sweepCounters) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for _, inv := range invoices {
		g.Go(func() error {
			err := fn(gctx, inv)
			switch {
			case err == nil:
			case errors.Is(err, shared.ErrConcurrencyConflict):
				c.logger.Debug("Invoice changed during sweep", zap.String("invoice_id", inv.ID.String()))
			default:
				n.errors.Add(1)
				c.logger.Error("Sweep step failed", zap.String("invoice_id", inv.ID.String()), zap.Error(err))
			}
			return nil
		})
	}
	return g.Wait()
}
