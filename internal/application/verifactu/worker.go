package verifactu

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/invoices/backend/internal/domain/verifactu"
	"github.com/invoices/backend/internal/infrastructure/profiling"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Submitter runs the pipeline for one invoice
type Submitter interface {
	Submit(ctx context.Context, invoiceID uuid.UUID, rollout verifactu.RolloutConfig) (*SubmitResult, error)
}

var _ Submitter = (*SubmissionService)(nil)

// WorkerConfig configures the verification worker
type WorkerConfig struct {
	Consumer    QueueConsumer
	Submitter   Submitter
	Rollout     RolloutProvider
	Logger      *zap.Logger
	Concurrency int
	BatchSize   int
	Block       time.Duration
	ErrorDelay  time.Duration
}

// Worker consumes verification requests and submits invoices
type Worker struct {
	consumer    QueueConsumer
	submitter   Submitter
	rollout     RolloutProvider
	logger      *zap.Logger
	concurrency int
	batchSize   int
	block       time.Duration
	errorDelay  time.Duration
}

// NewWorker creates a Worker
func NewWorker(cfg WorkerConfig) *Worker {
	w := &Worker{
		consumer:    cfg.Consumer,
		submitter:   cfg.Submitter,
		rollout:     cfg.Rollout,
		logger:      cfg.Logger,
		concurrency: cfg.Concurrency,
		batchSize:   cfg.BatchSize,
		block:       cfg.Block,
		errorDelay:  cfg.ErrorDelay,
	}
	if w.logger == nil {
		w.logger = zap.NewNop()
	}
	if w.concurrency <= 0 {
		w.concurrency = 4
	}
	if w.batchSize <= 0 {
		w.batchSize = 16
	}
	if w.block <= 0 {
		w.block = 2 * time.Second
	}
	if w.errorDelay <= 0 {
		w.errorDelay = time.Second
	}
	return w
}

// Run processes batches until ctx is cancelled
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("Verification worker started", zap.Int("concurrency", w.concurrency))
	defer w.logger.Info("Verification worker stopped")
	for {
		if ctx.Err() != nil {
			return nil
		}
		if _, err := w.ProcessBatch(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			w.logger.Error("Failed to read verification queue", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(w.errorDelay):
			}
		}
	}
}

// ProcessBatch handles one delivery batch and returns how many messages it
// processed. Every message is acked: failures are recorded on the invoice
// and recovered by the retry sweep.
func (w *Worker) ProcessBatch(ctx context.Context) (int, error) {
	msgs, err := w.consumer.Receive(ctx, w.batchSize, w.block)
	if err != nil {
		return 0, err
	}
	if len(msgs) == 0 {
		return 0, nil
	}

	// one snapshot for the whole batch
	rollout := w.rollout.Current()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)
	for _, msg := range msgs {
		g.Go(func() error {
			w.handle(gctx, msg, rollout)
			return nil
		})
	}
	_ = g.Wait()

	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	if err := w.consumer.Ack(context.WithoutCancel(ctx), ids...); err != nil {
		return len(msgs), err
	}
	return len(msgs), nil
}

func (w *Worker) handle(ctx context.Context, msg QueueMessage, rollout verifactu.RolloutConfig) {
	log := w.logger.With(
		zap.String("message_id", msg.ID),
		zap.String("invoice_id", msg.InvoiceID.String()),
		zap.String("reason", msg.Reason),
	)
	var (
		res *SubmitResult
		err error
	)
	labels := map[string]string{
		profiling.LabelOperation: profiling.OperationWorkerSubmit,
		profiling.LabelReason:    msg.Reason,
	}
	profiling.Do(ctx, labels, func(ctx context.Context) {
		res, err = w.submitter.Submit(ctx, msg.InvoiceID, rollout)
	})
	if err != nil {
		log.Warn("Submission rejected", zap.Error(err))
		return
	}
	log.Info("Invoice submitted",
		zap.String("status", res.Status.String()),
		zap.Bool("real", res.RealTransmission),
		zap.String("hash", res.Hash),
	)
}
