package verifactu

import (
	"context"
	"runtime/pprof"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/invoices/backend/internal/domain/invoicing"
	"github.com/invoices/backend/internal/domain/shared"
	"github.com/invoices/backend/internal/domain/verifactu"
	"github.com/invoices/backend/internal/infrastructure/profiling"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConsumer struct {
	mu      sync.Mutex
	batches [][]QueueMessage
	acked   []string
}

func (c *fakeConsumer) Receive(ctx context.Context, _ int, _ time.Duration) ([]QueueMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.batches) == 0 {
		return nil, nil
	}
	next := c.batches[0]
	c.batches = c.batches[1:]
	return next, nil
}

func (c *fakeConsumer) Ack(_ context.Context, ids ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.acked = append(c.acked, ids...)
	return nil
}

type recordingSubmitter struct {
	mu       sync.Mutex
	calls    []uuid.UUID
	rollouts []verifactu.RolloutConfig
	fail     map[uuid.UUID]error
	ops      []string
}

func (s *recordingSubmitter) Submit(ctx context.Context, id uuid.UUID, rollout verifactu.RolloutConfig) (*SubmitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, _ := pprof.Label(ctx, profiling.LabelOperation)
	s.ops = append(s.ops, op)
	s.calls = append(s.calls, id)
	s.rollouts = append(s.rollouts, rollout)
	if err := s.fail[id]; err != nil {
		return nil, err
	}
	return &SubmitResult{InvoiceID: id, Status: invoicing.StatusSent}, nil
}

func TestWorker_ProcessBatchAcksEverything(t *testing.T) {
	good, bad := uuid.New(), uuid.New()
	consumer := &fakeConsumer{batches: [][]QueueMessage{{
		{ID: "1-0", InvoiceID: good, Reason: ReasonIssued},
		{ID: "2-0", InvoiceID: bad, Reason: ReasonRetry},
	}}}
	submitter := &recordingSubmitter{fail: map[uuid.UUID]error{bad: shared.ErrValidation}}
	rollout := verifactu.NewRolloutConfig(true, 40, false)
	w := NewWorker(WorkerConfig{Consumer: consumer, Submitter: submitter, Rollout: StaticRollout(rollout)})

	n, err := w.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.ElementsMatch(t, []uuid.UUID{good, bad}, submitter.calls)
	assert.ElementsMatch(t, []string{"1-0", "2-0"}, consumer.acked)
	for _, r := range submitter.rollouts {
		assert.Equal(t, 40, r.Percentage())
	}
	assert.Equal(t, []string{profiling.OperationWorkerSubmit, profiling.OperationWorkerSubmit}, submitter.ops)

	n, err = w.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestWorker_RunStopsOnCancel(t *testing.T) {
	consumer := &fakeConsumer{}
	w := NewWorker(WorkerConfig{Consumer: consumer, Submitter: &recordingSubmitter{}, Rollout: StaticRollout(simulatedOnly), Block: time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}
