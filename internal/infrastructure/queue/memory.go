package queue

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/invoices/backend/internal/application/verifactu"
)

// MemoryQueue is an in-process verification queue. Delivered messages stay
// in flight until acked; unacked messages are lost on restart, which the
// sweep's stale PENDING pass covers.
type MemoryQueue struct {
	mu       sync.Mutex
	seq      int64
	ready    []verifactu.QueueMessage
	inFlight map[string]verifactu.QueueMessage
	signal   chan struct{}
}

// NewMemoryQueue creates a MemoryQueue
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		inFlight: make(map[string]verifactu.QueueMessage),
		signal:   make(chan struct{}, 1),
	}
}

var (
	_ verifactu.VerificationQueue = (*MemoryQueue)(nil)
	_ verifactu.QueueConsumer     = (*MemoryQueue)(nil)
)

// Enqueue implements verifactu.VerificationQueue
func (q *MemoryQueue) Enqueue(_ context.Context, invoiceID uuid.UUID, reason string) error {
	q.mu.Lock()
	q.seq++
	q.ready = append(q.ready, verifactu.QueueMessage{
		ID:        strconv.FormatInt(q.seq, 10),
		InvoiceID: invoiceID,
		Reason:    reason,
	})
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return nil
}

// Receive implements verifactu.QueueConsumer
func (q *MemoryQueue) Receive(ctx context.Context, max int, block time.Duration) ([]verifactu.QueueMessage, error) {
	timer := time.NewTimer(block)
	defer timer.Stop()
	for {
		if msgs := q.take(max); len(msgs) > 0 {
			return msgs, nil
		}
		select {
		case <-q.signal:
		case <-timer.C:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (q *MemoryQueue) take(max int) []verifactu.QueueMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := min(max, len(q.ready))
	if n == 0 {
		return nil
	}
	out := make([]verifactu.QueueMessage, n)
	copy(out, q.ready[:n])
	q.ready = q.ready[n:]
	for _, m := range out {
		q.inFlight[m.ID] = m
	}
	// more work left: wake another receiver
	if len(q.ready) > 0 {
		select {
		case q.signal <- struct{}{}:
		default:
		}
	}
	return out
}

// Ack implements verifactu.QueueConsumer
func (q *MemoryQueue) Ack(_ context.Context, ids ...string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, id := range ids {
		delete(q.inFlight, id)
	}
	return nil
}

// Len returns the number of undelivered messages
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ready)
}

// InFlight returns the number of delivered, unacked messages
func (q *MemoryQueue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inFlight)
}

// MemoryDeadLetterQueue keeps dead letters in memory
type MemoryDeadLetterQueue struct {
	mu      sync.Mutex
	letters []verifactu.DeadLetter
}

// NewMemoryDeadLetterQueue creates a MemoryDeadLetterQueue
func NewMemoryDeadLetterQueue() *MemoryDeadLetterQueue {
	return &MemoryDeadLetterQueue{}
}

var _ verifactu.DeadLetterQueue = (*MemoryDeadLetterQueue)(nil)

// Publish implements verifactu.DeadLetterQueue
func (d *MemoryDeadLetterQueue) Publish(_ context.Context, dl verifactu.DeadLetter) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.letters = append(d.letters, dl)
	return nil
}

// Count implements verifactu.DeadLetterQueue
func (d *MemoryDeadLetterQueue) Count(context.Context) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return int64(len(d.letters)), nil
}

// Letters returns a copy of the published dead letters
func (d *MemoryDeadLetterQueue) Letters() []verifactu.DeadLetter {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]verifactu.DeadLetter(nil), d.letters...)
}

// MemoryBatchStore accumulates sweep counters in memory
type MemoryBatchStore struct {
	mu      sync.Mutex
	summary verifactu.BatchSummary
}

// NewMemoryBatchStore creates a MemoryBatchStore
func NewMemoryBatchStore() *MemoryBatchStore {
	return &MemoryBatchStore{}
}

var _ verifactu.BatchMetricsStore = (*MemoryBatchStore)(nil)

// Record implements verifactu.BatchMetricsStore
func (m *MemoryBatchStore) Record(_ context.Context, s verifactu.SweepStats) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ran := s.RanAt.UTC()
	m.summary.TotalRuns++
	m.summary.TotalFound += int64(s.Found)
	m.summary.TotalRequeued += int64(s.Requeued)
	m.summary.TotalDeadLettered += int64(s.DeadLettered)
	m.summary.LastRunAt = &ran
	m.summary.LastFound = int64(s.Found)
	m.summary.LastRequeued = int64(s.Requeued)
	m.summary.LastDeadLettered = int64(s.DeadLettered)
	return nil
}

// Load implements verifactu.BatchMetricsStore
func (m *MemoryBatchStore) Load(context.Context) (verifactu.BatchSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.summary, nil
}
