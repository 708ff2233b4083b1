package queue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/invoices/backend/internal/application/verifactu"
	"github.com/redis/go-redis/v9"
)

// Hash fields of the batch metrics key
const (
	FieldTotalRuns         = "total_batch_runs"
	FieldTotalFound        = "total_found"
	FieldTotalRequeued     = "total_requeued"
	FieldTotalDeadLettered = "total_dead_lettered"
	FieldLastRunAt         = "last_batch_time"
	FieldLastFound         = "last_batch_found"
	FieldLastRequeued      = "last_batch_requeued"
	FieldLastDeadLettered  = "last_batch_dead_lettered"
)

// HashBatchStore accumulates sweep counters in one Redis hash
type HashBatchStore struct {
	client *redis.Client
	key    string
}

// NewHashBatchStore creates a HashBatchStore
func NewHashBatchStore(client *redis.Client, key string) *HashBatchStore {
	return &HashBatchStore{client: client, key: key}
}

var _ verifactu.BatchMetricsStore = (*HashBatchStore)(nil)

// Record implements verifactu.BatchMetricsStore
func (h *HashBatchStore) Record(ctx context.Context, s verifactu.SweepStats) error {
	_, err := h.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HIncrBy(ctx, h.key, FieldTotalRuns, 1)
		p.HIncrBy(ctx, h.key, FieldTotalFound, int64(s.Found))
		p.HIncrBy(ctx, h.key, FieldTotalRequeued, int64(s.Requeued))
		p.HIncrBy(ctx, h.key, FieldTotalDeadLettered, int64(s.DeadLettered))
		p.HSet(ctx, h.key,
			FieldLastRunAt, s.RanAt.UTC().Format(time.RFC3339),
			FieldLastFound, s.Found,
			FieldLastRequeued, s.Requeued,
			FieldLastDeadLettered, s.DeadLettered,
		)
		return nil
	})
	if err != nil {
		return fmt.Errorf("record batch metrics: %w", err)
	}
	return nil
}

// Load implements verifactu.BatchMetricsStore
func (h *HashBatchStore) Load(ctx context.Context) (verifactu.BatchSummary, error) {
	values, err := h.client.HGetAll(ctx, h.key).Result()
	if err != nil {
		return verifactu.BatchSummary{}, fmt.Errorf("load batch metrics: %w", err)
	}
	return parseSummary(values), nil
}

func parseSummary(values map[string]string) verifactu.BatchSummary {
	num := func(field string) int64 {
		n, _ := strconv.ParseInt(values[field], 10, 64)
		return n
	}
	s := verifactu.BatchSummary{
		TotalRuns:         num(FieldTotalRuns),
		TotalFound:        num(FieldTotalFound),
		TotalRequeued:     num(FieldTotalRequeued),
		TotalDeadLettered: num(FieldTotalDeadLettered),
		LastFound:         num(FieldLastFound),
		LastRequeued:      num(FieldLastRequeued),
		LastDeadLettered:  num(FieldLastDeadLettered),
	}
	if t, err := time.Parse(time.RFC3339, values[FieldLastRunAt]); err == nil {
		s.LastRunAt = &t
	}
	return s
}
