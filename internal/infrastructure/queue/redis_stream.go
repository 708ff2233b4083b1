// Package queue carries verification requests, dead letters and sweep
// counters, on Redis streams in production and in memory otherwise.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/invoices/backend/internal/application/verifactu"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	fieldInvoiceID = "invoiceId"
	fieldReason    = "reason"
)

// StreamQueue is a verification queue on a Redis stream read through a
// consumer group. Entries left unacked by a crashed consumer are claimed
// again after claimIdle.
type StreamQueue struct {
	client    *redis.Client
	stream    string
	group     string
	consumer  string
	claimIdle time.Duration
	logger    *zap.Logger
}

// StreamConfig configures a StreamQueue
type StreamConfig struct {
	Stream    string
	Group     string
	Consumer  string
	ClaimIdle time.Duration
	Logger    *zap.Logger
}

// NewStreamQueue creates a StreamQueue
func NewStreamQueue(client *redis.Client, cfg StreamConfig) *StreamQueue {
	q := &StreamQueue{
		client:    client,
		stream:    cfg.Stream,
		group:     cfg.Group,
		consumer:  cfg.Consumer,
		claimIdle: cfg.ClaimIdle,
		logger:    cfg.Logger,
	}
	if q.logger == nil {
		q.logger = zap.NewNop()
	}
	if q.group == "" {
		q.group = "verifactu-workers"
	}
	if q.consumer == "" {
		q.consumer = "worker-" + uuid.NewString()[:8]
	}
	if q.claimIdle <= 0 {
		q.claimIdle = 5 * time.Minute
	}
	return q
}

var (
	_ verifactu.VerificationQueue = (*StreamQueue)(nil)
	_ verifactu.QueueConsumer     = (*StreamQueue)(nil)
)

// EnsureGroup creates the consumer group (and the stream) if missing
func (q *StreamQueue) EnsureGroup(ctx context.Context) error {
	err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group %s: %w", q.group, err)
	}
	return nil
}

// Enqueue implements verifactu.VerificationQueue
func (q *StreamQueue) Enqueue(ctx context.Context, invoiceID uuid.UUID, reason string) error {
	err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: map[string]any{fieldInvoiceID: invoiceID.String(), fieldReason: reason},
	}).Err()
	if err != nil {
		return fmt.Errorf("enqueue invoice %s: %w", invoiceID, err)
	}
	return nil
}

// Receive implements verifactu.QueueConsumer. Stale pending entries are
// returned before new ones.
func (q *StreamQueue) Receive(ctx context.Context, max int, block time.Duration) ([]verifactu.QueueMessage, error) {
	claimed, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: q.consumer,
		MinIdle:  q.claimIdle,
		Start:    "0-0",
		Count:    int64(max),
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("claim pending entries: %w", err)
	}
	if len(claimed) > 0 {
		q.logger.Info("Claimed stale queue entries", zap.Int("count", len(claimed)))
		return q.decode(ctx, claimed), nil
	}

	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: q.consumer,
		Streams:  []string{q.stream, ">"},
		Count:    int64(max),
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read queue: %w", err)
	}
	var out []verifactu.QueueMessage
	for _, s := range streams {
		out = append(out, q.decode(ctx, s.Messages)...)
	}
	return out, nil
}

// decode converts stream entries; malformed entries are acked and dropped
func (q *StreamQueue) decode(ctx context.Context, msgs []redis.XMessage) []verifactu.QueueMessage {
	out := make([]verifactu.QueueMessage, 0, len(msgs))
	for _, m := range msgs {
		raw, _ := m.Values[fieldInvoiceID].(string)
		id, err := uuid.Parse(raw)
		if err != nil {
			q.logger.Warn("Dropping malformed queue entry", zap.String("entry_id", m.ID), zap.Any("values", m.Values))
			_ = q.Ack(ctx, m.ID)
			continue
		}
		reason, _ := m.Values[fieldReason].(string)
		out = append(out, verifactu.QueueMessage{ID: m.ID, InvoiceID: id, Reason: reason})
	}
	return out
}

// Ack implements verifactu.QueueConsumer
func (q *StreamQueue) Ack(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := q.client.XAck(ctx, q.stream, q.group, ids...).Err(); err != nil {
		return fmt.Errorf("ack queue entries: %w", err)
	}
	return nil
}

// Len returns the stream length
func (q *StreamQueue) Len(ctx context.Context) (int64, error) {
	return q.client.XLen(ctx, q.stream).Result()
}
