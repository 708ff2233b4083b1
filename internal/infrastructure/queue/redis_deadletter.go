package queue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/invoices/backend/internal/application/verifactu"
	"github.com/redis/go-redis/v9"
)

// StreamDeadLetterQueue publishes exhausted invoices to a Redis stream
// for manual intervention.
type StreamDeadLetterQueue struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewStreamDeadLetterQueue creates a StreamDeadLetterQueue. maxLen caps the
// stream approximately; zero keeps every entry.
func NewStreamDeadLetterQueue(client *redis.Client, stream string, maxLen int64) *StreamDeadLetterQueue {
	return &StreamDeadLetterQueue{client: client, stream: stream, maxLen: maxLen}
}

var _ verifactu.DeadLetterQueue = (*StreamDeadLetterQueue)(nil)

// Publish implements verifactu.DeadLetterQueue
func (d *StreamDeadLetterQueue) Publish(ctx context.Context, dl verifactu.DeadLetter) error {
	args := &redis.XAddArgs{
		Stream: d.stream,
		Values: map[string]any{
			"invoiceId":  dl.InvoiceID.String(),
			"companyId":  dl.CompanyID.String(),
			"status":     string(dl.Status),
			"retryCount": strconv.Itoa(dl.RetryCount),
			"lastError":  dl.LastError,
			"failedAt":   dl.FailedAt.UTC().Format(time.RFC3339),
		},
	}
	if d.maxLen > 0 {
		args.MaxLen = d.maxLen
		args.Approx = true
	}
	if err := d.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("publish dead letter %s: %w", dl.InvoiceID, err)
	}
	return nil
}

// Count implements verifactu.DeadLetterQueue
func (d *StreamDeadLetterQueue) Count(ctx context.Context) (int64, error) {
	return d.client.XLen(ctx, d.stream).Result()
}
