package queue

import (
	"context"

	"github.com/invoices/backend/internal/application/verifactu"
	"github.com/invoices/backend/internal/infrastructure/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Set bundles the queue-side ports of the pipeline
type Set struct {
	Queue       verifactu.VerificationQueue
	Consumer    verifactu.QueueConsumer
	DeadLetters verifactu.DeadLetterQueue
	Batch       verifactu.BatchMetricsStore
	Backend     string
}

// New builds the Redis-backed set when client is non-nil and the in-memory
// set otherwise.
func New(ctx context.Context, client *redis.Client, vcfg config.VerifactuConfig, wcfg config.WorkerConfig, logger *zap.Logger) (*Set, error) {
	if client == nil {
		mq := NewMemoryQueue()
		return &Set{
			Queue:       mq,
			Consumer:    mq,
			DeadLetters: NewMemoryDeadLetterQueue(),
			Batch:       NewMemoryBatchStore(),
			Backend:     "memory",
		}, nil
	}

	sq := NewStreamQueue(client, StreamConfig{
		Stream:   vcfg.QueueStream,
		Group:    wcfg.ConsumerGroup,
		Consumer: wcfg.ConsumerName,
		Logger:   logger,
	})
	if err := sq.EnsureGroup(ctx); err != nil {
		return nil, err
	}
	return &Set{
		Queue:       sq,
		Consumer:    sq,
		DeadLetters: NewStreamDeadLetterQueue(client, vcfg.DLQStream, 0),
		Batch:       NewHashBatchStore(client, vcfg.BatchMetricsKey),
		Backend:     "redis",
	}, nil
}
