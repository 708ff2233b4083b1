package shared

import (
	"context"
	"time"
)

// IdempotencyStore remembers processed keys to prevent duplicate side effects
type IdempotencyStore interface {
	// MarkProcessed marks a key as processed with a TTL.
	// Returns true if the key was newly marked, false if it was already processed.
	MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// IsProcessed checks if a key has already been processed
	IsProcessed(ctx context.Context, key string) (bool, error)

	// Forget removes a key so that a failed attempt can be redelivered
	Forget(ctx context.Context, key string) error

	// Close closes the store and releases resources
	Close() error
}
