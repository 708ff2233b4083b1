package cache

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryIdempotencyStore(t *testing.T) {
	store := NewInMemoryIdempotencyStore(time.Hour)
	defer store.Close()
	ctx := context.Background()

	clock := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return clock }

	t.Run("first mark wins", func(t *testing.T) {
		won, err := store.MarkProcessed(ctx, "inv-1:ACCEPTED", time.Minute)
		require.NoError(t, err)
		assert.True(t, won)

		won, err = store.MarkProcessed(ctx, "inv-1:ACCEPTED", time.Minute)
		require.NoError(t, err)
		assert.False(t, won)

		seen, _ := store.IsProcessed(ctx, "inv-1:ACCEPTED")
		assert.True(t, seen)
	})

	t.Run("expired keys can be marked again", func(t *testing.T) {
		_, _ = store.MarkProcessed(ctx, "inv-2:REJECTED", time.Minute)
		clock = clock.Add(2 * time.Minute)

		seen, _ := store.IsProcessed(ctx, "inv-2:REJECTED")
		assert.False(t, seen)
		won, _ := store.MarkProcessed(ctx, "inv-2:REJECTED", time.Minute)
		assert.True(t, won)
	})

	t.Run("forget allows redelivery", func(t *testing.T) {
		_, _ = store.MarkProcessed(ctx, "inv-3:ACCEPTED", time.Hour)
		require.NoError(t, store.Forget(ctx, "inv-3:ACCEPTED"))
		won, _ := store.MarkProcessed(ctx, "inv-3:ACCEPTED", time.Hour)
		assert.True(t, won)
	})

	t.Run("sweep drops expired entries", func(t *testing.T) {
		_, _ = store.MarkProcessed(ctx, "short", time.Second)
		clock = clock.Add(time.Hour)
		store.sweep()
		assert.Zero(t, store.Size())
		seen, _ := store.IsProcessed(ctx, "short")
		assert.False(t, seen)
	})
}

func TestInMemoryIdempotencyStore_ConcurrentMark(t *testing.T) {
	store := NewInMemoryIdempotencyStore(time.Hour)
	defer store.Close()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if won, _ := store.MarkProcessed(context.Background(), "same", time.Hour); won {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestInMemoryIdempotencyStore_CloseTwice(t *testing.T) {
	store := NewInMemoryIdempotencyStore(time.Millisecond)
	assert.NoError(t, store.Close())
	assert.NoError(t, store.Close())
}

func TestNewIdempotencyStore_FallsBackToMemory(t *testing.T) {
	store := NewIdempotencyStore(nil, "", nil)
	defer store.Close()
	_, ok := store.(*InMemoryIdempotencyStore)
	assert.True(t, ok)
}

// redisClient connects to VERIFACTU_TEST_REDIS_ADDR or skips the test
func redisClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("VERIFACTU_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("VERIFACTU_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	require.NoError(t, client.Ping(context.Background()).Err())
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisIdempotencyStore(t *testing.T) {
	client := redisClient(t)
	store := NewRedisIdempotencyStore(client, "test:"+uuid.NewString()+":")
	ctx := context.Background()

	won, err := store.MarkProcessed(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.True(t, won)

	won, err = store.MarkProcessed(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.False(t, won)

	require.NoError(t, store.Forget(ctx, "k"))
	seen, err := store.IsProcessed(ctx, "k")
	require.NoError(t, err)
	assert.False(t, seen)
}
