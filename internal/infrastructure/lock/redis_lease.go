package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrLeaseLost is logged when a lease expired before it was released
var ErrLeaseLost = errors.New("lease expired before release")

// releaseScript deletes the key only if this holder still owns it
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLeaseLocker takes a local KeyedMutex first and then a Redis lease
// (SET NX PX) so that instances sharing a database also queue per company.
// The lease expires on its own if a holder dies.
type RedisLeaseLocker struct {
	client    *redis.Client
	local     *KeyedMutex
	prefix    string
	ttl       time.Duration
	pollEvery time.Duration
	logger    *zap.Logger
}

// NewRedisLeaseLocker creates a lease locker
func NewRedisLeaseLocker(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisLeaseLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisLeaseLocker{
		client:    client,
		local:     NewKeyedMutex(),
		prefix:    "verifactu:lock:",
		ttl:       ttl,
		pollEvery: 25 * time.Millisecond,
		logger:    logger,
	}
}

// Lock waits for the lease on key until ctx is done
func (r *RedisLeaseLocker) Lock(ctx context.Context, key string) (func(), error) {
	unlockLocal, err := r.local.Lock(ctx, key)
	if err != nil {
		return nil, err
	}

	redisKey := r.prefix + key
	token := uuid.NewString()
	ticker := time.NewTicker(r.pollEvery)
	defer ticker.Stop()

	for {
		ok, err := r.client.SetNX(ctx, redisKey, token, r.ttl).Result()
		if err != nil {
			unlockLocal()
			return nil, fmt.Errorf("acquire lease %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			unlockLocal()
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	return func() {
		defer unlockLocal()
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		n, err := releaseScript.Run(releaseCtx, r.client, []string{redisKey}, token).Int()
		switch {
		case err != nil:
			r.logger.Warn("Failed to release lease", zap.String("key", key), zap.Error(err))
		case n == 0:
			r.logger.Warn("Lease released late", zap.String("key", key), zap.Error(ErrLeaseLost))
		}
	}, nil
}
