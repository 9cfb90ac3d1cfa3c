package lock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const defaultPollInterval = 50 * time.Millisecond

var releaseScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`)

// RedisLocker is a Locker shared by every process using the same Redis. Holds
// expire after ttl so a crashed holder cannot block the key forever.
type RedisLocker struct {
	client       *redis.Client
	ttl          time.Duration
	pollInterval time.Duration
	logger       *slog.Logger
}

// NewRedisLocker builds a locker on client.
func NewRedisLocker(client *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisLocker {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisLocker{
		client:       client,
		ttl:          ttl,
		pollInterval: defaultPollInterval,
		logger:       logger,
	}
}

func redisKey(key string) string {
	return "lock:" + key
}

func (r *RedisLocker) acquire(ctx context.Context, key string) (func(), bool, error) {
	lockKey := redisKey(key)
	value := uuid.NewString()

	ok, err := r.client.SetNX(ctx, lockKey, value, r.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock %s: %w", lockKey, err)
	}
	if !ok {
		return nil, false, nil
	}

	r.logger.Debug("lock acquired", slog.String("key", lockKey), slog.Duration("ttl", r.ttl))

	var once sync.Once
	release := func() {
		once.Do(func() {
			res, err := releaseScript.Run(context.Background(), r.client, []string{lockKey}, value).Int64()
			if err != nil {
				r.logger.Error("lock release failed", slog.String("key", lockKey), slog.Any("error", err))
				return
			}
			if res != 1 {
				r.logger.Warn("lock expired before release", slog.String("key", lockKey))
			}
		})
	}
	return release, true, nil
}

// TryLock implements Locker.
func (r *RedisLocker) TryLock(ctx context.Context, key string) (func(), bool, error) {
	return r.acquire(ctx, key)
}

// Lock implements Locker by polling until the key is free.
func (r *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		release, ok, err := r.acquire(ctx, key)
		if err != nil {
			return nil, err
		}
		if ok {
			return release, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// IsLocked reports whether key is currently held by anyone.
func (r *RedisLocker) IsLocked(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, redisKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("check lock %s: %w", redisKey(key), err)
	}
	return n > 0, nil
}
