package jobs

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLocker implements Locker with SET NX PX, so only one replica runs a
// reminder pass per tick. Losing the lock race is not an error.
type RedisLocker struct {
	rdb *redis.Client
}

func NewRedisLocker(rdb *redis.Client) *RedisLocker {
	return &RedisLocker{rdb: rdb}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = time.Second
	}
	return l.rdb.SetNX(ctx, key, "1", ttl).Result()
}

// NoopLocker always wins; used in single-replica deployments without Redis.
type NoopLocker struct{}

func (NoopLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return true, nil
}
