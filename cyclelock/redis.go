// Package cyclelock serializes poll cycles across gateway processes.
package cyclelock

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLock is a coarse SETNX mutex. The TTL is a safety net: a gateway
// process that dies mid-cycle loses the lock by expiry instead of wedging
// polling until someone clears the key by hand.
type RedisLock struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

func New(client *redis.Client, key string, ttl time.Duration) *RedisLock {
	if key == "" {
		key = "stkgw:poll-cycle"
	}
	if ttl == 0 {
		ttl = 10 * time.Minute
	}
	return &RedisLock{client: client, key: key, ttl: ttl}
}

// Acquire takes the lock. It reports false when another cycle holds it.
func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, time.Now().Unix(), l.ttl).Result()
}

// Release drops the lock.
func (l *RedisLock) Release(ctx context.Context) error {
	return l.client.Del(ctx, l.key).Err()
}
