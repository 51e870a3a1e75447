package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisClient struct {
	client *redis.Client
}

// NewRedis builds the client without requiring the server to be up: the
// store being down at boot must not keep the gateway from serving, the
// limiter's fail mode covers it. Callers that care probe with Ping.
func NewRedis(addr, password string, db int) *RedisClient {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisClient{client: client}
}

// IncrWindow atomically increments the counter for key and ensures it
// expires after ttl. Both commands ride one pipelined round trip; EXPIRE NX
// only touches keys without an expiry, so only the increment that creates
// the key sets the ttl. Returns the count after the increment.
func (r *RedisClient) IncrWindow(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to increment counter %s: %w", key, err)
	}

	return incr.Val(), nil
}

func (r *RedisClient) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisClient) Close() error {
	return r.client.Close()
}
