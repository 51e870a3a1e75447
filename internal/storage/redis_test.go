package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Integration test against a real Redis; skipped when none is reachable.
func TestRedisClient_IncrWindow_Integration(t *testing.T) {
	client := NewRedis("localhost:6379", "", 0)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx); err != nil {
		t.Skipf("Skipping integration test: Redis not available (%v)", err)
	}

	key := fmt.Sprintf("ratelimit:test:%d", time.Now().UnixNano())

	t.Run("CountsMonotonically", func(t *testing.T) {
		for want := int64(1); want <= 5; want++ {
			count, err := client.IncrWindow(ctx, key, time.Minute)
			require.NoError(t, err)
			assert.Equal(t, want, count)
		}
	})

	t.Run("ExpirySetOnlyOnce", func(t *testing.T) {
		key := fmt.Sprintf("ratelimit:test:ttl:%d", time.Now().UnixNano())

		_, err := client.IncrWindow(ctx, key, 10*time.Second)
		require.NoError(t, err)

		ttl, err := client.client.TTL(ctx, key).Result()
		require.NoError(t, err)
		assert.Greater(t, ttl, time.Duration(0))
		assert.LessOrEqual(t, ttl, 10*time.Second)

		// A later increment must not push the expiry out
		time.Sleep(time.Second)
		_, err = client.IncrWindow(ctx, key, 10*time.Second)
		require.NoError(t, err)

		ttl2, err := client.client.TTL(ctx, key).Result()
		require.NoError(t, err)
		assert.Less(t, ttl2, ttl)
	})

	t.Run("ConcurrentIncrements", func(t *testing.T) {
		key := fmt.Sprintf("ratelimit:test:conc:%d", time.Now().UnixNano())

		const n = 50
		done := make(chan error, n)
		for i := 0; i < n; i++ {
			go func() {
				_, err := client.IncrWindow(ctx, key, time.Minute)
				done <- err
			}()
		}
		for i := 0; i < n; i++ {
			require.NoError(t, <-done)
		}

		val, err := client.client.Get(ctx, key).Int64()
		require.NoError(t, err)
		assert.Equal(t, int64(n), val, "no lost increments across concurrent callers")
	})
}
