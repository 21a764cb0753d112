package device

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestRedis connects to PANTRY_TEST_REDIS_ADDR or skips.
func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("PANTRY_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("PANTRY_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("failed to connect to redis: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisStore(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()

	s := NewRedisStore(client, "pantry-test:"+t.Name()+":")
	t.Cleanup(func() { _ = s.Clear(context.Background()) })

	require.NoError(t, s.Set(ctx, "usage:d1:2026-10-12", "1"))
	v, ok, err := s.Get(ctx, "usage:d1:2026-10-12")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "1", v)

	// Keys outside the prefix survive Clear.
	require.NoError(t, client.Set(ctx, "pantry-test:other", "x", 0).Err())
	t.Cleanup(func() { client.Del(context.Background(), "pantry-test:other") })

	require.NoError(t, s.Clear(ctx))
	_, ok, err = s.Get(ctx, "usage:d1:2026-10-12")
	require.NoError(t, err)
	assert.False(t, ok)

	other, err := client.Get(ctx, "pantry-test:other").Result()
	require.NoError(t, err)
	assert.Equal(t, "x", other)
}

func TestRedisStore_IncrementBelow(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()

	s := NewRedisStore(client, "pantry-test:"+t.Name()+":")
	t.Cleanup(func() { _ = s.Clear(context.Background()) })

	var admitted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := s.IncrementBelow(ctx, "usage:d1:2026-10-12", 2)
			assert.NoError(t, err)
			if ok {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(2), admitted.Load())

	n, ok, err := s.IncrementBelow(ctx, "usage:d1:2026-10-12", 2)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 2, n)

	require.NoError(t, s.Set(ctx, "usage:d2:2026-10-12", "lots"))
	_, _, err = s.IncrementBelow(ctx, "usage:d2:2026-10-12", 2)
	require.Error(t, err)
}
