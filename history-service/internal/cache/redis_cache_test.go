package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unreachableCache(t *testing.T) *RedisHistoryCache {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	c := NewRedisHistoryCacheFromClient(client, "chat:history")
	t.Cleanup(func() { c.Close() })
	return c
}

func TestKeyIsNamespacedByOwner(t *testing.T) {
	c := unreachableCache(t)
	assert.Equal(t, "chat:history:t1:p1", c.Key("t1", "p1"))
	assert.NotEqual(t, c.Key("t1", "p1"), c.Key("p1", "t1"))
}

func TestUnreachableRedisIsNotAMiss(t *testing.T) {
	c := unreachableCache(t)
	ctx := context.Background()

	_, err := c.Get(ctx, "t1", "p1")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrCacheMiss))

	assert.Error(t, c.Set(ctx, "t1", "p1", nil, time.Minute))
	assert.Error(t, c.Invalidate(ctx, [2]string{"t1", "p1"}))
	assert.NoError(t, c.Invalidate(ctx))
}
