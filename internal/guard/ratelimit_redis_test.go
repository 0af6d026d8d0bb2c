package guard

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisLimiter(t *testing.T) (*RedisRateLimiter, *redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisRateLimiter(rdb), rdb, mr
}

func TestRedisRateLimiterWithinLimit(t *testing.T) {
	rl, _, _ := setupRedisLimiter(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		allowed, err := rl.Allow(ctx, "key-1", 5)
		require.NoError(t, err)
		assert.True(t, allowed, "request %d should be allowed", i)
	}
}

func TestRedisRateLimiterExceedsLimit(t *testing.T) {
	rl, _, _ := setupRedisLimiter(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, err := rl.Allow(ctx, "key-2", 3)
		require.NoError(t, err)
		require.True(t, allowed)
	}

	allowed, err := rl.Allow(ctx, "key-2", 3)
	require.NoError(t, err)
	assert.False(t, allowed, "4th request should be rejected")
}

func TestRedisRateLimiterIsolatesKeys(t *testing.T) {
	rl, _, _ := setupRedisLimiter(t)
	ctx := context.Background()

	allowed, err := rl.Allow(ctx, "key-a", 1)
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, err = rl.Allow(ctx, "key-a", 1)
	require.NoError(t, err)
	assert.False(t, allowed)

	allowed, err = rl.Allow(ctx, "key-b", 1)
	require.NoError(t, err)
	assert.True(t, allowed, "a saturated key must not affect another key")
}

func TestRedisRateLimiterPrunesExpiredEntries(t *testing.T) {
	rl, rdb, _ := setupRedisLimiter(t)
	ctx := context.Background()

	// Seed entries older than the rolling window directly into the sorted
	// set; the script must prune them before counting.
	stale := time.Now().Add(-2 * rateWindow).Unix()
	for i := 0; i < 3; i++ {
		require.NoError(t, rdb.ZAdd(ctx, "pulse:rpm:key-stale", redis.Z{
			Score:  float64(stale),
			Member: fmt.Sprintf("%d-%d", stale, i),
		}).Err())
	}

	allowed, err := rl.Allow(ctx, "key-stale", 1)
	require.NoError(t, err)
	assert.True(t, allowed, "expired entries must not count against the limit")
}

func TestCheckRateFailsOpenWhenRedisDown(t *testing.T) {
	rl, _, mr := setupRedisLimiter(t)
	mr.Close()

	err := CheckRate(context.Background(), rl, "key-1", 1)
	assert.NoError(t, err)
}
