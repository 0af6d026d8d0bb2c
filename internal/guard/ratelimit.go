package guard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pulselabs/pulse/internal/model"
)

// rateWindow is the rolling window for per-key request limits.
const rateWindow = 60 * time.Second

// slidingWindowScript is a Redis Lua script for sliding window rate limiting.
// Atomic so that concurrent gateway instances agree on the count.
const slidingWindowScript = `
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

-- Remove expired entries
redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)

-- Count current entries
local count = redis.call('ZCARD', key)

if count >= limit then
    return 0
end

-- Add new entry
redis.call('ZADD', key, now, now .. '-' .. math.random(1000000))
redis.call('EXPIRE', key, window)

return 1
`

// RateLimiter answers whether a key may make another request inside the
// rolling 60-second window.
type RateLimiter interface {
	Allow(ctx context.Context, keyID string, limit int) (bool, error)
}

// RedisRateLimiter is the shared-store limiter used when multiple gateway
// instances run concurrently.
type RedisRateLimiter struct {
	rdb    redis.UniversalClient
	script *redis.Script
}

// NewRedisRateLimiter creates a rate limiter backed by Redis.
func NewRedisRateLimiter(rdb redis.UniversalClient) *RedisRateLimiter {
	return &RedisRateLimiter{
		rdb:    rdb,
		script: redis.NewScript(slidingWindowScript),
	}
}

func (rl *RedisRateLimiter) Allow(ctx context.Context, keyID string, limit int) (bool, error) {
	key := fmt.Sprintf("pulse:rpm:%s", keyID)
	now := time.Now().Unix()
	result, err := rl.script.Run(ctx, rl.rdb, []string{key}, limit, int64(rateWindow.Seconds()), now).Int64()
	if err != nil {
		return true, err // allow on error
	}
	return result == 1, nil
}

// MemoryRateLimiter is the single-process fallback with the same rolling
// window semantics, used when no Redis is configured.
type MemoryRateLimiter struct {
	mu      sync.Mutex
	entries map[string][]time.Time
	now     func() time.Time
}

// NewMemoryRateLimiter creates an in-process sliding window limiter.
func NewMemoryRateLimiter() *MemoryRateLimiter {
	return &MemoryRateLimiter{
		entries: make(map[string][]time.Time),
		now:     time.Now,
	}
}

func (rl *MemoryRateLimiter) Allow(_ context.Context, keyID string, limit int) (bool, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	cutoff := now.Add(-rateWindow)

	kept := rl.entries[keyID][:0]
	for _, t := range rl.entries[keyID] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= limit {
		rl.entries[keyID] = kept
		return false, nil
	}

	rl.entries[keyID] = append(kept, now)
	return true, nil
}

// CheckRate applies the key's RPM limit, if any. Returns a typed rate limit
// error with a retry-after hint when the limit is hit.
func CheckRate(ctx context.Context, limiter RateLimiter, keyID string, rpmLimit int) error {
	if limiter == nil || rpmLimit <= 0 {
		return nil
	}
	allowed, err := limiter.Allow(ctx, keyID, rpmLimit)
	if err != nil {
		// Shared store unavailable: fail open rather than reject traffic.
		return nil
	}
	if !allowed {
		ge := model.NewGatewayError(model.ErrRateLimit,
			fmt.Sprintf("rate limit of %d requests per minute exceeded", rpmLimit))
		ge.RetryAfterSeconds = int(rateWindow.Seconds())
		return ge
	}
	return nil
}
