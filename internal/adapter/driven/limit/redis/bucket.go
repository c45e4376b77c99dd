package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const rateLimitKeyPrefix = "tanin:rate_limit:"

// bucketTTL bounds storage growth: a key idle for this long is forgotten,
// which only ever hands the caller a full bucket again.
const bucketTTL = 120 * time.Second

// consumeScript runs the whole read-refill-compare-write cycle server-side
// so that two concurrent consumers of one key can never observe the same
// stale token count. Refill is integer-floored: elapsed time too short to
// floor to one token accrues nothing.
var consumeScript = goredis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill_rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local amount = tonumber(ARGV[4])
local ttl = tonumber(ARGV[5])

local tokens
local last_refill

local data = redis.call('HMGET', key, 'tokens', 'last_refill')
if data[1] then
    tokens = tonumber(data[1])
    last_refill = tonumber(data[2])
    local elapsed = now - last_refill
    tokens = math.min(capacity, tokens + math.floor(refill_rate * elapsed))
else
    tokens = capacity
    last_refill = now
end

local allowed = 0
if tokens >= amount then
    tokens = tokens - amount
    allowed = 1
end

-- tostring keeps the fractional seconds; a bare number argument would be
-- truncated to an integer by the redis lua bridge.
redis.call('HSET', key, 'tokens', tokens, 'last_refill', tostring(now))
redis.call('EXPIRE', key, ttl)
return allowed
`)

// TokenBucket implements port.RateLimiter against Redis. The zero refill
// clock is the wall clock; tests inject their own.
type TokenBucket struct {
	rdb        goredis.UniversalClient
	capacity   int
	refillRate float64
	now        func() time.Time
}

type Option func(*TokenBucket)

// WithClock overrides the refill clock.
func WithClock(now func() time.Time) Option {
	return func(b *TokenBucket) { b.now = now }
}

func NewTokenBucket(rdb goredis.UniversalClient, capacity int, refillRate float64, opts ...Option) *TokenBucket {
	b := &TokenBucket{
		rdb:        rdb,
		capacity:   capacity,
		refillRate: refillRate,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Consume fails closed: when the store is unreachable the request is denied
// rather than silently allowed past the limiter.
func (b *TokenBucket) Consume(ctx context.Context, key string, amount int) (bool, error) {
	now := float64(b.now().UnixMilli()) / 1000.0
	res, err := consumeScript.Run(ctx, b.rdb,
		[]string{rateLimitKeyPrefix + key},
		b.capacity, b.refillRate, now, amount, int(bucketTTL.Seconds()),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("consume %s: %w", key, err)
	}
	return res == 1, nil
}
