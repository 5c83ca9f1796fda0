package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/spencook/subscriptions-reference-app-sub001/internal/ratelimit"
)

const (
	defaultRatePerSec = 2
	minWait           = 10 * time.Millisecond
	keyPrefix         = "ratelimit:commerce"
)

// takeScript refills a token bucket from the elapsed time and takes one
// token. It returns {allowed, waitMillis}; waitMillis is how long until a
// token is available when allowed is 0.
var takeScript = goredis.NewScript(`
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local state = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(state[1])
local ts = tonumber(state[2])
if tokens == nil or ts == nil then
  tokens = capacity
  ts = now
end
tokens = math.min(capacity, tokens + math.max(0, now - ts) * rate / 1000)
local allowed = 0
local wait = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
else
  wait = math.ceil((1 - tokens) * 1000 / rate)
end
redis.call("HSET", KEYS[1], "tokens", tostring(tokens), "ts", tostring(now))
redis.call("PEXPIRE", KEYS[1], math.ceil(capacity * 1000 / rate) + 1000)
return {allowed, wait}
`)

var _ ratelimit.RateLimiter = (*RedisRateLimiter)(nil)

// RateLimiterOptions sizes the per-shop bucket. Burst defaults to the rate.
type RateLimiterOptions struct {
	RatePerSec int
	Burst      int
}

// RedisRateLimiter is a token bucket per shop shared by every replica, so
// bursts are absorbed up to the bucket size and one busy shop cannot starve
// the others.
type RedisRateLimiter struct {
	client     *goredis.Client
	ratePerSec int
	burst      int
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error
}

func NewRedisRateLimiter(client *goredis.Client, opts RateLimiterOptions) (*RedisRateLimiter, error) {
	return newRedisRateLimiter(client, opts, time.Now, sleepWithContext)
}

func newRedisRateLimiter(
	client *goredis.Client,
	opts RateLimiterOptions,
	nowFn func() time.Time,
	sleepFn func(ctx context.Context, d time.Duration) error,
) (*RedisRateLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = defaultRatePerSec
	}
	if opts.Burst <= 0 {
		opts.Burst = opts.RatePerSec
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if sleepFn == nil {
		sleepFn = sleepWithContext
	}

	return &RedisRateLimiter{
		client:     client,
		ratePerSec: opts.RatePerSec,
		burst:      opts.Burst,
		now:        nowFn,
		sleep:      sleepFn,
	}, nil
}

func (r *RedisRateLimiter) Allow(ctx context.Context, shop string) (bool, error) {
	allowed, _, err := r.take(ctx, shop)
	return allowed, err
}

// Wait blocks until the shop's bucket yields a token or ctx ends, sleeping
// for the refill time the bucket reports.
func (r *RedisRateLimiter) Wait(ctx context.Context, shop string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	for {
		allowed, wait, err := r.take(ctx, shop)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}
		if err := r.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (r *RedisRateLimiter) take(ctx context.Context, shop string) (bool, time.Duration, error) {
	if r == nil || r.client == nil {
		return false, 0, fmt.Errorf("rate limiter is not initialized")
	}

	normalizedShop := strings.ToLower(strings.TrimSpace(shop))
	if normalizedShop == "" {
		return false, 0, fmt.Errorf("shop is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	key := keyPrefix + ":" + normalizedShop
	result, err := takeScript.Run(ctx, r.client, []string{key}, r.ratePerSec, r.burst, r.now().UnixMilli()).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("failed to evaluate rate limit: %w", err)
	}
	if len(result) != 2 {
		return false, 0, fmt.Errorf("unexpected rate limit reply %v", result)
	}

	wait := time.Duration(result[1]) * time.Millisecond
	if wait < minWait {
		wait = minWait
	}
	return result[0] == 1, wait, nil
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
