package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

func newTestRedisClient(t *testing.T) *goredis.Client {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() error = %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := goredis.NewClient(&goredis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() {
		_ = rdb.Close()
	})

	return rdb
}

func mustAllow(t *testing.T, limiter *RedisRateLimiter, shop string, want bool) {
	t.Helper()

	allowed, err := limiter.Allow(context.Background(), shop)
	if err != nil {
		t.Fatalf("Allow(%s) error = %v", shop, err)
	}
	if allowed != want {
		t.Fatalf("Allow(%s) = %v, want %v", shop, allowed, want)
	}
}

func TestRedisRateLimiterBucket(t *testing.T) {
	t.Parallel()

	rdb := newTestRedisClient(t)

	now := time.Unix(1_700_000_000, 0)
	limiter, err := newRedisRateLimiter(
		rdb,
		RateLimiterOptions{RatePerSec: 2},
		func() time.Time { return now },
		sleepWithContext,
	)
	if err != nil {
		t.Fatalf("newRedisRateLimiter() error = %v", err)
	}

	shop := "shop-one.myshopify.com"
	mustAllow(t, limiter, shop, true)
	mustAllow(t, limiter, shop, true)
	mustAllow(t, limiter, shop, false)

	now = now.Add(250 * time.Millisecond)
	mustAllow(t, limiter, shop, false)

	now = now.Add(250 * time.Millisecond)
	mustAllow(t, limiter, shop, true)
	mustAllow(t, limiter, shop, false)

	now = now.Add(10 * time.Second)
	mustAllow(t, limiter, shop, true)
	mustAllow(t, limiter, shop, true)
	mustAllow(t, limiter, shop, false)
}

func TestRedisRateLimiterBurst(t *testing.T) {
	t.Parallel()

	rdb := newTestRedisClient(t)

	now := time.Unix(1_700_000_050, 0)
	limiter, err := newRedisRateLimiter(
		rdb,
		RateLimiterOptions{RatePerSec: 1, Burst: 4},
		func() time.Time { return now },
		sleepWithContext,
	)
	if err != nil {
		t.Fatalf("newRedisRateLimiter() error = %v", err)
	}

	for i := 0; i < 4; i++ {
		mustAllow(t, limiter, "shop-one.myshopify.com", true)
	}
	mustAllow(t, limiter, "shop-one.myshopify.com", false)
}

func TestRedisRateLimiterPerShop(t *testing.T) {
	t.Parallel()

	rdb := newTestRedisClient(t)

	now := time.Unix(1_700_000_100, 0)
	limiter, err := newRedisRateLimiter(
		rdb,
		RateLimiterOptions{RatePerSec: 1},
		func() time.Time { return now },
		sleepWithContext,
	)
	if err != nil {
		t.Fatalf("newRedisRateLimiter() error = %v", err)
	}

	mustAllow(t, limiter, "shop-one.myshopify.com", true)
	mustAllow(t, limiter, "shop-two.myshopify.com", true)
	mustAllow(t, limiter, "shop-one.myshopify.com", false)
}

func TestRedisRateLimiterWaitSleepsForRefill(t *testing.T) {
	t.Parallel()

	rdb := newTestRedisClient(t)

	now := time.Unix(1_700_000_200, 0)
	var slept []time.Duration
	limiter, err := newRedisRateLimiter(
		rdb,
		RateLimiterOptions{RatePerSec: 2},
		func() time.Time { return now },
		func(ctx context.Context, d time.Duration) error {
			slept = append(slept, d)
			now = now.Add(d)
			return nil
		},
	)
	if err != nil {
		t.Fatalf("newRedisRateLimiter() error = %v", err)
	}

	shop := "shop-three.myshopify.com"
	mustAllow(t, limiter, shop, true)
	mustAllow(t, limiter, shop, true)

	if err := limiter.Wait(context.Background(), shop); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if len(slept) != 1 || slept[0] != 500*time.Millisecond {
		t.Fatalf("slept = %v, want [500ms]", slept)
	}
}

func TestRedisRateLimiterWaitContextDeadline(t *testing.T) {
	t.Parallel()

	rdb := newTestRedisClient(t)

	now := time.Unix(1_700_000_300, 0)
	limiter, err := newRedisRateLimiter(
		rdb,
		RateLimiterOptions{RatePerSec: 1},
		func() time.Time { return now },
		sleepWithContext,
	)
	if err != nil {
		t.Fatalf("newRedisRateLimiter() error = %v", err)
	}

	mustAllow(t, limiter, "shop-one.myshopify.com", true)

	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Millisecond)
	defer cancel()

	err = limiter.Wait(ctx, "shop-one.myshopify.com")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait() error = %v, want %v", err, context.DeadlineExceeded)
	}
}

func TestRedisRateLimiterNormalizesShop(t *testing.T) {
	t.Parallel()

	rdb := newTestRedisClient(t)

	now := time.Unix(1_700_000_400, 0)
	limiter, err := newRedisRateLimiter(
		rdb,
		RateLimiterOptions{RatePerSec: 1},
		func() time.Time { return now },
		sleepWithContext,
	)
	if err != nil {
		t.Fatalf("newRedisRateLimiter() error = %v", err)
	}

	mustAllow(t, limiter, "Shop-One.myshopify.com ", true)
	mustAllow(t, limiter, "shop-one.myshopify.com", false)
	if _, err := limiter.Allow(context.Background(), "  "); err == nil {
		t.Fatal("expected error for empty shop")
	}
}

func TestNewRedisRateLimiterDefaults(t *testing.T) {
	t.Parallel()

	if _, err := NewRedisRateLimiter(nil, RateLimiterOptions{}); err == nil {
		t.Fatal("expected error for nil client")
	}

	limiter, err := NewRedisRateLimiter(newTestRedisClient(t), RateLimiterOptions{})
	if err != nil {
		t.Fatalf("NewRedisRateLimiter() error = %v", err)
	}
	if limiter.ratePerSec != defaultRatePerSec || limiter.burst != defaultRatePerSec {
		t.Fatalf("rate=%d burst=%d, want %d/%d", limiter.ratePerSec, limiter.burst, defaultRatePerSec, defaultRatePerSec)
	}
}
