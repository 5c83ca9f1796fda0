package ratelimit

import "context"

// RateLimiter bounds commerce API throughput per shop.
type RateLimiter interface {
	Allow(ctx context.Context, shop string) (bool, error)
	Wait(ctx context.Context, shop string) error
}
