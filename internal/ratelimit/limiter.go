package ratelimit

import "context"

// RateLimiter controls document send throughput per push target.
type RateLimiter interface {
	Allow(ctx context.Context, target string) (bool, error)
	Wait(ctx context.Context, target string) error
}
