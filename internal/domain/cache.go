package domain

import (
	"context"
	"time"
)

// LockManager provides short-lived distributed locks. The returned unlock
// function is safe to call multiple times.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// RateLimiter bounds request rates per key using a sliding window.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// IdempotencyStore deduplicates webhook deliveries. Claim stores value under
// key with the window TTL iff the key is free; when the key is already held
// it returns the original value and claimed=false.
type IdempotencyStore interface {
	Claim(ctx context.Context, key, value string, window time.Duration) (existing string, claimed bool, err error)
}
