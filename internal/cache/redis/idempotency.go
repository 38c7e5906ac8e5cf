package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Mohith0505/NextGenAlgo/internal/domain"
)

// IdempotencyStore implements domain.IdempotencyStore using SET NX PX. The
// stored value is the id of the first accepted delivery, so duplicates can be
// answered with a pointer to the original.
type IdempotencyStore struct {
	rdb *redis.Client
}

// NewIdempotencyStore creates an IdempotencyStore backed by the given Client.
func NewIdempotencyStore(c *Client) *IdempotencyStore {
	return &IdempotencyStore{rdb: c.Underlying()}
}

func idemKey(key string) string {
	return "idem:" + key
}

// Claim atomically stores value under key for the window duration. If another
// delivery already holds the key, Claim returns its value and claimed=false.
func (s *IdempotencyStore) Claim(ctx context.Context, key, value string, window time.Duration) (string, bool, error) {
	k := idemKey(key)

	ok, err := s.rdb.SetNX(ctx, k, value, window).Result()
	if err != nil {
		return "", false, fmt.Errorf("redis: claim idempotency key %s: %w", key, err)
	}
	if ok {
		return value, true, nil
	}

	existing, err := s.rdb.Get(ctx, k).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// The original claim expired between SetNX and Get. Treat the
			// delivery as new rather than racing another SetNX.
			return value, true, s.rdb.Set(ctx, k, value, window).Err()
		}
		return "", false, fmt.Errorf("redis: read idempotency key %s: %w", key, err)
	}
	return existing, false, nil
}

// Compile-time interface check.
var _ domain.IdempotencyStore = (*IdempotencyStore)(nil)
