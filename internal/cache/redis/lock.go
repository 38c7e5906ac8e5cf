package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/Mohith0505/NextGenAlgo/internal/domain"
)

// unlockLua deletes a lock key only when its value still matches the holder's
// token, so a holder whose TTL already expired cannot release a lock that has
// since been re-acquired by someone else.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// LockManager implements domain.LockManager with SETNX plus a conditional Lua
// unlock. The RMS gate serialises per-user counter updates with it and the
// scheduler uses it so only one instance fires a cron job.
type LockManager struct {
	rdb    *redis.Client
	unlock *redis.Script
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		rdb:    c.Underlying(),
		unlock: redis.NewScript(unlockLua),
	}
}

var _ domain.LockManager = (*LockManager)(nil)

func lockKey(key string) string {
	return "nga:lock:" + key
}

// Acquire takes the lock for key with the given TTL and returns a release
// function that is safe to call more than once. A lock already held by
// another party yields domain.ErrLockHeld.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.New().String()
	lk := lockKey(key)

	ok, err := lm.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	released := false
	release := func() {
		if released {
			return
		}
		released = true

		// Release on a fresh context: the holder's context is often already
		// cancelled by the time the deferred unlock runs.
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = lm.unlock.Run(unlockCtx, lm.rdb, []string{lk}, token).Err()
	}

	return release, nil
}
