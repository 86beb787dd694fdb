package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/stakingengine/internal/domain"
)

// unlockLua deletes a lock key only if it still holds the caller's token.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// LockManager implements domain.LockManager using Redis SET NX with a TTL
// and a Lua-based conditional unlock.
type LockManager struct {
	client   *Client
	unlockSc *redis.Script
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		client:   c,
		unlockSc: redis.NewScript(unlockLua),
	}
}

// Acquire takes the lock named key for at most ttl. The returned unlock
// function is idempotent. It returns domain.ErrLockHeld if another holder
// owns the lock.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	lk := lm.client.Key("lock:" + key)
	rdb := lm.client.Underlying()

	ok, err := rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	released := false
	unlock := func() {
		if released {
			return
		}
		released = true

		// The caller's context may already be cancelled at this point.
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = lm.unlockSc.Run(unlockCtx, rdb, []string{lk}, token).Err()
	}
	return unlock, nil
}

var _ domain.LockManager = (*LockManager)(nil)
