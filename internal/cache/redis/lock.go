package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/hrninfomeet-wq/Perplexity-dashboard-sub003/internal/domain"
)

// unlockLua deletes a lock key only if it still holds the caller's token.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// LockManager implements domain.LockManager using SET NX with a TTL and a
// token-checked unlock. The session service takes one per owner so two
// processes cannot start sessions for the same owner concurrently.
type LockManager struct {
	rdb      *redis.Client
	unlockSc *redis.Script
}

var _ domain.LockManager = (*LockManager)(nil)

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		rdb:      c.Underlying(),
		unlockSc: redis.NewScript(unlockLua),
	}
}

// Acquire takes the lock or returns domain.ErrLockHeld. Keys are used as
// given; callers namespace them. The returned unlock func may be called more
// than once.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	lk := key

	ok, err := lm.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, domain.ErrLockHeld)
	}

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			// Detached from the caller so a cancelled request still releases.
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = lm.unlockSc.Run(ctx, lm.rdb, []string{lk}, token).Err()
		})
	}
	return unlock, nil
}
