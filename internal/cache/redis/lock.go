package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/bullbear/internal/domain"
)

// releaseLua deletes the lock only while it still carries our token, so a
// holder whose TTL lapsed cannot release the next holder's lock.
const releaseLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

const (
	lockRetryMin = 10 * time.Millisecond
	lockRetryMax = 200 * time.Millisecond
)

// LockManager implements domain.LockManager with SET NX PX and a token
// checked release. Acquire waits for a held lock until ctx ends.
type LockManager struct {
	c       *Client
	release *redis.Script
}

// NewLockManager creates a LockManager backed by c.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{c: c, release: redis.NewScript(releaseLua)}
}

// Acquire takes the lock named key for at most ttl. While another holder has
// it, Acquire polls with capped exponential backoff; when ctx ends first it
// returns domain.ErrLockHeld.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	k := lm.c.Key("lock", key)
	rdb := lm.c.Underlying()

	wait := lockRetryMin
	for {
		ok, err := rdb.SetNX(ctx, k, token, ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("redis: lock %s: %w: %w", key, domain.ErrLockHeld, ctx.Err())
			}
			return nil, fmt.Errorf("redis: lock %s: %w", key, err)
		}
		if ok {
			break
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, fmt.Errorf("redis: lock %s: %w: %w", key, domain.ErrLockHeld, ctx.Err())
		case <-t.C:
		}
		if wait *= 2; wait > lockRetryMax {
			wait = lockRetryMax
		}
	}

	released := false
	return func() {
		if released {
			return
		}
		released = true
		// The caller's ctx may already be done; release on a fresh one.
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = lm.release.Run(rctx, rdb, []string{k}, token).Err()
	}, nil
}

var _ domain.LockManager = (*LockManager)(nil)
