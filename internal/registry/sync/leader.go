package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// LeaderLock is a Redis-backed advisory lock (`SET NX PX`) used to
// elect the single node that performs a registry sync, mirroring the
// teacher's use of Redis for every other piece of cross-node
// coordination (spec §4.3 "leader election at API boot").
type LeaderLock struct {
	redis *redis.Client
	key   string
	ttl   time.Duration
	token string
}

// NewLeaderLock returns a LeaderLock for the given origin, scoping the
// Redis key so concurrent syncs of different origins never contend.
func NewLeaderLock(client *redis.Client, origin string, ttl time.Duration) *LeaderLock {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &LeaderLock{
		redis: client,
		key:   fmt.Sprintf("registry:sync:lock:%s", origin),
		ttl:   ttl,
		token: uuid.NewString(),
	}
}

// Acquire attempts to become leader, returning false if another node
// already holds the lock. It only arbitrates who runs the sync
// pipeline; it does not know the candidate version until discovery
// completes, so the downgrade/semver check against the origin's
// current version (spec §4.3) runs afterward, inside
// registry.Repository.Promote, while this node still holds the lock.
func (l *LeaderLock) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.redis.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("registry/sync: acquire leader lock %q: %w", l.key, err)
	}
	return ok, nil
}

// Renew extends the lock's TTL, failing silently (returning false) if
// this node is no longer the holder.
func (l *LeaderLock) Renew(ctx context.Context) (bool, error) {
	script := redis.NewScript(`
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("PEXPIRE", KEYS[1], ARGV[2])
		end
		return 0
	`)
	res, err := script.Run(ctx, l.redis, []string{l.key}, l.token, l.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("registry/sync: renew leader lock %q: %w", l.key, err)
	}
	return res == 1, nil
}

// Release drops the lock if this node still holds it.
func (l *LeaderLock) Release(ctx context.Context) error {
	script := redis.NewScript(`
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		end
		return 0
	`)
	if _, err := script.Run(ctx, l.redis, []string{l.key}, l.token).Result(); err != nil {
		return fmt.Errorf("registry/sync: release leader lock %q: %w", l.key, err)
	}
	return nil
}
