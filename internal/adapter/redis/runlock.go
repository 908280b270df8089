package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pscheid92/autoapply/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

const (
	runLockKey = keyPrefix + "run-lock"
	runLockTTL = 30 * time.Second
)

var errLockLost = errors.New("run lock lost")

// releaseScript deletes the lock only if this instance still owns it.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

// RunLock is a Redis lease that keeps scheduled runs from overlapping
// across processes. The holder must Renew well within the TTL.
type RunLock struct {
	rdb        *goredis.Client
	instanceID string
	ttl        time.Duration
}

var _ domain.RunLock = (*RunLock)(nil)

func NewRunLock(rdb *goredis.Client, instanceID string) *RunLock {
	return &RunLock{rdb: rdb, instanceID: instanceID, ttl: runLockTTL}
}

func (l *RunLock) TryAcquire(ctx context.Context) (bool, error) {
	ok, err := l.rdb.SetNX(ctx, runLockKey, l.instanceID, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire run lock: %w", err)
	}
	return ok, nil
}

func (l *RunLock) Renew(ctx context.Context) error {
	holder, err := l.rdb.Get(ctx, runLockKey).Result()
	if errors.Is(err, goredis.Nil) {
		return errLockLost
	}
	if err != nil {
		return fmt.Errorf("failed to read run lock: %w", err)
	}
	if holder != l.instanceID {
		return fmt.Errorf("%w: held by %s", errLockLost, holder)
	}

	ok, err := l.rdb.Expire(ctx, runLockKey, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to renew run lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w during renewal", errLockLost)
	}
	return nil
}

func (l *RunLock) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.rdb, []string{runLockKey}, l.instanceID).Err(); err != nil {
		return fmt.Errorf("failed to release run lock: %w", err)
	}
	return nil
}
