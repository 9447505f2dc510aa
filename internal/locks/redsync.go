package locks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v8"
	"x-auto-post-tool/internal/common/errors"
	"x-auto-post-tool/internal/common/logging"
	"x-auto-post-tool/internal/redis"
)

// DefaultExpiry bounds how long a crashed holder can block a key.
const DefaultExpiry = 30 * time.Second

// RedsyncLocker is a distributed Locker built on the Redlock implementation
// in go-redsync. Held locks are extended in the background until released.
type RedsyncLocker struct {
	redsync *redsync.Redsync
	expiry  time.Duration
	prefix  string
	logger  logging.Logger
}

// NewRedsyncLocker creates a distributed locker. expiry <= 0 uses DefaultExpiry.
func NewRedsyncLocker(redisClient *redis.Client, expiry time.Duration, logger logging.Logger) (*RedsyncLocker, error) {
	if redisClient == nil {
		return nil, errors.ConfigError("redis client is required")
	}
	if expiry <= 0 {
		expiry = DefaultExpiry
	}

	pool := goredis.NewPool(redisClient.GetGoRedisClient())

	return &RedsyncLocker{
		redsync: redsync.New(pool),
		expiry:  expiry,
		prefix:  "lock:",
		logger:  logging.OrGlobal(logger),
	}, nil
}

// Lock implements Locker.
func (r *RedsyncLocker) Lock(ctx context.Context, key string) (Unlock, error) {
	mutex := r.redsync.NewMutex(r.prefix+key,
		redsync.WithExpiry(r.expiry),
		redsync.WithTries(64),
		redsync.WithRetryDelay(50*time.Millisecond),
	)

	if err := mutex.LockContext(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.InternalError(fmt.Sprintf("failed to acquire lock %s", key), err)
	}

	renewCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go r.renew(renewCtx, mutex, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done

			unlockCtx, unlockCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer unlockCancel()
			if _, err := mutex.UnlockContext(unlockCtx); err != nil {
				r.logger.Warn("Failed to release lock",
					logging.String("key", key),
					logging.Err(err),
				)
			}
		})
	}, nil
}

// renew extends the mutex at a third of its expiry until ctx is cancelled.
func (r *RedsyncLocker) renew(ctx context.Context, mutex *redsync.Mutex, done chan<- struct{}) {
	defer close(done)

	interval := r.expiry / 3
	if interval < time.Second {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			extendCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			ok, err := mutex.ExtendContext(extendCtx)
			cancel()

			if err != nil || !ok {
				if ctx.Err() != nil {
					return
				}
				r.logger.Warn("Lost lock before release",
					logging.String("key", mutex.Name()),
					logging.Err(err),
				)
				return
			}
		}
	}
}
