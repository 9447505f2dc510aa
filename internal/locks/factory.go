package locks

import (
	"x-auto-post-tool/internal/common/logging"
	"x-auto-post-tool/internal/redis"
)

// New returns a distributed locker when a Redis client is available and an
// in-process one otherwise.
func New(redisClient *redis.Client, logger logging.Logger) (Locker, error) {
	if redisClient == nil {
		return NewLocalLocker(), nil
	}
	return NewRedsyncLocker(redisClient, DefaultExpiry, logger)
}
