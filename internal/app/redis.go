package app

import (
	"context"

	"x-auto-post-tool/internal/common/errors"
	"x-auto-post-tool/internal/common/logging"
	"x-auto-post-tool/internal/redis"
)

func (app *App) initializeRedis(_ context.Context) error {
	if !app.Config.UsesRedis() {
		app.Logger.Info("Redis: Not configured (state, cache, dedup and locks are process-local)")
		return nil
	}

	redisConfig := &redis.Config{
		Address:  app.Config.RedisAddress,
		Password: app.Config.RedisPassword,
		DB:       app.Config.RedisDBNumber(),
		PoolSize: app.Config.RedisPoolSizeNumber(),
	}

	// shared state must be shared; running on with local fallbacks would
	// break one-time state redemption across instances
	redisClient, err := redis.NewClient(redisConfig)
	if err != nil {
		return errors.ConnectionError("redis is configured but unreachable", err)
	}

	app.RedisClient = redisClient
	app.Logger.Info("Redis: Connected", logging.String("address", app.Config.RedisAddress))
	return nil
}
