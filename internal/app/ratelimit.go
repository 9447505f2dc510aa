package app

import (
	"context"

	"x-auto-post-tool/internal/common/logging"
	"x-auto-post-tool/internal/ratelimit"
)

// initializeRateLimiter builds the per-user posting limiter. It is shared
// across instances through Redis when Redis is configured.
func (app *App) initializeRateLimiter(_ context.Context) error {
	limit, window := app.Config.RateLimit()

	rateLimitConfig := ratelimit.Config{
		Limit:   limit,
		Window:  window,
		Enabled: app.Config.RateLimitEnabled,
	}

	limiter, err := ratelimit.New(app.RedisClient, rateLimitConfig)
	if err != nil {
		return err
	}

	app.RateLimiter = limiter
	if rateLimitConfig.Enabled {
		app.Logger.Info("Rate Limiting: Enabled",
			logging.Int("limit", limit),
			logging.Duration("window", window),
			logging.Bool("distributed", app.RedisClient != nil),
		)
	}
	return nil
}
