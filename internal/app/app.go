// Package app wires the subsystem together and exposes the operations the
// HTTP layer calls: login, token lookup, automated posting and logout.
package app

import (
	"context"

	"x-auto-post-tool/internal/auth"
	"x-auto-post-tool/internal/autopost"
	"x-auto-post-tool/internal/circuitbreaker"
	"x-auto-post-tool/internal/common/cache"
	"x-auto-post-tool/internal/common/logging"
	"x-auto-post-tool/internal/config"
	"x-auto-post-tool/internal/crypto"
	"x-auto-post-tool/internal/database"
	"x-auto-post-tool/internal/dedup"
	"x-auto-post-tool/internal/locks"
	"x-auto-post-tool/internal/oauthstate"
	"x-auto-post-tool/internal/provider"
	"x-auto-post-tool/internal/ratelimit"
	"x-auto-post-tool/internal/redis"
	"x-auto-post-tool/internal/resilience"
	"x-auto-post-tool/internal/services/twitter"
	"x-auto-post-tool/internal/tokenvault"
)

// App holds all the application dependencies
type App struct {
	Config      *config.Config
	DB          *database.DB
	RedisClient *redis.Client
	Cipher      *crypto.TokenCipher
	Cache       cache.Cache
	Locker      locks.Locker
	Auth        *auth.Auth
	States      *oauthstate.Store
	Breakers    *circuitbreaker.Registry
	Provider    *provider.Client
	Vault       *tokenvault.Vault
	Twitter     *twitter.Client
	Identity    *resilience.Invoker
	Dedup       *dedup.Guard
	Posts       *autopost.Orchestrator
	RateLimiter ratelimit.Limiter
	Logger      logging.Logger
}

// New creates a new application instance with all dependencies. cfg must
// already be validated.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logging.GetGlobalLogger().WithFields(logging.String("component", "app")),
	}

	// Initialize components in order of dependency
	steps := []func(context.Context) error{
		app.initializeStorage,
		app.initializeRedis,
		app.initializeSecurity,
		app.initializeShared,
		app.initializeServices,
		app.initializeRateLimiter,
	}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			app.Close()
			return nil, err
		}
	}

	return app, nil
}

// Close releases all resources
func (app *App) Close() {
	if app.DB != nil {
		if err := app.DB.Close(); err != nil {
			app.Logger.Warn("Error closing database", logging.Err(err))
		}
	}
	if app.RedisClient != nil {
		if err := app.RedisClient.Close(); err != nil {
			app.Logger.Warn("Error closing Redis client", logging.Err(err))
		}
	}
}
