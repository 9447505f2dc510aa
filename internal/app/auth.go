package app

import (
	"context"
	"strings"
	"time"

	"x-auto-post-tool/internal/auth"
	"x-auto-post-tool/internal/common/cache"
	"x-auto-post-tool/internal/config"
	"x-auto-post-tool/internal/crypto"
	"x-auto-post-tool/internal/dedup"
	"x-auto-post-tool/internal/locks"
	"x-auto-post-tool/internal/oauthstate"
)

const stateCleanupInterval = time.Minute

// initializeSecurity builds the token cipher.
func (app *App) initializeSecurity(_ context.Context) error {
	cipher, err := crypto.NewTokenCipher(app.Config.TokenEncryptionKey)
	if err != nil {
		return err
	}
	app.Cipher = cipher
	return nil
}

// initializeShared builds everything that lives in Redis when Redis is
// configured and in process memory otherwise.
func (app *App) initializeShared(_ context.Context) error {
	cacheConfig := cache.DefaultConfig()
	cacheConfig.KeyPrefix = "xap:cache:"
	if app.RedisClient != nil {
		cacheConfig.Type = cache.TypeTwoTier
		cacheConfig.RedisClient = app.RedisClient.GetGoRedisClient()
	}
	c, err := cache.New(cacheConfig)
	if err != nil {
		return err
	}
	app.Cache = c

	locker, err := locks.New(app.RedisClient, app.Logger)
	if err != nil {
		return err
	}
	app.Locker = locker

	var backend oauthstate.Backend = oauthstate.NewMemoryBackend(stateCleanupInterval)
	var dedupStore dedup.Store = dedup.NewMemoryStore()
	if app.RedisClient != nil {
		backend = oauthstate.NewRedisBackend(app.RedisClient)
		dedupStore = dedup.NewRedisStore(app.RedisClient)
	}

	states, err := oauthstate.NewStore(backend, app.Cipher, oauthstate.WithLogger(app.Logger))
	if err != nil {
		return err
	}
	app.States = states

	app.Dedup = dedup.NewGuard(dedupStore,
		dedup.WithWindow(config.Duration(app.Config.DedupWindow)),
		dedup.WithLogger(app.Logger),
	)

	sessions, err := auth.New(app.Config.SessionSecret, app.Cache,
		auth.WithSecureCookie(strings.HasPrefix(app.Config.TwitterRedirectURI, "https://")),
	)
	if err != nil {
		return err
	}
	app.Auth = sessions
	return nil
}
