package app

import (
	"context"
	"time"

	"x-auto-post-tool/internal/autopost"
	"x-auto-post-tool/internal/circuitbreaker"
	"x-auto-post-tool/internal/config"
	"x-auto-post-tool/internal/oauthstate"
	"x-auto-post-tool/internal/provider"
	"x-auto-post-tool/internal/resilience"
	"x-auto-post-tool/internal/services/github"
	"x-auto-post-tool/internal/services/openai"
	"x-auto-post-tool/internal/services/twitter"
	"x-auto-post-tool/internal/tokenvault"
)

// initializeServices builds the breaker registry, the downstream clients and
// their invokers, the token vault and the orchestrator.
func (app *App) initializeServices(_ context.Context) error {
	cfg := app.Config

	defaults, err := cfg.BreakerDefaults()
	if err != nil {
		return err
	}
	overrides, err := cfg.BreakerConfigs()
	if err != nil {
		return err
	}
	registry, err := circuitbreaker.NewRegistry(circuitbreaker.Implementation(cfg.BreakerImpl), defaults, overrides, app.Logger)
	if err != nil {
		return err
	}
	app.Breakers = registry

	app.Provider = provider.NewClient(registry.Get(provider.ServiceName), provider.DefaultTimeout, app.Logger)

	vault, err := tokenvault.New(tokenvault.Config{
		Repository: tokenvault.NewSQLRepository(app.DB),
		Cipher:     app.Cipher,
		Refresher:  app.Provider,
		Clients:    map[string]oauthstate.ClientConfig{twitter.ServiceName: cfg.TwitterClient()},
		Locker:     app.Locker,
		Logger:     app.Logger,
	})
	if err != nil {
		return err
	}
	app.Vault = vault

	commits, err := github.NewClient(github.Config{BaseURL: cfg.GitHubAPIURL, Token: cfg.GitHubToken})
	if err != nil {
		return err
	}
	generator, err := openai.NewClient(openai.Config{APIKey: cfg.OpenAIAPIKey, BaseURL: cfg.OpenAIAPIURL, Model: cfg.OpenAIModel})
	if err != nil {
		return err
	}
	app.Twitter = twitter.NewClient(twitter.Config{BaseURL: cfg.TwitterAPIURL})

	invokers := app.invokers()
	app.Identity = app.invoker(identityPolicy())

	orchestrator, err := autopost.New(autopost.Config{
		Commits:   commits,
		Generator: generator,
		Poster:    app.Twitter,
		Tokens:    app.Vault,
		Dedup:     app.Dedup,
		Invokers:  invokers,
		Logger:    app.Logger,
	})
	if err != nil {
		return err
	}
	app.Posts = orchestrator
	return nil
}

func (app *App) invoker(policy resilience.Policy) *resilience.Invoker {
	return resilience.NewInvoker(policy, app.Breakers.Get(policy.Name), app.Cache, app.Logger)
}

func (app *App) invokers() autopost.Invokers {
	commitPolicy := resilience.DefaultPolicy(github.ServiceName)
	commitPolicy.CacheTTL = config.Duration(app.Config.CommitCacheTTL)

	generationPolicy := resilience.DefaultPolicy(openai.ServiceName)
	generationPolicy.Timeout = 30 * time.Second
	generationPolicy.CacheTTL = config.Duration(app.Config.GenerationCacheTTL)

	// posting is not idempotent: one attempt, never cached
	postPolicy := resilience.DefaultPolicy(twitter.ServiceName)
	postPolicy.MaxAttempts = 1

	return autopost.Invokers{
		Commits:    app.invoker(commitPolicy),
		Generation: app.invoker(generationPolicy),
		Post:       app.invoker(postPolicy),
	}
}

// identityPolicy guards the login-time identity lookup. It shares the
// twitter breaker with posting but, being a read, may be retried.
func identityPolicy() resilience.Policy {
	return resilience.DefaultPolicy(twitter.ServiceName)
}
