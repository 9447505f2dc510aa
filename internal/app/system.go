package app

import (
	"context"

	"x-auto-post-tool/internal/auth"
	"x-auto-post-tool/internal/autopost"
	"x-auto-post-tool/internal/common/cache"
	"x-auto-post-tool/internal/common/errors"
	"x-auto-post-tool/internal/common/logging"
	"x-auto-post-tool/internal/services/github"
	"x-auto-post-tool/internal/services/openai"
)

// Cache kinds accepted by ClearCache. Revoked sessions are reported but never
// cleared, since dropping them would revive logged out sessions.
const (
	CacheAll     = "all"
	CacheGitHub  = github.ServiceName
	CacheOpenAI  = openai.ServiceName
	cacheRevoked = "revoked_sessions"
)

var clearableNamespaces = map[string]string{
	CacheGitHub: autopost.CommitNamespace,
	CacheOpenAI: autopost.GenerationNamespace,
}

// Health checks the stores the app depends on. A nil error means healthy;
// Redis is only listed when it is configured.
func (app *App) Health(ctx context.Context) map[string]error {
	checks := map[string]error{
		"database": app.DB.Health(ctx),
	}
	if app.RedisClient != nil {
		checks["redis"] = app.RedisClient.Health()
	}
	return checks
}

func (app *App) inspector() (cache.Inspector, error) {
	inspector, ok := app.Cache.(cache.Inspector)
	if !ok {
		return nil, errors.InternalError("cache does not support inspection", nil)
	}
	return inspector, nil
}

// CacheStats counts the cached entries of each kind.
func (app *App) CacheStats(ctx context.Context) (map[string]int, error) {
	inspector, err := app.inspector()
	if err != nil {
		return nil, err
	}

	namespaces := map[string]string{cacheRevoked: auth.RevocationNamespace}
	for kind, ns := range clearableNamespaces {
		namespaces[kind] = ns
	}

	stats := make(map[string]int, len(namespaces))
	for kind, ns := range namespaces {
		n, err := inspector.Count(ctx, ns)
		if err != nil {
			return nil, errors.ConnectionError("failed to read cache statistics", err)
		}
		stats[kind] = n
	}
	return stats, nil
}

// ClearCache drops cached lookups of kind (github, openai or all) and returns
// how many entries went.
func (app *App) ClearCache(ctx context.Context, kind string) (int, error) {
	var namespaces []string
	switch kind {
	case "", CacheAll:
		kind = CacheAll
		for _, ns := range clearableNamespaces {
			namespaces = append(namespaces, ns)
		}
	default:
		ns, ok := clearableNamespaces[kind]
		if !ok {
			return 0, errors.ValidationError("cache type must be one of all, github, openai")
		}
		namespaces = []string{ns}
	}

	inspector, err := app.inspector()
	if err != nil {
		return 0, err
	}

	cleared := 0
	for _, ns := range namespaces {
		n, err := inspector.Clear(ctx, ns)
		cleared += n
		if err != nil {
			return cleared, errors.ConnectionError("failed to clear cache", err)
		}
	}

	logging.WithContext(ctx).Info("Cache cleared",
		logging.String("kind", kind),
		logging.Int("cleared", cleared),
	)
	return cleared, nil
}
