// Package ratelimit throttles callers per key. It protects the posting
// account's upstream quota from a single user hammering the autopost endpoint.
//
// LocalLimiter is a token bucket per key (golang.org/x/time/rate) for single
// instance deployments; RedisLimiter keeps a sliding window in Redis so every
// instance shares the count.
package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"x-auto-post-tool/internal/common/errors"
	"x-auto-post-tool/internal/common/logging"
	"x-auto-post-tool/internal/redis"
)

// Config sets the per-key budget.
type Config struct {
	Limit   int           `json:"limit"`
	Window  time.Duration `json:"window"`
	Enabled bool          `json:"enabled"`
}

// DefaultConfig allows 10 requests per key per 15 minutes.
func DefaultConfig() Config {
	return Config{Limit: 10, Window: 15 * time.Minute, Enabled: true}
}

// Validate checks the budget is usable.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Limit <= 0 {
		return errors.ConfigError("rate limit must be positive")
	}
	if c.Window <= 0 {
		return errors.ConfigError("rate limit window must be positive")
	}
	return nil
}

// Result is the outcome of one check.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAfter time.Duration
}

// Limiter admits or rejects one request for key.
type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)
}

// New picks the Redis limiter when a client is available.
func New(redisClient *redis.Client, config Config) (Limiter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if redisClient == nil {
		return NewLocalLimiter(config), nil
	}
	return NewRedisLimiter(redisClient, config), nil
}

// LocalLimiter keeps a token bucket per key that refills Limit tokens per Window.
type LocalLimiter struct {
	config Config

	mu          sync.Mutex
	limiters    map[string]*limiterEntry
	lastCleanup time.Time
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// NewLocalLimiter creates an in-process limiter.
func NewLocalLimiter(config Config) *LocalLimiter {
	return &LocalLimiter{
		config:      config,
		limiters:    make(map[string]*limiterEntry),
		lastCleanup: time.Now(),
	}
}

// Allow implements Limiter.
func (l *LocalLimiter) Allow(_ context.Context, key string) (Result, error) {
	if !l.config.Enabled {
		return Result{Allowed: true, Limit: l.config.Limit, Remaining: l.config.Limit}, nil
	}

	now := time.Now()
	limiter := l.limiterFor(key, now)

	res := Result{Limit: l.config.Limit}
	r := limiter.ReserveN(now, 1)
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		res.ResetAfter = delay
	} else {
		res.Allowed = true
	}

	res.Remaining = int(limiter.TokensAt(now))
	if res.Remaining < 0 {
		res.Remaining = 0
	}
	return res, nil
}

func (l *LocalLimiter) limiterFor(key string, now time.Time) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastCleanup) > l.config.Window {
		l.cleanup(now)
	}

	entry, ok := l.limiters[key]
	if !ok {
		every := rate.Every(l.config.Window / time.Duration(l.config.Limit))
		entry = &limiterEntry{limiter: rate.NewLimiter(every, l.config.Limit)}
		l.limiters[key] = entry
	}
	entry.lastUsed = now
	return entry.limiter
}

// cleanup drops buckets idle for a full window; they would be full again anyway.
func (l *LocalLimiter) cleanup(now time.Time) {
	for key, entry := range l.limiters {
		if now.Sub(entry.lastUsed) > l.config.Window {
			delete(l.limiters, key)
		}
	}
	l.lastCleanup = now
}

// RedisLimiter is a sliding-window limiter shared through Redis.
type RedisLimiter struct {
	redis  *redis.Client
	config Config
	prefix string
}

// NewRedisLimiter creates a Redis backed limiter.
func NewRedisLimiter(redisClient *redis.Client, config Config) *RedisLimiter {
	return &RedisLimiter{redis: redisClient, config: config, prefix: "rate_limit:"}
}

// Allow implements Limiter.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (Result, error) {
	if !l.config.Enabled {
		return Result{Allowed: true, Limit: l.config.Limit, Remaining: l.config.Limit}, nil
	}

	allowed, current, err := l.redis.CheckRateLimit(ctx, l.prefix+key, l.config.Limit, l.config.Window)
	if err != nil {
		return Result{}, errors.InternalError("failed to check rate limit", err)
	}

	remaining := l.config.Limit - current - 1
	if remaining < 0 {
		remaining = 0
	}

	res := Result{Allowed: allowed, Limit: l.config.Limit, Remaining: remaining}
	if !allowed {
		res.ResetAfter = l.config.Window
	}
	return res, nil
}

// HTTPMiddleware rejects requests over budget with 429. Requests without a
// key, and requests arriving while the limiter itself fails, pass through.
func HTTPMiddleware(l Limiter, keyFunc func(*http.Request) string, logger logging.Logger) func(http.Handler) http.Handler {
	logger = logging.OrGlobal(logger)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFunc(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			res, err := l.Allow(r.Context(), key)
			if err != nil {
				logger.Warn("Rate limit check failed, allowing request",
					logging.String("key", key),
					logging.Err(err),
				)
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))

			if !res.Allowed {
				pub := errors.Public(errors.RateLimitedError("autopost", res.ResetAfter, nil))
				w.Header().Set("Retry-After", fmt.Sprintf("%d", pub.RetryAfter))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(pub.Status)
				_ = json.NewEncoder(w).Encode(map[string]interface{}{"error": pub})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// UserKey keys requests by the user id stored in the request context.
func UserKey(r *http.Request) string {
	userID := logging.UserIDFromContext(r.Context())
	if userID == "" {
		return ""
	}
	return "user:" + userID
}
