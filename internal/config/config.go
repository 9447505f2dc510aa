// Package config loads the auto-post service configuration from environment
// variables with defaults, and validates it before anything is wired.
//
// Environment Variables:
//
// Application Settings:
//   - PORT: Server port (default: 8080)
//   - LOG_LEVEL: Logging level (default: info)
//   - PUBLIC_URL: Where users are sent after login (default: /)
//   - TLS_CERT_FILE, TLS_KEY_FILE: serve HTTPS when both are set
//
// Database Configuration:
//   - DATABASE_TYPE: "sqlite" or "postgres" (default: sqlite)
//   - DATABASE_PATH: SQLite database file path (default: ./x_auto_post.db)
//   - DATABASE_URL: PostgreSQL connection URL (required if using PostgreSQL)
//
// Redis Configuration:
//   - STORE_BACKEND: "redis" or "memory" for login state, cache, dedup and locks (default: memory)
//   - REDIS_ADDRESS: Redis server address (default: localhost:6379)
//   - REDIS_PASSWORD: Redis password
//   - REDIS_DB: Redis database number 0-15 (default: 0)
//   - REDIS_POOL_SIZE: Redis connection pool size (default: 10)
//
// Security Configuration:
//   - TOKEN_ENCRYPTION_KEY: master secret stored tokens are encrypted with (required)
//   - SESSION_SECRET: session cookie signing secret (required, minimum 32 characters)
//
// X (Twitter) OAuth:
//   - TWITTER_CLIENT_ID, TWITTER_CLIENT_SECRET, TWITTER_REDIRECT_URI (required)
//   - TWITTER_SCOPES: space separated (default: tweet.read tweet.write users.read offline.access)
//   - TWITTER_AUTH_URL, TWITTER_TOKEN_URL, TWITTER_API_URL
//
// Downstream Services:
//   - GITHUB_API_URL, GITHUB_TOKEN
//   - OPENAI_API_KEY (required), OPENAI_API_URL, OPENAI_MODEL
//
// Resilience:
//   - BREAKER_IMPL: "native" or "gobreaker" (default: native)
//   - BREAKER_FAILURE_THRESHOLD: consecutive failures that open a breaker (default: 5)
//   - BREAKER_RECOVERY_TIMEOUT: how long a breaker stays open (default: 60s)
//   - BREAKER_<SERVICE>_FAILURE_THRESHOLD / BREAKER_<SERVICE>_RECOVERY_TIMEOUT override
//     one of github, openai, twitter or oauth
//   - COMMIT_CACHE_TTL (default: 2m), GENERATION_CACHE_TTL (default: 24h)
//   - DEDUP_WINDOW (default: 24h)
//
// Rate Limiting:
//   - RATE_LIMIT_ENABLED: Enable rate limiting of auto posts (default: true)
//   - RATE_LIMIT_DEFAULT: Posts per window and user (default: 10)
//   - RATE_LIMIT_WINDOW: Rate limit time window (default: 15m)
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"x-auto-post-tool/internal/circuitbreaker"
	"x-auto-post-tool/internal/common/validation"
	"x-auto-post-tool/internal/oauthstate"
)

// Services that get their own breaker.
var BreakerServices = []string{"github", "openai", "twitter", "oauth"}

// Config holds all configuration values. Load fills it from the environment;
// call Validate before use.
type Config struct {
	Port      string
	LogLevel  string
	PublicURL string
	TLSCert   string
	TLSKey    string

	DatabaseType string
	DatabasePath string
	DatabaseURL  string

	StoreBackend  string
	RedisAddress  string
	RedisPassword string
	RedisDB       string
	RedisPoolSize string

	TokenEncryptionKey string
	SessionSecret      string

	TwitterClientID     string
	TwitterClientSecret string
	TwitterRedirectURI  string
	TwitterScopes       string
	TwitterAuthURL      string
	TwitterTokenURL     string
	TwitterAPIURL       string

	GitHubAPIURL string
	GitHubToken  string

	OpenAIAPIKey string
	OpenAIAPIURL string
	OpenAIModel  string

	BreakerImpl             string
	BreakerFailureThreshold string
	BreakerRecoveryTimeout  string

	CommitCacheTTL     string
	GenerationCacheTTL string
	DedupWindow        string

	RateLimitEnabled bool
	RateLimitDefault string
	RateLimitWindow  string
}

// Load creates a Config from environment variables, falling back to defaults.
// It does not validate.
func Load() *Config {
	return &Config{
		Port:      getEnv("PORT", "8080"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		PublicURL: getEnv("PUBLIC_URL", "/"),
		TLSCert:   getEnv("TLS_CERT_FILE", ""),
		TLSKey:    getEnv("TLS_KEY_FILE", ""),

		DatabaseType: getEnv("DATABASE_TYPE", "sqlite"),
		DatabasePath: getEnv("DATABASE_PATH", "./x_auto_post.db"),
		DatabaseURL:  getEnv("DATABASE_URL", ""),

		StoreBackend:  getEnv("STORE_BACKEND", "memory"),
		RedisAddress:  getEnv("REDIS_ADDRESS", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnv("REDIS_DB", "0"),
		RedisPoolSize: getEnv("REDIS_POOL_SIZE", "10"),

		TokenEncryptionKey: getEnv("TOKEN_ENCRYPTION_KEY", ""),
		SessionSecret:      getEnv("SESSION_SECRET", ""),

		TwitterClientID:     getEnv("TWITTER_CLIENT_ID", ""),
		TwitterClientSecret: getEnv("TWITTER_CLIENT_SECRET", ""),
		TwitterRedirectURI:  getEnv("TWITTER_REDIRECT_URI", ""),
		TwitterScopes:       getEnv("TWITTER_SCOPES", "tweet.read tweet.write users.read offline.access"),
		TwitterAuthURL:      getEnv("TWITTER_AUTH_URL", "https://twitter.com/i/oauth2/authorize"),
		TwitterTokenURL:     getEnv("TWITTER_TOKEN_URL", "https://api.twitter.com/2/oauth2/token"),
		TwitterAPIURL:       getEnv("TWITTER_API_URL", "https://api.twitter.com"),

		GitHubAPIURL: getEnv("GITHUB_API_URL", "https://api.github.com/"),
		GitHubToken:  getEnv("GITHUB_TOKEN", ""),

		OpenAIAPIKey: getEnv("OPENAI_API_KEY", ""),
		OpenAIAPIURL: getEnv("OPENAI_API_URL", "https://api.openai.com/v1"),
		OpenAIModel:  getEnv("OPENAI_MODEL", "gpt-3.5-turbo"),

		BreakerImpl:             getEnv("BREAKER_IMPL", string(circuitbreaker.ImplNative)),
		BreakerFailureThreshold: getEnv("BREAKER_FAILURE_THRESHOLD", "5"),
		BreakerRecoveryTimeout:  getEnv("BREAKER_RECOVERY_TIMEOUT", "60s"),

		CommitCacheTTL:     getEnv("COMMIT_CACHE_TTL", "2m"),
		GenerationCacheTTL: getEnv("GENERATION_CACHE_TTL", "24h"),
		DedupWindow:        getEnv("DEDUP_WINDOW", "24h"),

		RateLimitEnabled: getBoolEnv("RATE_LIMIT_ENABLED", true),
		RateLimitDefault: getEnv("RATE_LIMIT_DEFAULT", "10"),
		RateLimitWindow:  getEnv("RATE_LIMIT_WINDOW", "15m"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// Validate checks required fields, formats and cross-field dependencies. All
// problems are reported together as one validation error.
func (c *Config) Validate() error {
	v := validation.NewValidator()

	v.RequireString(c.TokenEncryptionKey, "TOKEN_ENCRYPTION_KEY")
	v.RequireString(c.SessionSecret, "SESSION_SECRET")
	if c.SessionSecret != "" {
		v.RequireMinLength(c.SessionSecret, 32, "SESSION_SECRET")
	}

	v.Validate(func() error {
		if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
			return fmt.Errorf("PORT must be a valid port number between 1 and 65535")
		}
		return nil
	})

	if (c.TLSCert == "") != (c.TLSKey == "") {
		v.Validate(func() error {
			return fmt.Errorf("TLS_CERT_FILE and TLS_KEY_FILE must be set together")
		})
	}

	v.RequireOneOf(c.DatabaseType, []string{"sqlite", "postgres", "postgresql"}, "DATABASE_TYPE")
	if c.IsPostgres() {
		v.RequireString(c.DatabaseURL, "DATABASE_URL")
	} else {
		v.RequireString(c.DatabasePath, "DATABASE_PATH")
	}

	v.RequireOneOf(c.StoreBackend, []string{"redis", "memory"}, "STORE_BACKEND")
	if c.UsesRedis() {
		v.RequireString(c.RedisAddress, "REDIS_ADDRESS")
		v.Validate(func() error {
			if db, err := strconv.Atoi(c.RedisDB); err != nil || db < 0 || db > 15 {
				return fmt.Errorf("REDIS_DB must be a number between 0 and 15")
			}
			return nil
		})
		v.Validate(func() error {
			if n, err := strconv.Atoi(c.RedisPoolSize); err != nil || n < 1 {
				return fmt.Errorf("REDIS_POOL_SIZE must be a positive number")
			}
			return nil
		})
	}

	v.RequireString(c.TwitterClientID, "TWITTER_CLIENT_ID")
	v.RequireURL(c.TwitterRedirectURI, "TWITTER_REDIRECT_URI")
	v.RequireURL(c.TwitterAuthURL, "TWITTER_AUTH_URL")
	v.RequireURL(c.TwitterTokenURL, "TWITTER_TOKEN_URL")
	v.RequireURL(c.TwitterAPIURL, "TWITTER_API_URL")
	v.RequireURL(c.GitHubAPIURL, "GITHUB_API_URL")
	v.RequireString(c.OpenAIAPIKey, "OPENAI_API_KEY")
	v.RequireURL(c.OpenAIAPIURL, "OPENAI_API_URL")

	v.RequireOneOf(c.BreakerImpl, []string{string(circuitbreaker.ImplNative), string(circuitbreaker.ImplGoBreaker)}, "BREAKER_IMPL")
	v.Validate(func() error {
		_, err := c.BreakerConfigs()
		return err
	})

	for _, d := range []struct{ name, value string }{
		{"COMMIT_CACHE_TTL", c.CommitCacheTTL},
		{"GENERATION_CACHE_TTL", c.GenerationCacheTTL},
		{"DEDUP_WINDOW", c.DedupWindow},
	} {
		d := d
		v.Validate(func() error { return positiveDuration(d.name, d.value) })
	}

	if c.RateLimitEnabled {
		v.Validate(func() error {
			if limit, err := strconv.Atoi(c.RateLimitDefault); err != nil || limit < 1 {
				return fmt.Errorf("RATE_LIMIT_DEFAULT must be a positive number")
			}
			return nil
		})
		v.Validate(func() error { return positiveDuration("RATE_LIMIT_WINDOW", c.RateLimitWindow) })
	}

	return v.Error()
}

func positiveDuration(name, value string) error {
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fmt.Errorf("%s must be a positive duration (e.g. '60s', '24h')", name)
	}
	return nil
}

// IsPostgres reports whether PostgreSQL is the token store.
func (c *Config) IsPostgres() bool {
	return c.DatabaseType == "postgres" || c.DatabaseType == "postgresql"
}

// UsesRedis reports whether shared state lives in Redis.
func (c *Config) UsesRedis() bool {
	return c.StoreBackend == "redis"
}

// RedisDBNumber returns REDIS_DB as a number. Call after Validate.
func (c *Config) RedisDBNumber() int {
	n, _ := strconv.Atoi(c.RedisDB)
	return n
}

// RedisPoolSizeNumber returns REDIS_POOL_SIZE as a number. Call after Validate.
func (c *Config) RedisPoolSizeNumber() int {
	n, _ := strconv.Atoi(c.RedisPoolSize)
	return n
}

// RateLimit returns the posting limit per window. Call after Validate.
func (c *Config) RateLimit() (int, time.Duration) {
	n, _ := strconv.Atoi(c.RateLimitDefault)
	d, _ := time.ParseDuration(c.RateLimitWindow)
	return n, d
}

// Duration parses one of the duration settings. Call after Validate.
func Duration(value string) time.Duration {
	d, _ := time.ParseDuration(value)
	return d
}

// TwitterClient is the OAuth client users log in with.
func (c *Config) TwitterClient() oauthstate.ClientConfig {
	return oauthstate.ClientConfig{
		ClientID:     c.TwitterClientID,
		ClientSecret: c.TwitterClientSecret,
		RedirectURI:  c.TwitterRedirectURI,
		Scopes:       strings.Fields(c.TwitterScopes),
		AuthURL:      c.TwitterAuthURL,
		TokenURL:     c.TwitterTokenURL,
	}
}

// BreakerDefaults returns the breaker config services get unless overridden.
func (c *Config) BreakerDefaults() (circuitbreaker.Config, error) {
	return breakerConfig("BREAKER", c.BreakerFailureThreshold, c.BreakerRecoveryTimeout)
}

// BreakerConfigs returns the per-service breaker configs, applying any
// BREAKER_<SERVICE>_* override on top of the defaults.
func (c *Config) BreakerConfigs() (map[string]circuitbreaker.Config, error) {
	configs := make(map[string]circuitbreaker.Config, len(BreakerServices))
	for _, name := range BreakerServices {
		prefix := "BREAKER_" + strings.ToUpper(name)
		cfg, err := breakerConfig(prefix,
			getEnv(prefix+"_FAILURE_THRESHOLD", c.BreakerFailureThreshold),
			getEnv(prefix+"_RECOVERY_TIMEOUT", c.BreakerRecoveryTimeout),
		)
		if err != nil {
			return nil, err
		}
		configs[name] = cfg
	}
	return configs, nil
}

func breakerConfig(prefix, threshold, timeout string) (circuitbreaker.Config, error) {
	n, err := strconv.Atoi(threshold)
	if err != nil {
		return circuitbreaker.Config{}, fmt.Errorf("%s_FAILURE_THRESHOLD must be a number", prefix)
	}
	d, err := time.ParseDuration(timeout)
	if err != nil {
		return circuitbreaker.Config{}, fmt.Errorf("%s_RECOVERY_TIMEOUT must be a valid duration", prefix)
	}

	cfg := circuitbreaker.Config{FailureThreshold: n, RecoveryTimeout: d}
	if err := cfg.Validate(); err != nil {
		return circuitbreaker.Config{}, fmt.Errorf("%s: %w", prefix, err)
	}
	return cfg, nil
}
