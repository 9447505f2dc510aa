package config

import (
	"strings"
	"testing"
	"time"
)

var envKeys = []string{
	"PORT", "LOG_LEVEL", "PUBLIC_URL", "DATABASE_TYPE", "DATABASE_PATH", "DATABASE_URL",
	"STORE_BACKEND", "REDIS_ADDRESS", "REDIS_PASSWORD", "REDIS_DB", "REDIS_POOL_SIZE",
	"TOKEN_ENCRYPTION_KEY", "SESSION_SECRET",
	"TWITTER_CLIENT_ID", "TWITTER_CLIENT_SECRET", "TWITTER_REDIRECT_URI", "TWITTER_SCOPES",
	"TWITTER_AUTH_URL", "TWITTER_TOKEN_URL", "TWITTER_API_URL",
	"GITHUB_API_URL", "GITHUB_TOKEN", "OPENAI_API_KEY", "OPENAI_API_URL", "OPENAI_MODEL",
	"BREAKER_IMPL", "BREAKER_FAILURE_THRESHOLD", "BREAKER_RECOVERY_TIMEOUT",
	"BREAKER_TWITTER_FAILURE_THRESHOLD", "BREAKER_TWITTER_RECOVERY_TIMEOUT",
	"COMMIT_CACHE_TTL", "GENERATION_CACHE_TTL", "DEDUP_WINDOW",
	"RATE_LIMIT_ENABLED", "RATE_LIMIT_DEFAULT", "RATE_LIMIT_WINDOW",
}

// clearEnv blanks every key Load reads; getEnv treats empty as unset.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func validConfig(t *testing.T) *Config {
	t.Helper()
	clearEnv(t)
	t.Setenv("TOKEN_ENCRYPTION_KEY", "master-secret")
	t.Setenv("SESSION_SECRET", "this-is-a-session-secret-that-is-long-enough")
	t.Setenv("TWITTER_CLIENT_ID", "client-id")
	t.Setenv("TWITTER_REDIRECT_URI", "http://localhost:8080/auth/callback")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	return Load()
}

func TestLoad(t *testing.T) {
	clearEnv(t)
	config := Load()

	if config.Port != "8080" {
		t.Errorf("Load() Port = %v, want 8080", config.Port)
	}
	if config.DatabaseType != "sqlite" {
		t.Errorf("Load() DatabaseType = %v, want sqlite", config.DatabaseType)
	}
	if config.StoreBackend != "memory" {
		t.Errorf("Load() StoreBackend = %v, want memory", config.StoreBackend)
	}
	if config.BreakerImpl != "native" {
		t.Errorf("Load() BreakerImpl = %v, want native", config.BreakerImpl)
	}
	if !config.RateLimitEnabled {
		t.Error("Load() RateLimitEnabled = false, want true")
	}
	if config.DedupWindow != "24h" {
		t.Errorf("Load() DedupWindow = %v, want 24h", config.DedupWindow)
	}

	client := config.TwitterClient()
	want := []string{"tweet.read", "tweet.write", "users.read", "offline.access"}
	if strings.Join(client.Scopes, ",") != strings.Join(want, ",") {
		t.Errorf("TwitterClient() Scopes = %v, want %v", client.Scopes, want)
	}
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("DATABASE_TYPE", "postgres")
	t.Setenv("DATABASE_URL", "postgres://app:secret@db:5432/autopost")
	t.Setenv("STORE_BACKEND", "redis")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("REDIS_POOL_SIZE", "20")
	t.Setenv("RATE_LIMIT_ENABLED", "false")
	t.Setenv("TWITTER_SCOPES", "tweet.write  users.read")

	config := Load()

	if config.Port != "9090" {
		t.Errorf("Load() Port = %v, want 9090", config.Port)
	}
	if !config.IsPostgres() {
		t.Error("IsPostgres() = false, want true")
	}
	if !config.UsesRedis() {
		t.Error("UsesRedis() = false, want true")
	}
	if config.RedisDBNumber() != 2 || config.RedisPoolSizeNumber() != 20 {
		t.Errorf("redis numbers = %d/%d, want 2/20", config.RedisDBNumber(), config.RedisPoolSizeNumber())
	}
	if config.RateLimitEnabled {
		t.Error("Load() RateLimitEnabled = true, want false")
	}
	if got := config.TwitterClient().Scopes; len(got) != 2 {
		t.Errorf("TwitterClient() Scopes = %v, want 2 scopes", got)
	}
}

func TestGetBoolEnv(t *testing.T) {
	tests := []struct {
		value        string
		defaultValue bool
		want         bool
	}{
		{"true", false, true},
		{"1", false, true},
		{"false", true, false},
		{"0", true, false},
		{"not-a-bool", true, true},
		{"", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("TEST_BOOL_ENV", tt.value)
			if got := getBoolEnv("TEST_BOOL_ENV", tt.defaultValue); got != tt.want {
				t.Errorf("getBoolEnv(%q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{name: "valid", modify: func(*Config) {}},
		{
			name:    "missing encryption key",
			modify:  func(c *Config) { c.TokenEncryptionKey = "" },
			wantErr: "TOKEN_ENCRYPTION_KEY is required",
		},
		{
			name:    "short session secret",
			modify:  func(c *Config) { c.SessionSecret = "short" },
			wantErr: "SESSION_SECRET must be at least 32 characters long",
		},
		{
			name:    "invalid port",
			modify:  func(c *Config) { c.Port = "70000" },
			wantErr: "PORT must be a valid port number",
		},
		{
			name:    "unknown database type",
			modify:  func(c *Config) { c.DatabaseType = "mysql" },
			wantErr: "DATABASE_TYPE must be one of",
		},
		{
			name:    "postgres without url",
			modify:  func(c *Config) { c.DatabaseType = "postgresql" },
			wantErr: "DATABASE_URL is required",
		},
		{
			name: "redis db out of range",
			modify: func(c *Config) {
				c.StoreBackend = "redis"
				c.RedisDB = "16"
			},
			wantErr: "REDIS_DB must be a number between 0 and 15",
		},
		{
			name:    "relative redirect uri",
			modify:  func(c *Config) { c.TwitterRedirectURI = "/auth/callback" },
			wantErr: "TWITTER_REDIRECT_URI must be a complete URL",
		},
		{
			name:    "missing openai key",
			modify:  func(c *Config) { c.OpenAIAPIKey = "" },
			wantErr: "OPENAI_API_KEY is required",
		},
		{
			name:    "unknown breaker implementation",
			modify:  func(c *Config) { c.BreakerImpl = "hystrix" },
			wantErr: "BREAKER_IMPL must be one of",
		},
		{
			name:    "zero breaker threshold",
			modify:  func(c *Config) { c.BreakerFailureThreshold = "0" },
			wantErr: "FailureThreshold must be positive",
		},
		{
			name:    "bad dedup window",
			modify:  func(c *Config) { c.DedupWindow = "a day" },
			wantErr: "DEDUP_WINDOW must be a positive duration",
		},
		{
			name:    "bad rate limit",
			modify:  func(c *Config) { c.RateLimitDefault = "-1" },
			wantErr: "RATE_LIMIT_DEFAULT must be a positive number",
		},
		{
			name: "rate limit ignored when disabled",
			modify: func(c *Config) {
				c.RateLimitEnabled = false
				c.RateLimitWindow = "nope"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := validConfig(t)
			tt.modify(config)

			err := config.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	clearEnv(t)
	err := Load().Validate()
	if err == nil {
		t.Fatal("Validate() error = nil, want problems")
	}
	for _, want := range []string{"TOKEN_ENCRYPTION_KEY", "SESSION_SECRET", "TWITTER_CLIENT_ID", "OPENAI_API_KEY"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Validate() error %q does not mention %s", err, want)
		}
	}
}

func TestBreakerConfigs(t *testing.T) {
	config := validConfig(t)
	t.Setenv("BREAKER_TWITTER_FAILURE_THRESHOLD", "3")
	t.Setenv("BREAKER_TWITTER_RECOVERY_TIMEOUT", "30s")

	configs, err := config.BreakerConfigs()
	if err != nil {
		t.Fatalf("BreakerConfigs() error = %v", err)
	}
	if len(configs) != len(BreakerServices) {
		t.Fatalf("BreakerConfigs() returned %d services, want %d", len(configs), len(BreakerServices))
	}

	if got := configs["twitter"]; got.FailureThreshold != 3 || got.RecoveryTimeout != 30*time.Second {
		t.Errorf("twitter breaker = %+v, want 3 / 30s", got)
	}
	if got := configs["github"]; got.FailureThreshold != 5 || got.RecoveryTimeout != time.Minute {
		t.Errorf("github breaker = %+v, want defaults", got)
	}

	t.Setenv("BREAKER_TWITTER_RECOVERY_TIMEOUT", "soon")
	if _, err := config.BreakerConfigs(); err == nil {
		t.Error("BreakerConfigs() accepted an invalid override")
	}
}

func TestRateLimit(t *testing.T) {
	config := validConfig(t)
	limit, window := config.RateLimit()
	if limit != 10 || window != 15*time.Minute {
		t.Errorf("RateLimit() = %d, %v, want 10, 15m", limit, window)
	}
}
