package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helper to set env vars and clean up after
func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old := os.Getenv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if old == "" {
			os.Unsetenv(key)
		} else {
			os.Setenv(key, old)
		}
	})
}

func validConfig() Config {
	return Config{
		Port:               "8080",
		Env:                "development",
		LogFormat:          "text",
		ReconcileInterval:  time.Minute,
		CommitMaxAttempts:  3,
		CommitTimeout:      30 * time.Second,
		OperatorName:       DefaultOperatorName,
		RateLimitPerMinute: DefaultRateLimit,
	}
}

const (
	prodSecret = "0123456789abcdef0123456789abcdef"
	prodKey    = "gk_0123456789abcdef0123456789abcdef"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"PORT", "ENV", "LOG_FORMAT", "DATABASE_URL", "PLAN_CATALOG_PATH",
		"RECEIPT_HMAC_SECRET", "RECONCILE_INTERVAL", "COMMIT_MAX_ATTEMPTS", "COMMIT_TIMEOUT",
		"OPERATOR_API_KEY", "OPERATOR_NAME", "CORS_ALLOWED_ORIGINS", "RATE_LIMIT_PER_MINUTE"} {
		setEnv(t, key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.True(t, cfg.IsDevelopment())
	assert.Empty(t, cfg.DatabaseURL)
	assert.Equal(t, DefaultPlanCatalogPath, cfg.PlanCatalogPath)
	assert.Equal(t, DefaultReconcileInterval, cfg.ReconcileInterval)
	assert.Equal(t, DefaultCommitMaxAttempts, cfg.CommitMaxAttempts)
	assert.Equal(t, DefaultCommitTimeout, cfg.CommitTimeout)
	assert.Empty(t, cfg.OperatorAPIKey)
	assert.Equal(t, DefaultOperatorName, cfg.OperatorName)
	assert.Equal(t, DefaultRateLimit, cfg.RateLimitPerMinute)
}

func TestLoad_Overrides(t *testing.T) {
	setEnv(t, "PORT", "9090")
	setEnv(t, "LOG_FORMAT", "json")
	setEnv(t, "RECONCILE_INTERVAL", "15s")
	setEnv(t, "COMMIT_MAX_ATTEMPTS", "5")
	setEnv(t, "COMMIT_TIMEOUT", "2m")
	setEnv(t, "OPERATOR_API_KEY", prodKey)
	setEnv(t, "OPERATOR_NAME", "front-desk")
	setEnv(t, "RATE_LIMIT_PER_MINUTE", "30")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 15*time.Second, cfg.ReconcileInterval)
	assert.Equal(t, 5, cfg.CommitMaxAttempts)
	assert.Equal(t, 2*time.Minute, cfg.CommitTimeout)
	assert.Equal(t, prodKey, cfg.OperatorAPIKey)
	assert.Equal(t, "front-desk", cfg.OperatorName)
	assert.Equal(t, 30, cfg.RateLimitPerMinute)
}

func TestLoad_ProductionNeedsSecret(t *testing.T) {
	setEnv(t, "ENV", "production")
	setEnv(t, "DATABASE_URL", "postgres://localhost/gym")
	setEnv(t, "RECEIPT_HMAC_SECRET", "")

	_, err := Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "RECEIPT_HMAC_SECRET is required")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid config", mutate: func(*Config) {}},
		{name: "bad port", mutate: func(c *Config) { c.Port = "http" }, wantErr: "PORT must be numeric"},
		{name: "bad log format", mutate: func(c *Config) { c.LogFormat = "xml" }, wantErr: "LOG_FORMAT"},
		{name: "zero attempts", mutate: func(c *Config) { c.CommitMaxAttempts = 0 }, wantErr: "COMMIT_MAX_ATTEMPTS"},
		{name: "zero timeout", mutate: func(c *Config) { c.CommitTimeout = 0 }, wantErr: "COMMIT_TIMEOUT"},
		{name: "zero interval", mutate: func(c *Config) { c.ReconcileInterval = 0 }, wantErr: "RECONCILE_INTERVAL"},
		{name: "negative rate limit", mutate: func(c *Config) { c.RateLimitPerMinute = -1 }, wantErr: "RATE_LIMIT_PER_MINUTE"},
		{name: "operator key prefix", mutate: func(c *Config) { c.OperatorAPIKey = "sk_nope" }, wantErr: "must start with"},
		{
			name:    "blank operator name",
			mutate:  func(c *Config) { c.OperatorAPIKey, c.OperatorName = prodKey, " " },
			wantErr: "OPERATOR_NAME",
		},
		{
			name: "production short secret",
			mutate: func(c *Config) {
				c.Env, c.DatabaseURL, c.ReceiptHMACSecret = "production", "postgres://db", "short"
			},
			wantErr: "at least 32 characters",
		},
		{
			name: "production without database",
			mutate: func(c *Config) {
				c.Env, c.ReceiptHMACSecret = "production", prodSecret
			},
			wantErr: "DATABASE_URL is required",
		},
		{
			name: "production without operator key",
			mutate: func(c *Config) {
				c.Env, c.DatabaseURL, c.ReceiptHMACSecret = "production", "postgres://db", prodSecret
			},
			wantErr: "OPERATOR_API_KEY is required",
		},
		{
			name: "production wildcard cors",
			mutate: func(c *Config) {
				c.Env, c.DatabaseURL, c.ReceiptHMACSecret, c.OperatorAPIKey = "production", "postgres://db", prodSecret, prodKey
				c.CORSAllowedOrigins = "*"
			},
			wantErr: "CORS_ALLOWED_ORIGINS",
		},
		{
			name: "production ok",
			mutate: func(c *Config) {
				c.Env, c.DatabaseURL, c.ReceiptHMACSecret, c.OperatorAPIKey = "production", "postgres://db", prodSecret, prodKey
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestConfig_IsDevelopment(t *testing.T) {
	cfg := &Config{Env: "development"}
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())

	cfg.Env = "production"
	assert.False(t, cfg.IsDevelopment())
	assert.True(t, cfg.IsProduction())
}

func TestGetEnv(t *testing.T) {
	setEnv(t, "TEST_VAR", "custom_value")

	assert.Equal(t, "custom_value", getEnv("TEST_VAR", "default"))
	assert.Equal(t, "default", getEnv("NONEXISTENT_VAR", "default"))
}

func TestGetEnvInt64(t *testing.T) {
	setEnv(t, "TEST_INT", "42")
	setEnv(t, "TEST_INVALID", "not_a_number")

	assert.Equal(t, int64(42), getEnvInt64("TEST_INT", 0))
	assert.Equal(t, int64(99), getEnvInt64("NONEXISTENT_VAR", 99))
	assert.Equal(t, int64(99), getEnvInt64("TEST_INVALID", 99)) // Falls back on parse error
}

func TestGetEnvDuration(t *testing.T) {
	setEnv(t, "TEST_DUR", "90s")
	setEnv(t, "TEST_DUR_BAD", "soon")

	assert.Equal(t, 90*time.Second, getEnvDuration("TEST_DUR", time.Second))
	assert.Equal(t, time.Second, getEnvDuration("TEST_DUR_BAD", time.Second))
}
