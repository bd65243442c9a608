// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "text" or "json"

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Plan catalog seed, loaded into the plan store at startup
	PlanCatalogPath string

	// Receipts
	ReceiptHMACSecret string // receipts are stored unsigned when empty

	// Tracing
	OTLPEndpoint string // tracing is disabled when empty

	// Operator bootstrap key, imported into the key store at startup
	OperatorAPIKey string
	OperatorName   string

	// HTTP surface
	CORSAllowedOrigins string // comma-separated; empty allows no browser origins
	RateLimitPerMinute int    // 0 disables rate limiting

	// Commit saga
	ReconcileInterval time.Duration
	CommitMaxAttempts int
	CommitTimeout     time.Duration
}

const (
	DefaultPort              = "8080"
	DefaultEnv               = "development"
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "text"
	DefaultPlanCatalogPath   = "configs/plans.yaml"
	DefaultReconcileInterval = time.Minute
	DefaultCommitMaxAttempts = 3
	DefaultCommitTimeout     = 30 * time.Second
	DefaultOperatorName      = "admin"
	DefaultRateLimit         = 120

	// operatorKeyPrefix matches the prefix of generated operator keys.
	operatorKeyPrefix = "gk_"

	// minSecretLength is the shortest receipt secret accepted in production.
	minSecretLength = 32
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnv("PORT", DefaultPort),
		Env:                getEnv("ENV", DefaultEnv),
		LogLevel:           getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:          getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		PlanCatalogPath:    getEnv("PLAN_CATALOG_PATH", DefaultPlanCatalogPath),
		ReceiptHMACSecret:  os.Getenv("RECEIPT_HMAC_SECRET"),
		OTLPEndpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		ReconcileInterval:  getEnvDuration("RECONCILE_INTERVAL", DefaultReconcileInterval),
		CommitMaxAttempts:  int(getEnvInt64("COMMIT_MAX_ATTEMPTS", DefaultCommitMaxAttempts)),
		CommitTimeout:      getEnvDuration("COMMIT_TIMEOUT", DefaultCommitTimeout),
		OperatorAPIKey:     os.Getenv("OPERATOR_API_KEY"),
		OperatorName:       getEnv("OPERATOR_NAME", DefaultOperatorName),
		CORSAllowedOrigins: os.Getenv("CORS_ALLOWED_ORIGINS"),
		RateLimitPerMinute: int(getEnvInt64("RATE_LIMIT_PER_MINUTE", DefaultRateLimit)),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if _, err := strconv.Atoi(c.Port); err != nil {
		return fmt.Errorf("PORT must be numeric, got %q", c.Port)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("LOG_FORMAT must be \"text\" or \"json\", got %q", c.LogFormat)
	}
	if c.CommitMaxAttempts < 1 {
		return fmt.Errorf("COMMIT_MAX_ATTEMPTS must be at least 1")
	}
	if c.CommitTimeout <= 0 {
		return fmt.Errorf("COMMIT_TIMEOUT must be positive")
	}
	if c.ReconcileInterval <= 0 {
		return fmt.Errorf("RECONCILE_INTERVAL must be positive")
	}
	if c.RateLimitPerMinute < 0 {
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE must not be negative")
	}
	if c.OperatorAPIKey != "" && !strings.HasPrefix(c.OperatorAPIKey, operatorKeyPrefix) {
		return fmt.Errorf("OPERATOR_API_KEY must start with %q", operatorKeyPrefix)
	}
	if c.OperatorAPIKey != "" && strings.TrimSpace(c.OperatorName) == "" {
		return fmt.Errorf("OPERATOR_NAME must not be blank")
	}

	if c.IsProduction() {
		if c.ReceiptHMACSecret == "" {
			return fmt.Errorf("RECEIPT_HMAC_SECRET is required in production")
		}
		if len(c.ReceiptHMACSecret) < minSecretLength {
			return fmt.Errorf("RECEIPT_HMAC_SECRET must be at least %d characters", minSecretLength)
		}
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required in production")
		}
		if c.OperatorAPIKey == "" {
			return fmt.Errorf("OPERATOR_API_KEY is required in production")
		}
		if c.CORSAllowedOrigins == "*" {
			return fmt.Errorf("CORS_ALLOWED_ORIGINS must list origins in production")
		}
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
