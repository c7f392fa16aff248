// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Blockchain settings
	RPCURL       string
	ChainID      int64
	PrivateKey   string // Hex-encoded, 0x prefix optional
	MNEEContract string

	// Policy settings
	ApprovalLimitName    string // config key holding the auto-approval limit
	ApprovalLimitDefault string // decimal, used when the key is unset

	// Transfer retry schedule (transient chain failures only)
	RetryMaxAttempts  int
	RetryInitialDelay time.Duration
	RetryMaxDelay     time.Duration

	// Notifications
	AlertWebhookURL string // best-effort alert sink (optional)
	WebhookSecret   string // HMAC key for signing alert payloads

	// Observability
	OTLPEndpoint string

	// Security
	AdminSecret string // protects policy/approval mutation routes
}

// Soneium Minato defaults
const (
	DefaultRPCURL       = "https://rpc.minato.soneium.org/"
	DefaultChainID      = 1946                                         // Soneium Minato
	DefaultMNEEContract = "0x8ccedbAe4916b79da7F3F612EfB2EB93A2bFD6cF" // Minato MNEE
	DefaultPort         = "8080"
	DefaultEnv          = "development"
	DefaultLogLevel     = "info"
	DefaultLimitName    = "system:approval_limit"
	DefaultLimit        = "50"
	DefaultMaxAttempts  = 3
)

// Load reads configuration from environment variables.
// It loads .env file if present (for local development).
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", DefaultPort),
		Env:                  getEnv("ENV", DefaultEnv),
		LogLevel:             getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:          os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		RPCURL:               getEnv("RPC_URL", DefaultRPCURL),
		ChainID:              getEnvInt64("CHAIN_ID", DefaultChainID),
		PrivateKey:           os.Getenv("PRIVATE_KEY"), // Required, no default
		MNEEContract:         getEnv("MNEE_CONTRACT", DefaultMNEEContract),
		ApprovalLimitName:    getEnv("APPROVAL_LIMIT_NAME", DefaultLimitName),
		ApprovalLimitDefault: getEnv("APPROVAL_LIMIT_DEFAULT", DefaultLimit),
		RetryMaxAttempts:     int(getEnvInt64("RETRY_MAX_ATTEMPTS", DefaultMaxAttempts)),
		RetryInitialDelay:    getEnvDuration("RETRY_INITIAL_DELAY", time.Second),
		RetryMaxDelay:        getEnvDuration("RETRY_MAX_DELAY", 60*time.Second),
		AlertWebhookURL:      os.Getenv("ALERT_WEBHOOK_URL"),
		WebhookSecret:        os.Getenv("WEBHOOK_SECRET"),
		OTLPEndpoint:         os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		AdminSecret:          os.Getenv("ADMIN_SECRET"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.PrivateKey == "" {
		return fmt.Errorf("PRIVATE_KEY is required")
	}

	// Allow both with and without 0x prefix
	key := c.PrivateKey
	if len(key) == 66 && key[:2] == "0x" {
		key = key[2:]
	}
	if len(key) != 64 {
		return fmt.Errorf("PRIVATE_KEY must be 64 hex characters (with or without 0x prefix)")
	}

	if c.RPCURL == "" {
		return fmt.Errorf("RPC_URL is required")
	}

	if c.RetryMaxAttempts <= 0 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be positive")
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
