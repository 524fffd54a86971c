// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

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

	// Stripe
	StripeSecretKey string // Required in production

	// Dunning settings
	DunningRetryDays     []int // Day offsets between payment retries
	DunningMaxRetries    int
	DunningGraceDays     int
	DunningAutoCancel    bool
	DunningNotifications bool
	DunningIntervalMins  int // How often the queue processor runs

	// Email (SMTP)
	SMTPHost   string
	SMTPPort   string
	SMTPUser   string
	SMTPPass   string
	SMTPSender string

	// Security
	AdminSecret    string   // Admin API secret
	RateLimitRPM   int
	AllowedOrigins []string // CORS origins; empty allows all

	// Observability
	OTLPEndpoint string // OpenTelemetry collector; tracing disabled if empty
}

// Defaults
const (
	DefaultPort         = "8080"
	DefaultEnv          = "development"
	DefaultLogLevel     = "info"
	DefaultMaxRetries   = 3
	DefaultGraceDays    = 3
	DefaultRateLimitRPM = 120
	DefaultIntervalMins = 60
)

// DefaultRetryDays is the default dunning retry schedule in day offsets.
var DefaultRetryDays = []int{3, 7, 14}

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", DefaultPort),
		Env:                  getEnv("ENV", DefaultEnv),
		LogLevel:             getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:          os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		StripeSecretKey:      os.Getenv("STRIPE_SECRET_KEY"),
		DunningRetryDays:     getEnvIntList("DUNNING_RETRY_DAYS", DefaultRetryDays),
		DunningMaxRetries:    getEnvInt("DUNNING_MAX_RETRIES", DefaultMaxRetries),
		DunningGraceDays:     getEnvInt("DUNNING_GRACE_DAYS", DefaultGraceDays),
		DunningAutoCancel:    getEnvBool("DUNNING_AUTO_CANCEL", true),
		DunningNotifications: getEnvBool("DUNNING_NOTIFICATIONS", true),
		DunningIntervalMins:  getEnvInt("DUNNING_INTERVAL_MINS", DefaultIntervalMins),
		SMTPHost:             os.Getenv("SMTP_HOST"),
		SMTPPort:             getEnv("SMTP_PORT", "587"),
		SMTPUser:             os.Getenv("SMTP_USERNAME"),
		SMTPPass:             os.Getenv("SMTP_PASSWORD"),
		SMTPSender:           getEnv("SMTP_SENDER", "billing@convodock.io"),
		AdminSecret:          os.Getenv("ADMIN_SECRET"),
		RateLimitRPM:         getEnvInt("RATE_LIMIT_RPM", DefaultRateLimitRPM),
		AllowedOrigins:       getEnvList("ALLOWED_ORIGINS", nil),
		OTLPEndpoint:         os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if len(c.DunningRetryDays) == 0 {
		return fmt.Errorf("DUNNING_RETRY_DAYS must contain at least one offset")
	}
	for _, d := range c.DunningRetryDays {
		if d <= 0 {
			return fmt.Errorf("DUNNING_RETRY_DAYS offsets must be positive, got %d", d)
		}
	}
	if c.DunningMaxRetries < 0 {
		return fmt.Errorf("DUNNING_MAX_RETRIES must not be negative")
	}
	if c.DunningGraceDays <= 0 {
		return fmt.Errorf("DUNNING_GRACE_DAYS must be positive")
	}

	if c.IsProduction() {
		if c.StripeSecretKey == "" {
			return fmt.Errorf("STRIPE_SECRET_KEY is required in production")
		}
		if c.AdminSecret == "" {
			return fmt.Errorf("ADMIN_SECRET is required in production")
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

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvList parses a comma-separated list of strings.
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			result = append(result, p)
		}
	}
	return result
}

// getEnvIntList parses a comma-separated list of integers (e.g. "3,7,14").
// Malformed values fall back to the default.
func getEnvIntList(key string, defaultValue []int) []int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	parts := strings.Split(value, ",")
	result := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return defaultValue
		}
		result = append(result, n)
	}
	return result
}
