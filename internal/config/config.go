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

	// Storage. Selection order: DatabaseURL, then BoltPath, then in-memory.
	DatabaseURL string
	AutoMigrate bool   // apply embedded migrations on startup (Postgres only)
	BoltPath    string
	RedisURL    string // optional transaction-history backend for velocity windows

	// Alert fan-out
	KafkaBrokers       []string
	KafkaAlertTopic    string
	AlertWebhookURL    string
	AlertWebhookSecret string

	// Risk policy (YAML). Empty means built-in defaults.
	PolicyFile string

	// Security
	ServiceToken string // shared secret for platform services calling the risk API
	AdminSecret  string // Admin API secret
	CORSOrigins  []string
	RateLimitRPM int

	// Tracing
	OTLPEndpoint string

	// Background review loop
	ReviewInterval time.Duration
}

const (
	DefaultPort            = "8080"
	DefaultEnv             = "development"
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "text"
	DefaultRateLimit       = 600
	DefaultKafkaAlertTopic = "risk.alerts"
	DefaultReviewInterval  = 15 * time.Minute
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnv("PORT", DefaultPort),
		Env:                getEnv("ENV", DefaultEnv),
		LogLevel:           getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:          getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		AutoMigrate:        getEnvBool("AUTO_MIGRATE", true),
		BoltPath:           os.Getenv("BOLT_PATH"),
		RedisURL:           os.Getenv("REDIS_URL"),
		KafkaBrokers:       getEnvList("KAFKA_BROKERS"),
		KafkaAlertTopic:    getEnv("KAFKA_ALERT_TOPIC", DefaultKafkaAlertTopic),
		AlertWebhookURL:    os.Getenv("ALERT_WEBHOOK_URL"),
		AlertWebhookSecret: os.Getenv("ALERT_WEBHOOK_SECRET"),
		PolicyFile:         os.Getenv("POLICY_FILE"),
		ServiceToken:       os.Getenv("SERVICE_TOKEN"),
		AdminSecret:        os.Getenv("ADMIN_SECRET"),
		CORSOrigins:        getEnvList("CORS_ORIGINS"),
		RateLimitRPM:       int(getEnvInt64("RATE_LIMIT_RPM", int64(DefaultRateLimit))),
		OTLPEndpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		ReviewInterval:     getEnvDuration("REVIEW_INTERVAL", DefaultReviewInterval),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.IsProduction() {
		if c.ServiceToken == "" {
			return fmt.Errorf("SERVICE_TOKEN is required in production")
		}
		if c.AdminSecret == "" {
			return fmt.Errorf("ADMIN_SECRET is required in production")
		}
		if c.DatabaseURL == "" && c.BoltPath == "" {
			return fmt.Errorf("DATABASE_URL or BOLT_PATH is required in production")
		}
	}

	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.LogFormat)
	}

	if c.RateLimitRPM <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPM must be positive")
	}
	if c.ReviewInterval <= 0 {
		return fmt.Errorf("REVIEW_INTERVAL must be positive")
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

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
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

func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
