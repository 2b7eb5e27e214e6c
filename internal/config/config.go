// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port           string
	DBPath         string
	AllowedOrigins []string
	IsCloud        bool

	// SessionRetention is how long an expired session is kept before the
	// sweeper deletes it.
	SessionRetention     time.Duration
	SessionSweepSchedule string

	Cache     CacheConfig
	RateLimit RateLimitConfig
	Telemetry TelemetryConfig
	Tracing   TracingConfig

	// ManagementAPIKey, when set, is registered at startup for the
	// environment named by ManagementEnvironmentID.
	ManagementAPIKey        string
	ManagementEnvironmentID string
}

// CacheConfig selects and tunes the tag cache.
type CacheConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	TTL           time.Duration
}

// RateLimitConfig tunes the per-client limiter on public routes.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// TelemetryConfig controls the NDJSON telemetry sink.
type TelemetryConfig struct {
	LogPath   string
	QueueSize int
}

// TracingConfig controls the OpenTelemetry exporter.
type TracingConfig struct {
	Exporter     string // none, stdout, otlp
	OTLPEndpoint string
	ServiceName  string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("TELEMETRY_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		Port:                 getEnv("PORT", "8080"),
		DBPath:               getEnv("DB_PATH", "./data/surveysync.db"),
		AllowedOrigins:       splitList(getEnv("ALLOWED_ORIGINS", "*")),
		IsCloud:              getEnvBool("IS_CLOUD", false),
		SessionRetention:     getEnvDuration("SESSION_RETENTION", 24*time.Hour),
		SessionSweepSchedule: getEnv("SESSION_SWEEP_SCHEDULE", "@every 5m"),
		Cache: CacheConfig{
			RedisAddr:     getEnv("REDIS_ADDR", ""),
			RedisPassword: getEnv("REDIS_PASSWORD", ""),
			RedisDB:       getEnvInt("REDIS_DB", 0),
			TTL:           getEnvDuration("CACHE_TTL", 5*time.Minute),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvFloat("RATE_LIMIT_RPS", 20),
			Burst:             getEnvInt("RATE_LIMIT_BURST", 40),
		},
		Telemetry: TelemetryConfig{
			LogPath:   getEnv("TELEMETRY_LOG_PATH", "./data/telemetry.ndjson"),
			QueueSize: queueSize,
		},
		Tracing: TracingConfig{
			Exporter:     strings.ToLower(getEnv("TRACING_EXPORTER", "none")),
			OTLPEndpoint: getEnv("OTLP_ENDPOINT", "localhost:4318"),
			ServiceName:  getEnv("OTEL_SERVICE_NAME", "surveysync"),
		},
		ManagementAPIKey:        getEnv("MANAGEMENT_API_KEY", ""),
		ManagementEnvironmentID: getEnv("MANAGEMENT_ENVIRONMENT_ID", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if len(c.AllowedOrigins) == 0 {
		return fmt.Errorf("ALLOWED_ORIGINS cannot be empty")
	}
	if c.SessionRetention <= 0 {
		return fmt.Errorf("SESSION_RETENTION must be > 0")
	}
	if c.SessionSweepSchedule == "" {
		return fmt.Errorf("SESSION_SWEEP_SCHEDULE cannot be empty")
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("CACHE_TTL must be > 0")
	}
	if c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be > 0")
	}
	if c.Telemetry.LogPath == "" {
		return fmt.Errorf("TELEMETRY_LOG_PATH cannot be empty")
	}
	switch c.Tracing.Exporter {
	case "none", "stdout", "otlp":
	default:
		return fmt.Errorf("TRACING_EXPORTER must be one of none, stdout, otlp")
	}
	if c.ManagementAPIKey != "" && c.ManagementEnvironmentID == "" {
		return fmt.Errorf("MANAGEMENT_ENVIRONMENT_ID is required when MANAGEMENT_API_KEY is set")
	}
	return nil
}

// UsesRedis reports whether the tag cache is backed by Redis.
func (c *Config) UsesRedis() bool {
	return c.Cache.RedisAddr != ""
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
