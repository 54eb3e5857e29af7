package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pulsedeck/pulsedeck/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Cache         CacheConfig
	Queue         QueueConfig
	Reports       ReportsConfig
	Insights      InsightsConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	URL      string
	MaxConns int
	MinConns int
	Timeout  time.Duration
}

// RedisConfig holds Redis connection configuration. Redis backs both the
// cache layer and the report job queue.
type RedisConfig struct {
	URL        string
	Password   string
	DB         int
	MaxRetries int
	PoolSize   int
}

// CacheConfig holds cache layer configuration
type CacheConfig struct {
	Enabled     bool
	OverviewTTL time.Duration
	QueryTTL    time.Duration
	InsightTTL  time.Duration
	L1Size      int // entries; 0 disables the in-process L1
}

// QueueConfig holds job queue configuration
type QueueConfig struct {
	Attempts    int
	BackoffBase time.Duration
	Concurrency int
}

// ReportsConfig holds report pipeline configuration
type ReportsConfig struct {
	ArtifactBucket   string
	S3Endpoint       string
	S3Region         string
	S3AccessKey      string
	S3SecretKey      string
	S3UsePathStyle   bool
	StaleRunTimeout  time.Duration
	SchedulerEnabled bool
}

// InsightsConfig holds prediction provider configuration. An empty API key
// leaves the deterministic mock provider in place.
type InsightsConfig struct {
	ProviderURL    string
	ProviderAPIKey string
	ProviderModel  string
	Timeout        time.Duration
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("PULSE_HOST", "0.0.0.0"),
			Port:            getEnv("PULSE_PORT", "8080"),
			ReadTimeout:     getEnvDuration("PULSE_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("PULSE_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("PULSE_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("PULSE_SHUTDOWN_TIMEOUT", 30*time.Second),
			HealthPort:      getEnv("PULSE_HEALTH_PORT", "9090"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("PULSE_POSTGRES_URL", "postgres://localhost/pulsedeck?sslmode=disable"),
			MaxConns: getEnvInt("PULSE_POSTGRES_MAX_CONNS", 20),
			MinConns: getEnvInt("PULSE_POSTGRES_MIN_CONNS", 2),
			Timeout:  getEnvDuration("PULSE_POSTGRES_TIMEOUT", 10*time.Second),
		},
		Redis: RedisConfig{
			URL:        getEnv("PULSE_REDIS_URL", "redis://localhost:6379"),
			Password:   getEnv("PULSE_REDIS_PASSWORD", ""),
			DB:         getEnvInt("PULSE_REDIS_DB", 0),
			MaxRetries: getEnvInt("PULSE_REDIS_MAX_RETRIES", 3),
			PoolSize:   getEnvInt("PULSE_REDIS_POOL_SIZE", 10),
		},
		Cache: CacheConfig{
			Enabled:     getEnvBool("PULSE_CACHE_ENABLED", true),
			OverviewTTL: getEnvDuration("PULSE_CACHE_OVERVIEW_TTL", 300*time.Second),
			QueryTTL:    getEnvDuration("PULSE_CACHE_QUERY_TTL", 300*time.Second),
			InsightTTL:  getEnvDuration("PULSE_CACHE_INSIGHT_TTL", time.Hour),
			L1Size:      getEnvInt("PULSE_CACHE_L1_SIZE", 1024),
		},
		Queue: QueueConfig{
			Attempts:    getEnvInt("PULSE_QUEUE_ATTEMPTS", 3),
			BackoffBase: getEnvDuration("PULSE_QUEUE_BACKOFF_BASE", 5*time.Second),
			Concurrency: getEnvInt("PULSE_QUEUE_CONCURRENCY", 4),
		},
		Reports: ReportsConfig{
			ArtifactBucket:   getEnv("PULSE_REPORTS_BUCKET", "pulsedeck-reports"),
			S3Endpoint:       getEnv("PULSE_S3_ENDPOINT", ""),
			S3Region:         getEnv("PULSE_S3_REGION", "us-east-1"),
			S3AccessKey:      getEnv("PULSE_S3_ACCESS_KEY", ""),
			S3SecretKey:      getEnv("PULSE_S3_SECRET_KEY", ""),
			S3UsePathStyle:   getEnvBool("PULSE_S3_USE_PATH_STYLE", false),
			StaleRunTimeout:  getEnvDuration("PULSE_REPORTS_STALE_TIMEOUT", 30*time.Minute),
			SchedulerEnabled: getEnvBool("PULSE_REPORTS_SCHEDULER_ENABLED", true),
		},
		Insights: InsightsConfig{
			ProviderURL:    getEnv("PULSE_INSIGHTS_PROVIDER_URL", "https://api.openai.com/v1/chat/completions"),
			ProviderAPIKey: getEnv("PULSE_INSIGHTS_API_KEY", ""),
			ProviderModel:  getEnv("PULSE_INSIGHTS_MODEL", "gpt-4-turbo-preview"),
			Timeout:        getEnvDuration("PULSE_INSIGHTS_TIMEOUT", 30*time.Second),
		},
		Observability: ObservabilityConfig{
			LogLevel:       parseLogLevel(getEnv("PULSE_LOG_LEVEL", "info")),
			MetricsEnabled: getEnvBool("PULSE_METRICS_ENABLED", true),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}
	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	if c.Redis.URL == "" {
		return fmt.Errorf("redis URL is required")
	}
	if c.Queue.Attempts < 1 {
		return fmt.Errorf("queue attempts must be at least 1")
	}
	if c.Queue.BackoffBase <= 0 {
		return fmt.Errorf("queue backoff base must be positive")
	}
	if c.Queue.Concurrency < 1 {
		return fmt.Errorf("queue concurrency must be at least 1")
	}
	if c.Reports.ArtifactBucket == "" {
		return fmt.Errorf("report artifact bucket is required")
	}
	return nil
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
