package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fieldgate/fieldgate/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration
	Database DatabaseConfig

	// Redis configuration (serialization cache and rate limiting)
	Redis RedisConfig

	// Observability configuration
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

// DatabaseConfig holds the relational database settings
type DatabaseConfig struct {
	// Driver is either "postgres" or "sqlite3"
	Driver string
	URL    string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	// AutoMigrate runs schema migrations on startup
	AutoMigrate bool
	// SeedDefaults creates the default groups and superuser on startup
	SeedDefaults bool
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	URL      string
	Password string
	DB       int

	// CacheEnabled toggles the serialization cache; when false reads
	// always serialize from the database
	CacheEnabled bool
	CacheTTL     time.Duration

	// RateLimitEnabled toggles the request rate limiter
	RateLimitEnabled bool
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Redis:         loadRedisConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("FIELDGATE_HOST", "0.0.0.0"),
		Port:            getEnv("FIELDGATE_PORT", "8080"),
		ReadTimeout:     getEnvDuration("FIELDGATE_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("FIELDGATE_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("FIELDGATE_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("FIELDGATE_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("FIELDGATE_HEALTH_PORT", "9090"),
	}
}

// loadDatabaseConfig loads database configuration from environment
func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          getEnv("FIELDGATE_DB_DRIVER", "postgres"),
		URL:             getEnv("FIELDGATE_DB_URL", ""),
		MaxOpenConns:    getEnvInt("FIELDGATE_DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvInt("FIELDGATE_DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvDuration("FIELDGATE_DB_CONN_MAX_LIFETIME", 30*time.Minute),
		AutoMigrate:     getEnvBool("FIELDGATE_DB_AUTO_MIGRATE", true),
		SeedDefaults:    getEnvBool("FIELDGATE_DB_SEED_DEFAULTS", false),
	}
}

// loadRedisConfig loads Redis configuration from environment
func loadRedisConfig() RedisConfig {
	return RedisConfig{
		URL:              getEnv("FIELDGATE_REDIS_URL", "redis://localhost:6379"),
		Password:         getEnv("FIELDGATE_REDIS_PASSWORD", ""),
		DB:               getEnvInt("FIELDGATE_REDIS_DB", 0),
		CacheEnabled:     getEnvBool("FIELDGATE_CACHE_ENABLED", true),
		CacheTTL:         getEnvDuration("FIELDGATE_CACHE_TTL", time.Hour),
		RateLimitEnabled: getEnvBool("FIELDGATE_RATE_LIMIT_ENABLED", true),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("FIELDGATE_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("FIELDGATE_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("FIELDGATE_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("FIELDGATE_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("FIELDGATE_OTEL_SERVICE_NAME", "fieldgate"),
		OTelServiceVersion: getEnv("FIELDGATE_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("FIELDGATE_OTEL_INSECURE", true),
	}
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

	switch c.Database.Driver {
	case "postgres":
		if c.Database.URL == "" {
			return fmt.Errorf("database URL is required for the postgres driver")
		}
	case "sqlite3":
		if c.Database.URL == "" {
			return fmt.Errorf("database URL is required for the sqlite3 driver")
		}
	default:
		return fmt.Errorf("invalid database driver: %s (must be postgres or sqlite3)", c.Database.Driver)
	}

	if (c.Redis.CacheEnabled || c.Redis.RateLimitEnabled) && c.Redis.URL == "" {
		return fmt.Errorf("redis URL is required when the cache or rate limiter is enabled")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
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
