package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldgate/fieldgate/pkg/observability"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("FIELDGATE_DB_DRIVER", "sqlite3")
	t.Setenv("FIELDGATE_DB_URL", ":memory:")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "9090", cfg.Server.HealthPort)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, 25, cfg.Database.MaxOpenConns)
	assert.True(t, cfg.Database.AutoMigrate)
	assert.False(t, cfg.Database.SeedDefaults)
	assert.True(t, cfg.Redis.CacheEnabled)
	assert.Equal(t, time.Hour, cfg.Redis.CacheTTL)
	assert.Equal(t, observability.InfoLevel, cfg.Observability.LogLevel)
	assert.False(t, cfg.Observability.OTelEnabled)
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("FIELDGATE_DB_DRIVER", "postgres")
	t.Setenv("FIELDGATE_DB_URL", "postgres://localhost/fieldgate")
	t.Setenv("FIELDGATE_PORT", "3000")
	t.Setenv("FIELDGATE_CACHE_TTL", "5m")
	t.Setenv("FIELDGATE_LOG_LEVEL", "debug")
	t.Setenv("FIELDGATE_RATE_LIMIT_ENABLED", "false")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "3000", cfg.Server.Port)
	assert.Equal(t, 5*time.Minute, cfg.Redis.CacheTTL)
	assert.Equal(t, observability.DebugLevel, cfg.Observability.LogLevel)
	assert.False(t, cfg.Redis.RateLimitEnabled)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Server:   ServerConfig{Port: "8080", HealthPort: "9090"},
			Database: DatabaseConfig{Driver: "postgres", URL: "postgres://localhost/fieldgate"},
			Redis:    RedisConfig{URL: "localhost:6379", CacheEnabled: true},
		}
	}

	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, base().Validate())
	})

	t.Run("missing database url", func(t *testing.T) {
		cfg := base()
		cfg.Database.URL = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("unknown driver", func(t *testing.T) {
		cfg := base()
		cfg.Database.Driver = "mysql"
		assert.Error(t, cfg.Validate())
	})

	t.Run("same ports", func(t *testing.T) {
		cfg := base()
		cfg.Server.HealthPort = cfg.Server.Port
		assert.Error(t, cfg.Validate())
	})

	t.Run("cache without redis", func(t *testing.T) {
		cfg := base()
		cfg.Redis.URL = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("otel needs endpoint", func(t *testing.T) {
		cfg := base()
		cfg.Observability.OTelEnabled = true
		cfg.Observability.OTelEndpoint = ""
		assert.Error(t, cfg.Validate())
	})
}
