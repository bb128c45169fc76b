package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 15*time.Minute, cfg.Policy.ReservationTTL)
	assert.Equal(t, 10, cfg.Policy.LowStockThreshold)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, time.Minute, cfg.Sweeper.Interval)
	assert.Equal(t, "mysql", cfg.Storage.Driver)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level: debug
storage:
  driver: memory
policy:
  reservation_ttl: 5m
retry:
  max_attempts: 5
sweeper:
  interval: 30s
kafka:
  enabled: true
  brokers: ["k1:9092", "k2:9092"]
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, 5*time.Minute, cfg.Policy.ReservationTTL)
	assert.Equal(t, 10, cfg.Policy.LowStockThreshold, "unset keys keep defaults")
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.Sweeper.Interval)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("STOCK_STORAGE_DRIVER", "memory")
	t.Setenv("STOCK_SWEEP_INTERVAL", "2m")
	t.Setenv("STOCK_REDIS_ENABLED", "false")
	t.Setenv("KAFKA_BROKERS", "a:1,b:2")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, 2*time.Minute, cfg.Sweeper.Interval)
	assert.False(t, cfg.Redis.Enabled)
	assert.True(t, cfg.Kafka.Enabled)
	assert.Equal(t, []string{"a:1", "b:2"}, cfg.Kafka.Brokers)
}

func TestLoad_BadEnv(t *testing.T) {
	t.Setenv("STOCK_REDIS_ENABLED", "sometimes")

	_, err := Load("")
	assert.ErrorContains(t, err, "STOCK_REDIS_ENABLED")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown driver", func(c *Config) { c.Storage.Driver = "sqlite" }, "unknown storage.driver"},
		{"empty dsn", func(c *Config) { c.Storage.DSN = "" }, "storage.dsn"},
		{"zero ttl", func(c *Config) { c.Policy.ReservationTTL = 0 }, "reservation_ttl"},
		{"no attempts", func(c *Config) { c.Retry.MaxAttempts = 0 }, "max_attempts"},
		{"zero backoff", func(c *Config) { c.Retry.Backoff = 0 }, "retry.backoff"},
		{"zero batch", func(c *Config) { c.Sweeper.BatchSize = 0 }, "batch_size"},
		{"kafka without brokers", func(c *Config) { c.Kafka.Enabled = true; c.Kafka.Brokers = nil }, "kafka.brokers"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}

	assert.NoError(t, Default().Validate())
}

func TestDomainPolicy(t *testing.T) {
	cfg := Default()
	cfg.Policy.LowStockThreshold = 3

	p := cfg.DomainPolicy()
	assert.Equal(t, 3, p.LowStockThreshold)
	assert.Equal(t, 15*time.Minute, p.ReservationTTL)
}
