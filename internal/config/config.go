package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

type Config struct {
	ServiceName string        `yaml:"service_name"`
	LogLevel    string        `yaml:"log_level"`
	HTTP        ServerConfig  `yaml:"http"`
	GRPC        ServerConfig  `yaml:"grpc"`
	Storage     StorageConfig `yaml:"storage"`
	Redis       RedisConfig   `yaml:"redis"`
	Kafka       KafkaConfig   `yaml:"kafka"`
	Policy      PolicyConfig  `yaml:"policy"`
	Retry       RetryConfig   `yaml:"retry"`
	Sweeper     SweeperConfig `yaml:"sweeper"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type StorageConfig struct {
	// Driver is "mysql" or "memory".
	Driver          string        `yaml:"driver"`
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	Migrate         bool          `yaml:"migrate"`
}

type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	PoolSize int           `yaml:"pool_size"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

type KafkaConfig struct {
	Enabled       bool     `yaml:"enabled"`
	Brokers       []string `yaml:"brokers"`
	EventsTopic   string   `yaml:"events_topic"`
	ProductTopic  string   `yaml:"product_topic"`
	ConsumerGroup string   `yaml:"consumer_group"`
}

type PolicyConfig struct {
	ReservationTTL    time.Duration `yaml:"reservation_ttl"`
	LowStockThreshold int           `yaml:"low_stock_threshold"`
}

type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Backoff     time.Duration `yaml:"backoff"`
}

type SweeperConfig struct {
	Interval  time.Duration `yaml:"interval"`
	BatchSize int           `yaml:"batch_size"`
	LockTTL   time.Duration `yaml:"lock_ttl"`
}

func Default() Config {
	return Config{
		ServiceName: "stock-ledger",
		LogLevel:    "info",
		HTTP:        ServerConfig{Addr: ":8080"},
		GRPC:        ServerConfig{Addr: ":50051"},
		Storage: StorageConfig{
			Driver:          "mysql",
			DSN:             "root:root@tcp(localhost:3306)/stockledger?parseTime=true",
			MaxOpenConns:    50,
			MaxIdleConns:    25,
			ConnMaxLifetime: 5 * time.Minute,
			Migrate:         true,
		},
		Redis: RedisConfig{
			Enabled:  true,
			Addr:     "localhost:6379",
			PoolSize: 100,
			CacheTTL: 30 * time.Second,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			EventsTopic:   "inventory.events",
			ProductTopic:  "catalog.product-created",
			ConsumerGroup: "stock-ledger",
		},
		Policy: PolicyConfig{
			ReservationTTL:    domain.DefaultReservationTTL,
			LowStockThreshold: domain.DefaultLowStockThreshold,
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			Backoff:     10 * time.Millisecond,
		},
		Sweeper: SweeperConfig{
			Interval:  time.Minute,
			BatchSize: 500,
			LockTTL:   30 * time.Second,
		},
	}
}

// Load reads path over the defaults, then applies STOCK_* environment
// overrides. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() error {
	c.LogLevel = getEnv("STOCK_LOG_LEVEL", c.LogLevel)
	c.HTTP.Addr = getEnv("STOCK_HTTP_ADDR", c.HTTP.Addr)
	c.GRPC.Addr = getEnv("STOCK_GRPC_ADDR", c.GRPC.Addr)
	c.Storage.Driver = getEnv("STOCK_STORAGE_DRIVER", c.Storage.Driver)
	c.Storage.DSN = getEnv("MYSQL_DSN", c.Storage.DSN)
	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	if v, ok := os.LookupEnv("KAFKA_BROKERS"); ok {
		c.Kafka.Brokers = strings.Split(v, ",")
		c.Kafka.Enabled = true
	}

	var err error
	if c.Redis.Enabled, err = getEnvBool("STOCK_REDIS_ENABLED", c.Redis.Enabled); err != nil {
		return err
	}
	if c.Kafka.Enabled, err = getEnvBool("STOCK_KAFKA_ENABLED", c.Kafka.Enabled); err != nil {
		return err
	}
	if c.Sweeper.Interval, err = getEnvDuration("STOCK_SWEEP_INTERVAL", c.Sweeper.Interval); err != nil {
		return err
	}
	return nil
}

func (c Config) Validate() error {
	switch c.Storage.Driver {
	case "mysql":
		if c.Storage.DSN == "" {
			return errors.New("storage.dsn cannot be empty for the mysql driver")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown storage.driver %q", c.Storage.Driver)
	}
	if c.Policy.ReservationTTL <= 0 {
		return errors.New("policy.reservation_ttl must be greater than 0")
	}
	if c.Policy.LowStockThreshold < 0 {
		return errors.New("policy.low_stock_threshold cannot be negative")
	}
	if c.Retry.MaxAttempts < 1 {
		return errors.New("retry.max_attempts must be at least 1")
	}
	if c.Retry.Backoff <= 0 {
		return errors.New("retry.backoff must be greater than 0")
	}
	if c.Sweeper.Interval <= 0 {
		return errors.New("sweeper.interval must be greater than 0")
	}
	if c.Sweeper.BatchSize <= 0 {
		return errors.New("sweeper.batch_size must be greater than 0")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return errors.New("kafka.brokers cannot be empty when kafka is enabled")
	}
	return nil
}

func (c Config) DomainPolicy() domain.Policy {
	return domain.Policy{
		ReservationTTL:    c.Policy.ReservationTTL,
		LowStockThreshold: c.Policy.LowStockThreshold,
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) (bool, error) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
