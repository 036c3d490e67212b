package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/shohag/hookshot/internal/models"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Delivery DeliveryConfig `mapstructure:"delivery"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type StorageConfig struct {
	Driver   string         `mapstructure:"driver"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type PostgresConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int    `mapstructure:"max_conns"`
}

type QueueConfig struct {
	Driver string `mapstructure:"driver"`
	// ClaimLease is how long a claimed delivery stays invisible to other
	// pollers. Zero means twice the delivery timeout.
	ClaimLease time.Duration `mapstructure:"claim_lease"`
	Redis      RedisConfig   `mapstructure:"redis"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Key      string `mapstructure:"key"`
}

type DeliveryConfig struct {
	Workers            int                `mapstructure:"workers"`
	Timeout            time.Duration      `mapstructure:"timeout"`
	PollInterval       time.Duration      `mapstructure:"poll_interval"`
	FailureCeiling     int                `mapstructure:"failure_ceiling"`
	ResponseLimit      int64              `mapstructure:"response_limit"`
	DefaultRetryPolicy models.RetryPolicy `mapstructure:"default_retry_policy"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Lease returns the effective claim lease for the store-backed queue.
func (c *Config) Lease() time.Duration {
	if c.Queue.ClaimLease > 0 {
		return c.Queue.ClaimLease
	}
	return 2 * c.Delivery.Timeout
}

func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("hookshot")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/hookshot")
	}

	setDefaults(v)

	v.SetEnvPrefix("HOOKSHOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)

	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.sqlite.path", "./data/hookshot.db")
	v.SetDefault("storage.postgres.url", "")
	v.SetDefault("storage.postgres.max_conns", 10)

	v.SetDefault("queue.driver", "store")
	v.SetDefault("queue.claim_lease", 0)
	v.SetDefault("queue.redis.addr", "localhost:6379")
	v.SetDefault("queue.redis.password", "")
	v.SetDefault("queue.redis.db", 0)
	v.SetDefault("queue.redis.key", "hookshot:deliveries")

	v.SetDefault("delivery.workers", 50)
	v.SetDefault("delivery.timeout", 30*time.Second)
	v.SetDefault("delivery.poll_interval", 1*time.Second)
	v.SetDefault("delivery.failure_ceiling", 10)
	v.SetDefault("delivery.response_limit", 1024)
	v.SetDefault("delivery.default_retry_policy.max_attempts", 5)
	v.SetDefault("delivery.default_retry_policy.initial_delay_seconds", 60)
	v.SetDefault("delivery.default_retry_policy.backoff_multiplier", 2.0)
	v.SetDefault("delivery.default_retry_policy.max_delay_seconds", 3600)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}
