// Package config loads the gateway configuration.
//
// Values are layered: built-in defaults, then the optional YAML file named by
// CONFIG_FILE, then environment variables (a .env file in the working
// directory is loaded into the environment first if it exists).
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/manenim/gateway-admission/pkg/limiter"
)

var ErrInvalidConfig = errors.New("config: invalid configuration")

type Config struct {
	Port      int    `yaml:"port" env:"PORT"`
	LogLevel  string `yaml:"log_level" env:"LOG_LEVEL"`
	LogFormat string `yaml:"log_format" env:"LOG_FORMAT"`

	BucketCapacity int64         `yaml:"bucket_capacity" env:"BUCKET_CAPACITY"`
	RefillRate     float64       `yaml:"refill_rate" env:"REFILL_RATE"`
	WindowTTL      time.Duration `yaml:"window_ttl" env:"WINDOW_TTL"`

	Redis Redis `yaml:"redis"`

	StoreTimeout   time.Duration `yaml:"store_timeout" env:"STORE_TIMEOUT"`
	FailOpen       bool          `yaml:"fail_open" env:"FAIL_OPEN"`
	KeyPrefix      string        `yaml:"key_prefix" env:"KEY_PREFIX"`
	TrustForwarded bool          `yaml:"trust_forwarded" env:"TRUST_FORWARDED"`
	AnonymousKey   string        `yaml:"anonymous_key" env:"ANONYMOUS_KEY"`
	OutageStatus   int           `yaml:"outage_status" env:"OUTAGE_STATUS"`
	JWTSecret      string        `yaml:"jwt_secret" env:"JWT_SECRET"`
}

type Redis struct {
	Host          string        `yaml:"host" env:"REDIS_HOST"`
	Port          int           `yaml:"port" env:"REDIS_PORT"`
	Password      string        `yaml:"password" env:"REDIS_PASSWORD"`
	DB            int           `yaml:"db" env:"REDIS_DB"`
	DialTimeout   time.Duration `yaml:"dial_timeout" env:"REDIS_DIAL_TIMEOUT"`
	RetryAttempts int           `yaml:"retry_attempts" env:"REDIS_RETRY_ATTEMPTS"`
	RetryInterval time.Duration `yaml:"retry_interval" env:"REDIS_RETRY_INTERVAL"`
}

// Addr returns the host:port of the Redis server.
func (r Redis) Addr() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}

func Default() Config {
	return Config{
		Port:           3030,
		LogLevel:       "info",
		LogFormat:      "json",
		BucketCapacity: 15,
		RefillRate:     5,
		WindowTTL:      60 * time.Second,
		Redis: Redis{
			Host:          "127.0.0.1",
			Port:          6379,
			DialTimeout:   10 * time.Second,
			RetryAttempts: 5,
			RetryInterval: 50 * time.Millisecond,
		},
		StoreTimeout:   limiter.DefaultTimeout,
		KeyPrefix:      limiter.DefaultPrefix,
		TrustForwarded: true,
		OutageStatus:   429,
	}
}

// Load builds the configuration from defaults, CONFIG_FILE and the
// environment, and validates the result.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("config: load .env: %w", err)
	}

	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return Config{}, err
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) overlayFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("%w: parse %s: %w", ErrInvalidConfig, path, err)
	}
	return nil
}

func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, c.Port)
	}
	if err := c.Limit().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.StoreTimeout <= 0 {
		return fmt.Errorf("%w: store timeout must be positive", ErrInvalidConfig)
	}
	if c.OutageStatus < 400 || c.OutageStatus > 599 {
		return fmt.Errorf("%w: outage status %d is not an error status", ErrInvalidConfig, c.OutageStatus)
	}
	if c.Redis.Host == "" {
		return fmt.Errorf("%w: redis host is required", ErrInvalidConfig)
	}
	if c.Redis.RetryAttempts < 1 {
		return fmt.Errorf("%w: redis retry attempts must be at least 1", ErrInvalidConfig)
	}
	return nil
}

// Limit returns the bucket parameters applied to every client.
func (c Config) Limit() limiter.Limit {
	return limiter.Limit{
		Capacity:   c.BucketCapacity,
		RefillRate: c.RefillRate,
		WindowTTL:  c.WindowTTL,
	}
}
