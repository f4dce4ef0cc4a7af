package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

// Config holds every tunable recognised by the crawl subsystem (§6). Both
// cmd/crawler and cmd/queryserver load the same struct; each binary only
// reads the fields relevant to its own role.
type Config struct {
	Env         string `env:"ENV" envDefault:"local" validate:"required,oneof=local staging production"`
	Port        string `env:"PORT" envDefault:"8080" validate:"required"`
	MetricsPort string `env:"METRICS_PORT" envDefault:"9090"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info" validate:"required,oneof=debug info warn error"`

	URLAccounts          string        `env:"URL_ACCOUNTS,required" validate:"required"`
	AccountsPollInterval time.Duration `env:"ACCOUNTS_POLL_INTERVAL" envDefault:"86400s"`

	DefaultPollInterval     time.Duration `env:"DEFAULT_POLL_INTERVAL" envDefault:"21600s"`
	MaxPollErrorDelayFactor int           `env:"MAX_POLL_ERROR_DELAY_FACTOR" envDefault:"10" validate:"min=1"`

	NotificationPollInterval   time.Duration `env:"NOTIFICATION_POLL_INTERVAL" envDefault:"100ms"`
	NotifyMinDelay             time.Duration `env:"NOTIFY_MIN_DELAY" envDefault:"0s"`
	NotifyQueueOverloadWarning int           `env:"NOTIFY_QUEUE_OVERLOAD_WARNING" envDefault:"1000"`
	NotificationsQueueMaxSize  int           `env:"NOTIFICATIONS_QUEUE_MAX_SIZE" envDefault:"10000"`
	MaxNotificationsPerTick    int           `env:"MAX_NOTIFICATIONS_PER_TICK" envDefault:"20"`

	Concurrency         int     `env:"CONCURRENCY" envDefault:"2" validate:"min=1"`
	RepoRateLimitPerSec float64 `env:"REPO_RATE_LIMIT_PER_SEC" envDefault:"2"`
	RepoRateLimitBurst  int     `env:"REPO_RATE_LIMIT_BURST" envDefault:"5"`
	MaxRepositoryPages  int     `env:"MAX_REPOSITORY_PAGES" envDefault:"0"`

	LocalDB     string `env:"LOCAL_DB" envDefault:"./data/registry.db"`
	OpenService bool   `env:"OPEN_SERVICE" envDefault:"false"`

	MaxRelatedDepth int `env:"MAX_RELATED_DEPTH" envDefault:"5" validate:"min=0"`

	URLIndexDB  string `env:"URL_INDEX_DB,required" validate:"required"`
	IndexDBPort string `env:"INDEX_DB_PORT" envDefault:"9999"`
	IndexDBPath string `env:"INDEX_DB_PATH" envDefault:"/namespace/"`
	IndexSchema string `env:"INDEX_SCHEMA" envDefault:"chubindex"`

	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
}

func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	// An unset (or zero) NOTIFY_MIN_DELAY defaults to a tenth of the
	// default poll interval, so notifications never reschedule with no delay.
	if cfg.NotifyMinDelay <= 0 {
		cfg.NotifyMinDelay = cfg.DefaultPollInterval / 10
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SlogLevel converts LOG_LEVEL to a slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
