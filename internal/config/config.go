// Package config loads the process configuration from a YAML file. Field
// names and the Load(path)/defaults-for-missing-values contract mirror the
// teacher's internal/config package.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Cache      CacheConfig      `yaml:"cache"`
	Logging    LoggingConfig    `yaml:"logging"`
	LabelAPI   LabelAPIConfig   `yaml:"label_api"`
	DocStore   DocStoreConfig   `yaml:"doc_store"`
	Queues     QueuesConfig     `yaml:"queues"`
	Lifecycle  LifecycleConfig  `yaml:"lifecycle"`
	RateCheck  RateCheckConfig  `yaml:"rate_check"`
	Session    SessionConfig    `yaml:"session"`
	Fingerprint FingerprintConfig `yaml:"fingerprint"`
}

type ServerConfig struct {
	OpsPort string `yaml:"ops_port" validate:"required"`
}

type DatabaseConfig struct {
	URL             string        `yaml:"url" validate:"required"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"-"`
	ConnMaxLifetimeRaw string     `yaml:"conn_max_lifetime"`
}

type CacheConfig struct {
	URL string `yaml:"url" validate:"required"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type LabelAPIConfig struct {
	BaseURL        string        `yaml:"base_url" validate:"required"`
	APIKey         string        `yaml:"api_key" validate:"required"`
	Timeout        time.Duration `yaml:"-"`
	TimeoutRaw     string        `yaml:"timeout"`
	WebhookBaseURL string        `yaml:"webhook_base_url"`
}

type DocStoreConfig struct {
	BaseURL           string        `yaml:"base_url" validate:"required"`
	APIKey            string        `yaml:"api_key" validate:"required"`
	Timeout           time.Duration `yaml:"-"`
	TimeoutRaw        string        `yaml:"timeout"`
	PollInterval      time.Duration `yaml:"-"`
	PollIntervalRaw   string        `yaml:"poll_interval"`
	ReimportBatchSize int           `yaml:"reimport_batch_size"`
}

type QueuesConfig struct {
	StaleProcessingThreshold    time.Duration `yaml:"-"`
	StaleProcessingThresholdRaw string        `yaml:"stale_processing_threshold"`
	MaxRetries                  int           `yaml:"max_retries"`
	BaseBackoff                 time.Duration `yaml:"-"`
	BaseBackoffRaw              string        `yaml:"base_backoff"`
	MaxBackoff                  time.Duration `yaml:"-"`
	MaxBackoffRaw               string        `yaml:"max_backoff"`
	RateLimitBackoff            time.Duration `yaml:"-"`
	RateLimitBackoffRaw         string        `yaml:"rate_limit_backoff"`
}

type LifecycleConfig struct {
	PollIntervalBusy   time.Duration `yaml:"-"`
	PollIntervalBusyRaw string       `yaml:"poll_interval_busy"`
	PollIntervalIdle   time.Duration `yaml:"-"`
	PollIntervalIdleRaw string       `yaml:"poll_interval_idle"`
	BatchSize          int           `yaml:"batch_size"`
	SideEffectGuardDelay time.Duration `yaml:"-"`
	SideEffectGuardDelayRaw string     `yaml:"side_effect_guard_delay"`
}

type RateCheckConfig struct {
	DisallowedServices []string `yaml:"disallowed_services"`
}

type SessionConfig struct {
	DefaultMaxOrders int `yaml:"default_max_orders"`
}

type FingerprintConfig struct {
	ExcludedSKUs []string `yaml:"excluded_skus"`
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{OpsPort: "8080"},
		Database: DatabaseConfig{
			MaxOpenConns:       25,
			MaxIdleConns:       5,
			ConnMaxLifetimeRaw: "5m",
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		LabelAPI: LabelAPIConfig{TimeoutRaw: "10s"},
		DocStore: DocStoreConfig{
			TimeoutRaw:        "10s",
			PollIntervalRaw:   "60s",
			ReimportBatchSize: 500,
		},
		Queues: QueuesConfig{
			StaleProcessingThresholdRaw: "5m",
			MaxRetries:                  5,
			BaseBackoffRaw:              "5s",
			MaxBackoffRaw:               "300s",
			RateLimitBackoffRaw:         "65s",
		},
		Lifecycle: LifecycleConfig{
			PollIntervalBusyRaw:     "2s",
			PollIntervalIdleRaw:     "10s",
			BatchSize:               5,
			SideEffectGuardDelayRaw: "500ms",
		},
		Session: SessionConfig{DefaultMaxOrders: 28},
	}
}

// Load reads path, merges onto the documented defaults, parses duration
// strings, and validates the result. A missing required value returns a
// descriptive error — callers (cmd/worker) treat this as a fatal startup
// condition.
func Load(path string) (*Config, error) {
	cfg := defaults()

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := cfg.parseDurations(); err != nil {
		return nil, err
	}

	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return nil, fmt.Errorf("config: invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) parseDurations() error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"database.conn_max_lifetime", c.Database.ConnMaxLifetimeRaw, &c.Database.ConnMaxLifetime},
		{"label_api.timeout", c.LabelAPI.TimeoutRaw, &c.LabelAPI.Timeout},
		{"doc_store.timeout", c.DocStore.TimeoutRaw, &c.DocStore.Timeout},
		{"doc_store.poll_interval", c.DocStore.PollIntervalRaw, &c.DocStore.PollInterval},
		{"queues.stale_processing_threshold", c.Queues.StaleProcessingThresholdRaw, &c.Queues.StaleProcessingThreshold},
		{"queues.base_backoff", c.Queues.BaseBackoffRaw, &c.Queues.BaseBackoff},
		{"queues.max_backoff", c.Queues.MaxBackoffRaw, &c.Queues.MaxBackoff},
		{"queues.rate_limit_backoff", c.Queues.RateLimitBackoffRaw, &c.Queues.RateLimitBackoff},
		{"lifecycle.poll_interval_busy", c.Lifecycle.PollIntervalBusyRaw, &c.Lifecycle.PollIntervalBusy},
		{"lifecycle.poll_interval_idle", c.Lifecycle.PollIntervalIdleRaw, &c.Lifecycle.PollIntervalIdle},
		{"lifecycle.side_effect_guard_delay", c.Lifecycle.SideEffectGuardDelayRaw, &c.Lifecycle.SideEffectGuardDelay},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("config: %s: %w", f.name, err)
		}
		*f.dst = d
	}
	if c.Session.DefaultMaxOrders == 0 {
		c.Session.DefaultMaxOrders = 28
	}
	return nil
}
