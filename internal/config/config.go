// Package config loads the engine configuration from an optional config.yaml
// and the environment. Nested keys map to upper-case variables with dots
// replaced by underscores, e.g. scheduler.interval -> SCHEDULER_INTERVAL.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	Mongo      MongoConfig      `mapstructure:"mongo"`
	Supabase   SupabaseConfig   `mapstructure:"supabase"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Resilience ResilienceConfig `mapstructure:"resilience"`
	Cache      CacheConfig      `mapstructure:"cache"`
	OTel       OTelConfig       `mapstructure:"otel"`
	S3         S3Config         `mapstructure:"s3"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Program    ProgramConfig    `mapstructure:"program"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// MongoConfig selects the Mongo store. An empty URI runs on the in-memory store.
type MongoConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

// SupabaseConfig selects the Supabase notification sink. Notifications are
// only logged when URL is empty.
type SupabaseConfig struct {
	URL         string        `mapstructure:"url"`
	ServiceKey  string        `mapstructure:"service_key"`
	HTTPTimeout time.Duration `mapstructure:"http_timeout"`
}

// SchedulerConfig drives the transition runs and the outbox dispatcher, which
// also drains on its own every OutboxInterval.
type SchedulerConfig struct {
	Interval       time.Duration `mapstructure:"interval"`
	Workers        int           `mapstructure:"workers"`
	RunOnStart     bool          `mapstructure:"run_on_start"`
	OutboxBatch    int           `mapstructure:"outbox_batch"`
	OutboxInterval time.Duration `mapstructure:"outbox_interval"`
}

type ResilienceConfig struct {
	MaxRetries     int           `mapstructure:"max_retries"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxConcurrency int           `mapstructure:"max_concurrency"`
}

type CacheConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

// OTelConfig holds the OTLP gRPC collector address. Tracing stays local when
// it is empty.
type OTelConfig struct {
	Endpoint string `mapstructure:"endpoint"`
}

// S3Config enables run report archiving when Bucket is set.
type S3Config struct {
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

// ProgramConfig points at a YAML tier catalog. The built-in catalog is used
// when CatalogFile is empty.
type ProgramConfig struct {
	CatalogFile string `mapstructure:"catalog_file"`
}

var defaults = map[string]any{
	"server.port":                8080,
	"server.shutdown_timeout":    "15s",
	"log.level":                  "info",
	"mongo.uri":                  "",
	"mongo.database":             "phase_lifecycle",
	"supabase.url":               "",
	"supabase.service_key":       "",
	"supabase.http_timeout":      "10s",
	"scheduler.interval":         "24h",
	"scheduler.workers":          8,
	"scheduler.run_on_start":     false,
	"scheduler.outbox_batch":     100,
	"scheduler.outbox_interval":  "1m",
	"resilience.max_retries":     3,
	"resilience.initial_backoff": "100ms",
	"resilience.max_concurrency": 16,
	"cache.ttl":                  "10m",
	"otel.endpoint":              "",
	"s3.endpoint":                "",
	"s3.region":                  "eu-west-3",
	"s3.bucket":                  "",
	"s3.prefix":                  "scheduler-runs",
	"s3.access_key_id":           "",
	"s3.secret_access_key":       "",
	"auth.jwt_secret":            "",
	"program.catalog_file":       "",
}

// Load reads config.yaml from the given directories, when present, and lets
// environment variables override any key.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.Scheduler.Interval <= 0:
		return fmt.Errorf("scheduler.interval must be positive, got %s", c.Scheduler.Interval)
	case c.Scheduler.OutboxInterval <= 0:
		return fmt.Errorf("scheduler.outbox_interval must be positive, got %s", c.Scheduler.OutboxInterval)
	case c.Scheduler.Workers < 1:
		return fmt.Errorf("scheduler.workers must be at least 1, got %d", c.Scheduler.Workers)
	case c.Supabase.URL != "" && c.Supabase.ServiceKey == "":
		return errors.New("supabase.service_key is required when supabase.url is set")
	}
	return nil
}
