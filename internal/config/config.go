// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type QueueConfig struct {
	Attempts    int           `yaml:"attempts"`
	BackoffBase time.Duration `yaml:"backoff_base"`
	// FailFastNonRetriable stops retrying errors the taxonomy marks
	// permanent instead of burning the whole attempt budget on them.
	FailFastNonRetriable bool          `yaml:"fail_fast_non_retriable"`
	Workers              int           `yaml:"workers"`
	PollInterval         time.Duration `yaml:"poll_interval"`
	// Retention bounds how long terminal job records stay readable.
	Retention time.Duration `yaml:"retention"`
}

type ModelPrice struct {
	InputMicros  int64 `yaml:"input_micros"`  // micro-credits per 1000 prompt tokens
	OutputMicros int64 `yaml:"output_micros"` // micro-credits per 1000 completion tokens
}

type AIConfig struct {
	OpenAIKey       string                `yaml:"openai_key"`
	GeminiKey       string                `yaml:"gemini_key"`
	GeminiURL       string                `yaml:"gemini_url"`
	DefaultProvider string                `yaml:"default_provider"` // openai | gemini
	DefaultModel    string                `yaml:"default_model"`
	AllowedModels   []string              `yaml:"allowed_models"`  // enforced for non-BYOK jobs
	ModelProviders  map[string]string     `yaml:"model_providers"` // explicit model -> provider overrides
	Pricing         map[string]ModelPrice `yaml:"pricing"`
	CallTimeout     time.Duration         `yaml:"call_timeout"`
}

type SecurityConfig struct {
	EncryptionKey string `yaml:"encryption_key"`
	JWTSecret     string `yaml:"jwt_secret"`
}

type RateLimitConfig struct {
	MessagesPerMinute int `yaml:"messages_per_minute"`
}

type MaintenanceConfig struct {
	ArchiveInterval time.Duration `yaml:"archive_interval"`
	ArchiveIdleFor  time.Duration `yaml:"archive_idle_for"`
}

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Log         LogConfig         `yaml:"log"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	Queue       QueueConfig       `yaml:"queue"`
	AI          AIConfig          `yaml:"ai"`
	Security    SecurityConfig    `yaml:"security"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`

	Runtime RuntimeConfig `yaml:"-"`
}

func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// defaults
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Queue.Attempts <= 0 {
		cfg.Queue.Attempts = 3
	}
	if cfg.Queue.BackoffBase <= 0 {
		cfg.Queue.BackoffBase = time.Second
	}
	if cfg.Queue.Workers <= 0 {
		cfg.Queue.Workers = 4
	}
	if cfg.Queue.PollInterval <= 0 {
		cfg.Queue.PollInterval = 250 * time.Millisecond
	}
	if cfg.Queue.Retention <= 0 {
		cfg.Queue.Retention = 24 * time.Hour
	}
	if cfg.AI.DefaultModel == "" {
		cfg.AI.DefaultModel = "gpt-4o-mini"
	}
	if cfg.AI.DefaultProvider == "" {
		cfg.AI.DefaultProvider = "openai"
	}
	if cfg.AI.CallTimeout <= 0 {
		cfg.AI.CallTimeout = 60 * time.Second
	}
	if cfg.RateLimit.MessagesPerMinute <= 0 {
		cfg.RateLimit.MessagesPerMinute = 20
	}
	cfg.Redis.TTL = normalizeTTL(cfg.Redis.TTL)

	// Minimal validation
	if cfg.Database.URL == "" {
		return nil, errors.New("database.url is required")
	}
	if cfg.Redis.URL == "" && !dev {
		return nil, errors.New("redis.url is required")
	}
	if len(cfg.AI.AllowedModels) == 0 {
		cfg.AI.AllowedModels = []string{cfg.AI.DefaultModel}
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}

func normalizeTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Hour
	}
	return d
}
