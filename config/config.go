// Package config loads process configuration: embedded defaults, an
// optional YAML overlay, then AISEARCH_* environment variables.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/haowjy/meridian-aisearch-go"
	"github.com/haowjy/meridian-aisearch-go/stores/redisdlq"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// EnvPrefix prefixes every environment variable, e.g. AISEARCH_SERVER_ADDR.
const EnvPrefix = "AISEARCH"

// Config is the full process configuration.
type Config struct {
	Environment string `yaml:"environment"`
	LogLevel    string `yaml:"log_level" split_words:"true"`

	Server      ServerConfig     `yaml:"server"`
	Upstream    UpstreamConfig   `yaml:"upstream"`
	Store       StoreConfig      `yaml:"store"`
	DeadLetters DeadLetterConfig `yaml:"dead_letters" split_words:"true"`
	Pipeline    PipelineConfig   `yaml:"pipeline"`
	Typewriter  TypewriterConfig `yaml:"typewriter"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" split_words:"true"`
}

// UpstreamConfig selects where event streams come from.
type UpstreamConfig struct {
	Kind       string `yaml:"kind"` // workflowapi or lorem
	BaseURL    string `yaml:"base_url" split_words:"true"`
	APIKey     string `yaml:"api_key" envconfig:"API_KEY"`
	LoremModel string `yaml:"lorem_model" split_words:"true"`
}

// StoreConfig selects where finished records go.
type StoreConfig struct {
	Kind       string        `yaml:"kind"` // http or sqlite
	BaseURL    string        `yaml:"base_url" split_words:"true"`
	Token      string        `yaml:"token"`
	Timeout    time.Duration `yaml:"timeout"`
	RateLimit  float64       `yaml:"rate_limit" split_words:"true"`
	Burst      int           `yaml:"burst"`
	SQLitePath string        `yaml:"sqlite_path" envconfig:"SQLITE_PATH"`
}

// DeadLetterConfig selects where unaccepted records wait for redelivery.
type DeadLetterConfig struct {
	Kind  string          `yaml:"kind"` // memory, redis or none
	Limit int             `yaml:"limit"`
	Redis redisdlq.Config `yaml:"redis"`
}

// PipelineConfig tunes session handling.
type PipelineConfig struct {
	FinishTimeout    time.Duration `yaml:"finish_timeout" split_words:"true"`
	FlushConcurrency int           `yaml:"flush_concurrency" split_words:"true"`
}

// TypewriterConfig tunes the reveal effect.
type TypewriterConfig struct {
	Delay time.Duration `yaml:"delay"`
}

// Default returns the embedded defaults.
func Default() (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(defaultsYAML, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse embedded defaults: %w", err)
	}
	return &cfg, nil
}

// Load builds the configuration. path may be empty; when set, the YAML file
// there overrides the defaults field by field. Environment variables
// override both.
func Load(path string) (*Config, error) {
	cfg, err := Default()
	if err != nil {
		return nil, err
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the selections and the settings they need.
func (c *Config) Validate() error {
	switch c.Upstream.Kind {
	case aisearch.UpstreamWorkflowAPI.String():
		if c.Upstream.APIKey == "" {
			return &aisearch.ValidationError{Field: "upstream.api_key", Value: "", Reason: "required for workflowapi upstream"}
		}
	case aisearch.UpstreamLorem.String():
	default:
		return &aisearch.ValidationError{Field: "upstream.kind", Value: c.Upstream.Kind, Reason: "must be workflowapi or lorem"}
	}

	switch c.Store.Kind {
	case "http":
		if c.Store.BaseURL == "" {
			return &aisearch.ValidationError{Field: "store.base_url", Value: "", Reason: "required for http store"}
		}
	case "sqlite":
		if c.Store.SQLitePath == "" {
			return &aisearch.ValidationError{Field: "store.sqlite_path", Value: "", Reason: "required for sqlite store"}
		}
	default:
		return &aisearch.ValidationError{Field: "store.kind", Value: c.Store.Kind, Reason: "must be http or sqlite"}
	}

	switch c.DeadLetters.Kind {
	case "memory", "none":
	case "redis":
		if c.DeadLetters.Redis.URL == "" {
			return &aisearch.ValidationError{Field: "dead_letters.redis.url", Value: "", Reason: "required for redis dead letters"}
		}
	default:
		return &aisearch.ValidationError{Field: "dead_letters.kind", Value: c.DeadLetters.Kind, Reason: "must be memory, redis or none"}
	}

	return nil
}

// IsProduction reports whether Environment is "production".
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// LoadEnv searches for a .env file starting from the current directory
// and walking up the directory tree. It loads the first .env file found
// and returns its path, or "" if there is none. Variables already set in
// the environment win.
func LoadEnv() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		envPath := filepath.Join(dir, ".env")
		if _, err := os.Stat(envPath); err == nil {
			if err := godotenv.Load(envPath); err != nil {
				return ""
			}
			return envPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
