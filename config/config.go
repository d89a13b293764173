// Package config loads the engine configuration from YAML plus .env and
// environment overrides. Provider API keys never live in the YAML file;
// they come from the environment only.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full engine configuration.
type Config struct {
	LLM     LLMConfig     `yaml:"llm"`
	Storage StorageConfig `yaml:"storage"`
	Log     LogConfig     `yaml:"log"`
}

// LLMConfig controls the decision adapters. Base URLs and model names are
// overridable mainly for tests and regional endpoints.
type LLMConfig struct {
	TimeoutSeconds int `yaml:"timeout_seconds" validate:"min=1,max=600"`

	AnthropicBaseURL string `yaml:"anthropic_base_url"`
	OpenAIBaseURL    string `yaml:"openai_base_url"`
	XAIBaseURL       string `yaml:"xai_base_url"`
	GoogleBaseURL    string `yaml:"google_base_url"`

	AnthropicModel string `yaml:"anthropic_model"`
	OpenAIModel    string `yaml:"openai_model"`
	XAIModel       string `yaml:"xai_model"`
	GoogleModel    string `yaml:"google_model"`

	// Keys are environment-only (never serialized).
	AnthropicAPIKey string `yaml:"-"`
	OpenAIAPIKey    string `yaml:"-"`
	XAIAPIKey       string `yaml:"-"`
	GoogleAPIKey    string `yaml:"-"`
}

// StorageConfig controls where the ledger is persisted.
type StorageConfig struct {
	DSN string `yaml:"dsn" validate:"required"` // sqlite file path, or ":memory:"
}

// LogConfig controls logging format and level.
type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

// Load reads the YAML file at path, loads .env if present, applies
// environment overrides and defaults, and validates the result. A missing
// config file is not an error: everything has a default.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
		}
	case os.IsNotExist(err):
		// Defaults only.
	default:
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config.Load: invalid config: %w", err)
	}
	return &cfg, nil
}

// DecisionTimeout is the per-call timeout for one model decision.
func (c *Config) DecisionTimeout() time.Duration {
	return time.Duration(c.LLM.TimeoutSeconds) * time.Second
}

func applyEnvOverrides(cfg *Config) {
	cfg.LLM.AnthropicAPIKey = os.Getenv("ANTHROPIC_API_KEY")
	cfg.LLM.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	cfg.LLM.XAIAPIKey = os.Getenv("XAI_API_KEY")
	cfg.LLM.GoogleAPIKey = os.Getenv("GOOGLE_API_KEY")

	if v := os.Getenv("MARKET_DB"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

func setDefaults(cfg *Config) {
	if cfg.LLM.TimeoutSeconds <= 0 {
		cfg.LLM.TimeoutSeconds = 120
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "fdamarket.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
