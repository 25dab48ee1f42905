// Package config loads configuration from environment variables, .env files
// and the secrets file.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// ErrMissingToken is returned when HF_TOKEN is set nowhere.
var ErrMissingToken = errors.New("HF_TOKEN is not set (environment, .env or secrets file)")

// Config holds all configuration for the service
type Config struct {
	// Server
	HTTPPort    int    `env:"HTTP_PORT" envDefault:"8501"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// Secrets file read before the environment is parsed
	SecretsFile string `env:"SECRETS_FILE" envDefault:"secrets.toml"`

	// Model registry
	HFToken          string        `env:"HF_TOKEN"`
	HubURL           string        `env:"HF_ENDPOINT" envDefault:"https://huggingface.co"`
	InferenceURL     string        `env:"HF_INFERENCE_URL" envDefault:"https://api-inference.huggingface.co"`
	ModelCacheDir    string        `env:"MODEL_CACHE_DIR"`
	InferenceTimeout time.Duration `env:"INFERENCE_TIMEOUT" envDefault:"5m"`
	PreloadModel     bool          `env:"PRELOAD_MODEL" envDefault:"false"`

	// Generation. GenerateTimeout bounds one request end to end: waiting for
	// a slot, loading the model and inference.
	MaxConcurrentGenerations int           `env:"MAX_CONCURRENT_GENERATIONS" envDefault:"1"`
	GenerateTimeout          time.Duration `env:"GENERATE_TIMEOUT" envDefault:"10m"`

	// Downloads
	ResultTTL      time.Duration `env:"RESULT_TTL" envDefault:"15m"`
	DownloadSecret string        `env:"DOWNLOAD_SECRET"`
}

// Load loads configuration from .env file (if present), the secrets file (if
// present) and environment variables. Variables already set in the
// environment win over both files.
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	secretsFile := os.Getenv("SECRETS_FILE")
	if secretsFile == "" {
		secretsFile = "secrets.toml"
	}
	if err := LoadSecrets(secretsFile); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings that have no usable default.
func (c *Config) Validate() error {
	if c.HFToken == "" {
		return ErrMissingToken
	}
	if c.MaxConcurrentGenerations < 1 {
		return fmt.Errorf("MAX_CONCURRENT_GENERATIONS must be at least 1, got %d", c.MaxConcurrentGenerations)
	}
	if c.GenerateTimeout < c.InferenceTimeout {
		return fmt.Errorf("GENERATE_TIMEOUT (%s) must not be shorter than INFERENCE_TIMEOUT (%s)",
			c.GenerateTimeout, c.InferenceTimeout)
	}
	if c.ResultTTL <= 0 {
		return fmt.Errorf("RESULT_TTL must be positive, got %s", c.ResultTTL)
	}
	return nil
}

// LoadSecrets exports the top-level string keys of a TOML secrets file as
// environment variables, skipping keys that are already set. A missing file
// is not an error.
func LoadSecrets(path string) error {
	var secrets map[string]any
	if _, err := toml.DecodeFile(path, &secrets); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("reading secrets file %s: %w", path, err)
	}

	for key, value := range secrets {
		s, ok := value.(string)
		if !ok {
			continue
		}
		if _, set := os.LookupEnv(key); set {
			continue
		}
		if err := os.Setenv(key, s); err != nil {
			return fmt.Errorf("exporting secret %s: %w", key, err)
		}
	}
	return nil
}
