// Package config loads the service configuration with Viper from config.json and
// PORTIONCHEF_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Log       LogConfig       `mapstructure:"log"`
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Gemini    GeminiConfig    `mapstructure:"gemini"`
	LocalLLM  LocalLLMConfig  `mapstructure:"localllm"`
	Batch     BatchConfig     `mapstructure:"batch"`
	Optimizer OptimizerConfig `mapstructure:"optimizer"`
	Images    ImagesConfig    `mapstructure:"images"`
	Request   RequestConfig   `mapstructure:"request"`
}

type AppConfig struct {
	Name string `mapstructure:"name"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Format      string `mapstructure:"format"`
	Development bool   `mapstructure:"development"`
}

type ServerConfig struct {
	Addr           string   `mapstructure:"addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

type GeminiConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

type LocalLLMConfig struct {
	URL   string `mapstructure:"url"`
	Model string `mapstructure:"model"`
}

// BatchConfig sizes the order worker pool.
type BatchConfig struct {
	Workers int `mapstructure:"workers"`
}

type OptimizerConfig struct {
	MaxIterations int `mapstructure:"max_iterations"`
}

// ImagesConfig is where resized dish photos are written.
type ImagesConfig struct {
	Dir string `mapstructure:"dir"`
}

// RequestConfig bounds every handler's calls to the store and the LLM backends.
type RequestConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// Load reads configuration from path, if it exists, on top of the defaults.
// Environment variables override both, e.g. PORTIONCHEF_BATCH_WORKERS=8.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("PORTIONCHEF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Flat keys from the older config.json layout.
	if cfg.Gemini.APIKey == "" {
		cfg.Gemini.APIKey = v.GetString("gemini_api_key")
	}
	if cfg.Database.URL == "" {
		cfg.Database.URL = v.GetString("DATABASE_URL")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "portionchef")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.development", false)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:8081"})

	v.SetDefault("database.url", "")

	v.SetDefault("gemini.api_key", "")
	v.SetDefault("gemini.model", "gemini-1.5-flash")

	v.SetDefault("localllm.url", "http://localhost:1234/v1/chat/completions")
	v.SetDefault("localllm.model", "gemma-3-12b-it:2")

	v.SetDefault("batch.workers", 5)
	v.SetDefault("optimizer.max_iterations", 1000)
	v.SetDefault("images.dir", "images")
	v.SetDefault("request.timeout", "45s")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	var errs []string

	if c.Batch.Workers < 1 {
		errs = append(errs, "batch.workers must be >= 1")
	}
	if c.Optimizer.MaxIterations < 1 {
		errs = append(errs, "optimizer.max_iterations must be >= 1")
	}
	if c.Request.Timeout <= 0 {
		errs = append(errs, "request.timeout must be > 0")
	}
	if c.Images.Dir == "" {
		errs = append(errs, "images.dir is required")
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}
