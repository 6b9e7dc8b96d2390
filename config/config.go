// Package config loads service settings from the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config holds every setting of the mission service.
type Config struct {
	Port           string   `env:"PORT" envDefault:"5200"`
	DatabaseURL    string   `env:"DATABASE_URL,required,notEmpty"`
	GatewayToken   string   `env:"GATEWAY_TOKEN,required,notEmpty"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`
	LogLevel       string   `env:"LOG_LEVEL" envDefault:"info"`

	Generator GeneratorConfig
	Labeler   LabelerConfig
	R2        R2Config

	RedisURL          string        `env:"REDIS_URL"`
	ReconcileInterval time.Duration `env:"RECONCILE_INTERVAL" envDefault:"5m"`
	OTELEndpoint      string        `env:"OTEL_ENDPOINT"`
}

// GeneratorConfig points at an OpenAI-compatible chat completions API.
type GeneratorConfig struct {
	BaseURL string        `env:"GENERATOR_BASE_URL" envDefault:"https://api.openai.com/v1"`
	APIKey  string        `env:"GENERATOR_API_KEY"`
	Model   string        `env:"GENERATOR_MODEL" envDefault:"gpt-4o-mini"`
	Timeout time.Duration `env:"GENERATOR_TIMEOUT" envDefault:"30s"`
}

// LabelerConfig points at the image label-detection service.
type LabelerConfig struct {
	URL      string  `env:"LABELER_URL"`
	Token    string  `env:"LABELER_TOKEN"`
	MinScore float64 `env:"LABELER_MIN_SCORE" envDefault:"0.6"`
}

// R2Config is the object storage holding uploaded completion photos.
type R2Config struct {
	AccountID       string `env:"R2_ACCOUNT_ID"`
	AccessKeyID     string `env:"R2_ACCESS_KEY_ID"`
	SecretAccessKey string `env:"R2_SECRET_ACCESS_KEY"`
	Bucket          string `env:"R2_BUCKET"`
	Endpoint        string `env:"R2_ENDPOINT"`
	CDNBaseURL      string `env:"CDN_BASE_URL"`
}

// Enabled reports whether image keys can be resolved.
func (c R2Config) Enabled() bool {
	return c.Bucket != "" && c.AccessKeyID != "" && (c.AccountID != "" || c.Endpoint != "")
}

// Load reads an optional .env file and parses the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logrus.Warn("⚠️  No .env file found, reading environment variables directly")
	}
	return Parse()
}

// Parse reads the process environment only.
func Parse() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	for i, origin := range cfg.AllowedOrigins {
		cfg.AllowedOrigins[i] = strings.TrimSpace(origin)
	}
	if cfg.Labeler.MinScore < 0 || cfg.Labeler.MinScore > 1 {
		return nil, fmt.Errorf("LABELER_MIN_SCORE must be within [0,1], got %v", cfg.Labeler.MinScore)
	}
	if cfg.ReconcileInterval <= 0 {
		return nil, fmt.Errorf("RECONCILE_INTERVAL must be positive")
	}
	return &cfg, nil
}
