// Package config loads service settings from an optional YAML file and lets
// environment variables override it, so container deployments need no file
// at all.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Provider struct {
	BaseURL string  `yaml:"base_url"`
	APIKey  string  `yaml:"api_key"`
	RPS     float64 `yaml:"rps"`
	Burst   int     `yaml:"burst"`
	Retries int     `yaml:"retries"`
}

type Solver struct {
	Moves        string `yaml:"moves"`     // all | two_opt | or_opt
	Selection    string `yaml:"selection"` // first | best
	MaxPasses    int    `yaml:"max_passes"`
	TimeBudgetMs int    `yaml:"time_budget_ms"`
	Workers      int    `yaml:"workers"`
}

type Config struct {
	Listen      string `yaml:"listen"`
	DatabaseURL string `yaml:"database_url"`
	RedisURL    string `yaml:"redis_url"`

	Geocoder Provider `yaml:"geocoder"`
	Router   Provider `yaml:"router"`

	Solver            Solver `yaml:"solver"`
	MatrixConcurrency int    `yaml:"matrix_concurrency"`

	WebhookMaxAttempts int `yaml:"webhook_max_attempts"`

	AuthMode   string `yaml:"auth_mode"` // dev | hmac
	AuthSecret string `yaml:"auth_secret"`
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	return Config{
		Listen: ":8080",
		Geocoder: Provider{
			BaseURL: "https://dapi.kakao.com",
			RPS:     5,
			Burst:   5,
			Retries: 3,
		},
		Router: Provider{
			BaseURL: "https://apis-navi.kakaomobility.com",
			RPS:     5,
			Burst:   5,
			Retries: 3,
		},
		MatrixConcurrency:  8,
		WebhookMaxAttempts: 6,
		AuthMode:           "dev",
	}
}

// Load reads path (when non-empty) over the defaults, then applies
// environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

// FromEnv is Load without a file.
func FromEnv() Config {
	cfg := Default()
	cfg.applyEnv()
	return cfg
}

func (c *Config) applyEnv() {
	if v := os.Getenv("PORT"); v != "" {
		c.Listen = ":" + v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.RedisURL = v
	}
	if v := os.Getenv("GEO_API_KEY"); v != "" {
		c.Geocoder.APIKey = v
		c.Router.APIKey = v
	}
	if v := os.Getenv("GEOCODER_BASE_URL"); v != "" {
		c.Geocoder.BaseURL = v
	}
	if v := os.Getenv("ROUTER_BASE_URL"); v != "" {
		c.Router.BaseURL = v
	}
	if v := os.Getenv("MATRIX_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.MatrixConcurrency = n
		}
	}
	if v := os.Getenv("WEBHOOK_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.WebhookMaxAttempts = n
		}
	}
	if v := os.Getenv("AUTH_MODE"); v != "" {
		c.AuthMode = v
	}
	if v := os.Getenv("AUTH_SECRET"); v != "" {
		c.AuthSecret = v
	}
	if v := os.Getenv("SOLVER_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Solver.Workers = n
		}
	}
}
