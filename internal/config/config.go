package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"motorent/internal/pricing"
)

// DefaultPath is used when no path is given.
const DefaultPath = "configs/config.yaml"

type Config struct {
	API struct {
		BaseURL        string  `yaml:"base_url"`
		APIKey         string  `yaml:"api_key"`
		TimeoutSeconds int     `yaml:"timeout_seconds"`
		RateLimit      float64 `yaml:"rate_limit"`
		RateBurst      int     `yaml:"rate_burst"`
	} `yaml:"api"`

	Realtime struct {
		URL          string `yaml:"url"`
		MinBackoffMS int    `yaml:"min_backoff_ms"`
		MaxBackoffMS int    `yaml:"max_backoff_ms"`
	} `yaml:"realtime"`

	Availability struct {
		CacheTTLSeconds int `yaml:"cache_ttl_seconds"`
	} `yaml:"availability"`

	Redis struct {
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix"`
	} `yaml:"redis"`

	Pricing pricing.Rates `yaml:"pricing"`

	Receipts struct {
		Path           string `yaml:"path"`
		BackupPath     string `yaml:"backup_path"`
		RetentionDays  int    `yaml:"retention_days"`
		PruneAfterDays int    `yaml:"prune_after_days"`
	} `yaml:"receipts"`

	Monitoring struct {
		HealthCheckPort   int  `yaml:"health_check_port"`
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Support ${ENV_VAR} placeholders in YAML config.
	data = []byte(os.ExpandEnv(string(data)))

	cfg := Config{Pricing: pricing.DefaultRates()}
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	if cfg.API.BaseURL == "" {
		return nil, fmt.Errorf("api.base_url is required")
	}
	cfg.API.BaseURL = strings.TrimRight(cfg.API.BaseURL, "/")

	if err = cfg.Pricing.Validate(); err != nil {
		return nil, fmt.Errorf("pricing: %w", err)
	}

	if cfg.Receipts.Path == "" {
		cfg.Receipts.Path = "data/receipts.db"
	}
	if cfg.Receipts.BackupPath == "" {
		cfg.Receipts.BackupPath = filepath.Join(filepath.Dir(cfg.Receipts.Path), "backups")
	}

	return &cfg, nil
}

func (c *Config) APITimeout() time.Duration {
	if c.API.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.API.TimeoutSeconds) * time.Second
}

func (c *Config) CacheTTL() time.Duration {
	if c.Availability.CacheTTLSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.Availability.CacheTTLSeconds) * time.Second
}

// RealtimeBackoff returns the reconnect backoff bounds.
func (c *Config) RealtimeBackoff() (minBackoff, maxBackoff time.Duration) {
	minBackoff = time.Duration(c.Realtime.MinBackoffMS) * time.Millisecond
	if minBackoff <= 0 {
		minBackoff = 500 * time.Millisecond
	}
	maxBackoff = time.Duration(c.Realtime.MaxBackoffMS) * time.Millisecond
	if maxBackoff <= 0 {
		maxBackoff = 30 * time.Second
	}
	if maxBackoff < minBackoff {
		maxBackoff = minBackoff
	}
	return minBackoff, maxBackoff
}

// ReceiptsPruneAfter is how long finished receipts are kept.
func (c *Config) ReceiptsPruneAfter() time.Duration {
	if c.Receipts.PruneAfterDays <= 0 {
		return 30 * 24 * time.Hour
	}
	return time.Duration(c.Receipts.PruneAfterDays) * 24 * time.Hour
}

func (c *Config) LogLevel() zerolog.Level {
	level, err := zerolog.ParseLevel(strings.ToLower(c.Logging.Level))
	if err != nil || c.Logging.Level == "" {
		return zerolog.InfoLevel
	}
	return level
}
