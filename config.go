package main

import (
	"fmt"
	"net/url"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Fixed operational limits. These are policy constants rather than
// tunables; everything an operator is expected to adjust comes from the
// environment below.
const (
	maxConnsPerIPPerRoom = 10
	reapInterval         = 20 * time.Second
	anomalyThreshold     = 100
	shutdownTimeout      = 10 * time.Second
	upgradeRatePerIP     = 20 // upgrade requests per second per IP
)

type Config struct {
	Port               int    `envconfig:"PORT" default:"1234"`
	Env                string `envconfig:"NODE_ENV" default:"development"`
	MaxClientsPerRoom  int    `envconfig:"MAX_CLIENTS_PER_ROOM" default:"50"`
	PingIntervalMs     int    `envconfig:"WEBSOCKET_PING_INTERVAL" default:"30000"`
	CleanupIntervalMs  int    `envconfig:"CLEANUP_INTERVAL" default:"300000"`
	GracePeriodMs      int    `envconfig:"GRACE_PERIOD_MS" default:"120000"`
	APIBaseURL         string `envconfig:"API_BASE_URL" default:"http://localhost:3000/api"`
	LogLevel           string `envconfig:"LOG_LEVEL" default:"info"`
	CodeEditorFeatures bool   `envconfig:"ENABLE_CODE_EDITOR_FEATURES" default:"true"`
}

func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("PORT must be in [1,65535], got %d", c.Port)
	}
	if c.MaxClientsPerRoom < 1 {
		return fmt.Errorf("MAX_CLIENTS_PER_ROOM must be at least 1, got %d", c.MaxClientsPerRoom)
	}
	if c.PingIntervalMs < 1000 {
		return fmt.Errorf("WEBSOCKET_PING_INTERVAL must be at least 1000ms, got %d", c.PingIntervalMs)
	}
	if c.GracePeriodMs < 5000 {
		return fmt.Errorf("GRACE_PERIOD_MS must be at least 5000ms, got %d", c.GracePeriodMs)
	}
	switch c.LogLevel {
	case "error", "warn", "info", "debug":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of error|warn|info|debug, got %q", c.LogLevel)
	}
	if c.CodeEditorFeatures {
		u, err := url.Parse(c.APIBaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("API_BASE_URL must be a valid URL, got %q", c.APIBaseURL)
		}
	}
	return nil
}

func (c *Config) PingInterval() time.Duration {
	return time.Duration(c.PingIntervalMs) * time.Millisecond
}

func (c *Config) GracePeriod() time.Duration {
	return time.Duration(c.GracePeriodMs) * time.Millisecond
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
