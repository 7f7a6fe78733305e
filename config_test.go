package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Port:               1234,
		Env:                "development",
		MaxClientsPerRoom:  50,
		PingIntervalMs:     30000,
		CleanupIntervalMs:  300000,
		GracePeriodMs:      120000,
		APIBaseURL:         "http://localhost:3000/api",
		LogLevel:           "info",
		CodeEditorFeatures: true,
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 1234, cfg.Port)
	assert.Equal(t, 50, cfg.MaxClientsPerRoom)
	assert.Equal(t, 30*time.Second, cfg.PingInterval())
	assert.Equal(t, 2*time.Minute, cfg.GracePeriod())
	assert.Equal(t, "http://localhost:3000/api", cfg.APIBaseURL)
	assert.True(t, cfg.CodeEditorFeatures)
	require.NoError(t, cfg.Validate())
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port zero", func(c *Config) { c.Port = 0 }},
		{"port too large", func(c *Config) { c.Port = 70000 }},
		{"zero room cap", func(c *Config) { c.MaxClientsPerRoom = 0 }},
		{"ping too short", func(c *Config) { c.PingIntervalMs = 500 }},
		{"grace too short", func(c *Config) { c.GracePeriodMs = 1000 }},
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }},
		{"bad api url", func(c *Config) { c.APIBaseURL = "not a url" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestConfigBadURLAllowedWhenEditorFeaturesOff(t *testing.T) {
	cfg := validConfig()
	cfg.APIBaseURL = "not a url"
	cfg.CodeEditorFeatures = false
	assert.NoError(t, cfg.Validate())
}
