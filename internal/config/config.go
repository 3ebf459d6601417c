// Straitwatch - Live AIS Relay and Vessel Transit Tracking
// Copyright 2026 Straitwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/straitwatch/straitwatch

// Package config loads and validates Straitwatch configuration using
// Koanf v2 with layered sources: built-in defaults, an optional YAML
// config file, and environment variables (highest priority).
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the Straitwatch server.
type Config struct {
	AIS      AISConfig      `koanf:"ais"`
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// AISConfig configures the upstream AIS feed connection.
type AISConfig struct {
	// URL is the upstream websocket endpoint.
	URL string `koanf:"url"`

	// APIKey authenticates the subscription request. Required; never logged.
	APIKey string `koanf:"api_key"`

	// CenterLat/CenterLon locate the monitored area. The subscription
	// bounding box is derived from the center and the margins.
	CenterLat float64 `koanf:"center_lat"`
	CenterLon float64 `koanf:"center_lon"`
	LatMargin float64 `koanf:"lat_margin"`
	LonMargin float64 `koanf:"lon_margin"`

	// ReconnectDelay is the fixed delay before a single reconnect attempt
	// after an unexpected upstream disconnect.
	ReconnectDelay time.Duration `koanf:"reconnect_delay"`

	// HandshakeTimeout bounds the websocket dial.
	HandshakeTimeout time.Duration `koanf:"handshake_timeout"`
}

// ServerConfig configures the HTTP/websocket listener.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	Timeout         time.Duration `koanf:"timeout"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	RateLimitReqs   int           `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
}

// DatabaseConfig configures the DuckDB transit store.
type DatabaseConfig struct {
	// Path is the database file path, or ":memory:" for an ephemeral store.
	// Empty disables persistence entirely; the relay still runs.
	Path      string `koanf:"path"`
	MaxMemory string `koanf:"max_memory"`
	Threads   int    `koanf:"threads"`
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns a Config with all defaults applied. Defaults are
// loaded first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		AIS: AISConfig{
			URL:              "wss://stream.aisstream.io/v0/stream",
			APIKey:           "",
			CenterLat:        0.0,
			CenterLon:        0.0,
			LatMargin:        0.25,
			LonMargin:        0.5,
			ReconnectDelay:   5 * time.Second,
			HandshakeTimeout: 10 * time.Second,
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8090,
			Timeout:         30 * time.Second,
			CORSOrigins:     []string{"*"},
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
		},
		Database: DatabaseConfig{
			Path:      "/data/straitwatch.duckdb",
			MaxMemory: "512MB",
			Threads:   0, // 0 = use runtime.NumCPU()
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Validate checks that required configuration is present and valid.
// A missing API key is fatal: connecting without it is meaningless because
// the subscription request would be rejected upstream.
func (c *Config) Validate() error {
	if err := c.validateAIS(); err != nil {
		return err
	}
	if err := c.validateServer(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateAIS() error {
	if c.AIS.URL == "" {
		return fmt.Errorf("ais.url must not be empty")
	}
	if c.AIS.APIKey == "" {
		return fmt.Errorf("ais.api_key is required (set AIS_API_KEY)")
	}
	if c.AIS.CenterLat < -90 || c.AIS.CenterLat > 90 {
		return fmt.Errorf("ais.center_lat %v out of range [-90, 90]", c.AIS.CenterLat)
	}
	if c.AIS.CenterLon < -180 || c.AIS.CenterLon > 180 {
		return fmt.Errorf("ais.center_lon %v out of range [-180, 180]", c.AIS.CenterLon)
	}
	if c.AIS.LatMargin <= 0 || c.AIS.LonMargin <= 0 {
		return fmt.Errorf("ais margins must be positive (lat=%v lon=%v)", c.AIS.LatMargin, c.AIS.LonMargin)
	}
	if c.AIS.ReconnectDelay <= 0 {
		return fmt.Errorf("ais.reconnect_delay must be positive, got %v", c.AIS.ReconnectDelay)
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range [1, 65535]", c.Server.Port)
	}
	if c.Server.Timeout <= 0 {
		return fmt.Errorf("server.timeout must be positive, got %v", c.Server.Timeout)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "warning", "error", "fatal", "disabled":
	default:
		return fmt.Errorf("logging.level %q is not a valid level", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format %q must be json or console", c.Logging.Format)
	}
	return nil
}
