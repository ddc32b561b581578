// Package config loads runtime configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds everything needed to wire a sync client.
type Config struct {
	// RemoteURL is the REST base URL of the hosted backend,
	// e.g. "https://project.example.co/rest/v1".
	RemoteURL string

	// RemoteAPIKey authenticates REST and realtime calls.
	RemoteAPIKey string

	// RealtimeURL is the websocket notification endpoint. Empty disables
	// realtime notifications.
	RealtimeURL string

	// ProbeURL is the endpoint the connectivity monitor HEADs. Defaults to
	// RemoteURL when empty.
	ProbeURL string

	// DatabasePath is the local SQLite file backing the store and queue.
	DatabasePath string

	// LogLevel is one of debug, info, warn, error.
	LogLevel string

	// LogFormat is "json" or "text".
	LogFormat string

	// MaxRetries overrides the replay retry ceiling. Zero keeps the default.
	MaxRetries int

	// CallTimeout bounds each remote call during drain and pull. Zero keeps
	// the default.
	CallTimeout time.Duration
}

// Load reads configuration from the environment. A .env file in the working
// directory is merged in first when present; real environment variables win.
func Load() (*Config, error) {
	// Ignore a missing .env; it is a development convenience only.
	_ = godotenv.Load()

	cfg := &Config{
		RemoteURL:    os.Getenv("TEAMSYNC_REMOTE_URL"),
		RemoteAPIKey: os.Getenv("TEAMSYNC_API_KEY"),
		RealtimeURL:  os.Getenv("TEAMSYNC_REALTIME_URL"),
		ProbeURL:     os.Getenv("TEAMSYNC_PROBE_URL"),
		DatabasePath: getEnv("TEAMSYNC_DB_PATH", "teamsync.db"),
		LogLevel:     getEnv("TEAMSYNC_LOG_LEVEL", "info"),
		LogFormat:    getEnv("TEAMSYNC_LOG_FORMAT", "json"),
	}

	if cfg.RemoteURL == "" {
		return nil, fmt.Errorf("TEAMSYNC_REMOTE_URL is required")
	}
	if cfg.ProbeURL == "" {
		cfg.ProbeURL = cfg.RemoteURL
	}

	if v := os.Getenv("TEAMSYNC_MAX_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid TEAMSYNC_MAX_RETRIES %q", v)
		}
		cfg.MaxRetries = n
	}

	if v := os.Getenv("TEAMSYNC_CALL_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid TEAMSYNC_CALL_TIMEOUT %q", v)
		}
		cfg.CallTimeout = d
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
