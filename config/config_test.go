package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRequiresRemoteURL(t *testing.T) {
	t.Setenv("TEAMSYNC_REMOTE_URL", "")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("TEAMSYNC_REMOTE_URL", "https://project.example.co/rest/v1")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "teamsync.db", cfg.DatabasePath)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, cfg.RemoteURL, cfg.ProbeURL, "probe defaults to the remote URL")
	assert.Zero(t, cfg.MaxRetries)
	assert.Zero(t, cfg.CallTimeout)
}

func TestLoadFullEnvironment(t *testing.T) {
	t.Setenv("TEAMSYNC_REMOTE_URL", "https://project.example.co/rest/v1")
	t.Setenv("TEAMSYNC_API_KEY", "secret")
	t.Setenv("TEAMSYNC_REALTIME_URL", "wss://project.example.co/realtime/v1")
	t.Setenv("TEAMSYNC_PROBE_URL", "https://probe.example.co")
	t.Setenv("TEAMSYNC_DB_PATH", "/tmp/club.db")
	t.Setenv("TEAMSYNC_LOG_LEVEL", "debug")
	t.Setenv("TEAMSYNC_LOG_FORMAT", "text")
	t.Setenv("TEAMSYNC_MAX_RETRIES", "5")
	t.Setenv("TEAMSYNC_CALL_TIMEOUT", "20s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "secret", cfg.RemoteAPIKey)
	assert.Equal(t, "wss://project.example.co/realtime/v1", cfg.RealtimeURL)
	assert.Equal(t, "https://probe.example.co", cfg.ProbeURL)
	assert.Equal(t, "/tmp/club.db", cfg.DatabasePath)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, 20*time.Second, cfg.CallTimeout)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("TEAMSYNC_REMOTE_URL", "https://project.example.co/rest/v1")

	t.Setenv("TEAMSYNC_MAX_RETRIES", "zero")
	_, err := Load()
	assert.Error(t, err)
	t.Setenv("TEAMSYNC_MAX_RETRIES", "")

	t.Setenv("TEAMSYNC_CALL_TIMEOUT", "soon")
	_, err = Load()
	assert.Error(t, err)
}
