package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()

	co := cfg.Coalescer()
	assert.Equal(t, 500*time.Millisecond, co.Delay)
	assert.Zero(t, co.FetchTimeout)
	assert.True(t, co.Retry.Enabled)
	assert.Equal(t, time.Second, co.Retry.InitialInterval)
	assert.Equal(t, 30*time.Second, co.Retry.MaxInterval)
	assert.Equal(t, 5*time.Minute, co.Retry.MaxElapsedTime)

	api := cfg.FeedAPI()
	assert.Equal(t, "https://feed.example.com", api.BaseURL)
	assert.Equal(t, 15*time.Second, api.Timeout)
	assert.Equal(t, 5.0, api.RequestsPerSecond)
	assert.Equal(t, 10, api.Burst)

	assert.False(t, cfg.Edits.RequireSameSender)
	assert.NotEmpty(t, cfg.Database.URI)
}

func TestParseRejectsBadDurations(t *testing.T) {
	_, err := Parse([]byte("coalescing:\n    delay: soon\n"))
	assert.ErrorContains(t, err, "coalescing.delay")

	_, err = Parse([]byte("backend:\n    timeout: -1s\n"))
	assert.ErrorContains(t, err, "must not be negative")
}

func TestParseEmptyDurationIsZero(t *testing.T) {
	cfg, err := Parse([]byte("coalescing:\n    delay: \"\"\n    retry:\n        enabled: false\n"))
	require.NoError(t, err)

	assert.Zero(t, cfg.Coalescer().Delay)
	assert.False(t, cfg.Coalescer().Retry.Enabled)
}

func TestLoadMergesOntoExample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"backend:\n    base_url: https://feed.internal\ncoalescing:\n    delay: 250ms\n",
	), 0600))

	cfg, _, err := Load(path, false)
	require.NoError(t, err)

	assert.Equal(t, "https://feed.internal", cfg.FeedAPI().BaseURL)
	assert.Equal(t, 250*time.Millisecond, cfg.Coalescer().Delay)
	assert.Equal(t, 15*time.Second, cfg.FeedAPI().Timeout, "missing keys should come from the example config")
	assert.True(t, cfg.Coalescer().Retry.Enabled)
}

func TestLoadMissingFile(t *testing.T) {
	_, _, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), false)
	assert.Error(t, err)
}
