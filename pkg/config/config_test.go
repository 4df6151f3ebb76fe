package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 24*time.Hour, cfg.Cache.TTL)
	assert.Equal(t, 100, cfg.Cache.MaxEntries)
	assert.Equal(t, 50, cfg.Memory.HistoryBound)
	assert.Equal(t, 60*time.Second, cfg.Session.Timeout)
	assert.NotEmpty(t, cfg.Storage.BaseDir)
	assert.Equal(t, filepath.Join(cfg.Storage.BaseDir, "cache"), cfg.Cache.Dir)
	assert.Equal(t, filepath.Join(cfg.Storage.BaseDir, "memory"), cfg.Memory.Dir)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "compass.yaml")
	content := `
storage:
  base_dir: /var/lib/compass
cache:
  ttl: 1h
  max_entries: 10
memory:
  history_bound: 5
scrape:
  use_mock: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/compass", cfg.Storage.BaseDir)
	assert.Equal(t, time.Hour, cfg.Cache.TTL)
	assert.Equal(t, 10, cfg.Cache.MaxEntries)
	assert.Equal(t, 5, cfg.Memory.HistoryBound)
	assert.True(t, cfg.Scrape.UseMock)
	// Unset values keep defaults, resolved against the file's base dir.
	assert.Equal(t, 60*time.Second, cfg.Session.Timeout)
	assert.Equal(t, filepath.Join("/var/lib/compass", "cache"), cfg.Cache.Dir)
}

func TestEnvOverridesCredentials(t *testing.T) {
	path := filepath.Join(t.TempDir(), "compass.yaml")
	require.NoError(t, os.WriteFile(path, []byte("llm:\n  groq_api_key: from-file\n"), 0o600))

	t.Setenv("GROQ_API_KEY", "from-env")
	t.Setenv("SEARCHAPI_API_KEY", "search-key")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.LLM.GroqAPIKey)
	assert.Equal(t, "search-key", cfg.Scrape.SearchAPIKey)
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "compass.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cache: [not, a, mapping]"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidateRejectsNonPositiveBounds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "compass.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cache:\n  ttl: -1s\n"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ttl")
}
