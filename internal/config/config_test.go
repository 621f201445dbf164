package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("defaults apply without a config file", func(t *testing.T) {
		t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "absent.json"))

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "http://localhost:5000", cfg.ServerBaseURL)
		assert.Equal(t, "X-API-Key", cfg.Security.APIKeyHeader)
		assert.Equal(t, 3, cfg.Sync.MaxRetries)
		assert.Equal(t, 3, cfg.Sync.BatchSize)
		assert.Equal(t, 5*time.Second, cfg.ProbeTimeout())
		assert.Equal(t, time.Second, cfg.RetryDelay())
		assert.Equal(t, 30*time.Second, cfg.BulkTimeout())
		assert.True(t, cfg.Media.PrepareUploads)
		assert.True(t, filepath.IsAbs(cfg.Storage.DatabasePath))
	})

	t.Run("config file overrides defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.json")
		require.NoError(t, os.WriteFile(path, []byte(`{
			"serverBaseUrl": "https://api.vistoria.example.com",
			"sync": {"batchSize": 5, "maxRetries": 2},
			"media": {"maxDimension": 1280}
		}`), 0o644))
		t.Setenv("CONFIG_PATH", path)

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "https://api.vistoria.example.com", cfg.ServerBaseURL)
		assert.Equal(t, 5, cfg.Sync.BatchSize)
		assert.Equal(t, 2, cfg.Sync.MaxRetries)
		assert.Equal(t, 1280, cfg.Media.MaxDimension)
	})

	t.Run("environment wins over the config file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"serverBaseUrl": "https://from-file"}`), 0o644))
		t.Setenv("CONFIG_PATH", path)
		t.Setenv("SERVER_BASE_URL", "https://from-env")
		t.Setenv("SYNC_BATCH_SIZE", "7")
		t.Setenv("API_KEY", "secret-key")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "https://from-env", cfg.ServerBaseURL)
		assert.Equal(t, 7, cfg.Sync.BatchSize)
		assert.Equal(t, "secret-key", cfg.Security.APIKey)
	})

	t.Run("malformed config file is an error", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.json")
		require.NoError(t, os.WriteFile(path, []byte("{broken"), 0o644))
		t.Setenv("CONFIG_PATH", path)

		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("invalid numeric env values are ignored", func(t *testing.T) {
		t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "absent.json"))
		t.Setenv("SYNC_BATCH_SIZE", "not-a-number")
		t.Setenv("SYNC_MAX_RETRIES", "-4")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, 3, cfg.Sync.BatchSize)
		assert.Equal(t, 3, cfg.Sync.MaxRetries)
	})
}
