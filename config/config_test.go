package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Run("defaults without a file", func(t *testing.T) {
		cfg, err := LoadConfig("")
		require.NoError(t, err)

		assert.Equal(t, "memory", cfg.Store.Backend)
		assert.Equal(t, 30*time.Second, cfg.Cache.GroupsTTL)
		assert.Equal(t, 10*time.Second, cfg.Cache.MessagesTTL)
		assert.Equal(t, 3*time.Second, cfg.Sync.PollInterval)
		assert.Equal(t, 10, cfg.Sync.PageSize)
		assert.Equal(t, 6379, cfg.Redis.Port)
	})

	t.Run("file overrides defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.toml")
		content := `
[store]
backend = "pebble"
path = "/tmp/portalchat-test"

[cache]
groups_ttl = "45s"

[sync]
page_size = 25

[viewer]
user_id = "u-1"
manager = true
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

		cfg, err := LoadConfig(path)
		require.NoError(t, err)

		assert.Equal(t, "pebble", cfg.Store.Backend)
		assert.Equal(t, 45*time.Second, cfg.Cache.GroupsTTL)
		assert.Equal(t, 10*time.Second, cfg.Cache.MessagesTTL)
		assert.Equal(t, 25, cfg.Sync.PageSize)
		assert.Equal(t, "u-1", cfg.Viewer.UserID)
		assert.True(t, cfg.Viewer.Manager)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.toml"))
		assert.Error(t, err)
	})

	t.Run("environment override", func(t *testing.T) {
		t.Setenv("PORTALCHAT_STORE_BACKEND", "redis")
		cfg, err := LoadConfig("")
		require.NoError(t, err)
		assert.Equal(t, "redis", cfg.Store.Backend)
	})
}

func TestValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	bad := *cfg
	bad.Store.Backend = "floppy"
	assert.Error(t, bad.Validate())

	bad = *cfg
	bad.Sync.PageSize = 0
	assert.Error(t, bad.Validate())

	bad = *cfg
	bad.Sync.PollInterval = 0
	assert.Error(t, bad.Validate())
}
