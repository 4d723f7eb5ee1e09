package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 6710, cfg.Server.Port)
	assert.Equal(t, "data/playdeck.db", cfg.Database.Path)
	assert.Equal(t, 5*time.Second, cfg.Playback.ProgressInterval)
	assert.Equal(t, "mpv", cfg.Playback.Backend)
	assert.True(t, cfg.Playback.ExtendedTitles)
	assert.Equal(t, 2, cfg.Downloads.Concurrency)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 6710, cfg.Server.Port)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
server:
  port: 9000
playback:
  backend: clock
remote:
  base_url: http://media.local
  token: secret
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "clock", cfg.Playback.Backend)
	assert.Equal(t, 5*time.Second, cfg.Playback.ProgressInterval)
	assert.Equal(t, "http://media.local", cfg.Remote.BaseURL)
	// Untouched sections keep their defaults.
	assert.Equal(t, "data/downloads", cfg.Downloads.Dir)
	assert.True(t, cfg.Playback.SegmentsEnabled)
}

func TestLoadRejectsInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [not a map"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}
