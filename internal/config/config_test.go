package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Research.MaxCycles)
	assert.Equal(t, 0.7, cfg.Research.LinkThreshold)
	assert.Equal(t, 5, cfg.Cleaner.Workers)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scout.yaml")
	body := []byte("research:\n  max_cycles: 7\n  link_threshold: 0.5\npaths:\n  data_dir: /tmp/scoutdata\n")
	require.NoError(t, os.WriteFile(path, body, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Research.MaxCycles)
	assert.Equal(t, 0.5, cfg.Research.LinkThreshold)
	// Untouched sections keep defaults.
	assert.Equal(t, 0.7, cfg.Research.ContentThreshold)
	assert.Equal(t, "/tmp/scoutdata/cache", cfg.CachePath())
}

func TestLoad_EnvAPIKey(t *testing.T) {
	t.Setenv("SCOUT_GENAI_API_KEY", "test-key")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "test-key", cfg.LLM.APIKey)
	assert.Equal(t, "test-key", cfg.Embedding.APIKey)
}

func TestConfig_PathResolution(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Paths.DataDir = "/var/scout"
	cfg.Paths.IndexDir = "/abs/rag"

	assert.Equal(t, "/var/scout/cache", cfg.CachePath())
	assert.Equal(t, "/abs/rag", cfg.IndexPath())
	assert.Equal(t, "/var/scout/research.json", cfg.TaskFilePath())
}
