package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 256, cfg.EmbeddingDim)
	assert.Equal(t, 384, cfg.EmbeddingDimNative)
	assert.Equal(t, 512, cfg.MaxTokens)
	assert.Equal(t, 50000, cfg.IndexCapacity)
	assert.InDelta(t, 0.25, cfg.SearchThreshold, 1e-9)
	assert.Equal(t, 100, cfg.BatchSize)
	assert.Equal(t, int64(100*1024*1024), cfg.MinModelSize)
	assert.True(t, cfg.SemanticSearchEnabled)
}

func TestLoad_MissingFile_ReturnsDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Default().EmbeddingDim, cfg.EmbeddingDim)
}

func TestLoad_MergesSettingsOverDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	require.NoError(t, os.MkdirAll(DataDir(), 0700))
	settings := `{"CLIPVAULT_SEARCH_THRESHOLD": 0.3, "CLIPVAULT_DAEMON_PORT": 9999, "CLIPVAULT_UNKNOWN_KEY": "ignored"}`
	require.NoError(t, os.WriteFile(SettingsPath(), []byte(settings), 0600))

	cfg, err := Load()
	require.NoError(t, err)
	assert.InDelta(t, 0.3, cfg.SearchThreshold, 1e-9)
	assert.Equal(t, 9999, cfg.DaemonPort)
	// Unrecognized settings must not break the merge.
	assert.Equal(t, Default().BatchSize, cfg.BatchSize)
}

func TestLoad_InvalidJSON_FallsBackToDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	require.NoError(t, os.MkdirAll(DataDir(), 0700))
	require.NoError(t, os.WriteFile(SettingsPath(), []byte("not json"), 0600))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Default().EmbeddingDim, cfg.EmbeddingDim)
}

func TestEnsureAll(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	require.NoError(t, EnsureAll())
	assert.DirExists(t, DataDir())
	assert.FileExists(t, SettingsPath())
}

func TestModelPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	assert.Equal(t, filepath.Join(home, ".clipvault", ModelFileName), ModelPath())
}
