package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsUsable(t *testing.T) {
	cfg := Default()
	require.Equal(t, 5432, cfg.Store.Port)
	require.Equal(t, 50, cfg.Exchange.StreamsPerSocket)
	require.Contains(t, cfg.Pipelines, "price")
}

func TestLoadMergesYAMLOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: debug\nstore:\n  host: db.internal\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, "db.internal", cfg.Store.Host)
	require.Equal(t, 5432, cfg.Store.Port) // untouched default survives the merge
}

func TestLoadMissingFileErrors(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	require.Error(t, err)
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  host: from-file\n"), 0o600))

	t.Setenv("ALERTRUN_STORE_HOST", "from-env")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "from-env", cfg.Store.Host)
}
