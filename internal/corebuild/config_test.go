package corebuild

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nonexistent.conf"))
	require.NoError(t, err)
	assert.Equal(t, "/", cfg.RootDir)
	assert.Equal(t, "/var/cache/portcraft", cfg.CacheDir)
	assert.Equal(t, filepath.Join(cfg.CacheDir, "archives"), cfg.ArchivesDir)
	assert.Equal(t, filepath.Join(cfg.ArchivesDir, "fail"), cfg.TombstonesDir)
	assert.Positive(t, cfg.Concurrency)
}

func TestLoadConfig_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "portcraft.conf")
	require.NoError(t, os.WriteFile(path, []byte("# comment\nPORTCRAFT_ROOT=\"/srv/root\"\nPORTCRAFT_CACHE_DIR='/srv/cache'\n\nPORTCRAFT_PORT_DIR=/srv/ports\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/root", cfg.RootDir)
	assert.Equal(t, "/srv/cache", cfg.CacheDir)
	assert.Equal(t, "/srv/ports", cfg.PortDir)
	assert.Equal(t, filepath.Join("/srv/cache", "archives"), cfg.ArchivesDir)
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("PORTCRAFT_ROOT", "/from/env")
	t.Setenv("VCPKG_MAX_CONCURRENCY", "7")
	t.Setenv("VCPKG_FORCE_SYSTEM_BINARIES", "1")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nonexistent.conf"))
	require.NoError(t, err)
	assert.Equal(t, "/from/env", cfg.RootDir)
	assert.Equal(t, 7, cfg.Concurrency)
	assert.True(t, cfg.ForceSystemBins)
}

func TestComputeConcurrency(t *testing.T) {
	assert.Equal(t, 4, computeConcurrency("4"))
}

func TestComputeConcurrency_InvalidFallsBackToCPUCount(t *testing.T) {
	n := computeConcurrency("not-a-number")
	assert.Positive(t, n)
	n = computeConcurrency("-1")
	assert.Positive(t, n)
}
