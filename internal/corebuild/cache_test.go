package corebuild

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArchivePathFor_FanOut(t *testing.T) {
	path := archivePathFor("/cache/archives", "abcdef123")
	assert.Equal(t, filepath.Join("/cache/archives", "ab", "abcdef123.zip"), path)
}

func TestTombstonePathFor_FanOut(t *testing.T) {
	path := tombstonePathFor("/cache/archives/fail", "abcdef123")
	assert.Equal(t, filepath.Join("/cache/archives/fail", "ab", "abcdef123.tar.gz"), path)
}

func TestBinaryCache_PublishAndLookupArchive(t *testing.T) {
	root := t.TempDir()
	archives := filepath.Join(root, "archives")
	tombstones := filepath.Join(root, "archives", "fail")
	cache := NewBinaryCache(archives, tombstones, nil, nil)

	pkgDir := filepath.Join(root, "packages", "zlib_x64-linux")
	writeFile(t, filepath.Join(pkgDir, "share", "zlib", "vcpkg_abi_info.txt"), "abi-data")

	tag := "0123456789abcdef0123456789abcdef01234567"
	require.NoError(t, cache.PublishArchive(tag, pkgDir))

	restoreDir := filepath.Join(root, "restore")
	hit, err := cache.Lookup(tag, "zlib_x64-linux", restoreDir)
	require.NoError(t, err)
	require.NotNil(t, hit)
	assert.Equal(t, "archive", hit.Source)
	assert.FileExists(t, filepath.Join(restoreDir, "share", "zlib", "vcpkg_abi_info.txt"))
}

func TestBinaryCache_LookupMiss(t *testing.T) {
	root := t.TempDir()
	cache := NewBinaryCache(filepath.Join(root, "archives"), filepath.Join(root, "fail"), nil, &BufferingReporter{})
	hit, err := cache.Lookup("deadbeef", "zlib_x64-linux", filepath.Join(root, "restore"))
	require.NoError(t, err)
	assert.Nil(t, hit)
}

func TestBinaryCache_LookupPromotesRestoredNugetPackage(t *testing.T) {
	root := t.TempDir()
	nugetDir := filepath.Join(root, "archives.nuget")
	nuget := NewNugetCache(nugetDir)
	cache := NewBinaryCache(filepath.Join(root, "archives"), filepath.Join(root, "fail"), nuget, nil)

	packageDir := filepath.Join(root, "packages", "zlib_x64-linux")
	nupkgPath := filepath.Join(packageDir, "zlib_x64-linux.nupkg")
	writeFile(t, nupkgPath, "nupkg-bytes")

	hit, err := cache.Lookup("deadbeef", "zlib_x64-linux", packageDir)
	require.NoError(t, err)
	require.NotNil(t, hit)
	assert.Equal(t, "nuget", hit.Source)
	assert.FileExists(t, filepath.Join(nugetDir, "zlib_x64-linux.nupkg"))
}

func TestBinaryCache_TombstoneAndCheckPolicy(t *testing.T) {
	root := t.TempDir()
	cache := NewBinaryCache(filepath.Join(root, "archives"), filepath.Join(root, "archives", "fail"), nil, &BufferingReporter{})

	buildtreeDir := filepath.Join(root, "buildtrees", "zlib")
	writeFile(t, filepath.Join(buildtreeDir, "x64-linux.log"), "build failed here")
	writeFile(t, filepath.Join(buildtreeDir, "notes.txt"), "not a log file")

	tag := "1111111111111111111111111111111111111111"
	require.False(t, cache.TombstoneExists(tag))
	require.NoError(t, cache.PublishTombstone(tag, buildtreeDir))
	assert.True(t, cache.TombstoneExists(tag))

	assert.True(t, cache.CheckTombstone(tag, true), "fail-on-tombstone must short-circuit")
	assert.False(t, cache.CheckTombstone(tag, false), "without fail-on-tombstone, caller retries the build")
}

func TestBinaryCache_PublishTombstoneIsNoopIfAlreadyPresent(t *testing.T) {
	root := t.TempDir()
	cache := NewBinaryCache(filepath.Join(root, "archives"), filepath.Join(root, "archives", "fail"), nil, nil)
	buildtreeDir := filepath.Join(root, "buildtrees", "zlib")
	writeFile(t, filepath.Join(buildtreeDir, "x64-linux.log"), "first failure")

	tag := "2222222222222222222222222222222222222222"
	require.NoError(t, cache.PublishTombstone(tag, buildtreeDir))
	dest := tombstonePathFor(cache.TombstonesDir, tag)
	info1, err := os.Stat(dest)
	require.NoError(t, err)

	require.NoError(t, cache.PublishTombstone(tag, buildtreeDir))
	info2, err := os.Stat(dest)
	require.NoError(t, err)
	assert.Equal(t, info1.ModTime(), info2.ModTime(), "second publish must be a no-op, not overwrite")
}

func TestCopyLogFiles_OnlyLogExtension(t *testing.T) {
	buildtreeDir := t.TempDir()
	writeFile(t, filepath.Join(buildtreeDir, "a.log"), "log content")
	writeFile(t, filepath.Join(buildtreeDir, "b.txt"), "not a log")

	stagingDir := t.TempDir()
	require.NoError(t, copyLogFiles(buildtreeDir, stagingDir))

	assert.FileExists(t, filepath.Join(stagingDir, "a.log"))
	_, err := os.Stat(filepath.Join(stagingDir, "b.txt"))
	assert.True(t, os.IsNotExist(err))
}
