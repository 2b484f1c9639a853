package corebuild

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSourcesManifest(t *testing.T) {
	data := []byte("# comment\nhttps://example.com/a.tar.gz\n\ngit+https://example.com/repo.git\nhttps://example.com/sub/b.tar.xz\n")
	entries := ParseSourcesManifest(data)
	require.Len(t, entries, 2)
	assert.Equal(t, "a.tar.gz", entries[0].Filename)
	assert.Equal(t, "b.tar.xz", entries[1].Filename)
}

func TestParseChecksumSidecarAndWrite(t *testing.T) {
	data := []byte("deadbeef  a.tar.gz\ncafef00d  b.tar.xz\n")
	sidecar := ParseChecksumSidecar(data)
	assert.Equal(t, "deadbeef", sidecar["a.tar.gz"])
	assert.Equal(t, "cafef00d", sidecar["b.tar.xz"])

	path := filepath.Join(t.TempDir(), "checksums")
	require.NoError(t, sidecar.Write(path))
	written, err := os.ReadFile(path)
	require.NoError(t, err)
	reparsed := ParseChecksumSidecar(written)
	assert.Equal(t, sidecar, reparsed)
}

func TestVerifySourceChecksums_MismatchDetected(t *testing.T) {
	dir := t.TempDir()
	filePath := filepath.Join(dir, "a.tar.gz")
	require.NoError(t, os.WriteFile(filePath, []byte("hello world"), 0o644))

	actual, err := hashBlake3File(filePath)
	require.NoError(t, err)

	sources := []SourceManifestEntry{{URL: "https://example.com/a.tar.gz", Filename: "a.tar.gz"}}

	sidecar := ChecksumSidecar{"a.tar.gz": actual}
	mismatches, err := VerifySourceChecksums(dir, sources, sidecar)
	require.NoError(t, err)
	assert.Empty(t, mismatches)

	sidecar = ChecksumSidecar{"a.tar.gz": "wrongdigest"}
	mismatches, err = VerifySourceChecksums(dir, sources, sidecar)
	require.NoError(t, err)
	require.Len(t, mismatches, 1)
	assert.Equal(t, "a.tar.gz", mismatches[0].Filename)
	assert.Equal(t, "wrongdigest", mismatches[0].Expected)
	assert.Equal(t, actual, mismatches[0].Actual)
}

func TestVerifySourceChecksums_MissingFileSkipped(t *testing.T) {
	dir := t.TempDir()
	sources := []SourceManifestEntry{{URL: "https://example.com/missing.tar.gz", Filename: "missing.tar.gz"}}
	sidecar := ChecksumSidecar{"missing.tar.gz": "whatever"}
	mismatches, err := VerifySourceChecksums(dir, sources, sidecar)
	require.NoError(t, err)
	assert.Empty(t, mismatches)
}

func TestVerifySourceChecksums_NoSidecarEntryIsNotAMismatch(t *testing.T) {
	dir := t.TempDir()
	filePath := filepath.Join(dir, "new.tar.gz")
	require.NoError(t, os.WriteFile(filePath, []byte("data"), 0o644))
	sources := []SourceManifestEntry{{URL: "https://example.com/new.tar.gz", Filename: "new.tar.gz"}}

	mismatches, err := VerifySourceChecksums(dir, sources, ChecksumSidecar{})
	require.NoError(t, err)
	assert.Empty(t, mismatches)
}

func TestWithSharedDownloadLock(t *testing.T) {
	base := filepath.Join(t.TempDir(), "download")
	ran := false
	err := withSharedDownloadLock(base, func() error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
	assert.FileExists(t, base+".lock")
}
