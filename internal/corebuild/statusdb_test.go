package corebuild

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusDB_PutGetAll(t *testing.T) {
	db := NewStatusDB()
	spec := PackageSpec{Name: "zlib", Triplet: "x64"}
	view := &InstalledPackageView{Core: BinaryParagraph{Spec: spec}}
	db.Put(view)

	assert.Same(t, view, db.Get(spec))
	assert.Nil(t, db.Get(PackageSpec{Name: "nope", Triplet: "x64"}))
	assert.Len(t, db.All(), 1)
}

func TestLoadStatusDB_MissingDirReturnsEmpty(t *testing.T) {
	db, err := LoadStatusDB(filepath.Join(t.TempDir(), "nonexistent"), "x64-linux")
	require.NoError(t, err)
	assert.Empty(t, db.All())
}

func TestLoadStatusDB_ReadsInstalledLayout(t *testing.T) {
	root := t.TempDir()
	pkgDir := filepath.Join(root, "zlib")
	require.NoError(t, os.MkdirAll(pkgDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(pkgDir, "version"), []byte("1.3.1\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(pkgDir, "abi"), []byte("deadbeef\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(pkgDir, "default-features"), []byte("tools\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(pkgDir, "depends"), []byte("cmake\nninja optional\n"), 0o644))

	db, err := LoadStatusDB(root, "x64-linux")
	require.NoError(t, err)

	view := db.Get(PackageSpec{Name: "zlib", Triplet: "x64-linux"})
	require.NotNil(t, view)
	assert.Equal(t, "1.3.1", view.Core.Version)
	assert.Equal(t, "deadbeef", view.Core.Abi)
	assert.Equal(t, []string{"tools"}, view.Core.DefaultFeatures)
	require.Len(t, view.Core.Depends, 2, "readDepends records every token regardless of the optional marker")
	assert.Equal(t, "cmake", view.Core.Depends[0].Name)
	assert.Equal(t, "ninja", view.Core.Depends[1].Name)
}

func TestLoadStatusDB_WithFeatures(t *testing.T) {
	root := t.TempDir()
	pkgDir := filepath.Join(root, "zlib")
	require.NoError(t, os.MkdirAll(filepath.Join(pkgDir, "features", "tools"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(pkgDir, "version"), []byte("1.0\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(pkgDir, "feature-list"), []byte("tools\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(pkgDir, "features", "tools", "depends"), []byte("cmake\n"), 0o644))

	db, err := LoadStatusDB(root, "x64-linux")
	require.NoError(t, err)

	view := db.Get(PackageSpec{Name: "zlib", Triplet: "x64-linux"})
	require.NotNil(t, view)
	require.Len(t, view.Features, 1)
	assert.Equal(t, []string{"tools"}, view.FeatureNames())
	require.Len(t, view.Features[0].Depends, 1)
	assert.Equal(t, "cmake", view.Features[0].Depends[0].Name)
}

func TestParseDepToken(t *testing.T) {
	name, op, version, optional, rebuild, makeDep := parseDepToken("cmake>=3.20 optional rebuild")
	assert.Equal(t, "cmake", name)
	assert.Equal(t, ">=", op)
	assert.Equal(t, "3.20", version)
	assert.True(t, optional)
	assert.True(t, rebuild)
	assert.False(t, makeDep)
}

func TestParseDepToken_Bare(t *testing.T) {
	name, op, version, _, _, _ := parseDepToken("ninja")
	assert.Equal(t, "ninja", name)
	assert.Empty(t, op)
	assert.Empty(t, version)
}
