package corebuild

import (
	"fmt"
	"os"
	"path/filepath"
)

// CacheHit describes a successful lookup, recording how the binary landed
// in the package directory. Orchestrator.Run reloads the binary-control
// file from disk for either source.
type CacheHit struct {
	Source string // "nuget" or "archive"
}

// BinaryCache implements spec.md §4.4's identity scheme and lookup order,
// grounded on internal/hokuto/archive.go (compression) and
// internal/hokuto/pkgdb.go's cached-tarball-reuse idea, generalized from a
// single flat BinDir to the two-hex-char fan-out this spec requires.
type BinaryCache struct {
	ArchivesDir   string
	TombstonesDir string
	Nuget         *NugetCache
	Reporter      Reporter
}

func NewBinaryCache(archivesDir, tombstonesDir string, nuget *NugetCache, r Reporter) *BinaryCache {
	return &BinaryCache{ArchivesDir: archivesDir, TombstonesDir: tombstonesDir, Nuget: nuget, Reporter: r}
}

func archivePathFor(baseDir, tag string) string {
	if len(tag) < 2 {
		return filepath.Join(baseDir, tag, tag+".zip")
	}
	return filepath.Join(baseDir, tag[0:2], tag+".zip")
}

// tombstonePathFor mirrors archivePathFor's two-hex-char fan-out but names a
// .tar.gz, since tombstones stage plain-text build logs rather than a binary
// package tree and gain nothing from zip's per-entry compression table.
func tombstonePathFor(baseDir, tag string) string {
	if len(tag) < 2 {
		return filepath.Join(baseDir, tag, tag+".tar.gz")
	}
	return filepath.Join(baseDir, tag[0:2], tag+".tar.gz")
}

// Lookup implements the three-step order from spec.md §4.4. packageDir is
// the package's install staging directory (<packages>/<name>_<triplet>).
func (c *BinaryCache) Lookup(tag, nugetID, packageDir string) (*CacheHit, error) {
	if c.Nuget != nil {
		nupkgPath := filepath.Join(packageDir, nugetID+".nupkg")
		if _, err := os.Stat(nupkgPath); err == nil {
			if err := c.Nuget.Promote(nupkgPath); err != nil {
				return nil, fmt.Errorf("failed to promote restored nuget package: %w", err)
			}
			if c.Reporter != nil {
				c.Reporter.Status("Using unpacked NuGet package")
			}
			return &CacheHit{Source: "nuget"}, nil
		}
	}

	archivePath := archivePathFor(c.ArchivesDir, tag)
	if _, err := os.Stat(archivePath); err == nil {
		if err := unzipArchive(archivePath, packageDir); err != nil {
			return nil, fmt.Errorf("failed to decompress cached archive %s: %w", archivePath, err)
		}
		if c.Reporter != nil {
			c.Reporter.Status("Using cached binary package")
		}
		return &CacheHit{Source: "archive"}, nil
	}

	if c.Reporter != nil {
		c.Reporter.Status("Could not locate cached archive")
	}
	return nil, nil
}

// TombstoneExists reports whether tag has a recorded build failure.
func (c *BinaryCache) TombstoneExists(tag string) bool {
	_, err := os.Stat(tombstonePathFor(c.TombstonesDir, tag))
	return err == nil
}

// CheckTombstone implements spec.md §4.4's tombstone policy: short-circuit
// to a failed outcome when fail_on_tombstone is set, otherwise warn and let
// the caller continue into a real build attempt.
func (c *BinaryCache) CheckTombstone(tag string, failOnTombstone bool) (shortCircuit bool) {
	if !c.TombstoneExists(tag) {
		return false
	}
	if failOnTombstone {
		return true
	}
	if c.Reporter != nil {
		c.Reporter.Warn("previous build of %s failed; retrying because fail-on-tombstone is not set", tag)
	}
	return false
}

// PublishArchive compresses packageDir and atomically renames it into the
// archive path for tag, per spec.md §4.4 "Publish on success" branch (b). A
// failure here is a warning, never a build failure.
func (c *BinaryCache) PublishArchive(tag, packageDir string) error {
	dest := archivePathFor(c.ArchivesDir, tag)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	tmp := dest + ".tmp"
	if err := zipDirectory(packageDir, tmp); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// PublishTombstone stages every *.log file under buildtreeDir, compresses
// the staging directory, and atomically renames it into the tombstone path,
// per spec.md §4.4 "Publish on failure". A no-op if a tombstone already
// exists for tag.
func (c *BinaryCache) PublishTombstone(tag, buildtreeDir string) error {
	if c.TombstoneExists(tag) {
		return nil
	}

	stagingDir, err := os.MkdirTemp("", "portcraft-tombstone-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(stagingDir)

	if err := copyLogFiles(buildtreeDir, stagingDir); err != nil {
		return err
	}

	dest := tombstonePathFor(c.TombstonesDir, tag)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	tmp := dest + ".tmp"
	if err := gzipTarDirectory(stagingDir, tmp); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

func copyLogFiles(buildtreeDir, stagingDir string) error {
	entries, err := os.ReadDir(buildtreeDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".log" {
			continue
		}
		src := filepath.Join(buildtreeDir, e.Name())
		dst := filepath.Join(stagingDir, e.Name())
		data, err := os.ReadFile(src)
		if err != nil {
			return err
		}
		if err := os.WriteFile(dst, data, 0o644); err != nil {
			return err
		}
	}
	return nil
}
