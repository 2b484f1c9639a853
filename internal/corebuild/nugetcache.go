package corebuild

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// NugetCache implements the local archives.nuget/<id>.<version>.nupkg
// mirror from spec.md §6, grounded on internal/hokuto/fetch.go's
// tryRemoveCachedFile rename-or-delete pattern and the atomic
// rename-with-.tmp-swing-file convention used throughout archive.go/build.go
// for cache publication.
type NugetCache struct {
	Dir string
}

func NewNugetCache(dir string) *NugetCache {
	return &NugetCache{Dir: dir}
}

var nugetVersionRe = regexp.MustCompile(`^v?(\d+\.\d+)(\.(\d+))?.*`)

// NugetVersion implements spec.md §6's "NuGet version scheme": given a
// package version string and an ABI tag, yields major.minor(.patch)-<abi>,
// defaulting to 0.0.0-<abi> when the version string doesn't match.
func NugetVersion(pkgVersion, abiTag string) string {
	m := nugetVersionRe.FindStringSubmatch(pkgVersion)
	if m == nil {
		return fmt.Sprintf("0.0.0-%s", abiTag)
	}
	majorMinor := m[1]
	patch := m[3]
	if patch == "" {
		patch = "0"
	}
	return fmt.Sprintf("%s.%s-%s", majorMinor, patch, abiTag)
}

// Path returns the local mirror path for a given nuget id/version pair.
func (c *NugetCache) Path(id, version string) string {
	return filepath.Join(c.Dir, fmt.Sprintf("%s.%s.nupkg", id, version))
}

// Promote atomically moves a restored .nupkg file (src, typically inside a
// package's staging directory) into the local mirror: rename if the target
// is absent, delete the source if the target is already present — per
// spec.md §4.4 step 1's "move it aside ... (rename if target absent, delete
// if already present)".
func (c *NugetCache) Promote(src string) error {
	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return err
	}
	dest := filepath.Join(c.Dir, filepath.Base(src))
	if _, err := os.Stat(dest); err == nil {
		return os.Remove(src)
	}
	return os.Rename(src, dest)
}

// AtomicPublish writes nupkgBytes to a .tmp swing file under Dir, then
// renames it into place at id/version, per spec.md §4.4 step 3(a). Runs
// synchronously, before the caller ever posts a Background Job Queue
// upload task — see DESIGN.md's Open Question decision on async upload
// ordering.
func (c *NugetCache) AtomicPublish(id, version string, nupkgBytes []byte) (string, error) {
	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return "", err
	}
	dest := c.Path(id, version)
	tmp := dest + ".tmp"
	if err := os.WriteFile(tmp, nupkgBytes, 0o644); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return "", err
	}
	return dest, nil
}

// NuspecTemplate is the fixed XML skeleton from spec.md §6, substituted by
// plain string replacement (no XML templating library: the placeholder set
// is small and fixed, and the teacher's own templating throughout
// manifest.go/meta.go is plain strings.Replace, not a template engine).
const NuspecTemplate = `<?xml version="1.0" encoding="utf-8"?>
<package xmlns="http://schemas.microsoft.com/packaging/2013/05/nuspec.xsd">
  <metadata>
    <id>@NUGET_ID@</id>
    <version>@VERSION@</version>
    <authors>portcraft</authors>
    <description>@DESCRIPTION@</description>
    <summary>@SUMMARY@</summary>
    @METADATA@
  </metadata>
  <files>
    <file src="@PACKAGE_DIR@\**" target="." />
  </files>
</package>
`

func RenderNuspec(nugetID, version, summary, description, metadata, packageDir string) string {
	r := strings.NewReplacer(
		"@NUGET_ID@", nugetID,
		"@VERSION@", version,
		"@SUMMARY@", summary,
		"@DESCRIPTION@", description,
		"@METADATA@", metadata,
		"@PACKAGE_DIR@", packageDir,
	)
	return r.Replace(NuspecTemplate)
}
