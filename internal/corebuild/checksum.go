package corebuild

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
	"lukechampine.com/blake3"
)

// hashBlake3File hashes a file's contents, preferring a system b3sum binary
// and falling back to the embedded Go implementation — grounded exactly on
// internal/hokuto/checksum.go's hashString fallback chain. Used for source
// checksum verification (SPEC_FULL.md "Supplemented features" #1): the ABI
// Tag Computer (abi.go) always uses SHA-1 per spec.md §4.3 and never calls
// this.
func hashBlake3File(path string) (string, error) {
	if hasB3sum() {
		if sum, err := runB3sumFile(path); err == nil {
			return sum, nil
		}
	}
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := blake3.New(32, nil)
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

func hasB3sum() bool {
	_, err := exec.LookPath("b3sum")
	return err == nil
}

func runB3sumFile(path string) (string, error) {
	cmd := exec.Command("b3sum", path)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return "", err
	}
	fields := strings.Fields(out.String())
	if len(fields) == 0 {
		return "", fmt.Errorf("b3sum produced no output")
	}
	return fields[0], nil
}

// SourceManifestEntry is one parsed line of a port's "sources" file: a
// fetch URL (or files/ relative path) and the filename it resolves to.
type SourceManifestEntry struct {
	URL      string
	Filename string
}

// ParseSourcesManifest parses the blank-line-free "sources" file format
// (one URL per line, "git+" prefix lines denoting a VCS checkout rather
// than a downloadable file, per spec.md's source-fetch collaborator being
// named but not specified). Grounded on
// internal/hokuto/checksum.go's verifyOrCreateChecksums sources-parsing
// loop.
func ParseSourcesManifest(data []byte) []SourceManifestEntry {
	var entries []SourceManifestEntry
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "git+") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		src := fields[0]
		entries = append(entries, SourceManifestEntry{URL: src, Filename: filepath.Base(src)})
	}
	return entries
}

// ChecksumSidecar is the parsed "checksums" sidecar file: filename -> digest.
type ChecksumSidecar map[string]string

func ParseChecksumSidecar(data []byte) ChecksumSidecar {
	sidecar := ChecksumSidecar{}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		parts := strings.Fields(strings.TrimSpace(scanner.Text()))
		if len(parts) >= 2 {
			digest := parts[0]
			filename := strings.Join(parts[1:], " ")
			sidecar[filename] = digest
		}
	}
	return sidecar
}

func (c ChecksumSidecar) Write(path string) error {
	var sb strings.Builder
	for filename, digest := range c {
		fmt.Fprintf(&sb, "%s  %s\n", digest, filename)
	}
	return os.WriteFile(path, []byte(sb.String()), 0o644)
}

// ChecksumMismatch describes one file whose on-disk digest disagrees with
// the recorded sidecar entry.
type ChecksumMismatch struct {
	Filename string
	Expected string
	Actual   string
}

// VerifySourceChecksums checks every file named in sources against the
// given checksums sidecar, using the downloaded copy under
// sourcesDir. Missing sidecar entries are not mismatches (a new source
// file the sidecar has never seen) — callers decide whether to populate
// them. Grounded on internal/hokuto/checksum.go's verifyOrCreateChecksums,
// split here into pure verification (what to do on mismatch is left to the
// caller; the CLI's checksum command reports the mismatches and fails).
func VerifySourceChecksums(sourcesDir string, sources []SourceManifestEntry, sidecar ChecksumSidecar) ([]ChecksumMismatch, error) {
	var mismatches []ChecksumMismatch
	for _, src := range sources {
		expected, ok := sidecar[src.Filename]
		if !ok {
			continue
		}
		path := filepath.Join(sourcesDir, src.Filename)
		if _, err := os.Stat(path); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		actual, err := hashBlake3File(path)
		if err != nil {
			return nil, err
		}
		if actual != expected {
			mismatches = append(mismatches, ChecksumMismatch{Filename: src.Filename, Expected: expected, Actual: actual})
		}
	}
	return mismatches, nil
}

// withSharedDownloadLock runs fn while holding a shared flock on the
// sidecar ".lock" file of a download target, so fn waits for any exclusive
// holder (fetchOne's download) to finish; shared holders do not exclude
// each other. Grounded on
// internal/hokuto/checksum.go's withSharedDownloadLock.
func withSharedDownloadLock(lockBase string, fn func() error) error {
	lockPath := lockBase + ".lock"
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := unix.Flock(int(f.Fd()), unix.LOCK_SH); err != nil {
		return err
	}
	defer unix.Flock(int(f.Fd()), unix.LOCK_UN)
	return fn()
}
