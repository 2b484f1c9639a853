package corebuild

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// SourceFetcher downloads a port's upstream sources into a shared downloads
// directory, grounded on internal/hokuto/fetch.go's downloadFileWithOptions
// fallback chain (curl, then wget, then a native Go HTTP client), but
// stripped of that file's embedded CA bundle and colorized curl passthrough
// in favor of routing everything through a Reporter (report.go), per
// SPEC_FULL.md's ambient-stack design.
type SourceFetcher struct {
	DownloadsDir string
	Reporter     Reporter
	httpClient   *http.Client
}

func NewSourceFetcher(downloadsDir string, r Reporter) *SourceFetcher {
	return &SourceFetcher{
		DownloadsDir: downloadsDir,
		Reporter:     r,
		httpClient:   &http.Client{Timeout: 300 * time.Second},
	}
}

// FetchAll downloads every entry named in a port's sources manifest that
// isn't already present under DownloadsDir, one at a time, per SPEC_FULL.md
// "Supplemented features" #1. Git-prefixed entries never reach it
// (ParseSourcesManifest drops them): cloning a
// VCS checkout is out of scope for the binary-cache-centric core this
// module implements. A downloaded .tar.xz is unpacked into
// DownloadsDir/extracted/<filename-without-suffix> so later build steps
// never need to know the upstream archive's compression format.
func (f *SourceFetcher) FetchAll(sources []SourceManifestEntry) error {
	for _, src := range sources {
		dest := filepath.Join(f.DownloadsDir, src.Filename)
		alreadyFetched := false
		if _, err := os.Stat(dest); err == nil {
			alreadyFetched = true
		} else if err := f.fetchOne(src.URL, dest); err != nil {
			return fmt.Errorf("failed to fetch %s: %w", src.URL, err)
		}

		if strings.HasSuffix(src.Filename, ".tar.xz") {
			extractDir := filepath.Join(f.DownloadsDir, "extracted", strings.TrimSuffix(src.Filename, ".tar.xz"))
			if _, err := os.Stat(extractDir); err == nil {
				continue
			}
			if alreadyFetched && f.Reporter != nil {
				f.Reporter.Debugf("extracting cached %s", src.Filename)
			}
			if err := extractTarXZ(dest, extractDir); err != nil {
				return fmt.Errorf("failed to extract %s: %w", src.Filename, err)
			}
		}
	}
	return nil
}

// fetchOne downloads url into dest under an exclusive flock on dest+".lock",
// so a background prefetch and a foreground build never race on the same
// file, mirroring internal/hokuto/fetch.go's downloadFileWithOptions.
func (f *SourceFetcher) fetchOne(url, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}

	lockPath := dest + ".lock"
	lockFile, err := os.Create(lockPath)
	if err != nil {
		return fmt.Errorf("failed to create lock file: %w", err)
	}
	defer lockFile.Close()

	if err := unix.Flock(int(lockFile.Fd()), unix.LOCK_EX); err != nil {
		return fmt.Errorf("failed to acquire download lock: %w", err)
	}
	defer unix.Flock(int(lockFile.Fd()), unix.LOCK_UN)

	if _, err := os.Stat(dest); err == nil {
		// another process finished the download while we waited for the lock.
		_ = os.Remove(lockPath)
		return nil
	}
	defer func() {
		if _, err := os.Stat(dest); err == nil {
			_ = os.Remove(lockPath)
		}
	}()

	if f.Reporter != nil {
		f.Reporter.Status("fetching %s", url)
	}

	if _, err := exec.LookPath("curl"); err == nil {
		cmd := exec.Command("curl", "-L", "--fail", "-sS", "-o", dest, url)
		if err := cmd.Run(); err == nil {
			return nil
		}
		if f.Reporter != nil {
			f.Reporter.Debugf("curl failed for %s, falling back to wget", url)
		}
	}

	if _, err := exec.LookPath("wget"); err == nil {
		cmd := exec.Command("wget", "-q", "-O", dest, url)
		if err := cmd.Run(); err == nil {
			return nil
		}
		if f.Reporter != nil {
			f.Reporter.Debugf("wget failed for %s, falling back to native http client", url)
		}
	}

	return f.fetchNative(url, dest)
}

func (f *SourceFetcher) fetchNative(url, dest string) error {
	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create destination file %s: %w", dest, err)
	}
	defer out.Close()

	resp, err := f.httpClient.Get(url)
	if err != nil {
		return fmt.Errorf("http get failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed with status: %s", resp.Status)
	}

	if _, err := io.Copy(out, resp.Body); err != nil {
		return fmt.Errorf("failed to write %s: %w", dest, err)
	}
	return nil
}
