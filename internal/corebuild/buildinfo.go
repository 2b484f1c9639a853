package corebuild

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// readBuildInfo parses spec.md §6's BUILD_INFO file: a single Key: Value
// paragraph with required CRTLinkage/LibraryLinkage, optional Version, and
// any number of Policy* fields restricted to enabled/disabled.
func readBuildInfo(path string) (BuildInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return BuildInfo{}, &ParseError{Path: path, Err: err}
	}

	paragraphs, err := splitParagraphs(data)
	if err != nil {
		return BuildInfo{}, &ParseError{Path: path, Err: err}
	}
	if len(paragraphs) == 0 {
		return BuildInfo{}, &ParseError{Path: path, Err: fmt.Errorf("empty BUILD_INFO")}
	}
	fields := paragraphs[0]

	info := BuildInfo{Policies: make(map[string]bool)}

	crt, ok := fields["CRTLinkage"]
	if !ok {
		return BuildInfo{}, &ParseError{Path: path, Err: fmt.Errorf("missing required field CRTLinkage")}
	}
	info.CrtLinkage, err = ParseLinkage(crt)
	if err != nil {
		return BuildInfo{}, &ParseError{Path: path, Err: err}
	}

	lib, ok := fields["LibraryLinkage"]
	if !ok {
		return BuildInfo{}, &ParseError{Path: path, Err: fmt.Errorf("missing required field LibraryLinkage")}
	}
	info.LibraryLinkage, err = ParseLinkage(lib)
	if err != nil {
		return BuildInfo{}, &ParseError{Path: path, Err: err}
	}

	info.Version = fields["Version"]

	for key, value := range fields {
		if !strings.HasPrefix(key, "Policy") {
			continue
		}
		switch value {
		case "enabled":
			info.Policies[key] = true
		case "disabled":
			info.Policies[key] = false
		default:
			return BuildInfo{}, &ParseError{Path: path, Err: fmt.Errorf("field %s has invalid value %q: expected enabled or disabled", key, value)}
		}
	}

	return info, nil
}

// postBuildLint runs a minimal structural check over the staged package
// directory and returns the number of violations found, per spec.md §4.5
// step 6. The full lint suite (missing headers, mismatched linkage,
// absolute paths in .pc files, etc.) is out of scope for the core; this
// counts one violation when either linkage is unknown and one when the
// package directory does not exist.
func postBuildLint(info BuildInfo, packageDir string) int {
	if info.CrtLinkage == LinkageUnknown || info.LibraryLinkage == LinkageUnknown {
		return 1
	}
	if _, err := os.Stat(packageDir); err != nil {
		return 1
	}
	return 0
}

// combineBinaryControlFile produces the binary-control paragraph set from
// the source SCF and the built feature set, per spec.md §4.5 step 7.
func combineBinaryControlFile(action *InstallPlanAction) *SourceControlFile {
	if action.BuildAction == nil || action.BuildAction.SCF == nil {
		return nil
	}
	src := action.BuildAction.SCF
	out := &SourceControlFile{Core: src.Core}
	for _, fp := range src.Features {
		if action.FeatureList[fp.Name] {
			out.Features = append(out.Features, fp)
		}
	}
	return out
}

func writeBinaryControlFile(path string, scf *SourceControlFile) error {
	if scf == nil {
		return fmt.Errorf("cannot write nil binary control file")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Source: %s\n", scf.Core.Name)
	fmt.Fprintf(&sb, "Version: %s\n", scf.Core.Version)
	if scf.Core.Description != "" {
		fmt.Fprintf(&sb, "Description: %s\n", scf.Core.Description)
	}
	if len(scf.Core.DefaultFeatures) > 0 {
		fmt.Fprintf(&sb, "Default-Features: %s\n", strings.Join(scf.Core.DefaultFeatures, ", "))
	}
	for _, fp := range scf.Features {
		fmt.Fprintf(&sb, "\nFeature: %s\n", fp.Name)
	}
	return os.WriteFile(path, []byte(sb.String()), 0o644)
}

// reloadBinaryControlFile re-parses a cache-hit package directory's CONTROL
// file, per spec.md §4.5 step 4's "reload the cached binary-control file".
func reloadBinaryControlFile(packageDir string) (*SourceControlFile, error) {
	path := filepath.Join(packageDir, "CONTROL")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	return ParseSourceControlFile("", data)
}
