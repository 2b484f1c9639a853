package corebuild

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// AbiEntry is one (key, value) contribution to an ABI tag.
type AbiEntry struct {
	Key   string
	Value string
}

// AbiComputeInputs bundles everything the ABI Tag Computer needs beyond the
// InstallPlanAction itself (spec.md §4.3).
type AbiComputeInputs struct {
	DependencyAbis    []AbiEntry
	CmakeToolVersion  string
	PortDir           string
	HelperScriptPath  string
	PreBuildInfo      PreBuildInfo
	HeadVersion       bool
	BuildtreesDir     string
	MaxPortFiles      int // 0 means use the spec default of 100
}

const defaultMaxPortFiles = 100

// ComputeAbiTag implements spec.md §4.3. Returns (nil, nil) — not an error —
// when any required entry's value is empty, per the "ABI incomplete"
// semantics in §7: binary caching is silently disabled for this action.
func ComputeAbiTag(action *InstallPlanAction, in AbiComputeInputs, r Reporter) (*AbiTagAndFile, error) {
	var entries []AbiEntry

	entries = append(entries, in.DependencyAbis...)
	entries = append(entries, AbiEntry{Key: "cmake", Value: in.CmakeToolVersion})

	portHashEntries, err := hashPortFiles(in.PortDir, maxPortFiles(in.MaxPortFiles))
	if err != nil {
		return nil, fmt.Errorf("failed to hash port files under %s: %w", in.PortDir, err)
	}
	entries = append(entries, portHashEntries...)

	helperHash, err := sha1HexFile(in.HelperScriptPath)
	if err != nil {
		return nil, fmt.Errorf("failed to hash helper script %s: %w", in.HelperScriptPath, err)
	}
	entries = append(entries, AbiEntry{Key: "vcpkg_fixup_cmake_targets", Value: helperHash})

	entries = append(entries, AbiEntry{Key: "triplet", Value: in.PreBuildInfo.TripletAbiTag})

	featureList := sortedKeys(action.FeatureList)
	entries = append(entries, AbiEntry{Key: "features", Value: strings.Join(featureList, ";")})

	if in.HeadVersion {
		entries = append(entries, AbiEntry{Key: "head", Value: ""})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })

	var missing []string
	for _, e := range entries {
		if e.Value == "" && e.Key != "no_hash_max_portfile" && e.Key != "head" {
			missing = append(missing, e.Key)
		}
	}
	if len(missing) > 0 {
		if r != nil {
			r.Warn("binary caching disabled for %s: missing abi values for %s", action.Spec, strings.Join(missing, ", "))
		}
		return nil, nil
	}

	var sb strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&sb, "%s %s\n", e.Key, e.Value)
	}
	fullAbiInfo := sb.String()

	filePath := filepath.Join(in.BuildtreesDir, action.Spec.Name, action.Spec.Triplet+".vcpkg_abi_info.txt")
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create buildtree dir: %w", err)
	}
	if err := os.WriteFile(filePath, []byte(fullAbiInfo), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write abi info file: %w", err)
	}

	tag, err := sha1HexFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to hash abi info file: %w", err)
	}
	return &AbiTagAndFile{Tag: tag, FilePath: filePath}, nil
}

func maxPortFiles(n int) int {
	if n <= 0 {
		return defaultMaxPortFiles
	}
	return n
}

// hashPortFiles recursively lists regular files under portDir. The whole
// tree is walked before the count is checked; if there are more than
// maxFiles, it returns only the sentinel and hashes none of them (spec.md
// §4.3, point 3). Otherwise it sorts the path list and numbers files
// file_000, file_001, ... mapped to the SHA-1 of their contents, keeping the
// scheme relative-path-agnostic.
func hashPortFiles(portDir string, maxFiles int) ([]AbiEntry, error) {
	var paths []string
	err := filepathWalkRegularFiles(portDir, func(path string) {
		paths = append(paths, path)
	})
	if err != nil {
		return nil, err
	}

	if len(paths) > maxFiles {
		return []AbiEntry{{Key: "no_hash_max_portfile", Value: ""}}, nil
	}

	sort.Strings(paths)
	entries := make([]AbiEntry, 0, len(paths))
	for i, p := range paths {
		h, err := sha1HexFile(p)
		if err != nil {
			return nil, err
		}
		entries = append(entries, AbiEntry{Key: fmt.Sprintf("file_%03d", i), Value: h})
	}
	return entries, nil
}

func filepathWalkRegularFiles(root string, visit func(path string)) error {
	if _, err := os.Stat(root); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return walkDir(root, visit)
}

func walkDir(dir string, visit func(path string)) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		full := filepath.Join(dir, e.Name())
		if e.IsDir() {
			if err := walkDir(full, visit); err != nil {
				return err
			}
			continue
		}
		info, err := e.Info()
		if err != nil {
			return err
		}
		if info.Mode().IsRegular() {
			visit(full)
		}
	}
	return nil
}

func sha1HexFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	h := sha1.Sum(data)
	return hex.EncodeToString(h[:]), nil
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// ComputeTripletAbiTag implements the "triplet" entry's value: the SHA-1 of
// the triplet file, optionally suffixed -<SHA-1> of an external toolchain
// file, or in its absence, a bundled toolchain file selected by
// CmakeSystemName (spec.md §4.3, point 5).
func ComputeTripletAbiTag(tripletFilePath string, externalToolchainFile string, bundledToolchainFiles map[string]string, cmakeSystemName string) (string, error) {
	tripletHash, err := sha1HexFile(tripletFilePath)
	if err != nil {
		return "", err
	}
	if tripletHash == "" {
		return "", nil
	}

	toolchainFile := externalToolchainFile
	if toolchainFile == "" {
		toolchainFile = bundledToolchainFiles[cmakeSystemName]
	}
	if toolchainFile == "" {
		return tripletHash, nil
	}

	toolchainHash, err := sha1HexFile(toolchainFile)
	if err != nil {
		return "", err
	}
	if toolchainHash == "" {
		return tripletHash, nil
	}
	return tripletHash + "-" + toolchainHash, nil
}
