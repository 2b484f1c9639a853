package corebuild

import (
	"bufio"
	"fmt"
	"os/exec"
	"strings"
)

// TripletFlagGUID is the literal sentinel line that opens the recognized
// portion of a triplet-inspection run's output (spec.md §6). Everything
// before it is noise (shell startup banners, etc.) and is ignored.
const TripletFlagGUID = "c35112b6-d1ba-415b-aa5d-81de856ef8eb"

var tripletKnownKeys = map[string]bool{
	"VCPKG_TARGET_ARCHITECTURE":      true,
	"VCPKG_CMAKE_SYSTEM_NAME":        true,
	"VCPKG_CMAKE_SYSTEM_VERSION":     true,
	"VCPKG_PLATFORM_TOOLSET":         true,
	"VCPKG_VISUAL_STUDIO_PATH":       true,
	"VCPKG_CHAINLOAD_TOOLCHAIN_FILE": true,
	"VCPKG_BUILD_TYPE":               true,
}

// InspectTriplet runs the helper script in triplet-inspection mode and
// parses its output into a PreBuildInfo, per spec.md §6's
// "Triplet-inspection protocol". helperPath is invoked with the triplet
// file path as its sole argument, mirroring internal/hokuto/build.go's
// convention of shelling out to a helper script rather than reimplementing
// its logic in Go.
func InspectTriplet(helperPath, tripletFilePath string) (PreBuildInfo, error) {
	cmd := exec.Command(helperPath, tripletFilePath)
	out, err := cmd.Output()
	if err != nil {
		return PreBuildInfo{}, fmt.Errorf("triplet inspection failed for %s: %w", tripletFilePath, err)
	}
	return ParseTripletInspection(string(out))
}

// ParseTripletInspection implements the parsing half of the protocol
// directly, so it can be exercised by tests without shelling out.
func ParseTripletInspection(output string) (PreBuildInfo, error) {
	var info PreBuildInfo
	scanner := bufio.NewScanner(strings.NewReader(output))

	sawGUID := false
	for scanner.Scan() {
		line := scanner.Text()
		if !sawGUID {
			if strings.TrimSpace(line) == TripletFlagGUID {
				sawGUID = true
			}
			continue
		}
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}

		key := line
		value := ""
		if i := strings.IndexByte(line, '='); i >= 0 {
			key = line[:i]
			value = line[i+1:]
		}

		if !tripletKnownKeys[key] {
			return PreBuildInfo{}, fmt.Errorf("unrecognized triplet inspection variable %q", key)
		}

		switch key {
		case "VCPKG_TARGET_ARCHITECTURE":
			info.TargetArchitecture = value
		case "VCPKG_CMAKE_SYSTEM_NAME":
			info.CmakeSystemName = value
		case "VCPKG_CMAKE_SYSTEM_VERSION":
			info.CmakeSystemVersion = value
		case "VCPKG_PLATFORM_TOOLSET":
			info.PlatformToolset = value
		case "VCPKG_VISUAL_STUDIO_PATH":
			info.VisualStudioPath = value
		case "VCPKG_CHAINLOAD_TOOLCHAIN_FILE":
			info.ExternalToolchainFile = value
		case "VCPKG_BUILD_TYPE":
			switch value {
			case "debug":
				info.BuildType = BuildTypeDebug
			case "release":
				info.BuildType = BuildTypeRelease
			case "":
				info.BuildType = BuildTypeUnspecified
			default:
				return PreBuildInfo{}, fmt.Errorf("invalid VCPKG_BUILD_TYPE %q: expected debug, release, or empty", value)
			}
		}
	}
	if !sawGUID {
		return PreBuildInfo{}, fmt.Errorf("triplet inspection output missing flag guid %s", TripletFlagGUID)
	}
	return info, nil
}
