package corebuild

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTripletInspection_Valid(t *testing.T) {
	output := "some shell banner noise\n" +
		TripletFlagGUID + "\n" +
		"VCPKG_TARGET_ARCHITECTURE=x64\n" +
		"VCPKG_CMAKE_SYSTEM_NAME=Linux\n" +
		"VCPKG_BUILD_TYPE=release\n" +
		"VCPKG_CHAINLOAD_TOOLCHAIN_FILE=\n"

	info, err := ParseTripletInspection(output)
	require.NoError(t, err)
	assert.Equal(t, "x64", info.TargetArchitecture)
	assert.Equal(t, "Linux", info.CmakeSystemName)
	assert.Equal(t, BuildTypeRelease, info.BuildType)
	assert.Empty(t, info.ExternalToolchainFile)
}

func TestParseTripletInspection_MissingGUIDFails(t *testing.T) {
	_, err := ParseTripletInspection("VCPKG_TARGET_ARCHITECTURE=x64\n")
	assert.Error(t, err)
}

func TestParseTripletInspection_UnrecognizedKeyFails(t *testing.T) {
	output := TripletFlagGUID + "\nVCPKG_SOME_UNKNOWN_VAR=1\n"
	_, err := ParseTripletInspection(output)
	assert.Error(t, err)
}

func TestParseTripletInspection_InvalidBuildTypeFails(t *testing.T) {
	output := TripletFlagGUID + "\nVCPKG_BUILD_TYPE=fastbuild\n"
	_, err := ParseTripletInspection(output)
	assert.Error(t, err)
}

func TestParseTripletInspection_LinesBeforeGUIDIgnored(t *testing.T) {
	output := "VCPKG_TARGET_ARCHITECTURE=should-be-ignored\n" + TripletFlagGUID + "\nVCPKG_TARGET_ARCHITECTURE=x86\n"
	info, err := ParseTripletInspection(output)
	require.NoError(t, err)
	assert.Equal(t, "x86", info.TargetArchitecture)
}

func TestParseTripletInspection_EmptyBuildTypeIsUnspecified(t *testing.T) {
	output := TripletFlagGUID + "\nVCPKG_BUILD_TYPE=\n"
	info, err := ParseTripletInspection(output)
	require.NoError(t, err)
	assert.Equal(t, BuildTypeUnspecified, info.BuildType)
}
