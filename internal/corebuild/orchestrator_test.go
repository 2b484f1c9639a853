package corebuild

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeExecutable(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o755))
}

func newTestOrchestratorConfig(t *testing.T) (OrchestratorConfig, string) {
	root := t.TempDir()

	helperPath := filepath.Join(root, "helper.sh")
	writeExecutable(t, helperPath, "#!/bin/sh\n"+
		"echo "+TripletFlagGUID+"\n"+
		"echo VCPKG_TARGET_ARCHITECTURE=x64\n"+
		"echo VCPKG_CMAKE_SYSTEM_NAME=Linux\n"+
		"echo VCPKG_BUILD_TYPE=release\n")

	buildToolPath := filepath.Join(root, "build.sh")
	writeExecutable(t, buildToolPath, "#!/bin/sh\n"+
		"cat > BUILD_INFO <<'EOF'\n"+
		"CRTLinkage: dynamic\n"+
		"LibraryLinkage: dynamic\n"+
		"Version: 1.3.1\n"+
		"EOF\n")

	tripletDir := filepath.Join(root, "triplets")
	writeFile(t, filepath.Join(tripletDir, "x64-linux.triplet"), "set(VCPKG_TARGET_ARCHITECTURE x64)\n")

	portDir := filepath.Join(root, "ports")
	writeFile(t, filepath.Join(portDir, "zlib", "build"), "build recipe\n")

	cfg := &Config{
		PortDir:       portDir,
		TripletDir:    tripletDir,
		BuildtreesDir: filepath.Join(root, "buildtrees"),
		PackagesDir:   filepath.Join(root, "packages"),
		DownloadsDir:  filepath.Join(root, "downloads"),
		Concurrency:   2,
	}

	cache := NewBinaryCache(filepath.Join(root, "cache", "archives"), filepath.Join(root, "cache", "archives", "fail"), nil, &BufferingReporter{})

	return OrchestratorConfig{
		Cfg:              cfg,
		StatusDB:         NewStatusDB(),
		Cache:            cache,
		Queue:            NewJobQueue(&BufferingReporter{}),
		Reporter:         &BufferingReporter{},
		HelperScriptPath: helperPath,
		BuildToolPath:    buildToolPath,
		CmakeToolVersion: "3.27.0",
	}, root
}

func zlibInstallAction() *InstallPlanAction {
	scf := &SourceControlFile{Core: CoreParagraph{Name: "zlib", Version: "1.3.1"}}
	return &InstallPlanAction{
		Spec:        specOf("zlib"),
		FeatureList: map[string]bool{FeatureCore: true},
		PlanType:    PlanBuildAndInstall,
		RequestType: RequestUserRequested,
		BuildAction: &BuildActionInfo{SCF: scf},
	}
}

func TestOrchestrator_Run_CascadesOnMissingDependency(t *testing.T) {
	cfg, _ := newTestOrchestratorConfig(t)
	o := NewOrchestrator(cfg)

	action := zlibInstallAction()
	action.ComputedDependencies = []PackageSpec{specOf("missing-dep")}

	result, err := o.Run(action)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCascadedDueToMissingDependencies, result.Outcome)
	require.Len(t, result.MissingFspecs, 1)
	assert.Equal(t, "missing-dep", result.MissingFspecs[0].Name)
}

func TestOrchestrator_Run_FullBuildSucceedsAndIsCached(t *testing.T) {
	cfg, _ := newTestOrchestratorConfig(t)
	o := NewOrchestrator(cfg)

	action := zlibInstallAction()
	result, err := o.Run(action)
	require.NoError(t, err)
	require.Equal(t, OutcomeSucceeded, result.Outcome)
	require.NotNil(t, result.BinaryControlFile)
	assert.Equal(t, "zlib", result.BinaryControlFile.Core.Name)

	require.NotNil(t, action.Abi, "a complete ABI must produce a tag")

	// A second orchestrator run for the same action must now hit the cache
	// instead of invoking the build tool again.
	o2 := NewOrchestrator(cfg)
	action2 := zlibInstallAction()
	result2, err := o2.Run(action2)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSucceeded, result2.Outcome)
}

func TestOrchestrator_Run_BuildFailurePublishesTombstone(t *testing.T) {
	cfg, _ := newTestOrchestratorConfig(t)
	writeExecutable(t, cfg.BuildToolPath, "#!/bin/sh\nexit 1\n")
	o := NewOrchestrator(cfg)

	action := zlibInstallAction()
	result, err := o.Run(action)
	require.NoError(t, err)
	assert.Equal(t, OutcomeBuildFailed, result.Outcome)
	require.NotNil(t, action.Abi)
	assert.True(t, cfg.Cache.TombstoneExists(action.Abi.Tag))
}

func TestOrchestrator_Run_TombstoneShortCircuitsRetry(t *testing.T) {
	cfg, _ := newTestOrchestratorConfig(t)
	cfg.FailOnTombstone = true
	writeExecutable(t, cfg.BuildToolPath, "#!/bin/sh\nexit 1\n")

	o := NewOrchestrator(cfg)
	action := zlibInstallAction()
	first, err := o.Run(action)
	require.NoError(t, err)
	assert.Equal(t, OutcomeBuildFailed, first.Outcome)

	second, err := o.Run(zlibInstallAction())
	require.NoError(t, err)
	assert.Equal(t, OutcomeBuildFailed, second.Outcome, "a known tombstone must short-circuit without rerunning the build tool")
}

func TestOrchestrator_PreBuildInfoMemoizedPerTriplet(t *testing.T) {
	cfg, _ := newTestOrchestratorConfig(t)
	o := NewOrchestrator(cfg)

	first, err := o.preBuildInfoFor("x64-linux")
	require.NoError(t, err)
	second, err := o.preBuildInfoFor("x64-linux")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Len(t, o.preBuildCache, 1)
}

func TestOrchestrator_RemoteUploadFailureDoesNotBlockLocalHit(t *testing.T) {
	cfg, root := newTestOrchestratorConfig(t)

	remoteCfg := &Config{
		RemoteFeedURL: "http://127.0.0.1:1",
		Values: map[string]string{
			"R2_ACCESS_KEY_ID":     "key",
			"R2_SECRET_ACCESS_KEY": "secret",
			"R2_BUCKET_NAME":       "portcraft-cache",
		},
	}
	feed, err := NewRemoteFeed(remoteCfg)
	require.NoError(t, err)
	require.NotNil(t, feed)

	cfg.RemoteFeed = feed
	cfg.Nuget = NewNugetCache(filepath.Join(root, "cache", "archives.nuget"))

	o := NewOrchestrator(cfg)
	action := zlibInstallAction()
	result, err := o.Run(action)
	require.NoError(t, err)
	require.Equal(t, OutcomeSucceeded, result.Outcome)

	entries, err := os.ReadDir(cfg.Nuget.Dir)
	require.NoError(t, err)
	require.NotEmpty(t, entries, "the synchronous atomic publish must land before the async upload is even posted")

	// The background upload to an unreachable endpoint fails, but a failed
	// task only produces a warning; JoinAll never turns that into an error, so it
	// can never retroactively invalidate the cache entry just published.
	assert.NoError(t, cfg.Queue.JoinAll())
}

func TestOrchestrator_DependencyAbis_SkipsUninstalledDeps(t *testing.T) {
	cfg, _ := newTestOrchestratorConfig(t)
	cfg.StatusDB.Put(&InstalledPackageView{Core: BinaryParagraph{Spec: specOf("zlib"), Abi: "abitag123"}})
	o := NewOrchestrator(cfg)

	action := zlibInstallAction()
	action.ComputedDependencies = []PackageSpec{specOf("zlib"), specOf("not-installed")}

	entries := o.dependencyAbis(action)
	require.Len(t, entries, 1)
	assert.Equal(t, "zlib:x64-linux", entries[0].Key)
	assert.Equal(t, "abitag123", entries[0].Value)
}
