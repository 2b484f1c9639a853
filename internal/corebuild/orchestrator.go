package corebuild

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
)

// OrchestratorConfig bundles everything the Build Orchestrator needs beyond
// the action itself, grounded on internal/hokuto/build.go's pkgBuild
// signature (package name, *Config, executor, options bundled together)
// generalized to spec.md §4.5's numbered steps.
type OrchestratorConfig struct {
	Cfg              *Config
	StatusDB         *StatusDB
	Cache            *BinaryCache
	Nuget            *NugetCache
	RemoteFeed       *RemoteFeed
	Queue            *JobQueue
	Reporter         Reporter
	HelperScriptPath string
	BuildToolPath    string
	CmakeToolVersion string
	FailOnTombstone  bool
	CleanBuildtrees  bool
	HeadVersion      bool
}

// Orchestrator drives spec.md §4.5's per-action pipeline: cascade guard,
// dependency ABI assembly, PreBuildInfo memoization, cache lookup, build,
// post-build lint, publish.
type Orchestrator struct {
	cfg OrchestratorConfig

	preBuildMu    sync.Mutex
	preBuildCache map[string]PreBuildInfo // triplet -> memoized inspection result
}

func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	return &Orchestrator{cfg: cfg, preBuildCache: make(map[string]PreBuildInfo)}
}

// Run executes one BUILD_AND_INSTALL action end to end, per spec.md §4.5.
func (o *Orchestrator) Run(action *InstallPlanAction) (*BuildResult, error) {
	if missing := o.requiredFspecs(action); len(missing) > 0 {
		return &BuildResult{Spec: action.Spec, Outcome: OutcomeCascadedDueToMissingDependencies, MissingFspecs: missing}, nil
	}

	depAbis := o.dependencyAbis(action)

	preBuildInfo, err := o.preBuildInfoFor(action.Spec.Triplet)
	if err != nil {
		return nil, fmt.Errorf("failed to compute pre-build info for triplet %s: %w", action.Spec.Triplet, err)
	}

	portDir := filepath.Join(o.cfg.Cfg.PortDir, action.Spec.Name)
	buildtreeDir := filepath.Join(o.cfg.Cfg.BuildtreesDir, action.Spec.Name)
	packageDir := filepath.Join(o.cfg.Cfg.PackagesDir, fmt.Sprintf("%s_%s", action.Spec.Name, action.Spec.Triplet))

	abiInputs := AbiComputeInputs{
		DependencyAbis:   depAbis,
		CmakeToolVersion: o.cfg.CmakeToolVersion,
		PortDir:          portDir,
		HelperScriptPath: o.cfg.HelperScriptPath,
		PreBuildInfo:     preBuildInfo,
		HeadVersion:      o.cfg.HeadVersion,
		BuildtreesDir:    o.cfg.Cfg.BuildtreesDir,
	}
	tag, err := ComputeAbiTag(action, abiInputs, o.cfg.Reporter)
	if err != nil {
		return nil, err
	}
	action.Abi = tag

	if tag != nil {
		nugetID := fmt.Sprintf("%s_%s", action.Spec.Name, action.Spec.Triplet)

		if o.cfg.Cache.CheckTombstone(tag.Tag, o.cfg.FailOnTombstone) {
			return &BuildResult{Spec: action.Spec, Outcome: OutcomeBuildFailed}, nil
		}

		if hit, err := o.cfg.Cache.Lookup(tag.Tag, nugetID, packageDir); err != nil {
			return nil, err
		} else if hit != nil {
			bcf, err := reloadBinaryControlFile(packageDir)
			if err != nil {
				return nil, err
			}
			return &BuildResult{Spec: action.Spec, Outcome: OutcomeSucceeded, BinaryControlFile: bcf}, nil
		}
	}

	if err := os.MkdirAll(packageDir, 0o755); err != nil {
		return nil, err
	}
	if err := o.runBuildTool(action, preBuildInfo, portDir, buildtreeDir); err != nil {
		if tag != nil {
			_ = o.cfg.Cache.PublishTombstone(tag.Tag, buildtreeDir)
		}
		return &BuildResult{Spec: action.Spec, Outcome: OutcomeBuildFailed}, nil
	}

	buildInfo, err := readBuildInfo(filepath.Join(buildtreeDir, "BUILD_INFO"))
	if err != nil {
		return nil, fmt.Errorf("failed to read BUILD_INFO: %w", err)
	}
	if errCount := postBuildLint(buildInfo, packageDir); errCount > 0 {
		if tag != nil {
			_ = o.cfg.Cache.PublishTombstone(tag.Tag, buildtreeDir)
		}
		return &BuildResult{Spec: action.Spec, Outcome: OutcomePostBuildChecksFailed}, nil
	}

	bcf := combineBinaryControlFile(action)
	if err := writeBinaryControlFile(filepath.Join(packageDir, "CONTROL"), bcf); err != nil {
		return nil, fmt.Errorf("failed to write binary control file: %w", err)
	}

	if tag != nil {
		if err := o.publish(action, tag, packageDir, buildInfo); err != nil {
			o.cfg.Reporter.Warn("cache publish failed for %s: %v", action.Spec, err)
		}
	}

	if o.cfg.CleanBuildtrees {
		cleanBuildtreeExceptLogs(buildtreeDir)
	}

	return &BuildResult{Spec: action.Spec, Outcome: OutcomeSucceeded, BinaryControlFile: bcf}, nil
}

// requiredFspecs implements spec.md §4.5 step 1: features of the current
// package's dependencies not yet installed. This is a guard against a
// planner bug, not an expected path.
func (o *Orchestrator) requiredFspecs(action *InstallPlanAction) []PackageSpec {
	var missing []PackageSpec
	for _, dep := range action.ComputedDependencies {
		if o.cfg.StatusDB.Get(dep) == nil {
			missing = append(missing, dep)
		}
	}
	return missing
}

func (o *Orchestrator) dependencyAbis(action *InstallPlanAction) []AbiEntry {
	var entries []AbiEntry
	for _, dep := range action.ComputedDependencies {
		view := o.cfg.StatusDB.Get(dep)
		if view == nil {
			continue
		}
		entries = append(entries, AbiEntry{Key: dep.String(), Value: view.Core.Abi})
	}
	return entries
}

// preBuildInfoFor implements spec.md §4.5 step 3's memoization: computed
// once per triplet for the process.
func (o *Orchestrator) preBuildInfoFor(triplet string) (PreBuildInfo, error) {
	o.preBuildMu.Lock()
	defer o.preBuildMu.Unlock()

	if info, ok := o.preBuildCache[triplet]; ok {
		return info, nil
	}

	tripletFile := filepath.Join(o.cfg.Cfg.TripletDir, triplet+".triplet")
	info, err := InspectTriplet(o.cfg.HelperScriptPath, tripletFile)
	if err != nil {
		return PreBuildInfo{}, err
	}

	tag, err := ComputeTripletAbiTag(tripletFile, info.ExternalToolchainFile, bundledToolchainFiles, info.CmakeSystemName)
	if err != nil {
		return PreBuildInfo{}, err
	}
	info.TripletAbiTag = tag

	o.preBuildCache[triplet] = info
	return info, nil
}

// bundledToolchainFiles selects a built-in toolchain file by
// VCPKG_CMAKE_SYSTEM_NAME when a triplet doesn't chainload an external one.
// Empty until a real cross-compiling toolchain is vendored alongside the
// port tree; ComputeTripletAbiTag treats an empty result the same as "no
// toolchain file" and falls back to the triplet-file hash alone.
var bundledToolchainFiles = map[string]string{}

// runBuildTool implements spec.md §4.5 step 5: invoke the build tool with a
// fixed environment variable set, grounded on internal/hokuto/build.go's
// env-slice-then-exec.Command convention.
func (o *Orchestrator) runBuildTool(action *InstallPlanAction, info PreBuildInfo, portDir, buildtreeDir string) error {
	if err := os.MkdirAll(buildtreeDir, 0o755); err != nil {
		return err
	}

	features := sortedKeys(action.FeatureList)
	allFeatures := features
	if action.BuildAction != nil && action.BuildAction.SCF != nil {
		var all []string
		all = append(all, FeatureCore)
		for _, fp := range action.BuildAction.SCF.Features {
			all = append(all, fp.Name)
		}
		allFeatures = all
	}

	env := append([]string(nil), os.Environ()...)
	env = append(env,
		"CMD=BUILD",
		"PORT="+action.Spec.Name,
		"CURRENT_PORT_DIR="+portDir,
		"TARGET_TRIPLET="+action.Spec.Triplet,
		"VCPKG_PLATFORM_TOOLSET="+info.PlatformToolset,
		"VCPKG_USE_HEAD_VERSION="+boolEnv(o.cfg.HeadVersion),
		"DOWNLOADS="+o.cfg.Cfg.DownloadsDir,
		"_VCPKG_NO_DOWNLOADS="+boolEnv(false),
		"_VCPKG_DOWNLOAD_TOOL=default",
		"FEATURES="+joinSemicolon(features),
		"ALL_FEATURES="+joinSemicolon(allFeatures),
		"VCPKG_CONCURRENCY="+strconv.Itoa(o.cfg.Cfg.Concurrency),
	)
	if !o.cfg.Cfg.ForceSystemBins {
		if git, err := exec.LookPath("git"); err == nil {
			env = append(env, "GIT="+git)
		}
	}

	logPath := filepath.Join(buildtreeDir, action.Spec.Triplet+".log")
	logFile, err := os.Create(logPath)
	if err != nil {
		return err
	}
	defer logFile.Close()

	cmd := exec.Command(o.cfg.BuildToolPath)
	cmd.Env = env
	cmd.Dir = buildtreeDir
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	return cmd.Run()
}

func boolEnv(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func joinSemicolon(xs []string) string {
	out := ""
	for i, x := range xs {
		if i > 0 {
			out += ";"
		}
		out += x
	}
	return out
}

// publish implements spec.md §4.4 "Publish on success".
func (o *Orchestrator) publish(action *InstallPlanAction, tag *AbiTagAndFile, packageDir string, buildInfo BuildInfo) error {
	shareDir := filepath.Join(packageDir, "share", action.Spec.Name)
	if err := os.MkdirAll(shareDir, 0o755); err != nil {
		return err
	}
	abiData, err := os.ReadFile(tag.FilePath)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(shareDir, "vcpkg_abi_info.txt"), abiData, 0o644); err != nil {
		return err
	}

	if o.cfg.RemoteFeed != nil {
		nugetID := fmt.Sprintf("%s_%s", action.Spec.Name, action.Spec.Triplet)
		version := NugetVersion(buildInfo.Version, tag.Tag)
		nuspec := RenderNuspec(nugetID, version, action.Spec.Name, action.Spec.Name, "", packageDir)
		// Placeholder for the external packaging tool (spec.md §1's nuget.exe
		// collaborator, which zips packageDir plus this nuspec into a real
		// .nupkg). Stands in with the rendered nuspec XML as the cache/feed
		// payload so AtomicPublish and the remote upload queue still
		// round-trip real bytes end to end; see DESIGN.md.
		nupkgBytes := []byte(nuspec)

		localPath, err := o.cfg.Nuget.AtomicPublish(nugetID, version, nupkgBytes)
		if err != nil {
			return err
		}

		key := fmt.Sprintf("%s.%s.nupkg", nugetID, version)
		return o.cfg.Queue.Post(func() error {
			data, err := os.ReadFile(localPath)
			if err != nil {
				return err
			}
			return o.cfg.RemoteFeed.UploadNupkg(context.Background(), key, data, false)
		}, fmt.Sprintf("upload of %s", key))
	}

	return o.cfg.Cache.PublishArchive(tag.Tag, packageDir)
}

func cleanBuildtreeExceptLogs(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".log" {
			continue
		}
		_ = os.RemoveAll(filepath.Join(dir, e.Name()))
	}
}
