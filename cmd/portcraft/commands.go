package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/portcraft/portcraft/internal/corebuild"
)

func parseSpecs(args []string) ([]corebuild.FeatureSpec, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("expected at least one package spec")
	}
	specs := make([]corebuild.FeatureSpec, 0, len(args))
	for _, a := range args {
		fs, err := corebuild.ParseFeatureSpec(a)
		if err != nil {
			return nil, err
		}
		specs = append(specs, fs)
	}
	return specs, nil
}

func runPlan(cfg *corebuild.Config, reporter *corebuild.ConsoleReporter, args []string, execute bool) error {
	specs, err := parseSpecs(args)
	if err != nil {
		return err
	}

	provider := corebuild.NewDirPortProvider(cfg.PortDir)
	statusDB, err := corebuild.LoadStatusDB(cfg.InstalledDir, specs[0].Spec.Triplet)
	if err != nil {
		return err
	}

	actions, err := corebuild.CreateFeatureInstallPlan(provider, specs, statusDB, corebuild.PlannerOptions{})
	if err != nil {
		return err
	}

	if err := reporter.PrintPlan(actions, execute); err != nil {
		return err
	}
	if !execute {
		return nil
	}

	return executeplan(cfg, reporter, statusDB, actions)
}

func executeplan(cfg *corebuild.Config, reporter *corebuild.ConsoleReporter, statusDB *corebuild.StatusDB, actions []corebuild.AnyAction) error {
	nuget := corebuild.NewNugetCache(cfg.NugetCacheDir)
	cache := corebuild.NewBinaryCache(cfg.ArchivesDir, cfg.TombstonesDir, nuget, reporter)
	remoteFeed, err := corebuild.NewRemoteFeed(cfg)
	if err != nil {
		return err
	}
	queue := corebuild.NewJobQueue(reporter)

	orch := corebuild.NewOrchestrator(corebuild.OrchestratorConfig{
		Cfg:              cfg,
		StatusDB:         statusDB,
		Cache:            cache,
		Nuget:            nuget,
		RemoteFeed:       remoteFeed,
		Queue:            queue,
		Reporter:         reporter,
		HelperScriptPath: filepath.Join(cfg.PortDir, "..", "scripts", "helper.sh"),
		BuildToolPath:    filepath.Join(cfg.PortDir, "..", "scripts", "build.sh"),
		CmakeToolVersion: "system",
		FailOnTombstone:  true,
		CleanBuildtrees:  cfg.Values["PORTCRAFT_CLEAN_BUILDTREES"] == "1",
	})

	for _, a := range actions {
		if a.Install == nil || a.Install.PlanType != corebuild.PlanBuildAndInstall {
			continue
		}
		result, err := orch.Run(a.Install)
		if err != nil {
			return fmt.Errorf("build of %s failed: %w", a.Install.Spec, err)
		}
		reporter.Status("%s: %s", a.Install.Spec, result.Outcome)
		if result.Outcome != corebuild.OutcomeSucceeded {
			return fmt.Errorf("build of %s ended with %s", a.Install.Spec, result.Outcome)
		}
	}

	return queue.JoinAll()
}

func runAbi(cfg *corebuild.Config, reporter *corebuild.ConsoleReporter, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: portcraft abi <pkg:triplet>")
	}
	fs, err := corebuild.ParseFeatureSpec(args[0])
	if err != nil {
		return err
	}

	provider := corebuild.NewDirPortProvider(cfg.PortDir)
	scf, err := provider.GetControlFile(fs.Spec.Name)
	if err != nil {
		return err
	}
	if scf == nil {
		return fmt.Errorf("no such port: %s", fs.Spec.Name)
	}

	action := &corebuild.InstallPlanAction{
		Spec:        fs.Spec,
		FeatureList: map[string]bool{corebuild.FeatureCore: true},
		BuildAction: &corebuild.BuildActionInfo{SCF: scf},
	}

	tripletFile := filepath.Join(cfg.TripletDir, fs.Spec.Triplet+".triplet")
	helperPath := filepath.Join(cfg.PortDir, "..", "scripts", "helper.sh")
	info, err := corebuild.InspectTriplet(helperPath, tripletFile)
	if err != nil {
		return err
	}

	tag, err := corebuild.ComputeAbiTag(action, corebuild.AbiComputeInputs{
		CmakeToolVersion: "system",
		PortDir:          filepath.Join(cfg.PortDir, fs.Spec.Name),
		HelperScriptPath: helperPath,
		PreBuildInfo:     info,
		BuildtreesDir:    cfg.BuildtreesDir,
	}, reporter)
	if err != nil {
		return err
	}
	if tag == nil {
		fmt.Println("binary caching disabled: incomplete abi")
		return nil
	}
	fmt.Println(tag.Tag)
	return nil
}

func runChecksum(cfg *corebuild.Config, reporter *corebuild.ConsoleReporter, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: portcraft checksum <pkg>")
	}
	pkgName := args[0]
	pkgDir := filepath.Join(cfg.PortDir, pkgName)

	sourcesData, err := os.ReadFile(filepath.Join(pkgDir, "sources"))
	if err != nil {
		return fmt.Errorf("failed to read sources manifest: %w", err)
	}
	sources := corebuild.ParseSourcesManifest(sourcesData)

	fetcher := corebuild.NewSourceFetcher(cfg.DownloadsDir, reporter)
	if err := fetcher.FetchAll(sources); err != nil {
		return err
	}

	checksumPath := filepath.Join(pkgDir, "checksums")
	var sidecar corebuild.ChecksumSidecar
	if data, err := os.ReadFile(checksumPath); err == nil {
		sidecar = corebuild.ParseChecksumSidecar(data)
	} else {
		sidecar = corebuild.ChecksumSidecar{}
	}

	mismatches, err := corebuild.VerifySourceChecksums(cfg.DownloadsDir, sources, sidecar)
	if err != nil {
		return err
	}
	if len(mismatches) > 0 {
		for _, m := range mismatches {
			reporter.Warn("checksum mismatch for %s: expected %s, got %s", m.Filename, m.Expected, m.Actual)
		}
		return fmt.Errorf("%d checksum mismatch(es) for %s", len(mismatches), pkgName)
	}

	reporter.Status("all %d source(s) verified for %s", len(sources), pkgName)
	return nil
}
