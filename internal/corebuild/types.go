// Package corebuild implements the resolver, ABI tagger, binary cache, and
// build orchestrator described by the portcraft core specification: given a
// set of requested package feature specs and the state of an install prefix,
// compute an install/remove plan, a content-addressed build identifier per
// package, and drive build execution against a local/remote binary cache.
package corebuild

import (
	"fmt"
	"strings"
)

// PackageSpec identifies a package at a target triplet. Canonical textual
// form is "name:triplet" and is used as identity everywhere in the graph.
type PackageSpec struct {
	Name    string
	Triplet string
}

func (s PackageSpec) String() string {
	return s.Name + ":" + s.Triplet
}

// FeatureName special values.
const (
	FeatureCore    = "core"
	FeatureDefault = ""
	FeatureAll     = "*"
)

// FeatureSpec names a single feature of a package, or the special "default
// set" / "all features" markers.
type FeatureSpec struct {
	Spec    PackageSpec
	Feature string
}

func (f FeatureSpec) String() string {
	if f.Feature == "" {
		return f.Spec.String()
	}
	return fmt.Sprintf("%s[%s]", f.Spec.String(), f.Feature)
}

// ParseFeatureSpec parses strings of the form "name[feature]:triplet" or
// "name:triplet" (implying the default feature set).
func ParseFeatureSpec(s string) (FeatureSpec, error) {
	name := s
	feature := FeatureDefault
	if i := strings.IndexByte(name, '['); i >= 0 {
		end := strings.IndexByte(name, ']')
		if end < i {
			return FeatureSpec{}, fmt.Errorf("malformed feature spec %q: unmatched '['", s)
		}
		feature = name[i+1 : end]
		name = name[:i] + name[end+1:]
	}
	triplet := ""
	if i := strings.LastIndexByte(name, ':'); i >= 0 {
		triplet = name[i+1:]
		name = name[:i]
	}
	if name == "" {
		return FeatureSpec{}, fmt.Errorf("malformed feature spec %q: empty package name", s)
	}
	if triplet == "" {
		return FeatureSpec{}, fmt.Errorf("malformed feature spec %q: missing triplet", s)
	}
	return FeatureSpec{Spec: PackageSpec{Name: name, Triplet: triplet}, Feature: feature}, nil
}

// CoreParagraph is the core paragraph of a port's SourceControlFile.
type CoreParagraph struct {
	Name            string
	Version         string
	Depends         []DependEntry
	DefaultFeatures []string
	Description     string
	Homepage        string
}

// FeatureParagraph is one optional-feature paragraph of a port.
type FeatureParagraph struct {
	Name    string
	Depends []DependEntry
}

// SourceControlFile is a parsed port manifest: core paragraph plus zero or
// more feature paragraphs.
type SourceControlFile struct {
	Core     CoreParagraph
	Features []FeatureParagraph
}

// FeatureParagraph looks up a feature paragraph by name, nil if absent.
func (scf *SourceControlFile) FeatureParagraph(name string) *FeatureParagraph {
	for i := range scf.Features {
		if scf.Features[i].Name == name {
			return &scf.Features[i]
		}
	}
	return nil
}

// DependEntry is one parsed Build-Depends reference: "name[feature,feature]:triplet(platform_expr)".
// Triplet is empty when the reference names none; depsToFeatureSpecs then
// defaults it to the dependent's triplet. Platform is the verbatim trailing
// expression, evaluated by buildEdgesFor; empty means unconditional.
type DependEntry struct {
	Name     string
	Features []string
	Triplet  string
	Platform string
}

// BinaryParagraph describes one installed paragraph (core or feature) as
// recorded by the Status Database. Feature is empty for the core paragraph
// and holds the feature's own name for a feature paragraph — Spec always
// identifies the owning package, never the feature.
type BinaryParagraph struct {
	Spec            PackageSpec
	Feature         string
	Version         string
	Abi             string
	DefaultFeatures []string
	Depends         []PackageSpec
}

// InstalledPackageView is the Status Database's per-package snapshot.
type InstalledPackageView struct {
	Core     BinaryParagraph
	Features []BinaryParagraph
}

// FeatureNames returns the installed feature names, not including "core".
func (v *InstalledPackageView) FeatureNames() []string {
	names := make([]string, 0, len(v.Features))
	for _, f := range v.Features {
		names = append(names, f.Feature)
	}
	return names
}

// AllDepends returns the union of core + feature dependencies.
func (v *InstalledPackageView) AllDepends() []PackageSpec {
	var out []PackageSpec
	out = append(out, v.Core.Depends...)
	for _, f := range v.Features {
		out = append(out, f.Depends...)
	}
	return out
}

// RequestType classifies why a cluster was touched.
type RequestType int

const (
	RequestUnknown RequestType = iota
	RequestUserRequested
	RequestAutoSelected
)

func (r RequestType) String() string {
	switch r {
	case RequestUserRequested:
		return "USER_REQUESTED"
	case RequestAutoSelected:
		return "AUTO_SELECTED"
	default:
		return "UNKNOWN"
	}
}

// InstallPlanType classifies an InstallPlanAction's outcome at plan time.
type InstallPlanType int

const (
	PlanUnknown InstallPlanType = iota
	PlanAlreadyInstalled
	PlanBuildAndInstall
	PlanExcluded
)

func (t InstallPlanType) String() string {
	switch t {
	case PlanAlreadyInstalled:
		return "ALREADY_INSTALLED"
	case PlanBuildAndInstall:
		return "BUILD_AND_INSTALL"
	case PlanExcluded:
		return "EXCLUDED"
	default:
		return "UNKNOWN"
	}
}

// AbiTagAndFile is the output of the ABI Tag Computer: a hex SHA-1 tag and
// the path of the abi-info file it was computed from.
type AbiTagAndFile struct {
	Tag      string
	FilePath string
}

// InstallPlanAction is one install step of a serialized plan.
type InstallPlanAction struct {
	Spec                 PackageSpec
	FeatureList          map[string]bool
	ComputedDependencies []PackageSpec
	PlanType             InstallPlanType
	RequestType          RequestType

	// Exactly one of BuildAction / InstalledPackage is set, matching PlanType.
	BuildAction      *BuildActionInfo
	InstalledPackage *InstalledPackageView
	Abi              *AbiTagAndFile
}

// BuildActionInfo carries the cluster-derived information a BUILD_AND_INSTALL
// action needs at execution time (source paragraph, build edges).
type BuildActionInfo struct {
	SCF *SourceControlFile
}

// RemovePlanAction is one remove step of a serialized plan.
type RemovePlanAction struct {
	Spec        PackageSpec
	RequestType RequestType
}

// AnyAction is the tagged union spec.md calls AnyAction: exactly one of
// Install / Remove is non-nil.
type AnyAction struct {
	Install *InstallPlanAction
	Remove  *RemovePlanAction
}

func (a AnyAction) Spec() PackageSpec {
	if a.Install != nil {
		return a.Install.Spec
	}
	return a.Remove.Spec
}

// BuildInfo is parsed from a buildtree's BUILD_INFO file after a build.
type BuildInfo struct {
	CrtLinkage     Linkage
	LibraryLinkage Linkage
	Version        string
	Policies       map[string]bool
}

// Linkage is CRT/library linkage: static or dynamic.
type Linkage int

const (
	LinkageUnknown Linkage = iota
	LinkageStatic
	LinkageDynamic
)

func ParseLinkage(s string) (Linkage, error) {
	switch s {
	case "static":
		return LinkageStatic, nil
	case "dynamic":
		return LinkageDynamic, nil
	default:
		return LinkageUnknown, fmt.Errorf("invalid linkage %q: expected static or dynamic", s)
	}
}

func (l Linkage) String() string {
	switch l {
	case LinkageStatic:
		return "static"
	case LinkageDynamic:
		return "dynamic"
	default:
		return "unknown"
	}
}

// BuildType is the optional debug/release setting surfaced by the triplet
// inspection protocol.
type BuildType int

const (
	BuildTypeUnspecified BuildType = iota
	BuildTypeDebug
	BuildTypeRelease
)

// PreBuildInfo is the result of invoking the build tool in triplet
// inspection mode, cached per triplet for the process.
type PreBuildInfo struct {
	TargetArchitecture    string
	CmakeSystemName       string
	CmakeSystemVersion    string
	PlatformToolset       string
	VisualStudioPath      string
	ExternalToolchainFile string
	BuildType             BuildType
	TripletAbiTag         string
}

// BuildOutcome enumerates Build Orchestrator per-action results (spec.md §4.5/§7).
type BuildOutcome int

const (
	OutcomeUnknown BuildOutcome = iota
	OutcomeSucceeded
	OutcomeBuildFailed
	OutcomePostBuildChecksFailed
	OutcomeCascadedDueToMissingDependencies
)

func (o BuildOutcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return "SUCCEEDED"
	case OutcomeBuildFailed:
		return "BUILD_FAILED"
	case OutcomePostBuildChecksFailed:
		return "POST_BUILD_CHECKS_FAILED"
	case OutcomeCascadedDueToMissingDependencies:
		return "CASCADED_DUE_TO_MISSING_DEPENDENCIES"
	default:
		return "UNKNOWN"
	}
}

// BuildResult is the Build Orchestrator's structured per-action report.
type BuildResult struct {
	Spec              PackageSpec
	Outcome           BuildOutcome
	MissingFspecs     []PackageSpec
	BinaryControlFile *SourceControlFile
}
