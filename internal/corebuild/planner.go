package corebuild

import (
	"fmt"
	"sort"
)

// PlannerOptions configures CreateFeatureInstallPlan's serialization pass.
// Randomizer, when non-nil, may shuffle equal-rank siblings during
// topological sort for deterministic-seed testing (spec.md §4.2
// "Serialization").
type PlannerOptions struct {
	Randomizer func([]*Cluster)
}

// CreateFeatureInstallPlan is the Planner's entry point (spec.md §4.2).
func CreateFeatureInstallPlan(provider PortProvider, specs []FeatureSpec, statusDB *StatusDB, opts PlannerOptions) ([]AnyAction, error) {
	preventDefaultFeatures := map[string]bool{}
	for _, s := range specs {
		if s.Feature == FeatureCore {
			preventDefaultFeatures[s.Spec.Name] = true
		}
	}

	graph := newClusterGraph(provider)
	plan := &GraphPlan{RemoveGraph: newPlanGraph(), InstallGraph: newPlanGraph()}

	if err := populateInstalledClusters(graph, statusDB); err != nil {
		return nil, err
	}
	if err := populateRemoveEdges(graph, statusDB); err != nil {
		return nil, err
	}

	for _, spec := range specs {
		if spec.Feature == FeatureDefault && preventDefaultFeatures[spec.Spec.Name] {
			continue
		}
		cluster, err := graph.getOrCreate(spec.Spec)
		if err != nil {
			return nil, err
		}
		cluster.RequestType = RequestUserRequested

		if err := markPlus(spec.Feature, cluster, graph, plan, preventDefaultFeatures); err != nil {
			return nil, fmt.Errorf("%q is not a feature of package %q: %w", spec.Feature, spec.Spec.Name, err)
		}
		plan.InstallGraph.addVertex(cluster)
	}

	return serialize(plan, opts)
}

// populateInstalledClusters seeds one cluster per installed view, with
// original_features = {"core"} ∪ installed features, and flips
// TransientUninstalled to false (spec.md §4.2 "Preparation").
func populateInstalledClusters(graph *ClusterGraph, statusDB *StatusDB) error {
	for _, ipv := range statusDB.All() {
		cluster, err := graph.getOrCreate(ipv.Core.Spec)
		if err != nil {
			return err
		}
		original := map[string]bool{FeatureCore: true}
		for _, name := range ipv.FeatureNames() {
			original[name] = true
		}
		cluster.Installed = &ClusterInstalled{
			Ipv:              ipv,
			RemoveEdges:      make(map[string]PackageSpec),
			OriginalFeatures: original,
		}
		cluster.TransientUninstalled = false
	}
	return nil
}

// populateRemoveEdges walks every installed package's direct dependencies
// and records each dependent on the dependency cluster's RemoveEdges. A
// missing dependency cluster is a fatal DatabaseCorruptedError (spec.md
// §4.2, §7).
func populateRemoveEdges(graph *ClusterGraph, statusDB *StatusDB) error {
	for _, ipv := range statusDB.All() {
		for _, dep := range ipv.AllDepends() {
			depCluster, ok := graph.clusters[dep.String()]
			if !ok || depCluster.Installed == nil {
				return &DatabaseCorruptedError{Spec: ipv.Core.Spec, Missing: dep}
			}
			depCluster.Installed.RemoveEdges[ipv.Core.Spec.String()] = ipv.Core.Spec
		}
	}
	return nil
}

// markPlus implements spec.md §4.2's mark_plus, idempotent per feature via
// cluster.Plus[feature].
func markPlus(feature string, cluster *Cluster, graph *ClusterGraph, plan *GraphPlan, prevent map[string]bool) error {
	if cluster.Plus[feature] {
		return nil
	}
	cluster.Plus[feature] = true

	if !cluster.hasSource() {
		return &DefinitionMissingError{Spec: cluster.Spec}
	}

	if feature == FeatureDefault {
		for _, df := range cluster.Source.SCF.Core.DefaultFeatures {
			if err := markPlus(df, cluster, graph, plan, prevent); err != nil {
				return err
			}
		}
		return markPlus(FeatureCore, cluster, graph, plan, prevent)
	}

	if feature == FeatureAll {
		for _, fp := range cluster.Source.SCF.Features {
			if err := markPlus(fp.Name, cluster, graph, plan, prevent); err != nil {
				return fmt.Errorf("internal error while installing feature %s in %s: %w", fp.Name, cluster.Spec, err)
			}
		}
		return markPlus(FeatureCore, cluster, graph, plan, prevent)
	}

	if cluster.Installed != nil && cluster.Installed.OriginalFeatures[feature] {
		return nil
	}

	if err := markMinus(cluster, graph, plan, prevent); err != nil {
		return err
	}
	if err := followPlusDependencies(feature, cluster, graph, plan, prevent); err != nil {
		if err == errFeatureNotFound {
			return &UnsatisfiableDependencyError{Spec: cluster.Spec, Feature: feature}
		}
		return err
	}
	return nil
}

// followPlusDependencies implements spec.md §4.2. Returns errFeatureNotFound
// (not wrapped) when build_edges[feature] is absent so markPlus and
// markMinus can each decide how to surface it (fatal vs. warning).
func followPlusDependencies(feature string, cluster *Cluster, graph *ClusterGraph, plan *GraphPlan, prevent map[string]bool) error {
	edges, ok := cluster.Source.BuildEdges[feature]
	if !ok {
		return errFeatureNotFound
	}

	if err := markMinus(cluster, graph, plan, prevent); err != nil {
		return err
	}
	plan.InstallGraph.addVertex(cluster)
	cluster.ToInstallFeatures[feature] = true

	if feature != FeatureCore {
		if err := markPlus(FeatureCore, cluster, graph, plan, prevent); err != nil {
			return fmt.Errorf("internal error: core must always be satisfiable for %s: %w", cluster.Spec, err)
		}
	}

	if cluster.Installed == nil && !prevent[cluster.Spec.Name] {
		if err := markPlus(FeatureDefault, cluster, graph, plan, prevent); err != nil {
			return fmt.Errorf("unable to satisfy default dependencies of %s: %w", cluster.Spec, err)
		}
	}

	for _, dep := range edges {
		depCluster, err := graph.getOrCreate(dep.Spec)
		if err != nil {
			return err
		}
		if err := markPlus(dep.Feature, depCluster, graph, plan, prevent); err != nil {
			return fmt.Errorf("unable to satisfy dependency %s of %s: %w", dep, FeatureSpec{Spec: cluster.Spec, Feature: feature}, err)
		}
		if depCluster != cluster {
			if err := plan.InstallGraph.addEdge(cluster, depCluster); err != nil {
				return err
			}
		}
	}
	return nil
}

// markMinus implements spec.md §4.2's mark_minus, idempotent via
// cluster.Minus.
func markMinus(cluster *Cluster, graph *ClusterGraph, plan *GraphPlan, prevent map[string]bool) error {
	if cluster.Minus {
		return nil
	}
	cluster.Minus = true
	cluster.TransientUninstalled = true

	if !cluster.hasSource() {
		return &DefinitionMissingError{Spec: cluster.Spec}
	}

	if cluster.Installed != nil {
		plan.RemoveGraph.addVertex(cluster)
		depSpecs := sortedRemoveEdgeSpecs(cluster.Installed.RemoveEdges)
		for _, depSpec := range depSpecs {
			depCluster, err := graph.getOrCreate(depSpec)
			if err != nil {
				return err
			}
			if err := plan.RemoveGraph.addEdge(cluster, depCluster); err != nil {
				return err
			}
			if err := markMinus(depCluster, graph, plan, prevent); err != nil {
				return err
			}
		}

		// Reinstall all original features. Don't use markPlus: it would skip
		// them as "already installed". Unsatisfiable here is a warning, not
		// a fatal error (spec.md §7): the installed feature set may have
		// drifted out of the new source.
		for f := range cluster.Installed.OriginalFeatures {
			if err := followPlusDependencies(f, cluster, graph, plan, prevent); err != nil {
				if err != errFeatureNotFound {
					return err
				}
				// not fatal: the feature name is recorded on
				// cluster.reinstallWarnings instead of failing the plan.
				// The planner has no reporter, and nothing prints that list.
				cluster.reinstallWarnings = append(cluster.reinstallWarnings, f)
			}
		}

		// Pick up newly added default features not recorded at install time.
		for _, df := range cluster.Source.SCF.Core.DefaultFeatures {
			if !containsStr(cluster.Installed.Ipv.Core.DefaultFeatures, df) {
				if err := markPlus(df, cluster, graph, plan, prevent); err != nil {
					cluster.reinstallWarnings = append(cluster.reinstallWarnings, df)
				}
			}
		}
	}
	return nil
}

func sortedRemoveEdgeSpecs(edges map[string]PackageSpec) []PackageSpec {
	keys := make([]string, 0, len(edges))
	for k := range edges {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]PackageSpec, 0, len(keys))
	for _, k := range keys {
		out = append(out, edges[k])
	}
	return out
}

func containsStr(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

// serialize performs the two topological sorts and emits the ordered
// AnyAction list (spec.md §4.2 "Serialization").
func serialize(plan *GraphPlan, opts PlannerOptions) ([]AnyAction, error) {
	removeOrder, err := topoSort(plan.RemoveGraph, opts.Randomizer)
	if err != nil {
		return nil, err
	}
	installOrder, err := topoSort(plan.InstallGraph, opts.Randomizer)
	if err != nil {
		return nil, err
	}

	var actions []AnyAction
	for _, c := range removeOrder {
		actions = append(actions, AnyAction{Remove: &RemovePlanAction{Spec: c.Spec, RequestType: c.RequestType}})
	}

	for _, c := range installOrder {
		if c.TransientUninstalled {
			depSpecs := dedupeSpecs(adjacencySpecs(plan.InstallGraph, c))
			actions = append(actions, AnyAction{Install: &InstallPlanAction{
				Spec:                 c.Spec,
				FeatureList:          copyFeatureSet(c.ToInstallFeatures),
				ComputedDependencies: depSpecs,
				PlanType:             PlanBuildAndInstall,
				RequestType:          c.RequestType,
				BuildAction:          &BuildActionInfo{SCF: c.Source.SCF},
			}})
			continue
		}
		if c.RequestType != RequestUserRequested {
			continue
		}
		actions = append(actions, AnyAction{Install: &InstallPlanAction{
			Spec:             c.Spec,
			FeatureList:      copyFeatureSet(c.Installed.OriginalFeatures),
			PlanType:         PlanAlreadyInstalled,
			RequestType:      c.RequestType,
			InstalledPackage: c.Installed.Ipv,
		}})
	}

	return actions, nil
}

func copyFeatureSet(m map[string]bool) map[string]bool {
	out := make(map[string]bool, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func adjacencySpecs(g *planGraph, c *Cluster) []PackageSpec {
	var out []PackageSpec
	for _, dep := range g.edges[c.Spec.String()] {
		out = append(out, dep.Spec)
	}
	return out
}

func dedupeSpecs(specs []PackageSpec) []PackageSpec {
	seen := map[string]bool{}
	var out []PackageSpec
	for _, s := range specs {
		key := s.String()
		if !seen[key] {
			seen[key] = true
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// topoSort produces dependents-before-dependencies order for the remove
// graph and dependencies-before-dependents order for the install graph; the
// two graphs share this single implementation because both orders are
// "process a vertex only after everything it points to has been processed"
// over the same adjacency representation (install graph: from depends on
// to; remove graph: to depends on from).
func topoSort(g *planGraph, randomizer func([]*Cluster)) ([]*Cluster, error) {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(g.vertices))
	var order []*Cluster

	var visit func(c *Cluster) error
	visit = func(c *Cluster) error {
		key := c.Spec.String()
		switch state[key] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("cycle detected involving %s", c.Spec)
		}
		state[key] = visiting
		children := append([]*Cluster(nil), g.edges[key]...)
		if randomizer != nil {
			randomizer(children)
		}
		for _, dep := range children {
			if err := visit(dep); err != nil {
				return err
			}
		}
		state[key] = done
		order = append(order, c)
		return nil
	}

	roots := append([]*Cluster(nil), g.vertices...)
	if randomizer != nil {
		randomizer(roots)
	} else {
		sort.Slice(roots, func(i, j int) bool { return roots[i].Spec.String() < roots[j].Spec.String() })
	}
	for _, c := range roots {
		if err := visit(c); err != nil {
			return nil, err
		}
	}
	return order, nil
}
