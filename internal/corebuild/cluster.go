package corebuild

import "fmt"

// ClusterInstalled wraps an InstalledPackageView with the reverse
// Build-Depends edges populated once at graph construction (spec.md §3/§9:
// "derived data, not an independent source of truth").
type ClusterInstalled struct {
	Ipv              *InstalledPackageView
	RemoveEdges      map[string]PackageSpec // reverse dependents, keyed by canonical spec
	OriginalFeatures map[string]bool
}

// ClusterSource wraps a SourceControlFile with per-feature build edges,
// resolved against the cluster's own triplet.
type ClusterSource struct {
	SCF        *SourceControlFile
	BuildEdges map[string][]FeatureSpec // feature name -> dependency feature specs
}

// Cluster is the planner's per-spec bookkeeping node: one per (name,
// triplet), holding both installed and source views together (spec.md §3).
// Invariants, enforced by ClusterGraph's mutators, not by the type itself:
//   - exists in the graph iff the resolver has touched it
//   - TransientUninstalled starts true, flips false once Installed is set
//   - Minus and Plus[f] are monotone: once true, they stay true
type Cluster struct {
	Spec                 PackageSpec
	Installed            *ClusterInstalled
	Source               *ClusterSource
	Plus                 map[string]bool
	ToInstallFeatures    map[string]bool
	Minus                bool
	TransientUninstalled bool
	RequestType          RequestType

	// reinstallWarnings collects feature names that could not be reinstalled
	// or newly defaulted during mark_minus (spec.md §7: warning, not fatal).
	reinstallWarnings []string
}

func newCluster(spec PackageSpec) *Cluster {
	return &Cluster{
		Spec:                 spec,
		Plus:                 make(map[string]bool),
		ToInstallFeatures:    make(map[string]bool),
		TransientUninstalled: true,
	}
}

func (c *Cluster) hasSource() bool { return c.Source != nil }

// GraphPlan holds the remove and install sub-graphs as built by the
// Planner's marking phase. Vertices are cluster pointers; install-graph
// edges encode "from depends on to", remove-graph edges run from a package
// to an installed dependent of it. No vertex may have an edge to itself
// (spec.md §8).
type GraphPlan struct {
	RemoveGraph  *planGraph
	InstallGraph *planGraph
}

// planGraph is an adjacency-list digraph over *Cluster, with discovery
// order preserved for deterministic iteration (a caller-supplied randomizer
// may permute equal-rank siblings during serialization).
type planGraph struct {
	vertices []*Cluster
	present  map[string]bool
	edges    map[string][]*Cluster // from canonical spec -> to clusters
}

func newPlanGraph() *planGraph {
	return &planGraph{present: make(map[string]bool), edges: make(map[string][]*Cluster)}
}

func (g *planGraph) addVertex(c *Cluster) {
	key := c.Spec.String()
	if g.present[key] {
		return
	}
	g.present[key] = true
	g.vertices = append(g.vertices, c)
}

// addEdge records an edge from -> to (see GraphPlan for what an edge means
// in each graph). Self-edges are rejected, per
// spec.md's invariant that "edges from a vertex to itself are forbidden".
func (g *planGraph) addEdge(from, to *Cluster) error {
	if from.Spec.String() == to.Spec.String() {
		return fmt.Errorf("refusing self-edge for %s", from.Spec)
	}
	g.addVertex(from)
	g.addVertex(to)
	key := from.Spec.String()
	for _, existing := range g.edges[key] {
		if existing.Spec.String() == to.Spec.String() {
			return nil
		}
	}
	g.edges[key] = append(g.edges[key], to)
	return nil
}

func (g *planGraph) has(c *Cluster) bool {
	return g.present[c.Spec.String()]
}

// ClusterGraph owns every Cluster touched during a single plan's lifetime,
// keyed by canonical spec string (arena-style ownership per spec.md §9: the
// graph holds clusters by key, callers never hold raw pointers across plan
// boundaries).
type ClusterGraph struct {
	provider PortProvider
	clusters map[string]*Cluster
}

func newClusterGraph(provider PortProvider) *ClusterGraph {
	return &ClusterGraph{provider: provider, clusters: make(map[string]*Cluster)}
}

// getOrCreate returns the cluster for spec, creating (and lazily attaching
// its source view) it if absent.
func (g *ClusterGraph) getOrCreate(spec PackageSpec) (*Cluster, error) {
	key := spec.String()
	if c, ok := g.clusters[key]; ok {
		return c, nil
	}
	c := newCluster(spec)
	if err := g.attachSource(c); err != nil {
		return nil, err
	}
	g.clusters[key] = c
	return c, nil
}

func (g *ClusterGraph) attachSource(c *Cluster) error {
	scf, err := g.provider.GetControlFile(c.Spec.Name)
	if err != nil {
		return err
	}
	if scf == nil {
		return nil
	}
	edges, err := buildEdgesFor(scf, c.Spec.Triplet)
	if err != nil {
		return err
	}
	c.Source = &ClusterSource{SCF: scf, BuildEdges: edges}
	return nil
}

// buildEdgesFor derives build_edges["core"] from the core paragraph's
// depends (filtered by triplet) and one entry per feature paragraph,
// resolving each dependency's triplet to the dependent's triplet when
// unspecified (spec.md §3).
func buildEdgesFor(scf *SourceControlFile, triplet string) (map[string][]FeatureSpec, error) {
	edges := make(map[string][]FeatureSpec)
	coreEdges, err := depsToFeatureSpecs(scf.Core.Depends, triplet)
	if err != nil {
		return nil, fmt.Errorf("%s: core: %w", scf.Core.Name, err)
	}
	edges[FeatureCore] = coreEdges
	for _, fp := range scf.Features {
		fEdges, err := depsToFeatureSpecs(fp.Depends, triplet)
		if err != nil {
			return nil, fmt.Errorf("%s: feature %q: %w", scf.Core.Name, fp.Name, err)
		}
		edges[fp.Name] = fEdges
	}
	return edges, nil
}

// depsToFeatureSpecs resolves a dependent's Build-Depends entries into
// feature specs at the dependent's triplet, dropping any entry whose
// platform expression evaluates to false against that triplet (spec.md
// §3/§6).
func depsToFeatureSpecs(deps []DependEntry, defaultTriplet string) ([]FeatureSpec, error) {
	var out []FeatureSpec
	for _, d := range deps {
		triplet := d.Triplet
		if triplet == "" {
			triplet = defaultTriplet
		}
		ok, err := evalPlatformExpr(d.Platform, triplet)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		spec := PackageSpec{Name: d.Name, Triplet: triplet}
		if len(d.Features) == 0 {
			out = append(out, FeatureSpec{Spec: spec, Feature: FeatureDefault})
		} else {
			for _, f := range d.Features {
				out = append(out, FeatureSpec{Spec: spec, Feature: f})
			}
		}
	}
	return out, nil
}
