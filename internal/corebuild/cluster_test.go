package corebuild

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanGraph_NoSelfEdges(t *testing.T) {
	g := newPlanGraph()
	c := newCluster(PackageSpec{Name: "a", Triplet: "x64"})
	err := g.addEdge(c, c)
	assert.Error(t, err)
}

func TestPlanGraph_AddEdgeDeduplicates(t *testing.T) {
	g := newPlanGraph()
	a := newCluster(PackageSpec{Name: "a", Triplet: "x64"})
	b := newCluster(PackageSpec{Name: "b", Triplet: "x64"})
	require.NoError(t, g.addEdge(a, b))
	require.NoError(t, g.addEdge(a, b))
	assert.Len(t, g.edges[a.Spec.String()], 1)
}

func TestPlanGraph_AddVertexIdempotent(t *testing.T) {
	g := newPlanGraph()
	a := newCluster(PackageSpec{Name: "a", Triplet: "x64"})
	g.addVertex(a)
	g.addVertex(a)
	assert.Len(t, g.vertices, 1)
	assert.True(t, g.has(a))
}

func TestClusterGraph_GetOrCreate(t *testing.T) {
	provider := NewMapPortProvider()
	provider.Ports["zlib"] = &SourceControlFile{Core: CoreParagraph{Name: "zlib"}}
	g := newClusterGraph(provider)

	c1, err := g.getOrCreate(PackageSpec{Name: "zlib", Triplet: "x64"})
	require.NoError(t, err)
	require.NotNil(t, c1.Source)
	assert.True(t, c1.TransientUninstalled)

	c2, err := g.getOrCreate(PackageSpec{Name: "zlib", Triplet: "x64"})
	require.NoError(t, err)
	assert.Same(t, c1, c2)
}

func TestClusterGraph_MissingSourceLeavesClusterUnattached(t *testing.T) {
	provider := NewMapPortProvider()
	g := newClusterGraph(provider)

	c, err := g.getOrCreate(PackageSpec{Name: "unknown", Triplet: "x64"})
	require.NoError(t, err)
	assert.False(t, c.hasSource())
}

func TestBuildEdgesFor_ResolvesDefaultTriplet(t *testing.T) {
	scf := &SourceControlFile{
		Core: CoreParagraph{
			Name:    "zlib",
			Depends: []DependEntry{{Name: "cmake"}, {Name: "ninja", Triplet: "host"}},
		},
		Features: []FeatureParagraph{
			{Name: "tools", Depends: []DependEntry{{Name: "zlib", Features: []string{"core", "extra"}}}},
		},
	}
	edges, err := buildEdgesFor(scf, "x64-linux")
	require.NoError(t, err)

	core := edges[FeatureCore]
	require.Len(t, core, 2)
	assert.Equal(t, "x64-linux", core[0].Spec.Triplet, "unspecified triplet defaults to the dependent's own")
	assert.Equal(t, "host", core[1].Spec.Triplet, "explicit triplet is preserved")

	tools := edges["tools"]
	require.Len(t, tools, 2)
	assert.Equal(t, "core", tools[0].Feature)
	assert.Equal(t, "extra", tools[1].Feature)
}

func TestNewCluster_Invariants(t *testing.T) {
	c := newCluster(PackageSpec{Name: "a", Triplet: "x64"})
	assert.True(t, c.TransientUninstalled)
	assert.False(t, c.Minus)
	assert.Empty(t, c.Plus)
}
