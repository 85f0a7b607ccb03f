package dependency

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	g := New()
	require.NotNil(t, g)
	assert.Empty(t, g.nodes)
}

func TestAddNodeReplacesExisting(t *testing.T) {
	g := New()
	g.AddNode(Node{ID: "a", FriendlyName: "A v1", Kind: KindProcessor})
	g.AddNode(Node{ID: "a", FriendlyName: "A v2", Kind: KindProcessor, DependsOn: []NodeID{"b"}})

	n, ok := g.Get("a")
	require.True(t, ok)
	assert.Equal(t, "A v2", n.FriendlyName)
	assert.Equal(t, []NodeID{"b"}, n.DependsOn)
}

func TestGetMissing(t *testing.T) {
	g := New()
	_, ok := g.Get("nope")
	assert.False(t, ok)
}

func TestDependenciesAndDependents(t *testing.T) {
	g := New()
	g.AddNode(Node{ID: "base", Kind: KindModule})
	g.AddNode(Node{ID: "mid-a", Kind: KindModule, DependsOn: []NodeID{"base"}})
	g.AddNode(Node{ID: "mid-b", Kind: KindModule, DependsOn: []NodeID{"base"}})
	g.AddNode(Node{ID: "top", Kind: KindModule, DependsOn: []NodeID{"mid-a", "mid-b"}})

	assert.ElementsMatch(t, []NodeID{"base"}, g.Dependencies("mid-a"))
	assert.ElementsMatch(t, []NodeID{"mid-a", "mid-b"}, g.Dependencies("top"))
	assert.Empty(t, g.Dependencies("base"))

	assert.ElementsMatch(t, []NodeID{"mid-a", "mid-b"}, g.Dependents("base"))
	assert.ElementsMatch(t, []NodeID{"top"}, g.Dependents("mid-a"))
	assert.Empty(t, g.Dependents("top"))
}

func TestTopologicalSortOrdersDependenciesFirst(t *testing.T) {
	g := New()
	g.AddNode(Node{ID: "top", Kind: KindProcessor, DependsOn: []NodeID{"mid-a", "mid-b"}})
	g.AddNode(Node{ID: "mid-a", Kind: KindProcessor, DependsOn: []NodeID{"base"}})
	g.AddNode(Node{ID: "mid-b", Kind: KindProcessor, DependsOn: []NodeID{"base"}})
	g.AddNode(Node{ID: "base", Kind: KindProcessor})

	order, err := g.TopologicalSort()
	require.NoError(t, err)
	require.Len(t, order, 4)

	pos := make(map[NodeID]int, len(order))
	for i, id := range order {
		pos[id] = i
	}
	assert.Less(t, pos["base"], pos["mid-a"])
	assert.Less(t, pos["base"], pos["mid-b"])
	assert.Less(t, pos["mid-a"], pos["top"])
	assert.Less(t, pos["mid-b"], pos["top"])
}

func TestTopologicalSortIsDeterministic(t *testing.T) {
	build := func() *Graph {
		g := New()
		g.AddNode(Node{ID: "c", Kind: KindProcessor})
		g.AddNode(Node{ID: "a", Kind: KindProcessor})
		g.AddNode(Node{ID: "b", Kind: KindProcessor})
		return g
	}

	first, err := build().TopologicalSort()
	require.NoError(t, err)
	second, err := build().TopologicalSort()
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, []NodeID{"a", "b", "c"}, first)
}

func TestTopologicalSortDetectsCycle(t *testing.T) {
	g := New()
	g.AddNode(Node{ID: "a", DependsOn: []NodeID{"b"}})
	g.AddNode(Node{ID: "b", DependsOn: []NodeID{"c"}})
	g.AddNode(Node{ID: "c", DependsOn: []NodeID{"a"}})

	_, err := g.TopologicalSort()
	require.Error(t, err)
	var cycleErr *CycleError
	require.ErrorAs(t, err, &cycleErr)
	assert.NotEmpty(t, cycleErr.Cycle)
}

func TestTopologicalSortMissingDependency(t *testing.T) {
	g := New()
	g.AddNode(Node{ID: "a", DependsOn: []NodeID{"ghost"}})

	_, err := g.TopologicalSort()
	require.Error(t, err)
	var missingErr *MissingDependencyError
	require.ErrorAs(t, err, &missingErr)
	assert.Equal(t, NodeID("ghost"), missingErr.Dependency)
}
