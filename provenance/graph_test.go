package provenance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/researchintegrity/elis-backend/descriptor"
)

func TestAddEdgeKeepsHighestWeight(t *testing.T) {
	b := NewBuilder()

	require.NoError(t, b.AddEdge("img-a", "img-b", 0.5, EdgeAttrs{SharedArea: 0.1}))
	// same unordered pair, reversed order, higher weight
	require.NoError(t, b.AddEdge("img-b", "img-a", 0.9, EdgeAttrs{SharedArea: 0.4}))
	// lower weight must not downgrade
	require.NoError(t, b.AddEdge("img-a", "img-b", 0.3, EdgeAttrs{SharedArea: 0.2}))

	g := b.Snapshot()
	require.Len(t, g.Edges, 1)
	assert.Equal(t, "img-a", g.Edges[0].A)
	assert.Equal(t, "img-b", g.Edges[0].B)
	assert.Equal(t, 0.9, g.Edges[0].Weight)
	assert.Equal(t, 0.4, g.Edges[0].SharedArea)
}

func TestAddEdgeEqualWeightReplaces(t *testing.T) {
	b := NewBuilder()

	require.NoError(t, b.AddEdge("a", "b", 0.7, EdgeAttrs{KeypointCount: 10}))
	require.NoError(t, b.AddEdge("a", "b", 0.7, EdgeAttrs{KeypointCount: 25}))

	g := b.Snapshot()
	require.Len(t, g.Edges, 1)
	assert.Equal(t, 25, g.Edges[0].KeypointCount)
}

func TestAddEdgeRejectsSelfEdge(t *testing.T) {
	b := NewBuilder()
	err := b.AddEdge("img-a", "img-a", 1.0, EdgeAttrs{})
	require.Error(t, err)
	assert.Equal(t, 0, b.EdgeCount())
}

func TestEdgeEndpointsBecomeNodes(t *testing.T) {
	b := NewBuilder()
	b.MarkQuery("seed")
	require.NoError(t, b.AddEdge("seed", "found", 0.8, EdgeAttrs{}))

	g := b.Snapshot()
	require.Len(t, g.Nodes, 2)
	assert.Equal(t, "found", g.Nodes[0].ImageID)
	assert.False(t, g.Nodes[0].IsQuery)
	assert.Equal(t, "seed", g.Nodes[1].ImageID)
	assert.True(t, g.Nodes[1].IsQuery)
}

func TestMarkQueryAfterEdge(t *testing.T) {
	b := NewBuilder()
	require.NoError(t, b.AddEdge("a", "b", 0.5, EdgeAttrs{}))
	b.MarkQuery("a")

	g := b.Snapshot()
	assert.True(t, g.Nodes[0].IsQuery)
	assert.False(t, g.Nodes[1].IsQuery)
}

func TestHasEdgeUnordered(t *testing.T) {
	b := NewBuilder()
	require.NoError(t, b.AddEdge("x", "y", 0.5, EdgeAttrs{}))

	assert.True(t, b.HasEdge("x", "y"))
	assert.True(t, b.HasEdge("y", "x"))
	assert.False(t, b.HasEdge("x", "z"))
}

func TestSnapshotDeterministicOrder(t *testing.T) {
	build := func() *Graph {
		b := NewBuilder()
		require.NoError(t, b.AddEdge("c", "d", 0.3, EdgeAttrs{Variant: descriptor.VariantCVSIFT}))
		require.NoError(t, b.AddEdge("a", "b", 0.9, EdgeAttrs{Variant: descriptor.VariantCVSIFT}))
		require.NoError(t, b.AddEdge("b", "c", 0.6, EdgeAttrs{Variant: descriptor.VariantCVSIFT}))
		b.MarkQuery("a")
		return b.Snapshot()
	}

	assert.Equal(t, build(), build())
}
