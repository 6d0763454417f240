package provenance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func graphFromEdges(t *testing.T, edges ...Edge) *Graph {
	t.Helper()
	b := NewBuilder()
	for _, e := range edges {
		require.NoError(t, b.AddEdge(e.A, e.B, e.Weight, EdgeAttrs{}))
	}
	return b.Snapshot()
}

func TestSummarizeEqualWeightTieBreak(t *testing.T) {
	// fully connected triangle: A-B 0.8, A-C 0.8, B-C 0.5; the two 0.8
	// edges win deterministically and B-C is rejected as a cycle
	g := graphFromEdges(t,
		Edge{A: "A", B: "B", Weight: 0.8},
		Edge{A: "A", B: "C", Weight: 0.8},
		Edge{A: "B", B: "C", Weight: 0.5},
	)

	s := Summarize(g)
	require.Len(t, s.Forest, 2)
	assert.Equal(t, "A", s.Forest[0].A)
	assert.Equal(t, "B", s.Forest[0].B)
	assert.Equal(t, "A", s.Forest[1].A)
	assert.Equal(t, "C", s.Forest[1].B)

	require.Len(t, s.Components, 1)
	assert.Equal(t, []string{"A", "B", "C"}, s.Components[0])
}

func TestSummarizePrefersHeavierEdges(t *testing.T) {
	// square with one heavy diagonal: forest keeps the three heaviest
	// acyclic edges
	g := graphFromEdges(t,
		Edge{A: "A", B: "B", Weight: 0.9},
		Edge{A: "B", B: "C", Weight: 0.2},
		Edge{A: "C", B: "D", Weight: 0.9},
		Edge{A: "A", B: "D", Weight: 0.3},
		Edge{A: "A", B: "C", Weight: 0.7},
	)

	s := Summarize(g)
	require.Len(t, s.Forest, 3)

	total := 0.0
	for _, e := range s.Forest {
		total += e.Weight
	}
	assert.InDelta(t, 0.9+0.9+0.7, total, 1e-9)
}

func TestSummarizeMultipleComponents(t *testing.T) {
	b := NewBuilder()
	require.NoError(t, b.AddEdge("A", "B", 0.8, EdgeAttrs{}))
	require.NoError(t, b.AddEdge("X", "Y", 0.6, EdgeAttrs{}))
	b.MarkQuery("lonely") // isolated seed node

	s := Summarize(b.Snapshot())
	require.Len(t, s.Components, 3)
	assert.Equal(t, []string{"A", "B"}, s.Components[0])
	assert.Equal(t, []string{"X", "Y"}, s.Components[1])
	assert.Equal(t, []string{"lonely"}, s.Components[2])
	assert.Len(t, s.Forest, 2)
}

func TestSummarizeEmptyGraph(t *testing.T) {
	s := Summarize(NewBuilder().Snapshot())
	assert.Empty(t, s.Forest)
	assert.Empty(t, s.Components)
}

func TestSummarizeDeterministic(t *testing.T) {
	g := graphFromEdges(t,
		Edge{A: "n1", B: "n2", Weight: 0.5},
		Edge{A: "n2", B: "n3", Weight: 0.5},
		Edge{A: "n1", B: "n3", Weight: 0.5},
		Edge{A: "n3", B: "n4", Weight: 0.5},
		Edge{A: "n4", B: "n5", Weight: 0.9},
	)

	first := Summarize(g)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Summarize(g))
	}
}
