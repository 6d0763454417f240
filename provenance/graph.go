package provenance

import (
	"sort"

	"github.com/researchintegrity/elis-backend/descriptor"
	"github.com/researchintegrity/elis-backend/errors"
)

// Node is one image in a provenance graph
type Node struct {
	ImageID string `json:"image_id"`
	IsQuery bool   `json:"is_query"` // true for seed images
}

// Edge is a verified match between an unordered pair of images.
// Endpoints are stored in lexicographic order (A < B).
type Edge struct {
	A             string             `json:"a"`
	B             string             `json:"b"`
	Weight        float64            `json:"weight"` // match confidence, 0-1
	SharedArea    float64            `json:"shared_area"`
	KeypointCount int                `json:"keypoint_count"`
	IsFlipped     bool               `json:"is_flipped"`
	Variant       descriptor.Variant `json:"variant"`
}

// pairKey identifies an unordered endpoint pair
type pairKey struct {
	a, b string
}

func keyFor(a, b string) pairKey {
	if b < a {
		a, b = b, a
	}
	return pairKey{a: a, b: b}
}

// EdgeAttrs carries the verification attributes of a candidate edge
type EdgeAttrs struct {
	SharedArea    float64
	KeypointCount int
	IsFlipped     bool
	Variant       descriptor.Variant
}

// Graph is an immutable snapshot of a builder. Nodes and edges are sorted
// lexicographically so identical builds serialize identically.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// HasNode reports whether the image appears in the graph
func (g *Graph) HasNode(imageID string) bool {
	for _, n := range g.Nodes {
		if n.ImageID == imageID {
			return true
		}
	}
	return false
}

// Builder accumulates nodes and edges during a single traversal.
// It retains at most one edge per unordered pair: the highest-weight
// verified result seen during the run. Not safe for concurrent use; each
// traversal owns exactly one builder.
type Builder struct {
	nodes map[string]bool // imageID -> isQuery
	edges map[pairKey]Edge
}

// NewBuilder creates an empty graph builder
func NewBuilder() *Builder {
	return &Builder{
		nodes: make(map[string]bool),
		edges: make(map[pairKey]Edge),
	}
}

// MarkQuery flags an image as a seed node, adding it if absent
func (b *Builder) MarkQuery(imageID string) {
	b.nodes[imageID] = true
}

// AddEdge records a verified match between a and b. If the pair already has
// an edge, the new result replaces it only when its weight is greater or
// equal; edges are never removed or downgraded during a run.
func (b *Builder) AddEdge(a, bID string, weight float64, attrs EdgeAttrs) error {
	if a == bID {
		return errors.Newf("self-edge rejected: %s", a)
	}

	key := keyFor(a, bID)
	if existing, ok := b.edges[key]; ok && existing.Weight > weight {
		return nil
	}

	b.edges[key] = Edge{
		A:             key.a,
		B:             key.b,
		Weight:        weight,
		SharedArea:    attrs.SharedArea,
		KeypointCount: attrs.KeypointCount,
		IsFlipped:     attrs.IsFlipped,
		Variant:       attrs.Variant,
	}

	if _, ok := b.nodes[a]; !ok {
		b.nodes[a] = false
	}
	if _, ok := b.nodes[bID]; !ok {
		b.nodes[bID] = false
	}

	return nil
}

// HasEdge reports whether an edge exists between the unordered pair
func (b *Builder) HasEdge(a, bID string) bool {
	_, ok := b.edges[keyFor(a, bID)]
	return ok
}

// NodeCount returns the number of nodes recorded so far
func (b *Builder) NodeCount() int {
	return len(b.nodes)
}

// EdgeCount returns the number of retained edges
func (b *Builder) EdgeCount() int {
	return len(b.edges)
}

// Snapshot returns an immutable, deterministically ordered view of the
// graph built so far
func (b *Builder) Snapshot() *Graph {
	g := &Graph{
		Nodes: make([]Node, 0, len(b.nodes)),
		Edges: make([]Edge, 0, len(b.edges)),
	}

	for id, isQuery := range b.nodes {
		g.Nodes = append(g.Nodes, Node{ImageID: id, IsQuery: isQuery})
	}
	sort.Slice(g.Nodes, func(i, j int) bool { return g.Nodes[i].ImageID < g.Nodes[j].ImageID })

	for _, e := range b.edges {
		g.Edges = append(g.Edges, e)
	}
	sort.Slice(g.Edges, func(i, j int) bool {
		if g.Edges[i].A != g.Edges[j].A {
			return g.Edges[i].A < g.Edges[j].A
		}
		return g.Edges[i].B < g.Edges[j].B
	})

	return g
}
