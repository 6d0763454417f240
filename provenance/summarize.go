package provenance

import "sort"

// Summary is the derived structure over a finished provenance graph: the
// maximum-weight spanning forest and the connected-component partition.
type Summary struct {
	// Forest holds the spanning-forest edges, in acceptance order
	Forest []Edge `json:"forest"`

	// Components lists each connected component as a sorted slice of
	// image IDs, ordered by first member
	Components [][]string `json:"components"`
}

// disjointSet is a union-find structure with path compression and
// union by rank
type disjointSet struct {
	parent map[string]string
	rank   map[string]int
}

func newDisjointSet() *disjointSet {
	return &disjointSet{
		parent: make(map[string]string),
		rank:   make(map[string]int),
	}
}

func (d *disjointSet) add(id string) {
	if _, ok := d.parent[id]; !ok {
		d.parent[id] = id
	}
}

func (d *disjointSet) find(id string) string {
	root := id
	for d.parent[root] != root {
		root = d.parent[root]
	}
	for d.parent[id] != root {
		d.parent[id], id = root, d.parent[id]
	}
	return root
}

// union merges the sets containing a and b, returning false when they
// were already in the same set
func (d *disjointSet) union(a, b string) bool {
	ra, rb := d.find(a), d.find(b)
	if ra == rb {
		return false
	}
	if d.rank[ra] < d.rank[rb] {
		ra, rb = rb, ra
	}
	d.parent[rb] = ra
	if d.rank[ra] == d.rank[rb] {
		d.rank[ra]++
	}
	return true
}

// Summarize computes the connected components and the maximum-weight
// spanning forest of a graph. Deterministic: repeated calls over an
// identical graph yield an identical summary. Equal-weight edges are
// accepted in lexicographic endpoint order, so discovery order during
// traversal never changes the selected forest.
func Summarize(g *Graph) *Summary {
	sets := newDisjointSet()
	for _, n := range g.Nodes {
		sets.add(n.ImageID)
	}
	for _, e := range g.Edges {
		sets.add(e.A)
		sets.add(e.B)
	}

	// Kruskal for maximum weight: sort descending, tie-break on the
	// lexicographic pair order, accept edges joining separate sets
	edges := make([]Edge, len(g.Edges))
	copy(edges, g.Edges)
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Weight != edges[j].Weight {
			return edges[i].Weight > edges[j].Weight
		}
		if edges[i].A != edges[j].A {
			return edges[i].A < edges[j].A
		}
		return edges[i].B < edges[j].B
	})

	forest := make([]Edge, 0, len(edges))
	for _, e := range edges {
		if sets.union(e.A, e.B) {
			forest = append(forest, e)
		}
	}

	byRoot := make(map[string][]string)
	for _, n := range g.Nodes {
		root := sets.find(n.ImageID)
		byRoot[root] = append(byRoot[root], n.ImageID)
	}

	components := make([][]string, 0, len(byRoot))
	for _, members := range byRoot {
		sort.Strings(members)
		components = append(components, members)
	}
	sort.Slice(components, func(i, j int) bool { return components[i][0] < components[j][0] })

	return &Summary{Forest: forest, Components: components}
}
