package depgraph

import (
	"sort"
)

// Index is an arena representation of a graph: nodes live in one slice
// sorted by key and adjacency is kept as lists of edge positions. Traversals
// work on integer positions only, so cycles never create reference loops.
//
// An Index is immutable after NewIndex and safe for concurrent reads.
type Index struct {
	nodes []Node
	pos   map[string]int

	edges []Edge
	from  []int // edge position -> source node position
	to    []int // edge position -> target node position
	out   [][]int
	in    [][]int
}

// NewIndex builds an Index. Duplicate nodes and edges are collapsed and
// edges whose endpoints are unknown are dropped.
func NewIndex(nodes []Node, edges []Edge) *Index {
	idx := &Index{pos: make(map[string]int, len(nodes))}

	sorted := make([]Node, 0, len(nodes))
	seen := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		if seen[n.Key] {
			continue
		}
		seen[n.Key] = true
		sorted = append(sorted, n)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })
	idx.nodes = sorted
	for i, n := range sorted {
		idx.pos[n.Key] = i
	}

	es := make([]Edge, 0, len(edges))
	dedup := make(map[Edge]bool, len(edges))
	for _, e := range edges {
		if dedup[e] {
			continue
		}
		if _, ok := idx.pos[e.From]; !ok {
			continue
		}
		if _, ok := idx.pos[e.To]; !ok {
			continue
		}
		dedup[e] = true
		es = append(es, e)
	}
	sortEdges(es)

	idx.edges = es
	idx.from = make([]int, len(es))
	idx.to = make([]int, len(es))
	idx.out = make([][]int, len(sorted))
	idx.in = make([][]int, len(sorted))
	for i, e := range es {
		f, t := idx.pos[e.From], idx.pos[e.To]
		idx.from[i], idx.to[i] = f, t
		idx.out[f] = append(idx.out[f], i)
		idx.in[t] = append(idx.in[t], i)
	}
	// out lists follow edge order (from, relation, to); in lists are
	// re-sorted by source so traversals visit neighbours by key.
	for _, list := range idx.in {
		sort.SliceStable(list, func(a, b int) bool { return idx.from[list[a]] < idx.from[list[b]] })
	}
	for _, list := range idx.out {
		sort.SliceStable(list, func(a, b int) bool { return idx.to[list[a]] < idx.to[list[b]] })
	}
	return idx
}

// IndexModel indexes a built model.
func IndexModel(m *Model) *Index {
	return NewIndex(m.Nodes, m.Edges)
}

// Len returns the number of nodes.
func (idx *Index) Len() int { return len(idx.nodes) }

// EdgeCount returns the number of distinct edges.
func (idx *Index) EdgeCount() int { return len(idx.edges) }

// Node looks up a node by key.
func (idx *Index) Node(key string) (Node, bool) {
	i, ok := idx.pos[key]
	if !ok {
		return Node{}, false
	}
	return idx.nodes[i], true
}

// Nodes returns a copy of the nodes in key order.
func (idx *Index) Nodes() []Node {
	return append([]Node(nil), idx.nodes...)
}

// Edges returns a copy of the edges.
func (idx *Index) Edges() []Edge {
	return append([]Edge(nil), idx.edges...)
}

func (idx *Index) lookup(key string) (int, error) {
	i, ok := idx.pos[key]
	if !ok {
		return 0, &NotFoundError{Key: key}
	}
	return i, nil
}

// NotFoundError names the missing key; it matches ErrNodeNotFound.
type NotFoundError struct {
	Key string
}

func (e *NotFoundError) Error() string { return "node not found: " + e.Key }

func (e *NotFoundError) Is(target error) bool { return target == ErrNodeNotFound }
