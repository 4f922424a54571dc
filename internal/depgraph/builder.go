package depgraph

import (
	"sort"

	"github.com/GilbertoAbrao/wxcode-sub008/internal/artifact"
)

// Build turns artifacts and their aggregated dependency sets into a Model.
// Every name is resolved by exact match within its target kind; names that
// do not resolve become external placeholder nodes, created once per
// distinct name. An API family node that an unresolved name also points at
// is a placeholder too, whatever the artifact order. Artifacts without
// Dependencies contribute only their node (and INHERITS edge).
func Build(artifacts []artifact.Artifact) *Model {
	b := &builder{
		nodes: make(map[string]Node),
		edges: make(map[Edge]struct{}),
		known: make(map[string]bool, len(artifacts)),
	}

	for _, a := range artifacts {
		key := Key(KindOf(a.Kind), a.Name)
		b.known[key] = true
		b.addNode(Node{Key: key, Kind: KindOf(a.Kind), Name: a.Name})
	}

	for _, a := range artifacts {
		from := Key(KindOf(a.Kind), a.Name)
		if a.ParentClass != "" {
			b.link(from, NodeClass, a.ParentClass, RelInherits)
		}
		if a.Dependencies == nil {
			continue
		}
		d := a.Dependencies
		for _, name := range d.Calls {
			b.link(from, NodeProc, name, RelCalls)
		}
		for _, name := range d.UsesTables {
			b.link(from, NodeTable, name, RelUsesTable)
		}
		for _, name := range d.UsesClasses {
			b.link(from, NodeClass, name, RelUsesClass)
		}
		// API families are shared synthetic nodes, not unresolved names.
		for _, family := range d.UsesExternalAPIs {
			to := Key(NodeExternal, family)
			b.addNode(Node{Key: to, Kind: NodeExternal, Name: family})
			b.edges[Edge{From: from, To: to, Relation: RelCalls}] = struct{}{}
		}
	}

	return b.model()
}

type builder struct {
	nodes map[string]Node
	edges map[Edge]struct{}
	known map[string]bool
}

func (b *builder) addNode(n Node) {
	if _, ok := b.nodes[n.Key]; !ok {
		b.nodes[n.Key] = n
	}
}

func (b *builder) link(from string, kind NodeKind, name string, rel Relation) {
	to := Key(kind, name)
	if !b.known[to] {
		to = Key(NodeExternal, name)
		b.nodes[to] = Node{Key: to, Kind: NodeExternal, Name: name, Placeholder: true}
	}
	b.edges[Edge{From: from, To: to, Relation: rel}] = struct{}{}
}

func (b *builder) model() *Model {
	m := &Model{
		Nodes: make([]Node, 0, len(b.nodes)),
		Edges: make([]Edge, 0, len(b.edges)),
	}
	for _, n := range b.nodes {
		m.Nodes = append(m.Nodes, n)
	}
	m.Placeholders = CountPlaceholders(m.Nodes)
	for e := range b.edges {
		m.Edges = append(m.Edges, e)
	}
	sort.Slice(m.Nodes, func(i, j int) bool { return m.Nodes[i].Key < m.Nodes[j].Key })
	sortEdges(m.Edges)
	return m
}

func sortEdges(edges []Edge) {
	sort.Slice(edges, func(i, j int) bool {
		a, b := edges[i], edges[j]
		if a.From != b.From {
			return a.From < b.From
		}
		if a.Relation != b.Relation {
			return a.Relation < b.Relation
		}
		return a.To < b.To
	})
}
