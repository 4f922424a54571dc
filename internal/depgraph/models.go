package depgraph

import (
	"errors"
	"fmt"
	"strings"

	"github.com/GilbertoAbrao/wxcode-sub008/internal/artifact"
)

// ErrNodeNotFound is returned when a query names a key absent from the graph.
var ErrNodeNotFound = errors.New("node not found")

// Node represents a node in the dependency graph
type Node struct {
	Key  string   `json:"key"`
	Kind NodeKind `json:"kind"`
	Name string   `json:"name"`
	// Layer is the migration phase (schema, domain, service, route).
	Layer string `json:"layer,omitempty"`
	// TopologicalOrder is nil until the node has been sequenced.
	TopologicalOrder *int `json:"topological_order"`
	CycleWarning     bool `json:"cycle_warning,omitempty"`
	// Placeholder marks an external node standing for a name that did not
	// resolve to any artifact.
	Placeholder bool `json:"placeholder,omitempty"`
}

// NodeKind classifies graph nodes
type NodeKind string

const (
	NodeTable    NodeKind = "table"
	NodeClass    NodeKind = "class"
	NodeProc     NodeKind = "proc"
	NodePage     NodeKind = "page"
	NodeQuery    NodeKind = "query"
	NodeExternal NodeKind = "external"
)

// NodeKinds lists every node kind.
var NodeKinds = []NodeKind{NodeTable, NodeClass, NodeProc, NodePage, NodeQuery, NodeExternal}

// KindOf maps an artifact kind onto its node kind.
func KindOf(k artifact.Kind) NodeKind {
	switch k {
	case artifact.KindTable:
		return NodeTable
	case artifact.KindClass:
		return NodeClass
	case artifact.KindProcedure:
		return NodeProc
	case artifact.KindPage:
		return NodePage
	case artifact.KindQuery:
		return NodeQuery
	}
	return NodeExternal
}

// Key builds the composite "{kind}:{name}" node key.
func Key(kind NodeKind, name string) string {
	return string(kind) + ":" + name
}

// ParseKey splits a node key. The name may itself contain colons.
func ParseKey(key string) (NodeKind, string, error) {
	kind, name, ok := strings.Cut(key, ":")
	if !ok || name == "" {
		return "", "", fmt.Errorf("malformed node key %q", key)
	}
	for _, k := range NodeKinds {
		if NodeKind(kind) == k {
			return k, name, nil
		}
	}
	return "", "", fmt.Errorf("malformed node key %q: unknown kind %q", key, kind)
}

// Edge represents a directed edge between two nodes. From depends on To.
type Edge struct {
	From     string   `json:"from"`
	To       string   `json:"to"`
	Relation Relation `json:"relation"`
}

// Relation classifies relationships
type Relation string

const (
	RelCalls     Relation = "CALLS"
	RelInherits  Relation = "INHERITS"
	RelUsesTable Relation = "USES_TABLE"
	RelUsesClass Relation = "USES_CLASS"
)

// Relations lists every relation type.
var Relations = []Relation{RelCalls, RelInherits, RelUsesTable, RelUsesClass}

// Model is the canonical node and edge set of one project, as handed to
// the graph store.
type Model struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
	// Placeholders counts external nodes created for unresolved names.
	Placeholders int `json:"placeholders"`
}

// CountPlaceholders returns the number of placeholder nodes.
func CountPlaceholders(nodes []Node) int {
	n := 0
	for _, node := range nodes {
		if node.Placeholder {
			n++
		}
	}
	return n
}

// GraphStats holds computed metrics about the graph
type GraphStats struct {
	TotalNodes          int              `json:"total_nodes"`
	TotalEdges          int              `json:"total_edges"`
	NodesByKind         map[NodeKind]int `json:"nodes_by_kind"`
	EdgesByRelation     map[Relation]int `json:"edges_by_relation"`
	ExternalCount       int              `json:"external_count"`
	MaxFanOut           int              `json:"max_fan_out"`
	MaxFanIn            int              `json:"max_fan_in"`
	HotspotNode         string           `json:"hotspot_node"` // node with most connections
	ConnectedComponents int              `json:"connected_components"`
}
