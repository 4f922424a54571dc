package depgraph

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// ExportDOT generates a Graphviz DOT representation of the model, one
// cluster per layer.
func ExportDOT(m *Model) string {
	var b strings.Builder
	b.WriteString("digraph dependencies {\n")
	b.WriteString("  rankdir=LR;\n")
	b.WriteString("  node [fontname=\"Helvetica\"];\n")
	b.WriteString("  edge [fontname=\"Helvetica\" fontsize=10];\n\n")

	for _, group := range groupByLayer(m.Nodes) {
		b.WriteString(fmt.Sprintf("  subgraph cluster_%s {\n", sanitizeID(group.layer)))
		b.WriteString(fmt.Sprintf("    label=%q;\n", group.layer))
		b.WriteString("    style=dashed;\n")
		b.WriteString("    color=\"#58a6ff\";\n")
		for _, n := range group.nodes {
			extra := ""
			if n.CycleWarning {
				extra = " penwidth=2 color=\"#f85149\""
			}
			b.WriteString(fmt.Sprintf("    %q [label=%q shape=%s style=filled fillcolor=\"%s\"%s];\n",
				n.Key, n.Name, nodeShape(n.Kind), nodeColor(n.Kind), extra))
		}
		b.WriteString("  }\n\n")
	}

	for _, e := range m.Edges {
		b.WriteString(fmt.Sprintf("  %q -> %q [style=%s color=\"%s\" label=%q];\n",
			e.From, e.To, edgeStyle(e.Relation), edgeColor(e.Relation), string(e.Relation)))
	}

	b.WriteString("}\n")
	return b.String()
}

// ExportMermaid generates a Mermaid diagram of the model.
func ExportMermaid(m *Model) string {
	var b strings.Builder
	b.WriteString("graph LR\n")

	for _, group := range groupByLayer(m.Nodes) {
		b.WriteString(fmt.Sprintf("  subgraph %s\n", sanitizeID(group.layer)))
		for _, n := range group.nodes {
			b.WriteString(fmt.Sprintf("    %s%s\n", sanitizeID(n.Key), mermaidNodeShape(n)))
		}
		b.WriteString("  end\n")
	}

	for _, e := range m.Edges {
		b.WriteString(fmt.Sprintf("  %s %s|%s| %s\n",
			sanitizeID(e.From), mermaidArrow(e.Relation), e.Relation, sanitizeID(e.To)))
	}

	return b.String()
}

// ExportJSON serializes the model to JSON.
func ExportJSON(m *Model) ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}

// FormatStats returns a human-readable summary of graph statistics.
func FormatStats(s GraphStats) string {
	var b strings.Builder
	b.WriteString("Dependency Graph Statistics\n")
	b.WriteString("==========================\n\n")
	b.WriteString(fmt.Sprintf("Nodes:       %d total\n", s.TotalNodes))
	for _, k := range NodeKinds {
		if c := s.NodesByKind[k]; c > 0 {
			b.WriteString(fmt.Sprintf("  %-10s %d\n", k+":", c))
		}
	}
	b.WriteString(fmt.Sprintf("Edges:       %d total\n", s.TotalEdges))
	for _, r := range Relations {
		if c := s.EdgesByRelation[r]; c > 0 {
			b.WriteString(fmt.Sprintf("  %-11s %d\n", r+":", c))
		}
	}
	b.WriteString(fmt.Sprintf("Max Fan-Out: %d\n", s.MaxFanOut))
	b.WriteString(fmt.Sprintf("Max Fan-In:  %d\n", s.MaxFanIn))
	if s.HotspotNode != "" {
		b.WriteString(fmt.Sprintf("Hotspot:     %s\n", s.HotspotNode))
	}
	b.WriteString(fmt.Sprintf("Components:  %d\n", s.ConnectedComponents))
	return b.String()
}

type layerGroup struct {
	layer string
	nodes []Node
}

// groupByLayer groups nodes by layer, ordering groups by the smallest
// topological order they contain and unsequenced nodes last.
func groupByLayer(nodes []Node) []layerGroup {
	pos := make(map[string]int)
	var groups []layerGroup
	for _, n := range nodes {
		layer := n.Layer
		if layer == "" {
			layer = "unsequenced"
		}
		i, ok := pos[layer]
		if !ok {
			i = len(groups)
			pos[layer] = i
			groups = append(groups, layerGroup{layer: layer})
		}
		groups[i].nodes = append(groups[i].nodes, n)
	}
	first := func(g layerGroup) int {
		best := -1
		for _, n := range g.nodes {
			if n.TopologicalOrder != nil && (best < 0 || *n.TopologicalOrder < best) {
				best = *n.TopologicalOrder
			}
		}
		if best < 0 {
			return int(^uint(0) >> 1)
		}
		return best
	}
	sort.SliceStable(groups, func(i, j int) bool { return first(groups[i]) < first(groups[j]) })
	return groups
}

func sanitizeID(s string) string {
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			return r
		}
		return '_'
	}, s)
}

func nodeShape(kind NodeKind) string {
	switch kind {
	case NodeTable:
		return "cylinder"
	case NodeClass:
		return "box3d"
	case NodeProc:
		return "box"
	case NodePage:
		return "tab"
	case NodeQuery:
		return "ellipse"
	case NodeExternal:
		return "diamond"
	default:
		return "box"
	}
}

func nodeColor(kind NodeKind) string {
	switch kind {
	case NodeTable:
		return "#d29922"
	case NodeClass:
		return "#8957e5"
	case NodeProc:
		return "#238636"
	case NodePage:
		return "#1f6feb"
	case NodeQuery:
		return "#58a6ff"
	case NodeExternal:
		return "#8b949e"
	default:
		return "#30363d"
	}
}

func edgeStyle(rel Relation) string {
	switch rel {
	case RelCalls:
		return "solid"
	case RelInherits:
		return "bold"
	case RelUsesTable:
		return "dashed"
	case RelUsesClass:
		return "dotted"
	default:
		return "solid"
	}
}

func edgeColor(rel Relation) string {
	switch rel {
	case RelCalls:
		return "#3fb950"
	case RelInherits:
		return "#f85149"
	case RelUsesTable:
		return "#d29922"
	case RelUsesClass:
		return "#8957e5"
	default:
		return "#c9d1d9"
	}
}

func mermaidNodeShape(n Node) string {
	switch n.Kind {
	case NodeTable:
		return fmt.Sprintf("[(\"%s\")]", n.Name)
	case NodeClass:
		return fmt.Sprintf("[[\"%s\"]]", n.Name)
	case NodeQuery:
		return fmt.Sprintf("([\"%s\"])", n.Name)
	case NodeExternal:
		return fmt.Sprintf("{\"%s\"}", n.Name)
	default:
		return fmt.Sprintf("[\"%s\"]", n.Name)
	}
}

func mermaidArrow(rel Relation) string {
	switch rel {
	case RelInherits:
		return "==>"
	case RelUsesTable, RelUsesClass:
		return "-.->"
	default:
		return "-->"
	}
}
