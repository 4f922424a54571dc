package depgraph

import (
	"context"
	"sort"
	"strings"
)

// ctxCheckInterval is how many queue pops happen between deadline checks.
const ctxCheckInterval = 256

// Impacted is a dependent found by Impact with its minimal hop distance.
type Impacted struct {
	Node  Node `json:"node"`
	Depth int  `json:"depth"`
}

// Impact walks edges backwards from key and returns every dependent within
// maxDepth hops, sorted by depth then name. The start node is never part of
// the result, so Impact(key, 0) is empty.
func (idx *Index) Impact(ctx context.Context, key string, maxDepth int) ([]Impacted, error) {
	start, err := idx.lookup(key)
	if err != nil {
		return nil, err
	}
	out := []Impacted{}
	if maxDepth <= 0 {
		return out, nil
	}

	depth := make([]int, len(idx.nodes))
	for i := range depth {
		depth[i] = -1
	}
	depth[start] = 0
	queue := []int{start}
	for pops := 0; len(queue) > 0; pops++ {
		if pops%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		cur := queue[0]
		queue = queue[1:]
		if depth[cur] == maxDepth {
			continue
		}
		for _, e := range idx.in[cur] {
			src := idx.from[e]
			if depth[src] >= 0 {
				continue
			}
			depth[src] = depth[cur] + 1
			out = append(out, Impacted{Node: idx.nodes[src], Depth: depth[src]})
			queue = append(queue, src)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Depth != out[j].Depth {
			return out[i].Depth < out[j].Depth
		}
		if out[i].Node.Name != out[j].Node.Name {
			return out[i].Node.Name < out[j].Node.Name
		}
		return out[i].Node.Key < out[j].Node.Key
	})
	return out, nil
}

// PathOptions bounds Path.
type PathOptions struct {
	// MaxHops is the hop-count ceiling; zero means DefaultMaxPathHops.
	MaxHops int
	// MaxPaths caps the number of returned paths; zero means DefaultMaxPaths.
	MaxPaths int
}

// Path search defaults.
const (
	DefaultMaxPathHops = 12
	DefaultMaxPaths    = 64
)

// PathResult holds every shortest path found by Path.
type PathResult struct {
	Paths [][]Node `json:"paths"`
	Hops  int      `json:"hops"`
	// Truncated is set when MaxPaths cut the enumeration or when the
	// search gave up at MaxHops without reaching the target.
	Truncated bool `json:"truncated"`
}

// Path returns all shortest forward paths from one key to another. Paths
// include both endpoints and are sorted by their key sequence. An
// unreachable target yields an empty result, not an error.
func (idx *Index) Path(ctx context.Context, fromKey, toKey string, opts PathOptions) (PathResult, error) {
	src, err := idx.lookup(fromKey)
	if err != nil {
		return PathResult{}, err
	}
	dst, err := idx.lookup(toKey)
	if err != nil {
		return PathResult{}, err
	}
	if opts.MaxHops <= 0 {
		opts.MaxHops = DefaultMaxPathHops
	}
	if opts.MaxPaths <= 0 {
		opts.MaxPaths = DefaultMaxPaths
	}

	res := PathResult{Paths: [][]Node{}}
	if src == dst {
		res.Paths = append(res.Paths, []Node{idx.nodes[src]})
		return res, nil
	}

	// Level-synchronous BFS recording every predecessor on a shortest path.
	dist := make([]int, len(idx.nodes))
	for i := range dist {
		dist[i] = -1
	}
	preds := make([][]int, len(idx.nodes))
	dist[src] = 0
	frontier := []int{src}
	for level := 0; len(frontier) > 0 && dist[dst] < 0; level++ {
		if level == opts.MaxHops {
			res.Truncated = true
			return res, nil
		}
		if err := ctx.Err(); err != nil {
			return PathResult{}, err
		}
		var next []int
		for _, u := range frontier {
			for _, e := range idx.out[u] {
				v := idx.to[e]
				switch {
				case dist[v] < 0:
					dist[v] = level + 1
					preds[v] = append(preds[v], u)
					next = append(next, v)
				case dist[v] == level+1:
					if p := preds[v]; p[len(p)-1] != u {
						preds[v] = append(preds[v], u)
					}
				}
			}
		}
		frontier = next
	}
	if dist[dst] < 0 {
		return res, nil
	}
	res.Hops = dist[dst]

	// Enumerate predecessor chains back from dst with an explicit stack.
	stack := []pathFrame{{node: dst}}
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.node == src {
			path := make([]Node, len(stack))
			for i, f := range stack {
				path[len(stack)-1-i] = idx.nodes[f.node]
			}
			res.Paths = append(res.Paths, path)
			stack = stack[:len(stack)-1]
			if len(res.Paths) == opts.MaxPaths {
				res.Truncated = len(stack) > 0 && hasMore(stack, preds)
				break
			}
			continue
		}
		if top.next == len(preds[top.node]) {
			stack = stack[:len(stack)-1]
			continue
		}
		p := preds[top.node][top.next]
		top.next++
		stack = append(stack, pathFrame{node: p})
	}

	sort.Slice(res.Paths, func(i, j int) bool {
		a, b := res.Paths[i], res.Paths[j]
		for k := range a {
			if a[k].Key != b[k].Key {
				return a[k].Key < b[k].Key
			}
		}
		return false
	})
	return res, nil
}

type pathFrame struct {
	node int
	next int // next predecessor to explore
}

// hasMore reports whether any frame on the stack still has unexplored
// predecessors.
func hasMore(stack []pathFrame, preds [][]int) bool {
	for _, f := range stack {
		if f.next < len(preds[f.node]) {
			return true
		}
	}
	return false
}

// Hub is a node with its degrees.
type Hub struct {
	Node  Node `json:"node"`
	In    int  `json:"in"`
	Out   int  `json:"out"`
	Total int  `json:"total"`
}

// Hubs returns the non-external nodes whose in+out degree reaches
// minConnections, by descending total degree then ascending name.
func (idx *Index) Hubs(minConnections int) []Hub {
	out := []Hub{}
	for i, n := range idx.nodes {
		if n.Kind == NodeExternal {
			continue
		}
		h := Hub{Node: n, In: len(idx.in[i]), Out: len(idx.out[i])}
		h.Total = h.In + h.Out
		if h.Total >= minConnections {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Total != out[j].Total {
			return out[i].Total > out[j].Total
		}
		if out[i].Node.Name != out[j].Node.Name {
			return out[i].Node.Name < out[j].Node.Name
		}
		return out[i].Node.Key < out[j].Node.Key
	})
	return out
}

// EntryPoints names procedures that are invoked from outside the graph.
type EntryPoints struct {
	// Prefixes are matched case-insensitively against the node name.
	Prefixes []string
	// Names are matched exactly.
	Names []string
}

// DefaultEntryPoints returns the usual naming convention for handlers.
func DefaultEntryPoints() EntryPoints {
	return EntryPoints{Prefixes: []string{"API_", "Task_", "WS_", "Event_", "Main"}}
}

// Matches reports whether name is an entry point.
func (ep EntryPoints) Matches(name string) bool {
	for _, n := range ep.Names {
		if n == name {
			return true
		}
	}
	lower := strings.ToLower(name)
	for _, p := range ep.Prefixes {
		if p != "" && strings.HasPrefix(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

// DeadCode returns the proc nodes with no incoming CALLS edge, minus entry
// points, sorted by name. A self-call counts, so a recursive procedure is
// never reported.
func (idx *Index) DeadCode(ep EntryPoints) []Node {
	out := []Node{}
	for i, n := range idx.nodes {
		if n.Kind != NodeProc || ep.Matches(n.Name) {
			continue
		}
		called := false
		for _, e := range idx.in[i] {
			if idx.edges[e].Relation == RelCalls {
				called = true
				break
			}
		}
		if !called {
			out = append(out, n)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Stats computes graph metrics.
func (idx *Index) Stats() GraphStats {
	s := GraphStats{
		TotalNodes:      len(idx.nodes),
		TotalEdges:      len(idx.edges),
		NodesByKind:     make(map[NodeKind]int),
		EdgesByRelation: make(map[Relation]int),
	}
	best := -1
	for i, n := range idx.nodes {
		s.NodesByKind[n.Kind]++
		if n.Kind == NodeExternal {
			s.ExternalCount++
		}
		if len(idx.out[i]) > s.MaxFanOut {
			s.MaxFanOut = len(idx.out[i])
		}
		if len(idx.in[i]) > s.MaxFanIn {
			s.MaxFanIn = len(idx.in[i])
		}
		if total := len(idx.in[i]) + len(idx.out[i]); total > best && total > 0 {
			best = total
			s.HotspotNode = n.Key
		}
	}
	for _, e := range idx.edges {
		s.EdgesByRelation[e.Relation]++
	}
	s.ConnectedComponents = idx.countComponents()
	return s
}

// countComponents counts weakly connected components via union-find.
func (idx *Index) countComponents() int {
	parent := make([]int, len(idx.nodes))
	for i := range parent {
		parent[i] = i
	}
	find := func(x int) int {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}
	components := len(idx.nodes)
	for e := range idx.edges {
		a, b := find(idx.from[e]), find(idx.to[e])
		if a != b {
			parent[a] = b
			components--
		}
	}
	return components
}
