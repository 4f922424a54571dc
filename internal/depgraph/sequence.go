package depgraph

import (
	"container/heap"
	"sort"
)

// Layer is a migration phase. Lower ranks are migrated first.
type Layer struct {
	Name string `json:"name"`
	Rank int    `json:"rank"`
}

// LayerPolicy assigns each node kind to a layer.
type LayerPolicy map[NodeKind]Layer

// DefaultLayerPolicy is table < class < proc < page/query. External nodes
// have no code to migrate and sit with the schema.
func DefaultLayerPolicy() LayerPolicy {
	return LayerPolicy{
		NodeTable:    {Name: "schema", Rank: 0},
		NodeExternal: {Name: "external", Rank: 0},
		NodeClass:    {Name: "domain", Rank: 1},
		NodeProc:     {Name: "service", Rank: 2},
		NodePage:     {Name: "route", Rank: 3},
		NodeQuery:    {Name: "route", Rank: 3},
	}
}

// WithRanks returns a copy of p with the ranks of the named kinds replaced.
// Unknown kinds are ignored.
func (p LayerPolicy) WithRanks(ranks map[string]int) LayerPolicy {
	out := make(LayerPolicy, len(p))
	for k, l := range p {
		out[k] = l
	}
	for kind, rank := range ranks {
		if l, ok := out[NodeKind(kind)]; ok {
			l.Rank = rank
			out[NodeKind(kind)] = l
		}
	}
	return out
}

func (p LayerPolicy) layerOf(kind NodeKind) Layer {
	if l, ok := p[kind]; ok {
		return l
	}
	maxRank := 0
	for _, l := range p {
		if l.Rank > maxRank {
			maxRank = l.Rank
		}
	}
	return Layer{Name: "unassigned", Rank: maxRank + 1}
}

// Sequence is the outcome of TopologicalSequence.
type Sequence struct {
	// Nodes in migration order, annotated with Layer, TopologicalOrder and
	// CycleWarning.
	Nodes []Node `json:"nodes"`
	// Cycles lists the keys ordered on a best-effort basis.
	Cycles []string `json:"cycles"`
}

// TopologicalSequence orders every node so that dependencies come before
// dependents. Nodes are processed layer by layer; within a layer Kahn's
// algorithm runs over the intra-layer edges, picking the smallest key among
// ready nodes. Edges into a later layer are ignored and edges into an
// earlier layer are already satisfied.
//
// When Kahn's algorithm stalls, the remaining nodes are split into strongly
// connected components. The component that depends on no other remaining
// component and holds the smallest key is emitted in depth-first discovery
// order with cycle warnings, its dependents are released and Kahn's
// algorithm resumes. Only members of a cycle get a warning; a self-call is
// not a cycle. The computation never fails.
func (idx *Index) TopologicalSequence(policy LayerPolicy) Sequence {
	if policy == nil {
		policy = DefaultLayerPolicy()
	}

	layers := make([]Layer, len(idx.nodes))
	byRank := make(map[int][]int)
	for i, n := range idx.nodes {
		layers[i] = policy.layerOf(n.Kind)
		byRank[layers[i].Rank] = append(byRank[layers[i].Rank], i)
	}
	ranks := make([]int, 0, len(byRank))
	for r := range byRank {
		ranks = append(ranks, r)
	}
	sort.Ints(ranks)

	seq := Sequence{Nodes: make([]Node, 0, len(idx.nodes)), Cycles: []string{}}
	emit := func(i int, cyclic bool) {
		n := idx.nodes[i]
		order := len(seq.Nodes)
		n.Layer = layers[i].Name
		n.TopologicalOrder = &order
		n.CycleWarning = cyclic
		seq.Nodes = append(seq.Nodes, n)
		if cyclic {
			seq.Cycles = append(seq.Cycles, n.Key)
		}
	}

	for _, rank := range ranks {
		members := byRank[rank]
		inLayer := func(j int) bool { return layers[j].Rank == rank }

		// pending[i] counts distinct intra-layer dependencies of i.
		pending := make(map[int]int, len(members))
		for _, i := range members {
			seen := make(map[int]bool)
			for _, e := range idx.out[i] {
				t := idx.to[e]
				if t != i && inLayer(t) && !seen[t] {
					seen[t] = true
					pending[i]++
				}
			}
		}

		ready := &keyHeap{}
		for _, i := range members {
			if pending[i] == 0 {
				heap.Push(ready, i)
			}
		}
		done := make(map[int]bool, len(members))
		remaining := func(j int) bool { return inLayer(j) && !done[j] }
		release := func(i int) {
			for _, d := range idx.dependents(i, remaining) {
				pending[d]--
				if pending[d] == 0 {
					heap.Push(ready, d)
				}
			}
		}

		var comp map[int]int
		for {
			for ready.Len() > 0 {
				i := heap.Pop(ready).(int)
				done[i] = true
				emit(i, false)
				release(i)
			}
			if len(done) == len(members) {
				break
			}

			// components of the stalled nodes stay valid for later stalls
			if comp == nil {
				comp = idx.components(members, remaining)
			}
			c := idx.sourceComponent(members, comp, remaining)
			var scc []int
			for _, i := range members {
				if remaining(i) && comp[i] == c {
					scc = append(scc, i)
				}
			}
			inSCC := func(j int) bool { return remaining(j) && comp[j] == c }
			for _, i := range idx.discoveryOrder(scc, done, inSCC) {
				emit(i, len(scc) > 1)
			}
			for _, i := range scc {
				done[i] = true
			}
			for _, i := range scc {
				release(i)
			}
		}
	}
	return seq
}

// components labels the strongly connected components of the members
// accepted by keep, following dependency edges and ignoring self-loops.
// It is Tarjan's algorithm with an explicit call stack.
func (idx *Index) components(members []int, keep func(int) bool) map[int]int {
	index := make(map[int]int)
	low := make(map[int]int)
	onStack := make(map[int]bool)
	comp := make(map[int]int)
	var stack []int
	next, ncomp := 0, 0

	visit := func(v int) {
		index[v] = next
		low[v] = next
		next++
		stack = append(stack, v)
		onStack[v] = true
	}

	type frame struct {
		node int
		pos  int
	}
	for _, root := range members {
		if _, seen := index[root]; seen || !keep(root) {
			continue
		}
		visit(root)
		call := []frame{{node: root}}
		for len(call) > 0 {
			top := &call[len(call)-1]
			v := top.node
			if top.pos < len(idx.out[v]) {
				t := idx.to[idx.out[v][top.pos]]
				top.pos++
				if t == v || !keep(t) {
					continue
				}
				if _, seen := index[t]; !seen {
					visit(t)
					call = append(call, frame{node: t})
				} else if onStack[t] && index[t] < low[v] {
					low[v] = index[t]
				}
				continue
			}

			call = call[:len(call)-1]
			if len(call) > 0 {
				if p := call[len(call)-1].node; low[v] < low[p] {
					low[p] = low[v]
				}
			}
			if low[v] == index[v] {
				for {
					w := stack[len(stack)-1]
					stack = stack[:len(stack)-1]
					onStack[w] = false
					comp[w] = ncomp
					if w == v {
						break
					}
				}
				ncomp++
			}
		}
	}
	return comp
}

// sourceComponent returns the component of the remaining members that has
// no dependency on another remaining component, choosing the one holding
// the smallest key when several qualify. One always exists because the
// components form a DAG.
func (idx *Index) sourceComponent(members []int, comp map[int]int, remaining func(int) bool) int {
	blocked := make(map[int]bool)
	for _, i := range members {
		if !remaining(i) {
			continue
		}
		for _, e := range idx.out[i] {
			if t := idx.to[e]; t != i && remaining(t) && comp[t] != comp[i] {
				blocked[comp[i]] = true
				break
			}
		}
	}
	best := -1
	for _, i := range members {
		if remaining(i) && !blocked[comp[i]] && (best < 0 || i < best) {
			best = i
		}
	}
	return comp[best]
}

// dependents returns the distinct nodes with an edge into i that satisfy
// keep, excluding i itself, in key order.
func (idx *Index) dependents(i int, keep func(int) bool) []int {
	var out []int
	last := -1
	for _, e := range idx.in[i] {
		f := idx.from[e]
		if f == i || f == last || !keep(f) {
			continue
		}
		last = f
		out = append(out, f)
	}
	return out
}

const (
	colorWhite = iota
	colorGray
	colorBlack
)

// discoveryOrder returns the members not in done, in depth-first preorder
// along dependent edges, starting roots in key order. It is iterative and
// uses a three-color marker so cycles terminate.
func (idx *Index) discoveryOrder(members []int, done map[int]bool, keep func(int) bool) []int {
	remaining := func(j int) bool { return keep(j) && !done[j] }
	color := make(map[int]int)
	roots := make([]int, 0, len(members))
	for _, i := range members {
		if !done[i] {
			roots = append(roots, i)
		}
	}
	sort.Ints(roots) // positions are key-ordered

	type frame struct {
		node int
		next []int
	}
	var order []int
	for _, r := range roots {
		if color[r] != colorWhite {
			continue
		}
		color[r] = colorGray
		order = append(order, r)
		stack := []frame{{node: r, next: idx.dependents(r, remaining)}}
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			if len(top.next) == 0 {
				color[top.node] = colorBlack
				stack = stack[:len(stack)-1]
				continue
			}
			n := top.next[0]
			top.next = top.next[1:]
			if color[n] != colorWhite {
				continue
			}
			color[n] = colorGray
			order = append(order, n)
			stack = append(stack, frame{node: n, next: idx.dependents(n, remaining)})
		}
	}
	return order
}

// keyHeap is a min-heap of node positions; positions follow key order.
type keyHeap struct {
	items []int
}

func (h *keyHeap) Len() int           { return len(h.items) }
func (h *keyHeap) Less(i, j int) bool { return h.items[i] < h.items[j] }
func (h *keyHeap) Swap(i, j int)      { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *keyHeap) Push(x any)         { h.items = append(h.items, x.(int)) }
func (h *keyHeap) Pop() any {
	old := h.items
	n := len(old)
	x := old[n-1]
	h.items = old[:n-1]
	return x
}

// Annotate copies Layer, TopologicalOrder and CycleWarning from seq onto
// the matching nodes of m.
func (m *Model) Annotate(seq Sequence) {
	byKey := make(map[string]Node, len(seq.Nodes))
	for _, n := range seq.Nodes {
		byKey[n.Key] = n
	}
	for i := range m.Nodes {
		if s, ok := byKey[m.Nodes[i].Key]; ok {
			m.Nodes[i].Layer = s.Layer
			m.Nodes[i].TopologicalOrder = s.TopologicalOrder
			m.Nodes[i].CycleWarning = s.CycleWarning
		}
	}
}
