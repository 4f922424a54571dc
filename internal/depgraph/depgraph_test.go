package depgraph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/GilbertoAbrao/wxcode-sub008/internal/artifact"
)

// --- helpers ---

func deps(calls, tables, classes, apis []string) *artifact.DependencySet {
	d := artifact.NewDependencySet(calls, tables, classes, apis)
	return &d
}

func proc(name string, calls ...string) artifact.Artifact {
	return artifact.Artifact{Kind: artifact.KindProcedure, Name: name, Dependencies: deps(calls, nil, nil, nil)}
}

func table(name string) artifact.Artifact {
	return artifact.Artifact{Kind: artifact.KindTable, Name: name}
}

// cadastro is the customer-registration slice of a WebDev project.
func cadastro() []artifact.Artifact {
	return []artifact.Artifact{
		table("CLIENTE"),
		table("PEDIDO"),
		{Kind: artifact.KindClass, Name: "Pessoa"},
		{Kind: artifact.KindClass, Name: "Cliente", ParentClass: "Pessoa",
			Dependencies: deps(nil, []string{"CLIENTE"}, nil, nil)},
		{Kind: artifact.KindProcedure, Name: "CadastrarCliente",
			Dependencies: deps([]string{"ValidarCPF"}, []string{"CLIENTE"}, nil, nil)},
		proc("ValidarCPF"),
		{Kind: artifact.KindProcedure, Name: "API_NovoPedido",
			Dependencies: deps([]string{"CadastrarCliente", "EnviarEmail"}, []string{"PEDIDO"}, []string{"Cliente"}, []string{"REST"})},
		proc("ProcOrfa"),
		{Kind: artifact.KindPage, Name: "PAGE_Cliente",
			Dependencies: deps([]string{"CadastrarCliente"}, nil, []string{"Cliente"}, nil)},
		{Kind: artifact.KindQuery, Name: "QRY_Clientes",
			Dependencies: deps(nil, []string{"CLIENTE"}, nil, nil)},
	}
}

func index(arts []artifact.Artifact) *Index {
	return IndexModel(Build(arts))
}

func keys(nodes []Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.Key
	}
	return out
}

func hasEdge(m *Model, from, to string, rel Relation) bool {
	for _, e := range m.Edges {
		if e.From == from && e.To == to && e.Relation == rel {
			return true
		}
	}
	return false
}

// --- model ---

func TestKeys(t *testing.T) {
	if got := Key(NodeProc, "ValidarCPF"); got != "proc:ValidarCPF" {
		t.Errorf("Key = %q", got)
	}
	kind, name, err := ParseKey("external:ns:Thing")
	if err != nil || kind != NodeExternal || name != "ns:Thing" {
		t.Errorf("ParseKey = %q %q %v", kind, name, err)
	}
	for _, bad := range []string{"", "proc", "proc:", "widget:X"} {
		if _, _, err := ParseKey(bad); err == nil {
			t.Errorf("ParseKey(%q) should fail", bad)
		}
	}
	if KindOf(artifact.KindProcedure) != NodeProc {
		t.Error("procedure artifacts map to proc nodes")
	}
}

// --- builder ---

func TestBuild_Empty(t *testing.T) {
	m := Build(nil)
	if len(m.Nodes) != 0 || len(m.Edges) != 0 || m.Placeholders != 0 {
		t.Errorf("expected empty model, got %+v", m)
	}
}

func TestBuild_CadastrarCliente(t *testing.T) {
	m := Build(cadastro())

	if !hasEdge(m, "proc:CadastrarCliente", "proc:ValidarCPF", RelCalls) {
		t.Error("missing CadastrarCliente -CALLS-> ValidarCPF")
	}
	if !hasEdge(m, "proc:CadastrarCliente", "table:CLIENTE", RelUsesTable) {
		t.Error("missing CadastrarCliente -USES_TABLE-> CLIENTE")
	}
	if !hasEdge(m, "class:Cliente", "class:Pessoa", RelInherits) {
		t.Error("missing Cliente -INHERITS-> Pessoa")
	}
	if !hasEdge(m, "proc:API_NovoPedido", "class:Cliente", RelUsesClass) {
		t.Error("missing API_NovoPedido -USES_CLASS-> Cliente")
	}
	if !hasEdge(m, "proc:API_NovoPedido", "external:REST", RelCalls) {
		t.Error("external API usage should be a CALLS edge to external:REST")
	}
	if !hasEdge(m, "proc:API_NovoPedido", "external:EnviarEmail", RelCalls) {
		t.Error("unresolved call should target a placeholder")
	}
	if m.Placeholders != 1 {
		t.Errorf("placeholders = %d, want 1 (API families are not placeholders)", m.Placeholders)
	}
}

func TestBuild_PlaceholdersCreatedOnce(t *testing.T) {
	m := Build([]artifact.Artifact{
		proc("A", "Missing", "Other"),
		proc("B", "Missing"),
		{Kind: artifact.KindPage, Name: "P", Dependencies: deps([]string{"Missing"}, []string{"NOTABLE"}, []string{"NoClass"}, nil)},
	})
	count := 0
	for _, n := range m.Nodes {
		if n.Key == "external:Missing" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("external:Missing appears %d times", count)
	}
	if m.Placeholders != 4 {
		t.Errorf("placeholders = %d, want 4", m.Placeholders)
	}
	if !hasEdge(m, "page:P", "external:NOTABLE", RelUsesTable) {
		t.Error("relation must follow the dependency field even for placeholders")
	}
}

func TestBuild_PlaceholderCountIgnoresOrder(t *testing.T) {
	a := proc("A", "REST")
	b := artifact.Artifact{Kind: artifact.KindProcedure, Name: "B", Dependencies: deps(nil, nil, nil, []string{"REST"})}

	ab := Build([]artifact.Artifact{a, b})
	ba := Build([]artifact.Artifact{b, a})
	if ab.Placeholders != 1 || ba.Placeholders != 1 {
		t.Errorf("placeholders = %d for [A,B] and %d for [B,A], want 1 both ways", ab.Placeholders, ba.Placeholders)
	}
	for _, m := range []*Model{ab, ba} {
		if len(m.Nodes) != 3 {
			t.Errorf("nodes = %v, external:REST must be shared", keys(m.Nodes))
		}
		if !hasEdge(m, "proc:A", "external:REST", RelCalls) || !hasEdge(m, "proc:B", "external:REST", RelCalls) {
			t.Error("both procedures should reach external:REST")
		}
	}

	onlyFamily := Build([]artifact.Artifact{b})
	if onlyFamily.Placeholders != 0 {
		t.Errorf("an API family alone is not a placeholder: %+v", onlyFamily.Nodes)
	}
	for _, n := range ab.Nodes {
		if n.Placeholder != (n.Key == "external:REST") {
			t.Errorf("%s placeholder = %v", n.Key, n.Placeholder)
		}
	}
}

func TestBuild_ResolvesWithinTargetKind(t *testing.T) {
	// a table and a procedure share a name; the call must reach the procedure
	m := Build([]artifact.Artifact{
		table("Estoque"),
		proc("Estoque"),
		proc("Baixar", "Estoque"),
		{Kind: artifact.KindPage, Name: "Ver", Dependencies: deps([]string{"Cliente"}, nil, nil, nil)},
		{Kind: artifact.KindClass, Name: "Cliente"},
	})
	if !hasEdge(m, "proc:Baixar", "proc:Estoque", RelCalls) {
		t.Error("call should resolve to proc:Estoque")
	}
	if !hasEdge(m, "page:Ver", "external:Cliente", RelCalls) {
		t.Error("a call never resolves to a class")
	}
}

func TestBuild_DeduplicatesAndSorts(t *testing.T) {
	arts := []artifact.Artifact{proc("B", "A"), proc("A"), proc("B", "A")}
	m := Build(arts)
	if len(m.Nodes) != 2 || len(m.Edges) != 1 {
		t.Fatalf("expected 2 nodes / 1 edge, got %d / %d", len(m.Nodes), len(m.Edges))
	}
	if m.Nodes[0].Key != "proc:A" {
		t.Errorf("nodes not sorted: %v", keys(m.Nodes))
	}

	again := Build(arts)
	a, _ := ExportJSON(m)
	b, _ := ExportJSON(again)
	if string(a) != string(b) {
		t.Error("Build is not deterministic")
	}
}

func TestBuild_SelfLoopKept(t *testing.T) {
	m := Build([]artifact.Artifact{proc("Fatorial", "Fatorial")})
	if !hasEdge(m, "proc:Fatorial", "proc:Fatorial", RelCalls) {
		t.Error("recursive call should be kept as a self-loop")
	}
}

func TestBuild_WithoutDependencies(t *testing.T) {
	m := Build([]artifact.Artifact{{Kind: artifact.KindProcedure, Name: "Solto"}})
	if len(m.Nodes) != 1 || len(m.Edges) != 0 {
		t.Errorf("got %+v", m)
	}
	if m.Nodes[0].TopologicalOrder != nil {
		t.Error("order must be nil before sequencing")
	}
}

// --- index ---

func TestNewIndex_DropsDanglingAndDuplicates(t *testing.T) {
	idx := NewIndex(
		[]Node{{Key: "proc:A", Kind: NodeProc, Name: "A"}, {Key: "proc:A", Kind: NodeProc, Name: "A"}},
		[]Edge{{From: "proc:A", To: "proc:Z", Relation: RelCalls}, {From: "proc:A", To: "proc:A", Relation: RelCalls}, {From: "proc:A", To: "proc:A", Relation: RelCalls}},
	)
	if idx.Len() != 1 || idx.EdgeCount() != 1 {
		t.Errorf("len=%d edges=%d", idx.Len(), idx.EdgeCount())
	}
	if _, ok := idx.Node("proc:A"); !ok {
		t.Error("proc:A should be indexed")
	}
}

// --- impact ---

func TestImpact_CadastrarCliente(t *testing.T) {
	idx := index(cadastro())
	got, err := idx.Impact(context.Background(), "table:CLIENTE", 1)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, r := range got {
		if r.Depth != 1 {
			t.Errorf("%s at depth %d, want 1", r.Node.Key, r.Depth)
		}
		if r.Node.Key == "proc:CadastrarCliente" {
			found = true
		}
	}
	if !found {
		t.Errorf("proc:CadastrarCliente missing from %v", got)
	}
}

func TestImpact_SortedByDepthThenName(t *testing.T) {
	idx := index(cadastro())
	got, err := idx.Impact(context.Background(), "proc:ValidarCPF", 5)
	if err != nil {
		t.Fatal(err)
	}
	var desc []string
	for _, r := range got {
		desc = append(desc, fmt.Sprintf("%d:%s", r.Depth, r.Node.Key))
	}
	want := "1:proc:CadastrarCliente 2:proc:API_NovoPedido 2:page:PAGE_Cliente"
	if strings.Join(desc, " ") != want {
		t.Errorf("got %v, want %s", desc, want)
	}
}

func TestImpact_ZeroDepthAndMonotonic(t *testing.T) {
	idx := index(cadastro())
	ctx := context.Background()

	zero, err := idx.Impact(ctx, "table:CLIENTE", 0)
	if err != nil || len(zero) != 0 {
		t.Fatalf("Impact(X, 0) = %v, %v; want empty", zero, err)
	}

	prev := map[string]bool{}
	for k := 1; k <= 5; k++ {
		res, err := idx.Impact(ctx, "table:CLIENTE", k)
		if err != nil {
			t.Fatal(err)
		}
		cur := map[string]bool{}
		for _, r := range res {
			cur[r.Node.Key] = true
		}
		for key := range prev {
			if !cur[key] {
				t.Errorf("Impact(k=%d) lost %s", k, key)
			}
		}
		prev = cur
	}
	if prev["table:CLIENTE"] {
		t.Error("start node must not be in its own impact set")
	}
}

func TestImpact_Cycle(t *testing.T) {
	idx := index([]artifact.Artifact{proc("A", "B"), proc("B", "C"), proc("C", "A")})
	got, err := idx.Impact(context.Background(), "proc:A", 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Node.Key != "proc:C" || got[1].Node.Key != "proc:B" {
		t.Errorf("got %+v", got)
	}
}

func TestImpact_NotFound(t *testing.T) {
	idx := index(cadastro())
	_, err := idx.Impact(context.Background(), "proc:Nope", 3)
	if !errors.Is(err, ErrNodeNotFound) {
		t.Errorf("expected ErrNodeNotFound, got %v", err)
	}
	var nf *NotFoundError
	if !errors.As(err, &nf) || nf.Key != "proc:Nope" {
		t.Errorf("expected NotFoundError naming the key, got %v", err)
	}
}

func TestImpact_Cancelled(t *testing.T) {
	idx := index(cadastro())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := idx.Impact(ctx, "table:CLIENTE", 3); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

// --- path ---

func diamond() *Index {
	// A -> B -> D, A -> C -> D, D -> E, A -> X -> Y -> E
	return index([]artifact.Artifact{
		proc("A", "B", "C", "X"),
		proc("B", "D"),
		proc("C", "D"),
		proc("D", "E"),
		proc("E"),
		proc("X", "Y"),
		proc("Y", "E"),
		proc("Z"),
	})
}

func TestPath_AllShortest(t *testing.T) {
	res, err := diamond().Path(context.Background(), "proc:A", "proc:D", PathOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Hops != 2 || len(res.Paths) != 2 {
		t.Fatalf("got %+v", res)
	}
	if strings.Join(keys(res.Paths[0]), ",") != "proc:A,proc:B,proc:D" ||
		strings.Join(keys(res.Paths[1]), ",") != "proc:A,proc:C,proc:D" {
		t.Errorf("unexpected paths %v", res.Paths)
	}
}

func TestPath_EqualLengths(t *testing.T) {
	res, err := diamond().Path(context.Background(), "proc:A", "proc:E", PathOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Paths) != 3 {
		t.Fatalf("expected 3 shortest paths, got %d", len(res.Paths))
	}
	for _, p := range res.Paths {
		if len(p) != res.Hops+1 {
			t.Errorf("path %v has %d nodes, want %d", keys(p), len(p), res.Hops+1)
		}
		if p[0].Key != "proc:A" || p[len(p)-1].Key != "proc:E" {
			t.Errorf("path %v must include both endpoints", keys(p))
		}
	}
}

func TestPath_Unreachable(t *testing.T) {
	idx := diamond()
	res, err := idx.Path(context.Background(), "proc:E", "proc:A", PathOptions{})
	if err != nil || len(res.Paths) != 0 || res.Truncated {
		t.Errorf("reverse direction should be unreachable: %+v %v", res, err)
	}
	res, err = idx.Path(context.Background(), "proc:A", "proc:Z", PathOptions{})
	if err != nil || len(res.Paths) != 0 {
		t.Errorf("isolated node should be unreachable: %+v %v", res, err)
	}
}

func TestPath_Self(t *testing.T) {
	res, err := diamond().Path(context.Background(), "proc:A", "proc:A", PathOptions{})
	if err != nil || len(res.Paths) != 1 || len(res.Paths[0]) != 1 || res.Hops != 0 {
		t.Errorf("got %+v %v", res, err)
	}
}

func TestPath_Limits(t *testing.T) {
	idx := diamond()
	res, err := idx.Path(context.Background(), "proc:A", "proc:E", PathOptions{MaxHops: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Paths) != 0 || !res.Truncated {
		t.Errorf("hop ceiling should truncate: %+v", res)
	}

	res, err = idx.Path(context.Background(), "proc:A", "proc:E", PathOptions{MaxPaths: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Paths) != 2 || !res.Truncated {
		t.Errorf("path cap should truncate: %d paths, truncated=%v", len(res.Paths), res.Truncated)
	}

	res, err = idx.Path(context.Background(), "proc:A", "proc:D", PathOptions{MaxPaths: 2})
	if err != nil {
		t.Fatal(err)
	}
	if res.Truncated {
		t.Error("exactly MaxPaths paths is not a truncation")
	}
}

func TestPath_NotFound(t *testing.T) {
	idx := diamond()
	if _, err := idx.Path(context.Background(), "proc:Nope", "proc:A", PathOptions{}); !errors.Is(err, ErrNodeNotFound) {
		t.Errorf("from: %v", err)
	}
	if _, err := idx.Path(context.Background(), "proc:A", "proc:Nope", PathOptions{}); !errors.Is(err, ErrNodeNotFound) {
		t.Errorf("to: %v", err)
	}
}

// --- hubs ---

func TestHubs(t *testing.T) {
	idx := index(cadastro())
	hubs := idx.Hubs(3)
	if len(hubs) == 0 {
		t.Fatal("expected hubs")
	}
	for i, h := range hubs {
		if h.Total < 3 {
			t.Errorf("%s has degree %d < 3", h.Node.Key, h.Total)
		}
		if h.Node.Kind == NodeExternal {
			t.Errorf("external node %s reported as hub", h.Node.Key)
		}
		if i > 0 {
			prev := hubs[i-1]
			if prev.Total < h.Total || (prev.Total == h.Total && prev.Node.Name > h.Node.Name) {
				t.Errorf("hubs out of order at %d: %v before %v", i, prev.Node.Key, h.Node.Key)
			}
		}
	}
	// API_NovoPedido: 5 out; CLIENTE: 3 in (Cliente, CadastrarCliente, QRY_Clientes)
	if hubs[0].Node.Key != "proc:API_NovoPedido" || hubs[0].Out != 5 {
		t.Errorf("top hub = %+v", hubs[0])
	}
}

func TestHubs_TieBreakByName(t *testing.T) {
	idx := index([]artifact.Artifact{proc("B", "X"), proc("A", "X"), proc("X")})
	hubs := idx.Hubs(1)
	if got := strings.Join([]string{hubs[0].Node.Name, hubs[1].Node.Name, hubs[2].Node.Name}, ","); got != "X,A,B" {
		t.Errorf("order = %s", got)
	}
}

// --- dead code ---

func TestDeadCode(t *testing.T) {
	idx := index(append(cadastro(), proc("Main"), proc("task_Limpeza")))
	dead := idx.DeadCode(DefaultEntryPoints())
	got := strings.Join(keys(dead), ",")
	if got != "proc:ProcOrfa" {
		t.Errorf("dead = %s", got)
	}
}

func TestDeadCode_SelfCallIsACall(t *testing.T) {
	m := Build([]artifact.Artifact{proc("Main", "Calcular"), proc("Calcular"), proc("Fatorial", "Fatorial")})
	if !hasEdge(m, "proc:Fatorial", "proc:Fatorial", RelCalls) {
		t.Fatal("missing Fatorial -CALLS-> Fatorial")
	}
	idx := IndexModel(m)
	if dead := idx.DeadCode(DefaultEntryPoints()); len(dead) != 0 {
		t.Errorf("dead = %s, a recursive procedure has an incoming call", strings.Join(keys(dead), ","))
	}
}

func TestDeadCode_EntryPointsNeverDead(t *testing.T) {
	ep := EntryPoints{Prefixes: []string{"WS_"}, Names: []string{"Inicializar"}}
	idx := index([]artifact.Artifact{proc("WS_Consulta"), proc("ws_lower"), proc("Inicializar"), proc("inicializar")})
	dead := idx.DeadCode(ep)
	if got := strings.Join(keys(dead), ","); got != "proc:inicializar" {
		t.Errorf("dead = %s (exact names are case-sensitive, prefixes are not)", got)
	}
}

// --- sequence ---

func TestSequence_Layers(t *testing.T) {
	seq := index(cadastro()).TopologicalSequence(nil)
	order := map[string]int{}
	for _, n := range seq.Nodes {
		if n.TopologicalOrder == nil {
			t.Fatalf("%s has no order", n.Key)
		}
		order[n.Key] = *n.TopologicalOrder
	}
	if len(order) != len(seq.Nodes) {
		t.Fatal("duplicate nodes in sequence")
	}
	before := [][2]string{
		{"table:CLIENTE", "class:Cliente"},
		{"class:Pessoa", "class:Cliente"},
		{"class:Cliente", "proc:CadastrarCliente"},
		{"proc:ValidarCPF", "proc:CadastrarCliente"},
		{"proc:CadastrarCliente", "proc:API_NovoPedido"},
		{"proc:CadastrarCliente", "page:PAGE_Cliente"},
		{"table:CLIENTE", "query:QRY_Clientes"},
	}
	for _, p := range before {
		if order[p[0]] >= order[p[1]] {
			t.Errorf("%s (%d) should precede %s (%d)", p[0], order[p[0]], p[1], order[p[1]])
		}
	}
	if len(seq.Cycles) != 0 {
		t.Errorf("unexpected cycles %v", seq.Cycles)
	}
	for _, n := range seq.Nodes {
		if n.Key == "page:PAGE_Cliente" && n.Layer != "route" {
			t.Errorf("page layer = %q", n.Layer)
		}
	}
}

func TestSequence_MutualCalls(t *testing.T) {
	seq := index([]artifact.Artifact{proc("A", "B"), proc("B", "A")}).TopologicalSequence(DefaultLayerPolicy())
	if len(seq.Nodes) != 2 {
		t.Fatalf("got %d nodes", len(seq.Nodes))
	}
	for _, n := range seq.Nodes {
		if n.TopologicalOrder == nil || !n.CycleWarning {
			t.Errorf("%s: order=%v warning=%v", n.Key, n.TopologicalOrder, n.CycleWarning)
		}
	}
	if strings.Join(seq.Cycles, ",") != "proc:A,proc:B" {
		t.Errorf("cycles = %v", seq.Cycles)
	}
}

func TestSequence_CycleDoesNotPoisonOthers(t *testing.T) {
	seq := index([]artifact.Artifact{
		proc("A", "B"), proc("B", "A"), proc("Livre", "Base"), proc("Base"), proc("Dependente", "A"),
	}).TopologicalSequence(nil)

	got := strings.Join(keys(seq.Nodes), ",")
	if got != "proc:Base,proc:Livre,proc:A,proc:B,proc:Dependente" {
		t.Errorf("sequence = %s", got)
	}
	for _, n := range seq.Nodes {
		wantWarn := n.Name == "A" || n.Name == "B"
		if n.CycleWarning != wantWarn {
			t.Errorf("%s warning = %v", n.Key, n.CycleWarning)
		}
	}
	if strings.Join(seq.Cycles, ",") != "proc:A,proc:B" {
		t.Errorf("cycles = %v, a dependent of a cycle is not part of it", seq.Cycles)
	}
}

func TestSequence_DependentsOrderedAfterCycles(t *testing.T) {
	// A<->B, X needs B, C<->D with C needing X, Y needs D
	seq := index([]artifact.Artifact{
		proc("A", "B"), proc("B", "A"),
		proc("X", "B"),
		proc("C", "D", "X"), proc("D", "C"),
		proc("Y", "D"),
	}).TopologicalSequence(nil)

	if got := strings.Join(keys(seq.Nodes), ","); got != "proc:A,proc:B,proc:X,proc:C,proc:D,proc:Y" {
		t.Errorf("sequence = %s", got)
	}
	if got := strings.Join(seq.Cycles, ","); got != "proc:A,proc:B,proc:C,proc:D" {
		t.Errorf("cycles = %s", got)
	}
	for i, n := range seq.Nodes {
		if n.TopologicalOrder == nil || *n.TopologicalOrder != i {
			t.Errorf("%s order = %v, want %d", n.Key, n.TopologicalOrder, i)
		}
		wantWarn := n.Name != "X" && n.Name != "Y"
		if n.CycleWarning != wantWarn {
			t.Errorf("%s warning = %v", n.Key, n.CycleWarning)
		}
	}
}

func TestSequence_SelfLoopIsNotACycle(t *testing.T) {
	seq := index([]artifact.Artifact{proc("Fatorial", "Fatorial")}).TopologicalSequence(nil)
	if len(seq.Cycles) != 0 || seq.Nodes[0].CycleWarning {
		t.Errorf("self recursion should not stall sequencing: %+v", seq)
	}
}

func TestSequence_ConfigurableRanks(t *testing.T) {
	policy := DefaultLayerPolicy().WithRanks(map[string]int{"page": 0, "widget": 5})
	seq := index(cadastro()).TopologicalSequence(policy)
	if seq.Nodes[0].Kind != NodePage && seq.Nodes[0].Kind != NodeTable && seq.Nodes[0].Kind != NodeExternal {
		t.Errorf("first node %s should be in rank 0", seq.Nodes[0].Key)
	}
	if DefaultLayerPolicy()[NodePage].Rank != 3 {
		t.Error("WithRanks must not modify the receiver")
	}
}

func TestModel_Annotate(t *testing.T) {
	m := Build([]artifact.Artifact{proc("A", "B"), proc("B")})
	m.Annotate(IndexModel(m).TopologicalSequence(nil))
	for _, n := range m.Nodes {
		if n.TopologicalOrder == nil || n.Layer != "service" {
			t.Errorf("%s not annotated: %+v", n.Key, n)
		}
	}
	if *m.Nodes[1].TopologicalOrder != 0 { // proc:B before proc:A
		t.Errorf("proc:B order = %d", *m.Nodes[1].TopologicalOrder)
	}
}

// --- stats & export ---

func TestStats(t *testing.T) {
	idx := index(cadastro())
	s := idx.Stats()
	if s.TotalNodes != idx.Len() || s.TotalEdges != idx.EdgeCount() {
		t.Errorf("totals %d/%d", s.TotalNodes, s.TotalEdges)
	}
	if s.ExternalCount != 2 || s.NodesByKind[NodeProc] != 4 {
		t.Errorf("by kind %v external %d", s.NodesByKind, s.ExternalCount)
	}
	if s.EdgesByRelation[RelInherits] != 1 {
		t.Errorf("by relation %v", s.EdgesByRelation)
	}
	if s.HotspotNode != "proc:API_NovoPedido" {
		t.Errorf("hotspot = %s", s.HotspotNode)
	}
	// ProcOrfa is isolated; everything else is connected
	if s.ConnectedComponents != 2 {
		t.Errorf("components = %d", s.ConnectedComponents)
	}
	out := FormatStats(s)
	if !strings.Contains(out, "Components:  2") || !strings.Contains(out, "INHERITS:") {
		t.Errorf("FormatStats output:\n%s", out)
	}
}

func TestExport(t *testing.T) {
	m := Build(cadastro())
	m.Annotate(IndexModel(m).TopologicalSequence(nil))

	dot := ExportDOT(m)
	for _, want := range []string{"digraph dependencies", "cluster_schema", `"proc:CadastrarCliente" -> "table:CLIENTE"`, `label="USES_TABLE"`} {
		if !strings.Contains(dot, want) {
			t.Errorf("DOT missing %q", want)
		}
	}
	if strings.Index(dot, "cluster_schema") > strings.Index(dot, "cluster_route") {
		t.Error("layers should follow migration order")
	}

	mermaid := ExportMermaid(m)
	if !strings.HasPrefix(mermaid, "graph LR\n") || !strings.Contains(mermaid, "proc_CadastrarCliente -->|CALLS| proc_ValidarCPF") {
		t.Errorf("Mermaid output:\n%s", mermaid)
	}

	data, err := ExportJSON(m)
	if err != nil {
		t.Fatal(err)
	}
	var back Model
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if len(back.Nodes) != len(m.Nodes) || back.Placeholders != m.Placeholders {
		t.Errorf("JSON lost data")
	}
}
