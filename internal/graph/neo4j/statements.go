package neo4j

import (
	"fmt"
	"sort"
	"strings"

	"github.com/GilbertoAbrao/wxcode-sub008/internal/depgraph"
	"github.com/GilbertoAbrao/wxcode-sub008/internal/graph"
)

// Statement is a Cypher query with its parameter bindings.
type Statement struct {
	Query  string
	Params map[string]any
}

// Labels and relationship types cannot be query parameters, so they are
// spliced into Cypher from these whitelists only.
var labels = map[depgraph.NodeKind]string{
	depgraph.NodeTable:    "Table",
	depgraph.NodeClass:    "Class",
	depgraph.NodeProc:     "Proc",
	depgraph.NodePage:     "Page",
	depgraph.NodeQuery:    "Query",
	depgraph.NodeExternal: "External",
}

var relTypes = map[depgraph.Relation]bool{
	depgraph.RelCalls:     true,
	depgraph.RelInherits:  true,
	depgraph.RelUsesTable: true,
	depgraph.RelUsesClass: true,
}

// Label returns the Neo4j label for a node kind.
func Label(kind depgraph.NodeKind) (string, error) {
	l, ok := labels[kind]
	if !ok {
		return "", fmt.Errorf("no label for node kind %q", kind)
	}
	return l, nil
}

// SchemaStatements returns the index definitions: one (projectId, name)
// index per kind label, one on WxNode keys and one on run records.
func SchemaStatements() []string {
	stmts := []string{
		"CREATE INDEX wx_node_key IF NOT EXISTS FOR (n:WxNode) ON (n.projectId, n.key)",
		"CREATE INDEX wx_project_id IF NOT EXISTS FOR (p:WxProject) ON (p.id)",
	}
	for _, kind := range depgraph.NodeKinds {
		l := labels[kind]
		stmts = append(stmts, fmt.Sprintf(
			"CREATE INDEX wx_%s_name IF NOT EXISTS FOR (n:%s) ON (n.projectId, n.name)",
			strings.ToLower(l), l))
	}
	return stmts
}

// ClearStatements deletes a project's nodes, their relationships and its
// run record.
func ClearStatements(projectID string) []Statement {
	params := map[string]any{"projectId": projectID}
	return []Statement{
		{Query: "MATCH (n:WxNode {projectId: $projectId}) DETACH DELETE n", Params: params},
		{Query: "MATCH (p:WxProject {id: $projectId}) DELETE p", Params: params},
	}
}

// NodeStatements upserts nodes, one UNWIND statement per kind.
func NodeStatements(projectID, runID string, nodes []depgraph.Node) ([]Statement, error) {
	byKind := make(map[depgraph.NodeKind][]map[string]any)
	for _, n := range nodes {
		if _, err := Label(n.Kind); err != nil {
			return nil, err
		}
		var order any
		if n.TopologicalOrder != nil {
			order = int64(*n.TopologicalOrder)
		}
		byKind[n.Kind] = append(byKind[n.Kind], map[string]any{
			"key":              n.Key,
			"kind":             string(n.Kind),
			"name":             n.Name,
			"layer":            n.Layer,
			"topologicalOrder": order,
			"cycleWarning":     n.CycleWarning,
			"placeholder":      n.Placeholder,
		})
	}

	var stmts []Statement
	for _, kind := range depgraph.NodeKinds {
		rows := byKind[kind]
		if len(rows) == 0 {
			continue
		}
		stmts = append(stmts, Statement{
			Query: fmt.Sprintf(`UNWIND $rows AS row
MERGE (n:WxNode {projectId: $projectId, key: row.key})
SET n:%s,
    n.kind = row.kind,
    n.name = row.name,
    n.layer = row.layer,
    n.topologicalOrder = row.topologicalOrder,
    n.cycleWarning = row.cycleWarning,
    n.placeholder = row.placeholder,
    n.syncRun = $runId`, labels[kind]),
			Params: map[string]any{"projectId": projectID, "runId": runID, "rows": rows},
		})
	}
	return stmts, nil
}

// EdgeStatements upserts relationships, one UNWIND statement per type.
func EdgeStatements(projectID, runID string, edges []depgraph.Edge) ([]Statement, error) {
	byRel := make(map[depgraph.Relation][]map[string]any)
	for _, e := range edges {
		if !relTypes[e.Relation] {
			return nil, fmt.Errorf("unknown relation %q", e.Relation)
		}
		byRel[e.Relation] = append(byRel[e.Relation], map[string]any{"from": e.From, "to": e.To})
	}

	rels := make([]depgraph.Relation, 0, len(byRel))
	for r := range byRel {
		rels = append(rels, r)
	}
	sort.Slice(rels, func(i, j int) bool { return rels[i] < rels[j] })

	stmts := make([]Statement, 0, len(rels))
	for _, rel := range rels {
		stmts = append(stmts, Statement{
			Query: fmt.Sprintf(`UNWIND $rows AS row
MATCH (a:WxNode {projectId: $projectId, key: row.from})
MATCH (b:WxNode {projectId: $projectId, key: row.to})
MERGE (a)-[r:%s]->(b)
SET r.syncRun = $runId`, rel),
			Params: map[string]any{"projectId": projectID, "runId": runID, "rows": byRel[rel]},
		})
	}
	return stmts, nil
}

// RunStatement records a completed sync.
func RunStatement(run graph.Run) Statement {
	return Statement{
		Query: `MERGE (p:WxProject {id: $projectId})
SET p.runId = $runId,
    p.syncedAt = $syncedAt,
    p.nodeCount = $nodeCount,
    p.edgeCount = $edgeCount`,
		Params: map[string]any{
			"projectId": run.ProjectID,
			"runId":     run.ID,
			"syncedAt":  run.SyncedAt,
			"nodeCount": int64(run.NodeCount),
			"edgeCount": int64(run.EdgeCount),
		},
	}
}

const (
	loadRunQuery = `MATCH (p:WxProject {id: $projectId})
RETURN p.runId AS runId, p.syncedAt AS syncedAt, p.nodeCount AS nodeCount, p.edgeCount AS edgeCount`

	loadNodesQuery = `MATCH (n:WxNode {projectId: $projectId})
RETURN n.key AS key, n.kind AS kind, n.name AS name, n.layer AS layer,
       n.topologicalOrder AS topologicalOrder, n.cycleWarning AS cycleWarning,
       n.placeholder AS placeholder
ORDER BY key`

	loadEdgesQuery = `MATCH (a:WxNode {projectId: $projectId})-[r]->(b:WxNode {projectId: $projectId})
RETURN a.key AS from, type(r) AS relation, b.key AS to
ORDER BY from, relation, to`
)

// ImpactQuery is the Cypher form of a depth-bounded impact query, for use
// from the Neo4j browser. Depth bounds cannot be parameters.
func ImpactQuery(maxDepth int) string {
	return fmt.Sprintf(`MATCH (start:WxNode {projectId: $projectId, key: $key})
MATCH p = (dep:WxNode)-[*1..%d]->(start)
WHERE dep.projectId = $projectId AND dep <> start
RETURN dep.key AS key, dep.name AS name, min(length(p)) AS depth
ORDER BY depth, name, key`, maxDepth)
}
