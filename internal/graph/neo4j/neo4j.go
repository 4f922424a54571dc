// Package neo4j implements graph.Store on Neo4j. Every node carries the
// WxNode label plus a label for its kind, and is scoped by projectId.
package neo4j

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/GilbertoAbrao/wxcode-sub008/internal/depgraph"
	"github.com/GilbertoAbrao/wxcode-sub008/internal/graph"
)

// Config holds connection settings.
type Config struct {
	URI      string
	Username string
	Password string
	Database string
}

// Store implements graph.Store using Neo4j.
type Store struct {
	driver   neo4j.DriverWithContext
	database string
}

// New creates a Neo4j-backed store and verifies connectivity.
func New(ctx context.Context, cfg Config) (*Store, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("%w: neo4j connectivity: %v", graph.ErrStoreUnavailable, err)
	}
	return &Store{driver: driver, database: cfg.Database}, nil
}

func (s *Store) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return s.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: s.database, AccessMode: mode})
}

// exec runs the statements in one write transaction.
func (s *Store) exec(ctx context.Context, stmts []Statement) error {
	if len(stmts) == 0 {
		return nil
	}
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, st := range stmts {
			res, err := tx.Run(ctx, st.Query, st.Params)
			if err != nil {
				return nil, err
			}
			if _, err := res.Consume(ctx); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	return err
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)
	// schema commands cannot share a transaction with each other
	for _, q := range SchemaStatements() {
		res, err := session.Run(ctx, q, nil)
		if err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
		if _, err := res.Consume(ctx); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (s *Store) ClearProject(ctx context.Context, projectID string) error {
	return s.exec(ctx, ClearStatements(projectID))
}

func (s *Store) WriteNodes(ctx context.Context, projectID, runID string, nodes []depgraph.Node) error {
	stmts, err := NodeStatements(projectID, runID, nodes)
	if err != nil {
		return err
	}
	return s.exec(ctx, stmts)
}

func (s *Store) WriteEdges(ctx context.Context, projectID, runID string, edges []depgraph.Edge) error {
	stmts, err := EdgeStatements(projectID, runID, edges)
	if err != nil {
		return err
	}
	return s.exec(ctx, stmts)
}

func (s *Store) RecordRun(ctx context.Context, run graph.Run) error {
	return s.exec(ctx, []Statement{RunStatement(run)})
}

func (s *Store) LoadSnapshot(ctx context.Context, projectID string) (*graph.Snapshot, error) {
	session := s.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		params := map[string]any{"projectId": projectID}

		records, err := tx.Run(ctx, loadRunQuery, params)
		if err != nil {
			return nil, err
		}
		if !records.Next(ctx) {
			if err := records.Err(); err != nil {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %s", graph.ErrSnapshotNotFound, projectID)
		}
		snap := &graph.Snapshot{Run: decodeRun(projectID, records.Record())}

		records, err = tx.Run(ctx, loadNodesQuery, params)
		if err != nil {
			return nil, err
		}
		for records.Next(ctx) {
			n, err := decodeNode(records.Record())
			if err != nil {
				return nil, err
			}
			snap.Nodes = append(snap.Nodes, n)
		}
		if err := records.Err(); err != nil {
			return nil, err
		}

		records, err = tx.Run(ctx, loadEdgesQuery, params)
		if err != nil {
			return nil, err
		}
		for records.Next(ctx) {
			rec := records.Record()
			snap.Edges = append(snap.Edges, depgraph.Edge{
				From:     str(rec, "from"),
				To:       str(rec, "to"),
				Relation: depgraph.Relation(str(rec, "relation")),
			})
		}
		return snap, records.Err()
	})
	if err != nil {
		return nil, err
	}
	return result.(*graph.Snapshot), nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.driver.VerifyConnectivity(ctx); err != nil {
		return fmt.Errorf("%w: %v", graph.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *Store) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

func decodeRun(projectID string, rec *neo4j.Record) graph.Run {
	run := graph.Run{
		ID:        str(rec, "runId"),
		ProjectID: projectID,
		NodeCount: int(num(rec, "nodeCount")),
		EdgeCount: int(num(rec, "edgeCount")),
	}
	if v, ok := rec.Get("syncedAt"); ok {
		switch t := v.(type) {
		case time.Time:
			run.SyncedAt = t.UTC()
		case string:
			run.SyncedAt, _ = time.Parse(time.RFC3339Nano, t)
		}
	}
	return run
}

func decodeNode(rec *neo4j.Record) (depgraph.Node, error) {
	n := depgraph.Node{
		Key:   str(rec, "key"),
		Kind:  depgraph.NodeKind(str(rec, "kind")),
		Name:  str(rec, "name"),
		Layer: str(rec, "layer"),
	}
	if n.Key == "" {
		return n, fmt.Errorf("node without key in snapshot")
	}
	if v, ok := rec.Get("topologicalOrder"); ok && v != nil {
		if i, ok := v.(int64); ok {
			order := int(i)
			n.TopologicalOrder = &order
		}
	}
	if v, ok := rec.Get("cycleWarning"); ok && v != nil {
		n.CycleWarning, _ = v.(bool)
	}
	if v, ok := rec.Get("placeholder"); ok && v != nil {
		n.Placeholder, _ = v.(bool)
	}
	return n, nil
}

func str(rec *neo4j.Record, key string) string {
	v, ok := rec.Get(key)
	if !ok || v == nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

func num(rec *neo4j.Record, key string) int64 {
	v, ok := rec.Get(key)
	if !ok || v == nil {
		return 0
	}
	i, _ := v.(int64)
	return i
}

var _ graph.Store = (*Store)(nil)
