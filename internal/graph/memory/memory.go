// Package memory is an in-process graph.Store for tests, dry runs and
// single-shot CLI use.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/GilbertoAbrao/wxcode-sub008/internal/depgraph"
	"github.com/GilbertoAbrao/wxcode-sub008/internal/graph"
)

type project struct {
	nodes map[string]depgraph.Node
	edges map[depgraph.Edge]string // edge -> run that last wrote it
	run   *graph.Run
}

// Store keeps project graphs in maps guarded by a mutex.
type Store struct {
	mu       sync.RWMutex
	projects map[string]*project
	closed   bool
}

// New returns an empty store.
func New() *Store {
	return &Store{projects: make(map[string]*project)}
}

func (s *Store) project(id string) *project {
	p, ok := s.projects[id]
	if !ok {
		p = &project{nodes: make(map[string]depgraph.Node), edges: make(map[depgraph.Edge]string)}
		s.projects[id] = p
	}
	return p
}

func (s *Store) EnsureSchema(ctx context.Context) error { return s.Ping(ctx) }

func (s *Store) ClearProject(ctx context.Context, projectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return graph.ErrStoreUnavailable
	}
	delete(s.projects, projectID)
	return nil
}

func (s *Store) WriteNodes(ctx context.Context, projectID, runID string, nodes []depgraph.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return graph.ErrStoreUnavailable
	}
	p := s.project(projectID)
	for _, n := range nodes {
		p.nodes[n.Key] = n
	}
	return nil
}

func (s *Store) WriteEdges(ctx context.Context, projectID, runID string, edges []depgraph.Edge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return graph.ErrStoreUnavailable
	}
	p := s.project(projectID)
	for _, e := range edges {
		_, okFrom := p.nodes[e.From]
		_, okTo := p.nodes[e.To]
		if !okFrom || !okTo {
			return fmt.Errorf("edge %s -%s-> %s: endpoint not written", e.From, e.Relation, e.To)
		}
		p.edges[e] = runID
	}
	return nil
}

func (s *Store) RecordRun(ctx context.Context, run graph.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return graph.ErrStoreUnavailable
	}
	s.project(run.ProjectID).run = &run
	return nil
}

func (s *Store) LoadSnapshot(ctx context.Context, projectID string) (*graph.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, graph.ErrStoreUnavailable
	}
	p, ok := s.projects[projectID]
	if !ok || p.run == nil {
		return nil, fmt.Errorf("%w: %s", graph.ErrSnapshotNotFound, projectID)
	}
	snap := &graph.Snapshot{
		Run:   *p.run,
		Nodes: make([]depgraph.Node, 0, len(p.nodes)),
		Edges: make([]depgraph.Edge, 0, len(p.edges)),
	}
	for _, n := range p.nodes {
		snap.Nodes = append(snap.Nodes, n)
	}
	for e := range p.edges {
		snap.Edges = append(snap.Edges, e)
	}
	sort.Slice(snap.Nodes, func(i, j int) bool { return snap.Nodes[i].Key < snap.Nodes[j].Key })
	sort.Slice(snap.Edges, func(i, j int) bool {
		a, b := snap.Edges[i], snap.Edges[j]
		if a.From != b.From {
			return a.From < b.From
		}
		if a.Relation != b.Relation {
			return a.Relation < b.Relation
		}
		return a.To < b.To
	})
	return snap, nil
}

func (s *Store) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return graph.ErrStoreUnavailable
	}
	return ctx.Err()
}

// Close makes every later call fail with graph.ErrStoreUnavailable.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Projects lists the project IDs that hold data, sorted.
func (s *Store) Projects() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.projects))
	for id := range s.projects {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

var _ graph.Store = (*Store)(nil)
