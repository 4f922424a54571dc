// Package graph persists dependency graphs to a graph store and serializes
// syncs against analysis on a per-project basis.
package graph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/GilbertoAbrao/wxcode-sub008/internal/depgraph"
)

// Sentinel errors.
var (
	// ErrSyncInProgress is returned when another sync holds the project.
	ErrSyncInProgress = errors.New("sync already in progress for project")
	// ErrStoreUnavailable wraps connectivity failures of the backing store.
	ErrStoreUnavailable = errors.New("graph store unavailable")
	// ErrSnapshotNotFound is returned for projects that never completed a sync.
	ErrSnapshotNotFound = errors.New("graph snapshot not found")
)

// BatchError reports the batch a sync failed on. Batches are numbered from
// 1 across the whole sync, node batches first.
type BatchError struct {
	Phase string // "nodes" or "edges"
	Batch int
	Err   error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("insert failed at batch %d (%s): %v", e.Batch, e.Phase, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

// Run describes a completed sync as recorded in the store.
type Run struct {
	ID        string    `json:"run_id"`
	ProjectID string    `json:"project_id"`
	SyncedAt  time.Time `json:"synced_at"`
	NodeCount int       `json:"node_count"`
	EdgeCount int       `json:"edge_count"`
}

// Snapshot is the graph of one project as last synced.
type Snapshot struct {
	Run   Run             `json:"run"`
	Nodes []depgraph.Node `json:"nodes"`
	Edges []depgraph.Edge `json:"edges"`
}

// Store is a graph database scoped by project.
//
// Writes are upserts keyed by (project, node key) and (from, relation, to),
// so writing the same set twice leaves one copy.
type Store interface {
	// EnsureSchema creates the indexes used for (label, name) lookup.
	EnsureSchema(ctx context.Context) error
	// ClearProject removes every node, edge and run record of the project.
	ClearProject(ctx context.Context, projectID string) error
	// WriteNodes upserts one batch of nodes.
	WriteNodes(ctx context.Context, projectID, runID string, nodes []depgraph.Node) error
	// WriteEdges upserts one batch of edges. Both endpoints must exist.
	WriteEdges(ctx context.Context, projectID, runID string, edges []depgraph.Edge) error
	// RecordRun marks the project's graph as complete.
	RecordRun(ctx context.Context, run Run) error
	// LoadSnapshot reads the project graph back. It returns
	// ErrSnapshotNotFound when no run has been recorded.
	LoadSnapshot(ctx context.Context, projectID string) (*Snapshot, error)
	// Ping checks connectivity.
	Ping(ctx context.Context) error
	// Close releases resources.
	Close(ctx context.Context) error
}
