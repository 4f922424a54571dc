package graph

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/GilbertoAbrao/wxcode-sub008/internal/depgraph"
	"github.com/GilbertoAbrao/wxcode-sub008/internal/observability"
)

// DefaultBatchSize is the number of nodes or edges written per store call.
const DefaultBatchSize = 500

// lockPollInterval is how often a waiting caller retries a project lock.
const lockPollInterval = 5 * time.Millisecond

// SyncOptions controls one Sync call.
type SyncOptions struct {
	// DryRun computes counts without touching the store.
	DryRun bool
	// ClearFirst removes the previous snapshot before writing. Without it
	// the new graph is merged into whatever the store holds.
	ClearFirst bool
	// BatchSize overrides the syncer default when positive.
	BatchSize int
}

// SyncResult summarizes a sync.
type SyncResult struct {
	RunID     string        `json:"run_id"`
	ProjectID string        `json:"project_id"`
	NodeCount int           `json:"node_count"`
	EdgeCount int           `json:"edge_count"`
	Batches   int           `json:"batches"`
	DryRun    bool          `json:"dry_run"`
	Duration  time.Duration `json:"duration"`
}

// SyncerOptions configures a Syncer.
type SyncerOptions struct {
	BatchSize int
	Logger    *slog.Logger
	Metrics   *observability.Metrics
	Audit     *observability.AuditLogger
}

// Syncer writes models to a Store. At most one sync per project runs at a
// time; View lets readers share the project with each other but not with
// the write phase of a sync.
type Syncer struct {
	store     Store
	batchSize int
	logger    *slog.Logger
	metrics   *observability.Metrics
	audit     *observability.AuditLogger

	mu       sync.Mutex
	projects map[string]*projectLock
}

type projectLock struct {
	syncing sync.Mutex   // held for the whole sync
	rw      sync.RWMutex // write-held while the store is being modified
}

// NewSyncer creates a Syncer over store.
func NewSyncer(store Store, opts SyncerOptions) *Syncer {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Syncer{
		store:     store,
		batchSize: opts.BatchSize,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		audit:     opts.Audit,
		projects:  make(map[string]*projectLock),
	}
}

// Store returns the underlying store.
func (s *Syncer) Store() Store { return s.store }

func (s *Syncer) lockFor(projectID string) *projectLock {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.projects[projectID]
	if !ok {
		l = &projectLock{}
		s.projects[projectID] = l
	}
	return l
}

// Sync writes m as the graph of projectID. It returns ErrSyncInProgress
// immediately if another sync of the same project is running.
//
// Sync is not transactional: a failure after the clear leaves a partial
// graph without a run record, and the fix is to sync again.
func (s *Syncer) Sync(ctx context.Context, projectID string, m *depgraph.Model, opts SyncOptions) (*SyncResult, error) {
	return s.SyncFrom(ctx, projectID, func(context.Context) (*depgraph.Model, error) {
		return m, nil
	}, opts)
}

// SyncFrom is Sync with the model produced by prepare, which runs while the
// project is already held. A concurrent sync of the same project fails with
// ErrSyncInProgress before prepare is called, so work prepare does on the
// project's inputs is serialized with the graph write.
func (s *Syncer) SyncFrom(ctx context.Context, projectID string, prepare func(ctx context.Context) (*depgraph.Model, error), opts SyncOptions) (*SyncResult, error) {
	lock := s.lockFor(projectID)
	if !lock.syncing.TryLock() {
		return nil, fmt.Errorf("%w: %s", ErrSyncInProgress, projectID)
	}
	defer lock.syncing.Unlock()

	m, err := prepare(ctx)
	if err != nil {
		return nil, err
	}

	size := s.batchSize
	if opts.BatchSize > 0 {
		size = opts.BatchSize
	}
	start := time.Now()
	res := &SyncResult{
		RunID:     uuid.NewString(),
		ProjectID: projectID,
		NodeCount: len(m.Nodes),
		EdgeCount: len(m.Edges),
		Batches:   batchCount(len(m.Nodes), size) + batchCount(len(m.Edges), size),
		DryRun:    opts.DryRun,
	}

	ctx, span := observability.StartSyncSpan(ctx, projectID, opts.DryRun)
	defer span.End()

	if opts.DryRun {
		res.Duration = time.Since(start)
		observability.RecordSyncResult(span, res.RunID, res.NodeCount, res.EdgeCount)
		s.logger.Info("dry-run sync", "project", projectID, "nodes", res.NodeCount, "edges", res.EdgeCount, "batches", res.Batches)
		return res, nil
	}

	s.audit.SyncStart(projectID, res.RunID, opts.DryRun, opts.ClearFirst)
	if err := s.write(ctx, lock, projectID, res.RunID, m, opts.ClearFirst, size); err != nil {
		observability.RecordError(span, err)
		s.metrics.RecordSync(err, 0, 0)
		s.audit.SyncError(projectID, res.RunID, err)
		s.logger.Error("sync failed", "project", projectID, "run_id", res.RunID, "error", err)
		return nil, err
	}

	res.Duration = time.Since(start)
	observability.RecordSyncResult(span, res.RunID, res.NodeCount, res.EdgeCount)
	s.metrics.RecordSync(nil, res.NodeCount, res.EdgeCount)
	s.audit.SyncComplete(projectID, res.RunID, res.NodeCount, res.EdgeCount, m.Placeholders, res.Duration)
	s.logger.Info("sync complete",
		"project", projectID,
		"run_id", res.RunID,
		"nodes", res.NodeCount,
		"edges", res.EdgeCount,
		"batches", res.Batches,
		"duration", res.Duration)
	return res, nil
}

func (s *Syncer) write(ctx context.Context, lock *projectLock, projectID, runID string, m *depgraph.Model, clearFirst bool, size int) error {
	if err := s.store.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if err := acquire(ctx, lock.rw.TryLock); err != nil {
		return err
	}
	defer lock.rw.Unlock()

	if clearFirst {
		if err := s.store.ClearProject(ctx, projectID); err != nil {
			return fmt.Errorf("clearing project %s: %w", projectID, err)
		}
	}

	batch := 0
	for _, chunk := range chunks(m.Nodes, size) {
		batch++
		if err := ctx.Err(); err != nil {
			return err
		}
		t := time.Now()
		if err := s.store.WriteNodes(ctx, projectID, runID, chunk); err != nil {
			return &BatchError{Phase: "nodes", Batch: batch, Err: err}
		}
		s.metrics.ObserveBatch(t)
		s.logger.Debug("node batch written", "project", projectID, "batch", batch, "size", len(chunk))
	}
	for _, chunk := range chunks(m.Edges, size) {
		batch++
		if err := ctx.Err(); err != nil {
			return err
		}
		t := time.Now()
		if err := s.store.WriteEdges(ctx, projectID, runID, chunk); err != nil {
			return &BatchError{Phase: "edges", Batch: batch, Err: err}
		}
		s.metrics.ObserveBatch(t)
		s.logger.Debug("edge batch written", "project", projectID, "batch", batch, "size", len(chunk))
	}

	run := Run{
		ID:        runID,
		ProjectID: projectID,
		SyncedAt:  time.Now().UTC(),
		NodeCount: len(m.Nodes),
		EdgeCount: len(m.Edges),
	}
	if err := s.store.RecordRun(ctx, run); err != nil {
		return fmt.Errorf("recording run %s: %w", runID, err)
	}
	return nil
}

// View runs fn while holding the project in read mode, so fn never sees
// a graph in the middle of a sync's write phase. It waits for a running
// write phase until ctx is done.
func (s *Syncer) View(ctx context.Context, projectID string, fn func(ctx context.Context) error) error {
	lock := s.lockFor(projectID)
	if err := acquire(ctx, lock.rw.TryRLock); err != nil {
		return err
	}
	defer lock.rw.RUnlock()
	return fn(ctx)
}

// Exclusive runs fn while holding projectID as a sync would. It returns
// ErrSyncInProgress without calling fn if a sync of projectID is running.
func (s *Syncer) Exclusive(ctx context.Context, projectID string, fn func(ctx context.Context) error) error {
	lock := s.lockFor(projectID)
	if !lock.syncing.TryLock() {
		return fmt.Errorf("%w: %s", ErrSyncInProgress, projectID)
	}
	defer lock.syncing.Unlock()
	return fn(ctx)
}

// Syncing reports whether a sync of projectID is running.
func (s *Syncer) Syncing(projectID string) bool {
	lock := s.lockFor(projectID)
	if lock.syncing.TryLock() {
		lock.syncing.Unlock()
		return false
	}
	return true
}

// acquire polls try until it succeeds or ctx is done.
func acquire(ctx context.Context, try func() bool) error {
	if try() {
		return nil
	}
	ticker := time.NewTicker(lockPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if try() {
				return nil
			}
		}
	}
}

func batchCount(n, size int) int {
	return (n + size - 1) / size
}

func chunks[T any](items []T, size int) [][]T {
	var out [][]T
	for len(items) > 0 {
		n := min(size, len(items))
		out = append(out, items[:n:n])
		items = items[n:]
	}
	return out
}
