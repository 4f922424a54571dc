// Package pipeline wires artifact loading, aggregation, graph building and
// graph sync into the operations exposed to the CLI and the worker, and
// serves analyzer queries from cached snapshots.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/otel/trace"

	"github.com/GilbertoAbrao/wxcode-sub008/internal/aggregate"
	"github.com/GilbertoAbrao/wxcode-sub008/internal/artifact"
	"github.com/GilbertoAbrao/wxcode-sub008/internal/depgraph"
	"github.com/GilbertoAbrao/wxcode-sub008/internal/graph"
	"github.com/GilbertoAbrao/wxcode-sub008/internal/observability"
)

// Defaults for Options fields left at zero.
const (
	DefaultCacheSize = 16
	DefaultCacheTTL  = 5 * time.Minute
)

// Options configures a Service.
type Options struct {
	Artifacts  artifact.Repository
	Syncer     *graph.Syncer
	Aggregator *aggregate.Aggregator

	EntryPoints depgraph.EntryPoints
	Layers      depgraph.LayerPolicy
	// MaxImpactDepth caps the depth callers may ask for; zero means no cap.
	MaxImpactDepth int
	Path           depgraph.PathOptions
	// QueryTimeout bounds each analyzer query; zero means none.
	QueryTimeout time.Duration

	CacheSize int
	CacheTTL  time.Duration

	Logger  *slog.Logger
	Metrics *observability.Metrics
	Audit   *observability.AuditLogger
}

// Service runs syncs and analyzer queries for many projects.
type Service struct {
	artifacts  artifact.Repository
	syncer     *graph.Syncer
	aggregator *aggregate.Aggregator

	entryPoints    depgraph.EntryPoints
	layers         depgraph.LayerPolicy
	maxImpactDepth int
	path           depgraph.PathOptions
	queryTimeout   time.Duration

	cache *expirable.LRU[string, *depgraph.Index]

	logger  *slog.Logger
	metrics *observability.Metrics
	audit   *observability.AuditLogger
}

// New creates a Service.
func New(opts Options) (*Service, error) {
	if opts.Artifacts == nil || opts.Syncer == nil || opts.Aggregator == nil {
		return nil, errors.New("pipeline: artifacts, syncer and aggregator are required")
	}
	if opts.Layers == nil {
		opts.Layers = depgraph.DefaultLayerPolicy()
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = DefaultCacheSize
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = DefaultCacheTTL
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Service{
		artifacts:      opts.Artifacts,
		syncer:         opts.Syncer,
		aggregator:     opts.Aggregator,
		entryPoints:    opts.EntryPoints,
		layers:         opts.Layers,
		maxImpactDepth: opts.MaxImpactDepth,
		path:           opts.Path,
		queryTimeout:   opts.QueryTimeout,
		cache:          expirable.NewLRU[string, *depgraph.Index](opts.CacheSize, nil, opts.CacheTTL),
		logger:         opts.Logger,
		metrics:        opts.Metrics,
		audit:          opts.Audit,
	}, nil
}

// SyncOptions controls Service.Sync.
type SyncOptions struct {
	DryRun     bool
	ClearFirst bool
}

// DefaultSyncOptions clears the previous snapshot before writing.
func DefaultSyncOptions() SyncOptions {
	return SyncOptions{ClearFirst: true}
}

// AggregateReport is the structured outcome of Service.Aggregate.
type AggregateReport struct {
	ProjectID string `json:"project_id"`
	Artifacts int    `json:"artifacts"`
	Reused    int    `json:"reused"`
	// DependenciesWritten counts dependency sets saved back to the
	// artifact repository. Always zero on dry runs.
	DependenciesWritten int                     `json:"dependencies_written"`
	Skipped             []aggregate.SkippedBody `json:"skipped,omitempty"`
}

// SyncReport is the structured outcome of Service.Sync.
type SyncReport struct {
	AggregateReport
	Result       *graph.SyncResult   `json:"result"`
	Placeholders int                 `json:"placeholders"`
	Cycles       []string            `json:"cycles"`
	Stats        depgraph.GraphStats `json:"stats"`
}

// Aggregate computes the dependency sets of a project's artifacts and,
// unless dryRun is set, saves the changed ones back to the repository.
// Saving holds the project like a sync does.
func (s *Service) Aggregate(ctx context.Context, projectID string, dryRun bool) (*AggregateReport, error) {
	if dryRun {
		_, report, err := s.aggregate(ctx, projectID, true)
		return report, err
	}
	var report *AggregateReport
	err := s.syncer.Exclusive(ctx, projectID, func(ctx context.Context) error {
		var err error
		_, report, err = s.aggregate(ctx, projectID, false)
		return err
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

// aggregate returns the project's artifacts carrying their aggregated
// dependency sets.
func (s *Service) aggregate(ctx context.Context, projectID string, dryRun bool) ([]artifact.Artifact, *AggregateReport, error) {
	arts, err := s.artifacts.List(ctx, projectID)
	if err != nil {
		return nil, nil, fmt.Errorf("listing artifacts of %s: %w", projectID, err)
	}
	for i := range arts {
		arts[i].ProjectID = projectID
	}

	results, err := s.aggregator.AggregateAll(ctx, arts)
	if err != nil {
		return nil, nil, err
	}
	report := &AggregateReport{
		ProjectID: projectID,
		Artifacts: len(arts),
		Skipped:   aggregate.Skipped(results),
	}
	for _, r := range results {
		if r.Reused {
			report.Reused++
		}
	}

	if !dryRun {
		n, err := aggregate.Apply(ctx, s.artifacts, projectID, arts, results)
		if err != nil {
			return nil, nil, err
		}
		report.DependenciesWritten = n
	}
	return aggregate.Attach(arts, results), report, nil
}

// Sync recomputes a project's dependency graph from its artifacts and
// writes it to the graph store. Dependency sets are saved back to the
// artifact repository before the graph is written, except on dry runs.
// The project is held from aggregation to the run record, so a concurrent
// Sync of it fails with graph.ErrSyncInProgress without touching the
// artifact repository.
func (s *Service) Sync(ctx context.Context, projectID string, opts SyncOptions) (*SyncReport, error) {
	report := &SyncReport{}
	var stats depgraph.GraphStats
	prepare := func(ctx context.Context) (*depgraph.Model, error) {
		arts, agg, err := s.aggregate(ctx, projectID, opts.DryRun)
		if err != nil {
			return nil, err
		}
		report.AggregateReport = *agg
		var m *depgraph.Model
		m, stats = s.build(ctx, projectID, arts, report)
		return m, nil
	}

	res, err := s.syncer.SyncFrom(ctx, projectID, prepare, graph.SyncOptions{DryRun: opts.DryRun, ClearFirst: opts.ClearFirst})
	if !opts.DryRun && !errors.Is(err, graph.ErrSyncInProgress) {
		// a failed write may have cleared the previous snapshot
		s.cache.Remove(projectID)
	}
	if err != nil {
		return nil, err
	}
	s.audit.Cycles(projectID, res.RunID, report.Cycles)

	report.Result = res
	report.Stats = stats
	return report, nil
}

// build turns aggregated artifacts into a sequenced model and fills the
// build figures of report.
func (s *Service) build(ctx context.Context, projectID string, arts []artifact.Artifact, report *SyncReport) (*depgraph.Model, depgraph.GraphStats) {
	_, span := observability.StartBuildSpan(ctx, projectID)
	defer span.End()

	m := depgraph.Build(arts)
	idx := depgraph.IndexModel(m)
	seq := idx.TopologicalSequence(s.layers)
	m.Annotate(seq)
	stats := idx.Stats()

	report.Placeholders = m.Placeholders
	report.Cycles = seq.Cycles
	observability.RecordBuildResult(span, len(m.Nodes), len(m.Edges), m.Placeholders, len(seq.Cycles))
	s.metrics.RecordBuild(m.Placeholders, len(seq.Cycles))

	if m.Placeholders > 0 {
		s.logger.Warn("unresolved dependencies became external placeholders",
			"project", projectID, "placeholders", m.Placeholders)
	}
	if len(seq.Cycles) > 0 {
		s.logger.Warn("dependency cycles found; order within them is best effort",
			"project", projectID, "nodes", len(seq.Cycles))
	}
	return m, stats
}

// Impact returns the dependents of key within maxDepth hops.
func (s *Service) Impact(ctx context.Context, projectID, key string, maxDepth int) ([]depgraph.Impacted, error) {
	if s.maxImpactDepth > 0 && maxDepth > s.maxImpactDepth {
		maxDepth = s.maxImpactDepth
	}
	var out []depgraph.Impacted
	err := s.query(ctx, projectID, "impact", func(ctx context.Context, idx *depgraph.Index) (int, error) {
		var err error
		out, err = idx.Impact(ctx, key, maxDepth)
		return len(out), err
	})
	return out, err
}

// Path returns every shortest path between two keys.
func (s *Service) Path(ctx context.Context, projectID, fromKey, toKey string) (depgraph.PathResult, error) {
	var out depgraph.PathResult
	err := s.query(ctx, projectID, "path", func(ctx context.Context, idx *depgraph.Index) (int, error) {
		var err error
		out, err = idx.Path(ctx, fromKey, toKey, s.path)
		return len(out.Paths), err
	})
	return out, err
}

// Hubs returns the nodes with at least minConnections edges.
func (s *Service) Hubs(ctx context.Context, projectID string, minConnections int) ([]depgraph.Hub, error) {
	var out []depgraph.Hub
	err := s.query(ctx, projectID, "hubs", func(ctx context.Context, idx *depgraph.Index) (int, error) {
		out = idx.Hubs(minConnections)
		return len(out), nil
	})
	return out, err
}

// DeadCode returns the procedures nothing calls, minus entry points.
func (s *Service) DeadCode(ctx context.Context, projectID string) ([]depgraph.Node, error) {
	var out []depgraph.Node
	err := s.query(ctx, projectID, "dead_code", func(ctx context.Context, idx *depgraph.Index) (int, error) {
		out = idx.DeadCode(s.entryPoints)
		return len(out), nil
	})
	return out, err
}

// Sequence returns the migration order of the synced graph.
func (s *Service) Sequence(ctx context.Context, projectID string) (depgraph.Sequence, error) {
	var out depgraph.Sequence
	err := s.query(ctx, projectID, "sequence", func(ctx context.Context, idx *depgraph.Index) (int, error) {
		out = idx.TopologicalSequence(s.layers)
		return len(out.Nodes), nil
	})
	return out, err
}

// Stats returns metrics of the synced graph.
func (s *Service) Stats(ctx context.Context, projectID string) (depgraph.GraphStats, error) {
	var out depgraph.GraphStats
	err := s.query(ctx, projectID, "stats", func(ctx context.Context, idx *depgraph.Index) (int, error) {
		out = idx.Stats()
		return out.TotalNodes, nil
	})
	return out, err
}

// Model returns the synced graph as a Model for export, with layers, orders
// and placeholder flags as persisted.
func (s *Service) Model(ctx context.Context, projectID string) (*depgraph.Model, error) {
	m := &depgraph.Model{}
	err := s.query(ctx, projectID, "model", func(ctx context.Context, idx *depgraph.Index) (int, error) {
		m.Nodes = idx.Nodes()
		m.Edges = idx.Edges()
		m.Placeholders = depgraph.CountPlaceholders(m.Nodes)
		return len(m.Nodes), nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// query runs fn against the project's snapshot under the syncer's read
// section, bounded by the query timeout.
func (s *Service) query(ctx context.Context, projectID, name string, fn func(context.Context, *depgraph.Index) (int, error)) error {
	if s.queryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.queryTimeout)
		defer cancel()
	}
	ctx, span := observability.StartQuerySpan(ctx, projectID, name)
	defer span.End()
	defer s.metrics.ObserveQuery(name, time.Now())

	err := s.syncer.View(ctx, projectID, func(ctx context.Context) error {
		idx, err := s.index(ctx, projectID)
		if err != nil {
			return err
		}
		n, err := fn(ctx, idx)
		if err != nil {
			return err
		}
		observability.RecordQueryResult(span, n)
		return nil
	})
	if err != nil {
		recordQueryError(span, err)
		return err
	}
	return nil
}

func recordQueryError(span trace.Span, err error) {
	// not-found answers are results, not failures
	if errors.Is(err, depgraph.ErrNodeNotFound) || errors.Is(err, graph.ErrSnapshotNotFound) {
		return
	}
	observability.RecordError(span, err)
}

// index returns the cached Index of a project, loading the snapshot on a
// miss. Callers hold the project's read section.
func (s *Service) index(ctx context.Context, projectID string) (*depgraph.Index, error) {
	if idx, ok := s.cache.Get(projectID); ok {
		return idx, nil
	}
	snap, err := s.syncer.Store().LoadSnapshot(ctx, projectID)
	if err != nil {
		return nil, err
	}
	idx := depgraph.NewIndex(snap.Nodes, snap.Edges)
	s.cache.Add(projectID, idx)
	s.logger.Debug("snapshot loaded", "project", projectID, "run_id", snap.Run.ID, "nodes", idx.Len(), "edges", idx.EdgeCount())
	return idx, nil
}

// Invalidate drops the cached snapshot of a project, e.g. after a sync run
// by another process.
func (s *Service) Invalidate(projectID string) {
	s.cache.Remove(projectID)
}
