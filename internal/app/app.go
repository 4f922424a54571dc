// Package app assembles the wxcode components from configuration. Both the
// CLI and the worker start here.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/GilbertoAbrao/wxcode-sub008/internal/aggregate"
	"github.com/GilbertoAbrao/wxcode-sub008/internal/artifact"
	"github.com/GilbertoAbrao/wxcode-sub008/internal/artifact/file"
	"github.com/GilbertoAbrao/wxcode-sub008/internal/artifact/postgres"
	"github.com/GilbertoAbrao/wxcode-sub008/internal/config"
	"github.com/GilbertoAbrao/wxcode-sub008/internal/depgraph"
	"github.com/GilbertoAbrao/wxcode-sub008/internal/extract"
	"github.com/GilbertoAbrao/wxcode-sub008/internal/graph"
	"github.com/GilbertoAbrao/wxcode-sub008/internal/graph/memory"
	"github.com/GilbertoAbrao/wxcode-sub008/internal/graph/neo4j"
	"github.com/GilbertoAbrao/wxcode-sub008/internal/observability"
	"github.com/GilbertoAbrao/wxcode-sub008/internal/pipeline"
)

// App holds the long-lived components of one process.
type App struct {
	Config    *config.Config
	Logger    *slog.Logger
	Metrics   *observability.Metrics
	Audit     *observability.AuditLogger
	Tracer    *observability.TracerProvider
	Vocab     *extract.Vocabulary
	Store     graph.Store
	Artifacts artifact.Repository
	Service   *pipeline.Service
}

// New builds an App. logOut receives the structured log; nil means
// io.Discard. On error every component opened so far is closed.
func New(ctx context.Context, cfg *config.Config, logOut io.Writer) (_ *App, err error) {
	if logOut == nil {
		logOut = io.Discard
	}
	a := &App{
		Config:  cfg,
		Logger:  observability.NewLogger(cfg.Log.Level, cfg.Log.Format, logOut),
		Metrics: observability.NewMetrics(),
	}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	a.Tracer, err = observability.InitTracing(ctx, &observability.TracingConfig{
		ServiceName:    "wxcode",
		ServiceVersion: cfg.Health.Version,
		Environment:    cfg.Tracing.Environment,
		OTLPEndpoint:   cfg.Tracing.Endpoint,
		SampleRate:     cfg.Tracing.SampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}

	a.Audit, err = observability.NewAuditLogger(&observability.AuditConfig{
		Enabled:    cfg.Audit.Enabled,
		OutputPath: cfg.Audit.Path,
	})
	if err != nil {
		return nil, err
	}

	a.Vocab, err = extract.LoadVocabulary(cfg.Extract.Vocabulary)
	if err != nil {
		return nil, err
	}

	if a.Artifacts, err = OpenArtifacts(ctx, cfg.Artifacts); err != nil {
		return nil, err
	}
	if a.Store, err = OpenStore(ctx, cfg.Graph); err != nil {
		return nil, err
	}

	ag, err := aggregate.New(a.Vocab, aggregate.Options{
		Workers:   cfg.Extract.Workers,
		CacheSize: cfg.Extract.CacheSize,
		Logger:    a.Logger,
		Metrics:   a.Metrics,
		Audit:     a.Audit,
	})
	if err != nil {
		return nil, err
	}

	syncer := graph.NewSyncer(a.Store, graph.SyncerOptions{
		BatchSize: cfg.Graph.BatchSize,
		Logger:    a.Logger,
		Metrics:   a.Metrics,
		Audit:     a.Audit,
	})

	a.Service, err = pipeline.New(pipeline.Options{
		Artifacts:      a.Artifacts,
		Syncer:         syncer,
		Aggregator:     ag,
		EntryPoints:    EntryPoints(cfg.Analysis),
		Layers:         depgraph.DefaultLayerPolicy().WithRanks(cfg.Analysis.Layers),
		MaxImpactDepth: cfg.Analysis.MaxImpactDepth,
		Path: depgraph.PathOptions{
			MaxHops:  cfg.Analysis.MaxPathHops,
			MaxPaths: cfg.Analysis.MaxPaths,
		},
		QueryTimeout: cfg.Analysis.QueryTimeout,
		CacheSize:    cfg.Analysis.SnapshotCacheSize,
		CacheTTL:     cfg.Analysis.SnapshotTTL,
		Logger:       a.Logger,
		Metrics:      a.Metrics,
		Audit:        a.Audit,
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// EntryPoints converts the analysis config. A nil prefix list keeps the
// default convention; an explicit empty list disables prefixes.
func EntryPoints(cfg config.AnalysisConfig) depgraph.EntryPoints {
	ep := depgraph.EntryPoints{Prefixes: cfg.EntryPointPrefixes, Names: cfg.EntryPoints}
	if ep.Prefixes == nil {
		ep.Prefixes = depgraph.DefaultEntryPoints().Prefixes
	}
	return ep
}

// OpenStore connects the configured graph store and ensures its schema.
func OpenStore(ctx context.Context, cfg config.GraphConfig) (graph.Store, error) {
	var store graph.Store
	switch cfg.Store {
	case "memory":
		store = memory.New()
	case "", "neo4j":
		s, err := neo4j.New(ctx, neo4j.Config{
			URI:      cfg.URI,
			Username: cfg.Username,
			Password: cfg.Password,
			Database: cfg.Database,
		})
		if err != nil {
			return nil, err
		}
		store = s
	default:
		return nil, fmt.Errorf("unknown graph store %q", cfg.Store)
	}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = store.Close(ctx)
		return nil, fmt.Errorf("graph schema: %w", err)
	}
	return store, nil
}

// OpenArtifacts opens the configured artifact repository.
func OpenArtifacts(ctx context.Context, cfg config.ArtifactsConfig) (artifact.Repository, error) {
	switch cfg.Source {
	case "", "file":
		r, err := file.New(cfg.Path)
		if err != nil {
			return nil, err
		}
		return r, nil
	case "postgres":
		r, err := postgres.Open(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return r, nil
	default:
		return nil, fmt.Errorf("unknown artifact source %q", cfg.Source)
	}
}

// Close releases every component, in reverse order of creation.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Store != nil {
		errs = append(errs, a.Store.Close(ctx))
	}
	if a.Artifacts != nil {
		errs = append(errs, a.Artifacts.Close())
	}
	if a.Audit != nil {
		errs = append(errs, a.Audit.Close())
	}
	if a.Tracer != nil {
		errs = append(errs, a.Tracer.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
