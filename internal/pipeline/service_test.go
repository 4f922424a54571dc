package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GilbertoAbrao/wxcode-sub008/internal/aggregate"
	"github.com/GilbertoAbrao/wxcode-sub008/internal/artifact"
	"github.com/GilbertoAbrao/wxcode-sub008/internal/artifact/file"
	"github.com/GilbertoAbrao/wxcode-sub008/internal/depgraph"
	"github.com/GilbertoAbrao/wxcode-sub008/internal/graph"
	"github.com/GilbertoAbrao/wxcode-sub008/internal/graph/memory"
)

const manifest = `project: erp
artifacts:
  - kind: table
    name: CLIENTE
  - kind: procedure
    name: ValidarCPF
    code:
      - name: ValidarCPF
        type: procedure
        text: "RETURN True"
  - kind: procedure
    name: CadastrarCliente
    code:
      - name: CadastrarCliente
        type: procedure
        text: |
          IF NOT ValidarCPF(sCPF) THEN
            RETURN False
          END
          HAdd(CLIENTE)
  - kind: procedure
    name: AjustarSaldo
    code:
      - name: AjustarSaldo
        type: procedure
        text: "RecalcularSaldo(nConta)"
  - kind: procedure
    name: RecalcularSaldo
    code:
      - name: RecalcularSaldo
        type: procedure
        text: "AjustarSaldo(nConta)"
  - kind: page
    name: PAGE_Cliente
    code:
      - name: OnLoad
        type: event
        text: "CarregarTela()"
      - name: BTN_Salvar.Click
        type: event
        text: "CadastrarCliente(EDT_Nome, EDT_CPF)"
      - name: Broken
        type: event
        encoding: base64
        text: "!!!not base64"
`

type fixture struct {
	svc   *Service
	store *memory.Store
	path  string
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	path := filepath.Join(t.TempDir(), "artifacts.yaml")
	require.NoError(t, os.WriteFile(path, []byte(manifest), 0o644))
	repo, err := file.New(path)
	require.NoError(t, err)

	ag, err := aggregate.New(nil, aggregate.Options{Workers: 2})
	require.NoError(t, err)
	store := memory.New()

	opts.Artifacts = repo
	opts.Aggregator = ag
	opts.Syncer = graph.NewSyncer(store, graph.SyncerOptions{BatchSize: 3})
	if opts.EntryPoints.Prefixes == nil {
		opts.EntryPoints = depgraph.DefaultEntryPoints()
	}
	svc, err := New(opts)
	require.NoError(t, err)
	return &fixture{svc: svc, store: store, path: path}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestSync_CadastrarCliente(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})

	report, err := f.svc.Sync(ctx, "erp", DefaultSyncOptions())
	require.NoError(t, err)
	assert.Equal(t, 6, report.Artifacts)
	assert.Equal(t, 6, report.DependenciesWritten)
	assert.Equal(t, 1, report.Placeholders) // CarregarTela
	require.Len(t, report.Skipped, 1)
	assert.Equal(t, "Broken", report.Skipped[0].Body)
	assert.Equal(t, []string{"proc:AjustarSaldo", "proc:RecalcularSaldo"}, report.Cycles)
	assert.Equal(t, 7, report.Result.NodeCount)
	assert.Equal(t, report.Result.NodeCount, report.Stats.TotalNodes)

	// dependency sets were written back to the manifest
	repo, err := file.New(f.path)
	require.NoError(t, err)
	arts, err := repo.List(ctx, "erp")
	require.NoError(t, err)
	for _, a := range arts {
		if a.Name == "CadastrarCliente" {
			require.NotNil(t, a.Dependencies)
			assert.Equal(t, []string{"ValidarCPF"}, a.Dependencies.Calls)
			assert.Equal(t, []string{"CLIENTE"}, a.Dependencies.UsesTables)
			assert.NotEmpty(t, a.CodeHash)
		}
	}

	m, err := f.svc.Model(ctx, "erp")
	require.NoError(t, err)
	assert.Contains(t, m.Edges, depgraph.Edge{From: "proc:CadastrarCliente", To: "proc:ValidarCPF", Relation: depgraph.RelCalls})
	assert.Contains(t, m.Edges, depgraph.Edge{From: "proc:CadastrarCliente", To: "table:CLIENTE", Relation: depgraph.RelUsesTable})
	assert.Equal(t, 1, m.Placeholders)

	impacted, err := f.svc.Impact(ctx, "erp", "table:CLIENTE", 1)
	require.NoError(t, err)
	require.Len(t, impacted, 1)
	assert.Equal(t, "proc:CadastrarCliente", impacted[0].Node.Key)
	assert.Equal(t, 1, impacted[0].Depth)
}

func TestSync_Idempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})

	first, err := f.svc.Sync(ctx, "erp", DefaultSyncOptions())
	require.NoError(t, err)
	second, err := f.svc.Sync(ctx, "erp", DefaultSyncOptions())
	require.NoError(t, err)

	assert.Equal(t, first.Result.NodeCount, second.Result.NodeCount)
	assert.Equal(t, first.Result.EdgeCount, second.Result.EdgeCount)
	assert.Equal(t, 6, second.Reused)
	assert.Zero(t, second.DependenciesWritten)
	assert.Equal(t, first.Stats, second.Stats)
}

func TestSync_DryRun(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})

	report, err := f.svc.Sync(ctx, "erp", SyncOptions{DryRun: true, ClearFirst: true})
	require.NoError(t, err)
	assert.True(t, report.Result.DryRun)
	assert.Equal(t, 7, report.Result.NodeCount)
	assert.Zero(t, report.DependenciesWritten)

	_, err = f.svc.Impact(ctx, "erp", "table:CLIENTE", 1)
	assert.ErrorIs(t, err, graph.ErrSnapshotNotFound)

	repo, err := file.New(f.path)
	require.NoError(t, err)
	arts, err := repo.List(ctx, "erp")
	require.NoError(t, err)
	for _, a := range arts {
		assert.Nil(t, a.Dependencies, "dry run must not write back %s", a.ID())
	}
}

func TestSync_UnknownProject(t *testing.T) {
	f := newFixture(t, Options{})
	_, err := f.svc.Sync(context.Background(), "other", DefaultSyncOptions())
	assert.ErrorIs(t, err, artifact.ErrNotFound)
}

func TestQueries(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	_, err := f.svc.Sync(ctx, "erp", DefaultSyncOptions())
	require.NoError(t, err)

	t.Run("path", func(t *testing.T) {
		res, err := f.svc.Path(ctx, "erp", "page:PAGE_Cliente", "table:CLIENTE")
		require.NoError(t, err)
		require.Len(t, res.Paths, 1)
		assert.Equal(t, 2, res.Hops)
		assert.Equal(t, "proc:CadastrarCliente", res.Paths[0][1].Key)
	})

	t.Run("hubs", func(t *testing.T) {
		hubs, err := f.svc.Hubs(ctx, "erp", 3)
		require.NoError(t, err)
		require.Len(t, hubs, 1)
		assert.Equal(t, "proc:CadastrarCliente", hubs[0].Node.Key)
	})

	t.Run("dead code", func(t *testing.T) {
		dead, err := f.svc.DeadCode(ctx, "erp")
		require.NoError(t, err)
		assert.Empty(t, dead)
	})

	t.Run("sequence", func(t *testing.T) {
		seq, err := f.svc.Sequence(ctx, "erp")
		require.NoError(t, err)
		require.Len(t, seq.Nodes, 7)
		for _, n := range seq.Nodes {
			require.NotNil(t, n.TopologicalOrder)
			assert.Equal(t, n.Name == "AjustarSaldo" || n.Name == "RecalcularSaldo", n.CycleWarning, n.Key)
		}
		assert.Equal(t, []string{"proc:AjustarSaldo", "proc:RecalcularSaldo"}, seq.Cycles)
	})

	t.Run("stats", func(t *testing.T) {
		stats, err := f.svc.Stats(ctx, "erp")
		require.NoError(t, err)
		assert.Equal(t, 1, stats.ExternalCount)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := f.svc.Impact(ctx, "erp", "proc:Nope", 2)
		assert.ErrorIs(t, err, depgraph.ErrNodeNotFound)
		_, err = f.svc.Hubs(ctx, "never-synced", 1)
		assert.ErrorIs(t, err, graph.ErrSnapshotNotFound)
		_, err = f.svc.DeadCode(ctx, "never-synced")
		assert.ErrorIs(t, err, graph.ErrSnapshotNotFound)
	})
}

func TestImpact_DepthCap(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{MaxImpactDepth: 1})
	_, err := f.svc.Sync(ctx, "erp", DefaultSyncOptions())
	require.NoError(t, err)

	impacted, err := f.svc.Impact(ctx, "erp", "proc:ValidarCPF", 10)
	require.NoError(t, err)
	require.Len(t, impacted, 1)
	assert.Equal(t, "proc:CadastrarCliente", impacted[0].Node.Key)
}

func TestDeadCode_EntryPoints(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{EntryPoints: depgraph.EntryPoints{Prefixes: []string{}}})
	_, err := f.svc.Sync(ctx, "erp", DefaultSyncOptions())
	require.NoError(t, err)

	// PAGE_Cliente calls CadastrarCliente; pages are never dead themselves
	dead, err := f.svc.DeadCode(ctx, "erp")
	require.NoError(t, err)
	assert.Empty(t, dead)
}

func TestSnapshotCache(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	_, err := f.svc.Sync(ctx, "erp", DefaultSyncOptions())
	require.NoError(t, err)

	_, err = f.svc.Stats(ctx, "erp")
	require.NoError(t, err)

	// another process replaces the graph behind the cache
	other := graph.NewSyncer(f.store, graph.SyncerOptions{})
	_, err = other.Sync(ctx, "erp", &depgraph.Model{Nodes: []depgraph.Node{{Key: "proc:Solo", Kind: depgraph.NodeProc, Name: "Solo"}}}, graph.SyncOptions{ClearFirst: true})
	require.NoError(t, err)

	stats, err := f.svc.Stats(ctx, "erp")
	require.NoError(t, err)
	assert.Equal(t, 7, stats.TotalNodes, "served from cache")

	f.svc.Invalidate("erp")
	stats, err = f.svc.Stats(ctx, "erp")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalNodes)

	// a local sync invalidates on its own
	_, err = f.svc.Sync(ctx, "erp", DefaultSyncOptions())
	require.NoError(t, err)
	stats, err = f.svc.Stats(ctx, "erp")
	require.NoError(t, err)
	assert.Equal(t, 7, stats.TotalNodes)
}

func TestAggregate_ThenSyncReuses(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})

	agg, err := f.svc.Aggregate(ctx, "erp", false)
	require.NoError(t, err)
	assert.Equal(t, 6, agg.DependenciesWritten)
	assert.Len(t, agg.Skipped, 1)

	report, err := f.svc.Sync(ctx, "erp", DefaultSyncOptions())
	require.NoError(t, err)
	assert.Equal(t, 6, report.Reused)
	assert.Zero(t, report.DependenciesWritten)
	assert.Equal(t, 7, report.Result.NodeCount)
}

// failingStore fails edge writes while fail is set.
type failingStore struct {
	*memory.Store
	fail bool
}

func (s *failingStore) WriteEdges(ctx context.Context, projectID, runID string, edges []depgraph.Edge) error {
	if s.fail {
		return errors.New("connection reset")
	}
	return s.Store.WriteEdges(ctx, projectID, runID, edges)
}

func TestSync_FailureDropsCachedSnapshot(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	store := &failingStore{Store: f.store}
	f.svc.syncer = graph.NewSyncer(store, graph.SyncerOptions{BatchSize: 3})

	_, err := f.svc.Sync(ctx, "erp", DefaultSyncOptions())
	require.NoError(t, err)
	_, err = f.svc.Stats(ctx, "erp")
	require.NoError(t, err)

	store.fail = true
	_, err = f.svc.Sync(ctx, "erp", DefaultSyncOptions())
	var batchErr *graph.BatchError
	require.ErrorAs(t, err, &batchErr)

	_, err = f.svc.Stats(ctx, "erp")
	assert.ErrorIs(t, err, graph.ErrSnapshotNotFound)
}

// blockingRepo parks List until release is closed.
type blockingRepo struct {
	artifact.Repository
	entered chan struct{}
	release chan struct{}
	lists   atomic.Int32
}

func (r *blockingRepo) List(ctx context.Context, projectID string) ([]artifact.Artifact, error) {
	r.lists.Add(1)
	select {
	case r.entered <- struct{}{}:
	default:
	}
	<-r.release
	return r.Repository.List(ctx, projectID)
}

func TestSync_HoldsProjectWhileAggregating(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	repo := &blockingRepo{Repository: f.svc.artifacts, entered: make(chan struct{}, 1), release: make(chan struct{})}
	f.svc.artifacts = repo

	done := make(chan error, 1)
	go func() {
		_, err := f.svc.Sync(ctx, "erp", DefaultSyncOptions())
		done <- err
	}()
	<-repo.entered

	// the first sync is still aggregating; nothing else may read or write back
	_, err := f.svc.Sync(ctx, "erp", DefaultSyncOptions())
	assert.ErrorIs(t, err, graph.ErrSyncInProgress)
	_, err = f.svc.Aggregate(ctx, "erp", false)
	assert.ErrorIs(t, err, graph.ErrSyncInProgress)
	assert.EqualValues(t, 1, repo.lists.Load())

	close(repo.release)
	require.NoError(t, <-done)

	report, err := f.svc.Sync(ctx, "erp", DefaultSyncOptions())
	require.NoError(t, err)
	assert.Equal(t, 6, report.Reused)
	assert.EqualValues(t, 2, repo.lists.Load())
}
