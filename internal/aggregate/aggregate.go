// Package aggregate runs the extractor over every code body of an artifact
// and reduces the per-body results into one DependencySet per artifact.
package aggregate

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/GilbertoAbrao/wxcode-sub008/internal/artifact"
	"github.com/GilbertoAbrao/wxcode-sub008/internal/extract"
	"github.com/GilbertoAbrao/wxcode-sub008/internal/observability"
)

// SkippedBody is a code body left out of aggregation because it could not
// be decoded.
type SkippedBody struct {
	ArtifactID string `json:"artifact"`
	Body       string `json:"body"`
	Reason     string `json:"reason"`
}

// Result is the aggregation outcome for one artifact.
type Result struct {
	ArtifactID string                 `json:"artifact"`
	Deps       artifact.DependencySet `json:"dependencies"`
	Hash       string                 `json:"code_hash"`
	// Reused is set when extraction was skipped because the fingerprint
	// matched a persisted or cached set.
	Reused bool `json:"reused"`
	// Changed is set when Deps or Hash differ from what the artifact
	// carried, i.e. when a write-back is needed.
	Changed   bool          `json:"changed"`
	Extracted int           `json:"extracted_bodies"`
	Skipped   []SkippedBody `json:"skipped,omitempty"`
}

// Options configures an Aggregator.
type Options struct {
	// Workers bounds the goroutines used by AggregateAll. Zero means GOMAXPROCS.
	Workers int
	// CacheSize is the number of fingerprints remembered across runs. Zero
	// disables the cache.
	CacheSize int
	Logger    *slog.Logger
	Metrics   *observability.Metrics
	Audit     *observability.AuditLogger
}

type cacheEntry struct {
	deps    artifact.DependencySet
	skipped []SkippedBody
}

// Aggregator computes dependency sets. It is safe for concurrent use.
type Aggregator struct {
	vocab   *extract.Vocabulary
	workers int
	cache   *lru.Cache[string, cacheEntry]
	logger  *slog.Logger
	metrics *observability.Metrics
	audit   *observability.AuditLogger
}

// New creates an Aggregator over vocab (nil means the embedded vocabulary).
func New(vocab *extract.Vocabulary, opts Options) (*Aggregator, error) {
	if vocab == nil {
		vocab = extract.DefaultVocabulary()
	}
	ag := &Aggregator{
		vocab:   vocab,
		workers: opts.Workers,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		audit:   opts.Audit,
	}
	if ag.workers <= 0 {
		ag.workers = runtime.GOMAXPROCS(0)
	}
	if ag.logger == nil {
		ag.logger = slog.Default()
	}
	if opts.CacheSize > 0 {
		c, err := lru.New[string, cacheEntry](opts.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("creating fingerprint cache: %w", err)
		}
		ag.cache = c
	}
	return ag, nil
}

// Vocabulary returns the vocabulary the aggregator extracts with.
func (ag *Aggregator) Vocabulary() *extract.Vocabulary { return ag.vocab }

// ClassNames returns the names of the class artifacts, the vocabulary used
// for class-usage detection.
func ClassNames(artifacts []artifact.Artifact) []string {
	var out []string
	for _, a := range artifacts {
		if a.Kind == artifact.KindClass {
			out = append(out, a.Name)
		}
	}
	return out
}

// Aggregate computes the DependencySet of one artifact given the project's
// class names. It only fails when ctx is done.
func (ag *Aggregator) Aggregate(ctx context.Context, a artifact.Artifact, classes []string) (Result, error) {
	return ag.aggregate(ctx, extract.New(ag.vocab, extract.WithClasses(classes)), extractionContext(ag.vocab.Version(), classes), a)
}

func (ag *Aggregator) aggregate(ctx context.Context, ex *extract.Extractor, extractCtx string, a artifact.Artifact) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	res := Result{
		ArtifactID: a.ID(),
		Hash:       Fingerprint(a.Code, extractCtx),
	}

	if a.Dependencies != nil && a.CodeHash == res.Hash {
		res.Deps = artifact.Merge(*a.Dependencies)
		res.Reused = true
		return res, nil
	}

	if ag.cache != nil {
		if e, ok := ag.cache.Get(res.Hash); ok {
			res.Deps = e.deps
			res.Skipped = retag(e.skipped, res.ArtifactID)
			res.Reused = true
			res.Changed = true
			return res, nil
		}
	}

	sets := make([]artifact.DependencySet, 0, len(a.Code))
	for _, body := range a.Code {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		text, err := body.Decode()
		if err != nil {
			ag.logger.Warn("skipping code body",
				"project", a.ProjectID,
				"artifact", res.ArtifactID,
				"body", body.Name,
				"error", err,
			)
			ag.audit.BodySkipped(a.ProjectID, res.ArtifactID, body.Name, err)
			res.Skipped = append(res.Skipped, SkippedBody{
				ArtifactID: res.ArtifactID,
				Body:       body.Name,
				Reason:     err.Error(),
			})
			continue
		}
		sets = append(sets, ex.Extract(text))
		res.Extracted++
	}
	res.Deps = artifact.Merge(sets...)
	res.Changed = true

	if ag.cache != nil {
		ag.cache.Add(res.Hash, cacheEntry{deps: res.Deps, skipped: res.Skipped})
	}
	return res, nil
}

func retag(skipped []SkippedBody, id string) []SkippedBody {
	if len(skipped) == 0 {
		return nil
	}
	out := make([]SkippedBody, len(skipped))
	for i, s := range skipped {
		s.ArtifactID = id
		out[i] = s
	}
	return out
}

// AggregateAll aggregates every artifact in parallel. results[i] belongs to
// artifacts[i]. Per-body failures are reported in the results; only context
// cancellation aborts the batch.
func (ag *Aggregator) AggregateAll(ctx context.Context, artifacts []artifact.Artifact) ([]Result, error) {
	projectID := ""
	if len(artifacts) > 0 {
		projectID = artifacts[0].ProjectID
	}
	ctx, span := observability.StartAggregateSpan(ctx, projectID, len(artifacts))
	defer span.End()

	classes := ClassNames(artifacts)
	ex := extract.New(ag.vocab, extract.WithClasses(classes))
	extractCtx := extractionContext(ag.vocab.Version(), classes)

	results := make([]Result, len(artifacts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ag.workers)
	for i := range artifacts {
		g.Go(func() error {
			r, err := ag.aggregate(gctx, ex, extractCtx, artifacts[i])
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		observability.RecordError(span, err)
		return nil, fmt.Errorf("aggregating %d artifacts: %w", len(artifacts), err)
	}

	var extracted, skipped, reused int
	for _, r := range results {
		extracted += r.Extracted
		skipped += len(r.Skipped)
		if r.Reused {
			reused++
		}
	}
	ag.metrics.RecordExtraction(extracted, skipped, reused)
	observability.RecordAggregateResult(span, reused, skipped)
	ag.logger.Info("aggregation finished",
		"project", projectID,
		"artifacts", len(artifacts),
		"extracted_bodies", extracted,
		"skipped_bodies", skipped,
		"reused", reused,
	)
	return results, nil
}

// Attach returns copies of artifacts carrying the aggregated dependency sets
// and hashes. results must come from AggregateAll over the same slice.
func Attach(artifacts []artifact.Artifact, results []Result) []artifact.Artifact {
	out := make([]artifact.Artifact, len(artifacts))
	for i, a := range artifacts {
		if i < len(results) {
			deps := results[i].Deps
			a.Dependencies = &deps
			a.CodeHash = results[i].Hash
		}
		out[i] = a
	}
	return out
}

// Apply persists the changed dependency sets. It must only be called after
// AggregateAll has returned, so the repository sees a complete batch.
// Repositories implementing artifact.BatchSaver get one call for the batch.
func Apply(ctx context.Context, repo artifact.Repository, projectID string, artifacts []artifact.Artifact, results []Result) (int, error) {
	if len(results) != len(artifacts) {
		return 0, fmt.Errorf("apply: %d results for %d artifacts", len(results), len(artifacts))
	}
	if bs, ok := repo.(artifact.BatchSaver); ok {
		var updates []artifact.DependencyUpdate
		for i, r := range results {
			if r.Changed {
				a := artifacts[i]
				updates = append(updates, artifact.DependencyUpdate{Kind: a.Kind, Name: a.Name, Deps: r.Deps, CodeHash: r.Hash})
			}
		}
		if len(updates) == 0 {
			return 0, nil
		}
		if err := bs.SaveDependenciesBatch(ctx, projectID, updates); err != nil {
			return 0, fmt.Errorf("saving %d dependency sets: %w", len(updates), err)
		}
		return len(updates), nil
	}
	written := 0
	for i, r := range results {
		if !r.Changed {
			continue
		}
		a := artifacts[i]
		if err := repo.SaveDependencies(ctx, projectID, a.Kind, a.Name, r.Deps, r.Hash); err != nil {
			return written, fmt.Errorf("saving dependencies of %s: %w", a.ID(), err)
		}
		written++
	}
	return written, nil
}

// Skipped flattens the skipped bodies of all results.
func Skipped(results []Result) []SkippedBody {
	var out []SkippedBody
	for _, r := range results {
		out = append(out, r.Skipped...)
	}
	return out
}
