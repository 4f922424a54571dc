package temporal

import (
	"context"
	"errors"
	"fmt"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/GilbertoAbrao/wxcode-sub008/internal/artifact"
	"github.com/GilbertoAbrao/wxcode-sub008/internal/pipeline"
)

// AggregateResult is the serializable result of AggregateActivity.
type AggregateResult struct {
	Artifacts           int
	Reused              int
	DependenciesWritten int
	Skipped             []string
}

// GraphResult is the serializable result of SyncGraphActivity.
type GraphResult struct {
	RunID        string
	NodeCount    int
	EdgeCount    int
	Placeholders int
	Cycles       []string
}

// Dependencies holds shared resources injected into activities.
type Dependencies struct {
	Service *pipeline.Service
}

var deps *Dependencies

// SetDependencies injects shared resources (called during worker setup).
func SetDependencies(d *Dependencies) {
	deps = d
}

func service() (*pipeline.Service, error) {
	if deps == nil || deps.Service == nil {
		return nil, temporal.NewNonRetryableApplicationError("worker has no pipeline service", "Misconfigured", nil)
	}
	return deps.Service, nil
}

func AggregateActivity(ctx context.Context, input SyncInput) (AggregateResult, error) {
	svc, err := service()
	if err != nil {
		return AggregateResult{}, err
	}
	activity.RecordHeartbeat(ctx, "aggregating")

	report, err := svc.Aggregate(ctx, input.ProjectID, input.DryRun)
	if err != nil {
		return AggregateResult{}, classify(err)
	}
	out := AggregateResult{
		Artifacts:           report.Artifacts,
		Reused:              report.Reused,
		DependenciesWritten: report.DependenciesWritten,
	}
	for _, s := range report.Skipped {
		out.Skipped = append(out.Skipped, fmt.Sprintf("%s/%s: %s", s.ArtifactID, s.Body, s.Reason))
	}
	return out, nil
}

func SyncGraphActivity(ctx context.Context, input SyncInput) (GraphResult, error) {
	svc, err := service()
	if err != nil {
		return GraphResult{}, err
	}
	activity.RecordHeartbeat(ctx, "syncing")

	report, err := svc.Sync(ctx, input.ProjectID, pipeline.SyncOptions{DryRun: input.DryRun, ClearFirst: input.ClearFirst})
	if err != nil {
		return GraphResult{}, classify(err)
	}
	return GraphResult{
		RunID:        report.Result.RunID,
		NodeCount:    report.Result.NodeCount,
		EdgeCount:    report.Result.EdgeCount,
		Placeholders: report.Placeholders,
		Cycles:       report.Cycles,
	}, nil
}

// classify marks errors that a retry cannot fix.
func classify(err error) error {
	switch {
	case errors.Is(err, artifact.ErrNotFound):
		return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeNotFound, err)
	case errors.Is(err, artifact.ErrInvalidArtifact):
		return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeInvalid, err)
	}
	return err
}
