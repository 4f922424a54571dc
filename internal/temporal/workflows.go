package temporal

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// Error types the workflow never retries.
const (
	ErrTypeNotFound = "ArtifactsNotFound"
	ErrTypeInvalid  = "InvalidArtifact"
)

// SyncInput holds the workflow parameters.
type SyncInput struct {
	ProjectID  string
	DryRun     bool
	ClearFirst bool
}

// SyncOutput holds the workflow result.
type SyncOutput struct {
	ProjectID           string
	RunID               string
	Artifacts           int
	DependenciesWritten int
	SkippedBodies       []string // "artifact/body: reason"
	NodeCount           int
	EdgeCount           int
	Placeholders        int
	Cycles              []string
	DryRun              bool
}

// SyncWorkflow aggregates a project's dependency sets, then rebuilds and
// syncs its graph. The second activity reuses the sets persisted by the
// first, so a retry after a graph failure does not redo extraction.
func SyncWorkflow(ctx workflow.Context, input SyncInput) (*SyncOutput, error) {
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Minute,
		HeartbeatTimeout:    time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        5 * time.Second,
			BackoffCoefficient:     2.0,
			MaximumInterval:        2 * time.Minute,
			MaximumAttempts:        5,
			NonRetryableErrorTypes: []string{ErrTypeNotFound, ErrTypeInvalid},
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)
	logger := workflow.GetLogger(ctx)

	// Step 1: dependency extraction and write-back
	var agg AggregateResult
	if err := workflow.ExecuteActivity(ctx, AggregateActivity, input).Get(ctx, &agg); err != nil {
		return nil, fmt.Errorf("aggregate: %w", err)
	}
	logger.Info("aggregation done", "project", input.ProjectID, "artifacts", agg.Artifacts, "skipped", len(agg.Skipped))

	// Step 2: build, sequence and sync
	var res GraphResult
	if err := workflow.ExecuteActivity(ctx, SyncGraphActivity, input).Get(ctx, &res); err != nil {
		return nil, fmt.Errorf("sync graph: %w", err)
	}

	return &SyncOutput{
		ProjectID:           input.ProjectID,
		RunID:               res.RunID,
		Artifacts:           agg.Artifacts,
		DependenciesWritten: agg.DependenciesWritten,
		SkippedBodies:       agg.Skipped,
		NodeCount:           res.NodeCount,
		EdgeCount:           res.EdgeCount,
		Placeholders:        res.Placeholders,
		Cycles:              res.Cycles,
		DryRun:              input.DryRun,
	}, nil
}
