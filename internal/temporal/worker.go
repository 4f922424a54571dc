package temporal

import (
	"context"
	"fmt"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

// StartWorker creates and starts a Temporal worker.
func StartWorker(c client.Client, taskQueue string) (worker.Worker, error) {
	w := worker.New(c, taskQueue, worker.Options{})

	w.RegisterWorkflow(SyncWorkflow)
	w.RegisterActivity(AggregateActivity)
	w.RegisterActivity(SyncGraphActivity)

	if err := w.Start(); err != nil {
		return nil, fmt.Errorf("starting worker: %w", err)
	}
	return w, nil
}

// WorkflowID is the ID used for a project's sync workflow. Using one ID per
// project keeps syncs of the same project from overlapping across workers.
func WorkflowID(projectID string) string {
	return "wxcode-sync-" + projectID
}

// StartSync starts SyncWorkflow for a project. It fails if a sync of the
// same project is already running.
func StartSync(ctx context.Context, c client.Client, taskQueue string, input SyncInput) (client.WorkflowRun, error) {
	opts := client.StartWorkflowOptions{
		ID:                                       WorkflowID(input.ProjectID),
		TaskQueue:                                taskQueue,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
	}
	run, err := c.ExecuteWorkflow(ctx, opts, SyncWorkflow, input)
	if err != nil {
		return nil, fmt.Errorf("starting sync workflow for %s: %w", input.ProjectID, err)
	}
	return run, nil
}
