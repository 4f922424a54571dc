package temporal

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"

	"github.com/GilbertoAbrao/wxcode-sub008/internal/aggregate"
	"github.com/GilbertoAbrao/wxcode-sub008/internal/artifact/file"
	"github.com/GilbertoAbrao/wxcode-sub008/internal/depgraph"
	"github.com/GilbertoAbrao/wxcode-sub008/internal/graph"
	"github.com/GilbertoAbrao/wxcode-sub008/internal/graph/memory"
	"github.com/GilbertoAbrao/wxcode-sub008/internal/pipeline"
)

const manifest = `project: erp
artifacts:
  - kind: table
    name: CLIENTE
  - kind: procedure
    name: CadastrarCliente
    code:
      - name: CadastrarCliente
        type: procedure
        text: "HAdd(CLIENTE)"
  - kind: page
    name: PAGE_Cliente
    code:
      - name: BTN_Salvar.Click
        type: event
        text: "CadastrarCliente()"
`

func setupService(t *testing.T) *memory.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "artifacts.yaml")
	require.NoError(t, os.WriteFile(path, []byte(manifest), 0o644))
	repo, err := file.New(path)
	require.NoError(t, err)
	ag, err := aggregate.New(nil, aggregate.Options{})
	require.NoError(t, err)

	store := memory.New()
	svc, err := pipeline.New(pipeline.Options{
		Artifacts:   repo,
		Aggregator:  ag,
		Syncer:      graph.NewSyncer(store, graph.SyncerOptions{}),
		EntryPoints: depgraph.DefaultEntryPoints(),
	})
	require.NoError(t, err)

	SetDependencies(&Dependencies{Service: svc})
	t.Cleanup(func() { SetDependencies(nil) })
	return store
}

func newEnv(t *testing.T) *testsuite.TestWorkflowEnvironment {
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestWorkflowEnvironment()
	env.RegisterActivity(AggregateActivity)
	env.RegisterActivity(SyncGraphActivity)
	t.Cleanup(func() { env.AssertExpectations(t) })
	return env
}

func TestSyncWorkflow(t *testing.T) {
	store := setupService(t)
	env := newEnv(t)

	env.ExecuteWorkflow(SyncWorkflow, SyncInput{ProjectID: "erp", ClearFirst: true})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out SyncOutput
	require.NoError(t, env.GetWorkflowResult(&out))
	assert.Equal(t, 3, out.Artifacts)
	assert.Equal(t, 3, out.DependenciesWritten)
	assert.Equal(t, 3, out.NodeCount)
	assert.Equal(t, 2, out.EdgeCount)
	assert.Empty(t, out.Cycles)
	assert.NotEmpty(t, out.RunID)

	assert.Equal(t, []string{"erp"}, store.Projects())
}

func TestSyncWorkflow_DryRun(t *testing.T) {
	store := setupService(t)
	env := newEnv(t)

	env.ExecuteWorkflow(SyncWorkflow, SyncInput{ProjectID: "erp", DryRun: true})
	require.NoError(t, env.GetWorkflowError())

	var out SyncOutput
	require.NoError(t, env.GetWorkflowResult(&out))
	assert.True(t, out.DryRun)
	assert.Zero(t, out.DependenciesWritten)
	assert.Equal(t, 3, out.NodeCount)
	assert.Empty(t, store.Projects())
}

func TestSyncWorkflow_UnknownProjectIsNotRetried(t *testing.T) {
	setupService(t)
	env := newEnv(t)

	env.ExecuteWorkflow(SyncWorkflow, SyncInput{ProjectID: "missing"})
	err := env.GetWorkflowError()
	require.Error(t, err)

	appErr := findApplicationError(err, ErrTypeNotFound)
	require.NotNil(t, appErr, "got %v", err)
	assert.True(t, appErr.NonRetryable())
}

// findApplicationError walks the cause chain for an application error of
// the given type; wrapping in the workflow adds outer application errors.
func findApplicationError(err error, errType string) *temporal.ApplicationError {
	for ; err != nil; err = errors.Unwrap(err) {
		var appErr *temporal.ApplicationError
		if errors.As(err, &appErr) && appErr.Type() == errType {
			return appErr
		}
		if appErr != nil {
			err = appErr
		}
	}
	return nil
}

func TestSyncWorkflow_RetriesGraphFailure(t *testing.T) {
	setupService(t)
	env := newEnv(t)

	env.OnActivity(SyncGraphActivity, mock.Anything, mock.Anything).
		Return(GraphResult{}, errors.New("store unavailable")).Once()
	env.OnActivity(SyncGraphActivity, mock.Anything, mock.Anything).
		Return(GraphResult{RunID: "run-2", NodeCount: 3}, nil).Once()

	env.ExecuteWorkflow(SyncWorkflow, SyncInput{ProjectID: "erp", ClearFirst: true})
	require.NoError(t, env.GetWorkflowError())

	var out SyncOutput
	require.NoError(t, env.GetWorkflowResult(&out))
	assert.Equal(t, "run-2", out.RunID)
	assert.Equal(t, 3, out.Artifacts)
}

func TestActivities_WithoutDependencies(t *testing.T) {
	SetDependencies(nil)
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestActivityEnvironment()
	env.RegisterActivity(AggregateActivity)

	_, err := env.ExecuteActivity(AggregateActivity, SyncInput{ProjectID: "erp"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no pipeline service")
}

func TestWorkflowID(t *testing.T) {
	assert.Equal(t, "wxcode-sync-erp", WorkflowID("erp"))
}
