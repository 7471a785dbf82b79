package workflow

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"
	"go.temporal.io/sdk/workflow"
)

func newEnv(t *testing.T) *testsuite.TestWorkflowEnvironment {
	t.Helper()
	var ts testsuite.WorkflowTestSuite
	return ts.NewTestWorkflowEnvironment()
}

func TestWorkflowIDHelpers(t *testing.T) {
	assert.Equal(t, "huly-webhook-issue.updated", WebhookWorkflowID("Issue.Updated"))
	assert.Equal(t, "beads-file-change-acme", FileChangeWorkflowID("ACME"))
}

func TestIssueSyncWorkflow(t *testing.T) {
	env := newEnv(t)
	in := IssueSyncInput{ProjectIdentifier: "ACME", IssueIdentifier: "ACME-7"}
	env.OnActivity(a.SyncIssue, mock.Anything, in).
		Return(&ProjectSyncResult{Project: "ACME", Synced: 1}, nil)

	env.ExecuteWorkflow(IssueSyncWorkflow, in)

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	var out ProjectSyncResult
	require.NoError(t, env.GetWorkflowResult(&out))
	assert.Equal(t, "ACME", out.Project)
	assert.Equal(t, 1, out.Synced)
	env.AssertExpectations(t)
}

func TestFullOrchestrationWorkflow(t *testing.T) {
	env := newEnv(t)

	env.OnActivity(a.StartSyncRun, mock.Anything).Return(int64(7), nil)
	env.OnActivity(a.DiscoverProjects, mock.Anything, mock.Anything).
		Return([]ProjectRef{{Identifier: "ACME"}, {Identifier: "ZETA"}}, nil)
	env.OnActivity(a.SyncProject, mock.Anything, SyncProjectInput{Identifier: "ACME"}).
		Return(&ProjectSyncResult{Project: "ACME", Synced: 3}, nil)
	env.OnActivity(a.SyncProject, mock.Anything, SyncProjectInput{Identifier: "ZETA"}).
		Return(&ProjectSyncResult{Project: "ZETA", Synced: 2, Errors: []string{"ZETA-9 patch: boom"}}, nil)

	var completed CompleteRunInput
	env.OnActivity(a.CompleteSyncRun, mock.Anything, mock.MatchedBy(func(in CompleteRunInput) bool {
		completed = in
		return true
	})).Return(nil)

	env.ExecuteWorkflow(FullOrchestrationWorkflow, OrchestrationInput{})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out OrchestrationResult
	require.NoError(t, env.GetWorkflowResult(&out))
	assert.Equal(t, int64(7), out.RunID)
	assert.Equal(t, "completed", out.Status)
	assert.Equal(t, 2, out.Projects)
	assert.Equal(t, 5, out.Synced)
	assert.Equal(t, 1, out.Errors)
	assert.False(t, out.Cancelled)

	assert.Equal(t, int64(7), completed.RunID)
	assert.Equal(t, "completed", completed.Status)
	assert.Equal(t, 2, completed.Stats.ProjectsTotal)
	assert.Equal(t, 2, completed.Stats.ProjectsSynced)
	assert.Equal(t, 0, completed.Stats.ProjectsErrored)
	assert.Equal(t, 5, completed.Stats.IssuesSynced)
	assert.Equal(t, 1, completed.Stats.Errors)

	qr, err := env.QueryWorkflow(QueryProgress)
	require.NoError(t, err)
	var progress SyncProgress
	require.NoError(t, qr.Get(&progress))
	assert.Equal(t, 2, progress.Total)
	assert.Equal(t, 2, progress.Completed)
	env.AssertExpectations(t)
}

func TestFullOrchestrationWorkflowAllProjectsFail(t *testing.T) {
	env := newEnv(t)

	env.OnActivity(a.StartSyncRun, mock.Anything).Return(int64(8), nil)
	env.OnActivity(a.DiscoverProjects, mock.Anything, mock.Anything).
		Return([]ProjectRef{{Identifier: "ACME"}}, nil)
	env.OnActivity(a.SyncProject, mock.Anything, mock.Anything).
		Return(nil, errors.New("huly unreachable"))

	var completed CompleteRunInput
	env.OnActivity(a.CompleteSyncRun, mock.Anything, mock.MatchedBy(func(in CompleteRunInput) bool {
		completed = in
		return true
	})).Return(nil)

	env.ExecuteWorkflow(FullOrchestrationWorkflow, OrchestrationInput{})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out OrchestrationResult
	require.NoError(t, env.GetWorkflowResult(&out))
	assert.Equal(t, "failed", out.Status)
	assert.Equal(t, 1, out.Errors)
	require.Len(t, out.Results, 1)
	assert.NotEmpty(t, out.Results[0].Errors)

	assert.Equal(t, "failed", completed.Status)
	assert.Equal(t, 1, completed.Stats.ProjectsErrored)
}

func TestFullOrchestrationWorkflowParallel(t *testing.T) {
	env := newEnv(t)

	env.OnActivity(a.StartSyncRun, mock.Anything).Return(int64(9), nil)
	env.OnActivity(a.DiscoverProjects, mock.Anything, mock.Anything).
		Return([]ProjectRef{{Identifier: "ACME"}, {Identifier: "ZETA"}, {Identifier: "OPS"}}, nil)
	env.OnActivity(a.SyncProject, mock.Anything, mock.Anything).
		Return(&ProjectSyncResult{Synced: 1}, nil)
	env.OnActivity(a.CompleteSyncRun, mock.Anything, mock.Anything).Return(nil)

	env.ExecuteWorkflow(FullOrchestrationWorkflow, OrchestrationInput{Parallel: true, MaxWorkers: 2})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out OrchestrationResult
	require.NoError(t, env.GetWorkflowResult(&out))
	assert.Equal(t, 3, out.Projects)
	assert.Equal(t, 3, out.Synced)
	assert.Len(t, out.Results, 3)
}

func TestFullOrchestrationWorkflowCancelSignal(t *testing.T) {
	env := newEnv(t)

	env.OnActivity(a.StartSyncRun, mock.Anything).Return(int64(10), nil)
	env.OnActivity(a.DiscoverProjects, mock.Anything, mock.Anything).
		Return([]ProjectRef{{Identifier: "ACME"}, {Identifier: "ZETA"}, {Identifier: "OPS"}}, nil)
	// The cancel lands while the first project is in flight, so at most one
	// more gets scheduled before the loop sees the flag.
	env.OnActivity(a.SyncProject, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { env.SignalWorkflow(SignalCancel, nil) }).
		Return(&ProjectSyncResult{Synced: 1}, nil).Maybe()
	env.OnActivity(a.CompleteSyncRun, mock.Anything, mock.Anything).Return(nil)

	env.ExecuteWorkflow(FullOrchestrationWorkflow, OrchestrationInput{})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out OrchestrationResult
	require.NoError(t, env.GetWorkflowResult(&out))
	assert.True(t, out.Cancelled)
	assert.Less(t, len(out.Results), 3, "cancel should stop scheduling new projects")
}

func TestScheduledSyncWorkflowContinuesAsNew(t *testing.T) {
	env := newEnv(t)
	env.RegisterWorkflow(FullOrchestrationWorkflow)
	env.OnWorkflow(FullOrchestrationWorkflow, mock.Anything, mock.Anything).
		Return(&OrchestrationResult{Status: "completed"}, nil)

	env.ExecuteWorkflow(ScheduledSyncWorkflow, ScheduleInput{IntervalMinutes: 1, MaxIterations: 2})

	require.True(t, env.IsWorkflowCompleted())
	err := env.GetWorkflowError()
	require.Error(t, err)
	assert.True(t, workflow.IsContinueAsNewError(err), "loop should continue as new, got %v", err)
}

func TestScheduledSyncWorkflowCancel(t *testing.T) {
	env := newEnv(t)
	env.RegisterWorkflow(FullOrchestrationWorkflow)

	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(SignalCancel, nil)
	}, 30*time.Second)

	env.ExecuteWorkflow(ScheduledSyncWorkflow, ScheduleInput{IntervalMinutes: 5, MaxIterations: 10})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out ScheduleResult
	require.NoError(t, env.GetWorkflowResult(&out))
	assert.True(t, out.Cancelled)
	assert.Zero(t, out.Iterations)
}

func TestBeadsFileChangeWorkflow(t *testing.T) {
	env := newEnv(t)
	env.OnActivity(a.SyncProject, mock.Anything, SyncProjectInput{Identifier: "ACME"}).
		Return(&ProjectSyncResult{Project: "ACME", Synced: 2, Committed: true}, nil)

	env.ExecuteWorkflow(BeadsFileChangeWorkflow, FileChangeInput{
		ProjectIdentifier: "ACME",
		Files:             []string{".beads/issues.jsonl"},
	})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	var out ProjectSyncResult
	require.NoError(t, env.GetWorkflowResult(&out))
	assert.True(t, out.Committed)
	env.AssertExpectations(t)
}

func TestHulyWebhookChangeWorkflowIssueEvent(t *testing.T) {
	env := newEnv(t)
	env.OnActivity(a.SyncIssue, mock.Anything, IssueSyncInput{IssueIdentifier: "ACME-12"}).
		Return(&ProjectSyncResult{Project: "ACME", Synced: 1}, nil)

	env.ExecuteWorkflow(HulyWebhookChangeWorkflow, WebhookEvent{
		Type:            "issue.updated",
		IssueIdentifier: "ACME-12",
	})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	env.AssertExpectations(t)
}

func TestHulyWebhookChangeWorkflowProjectEvent(t *testing.T) {
	env := newEnv(t)
	env.OnActivity(a.SyncProject, mock.Anything, SyncProjectInput{Identifier: "ACME"}).
		Return(&ProjectSyncResult{Project: "ACME"}, nil)

	env.ExecuteWorkflow(HulyWebhookChangeWorkflow, WebhookEvent{
		Type:              "project.updated",
		ProjectIdentifier: "ACME",
	})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	env.AssertExpectations(t)
}

func TestHulyWebhookChangeWorkflowFleetFallback(t *testing.T) {
	env := newEnv(t)
	env.RegisterWorkflow(FullOrchestrationWorkflow)
	env.OnWorkflow(FullOrchestrationWorkflow, mock.Anything, OrchestrationInput{}).
		Return(&OrchestrationResult{Status: "completed", Synced: 4}, nil)

	env.ExecuteWorkflow(HulyWebhookChangeWorkflow, WebhookEvent{Type: "bulk.import"})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	var out ProjectSyncResult
	require.NoError(t, env.GetWorkflowResult(&out))
	assert.Equal(t, 4, out.Synced)
}

func TestDataReconciliationWorkflow(t *testing.T) {
	env := newEnv(t)
	in := ReconcileInput{DryRun: true}
	env.OnActivity(a.ReconcileMappings, mock.Anything, in).
		Return(&ReconcileResult{Projects: 2, Rows: 40, StaleBeads: 1}, nil)

	env.ExecuteWorkflow(DataReconciliationWorkflow, in)

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	var out ReconcileResult
	require.NoError(t, env.GetWorkflowResult(&out))
	assert.Equal(t, 1, out.StaleBeads)
	env.AssertExpectations(t)
}
