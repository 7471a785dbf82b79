package workflow

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/steveyegge/braid/internal/types"
)

// a is the nil activity stub; method values on it resolve activity names
// for ExecuteActivity without touching the receiver.
var a *Activities

const defaultScheduleIterations = 24

// withCallOptions bounds one remote call bundle: 60 s per attempt with
// the same backoff ladder the HTTP client uses between cycles.
func withCallOptions(ctx workflow.Context) workflow.Context {
	return workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	})
}

// withCycleOptions bounds a whole project cycle, which bundles many
// remote calls plus bd subprocess work.
func withCycleOptions(ctx workflow.Context) workflow.Context {
	return workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Minute,
		HeartbeatTimeout:    2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	})
}

// IssueSyncWorkflow brings one issue into agreement across surfaces.
// Webhook intake starts these; the heavy lifting is one activity.
func IssueSyncWorkflow(ctx workflow.Context, in IssueSyncInput) (*ProjectSyncResult, error) {
	actx := withCallOptions(ctx)
	var res ProjectSyncResult
	if err := workflow.ExecuteActivity(actx, a.SyncIssue, in).Get(actx, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// FullOrchestrationWorkflow runs one fleet cycle durably: bookkeeping
// row, discovery, one project-cycle activity per project, completion. A
// cancel signal stops scheduling new projects once the ones in flight
// drain; the progress query reports counts while it runs.
func FullOrchestrationWorkflow(ctx workflow.Context, in OrchestrationInput) (*OrchestrationResult, error) {
	logger := workflow.GetLogger(ctx)

	var cancelled bool
	var progress SyncProgress
	if err := workflow.SetQueryHandler(ctx, QueryProgress, func() (SyncProgress, error) {
		return progress, nil
	}); err != nil {
		return nil, err
	}
	workflow.Go(ctx, func(gctx workflow.Context) {
		workflow.GetSignalChannel(gctx, SignalCancel).Receive(gctx, nil)
		cancelled = true
		progress.Cancelled = true
	})

	actx := withCallOptions(ctx)

	var runID int64
	if err := workflow.ExecuteActivity(actx, a.StartSyncRun).Get(actx, &runID); err != nil {
		return nil, err
	}

	var refs []ProjectRef
	if err := workflow.ExecuteActivity(actx, a.DiscoverProjects, in).Get(actx, &refs); err != nil {
		completeRun(actx, runID, types.RunFailed, types.SyncRunStats{})
		return nil, err
	}
	progress.Total = len(refs)

	results := make([]ProjectSyncResult, len(refs))
	errored := make([]bool, len(refs))
	attempted := 0

	runOne := func(gctx workflow.Context, i int) {
		ref := refs[i]
		progress.Current = ref.Identifier
		cctx := withCycleOptions(gctx)
		var res ProjectSyncResult
		err := workflow.ExecuteActivity(cctx, a.SyncProject,
			SyncProjectInput{Identifier: ref.Identifier, Full: in.Full}).Get(cctx, &res)
		if err != nil {
			logger.Error("project cycle failed", "project", ref.Identifier, "error", err)
			errored[i] = true
			res = ProjectSyncResult{Project: ref.Identifier, Errors: []string{err.Error()}}
		}
		results[i] = res
		progress.Completed++
		progress.Synced += res.Synced
		progress.Errors += len(res.Errors)
	}

	if in.Parallel && in.MaxWorkers > 1 {
		slots := workflow.NewBufferedChannel(ctx, in.MaxWorkers)
		wg := workflow.NewWaitGroup(ctx)
		for i := range refs {
			if cancelled {
				break
			}
			attempted++
			slots.Send(ctx, nil)
			wg.Add(1)
			workflow.Go(ctx, func(gctx workflow.Context) {
				defer wg.Done()
				defer slots.Receive(gctx, nil)
				runOne(gctx, i)
			})
		}
		wg.Wait(ctx)
	} else {
		for i := range refs {
			if cancelled {
				break
			}
			attempted++
			runOne(ctx, i)
		}
	}

	stats := types.SyncRunStats{ProjectsTotal: len(refs)}
	out := &OrchestrationResult{RunID: runID, Projects: len(refs), Cancelled: cancelled}
	for i := 0; i < attempted; i++ {
		res := results[i]
		out.Results = append(out.Results, res)
		out.Synced += res.Synced
		out.Conflicts += res.Conflicts
		if errored[i] {
			stats.ProjectsErrored++
			stats.Errors++
			out.Errors++
			continue
		}
		stats.ProjectsSynced++
		stats.IssuesSynced += res.Synced
		stats.Errors += len(res.Errors)
		out.Errors += len(res.Errors)
	}

	status := types.RunCompleted
	if len(refs) > 0 && stats.ProjectsErrored == len(refs) {
		status = types.RunFailed
	}
	out.Status = string(status)
	completeRun(actx, runID, status, stats)

	logger.Info("durable cycle done",
		"run", runID, "projects", len(refs), "synced", out.Synced,
		"errors", out.Errors, "cancelled", cancelled)
	return out, nil
}

// completeRun closes the bookkeeping row; failures are logged by the
// activity and never fail the cycle that already ran.
func completeRun(actx workflow.Context, runID int64, status types.SyncRunStatus, stats types.SyncRunStats) {
	_ = workflow.ExecuteActivity(actx, a.CompleteSyncRun, CompleteRunInput{
		RunID:  runID,
		Status: string(status),
		Stats:  stats,
	}).Get(actx, nil)
}

// ScheduledSyncWorkflow is the durable scheduler: sleep, run a child
// cycle, repeat. It continues-as-new after MaxIterations so history
// stays bounded, and ends cleanly on the cancel signal.
func ScheduledSyncWorkflow(ctx workflow.Context, in ScheduleInput) (*ScheduleResult, error) {
	if in.IntervalMinutes <= 0 {
		in.IntervalMinutes = 1
	}
	if in.MaxIterations <= 0 {
		in.MaxIterations = defaultScheduleIterations
	}
	interval := time.Duration(in.IntervalMinutes) * time.Minute

	logger := workflow.GetLogger(ctx)
	cancelCh := workflow.GetSignalChannel(ctx, SignalCancel)
	res := &ScheduleResult{}

	for i := 0; i < in.MaxIterations; i++ {
		timer := workflow.NewTimer(ctx, interval)
		cancelled := false
		sel := workflow.NewSelector(ctx)
		sel.AddFuture(timer, func(workflow.Future) {})
		sel.AddReceive(cancelCh, func(c workflow.ReceiveChannel, more bool) {
			c.Receive(ctx, nil)
			cancelled = true
		})
		sel.Select(ctx)
		if cancelled {
			logger.Info("scheduler cancelled", "iterations", res.Iterations)
			res.Cancelled = true
			return res, nil
		}

		var out OrchestrationResult
		if err := workflow.ExecuteChildWorkflow(ctx, FullOrchestrationWorkflow, in.Options).Get(ctx, &out); err != nil {
			logger.Error("scheduled cycle failed", "error", err)
		}
		res.Iterations++
	}

	return nil, workflow.NewContinueAsNewError(ctx, ScheduledSyncWorkflow, in)
}

// BeadsFileChangeWorkflow runs one project's cycle after the watcher saw
// .beads changes settle. The caller pins the workflowId per project, so
// bursts landing mid-run coalesce onto the run already going.
func BeadsFileChangeWorkflow(ctx workflow.Context, in FileChangeInput) (*ProjectSyncResult, error) {
	workflow.GetLogger(ctx).Info("beads change sync",
		"project", in.ProjectIdentifier, "files", len(in.Files))
	actx := withCycleOptions(ctx)
	var res ProjectSyncResult
	if err := workflow.ExecuteActivity(actx, a.SyncProject,
		SyncProjectInput{Identifier: in.ProjectIdentifier}).Get(actx, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// HulyWebhookChangeWorkflow reacts to one webhook delivery. Issue-scoped
// events sync that issue; project-scoped events run the project cycle;
// anything else falls back to a full fleet cycle.
func HulyWebhookChangeWorkflow(ctx workflow.Context, event WebhookEvent) (*ProjectSyncResult, error) {
	if event.IssueIdentifier != "" {
		actx := withCallOptions(ctx)
		var res ProjectSyncResult
		err := workflow.ExecuteActivity(actx, a.SyncIssue, IssueSyncInput{
			ProjectIdentifier: event.ProjectIdentifier,
			IssueIdentifier:   event.IssueIdentifier,
		}).Get(actx, &res)
		if err != nil {
			return nil, err
		}
		return &res, nil
	}

	if event.ProjectIdentifier != "" {
		actx := withCycleOptions(ctx)
		var res ProjectSyncResult
		err := workflow.ExecuteActivity(actx, a.SyncProject,
			SyncProjectInput{Identifier: event.ProjectIdentifier}).Get(actx, &res)
		if err != nil {
			return nil, err
		}
		return &res, nil
	}

	var out OrchestrationResult
	if err := workflow.ExecuteChildWorkflow(ctx, FullOrchestrationWorkflow, OrchestrationInput{}).Get(ctx, &out); err != nil {
		return nil, err
	}
	return &ProjectSyncResult{Project: "*", Synced: out.Synced}, nil
}

// DataReconciliationWorkflow sweeps mappings whose Beads or Vibe side is
// gone. serve runs it daily; braid sync --reconcile runs it on demand.
func DataReconciliationWorkflow(ctx workflow.Context, in ReconcileInput) (*ReconcileResult, error) {
	actx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    2,
		},
	})
	var res ReconcileResult
	if err := workflow.ExecuteActivity(actx, a.ReconcileMappings, in).Get(actx, &res); err != nil {
		return nil, err
	}
	return &res, nil
}
