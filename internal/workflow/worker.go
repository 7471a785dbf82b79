package workflow

import (
	"context"
	"fmt"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/log"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"
)

// Dial connects to the Temporal frontend. The caller owns the client and
// closes it on shutdown.
func Dial(address, namespace string, logger *zap.Logger) (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  address,
		Namespace: namespace,
		Logger:    NewZapAdapter(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("dialing temporal at %s: %w", address, err)
	}
	return c, nil
}

// NewWorker registers every workflow and the activity bundle on the
// braid task queue. maxConcurrent bounds activity parallelism the same
// way MAX_WORKERS bounds the plain loop.
func NewWorker(c client.Client, acts *Activities, maxConcurrent int) worker.Worker {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	w := worker.New(c, TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize: maxConcurrent,
	})
	w.RegisterWorkflow(IssueSyncWorkflow)
	w.RegisterWorkflow(FullOrchestrationWorkflow)
	w.RegisterWorkflow(ScheduledSyncWorkflow)
	w.RegisterWorkflow(BeadsFileChangeWorkflow)
	w.RegisterWorkflow(HulyWebhookChangeWorkflow)
	w.RegisterWorkflow(DataReconciliationWorkflow)
	w.RegisterActivity(acts)
	return w
}

// StartScheduled launches the scheduler singleton, or joins the one
// already running.
func StartScheduled(ctx context.Context, c client.Client, in ScheduleInput) error {
	_, err := c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:                       ScheduledWorkflowID,
		TaskQueue:                TaskQueue,
		WorkflowIDConflictPolicy: enumspb.WORKFLOW_ID_CONFLICT_POLICY_USE_EXISTING,
	}, ScheduledSyncWorkflow, in)
	if err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}
	return nil
}

// StopScheduled signals the scheduler singleton to end after the cycle
// in flight.
func StopScheduled(ctx context.Context, c client.Client) error {
	return c.SignalWorkflow(ctx, ScheduledWorkflowID, "", SignalCancel, nil)
}

// EnqueueFileChange schedules a per-project sync for one debounced
// change set. The per-project workflowId keeps a single run in flight;
// fires landing mid-run coalesce onto it.
func EnqueueFileChange(ctx context.Context, c client.Client, in FileChangeInput) error {
	_, err := c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:                       FileChangeWorkflowID(in.ProjectIdentifier),
		TaskQueue:                TaskQueue,
		WorkflowIDConflictPolicy: enumspb.WORKFLOW_ID_CONFLICT_POLICY_USE_EXISTING,
	}, BeadsFileChangeWorkflow, in)
	if err != nil {
		return fmt.Errorf("enqueueing file change for %s: %w", in.ProjectIdentifier, err)
	}
	return nil
}

// EnqueueWebhook coalesces same-type webhook bursts onto one workflow.
func EnqueueWebhook(ctx context.Context, c client.Client, event WebhookEvent) error {
	_, err := c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:                       WebhookWorkflowID(event.Type),
		TaskQueue:                TaskQueue,
		WorkflowIDConflictPolicy: enumspb.WORKFLOW_ID_CONFLICT_POLICY_USE_EXISTING,
	}, HulyWebhookChangeWorkflow, event)
	if err != nil {
		return fmt.Errorf("enqueueing webhook %s: %w", event.Type, err)
	}
	return nil
}

// RunOrchestration starts one durable fleet cycle and waits it out.
// braid sync uses it when the durability layer is on.
func RunOrchestration(ctx context.Context, c client.Client, in OrchestrationInput) (*OrchestrationResult, error) {
	run, err := c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		TaskQueue: TaskQueue,
	}, FullOrchestrationWorkflow, in)
	if err != nil {
		return nil, fmt.Errorf("starting orchestration: %w", err)
	}
	var out OrchestrationResult
	if err := run.Get(ctx, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StartReconciliation launches a mapping sweep, joining one already in
// flight rather than racing it.
func StartReconciliation(ctx context.Context, c client.Client, in ReconcileInput) (*ReconcileResult, error) {
	run, err := c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:                       ReconcileWorkflowID,
		TaskQueue:                TaskQueue,
		WorkflowIDConflictPolicy: enumspb.WORKFLOW_ID_CONFLICT_POLICY_USE_EXISTING,
	}, DataReconciliationWorkflow, in)
	if err != nil {
		return nil, fmt.Errorf("starting reconciliation: %w", err)
	}
	var out ReconcileResult
	if err := run.Get(ctx, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// zapAdapter bridges zap to the SDK's keyval logging interface.
type zapAdapter struct {
	l *zap.SugaredLogger
}

// NewZapAdapter wraps a zap logger for client.Options. A nil logger
// yields a silent adapter.
func NewZapAdapter(logger *zap.Logger) log.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &zapAdapter{l: logger.WithOptions(zap.AddCallerSkip(1)).Sugar()}
}

func (z *zapAdapter) Debug(msg string, keyvals ...interface{}) { z.l.Debugw(msg, keyvals...) }
func (z *zapAdapter) Info(msg string, keyvals ...interface{})  { z.l.Infow(msg, keyvals...) }
func (z *zapAdapter) Warn(msg string, keyvals ...interface{})  { z.l.Warnw(msg, keyvals...) }
func (z *zapAdapter) Error(msg string, keyvals ...interface{}) { z.l.Errorw(msg, keyvals...) }
