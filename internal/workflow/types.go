// Package workflow is the durability layer: Temporal workflows and
// activities that let sync work survive process restarts and network
// weather. Workflows own control flow and stay deterministic; every side
// effect, HTTP call, bd invocation, or store write happens inside an
// activity and is idempotent, so a retried activity converges instead of
// duplicating.
//
// The layer is optional. With USE_TEMPORAL_SYNC off, braid serve runs a
// plain ticker loop that calls the orchestrator directly with the same
// inputs.
package workflow

import "strings"

const (
	// TaskQueue is the single queue every braid worker polls.
	TaskQueue = "braid-sync"

	// SignalCancel asks a running orchestration or scheduler to stop
	// after the work in flight drains.
	SignalCancel = "cancel"
	// QueryProgress returns a SyncProgress snapshot from a running
	// orchestration.
	QueryProgress = "progress"

	// ScheduledWorkflowID pins the scheduler singleton.
	ScheduledWorkflowID = "braid-scheduled-sync"
	// ReconcileWorkflowID pins the mapping sweep; overlapping requests
	// join the run already going.
	ReconcileWorkflowID = "braid-reconcile"
)

// WebhookWorkflowID coalesces same-type webhook bursts onto one run.
func WebhookWorkflowID(eventType string) string {
	return "huly-webhook-" + strings.ToLower(eventType)
}

// FileChangeWorkflowID keeps at most one file-change sync per project in
// flight.
func FileChangeWorkflowID(projectIdentifier string) string {
	return "beads-file-change-" + strings.ToLower(projectIdentifier)
}

// OrchestrationInput selects the scope of one fleet cycle.
type OrchestrationInput struct {
	// Project narrows the cycle to one project by identifier or checkout
	// path; empty syncs the fleet.
	Project    string `json:"project,omitempty"`
	Full       bool   `json:"full,omitempty"`
	SkipEmpty  bool   `json:"skip_empty,omitempty"`
	Parallel   bool   `json:"parallel,omitempty"`
	MaxWorkers int    `json:"max_workers,omitempty"`
}

// IssueSyncInput names one issue to bring into agreement everywhere.
// ProjectIdentifier may be blank when the issue identifier carries the
// usual PROJECT-N form.
type IssueSyncInput struct {
	ProjectIdentifier string `json:"project_identifier,omitempty"`
	IssueIdentifier   string `json:"issue_identifier"`
}

// ScheduleInput drives the durable timer loop.
type ScheduleInput struct {
	IntervalMinutes int `json:"interval_minutes"`
	// MaxIterations bounds history growth; the loop continues-as-new
	// after this many cycles. Zero means the default.
	MaxIterations int                `json:"max_iterations,omitempty"`
	Options       OrchestrationInput `json:"options"`
}

// FileChangeInput carries one debounced watcher fire.
type FileChangeInput struct {
	ProjectIdentifier string   `json:"project_identifier"`
	ProjectPath       string   `json:"project_path,omitempty"`
	Files             []string `json:"files,omitempty"`
}

// WebhookEvent is the decoded body of one Huly webhook delivery.
type WebhookEvent struct {
	Type              string `json:"type"`
	ProjectIdentifier string `json:"project_identifier,omitempty"`
	IssueIdentifier   string `json:"issue_identifier,omitempty"`
	ModifiedOn        int64  `json:"modified_on,omitempty"` // epoch ms
}

// Reconcile actions. Mark only reports; clear also drops the stale
// mapping so the next cycle can re-link or re-create.
const (
	ReconcileMark  = "mark"
	ReconcileClear = "clear"
)

// ReconcileInput scopes a mapping sweep.
type ReconcileInput struct {
	DryRun  bool   `json:"dry_run,omitempty"`
	Action  string `json:"action,omitempty"`  // mark (default) or clear
	Project string `json:"project,omitempty"` // empty sweeps the fleet
}

// ProjectRef is the light projection of a project row that discovery
// hands back to workflows. Full rows stay in the store, where the
// per-project activity reloads them.
type ProjectRef struct {
	Identifier string `json:"identifier"`
	Name       string `json:"name,omitempty"`
	Empty      bool   `json:"empty,omitempty"`
}

// ProjectSyncResult is one project's cycle flattened for workflow
// history: counts and error strings, no live error values.
type ProjectSyncResult struct {
	Project     string   `json:"project"`
	Synced      int      `json:"synced"`
	Conflicts   int      `json:"conflicts,omitempty"`
	BeadsWrites int      `json:"beads_writes,omitempty"`
	Committed   bool     `json:"committed,omitempty"`
	Full        bool     `json:"full,omitempty"`
	Empty       bool     `json:"empty,omitempty"`
	Errors      []string `json:"errors,omitempty"`
	ElapsedMS   int64    `json:"elapsed_ms,omitempty"`
}

// OrchestrationResult is the accounting of one durable cycle.
type OrchestrationResult struct {
	RunID     int64               `json:"run_id"`
	Status    string              `json:"status"`
	Projects  int                 `json:"projects"`
	Synced    int                 `json:"synced"`
	Errors    int                 `json:"errors"`
	Conflicts int                 `json:"conflicts,omitempty"`
	Cancelled bool                `json:"cancelled,omitempty"`
	Results   []ProjectSyncResult `json:"results,omitempty"`
}

// SyncProgress answers the progress query on a running orchestration.
type SyncProgress struct {
	Total     int    `json:"total"`
	Completed int    `json:"completed"`
	Current   string `json:"current,omitempty"`
	Synced    int    `json:"synced"`
	Errors    int    `json:"errors"`
	Cancelled bool   `json:"cancelled,omitempty"`
}

// ReconcileResult is the accounting of one mapping sweep.
type ReconcileResult struct {
	Projects   int      `json:"projects"`
	Rows       int      `json:"rows"`
	StaleBeads int      `json:"stale_beads"`
	StaleVibe  int      `json:"stale_vibe"`
	Cleared    int      `json:"cleared"`
	Details    []string `json:"details,omitempty"`
}

// ScheduleResult reports a timer loop that ended instead of continuing
// as new, which only cancellation does.
type ScheduleResult struct {
	Iterations int  `json:"iterations"`
	Cancelled  bool `json:"cancelled,omitempty"`
}
