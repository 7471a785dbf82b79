// Package types defines the core records shared across the braid sync engine.
package types

import (
	"fmt"
	"time"
)

// HulyStatus is the status vocabulary of the Huly issue server.
type HulyStatus string

const (
	HulyBacklog    HulyStatus = "Backlog"
	HulyTodo       HulyStatus = "Todo"
	HulyInProgress HulyStatus = "In Progress"
	HulyInReview   HulyStatus = "In Review"
	HulyDone       HulyStatus = "Done"
	HulyCancelled  HulyStatus = "Cancelled"
)

// IsValid checks if the status is one of Huly's known states
func (s HulyStatus) IsValid() bool {
	switch s {
	case HulyBacklog, HulyTodo, HulyInProgress, HulyInReview, HulyDone, HulyCancelled:
		return true
	}
	return false
}

// VibeStatus is the status vocabulary of the Vibe task board.
type VibeStatus string

const (
	VibeTodo       VibeStatus = "todo"
	VibeInProgress VibeStatus = "inprogress"
	VibeInReview   VibeStatus = "inreview"
	VibeDone       VibeStatus = "done"
	VibeCancelled  VibeStatus = "cancelled"
)

// IsValid checks if the status is one of Vibe's known states
func (s VibeStatus) IsValid() bool {
	switch s {
	case VibeTodo, VibeInProgress, VibeInReview, VibeDone, VibeCancelled:
		return true
	}
	return false
}

// BeadsStatus is the status vocabulary of a per-repository Beads store.
type BeadsStatus string

const (
	BeadsOpen       BeadsStatus = "open"
	BeadsInProgress BeadsStatus = "in_progress"
	BeadsBlocked    BeadsStatus = "blocked"
	BeadsDeferred   BeadsStatus = "deferred"
	BeadsClosed     BeadsStatus = "closed"
)

// IsValid checks if the status is one of Beads' known states
func (s BeadsStatus) IsValid() bool {
	switch s {
	case BeadsOpen, BeadsInProgress, BeadsBlocked, BeadsDeferred, BeadsClosed:
		return true
	}
	return false
}

// HulyPriority is the priority vocabulary of the Huly issue server.
type HulyPriority string

const (
	PriorityUrgent HulyPriority = "Urgent"
	PriorityHigh   HulyPriority = "High"
	PriorityMedium HulyPriority = "Medium"
	PriorityLow    HulyPriority = "Low"
	PriorityNone   HulyPriority = "None"
)

// IsValid checks if the priority is one of Huly's known levels
func (p HulyPriority) IsValid() bool {
	switch p {
	case PriorityUrgent, PriorityHigh, PriorityMedium, PriorityLow, PriorityNone:
		return true
	}
	return false
}

// Project is one tracked project. The identifier is the short key shared
// by Huly, Vibe, and the Beads checkout; it never changes after creation.
type Project struct {
	Identifier     string     `json:"identifier"`
	Name           string     `json:"name"`
	VibeID         string     `json:"vibe_id,omitempty"`
	FilesystemPath string     `json:"filesystem_path,omitempty"`
	GitURL         string     `json:"git_url,omitempty"` // resolved lazily from the checkout
	HulySyncCursor string     `json:"huly_sync_cursor,omitempty"` // ISO-8601, max modifiedOn seen on the server
	LettaLastSync  *time.Time `json:"letta_last_sync_at,omitempty"`
	IsEmpty        bool       `json:"is_empty,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Validate checks the project has the fields every downstream consumer assumes
func (p *Project) Validate() error {
	if p.Identifier == "" {
		return fmt.Errorf("project identifier cannot be empty")
	}
	if p.Name == "" {
		return fmt.Errorf("project %s: name cannot be empty", p.Identifier)
	}
	return nil
}

// Issue is the tri-source record joining one Huly issue to its Vibe task
// and Beads counterpart. Identifier is the Huly key (e.g. "ACME-17") and is
// the primary join key across all three systems.
type Issue struct {
	Identifier        string       `json:"identifier"`
	ProjectIdentifier string       `json:"project_identifier"`
	HulyID            string       `json:"huly_id,omitempty"`
	BeadsIssueID      string       `json:"beads_issue_id,omitempty"`
	VibeTaskID        string       `json:"vibe_task_id,omitempty"`
	Title             string       `json:"title"`
	Description       string       `json:"description,omitempty"`
	Status            HulyStatus   `json:"status,omitempty"`
	Priority          HulyPriority `json:"priority,omitempty"`
	BeadsStatus       BeadsStatus  `json:"beads_status,omitempty"`
	HulyModifiedAt    int64        `json:"huly_modified_at,omitempty"`  // epoch ms, last seen by the engine
	BeadsModifiedAt   int64        `json:"beads_modified_at,omitempty"` // epoch ms, last seen by the engine
	ParentHulyID      string       `json:"parent_huly_id,omitempty"`
	ParentBeadsID     string       `json:"parent_beads_id,omitempty"`
	SubIssueCount     int          `json:"sub_issue_count,omitempty"`
	DeletedFromHuly   bool         `json:"deleted_from_huly,omitempty"` // tombstone: never re-created, writes suppressed
	CreatedAt         time.Time    `json:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at"`
}

// Validate checks the issue row invariants that Store enforces on write
func (i *Issue) Validate() error {
	if i.Identifier == "" {
		return fmt.Errorf("issue identifier cannot be empty")
	}
	if i.ProjectIdentifier == "" {
		return fmt.Errorf("issue %s: project identifier cannot be empty", i.Identifier)
	}
	if i.Status != "" && !i.Status.IsValid() {
		return fmt.Errorf("issue %s: invalid status: %s", i.Identifier, i.Status)
	}
	if i.Priority != "" && !i.Priority.IsValid() {
		return fmt.Errorf("issue %s: invalid priority: %s", i.Identifier, i.Priority)
	}
	if i.BeadsStatus != "" && !i.BeadsStatus.IsValid() {
		return fmt.Errorf("issue %s: invalid beads status: %s", i.Identifier, i.BeadsStatus)
	}
	return nil
}

// IssuePatch is a partial issue row. Nil fields are left unchanged by
// Store.UpsertIssue; cross-system ids are write-once and Store rejects
// attempts to overwrite one with a different value.
type IssuePatch struct {
	Identifier        string
	ProjectIdentifier string
	HulyID            *string
	BeadsIssueID      *string
	VibeTaskID        *string
	Title             *string
	Description       *string
	Status            *HulyStatus
	Priority          *HulyPriority
	BeadsStatus       *BeadsStatus
	HulyModifiedAt    *int64
	BeadsModifiedAt   *int64
	ParentHulyID      *string
	ParentBeadsID     *string
	SubIssueCount     *int
}

// SyncRunStatus is the lifecycle state of one full-cycle invocation.
type SyncRunStatus string

const (
	RunRunning   SyncRunStatus = "running"
	RunCompleted SyncRunStatus = "completed"
	RunFailed    SyncRunStatus = "failed"
)

// SyncRun records one full-cycle invocation of the orchestrator.
type SyncRun struct {
	ID              int64         `json:"id"`
	StartedAt       time.Time     `json:"started_at"`
	CompletedAt     *time.Time    `json:"completed_at,omitempty"`
	Status          SyncRunStatus `json:"status"`
	ProjectsTotal   int           `json:"projects_total"`
	ProjectsSynced  int           `json:"projects_synced"`
	ProjectsErrored int           `json:"projects_errored"`
	IssuesSynced    int           `json:"issues_synced"`
	Errors          int           `json:"errors"`
}

// SyncRunStats is the terminal accounting written by CompleteSyncRun.
type SyncRunStats struct {
	ProjectsTotal   int
	ProjectsSynced  int
	ProjectsErrored int
	IssuesSynced    int
	Errors          int
}

// ProjectFile tracks one file surfaced to the external indexer collaborator.
// Not consulted by the sync engine itself.
type ProjectFile struct {
	ProjectIdentifier string    `json:"project_identifier"`
	RelativePath      string    `json:"relative_path"`
	ContentHash       string    `json:"content_hash"`
	Size              int64     `json:"size"`
	UploadedAt        time.Time `json:"uploaded_at"`
}

// StrPtr returns a pointer to s. Convenience for building IssuePatch values.
func StrPtr(s string) *string { return &s }

// Int64Ptr returns a pointer to n.
func Int64Ptr(n int64) *int64 { return &n }

// IntPtr returns a pointer to n.
func IntPtr(n int) *int { return &n }
