// Package store owns every persistent record of the sync engine: projects,
// tri-source issue rows, sync runs, cursors, and indexer file metadata.
// Everything else in the engine is a per-phase derivation of this state.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/steveyegge/braid/internal/types"
)

// Sentinel errors
var (
	// ErrNotFound is returned when a record doesn't exist
	ErrNotFound = errors.New("record not found")

	// ErrImmutableID is returned when an upsert tries to overwrite an
	// already-set cross-system id with a different value
	ErrImmutableID = errors.New("cross-system id is immutable once set")
)

// Store is the interface to the engine state database.
type Store interface {
	// Projects
	UpsertProject(ctx context.Context, p *types.Project) error
	GetProject(ctx context.Context, identifier string) (*types.Project, error)
	GetAllProjects(ctx context.Context) ([]*types.Project, error)
	SetProjectEmpty(ctx context.Context, identifier string, empty bool) error
	SetLettaSyncedAt(ctx context.Context, identifier string, at time.Time) error

	// Issues. UpsertIssue merges by identifier: nil patch fields leave the
	// stored column unchanged.
	UpsertIssue(ctx context.Context, patch types.IssuePatch) error
	GetIssue(ctx context.Context, identifier string) (*types.Issue, error)
	GetProjectIssues(ctx context.Context, projectIdentifier string) ([]*types.Issue, error)
	GetAllIssues(ctx context.Context) ([]*types.Issue, error)
	UpdateParentChild(ctx context.Context, childIdentifier, parentHulyID, parentBeadsID string) error
	UpdateSubIssueCount(ctx context.Context, identifier string, n int) error
	MarkDeletedFromHuly(ctx context.Context, identifier string) error

	// Reconciliation-only: sever a dangling cross-system mapping so a later
	// cycle can relink or re-create. The sync phases never clear an id;
	// these exist for the reconciliation workflow alone.
	ClearBeadsMapping(ctx context.Context, identifier string) error
	ClearVibeMapping(ctx context.Context, identifier string) error

	// Incremental fetch cursor. Set refuses to move the watermark backwards.
	GetHulySyncCursor(ctx context.Context, projectIdentifier string) (string, error)
	SetHulySyncCursor(ctx context.Context, projectIdentifier, iso string) error

	// Sync runs
	StartSyncRun(ctx context.Context) (int64, error)
	CompleteSyncRun(ctx context.Context, id int64, status types.SyncRunStatus, stats types.SyncRunStats) error
	GetRecentSyncRuns(ctx context.Context, limit int) ([]*types.SyncRun, error)

	// Files surfaced to the indexer collaborator
	UpsertProjectFile(ctx context.Context, f *types.ProjectFile) error
	GetProjectFiles(ctx context.Context, projectIdentifier string) ([]*types.ProjectFile, error)

	// RunInTransaction executes fn atomically: either every write in fn is
	// visible to the next phase, or none is.
	RunInTransaction(ctx context.Context, fn func(tx Tx) error) error

	Close() error
}

// Tx is the write surface available inside RunInTransaction.
type Tx interface {
	UpsertProject(ctx context.Context, p *types.Project) error
	UpsertIssue(ctx context.Context, patch types.IssuePatch) error
	UpdateParentChild(ctx context.Context, childIdentifier, parentHulyID, parentBeadsID string) error
	MarkDeletedFromHuly(ctx context.Context, identifier string) error
	SetHulySyncCursor(ctx context.Context, projectIdentifier, iso string) error
	UpsertProjectFile(ctx context.Context, f *types.ProjectFile) error
}
