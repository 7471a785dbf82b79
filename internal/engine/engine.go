// Package engine runs the per-project sync pipeline: four ordered phases
// that bring a Huly project, its Vibe board, and its Beads checkout into
// agreement. Phases apply changes through idempotent upserts, so re-running
// a cycle after a crash converges instead of duplicating.
//
// Phase order is fixed: 1 Huly->Vibe, 2 Vibe->Huly, 3 Huly<->Beads,
// 4 docs export. Each phase records what it wrote so the next phase does
// not immediately undo it.
package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/steveyegge/braid/internal/beads"
	"github.com/steveyegge/braid/internal/huly"
	"github.com/steveyegge/braid/internal/mapper"
	"github.com/steveyegge/braid/internal/remote"
	"github.com/steveyegge/braid/internal/telemetry"
	"github.com/steveyegge/braid/internal/types"
	"github.com/steveyegge/braid/internal/vibe"
)

// isGone reports whether an error marks the remote object as deleted.
func isGone(err error) bool { return remote.IsNotFound(err) }

// StateStore is the slice of the state database the engine writes.
type StateStore interface {
	GetProjectIssues(ctx context.Context, projectIdentifier string) ([]*types.Issue, error)
	UpsertIssue(ctx context.Context, patch types.IssuePatch) error
	UpdateParentChild(ctx context.Context, childIdentifier, parentHulyID, parentBeadsID string) error
	UpdateSubIssueCount(ctx context.Context, identifier string, n int) error
	MarkDeletedFromHuly(ctx context.Context, identifier string) error
	SetLettaSyncedAt(ctx context.Context, identifier string, at time.Time) error
}

// HulyAPI is the slice of the Huly client the engine calls.
type HulyAPI interface {
	GetIssue(ctx context.Context, identifier string) (*huly.Issue, error)
	CreateIssue(ctx context.Context, project string, params huly.CreateParams) (*huly.Issue, error)
	PatchIssue(ctx context.Context, identifier string, patch huly.Patch) error
	MoveIssue(ctx context.Context, identifier, parentIdentifier string) error
}

// VibeAPI is the slice of the Vibe client the engine calls.
type VibeAPI interface {
	ListTasks(ctx context.Context, projectID string) ([]vibe.Task, error)
	CreateTask(ctx context.Context, projectID, title, description string, status types.VibeStatus) (*vibe.Task, error)
	UpdateTask(ctx context.Context, id string, patch vibe.TaskPatch) (*vibe.Task, error)
}

// BeadsOps is the slice of the bd adapter the engine drives, bound to one
// project checkout.
type BeadsOps interface {
	ReadStore(ctx context.Context) ([]beads.Issue, error)
	Create(ctx context.Context, p beads.CreateParams) (string, error)
	Update(ctx context.Context, id, field, value string) error
	SetStatus(ctx context.Context, id string, status types.BeadsStatus) error
	Close(ctx context.Context, id string) error
	Reopen(ctx context.Context, id string) error
	DepAdd(ctx context.Context, child, parent string) error
	DepRemove(ctx context.Context, child, parent string) error
	SyncFlush(ctx context.Context, message string) error
}

// BeadsFactory binds the bd adapter to a project working tree.
type BeadsFactory func(projectPath string) BeadsOps

// Publisher commits a project's .beads changes after phase 3.
type Publisher interface {
	Publish(ctx context.Context, dir string, now time.Time, flush beads.FlushFunc) error
}

// DocsSyncer exports a project's documentation to the external indexer.
// It is a collaborator: failures are logged, never fatal to the cycle.
type DocsSyncer interface {
	SyncProject(ctx context.Context, project *types.Project, lastExport time.Time, changedFiles []string) error
}

// Config carries the engine's collaborators and knobs.
type Config struct {
	Store     StateStore
	Huly      HulyAPI
	Vibe      VibeAPI
	Beads     BeadsFactory
	Committer Publisher
	Docs      DocsSyncer // nil disables phase 4

	Mapping *mapper.Mapping
	Logger  *zap.Logger
	Metrics *telemetry.SyncMetrics

	// DryRun logs every intended write and applies none of them.
	DryRun bool
	// DocsInterval is the minimum gap between phase 4 exports per project.
	DocsInterval time.Duration
	// Now is the engine clock, swappable in tests. Defaults to time.Now.
	Now func() time.Time
}

// Engine executes the pipeline for one project at a time. It is safe for
// concurrent use across distinct projects; the orchestrator never runs two
// cycles of the same project at once.
type Engine struct {
	store     StateStore
	huly      HulyAPI
	vibe      VibeAPI
	beads     BeadsFactory
	committer Publisher
	docs      DocsSyncer

	mapping *mapper.Mapping
	logger  *zap.Logger
	metrics *telemetry.SyncMetrics

	dryRun       bool
	docsInterval time.Duration
	now          func() time.Time
}

// New builds an engine. Mapping defaults to the built-in vocabulary and
// Now to time.Now; everything else is required.
func New(cfg Config) *Engine {
	if cfg.Mapping == nil {
		cfg.Mapping = mapper.DefaultMapping()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Engine{
		store:        cfg.Store,
		huly:         cfg.Huly,
		vibe:         cfg.Vibe,
		beads:        cfg.Beads,
		committer:    cfg.Committer,
		docs:         cfg.Docs,
		mapping:      cfg.Mapping,
		logger:       cfg.Logger,
		metrics:      cfg.Metrics,
		dryRun:       cfg.DryRun,
		docsInterval: cfg.DocsInterval,
		now:          cfg.Now,
	}
}

// SyncProject runs one full cycle for a project. page is the Huly issue
// listing the orchestrator already fetched (possibly incremental); the
// engine captures the Vibe, Beads, and stored state itself at phase entry.
//
// The returned Result always carries per-phase accounting, even when err
// is non-nil; err reports only failures that aborted the cycle outright.
func (e *Engine) SyncProject(ctx context.Context, project *types.Project, page *huly.IssuePage) (*Result, error) {
	start := e.now()
	log := e.logger.With(zap.String("project", project.Identifier))

	snap, err := e.captureSnapshot(ctx, project, page)
	if err != nil {
		return &Result{Project: project.Identifier}, fmt.Errorf("snapshot for %s: %w", project.Identifier, err)
	}

	res := &Result{
		Project: project.Identifier,
		Full:    snap.full,
	}

	touched := e.phase1(ctx, snap, &res.Phase1, log)
	e.phase2(ctx, snap, touched, &res.Phase2, log)
	e.phase3(ctx, snap, res, log)
	e.phase4(ctx, snap, &res.Phase4, log)

	if snap.full {
		res.Empty = len(snap.hulyIssues) == 0 && len(snap.vibeTasks) == 0 && len(snap.beadsIssues) == 0
	}
	res.Elapsed = e.now().Sub(start)

	log.Info("project cycle done",
		zap.Int("synced", res.TotalSynced()),
		zap.Int("errors", res.TotalErrors()),
		zap.Int("beads_writes", res.BeadsWrites),
		zap.Bool("committed", res.Committed),
		zap.Duration("elapsed", res.Elapsed))
	if e.metrics != nil {
		e.metrics.RecordLatency(ctx, "engine", "syncProject", float64(res.Elapsed.Milliseconds()))
	}
	return res, nil
}

// commitBeads publishes pending .beads changes once per cycle, after
// phase 3, and only when the phase actually wrote something.
func (e *Engine) commitBeads(ctx context.Context, snap *snapshot, res *Result, log *zap.Logger) {
	if res.BeadsWrites == 0 || e.dryRun || e.committer == nil {
		return
	}
	ops := e.beads(snap.project.FilesystemPath)
	err := e.committer.Publish(ctx, snap.project.FilesystemPath, e.now(), ops.SyncFlush)
	if err != nil {
		log.Warn("beads commit failed", zap.Error(err))
		res.Phase3.addError(snap.project.Identifier, "commitBeads", err)
		if e.metrics != nil {
			e.metrics.CountError(ctx, "beads", "commit")
		}
		return
	}
	res.Committed = true
}

// phase4 exports documentation when the per-project interval has elapsed.
func (e *Engine) phase4(ctx context.Context, snap *snapshot, res *PhaseResult, log *zap.Logger) {
	if e.docs == nil {
		return
	}
	var lastExport time.Time
	if snap.project.LettaLastSync != nil {
		lastExport = *snap.project.LettaLastSync
	}
	if e.docsInterval > 0 && e.now().Sub(lastExport) < e.docsInterval {
		res.Skipped++
		return
	}
	if e.dryRun {
		log.Info("dry-run: would export docs", zap.Time("last_export", lastExport))
		res.Skipped++
		return
	}
	if err := e.docs.SyncProject(ctx, snap.project, lastExport, nil); err != nil {
		log.Warn("docs export failed", zap.Error(err))
		res.addError(snap.project.Identifier, "docsExport", err)
		if e.metrics != nil {
			e.metrics.CountError(ctx, "docsync", "phase4")
		}
		return
	}
	if err := e.store.SetLettaSyncedAt(ctx, snap.project.Identifier, e.now()); err != nil {
		res.addError(snap.project.Identifier, "docsExportMark", err)
		return
	}
	res.Synced++
}

// tombstone marks a mapping whose Huly identifier is gone. All later
// writes for the row are suppressed; the issue is never re-created.
func (e *Engine) tombstone(ctx context.Context, identifier string, log *zap.Logger) {
	if e.dryRun {
		log.Info("dry-run: would tombstone", zap.String("identifier", identifier))
		return
	}
	if err := e.store.MarkDeletedFromHuly(ctx, identifier); err != nil {
		log.Error("tombstone write failed", zap.String("identifier", identifier), zap.Error(err))
		return
	}
	log.Info("huly issue deleted, mapping tombstoned", zap.String("identifier", identifier))
}
