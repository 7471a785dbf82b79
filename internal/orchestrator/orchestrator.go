// Package orchestrator drives sync cycles across the project fleet. One
// cycle discovers projects from Huly, pairs each with its Vibe board and
// local checkout, fetches issue pages in as few server calls as the cursor
// state allows, runs the per-project pipeline sequentially or in parallel,
// and records a sync-run row with the totals.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/steveyegge/braid/internal/engine"
	"github.com/steveyegge/braid/internal/huly"
	"github.com/steveyegge/braid/internal/telemetry"
	"github.com/steveyegge/braid/internal/types"
	"github.com/steveyegge/braid/internal/vibe"
)

// HulySource is the slice of the Huly client the orchestrator reads.
type HulySource interface {
	ListProjects(ctx context.Context) ([]huly.Project, error)
	ListIssues(ctx context.Context, project string, opts huly.ListOptions) (*huly.IssuePage, error)
	ListIssuesBulk(ctx context.Context, projects []string, opts huly.ListOptions) (map[string]*huly.IssuePage, error)
}

// BoardSource pairs projects with Vibe boards by name.
type BoardSource interface {
	ListProjects(ctx context.Context) ([]vibe.Project, error)
	CreateProject(ctx context.Context, name, gitRepoPath string) (*vibe.Project, error)
}

// ProjectSyncer runs the four-phase pipeline for one project.
type ProjectSyncer interface {
	SyncProject(ctx context.Context, project *types.Project, page *huly.IssuePage) (*engine.Result, error)
}

// FleetStore is the slice of the state store the orchestrator writes.
type FleetStore interface {
	GetAllProjects(ctx context.Context) ([]*types.Project, error)
	UpsertProject(ctx context.Context, p *types.Project) error
	SetProjectEmpty(ctx context.Context, identifier string, empty bool) error
	SetHulySyncCursor(ctx context.Context, projectIdentifier, iso string) error
	StartSyncRun(ctx context.Context) (int64, error)
	CompleteSyncRun(ctx context.Context, id int64, status types.SyncRunStatus, stats types.SyncRunStats) error
}

// Config carries the orchestrator's collaborators and knobs.
type Config struct {
	Store  FleetStore
	Huly   HulySource
	Vibe   BoardSource
	Engine ProjectSyncer

	Logger  *zap.Logger
	Metrics *telemetry.SyncMetrics

	// ProjectsRoot holds the project checkouts; discovery probes it for a
	// directory named after each new project.
	ProjectsRoot string

	// DryRun suppresses the orchestrator's own writes: board creation,
	// project rows, cursor advances, empty flags, run bookkeeping. Wire it
	// from the same source as the engine's dry-run so the whole cycle is
	// read-only.
	DryRun bool

	// Now is the clock, swappable in tests. Defaults to time.Now.
	Now func() time.Time
}

// Options select the work of one cycle.
type Options struct {
	// Project narrows the cycle to one project, matched by identifier or
	// by checkout path. Empty syncs the fleet.
	Project string
	// Full ignores stored cursors and fetches complete listings.
	Full bool
	// SkipEmpty bypasses projects whose last full listing had nothing on
	// any surface. An explicit Project filter wins over the flag.
	SkipEmpty bool
	// Parallel runs up to MaxWorkers projects at once. Phases within one
	// project stay strictly serial either way.
	Parallel   bool
	MaxWorkers int
}

// Outcome is one project's share of a cycle.
type Outcome struct {
	Project string         `json:"project"`
	Result  *engine.Result `json:"result,omitempty"`
	Err     error          `json:"-"`
}

// Summary is the accounting of one cycle.
type Summary struct {
	RunID    int64              `json:"run_id"`
	Started  time.Time          `json:"started"`
	Elapsed  time.Duration      `json:"elapsed"`
	Outcomes []Outcome          `json:"outcomes"`
	Stats    types.SyncRunStats `json:"stats"`
}

// Orchestrator is safe for sequential reuse; the scheduler runs cycles
// back to back, never overlapping.
type Orchestrator struct {
	store   FleetStore
	huly    HulySource
	vibe    BoardSource
	engine  ProjectSyncer
	logger  *zap.Logger
	metrics *telemetry.SyncMetrics

	projectsRoot string
	dryRun       bool
	now          func() time.Time
}

// New builds an orchestrator. Logger defaults to a nop and Now to
// time.Now; everything else is required.
func New(cfg Config) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Orchestrator{
		store:        cfg.Store,
		huly:         cfg.Huly,
		vibe:         cfg.Vibe,
		engine:       cfg.Engine,
		logger:       cfg.Logger,
		metrics:      cfg.Metrics,
		projectsRoot: cfg.ProjectsRoot,
		dryRun:       cfg.DryRun,
		now:          cfg.Now,
	}
}

// RunCycle executes one full cycle. The returned error covers only
// failures that aborted the cycle before any project ran; per-project
// failures live in the Summary.
func (o *Orchestrator) RunCycle(ctx context.Context, opts Options) (*Summary, error) {
	start := o.now()
	sum := &Summary{Started: start}

	if !o.dryRun {
		id, err := o.store.StartSyncRun(ctx)
		if err != nil {
			return nil, fmt.Errorf("starting sync run: %w", err)
		}
		sum.RunID = id
	}

	projects, err := o.discoverProjects(ctx)
	if err != nil {
		o.completeRun(ctx, sum, types.RunFailed)
		return nil, fmt.Errorf("discovering projects: %w", err)
	}

	set := filterProjects(projects, opts)
	sum.Stats.ProjectsTotal = len(set)
	if len(set) == 0 {
		o.logger.Info("no projects to sync", zap.String("filter", opts.Project))
		sum.Elapsed = o.now().Sub(start)
		o.completeRun(ctx, sum, types.RunCompleted)
		return sum, nil
	}

	fetches := o.fetchIssues(ctx, set, opts.Full)

	if opts.Parallel && opts.MaxWorkers > 1 {
		o.runParallel(ctx, set, fetches, sum, opts.MaxWorkers)
	} else {
		o.runSequential(ctx, set, fetches, sum)
	}

	for _, out := range sum.Outcomes {
		if out.Err != nil {
			sum.Stats.ProjectsErrored++
			sum.Stats.Errors++
			continue
		}
		sum.Stats.ProjectsSynced++
		sum.Stats.IssuesSynced += out.Result.TotalSynced()
		sum.Stats.Errors += out.Result.TotalErrors()
	}

	status := types.RunCompleted
	if sum.Stats.ProjectsErrored == sum.Stats.ProjectsTotal {
		status = types.RunFailed
	}
	sum.Elapsed = o.now().Sub(start)
	o.completeRun(ctx, sum, status)

	o.logger.Info("sync cycle done",
		zap.Int64("run", sum.RunID),
		zap.Int("projects", sum.Stats.ProjectsTotal),
		zap.Int("synced", sum.Stats.IssuesSynced),
		zap.Int("errors", sum.Stats.Errors),
		zap.Duration("elapsed", sum.Elapsed))
	if o.metrics != nil {
		o.metrics.RecordLatency(ctx, "orchestrator", "cycle", float64(sum.Elapsed.Milliseconds()))
	}
	return sum, nil
}

func (o *Orchestrator) runSequential(ctx context.Context, set []*types.Project, fetches map[string]fetch, sum *Summary) {
	for _, p := range set {
		if ctx.Err() != nil {
			sum.Outcomes = append(sum.Outcomes, Outcome{Project: p.Identifier, Err: ctx.Err()})
			continue
		}
		sum.Outcomes = append(sum.Outcomes, o.syncOne(ctx, p, fetches[p.Identifier]))
	}
}

func (o *Orchestrator) runParallel(ctx context.Context, set []*types.Project, fetches map[string]fetch, sum *Summary, workers int) {
	outcomes := make([]Outcome, len(set))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, p := range set {
		g.Go(func() error {
			outcomes[i] = o.syncOne(gctx, p, fetches[p.Identifier])
			return nil
		})
	}
	_ = g.Wait() // goroutines report through outcomes, never an error
	sum.Outcomes = append(sum.Outcomes, outcomes...)
}

// syncOne runs the pipeline for a single project and settles its cursor
// and empty flag. A failed fetch skips the phases outright: running the
// dedup cascade against a listing that silently failed would re-create
// issues the server already has.
func (o *Orchestrator) syncOne(ctx context.Context, p *types.Project, f fetch) Outcome {
	if f.err != nil {
		o.logger.Error("issue fetch failed, project skipped",
			zap.String("project", p.Identifier), zap.Error(f.err))
		return Outcome{Project: p.Identifier, Err: f.err}
	}

	// the engine reads snapshot fullness off the cursor field; hand it a
	// copy that mirrors the fetch actually performed
	proj := *p
	if f.full {
		proj.HulySyncCursor = ""
	}

	res, err := o.engine.SyncProject(ctx, &proj, f.page)
	if err != nil {
		o.logger.Error("project cycle failed",
			zap.String("project", p.Identifier), zap.Error(err))
		if o.metrics != nil {
			o.metrics.CountError(ctx, "orchestrator", "syncProject")
		}
		return Outcome{Project: p.Identifier, Result: res, Err: err}
	}

	o.settleProject(ctx, p, f.page, res)
	return Outcome{Project: p.Identifier, Result: res}
}

// settleProject advances the cursor and refreshes the empty flag once the
// phases have run. The cursor advances even when individual issues
// errored: counters and logs carry those, and a stuck cursor would refight
// the same issues every cycle. Regressions are rejected by the store, so
// a bulk fetch issued with another project's older cursor cannot move
// this one backwards.
func (o *Orchestrator) settleProject(ctx context.Context, p *types.Project, page *huly.IssuePage, res *engine.Result) {
	if o.dryRun {
		return
	}
	if page != nil && page.SyncMeta != nil && page.SyncMeta.LatestModified != "" {
		if err := o.store.SetHulySyncCursor(ctx, p.Identifier, page.SyncMeta.LatestModified); err != nil {
			o.logger.Warn("cursor write failed",
				zap.String("project", p.Identifier), zap.Error(err))
		}
	}
	if res.Full && res.Empty != p.IsEmpty {
		if err := o.store.SetProjectEmpty(ctx, p.Identifier, res.Empty); err != nil {
			o.logger.Warn("empty flag write failed",
				zap.String("project", p.Identifier), zap.Error(err))
		}
	}
}

func (o *Orchestrator) completeRun(ctx context.Context, sum *Summary, status types.SyncRunStatus) {
	if o.dryRun {
		return
	}
	if err := o.store.CompleteSyncRun(ctx, sum.RunID, status, sum.Stats); err != nil {
		o.logger.Warn("completing sync run failed",
			zap.Int64("run", sum.RunID), zap.Error(err))
	}
}
