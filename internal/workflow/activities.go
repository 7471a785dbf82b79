package workflow

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/steveyegge/braid/internal/engine"
	"github.com/steveyegge/braid/internal/orchestrator"
	"github.com/steveyegge/braid/internal/types"
)

// ActivityStore is the slice of the state store activities touch.
type ActivityStore interface {
	GetAllProjects(ctx context.Context) ([]*types.Project, error)
	GetProjectIssues(ctx context.Context, projectIdentifier string) ([]*types.Issue, error)
	ClearBeadsMapping(ctx context.Context, identifier string) error
	ClearVibeMapping(ctx context.Context, identifier string) error
	StartSyncRun(ctx context.Context) (int64, error)
	CompleteSyncRun(ctx context.Context, id int64, status types.SyncRunStatus, stats types.SyncRunStats) error
}

// Fleet is the slice of the orchestrator activities drive. Implemented
// by *orchestrator.Orchestrator.
type Fleet interface {
	Discover(ctx context.Context, opts orchestrator.Options) ([]*types.Project, error)
	SyncProjectByIdentifier(ctx context.Context, identifier string, full bool) (*orchestrator.Outcome, error)
}

// IssueSyncer is the engine entry point for single-issue syncs.
// Implemented by *engine.Engine.
type IssueSyncer interface {
	SyncIssue(ctx context.Context, project *types.Project, identifier string) (*engine.Result, error)
}

// Activities bundles every side-effecting operation the workflows
// schedule. One instance is registered per worker; each method is safe
// to retry because the writes underneath are upserts.
type Activities struct {
	store  ActivityStore
	fleet  Fleet
	issues IssueSyncer
	vibe   engine.VibeAPI
	beads  engine.BeadsFactory
	logger *zap.Logger
}

// NewActivities wires the activity bundle. vibeAPI and beadsFactory feed
// only the reconciliation sweep; either may be nil to skip its side.
func NewActivities(store ActivityStore, fleet Fleet, issues IssueSyncer, vibeAPI engine.VibeAPI, beadsFactory engine.BeadsFactory, logger *zap.Logger) *Activities {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Activities{
		store:  store,
		fleet:  fleet,
		issues: issues,
		vibe:   vibeAPI,
		beads:  beadsFactory,
		logger: logger,
	}
}

// StartSyncRun opens the bookkeeping row for a durable cycle.
func (a *Activities) StartSyncRun(ctx context.Context) (int64, error) {
	return a.store.StartSyncRun(ctx)
}

// CompleteRunInput closes a bookkeeping row.
type CompleteRunInput struct {
	RunID  int64              `json:"run_id"`
	Status string             `json:"status"`
	Stats  types.SyncRunStats `json:"stats"`
}

// CompleteSyncRun records a cycle's terminal status and totals.
func (a *Activities) CompleteSyncRun(ctx context.Context, in CompleteRunInput) error {
	return a.store.CompleteSyncRun(ctx, in.RunID, types.SyncRunStatus(in.Status), in.Stats)
}

// DiscoverProjects runs discovery and the cycle's project selection,
// upserting rows as usual, and hands back light refs for the workflow to
// fan out over.
func (a *Activities) DiscoverProjects(ctx context.Context, in OrchestrationInput) ([]ProjectRef, error) {
	set, err := a.fleet.Discover(ctx, orchestrator.Options{
		Project:   in.Project,
		Full:      in.Full,
		SkipEmpty: in.SkipEmpty,
	})
	if err != nil {
		return nil, err
	}
	refs := make([]ProjectRef, 0, len(set))
	for _, p := range set {
		refs = append(refs, ProjectRef{Identifier: p.Identifier, Name: p.Name, Empty: p.IsEmpty})
	}
	return refs, nil
}

// SyncProjectInput names one project's share of a durable cycle.
type SyncProjectInput struct {
	Identifier string `json:"identifier"`
	Full       bool   `json:"full,omitempty"`
}

// SyncProject runs the four phases for one project: fetch, engine,
// cursor settle. The cursor's monotonic guard makes a retry after a
// partial run converge rather than regress.
func (a *Activities) SyncProject(ctx context.Context, in SyncProjectInput) (*ProjectSyncResult, error) {
	out, err := a.fleet.SyncProjectByIdentifier(ctx, in.Identifier, in.Full)
	if err != nil {
		return nil, err
	}
	res := flattenResult(in.Identifier, out.Result)
	return &res, nil
}

// SyncIssue brings one issue into agreement across surfaces.
func (a *Activities) SyncIssue(ctx context.Context, in IssueSyncInput) (*ProjectSyncResult, error) {
	identifier := in.ProjectIdentifier
	if identifier == "" {
		identifier = projectOf(in.IssueIdentifier)
	}
	if identifier == "" {
		return nil, fmt.Errorf("cannot derive project from issue %q", in.IssueIdentifier)
	}

	stored, err := a.store.GetAllProjects(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading projects: %w", err)
	}
	var project *types.Project
	for _, p := range stored {
		if strings.EqualFold(p.Identifier, identifier) {
			project = p
			break
		}
	}
	if project == nil {
		return nil, fmt.Errorf("unknown project %q for issue %s", identifier, in.IssueIdentifier)
	}

	res, err := a.issues.SyncIssue(ctx, project, in.IssueIdentifier)
	if err != nil {
		return nil, err
	}
	out := flattenResult(project.Identifier, res)
	return &out, nil
}

// ReconcileMappings sweeps stored rows whose Beads or Vibe side no
// longer exists: a beads issue id absent from the project's JSONL store,
// or a task id absent from the board. Mark reports; clear also drops the
// mapping so the next cycle re-links by footer or title, or re-creates.
func (a *Activities) ReconcileMappings(ctx context.Context, in ReconcileInput) (*ReconcileResult, error) {
	projects, err := a.store.GetAllProjects(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading projects: %w", err)
	}

	drop := in.Action == ReconcileClear && !in.DryRun
	res := &ReconcileResult{}

	for _, p := range projects {
		if in.Project != "" && !strings.EqualFold(in.Project, p.Identifier) {
			continue
		}
		res.Projects++

		issues, err := a.store.GetProjectIssues(ctx, p.Identifier)
		if err != nil {
			return nil, fmt.Errorf("loading issues for %s: %w", p.Identifier, err)
		}
		res.Rows += len(issues)

		beadsIDs := a.liveBeadsIDs(ctx, p)
		taskIDs := a.liveTaskIDs(ctx, p)

		for _, row := range issues {
			if row.DeletedFromHuly {
				continue
			}
			if beadsIDs != nil && row.BeadsIssueID != "" && !beadsIDs[row.BeadsIssueID] {
				res.StaleBeads++
				res.Details = append(res.Details,
					fmt.Sprintf("%s: beads issue %s gone from %s", row.Identifier, row.BeadsIssueID, p.Identifier))
				if drop {
					if err := a.store.ClearBeadsMapping(ctx, row.Identifier); err != nil {
						return nil, fmt.Errorf("clearing beads mapping for %s: %w", row.Identifier, err)
					}
					res.Cleared++
				}
			}
			if taskIDs != nil && row.VibeTaskID != "" && !taskIDs[row.VibeTaskID] {
				res.StaleVibe++
				res.Details = append(res.Details,
					fmt.Sprintf("%s: vibe task %s gone from board", row.Identifier, row.VibeTaskID))
				if drop {
					if err := a.store.ClearVibeMapping(ctx, row.Identifier); err != nil {
						return nil, fmt.Errorf("clearing vibe mapping for %s: %w", row.Identifier, err)
					}
					res.Cleared++
				}
			}
		}
	}

	a.logger.Info("reconciliation sweep done",
		zap.Int("projects", res.Projects),
		zap.Int("rows", res.Rows),
		zap.Int("stale_beads", res.StaleBeads),
		zap.Int("stale_vibe", res.StaleVibe),
		zap.Int("cleared", res.Cleared),
		zap.Bool("dry_run", in.DryRun))
	return res, nil
}

// liveBeadsIDs reads the project's JSONL store. A nil map means the
// beads side could not be checked and its mappings are left alone.
func (a *Activities) liveBeadsIDs(ctx context.Context, p *types.Project) map[string]bool {
	if a.beads == nil || p.FilesystemPath == "" {
		return nil
	}
	list, err := a.beads(p.FilesystemPath).ReadStore(ctx)
	if err != nil {
		a.logger.Warn("reconcile: beads store unreadable",
			zap.String("project", p.Identifier), zap.Error(err))
		return nil
	}
	ids := make(map[string]bool, len(list))
	for _, b := range list {
		ids[b.ID] = true
	}
	return ids
}

// liveTaskIDs lists the project's board. Nil means unchecked.
func (a *Activities) liveTaskIDs(ctx context.Context, p *types.Project) map[string]bool {
	if a.vibe == nil || p.VibeID == "" {
		return nil
	}
	tasks, err := a.vibe.ListTasks(ctx, p.VibeID)
	if err != nil {
		a.logger.Warn("reconcile: board unreadable",
			zap.String("project", p.Identifier), zap.Error(err))
		return nil
	}
	ids := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		ids[t.ID] = true
	}
	return ids
}

// flattenResult projects an engine result onto the history-safe DTO.
func flattenResult(project string, r *engine.Result) ProjectSyncResult {
	out := ProjectSyncResult{Project: project}
	if r == nil {
		return out
	}
	if r.Project != "" {
		out.Project = r.Project
	}
	out.Synced = r.TotalSynced()
	out.Conflicts = len(r.Conflicts)
	out.BeadsWrites = r.BeadsWrites
	out.Committed = r.Committed
	out.Full = r.Full
	out.Empty = r.Empty
	out.ElapsedMS = r.Elapsed.Milliseconds()
	for _, ph := range []engine.PhaseResult{r.Phase1, r.Phase2, r.Phase3, r.Phase4} {
		for _, e := range ph.Errors {
			out.Errors = append(out.Errors, e.Error())
		}
	}
	return out
}

// projectOf derives the project key from a PROJECT-N issue identifier.
func projectOf(issueIdentifier string) string {
	i := strings.LastIndex(issueIdentifier, "-")
	if i <= 0 {
		return ""
	}
	return issueIdentifier[:i]
}
