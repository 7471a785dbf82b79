package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/steveyegge/braid/internal/engine"
	"github.com/steveyegge/braid/internal/orchestrator"
	"github.com/steveyegge/braid/internal/telemetry"
	"github.com/steveyegge/braid/internal/types"
	"github.com/steveyegge/braid/internal/ui"
	"github.com/steveyegge/braid/internal/workflow"
)

var (
	syncProject   string
	syncFull      bool
	syncDryRun    bool
	syncParallel  bool
	syncDurable   bool
	syncReconcile bool
	syncClear     bool
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync cycle and exit",
	Long: `Run a single sync cycle across the fleet (or one project with
--project) and print the accounting.

With --dry-run every intended write is logged and none applied; the
cycle is read-only end to end. With --full stored cursors are ignored
and complete listings fetched.

--reconcile runs a mapping sweep instead: issue rows whose Beads or
Vibe side has vanished are reported, and with --clear the dangling
mapping is severed so the next cycle can re-link or re-create.`,
	Args: cobra.NoArgs,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().StringVar(&syncProject, "project", "", "Sync a single project (identifier or checkout path)")
	syncCmd.Flags().BoolVar(&syncFull, "full", false, "Ignore stored cursors and fetch complete listings")
	syncCmd.Flags().BoolVar(&syncDryRun, "dry-run", false, "Log intended writes without applying any")
	syncCmd.Flags().BoolVar(&syncParallel, "parallel", false, "Sync projects in parallel (bounded by MAX_WORKERS)")
	syncCmd.Flags().BoolVar(&syncDurable, "durable", false, "Submit the cycle to the Temporal worker run by braid serve")
	syncCmd.Flags().BoolVar(&syncReconcile, "reconcile", false, "Run a mapping sweep instead of a sync cycle")
	syncCmd.Flags().BoolVar(&syncClear, "clear", false, "With --reconcile: clear stale mappings instead of only reporting them")
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, logger, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	defer telemetry.Shutdown(context.Background())

	if syncDryRun {
		cfg.DryRun = true
	}

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if syncReconcile {
		return runReconcile(ctx, a)
	}

	opts := cycleOptions(a)
	opts.Project = syncProject
	if syncFull {
		opts.Full = true
	}
	if syncParallel {
		opts.Parallel = true
	}

	if syncDurable {
		return runDurableCycle(ctx, a, opts)
	}

	sum, err := a.orch.RunCycle(ctx, opts)
	if err != nil {
		return err
	}
	printSummary(sum)

	if sum.Stats.ProjectsTotal > 0 && sum.Stats.ProjectsErrored == sum.Stats.ProjectsTotal {
		return fmt.Errorf("every project errored")
	}
	return nil
}

// runDurableCycle submits the cycle as a FullOrchestrationWorkflow and
// waits it out. The worker inside braid serve executes it; this command
// only observes.
func runDurableCycle(ctx context.Context, a *app, opts orchestrator.Options) error {
	if !a.cfg.UseTemporalSync {
		return fmt.Errorf("--durable requires USE_TEMPORAL_SYNC=true")
	}
	c, err := workflow.Dial(a.cfg.TemporalAddress, a.cfg.TemporalNamespace, a.logger)
	if err != nil {
		return err
	}
	defer c.Close()

	out, err := workflow.RunOrchestration(ctx, c, workflow.OrchestrationInput{
		Project:    opts.Project,
		Full:       opts.Full,
		SkipEmpty:  opts.SkipEmpty,
		Parallel:   opts.Parallel,
		MaxWorkers: opts.MaxWorkers,
	})
	if err != nil {
		return err
	}

	if jsonOutput {
		outputJSON(out)
		return nil
	}
	icon := ui.RenderPassIcon()
	if out.Status != string(types.RunCompleted) {
		icon = ui.RenderFailIcon()
	}
	fmt.Printf("%s Durable run %d %s: %d projects, %d synced, %d errors\n",
		icon, out.RunID, out.Status, out.Projects, out.Synced, out.Errors)
	for _, res := range out.Results {
		printProjectLine(res.Project, res.Synced, res.Committed, res.Empty, res.Errors)
	}
	if out.Status == string(types.RunFailed) {
		return fmt.Errorf("every project errored")
	}
	return nil
}

func runReconcile(ctx context.Context, a *app) error {
	in := workflow.ReconcileInput{
		DryRun:  a.cfg.DryRun,
		Action:  workflow.ReconcileMark,
		Project: syncProject,
	}
	if syncClear {
		in.Action = workflow.ReconcileClear
	}

	acts := workflow.NewActivities(a.store, a.orch, a.engine, a.vibe, a.beads, a.logger)
	out, err := acts.ReconcileMappings(ctx, in)
	if err != nil {
		return err
	}

	if jsonOutput {
		outputJSON(out)
		return nil
	}
	fmt.Printf("%s Reconciled %d rows across %d projects\n",
		ui.RenderPassIcon(), out.Rows, out.Projects)
	fmt.Printf("  stale beads mappings: %d\n", out.StaleBeads)
	fmt.Printf("  stale vibe mappings:  %d\n", out.StaleVibe)
	if out.Cleared > 0 {
		fmt.Printf("  cleared:              %d\n", out.Cleared)
	}
	for _, d := range out.Details {
		fmt.Printf("  %s %s\n", ui.TreeLast, ui.RenderWarn(d))
	}
	return nil
}

func printSummary(sum *orchestrator.Summary) {
	if jsonOutput {
		outputJSON(sum)
		return
	}

	icon := ui.RenderPassIcon()
	if sum.Stats.ProjectsTotal > 0 && sum.Stats.ProjectsErrored == sum.Stats.ProjectsTotal {
		icon = ui.RenderFailIcon()
	} else if sum.Stats.ProjectsErrored > 0 {
		icon = ui.RenderWarnIcon()
	}
	fmt.Printf("%s Sync run %d finished in %s\n", icon, sum.RunID, sum.Elapsed.Round(10*time.Millisecond))
	fmt.Printf("  projects: %d synced, %d errored of %d\n",
		sum.Stats.ProjectsSynced, sum.Stats.ProjectsErrored, sum.Stats.ProjectsTotal)
	fmt.Printf("  issues:   %d synced, %d errors\n", sum.Stats.IssuesSynced, sum.Stats.Errors)

	for _, out := range sum.Outcomes {
		if out.Err != nil {
			fmt.Printf("  %s %s %s\n", ui.RenderFailIcon(), out.Project, ui.RenderMuted(out.Err.Error()))
			continue
		}
		if out.Result == nil {
			fmt.Printf("  %s %s %s\n", ui.RenderSkipIcon(), out.Project, ui.RenderMuted("skipped"))
			continue
		}
		printProjectLine(out.Project, out.Result.TotalSynced(), out.Result.Committed, out.Result.Empty, collectErrors(out.Result))
	}
}

func printProjectLine(project string, synced int, committed, empty bool, errs []string) {
	note := ""
	switch {
	case empty:
		note = ui.RenderMuted("empty")
	case committed:
		note = ui.RenderMuted("committed")
	}
	icon := ui.RenderPassIcon()
	if len(errs) > 0 {
		icon = ui.RenderWarnIcon()
	}
	fmt.Printf("  %s %-12s %3d synced %s\n", icon, project, synced, note)
	for _, e := range errs {
		fmt.Printf("    %s%s\n", ui.TreeLast, ui.RenderMuted(e))
	}
}

func collectErrors(res *engine.Result) []string {
	var errs []string
	for _, ph := range []*engine.PhaseResult{&res.Phase1, &res.Phase2, &res.Phase3, &res.Phase4} {
		for _, ie := range ph.Errors {
			errs = append(errs, ie.Error())
		}
	}
	return errs
}
