package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/steveyegge/braid/internal/config"
	"github.com/steveyegge/braid/internal/lockfile"
	"github.com/steveyegge/braid/internal/types"
	"github.com/steveyegge/braid/internal/ui"
)

var statusRuns int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recent sync runs and project cursors",
	Long: `Show the service's view of the fleet: whether a serve process holds
the lock, the most recent sync runs, and every known project with its
board linkage and incremental-fetch cursor. Read-only; works without
the remote endpoints configured.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().IntVar(&statusRuns, "runs", 10, "Number of recent sync runs to show")
	rootCmd.AddCommand(statusCmd)
}

// statusReport is the JSON shape of braid status --json.
type statusReport struct {
	Serving  *lockfile.LockInfo `json:"serving,omitempty"`
	Runs     []*types.SyncRun   `json:"runs"`
	Projects []*types.Project   `json:"projects"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	s, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	runs, err := s.GetRecentSyncRuns(ctx, statusRuns)
	if err != nil {
		return fmt.Errorf("loading sync runs: %w", err)
	}
	projects, err := s.GetAllProjects(ctx)
	if err != nil {
		return fmt.Errorf("loading projects: %w", err)
	}
	holder := serveHolder(cfg.DBPath)

	if jsonOutput {
		outputJSON(statusReport{Serving: holder, Runs: runs, Projects: projects})
		return nil
	}

	if holder != nil {
		fmt.Printf("%s serve running (pid %d since %s)\n",
			ui.RenderPassIcon(), holder.PID, holder.StartedAt.Format("2006-01-02 15:04"))
	} else {
		fmt.Printf("%s no serve process\n", ui.RenderSkipIcon())
	}
	fmt.Println()

	fmt.Println(ui.RenderCategory("sync runs"))
	fmt.Println(ui.RenderSeparator())
	if len(runs) == 0 {
		fmt.Println(ui.RenderMuted("  none recorded"))
	}
	for _, r := range runs {
		fmt.Println(renderRun(r))
	}
	fmt.Println()

	fmt.Println(ui.RenderCategory("projects"))
	fmt.Println(ui.RenderSeparator())
	if len(projects) == 0 {
		fmt.Println(ui.RenderMuted("  none discovered yet"))
	}
	for _, p := range projects {
		fmt.Println(renderProject(p))
	}
	return nil
}

// serveHolder reads the serve lock next to the database, nil when no
// live process holds it.
func serveHolder(dbPath string) *lockfile.LockInfo {
	dir := lockDir(dbPath)
	if lockfile.IsStale(dir) {
		return nil
	}
	info, err := lockfile.ReadLockInfo(dir)
	if err != nil {
		return nil
	}
	return info
}

func renderRun(r *types.SyncRun) string {
	icon := ui.RenderPassIcon()
	switch r.Status {
	case types.RunFailed:
		icon = ui.RenderFailIcon()
	case types.RunRunning:
		icon = ui.RenderInfoIcon()
	}

	elapsed := ""
	if r.CompletedAt != nil {
		elapsed = ui.RenderMuted(fmt.Sprintf(" (%s)", r.CompletedAt.Sub(r.StartedAt).Round(100*time.Millisecond)))
	}
	return fmt.Sprintf("%s #%-4d %-9s %s  %d projects, %d issues, %d errors%s",
		icon, r.ID, r.Status, r.StartedAt.Format("2006-01-02 15:04:05"),
		r.ProjectsTotal, r.IssuesSynced, r.Errors, elapsed)
}

func renderProject(p *types.Project) string {
	board := ui.RenderMuted("no board")
	if p.VibeID != "" {
		board = ui.RenderPass("board")
	}
	cursor := ui.RenderMuted("no cursor")
	if p.HulySyncCursor != "" {
		cursor = p.HulySyncCursor
	}
	checkout := ui.RenderMuted("no checkout")
	if p.FilesystemPath != "" {
		checkout = p.FilesystemPath
	}
	line := fmt.Sprintf("  %-10s %-24s %s  %s  %s",
		ui.RenderAccent(p.Identifier), ui.TruncateSimple(p.Name, 24), board, cursor, checkout)
	if p.IsEmpty {
		line += "  " + ui.RenderMuted("empty")
	}
	return line
}
