package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/steveyegge/braid/internal/config"
	"github.com/steveyegge/braid/internal/store"
	"github.com/steveyegge/braid/internal/types"
	"github.com/steveyegge/braid/internal/ui"
)

var (
	inspectFull    bool
	inspectNoPager bool
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <identifier>",
	Short: "Show one issue's stored linkage",
	Long: `Show the stored row for one issue: its title, status, and the ids
tying it to Huly, Vibe, and Beads. The description renders as markdown
on a terminal; long text is truncated unless --full is given.`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

func init() {
	inspectCmd.Flags().BoolVar(&inspectFull, "full", false, "Show the complete description without truncation")
	inspectCmd.Flags().BoolVar(&inspectNoPager, "no-pager", false, "Print directly instead of paging long output")
	rootCmd.AddCommand(inspectCmd)
}

func runInspect(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	identifier := args[0]

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	s, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	issue, err := s.GetIssue(ctx, identifier)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("no stored issue %q; has a sync cycle seen it yet?", identifier)
		}
		return err
	}

	if jsonOutput {
		outputJSON(issue)
		return nil
	}

	return ui.ToPager(renderIssue(issue), ui.PagerOptions{NoPager: inspectNoPager})
}

func renderIssue(i *types.Issue) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s  %s\n", ui.RenderAccent(i.Identifier), i.Title)
	fmt.Fprintln(&b, ui.RenderSeparator())

	status := string(i.Status)
	if i.BeadsStatus != "" {
		status += ui.RenderMuted(fmt.Sprintf("  (beads: %s)", i.BeadsStatus))
	}
	fmt.Fprintf(&b, "status     %s\n", status)
	if i.Priority != "" {
		fmt.Fprintf(&b, "priority   %s\n", i.Priority)
	}
	fmt.Fprintf(&b, "project    %s\n", i.ProjectIdentifier)
	fmt.Fprintf(&b, "linkage    %s\n", renderLinkage(i))
	if i.ParentHulyID != "" || i.ParentBeadsID != "" {
		fmt.Fprintf(&b, "parent     %s\n", renderParent(i))
	}
	if i.SubIssueCount > 0 {
		fmt.Fprintf(&b, "children   %d\n", i.SubIssueCount)
	}
	fmt.Fprintf(&b, "modified   %s\n", renderWatermarks(i))
	if i.DeletedFromHuly {
		fmt.Fprintf(&b, "%s\n", ui.RenderWarn("tombstoned: deleted from Huly, writes suppressed"))
	}

	if i.Description != "" {
		fmt.Fprintln(&b)
		fmt.Fprintln(&b, ui.RenderCategory("description"))
		desc := i.Description
		if !inspectFull {
			desc = ui.TruncateLines(desc, ui.DefaultMaxLines, ui.DefaultContextLines)
		}
		fmt.Fprint(&b, ui.RenderMarkdown(desc))
		if !strings.HasSuffix(desc, "\n") {
			fmt.Fprintln(&b)
		}
	}
	return b.String()
}

func renderLinkage(i *types.Issue) string {
	side := func(name, id string) string {
		if id == "" {
			return ui.RenderMuted(name + " -")
		}
		return fmt.Sprintf("%s %s %s", name, ui.IconPass, ui.RenderMuted(id))
	}
	return side("huly", i.HulyID) + "   " + side("vibe", i.VibeTaskID) + "   " + side("beads", i.BeadsIssueID)
}

func renderParent(i *types.Issue) string {
	out := i.ParentHulyID
	if out == "" {
		out = ui.RenderMuted("-")
	}
	if i.ParentBeadsID != "" {
		out += ui.RenderMuted(fmt.Sprintf("  (beads: %s)", i.ParentBeadsID))
	}
	return out
}

func renderWatermarks(i *types.Issue) string {
	render := func(name string, ms int64) string {
		if ms == 0 {
			return ui.RenderMuted(name + " -")
		}
		return fmt.Sprintf("%s %s", name, time.UnixMilli(ms).Format("2006-01-02 15:04:05"))
	}
	return render("huly", i.HulyModifiedAt) + "   " + render("beads", i.BeadsModifiedAt)
}
