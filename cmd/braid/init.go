package main

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/steveyegge/braid/internal/ui"
)

var (
	initForce  bool
	initOutput string
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Interactive first-run configuration",
	Long: `Walk through the settings braid needs and write them to braid.yaml.
Environment variables still win over the file at startup.

The form uses keyboard navigation:
  - Tab/Shift+Tab: Move between fields
  - Enter: Submit the form (on the last field or submit button)
  - Ctrl+C: Cancel and exit`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing config file")
	initCmd.Flags().StringVar(&initOutput, "output", "braid.yaml", "Where to write the config file")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	if !ui.IsTerminal() || ui.IsAgentMode() {
		return fmt.Errorf("braid init needs an interactive terminal; set HULY_API_URL, VIBE_API_URL, and PROJECTS_ROOT in the environment instead")
	}
	if _, err := os.Stat(initOutput); err == nil && !initForce {
		return fmt.Errorf("%s already exists; pass --force to overwrite", initOutput)
	}

	var (
		hulyURL      string
		vibeURL      string
		projectsRoot string
		intervalStr  = "30"
		webhookAddr  string
		useTemporal  bool
		temporalAddr = "localhost:7233"
		confirmed    bool
	)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Huly API URL").
				Description("Base URL of the Huly HTTP API (required)").
				Placeholder("http://localhost:3457").
				Value(&hulyURL).
				Validate(validateURL),

			huh.NewInput().
				Title("Vibe API URL").
				Description("Base URL of the Vibe Kanban HTTP API (required)").
				Placeholder("http://localhost:3001").
				Value(&vibeURL).
				Validate(validateURL),

			huh.NewInput().
				Title("Projects root").
				Description("Directory holding the project git checkouts (optional)").
				Placeholder("/home/you/work").
				Value(&projectsRoot),
		),

		huh.NewGroup(
			huh.NewInput().
				Title("Sync interval").
				Description("Seconds between sync cycles").
				Value(&intervalStr).
				Validate(func(s string) error {
					n, err := strconv.Atoi(strings.TrimSpace(s))
					if err != nil || n < 1 {
						return fmt.Errorf("enter a whole number of seconds, 1 or more")
					}
					return nil
				}),

			huh.NewInput().
				Title("Huly webhook listener").
				Description("Listen address for push notifications; leave empty to poll only").
				Placeholder(":8787").
				Value(&webhookAddr),
		),

		huh.NewGroup(
			huh.NewConfirm().
				Title("Run syncs through Temporal?").
				Description("Durable workflows survive restarts; needs a reachable Temporal server").
				Affirmative("Yes").
				Negative("No").
				Value(&useTemporal),

			huh.NewInput().
				Title("Temporal address").
				Description("host:port of the Temporal frontend (ignored unless enabled above)").
				Value(&temporalAddr),

			huh.NewConfirm().
				Title("Write " + initOutput + "?").
				Affirmative("Write").
				Negative("Cancel").
				Value(&confirmed),
		),
	).WithTheme(huh.ThemeDracula())

	if err := form.Run(); err != nil {
		if err == huh.ErrUserAborted {
			fmt.Fprintln(os.Stderr, "init cancelled")
			return nil
		}
		return fmt.Errorf("form error: %w", err)
	}
	if !confirmed {
		fmt.Fprintln(os.Stderr, "init cancelled")
		return nil
	}

	seconds, _ := strconv.Atoi(strings.TrimSpace(intervalStr))

	v := viper.New()
	v.Set("HULY_API_URL", strings.TrimSpace(hulyURL))
	v.Set("VIBE_API_URL", strings.TrimSpace(vibeURL))
	v.Set("SYNC_INTERVAL", seconds*1000)
	if root := strings.TrimSpace(projectsRoot); root != "" {
		v.Set("PROJECTS_ROOT", root)
	}
	if addr := strings.TrimSpace(webhookAddr); addr != "" {
		v.Set("HULY_WEBHOOK_ADDR", addr)
	}
	if useTemporal {
		v.Set("USE_TEMPORAL_SYNC", true)
		v.Set("TEMPORAL_ADDRESS", strings.TrimSpace(temporalAddr))
	}

	if err := v.WriteConfigAs(initOutput); err != nil {
		return fmt.Errorf("writing %s: %w", initOutput, err)
	}

	if jsonOutput {
		outputJSON(map[string]any{"config": initOutput, "settings": v.AllSettings()})
		return nil
	}
	fmt.Printf("%s wrote %s\n", ui.RenderPassIcon(), initOutput)
	fmt.Println(ui.RenderMuted("  try: braid sync --dry-run, then braid serve"))
	return nil
}

func validateURL(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return fmt.Errorf("this endpoint is required")
	}
	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("enter a full URL like http://localhost:3457")
	}
	return nil
}
