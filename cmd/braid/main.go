package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var jsonOutput bool

var rootCmd = &cobra.Command{
	Use:   "braid",
	Short: "braid - three-way issue sync service",
	Long: `Braid keeps Huly, Vibe, and per-repository Beads issue stores in
agreement across a fleet of projects, and exports project documentation
one way on a slower cadence.

Point it at the two servers and a directory of project checkouts:

  HULY_API_URL=http://huly:3457 VIBE_API_URL=http://vibe:3000 \
  PROJECTS_ROOT=~/src braid serve

Common operations:
  braid sync                 Run one sync cycle and exit
  braid status               Show recent sync runs and project cursors
  braid inspect ACME-12      Show one issue's stored linkage
  braid init                 Write a starter braid.yaml`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Run: func(cmd *cobra.Command, args []string) {
		if v, _ := cmd.Flags().GetBool("version"); v {
			printVersion()
			return
		}
		_ = cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.Flags().BoolP("version", "V", false, "Print version information")
}

func main() {
	// One signal context for the whole process; commands read it through
	// cmd.Context(). Second signal kills immediately via the default
	// handler once stop() runs.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
