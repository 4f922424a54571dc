package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// options carries the persistent flags shared by every subcommand.
type options struct {
	configPath string
	projectID  string
	jsonOutput bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:          "wxcode",
		Short:        "Dependency graph of WinDev/WebDev projects",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Config file path (defaults plus WXCODE_* environment when empty)")
	rootCmd.PersistentFlags().StringVar(&opts.projectID, "project", os.Getenv("WXCODE_PROJECT"), "Project ID")
	rootCmd.PersistentFlags().BoolVar(&opts.jsonOutput, "json", false, "Print results as JSON")

	rootCmd.AddCommand(
		newExtractCmd(opts),
		newSyncCmd(opts),
		newImpactCmd(opts),
		newPathCmd(opts),
		newHubsCmd(opts),
		newDeadCodeCmd(opts),
		newSequenceCmd(opts),
		newExportCmd(opts),
		newStatsCmd(opts),
	)
	return rootCmd
}

func (o *options) requireProject() error {
	if o.projectID == "" {
		return fmt.Errorf("--project is required")
	}
	return nil
}
