// Package cmd defines and implements the CLI commands for the animal-gallery executable.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "animal-gallery",
		Short: "Builds an HTML gallery of animals grouped by collateral adjective.",
		Long: `animal-gallery scrapes the "List of animal names" page, downloads the
info box picture of every animal with a bounded pool of workers and writes a
static HTML gallery next to the images.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().String("config", "", "config file (YAML, TOML or JSON)")
	cmd.PersistentFlags().Bool("dev", false, "human-friendly development logging")
	cmd.PersistentFlags().String("log-level", "info", "minimum log level")

	cmd.AddCommand(newScrapeCmd())

	return cmd
}

// Execute runs the CLI and returns the process exit code. SIGINT and SIGTERM
// cancel the running command.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}
