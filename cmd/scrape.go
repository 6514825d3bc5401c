package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/animal-gallery/internal/app"
	"github.com/JakeFAU/animal-gallery/internal/config"
	"github.com/JakeFAU/animal-gallery/internal/logging"
)

// newScrapeCmd creates the 'scrape' subcommand, which runs the whole
// listing -> images -> report pipeline once.
func newScrapeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Scrape the animal list and build the gallery",
		Long: `Fetches the animal listing, downloads one info box image per animal
using at most --concurrency parallel fetch-chains, and writes output.html and
outcomes.json to --output. Individual failures are reported in the summary;
the command only fails when the listing itself cannot be fetched or parsed.`,
		Args: cobra.NoArgs,
		RunE: runScrapeCommand,
	}

	flags := cmd.Flags()
	flags.Int("concurrency", 8, "maximum fetch-chains in flight")
	flags.Duration("timeout", 30*time.Second, "deadline for one animal's fetch-chain")
	flags.Duration("global-timeout", 0, "deadline for the whole acquisition batch (0 disables)")
	flags.String("output", "output", "output directory or gs://bucket/prefix")
	flags.String("listing-url", config.DefaultListingURL, "animal listing page")
	flags.Int("max-retries", 2, "retries per fetch for transient failures")
	flags.String("metrics-file", "", "write Prometheus metrics to this textfile when done")

	return cmd
}

func runScrapeCommand(cmd *cobra.Command, _ []string) error {
	cfgPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return fmt.Errorf("read config flag: %w", err)
	}
	cfg, err := config.Load(cfgPath, cmd.Flags())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	ctx := cmd.Context()
	appInstance, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	defer func() {
		if cerr := appInstance.Close(); cerr != nil {
			logger.Warn("failed to close application services", zap.Error(cerr))
		}
	}()

	summary, err := appInstance.Run(ctx)
	if err != nil {
		return fmt.Errorf("scrape: %w", err)
	}
	return printSummary(cmd.OutOrStdout(), summary)
}
