package main

import (
	"context"
	"fmt"

	"github.com/Harvey-AU/archive-crawler/internal/api"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	return newRootCmdWith(runCrawler)
}

// newRootCmdWith builds the command tree around run, which receives the merged env and flag
// configuration
func newRootCmdWith(run func(ctx context.Context, cfg *Config) error) *cobra.Command {
	cfg := loadConfig()

	rootCmd := &cobra.Command{
		Use:           "archive-crawler",
		Short:         "Archive one site by crawling it breadth-first from a seed URL",
		Long:          "archive-crawler discovers and archives the pages of a single site, starting from a seed URL and following in-scope links up to a maximum depth. Work is kept in PostgreSQL, so an interrupted crawl resumes where it stopped.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return run(cmd.Context(), cfg)
		},
	}

	flags := rootCmd.Flags()
	flags.StringVar(&cfg.Seed, "seed", cfg.Seed, "seed URL; empty resumes from queued items (env CRAWL_SEED_URL)")
	flags.IntVar(&cfg.MaxDepth, "max-depth", cfg.MaxDepth, "maximum link depth from the seed (env CRAWL_MAX_DEPTH)")
	flags.IntVar(&cfg.Workers, "workers", cfg.Workers, "number of concurrent workers (env CRAWL_WORKERS)")
	flags.DurationVar(&cfg.Interval, "interval", cfg.Interval, "re-run the crawl on this period; 0 runs once (env CRAWL_INTERVAL)")
	flags.StringVar(&cfg.PolicyPath, "policy", cfg.PolicyPath, "YAML extraction policy file (env CRAWL_EXTRACT_POLICY)")

	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "archive-crawler %s\n", api.Version)
		},
	}
}
