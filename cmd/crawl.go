package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/crawl-frontier/internal/server"
)

// newCrawlCmd creates the 'crawl' subcommand.
func newCrawlCmd() *cobra.Command {
	var seeds []string
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Runs the crawl",
		Long: `Builds the frontier and worker pool from configuration, schedules the
configured seeds plus any given with --seed, serves the operator API, and
runs until the frontier drains or the process is interrupted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd.Context())
			if err != nil {
				return err
			}
			cfg.Crawler.Seeds = append(cfg.Crawler.Seeds, seeds...)
			app, err := server.Build(cmd.Context(), cfg, nil)
			if err != nil {
				return fmt.Errorf("build crawl: %w", err)
			}
			if err := app.Run(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("run crawl: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&seeds, "seed", nil, "seed URL (repeatable)")
	return cmd
}
