package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Guizzs26/boardsync/internal/batcher"
	"github.com/Guizzs26/boardsync/internal/board"
	"github.com/Guizzs26/boardsync/internal/config"
	"github.com/Guizzs26/boardsync/internal/db"
	"github.com/Guizzs26/boardsync/internal/engine"
	"github.com/Guizzs26/boardsync/internal/notifier"
	"github.com/Guizzs26/boardsync/internal/staging"
	"github.com/Guizzs26/boardsync/pkg/metrics"
)

func newSyncCmd(cfg *config.Config, logger *slog.Logger) *cobra.Command {
	var (
		dryRun   bool
		execute  bool
		limit    int
		customer string
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Push pending headers and lines to the board, then promote",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dryRun == execute {
				return fmt.Errorf("exactly one of --dry-run or --execute is required")
			}

			ctx := cmd.Context()
			logger.Info("🔧 Initializing board sync...", "dry_run", dryRun)

			repo, err := db.NewPostgresRepository(ctx, cfg.DatabaseURL, logger)
			if err != nil {
				return fmt.Errorf("connect to Postgres: %w", err)
			}
			defer repo.Close()

			client, err := board.NewClient(cfg, logger)
			if err != nil {
				return err
			}

			var events engine.EventPublisher
			if cfg.RabbitMQURL != "" {
				n, err := notifier.NewNotifier(cfg.RabbitMQURL, logger)
				if err != nil {
					logger.Warn("Event broker unavailable, continuing without eventing", "error", err)
				} else {
					defer n.Close()
					events = n
				}
			}

			go startObservabilityServer(cfg.MetricsPort, logger)
			metrics.HealthStatus.Set(1)

			inspector := staging.NewInspector(repo.Pool())
			eng := engine.New(
				repo,
				batcher.NewBatcher(repo, cfg.BoardBatchSize, logger),
				board.NewExecutor(client, cfg, logger),
				staging.NewPromoter(repo.Pool(), inspector, logger),
				events,
				cfg,
				logger,
			)

			if limit <= 0 {
				limit = cfg.PullLimit
			}
			report, err := eng.Run(ctx, engine.RunOptions{
				DryRun:   dryRun,
				Limit:    limit,
				Customer: customer,
			})
			if err != nil {
				return err
			}

			printSummary(logger, report.FailureReasons)
			if !report.FullSuccess() {
				return fmt.Errorf("%d headers and %d lines failed", report.HeadersFailed, report.LinesFailed)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "validate and report without calling the board API")
	cmd.Flags().BoolVar(&execute, "execute", false, "perform the sync for real")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum pending headers to pull (0 = configured default)")
	cmd.Flags().StringVar(&customer, "customer", "", "restrict the run to one customer")
	return cmd
}

func printSummary(logger *slog.Logger, reasons map[string]int) {
	for reason, count := range reasons {
		logger.Warn("Failure reason", "count", count, "reason", reason)
	}
}
