package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Guizzs26/boardsync/internal/config"
	"github.com/Guizzs26/boardsync/internal/db"
	"github.com/Guizzs26/boardsync/internal/staging"
)

func newPromoteCmd(cfg *config.Config, logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "promote",
		Short: "Promote synced staging rows to production and clean up",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			repo, err := db.NewPostgresRepository(ctx, cfg.DatabaseURL, logger)
			if err != nil {
				return fmt.Errorf("connect to Postgres: %w", err)
			}
			defer repo.Close()

			promoter := staging.NewPromoter(repo.Pool(), staging.NewInspector(repo.Pool()), logger)

			result, err := promoter.Promote(ctx)
			if err != nil {
				return fmt.Errorf("promotion: %w", err)
			}

			cleaned, err := promoter.Cleanup(ctx)
			if err != nil {
				return fmt.Errorf("cleanup: %w", err)
			}

			expired, err := promoter.ExpireRetention(ctx, cfg.RetentionDays)
			if err != nil {
				return fmt.Errorf("retention expiry: %w", err)
			}

			logger.Info("✅ Promotion pass complete",
				"headers_promoted", result.Headers,
				"lines_promoted", result.Lines,
				"staging_rows_cleaned", cleaned,
				"retention_expired", expired,
			)
			return nil
		},
	}
	return cmd
}
