package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Guizzs26/boardsync/internal/config"
	"github.com/Guizzs26/boardsync/internal/db"
)

func newStatusCmd(cfg *config.Config, logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show staged record counts per sync state",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			repo, err := db.NewPostgresRepository(ctx, cfg.DatabaseURL, logger)
			if err != nil {
				return fmt.Errorf("connect to Postgres: %w", err)
			}
			defer repo.Close()

			counts, err := repo.StateCounts(ctx)
			if err != nil {
				return err
			}

			if len(counts) == 0 {
				fmt.Println("staging is empty")
				return nil
			}
			for _, state := range []string{"PENDING", "SYNCED", "FAILED", "PROMOTED"} {
				fmt.Printf("%-10s %d\n", state, counts[state])
			}
			return nil
		},
	}
	return cmd
}
