package main

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Guizzs26/boardsync/internal/config"
	"github.com/Guizzs26/boardsync/internal/db"
	"github.com/Guizzs26/boardsync/internal/detector"
	"github.com/Guizzs26/boardsync/internal/source"
	"github.com/Guizzs26/boardsync/internal/staging"
)

func newIngestCmd(cfg *config.Config, logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Read legacy source tables, load staging, and classify changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.FirebirdURL == "" {
				return fmt.Errorf("FIREBIRD_URL is not configured")
			}

			ctx := cmd.Context()
			logger.Info("🔧 Initializing legacy ingestion...")

			repo, err := db.NewPostgresRepository(ctx, cfg.DatabaseURL, logger)
			if err != nil {
				return fmt.Errorf("connect to Postgres: %w", err)
			}
			defer repo.Close()

			src, err := source.NewFirebirdSource(cfg.FirebirdURL, logger)
			if err != nil {
				return fmt.Errorf("connect to Firebird: %w", err)
			}
			defer src.Close()

			ingestor := source.NewIngestor(src, cfg.Mapping, logger)
			result, err := ingestor.Ingest(ctx)
			if err != nil {
				return fmt.Errorf("ingestion pass: %w", err)
			}

			inspector := staging.NewInspector(repo.Pool())
			loader := staging.NewLoader(repo.Pool(), inspector, cfg.ChunkSize, cfg.LoadWorkers, logger)

			batchID := uuid.NewString()
			headerLoad, err := loader.Load(ctx, staging.StagingHeaders, batchID, result.Headers)
			if err != nil {
				return fmt.Errorf("load staged headers: %w", err)
			}
			lineLoad, err := loader.Load(ctx, staging.StagingLines, batchID, result.Lines)
			if err != nil {
				return fmt.Errorf("load staged lines: %w", err)
			}

			merger := detector.NewMerger(repo.Pool(), logger)
			headerMerge, err := merger.MergeHeaders(ctx)
			if err != nil {
				return err
			}
			lineMerge, err := merger.MergeLines(ctx)
			if err != nil {
				return err
			}

			logger.Info("✅ Ingestion complete",
				"batch_id", batchID,
				"headers_loaded", headerLoad.Loaded,
				"lines_loaded", lineLoad.Loaded,
				"load_failures", headerLoad.Failed+lineLoad.Failed,
				"header_inserts", headerMerge.Inserts,
				"header_updates", headerMerge.Updates,
				"header_noops", headerMerge.Noops,
				"line_inserts", lineMerge.Inserts,
				"line_updates", lineMerge.Updates,
				"line_noops", lineMerge.Noops,
				"duplicates_reported", len(result.Duplicates),
			)

			if headerLoad.Failed+lineLoad.Failed > 0 {
				return fmt.Errorf("%d rows failed to load", headerLoad.Failed+lineLoad.Failed)
			}
			return nil
		},
	}
	return cmd
}
