// Package detector classifies staged rows against the promoted target tables
// by comparing content hashes, and applies the derivation rules that make
// rows board-ready. Classification is set-based: three statements per table
// instead of per-row loops, so re-running on unchanged data is a no-op.
package detector

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// MergeResult reports one classification pass over a staging table.
type MergeResult struct {
	Inserts int
	Updates int
	Noops   int
}

func (r MergeResult) Total() int { return r.Inserts + r.Updates + r.Noops }

// Merger runs the staging-vs-target comparison for headers and lines.
type Merger struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewMerger(pool *pgxpool.Pool, logger *slog.Logger) *Merger {
	return &Merger{pool: pool, logger: logger}
}

// MergeHeaders classifies staged headers:
//   - no target row with the same business key        -> INSERT, PENDING
//   - target row exists, row_hash differs             -> UPDATE, PENDING
//   - target row exists, row_hash identical           -> NOOP, not re-queued
//
// UPDATE rows inherit the target's external item/group ids so a later push
// updates the existing board item instead of creating a duplicate.
func (m *Merger) MergeHeaders(ctx context.Context) (MergeResult, error) {
	return m.classify(ctx, "headers", headerClassifyStatements())
}

func headerClassifyStatements() []classifyStmt {
	const keyMatch = `
		UPPER(TRIM(t.customer_name)) = UPPER(TRIM(s.customer_name))
		AND UPPER(TRIM(t.order_number)) = UPPER(TRIM(s.order_number))
		AND UPPER(TRIM(t.style)) = UPPER(TRIM(s.style))
		AND UPPER(TRIM(t.color)) = UPPER(TRIM(s.color))`

	return []classifyStmt{
		{
			name: "insert",
			sql: `
				UPDATE stg_order_headers s
				SET action_type = 'INSERT', sync_state = 'PENDING', stg_status = 'CLASSIFIED'
				WHERE s.stg_status = 'LOADED'
				  AND NOT EXISTS (SELECT 1 FROM order_headers t WHERE ` + keyMatch + `)`,
		},
		{
			name: "update",
			sql: `
				UPDATE stg_order_headers s
				SET action_type = 'UPDATE', sync_state = 'PENDING', stg_status = 'CLASSIFIED',
				    external_item_id = t.external_item_id,
				    external_group_id = t.external_group_id
				FROM order_headers t
				WHERE s.stg_status = 'LOADED' AND ` + keyMatch + ` AND t.row_hash <> s.row_hash`,
		},
		{
			name: "noop",
			sql: `
				UPDATE stg_order_headers s
				SET stg_status = 'NOOP'
				FROM order_headers t
				WHERE s.stg_status = 'LOADED' AND ` + keyMatch + ` AND t.row_hash = s.row_hash`,
		},
	}
}

// MergeLines classifies staged lines independently of their headers, keyed by
// (record_uuid, size_code). Both UPDATE and NOOP rows inherit the existing
// subitem id: an unchanged line still rides along when its header is
// re-pushed, and it must update the sub-item already on the board rather
// than create a second one.
func (m *Merger) MergeLines(ctx context.Context) (MergeResult, error) {
	return m.classify(ctx, "lines", lineClassifyStatements())
}

func lineClassifyStatements() []classifyStmt {
	const keyMatch = `
		t.record_uuid = s.record_uuid
		AND UPPER(TRIM(t.size_code)) = UPPER(TRIM(s.size_code))`

	return []classifyStmt{
		{
			name: "insert",
			sql: `
				UPDATE stg_order_lines s
				SET action_type = 'INSERT', sync_state = 'PENDING', stg_status = 'CLASSIFIED'
				WHERE s.stg_status = 'LOADED'
				  AND NOT EXISTS (SELECT 1 FROM order_lines t WHERE ` + keyMatch + `)`,
		},
		{
			name: "update",
			sql: `
				UPDATE stg_order_lines s
				SET action_type = 'UPDATE', sync_state = 'PENDING', stg_status = 'CLASSIFIED',
				    external_subitem_id = t.external_subitem_id
				FROM order_lines t
				WHERE s.stg_status = 'LOADED' AND ` + keyMatch + ` AND t.row_hash <> s.row_hash`,
		},
		{
			name: "noop",
			sql: `
				UPDATE stg_order_lines s
				SET stg_status = 'NOOP',
				    external_subitem_id = t.external_subitem_id
				FROM order_lines t
				WHERE s.stg_status = 'LOADED' AND ` + keyMatch + ` AND t.row_hash = s.row_hash`,
		},
	}
}

type classifyStmt struct {
	name string
	sql  string
}

// classify runs the three statements in one transaction so a merge pass is
// atomic: either every staged row gets a classification or none do.
func (m *Merger) classify(ctx context.Context, kind string, statements []classifyStmt) (MergeResult, error) {
	tx, err := m.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return MergeResult{}, fmt.Errorf("begin merge tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var result MergeResult
	for _, stmt := range statements {
		tag, err := tx.Exec(ctx, stmt.sql)
		if err != nil {
			return MergeResult{}, fmt.Errorf("merge %s (%s): %w", kind, stmt.name, err)
		}
		n := int(tag.RowsAffected())
		switch stmt.name {
		case "insert":
			result.Inserts = n
		case "update":
			result.Updates = n
		case "noop":
			result.Noops = n
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return MergeResult{}, fmt.Errorf("commit merge: %w", err)
	}

	m.logger.Info("Merge pass complete",
		"kind", kind,
		"inserts", result.Inserts,
		"updates", result.Updates,
		"noops", result.Noops,
	)
	return result, nil
}
