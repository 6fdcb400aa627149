package staging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Guizzs26/boardsync/pkg/metrics"
)

const (
	StagingHeaders = "stg_order_headers"
	StagingLines   = "stg_order_lines"
	ProdHeaders    = "order_headers"
	ProdLines      = "order_lines"
)

// stagingOnlyColumns never travel into production tables.
var stagingOnlyColumns = map[string]bool{
	"stg_status":       true,
	"stg_batch_id":     true,
	"stg_created_date": true,
}

// PromoteResult reports one promotion pass.
type PromoteResult struct {
	Headers int
	Lines   int
}

// Promoter moves successfully synced staging rows into the production tables
// and removes them from staging afterwards. A record is only promotable when
// its sync state is SYNCED and its external id is populated: promotion is the
// durable "this exists on the board" signal.
type Promoter struct {
	pool      *pgxpool.Pool
	inspector *Inspector
	logger    *slog.Logger
}

func NewPromoter(pool *pgxpool.Pool, inspector *Inspector, logger *slog.Logger) *Promoter {
	return &Promoter{pool: pool, inspector: inspector, logger: logger}
}

// Promote runs one all-or-nothing promotion pass for headers and lines.
// Any failure rolls the whole transaction back and reports zero promoted.
func (p *Promoter) Promote(ctx context.Context) (PromoteResult, error) {
	headerCols, err := p.sharedColumns(ctx, StagingHeaders, ProdHeaders)
	if err != nil {
		return PromoteResult{}, err
	}
	lineCols, err := p.sharedColumns(ctx, StagingLines, ProdLines)
	if err != nil {
		return PromoteResult{}, err
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return PromoteResult{}, fmt.Errorf("begin promotion tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Headers promote first: by the time lines run, their parents are either
	// in production already or freshly marked PROMOTED in staging, which is
	// exactly what the line predicate checks.
	headers, err := p.promoteTable(ctx, tx, StagingHeaders, ProdHeaders, headerCols, "record_uuid", "external_item_id", promotableHeaders())
	if err != nil {
		return PromoteResult{}, fmt.Errorf("promote headers: %w", err)
	}

	lines, err := p.promoteTable(ctx, tx, StagingLines, ProdLines, lineCols, "line_uuid", "external_subitem_id", promotableLines())
	if err != nil {
		return PromoteResult{}, fmt.Errorf("promote lines: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return PromoteResult{}, fmt.Errorf("commit promotion: %w", err)
	}

	metrics.RowsPromoted.Add(float64(headers + lines))
	p.logger.Info("Promotion complete", "headers", headers, "lines", lines)
	return PromoteResult{Headers: headers, Lines: lines}, nil
}

// promotableHeaders matches staged headers that landed on the board: synced
// and carrying an external item id. The staging table is aliased as s in
// every statement the predicate is spliced into.
func promotableHeaders() string {
	return "s.sync_state = 'SYNCED' AND COALESCE(s.external_item_id, '') <> ''"
}

// promotableLines additionally requires the parent header to exist: either
// promoted in this same pass (headers run first and are already marked
// PROMOTED in staging) or promoted by an earlier run and since cleaned out
// of staging. A synced line under a failed header stays behind and retries
// with its family instead of landing in production as an orphan.
func promotableLines() string {
	return `s.sync_state = 'SYNCED' AND COALESCE(s.external_subitem_id, '') <> ''
		AND (
			EXISTS (
				SELECT 1 FROM stg_order_headers h
				WHERE h.record_uuid = s.record_uuid
				  AND h.sync_state IN ('SYNCED', 'PROMOTED')
				  AND COALESCE(h.external_item_id, '') <> ''
			)
			OR EXISTS (
				SELECT 1 FROM order_headers p
				WHERE p.record_uuid = s.record_uuid
			)
		)`
}

// buildUpsertSQL assembles the promotion upsert. External ids already present
// in production are never overwritten.
func buildUpsertSQL(stgTable, prodTable string, cols []string, pkCol, externalIDCol, promotable string) string {
	colList := strings.Join(cols, ", ")
	srcList := "s." + strings.Join(cols, ", s.")

	setClauses := make([]string, 0, len(cols))
	for _, c := range cols {
		if c == pkCol {
			continue
		}
		if c == externalIDCol {
			// immutable once set
			setClauses = append(setClauses, fmt.Sprintf(
				"%s = CASE WHEN COALESCE(%s.%s, '') = '' THEN EXCLUDED.%s ELSE %s.%s END",
				c, prodTable, c, c, prodTable, c,
			))
			continue
		}
		setClauses = append(setClauses, fmt.Sprintf("%s = EXCLUDED.%s", c, c))
	}

	return fmt.Sprintf(`
		INSERT INTO %s (%s)
		SELECT %s FROM %s s
		WHERE %s
		ON CONFLICT (%s) DO UPDATE SET %s`,
		prodTable, colList, srcList, stgTable, promotable, pkCol, strings.Join(setClauses, ", "),
	)
}

// promoteTable upserts promotable staging rows into the production table,
// validates the move by re-counting in the destination, then flips the
// staging rows to PROMOTED.
func (p *Promoter) promoteTable(ctx context.Context, tx pgx.Tx, stgTable, prodTable string, cols []string, pkCol, externalIDCol, promotable string) (int, error) {
	upsert := buildUpsertSQL(stgTable, prodTable, cols, pkCol, externalIDCol, promotable)

	tag, err := tx.Exec(ctx, upsert)
	if err != nil {
		return 0, fmt.Errorf("upsert into %s: %w", prodTable, err)
	}
	moved := int(tag.RowsAffected())

	// Validation: every promotable staging pk must now exist in production.
	var staged, landed int
	countStaged := fmt.Sprintf("SELECT COUNT(*) FROM %s s WHERE %s", stgTable, promotable)
	countLanded := fmt.Sprintf(
		"SELECT COUNT(*) FROM %s WHERE %s IN (SELECT s.%s FROM %s s WHERE %s)",
		prodTable, pkCol, pkCol, stgTable, promotable,
	)
	if err := tx.QueryRow(ctx, countStaged).Scan(&staged); err != nil {
		return 0, fmt.Errorf("count staged in %s: %w", stgTable, err)
	}
	if err := tx.QueryRow(ctx, countLanded).Scan(&landed); err != nil {
		return 0, fmt.Errorf("count landed in %s: %w", prodTable, err)
	}
	if landed != staged {
		return 0, fmt.Errorf("promotion validation failed for %s: staged %d, landed %d", prodTable, staged, landed)
	}

	mark := fmt.Sprintf(
		"UPDATE %s s SET sync_state = 'PROMOTED', stg_status = 'PROMOTED' WHERE %s", stgTable, promotable,
	)
	if _, err := tx.Exec(ctx, mark); err != nil {
		return 0, fmt.Errorf("mark promoted in %s: %w", stgTable, err)
	}

	return moved, nil
}

// Cleanup deletes staging rows that reached a terminal PROMOTED or NOOP
// status. Pending, in-flight and failed rows are never touched here.
func (p *Promoter) Cleanup(ctx context.Context) (int, error) {
	var total int
	for _, table := range []string{StagingLines, StagingHeaders} {
		tag, err := p.pool.Exec(ctx, fmt.Sprintf(
			"DELETE FROM %s WHERE stg_status IN ('PROMOTED', 'NOOP')", table,
		))
		if err != nil {
			return total, fmt.Errorf("cleanup %s: %w", table, err)
		}
		total += int(tag.RowsAffected())
	}
	if total > 0 {
		p.logger.Info("Staging cleanup complete", "deleted", total)
	}
	return total, nil
}

// ExpireRetention removes failed staging rows older than the retention
// window. This is the only path that deletes un-promoted rows, and it logs
// every expiry so nothing disappears silently.
func (p *Promoter) ExpireRetention(ctx context.Context, retentionDays int) (int, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	var total int
	for _, table := range []string{StagingLines, StagingHeaders} {
		tag, err := p.pool.Exec(ctx, fmt.Sprintf(
			`DELETE FROM %s
			 WHERE sync_state = 'FAILED'
			   AND stg_created_date < NOW() - make_interval(days => $1)`, table,
		), retentionDays)
		if err != nil {
			return total, fmt.Errorf("retention expiry %s: %w", table, err)
		}
		if n := int(tag.RowsAffected()); n > 0 {
			p.logger.Warn("Retention expiry removed failed staging rows", "table", table, "count", n)
			total += n
		}
	}
	return total, nil
}

// sharedColumns intersects staging and production schemas, dropping the
// staging bookkeeping columns.
func (p *Promoter) sharedColumns(ctx context.Context, stgTable, prodTable string) ([]string, error) {
	stg, err := p.inspector.Inspect(ctx, stgTable)
	if err != nil {
		return nil, err
	}
	prod, err := p.inspector.Inspect(ctx, prodTable)
	if err != nil {
		return nil, err
	}

	var cols []string
	for _, c := range stg.Columns {
		if stagingOnlyColumns[strings.ToLower(c.Name)] {
			continue
		}
		if _, ok := prod.Column(c.Name); ok {
			cols = append(cols, c.Name)
		}
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("no shared columns between %s and %s", stgTable, prodTable)
	}
	return cols, nil
}
