package db

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Guizzs26/boardsync/internal/models"
)

// PostgresRepository owns the connection pool for the sync store: staging
// tables the engine pushes from, production tables it promotes into.
type PostgresRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewPostgresRepository(ctx context.Context, connString string, logger *slog.Logger) (*PostgresRepository, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}

	p, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("postgres not responding: %w", err)
	}

	logger.Info("Connected to Postgres successfully")
	return &PostgresRepository{pool: p, logger: logger}, nil
}

// Pool exposes the underlying pool for the staging components, which manage
// their own connections and transactions.
func (r *PostgresRepository) Pool() *pgxpool.Pool {
	return r.pool
}

func (r *PostgresRepository) Close() {
	r.logger.Info("Closing Postgres connection pool")
	r.pool.Close()
}

func (r *PostgresRepository) builder() squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
}

// FetchPendingHeaders returns up to limit PENDING staged headers in the
// deterministic batch order (group, customer, order number, style, color) so
// a bounded pull is reproducible. An empty customer selects all customers.
func (r *PostgresRepository) FetchPendingHeaders(ctx context.Context, limit int, customer string) ([]models.OrderHeader, error) {
	q := r.builder().
		Select(
			"record_uuid", "customer_name", "order_number", "style", "color",
			"season", "delivery_month", "row_hash", "action_type", "sync_state",
			"COALESCE(external_item_id, '') AS external_item_id",
			"COALESCE(external_group_id, '') AS external_group_id",
			"group_name", "item_title",
			"COALESCE(sync_error, '') AS sync_error",
			"created_at", "sync_attempted_at", "sync_completed_at",
		).
		From("stg_order_headers").
		Where(squirrel.Eq{"sync_state": models.StatePending}).
		OrderBy("group_name", "customer_name", "order_number", "style", "color")

	if customer != "" {
		q = q.Where("UPPER(TRIM(customer_name)) = UPPER(TRIM(?))", customer)
	}
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build pending headers query: %w", err)
	}

	var headers []models.OrderHeader
	if err := pgxscan.Select(ctx, r.pool, &headers, sql, args...); err != nil {
		return nil, fmt.Errorf("fetch pending headers: %w", err)
	}
	return headers, nil
}

// FetchLinesByRecord cascades the full current line set for each header UUID.
// A header with no lines simply has no entry in the returned map.
func (r *PostgresRepository) FetchLinesByRecord(ctx context.Context, recordUUIDs []string) (map[string][]models.OrderLine, error) {
	if len(recordUUIDs) == 0 {
		return map[string][]models.OrderLine{}, nil
	}

	sql, args, err := r.builder().
		Select(
			"line_uuid", "record_uuid", "size_code", "qty", "row_hash",
			"action_type", "sync_state",
			"COALESCE(external_subitem_id, '') AS external_subitem_id",
			"COALESCE(external_parent_item_id, '') AS external_parent_item_id",
			"COALESCE(sync_error, '') AS sync_error",
			"created_at",
		).
		From("stg_order_lines").
		Where(squirrel.Eq{"record_uuid": recordUUIDs}).
		OrderBy("record_uuid", "size_code").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build lines query: %w", err)
	}

	var lines []models.OrderLine
	if err := pgxscan.Select(ctx, r.pool, &lines, sql, args...); err != nil {
		return nil, fmt.Errorf("fetch lines: %w", err)
	}

	byRecord := make(map[string][]models.OrderLine, len(recordUUIDs))
	for _, l := range lines {
		byRecord[l.RecordUUID] = append(byRecord[l.RecordUUID], l)
	}
	return byRecord, nil
}

// SetHeaderExternalID writes the board item id back to a header. The id is
// write-once: a header that already carries one is left untouched.
func (r *PostgresRepository) SetHeaderExternalID(ctx context.Context, recordUUID, itemID, groupID string) error {
	sql, args, err := r.builder().
		Update("stg_order_headers").
		Set("external_item_id", itemID).
		Set("external_group_id", groupID).
		Where(squirrel.Eq{"record_uuid": recordUUID}).
		Where("COALESCE(external_item_id, '') = ''").
		ToSql()
	if err != nil {
		return fmt.Errorf("build external id update: %w", err)
	}

	if _, err := r.pool.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("set external item id: %w", err)
	}
	return nil
}

// PropagateParentItemID copies a header's board item id onto its lines so
// they become pushable as sub-items.
func (r *PostgresRepository) PropagateParentItemID(ctx context.Context, recordUUID, itemID string) error {
	sql, args, err := r.builder().
		Update("stg_order_lines").
		Set("external_parent_item_id", itemID).
		Where(squirrel.Eq{"record_uuid": recordUUID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build parent id update: %w", err)
	}

	if _, err := r.pool.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("propagate parent item id: %w", err)
	}
	return nil
}

// SetLineExternalID writes a sub-item id back to a line, write-once.
func (r *PostgresRepository) SetLineExternalID(ctx context.Context, lineUUID, subitemID string) error {
	sql, args, err := r.builder().
		Update("stg_order_lines").
		Set("external_subitem_id", subitemID).
		Where(squirrel.Eq{"line_uuid": lineUUID}).
		Where("COALESCE(external_subitem_id, '') = ''").
		ToSql()
	if err != nil {
		return fmt.Errorf("build subitem id update: %w", err)
	}

	if _, err := r.pool.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("set external subitem id: %w", err)
	}
	return nil
}

// MarkHeaderState records a terminal per-run outcome for a header.
func (r *PostgresRepository) MarkHeaderState(ctx context.Context, recordUUID string, state models.SyncState, syncError string) error {
	q := r.builder().
		Update("stg_order_headers").
		Set("sync_state", state).
		Set("sync_error", syncError).
		Set("sync_attempted_at", time.Now().UTC()).
		Where(squirrel.Eq{"record_uuid": recordUUID})

	if state == models.StateSynced {
		q = q.Set("sync_completed_at", time.Now().UTC())
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build header state update: %w", err)
	}
	if _, err := r.pool.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("mark header %s: %w", state, err)
	}
	return nil
}

// MarkLineState records a terminal per-run outcome for a line.
func (r *PostgresRepository) MarkLineState(ctx context.Context, lineUUID string, state models.SyncState, syncError string) error {
	sql, args, err := r.builder().
		Update("stg_order_lines").
		Set("sync_state", state).
		Set("sync_error", syncError).
		Where(squirrel.Eq{"line_uuid": lineUUID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build line state update: %w", err)
	}
	if _, err := r.pool.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("mark line %s: %w", state, err)
	}
	return nil
}

// CountPending reports the current PENDING header backlog.
func (r *PostgresRepository) CountPending(ctx context.Context) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM stg_order_headers WHERE sync_state = 'PENDING'",
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending: %w", err)
	}
	return n, nil
}

// StateCounts reports staged headers per sync state, for the status command.
func (r *PostgresRepository) StateCounts(ctx context.Context) (map[string]int, error) {
	rows, err := r.pool.Query(ctx,
		"SELECT sync_state, COUNT(*) FROM stg_order_headers GROUP BY sync_state",
	)
	if err != nil {
		return nil, fmt.Errorf("count states: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("scan state count: %w", err)
		}
		counts[state] = n
	}
	return counts, rows.Err()
}
