package staging

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Guizzs26/boardsync/pkg/metrics"
)

// Row is one normalized record headed for staging. Values are already
// NULL-normalized: a missing key and an empty string both mean NULL.
type Row map[string]string

// LoadResult aggregates the outcome of one bulk load. Chunk failures are
// isolated: a failing chunk contributes its row count to Failed and its error
// to ChunkErrors without blocking sibling chunks.
type LoadResult struct {
	Loaded      int
	Failed      int
	ChunkErrors []error
}

// Loader bulk-loads normalized rows into a staging table in fixed-size
// chunks across a bounded pool of workers. Each worker owns an independent
// connection and commits its own chunks, so a chunk either lands whole or
// not at all.
type Loader struct {
	pool      *pgxpool.Pool
	inspector *Inspector
	chunkSize int
	workers   int
	logger    *slog.Logger
}

func NewLoader(pool *pgxpool.Pool, inspector *Inspector, chunkSize, workers int, logger *slog.Logger) *Loader {
	if workers < 1 {
		workers = 1
	}
	return &Loader{
		pool:      pool,
		inspector: inspector,
		chunkSize: chunkSize,
		workers:   workers,
		logger:    logger,
	}
}

// Load writes rows into table using the COPY protocol. The column list is the
// intersection of the keys present in the rows and the discovered schema, in
// sorted order so generated statements are deterministic. Columns the
// destination does not know are skipped, which keeps loads schema-tolerant.
func (l *Loader) Load(ctx context.Context, table string, batchID string, rows []Row) (LoadResult, error) {
	if len(rows) == 0 {
		return LoadResult{}, nil
	}

	schema, err := l.inspector.Inspect(ctx, table)
	if err != nil {
		return LoadResult{}, err
	}

	columns := l.resolveColumns(schema, rows)
	if len(columns) == 0 {
		return LoadResult{}, fmt.Errorf("no loadable columns for table %s", table)
	}

	chunks := chunkRows(rows, l.chunkSize)
	l.logger.Info("Staging load starting",
		"table", table,
		"rows", len(rows),
		"chunks", len(chunks),
		"workers", l.workers,
	)

	type chunkOutcome struct {
		loaded int
		failed int
		err    error
	}

	jobs := make(chan []Row)
	outcomes := make(chan chunkOutcome, len(chunks))

	var wg sync.WaitGroup
	for w := 0; w < l.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for chunk := range jobs {
				n, err := l.loadChunk(ctx, table, batchID, schema, columns, chunk)
				if err != nil {
					l.logger.Error("Staging chunk failed", "table", table, "rows", len(chunk), "error", err)
					metrics.StagingRowsLoaded.WithLabelValues("failed").Add(float64(len(chunk)))
					outcomes <- chunkOutcome{failed: len(chunk), err: err}
					continue
				}
				metrics.StagingRowsLoaded.WithLabelValues("loaded").Add(float64(n))
				outcomes <- chunkOutcome{loaded: n}
			}
		}()
	}

	for _, chunk := range chunks {
		jobs <- chunk
	}
	close(jobs)
	wg.Wait()
	close(outcomes)

	var result LoadResult
	for o := range outcomes {
		result.Loaded += o.loaded
		result.Failed += o.failed
		if o.err != nil {
			result.ChunkErrors = append(result.ChunkErrors, o.err)
		}
	}

	l.logger.Info("Staging load finished",
		"table", table,
		"loaded", result.Loaded,
		"failed", result.Failed,
	)
	return result, nil
}

// loadChunk copies one chunk inside its own transaction on a dedicated
// connection. Values are coerced through the column's cached variant; a
// coercion failure aborts the chunk, never part of it.
func (l *Loader) loadChunk(ctx context.Context, table, batchID string, schema *TableSchema, columns []string, chunk []Row) (int, error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	values := make([][]any, 0, len(chunk))
	for _, row := range chunk {
		rowVals := make([]any, len(columns))
		for i, col := range columns {
			if col == "stg_batch_id" {
				rowVals[i] = batchID
				continue
			}
			def, _ := schema.Column(col)
			v, err := def.Type.Coerce(row[col])
			if err != nil {
				return 0, fmt.Errorf("coerce column %s: %w", col, err)
			}
			rowVals[i] = v
		}
		values = append(values, rowVals)
	}

	tx, err := conn.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin chunk tx: %w", err)
	}
	defer tx.Rollback(ctx)

	n, err := tx.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromRows(values))
	if err != nil {
		return 0, fmt.Errorf("copy into %s: %w", table, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit chunk: %w", err)
	}
	return int(n), nil
}

// resolveColumns intersects row keys with the discovered schema and always
// carries stg_batch_id when the destination has it.
func (l *Loader) resolveColumns(schema *TableSchema, rows []Row) []string {
	present := make(map[string]bool)
	for _, row := range rows {
		for k := range row {
			present[k] = true
		}
	}
	if _, ok := schema.Column("stg_batch_id"); ok {
		present["stg_batch_id"] = true
	}

	var columns []string
	for k := range present {
		if _, ok := schema.Column(k); ok {
			columns = append(columns, k)
		}
	}
	sort.Strings(columns)
	return columns
}

func chunkRows(rows []Row, size int) [][]Row {
	if size < 1 {
		size = 1
	}
	chunks := make([][]Row, 0, (len(rows)+size-1)/size)
	for start := 0; start < len(rows); start += size {
		end := min(start+size, len(rows))
		chunks = append(chunks, rows[start:end])
	}
	return chunks
}
