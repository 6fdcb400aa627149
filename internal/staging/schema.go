package staging

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// ColumnKind tags the coercion variant selected for a destination column.
type ColumnKind int

const (
	KindText ColumnKind = iota
	KindInteger
	KindDecimal
	KindDate
)

// ColumnType is a tagged variant carrying its own coercion function. The
// variant is selected once at schema-discovery time and cached, so load-time
// coercion is a direct call with no type dispatch.
type ColumnType struct {
	Kind      ColumnKind
	Precision int
	Scale     int
}

// Coerce converts a normalized string value into a driver-level value.
// Blank input always coerces to NULL regardless of kind.
func (t ColumnType) Coerce(raw string) (any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	switch t.Kind {
	case KindInteger:
		d, err := decimal.NewFromString(raw)
		if err != nil || !d.IsInteger() {
			return nil, fmt.Errorf("not an integer: %q", raw)
		}
		return d.IntPart(), nil
	case KindDecimal:
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("not a decimal: %q", raw)
		}
		return d.Round(int32(t.Scale)), nil
	case KindDate:
		for _, layout := range []string{"2006-01-02", time.RFC3339, "2006-01-02 15:04:05", "01/02/2006"} {
			if ts, err := time.Parse(layout, raw); err == nil {
				return ts, nil
			}
		}
		return nil, fmt.Errorf("not a date: %q", raw)
	default:
		return raw, nil
	}
}

// ColumnDef describes one destination column as discovered at runtime.
type ColumnDef struct {
	Name     string `db:"column_name"`
	DataType string `db:"data_type"`
	Position int    `db:"ordinal_position"`

	Type ColumnType `db:"-"`
}

// TableSchema is the discovered shape of one destination table. Columns keep
// their ordinal order so generated statements are deterministic.
type TableSchema struct {
	Table   string
	Columns []ColumnDef

	byName map[string]*ColumnDef
}

// Column looks up a column definition by name (case-insensitive).
func (s *TableSchema) Column(name string) (*ColumnDef, bool) {
	c, ok := s.byName[strings.ToLower(name)]
	return c, ok
}

// ColumnNames returns the discovered column names in ordinal order.
func (s *TableSchema) ColumnNames() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

// Inspector discovers destination-table schemas from information_schema so
// loads tolerate additive schema changes across environments. Discovery runs
// once per table per process; results are cached.
type Inspector struct {
	pool  *pgxpool.Pool
	mu    sync.Mutex
	cache map[string]*TableSchema
}

func NewInspector(pool *pgxpool.Pool) *Inspector {
	return &Inspector{
		pool:  pool,
		cache: make(map[string]*TableSchema),
	}
}

// Inspect returns the schema for table, discovering it on first use.
// An unknown table is a configuration error: it aborts before any load.
func (i *Inspector) Inspect(ctx context.Context, table string) (*TableSchema, error) {
	i.mu.Lock()
	if s, ok := i.cache[table]; ok {
		i.mu.Unlock()
		return s, nil
	}
	i.mu.Unlock()

	query := `
		SELECT column_name, data_type, ordinal_position
		FROM information_schema.columns
		WHERE table_schema = 'public' AND table_name = $1
		ORDER BY ordinal_position
	`

	var cols []ColumnDef
	if err := pgxscan.Select(ctx, i.pool, &cols, query, table); err != nil {
		return nil, fmt.Errorf("inspect table %s: %w", table, err)
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("table %s has no discoverable columns (missing schema?)", table)
	}

	for idx := range cols {
		cols[idx].Type = mapDataType(cols[idx].DataType)
	}

	schema := &TableSchema{
		Table:   table,
		Columns: cols,
		byName:  make(map[string]*ColumnDef, len(cols)),
	}
	for idx := range schema.Columns {
		schema.byName[strings.ToLower(schema.Columns[idx].Name)] = &schema.Columns[idx]
	}

	i.mu.Lock()
	i.cache[table] = schema
	i.mu.Unlock()

	return schema, nil
}

// mapDataType selects the coercion variant for a Postgres data type. Anything
// unrecognized falls back to text, which round-trips safely.
func mapDataType(dataType string) ColumnType {
	switch strings.ToLower(dataType) {
	case "integer", "bigint", "smallint":
		return ColumnType{Kind: KindInteger}
	case "numeric", "decimal", "real", "double precision":
		return ColumnType{Kind: KindDecimal, Precision: 18, Scale: 4}
	case "date", "timestamp without time zone", "timestamp with time zone":
		return ColumnType{Kind: KindDate}
	default:
		return ColumnType{Kind: KindText}
	}
}
