// Package source reads raw order rows out of the legacy Firebird ERP. Text
// columns arrive WIN1252-encoded and are normalized to trimmed UTF-8; NULLs
// and blanks both normalize to the empty string so downstream hashing sees
// one canonical shape.
package source

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/nakagami/firebirdsql"

	"github.com/Guizzs26/boardsync/internal/staging"
)

// FirebirdSource owns the connection to one legacy ERP database.
type FirebirdSource struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewFirebirdSource opens a conservative pool against Firebird 2.5. Legacy
// servers tolerate few connections, so the pool stays at one.
func NewFirebirdSource(connString string, logger *slog.Logger) (*FirebirdSource, error) {
	db, err := sql.Open("firebirdsql", connString)
	if err != nil {
		return nil, fmt.Errorf("open firebird connection: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("firebird ping failed: %w", err)
	}

	logger.Info("Connected to Firebird successfully", "dialect", 3)
	return &FirebirdSource{db: db, logger: logger}, nil
}

// ReadTable streams every row of one source table as a normalized record.
// Column names are lower-cased to match the staging schema convention.
func (s *FirebirdSource) ReadTable(ctx context.Context, table string) ([]staging.Row, error) {
	query := fmt.Sprintf("SELECT * FROM %s", strings.ToUpper(table))

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query source table %s: %w", table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns of %s: %w", table, err)
	}

	var result []staging.Row
	values := make([]any, len(cols))
	scanTargets := make([]any, len(cols))
	for i := range values {
		scanTargets[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(scanTargets...); err != nil {
			return nil, fmt.Errorf("scan row of %s: %w", table, err)
		}
		row := make(staging.Row, len(cols))
		for i, col := range cols {
			row[strings.ToLower(col)] = normalizeValue(values[i])
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", table, err)
	}

	s.logger.Debug("Source table read", "table", table, "rows", len(result))
	return result, nil
}

// Close shuts down the source connection pool.
func (s *FirebirdSource) Close() error {
	s.logger.Info("Closing Firebird connection pool")
	return s.db.Close()
}

// normalizeValue converts any driver value to the canonical string form:
// NULL becomes "", byte slices are decoded from WIN1252, timestamps render
// as dates, and everything is trimmed.
func normalizeValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case []byte:
		return DecodeText(val)
	case string:
		return strings.TrimSpace(val)
	case time.Time:
		return val.Format("2006-01-02")
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", val))
	}
}
