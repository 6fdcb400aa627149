package source

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Guizzs26/boardsync/internal/config"
	"github.com/Guizzs26/boardsync/internal/detector"
	"github.com/Guizzs26/boardsync/internal/identity"
	"github.com/Guizzs26/boardsync/internal/models"
	"github.com/Guizzs26/boardsync/internal/staging"
)

// TableReader is the contract the ingestor needs from a source database.
type TableReader interface {
	ReadTable(ctx context.Context, table string) ([]staging.Row, error)
}

// IngestResult reports one ingestion pass.
type IngestResult struct {
	Headers    []staging.Row
	Lines      []staging.Row
	Duplicates []identity.Duplicate
}

// Ingestor turns raw legacy rows into staging-ready header and line records.
// Source tables are read in configured precedence order; when two sources
// disagree on a business key, the first occurrence wins and every later one
// is reported, never silently dropped.
type Ingestor struct {
	reader  TableReader
	mapping *config.Mapping
	logger  *slog.Logger
}

func NewIngestor(reader TableReader, mapping *config.Mapping, logger *slog.Logger) *Ingestor {
	return &Ingestor{reader: reader, mapping: mapping, logger: logger}
}

// Ingest reads every configured source table and assembles normalized,
// identified, hashed staging rows. One raw row is one size breakdown; the
// distinct natural keys become headers, the size rows become their lines.
func (i *Ingestor) Ingest(ctx context.Context) (*IngestResult, error) {
	if len(i.mapping.SourceTables) == 0 {
		return nil, fmt.Errorf("no source_tables configured")
	}

	headerDups := identity.NewDupTracker()
	lineDups := identity.NewDupTracker()
	headersByKey := make(map[string]staging.Row)
	var headerOrder []string
	var lines []staging.Row
	var deriver *detector.Deriver

	for _, table := range i.mapping.SourceTables {
		raw, err := i.reader.ReadTable(ctx, table)
		if err != nil {
			return nil, fmt.Errorf("read source %s: %w", table, err)
		}
		if len(raw) == 0 {
			continue
		}

		// Derivation chains are validated against the first table's shape
		// before any row is assembled; a bad chain aborts the whole pass.
		if deriver == nil {
			cols := make([]string, 0, len(raw[0]))
			for c := range raw[0] {
				cols = append(cols, c)
			}
			deriver, err = detector.NewDeriver(i.mapping, cols)
			if err != nil {
				return nil, err
			}
		}

		for _, row := range raw {
			key := models.CanonicalKey(row["customer_name"], row["order_number"], row["style"], row["color"])
			recordUUID := identity.RecordUUID(row["customer_name"], row["order_number"], row["style"], row["color"])

			if existing, ok := headersByKey[key]; ok {
				// Same key from a different source table is a conflict;
				// within its own table it is just another size row.
				if existing["stg_source_table"] != table {
					headerDups.Observe(key, table)
					continue
				}
			} else {
				headerDups.Observe(key, table)
				header := staging.Row{
					"record_uuid":      recordUUID,
					"customer_name":    row["customer_name"],
					"order_number":     row["order_number"],
					"style":            row["style"],
					"color":            row["color"],
					"season":           row["season"],
					"delivery_month":   row["delivery_month"],
					"group_name":       deriver.GroupName(row),
					"item_title":       deriver.Title(row),
					"row_hash":         identity.RowHash(row, i.mapping.HeaderHashColumns),
					"stg_status":       "LOADED",
					"stg_source_table": table,
				}
				headersByKey[key] = header
				headerOrder = append(headerOrder, key)
			}

			lineKey := key + "|" + row["size_code"]
			if !lineDups.Observe(lineKey, table) {
				continue
			}
			lines = append(lines, staging.Row{
				"line_uuid":   identity.LineUUID(recordUUID, row["size_code"]),
				"record_uuid": recordUUID,
				"size_code":   row["size_code"],
				"qty":         row["qty"],
				"row_hash":    identity.RowHash(row, i.mapping.LineHashColumns),
				"stg_status":  "LOADED",
			})
		}
	}

	headers := make([]staging.Row, 0, len(headerOrder))
	for _, key := range headerOrder {
		h := headersByKey[key]
		delete(h, "stg_source_table") // bookkeeping only, not a staging column
		headers = append(headers, h)
	}

	dups := append(headerDups.Duplicates(), lineDups.Duplicates()...)
	for _, d := range dups {
		i.logger.Warn("Duplicate business key in ingestion pass",
			"key", d.Key,
			"first_source", d.FirstSource,
			"duplicate_source", d.DupSource,
		)
	}

	i.logger.Info("Ingestion pass assembled",
		"headers", len(headers),
		"lines", len(lines),
		"duplicates", len(dups),
	)
	return &IngestResult{Headers: headers, Lines: lines, Duplicates: dups}, nil
}
