package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleMappingYAML = `
header_hash_columns: [customer_name, order_number, style, color, season]
line_hash_columns: [customer_name, order_number, style, color, size_code, qty]
group_name_chain: [season, delivery_month]
title_chain: [customer_name, order_number, style, color]
header_field_ids:
  customer_name: text_customer
  order_number: text_po
line_field_ids:
  size_code: text_size
  qty: numbers_qty
source_tables: [orders_current, orders_archive]
`

func writeMapping(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mapping.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadMapping(t *testing.T) {
	m, err := LoadMapping(writeMapping(t, sampleMappingYAML))
	require.NoError(t, err)

	assert.Equal(t, []string{"customer_name", "order_number", "style", "color", "season"}, m.HeaderHashColumns)
	assert.Equal(t, []string{"season", "delivery_month"}, m.GroupNameChain)
	assert.Equal(t, "text_customer", m.HeaderFieldIDs["customer_name"])
	assert.Equal(t, []string{"orders_current", "orders_archive"}, m.SourceTables)

	// Optional knobs take their defaults.
	assert.Equal(t, "UNSCHEDULED", m.GroupNameFallback)
	assert.Equal(t, " ", m.TitleSeparator)
}

func TestLoadMapping_MissingFile(t *testing.T) {
	_, err := LoadMapping(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read mapping file")
}

func TestLoadMapping_MalformedYAML(t *testing.T) {
	_, err := LoadMapping(writeMapping(t, "header_hash_columns: [unclosed"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse mapping file")
}

func TestMappingValidate(t *testing.T) {
	valid := func() *Mapping {
		return &Mapping{
			HeaderHashColumns: []string{"customer_name"},
			LineHashColumns:   []string{"size_code"},
			HeaderFieldIDs:    map[string]string{"customer_name": "text_customer"},
			LineFieldIDs:      map[string]string{"qty": "numbers_qty"},
		}
	}

	require.NoError(t, valid().Validate())

	m := valid()
	m.HeaderHashColumns = nil
	assert.ErrorContains(t, m.Validate(), "header_hash_columns")

	m = valid()
	m.LineHashColumns = nil
	assert.ErrorContains(t, m.Validate(), "line_hash_columns")

	m = valid()
	m.HeaderFieldIDs = nil
	assert.ErrorContains(t, m.Validate(), "header_field_ids")

	m = valid()
	m.LineFieldIDs = nil
	assert.ErrorContains(t, m.Validate(), "line_field_ids")
}
