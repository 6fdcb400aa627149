package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var hashColumns = []string{"customer_name", "order_number", "style", "color", "season", "qty"}

func sampleRow() map[string]string {
	return map[string]string{
		"customer_name": "ACME APPAREL",
		"order_number":  "PO-1001",
		"style":         "TEE-CLASSIC",
		"color":         "NAVY",
		"season":        "FW26",
		"qty":           "120",
	}
}

func TestRowHash_Deterministic(t *testing.T) {
	row := sampleRow()
	assert.Equal(t, RowHash(row, hashColumns), RowHash(row, hashColumns))

	// A fresh but equal map hashes identically.
	assert.Equal(t, RowHash(sampleRow(), hashColumns), RowHash(row, hashColumns))
}

func TestRowHash_SingleFieldMutationChangesHash(t *testing.T) {
	base := RowHash(sampleRow(), hashColumns)

	for _, col := range hashColumns {
		mutated := sampleRow()
		mutated[col] = mutated[col] + "X"
		assert.NotEqual(t, base, RowHash(mutated, hashColumns), "mutating %s must change the hash", col)
	}
}

func TestRowHash_IgnoresUndeclaredColumns(t *testing.T) {
	row := sampleRow()
	withNoise := sampleRow()
	withNoise["updated_by"] = "nightly-job"
	withNoise["loaded_at"] = "2026-08-30"

	assert.Equal(t, RowHash(row, hashColumns), RowHash(withNoise, hashColumns))
}

func TestRowHash_TrimsAndNullNormalizes(t *testing.T) {
	padded := sampleRow()
	padded["color"] = "  NAVY  "
	assert.Equal(t, RowHash(sampleRow(), hashColumns), RowHash(padded, hashColumns))

	missing := sampleRow()
	delete(missing, "season")
	blank := sampleRow()
	blank["season"] = ""
	assert.Equal(t, RowHash(blank, hashColumns), RowHash(missing, hashColumns))
}

func TestRowHash_ColumnOrderMatters(t *testing.T) {
	reversed := make([]string, len(hashColumns))
	for i, c := range hashColumns {
		reversed[len(hashColumns)-1-i] = c
	}
	assert.NotEqual(t, RowHash(sampleRow(), hashColumns), RowHash(sampleRow(), reversed))
}

func TestRecordUUID_StableAndScoped(t *testing.T) {
	a := RecordUUID("ACME", "PO-1001", "TEE", "NAVY")
	b := RecordUUID("ACME", "PO-1001", "TEE", "NAVY")
	require.Equal(t, a, b)

	// Canonicalization: case and padding do not fabricate new identities.
	assert.Equal(t, a, RecordUUID("acme ", " po-1001", "tee", "navy "))

	// A different customer with the same order number is a different record.
	assert.NotEqual(t, a, RecordUUID("OTHER", "PO-1001", "TEE", "NAVY"))
}

func TestLineUUID_ScopedUnderHeader(t *testing.T) {
	header := RecordUUID("ACME", "PO-1001", "TEE", "NAVY")

	m := LineUUID(header, "M")
	assert.Equal(t, m, LineUUID(header, "m "))
	assert.NotEqual(t, m, LineUUID(header, "L"))
	assert.NotEqual(t, m, LineUUID(RecordUUID("ACME", "PO-1002", "TEE", "NAVY"), "M"))
}

func TestDupTracker_FirstOccurrenceWins(t *testing.T) {
	tracker := NewDupTracker()

	require.True(t, tracker.Observe("ACME|PO-1|TEE|NAVY", "orders_current"))
	require.False(t, tracker.Observe("ACME|PO-1|TEE|NAVY", "orders_archive"))
	require.True(t, tracker.Observe("ACME|PO-2|TEE|NAVY", "orders_archive"))

	dups := tracker.Duplicates()
	require.Len(t, dups, 1)
	assert.Equal(t, "ACME|PO-1|TEE|NAVY", dups[0].Key)
	assert.Equal(t, "orders_current", dups[0].FirstSource)
	assert.Equal(t, "orders_archive", dups[0].DupSource)
	assert.Equal(t, 2, tracker.Count())
}
