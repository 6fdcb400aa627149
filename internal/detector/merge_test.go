package detector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stmtByName(t *testing.T, statements []classifyStmt, name string) classifyStmt {
	t.Helper()
	for _, s := range statements {
		if s.name == name {
			return s
		}
	}
	t.Fatalf("no %q statement", name)
	return classifyStmt{}
}

func TestHeaderClassifyStatements_Shape(t *testing.T) {
	statements := headerClassifyStatements()
	require.Len(t, statements, 3)

	insert := stmtByName(t, statements, "insert")
	assert.Contains(t, insert.sql, "NOT EXISTS")
	assert.Contains(t, insert.sql, "action_type = 'INSERT'")
	assert.Contains(t, insert.sql, "s.stg_status = 'LOADED'")

	update := stmtByName(t, statements, "update")
	assert.Contains(t, update.sql, "t.row_hash <> s.row_hash")
	assert.Contains(t, update.sql, "external_item_id = t.external_item_id")
	assert.Contains(t, update.sql, "external_group_id = t.external_group_id")
	assert.Contains(t, update.sql, "s.stg_status = 'LOADED'")

	noop := stmtByName(t, statements, "noop")
	assert.Contains(t, noop.sql, "t.row_hash = s.row_hash")
	assert.Contains(t, noop.sql, "stg_status = 'NOOP'")
	assert.Contains(t, noop.sql, "s.stg_status = 'LOADED'")
}

// An unchanged line still cascades when its header is re-pushed, so the NOOP
// statement must carry the existing subitem id into staging. Without it the
// push layer sees a blank id and creates a duplicate sub-item on the board.
func TestLineClassifyStatements_NoopInheritsSubitemID(t *testing.T) {
	statements := lineClassifyStatements()
	require.Len(t, statements, 3)

	noop := stmtByName(t, statements, "noop")
	assert.Contains(t, noop.sql, "external_subitem_id = t.external_subitem_id")
	assert.Contains(t, noop.sql, "t.row_hash = s.row_hash")

	update := stmtByName(t, statements, "update")
	assert.Contains(t, update.sql, "external_subitem_id = t.external_subitem_id")
	assert.Contains(t, update.sql, "t.row_hash <> s.row_hash")
}

func TestLineClassifyStatements_KeyedByRecordAndSize(t *testing.T) {
	for _, stmt := range lineClassifyStatements() {
		assert.Contains(t, stmt.sql, "t.record_uuid = s.record_uuid", stmt.name)
		assert.Contains(t, stmt.sql, "UPPER(TRIM(t.size_code)) = UPPER(TRIM(s.size_code))", stmt.name)
		assert.Contains(t, stmt.sql, "s.stg_status = 'LOADED'", stmt.name)
	}
}
