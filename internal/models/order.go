package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// SyncState tracks where a record sits in the staging -> board -> promotion
// lifecycle. Transitions are owned by the detector (PENDING), the sync engine
// (SYNCED/FAILED) and the staging promoter (PROMOTED).
type SyncState string

const (
	StatePending  SyncState = "PENDING"
	StateSynced   SyncState = "SYNCED"
	StateFailed   SyncState = "FAILED"
	StatePromoted SyncState = "PROMOTED"
)

// ActionType is set exclusively by the change detector during merge.
type ActionType string

const (
	ActionInsert ActionType = "INSERT"
	ActionUpdate ActionType = "UPDATE"
)

// OrderHeader represents one order x style x color candidate for the board.
// RecordUUID is the stable identity; the natural key (customer, order number,
// style, color) is only used for de-duplication against the target table.
type OrderHeader struct {
	RecordUUID      string     `db:"record_uuid"`
	CustomerName    string     `db:"customer_name"`
	OrderNumber     string     `db:"order_number"`
	Style           string     `db:"style"`
	Color           string     `db:"color"`
	Season          string     `db:"season"`
	DeliveryMonth   string     `db:"delivery_month"`
	RowHash         string     `db:"row_hash"`
	ActionType      ActionType `db:"action_type"`
	SyncState       SyncState  `db:"sync_state"`
	ExternalItemID  string     `db:"external_item_id"`
	ExternalGroupID string     `db:"external_group_id"`
	GroupName       string     `db:"group_name"`
	ItemTitle       string     `db:"item_title"`
	SyncError       string     `db:"sync_error"`
	CreatedAt       time.Time  `db:"created_at"`
	SyncAttemptedAt *time.Time `db:"sync_attempted_at"`
	SyncCompletedAt *time.Time `db:"sync_completed_at"`
}

// NaturalKey returns the canonical business key used for merge comparisons.
func (h *OrderHeader) NaturalKey() string {
	return CanonicalKey(h.CustomerName, h.OrderNumber, h.Style, h.Color)
}

// OrderLine is one size/quantity breakdown owned by exactly one header.
// ActionType and SyncState are inherited from the parent header at
// materialization time and must not diverge while the pair is in flight.
type OrderLine struct {
	LineUUID             string          `db:"line_uuid"`
	RecordUUID           string          `db:"record_uuid"`
	SizeCode             string          `db:"size_code"`
	Qty                  decimal.Decimal `db:"qty"`
	RowHash              string          `db:"row_hash"`
	ActionType           ActionType      `db:"action_type"`
	SyncState            SyncState       `db:"sync_state"`
	ExternalSubitemID    string          `db:"external_subitem_id"`
	ExternalParentItemID string          `db:"external_parent_item_id"`
	SyncError            string          `db:"sync_error"`
	CreatedAt            time.Time       `db:"created_at"`
}

// Batch groups the headers (and their cascaded lines) pushed together for one
// customer. Batches are ephemeral: they live for a single sync run.
type Batch struct {
	BatchID      string
	CustomerName string
	Headers      []OrderHeader
	Lines        map[string][]OrderLine // keyed by header RecordUUID
	Loaded       int
}

// RunReport aggregates the outcome of one full sync run.
type RunReport struct {
	Batches        int
	HeadersPushed  int
	HeadersFailed  int
	LinesPushed    int
	LinesFailed    int
	Promoted       int
	FailureReasons map[string]int // de-duplicated reason -> frequency
	StartedAt      time.Time
	FinishedAt     time.Time
}

// FullSuccess reports whether every record in the run reached a terminal
// success state. The CLI exit code is derived from this.
func (r *RunReport) FullSuccess() bool {
	return r.HeadersFailed == 0 && r.LinesFailed == 0
}

// RecordFailure counts one failure reason, de-duplicated by message.
func (r *RunReport) RecordFailure(reason string) {
	if r.FailureReasons == nil {
		r.FailureReasons = make(map[string]int)
	}
	r.FailureReasons[reason]++
}
