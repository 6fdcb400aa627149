package board

import (
	"encoding/json"
	"fmt"
	"strings"
)

// OperationType selects the board mutation a record set is pushed through.
type OperationType string

const (
	OpCreateItem     OperationType = "create_item"
	OpUpdateItem     OperationType = "update_item_columns"
	OpCreateSubitem  OperationType = "create_subitem"
	OpUpdateSubitem  OperationType = "update_subitem_columns"
	opCreateGroupSel               = "create_group"
)

// Record is one unit of work for the executor: a header or line flattened to
// the target system's field identifiers.
type Record struct {
	// Key identifies the record to the caller (record_uuid / line_uuid).
	Key string
	// Title names the item/sub-item on creation.
	Title string
	// GroupName is the container the item belongs to (creates only).
	GroupName string
	// ParentItemID is the board item a sub-item hangs off.
	ParentItemID string
	// ExternalID is the board id for update operations.
	ExternalID string
	// Fields maps board column ids to values.
	Fields map[string]string
}

// validate checks that the record carries everything its operation needs.
// Validation failures are permanent: they are never retried.
func (r Record) validate(op OperationType) error {
	switch op {
	case OpCreateItem:
		if r.Title == "" {
			return &APIError{Class: ClassValidation, Message: fmt.Sprintf("record %s: create_item requires a title", r.Key)}
		}
	case OpCreateSubitem:
		if r.Title == "" {
			return &APIError{Class: ClassValidation, Message: fmt.Sprintf("record %s: create_subitem requires a title", r.Key)}
		}
		if r.ParentItemID == "" {
			return &APIError{Class: ClassValidation, Message: fmt.Sprintf("record %s: create_subitem requires a parent item id", r.Key)}
		}
	case OpUpdateItem, OpUpdateSubitem:
		if r.ExternalID == "" {
			return &APIError{Class: ClassValidation, Message: fmt.Sprintf("record %s: %s requires an external id", r.Key, op)}
		}
	default:
		return &APIError{Class: ClassValidation, Message: fmt.Sprintf("unsupported operation %q", op)}
	}
	return nil
}

// selection renders the aliased GraphQL selection for one record. Column
// values are embedded as a JSON string literal the way the board API expects.
func (r Record) selection(alias string, op OperationType, boardID, groupID string) (string, error) {
	if err := r.validate(op); err != nil {
		return "", err
	}

	cols, err := json.Marshal(r.Fields)
	if err != nil {
		return "", &APIError{Class: ClassValidation, Message: fmt.Sprintf("record %s: marshal column values: %v", r.Key, err)}
	}
	colsLit := jsonStringLiteral(string(cols))

	switch op {
	case OpCreateItem:
		return fmt.Sprintf(
			`%s: create_item (board_id: %s, group_id: %s, item_name: %s, column_values: %s) { id }`,
			alias, jsonStringLiteral(boardID), jsonStringLiteral(groupID), jsonStringLiteral(r.Title), colsLit,
		), nil
	case OpCreateSubitem:
		return fmt.Sprintf(
			`%s: create_subitem (parent_item_id: %s, item_name: %s, column_values: %s) { id }`,
			alias, jsonStringLiteral(r.ParentItemID), jsonStringLiteral(r.Title), colsLit,
		), nil
	case OpUpdateItem, OpUpdateSubitem:
		return fmt.Sprintf(
			`%s: change_multiple_column_values (board_id: %s, item_id: %s, column_values: %s) { id }`,
			alias, jsonStringLiteral(boardID), jsonStringLiteral(r.ExternalID), colsLit,
		), nil
	}
	return "", &APIError{Class: ClassValidation, Message: fmt.Sprintf("unsupported operation %q", op)}
}

// buildMutation assembles one mutation document from aliased selections.
func buildMutation(selections []string) string {
	return "mutation {\n" + strings.Join(selections, "\n") + "\n}"
}

// jsonStringLiteral renders a GraphQL string literal. JSON string escaping is
// a compatible subset of GraphQL's.
func jsonStringLiteral(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
