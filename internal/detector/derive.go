package detector

import (
	"fmt"
	"strings"

	"github.com/Guizzs26/boardsync/internal/config"
)

// Deriver applies the deterministic derivation rules that synthesize the
// board group name and the human-readable item title from source columns.
// Rules are pure and order-preserving: the same row always derives the same
// values, which keeps the group cache valid across runs.
//
// A chain referencing a column the source does not declare is a
// configuration error and fails construction, before any row is touched.
type Deriver struct {
	groupChain    []string
	groupFallback string
	titleChain    []string
	titleSep      string
}

// NewDeriver validates the configured chains against the declared source
// columns and returns a ready deriver.
func NewDeriver(mapping *config.Mapping, knownColumns []string) (*Deriver, error) {
	known := make(map[string]bool, len(knownColumns))
	for _, c := range knownColumns {
		known[strings.ToLower(c)] = true
	}

	for _, col := range mapping.GroupNameChain {
		if !known[strings.ToLower(col)] {
			return nil, fmt.Errorf("group_name_chain references unknown column %q", col)
		}
	}
	for _, col := range mapping.TitleChain {
		if !known[strings.ToLower(col)] {
			return nil, fmt.Errorf("title_chain references unknown column %q", col)
		}
	}

	return &Deriver{
		groupChain:    mapping.GroupNameChain,
		groupFallback: mapping.GroupNameFallback,
		titleChain:    mapping.TitleChain,
		titleSep:      mapping.TitleSeparator,
	}, nil
}

// GroupName walks the configured chain and returns the first non-blank
// value, or the fallback literal when the whole chain is blank.
func (d *Deriver) GroupName(row map[string]string) string {
	for _, col := range d.groupChain {
		if v := strings.TrimSpace(row[col]); v != "" {
			return v
		}
	}
	return d.groupFallback
}

// Title concatenates the non-blank chain values with the configured
// separator, preserving chain order.
func (d *Deriver) Title(row map[string]string) string {
	parts := make([]string, 0, len(d.titleChain))
	for _, col := range d.titleChain {
		if v := strings.TrimSpace(row[col]); v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, d.titleSep)
}
