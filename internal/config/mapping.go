package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Mapping declares the business-column lists, derivation rules and board
// field identifiers for one target board. It is loaded once and treated as
// immutable; every rule that references a column is validated up front so a
// typo fails the run before anything is touched.
type Mapping struct {
	// HeaderHashColumns is the ordered column list the header row hash is
	// computed over. Order matters: it is part of the hash input.
	HeaderHashColumns []string `yaml:"header_hash_columns"`
	LineHashColumns   []string `yaml:"line_hash_columns"`

	// Derivation chains: first non-blank column wins, the literal fallback
	// applies when the whole chain is blank.
	GroupNameChain    []string `yaml:"group_name_chain"`
	GroupNameFallback string   `yaml:"group_name_fallback"`
	TitleChain        []string `yaml:"title_chain"`
	TitleSeparator    string   `yaml:"title_separator"`

	// Board column ids, model column -> board field identifier.
	HeaderFieldIDs map[string]string `yaml:"header_field_ids"`
	LineFieldIDs   map[string]string `yaml:"line_field_ids"`

	// SourceTables lists legacy source tables in precedence order
	// (first occurrence of a business key wins).
	SourceTables []string `yaml:"source_tables"`
}

// LoadMapping reads and validates the YAML mapping file.
func LoadMapping(path string) (*Mapping, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mapping file: %w", err)
	}

	var m Mapping
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("parse mapping file: %w", err)
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate enforces the minimum viable mapping. Derivation chains may be
// empty (the fallback literal then always applies) but hash column lists and
// field id maps are mandatory.
func (m *Mapping) Validate() error {
	if len(m.HeaderHashColumns) == 0 {
		return fmt.Errorf("mapping: header_hash_columns is empty")
	}
	if len(m.LineHashColumns) == 0 {
		return fmt.Errorf("mapping: line_hash_columns is empty")
	}
	if len(m.HeaderFieldIDs) == 0 {
		return fmt.Errorf("mapping: header_field_ids is empty")
	}
	if len(m.LineFieldIDs) == 0 {
		return fmt.Errorf("mapping: line_field_ids is empty")
	}
	if m.GroupNameFallback == "" {
		m.GroupNameFallback = "UNSCHEDULED"
	}
	if m.TitleSeparator == "" {
		m.TitleSeparator = " "
	}
	return nil
}
