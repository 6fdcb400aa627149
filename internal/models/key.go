package models

import "strings"

// CanonicalKey builds the canonical natural-key string used for identity
// derivation and merge comparisons. Parts are trimmed and upper-cased so the
// same business row always canonicalizes identically regardless of source
// formatting.
func CanonicalKey(parts ...string) string {
	cleaned := make([]string, len(parts))
	for i, p := range parts {
		cleaned[i] = strings.ToUpper(strings.TrimSpace(p))
	}
	return strings.Join(cleaned, "|")
}
