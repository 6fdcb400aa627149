package source

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// DecodeText converts legacy WIN1252 bytes to a trimmed UTF-8 string. Data
// that is already valid UTF-8 passes through untouched, so mixed-encoding
// databases migrate safely.
func DecodeText(b []byte) string {
	if len(b) == 0 {
		return ""
	}

	if utf8.Valid(b) {
		return strings.TrimSpace(string(b))
	}

	decoded, err := charmap.Windows1252.NewDecoder().Bytes(b)
	if err != nil {
		// Raw passthrough beats losing the row.
		return strings.TrimSpace(string(b))
	}
	return strings.TrimSpace(string(decoded))
}
