// Package identity assigns stable identifiers and content hashes to order
// records. Both operations are pure: the same business data always yields the
// same UUID and the same hash, so re-running ingestion never fabricates
// duplicates and unchanged rows are detected as such.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"

	"github.com/Guizzs26/boardsync/internal/models"
)

// Namespace for all boardsync record UUIDs. Derived once from the DNS
// namespace so ids are stable across processes and deployments.
var recordNamespace = uuid.NewSHA1(uuid.NameSpaceDNS, []byte("boardsync.orders"))

// RecordUUID derives the immutable header identity from the customer-scoped
// natural business key. UUIDv5 keeps it deterministic: ingesting the same
// order twice produces the same id.
func RecordUUID(customer, orderNumber, style, color string) string {
	key := models.CanonicalKey(customer, orderNumber, style, color)
	return uuid.NewSHA1(recordNamespace, []byte(key)).String()
}

// LineUUID derives a line identity scoped under its parent header.
func LineUUID(recordUUID, sizeCode string) string {
	key := recordUUID + "|" + strings.ToUpper(strings.TrimSpace(sizeCode))
	return uuid.NewSHA1(recordNamespace, []byte(key)).String()
}

// RowHash computes the content fingerprint over the configured business
// columns, in the exact configured order. Missing or NULL columns hash as
// empty strings; values are trimmed so formatting noise does not register as
// a change. The unit separator keeps "a","bc" distinct from "ab","c".
func RowHash(row map[string]string, columns []string) string {
	h := sha256.New()
	for _, col := range columns {
		h.Write([]byte(col))
		h.Write([]byte{'='})
		h.Write([]byte(strings.TrimSpace(row[col])))
		h.Write([]byte{0x1f})
	}
	return hex.EncodeToString(h.Sum(nil))
}
