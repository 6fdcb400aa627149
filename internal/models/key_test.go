package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalKey(t *testing.T) {
	assert.Equal(t, "ACME|PO-1001|TEE|NAVY", CanonicalKey("acme", " PO-1001", "Tee ", "NAVY"))
	assert.Equal(t, CanonicalKey("ACME", "PO-1"), CanonicalKey("  acme  ", "po-1"))
	assert.NotEqual(t, CanonicalKey("AB", "C"), CanonicalKey("A", "BC"))
	assert.Equal(t, "", CanonicalKey())
}

func TestRunReport_FailureAccounting(t *testing.T) {
	var r RunReport
	assert.True(t, r.FullSuccess())

	r.RecordFailure("rate limited")
	r.RecordFailure("rate limited")
	r.RecordFailure("bad column")
	assert.Equal(t, 2, r.FailureReasons["rate limited"])
	assert.Equal(t, 1, r.FailureReasons["bad column"])

	r.LinesFailed = 1
	assert.False(t, r.FullSuccess())
}
