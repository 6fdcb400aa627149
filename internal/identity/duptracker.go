package identity

// DupTracker detects duplicate business keys within a single ingestion pass.
// Duplicates are reported, never silently dropped: the precedence rule is
// first occurrence wins, and everything after it is surfaced so operators can
// audit source disagreements.
type DupTracker struct {
	seen map[string]string // canonical key -> source that first produced it
	dups []Duplicate
}

// Duplicate records one rejected re-occurrence of a business key.
type Duplicate struct {
	Key         string
	FirstSource string
	DupSource   string
}

func NewDupTracker() *DupTracker {
	return &DupTracker{seen: make(map[string]string)}
}

// Observe registers a business key coming from the named source. It returns
// true if the key is new (the caller should keep the row) and false if it is
// a duplicate (the caller should skip the row; the occurrence is recorded).
func (t *DupTracker) Observe(key, source string) bool {
	if first, ok := t.seen[key]; ok {
		t.dups = append(t.dups, Duplicate{Key: key, FirstSource: first, DupSource: source})
		return false
	}
	t.seen[key] = source
	return true
}

// Duplicates returns every duplicate observed so far, in observation order.
func (t *DupTracker) Duplicates() []Duplicate {
	return t.dups
}

// Count returns the number of distinct keys observed.
func (t *DupTracker) Count() int {
	return len(t.seen)
}
