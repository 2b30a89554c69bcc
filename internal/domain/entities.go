package domain

// Vector is an embedding as produced by the oracle.
type Vector []float64

// EmbeddingRecord maps a source identifier (canonical image path) to its
// embedding. Identifier is the unique key in every stage and store.
type EmbeddingRecord struct {
	Identifier string
	Vector     Vector
}

// Dimension returns the vector length.
func (r EmbeddingRecord) Dimension() int {
	return len(r.Vector)
}

// SearchResult is one ranked hit. Smaller distance means more similar.
type SearchResult struct {
	Identifier string  `json:"path"`
	Distance   float64 `json:"distance"`
}

// ReconcileMode selects the conflict policy used when merging a stage into a store.
type ReconcileMode int

const (
	// ReconcileSkipExisting inserts only identifiers the store does not hold yet.
	// Stored vectors are never altered (first write wins).
	ReconcileSkipExisting ReconcileMode = iota
	// ReconcileUpsert inserts every staged row, overwriting stored vectors
	// for identifiers that already exist.
	ReconcileUpsert
)

func (m ReconcileMode) String() string {
	switch m {
	case ReconcileSkipExisting:
		return "skip"
	case ReconcileUpsert:
		return "upsert"
	default:
		return "unknown"
	}
}

// ParseReconcileMode maps "skip" / "upsert" to a mode.
func ParseReconcileMode(s string) (ReconcileMode, bool) {
	switch s {
	case "skip", "skip-existing", "":
		return ReconcileSkipExisting, true
	case "upsert", "overwrite":
		return ReconcileUpsert, true
	default:
		return 0, false
	}
}

// ItemFailure records why a single item of a pass was not written.
type ItemFailure struct {
	Identifier string `json:"identifier"`
	Code       string `json:"code"`
	Reason     string `json:"reason"`
}

// PassSummary aggregates per-item outcomes of a generation, reconciliation
// or batch ingestion pass.
type PassSummary struct {
	Succeeded int           `json:"succeeded"`
	Skipped   int           `json:"skipped"`
	Failed    []ItemFailure `json:"failed,omitempty"`
}

// FailedCount returns the number of failed items.
func (s *PassSummary) FailedCount() int {
	return len(s.Failed)
}

// Fail appends a failure entry.
func (s *PassSummary) Fail(identifier, code string, err error) {
	s.Failed = append(s.Failed, ItemFailure{
		Identifier: identifier,
		Code:       code,
		Reason:     err.Error(),
	})
}
