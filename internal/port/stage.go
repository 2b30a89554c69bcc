package port

import (
	"context"

	"github.com/elliot-woods/pgvector-search/internal/domain"
)

// Stage is the durable, append-only staging area (the ledger) between the
// generation pass and reconciliation into a VectorStore.
type Stage interface {
	// LoadExistingIdentifiers reads the identifiers already staged. A missing
	// or unreadable artifact yields an empty set, not an error.
	LoadExistingIdentifiers(ctx context.Context) (map[string]struct{}, error)

	// AppendIfAbsent durably appends rec unless its identifier was already
	// seen. It reports whether a row was written.
	AppendIfAbsent(ctx context.Context, rec domain.EmbeddingRecord) (bool, error)

	// Scan streams every staged row in append order. Rows that cannot be
	// decoded are passed to fn with a non-nil rowErr and the zero record's
	// Identifier set when known. A non-nil error returned by fn stops the scan.
	Scan(ctx context.Context, fn func(rec domain.EmbeddingRecord, rowErr error) error) error

	// Exists reports whether the artifact is present at all.
	Exists() bool

	Close() error
}
