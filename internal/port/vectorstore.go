package port

import (
	"context"

	"github.com/elliot-woods/pgvector-search/internal/domain"
)

// VectorStore is the long-lived keyed collection of embeddings with a
// native nearest-neighbour ranking operator.
type VectorStore interface {
	// Identifiers returns every identifier currently stored.
	Identifiers(ctx context.Context) (map[string]struct{}, error)

	// Get returns the stored record for id.
	Get(ctx context.Context, id string) (domain.EmbeddingRecord, error)

	// Nearest returns at most k records ranked ascending by cosine distance
	// to query, as computed by the store itself.
	Nearest(ctx context.Context, query domain.Vector, k int) ([]domain.SearchResult, error)

	// Count returns the number of stored records.
	Count(ctx context.Context) (int, error)

	// Begin opens a write transaction.
	Begin(ctx context.Context) (VectorTx, error)

	// Dimension returns the vector dimension the store was created with.
	Dimension() int

	Close() error
}

// VectorTx buffers writes until Commit. Nothing is visible to readers
// before Commit succeeds.
type VectorTx interface {
	// InsertIfAbsent writes rec only when its identifier is not stored yet
	// and reports whether it did.
	InsertIfAbsent(ctx context.Context, rec domain.EmbeddingRecord) (bool, error)

	// Upsert writes rec, replacing any stored vector for the same identifier.
	Upsert(ctx context.Context, rec domain.EmbeddingRecord) error

	Commit(ctx context.Context) error

	// Rollback discards the transaction. It is a no-op after Commit.
	Rollback(ctx context.Context) error
}
