package store

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/elliot-woods/pgvector-search/internal/domain"
	"github.com/elliot-woods/pgvector-search/internal/errs"
	"github.com/elliot-woods/pgvector-search/internal/port"
)

// MemoryStore keeps records in process memory and ranks them by brute
// force cosine distance. Ties are broken by identifier so ordering is
// deterministic.
type MemoryStore struct {
	mu        sync.RWMutex
	dimension int
	vectors   map[string]domain.Vector
}

var _ port.VectorStore = (*MemoryStore)(nil)

func NewMemoryStore(dimension int) *MemoryStore {
	return &MemoryStore{
		dimension: dimension,
		vectors:   make(map[string]domain.Vector),
	}
}

func (s *MemoryStore) Identifiers(_ context.Context) (map[string]struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make(map[string]struct{}, len(s.vectors))
	for id := range s.vectors {
		ids[id] = struct{}{}
	}
	return ids, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (domain.EmbeddingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vectors[id]
	if !ok {
		return domain.EmbeddingRecord{}, errs.New(errs.CodeStoreNotFound, "record not found", errs.FieldIdentifier(id))
	}
	return domain.EmbeddingRecord{Identifier: id, Vector: append(domain.Vector(nil), v...)}, nil
}

func (s *MemoryStore) Nearest(_ context.Context, query domain.Vector, k int) ([]domain.SearchResult, error) {
	if err := checkDimension(s.dimension, query); err != nil {
		return nil, err
	}
	if k <= 0 {
		return []domain.SearchResult{}, nil
	}

	s.mu.RLock()
	results := make([]domain.SearchResult, 0, len(s.vectors))
	for id, v := range s.vectors {
		results = append(results, domain.SearchResult{
			Identifier: id,
			Distance:   CosineDistance(query, v),
		})
	}
	s.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].Identifier < results[j].Identifier
	})

	if k < len(results) {
		results = results[:k]
	}
	return results, nil
}

func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.vectors), nil
}

func (s *MemoryStore) Begin(_ context.Context) (port.VectorTx, error) {
	return &memoryTx{store: s, pending: make(map[string]domain.Vector)}, nil
}

func (s *MemoryStore) Dimension() int {
	return s.dimension
}

func (s *MemoryStore) Close() error {
	return nil
}

type memoryTx struct {
	store   *MemoryStore
	pending map[string]domain.Vector
	order   []string
	done    bool
}

func (tx *memoryTx) InsertIfAbsent(_ context.Context, rec domain.EmbeddingRecord) (bool, error) {
	if err := checkDimension(tx.store.dimension, rec.Vector); err != nil {
		return false, err
	}
	if _, ok := tx.pending[rec.Identifier]; ok {
		return false, nil
	}
	tx.store.mu.RLock()
	_, exists := tx.store.vectors[rec.Identifier]
	tx.store.mu.RUnlock()
	if exists {
		return false, nil
	}
	tx.stage(rec)
	return true, nil
}

func (tx *memoryTx) Upsert(_ context.Context, rec domain.EmbeddingRecord) error {
	if err := checkDimension(tx.store.dimension, rec.Vector); err != nil {
		return err
	}
	tx.stage(rec)
	return nil
}

func (tx *memoryTx) stage(rec domain.EmbeddingRecord) {
	if _, ok := tx.pending[rec.Identifier]; !ok {
		tx.order = append(tx.order, rec.Identifier)
	}
	tx.pending[rec.Identifier] = append(domain.Vector(nil), rec.Vector...)
}

func (tx *memoryTx) Commit(_ context.Context) error {
	if tx.done {
		return errs.New(errs.CodeStore, "transaction already finished")
	}
	tx.done = true
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	for _, id := range tx.order {
		tx.store.vectors[id] = tx.pending[id]
	}
	return nil
}

func (tx *memoryTx) Rollback(_ context.Context) error {
	tx.done = true
	tx.pending = nil
	return nil
}

// CosineDistance is 1 - cosine similarity. A zero vector is orthogonal to
// everything.
func CosineDistance(a, b domain.Vector) float64 {
	if len(a) != len(b) {
		return 2
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 1
	}

	return 1 - dotProduct/(math.Sqrt(normA)*math.Sqrt(normB))
}
