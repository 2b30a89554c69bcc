package store

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elliot-woods/pgvector-search/internal/domain"
	"github.com/elliot-woods/pgvector-search/internal/errs"
	"github.com/elliot-woods/pgvector-search/internal/port"
)

const testDim = 3

type opener func(t *testing.T) port.VectorStore

func backends(t *testing.T) map[string]opener {
	t.Helper()
	out := map[string]opener{
		BackendMemory: func(t *testing.T) port.VectorStore {
			return NewMemoryStore(testDim)
		},
		BackendSQLite: func(t *testing.T) port.VectorStore {
			s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "vec.db"), "images", testDim)
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}

	if dsn := os.Getenv("PGSEARCH_TEST_PG_DSN"); dsn != "" {
		out[BackendPostgres] = func(t *testing.T) port.VectorStore {
			ctx := context.Background()
			table := "pgsearch_test_" + uuid.NewString()[:8]
			s, err := NewPostgresStore(ctx, dsn, table, testDim)
			require.NoError(t, err)
			t.Cleanup(func() {
				_, _ = s.pool.Exec(ctx, `DROP TABLE IF EXISTS `+s.table)
				_ = s.Close()
			})
			return s
		}
	}

	if addr := os.Getenv("PGSEARCH_TEST_QDRANT"); addr != "" {
		out[BackendQdrant] = func(t *testing.T) port.VectorStore {
			host, portStr, err := net.SplitHostPort(addr)
			require.NoError(t, err)
			p, err := strconv.Atoi(portStr)
			require.NoError(t, err)
			s, err := NewQdrantStore(context.Background(), host, p, "pgsearch_test_"+uuid.NewString(), testDim)
			require.NoError(t, err)
			t.Cleanup(func() {
				_, _ = s.collections.Delete(context.Background(), &pb.DeleteCollection{CollectionName: s.collection})
				_ = s.Close()
			})
			return s
		}
	}
	return out
}

func write(t *testing.T, s port.VectorStore, mode domain.ReconcileMode, recs ...domain.EmbeddingRecord) int {
	t.Helper()
	ctx := context.Background()
	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	written := 0
	for _, rec := range recs {
		if mode == domain.ReconcileUpsert {
			require.NoError(t, tx.Upsert(ctx, rec))
			written++
			continue
		}
		ok, err := tx.InsertIfAbsent(ctx, rec)
		require.NoError(t, err)
		if ok {
			written++
		}
	}
	require.NoError(t, tx.Commit(ctx))
	return written
}

func rec(id string, v ...float64) domain.EmbeddingRecord {
	return domain.EmbeddingRecord{Identifier: id, Vector: v}
}

func TestVectorStore_InsertIfAbsentKeepsFirstWrite(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)

			assert.Equal(t, 1, write(t, s, domain.ReconcileSkipExisting, rec("a", 1, 0, 0)))
			assert.Equal(t, 0, write(t, s, domain.ReconcileSkipExisting, rec("a", 0, 1, 0)))

			got, err := s.Get(ctx, "a")
			require.NoError(t, err)
			assert.InDeltaSlice(t, []float64{1, 0, 0}, []float64(got.Vector), 1e-6)

			n, err := s.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, n)
		})
	}
}

func TestVectorStore_UpsertOverwrites(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)

			write(t, s, domain.ReconcileUpsert, rec("a", 1, 0, 0))
			write(t, s, domain.ReconcileUpsert, rec("a", 0, 0.5, 0))

			got, err := s.Get(ctx, "a")
			require.NoError(t, err)
			assert.InDeltaSlice(t, []float64{0, 0.5, 0}, []float64(got.Vector), 1e-6)

			ids, err := s.Identifiers(ctx)
			require.NoError(t, err)
			assert.Equal(t, map[string]struct{}{"a": {}}, ids)
		})
	}
}

func TestVectorStore_NearestOrdersByDistance(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)
			write(t, s, domain.ReconcileSkipExisting,
				rec("x", 1, 0, 0),
				rec("y", 0, 1, 0),
				rec("xy", 0.9, 0.1, 0),
			)

			results, err := s.Nearest(ctx, domain.Vector{1, 0, 0}, 2)
			require.NoError(t, err)
			require.Len(t, results, 2)
			assert.Equal(t, "x", results[0].Identifier)
			assert.Equal(t, "xy", results[1].Identifier)
			assert.InDelta(t, 0, results[0].Distance, 1e-5)
			assert.LessOrEqual(t, results[0].Distance, results[1].Distance)

			all, err := s.Nearest(ctx, domain.Vector{1, 0, 0}, 10)
			require.NoError(t, err)
			require.Len(t, all, 3)
			assert.Equal(t, "y", all[2].Identifier)
			assert.InDelta(t, 1, all[2].Distance, 1e-5)
		})
	}
}

func TestVectorStore_NearestLargeLimit(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			write(t, s, domain.ReconcileSkipExisting,
				rec("x", 1, 0, 0),
				rec("y", 0, 1, 0),
			)

			results, err := s.Nearest(context.Background(), domain.Vector{1, 0, 0}, 10000)
			require.NoError(t, err)
			require.Len(t, results, 2)
			assert.Equal(t, "x", results[0].Identifier)
		})
	}
}

func TestVectorStore_RollbackDiscardsWrites(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)

			tx, err := s.Begin(ctx)
			require.NoError(t, err)
			_, err = tx.InsertIfAbsent(ctx, rec("a", 1, 0, 0))
			require.NoError(t, err)
			require.NoError(t, tx.Rollback(ctx))

			n, err := s.Count(ctx)
			require.NoError(t, err)
			assert.Zero(t, n)
		})
	}
}

func TestVectorStore_Errors(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)

			_, err := s.Get(ctx, "missing")
			assert.True(t, errs.IsNotFound(err), "got %v", err)

			_, err = s.Nearest(ctx, domain.Vector{1, 0}, 5)
			assert.True(t, errs.IsInvalidInput(err))

			tx, err := s.Begin(ctx)
			require.NoError(t, err)
			_, err = tx.InsertIfAbsent(ctx, rec("bad", 1, 2))
			assert.True(t, errs.IsInvalidInput(err))
			require.NoError(t, tx.Rollback(ctx))
		})
	}
}

func TestCosineDistance(t *testing.T) {
	assert.InDelta(t, 0, CosineDistance(domain.Vector{1, 2}, domain.Vector{2, 4}), 1e-12)
	assert.InDelta(t, 1, CosineDistance(domain.Vector{1, 0}, domain.Vector{0, 1}), 1e-12)
	assert.InDelta(t, 2, CosineDistance(domain.Vector{1, 0}, domain.Vector{-1, 0}), 1e-12)
	assert.Equal(t, 1.0, CosineDistance(domain.Vector{0, 0}, domain.Vector{1, 0}))
}

func TestOpen(t *testing.T) {
	s, err := Open(context.Background(), Options{Backend: BackendMemory, Dimension: 4})
	require.NoError(t, err)
	assert.Equal(t, 4, s.Dimension())

	_, err = Open(context.Background(), Options{Backend: "mongo", Dimension: 4})
	assert.True(t, errs.HasCode(err, errs.CodeConfig))

	_, err = Open(context.Background(), Options{Backend: BackendMemory})
	assert.True(t, errs.HasCode(err, errs.CodeConfig))

	_, err = NewSQLiteStore(filepath.Join(t.TempDir(), "x.db"), "images; DROP", 3)
	assert.True(t, errs.HasCode(err, errs.CodeConfig))
}

func TestOptions_PostgresDSN(t *testing.T) {
	o := Options{DBHost: "db", DBPort: 5432, DBName: "vectors", DBUser: "app", DBPassword: "p@ss", DBSSLMode: "disable"}
	assert.Equal(t, "postgres://app:p%40ss@db:5432/vectors?sslmode=disable", o.PostgresDSN())

	o = Options{DBHost: "localhost", DBPort: 5433, DBName: "x"}
	assert.Equal(t, "postgres://localhost:5433/x", o.PostgresDSN())
}
