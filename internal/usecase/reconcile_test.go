package usecase

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elliot-woods/pgvector-search/internal/adapter/ledger"
	"github.com/elliot-woods/pgvector-search/internal/domain"
	"github.com/elliot-woods/pgvector-search/internal/errs"
	"github.com/elliot-woods/pgvector-search/internal/port"
)

func csvLedger(t *testing.T, content string) port.Stage {
	t.Helper()
	dir := t.TempDir()
	if content != "" {
		writeFile(t, ledger.Path(dir, ledger.BackendCSV), content)
	}
	stage, err := ledger.Open(ledger.BackendCSV, dir, "", discard)
	require.NoError(t, err)
	t.Cleanup(func() { _ = stage.Close() })
	return stage
}

const twoRows = "image_path,embedding\n" +
	"a.jpg,\"[0.1, 0.2]\"\n" +
	"b.jpg,\"[0.3, 0.4]\"\n"

func TestReconcile_EmptyLedgerEmptyStore(t *testing.T) {
	uc := NewReconcileUseCase(csvLedger(t, "image_path,embedding\n"), newMemoryStore(2), discard)
	summary, err := uc.Reconcile(context.Background(), domain.ReconcileSkipExisting)
	require.NoError(t, err)
	assert.Zero(t, summary.Succeeded)
	assert.Zero(t, summary.FailedCount())
}

func TestReconcile_MissingLedgerIsNothingToReconcile(t *testing.T) {
	uc := NewReconcileUseCase(csvLedger(t, ""), newMemoryStore(2), discard)
	_, err := uc.Reconcile(context.Background(), domain.ReconcileSkipExisting)
	assert.True(t, errs.HasCode(err, errs.CodeNothingToReconcile))
}

func TestReconcile_SkipModeWritesOnce(t *testing.T) {
	ctx := context.Background()
	s := newMemoryStore(2)
	uc := NewReconcileUseCase(csvLedger(t, twoRows), s, discard)

	summary, err := uc.Reconcile(ctx, domain.ReconcileSkipExisting)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, domain.Vector{0.1, 0.2}, mustGet(t, s, "a.jpg"))

	summary, err = uc.Reconcile(ctx, domain.ReconcileSkipExisting)
	require.NoError(t, err)
	assert.Zero(t, summary.Succeeded)
	assert.Equal(t, 2, summary.Skipped)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestReconcile_ModesDifferOnExistingIdentifiers(t *testing.T) {
	ctx := context.Background()
	seed := func() port.VectorStore {
		s := newMemoryStore(2)
		tx, err := s.Begin(ctx)
		require.NoError(t, err)
		require.NoError(t, tx.Upsert(ctx, domain.EmbeddingRecord{Identifier: "a.jpg", Vector: domain.Vector{9, 9}}))
		require.NoError(t, tx.Commit(ctx))
		return s
	}

	skipStore := seed()
	summary, err := NewReconcileUseCase(csvLedger(t, twoRows), skipStore, discard).Reconcile(ctx, domain.ReconcileSkipExisting)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, domain.Vector{9, 9}, mustGet(t, skipStore, "a.jpg"))

	upsertStore := seed()
	summary, err = NewReconcileUseCase(csvLedger(t, twoRows), upsertStore, discard).Reconcile(ctx, domain.ReconcileUpsert)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, domain.Vector{0.1, 0.2}, mustGet(t, upsertStore, "a.jpg"))
}

func TestReconcile_BadRowsAreIsolated(t *testing.T) {
	content := twoRows +
		"c.jpg,\"[0.5, nope]\"\n" +
		"d.jpg,\"[0.5, 0.6, 0.7]\"\n" +
		"e.jpg,\"[0.7, 0.8]\"\n"
	s := newMemoryStore(2)

	summary, err := NewReconcileUseCase(csvLedger(t, content), s, discard).Reconcile(context.Background(), domain.ReconcileSkipExisting)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Succeeded)
	require.Len(t, summary.Failed, 2)
	for _, f := range summary.Failed {
		assert.Equal(t, string(errs.CodeParse), f.Code)
	}
	assert.Equal(t, "d.jpg", summary.Failed[1].Identifier)

	ids, err := s.Identifiers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]struct{}{"a.jpg": {}, "b.jpg": {}, "e.jpg": {}}, ids)
}

func TestReconcile_StoreFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	for _, mode := range []domain.ReconcileMode{domain.ReconcileSkipExisting, domain.ReconcileUpsert} {
		t.Run(mode.String(), func(t *testing.T) {
			inner := newMemoryStore(2)
			s := &flakyStore{VectorStore: inner, failOn: "b.jpg"}

			summary, err := NewReconcileUseCase(csvLedger(t, twoRows), s, discard).Reconcile(ctx, mode)
			assert.True(t, errs.HasCode(err, errs.CodeStore))
			assert.Zero(t, summary.Succeeded)

			n, err := inner.Count(ctx)
			require.NoError(t, err)
			assert.Zero(t, n)
		})
	}
}
