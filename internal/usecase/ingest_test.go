package usecase

import (
	"context"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elliot-woods/pgvector-search/internal/errs"
)

func TestAddImageBytes_InvalidLeavesStoreUnchanged(t *testing.T) {
	ctx := context.Background()
	s := newMemoryStore(testDim)
	uc := NewIngestUseCase(mockEmbedder(), s, discard)

	assert.False(t, uc.AddImageBytes(ctx, []byte("definitely not a jpeg"), "x.jpg"))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestAddImageBytes_Upserts(t *testing.T) {
	ctx := context.Background()
	s := newMemoryStore(testDim)
	uc := NewIngestUseCase(mockEmbedder(), s, discard)

	require.True(t, uc.AddImageBytes(ctx, pngBytes(t, color.White), "x.jpg"))
	first := mustGet(t, s, "x.jpg")

	require.True(t, uc.AddImageBytes(ctx, pngBytes(t, color.Black), "x.jpg"))
	assert.NotEqual(t, first, mustGet(t, s, "x.jpg"))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestBatchAdd_PartialFailure(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	p1 := writeImage(t, dir, "p1.png", 10)
	p2 := filepath.Join(dir, "p2.png")
	writeFile(t, p2, "corrupt")
	p3 := writeImage(t, dir, "p3.png", 30)

	s := newMemoryStore(testDim)
	ok, failed := NewIngestUseCase(mockEmbedder(), s, discard).BatchAdd(ctx, []string{p1, p2, p3}, nil)
	assert.Equal(t, 2, ok)
	assert.Equal(t, 1, failed)

	ids, err := s.Identifiers(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]struct{}{p1: {}, p3: {}}, ids)
}

func TestBatchAdd_IdentifiersArePositional(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	p1 := writeImage(t, dir, "p1.png", 10)
	p2 := writeImage(t, dir, "p2.png", 20)

	s := newMemoryStore(testDim)
	summary := NewIngestUseCase(mockEmbedder(), s, discard).BatchAddSummary(ctx, []string{p1, p2}, []string{"first.jpg"})
	assert.Equal(t, 2, summary.Succeeded)

	ids, err := s.Identifiers(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]struct{}{"first.jpg": {}, p2: {}}, ids)
}

func TestAdd_FailuresBecomeFalse(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := writeImage(t, dir, "a.png", 10)

	broken := NewIngestUseCase(failingEmbedder{mockEmbedder()}, newMemoryStore(testDim), discard)
	assert.False(t, broken.AddImageFile(ctx, path, ""))

	flaky := &flakyStore{VectorStore: newMemoryStore(testDim), failOn: path}
	uc := NewIngestUseCase(mockEmbedder(), flaky, discard)
	assert.False(t, uc.AddImageFile(ctx, path, ""))
	assert.True(t, uc.AddImageFile(ctx, path, "renamed.png"))

	summary := uc.BatchAddSummary(ctx, []string{filepath.Join(dir, "missing.png")}, nil)
	require.Len(t, summary.Failed, 1)
	assert.Equal(t, string(errs.CodeSourceRead), summary.Failed[0].Code)

	assert.False(t, uc.AddImage(ctx, nil, "nil.png"))
}
