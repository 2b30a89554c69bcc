package usecase

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/elliot-woods/pgvector-search/internal/adapter/embedding"
	"github.com/elliot-woods/pgvector-search/internal/adapter/store"
	"github.com/elliot-woods/pgvector-search/internal/domain"
	"github.com/elliot-woods/pgvector-search/internal/errs"
	"github.com/elliot-woods/pgvector-search/internal/logging"
	"github.com/elliot-woods/pgvector-search/internal/port"
)

const testDim = 8

func pngBytes(t *testing.T, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func writeImage(t *testing.T, dir, name string, shade uint8) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, pngBytes(t, color.RGBA{R: shade, G: 255 - shade, B: shade / 2, A: 255}), 0o644))
	return path
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func mustGet(t *testing.T, s port.VectorStore, id string) domain.Vector {
	t.Helper()
	rec, err := s.Get(context.Background(), id)
	require.NoError(t, err)
	return rec.Vector
}

func newMemoryStore(dim int) *store.MemoryStore {
	return store.NewMemoryStore(dim)
}

func mockEmbedder() *embedding.Mock {
	return embedding.NewMockEmbedder(testDim)
}

var discard = logging.Discard()

// failingEmbedder fails every call.
type failingEmbedder struct {
	port.Embedder
}

func (failingEmbedder) EmbedImage(context.Context, image.Image) (domain.Vector, error) {
	return nil, errors.New("oracle unavailable")
}

func (failingEmbedder) EmbedText(context.Context, string) (domain.Vector, error) {
	return nil, errors.New("oracle unavailable")
}

// flakyStore fails writes for one identifier.
type flakyStore struct {
	port.VectorStore
	failOn string
}

func (s *flakyStore) Begin(ctx context.Context) (port.VectorTx, error) {
	tx, err := s.VectorStore.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &flakyTx{VectorTx: tx, failOn: s.failOn}, nil
}

type flakyTx struct {
	port.VectorTx
	failOn string
}

func (tx *flakyTx) InsertIfAbsent(ctx context.Context, rec domain.EmbeddingRecord) (bool, error) {
	if rec.Identifier == tx.failOn {
		return false, errs.New(errs.CodeStore, "connection reset")
	}
	return tx.VectorTx.InsertIfAbsent(ctx, rec)
}

func (tx *flakyTx) Upsert(ctx context.Context, rec domain.EmbeddingRecord) error {
	if rec.Identifier == tx.failOn {
		return errs.New(errs.CodeStore, "connection reset")
	}
	return tx.VectorTx.Upsert(ctx, rec)
}
