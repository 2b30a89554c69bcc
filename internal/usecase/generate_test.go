package usecase

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elliot-woods/pgvector-search/internal/adapter/fs"
	"github.com/elliot-woods/pgvector-search/internal/adapter/ledger"
	"github.com/elliot-woods/pgvector-search/internal/errs"
)

func newGenerate(t *testing.T, ledgerDir string) *GenerateUseCase {
	t.Helper()
	stage, err := ledger.Open(ledger.BackendCSV, ledgerDir, "", discard)
	require.NoError(t, err)
	t.Cleanup(func() { _ = stage.Close() })
	return NewGenerateUseCase(fs.NewWalker(fs.DefaultImageIncludes, nil), mockEmbedder(), stage, discard)
}

func TestGenerate_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	images := t.TempDir()
	ledgerDir := t.TempDir()
	writeImage(t, images, "a.png", 10)
	writeImage(t, images, "b.png", 20)
	writeImage(t, images, "notes.txt", 30)

	var calls int
	summary, err := newGenerate(t, ledgerDir).Generate(ctx, images, func(done, total int) {
		calls++
		assert.Equal(t, 2, total)
	})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Zero(t, summary.FailedCount())
	assert.Equal(t, 2, calls)

	summary, err = newGenerate(t, ledgerDir).Generate(ctx, images, nil)
	require.NoError(t, err)
	assert.Zero(t, summary.Succeeded)
	assert.Equal(t, 2, summary.Skipped)

	data, err := os.ReadFile(ledger.Path(ledgerDir, ledger.BackendCSV))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "image_path,embedding", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], filepath.Join(images, "a.png")+`,"[`))
}

func TestGenerate_ItemFailuresDoNotStopThePass(t *testing.T) {
	images := t.TempDir()
	writeImage(t, images, "good.png", 10)
	writeFile(t, filepath.Join(images, "broken.jpg"), "not an image")

	summary, err := newGenerate(t, t.TempDir()).Generate(context.Background(), images, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)
	require.Len(t, summary.Failed, 1)
	assert.Equal(t, filepath.Join(images, "broken.jpg"), summary.Failed[0].Identifier)
	assert.Equal(t, string(errs.CodeDecode), summary.Failed[0].Code)
}

func TestGenerate_OracleFailureIsRecorded(t *testing.T) {
	images := t.TempDir()
	writeImage(t, images, "a.png", 10)

	stage, err := ledger.Open(ledger.BackendCSV, t.TempDir(), "", discard)
	require.NoError(t, err)
	uc := NewGenerateUseCase(fs.NewWalker(fs.DefaultImageIncludes, nil), failingEmbedder{mockEmbedder()}, stage, discard)

	summary, err := uc.Generate(context.Background(), images, nil)
	require.NoError(t, err)
	require.Len(t, summary.Failed, 1)
	assert.Equal(t, string(errs.CodeEncode), summary.Failed[0].Code)
	assert.False(t, stage.Exists())
}

func TestGenerate_NoImages(t *testing.T) {
	ledgerDir := t.TempDir()
	summary, err := newGenerate(t, ledgerDir).Generate(context.Background(), t.TempDir(), nil)
	require.NoError(t, err)
	assert.Zero(t, summary.Succeeded)
	assert.NoFileExists(t, ledger.Path(ledgerDir, ledger.BackendCSV))
}

func TestGenerate_RequiresSourceDir(t *testing.T) {
	_, err := newGenerate(t, t.TempDir()).Generate(context.Background(), "", nil)
	assert.True(t, errs.HasCode(err, errs.CodeConfig))
}
