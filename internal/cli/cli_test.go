package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elliot-woods/pgvector-search/internal/domain"
)

func writePNG(t *testing.T, path string, c color.Color) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, c)
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

// setupEnv points every path at a temp dir and selects the embedded
// sqlite store with the deterministic mock encoder.
func setupEnv(t *testing.T) (imagesDir string) {
	t.Helper()
	root := t.TempDir()
	imagesDir = filepath.Join(root, "images")
	require.NoError(t, os.MkdirAll(imagesDir, 0o755))

	t.Setenv("EMBEDDING_PROVIDER", "mock")
	t.Setenv("EMBEDDING_DIMENSION", "8")
	t.Setenv("STORE_BACKEND", "sqlite")
	t.Setenv("SQLITE_PATH", filepath.Join(root, "vectors.db"))
	t.Setenv("EMBEDDINGS_DIR", filepath.Join(root, "embeddings"))
	t.Setenv("MODELS_DIR", filepath.Join(root, "models"))
	t.Setenv("IMAGES_DIR", imagesDir)
	t.Setenv("TESTING", "")
	t.Setenv("LEDGER_BACKEND", "csv")
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	return imagesDir
}

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, rootCmd.ExecuteContext(ctx), "stderr: %s", errOut.String())
	return out.String()
}

func TestCLI_GenerateReconcileSearch(t *testing.T) {
	imagesDir := setupEnv(t)
	red := filepath.Join(imagesDir, "red.png")
	green := filepath.Join(imagesDir, "green.png")
	writePNG(t, red, color.RGBA{R: 255, A: 255})
	writePNG(t, green, color.RGBA{G: 255, A: 255})

	out := run(t, "generate", "--no-progress")
	assert.Contains(t, out, "Generation complete")

	out = run(t, "reconcile", "--mode", "skip")
	assert.Contains(t, out, "mode=skip")

	out = run(t, "search", "--image", red, "-k", "2", "--json")
	var results []domain.SearchResult
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 2)
	assert.Equal(t, red, results[0].Identifier)
	assert.Equal(t, green, results[1].Identifier)
	assert.LessOrEqual(t, results[0].Distance, results[1].Distance)
}

func TestCLI_ReconcileWithoutLedger(t *testing.T) {
	setupEnv(t)

	out := run(t, "reconcile")
	assert.Contains(t, out, "No embeddings to reconcile")
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{500 * time.Millisecond, "<1s"},
		{42 * time.Second, "42s"},
		{3*time.Minute + 5*time.Second, "3m5s"},
		{2*time.Hour + 7*time.Minute, "2h7m"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatDuration(tt.d))
	}
}
