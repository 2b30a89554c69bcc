package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elliot-woods/pgvector-search/internal/errs"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, envs := range envBindings {
		for _, env := range envs {
			t.Setenv(env, "")
		}
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "images", cfg.Store.Table)
	assert.Equal(t, "postgres", cfg.Store.Backend)
	assert.Equal(t, 5432, cfg.Store.Port)
	assert.Equal(t, "csv", cfg.Ledger.Backend)
	assert.Equal(t, "embeddings", cfg.Paths.EmbeddingsDir)
	assert.Empty(t, cfg.Validate())
}

func TestLoad_NonExistent(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("/nonexistent/path/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoad_ValidYAML(t *testing.T) {
	clearEnv(t)
	configPath := filepath.Join(t.TempDir(), "pgsearch.yaml")
	content := `
store:
  backend: sqlite
  sqlite_path: /tmp/vec.db
  table: photos
embedding:
  provider: mock
  dimension: 16
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o644))

	cfg, err := Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Store.Backend)
	assert.Equal(t, "photos", cfg.Store.Table)
	assert.Equal(t, 16, cfg.Embedding.Dimension)
	assert.Equal(t, "mock", cfg.Embedding.Provider)
	assert.Equal(t, "jina-clip-v1", cfg.Embedding.Model, "unset fields keep defaults")
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	clearEnv(t)
	configPath := filepath.Join(t.TempDir(), "pgsearch.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("store:\n  host: from-file\n"), 0o644))

	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_PORT", "6543")
	t.Setenv("DB_NAME", "vectors")
	t.Setenv("MODEL_NAME", "openai/clip-vit-base-patch32")
	t.Setenv("TESTING", "1")
	t.Setenv("TEST_IMAGES_DIR", "testdata/images")

	cfg, err := Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, "db.internal", cfg.Store.Host)
	assert.Equal(t, 6543, cfg.Store.Port)
	assert.Equal(t, "vectors", cfg.Store.Name)
	assert.Equal(t, "openai/clip-vit-base-patch32", cfg.Embedding.Model)
	assert.True(t, cfg.Paths.Testing)

	dir, err := cfg.SourceImagesDir()
	require.NoError(t, err)
	assert.Equal(t, "testdata/images", dir)
}

func TestLoad_EnvFileDoesNotOverride(t *testing.T) {
	clearEnv(t)
	const key = "PGSEARCH_CONFIG_TEST_MODELS"
	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("IMAGES_DIR=/from/dotenv\n"+key+"=/cache\n"), 0o644))

	t.Setenv("IMAGES_DIR", "/from/env")
	t.Cleanup(func() { _ = os.Unsetenv(key) })

	cfg, err := Load("", envFile)
	require.NoError(t, err)
	assert.Equal(t, "/from/env", cfg.Paths.ImagesDir)
	assert.Equal(t, "/cache", os.Getenv(key))
}

func TestLoad_InvalidConfig(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORE_BACKEND", "mongodb")
	t.Setenv("LEDGER_BACKEND", "parquet")

	_, err := Load("")
	require.Error(t, err)
	assert.True(t, errs.HasCode(err, errs.CodeConfig))
	assert.Contains(t, err.Error(), "store.backend")
	assert.Contains(t, err.Error(), "ledger.backend")
}

func TestSourceImagesDir(t *testing.T) {
	cfg := DefaultConfig()
	_, err := cfg.SourceImagesDir()
	assert.True(t, errs.HasCode(err, errs.CodeConfig))

	cfg.Paths.ImagesDir = "photos"
	dir, err := cfg.SourceImagesDir()
	require.NoError(t, err)
	assert.Equal(t, "photos", dir)

	cfg.Paths.Testing = true
	_, err = cfg.SourceImagesDir()
	assert.ErrorContains(t, err, "TEST_IMAGES_DIR")
}

func TestSave(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "pgsearch.yaml")
	cfg := DefaultConfig()
	cfg.Store.Table = "gallery"
	cfg.Logging.Format = "json"

	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "gallery", loaded.Store.Table)
	assert.Equal(t, "json", loaded.Logging.Format)
}
