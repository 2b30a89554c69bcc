package cli

import (
	"context"
	"time"

	"github.com/elliot-woods/pgvector-search/config"
	"github.com/elliot-woods/pgvector-search/internal/adapter/cache"
	"github.com/elliot-woods/pgvector-search/internal/adapter/embedding"
	"github.com/elliot-woods/pgvector-search/internal/adapter/ledger"
	"github.com/elliot-woods/pgvector-search/internal/adapter/store"
	"github.com/elliot-woods/pgvector-search/internal/errs"
	"github.com/elliot-woods/pgvector-search/internal/port"
)

// deps holds what a command opened so it can be closed in one place.
type deps struct {
	embedder port.Embedder
	store    port.VectorStore
	stage    port.Stage
	closers  []func() error
}

func (d *deps) Close() error {
	var errList []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errList = append(errList, err)
		}
	}
	d.closers = nil
	return errs.Join(errList...)
}

// withEmbedder builds the oracle, fronted by the on-disk cache under the
// models directory and, for query paths, the in-process text probe cache.
func (d *deps) withEmbedder(cfg *config.Config, queryCache bool) error {
	e, err := embedding.New(cfg.Embedding.Provider, embedding.Options{
		Model:      cfg.Embedding.Model,
		BaseURL:    cfg.Embedding.BaseURL,
		APIKeyEnv:  cfg.Embedding.APIKeyEnv,
		Dimension:  cfg.Embedding.Dimension,
		MaxImgSide: cfg.Embedding.MaxImageSide,
		Timeout:    time.Duration(cfg.Embedding.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		return err
	}

	if cfg.Embedding.DiskCache && cfg.Paths.ModelsDir != "" {
		cached, err := embedding.NewCached(e, embedding.CachePath(cfg.Paths.ModelsDir, cfg.Embedding.Model), logger)
		if err != nil {
			logger.Warn("embedding cache unavailable, continuing without it", "error", err)
		} else {
			d.closers = append(d.closers, cached.Close)
			e = cached
		}
	}

	if queryCache && cfg.Embedding.QueryCacheSize > 0 {
		qc := cache.NewQueryCache(cfg.Embedding.QueryCacheSize, time.Duration(cfg.Embedding.QueryCacheTTL)*time.Second)
		e = cache.NewCachedEmbedder(e, qc)
	}

	d.embedder = e
	return nil
}

func (d *deps) withStore(ctx context.Context, cfg *config.Config) error {
	s, err := store.Open(ctx, storeOptions(cfg, d.embedder.Dimension()))
	if err != nil {
		return err
	}
	d.closers = append(d.closers, s.Close)
	d.store = s
	return nil
}

func (d *deps) withLedger(cfg *config.Config) error {
	fingerprint := ledger.Fingerprint(d.embedder.ModelName(), d.embedder.Dimension())
	stage, err := ledger.Open(cfg.Ledger.Backend, cfg.Paths.EmbeddingsDir, fingerprint, logger)
	if err != nil {
		return err
	}
	d.closers = append(d.closers, stage.Close)
	d.stage = stage
	return nil
}

func storeOptions(cfg *config.Config, dimension int) store.Options {
	return store.Options{
		Backend:          cfg.Store.Backend,
		Table:            cfg.Store.Table,
		Dimension:        dimension,
		DBHost:           cfg.Store.Host,
		DBPort:           cfg.Store.Port,
		DBName:           cfg.Store.Name,
		DBUser:           cfg.Store.User,
		DBPassword:       cfg.Store.Password,
		DBSSLMode:        cfg.Store.SSLMode,
		SQLitePath:       cfg.Store.SQLitePath,
		QdrantHost:       cfg.Store.QdrantHost,
		QdrantPort:       cfg.Store.QdrantPort,
		QdrantCollection: cfg.Store.QdrantCollection,
	}
}
