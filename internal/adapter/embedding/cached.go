package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.etcd.io/bbolt"

	"github.com/elliot-woods/pgvector-search/internal/domain"
	"github.com/elliot-woods/pgvector-search/internal/port"
)

var bucketEmbeddings = []byte("embeddings")

// LockTimeout bounds the wait for another process's lock on the cache file.
var LockTimeout = time.Second

// Cached wraps an oracle with a persistent on-disk cache under the models
// directory, so a probe or image seen before is served from disk instead
// of being re-encoded. Cache failures are logged and never fail the call.
type Cached struct {
	inner port.Embedder
	db    *bbolt.DB
	log   *slog.Logger
}

var _ port.Embedder = (*Cached)(nil)

type storedVector struct {
	Vector domain.Vector `json:"v"`
}

// CachePath returns MODELS_DIR/<model basename>/embeddings.db.
func CachePath(modelsDir, model string) string {
	name := model
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return filepath.Join(modelsDir, name, "embeddings.db")
}

// NewCached opens (or creates) the cache database at path.
func NewCached(inner port.Embedder, path string, log *slog.Logger) (*Cached, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create models directory: %w", err)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: LockTimeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open embedding cache: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketEmbeddings)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create embeddings bucket: %w", err)
	}

	if log == nil {
		log = slog.Default()
	}
	return &Cached{inner: inner, db: db, log: log}, nil
}

func (c *Cached) EmbedImage(ctx context.Context, img image.Image) (domain.Vector, error) {
	digest := pixelDigest(img)
	key := c.key("image", digest[:])
	return c.through(key, func() (domain.Vector, error) {
		return c.inner.EmbedImage(ctx, img)
	})
}

func (c *Cached) EmbedText(ctx context.Context, text string) (domain.Vector, error) {
	key := c.key("text", []byte(text))
	return c.through(key, func() (domain.Vector, error) {
		return c.inner.EmbedText(ctx, text)
	})
}

func (c *Cached) through(key []byte, compute func() (domain.Vector, error)) (domain.Vector, error) {
	if v, ok := c.get(key); ok {
		return v, nil
	}

	v, err := compute()
	if err != nil {
		return nil, err
	}

	if err := c.put(key, v); err != nil {
		c.log.Warn("embedding cache write failed", "error", err)
	}
	return v, nil
}

func (c *Cached) get(key []byte) (domain.Vector, bool) {
	var v domain.Vector
	err := c.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketEmbeddings).Get(key)
		if data == nil {
			return nil
		}
		var stored storedVector
		if err := json.Unmarshal(data, &stored); err != nil {
			return nil // corrupted entries are recomputed
		}
		v = stored.Vector
		return nil
	})
	if err != nil || len(v) != c.inner.Dimension() {
		return nil, false
	}
	return v, true
}

func (c *Cached) put(key []byte, v domain.Vector) error {
	data, err := json.Marshal(storedVector{Vector: v})
	if err != nil {
		return err
	}
	return c.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketEmbeddings).Put(key, data)
	})
}

// key scopes entries by model so that switching models never serves
// vectors from a different space.
func (c *Cached) key(kind string, payload []byte) []byte {
	h := sha256.New()
	h.Write([]byte(c.inner.ModelName()))
	h.Write([]byte{0})
	h.Write([]byte(kind))
	h.Write([]byte{0})
	h.Write(payload)
	return []byte(hex.EncodeToString(h.Sum(nil)))
}

func (c *Cached) Dimension() int {
	return c.inner.Dimension()
}

func (c *Cached) ModelName() string {
	return c.inner.ModelName()
}

// Len returns the number of cached vectors.
func (c *Cached) Len() int {
	n := 0
	_ = c.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(bucketEmbeddings).Stats().KeyN
		return nil
	})
	return n
}

func (c *Cached) Close() error {
	return c.db.Close()
}
