package store

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/elliot-woods/pgvector-search/internal/errs"
	"github.com/elliot-woods/pgvector-search/internal/port"
)

const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendQdrant   = "qdrant"
)

// Options carries everything any backend needs. Unused fields are ignored.
type Options struct {
	Backend   string
	Table     string
	Dimension int

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string

	SQLitePath string

	QdrantHost       string
	QdrantPort       int
	QdrantCollection string
}

// PostgresDSN builds a postgres:// URL from the discrete connection settings.
func (o Options) PostgresDSN() string {
	u := url.URL{
		Scheme: "postgres",
		Host:   o.DBHost + ":" + strconv.Itoa(o.DBPort),
		Path:   "/" + o.DBName,
	}
	if o.DBUser != "" {
		if o.DBPassword != "" {
			u.User = url.UserPassword(o.DBUser, o.DBPassword)
		} else {
			u.User = url.User(o.DBUser)
		}
	}
	if o.DBSSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {o.DBSSLMode}}.Encode()
	}
	return u.String()
}

// Open connects to the configured backend and bootstraps its schema.
func Open(ctx context.Context, opts Options) (port.VectorStore, error) {
	if opts.Dimension <= 0 {
		return nil, errs.Errorf(errs.CodeConfig, "store dimension must be positive, got %d", opts.Dimension)
	}

	switch opts.Backend {
	case BackendMemory:
		return NewMemoryStore(opts.Dimension), nil
	case BackendSQLite:
		return NewSQLiteStore(opts.SQLitePath, opts.Table, opts.Dimension)
	case BackendPostgres, "":
		return NewPostgresStore(ctx, opts.PostgresDSN(), opts.Table, opts.Dimension)
	case BackendQdrant:
		collection := opts.QdrantCollection
		if collection == "" {
			collection = opts.Table
		}
		return NewQdrantStore(ctx, opts.QdrantHost, opts.QdrantPort, collection, opts.Dimension)
	default:
		return nil, errs.New(errs.CodeConfig, fmt.Sprintf("unknown store backend %q", opts.Backend))
	}
}
