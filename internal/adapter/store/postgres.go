package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/elliot-woods/pgvector-search/internal/domain"
	"github.com/elliot-woods/pgvector-search/internal/errs"
	"github.com/elliot-woods/pgvector-search/internal/port"
)

var _ port.VectorStore = (*PostgresStore)(nil)

// PostgresStore keeps embeddings in a pgvector column and ranks with the
// <=> cosine distance operator.
type PostgresStore struct {
	pool      *pgxpool.Pool
	table     string
	dimension int
}

// NewPostgresStore connects with a libpq style DSN and makes sure the vector
// extension and the table exist.
func NewPostgresStore(ctx context.Context, dsn, table string, dimension int) (*PostgresStore, error) {
	if !validTableName(table) {
		return nil, errs.Errorf(errs.CodeConfig, "invalid table name %q", table)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errs.Wrap(err, errs.CodeStore, "connecting to postgres")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errs.Wrap(err, errs.CodeStore, "pinging postgres")
	}

	s := &PostgresStore{
		pool:      pool,
		table:     pgx.Identifier{table}.Sanitize(),
		dimension: dimension,
	}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return errs.Wrap(err, errs.CodeStore, "creating vector extension")
	}
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	path      TEXT PRIMARY KEY,
	embedding vector(%d) NOT NULL
)`, s.table, s.dimension)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return errs.Wrap(err, errs.CodeStore, "creating table")
	}
	return nil
}

func (s *PostgresStore) Identifiers(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.pool.Query(ctx, `SELECT path FROM `+s.table)
	if err != nil {
		return nil, errs.Wrap(err, errs.CodeStore, "listing identifiers")
	}
	paths, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, errs.Wrap(err, errs.CodeStore, "scanning identifiers")
	}

	ids := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		ids[p] = struct{}{}
	}
	return ids, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (domain.EmbeddingRecord, error) {
	var vec pgvector.Vector
	err := s.pool.QueryRow(ctx, `SELECT embedding FROM `+s.table+` WHERE path = $1`, id).Scan(&vec)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.EmbeddingRecord{}, errs.New(errs.CodeStoreNotFound, "record not found", errs.FieldIdentifier(id))
	}
	if err != nil {
		return domain.EmbeddingRecord{}, errs.Wrap(err, errs.CodeStore, "reading record", errs.FieldIdentifier(id))
	}
	return domain.EmbeddingRecord{Identifier: id, Vector: domain.FromFloat32(vec.Slice())}, nil
}

func (s *PostgresStore) Nearest(ctx context.Context, query domain.Vector, k int) ([]domain.SearchResult, error) {
	if err := checkDimension(s.dimension, query); err != nil {
		return nil, err
	}
	if k <= 0 {
		return []domain.SearchResult{}, nil
	}

	q := `SELECT path, embedding <=> $1::vector AS distance FROM ` + s.table + `
ORDER BY distance, path
LIMIT $2`
	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(query.Float32()), k)
	if err != nil {
		return nil, errs.Wrap(err, errs.CodeStore, "searching vectors")
	}
	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.SearchResult, error) {
		var r domain.SearchResult
		err := row.Scan(&r.Identifier, &r.Distance)
		return r, err
	})
	if err != nil {
		return nil, errs.Wrap(err, errs.CodeStore, "scanning search results")
	}
	if results == nil {
		results = []domain.SearchResult{}
	}
	return results, nil
}

func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM `+s.table).Scan(&n); err != nil {
		return 0, errs.Wrap(err, errs.CodeStore, "counting records")
	}
	return n, nil
}

func (s *PostgresStore) Begin(ctx context.Context) (port.VectorTx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, errs.Wrap(err, errs.CodeStore, "beginning transaction")
	}
	return &postgresTx{tx: tx, table: s.table, dimension: s.dimension}, nil
}

func (s *PostgresStore) Dimension() int {
	return s.dimension
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

type postgresTx struct {
	tx        pgx.Tx
	table     string
	dimension int
}

func (t *postgresTx) InsertIfAbsent(ctx context.Context, rec domain.EmbeddingRecord) (bool, error) {
	if err := checkDimension(t.dimension, rec.Vector); err != nil {
		return false, err
	}
	tag, err := t.tx.Exec(ctx,
		`INSERT INTO `+t.table+` (path, embedding) VALUES ($1, $2::vector) ON CONFLICT (path) DO NOTHING`,
		rec.Identifier, pgvector.NewVector(rec.Vector.Float32()))
	if err != nil {
		return false, errs.Wrap(err, errs.CodeStore, "inserting record", errs.FieldIdentifier(rec.Identifier))
	}
	return tag.RowsAffected() == 1, nil
}

func (t *postgresTx) Upsert(ctx context.Context, rec domain.EmbeddingRecord) error {
	if err := checkDimension(t.dimension, rec.Vector); err != nil {
		return err
	}
	_, err := t.tx.Exec(ctx,
		`INSERT INTO `+t.table+` (path, embedding) VALUES ($1, $2::vector)
ON CONFLICT (path) DO UPDATE SET embedding = EXCLUDED.embedding`,
		rec.Identifier, pgvector.NewVector(rec.Vector.Float32()))
	if err != nil {
		return errs.Wrap(err, errs.CodeStore, "upserting record", errs.FieldIdentifier(rec.Identifier))
	}
	return nil
}

func (t *postgresTx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return errs.Wrap(err, errs.CodeStore, "committing transaction")
	}
	return nil
}

func (t *postgresTx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return errs.Wrap(err, errs.CodeStore, "rolling back transaction")
	}
	return nil
}
