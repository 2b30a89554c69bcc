package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"github.com/elliot-woods/pgvector-search/internal/domain"
	"github.com/elliot-woods/pgvector-search/internal/errs"
	"github.com/elliot-woods/pgvector-search/internal/port"
)

func init() {
	sqlite_vec.Auto()
}

var _ port.VectorStore = (*SQLiteStore)(nil)

// SQLiteStore keeps embeddings in a sqlite-vec vec0 virtual table using
// cosine distance.
type SQLiteStore struct {
	db        *sql.DB
	table     string
	dimension int
}

func NewSQLiteStore(dbPath, table string, dimension int) (*SQLiteStore, error) {
	if !validTableName(table) {
		return nil, errs.Errorf(errs.CodeConfig, "invalid table name %q", table)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, errs.Wrap(err, errs.CodeStore, "opening sqlite db")
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errs.Wrap(err, errs.CodeStore, "pinging sqlite db")
	}

	ddl := fmt.Sprintf(
		`CREATE VIRTUAL TABLE IF NOT EXISTS %s USING vec0(path TEXT PRIMARY KEY, embedding float[%d] distance_metric=cosine)`,
		table, dimension,
	)
	if _, err := db.Exec(ddl); err != nil {
		_ = db.Close()
		return nil, errs.Wrap(err, errs.CodeStore, "creating vec0 table")
	}

	return &SQLiteStore{db: db, table: table, dimension: dimension}, nil
}

func (s *SQLiteStore) Identifiers(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT path FROM `+s.table)
	if err != nil {
		return nil, errs.Wrap(err, errs.CodeStore, "listing identifiers")
	}
	defer func() { _ = rows.Close() }()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errs.Wrap(err, errs.CodeStore, "scanning identifier")
		}
		ids[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(err, errs.CodeStore, "iterating identifiers")
	}
	return ids, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (domain.EmbeddingRecord, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx, `SELECT embedding FROM `+s.table+` WHERE path = ?`, id).Scan(&blob)
	if err == sql.ErrNoRows {
		return domain.EmbeddingRecord{}, errs.New(errs.CodeStoreNotFound, "record not found", errs.FieldIdentifier(id))
	}
	if err != nil {
		return domain.EmbeddingRecord{}, errs.Wrap(err, errs.CodeStore, "reading record", errs.FieldIdentifier(id))
	}
	vec, err := decodeFloat32Blob(blob)
	if err != nil {
		return domain.EmbeddingRecord{}, errs.Wrap(err, errs.CodeStore, "decoding stored vector", errs.FieldIdentifier(id))
	}
	return domain.EmbeddingRecord{Identifier: id, Vector: domain.FromFloat32(vec)}, nil
}

// sqliteMaxKNN is the largest k a vec0 KNN query accepts.
const sqliteMaxKNN = 4096

// Nearest returns up to k rows ordered by ascending cosine distance. k is
// capped at sqliteMaxKNN.
func (s *SQLiteStore) Nearest(ctx context.Context, query domain.Vector, k int) ([]domain.SearchResult, error) {
	if err := checkDimension(s.dimension, query); err != nil {
		return nil, err
	}
	if k <= 0 {
		return []domain.SearchResult{}, nil
	}
	if k > sqliteMaxKNN {
		k = sqliteMaxKNN
	}
	blob, err := sqlite_vec.SerializeFloat32(query.Float32())
	if err != nil {
		return nil, errs.Wrap(err, errs.CodeStore, "serializing query vector")
	}

	q := `SELECT path, distance FROM ` + s.table + `
WHERE embedding MATCH ? AND k = ?
ORDER BY distance`
	rows, err := s.db.QueryContext(ctx, q, blob, k)
	if err != nil {
		return nil, errs.Wrap(err, errs.CodeStore, "searching vectors")
	}
	defer func() { _ = rows.Close() }()

	results := []domain.SearchResult{}
	for rows.Next() {
		var r domain.SearchResult
		if err := rows.Scan(&r.Identifier, &r.Distance); err != nil {
			return nil, errs.Wrap(err, errs.CodeStore, "scanning search result")
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(err, errs.CodeStore, "iterating search results")
	}
	return results, nil
}

func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM `+s.table).Scan(&n); err != nil {
		return 0, errs.Wrap(err, errs.CodeStore, "counting records")
	}
	return n, nil
}

func (s *SQLiteStore) Begin(ctx context.Context) (port.VectorTx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errs.Wrap(err, errs.CodeStore, "beginning transaction")
	}
	return &sqliteTx{tx: tx, table: s.table, dimension: s.dimension}, nil
}

func (s *SQLiteStore) Dimension() int {
	return s.dimension
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type sqliteTx struct {
	tx        *sql.Tx
	table     string
	dimension int
}

func (t *sqliteTx) InsertIfAbsent(ctx context.Context, rec domain.EmbeddingRecord) (bool, error) {
	blob, err := t.serialize(rec)
	if err != nil {
		return false, err
	}

	var exists int
	err = t.tx.QueryRowContext(ctx, `SELECT 1 FROM `+t.table+` WHERE path = ?`, rec.Identifier).Scan(&exists)
	switch {
	case err == nil:
		return false, nil
	case err != sql.ErrNoRows:
		return false, errs.Wrap(err, errs.CodeStore, "checking record", errs.FieldIdentifier(rec.Identifier))
	}

	if _, err := t.tx.ExecContext(ctx, `INSERT INTO `+t.table+`(path, embedding) VALUES (?, ?)`, rec.Identifier, blob); err != nil {
		return false, errs.Wrap(err, errs.CodeStore, "inserting record", errs.FieldIdentifier(rec.Identifier))
	}
	return true, nil
}

func (t *sqliteTx) Upsert(ctx context.Context, rec domain.EmbeddingRecord) error {
	blob, err := t.serialize(rec)
	if err != nil {
		return err
	}

	// vec0 does not support ON CONFLICT; delete first for upsert.
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM `+t.table+` WHERE path = ?`, rec.Identifier); err != nil {
		return errs.Wrap(err, errs.CodeStore, "deleting existing record", errs.FieldIdentifier(rec.Identifier))
	}
	if _, err := t.tx.ExecContext(ctx, `INSERT INTO `+t.table+`(path, embedding) VALUES (?, ?)`, rec.Identifier, blob); err != nil {
		return errs.Wrap(err, errs.CodeStore, "inserting record", errs.FieldIdentifier(rec.Identifier))
	}
	return nil
}

func (t *sqliteTx) serialize(rec domain.EmbeddingRecord) ([]byte, error) {
	if err := checkDimension(t.dimension, rec.Vector); err != nil {
		return nil, err
	}
	blob, err := sqlite_vec.SerializeFloat32(rec.Vector.Float32())
	if err != nil {
		return nil, errs.Wrap(err, errs.CodeStore, "serializing embedding", errs.FieldIdentifier(rec.Identifier))
	}
	return blob, nil
}

func (t *sqliteTx) Commit(_ context.Context) error {
	if err := t.tx.Commit(); err != nil {
		return errs.Wrap(err, errs.CodeStore, "committing transaction")
	}
	return nil
}

func (t *sqliteTx) Rollback(_ context.Context) error {
	if err := t.tx.Rollback(); err != nil && err != sql.ErrTxDone {
		return errs.Wrap(err, errs.CodeStore, "rolling back transaction")
	}
	return nil
}

// decodeFloat32Blob reverses sqlite_vec.SerializeFloat32.
func decodeFloat32Blob(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("blob length %d is not a multiple of 4", len(blob))
	}
	out := make([]float32, len(blob)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return out, nil
}
