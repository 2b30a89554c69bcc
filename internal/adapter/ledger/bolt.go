package ledger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/elliot-woods/pgvector-search/internal/domain"
	"github.com/elliot-woods/pgvector-search/internal/errs"
	"github.com/elliot-woods/pgvector-search/internal/port"
)

// LockTimeout bounds the wait for another pass holding the ledger file.
var LockTimeout = time.Second

var (
	bucketRows  = []byte("rows")
	bucketIndex = []byte("index")
	bucketMeta  = []byte("meta")
)

// BoltLedger stages records in an embedded bbolt file. Rows are keyed by a
// monotonically increasing sequence so Scan replays them in append order;
// a secondary index maps identifier to sequence for the skip check.
type BoltLedger struct {
	path        string
	fingerprint string
	log         *slog.Logger
	db          *bbolt.DB
	checked     bool
}

var _ port.Stage = (*BoltLedger)(nil)

type storedRow struct {
	Identifier string `json:"image_path"`
	Embedding  string `json:"embedding"`
}

// NewBoltLedger returns a ledger at path. The file is opened lazily so
// that a missing ledger can be reported without creating one.
func NewBoltLedger(path, fingerprint string, log *slog.Logger) *BoltLedger {
	if log == nil {
		log = slog.Default()
	}
	return &BoltLedger{path: path, fingerprint: fingerprint, log: log}
}

func (l *BoltLedger) Path() string {
	return l.path
}

func (l *BoltLedger) Exists() bool {
	info, err := os.Stat(l.path)
	return err == nil && !info.IsDir()
}

func (l *BoltLedger) open() error {
	if l.db != nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return errs.Wrap(err, errs.CodeLedgerIO, "creating ledger directory")
	}

	db, err := bbolt.Open(l.path, 0o600, &bbolt.Options{Timeout: LockTimeout})
	if err != nil {
		return errs.Wrap(err, errs.CodeLedgerIO, "failed to open bolt ledger")
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketRows, bucketIndex, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return errs.Wrap(err, errs.CodeLedgerIO, "initialising bolt ledger")
	}

	l.db = db
	return nil
}

// LoadExistingIdentifiers returns the indexed identifiers. A missing or
// unopenable file yields an empty set.
func (l *BoltLedger) LoadExistingIdentifiers(ctx context.Context) (map[string]struct{}, error) {
	seen := make(map[string]struct{})
	if !l.Exists() {
		return seen, nil
	}
	if err := l.open(); err != nil {
		l.log.Warn("ledger unreadable, treating as empty", "path", l.path, "error", err)
		return seen, nil
	}

	err := l.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketIndex).ForEach(func(k, _ []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			seen[string(k)] = struct{}{}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return seen, nil
}

// AppendIfAbsent writes rec in its own transaction unless the identifier
// is already indexed. The first write records the ledger fingerprint;
// later writes under a different fingerprint are refused.
func (l *BoltLedger) AppendIfAbsent(ctx context.Context, rec domain.EmbeddingRecord) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := l.open(); err != nil {
		return false, err
	}
	if !l.checked {
		if err := l.CheckFingerprint(); err != nil {
			return false, err
		}
		l.checked = true
	}

	literal, err := domain.FormatVector(rec.Vector)
	if err != nil {
		return false, errs.Wrap(err, errs.CodeEncode, "serialising embedding", errs.FieldIdentifier(rec.Identifier))
	}
	data, err := json.Marshal(storedRow{Identifier: rec.Identifier, Embedding: literal})
	if err != nil {
		return false, errs.Wrap(err, errs.CodeLedgerIO, "encoding ledger row")
	}

	written := false
	err = l.db.Update(func(tx *bbolt.Tx) error {
		index := tx.Bucket(bucketIndex)
		if index.Get([]byte(rec.Identifier)) != nil {
			return nil
		}

		rows := tx.Bucket(bucketRows)
		seq, err := rows.NextSequence()
		if err != nil {
			return err
		}
		key := seqKey(seq)
		if err := rows.Put(key, data); err != nil {
			return err
		}
		if err := index.Put([]byte(rec.Identifier), key); err != nil {
			return err
		}

		if l.fingerprint != "" {
			if err := tx.Bucket(bucketMeta).Put(keyFingerprint, []byte(l.fingerprint)); err != nil {
				return err
			}
		}
		written = true
		return nil
	})
	if err != nil {
		return false, errs.Wrap(err, errs.CodeLedgerIO, "appending ledger row", errs.FieldIdentifier(rec.Identifier))
	}
	return written, nil
}

// Scan replays rows in append order.
func (l *BoltLedger) Scan(ctx context.Context, fn func(domain.EmbeddingRecord, error) error) error {
	if !l.Exists() {
		return errs.New(errs.CodeNothingToReconcile, "ledger not found", errs.Field("path", l.path))
	}
	if err := l.open(); err != nil {
		return err
	}

	return l.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketRows).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			var row storedRow
			if err := json.Unmarshal(v, &row); err != nil {
				rowErr := errs.Wrap(err, errs.CodeParse, "decoding ledger row", errs.Field("seq", binary.BigEndian.Uint64(k)))
				if cbErr := fn(domain.EmbeddingRecord{}, rowErr); cbErr != nil {
					return cbErr
				}
				continue
			}

			rec, rowErr := decodeRow([]string{row.Identifier, row.Embedding})
			if cbErr := fn(rec, rowErr); cbErr != nil {
				return cbErr
			}
		}
		return nil
	})
}

func (l *BoltLedger) Close() error {
	if l.db == nil {
		return nil
	}
	err := l.db.Close()
	l.db = nil
	return err
}

func seqKey(seq uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, seq)
	return b
}
