package ledger

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/elliot-woods/pgvector-search/internal/domain"
	"github.com/elliot-woods/pgvector-search/internal/errs"
	"github.com/elliot-woods/pgvector-search/internal/port"
)

// CSVLedger is a two-column, human-inspectable ledger:
//
//	image_path,embedding
//	images/a.jpg,"[0.1, 0.2, ...]"
//
// Rows are only ever appended. It assumes exclusive access for the
// duration of a pass.
type CSVLedger struct {
	path string
	log  *slog.Logger

	seen   map[string]struct{}
	loaded bool
	// malformed is set when the file has content but no reserved header.
	// Appending to it would duplicate every identifier on each run.
	malformed bool

	f *os.File
	w *csv.Writer
}

var _ port.Stage = (*CSVLedger)(nil)

func NewCSVLedger(path string, log *slog.Logger) *CSVLedger {
	if log == nil {
		log = slog.Default()
	}
	return &CSVLedger{path: path, log: log}
}

func (l *CSVLedger) Path() string {
	return l.path
}

func (l *CSVLedger) Exists() bool {
	info, err := os.Stat(l.path)
	return err == nil && !info.IsDir()
}

// LoadExistingIdentifiers reads the identifier column once. A missing file
// or a malformed header yields an empty set.
func (l *CSVLedger) LoadExistingIdentifiers(ctx context.Context) (map[string]struct{}, error) {
	seen, err := l.readIdentifiers(ctx)
	if err != nil {
		return nil, err
	}
	l.seen = seen
	l.loaded = true
	return copySet(seen), nil
}

func (l *CSVLedger) readIdentifiers(ctx context.Context) (map[string]struct{}, error) {
	seen := make(map[string]struct{})
	l.malformed = false

	f, err := os.Open(l.path)
	if err != nil {
		if !os.IsNotExist(err) {
			l.log.Warn("ledger unreadable, treating as empty", "path", l.path, "error", err)
		}
		return seen, nil
	}
	defer f.Close()

	r := newReader(f)
	header, err := r.Read()
	if err != nil || !isHeader(header) {
		if err != io.EOF {
			l.log.Warn("ledger header missing or malformed, treating as empty", "path", l.path)
			l.malformed = true
		}
		return seen, nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row, err := r.Read()
		if err == io.EOF {
			return seen, nil
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				l.log.Warn("skipping unreadable ledger row", "path", l.path, "line", perr.Line, "error", err)
				continue
			}
			return nil, errs.Wrap(err, errs.CodeLedgerIO, "reading ledger")
		}
		if len(row) == 0 || row[0] == "" {
			continue
		}
		seen[row[0]] = struct{}{}
	}
}

// AppendIfAbsent writes and flushes one row unless rec.Identifier is
// already recorded. The header is written when the file is created. A
// non-empty file without the header is never appended to.
func (l *CSVLedger) AppendIfAbsent(ctx context.Context, rec domain.EmbeddingRecord) (bool, error) {
	if !l.loaded {
		if _, err := l.LoadExistingIdentifiers(ctx); err != nil {
			return false, err
		}
	}
	if _, ok := l.seen[rec.Identifier]; ok {
		return false, nil
	}
	if l.malformed {
		l.log.Error("refusing to append to ledger without a valid header", "path", l.path, "identifier", rec.Identifier)
		return false, errs.New(errs.CodeLedgerIO, "ledger header missing or malformed, refusing to append",
			errs.Field("path", l.path),
			errs.FieldIdentifier(rec.Identifier),
		)
	}

	literal, err := domain.FormatVector(rec.Vector)
	if err != nil {
		return false, errs.Wrap(err, errs.CodeEncode, "serialising embedding", errs.FieldIdentifier(rec.Identifier))
	}

	if err := l.openWriter(); err != nil {
		return false, err
	}

	if err := l.w.Write([]string{rec.Identifier, literal}); err != nil {
		return false, errs.Wrap(err, errs.CodeLedgerIO, "appending ledger row", errs.FieldIdentifier(rec.Identifier))
	}
	l.w.Flush()
	if err := l.w.Error(); err != nil {
		return false, errs.Wrap(err, errs.CodeLedgerIO, "flushing ledger row", errs.FieldIdentifier(rec.Identifier))
	}

	l.seen[rec.Identifier] = struct{}{}
	return true, nil
}

func (l *CSVLedger) openWriter() error {
	if l.w != nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return errs.Wrap(err, errs.CodeLedgerIO, "creating ledger directory")
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return errs.Wrap(err, errs.CodeLedgerIO, "opening ledger for append")
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return errs.Wrap(err, errs.CodeLedgerIO, "inspecting ledger")
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(Header); err != nil {
			f.Close()
			return errs.Wrap(err, errs.CodeLedgerIO, "writing ledger header")
		}
		w.Flush()
		if err := w.Error(); err != nil {
			f.Close()
			return errs.Wrap(err, errs.CodeLedgerIO, "writing ledger header")
		}
	}

	l.f = f
	l.w = w
	return nil
}

// Scan streams the rows in file order. A first row equal to the header is
// skipped; any other first row is treated as data.
func (l *CSVLedger) Scan(ctx context.Context, fn func(domain.EmbeddingRecord, error) error) error {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return errs.New(errs.CodeNothingToReconcile, "ledger not found", errs.Field("path", l.path))
		}
		return errs.Wrap(err, errs.CodeLedgerIO, "opening ledger")
	}
	defer f.Close()

	r := newReader(f)
	first := true
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		row, err := r.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			var perr *csv.ParseError
			if !errors.As(err, &perr) {
				return errs.Wrap(err, errs.CodeLedgerIO, "reading ledger")
			}
			if cbErr := fn(domain.EmbeddingRecord{}, errs.Wrap(err, errs.CodeParse, "unreadable ledger row")); cbErr != nil {
				return cbErr
			}
			first = false
			continue
		}

		if first {
			first = false
			if isHeader(row) {
				continue
			}
		}
		if len(row) == 0 || (len(row) == 1 && row[0] == "") {
			continue
		}

		rec, rowErr := decodeRow(row)
		if cbErr := fn(rec, rowErr); cbErr != nil {
			return cbErr
		}
	}
}

func decodeRow(row []string) (domain.EmbeddingRecord, error) {
	rec := domain.EmbeddingRecord{Identifier: row[0]}
	if len(row) < 2 {
		return rec, errs.New(errs.CodeParse, "ledger row has no embedding column", errs.FieldIdentifier(row[0]))
	}
	if rec.Identifier == "" {
		return rec, errs.New(errs.CodeParse, "ledger row has an empty identifier")
	}
	v, err := domain.ParseVector(row[1])
	if err != nil {
		return rec, errs.Wrap(err, errs.CodeParse, "parsing embedding", errs.FieldIdentifier(rec.Identifier))
	}
	rec.Vector = v
	return rec, nil
}

func (l *CSVLedger) Close() error {
	if l.f == nil {
		return nil
	}
	l.w.Flush()
	werr := l.w.Error()
	serr := l.f.Sync()
	cerr := l.f.Close()
	l.f, l.w = nil, nil
	if err := errors.Join(werr, serr, cerr); err != nil {
		return errs.Wrap(err, errs.CodeLedgerIO, "closing ledger")
	}
	return nil
}

func newReader(r io.Reader) *csv.Reader {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = false
	return cr
}

func isHeader(row []string) bool {
	if len(row) != len(Header) {
		return false
	}
	for i, h := range Header {
		if strings.TrimSpace(row[i]) != h {
			return false
		}
	}
	return true
}

func copySet(in map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(in))
	for k := range in {
		out[k] = struct{}{}
	}
	return out
}
