// Package ledger implements the durable staging area between the
// embedding-generation pass and store reconciliation.
package ledger

import (
	"log/slog"
	"path/filepath"

	"github.com/elliot-woods/pgvector-search/internal/errs"
	"github.com/elliot-woods/pgvector-search/internal/port"
)

// Header is the reserved first row of a CSV ledger.
var Header = []string{"image_path", "embedding"}

const (
	BackendCSV  = "csv"
	BackendBolt = "bolt"

	baseName = "image_embeddings"
)

// Path returns the ledger artifact path for a backend inside dir.
func Path(dir, backend string) string {
	switch backend {
	case BackendBolt:
		return filepath.Join(dir, baseName+".db")
	default:
		return filepath.Join(dir, baseName+".csv")
	}
}

// Open returns the Stage for backend. fingerprint identifies the vector
// space (model and dimension) and is only enforced by backends that can
// record it.
func Open(backend, dir, fingerprint string, log *slog.Logger) (port.Stage, error) {
	path := Path(dir, backend)
	switch backend {
	case BackendCSV, "":
		return NewCSVLedger(path, log), nil
	case BackendBolt:
		return NewBoltLedger(path, fingerprint, log), nil
	default:
		return nil, errs.Errorf(errs.CodeConfig, "unsupported ledger backend %q", backend)
	}
}
