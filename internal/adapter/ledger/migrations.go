package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/elliot-woods/pgvector-search/internal/errs"
)

// CurrentSchemaVersion is the bolt ledger layout version.
// Increment this when making breaking changes to the storage format.
const CurrentSchemaVersion = 1

var (
	keySchemaVersion = []byte("schema_version")
	keyFingerprint   = []byte("fingerprint")
)

// SchemaInfo stores schema version and the vector-space fingerprint.
type SchemaInfo struct {
	Version     int    `json:"version"`
	Fingerprint string `json:"fingerprint"`
}

// Fingerprint identifies a vector space. Ledgers written by one model must
// never be mixed with vectors from another.
func Fingerprint(model string, dimension int) string {
	data, _ := json.Marshal(struct {
		Model     string `json:"model"`
		Dimension int    `json:"dimension"`
	}{model, dimension})
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:8])
}

// GetSchemaInfo retrieves the current schema info from the ledger.
func (l *BoltLedger) GetSchemaInfo() (*SchemaInfo, error) {
	if err := l.open(); err != nil {
		return nil, err
	}
	var info SchemaInfo
	err := l.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketMeta)
		if versionData := b.Get(keySchemaVersion); versionData != nil {
			if err := json.Unmarshal(versionData, &info.Version); err != nil {
				info.Version = 0
			}
		}
		if fp := b.Get(keyFingerprint); fp != nil {
			info.Fingerprint = string(fp)
		}
		return nil
	})
	return &info, err
}

// CheckFingerprint fails with a ConfigError when the ledger was written
// for a different vector space or by a newer layout. It stamps the
// current schema version on first use.
func (l *BoltLedger) CheckFingerprint() error {
	info, err := l.GetSchemaInfo()
	if err != nil {
		return err
	}

	if info.Version > CurrentSchemaVersion {
		return errs.Errorf(errs.CodeConfig, "ledger created by newer version (v%d > v%d)", info.Version, CurrentSchemaVersion)
	}
	if l.fingerprint != "" && info.Fingerprint != "" && info.Fingerprint != l.fingerprint {
		return errs.New(errs.CodeConfig, "ledger was written by a different embedding model or dimension",
			errs.Field("ledger_fingerprint", info.Fingerprint),
			errs.Field("current_fingerprint", l.fingerprint),
		)
	}

	if info.Version < CurrentSchemaVersion {
		return l.db.Update(func(tx *bbolt.Tx) error {
			versionData, err := json.Marshal(CurrentSchemaVersion)
			if err != nil {
				return err
			}
			if err := tx.Bucket(bucketMeta).Put(keySchemaVersion, versionData); err != nil {
				return fmt.Errorf("stamping schema version: %w", err)
			}
			return nil
		})
	}
	return nil
}
