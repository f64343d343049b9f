package session

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gkiler/visualization-for-preds/internal/annotation"
	"github.com/gkiler/visualization-for-preds/internal/config"
	"github.com/gkiler/visualization-for-preds/internal/db"
	"github.com/gkiler/visualization-for-preds/internal/persist"
)

// Backend keeps a source's annotation log between sessions. Paths are absolute.
type Backend interface {
	Load(sourcePath string) ([]annotation.Record, error)
	Save(sourcePath, fingerprint string, records []annotation.Record) error
	Close() error
}

// NewBackend opens the backend selected by configuration
func NewBackend(cfg config.AnnotationsConfig) (Backend, error) {
	switch cfg.Backend {
	case "sqlite":
		return OpenSQLiteBackend(cfg.Path)
	case "json":
		return &JSONBackend{Dir: cfg.Path}, nil
	default:
		return nil, fmt.Errorf("unknown annotation backend %q", cfg.Backend)
	}
}

// SQLiteBackend stores every source's log in one database
type SQLiteBackend struct {
	db *db.DB
}

// OpenSQLiteBackend opens (and creates) the database at path
func OpenSQLiteBackend(path string) (*SQLiteBackend, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}
	d, err := db.OpenDB(path)
	if err != nil {
		return nil, err
	}
	return &SQLiteBackend{db: d}, nil
}

func (b *SQLiteBackend) Load(sourcePath string) ([]annotation.Record, error) {
	records, err := b.db.LoadRecords(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("loading annotations for %s: %w", sourcePath, err)
	}
	return records, nil
}

func (b *SQLiteBackend) Save(sourcePath, fingerprint string, records []annotation.Record) error {
	if err := b.db.SaveRecords(sourcePath, fingerprint, records); err != nil {
		return fmt.Errorf("saving annotations for %s: %w", sourcePath, err)
	}
	return nil
}

// Sources lists the source files that have a stored log
func (b *SQLiteBackend) Sources() ([]db.SourceInfo, error) {
	return b.db.ListSources()
}

// Forget deletes the stored log of one source
func (b *SQLiteBackend) Forget(sourcePath string) error {
	if err := b.db.DeleteSource(sourcePath); err != nil {
		return fmt.Errorf("forgetting %s: %w", sourcePath, err)
	}
	return nil
}

func (b *SQLiteBackend) Close() error { return b.db.Close() }

// JSONBackend writes one snapshot file per source. With an empty Dir the
// snapshot sits next to the source as <name>.annotations.json.
type JSONBackend struct {
	Dir string
}

// SidecarSuffix is appended to a source file name when Dir is empty
const SidecarSuffix = ".annotations.json"

// SidecarPath returns where the snapshot for sourcePath is kept
func (b *JSONBackend) SidecarPath(sourcePath string) string {
	if b.Dir == "" {
		return sourcePath + SidecarSuffix
	}
	sum := sha256.Sum256([]byte(sourcePath))
	name := strings.TrimSuffix(filepath.Base(sourcePath), filepath.Ext(sourcePath))
	return filepath.Join(b.Dir, name+"-"+hex.EncodeToString(sum[:4])+".json")
}

func (b *JSONBackend) Load(sourcePath string) ([]annotation.Record, error) {
	data, err := os.ReadFile(b.SidecarPath(sourcePath))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading annotation sidecar: %w", err)
	}
	snap, err := annotation.DecodeSnapshot(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return snap.Records, nil
}

func (b *JSONBackend) Save(sourcePath, fingerprint string, records []annotation.Record) error {
	path := b.SidecarPath(sourcePath)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating sidecar directory: %w", err)
	}
	var buf bytes.Buffer
	err := annotation.EncodeSnapshot(&buf, annotation.Snapshot{
		Version:     annotation.SnapshotVersion,
		SavedAt:     time.Now().UTC(),
		Source:      sourcePath,
		Fingerprint: fingerprint,
		Records:     records,
	})
	if err != nil {
		return err
	}
	return persist.WriteFileAtomic(path, buf.Bytes())
}

func (b *JSONBackend) Close() error { return nil }
