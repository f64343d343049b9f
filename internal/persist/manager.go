// Package persist writes committed annotations back into a source file with a
// backup taken first, and restores the file from that backup if the write fails.
package persist

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gkiler/visualization-for-preds/internal/graph"
	"github.com/gkiler/visualization-for-preds/internal/metrics"
)

// State of a persist operation
type State string

const (
	StateIdle          State = "idle"
	StateBackingUp     State = "backing_up"
	StateMaterializing State = "materializing"
	StateWriting       State = "writing"
	StateCommitted     State = "committed"
	StateRolledBack    State = "rolled_back"
)

// Serializer turns a document back into file bytes
type Serializer interface {
	Serialize(d *graph.Document) ([]byte, error)
}

// Result describes a completed persist
type Result struct {
	BackupID           string           `json:"backup_id"`
	UpdatedEntityCount int              `json:"updated_entity_count"`
	Updated            []graph.EntityID `json:"updated"`
	Missing            []graph.EntityID `json:"missing,omitempty"`
	// Document is the materialized document, fingerprinted with the bytes written
	Document *graph.Document `json:"-"`
}

// Manager runs backup, materialize, write and rollback for source files.
// Operations on the same path are serialized; different paths run independently.
type Manager struct {
	backups BackupStore
	logger  *slog.Logger
	metrics *metrics.Metrics

	readFile  func(string) ([]byte, error)
	writeFile func(string, []byte) error
	onState   func(path string, s State)

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// ManagerOption configures a Manager
type ManagerOption func(*Manager)

// WithLogger sets the logger; the default is slog.Default()
func WithLogger(l *slog.Logger) ManagerOption { return func(m *Manager) { m.logger = l } }

// WithMetrics records persist outcomes, backups and rollbacks
func WithMetrics(mt *metrics.Metrics) ManagerOption { return func(m *Manager) { m.metrics = mt } }

// WithStateObserver is called on every state change of a persist operation
func WithStateObserver(fn func(path string, s State)) ManagerOption {
	return func(m *Manager) { m.onState = fn }
}

// WithFileIO replaces file reads and writes, mainly for failure injection in tests.
// write must replace the whole file or leave it untouched.
func WithFileIO(read func(string) ([]byte, error), write func(string, []byte) error) ManagerOption {
	return func(m *Manager) {
		if read != nil {
			m.readFile = read
		}
		if write != nil {
			m.writeFile = write
		}
	}
}

// NewManager creates a Manager that keeps backups in the given store
func NewManager(backups BackupStore, opts ...ManagerOption) *Manager {
	m := &Manager{
		backups:   backups,
		logger:    slog.Default(),
		readFile:  os.ReadFile,
		writeFile: WriteFileAtomic,
		locks:     make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) lock(path string) func() {
	key := path
	if abs, err := filepath.Abs(path); err == nil {
		key = abs
	}
	m.mu.Lock()
	l, ok := m.locks[key]
	if !ok {
		l = &sync.Mutex{}
		m.locks[key] = l
	}
	m.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func (m *Manager) setState(path string, s State) {
	if m.onState != nil {
		m.onState(path, s)
	}
}

// Backup stores the current bytes of path verbatim
func (m *Manager) Backup(path string) (Backup, error) {
	unlock := m.lock(path)
	defer unlock()
	current, err := m.readFile(path)
	if err != nil {
		return Backup{}, &Error{Op: "backup", Path: path, Err: fmt.Errorf("%w: reading source: %w", ErrBackupFailed, err)}
	}
	return m.backup(path, current)
}

func (m *Manager) backup(path string, current []byte) (Backup, error) {
	b, err := m.backups.Put(path, current)
	if err != nil {
		return Backup{}, &Error{Op: "backup", Path: path, Err: fmt.Errorf("%w: %w", ErrBackupFailed, err)}
	}
	m.metrics.BackupCreated()
	m.logger.Debug("Backup created", "path", path, "backup_id", b.ID, "size", b.Size)
	return b, nil
}

// Persist writes the document with the store's annotations baked in to path.
//
// The file on disk must still match doc's fingerprint; otherwise ErrStaleSource is
// returned and nothing happens. A backup is taken before anything is written. If
// serializing or writing fails the file is restored from that backup and the error
// wraps ErrPersistFailed.
func (m *Manager) Persist(doc *graph.Document, src Overrides, path string, ser Serializer) (*Result, error) {
	unlock := m.lock(path)
	defer unlock()

	start := time.Now()
	m.setState(path, StateIdle)

	current, err := m.readFile(path)
	if err != nil {
		m.metrics.ObservePersist(metrics.OutcomeBackupFailed, 0, time.Since(start))
		return nil, &Error{Op: "backup", Path: path, Err: fmt.Errorf("%w: reading source: %w", ErrBackupFailed, err)}
	}
	if fp := doc.Fingerprint(); fp != "" && fp != graph.Fingerprint(current) {
		m.metrics.ObservePersist(metrics.OutcomeStale, 0, time.Since(start))
		m.logger.Warn("Refusing to persist over a changed source", "path", path)
		return nil, &Error{Op: "persist", Path: path, Err: ErrStaleSource}
	}

	m.setState(path, StateBackingUp)
	b, err := m.backup(path, current)
	if err != nil {
		m.setState(path, StateIdle)
		m.metrics.ObservePersist(metrics.OutcomeBackupFailed, 0, time.Since(start))
		return nil, err
	}

	m.setState(path, StateMaterializing)
	mat := Materialize(doc, src)

	m.setState(path, StateWriting)
	data, err := ser.Serialize(mat.Document)
	if err != nil {
		return nil, m.restore(path, b, "serialize", fmt.Errorf("%w: %w", ErrSerializeFailed, err), start)
	}
	if err := m.writeFile(path, data); err != nil {
		return nil, m.restore(path, b, "write", err, start)
	}

	m.setState(path, StateCommitted)
	m.metrics.ObservePersist(metrics.OutcomeCommitted, len(mat.Updated), time.Since(start))
	m.logger.Info("Annotations persisted",
		"path", path, "backup_id", b.ID, "updated", len(mat.Updated), "missing", len(mat.Missing))

	return &Result{
		BackupID:           b.ID,
		UpdatedEntityCount: len(mat.Updated),
		Updated:            mat.Updated,
		Missing:            mat.Missing,
		Document:           mat.Document.WithFingerprint(graph.Fingerprint(data)),
	}, nil
}

// restore puts the backup bytes back after a failed write
func (m *Manager) restore(path string, b Backup, op string, cause error, start time.Time) error {
	perr := &Error{Op: op, Path: path, BackupID: b.ID}
	if rerr := m.writeFile(path, b.Data); rerr != nil {
		m.metrics.ObservePersist(metrics.OutcomeFailed, 0, time.Since(start))
		m.logger.Error("Restore after failed persist did not complete",
			"path", path, "backup_id", b.ID, "error", rerr)
		perr.Err = fmt.Errorf("%w: %w (restore also failed: %v)", ErrPersistFailed, cause, rerr)
		return perr
	}
	m.setState(path, StateRolledBack)
	m.metrics.ObservePersist(metrics.OutcomeRolledBack, 0, time.Since(start))
	m.metrics.RolledBack("auto")
	m.logger.Warn("Persist failed, source restored", "path", path, "backup_id", b.ID, "error", cause)
	perr.RolledBack = true
	perr.Err = fmt.Errorf("%w: %w", ErrPersistFailed, cause)
	return perr
}

// Rollback overwrites path with the exact bytes of a backup
func (m *Manager) Rollback(path, backupID string) error {
	unlock := m.lock(path)
	defer unlock()

	b, err := m.backups.Get(path, backupID)
	if err != nil {
		return &Error{Op: "rollback", Path: path, BackupID: backupID, Err: err}
	}
	if err := m.writeFile(path, b.Data); err != nil {
		return &Error{Op: "rollback", Path: path, BackupID: backupID, Err: err}
	}
	m.metrics.RolledBack("manual")
	m.logger.Info("Source rolled back", "path", path, "backup_id", backupID)
	return nil
}

// Backups lists the backups for a path, oldest first
func (m *Manager) Backups(path string) ([]Backup, error) {
	return m.backups.List(path)
}

// WriteFileAtomic replaces path by writing a temp file in the same directory
// and renaming it over the original. The original's permissions are kept.
func WriteFileAtomic(path string, data []byte) error {
	perm := os.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		perm = info.Mode().Perm()
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	name := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(name)
	}
	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(name, perm); err != nil {
		os.Remove(name)
		return err
	}
	if err := os.Rename(name, path); err != nil {
		os.Remove(name)
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}
