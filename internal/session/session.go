// Package session ties one source file to its document, annotation store,
// persistence manager and annotation backend. Every operation goes through an
// explicit Session value; there is no package-level state.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/gkiler/visualization-for-preds/internal/annotation"
	"github.com/gkiler/visualization-for-preds/internal/codec"
	"github.com/gkiler/visualization-for-preds/internal/conflict"
	"github.com/gkiler/visualization-for-preds/internal/graph"
	"github.com/gkiler/visualization-for-preds/internal/metrics"
	"github.com/gkiler/visualization-for-preds/internal/overlay"
	"github.com/gkiler/visualization-for-preds/internal/persist"
)

// ErrUnknownEntity is returned when staging against an id the document does not have
var ErrUnknownEntity = errors.New("unknown entity")

// ErrBroken is returned by every operation after the session hit an invariant violation
var ErrBroken = errors.New("session halted")

// ErrReservedAttribute is returned when staging against a name the source
// format uses for its own structure
var ErrReservedAttribute = errors.New("reserved attribute")

// ErrTypeMismatch is returned when a value cannot be stored under the type the
// source declares for the attribute
var ErrTypeMismatch = errors.New("value does not fit declared type")

// Options configures a Session. Manager is required.
type Options struct {
	Manager *persist.Manager
	// Backend keeps the annotation log between runs; nil keeps it in memory only
	Backend Backend
	// Codec overrides format detection from the file extension
	Codec   codec.Codec
	Limits  graph.Limits
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	// StoreOptions are passed to the annotation store (clock, id generator)
	StoreOptions []annotation.Option
}

// Session is a single logical writer for one source path
type Session struct {
	mu sync.Mutex

	path    string
	codec   codec.Codec
	doc     *graph.Document
	store   *annotation.Store
	manager *persist.Manager
	backend Backend
	limits  graph.Limits
	logger  *slog.Logger
	metrics *metrics.Metrics

	report *conflict.Report
	broken error
}

// Open parses the source, hydrates its annotation log from the backend and
// runs conflict detection against the current file.
func Open(path string, opts Options) (*Session, error) {
	if opts.Manager == nil {
		return nil, errors.New("session: persistence manager is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", path, err)
	}
	c := opts.Codec
	if c == nil {
		if c, err = codec.ForPath(abs); err != nil {
			return nil, err
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Session{
		path:    abs,
		codec:   c,
		manager: opts.Manager,
		backend: opts.Backend,
		limits:  opts.Limits,
		logger:  logger.With("source", abs),
		metrics: opts.Metrics,
	}

	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	s.doc = doc

	var records []annotation.Record
	if s.backend != nil {
		if records, err = s.backend.Load(abs); err != nil {
			return nil, err
		}
	}
	if s.store, err = annotation.Hydrate(records, opts.StoreOptions...); err != nil {
		return nil, fmt.Errorf("hydrating annotations for %s: %w", abs, err)
	}

	if _, err := s.detect(); err != nil {
		return nil, err
	}
	s.logger.Info("Session opened",
		"format", c.Name(),
		"nodes", doc.NodeCount(),
		"edges", doc.EdgeCount(),
		"records", s.store.Len())
	return s, nil
}

func (s *Session) load() (*graph.Document, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("reading source: %w", err)
	}
	return s.parse(raw)
}

func (s *Session) parse(raw []byte) (*graph.Document, error) {
	doc, err := s.codec.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", s.path, err)
	}
	if err := graph.Validate(doc, s.limits); err != nil {
		return nil, err
	}
	return doc, nil
}

// detect runs conflict detection against the current document. Caller holds mu
// or has exclusive access.
func (s *Session) detect() (*conflict.Report, error) {
	report, err := conflict.Detect(s.doc, s.store)
	if err != nil {
		return nil, s.fail(err)
	}
	s.report = report
	s.metrics.ConflictsFound(len(report.Conflicts))
	for _, c := range report.Conflicts {
		s.logger.Warn("Annotation conflicts with source",
			"entity", c.EntityID, "attribute", c.Attribute, "record", c.RecordID)
	}
	return report, nil
}

// fail halts the session on invariant violations and passes other errors through
func (s *Session) fail(err error) error {
	if errors.Is(err, annotation.ErrInvariant) {
		s.broken = err
		s.logger.Error("Annotation store invariant violated, session halted", "error", err)
		return fmt.Errorf("%w: %w", ErrBroken, err)
	}
	return err
}

func (s *Session) guard() error {
	if s.broken != nil {
		return fmt.Errorf("%w: %w", ErrBroken, s.broken)
	}
	return nil
}

// Path returns the absolute source path
func (s *Session) Path() string { return s.path }

// Document returns the current source document
func (s *Session) Document() *graph.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc
}

// Store returns the session's annotation store
func (s *Session) Store() *annotation.Store { return s.store }

// Conflicts returns the report of the most recent conflict detection
func (s *Session) Conflicts() *conflict.Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.report
}

// Effective resolves the document with committed annotations applied
func (s *Session) Effective() *overlay.EffectiveDocument {
	s.mu.Lock()
	defer s.mu.Unlock()
	return overlay.Resolve(s.doc, s.store)
}

// Stage records a pending correction. The baseline is the document's current
// value for the attribute. When the source declares a type for the attribute
// the value is converted to it, and refused if that would lose information.
func (s *Session) Stage(entityID graph.EntityID, attribute string, value graph.Value) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return "", err
	}
	domain, ok := s.doc.Domain(entityID)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownEntity, entityID)
	}
	if slices.Contains(s.codec.ReservedAttributes(), attribute) {
		return "", fmt.Errorf("%w: %q is part of the %s format structure", ErrReservedAttribute, attribute, s.codec.Name())
	}
	if decl, ok := s.doc.Declared(domain, attribute); ok && value.IsValid() && !value.IsNull() {
		typed, ok := value.As(decl.Kind)
		if !ok {
			return "", fmt.Errorf("%w: %s.%s is declared %s, got %s %q",
				ErrTypeMismatch, entityID, attribute, decl.Type, value.Kind(), value.String())
		}
		value = typed
	}
	var baseline *graph.Value
	if v, ok := s.doc.Attr(entityID, attribute); ok {
		baseline = &v
	}
	return s.store.Stage(entityID, attribute, value, baseline)
}

func (s *Session) Commit(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return err
	}
	return s.fail(s.store.Commit(id))
}

// CommitAll commits every pending record, or none of them
func (s *Session) CommitAll() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return nil, err
	}
	ids, err := s.store.CommitAllPending()
	if err != nil {
		return nil, s.fail(err)
	}
	return ids, nil
}

// Discard withdraws a record and returns the id of the discard marker
func (s *Session) Discard(id string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return "", err
	}
	marker, err := s.store.Discard(id)
	if err != nil {
		return "", s.fail(err)
	}
	return marker, nil
}

// Rebaseline accepts the source's current value as the new baseline of a
// conflicted record while keeping the user's value.
func (s *Session) Rebaseline(id string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return "", err
	}
	rec, ok := s.store.Get(id)
	if !ok {
		return "", fmt.Errorf("%w: %s", annotation.ErrRecordNotFound, id)
	}
	var external *graph.Value
	if v, ok := s.doc.Attr(rec.EntityID, rec.Attribute); ok {
		external = &v
	}
	newID, err := s.store.Rebaseline(id, external)
	if err != nil {
		return "", s.fail(err)
	}
	return newID, nil
}

// Reload re-reads the source and re-runs conflict detection
func (s *Session) Reload() (*conflict.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return nil, err
	}
	return s.reloadLocked()
}

// ReloadBytes replaces the document with already-read source bytes, as
// delivered by the watcher.
func (s *Session) ReloadBytes(raw []byte) (*conflict.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return nil, err
	}
	doc, err := s.parse(raw)
	if err != nil {
		return nil, err
	}
	return s.swap(doc)
}

func (s *Session) reloadLocked() (*conflict.Report, error) {
	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	return s.swap(doc)
}

func (s *Session) swap(doc *graph.Document) (*conflict.Report, error) {
	prev := s.doc
	s.doc = doc
	report, err := s.detect()
	if err != nil {
		s.doc = prev
		return nil, err
	}
	s.metrics.Reloaded()
	s.logger.Info("Source reloaded",
		"fingerprint", shortFingerprint(doc.Fingerprint()),
		"conflicts", len(report.Conflicts))
	return report, nil
}

// Persist writes committed annotations into the source file and saves the
// annotation log. On success the session continues with the written document.
func (s *Session) Persist() (*persist.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return nil, err
	}
	if err := s.store.Verify(); err != nil {
		return nil, s.fail(err)
	}
	res, err := s.manager.Persist(s.doc, s.store, s.path, s.codec)
	if err != nil {
		return nil, err
	}
	s.doc = res.Document
	if err := s.saveLocked(); err != nil {
		return res, fmt.Errorf("source written but annotation log not saved: %w", err)
	}
	return res, nil
}

// Rollback restores a backup of the source and reloads it
func (s *Session) Rollback(backupID string) (*conflict.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return nil, err
	}
	if err := s.manager.Rollback(s.path, backupID); err != nil {
		return nil, err
	}
	return s.reloadLocked()
}

// Backups lists the source's backups, oldest first
func (s *Session) Backups() ([]persist.Backup, error) {
	return s.manager.Backups(s.path)
}

// Save writes the annotation log to the backend
func (s *Session) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return err
	}
	if err := s.store.Verify(); err != nil {
		return s.fail(err)
	}
	return s.saveLocked()
}

func (s *Session) saveLocked() error {
	if s.backend == nil {
		return nil
	}
	return s.backend.Save(s.path, s.doc.Fingerprint(), s.store.Records())
}

// Close releases the backend
func (s *Session) Close() error {
	if s.backend == nil {
		return nil
	}
	return s.backend.Close()
}

func shortFingerprint(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}
