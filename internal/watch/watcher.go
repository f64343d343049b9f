// Package watch reports when a source file changes underneath a session.
package watch

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gkiler/visualization-for-preds/internal/graph"
)

// Config configures the source watcher
type Config struct {
	// Path is the source file to watch
	Path string

	// Fingerprint is the content hash of the currently loaded document
	Fingerprint string

	// DebounceDelay is how long to wait for more changes before reading the file
	DebounceDelay time.Duration

	// Logger for logging events
	Logger *slog.Logger
}

// Operation indicates the type of change
type Operation string

const (
	OpModify Operation = "modify"
	OpDelete Operation = "delete"
)

// Event is a content change of the watched file
type Event struct {
	Path        string
	Operation   Operation
	Fingerprint string
	// Raw holds the new content (nil for delete)
	Raw []byte
	Err error
}

// Watcher watches one source file. The parent directory is watched so that
// editors that save by rename are still seen.
type Watcher struct {
	config  Config
	path    string
	watcher *fsnotify.Watcher
	logger  *slog.Logger

	pendingMu sync.Mutex
	pending   bool

	hashMu sync.RWMutex
	hash   string

	events chan Event
	done   chan struct{}
}

// New creates a watcher for a single file
func New(config Config) (*Watcher, error) {
	abs, err := filepath.Abs(config.Path)
	if err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if config.DebounceDelay == 0 {
		config.DebounceDelay = 100 * time.Millisecond
	}

	return &Watcher{
		config:  config,
		path:    abs,
		watcher: fsw,
		logger:  logger,
		hash:    config.Fingerprint,
		events:  make(chan Event, 16),
		done:    make(chan struct{}),
	}, nil
}

// Events returns the channel of change events. It is closed when the watcher stops.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Start begins watching until ctx is cancelled
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		w.watcher.Close()
		return err
	}

	go w.processEvents(ctx)

	w.logger.Info("Source watcher started",
		"path", w.path,
		"debounce", w.config.DebounceDelay)
	return nil
}

// Done is closed after the event loop exits
func (w *Watcher) Done() <-chan struct{} {
	return w.done
}

// SetFingerprint records the hash of content the caller already knows about,
// e.g. after persisting, so the write does not come back as a change.
func (w *Watcher) SetFingerprint(fp string) {
	w.hashMu.Lock()
	defer w.hashMu.Unlock()
	w.hash = fp
}

// Fingerprint returns the last known content hash
func (w *Watcher) Fingerprint() string {
	w.hashMu.RLock()
	defer w.hashMu.RUnlock()
	return w.hash
}

func (w *Watcher) processEvents(ctx context.Context) {
	ticker := time.NewTicker(w.config.DebounceDelay)
	defer func() {
		ticker.Stop()
		w.watcher.Close()
		close(w.events)
		close(w.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleFSEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Watcher error", "error", err)

		case <-ticker.C:
			w.flushPending(ctx)
		}
	}
}

func (w *Watcher) handleFSEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.path {
		return
	}
	if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return
	}

	w.pendingMu.Lock()
	w.pending = true
	w.pendingMu.Unlock()

	w.logger.Debug("Source change detected", "path", w.path, "op", event.Op.String())
}

// flushPending reads the file once per debounce window and emits an event
// only when its content hash changed.
func (w *Watcher) flushPending(ctx context.Context) {
	w.pendingMu.Lock()
	if !w.pending {
		w.pendingMu.Unlock()
		return
	}
	w.pending = false
	w.pendingMu.Unlock()

	raw, err := os.ReadFile(w.path)
	if errors.Is(err, fs.ErrNotExist) {
		if w.Fingerprint() == "" {
			return
		}
		w.SetFingerprint("")
		w.sendEvent(ctx, Event{Path: w.path, Operation: OpDelete})
		return
	}
	if err != nil {
		w.sendEvent(ctx, Event{Path: w.path, Operation: OpModify, Err: err})
		return
	}

	fp := graph.Fingerprint(raw)
	if fp == w.Fingerprint() {
		return
	}
	w.SetFingerprint(fp)
	w.sendEvent(ctx, Event{Path: w.path, Operation: OpModify, Fingerprint: fp, Raw: raw})
}

func (w *Watcher) sendEvent(ctx context.Context, event Event) {
	select {
	case w.events <- event:
		w.logger.Debug("Sent watch event", "path", event.Path, "op", event.Operation)
	case <-ctx.Done():
	default:
		w.logger.Warn("Event channel full, dropping event", "path", event.Path)
	}
}
