// Package watch rebuilds the partition database when its inputs change.
package watch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"github.com/c360studio/partdb/database"
	"github.com/c360studio/partdb/manifest"
)

// DefaultDebounce is used when Config.Debounce is zero.
const DefaultDebounce = 100 * time.Millisecond

// Config configures the watcher
type Config struct {
	// Root is the source root; patterns match paths relative to it
	Root string

	// Dirs are the directories to watch (not recursive)
	Dirs []string

	// Patterns select the files whose changes are reported
	Patterns []string

	// Debounce is how long to wait for more changes before reporting
	Debounce time.Duration

	// Logger for logging events
	Logger *slog.Logger
}

// Operation indicates the type of change
type Operation string

const (
	OpCreate Operation = "create"
	OpModify Operation = "modify"
	OpDelete Operation = "delete"
)

// Change is one changed file.
type Change struct {
	// Path is the absolute file path
	Path      string
	Operation Operation
}

// Batch is the set of changes collected during one debounce window.
type Batch struct {
	Changes []Change
}

// Paths returns the changed paths.
func (b Batch) Paths() []string {
	paths := make([]string, len(b.Changes))
	for i, c := range b.Changes {
		paths[i] = c.Path
	}
	return paths
}

// Watcher watches manifest inputs and reports debounced batches of changes
type Watcher struct {
	config  Config
	watcher *fsnotify.Watcher
	logger  *slog.Logger

	// Debouncing: collect changes before reporting
	pendingMu sync.Mutex
	pending   map[string]fsnotify.Op // path → most recent operation

	// Content hashes so that touches without edits are ignored
	hashMu sync.RWMutex
	hashes map[string]string

	batches chan Batch
}

// New creates a watcher. Nothing is watched until Start.
func New(config Config) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Debounce <= 0 {
		config.Debounce = DefaultDebounce
	}
	for _, p := range config.Patterns {
		if !doublestar.ValidatePattern(p) {
			fsw.Close()
			return nil, fmt.Errorf("invalid watch pattern %q", p)
		}
	}

	return &Watcher{
		config:  config,
		watcher: fsw,
		logger:  config.Logger,
		pending: make(map[string]fsnotify.Op),
		hashes:  make(map[string]string),
		batches: make(chan Batch, 16),
	}, nil
}

// Batches returns the channel of change batches. It is closed when the
// watcher stops.
func (w *Watcher) Batches() <-chan Batch {
	return w.batches
}

// Start adds the configured directories and begins processing events
// until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	for _, dir := range w.config.Dirs {
		if err := w.watcher.Add(dir); err != nil {
			w.logger.Warn("Failed to watch directory",
				"path", dir,
				"error", err)
			continue
		}
		w.logger.Debug("Watching directory", "path", dir)
		w.seed(dir)
	}

	go w.processEvents(ctx)

	w.logger.Info("File watcher started",
		"dirs", len(w.config.Dirs),
		"debounce", w.config.Debounce)

	return nil
}

// Stop stops the watcher
func (w *Watcher) Stop() error {
	return w.watcher.Close()
}

// Matches reports whether path is selected by the watch patterns. With no
// patterns every file matches.
func (w *Watcher) Matches(path string) bool {
	if len(w.config.Patterns) == 0 {
		return true
	}
	rel := path
	if w.config.Root != "" {
		if r, err := filepath.Rel(w.config.Root, path); err == nil && !strings.HasPrefix(r, "..") {
			rel = r
		}
	}
	rel = filepath.ToSlash(rel)
	base := filepath.Base(path)
	for _, p := range w.config.Patterns {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
		if ok, _ := doublestar.Match(p, base); ok {
			return true
		}
	}
	return false
}

// seed records the hashes of the files already present in dir.
func (w *Watcher) seed(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if !w.Matches(path) {
			continue
		}
		if h, err := hashFile(path); err == nil {
			w.setHash(path, h)
		}
	}
}

// processEvents handles fsnotify events with debouncing
func (w *Watcher) processEvents(ctx context.Context) {
	defer close(w.batches)

	ticker := time.NewTicker(w.config.Debounce)
	defer ticker.Stop()

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

// handleFSEvent processes a single fsnotify event
func (w *Watcher) handleFSEvent(event fsnotify.Event) {
	if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) {
		return
	}
	if !w.Matches(event.Name) {
		return
	}

	w.pendingMu.Lock()
	w.pending[event.Name] |= event.Op
	w.pendingMu.Unlock()

	w.logger.Debug("File change detected",
		"path", event.Name,
		"op", event.Op.String())
}

// flushPending turns accumulated events into one batch
func (w *Watcher) flushPending(ctx context.Context) {
	w.pendingMu.Lock()
	if len(w.pending) == 0 {
		w.pendingMu.Unlock()
		return
	}
	toProcess := w.pending
	w.pending = make(map[string]fsnotify.Op)
	w.pendingMu.Unlock()

	paths := make([]string, 0, len(toProcess))
	for p := range toProcess {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var batch Batch
	for _, path := range paths {
		if c, ok := w.classify(path, toProcess[path]); ok {
			batch.Changes = append(batch.Changes, c)
		}
	}
	if len(batch.Changes) == 0 {
		return
	}

	select {
	case w.batches <- batch:
		w.logger.Debug("Sent change batch", "changes", len(batch.Changes))
	case <-ctx.Done():
	}
}

// classify decides what happened to path, dropping edits that left the
// content unchanged.
func (w *Watcher) classify(path string, op fsnotify.Op) (Change, bool) {
	oldHash, hadHash := w.hash(path)

	newHash, err := hashFile(path)
	if err != nil {
		// Removed or renamed away
		w.deleteHash(path)
		if !hadHash && !op.Has(fsnotify.Remove) && !op.Has(fsnotify.Rename) {
			return Change{}, false
		}
		return Change{Path: path, Operation: OpDelete}, true
	}

	if hadHash && oldHash == newHash {
		return Change{}, false
	}
	w.setHash(path, newHash)

	if !hadHash {
		return Change{Path: path, Operation: OpCreate}, true
	}
	return Change{Path: path, Operation: OpModify}, true
}

func (w *Watcher) hash(path string) (string, bool) {
	w.hashMu.RLock()
	defer w.hashMu.RUnlock()
	h, ok := w.hashes[path]
	return h, ok
}

func (w *Watcher) setHash(path, hash string) {
	w.hashMu.Lock()
	defer w.hashMu.Unlock()
	w.hashes[path] = hash
}

func (w *Watcher) deleteHash(path string) {
	w.hashMu.Lock()
	defer w.hashMu.Unlock()
	delete(w.hashes, path)
}

func hashFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// DirsFor returns the directories holding the inputs of a build: the
// manifest lists, the manifests of db (when the last build succeeded) and
// any extra files such as the platform header. The result is sorted and
// free of duplicates.
func DirsFor(lists []manifest.ListEntry, db *database.Database, extra ...string) []string {
	seen := make(map[string]bool)
	add := func(path string) {
		if path == "" {
			return
		}
		dir := filepath.Dir(path)
		if abs, err := filepath.Abs(dir); err == nil {
			dir = abs
		}
		seen[dir] = true
	}

	for _, l := range lists {
		add(l.Path)
	}
	if db != nil {
		for _, p := range db.Partitions {
			add(p.ManifestPath)
		}
	}
	for _, e := range extra {
		add(e)
	}

	dirs := make([]string, 0, len(seen))
	for d := range seen {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)
	return dirs
}
