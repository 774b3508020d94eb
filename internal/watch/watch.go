// Package watch re-indexes files as they change on disk.
package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hpungsan/cairn/internal/guard"
	"github.com/hpungsan/cairn/internal/knowledge"
	"github.com/hpungsan/cairn/internal/logging"
	"github.com/hpungsan/cairn/internal/record"
	"go.uber.org/zap"
)

// Purpose is the guard context the watcher checks and saves under.
const Purpose = "index"

// DefaultDebounce is how long a path must be quiet before it is indexed.
const DefaultDebounce = 500 * time.Millisecond

// indexCost is the cost recorded for one avoided re-index.
const indexCost = 1.0

// Indexer is the subset of knowledge.Store the watcher needs.
type Indexer interface {
	IndexFile(ctx context.Context, in knowledge.IndexFileInput) (*record.FileEntry, error)
}

// Cache is the subset of guard.Guard the watcher needs.
type Cache interface {
	Check(ctx context.Context, path, purpose string) guard.Result
	SaveResult(ctx context.Context, hash, purpose string, result any, costSaved float64) error
}

// Options configures a Watcher.
type Options struct {
	ProjectID string
	Debounce  time.Duration
	// Ignore holds base-name glob patterns; matching files and directories
	// are skipped. Hidden entries are always skipped.
	Ignore []string
}

// Stats counts watcher activity.
type Stats struct {
	Events  int `json:"events"`
	Indexed int `json:"indexed"`
	Skipped int `json:"skipped"`
	Errors  int `json:"errors"`
}

// cachedIndex is what the watcher stores in the guard for an indexed file.
type cachedIndex struct {
	Path     string `json:"path"`
	VectorID string `json:"vector_id"`
}

// Watcher indexes changed files under a set of root directories.
type Watcher struct {
	indexer Indexer
	cache   Cache
	opts    Options
	logger  *zap.Logger

	mu      sync.Mutex
	pending map[string]time.Time
	stats   Stats
}

// New returns a Watcher that indexes through indexer and skips files cache
// has already seen. Call Run to start it.
func New(indexer Indexer, cache Cache, opts Options, logger *zap.Logger) *Watcher {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	return &Watcher{
		indexer: indexer,
		cache:   cache,
		opts:    opts,
		logger:  logging.OrNop(logger).Named("watch"),
		pending: make(map[string]time.Time),
	}
}

// Stats returns a copy of the counters.
func (w *Watcher) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// Run watches roots recursively until ctx is done. Directories created
// while running are watched too. It returns nil on cancellation.
func (w *Watcher) Run(ctx context.Context, roots ...string) error {
	if len(roots) == 0 {
		return fmt.Errorf("at least one directory is required")
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	for _, root := range roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", root, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return fmt.Errorf("watch %s: %w", root, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("watch %s: not a directory", root)
		}
		if err := w.addTree(fw, abs); err != nil {
			return err
		}
	}

	tick := time.NewTicker(max(w.opts.Debounce/2, 10*time.Millisecond))
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.handle(fw, event)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.count(func(s *Stats) { s.Errors++ })
			w.logger.Warn("watch error", zap.Error(err))

		case <-tick.C:
			w.flush(ctx)
		}
	}
}

func (w *Watcher) handle(fw *fsnotify.Watcher, event fsnotify.Event) {
	if w.ignored(filepath.Base(event.Name)) {
		return
	}
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		// Removed and renamed-away paths are pruned by reconcile.
		return
	}

	info, err := os.Stat(event.Name)
	if err != nil {
		return
	}
	if info.IsDir() {
		if event.Has(fsnotify.Create) {
			if err := w.addTree(fw, event.Name); err != nil {
				w.logger.Warn("failed to watch new directory", zap.String("path", event.Name), zap.Error(err))
			}
		}
		return
	}

	w.mu.Lock()
	w.stats.Events++
	w.pending[event.Name] = time.Now()
	w.mu.Unlock()
}

// flush indexes every pending path that has been quiet for the debounce window.
func (w *Watcher) flush(ctx context.Context) {
	cutoff := time.Now().Add(-w.opts.Debounce)
	var due []string
	w.mu.Lock()
	for path, last := range w.pending {
		if last.Before(cutoff) {
			due = append(due, path)
			delete(w.pending, path)
		}
	}
	w.mu.Unlock()

	for _, path := range due {
		if ctx.Err() != nil {
			return
		}
		w.process(ctx, path)
	}
}

// process runs one path through the guard and, on a miss, the indexer.
func (w *Watcher) process(ctx context.Context, path string) {
	res := w.cache.Check(ctx, path, Purpose)
	if !res.ShouldProcess && sameFile(res.CachedResult, path) {
		w.count(func(s *Stats) { s.Skipped++ })
		w.logger.Debug("unchanged; skipping", zap.String("path", path))
		return
	}

	entry, err := w.indexer.IndexFile(ctx, knowledge.IndexFileInput{Path: path, ProjectID: w.opts.ProjectID})
	if err != nil {
		w.count(func(s *Stats) { s.Errors++ })
		w.logger.Warn("index failed", zap.String("path", path), zap.Error(err))
		return
	}
	w.count(func(s *Stats) { s.Indexed++ })
	w.logger.Info("indexed", zap.String("path", path))

	if res.Hash == "" {
		return
	}
	cached := cachedIndex{Path: entry.Path, VectorID: entry.VectorID}
	if err := w.cache.SaveResult(ctx, res.Hash, Purpose, cached, indexCost); err != nil {
		w.logger.Warn("failed to cache index result", zap.String("path", path), zap.Error(err))
	}
}

// sameFile reports whether a cached index result was for path. Identical
// content at a new path still needs indexing so the move is detected.
func sameFile(raw json.RawMessage, path string) bool {
	var c cachedIndex
	if err := json.Unmarshal(raw, &c); err != nil {
		return false
	}
	return c.Path == path
}

func (w *Watcher) addTree(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && w.ignored(d.Name()) {
			return filepath.SkipDir
		}
		if err := fw.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

func (w *Watcher) ignored(name string) bool {
	if strings.HasPrefix(name, ".") || strings.HasSuffix(name, "~") {
		return true
	}
	for _, pattern := range w.opts.Ignore {
		if ok, _ := filepath.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

func (w *Watcher) count(fn func(*Stats)) {
	w.mu.Lock()
	fn(&w.stats)
	w.mu.Unlock()
}
