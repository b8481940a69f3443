package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/Benny93/repoctx/internal/metrics"
	"github.com/Benny93/repoctx/internal/storage"
)

// DefaultDebounce is how long the watcher waits for more events before
// reindexing a batch.
const DefaultDebounce = 2 * time.Second

// WatchOptions configures a Watcher.
type WatchOptions struct {
	// Debounce delays reindexing until events stop for this long.
	Debounce time.Duration

	// Indexer extracts changed files; nil uses NewIndexer defaults.
	Indexer *Indexer

	// OnBatch is called after each processed batch.
	OnBatch func(Batch)

	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Batch is the outcome of one reindex round.
type Batch struct {
	Indexed []string
	Removed []string
	Failed  []string
}

// Watcher keeps a store in sync with a repository's working tree.
type Watcher struct {
	root     string
	store    storage.Store
	matcher  *Matcher
	ix       *Indexer
	fsw      *fsnotify.Watcher
	debounce time.Duration
	onBatch  func(Batch)
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// NewWatcher starts watching every non-ignored directory below root.
func NewWatcher(root string, store storage.Store, opts WatchOptions) (*Watcher, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	matcher, err := NewMatcher(root)
	if err != nil {
		return nil, fmt.Errorf("loading gitignore: %w", err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}

	w := &Watcher{
		root:     root,
		store:    store,
		matcher:  matcher,
		ix:       opts.Indexer,
		fsw:      fsw,
		debounce: opts.Debounce,
		onBatch:  opts.OnBatch,
		logger:   logger.Named("watcher"),
		metrics:  opts.Metrics,
	}
	if w.ix == nil {
		w.ix = NewIndexer(nil, nil, w.logger)
	}
	if w.debounce <= 0 {
		w.debounce = DefaultDebounce
	}

	if err := w.addTree(root); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("setting up watcher: %w", err)
	}
	return w, nil
}

// addTree watches dir and its non-ignored subdirectories.
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && w.matcher.Ignored(path, true) {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}

// Run processes events until ctx is done. Changes are batched and applied
// once no event arrived for the debounce interval.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	pending := make(map[string]bool)
	timer := time.NewTimer(w.debounce)
	timer.Stop()

	w.logger.Info("watching", zap.String("root", w.root))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) {
				continue
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() && !w.matcher.Ignored(event.Name, true) {
					if err := w.addTree(event.Name); err != nil {
						w.logger.Warn("watching new directory", zap.String("path", event.Name), zap.Error(err))
					}
					w.queueTree(event.Name, pending)
					timer.Reset(w.debounce)
					continue
				}
			}
			rel, err := filepath.Rel(w.root, event.Name)
			if err != nil {
				continue
			}
			pending[filepath.ToSlash(rel)] = true
			timer.Reset(w.debounce)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", zap.Error(err))

		case <-timer.C:
			if len(pending) == 0 {
				continue
			}
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			pending = make(map[string]bool)

			batch := w.Process(ctx, paths)
			if w.onBatch != nil {
				w.onBatch(batch)
			}
		}
	}
}

// queueTree marks the files below a new directory as changed.
func (w *Watcher) queueTree(dir string, pending map[string]bool) {
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if w.matcher.Ignored(path, true) {
				return filepath.SkipDir
			}
			return nil
		}
		if rel, err := filepath.Rel(w.root, path); err == nil {
			pending[filepath.ToSlash(rel)] = true
		}
		return nil
	})
}

// Process reindexes the given repository-relative paths. Paths that no
// longer exist are removed from the store, including every indexed file
// below a removed directory.
func (w *Watcher) Process(ctx context.Context, paths []string) Batch {
	sort.Strings(paths)

	var batch Batch
	for _, rel := range paths {
		abs := filepath.Join(w.root, filepath.FromSlash(rel))
		info, err := os.Stat(abs)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			w.remove(ctx, rel, &batch)
			continue
		case err != nil:
			w.logger.Warn("stat failed", zap.String("path", rel), zap.Error(err))
			batch.Failed = append(batch.Failed, rel)
			continue
		case info.IsDir() || !w.matcher.Watched(abs):
			continue
		}

		entry, err := ReadEntry(w.root, abs)
		if errors.Is(err, ErrNotText) {
			w.logger.Debug("not indexable", zap.String("path", rel), zap.Error(err))
			w.remove(ctx, rel, &batch)
			continue
		}
		if err == nil {
			var u storage.FileUpdate
			if u, err = w.ix.Index(ctx, w.store, entry); err == nil {
				w.metrics.FileIndexed(u.Status)
			}
		}
		if err != nil {
			w.logger.Warn("reindex failed", zap.String("path", rel), zap.Error(err))
			if errors.Is(err, storage.ErrUpdateTooLarge) {
				w.metrics.FileIndexed(StatusFailed)
				w.drop(ctx, rel)
			}
			batch.Failed = append(batch.Failed, rel)
			continue
		}
		batch.Indexed = append(batch.Indexed, rel)
	}

	w.logger.Info("reindexed",
		zap.Int("indexed", len(batch.Indexed)),
		zap.Int("removed", len(batch.Removed)),
		zap.Int("failed", len(batch.Failed)))
	return batch
}

func (w *Watcher) remove(ctx context.Context, rel string, batch *Batch) {
	records, err := w.store.Files(ctx)
	if err != nil {
		w.logger.Warn("listing indexed files", zap.Error(err))
		batch.Failed = append(batch.Failed, rel)
		return
	}
	for _, r := range records {
		if r.Path != rel && !strings.HasPrefix(r.Path, rel+"/") {
			continue
		}
		if err := w.store.RemoveFile(ctx, r.Path); err != nil {
			w.logger.Warn("remove failed", zap.String("path", r.Path), zap.Error(err))
			batch.Failed = append(batch.Failed, r.Path)
			continue
		}
		w.metrics.FileRemoved()
		batch.Removed = append(batch.Removed, r.Path)
	}
}

// drop removes the stale record of a file whose new version could not be
// stored, so the next build retries it.
func (w *Watcher) drop(ctx context.Context, rel string) {
	if err := w.store.RemoveFile(ctx, rel); err != nil {
		w.logger.Warn("remove failed", zap.String("path", rel), zap.Error(err))
	}
}

// Close stops watching without running.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
