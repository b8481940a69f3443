package ingestion

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Benny93/repoctx/internal/chunk"
	"github.com/Benny93/repoctx/internal/metrics"
	"github.com/Benny93/repoctx/internal/parsers"
	"github.com/Benny93/repoctx/internal/storage"
)

// Build phases reported to a ProgressCallback.
const (
	PhaseWalk  = "Walking files"
	PhasePrune = "Pruning removed files"
	PhaseIndex = "Indexing files"
)

// StatusFailed is the metrics status of a file that could not be stored.
const StatusFailed = "failed"

// ProgressCallback is called with phase name and progress (0.0-1.0).
type ProgressCallback func(phase string, progress float64)

// BuildOptions configures Build.
type BuildOptions struct {
	// Full drops the existing index and reindexes every file.
	Full bool

	// Workers bounds parallel extraction; 0 uses GOMAXPROCS.
	Workers int

	// Registry selects extractors; nil uses parsers.DefaultRegistry.
	Registry *parsers.Registry

	// Chunker splits file content; nil uses a 400/40 token line chunker.
	Chunker *chunk.LineChunker

	Progress ProgressCallback
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
}

// BuildResult summarizes an index build.
type BuildResult struct {
	Files       int           `json:"files"`
	Indexed     int           `json:"indexed"`
	Skipped     int           `json:"skipped"`
	Removed     int           `json:"removed"`
	Partial     int           `json:"partial"`
	Unsupported int           `json:"unsupported"`
	Failed      int           `json:"failed"`
	Symbols     int           `json:"symbols"`
	Edges       int           `json:"edges"`
	Chunks      int           `json:"chunks"`
	Duration    time.Duration `json:"duration"`
}

func (r *BuildResult) add(u storage.FileUpdate) {
	r.Indexed++
	r.Symbols += len(u.Symbols)
	r.Edges += len(u.Edges)
	r.Chunks += len(u.Chunks)
	switch parsers.Status(u.Status) {
	case parsers.StatusPartial:
		r.Partial++
	case parsers.StatusUnsupported:
		r.Unsupported++
	}
}

// Indexer turns file entries into store updates.
type Indexer struct {
	registry *parsers.Registry
	chunker  *chunk.LineChunker
	logger   *zap.Logger
}

// NewIndexer creates an indexer. Nil arguments take defaults.
func NewIndexer(registry *parsers.Registry, chunker *chunk.LineChunker, logger *zap.Logger) *Indexer {
	if registry == nil {
		registry = parsers.DefaultRegistry()
	}
	if chunker == nil {
		chunker = chunk.NewLineChunker(400, 40)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Indexer{registry: registry, chunker: chunker, logger: logger}
}

// Update extracts and chunks one file. Extraction problems are recorded in
// the update's status, never returned.
func (ix *Indexer) Update(ctx context.Context, e FileEntry) storage.FileUpdate {
	res := ix.registry.Extract(ctx, e.RelPath, e.Language, e.Content)
	switch res.Status {
	case parsers.StatusPartial:
		ix.logger.Debug("partial extraction", zap.String("path", e.RelPath), zap.String("error", res.Error))
	case parsers.StatusUnsupported:
		ix.logger.Debug("unsupported language", zap.String("path", e.RelPath), zap.String("language", e.Language))
	}

	return storage.FileUpdate{
		Path:     e.RelPath,
		Language: e.Language,
		SHA:      e.SHA256,
		Status:   string(res.Status),
		Symbols:  res.Symbols,
		Edges:    res.Edges,
		Chunks:   ix.chunker.Chunk(e.RelPath, e.Language, string(e.Content)),
	}
}

// Index extracts e and applies it to store.
func (ix *Indexer) Index(ctx context.Context, store storage.Store, e FileEntry) (storage.FileUpdate, error) {
	u := ix.Update(ctx, e)
	if err := store.ApplyFile(ctx, u); err != nil {
		return u, fmt.Errorf("indexing %s: %w", e.RelPath, err)
	}
	return u, nil
}

// Build indexes the repository at root into store.
//
// Without opts.Full, files whose SHA-256 matches the stored record are
// skipped and files that no longer exist are removed. With opts.Full the
// store is reset and rebuilt while new snapshots wait.
func Build(ctx context.Context, root string, store storage.Store, opts BuildOptions) (*BuildResult, error) {
	start := time.Now()
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("ingestion")
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	progress := opts.Progress
	if progress == nil {
		progress = func(string, float64) {}
	}
	ix := NewIndexer(opts.Registry, opts.Chunker, logger)

	progress(PhaseWalk, 0)
	matcher, err := NewMatcher(root)
	if err != nil {
		return nil, fmt.Errorf("loading gitignore: %w", err)
	}
	entries, err := WalkRepo(root, matcher)
	if err != nil {
		return nil, fmt.Errorf("walking repo: %w", err)
	}
	progress(PhaseWalk, 1)

	result := &BuildResult{Files: len(entries)}
	if opts.Full {
		err = store.WithRebuild(func() error {
			if err := store.Reset(ctx); err != nil {
				return fmt.Errorf("resetting store: %w", err)
			}
			return indexAll(ctx, ix, store, entries, workers, result, progress, opts.Metrics)
		})
	} else {
		err = incremental(ctx, ix, store, entries, workers, result, progress, opts.Metrics)
	}
	if err != nil {
		return nil, err
	}

	result.Duration = time.Since(start)
	opts.Metrics.BuildFinished(result.Duration)
	logger.Info("index built",
		zap.String("root", root),
		zap.Bool("full", opts.Full),
		zap.Int("files", result.Files),
		zap.Int("indexed", result.Indexed),
		zap.Int("skipped", result.Skipped),
		zap.Int("removed", result.Removed),
		zap.Int("partial", result.Partial),
		zap.Int("failed", result.Failed),
		zap.Duration("duration", result.Duration))
	return result, nil
}

func incremental(ctx context.Context, ix *Indexer, store storage.Store, entries []FileEntry, workers int, result *BuildResult, progress ProgressCallback, m *metrics.Metrics) error {
	records, err := store.Files(ctx)
	if err != nil {
		return fmt.Errorf("listing indexed files: %w", err)
	}
	known := make(map[string]string, len(records))
	for _, r := range records {
		known[r.Path] = r.SHA
	}

	present := make(map[string]bool, len(entries))
	changed := make([]FileEntry, 0, len(entries))
	for _, e := range entries {
		present[e.RelPath] = true
		if sha, ok := known[e.RelPath]; ok && sha == e.SHA256 {
			result.Skipped++
			continue
		}
		changed = append(changed, e)
	}

	progress(PhasePrune, 0)
	for i, r := range records {
		if present[r.Path] {
			continue
		}
		if err := store.RemoveFile(ctx, r.Path); err != nil {
			return fmt.Errorf("removing %s: %w", r.Path, err)
		}
		result.Removed++
		m.FileRemoved()
		progress(PhasePrune, float64(i+1)/float64(len(records)))
	}
	progress(PhasePrune, 1)

	return indexAll(ctx, ix, store, changed, workers, result, progress, m)
}

// indexAll runs extraction over a bounded worker pool. Each file is applied
// to the store in its own transaction.
//
// A file too large for one transaction is logged, counted as failed and
// left without a record, so the next incremental build retries it. Any
// other store error aborts the build.
func indexAll(ctx context.Context, ix *Indexer, store storage.Store, entries []FileEntry, workers int, result *BuildResult, progress ProgressCallback, m *metrics.Metrics) error {
	progress(PhaseIndex, 0)

	var mu sync.Mutex
	done := 0
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, e := range entries {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			u, err := ix.Index(gctx, store, e)
			failed := errors.Is(err, storage.ErrUpdateTooLarge)
			switch {
			case failed:
				ix.logger.Warn("file not indexed", zap.String("path", e.RelPath), zap.Error(err))
				if err := store.RemoveFile(gctx, e.RelPath); err != nil {
					return fmt.Errorf("removing %s: %w", e.RelPath, err)
				}
				m.FileIndexed(StatusFailed)
			case err != nil:
				return err
			default:
				m.FileIndexed(u.Status)
			}

			mu.Lock()
			defer mu.Unlock()
			if failed {
				result.Failed++
			} else {
				result.add(u)
			}
			done++
			progress(PhaseIndex, float64(done)/float64(len(entries)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	progress(PhaseIndex, 1)
	return nil
}
