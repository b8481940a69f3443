package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Benny93/repoctx/internal/ingestion"
	"github.com/Benny93/repoctx/internal/metrics"
)

// IndexCmd builds or refreshes the index.
type IndexCmd struct {
	Full    bool `help:"Drop the index and reindex every file"`
	Workers int  `help:"Parallel extraction workers (default: index.workers or GOMAXPROCS)"`
}

// Run executes the index command.
func (c *IndexCmd) Run(ctx context.Context, g *Globals) error {
	e, err := g.env()
	if err != nil {
		return err
	}
	store, info, err := e.openStore(false)
	if err != nil {
		return err
	}
	defer closeStore(store, e.logger)

	opts := e.buildOptions(c.Full || info.Rebuilt, c.Workers, nil)
	if info.Rebuilt {
		e.logger.Warn("index schema changed, rebuilding from scratch", zap.Int("found", info.FoundVersion))
	}
	if !e.quiet {
		color.New(color.FgGreen).Fprintf(e.out, "Indexing %s\n", e.root)
		opts.Progress = func(phase string, pct float64) {
			fmt.Fprintf(e.out, "\r\033[K%s (%.0f%%)", phase, pct*100)
		}
	}

	result, err := ingestion.Build(ctx, e.root, store, opts)
	if err != nil {
		return fmt.Errorf("building index: %w", err)
	}
	if e.quiet {
		return nil
	}

	fmt.Fprintln(e.out)
	color.New(color.FgGreen).Fprintln(e.out, "✓ Indexing complete")
	e.printf("  Files:        %d (%d indexed, %d unchanged, %d removed)\n",
		result.Files, result.Indexed, result.Skipped, result.Removed)
	if result.Partial > 0 || result.Unsupported > 0 {
		color.New(color.FgYellow).Fprintf(e.out, "  Partial:      %d\n  Text only:    %d\n", result.Partial, result.Unsupported)
	}
	if result.Failed > 0 {
		color.New(color.FgRed).Fprintf(e.out, "  Failed:       %d (too large to store, see log)\n", result.Failed)
	}
	e.printf("  Symbols:      %d\n", result.Symbols)
	e.printf("  Edges:        %d\n", result.Edges)
	e.printf("  Chunks:       %d\n", result.Chunks)
	e.printf("  Duration:     %.2fs\n", result.Duration.Seconds())
	return nil
}

// StatusCmd shows what the index holds.
type StatusCmd struct {
	JSON bool `help:"Print JSON"`
}

// Run executes the status command.
func (c *StatusCmd) Run(ctx context.Context, g *Globals) error {
	e, err := g.env()
	if err != nil {
		return err
	}
	store, _, err := e.openStore(true)
	if err != nil {
		return err
	}
	defer closeStore(store, e.logger)

	stats, err := store.Stats(ctx)
	if err != nil {
		return fmt.Errorf("reading stats: %w", err)
	}
	if c.JSON {
		return writeJSON(e.out, stats)
	}

	e.printf("Index status for %s\n", e.root)
	e.printf("  Schema:       v%d\n", stats.SchemaVersion)
	e.printf("  Files:        %d\n", stats.Files)
	e.printf("  Symbols:      %d\n", stats.Symbols)
	e.printf("  Edges:        %d (%d resolved, %d unresolved)\n", stats.Edges, stats.ResolvedEdges, stats.UnresolvedEdges)
	e.printf("  Chunks:       %d\n", stats.Chunks)
	e.printf("  Terms:        %d\n", stats.Terms)
	return nil
}

// CleanCmd deletes the index of the repository.
type CleanCmd struct {
	Force bool `short:"f" help:"Skip confirmation"`

	in io.Reader
}

// Run executes the clean command. The config file is kept.
func (c *CleanCmd) Run(g *Globals) error {
	e, err := g.env()
	if err != nil {
		return err
	}
	path := e.indexPath()
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("no index found at %s. Nothing to clean", e.root)
	}

	if !c.Force {
		in := c.in
		if in == nil {
			in = os.Stdin
		}
		e.printf("Delete index at %s? [y/N] ", path)
		answer, _ := bufio.NewReader(in).ReadString('\n')
		if a := strings.TrimSpace(answer); a != "y" && a != "Y" {
			e.printf("Aborted\n")
			return nil
		}
	}

	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("deleting index: %w", err)
	}
	color.New(color.FgGreen).Fprintf(e.out, "Deleted %s\n", path)
	return nil
}

// WatchCmd keeps the index current until interrupted.
type WatchCmd struct {
	Debounce  time.Duration `default:"2s" help:"Quiet period before a batch of changes is reindexed"`
	NoInitial bool          `help:"Skip the incremental build before watching"`
}

// Run executes the watch command.
func (c *WatchCmd) Run(ctx context.Context, g *Globals) error {
	e, err := g.env()
	if err != nil {
		return err
	}
	store, info, err := e.openStore(false)
	if err != nil {
		return err
	}
	defer closeStore(store, e.logger)

	m := metrics.New()
	if !c.NoInitial || info.Rebuilt {
		if _, err := ingestion.Build(ctx, e.root, store, e.buildOptions(info.Rebuilt, 0, m)); err != nil {
			return fmt.Errorf("building index: %w", err)
		}
	}

	w, err := ingestion.NewWatcher(e.root, store, ingestion.WatchOptions{
		Debounce: c.Debounce,
		Indexer:  ingestion.NewIndexer(nil, e.chunker(), e.logger.Named("ingestion")),
		OnBatch: func(b ingestion.Batch) {
			if e.quiet {
				return
			}
			ts := time.Now().Format("15:04:05")
			for _, p := range b.Indexed {
				e.printf("%s indexed %s\n", ts, p)
			}
			for _, p := range b.Removed {
				e.printf("%s removed %s\n", ts, p)
			}
			for _, p := range b.Failed {
				color.New(color.FgRed).Fprintf(e.out, "%s failed %s\n", ts, p)
			}
		},
		Logger:  e.logger,
		Metrics: m,
	})
	if err != nil {
		return err
	}

	if !e.quiet {
		e.printf("Watching %s for changes (Ctrl+C to stop)\n", e.root)
	}
	grp, gctx := errgroup.WithContext(ctx)
	grp.Go(func() error { return w.Run(gctx) })
	if addr := e.cfg.Metrics.Addr; addr != "" {
		grp.Go(func() error { return m.Serve(gctx, addr, e.logger) })
	}
	if err := grp.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("watch error: %w", err)
	}
	if !e.quiet {
		e.printf("Watch mode stopped.\n")
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// indexConfigPath is where env looks for the config by default.
func indexConfigPath(root string) string {
	return filepath.Join(root, ingestion.IndexDir, configFile)
}
