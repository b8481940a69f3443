// Package cmd provides the repoctx command-line interface.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/alecthomas/kong"
	"go.uber.org/zap"

	"github.com/Benny93/repoctx/internal/chunk"
	"github.com/Benny93/repoctx/internal/config"
	"github.com/Benny93/repoctx/internal/embeddings"
	"github.com/Benny93/repoctx/internal/ingestion"
	"github.com/Benny93/repoctx/internal/lexical"
	"github.com/Benny93/repoctx/internal/logging"
	"github.com/Benny93/repoctx/internal/metrics"
	"github.com/Benny93/repoctx/internal/retrieval"
	"github.com/Benny93/repoctx/internal/storage"
)

// Version is set at build time via ldflags.
var Version = "dev"

const (
	configFile = "config.yaml"
	indexDir   = "index"
)

// Globals are the flags shared by every command.
type Globals struct {
	Repo     string `short:"C" default:"." help:"Repository root"`
	Config   string `help:"Config file (default: <repo>/.repoctx/config.yaml)"`
	LogLevel string `help:"Log level (debug, info, warn, error); overrides the config"`
	Verbose  bool   `short:"v" help:"Log at debug level"`
	Quiet    bool   `short:"q" help:"Suppress non-essential output"`

	out io.Writer
}

// CLI is the root Kong command structure.
type CLI struct {
	Globals

	Version kong.VersionFlag `help:"Show version information"`

	Index     IndexCmd     `cmd:"" help:"Index the repository (incremental unless --full)"`
	Query     QueryCmd     `cmd:"" help:"Assemble the context bundle for a task"`
	Search    SearchCmd    `cmd:"" help:"Lexical search over indexed chunks"`
	Neighbors NeighborsCmd `cmd:"" help:"Show what a symbol reaches in the graph"`
	Status    StatusCmd    `cmd:"" help:"Show index contents"`
	Export    ExportCmd    `cmd:"" help:"Write the index as a versioned dump"`
	Import    ImportCmd    `cmd:"" help:"Replace the index with a dump"`
	Watch     WatchCmd     `cmd:"" help:"Keep the index current as files change"`
	MCP       MCPCmd       `cmd:"" name:"mcp" help:"Start the MCP server (stdio transport)"`
	Setup     SetupCmd     `cmd:"" help:"Configure MCP clients to launch repoctx"`
	Clean     CleanCmd     `cmd:"" help:"Delete the index of the repository"`
}

// NewCLI creates a new CLI instance.
func NewCLI() *CLI {
	return &CLI{}
}

// Execute parses args and runs the selected command until it finishes or
// the process is interrupted.
func (c *CLI) Execute(args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return c.execute(ctx, args, os.Stdout)
}

func (c *CLI) execute(ctx context.Context, args []string, out io.Writer) error {
	parser, err := c.parser(ctx)
	if err != nil {
		return err
	}
	kctx, err := parser.Parse(args)
	if err != nil {
		return err
	}
	c.Globals.out = out
	return kctx.Run()
}

func (c *CLI) parser(ctx context.Context, opts ...kong.Option) (*kong.Kong, error) {
	return kong.New(c, append([]kong.Option{
		kong.Name("repoctx"),
		kong.Description("Task-scoped code context from a symbol graph and a lexical index"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact:             true,
			NoExpandSubcommands: true,
		}),
		kong.Vars{
			"version": Version,
		},
		kong.Bind(&c.Globals),
		kong.BindTo(ctx, (*context.Context)(nil)),
	}, opts...)...)
}

func (g *Globals) stdout() io.Writer {
	if g.out != nil {
		return g.out
	}
	return os.Stdout
}

// env is the resolved state a command runs with.
type env struct {
	root   string
	cfg    config.Config
	logger *zap.Logger
	out    io.Writer
	quiet  bool
}

func (g *Globals) env() (*env, error) {
	root, err := filepath.Abs(g.Repo)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("accessing %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}

	path, required := g.Config, true
	if path == "" {
		path, required = indexConfigPath(root), false
	}
	cfg, err := config.Load(path, required)
	if err != nil {
		return nil, err
	}
	switch {
	case g.Verbose:
		cfg.Log.Level = "debug"
	case g.LogLevel != "":
		cfg.Log.Level = g.LogLevel
	case g.Quiet:
		cfg.Log.Level = "warn"
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	return &env{root: root, cfg: cfg, logger: logger, out: g.stdout(), quiet: g.Quiet}, nil
}

func (e *env) indexPath() string {
	return filepath.Join(e.root, ingestion.IndexDir, indexDir)
}

// openStore opens the repository index. Read-only opens require an
// existing index.
func (e *env) openStore(readOnly bool) (*storage.BadgerStore, storage.OpenInfo, error) {
	path := e.indexPath()
	if readOnly {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			return nil, storage.OpenInfo{}, fmt.Errorf("no index found at %s. Run 'repoctx index' first", e.root)
		}
	} else if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, storage.OpenInfo{}, fmt.Errorf("creating index directory: %w", err)
	}

	store, info, err := storage.Open(path, storage.Options{
		ReadOnly: readOnly,
		Lexical:  lexical.Params{K1: e.cfg.Lexical.K1, B: e.cfg.Lexical.B},
		Logger:   e.logger,
	})
	if errors.Is(err, storage.ErrSchemaMismatch) {
		return nil, info, fmt.Errorf("index at %s has schema version %d, want %d. Run 'repoctx index' to rebuild it: %w",
			e.root, info.FoundVersion, storage.SchemaVersion, err)
	}
	if err != nil {
		return nil, info, fmt.Errorf("opening index: %w", err)
	}
	return store, info, nil
}

func (e *env) engine(store retrieval.Snapshotter, m *metrics.Metrics) (*retrieval.Engine, error) {
	scorer, err := embeddings.New(e.cfg.Retrieval.Scorer)
	if err != nil {
		return nil, err
	}
	return retrieval.NewEngine(store, retrieval.Options{
		Orchestrator: retrieval.OrchestratorOptions{
			ResultLimit: e.cfg.Retrieval.ResultLimit,
			Overfetch:   e.cfg.Retrieval.Overfetch,
			Weights: retrieval.Weights{
				Lexical:  e.cfg.Retrieval.LexicalWeight,
				Semantic: e.cfg.Retrieval.SemanticWeight,
			},
			Scorer: scorer,
		},
		Timeout: e.cfg.Retrieval.Timeout,
		Logger:  e.logger,
		Metrics: m,
	}), nil
}

func (e *env) buildOptions(full bool, workers int, m *metrics.Metrics) ingestion.BuildOptions {
	if workers <= 0 {
		workers = e.cfg.Index.Workers
	}
	return ingestion.BuildOptions{
		Full:    full,
		Workers: workers,
		Chunker: e.chunker(),
		Logger:  e.logger,
		Metrics: m,
	}
}

func (e *env) chunker() *chunk.LineChunker {
	return chunk.NewLineChunker(e.cfg.Index.ChunkMaxTokens, e.cfg.Index.ChunkOverlapTokens)
}

func (e *env) printf(format string, args ...any) {
	fmt.Fprintf(e.out, format, args...)
}

func closeStore(store storage.Store, logger *zap.Logger) {
	if err := store.Close(); err != nil {
		logger.Warn("closing index", zap.Error(err))
	}
}
