package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Benny93/repoctx/internal/retrieval"
	"github.com/Benny93/repoctx/internal/storage"
)

var sampleRepo = map[string]string{
	"a.py":        "def foo():\n    return 42\n",
	"b.py":        "from a import foo\n\n\ndef bar():\n    return foo() + foo()\n",
	"pkg/util.go": "package pkg\n\n// Helper does nothing.\nfunc Helper() {}\n",
}

func writeRepo(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for path, content := range files {
		full := filepath.Join(root, filepath.FromSlash(path))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}
	return root
}

// indexedRepo writes sampleRepo and indexes it.
func indexedRepo(t *testing.T) string {
	t.Helper()
	root := writeRepo(t, sampleRepo)
	g := &Globals{Repo: root, Quiet: true, out: &bytes.Buffer{}}
	require.NoError(t, (&IndexCmd{}).Run(context.Background(), g))
	return root
}

func globals(root string) (*Globals, *bytes.Buffer) {
	var buf bytes.Buffer
	return &Globals{Repo: root, LogLevel: "error", out: &buf}, &buf
}

func TestCLI_Parse(t *testing.T) {
	t.Parallel()

	parse := func(t *testing.T, args ...string) (*CLI, string) {
		t.Helper()
		cli := NewCLI()
		parser, err := cli.parser(context.Background(), kong.Exit(func(int) {}))
		require.NoError(t, err)
		kctx, err := parser.Parse(args)
		require.NoError(t, err)
		return cli, kctx.Command()
	}

	t.Run("Query", func(t *testing.T) {
		t.Parallel()
		cli, command := parse(t, "-C", "/tmp/repo", "query", "-s", "foo", "--seed", "bar", "-b", "100", "fix", "the", "bug")
		assert.True(t, strings.HasPrefix(command, "query"), command)
		assert.Equal(t, "/tmp/repo", cli.Repo)
		assert.Equal(t, []string{"fix", "the", "bug"}, cli.Query.Text)
		assert.Equal(t, []string{"foo", "bar"}, cli.Query.Seed)
		assert.Equal(t, 100, cli.Query.Budget)
		assert.Equal(t, -1, cli.Query.Depth)
	})

	t.Run("Defaults", func(t *testing.T) {
		t.Parallel()
		cli, _ := parse(t, "search", "foo")
		assert.Equal(t, ".", cli.Repo)
		assert.Equal(t, 10, cli.Search.Limit)
	})

	t.Run("Neighbors", func(t *testing.T) {
		t.Parallel()
		cli, _ := parse(t, "neighbors", "bar", "-k", "calls", "-k", "imports", "-d", "2")
		assert.Equal(t, "bar", cli.Neighbors.Symbol)
		assert.Equal(t, []string{"calls", "imports"}, cli.Neighbors.Kind)
		assert.Equal(t, 2, cli.Neighbors.Depth)
	})

	t.Run("SetupWatchNegatable", func(t *testing.T) {
		t.Parallel()
		cli, _ := parse(t, "setup", "--claude", "--no-watch")
		assert.True(t, cli.Setup.Claude)
		assert.False(t, cli.Setup.Watch)
	})
}

func TestCLI_Execute(t *testing.T) {
	t.Parallel()

	root := writeRepo(t, sampleRepo)
	var buf bytes.Buffer
	require.NoError(t, NewCLI().execute(context.Background(), []string{"-C", root, "-q", "index"}, &buf))
	assert.Empty(t, buf.String())

	buf.Reset()
	require.NoError(t, NewCLI().execute(context.Background(), []string{"-C", root, "status", "--json"}, &buf))
	var stats storage.Stats
	require.NoError(t, json.Unmarshal(buf.Bytes(), &stats))
	assert.Equal(t, 3, stats.Files)
}

func TestIndexCmd_Run(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	root := writeRepo(t, sampleRepo)

	t.Run("Summary", func(t *testing.T) {
		g, buf := globals(root)
		require.NoError(t, (&IndexCmd{}).Run(ctx, g))
		out := buf.String()
		assert.Contains(t, out, "Indexing complete")
		assert.Contains(t, out, "3 indexed")
		assert.DirExists(t, filepath.Join(root, ".repoctx", "index"))
	})

	t.Run("IncrementalSkipsUnchanged", func(t *testing.T) {
		g, buf := globals(root)
		require.NoError(t, (&IndexCmd{}).Run(ctx, g))
		assert.Contains(t, buf.String(), "0 indexed, 3 unchanged")
	})

	t.Run("Full", func(t *testing.T) {
		g, buf := globals(root)
		require.NoError(t, (&IndexCmd{Full: true, Workers: 2}).Run(ctx, g))
		assert.Contains(t, buf.String(), "3 indexed, 0 unchanged")
	})

	t.Run("NotADirectory", func(t *testing.T) {
		g, _ := globals(filepath.Join(root, "a.py"))
		assert.ErrorContains(t, (&IndexCmd{}).Run(ctx, g), "not a directory")
	})
}

func TestIndexCmd_Config(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	root := writeRepo(t, sampleRepo)

	t.Run("InvalidRepoConfig", func(t *testing.T) {
		require.NoError(t, os.MkdirAll(filepath.Join(root, ".repoctx"), 0o755))
		require.NoError(t, os.WriteFile(indexConfigPath(root), []byte("lexical:\n  b: 2\n"), 0o644))
		g, _ := globals(root)
		assert.ErrorContains(t, (&IndexCmd{}).Run(ctx, g), "lexical.b")
	})

	t.Run("MissingExplicitConfig", func(t *testing.T) {
		g, _ := globals(root)
		g.Config = filepath.Join(root, "nope.yaml")
		assert.Error(t, (&IndexCmd{}).Run(ctx, g))
	})
}

func TestStatusCmd_Run(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("Text", func(t *testing.T) {
		t.Parallel()
		root := indexedRepo(t)
		g, buf := globals(root)
		require.NoError(t, (&StatusCmd{}).Run(ctx, g))
		out := buf.String()
		assert.Contains(t, out, "Files:        3")
		assert.Contains(t, out, "Schema:       v2")
	})

	t.Run("NoIndex", func(t *testing.T) {
		t.Parallel()
		g, _ := globals(t.TempDir())
		assert.ErrorContains(t, (&StatusCmd{}).Run(ctx, g), "no index found")
	})
}

func TestQueryCmd_Run(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	root := indexedRepo(t)

	t.Run("JSONWithExpansion", func(t *testing.T) {
		g, buf := globals(root)
		require.NoError(t, (&QueryCmd{Text: []string{"bar"}, Depth: 1, JSON: true}).Run(ctx, g))

		var bundle retrieval.ContextBundle
		require.NoError(t, json.Unmarshal(buf.Bytes(), &bundle))
		require.Len(t, bundle.Entries, 2)
		assert.Equal(t, "b.py", bundle.Entries[0].Chunk.Path)
		assert.Equal(t, "a.py", bundle.Entries[1].Chunk.Path)
		assert.Equal(t, 8000, bundle.TokenBudget)
		assert.LessOrEqual(t, bundle.UsedTokens, bundle.TokenBudget)
	})

	t.Run("Markdown", func(t *testing.T) {
		g, buf := globals(root)
		require.NoError(t, (&QueryCmd{Text: []string{"bar"}, Depth: -1}).Run(ctx, g))
		out := buf.String()
		assert.Contains(t, out, "# Context: bar")
		assert.Contains(t, out, "## b.py:1-5")
	})

	t.Run("SeedOnly", func(t *testing.T) {
		g, buf := globals(root)
		require.NoError(t, (&QueryCmd{Seed: []string{"Helper"}, Depth: 0, JSON: true}).Run(ctx, g))

		var bundle retrieval.ContextBundle
		require.NoError(t, json.Unmarshal(buf.Bytes(), &bundle))
		require.Len(t, bundle.Entries, 1)
		assert.Equal(t, "pkg/util.go", bundle.Entries[0].Chunk.Path)
		assert.Equal(t, []string{retrieval.TagSeed}, bundle.Entries[0].Tags)
	})

	t.Run("Ranked", func(t *testing.T) {
		g, buf := globals(root)
		require.NoError(t, (&QueryCmd{Text: []string{"foo"}, Depth: -1, Ranked: true, JSON: true}).Run(ctx, g))

		var cands []retrieval.Candidate
		require.NoError(t, json.Unmarshal(buf.Bytes(), &cands))
		require.Len(t, cands, 2)
		assert.NotNil(t, cands[0].SemanticScore, "hash scorer is on by default")
	})

	t.Run("InvalidTask", func(t *testing.T) {
		g, _ := globals(root)
		err := (&QueryCmd{Depth: -1}).Run(ctx, g)
		require.Error(t, err)
		assert.Equal(t, retrieval.CodeInvalidTask, retrieval.CodeOf(err))
	})
}

func TestSearchCmd_Run(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	root := indexedRepo(t)

	t.Run("JSON", func(t *testing.T) {
		g, buf := globals(root)
		require.NoError(t, (&SearchCmd{Query: []string{"foo"}, Limit: 10, JSON: true}).Run(ctx, g))

		var hits []retrieval.SearchHit
		require.NoError(t, json.Unmarshal(buf.Bytes(), &hits))
		require.Len(t, hits, 2)
		assert.Equal(t, "b.py", hits[0].Path)
	})

	t.Run("NoResults", func(t *testing.T) {
		g, buf := globals(root)
		require.NoError(t, (&SearchCmd{Query: []string{"zzzunknown"}, Limit: 10}).Run(ctx, g))
		assert.Contains(t, buf.String(), "No results")
	})
}

func TestNeighborsCmd_Run(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	root := indexedRepo(t)

	t.Run("Calls", func(t *testing.T) {
		g, buf := globals(root)
		require.NoError(t, (&NeighborsCmd{Symbol: "bar", Kind: []string{"calls"}, Depth: 1}).Run(ctx, g))
		out := buf.String()
		assert.Contains(t, out, "b.py:4")
		assert.Contains(t, out, "foo [calls, depth 1] a.py:1")
	})

	t.Run("UnknownSymbol", func(t *testing.T) {
		g, _ := globals(root)
		assert.ErrorContains(t, (&NeighborsCmd{Symbol: "nope", Depth: 1}).Run(ctx, g), "not found")
	})

	t.Run("UnknownKind", func(t *testing.T) {
		g, _ := globals(root)
		assert.ErrorContains(t, (&NeighborsCmd{Symbol: "bar", Kind: []string{"inherits"}}).Run(ctx, g), "unknown edge kind")
	})
}

func TestExportImport(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	src := indexedRepo(t)

	srcStats := func(t *testing.T, root string) storage.Stats {
		t.Helper()
		g, buf := globals(root)
		require.NoError(t, (&StatusCmd{JSON: true}).Run(ctx, g))
		var stats storage.Stats
		require.NoError(t, json.Unmarshal(buf.Bytes(), &stats))
		return stats
	}
	want := srcStats(t, src)

	for _, compress := range []bool{false, true} {
		name := "Plain"
		if compress {
			name = "Zstd"
		}
		t.Run(name, func(t *testing.T) {
			dump := filepath.Join(t.TempDir(), "index.dump")
			g, buf := globals(src)
			require.NoError(t, (&ExportCmd{Out: dump, Compress: compress}).Run(ctx, g))
			assert.Contains(t, buf.String(), "Exported 3 files")

			dst := t.TempDir()
			g, _ = globals(dst)
			require.NoError(t, (&ImportCmd{File: dump}).Run(ctx, g))
			assert.Equal(t, want, srcStats(t, dst))
		})
	}

	t.Run("Stdout", func(t *testing.T) {
		g, buf := globals(src)
		require.NoError(t, (&ExportCmd{Out: "-"}).Run(ctx, g))
		assert.True(t, strings.HasPrefix(buf.String(), "{"))
		assert.Contains(t, buf.String(), `"schema_version"`)
	})
}

func TestCleanCmd_Run(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("Aborted", func(t *testing.T) {
		t.Parallel()
		root := indexedRepo(t)
		g, buf := globals(root)
		require.NoError(t, (&CleanCmd{in: strings.NewReader("n\n")}).Run(g))
		assert.Contains(t, buf.String(), "Aborted")
		assert.DirExists(t, filepath.Join(root, ".repoctx", "index"))
	})

	t.Run("Confirmed", func(t *testing.T) {
		t.Parallel()
		root := indexedRepo(t)
		g, _ := globals(root)
		require.NoError(t, (&CleanCmd{in: strings.NewReader("y\n")}).Run(g))
		assert.NoDirExists(t, filepath.Join(root, ".repoctx", "index"))
		assert.ErrorContains(t, (&StatusCmd{}).Run(ctx, g), "no index found")
	})

	t.Run("Force", func(t *testing.T) {
		t.Parallel()
		root := indexedRepo(t)
		g, _ := globals(root)
		require.NoError(t, (&CleanCmd{Force: true}).Run(g))
		assert.NoDirExists(t, filepath.Join(root, ".repoctx", "index"))
	})

	t.Run("NothingToClean", func(t *testing.T) {
		t.Parallel()
		g, _ := globals(t.TempDir())
		assert.ErrorContains(t, (&CleanCmd{Force: true}).Run(g), "Nothing to clean")
	})
}
