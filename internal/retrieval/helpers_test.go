package retrieval

import (
	"context"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Benny93/repoctx/internal/chunk"
	"github.com/Benny93/repoctx/internal/lexical"
	"github.com/Benny93/repoctx/internal/parsers"
	"github.com/Benny93/repoctx/internal/storage"
)

// fooRepo defines foo in a.py, uses it heavily in b.py and mentions it once
// in the longer c.py.
var fooRepo = map[string]string{
	"a.py": "def foo():\n    return 42\n",
	"b.py": "from a import foo\n\n\ndef bar():\n    return foo() + foo()\n",
	"c.py": "def unrelated_long_helper_function():\n    message = 'foo is mentioned here only in passing'\n    return message\n",
}

// indexFiles extracts and chunks files into a fresh memory store.
func indexFiles(t *testing.T, files map[string]string) *storage.MemoryStore {
	t.Helper()

	ctx := context.Background()
	store := storage.NewMemoryStore(lexical.DefaultParams())
	reg := parsers.DefaultRegistry()
	chunker := chunk.NewLineChunker(400, 0)

	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, p := range paths {
		lang := languageOf(p)
		content := files[p]
		res := reg.Extract(ctx, p, lang, []byte(content))
		require.NoError(t, store.ApplyFile(ctx, storage.FileUpdate{
			Path:     p,
			Language: lang,
			SHA:      p,
			Status:   string(res.Status),
			Symbols:  res.Symbols,
			Edges:    res.Edges,
			Chunks:   chunker.Chunk(p, lang, content),
		}))
	}
	return store
}

func languageOf(path string) string {
	switch filepath.Ext(path) {
	case ".py":
		return "python"
	case ".go":
		return "go"
	case ".ts":
		return "typescript"
	default:
		return "javascript"
	}
}

// snapshot opens a view released at test cleanup.
func snapshot(t *testing.T, s storage.Store) storage.View {
	t.Helper()
	v, err := s.Snapshot()
	require.NoError(t, err)
	t.Cleanup(v.Release)
	return v
}

// chunkOf returns the single chunk of path.
func chunkOf(t *testing.T, v storage.View, path string) chunk.Chunk {
	t.Helper()
	chunks, err := v.ChunksByPath(path)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	return chunks[0]
}

func paths(entries []BundleEntry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Chunk.Path)
	}
	return out
}
