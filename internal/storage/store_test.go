package storage

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Benny93/repoctx/internal/chunk"
	"github.com/Benny93/repoctx/internal/graph"
	"github.com/Benny93/repoctx/internal/lexical"
)

func setupTestBadgerStore(t *testing.T) *BadgerStore {
	t.Helper()

	s, info, err := Open(filepath.Join(t.TempDir(), "badger"), Options{})
	require.NoError(t, err)
	require.True(t, info.Created)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// stores returns a fresh instance of every Store implementation.
func stores(t *testing.T) map[string]Store {
	t.Helper()
	return map[string]Store{
		"Badger": setupTestBadgerStore(t),
		"Memory": NewMemoryStore(lexical.DefaultParams()),
	}
}

func symbol(path, name string, kind graph.SymbolKind, start, end int) graph.Symbol {
	span := graph.Span{Start: start, End: end}
	return graph.Symbol{ID: graph.SymbolID(path, kind, name, span), Kind: kind, Name: name, Path: path, Span: span}
}

// fileA defines foo and helper; foo calls helper.
func fileA() FileUpdate {
	foo := symbol("a.py", "foo", graph.SymbolDefinition, 1, 3)
	helper := symbol("a.py", "helper", graph.SymbolDefinition, 5, 6)
	return FileUpdate{
		Path:     "a.py",
		Language: "python",
		SHA:      "aaa",
		Status:   "ok",
		Symbols:  []graph.Symbol{foo, helper},
		Edges:    []graph.Edge{{Kind: graph.EdgeCalls, From: foo.ID, To: helper.ID, ToName: "helper", Line: 2}},
		Chunks: []chunk.Chunk{
			chunk.New("a.py", "python", 1, 3, "def foo():\n    return helper()\n"),
			chunk.New("a.py", "python", 5, 6, "def helper():\n    return 42\n"),
		},
	}
}

// fileB calls foo, unresolved.
func fileB() FileUpdate {
	caller := symbol("b.py", "caller", graph.SymbolDefinition, 1, 2)
	return FileUpdate{
		Path:    "b.py",
		SHA:     "bbb",
		Symbols: []graph.Symbol{caller},
		Edges:   []graph.Edge{{Kind: graph.EdgeCalls, From: caller.ID, ToName: "foo", Line: 2}},
		Chunks:  []chunk.Chunk{chunk.New("b.py", "python", 1, 2, "def caller():\n    foo()\n")},
	}
}

func TestStore_Contract(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			require.NoError(t, s.ApplyFile(ctx, fileA()))
			require.NoError(t, s.ApplyFile(ctx, fileB()))

			t.Run("Stats", func(t *testing.T) {
				st, err := s.Stats(ctx)
				require.NoError(t, err)
				assert.Equal(t, 2, st.Files)
				assert.Equal(t, 3, st.Symbols)
				assert.Equal(t, 2, st.Edges)
				assert.Equal(t, 1, st.ResolvedEdges)
				assert.Equal(t, 1, st.UnresolvedEdges)
				assert.Equal(t, 3, st.Chunks)
				assert.Positive(t, st.Terms)
				assert.Equal(t, SchemaVersion, st.SchemaVersion)
			})

			t.Run("FilesOrdered", func(t *testing.T) {
				files, err := s.Files(ctx)
				require.NoError(t, err)
				require.Len(t, files, 2)
				assert.Equal(t, "a.py", files[0].Path)
				assert.Equal(t, "aaa", files[0].SHA)
				assert.Len(t, files[0].ChunkIDs, 2)
				assert.Equal(t, "b.py", files[1].Path)
			})

			t.Run("ViewReads", func(t *testing.T) {
				v, err := s.Snapshot()
				require.NoError(t, err)
				defer v.Release()

				ids, err := v.Resolve("foo")
				require.NoError(t, err)
				require.Len(t, ids, 1)

				sym, ok, err := v.Symbol(ids[0])
				require.NoError(t, err)
				require.True(t, ok)
				assert.Equal(t, "a.py", sym.Path)

				chunks, err := v.ChunksByPath("a.py")
				require.NoError(t, err)
				require.Len(t, chunks, 2)
				assert.Equal(t, 1, chunks[0].StartLine)

				syms, err := v.SymbolsByPath("a.py")
				require.NoError(t, err)
				require.Len(t, syms, 2)
				assert.Equal(t, "foo", syms[0].Name)

				_, ok, err = v.Chunk("missing")
				require.NoError(t, err)
				assert.False(t, ok)
			})

			t.Run("NeighborsAcrossFiles", func(t *testing.T) {
				v, err := s.Snapshot()
				require.NoError(t, err)
				defer v.Release()

				callerID := fileB().Symbols[0].ID
				neighbors, err := GetNeighbors(ctx, v, callerID, nil, 2)
				require.NoError(t, err)
				require.Len(t, neighbors, 2)
				assert.Equal(t, "foo", neighbors[0].Symbol.Name)
				assert.Equal(t, 1, neighbors[0].Depth)
				assert.Equal(t, "helper", neighbors[1].Symbol.Name)
				assert.Equal(t, 2, neighbors[1].Depth)
			})

			t.Run("Search", func(t *testing.T) {
				v, err := s.Snapshot()
				require.NoError(t, err)
				defer v.Release()

				hits, err := v.Search(ctx, "return 42", 10)
				require.NoError(t, err)
				require.Len(t, hits, 2)
				assert.Equal(t, "a.py", hits[0].Path)
				assert.Equal(t, 5, hits[0].StartLine, "the chunk matching both terms ranks first")

				hits, err = v.Search(ctx, "", 10)
				require.NoError(t, err)
				assert.Empty(t, hits)
			})
		})
	}
}

func TestStore_AtomicReplace(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			require.NoError(t, s.ApplyFile(ctx, fileA()))
			require.NoError(t, s.ApplyFile(ctx, fileB()))

			// Re-extract a.py without helper.
			u := fileA()
			u.Symbols = u.Symbols[:1]
			u.Edges = nil
			u.Chunks = u.Chunks[:1]
			require.NoError(t, s.ApplyFile(ctx, u))

			v, err := s.Snapshot()
			require.NoError(t, err)
			defer v.Release()

			ids, err := v.Resolve("helper")
			require.NoError(t, err)
			assert.Empty(t, ids)

			neighbors, err := GetNeighbors(ctx, v, fileB().Symbols[0].ID, nil, 5)
			require.NoError(t, err)
			require.Len(t, neighbors, 1)
			assert.Equal(t, "foo", neighbors[0].Symbol.Name)

			hits, err := v.Search(ctx, "42", 10)
			require.NoError(t, err)
			assert.Empty(t, hits, "postings of the removed chunk must be gone")
		})
	}
}

func TestStore_RemoveFile(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			require.NoError(t, s.ApplyFile(ctx, fileA()))
			require.NoError(t, s.RemoveFile(ctx, "a.py"))
			require.NoError(t, s.RemoveFile(ctx, "never-indexed.py"))

			st, err := s.Stats(ctx)
			require.NoError(t, err)
			assert.Equal(t, Stats{SchemaVersion: SchemaVersion}, st)
		})
	}
}

func TestStore_CycleSafety(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			modA := symbol("a.py", "a", graph.SymbolOther, 1, 10)
			modB := symbol("b.py", "b", graph.SymbolOther, 1, 10)
			require.NoError(t, s.ApplyFile(ctx, FileUpdate{
				Path:    "a.py",
				Symbols: []graph.Symbol{modA},
				Edges:   []graph.Edge{{Kind: graph.EdgeImports, From: modA.ID, ToName: "b"}},
			}))
			require.NoError(t, s.ApplyFile(ctx, FileUpdate{
				Path:    "b.py",
				Symbols: []graph.Symbol{modB},
				Edges:   []graph.Edge{{Kind: graph.EdgeImports, From: modB.ID, ToName: "a"}},
			}))

			v, err := s.Snapshot()
			require.NoError(t, err)
			defer v.Release()

			neighbors, err := GetNeighbors(ctx, v, modA.ID, []graph.EdgeKind{graph.EdgeImports}, 5)
			require.NoError(t, err)
			require.Len(t, neighbors, 1)
			assert.Equal(t, modB.ID, neighbors[0].Symbol.ID)
		})
	}
}

func TestStore_Reset(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			require.NoError(t, s.ApplyFile(ctx, fileA()))
			require.NoError(t, s.WithRebuild(func() error {
				return s.Reset(ctx)
			}))

			files, err := s.Files(ctx)
			require.NoError(t, err)
			assert.Empty(t, files)

			require.NoError(t, s.ApplyFile(ctx, fileB()))
			st, err := s.Stats(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, st.Files)
		})
	}
}

func TestStore_ConcurrentDifferentFiles(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			var wg sync.WaitGroup
			errs := make(chan error, 20)
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					path := filepath.ToSlash(filepath.Join("pkg", string(rune('a'+i))+".py"))
					sym := symbol(path, "fn", graph.SymbolDefinition, 1, 2)
					errs <- s.ApplyFile(ctx, FileUpdate{
						Path:    path,
						Symbols: []graph.Symbol{sym},
						Chunks:  []chunk.Chunk{chunk.New(path, "python", 1, 2, "def fn():\n    pass\n")},
					})
				}(i)
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				require.NoError(t, err)
			}

			st, err := s.Stats(ctx)
			require.NoError(t, err)
			assert.Equal(t, 20, st.Files)
			assert.Equal(t, 20, st.Chunks)

			ids, err := func() ([]string, error) {
				v, err := s.Snapshot()
				if err != nil {
					return nil, err
				}
				defer v.Release()
				return v.Resolve("fn")
			}()
			require.NoError(t, err)
			assert.Len(t, ids, 20)
		})
	}
}

func TestStore_CanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			assert.ErrorIs(t, s.ApplyFile(ctx, fileA()), context.Canceled)
		})
	}
}
