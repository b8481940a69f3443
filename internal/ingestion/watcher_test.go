package ingestion

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Benny93/repoctx/internal/lexical"
	"github.com/Benny93/repoctx/internal/storage"
)

func newTestWatcher(t *testing.T, files map[string]string, opts WatchOptions) (*Watcher, storage.Store, string) {
	t.Helper()

	root := t.TempDir()
	writeTree(t, root, files)
	store := storage.NewMemoryStore(lexical.DefaultParams())
	_, err := Build(context.Background(), root, store, BuildOptions{})
	require.NoError(t, err)

	w, err := NewWatcher(root, store, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return w, store, root
}

func TestWatcher_Process(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("ReindexesChangedFile", func(t *testing.T) {
		t.Parallel()
		w, store, root := newTestWatcher(t, sampleRepo, WatchOptions{})
		writeTree(t, root, map[string]string{"a.py": "def renamed():\n    return 1\n"})

		batch := w.Process(ctx, []string{"a.py"})
		assert.Equal(t, []string{"a.py"}, batch.Indexed)
		assert.Empty(t, batch.Failed)

		v, err := store.Snapshot()
		require.NoError(t, err)
		defer v.Release()
		ids, err := v.Resolve("renamed")
		require.NoError(t, err)
		assert.Len(t, ids, 1)
		ids, err = v.Resolve("foo")
		require.NoError(t, err)
		assert.Empty(t, ids)
	})

	t.Run("RemovesDeletedFile", func(t *testing.T) {
		t.Parallel()
		w, store, root := newTestWatcher(t, sampleRepo, WatchOptions{})
		require.NoError(t, os.Remove(filepath.Join(root, "b.py")))

		batch := w.Process(ctx, []string{"b.py"})
		assert.Equal(t, []string{"b.py"}, batch.Removed)
		assert.NotContains(t, indexedPaths(t, store), "b.py")
	})

	t.Run("RemovesDeletedDirectory", func(t *testing.T) {
		t.Parallel()
		w, store, root := newTestWatcher(t, sampleRepo, WatchOptions{})
		require.NoError(t, os.RemoveAll(filepath.Join(root, "web")))

		batch := w.Process(ctx, []string{"web"})
		assert.Equal(t, []string{"web/app.ts"}, batch.Removed)
		assert.Equal(t, []string{"a.py", "b.py", "cmd/main.go", "notes.md"}, indexedPaths(t, store))
	})

	t.Run("ReindexesTextAndSkipsIgnored", func(t *testing.T) {
		t.Parallel()
		w, store, root := newTestWatcher(t, sampleRepo, WatchOptions{})
		writeTree(t, root, map[string]string{
			"notes.md":          "# Changelog\n\nAdded circuit breaker.\n",
			"node_modules/x.js": "module.exports = 1",
		})

		batch := w.Process(ctx, []string{"notes.md", "node_modules/x.js"})
		assert.Equal(t, []string{"notes.md"}, batch.Indexed)
		assert.Empty(t, batch.Removed)
		assert.Len(t, indexedPaths(t, store), 5)

		v, err := store.Snapshot()
		require.NoError(t, err)
		defer v.Release()
		hits, err := v.Search(ctx, "circuit breaker", 5)
		require.NoError(t, err)
		require.NotEmpty(t, hits)
		assert.Equal(t, "notes.md", hits[0].Path)
	})

	t.Run("RemovesFileTurnedBinary", func(t *testing.T) {
		t.Parallel()
		w, store, root := newTestWatcher(t, sampleRepo, WatchOptions{})
		writeTree(t, root, map[string]string{"notes.md": "\x00\x01\x02\x03binary"})

		batch := w.Process(ctx, []string{"notes.md"})
		assert.Empty(t, batch.Indexed)
		assert.Empty(t, batch.Failed)
		assert.Equal(t, []string{"notes.md"}, batch.Removed)
		assert.NotContains(t, indexedPaths(t, store), "notes.md")
	})
}

func TestWatcher_OversizedFileDropsStaleRecord(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"big.py":   "def small():\n    pass\n",
		"other.py": "def other():\n    pass\n",
	})
	store, _, err := storage.Open(filepath.Join(t.TempDir(), "index"), storage.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	_, err = Build(ctx, root, store, BuildOptions{})
	require.NoError(t, err)

	w, err := NewWatcher(root, store, WatchOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	writeTree(t, root, map[string]string{"big.py": oversizedPython(t)})
	batch := w.Process(ctx, []string{"big.py"})
	assert.Equal(t, []string{"big.py"}, batch.Failed)
	assert.Empty(t, batch.Indexed)
	assert.Equal(t, []string{"other.py"}, indexedPaths(t, store))

	v, err := store.Snapshot()
	require.NoError(t, err)
	defer v.Release()
	ids, err := v.Resolve("small")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestWatcher_Run(t *testing.T) {
	t.Parallel()

	batches := make(chan Batch, 8)
	w, store, root := newTestWatcher(t, sampleRepo, WatchOptions{
		Debounce: 50 * time.Millisecond,
		OnBatch:  func(b Batch) { batches <- b },
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	writeTree(t, root, map[string]string{"c.py": "def watched():\n    pass\n"})

	deadline := time.After(5 * time.Second)
	for {
		select {
		case b := <-batches:
			if !assert.NotContains(t, b.Failed, "c.py") {
				cancel()
				return
			}
			if len(b.Indexed) == 0 || !slices.Contains(b.Indexed, "c.py") {
				continue
			}
			assert.Contains(t, indexedPaths(t, store), "c.py")
			cancel()
			assert.ErrorIs(t, <-done, context.Canceled)
			return
		case <-deadline:
			cancel()
			t.Fatal("no batch for c.py")
		}
	}
}
