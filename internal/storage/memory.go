package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/Benny93/repoctx/internal/chunk"
	"github.com/Benny93/repoctx/internal/graph"
	"github.com/Benny93/repoctx/internal/lexical"
)

// MemoryStore is an in-memory Store for tests and one-shot indexes.
//
// Views hold the store's read lock until released, so updates wait for
// in-flight queries and queries never observe a partial update.
type MemoryStore struct {
	mu      sync.RWMutex
	rebuild sync.RWMutex
	params  lexical.Params
	graph   *graph.Graph
	index   *lexical.MemoryIndex
	chunks  map[string]chunk.Chunk
	files   map[string]FileRecord
	closed  bool
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(params lexical.Params) *MemoryStore {
	if params == (lexical.Params{}) {
		params = lexical.DefaultParams()
	}
	m := &MemoryStore{params: params}
	m.resetLocked()
	return m
}

func (m *MemoryStore) resetLocked() {
	m.graph = graph.New()
	m.index = lexical.NewMemoryIndex(m.params)
	m.chunks = make(map[string]chunk.Chunk)
	m.files = make(map[string]FileRecord)
}

// ApplyFile implements Store.
func (m *MemoryStore) ApplyFile(ctx context.Context, u FileUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	old := m.files[u.Path]
	for _, id := range old.ChunkIDs {
		_ = m.index.RemoveChunk(ctx, id)
		delete(m.chunks, id)
	}

	rec := FileRecord{Path: u.Path, Language: u.Language, SHA: u.SHA, Status: u.Status}
	m.graph.UpsertFile(u.Path, u.Symbols, u.Edges)
	for _, s := range u.Symbols {
		rec.SymbolIDs = append(rec.SymbolIDs, s.ID)
	}
	for _, c := range u.Chunks {
		if err := m.index.IndexChunk(ctx, c); err != nil {
			return err
		}
		m.chunks[c.ID] = c
		rec.ChunkIDs = append(rec.ChunkIDs, c.ID)
	}
	m.files[u.Path] = rec
	return nil
}

// RemoveFile implements Store.
func (m *MemoryStore) RemoveFile(ctx context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	rec, ok := m.files[path]
	if !ok {
		return nil
	}
	m.graph.RemoveFile(path)
	for _, id := range rec.ChunkIDs {
		_ = m.index.RemoveChunk(ctx, id)
		delete(m.chunks, id)
	}
	delete(m.files, path)
	return nil
}

// Files implements Store.
func (m *MemoryStore) Files(context.Context) ([]FileRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filesLocked(), nil
}

func (m *MemoryStore) filesLocked() []FileRecord {
	out := make([]FileRecord, 0, len(m.files))
	for _, rec := range m.files {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Snapshot implements Store.
func (m *MemoryStore) Snapshot() (View, error) {
	m.rebuild.RLock()
	m.mu.RLock()
	m.rebuild.RUnlock()
	if m.closed {
		m.mu.RUnlock()
		return nil, ErrClosed
	}
	return &memoryView{m: m}, nil
}

// Stats implements Store.
func (m *MemoryStore) Stats(context.Context) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st := Stats{
		Files:         len(m.files),
		Symbols:       m.graph.SymbolCount(),
		Chunks:        len(m.chunks),
		Terms:         m.index.TermCount(),
		SchemaVersion: SchemaVersion,
	}
	for _, e := range m.graph.Edges() {
		st.Edges++
		if e.Resolved() {
			st.ResolvedEdges++
		} else {
			st.UnresolvedEdges++
		}
	}
	return st, nil
}

// Reset implements Store.
func (m *MemoryStore) Reset(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetLocked()
	return nil
}

// WithRebuild implements Store.
func (m *MemoryStore) WithRebuild(fn func() error) error {
	m.rebuild.Lock()
	defer m.rebuild.Unlock()
	return fn()
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// memoryView reads the store under its read lock.
type memoryView struct {
	m    *MemoryStore
	once sync.Once
}

func (v *memoryView) Release() {
	v.once.Do(v.m.mu.RUnlock)
}

func (v *memoryView) Symbol(id string) (graph.Symbol, bool, error) {
	s, ok := v.m.graph.GetSymbol(id)
	return s, ok, nil
}

func (v *memoryView) Outgoing(id string) ([]graph.Edge, error) {
	return v.m.graph.Outgoing(id), nil
}

func (v *memoryView) Resolve(name string) ([]string, error) {
	return v.m.graph.ResolveName(name), nil
}

func (v *memoryView) Chunk(id string) (chunk.Chunk, bool, error) {
	c, ok := v.m.chunks[id]
	return c, ok, nil
}

func (v *memoryView) ChunksByPath(path string) ([]chunk.Chunk, error) {
	rec := v.m.files[path]
	out := make([]chunk.Chunk, 0, len(rec.ChunkIDs))
	for _, id := range rec.ChunkIDs {
		if c, ok := v.m.chunks[id]; ok {
			out = append(out, c)
		}
	}
	chunk.Sort(out)
	return out, nil
}

func (v *memoryView) SymbolsByPath(path string) ([]graph.Symbol, error) {
	return v.m.graph.SymbolsByPath(path), nil
}

func (v *memoryView) Files() ([]FileRecord, error) {
	return v.m.filesLocked(), nil
}

func (v *memoryView) Search(ctx context.Context, query string, topK int) ([]lexical.Hit, error) {
	return v.m.index.Search(ctx, query, topK)
}
