package lexical

import (
	"context"
	"sync"

	"github.com/Benny93/repoctx/internal/chunk"
)

// Index is the lexical indexer contract.
type Index interface {
	// IndexChunk replaces all postings for the chunk's ID.
	IndexChunk(ctx context.Context, c chunk.Chunk) error

	// RemoveChunk deletes every posting of a chunk.
	RemoveChunk(ctx context.Context, chunkID string) error

	// Search returns the topK best chunks for the query.
	Search(ctx context.Context, query string, topK int) ([]Hit, error)
}

// MemoryIndex is an in-memory inverted index.
type MemoryIndex struct {
	mu       sync.RWMutex
	params   Params
	postings map[string]map[string]int // term -> chunk ID -> tf
	docs     map[string]Doc
	terms    map[string][]string // chunk ID -> distinct terms
	totalLen int
}

// NewMemoryIndex creates an empty index.
func NewMemoryIndex(params Params) *MemoryIndex {
	return &MemoryIndex{
		params:   params,
		postings: make(map[string]map[string]int),
		docs:     make(map[string]Doc),
		terms:    make(map[string][]string),
	}
}

// IndexChunk replaces all postings for the chunk.
func (m *MemoryIndex) IndexChunk(_ context.Context, c chunk.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.removeLocked(c.ID)

	freq := Frequencies(c.Content)
	terms := make([]string, 0, len(freq))
	for term, tf := range freq {
		if m.postings[term] == nil {
			m.postings[term] = make(map[string]int)
		}
		m.postings[term][c.ID] = tf
		terms = append(terms, term)
	}
	m.terms[c.ID] = terms
	m.docs[c.ID] = Doc{ChunkID: c.ID, Path: c.Path, StartLine: c.StartLine, Len: c.TokenCount}
	m.totalLen += c.TokenCount
	return nil
}

// RemoveChunk deletes every posting of a chunk.
func (m *MemoryIndex) RemoveChunk(_ context.Context, chunkID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(chunkID)
	return nil
}

func (m *MemoryIndex) removeLocked(chunkID string) {
	for _, term := range m.terms[chunkID] {
		if p := m.postings[term]; p != nil {
			delete(p, chunkID)
			if len(p) == 0 {
				delete(m.postings, term)
			}
		}
	}
	if d, ok := m.docs[chunkID]; ok {
		m.totalLen -= d.Len
		delete(m.docs, chunkID)
	}
	delete(m.terms, chunkID)
}

// Search scores the query against the index with BM25.
func (m *MemoryIndex) Search(ctx context.Context, query string, topK int) ([]Hit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := CorpusStats{Docs: len(m.docs), TotalLen: m.totalLen}
	acc := NewAccumulator(m.params, stats)
	lookup := func(id string) (Doc, bool) {
		d, ok := m.docs[id]
		return d, ok
	}
	for _, term := range Terms(query) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if p := m.postings[term]; len(p) > 0 {
			acc.AddTerm(p, lookup)
		}
	}
	return acc.Hits(topK), nil
}

// TermCount returns the number of distinct terms.
func (m *MemoryIndex) TermCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.postings)
}

// DocFrequency returns how many chunks contain term.
func (m *MemoryIndex) DocFrequency(term string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.postings[term])
}
