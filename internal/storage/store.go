// Package storage persists the symbol graph, the chunks and the lexical
// postings of an indexed repository.
//
// A Store accepts per-file updates that replace everything a file owns in a
// single transaction. Queries read through a View, which is a consistent
// snapshot of the store: updates committed after the View was taken are not
// visible to it.
package storage

import (
	"context"
	"errors"

	"github.com/Benny93/repoctx/internal/chunk"
	"github.com/Benny93/repoctx/internal/graph"
	"github.com/Benny93/repoctx/internal/lexical"
)

// SchemaVersion is the on-disk layout version. Stores written with another
// version are wiped and rebuilt on open.
const SchemaVersion = 2

var (
	// ErrSchemaMismatch reports an on-disk schema version other than SchemaVersion.
	ErrSchemaMismatch = errors.New("storage: schema version mismatch")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("storage: store is closed")

	// ErrUpdateTooLarge reports an update that does not fit into one
	// transaction. Nothing of it has been written.
	ErrUpdateTooLarge = errors.New("storage: update too large for one transaction")
)

// FileUpdate is everything one file owns after extraction and chunking.
type FileUpdate struct {
	Path     string
	Language string

	// SHA is the hex SHA-256 of the file content.
	SHA string

	// Status is the extraction status (ok, partial, unsupported-language).
	Status string

	Symbols []graph.Symbol
	Edges   []graph.Edge
	Chunks  []chunk.Chunk
}

// FileRecord is the per-file ownership record.
type FileRecord struct {
	Path      string   `json:"path"`
	Language  string   `json:"language,omitempty"`
	SHA       string   `json:"sha,omitempty"`
	Status    string   `json:"status,omitempty"`
	SymbolIDs []string `json:"symbols,omitempty"`
	ChunkIDs  []string `json:"chunks,omitempty"`
}

// Stats summarizes store contents.
type Stats struct {
	Files           int `json:"files"`
	Symbols         int `json:"symbols"`
	Edges           int `json:"edges"`
	ResolvedEdges   int `json:"resolved_edges"`
	UnresolvedEdges int `json:"unresolved_edges"`
	Chunks          int `json:"chunks"`
	Terms           int `json:"terms"`
	SchemaVersion   int `json:"schema_version"`
}

// View is a read-only snapshot of a store. Callers must Release it.
type View interface {
	graph.Source

	// Chunk returns the chunk with the given ID, or false.
	Chunk(id string) (chunk.Chunk, bool, error)

	// ChunksByPath returns a file's chunks in line order.
	ChunksByPath(path string) ([]chunk.Chunk, error)

	// SymbolsByPath returns a file's symbols ordered by span start.
	SymbolsByPath(path string) ([]graph.Symbol, error)

	// Files returns every file record ordered by path.
	Files() ([]FileRecord, error)

	// Search ranks chunks against query with BM25.
	Search(ctx context.Context, query string, topK int) ([]lexical.Hit, error)

	// Release ends the snapshot.
	Release()
}

// Store is a persistent graph, chunk and postings store.
type Store interface {
	// ApplyFile atomically replaces the symbols, edges, chunks and postings
	// owned by u.Path.
	ApplyFile(ctx context.Context, u FileUpdate) error

	// RemoveFile deletes everything owned by path.
	RemoveFile(ctx context.Context, path string) error

	// Files returns every file record ordered by path.
	Files(ctx context.Context) ([]FileRecord, error)

	// Snapshot opens a consistent read view.
	Snapshot() (View, error)

	// Stats counts the store contents.
	Stats(ctx context.Context) (Stats, error)

	// Reset deletes all data and keeps the store usable.
	Reset(ctx context.Context) error

	// WithRebuild runs fn while new snapshots wait, so a full rebuild is
	// never observed half-done.
	WithRebuild(fn func() error) error

	// Close releases all resources held by the store.
	Close() error
}

// GetNeighbors walks the graph of a view. See graph.Traverse.
func GetNeighbors(ctx context.Context, v View, id string, kinds []graph.EdgeKind, maxDepth int) ([]graph.Neighbor, error) {
	return graph.Traverse(ctx, v, id, kinds, maxDepth)
}

// ownedEdges keeps the edges that originate from one of symbols.
func ownedEdges(symbols []graph.Symbol, edges []graph.Edge) map[string][]graph.Edge {
	owned := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		owned[s.ID] = true
	}
	out := make(map[string][]graph.Edge)
	for _, e := range edges {
		if owned[e.From] {
			out[e.From] = append(out[e.From], e)
		}
	}
	return out
}
