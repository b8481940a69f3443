package retrieval

import (
	"context"
	"fmt"
	"sort"

	"github.com/Benny93/repoctx/internal/graph"
	"github.com/Benny93/repoctx/internal/storage"
)

// SearchHit is one lexical match with its chunk span.
type SearchHit struct {
	ChunkID    string  `json:"chunk_id"`
	Path       string  `json:"path"`
	StartLine  int     `json:"start_line"`
	EndLine    int     `json:"end_line"`
	TokenCount int     `json:"token_count"`
	Score      float64 `json:"score"`
}

// SymbolNeighbors is a resolved symbol and what it reaches.
type SymbolNeighbors struct {
	Symbol    graph.Symbol     `json:"symbol"`
	Neighbors []graph.Neighbor `json:"neighbors"`
}

// Search runs the lexical phase alone and returns the top limit chunks.
func (e *Engine) Search(ctx context.Context, query string, limit int) ([]SearchHit, error) {
	if limit <= 0 {
		limit = DefaultResultLimit
	}
	var hits []SearchHit
	err := e.read(func(v storage.View) error {
		found, err := v.Search(ctx, query, limit)
		if err != nil {
			return err
		}
		hits = make([]SearchHit, 0, len(found))
		for _, h := range found {
			hit := SearchHit{ChunkID: h.ChunkID, Path: h.Path, StartLine: h.StartLine, Score: h.Score}
			if c, ok, err := v.Chunk(h.ChunkID); err != nil {
				return err
			} else if ok {
				hit.EndLine = c.EndLine
				hit.TokenCount = c.TokenCount
			}
			hits = append(hits, hit)
		}
		return nil
	})
	return hits, err
}

// Neighbors resolves name and walks the graph from every match. An
// unknown name yields no matches.
func (e *Engine) Neighbors(ctx context.Context, name string, kinds []graph.EdgeKind, depth int) ([]SymbolNeighbors, error) {
	var out []SymbolNeighbors
	err := e.read(func(v storage.View) error {
		ids, err := v.Resolve(name)
		if err != nil {
			return err
		}
		syms := make([]graph.Symbol, 0, len(ids))
		for _, id := range ids {
			s, ok, err := v.Symbol(id)
			if err != nil {
				return err
			}
			if ok {
				syms = append(syms, s)
			}
		}
		sort.Slice(syms, func(i, j int) bool { return graph.LessSymbol(syms[i], syms[j]) })

		for _, s := range syms {
			n, err := storage.GetNeighbors(ctx, v, s.ID, kinds, depth)
			if err != nil {
				return err
			}
			if n == nil {
				n = []graph.Neighbor{}
			}
			out = append(out, SymbolNeighbors{Symbol: s, Neighbors: n})
		}
		return nil
	})
	return out, err
}

// read runs fn against a fresh snapshot.
func (e *Engine) read(fn func(storage.View) error) error {
	v, err := e.store.Snapshot()
	if err != nil {
		return NewError(CodeStoreUnavailable, "opening store snapshot", err)
	}
	defer v.Release()
	if err := fn(v); err != nil {
		return fmt.Errorf("reading store: %w", err)
	}
	return nil
}
