package graph

import (
	"context"
	"sort"
	"sync"
)

// Graph is an in-memory symbol graph.
//
// Symbols are owned by the file that defines them; edges are owned by the
// file of their source symbol. Replacing a file removes every symbol and edge
// it owned before inserting the new ones, under one write lock.
//
// Secondary indexes (by path, by name, outgoing by source) keep lookups
// proportional to the result rather than the graph.
type Graph struct {
	mu      sync.RWMutex
	symbols map[string]Symbol

	// Secondary indexes, kept in sync by UpsertFile / RemoveFile.
	byPath   map[string][]string
	byName   map[string]map[string]bool
	outgoing map[string][]Edge
}

// New creates a new empty graph.
func New() *Graph {
	return &Graph{
		symbols:  make(map[string]Symbol),
		byPath:   make(map[string][]string),
		byName:   make(map[string]map[string]bool),
		outgoing: make(map[string][]Edge),
	}
}

// SymbolCount returns the number of symbols.
func (g *Graph) SymbolCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.symbols)
}

// EdgeCount returns the number of edges.
func (g *Graph) EdgeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n := 0
	for _, edges := range g.outgoing {
		n += len(edges)
	}
	return n
}

// UpsertFile atomically replaces the symbols and edges owned by path.
// Edges whose source is not one of the new symbols are discarded.
func (g *Graph) UpsertFile(path string, symbols []Symbol, edges []Edge) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.removeFileLocked(path)

	ids := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s.Path = path
		g.symbols[s.ID] = s
		ids = append(ids, s.ID)
		if g.byName[s.Name] == nil {
			g.byName[s.Name] = make(map[string]bool)
		}
		g.byName[s.Name][s.ID] = true
	}
	if len(ids) > 0 {
		g.byPath[path] = ids
	}

	for _, e := range edges {
		if src, ok := g.symbols[e.From]; !ok || src.Path != path {
			continue
		}
		g.outgoing[e.From] = append(g.outgoing[e.From], e)
	}
}

// RemoveFile removes every symbol and edge owned by path.
// Returns the number of symbols removed.
func (g *Graph) RemoveFile(path string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.removeFileLocked(path)
}

func (g *Graph) removeFileLocked(path string) int {
	ids := g.byPath[path]
	for _, id := range ids {
		s := g.symbols[id]
		delete(g.symbols, id)
		delete(g.outgoing, id)
		if names := g.byName[s.Name]; names != nil {
			delete(names, id)
			if len(names) == 0 {
				delete(g.byName, s.Name)
			}
		}
	}
	delete(g.byPath, path)
	return len(ids)
}

// GetSymbol returns the symbol with the given ID.
func (g *Graph) GetSymbol(id string) (Symbol, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	s, ok := g.symbols[id]
	return s, ok
}

// SymbolsByPath returns the symbols owned by path, ordered by span.
func (g *Graph) SymbolsByPath(path string) []Symbol {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]Symbol, 0, len(g.byPath[path]))
	for _, id := range g.byPath[path] {
		out = append(out, g.symbols[id])
	}
	sort.Slice(out, func(i, j int) bool { return LessSymbol(out[i], out[j]) })
	return out
}

// ResolveName returns the IDs of all symbols named name, ordered by
// (path, span start, id).
func (g *Graph) ResolveName(name string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ids, _ := readOnly{g}.Resolve(name)
	return ids
}

// GetNeighbors walks outgoing edges breadth-first from id. See Traverse.
func (g *Graph) GetNeighbors(ctx context.Context, id string, kinds []EdgeKind, maxDepth int) ([]Neighbor, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return Traverse(ctx, readOnly{g}, id, kinds, maxDepth)
}

// Outgoing returns a copy of the edges leaving id.
func (g *Graph) Outgoing(id string) []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]Edge(nil), g.outgoing[id]...)
}

// Symbols returns every symbol ordered by (path, span start, id).
func (g *Graph) Symbols() []Symbol {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]Symbol, 0, len(g.symbols))
	for _, s := range g.symbols {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return LessSymbol(out[i], out[j]) })
	return out
}

// Edges returns every edge grouped by source in symbol order.
func (g *Graph) Edges() []Edge {
	syms := g.Symbols()

	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []Edge
	for _, s := range syms {
		edges := append([]Edge(nil), g.outgoing[s.ID]...)
		sortEdges(edges)
		out = append(out, edges...)
	}
	return out
}

// readOnly adapts a graph whose read lock is already held to Source.
type readOnly struct{ g *Graph }

func (r readOnly) Symbol(id string) (Symbol, bool, error) {
	s, ok := r.g.symbols[id]
	return s, ok, nil
}

func (r readOnly) Outgoing(id string) ([]Edge, error) {
	return append([]Edge(nil), r.g.outgoing[id]...), nil
}

func (r readOnly) Resolve(name string) ([]string, error) {
	set := r.g.byName[name]
	if len(set) == 0 {
		return nil, nil
	}
	syms := make([]Symbol, 0, len(set))
	for id := range set {
		syms = append(syms, r.g.symbols[id])
	}
	sort.Slice(syms, func(i, j int) bool { return LessSymbol(syms[i], syms[j]) })
	ids := make([]string, len(syms))
	for i, s := range syms {
		ids[i] = s.ID
	}
	return ids, nil
}
