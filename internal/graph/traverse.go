package graph

import (
	"context"
	"sort"
	"strings"
)

// Source is the read access traversal needs from a graph store.
type Source interface {
	// Symbol returns the symbol with the given ID, or false.
	Symbol(id string) (Symbol, bool, error)

	// Outgoing returns the edges whose From is id.
	Outgoing(id string) ([]Edge, error)

	// Resolve returns the IDs of every symbol with the given name.
	Resolve(name string) ([]string, error)
}

// Traverse performs a breadth-first walk from start along edges of the given
// kinds (all kinds when empty), up to maxDepth hops.
//
// Neighbors are returned in increasing depth; within a depth they are ordered
// by (path, span start, id). A visited set guarantees each symbol is emitted at
// most once and the start symbol is never emitted. Unresolved edges are
// followed by resolving their target name. An unknown start yields nil.
func Traverse(ctx context.Context, src Source, start string, kinds []EdgeKind, maxDepth int) ([]Neighbor, error) {
	if maxDepth <= 0 {
		return nil, nil
	}
	if _, ok, err := src.Symbol(start); err != nil || !ok {
		return nil, err
	}

	allowed := make(map[EdgeKind]bool, len(kinds))
	for _, k := range kinds {
		allowed[k] = true
	}

	visited := map[string]bool{start: true}
	frontier := []string{start}
	var result []Neighbor

	for depth := 1; depth <= maxDepth && len(frontier) > 0; depth++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		// First edge kind to reach each symbol at this depth, decided in
		// frontier order so the outcome does not depend on map iteration.
		reached := make(map[string]EdgeKind)
		var level []Symbol

		for _, id := range frontier {
			edges, err := src.Outgoing(id)
			if err != nil {
				return nil, err
			}
			sortEdges(edges)

			for _, e := range edges {
				if len(allowed) > 0 && !allowed[e.Kind] {
					continue
				}
				targets := []string{e.To}
				if !e.Resolved() {
					targets, err = resolve(src, e)
					if err != nil {
						return nil, err
					}
				}
				for _, t := range targets {
					if visited[t] {
						continue
					}
					sym, ok, err := src.Symbol(t)
					if err != nil {
						return nil, err
					}
					if !ok {
						continue
					}
					visited[t] = true
					reached[t] = e.Kind
					level = append(level, sym)
				}
			}
		}

		sort.Slice(level, func(i, j int) bool { return LessSymbol(level[i], level[j]) })

		frontier = frontier[:0]
		for _, sym := range level {
			result = append(result, Neighbor{Symbol: sym, Depth: depth, Via: reached[sym.ID]})
			frontier = append(frontier, sym.ID)
		}
	}

	return result, nil
}

// resolve looks up an unresolved edge target by name. Import paths that do
// not match a module exactly are retried with leading path segments removed,
// so "example.com/app/internal/store" finds the module "internal/store".
func resolve(src Source, e Edge) ([]string, error) {
	name := e.ToName
	for {
		ids, err := src.Resolve(name)
		if err != nil || len(ids) > 0 || e.Kind != EdgeImports {
			return ids, err
		}
		i := strings.IndexByte(name, '/')
		if i < 0 {
			return nil, nil
		}
		name = name[i+1:]
	}
}

// sortEdges orders edges by (kind, to name, to, line) for deterministic walks.
func sortEdges(edges []Edge) {
	sort.Slice(edges, func(i, j int) bool {
		a, b := edges[i], edges[j]
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		if a.ToName != b.ToName {
			return a.ToName < b.ToName
		}
		if a.To != b.To {
			return a.To < b.To
		}
		return a.Line < b.Line
	})
}
