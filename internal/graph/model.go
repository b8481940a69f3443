// Package graph provides the symbol/dependency graph data model for repoctx.
//
// It defines the symbols (definitions, exports, types, modules) extracted
// from source files and the directed edges between them (imports, calls,
// references, type uses). Edges are stored as records over symbol IDs, never
// as object pointers, so import cycles are plain data.
package graph

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// SymbolKind represents the kind of a symbol.
type SymbolKind string

const (
	SymbolDefinition SymbolKind = "definition"
	SymbolExport     SymbolKind = "export"
	SymbolType       SymbolKind = "type"
	SymbolOther      SymbolKind = "other"
)

// EdgeKind represents the type of relationship between symbols.
type EdgeKind string

const (
	EdgeImports    EdgeKind = "imports"
	EdgeCalls      EdgeKind = "calls"
	EdgeReferences EdgeKind = "references"
	EdgeTypeUses   EdgeKind = "type-uses"
)

// AllEdgeKinds lists every edge kind in a fixed order.
var AllEdgeKinds = []EdgeKind{EdgeImports, EdgeCalls, EdgeReferences, EdgeTypeUses}

// ParseEdgeKind validates an edge kind name.
func ParseEdgeKind(s string) (EdgeKind, error) {
	for _, k := range AllEdgeKinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown edge kind %q", s)
}

// Span is a 1-based inclusive line range.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Symbol represents a named entity extracted from a file.
type Symbol struct {
	// ID is the stable hash of path, kind, name and span.
	ID string `json:"id"`

	// Kind is the symbol kind.
	Kind SymbolKind `json:"kind"`

	// Name is the symbol name (function, type, binding or module name).
	Name string `json:"name"`

	// Path is the repository-relative path of the owning file.
	Path string `json:"path"`

	// Span is the line range of the declaration.
	Span Span `json:"span"`

	// Signature is the declaration header, when one exists.
	Signature string `json:"signature,omitempty"`

	// Container is the enclosing class or receiver type, for members.
	Container string `json:"container,omitempty"`

	// Exported reports whether the symbol is visible outside its module.
	Exported bool `json:"exported,omitempty"`
}

// Edge represents a directed relation from a symbol to another symbol or to
// an unresolved name.
type Edge struct {
	// Kind is the edge kind.
	Kind EdgeKind `json:"kind"`

	// From is the ID of the source symbol. Edges originating at file scope
	// use the file's module symbol.
	From string `json:"from"`

	// To is the ID of the target symbol, empty when unresolved.
	To string `json:"to,omitempty"`

	// ToName is the referenced name. Always set.
	ToName string `json:"to_name"`

	// Line is the line of the reference.
	Line int `json:"line,omitempty"`
}

// Resolved reports whether the edge points at a known symbol.
func (e Edge) Resolved() bool {
	return e.To != ""
}

// SymbolID creates a deterministic symbol ID from path, kind, name and span.
func SymbolID(path string, kind SymbolKind, name string, span Span) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%d-%d", path, kind, name, span.Start, span.End)
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// Neighbor is a symbol reached during traversal.
type Neighbor struct {
	// Symbol is the reached symbol.
	Symbol Symbol `json:"symbol"`

	// Depth is the number of hops from the start symbol (>= 1).
	Depth int `json:"depth"`

	// Via is the kind of the edge that first reached the symbol.
	Via EdgeKind `json:"via"`
}

// LessSymbol orders symbols by (path, span start, id).
func LessSymbol(a, b Symbol) bool {
	if a.Path != b.Path {
		return a.Path < b.Path
	}
	if a.Span.Start != b.Span.Start {
		return a.Span.Start < b.Span.Start
	}
	return a.ID < b.ID
}
