// Package parsers provides structural code parsers and the per-language
// symbol extractors built on them.
//
// A Parser turns source into declarations and references. An Extractor
// turns that into graph symbols and edges with stable IDs. Extractors are
// selected from a Registry by language tag; unknown tags get a no-op
// extractor so unsupported files never block indexing.
package parsers

import (
	"context"

	"github.com/Benny93/repoctx/internal/graph"
)

// FileScope is the owner index of references made outside any declaration.
const FileScope = -1

// ParsedSymbol represents a declaration extracted from source.
type ParsedSymbol struct {
	// Name is the symbol name (function, class, type, binding).
	Name string

	// Kind is the symbol kind.
	Kind graph.SymbolKind

	// StartLine is the starting line number (1-based).
	StartLine int

	// EndLine is the ending line number (1-based).
	EndLine int

	// Signature is the declaration header.
	Signature string

	// Container is the enclosing class or receiver type (for members).
	Container string

	// Exported indicates if the symbol is visible outside its module.
	Exported bool
}

// Reference represents a use of a name: an import, call, reference or type use.
type Reference struct {
	// Kind is the edge kind the reference produces.
	Kind graph.EdgeKind

	// Name is the referenced name.
	Name string

	// Receiver is the receiver or package qualifier, when present.
	Receiver string

	// Owner indexes ParseResult.Symbols, or is FileScope.
	Owner int

	// Line is the line number of the reference.
	Line int
}

// ParseResult contains all parsed information from a source file.
type ParseResult struct {
	// Module is the name other files use to import this file.
	Module string

	// Symbols extracted from the file, in source order.
	Symbols []ParsedSymbol

	// Refs found in the file.
	Refs []Reference

	// Partial is set when the source had syntax errors and only the
	// successfully parsed subtrees contributed.
	Partial bool

	// Errors holds parse error messages for partial results.
	Errors []string
}

// Parser defines the interface for language-specific parsers.
type Parser interface {
	// Parse parses source code and extracts declarations and references.
	// A returned error means nothing usable was parsed.
	Parse(ctx context.Context, filePath string, content []byte) (*ParseResult, error)

	// Language returns the language this parser handles.
	Language() string
}

func (r *ParseResult) addSymbol(s ParsedSymbol) int {
	r.Symbols = append(r.Symbols, s)
	return len(r.Symbols) - 1
}

func (r *ParseResult) addRef(kind graph.EdgeKind, name, receiver string, owner, line int) {
	if name == "" {
		return
	}
	r.Refs = append(r.Refs, Reference{Kind: kind, Name: name, Receiver: receiver, Owner: owner, Line: line})
}
