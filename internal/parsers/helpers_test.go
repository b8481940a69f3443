package parsers

import (
	"github.com/Benny93/repoctx/internal/graph"
)

func findSymbol(r *ParseResult, name string) (ParsedSymbol, bool) {
	for _, s := range r.Symbols {
		if s.Name == name {
			return s, true
		}
	}
	return ParsedSymbol{}, false
}

func hasRef(r *ParseResult, kind graph.EdgeKind, name string) bool {
	for _, ref := range r.Refs {
		if ref.Kind == kind && ref.Name == name {
			return true
		}
	}
	return false
}

func refOwner(r *ParseResult, kind graph.EdgeKind, name string) string {
	for _, ref := range r.Refs {
		if ref.Kind == kind && ref.Name == name {
			if ref.Owner == FileScope {
				return ""
			}
			return r.Symbols[ref.Owner].Name
		}
	}
	return "<none>"
}
