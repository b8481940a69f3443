package parsers

import (
	"context"
	"sort"
	"strings"

	"github.com/Benny93/repoctx/internal/graph"
)

// Status describes the outcome of extraction for one file.
type Status string

const (
	StatusOK          Status = "ok"
	StatusPartial     Status = "partial"
	StatusUnsupported Status = "unsupported-language"
)

// Result is the symbols and edges extracted from one file.
type Result struct {
	Symbols []graph.Symbol
	Edges   []graph.Edge
	Status  Status

	// Error is the parse error text for partial results.
	Error string
}

// Extractor is the per-language extraction capability.
type Extractor interface {
	// Extract never fails: malformed source yields a partial result and
	// unsupported input an empty one.
	Extract(ctx context.Context, path string, content []byte) Result

	// Language returns the language tag the extractor serves.
	Language() string
}

// Registry maps language tags to extractors.
type Registry struct {
	byLang   map[string]Extractor
	fallback Extractor
}

// NewRegistry creates a registry with the given extractors.
func NewRegistry(extractors ...Extractor) *Registry {
	r := &Registry{
		byLang:   make(map[string]Extractor),
		fallback: noopExtractor{},
	}
	for _, e := range extractors {
		r.Register(e)
	}
	return r
}

// DefaultRegistry returns a registry with every built-in language.
func DefaultRegistry() *Registry {
	return NewRegistry(
		NewStructural(NewGoParser()),
		NewStructural(NewPythonParser()),
		NewStructural(NewJavaScriptParser()),
		NewStructural(NewTypeScriptParser()),
	)
}

// Register adds or replaces the extractor for its language.
func (r *Registry) Register(e Extractor) {
	r.byLang[e.Language()] = e
}

// For returns the extractor for lang, or the no-op extractor.
func (r *Registry) For(lang string) Extractor {
	if e, ok := r.byLang[lang]; ok {
		return e
	}
	return r.fallback
}

// Supports reports whether lang has a structural extractor.
func (r *Registry) Supports(lang string) bool {
	_, ok := r.byLang[lang]
	return ok
}

// Languages returns the registered language tags, sorted.
func (r *Registry) Languages() []string {
	out := make([]string, 0, len(r.byLang))
	for lang := range r.byLang {
		out = append(out, lang)
	}
	sort.Strings(out)
	return out
}

// Extract dispatches to the extractor for lang.
func (r *Registry) Extract(ctx context.Context, path, lang string, content []byte) Result {
	return r.For(lang).Extract(ctx, path, content)
}

type noopExtractor struct{}

func (noopExtractor) Extract(context.Context, string, []byte) Result {
	return Result{Status: StatusUnsupported}
}

func (noopExtractor) Language() string { return "" }

// Structural adapts a Parser into an Extractor.
type Structural struct {
	parser Parser
}

// NewStructural wraps a parser.
func NewStructural(p Parser) *Structural {
	return &Structural{parser: p}
}

// Language returns the parser's language.
func (s *Structural) Language() string {
	return s.parser.Language()
}

// Extract parses content and builds symbols and edges.
func (s *Structural) Extract(ctx context.Context, path string, content []byte) Result {
	pr, err := s.parser.Parse(ctx, path, content)
	if err != nil {
		pr = &ParseResult{Partial: true, Errors: []string{err.Error()}}
	}
	if pr.Module == "" {
		pr.Module = modulePath(path)
	}
	return Build(path, lineCount(content), pr)
}

// Build converts a parse result into graph symbols and edges.
//
// Every file gets a module symbol of kind other spanning the whole file;
// file-scope references originate from it. References to a name declared in
// the same file resolve to that declaration (preferring a matching container
// for receiver calls); everything else, and every import, stays unresolved
// and is resolved by name at traversal time.
func Build(path string, lines int, pr *ParseResult) Result {
	res := Result{Status: StatusOK}
	if pr.Partial {
		res.Status = StatusPartial
		res.Error = strings.Join(pr.Errors, "; ")
	}

	modSpan := graph.Span{Start: 1, End: max(lines, 1)}
	module := graph.Symbol{
		ID:       graph.SymbolID(path, graph.SymbolOther, pr.Module, modSpan),
		Kind:     graph.SymbolOther,
		Name:     pr.Module,
		Path:     path,
		Span:     modSpan,
		Exported: true,
	}
	res.Symbols = append(res.Symbols, module)

	ids := make([]string, len(pr.Symbols))
	byName := make(map[string][]int)
	seen := map[string]bool{module.ID: true}
	for i, ps := range pr.Symbols {
		span := graph.Span{Start: ps.StartLine, End: max(ps.EndLine, ps.StartLine)}
		sym := graph.Symbol{
			ID:        graph.SymbolID(path, ps.Kind, ps.Name, span),
			Kind:      ps.Kind,
			Name:      ps.Name,
			Path:      path,
			Span:      span,
			Signature: ps.Signature,
			Container: ps.Container,
			Exported:  ps.Exported,
		}
		ids[i] = sym.ID
		if seen[sym.ID] {
			continue
		}
		seen[sym.ID] = true
		res.Symbols = append(res.Symbols, sym)
		byName[ps.Name] = append(byName[ps.Name], i)
	}

	type edgeKey struct {
		kind     graph.EdgeKind
		from, to string
		name     string
	}
	dedup := make(map[edgeKey]bool)

	for _, ref := range pr.Refs {
		from := module.ID
		if ref.Owner >= 0 && ref.Owner < len(ids) {
			from = ids[ref.Owner]
		}

		to := ""
		if ref.Kind != graph.EdgeImports {
			to = resolveLocal(pr.Symbols, ids, byName[ref.Name], ref.Receiver)
		}

		key := edgeKey{kind: ref.Kind, from: from, to: to, name: ref.Name}
		if dedup[key] {
			continue
		}
		dedup[key] = true
		res.Edges = append(res.Edges, graph.Edge{Kind: ref.Kind, From: from, To: to, ToName: ref.Name, Line: ref.Line})
	}

	return res
}

func resolveLocal(symbols []ParsedSymbol, ids []string, candidates []int, receiver string) string {
	if len(candidates) == 0 {
		return ""
	}
	if receiver != "" {
		for _, i := range candidates {
			if symbols[i].Container == receiver {
				return ids[i]
			}
		}
	}
	return ids[candidates[0]]
}

func lineCount(content []byte) int {
	if len(content) == 0 {
		return 1
	}
	n := strings.Count(string(content), "\n")
	if content[len(content)-1] != '\n' {
		n++
	}
	return n
}

// modulePath strips the extension from a slash path: "pkg/mod.py" -> "pkg/mod".
func modulePath(path string) string {
	if i := strings.LastIndexByte(path, '.'); i > strings.LastIndexByte(path, '/') {
		return path[:i]
	}
	return path
}
