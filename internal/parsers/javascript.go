package parsers

import (
	"context"
	"path"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"github.com/Benny93/repoctx/internal/graph"
)

// JavaScriptParser parses JavaScript (including JSX) sources.
type JavaScriptParser struct{}

// NewJavaScriptParser creates a new JavaScript parser.
func NewJavaScriptParser() *JavaScriptParser {
	return &JavaScriptParser{}
}

// Language returns the language this parser handles.
func (p *JavaScriptParser) Language() string {
	return "javascript"
}

// Parse extracts declarations, imports, exports and calls.
func (p *JavaScriptParser) Parse(ctx context.Context, filePath string, content []byte) (*ParseResult, error) {
	return parseECMAScript(ctx, javascript.GetLanguage(), filePath, content)
}

// TypeScriptParser parses TypeScript and TSX sources.
type TypeScriptParser struct{}

// NewTypeScriptParser creates a new TypeScript parser.
func NewTypeScriptParser() *TypeScriptParser {
	return &TypeScriptParser{}
}

// Language returns the language this parser handles.
func (p *TypeScriptParser) Language() string {
	return "typescript"
}

// Parse extracts declarations, interfaces, type aliases, enums, imports,
// exports, calls and annotation type uses. .tsx files use the TSX grammar.
func (p *TypeScriptParser) Parse(ctx context.Context, filePath string, content []byte) (*ParseResult, error) {
	lang := typescript.GetLanguage()
	if strings.HasSuffix(filePath, ".tsx") {
		lang = tsx.GetLanguage()
	}
	return parseECMAScript(ctx, lang, filePath, content)
}

func parseECMAScript(ctx context.Context, lang *sitter.Language, filePath string, content []byte) (*ParseResult, error) {
	t, err := parseTree(ctx, lang, content)
	if err != nil {
		return nil, err
	}
	defer t.Close()

	result := &ParseResult{Module: modulePath(filePath)}
	if errs := t.syntaxErrors(); len(errs) > 0 {
		result.Partial = true
		result.Errors = errs
	}

	w := &jsWalker{t: t, result: result, dir: path.Dir(filePath)}
	for _, c := range children(t.root) {
		w.visit(c, FileScope, "", true, false)
	}
	return result, nil
}

type jsWalker struct {
	t      *syntaxTree
	result *ParseResult
	dir    string
}

// visit walks n. top marks module-level statements, exported whether n is
// the declaration of an export statement.
func (w *jsWalker) visit(n *sitter.Node, owner int, container string, top, exported bool) {
	switch n.Type() {
	case "function_declaration", "generator_function_declaration":
		w.declare(n, graph.SymbolDefinition, owner, container, exported)
		return

	case "class_declaration", "abstract_class_declaration", "class":
		if n.ChildByFieldName("name") != nil {
			w.class(n, owner, exported)
			return
		}

	case "interface_declaration", "type_alias_declaration", "enum_declaration":
		w.declare(n, graph.SymbolType, owner, "", exported)
		return

	case "method_definition":
		w.declare(n, graph.SymbolDefinition, owner, container, false)
		return

	case "lexical_declaration", "variable_declaration":
		if top {
			for _, d := range children(n) {
				if d.Type() == "variable_declarator" {
					w.variable(d, owner, exported)
				}
			}
			return
		}

	case "import_statement":
		w.importStatement(n, owner)
		return

	case "export_statement":
		w.exportStatement(n, owner)
		return

	case "call_expression":
		w.call(n.ChildByFieldName("function"), owner, line(n))

	case "new_expression":
		w.call(n.ChildByFieldName("constructor"), owner, line(n))

	case "type_annotation":
		w.typeUses(n, owner)
		return
	}

	for _, c := range children(n) {
		w.visit(c, owner, container, false, false)
	}
}

// declare adds a function-like or type-like declaration and walks its body.
func (w *jsWalker) declare(n *sitter.Node, kind graph.SymbolKind, owner int, container string, exported bool) int {
	name := w.t.text(n.ChildByFieldName("name"))
	if name == "" {
		return owner
	}
	body := n.ChildByFieldName("body")
	if n.Type() == "type_alias_declaration" {
		body = nil
	}
	idx := w.result.addSymbol(ParsedSymbol{
		Name:      name,
		Kind:      kind,
		StartLine: line(n),
		EndLine:   endLine(n),
		Signature: w.t.header(n, body),
		Container: container,
		Exported:  exported,
	})

	nameNode := n.ChildByFieldName("name")
	for _, c := range children(n) {
		if sameNode(c, nameNode) {
			continue
		}
		switch n.Type() {
		case "interface_declaration", "type_alias_declaration":
			w.typeUses(c, idx)
		case "enum_declaration":
		default:
			w.visit(c, idx, "", false, false)
		}
	}
	return idx
}

func (w *jsWalker) class(n *sitter.Node, owner int, exported bool) {
	nameNode := n.ChildByFieldName("name")
	name := w.t.text(nameNode)
	body := n.ChildByFieldName("body")
	idx := w.result.addSymbol(ParsedSymbol{
		Name:      name,
		Kind:      graph.SymbolType,
		StartLine: line(n),
		EndLine:   endLine(n),
		Signature: w.t.header(n, body),
		Exported:  exported,
	})

	for _, c := range children(n) {
		switch {
		case c.Type() == "class_heritage":
			for _, id := range descendants(c, "identifier", "type_identifier") {
				w.result.addRef(graph.EdgeTypeUses, w.t.text(id), "", idx, line(id))
			}
		case sameNode(c, body):
			for _, m := range children(body) {
				w.visit(m, idx, name, false, false)
			}
		}
	}
}

func (w *jsWalker) variable(d *sitter.Node, owner int, exported bool) {
	nameNode := d.ChildByFieldName("name")
	if nameNode == nil || nameNode.Type() != "identifier" {
		for _, c := range children(d) {
			w.visit(c, owner, "", false, false)
		}
		return
	}
	value := d.ChildByFieldName("value")
	idx := w.result.addSymbol(ParsedSymbol{
		Name:      w.t.text(nameNode),
		Kind:      graph.SymbolDefinition,
		StartLine: line(d),
		EndLine:   endLine(d),
		Signature: firstLine(w.t.text(d)),
		Exported:  exported,
	})
	if typ := d.ChildByFieldName("type"); typ != nil {
		w.typeUses(typ, idx)
	}
	if value != nil {
		w.visit(value, idx, "", false, false)
	}
}

func (w *jsWalker) importStatement(n *sitter.Node, owner int) {
	source := w.module(n.ChildByFieldName("source"))
	if source == "" {
		return
	}
	w.result.addRef(graph.EdgeImports, source, "", owner, line(n))

	for _, clause := range children(n) {
		if clause.Type() != "import_clause" {
			continue
		}
		for _, c := range children(clause) {
			switch c.Type() {
			case "identifier":
				w.result.addRef(graph.EdgeImports, w.t.text(c), source, owner, line(c))
			case "named_imports":
				for _, spec := range descendants(c, "import_specifier") {
					w.result.addRef(graph.EdgeImports, w.t.text(spec.ChildByFieldName("name")), source, owner, line(spec))
				}
			}
		}
	}
}

func (w *jsWalker) exportStatement(n *sitter.Node, owner int) {
	if decl := n.ChildByFieldName("declaration"); decl != nil {
		w.visit(decl, owner, "", true, true)
		return
	}

	source := w.module(n.ChildByFieldName("source"))
	if source != "" {
		w.result.addRef(graph.EdgeImports, source, "", owner, line(n))
	}

	for _, c := range children(n) {
		switch c.Type() {
		case "export_clause":
			for _, spec := range descendants(c, "export_specifier") {
				local := w.t.text(spec.ChildByFieldName("name"))
				public := local
				if alias := spec.ChildByFieldName("alias"); alias != nil {
					public = w.t.text(alias)
				}
				idx := w.result.addSymbol(ParsedSymbol{
					Name:      public,
					Kind:      graph.SymbolExport,
					StartLine: line(spec),
					EndLine:   endLine(spec),
					Signature: firstLine(w.t.text(n)),
					Exported:  true,
				})
				w.result.addRef(graph.EdgeReferences, local, source, idx, line(spec))
			}
		case "function_declaration", "generator_function_declaration", "class_declaration", "class":
			// export default function name() {}
			w.visit(c, owner, "", true, true)
		case "identifier":
			w.result.addRef(graph.EdgeReferences, w.t.text(c), "", owner, line(c))
		default:
			w.visit(c, owner, "", false, false)
		}
	}
}

func (w *jsWalker) call(fn *sitter.Node, owner, ln int) {
	if fn == nil {
		return
	}
	switch fn.Type() {
	case "identifier":
		w.result.addRef(graph.EdgeCalls, w.t.text(fn), "", owner, ln)
	case "member_expression":
		w.result.addRef(graph.EdgeCalls, w.t.text(fn.ChildByFieldName("property")), w.t.text(fn.ChildByFieldName("object")), owner, ln)
	}
}

func (w *jsWalker) typeUses(n *sitter.Node, owner int) {
	for _, id := range descendants(n, "type_identifier") {
		w.result.addRef(graph.EdgeTypeUses, w.t.text(id), "", owner, line(id))
	}
}

// module resolves an import source: relative specifiers are joined with
// the importer's directory and lose their extension, bare specifiers are
// kept.
func (w *jsWalker) module(source *sitter.Node) string {
	spec := trimQuotes(w.t.text(source))
	if spec == "" {
		return ""
	}
	if strings.HasPrefix(spec, "./") || strings.HasPrefix(spec, "../") {
		return modulePath(path.Join(w.dir, spec))
	}
	return spec
}
