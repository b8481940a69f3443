package parsers

import (
	"context"
	"path"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"

	"github.com/Benny93/repoctx/internal/graph"
)

// PythonParser parses Python source with the tree-sitter Python grammar.
type PythonParser struct{}

// NewPythonParser creates a new Python parser.
func NewPythonParser() *PythonParser {
	return &PythonParser{}
}

// Language returns the language this parser handles.
func (p *PythonParser) Language() string {
	return "python"
}

// Parse extracts functions, classes, methods, module-level bindings,
// imports, calls and annotation type uses.
func (p *PythonParser) Parse(ctx context.Context, filePath string, content []byte) (*ParseResult, error) {
	t, err := parseTree(ctx, python.GetLanguage(), content)
	if err != nil {
		return nil, err
	}
	defer t.Close()

	result := &ParseResult{Module: pythonModule(filePath)}
	if errs := t.syntaxErrors(); len(errs) > 0 {
		result.Partial = true
		result.Errors = errs
	}

	w := &pyWalker{t: t, result: result, pkg: pythonPackage(filePath)}
	for _, c := range children(t.root) {
		w.visit(c, FileScope, "", true)
	}
	return result, nil
}

type pyWalker struct {
	t      *syntaxTree
	result *ParseResult
	pkg    string // dotted package of the file, for relative imports
}

// visit walks n. owner is the enclosing symbol, container the enclosing
// class name, top whether n sits directly in the module body.
func (w *pyWalker) visit(n *sitter.Node, owner int, container string, top bool) {
	switch n.Type() {
	case "function_definition":
		w.function(n, owner, container)
		return

	case "class_definition":
		w.class(n, owner)
		return

	case "decorated_definition":
		for _, c := range children(n) {
			if c.Type() == "decorator" {
				w.references(c, owner)
				continue
			}
			w.visit(c, owner, container, top)
		}
		return

	case "import_statement":
		w.importStatement(n, owner)
		return

	case "import_from_statement":
		w.importFrom(n, owner)
		return

	case "call":
		w.call(n, owner)

	case "expression_statement":
		if top && container == "" {
			for _, c := range children(n) {
				if c.Type() == "assignment" {
					w.assignment(c, owner)
					return
				}
			}
		}

	case "type":
		w.typeUses(n, owner)
		return
	}

	for _, c := range children(n) {
		w.visit(c, owner, container, false)
	}
}

func (w *pyWalker) function(n *sitter.Node, owner int, container string) {
	name := w.t.text(n.ChildByFieldName("name"))
	if name == "" {
		return
	}
	body := n.ChildByFieldName("body")
	idx := w.result.addSymbol(ParsedSymbol{
		Name:      name,
		Kind:      graph.SymbolDefinition,
		StartLine: line(n),
		EndLine:   endLine(n),
		Signature: w.t.header(n, body),
		Container: container,
		Exported:  !strings.HasPrefix(name, "_") || isDunder(name),
	})

	if params := n.ChildByFieldName("parameters"); params != nil {
		w.visit(params, idx, "", false)
	}
	if ret := n.ChildByFieldName("return_type"); ret != nil {
		w.typeUses(ret, idx)
	}
	if body != nil {
		w.visit(body, idx, "", false)
	}
}

func (w *pyWalker) class(n *sitter.Node, owner int) {
	name := w.t.text(n.ChildByFieldName("name"))
	if name == "" {
		return
	}
	body := n.ChildByFieldName("body")
	idx := w.result.addSymbol(ParsedSymbol{
		Name:      name,
		Kind:      graph.SymbolType,
		StartLine: line(n),
		EndLine:   endLine(n),
		Signature: w.t.header(n, body),
		Exported:  !strings.HasPrefix(name, "_"),
	})

	if supers := n.ChildByFieldName("superclasses"); supers != nil {
		for _, c := range children(supers) {
			switch c.Type() {
			case "identifier":
				w.result.addRef(graph.EdgeTypeUses, w.t.text(c), "", idx, line(c))
			case "attribute":
				w.result.addRef(graph.EdgeTypeUses, w.t.text(c.ChildByFieldName("attribute")), w.t.text(c.ChildByFieldName("object")), idx, line(c))
			}
		}
	}
	if body != nil {
		for _, c := range children(body) {
			w.visit(c, idx, name, false)
		}
	}
}

func (w *pyWalker) assignment(n *sitter.Node, owner int) {
	left := n.ChildByFieldName("left")
	right := n.ChildByFieldName("right")

	if left == nil || left.Type() != "identifier" {
		for _, c := range children(n) {
			w.visit(c, owner, "", false)
		}
		return
	}

	name := w.t.text(left)
	if name == "__all__" && right != nil {
		for _, s := range descendants(right, "string") {
			export := trimQuotes(w.t.text(s))
			if export == "" {
				continue
			}
			idx := w.result.addSymbol(ParsedSymbol{
				Name:      export,
				Kind:      graph.SymbolExport,
				StartLine: line(s),
				EndLine:   endLine(s),
				Exported:  true,
			})
			w.result.addRef(graph.EdgeReferences, export, "", idx, line(s))
		}
		return
	}

	idx := w.result.addSymbol(ParsedSymbol{
		Name:      name,
		Kind:      graph.SymbolDefinition,
		StartLine: line(n),
		EndLine:   endLine(n),
		Signature: firstLine(w.t.text(n)),
		Exported:  !strings.HasPrefix(name, "_"),
	})
	if typ := n.ChildByFieldName("type"); typ != nil {
		w.typeUses(typ, idx)
	}
	if right != nil {
		w.visit(right, idx, "", false)
	}
}

func (w *pyWalker) call(n *sitter.Node, owner int) {
	fn := n.ChildByFieldName("function")
	if fn == nil {
		return
	}
	switch fn.Type() {
	case "identifier":
		w.result.addRef(graph.EdgeCalls, w.t.text(fn), "", owner, line(n))
	case "attribute":
		w.result.addRef(graph.EdgeCalls, w.t.text(fn.ChildByFieldName("attribute")), w.t.text(fn.ChildByFieldName("object")), owner, line(n))
	}
}

func (w *pyWalker) importStatement(n *sitter.Node, owner int) {
	for _, c := range children(n) {
		switch c.Type() {
		case "dotted_name":
			w.result.addRef(graph.EdgeImports, w.t.text(c), "", owner, line(c))
		case "aliased_import":
			w.result.addRef(graph.EdgeImports, w.t.text(c.ChildByFieldName("name")), "", owner, line(c))
		}
	}
}

func (w *pyWalker) importFrom(n *sitter.Node, owner int) {
	moduleNode := n.ChildByFieldName("module_name")
	module := ""
	if moduleNode != nil {
		module = w.t.text(moduleNode)
		if moduleNode.Type() == "relative_import" {
			module = w.resolveRelative(moduleNode)
		}
		if module != "" {
			w.result.addRef(graph.EdgeImports, module, "", owner, line(moduleNode))
		}
	}

	for _, c := range children(n) {
		if sameNode(c, moduleNode) {
			continue
		}
		switch c.Type() {
		case "dotted_name":
			w.result.addRef(graph.EdgeImports, w.t.text(c), module, owner, line(c))
		case "aliased_import":
			w.result.addRef(graph.EdgeImports, w.t.text(c.ChildByFieldName("name")), module, owner, line(c))
		}
	}
}

// resolveRelative turns ".mod" / "..pkg.mod" into a dotted module name
// relative to the importing file's package.
func (w *pyWalker) resolveRelative(n *sitter.Node) string {
	dots := 0
	rest := ""
	for i := 0; i < int(n.ChildCount()); i++ {
		c := n.Child(i)
		if c == nil {
			continue
		}
		switch c.Type() {
		case "import_prefix":
			dots = strings.Count(w.t.text(c), ".")
		case "dotted_name":
			rest = w.t.text(c)
		}
	}

	parts := []string{}
	if w.pkg != "" {
		parts = strings.Split(w.pkg, ".")
	}
	up := dots - 1
	if up > len(parts) {
		up = len(parts)
	}
	parts = parts[:len(parts)-max(up, 0)]
	if rest != "" {
		parts = append(parts, rest)
	}
	return strings.Join(parts, ".")
}

// typeUses records every identifier inside a type annotation.
func (w *pyWalker) typeUses(n *sitter.Node, owner int) {
	for _, id := range descendants(n, "identifier") {
		name := w.t.text(id)
		if !isPythonBuiltinType(name) {
			w.result.addRef(graph.EdgeTypeUses, name, "", owner, line(id))
		}
	}
}

// references records identifiers used by n (decorators) as references.
func (w *pyWalker) references(n *sitter.Node, owner int) {
	for _, c := range children(n) {
		switch c.Type() {
		case "identifier":
			w.result.addRef(graph.EdgeReferences, w.t.text(c), "", owner, line(c))
		case "attribute":
			w.result.addRef(graph.EdgeReferences, w.t.text(c.ChildByFieldName("attribute")), w.t.text(c.ChildByFieldName("object")), owner, line(c))
		case "call":
			w.call(c, owner)
		}
	}
}

// pythonModule maps "pkg/mod.py" to "pkg.mod" and "pkg/__init__.py" to "pkg".
func pythonModule(filePath string) string {
	p := strings.TrimSuffix(filePath, path.Ext(filePath))
	p = strings.TrimSuffix(p, "/__init__")
	return strings.ReplaceAll(p, "/", ".")
}

// pythonPackage returns the dotted package containing filePath.
func pythonPackage(filePath string) string {
	if strings.HasSuffix(filePath, "/__init__.py") || filePath == "__init__.py" {
		return pythonModule(filePath)
	}
	dir := path.Dir(filePath)
	if dir == "." {
		return ""
	}
	return strings.ReplaceAll(dir, "/", ".")
}

var pythonBuiltinTypes = map[string]bool{
	"int": true, "str": true, "float": true, "bool": true, "bytes": true, "None": true,
	"list": true, "dict": true, "set": true, "tuple": true, "object": true, "type": true,
	"Any": true, "Optional": true, "List": true, "Dict": true, "Set": true, "Tuple": true,
	"Union": true, "Callable": true,
}

func isPythonBuiltinType(name string) bool {
	return pythonBuiltinTypes[name]
}

func isDunder(name string) bool {
	return strings.HasPrefix(name, "__") && strings.HasSuffix(name, "__")
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
