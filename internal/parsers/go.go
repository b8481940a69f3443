package parsers

import (
	"context"
	"fmt"
	"go/ast"
	"go/parser"
	"go/scanner"
	"go/token"
	"path"
	"strings"

	"github.com/Benny93/repoctx/internal/graph"
)

// GoParser parses Go source code using the standard library's go/parser.
type GoParser struct{}

// NewGoParser creates a new Go parser.
func NewGoParser() *GoParser {
	return &GoParser{}
}

// Language returns the language this parser handles.
func (p *GoParser) Language() string {
	return "go"
}

// Parse parses Go source code and extracts declarations and references.
// Syntax errors produce a partial result from the declarations go/parser
// could still recover.
func (p *GoParser) Parse(_ context.Context, filePath string, content []byte) (*ParseResult, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, filePath, content, parser.SkipObjectResolution)
	if file == nil || !file.Package.IsValid() {
		return nil, fmt.Errorf("parsing Go code: %w", err)
	}

	module := path.Dir(filePath)
	if module == "." && file.Name != nil {
		module = file.Name.Name
	}
	result := &ParseResult{Module: module}
	if err != nil {
		result.Partial = true
		if list, ok := err.(scanner.ErrorList); ok {
			for _, e := range list {
				result.Errors = append(result.Errors, e.Error())
			}
		} else {
			result.Errors = append(result.Errors, err.Error())
		}
	}

	gp := &goFile{
		fset:    fset,
		content: content,
		result:  result,
		imports: make(map[string]string),
		callee:  make(map[*ast.SelectorExpr]bool),
	}
	gp.parseImports(file)
	gp.receivers = buildReceiverMap(file)

	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			gp.parseFuncDecl(d)
		case *ast.GenDecl:
			gp.parseGenDecl(d)
		}
	}

	return result, nil
}

// goFile carries per-file parse state.
type goFile struct {
	fset      *token.FileSet
	content   []byte
	result    *ParseResult
	imports   map[string]string // alias -> import path
	receivers map[string]string // receiver variable -> type name
	callee    map[*ast.SelectorExpr]bool
}

func (g *goFile) line(pos token.Pos) int {
	return g.fset.Position(pos).Line
}

func (g *goFile) parseImports(file *ast.File) {
	for _, imp := range file.Imports {
		if imp.Path == nil {
			continue
		}
		importPath := strings.Trim(imp.Path.Value, `"`)
		alias := path.Base(importPath)
		if imp.Name != nil {
			alias = imp.Name.Name
		}
		g.imports[alias] = importPath
		g.result.addRef(graph.EdgeImports, importPath, "", FileScope, g.line(imp.Pos()))
	}
}

func (g *goFile) parseFuncDecl(fn *ast.FuncDecl) {
	sym := ParsedSymbol{
		Name:      fn.Name.Name,
		Kind:      graph.SymbolDefinition,
		StartLine: g.line(fn.Pos()),
		EndLine:   g.line(fn.End()),
		Exported:  fn.Name.IsExported(),
	}
	if fn.Recv != nil && len(fn.Recv.List) > 0 {
		sym.Container = receiverType(fn.Recv.List[0].Type)
	}
	sym.Signature = g.buildSignature(fn)
	owner := g.result.addSymbol(sym)

	g.typeUses(fn.Type, owner)
	if fn.Body != nil {
		g.inspectBody(fn.Body, owner)
	}
}

func (g *goFile) buildSignature(fn *ast.FuncDecl) string {
	sig := "func "
	if fn.Recv != nil && len(fn.Recv.List) > 0 {
		sig += "(" + g.nodeText(fn.Recv.List[0]) + ") "
	}
	sig += fn.Name.Name

	params := []string{}
	if fn.Type.Params != nil {
		for _, param := range fn.Type.Params.List {
			params = append(params, g.nodeText(param))
		}
	}
	sig += "(" + strings.Join(params, ", ") + ")"

	if fn.Type.Results != nil && len(fn.Type.Results.List) > 0 {
		returns := []string{}
		for _, ret := range fn.Type.Results.List {
			returns = append(returns, g.nodeText(ret))
		}
		if len(returns) == 1 && len(fn.Type.Results.List[0].Names) == 0 {
			sig += " " + returns[0]
		} else {
			sig += " (" + strings.Join(returns, ", ") + ")"
		}
	}

	return sig
}

func (g *goFile) parseGenDecl(decl *ast.GenDecl) {
	for _, spec := range decl.Specs {
		switch s := spec.(type) {
		case *ast.TypeSpec:
			g.parseTypeSpec(s, decl)
		case *ast.ValueSpec:
			g.parseValueSpec(s, decl)
		}
	}
}

func (g *goFile) parseTypeSpec(typeSpec *ast.TypeSpec, decl *ast.GenDecl) {
	start, end := typeSpec.Pos(), typeSpec.End()
	if len(decl.Specs) == 1 {
		start, end = decl.Pos(), decl.End()
	}

	sym := ParsedSymbol{
		Name:      typeSpec.Name.Name,
		Kind:      graph.SymbolType,
		StartLine: g.line(start),
		EndLine:   g.line(end),
		Exported:  typeSpec.Name.IsExported(),
	}
	switch typeSpec.Type.(type) {
	case *ast.StructType:
		sym.Signature = "type " + typeSpec.Name.Name + " struct"
	case *ast.InterfaceType:
		sym.Signature = "type " + typeSpec.Name.Name + " interface"
	default:
		sym.Signature = "type " + typeSpec.Name.Name + " " + g.nodeText(typeSpec.Type)
	}
	owner := g.result.addSymbol(sym)

	g.typeUses(typeSpec.Type, owner)
}

func (g *goFile) parseValueSpec(vs *ast.ValueSpec, decl *ast.GenDecl) {
	for _, name := range vs.Names {
		if name.Name == "_" {
			continue
		}
		owner := g.result.addSymbol(ParsedSymbol{
			Name:      name.Name,
			Kind:      graph.SymbolDefinition,
			StartLine: g.line(vs.Pos()),
			EndLine:   g.line(vs.End()),
			Signature: strings.ToLower(decl.Tok.String()) + " " + name.Name,
			Exported:  name.IsExported(),
		})
		if vs.Type != nil {
			g.typeUses(vs.Type, owner)
		}
		for _, v := range vs.Values {
			g.inspectBody(v, owner)
		}
	}
}

// inspectBody records calls, qualified references and composite literal
// types found under n.
func (g *goFile) inspectBody(n ast.Node, owner int) {
	ast.Inspect(n, func(n ast.Node) bool {
		switch x := n.(type) {
		case *ast.CallExpr:
			g.addCall(x, owner)
		case *ast.CompositeLit:
			if x.Type != nil {
				g.typeUses(x.Type, owner)
			}
		case *ast.FuncLit:
			g.typeUses(x.Type, owner)
		case *ast.ValueSpec:
			g.typeUses(x.Type, owner)
		case *ast.SelectorExpr:
			if g.callee[x] {
				return true
			}
			if id, ok := x.X.(*ast.Ident); ok {
				if pkg, ok := g.imports[id.Name]; ok {
					g.result.addRef(graph.EdgeReferences, x.Sel.Name, pkg, owner, g.line(x.Pos()))
				}
			}
		}
		return true
	})
}

func (g *goFile) addCall(call *ast.CallExpr, owner int) {
	line := g.line(call.Pos())
	switch fun := call.Fun.(type) {
	case *ast.Ident:
		g.result.addRef(graph.EdgeCalls, fun.Name, "", owner, line)
	case *ast.SelectorExpr:
		g.callee[fun] = true
		receiver := ""
		if x, ok := fun.X.(*ast.Ident); ok {
			receiver = x.Name
			if pkg, ok := g.imports[receiver]; ok {
				receiver = pkg
			} else if typeName, ok := g.receivers[receiver]; ok {
				receiver = typeName
			}
		}
		g.result.addRef(graph.EdgeCalls, fun.Sel.Name, receiver, owner, line)
	case *ast.IndexExpr:
		if id, ok := fun.X.(*ast.Ident); ok {
			g.result.addRef(graph.EdgeCalls, id.Name, "", owner, line)
		}
	}
}

// typeUses records a type-uses reference for every named type under expr.
func (g *goFile) typeUses(expr ast.Node, owner int) {
	if expr == nil {
		return
	}
	ast.Inspect(expr, func(n ast.Node) bool {
		switch x := n.(type) {
		case *ast.SelectorExpr:
			if id, ok := x.X.(*ast.Ident); ok {
				g.result.addRef(graph.EdgeTypeUses, x.Sel.Name, g.imports[id.Name], owner, g.line(x.Pos()))
			}
			return false
		case *ast.Ident:
			if !isPredeclared(x.Name) {
				g.result.addRef(graph.EdgeTypeUses, x.Name, "", owner, g.line(x.Pos()))
			}
		case *ast.Field:
			// Field names are not types; only walk the type expression.
			g.typeUses(x.Type, owner)
			return false
		case *ast.BlockStmt:
			return false
		}
		return true
	})
}

// buildReceiverMap maps receiver variable names to their type names.
func buildReceiverMap(file *ast.File) map[string]string {
	receiverMap := make(map[string]string)
	for _, decl := range file.Decls {
		fn, ok := decl.(*ast.FuncDecl)
		if !ok || fn.Recv == nil || len(fn.Recv.List) == 0 {
			continue
		}
		recv := fn.Recv.List[0]
		typeName := receiverType(recv.Type)
		if typeName == "" || len(recv.Names) == 0 || recv.Names[0] == nil {
			continue
		}
		receiverMap[recv.Names[0].Name] = typeName
	}
	return receiverMap
}

func receiverType(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.StarExpr:
		return receiverType(t.X)
	case *ast.Ident:
		return t.Name
	case *ast.IndexExpr:
		return receiverType(t.X)
	case *ast.IndexListExpr:
		return receiverType(t.X)
	}
	return ""
}

var predeclared = map[string]bool{
	"any": true, "bool": true, "byte": true, "comparable": true, "complex64": true,
	"complex128": true, "error": true, "float32": true, "float64": true, "int": true,
	"int8": true, "int16": true, "int32": true, "int64": true, "rune": true,
	"string": true, "uint": true, "uint8": true, "uint16": true, "uint32": true,
	"uint64": true, "uintptr": true, "nil": true, "true": true, "false": true,
}

func isPredeclared(name string) bool {
	return predeclared[name] || name == "_"
}

func (g *goFile) nodeText(n ast.Node) string {
	if n == nil {
		return ""
	}
	start := g.fset.Position(n.Pos()).Offset
	end := g.fset.Position(n.End()).Offset
	if start >= 0 && end <= len(g.content) && start <= end {
		return string(g.content[start:end])
	}
	return ""
}
