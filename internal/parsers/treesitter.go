package parsers

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// syntaxTree is a parsed tree-sitter tree plus its source.
type syntaxTree struct {
	tree *sitter.Tree
	root *sitter.Node
	src  []byte
}

// parseTree parses src with lang. The caller must Close the result.
func parseTree(ctx context.Context, lang *sitter.Language, src []byte) (*syntaxTree, error) {
	p := sitter.NewParser()
	defer p.Close()
	p.SetLanguage(lang)

	tree, err := p.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("tree-sitter parse: %w", err)
	}
	if tree == nil {
		return nil, fmt.Errorf("tree-sitter parse: no tree")
	}
	return &syntaxTree{tree: tree, root: tree.RootNode(), src: src}, nil
}

func (t *syntaxTree) Close() {
	t.tree.Close()
}

// syntaxErrors lists the positions of ERROR and missing nodes.
func (t *syntaxTree) syntaxErrors() []string {
	if !t.root.HasError() {
		return nil
	}
	var out []string
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if len(out) >= 10 {
			return
		}
		if n.IsMissing() {
			out = append(out, fmt.Sprintf("line %d: missing %s", line(n), n.Type()))
			return
		}
		if n.Type() == "ERROR" {
			out = append(out, fmt.Sprintf("line %d: syntax error", line(n)))
			return
		}
		if !n.HasError() {
			return
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			if c := n.Child(i); c != nil {
				walk(c)
			}
		}
	}
	walk(t.root)
	if len(out) == 0 {
		out = append(out, "syntax error")
	}
	return out
}

func (t *syntaxTree) text(n *sitter.Node) string {
	if n == nil {
		return ""
	}
	return n.Content(t.src)
}

// header returns the source of n up to the start of body, whitespace
// collapsed and trailing ':' or '{' trimmed.
func (t *syntaxTree) header(n, body *sitter.Node) string {
	end := n.EndByte()
	if body != nil {
		end = body.StartByte()
	}
	s := string(t.src[n.StartByte():end])
	s = strings.Join(strings.Fields(s), " ")
	return strings.TrimRight(s, " :{")
}

// line returns the 1-based start line of n.
func line(n *sitter.Node) int {
	return int(n.StartPoint().Row) + 1
}

// endLine returns the 1-based end line of n.
func endLine(n *sitter.Node) int {
	return int(n.EndPoint().Row) + 1
}

// children returns the named children of n.
func children(n *sitter.Node) []*sitter.Node {
	if n == nil {
		return nil
	}
	out := make([]*sitter.Node, 0, n.NamedChildCount())
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if c := n.NamedChild(i); c != nil {
			out = append(out, c)
		}
	}
	return out
}

// descendants returns every node under n (including n) whose type is in types.
func descendants(n *sitter.Node, types ...string) []*sitter.Node {
	want := make(map[string]bool, len(types))
	for _, t := range types {
		want[t] = true
	}
	var out []*sitter.Node
	var walk func(*sitter.Node)
	walk = func(n *sitter.Node) {
		if want[n.Type()] {
			out = append(out, n)
		}
		for _, c := range children(n) {
			walk(c)
		}
	}
	if n != nil {
		walk(n)
	}
	return out
}

func sameNode(a, b *sitter.Node) bool {
	return a != nil && b != nil && a.StartByte() == b.StartByte() && a.EndByte() == b.EndByte() && a.Type() == b.Type()
}

func trimQuotes(s string) string {
	return strings.Trim(s, "\"'`")
}
