package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSymbolID(t *testing.T) {
	t.Parallel()

	base := SymbolID("a.py", SymbolDefinition, "foo", Span{Start: 1, End: 3})

	t.Run("Deterministic", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, base, SymbolID("a.py", SymbolDefinition, "foo", Span{Start: 1, End: 3}))
		assert.Len(t, base, 16)
	})

	t.Run("EveryComponentMatters", func(t *testing.T) {
		t.Parallel()
		assert.NotEqual(t, base, SymbolID("b.py", SymbolDefinition, "foo", Span{Start: 1, End: 3}))
		assert.NotEqual(t, base, SymbolID("a.py", SymbolType, "foo", Span{Start: 1, End: 3}))
		assert.NotEqual(t, base, SymbolID("a.py", SymbolDefinition, "bar", Span{Start: 1, End: 3}))
		assert.NotEqual(t, base, SymbolID("a.py", SymbolDefinition, "foo", Span{Start: 2, End: 3}))
	})
}

func TestParseEdgeKind(t *testing.T) {
	t.Parallel()

	for _, k := range AllEdgeKinds {
		got, err := ParseEdgeKind(string(k))
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}

	_, err := ParseEdgeKind("inherits")
	assert.Error(t, err)
}

func TestEdge_Resolved(t *testing.T) {
	t.Parallel()

	assert.True(t, Edge{Kind: EdgeCalls, From: "a", To: "b", ToName: "b"}.Resolved())
	assert.False(t, Edge{Kind: EdgeCalls, From: "a", ToName: "b"}.Resolved())
}

func TestLessSymbol(t *testing.T) {
	t.Parallel()

	a := Symbol{ID: "2", Path: "a.py", Span: Span{Start: 5}}
	b := Symbol{ID: "1", Path: "a.py", Span: Span{Start: 7}}
	c := Symbol{ID: "0", Path: "b.py", Span: Span{Start: 1}}
	d := Symbol{ID: "3", Path: "a.py", Span: Span{Start: 5}}

	assert.True(t, LessSymbol(a, b))
	assert.True(t, LessSymbol(b, c))
	assert.True(t, LessSymbol(a, d))
	assert.False(t, LessSymbol(c, a))
}
