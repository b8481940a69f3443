package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sym(path, name string, start int) Symbol {
	span := Span{Start: start, End: start + 2}
	return Symbol{ID: SymbolID(path, SymbolDefinition, name, span), Kind: SymbolDefinition, Name: name, Path: path, Span: span}
}

func TestNew(t *testing.T) {
	t.Parallel()

	g := New()

	assert.NotNil(t, g)
	assert.Equal(t, 0, g.SymbolCount())
	assert.Equal(t, 0, g.EdgeCount())
}

func TestGraph_UpsertFile(t *testing.T) {
	t.Parallel()

	t.Run("InsertsSymbolsAndEdges", func(t *testing.T) {
		t.Parallel()
		g := New()
		foo := sym("a.py", "foo", 1)
		bar := sym("a.py", "bar", 5)

		g.UpsertFile("a.py", []Symbol{foo, bar}, []Edge{
			{Kind: EdgeCalls, From: bar.ID, To: foo.ID, ToName: "foo"},
		})

		assert.Equal(t, 2, g.SymbolCount())
		assert.Equal(t, 1, g.EdgeCount())
		assert.Equal(t, []string{foo.ID}, g.ResolveName("foo"))
	})

	t.Run("DropsForeignEdges", func(t *testing.T) {
		t.Parallel()
		g := New()
		foo := sym("a.py", "foo", 1)

		g.UpsertFile("a.py", []Symbol{foo}, []Edge{
			{Kind: EdgeCalls, From: "not-in-file", ToName: "foo"},
		})

		assert.Equal(t, 0, g.EdgeCount())
	})

	t.Run("AtomicReplace", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		g := New()
		foo := sym("a.py", "foo", 1)
		helper := sym("a.py", "helper", 10)
		caller := sym("b.py", "caller", 1)

		g.UpsertFile("a.py", []Symbol{foo, helper}, []Edge{
			{Kind: EdgeCalls, From: foo.ID, To: helper.ID, ToName: "helper"},
		})
		g.UpsertFile("b.py", []Symbol{caller}, []Edge{
			{Kind: EdgeCalls, From: caller.ID, ToName: "helper"},
		})

		before, err := g.GetNeighbors(ctx, caller.ID, nil, 3)
		require.NoError(t, err)
		require.Len(t, before, 1)
		assert.Equal(t, helper.ID, before[0].Symbol.ID)

		// Re-extract a.py with helper removed.
		g.UpsertFile("a.py", []Symbol{foo}, nil)

		_, ok := g.GetSymbol(helper.ID)
		assert.False(t, ok)
		assert.Empty(t, g.Outgoing(foo.ID))
		assert.Empty(t, g.ResolveName("helper"))

		after, err := g.GetNeighbors(ctx, caller.ID, nil, 3)
		require.NoError(t, err)
		assert.Empty(t, after)

		fromFoo, err := g.GetNeighbors(ctx, foo.ID, nil, 3)
		require.NoError(t, err)
		assert.Empty(t, fromFoo)
	})
}

func TestGraph_RemoveFile(t *testing.T) {
	t.Parallel()

	g := New()
	foo := sym("a.py", "foo", 1)
	g.UpsertFile("a.py", []Symbol{foo}, []Edge{{Kind: EdgeCalls, From: foo.ID, ToName: "print"}})

	assert.Equal(t, 1, g.RemoveFile("a.py"))
	assert.Equal(t, 0, g.SymbolCount())
	assert.Equal(t, 0, g.EdgeCount())
	assert.Equal(t, 0, g.RemoveFile("a.py"))
}

func TestGraph_GetNeighbors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("MissingStartIsEmpty", func(t *testing.T) {
		t.Parallel()
		got, err := New().GetNeighbors(ctx, "nope", nil, 3)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("CycleSafe", func(t *testing.T) {
		t.Parallel()
		g := New()
		a := sym("a.py", "a_main", 1)
		b := sym("b.py", "b_main", 1)
		g.UpsertFile("a.py", []Symbol{a}, []Edge{{Kind: EdgeImports, From: a.ID, ToName: "b_main"}})
		g.UpsertFile("b.py", []Symbol{b}, []Edge{{Kind: EdgeImports, From: b.ID, ToName: "a_main"}})

		got, err := g.GetNeighbors(ctx, a.ID, nil, 5)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, b.ID, got[0].Symbol.ID)
		assert.Equal(t, 1, got[0].Depth)
		assert.Equal(t, EdgeImports, got[0].Via)
	})

	t.Run("IncreasingDepthAndTieOrder", func(t *testing.T) {
		t.Parallel()
		g := New()
		root := sym("root.py", "root", 1)
		z := sym("z.py", "z", 1)
		m2 := sym("m.py", "m", 20)
		m1 := sym("m.py", "m_first", 3)
		deep := sym("deep.py", "deep", 1)

		g.UpsertFile("root.py", []Symbol{root}, []Edge{
			{Kind: EdgeCalls, From: root.ID, ToName: "z"},
			{Kind: EdgeCalls, From: root.ID, ToName: "m"},
			{Kind: EdgeTypeUses, From: root.ID, ToName: "m_first"},
		})
		g.UpsertFile("z.py", []Symbol{z}, []Edge{{Kind: EdgeCalls, From: z.ID, ToName: "deep"}})
		g.UpsertFile("m.py", []Symbol{m2, m1}, nil)
		g.UpsertFile("deep.py", []Symbol{deep}, nil)

		got, err := g.GetNeighbors(ctx, root.ID, nil, 2)
		require.NoError(t, err)

		ids := make([]string, 0, len(got))
		for _, n := range got {
			ids = append(ids, n.Symbol.ID)
		}
		assert.Equal(t, []string{m1.ID, m2.ID, z.ID, deep.ID}, ids)
		assert.Equal(t, []int{1, 1, 1, 2}, []int{got[0].Depth, got[1].Depth, got[2].Depth, got[3].Depth})
		assert.Equal(t, EdgeTypeUses, got[0].Via)
		assert.Equal(t, EdgeCalls, got[1].Via)
	})

	t.Run("EdgeKindFilter", func(t *testing.T) {
		t.Parallel()
		g := New()
		a := sym("a.py", "a", 1)
		b := sym("b.py", "b", 1)
		c := sym("c.py", "c", 1)
		g.UpsertFile("a.py", []Symbol{a}, []Edge{
			{Kind: EdgeCalls, From: a.ID, ToName: "b"},
			{Kind: EdgeImports, From: a.ID, ToName: "c"},
		})
		g.UpsertFile("b.py", []Symbol{b}, nil)
		g.UpsertFile("c.py", []Symbol{c}, nil)

		got, err := g.GetNeighbors(ctx, a.ID, []EdgeKind{EdgeImports}, 1)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, c.ID, got[0].Symbol.ID)
	})

	t.Run("DepthZero", func(t *testing.T) {
		t.Parallel()
		g := New()
		a := sym("a.py", "a", 1)
		g.UpsertFile("a.py", []Symbol{a}, []Edge{{Kind: EdgeCalls, From: a.ID, ToName: "a"}})

		got, err := g.GetNeighbors(ctx, a.ID, nil, 0)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("CancelledContext", func(t *testing.T) {
		t.Parallel()
		g := New()
		a := sym("a.py", "a", 1)
		g.UpsertFile("a.py", []Symbol{a}, nil)

		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := g.GetNeighbors(cctx, a.ID, nil, 2)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestGraph_SymbolsAndEdgesOrdered(t *testing.T) {
	t.Parallel()

	g := New()
	b := sym("b.py", "b", 1)
	a2 := sym("a.py", "a2", 9)
	a1 := sym("a.py", "a1", 1)
	g.UpsertFile("b.py", []Symbol{b}, []Edge{{Kind: EdgeCalls, From: b.ID, ToName: "a1"}})
	g.UpsertFile("a.py", []Symbol{a2, a1}, []Edge{
		{Kind: EdgeReferences, From: a1.ID, ToName: "zeta"},
		{Kind: EdgeCalls, From: a1.ID, To: a2.ID, ToName: "a2"},
	})

	syms := g.Symbols()
	require.Len(t, syms, 3)
	assert.Equal(t, []string{a1.ID, a2.ID, b.ID}, []string{syms[0].ID, syms[1].ID, syms[2].ID})

	edges := g.Edges()
	require.Len(t, edges, 3)
	assert.Equal(t, EdgeCalls, edges[0].Kind)
	assert.Equal(t, EdgeReferences, edges[1].Kind)
	assert.Equal(t, b.ID, edges[2].From)

	assert.Equal(t, []Symbol{a1, a2}, g.SymbolsByPath("a.py"))
}

func TestGraph_ImportSuffixResolution(t *testing.T) {
	t.Parallel()

	g := New()
	span := Span{Start: 1, End: 20}
	store := Symbol{ID: SymbolID("internal/store/store.go", SymbolOther, "internal/store", span), Kind: SymbolOther, Name: "internal/store", Path: "internal/store/store.go", Span: span}
	main := Symbol{ID: SymbolID("main.go", SymbolOther, "main", span), Kind: SymbolOther, Name: "main", Path: "main.go", Span: span}

	g.UpsertFile("internal/store/store.go", []Symbol{store}, nil)
	g.UpsertFile("main.go", []Symbol{main}, []Edge{
		{Kind: EdgeImports, From: main.ID, ToName: "example.com/app/internal/store"},
		{Kind: EdgeCalls, From: main.ID, ToName: "example.com/app/internal/store"},
	})

	neighbors, err := g.GetNeighbors(context.Background(), main.ID, []EdgeKind{EdgeImports}, 1)
	require.NoError(t, err)
	require.Len(t, neighbors, 1)
	assert.Equal(t, store.ID, neighbors[0].Symbol.ID)

	neighbors, err = g.GetNeighbors(context.Background(), main.ID, []EdgeKind{EdgeCalls}, 1)
	require.NoError(t, err)
	assert.Empty(t, neighbors)
}
