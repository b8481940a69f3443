package retrieval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Benny93/repoctx/internal/embeddings"
)

func TestNewOrchestrator(t *testing.T) {
	t.Parallel()

	t.Run("Defaults", func(t *testing.T) {
		t.Parallel()
		o := NewOrchestrator(OrchestratorOptions{})
		assert.Equal(t, DefaultResultLimit*DefaultOverfetch, o.LexicalK())
		assert.False(t, o.SemanticEnabled())
		assert.InDelta(t, 0.5, o.weights.Lexical, 1e-9)
		assert.InDelta(t, 0.5, o.weights.Semantic, 1e-9)
	})

	t.Run("LexicalKFloor", func(t *testing.T) {
		t.Parallel()
		o := NewOrchestrator(OrchestratorOptions{ResultLimit: 3, Overfetch: 2})
		assert.Equal(t, MinLexicalK, o.LexicalK())
	})

	t.Run("WeightsNormalized", func(t *testing.T) {
		t.Parallel()
		o := NewOrchestrator(OrchestratorOptions{Weights: Weights{Lexical: 3, Semantic: 1}})
		assert.InDelta(t, 0.75, o.weights.Lexical, 1e-9)
		assert.InDelta(t, 0.25, o.weights.Semantic, 1e-9)
	})

	t.Run("NegativeWeightsFallBack", func(t *testing.T) {
		t.Parallel()
		o := NewOrchestrator(OrchestratorOptions{Weights: Weights{Lexical: -1, Semantic: 2}})
		assert.Equal(t, Weights{Lexical: 0.5, Semantic: 0.5}, o.weights)
	})
}

func TestMinMax(t *testing.T) {
	t.Parallel()

	assert.Empty(t, MinMax(nil))
	assert.Equal(t, []float64{0, 0.5, 1}, MinMax([]float64{1, 2, 3}))
	assert.Equal(t, []float64{1, 1}, MinMax([]float64{0.4, 0.4}))
	assert.Equal(t, []float64{0, 0}, MinMax([]float64{0, 0}))
}

func TestOrchestrator_Rank(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := indexFiles(t, fooRepo)

	t.Run("LexicalOrder", func(t *testing.T) {
		t.Parallel()
		v := snapshot(t, store)
		cands, err := NewOrchestrator(OrchestratorOptions{}).Rank(ctx, v, Task{QueryText: "foo"})
		require.NoError(t, err)
		require.Len(t, cands, 3)

		assert.Equal(t, []string{"b.py", "a.py", "c.py"}, candidatePaths(cands))
		for _, c := range cands {
			assert.Equal(t, c.LexicalScore, c.FusedScore)
			assert.Nil(t, c.SemanticScore)
			assert.Equal(t, []string{TagLexical}, c.Tags)
		}
	})

	t.Run("EmptyQueryHasNoLexicalCandidates", func(t *testing.T) {
		t.Parallel()
		v := snapshot(t, store)
		cands, err := NewOrchestrator(OrchestratorOptions{}).Rank(ctx, v, Task{QueryText: "   "})
		require.NoError(t, err)
		assert.Empty(t, cands)
	})

	t.Run("SeedsFirst", func(t *testing.T) {
		t.Parallel()
		v := snapshot(t, store)
		cands, err := NewOrchestrator(OrchestratorOptions{}).Rank(ctx, v, Task{QueryText: "foo", SeedSymbolNames: []string{"foo"}})
		require.NoError(t, err)
		require.Len(t, cands, 3)

		assert.Equal(t, []string{"a.py", "b.py", "c.py"}, candidatePaths(cands))
		assert.True(t, cands[0].Seed)
		assert.Equal(t, []string{TagLexical, TagSeed}, cands[0].Tags)
		assert.Positive(t, cands[0].LexicalScore)
		assert.False(t, cands[1].Seed)
	})

	t.Run("SeedOnly", func(t *testing.T) {
		t.Parallel()
		v := snapshot(t, store)
		cands, err := NewOrchestrator(OrchestratorOptions{}).Rank(ctx, v, Task{SeedSymbolNames: []string{"foo", "missing"}})
		require.NoError(t, err)
		require.Len(t, cands, 1)

		assert.Equal(t, "a.py", cands[0].Path)
		assert.Zero(t, cands[0].LexicalScore)
		assert.Equal(t, []string{TagSeed}, cands[0].Tags)
	})

	t.Run("ResultLimit", func(t *testing.T) {
		t.Parallel()
		v := snapshot(t, store)
		cands, err := NewOrchestrator(OrchestratorOptions{ResultLimit: 1}).Rank(ctx, v, Task{QueryText: "foo", SeedSymbolNames: []string{"bar"}})
		require.NoError(t, err)
		require.Len(t, cands, 2)

		assert.Equal(t, "b.py", cands[0].Path)
		assert.True(t, cands[0].Seed)
		assert.Equal(t, "a.py", cands[1].Path)
	})

	t.Run("SemanticFusion", func(t *testing.T) {
		t.Parallel()
		v := snapshot(t, store)
		o := NewOrchestrator(OrchestratorOptions{Scorer: embeddings.NewHashEmbedder(0)})
		require.True(t, o.SemanticEnabled())

		cands, err := o.Rank(ctx, v, Task{QueryText: "foo"})
		require.NoError(t, err)
		require.Len(t, cands, 3)

		for i, c := range cands {
			require.NotNil(t, c.SemanticScore)
			assert.GreaterOrEqual(t, c.FusedScore, 0.0)
			assert.LessOrEqual(t, c.FusedScore, 1.0)
			assert.Contains(t, c.Tags, TagSemantic)
			if i > 0 {
				assert.GreaterOrEqual(t, cands[i-1].FusedScore, c.FusedScore)
			}
		}
	})
}

func TestOrchestrator_TieBreak(t *testing.T) {
	t.Parallel()

	body := "def handler():\n    return 'same'\n"
	store := indexFiles(t, map[string]string{"y.py": body, "x.py": body, "z/a.py": body})
	v := snapshot(t, store)

	for range 3 {
		cands, err := NewOrchestrator(OrchestratorOptions{}).Rank(context.Background(), v, Task{QueryText: "handler"})
		require.NoError(t, err)
		assert.Equal(t, []string{"x.py", "y.py", "z/a.py"}, candidatePaths(cands))
	}
}

func candidatePaths(cands []Candidate) []string {
	out := make([]string, 0, len(cands))
	for _, c := range cands {
		out = append(out, c.Path)
	}
	return out
}
