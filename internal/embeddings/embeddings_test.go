package embeddings

import (
	"context"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Benny93/repoctx/internal/chunk"
)

func TestNew(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		want    string
		wantNil bool
		wantErr bool
	}{
		{name: "hash", want: ScorerHash},
		{name: "TFIDF", want: ScorerTFIDF},
		{name: "none", wantNil: true},
		{name: "", wantNil: true},
		{name: "onnx", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s, err := New(tt.name)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.wantNil {
				assert.Nil(t, s)
				return
			}
			assert.Equal(t, tt.want, s.Name())
		})
	}
}

func TestHashEmbedder(t *testing.T) {
	t.Parallel()

	h := NewHashEmbedder(DefaultHashDimension)

	t.Run("UnitLength", func(t *testing.T) {
		t.Parallel()
		v := h.Embed("parse the config file")
		require.Len(t, v, DefaultHashDimension)

		var sum float64
		for _, x := range v {
			sum += float64(x) * float64(x)
		}
		assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-6)
	})

	t.Run("EmptyIsZero", func(t *testing.T) {
		t.Parallel()
		for _, x := range h.Embed("a ! ?") {
			assert.Zero(t, x)
		}
	})

	t.Run("Deterministic", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, h.Embed("load_config path"), h.Embed("load_config path"))
	})

	t.Run("ScoreOrdersBySimilarity", func(t *testing.T) {
		t.Parallel()
		scores, err := h.Score(context.Background(), "parse config", []string{
			"func parse(config string) error { return parse_config(config) }",
			"render html template",
		})
		require.NoError(t, err)
		require.Len(t, scores, 2)
		assert.Greater(t, scores[0], scores[1])
	})

	t.Run("CanceledContext", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := h.Score(ctx, "x", []string{"doc"})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestTFIDFEmbedder(t *testing.T) {
	t.Parallel()

	t.Run("Fit", func(t *testing.T) {
		t.Parallel()
		e := NewTFIDFEmbedder()
		e.Fit([]string{
			"function process dead code",
			"function run pipeline",
			"class knowledge graph",
		})

		assert.Equal(t, 9, e.VocabularySize())
		assert.Greater(t, e.idf["dead"], e.idf["function"])
		assert.Greater(t, e.idf["function"], 0.0)
	})

	t.Run("VocabularyCap", func(t *testing.T) {
		t.Parallel()
		words := make([]string, 0, MaxVocabulary+10)
		for i := 0; i < MaxVocabulary+10; i++ {
			words = append(words, "w"+strings.Repeat("x", i%7)+string(rune('a'+i%26))+string(rune('a'+(i/26)%26))+string(rune('a'+(i/676)%26)))
		}
		e := NewTFIDFEmbedder()
		e.Fit([]string{strings.Join(words, " ")})
		assert.LessOrEqual(t, e.VocabularySize(), MaxVocabulary)
	})

	t.Run("UnknownTermsIgnored", func(t *testing.T) {
		t.Parallel()
		e := NewTFIDFEmbedder()
		e.Fit([]string{"alpha beta"})
		for _, x := range e.Embed("gamma delta") {
			assert.Zero(t, x)
		}
	})
}

func TestTFIDFScorer(t *testing.T) {
	t.Parallel()

	s := NewTFIDFScorer()
	scores, err := s.Score(context.Background(), "token budget", []string{
		"the assembler packs chunks into the token budget",
		"graph traversal with a visited set",
		"budget",
	})
	require.NoError(t, err)
	require.Len(t, scores, 3)
	assert.Greater(t, scores[0], scores[1])
	assert.Greater(t, scores[2], scores[1])
	assert.InDelta(t, 0, scores[1], 1e-9)
}

func TestChunkText(t *testing.T) {
	t.Parallel()

	c := chunk.New("internal/config/load.go", "go", 1, 2, "func Load() {}\n")
	text := ChunkText(c)
	assert.True(t, strings.HasPrefix(text, "internal config load go\n"))
	assert.Contains(t, text, "func Load()")

	long := chunk.New("big.txt", "", 1, 1, strings.Repeat("é", maxTextRunes+50))
	assert.Equal(t, maxTextRunes, len([]rune(ChunkText(long)))-len([]rune("big txt\n")))
}
