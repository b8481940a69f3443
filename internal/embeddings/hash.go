package embeddings

import (
	"context"
	"hash/fnv"
)

// DefaultHashDimension is the bucket count of the hash embedding.
const DefaultHashDimension = 256

// HashEmbedder embeds text by hashing its terms into a fixed number of
// buckets (FNV-1a, 64 bit) and L2-normalizing the counts.
type HashEmbedder struct {
	dim int
}

// NewHashEmbedder creates an embedder with dim buckets.
func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = DefaultHashDimension
	}
	return &HashEmbedder{dim: dim}
}

// Name implements Scorer.
func (h *HashEmbedder) Name() string { return ScorerHash }

// Dimension returns the embedding length.
func (h *HashEmbedder) Dimension() int { return h.dim }

// Embed returns the unit-length embedding of text. Text without terms
// embeds to the zero vector.
func (h *HashEmbedder) Embed(text string) []float32 {
	v := make([]float32, h.dim)
	for _, term := range tokenize(text) {
		f := fnv.New64a()
		_, _ = f.Write([]byte(term))
		v[f.Sum64()%uint64(h.dim)]++
	}
	normalize(v)
	return v
}

// Score implements Scorer with cosine similarity between embeddings.
func (h *HashEmbedder) Score(ctx context.Context, query string, docs []string) ([]float64, error) {
	q := h.Embed(query)
	scores := make([]float64, len(docs))
	for i, doc := range docs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		scores[i] = cosine(q, h.Embed(doc))
	}
	return scores, nil
}
