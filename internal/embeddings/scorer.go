// Package embeddings provides the pluggable semantic scorers used to rerank
// lexical candidates.
//
// Scorers are lightweight and local: a hashed bag-of-words embedding and a
// TF-IDF model fitted to the candidate set. Neither needs an external model.
package embeddings

import (
	"context"
	"fmt"
	"math"
	"strings"
)

// Scorer rates how well each document matches a query.
type Scorer interface {
	// Score returns one similarity per document, in document order.
	Score(ctx context.Context, query string, docs []string) ([]float64, error)

	// Name identifies the scorer in audit output.
	Name() string
}

// Scorer names accepted by New.
const (
	ScorerHash  = "hash"
	ScorerTFIDF = "tfidf"
	ScorerNone  = "none"
)

// New returns the scorer registered under name. "none" and "" return a
// nil Scorer, which disables semantic reranking.
func New(name string) (Scorer, error) {
	switch strings.ToLower(name) {
	case ScorerHash:
		return NewHashEmbedder(DefaultHashDimension), nil
	case ScorerTFIDF:
		return NewTFIDFScorer(), nil
	case ScorerNone, "":
		return nil, nil
	}
	return nil, fmt.Errorf("unknown scorer %q", name)
}

// cosine returns the cosine similarity of two equal-length vectors, 0 when
// either is zero.
func cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// normalize scales v to unit L2 length in place.
func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	norm := math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
}

// tokenize splits text into lower-cased terms of at least two characters.
// Underscores stay inside terms.
func tokenize(text string) []string {
	text = strings.ToLower(text)

	terms := strings.FieldsFunc(text, func(r rune) bool {
		return !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_')
	})

	filtered := make([]string, 0, len(terms))
	for _, term := range terms {
		if len(term) >= 2 {
			filtered = append(filtered, term)
		}
	}
	return filtered
}
