package embeddings

import (
	"context"
	"math"
	"sync"
)

// MaxVocabulary caps the number of terms a TF-IDF model keeps.
const MaxVocabulary = 4096

// TFIDFEmbedder generates TF-IDF embeddings over a vocabulary built from a
// document set.
type TFIDFEmbedder struct {
	mu       sync.RWMutex
	idf      map[string]float64 // term -> IDF score
	docCount int                // number of documents processed
	vocab    map[string]int     // term -> index in embedding vector
}

// NewTFIDFEmbedder creates a new TF-IDF embedder.
func NewTFIDFEmbedder() *TFIDFEmbedder {
	return &TFIDFEmbedder{
		idf:   make(map[string]float64),
		vocab: make(map[string]int),
	}
}

// Fit builds the vocabulary and IDF table from docs, in document order.
func (e *TFIDFEmbedder) Fit(docs []string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.vocab = make(map[string]int)
	e.idf = make(map[string]float64)
	e.docCount = len(docs)

	docFreq := make(map[string]int)
	for _, doc := range docs {
		seen := make(map[string]bool)
		for _, term := range tokenize(doc) {
			if seen[term] {
				continue
			}
			seen[term] = true
			docFreq[term]++
			if _, exists := e.vocab[term]; !exists && len(e.vocab) < MaxVocabulary {
				e.vocab[term] = len(e.vocab)
			}
		}
	}

	// Smoothed IDF: ln(1 + N/df) stays positive for terms in every document.
	for term, df := range docFreq {
		e.idf[term] = math.Log(1 + float64(e.docCount)/float64(df))
	}
}

// VocabularySize returns the number of terms in the vocabulary.
func (e *TFIDFEmbedder) VocabularySize() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.vocab)
}

// Embed generates a unit-length TF-IDF embedding for a document. Terms
// outside the vocabulary are ignored.
func (e *TFIDFEmbedder) Embed(doc string) []float32 {
	e.mu.RLock()
	defer e.mu.RUnlock()

	embedding := make([]float32, len(e.vocab))

	tf := make(map[string]int)
	maxTF := 0
	for _, term := range tokenize(doc) {
		tf[term]++
		maxTF = max(maxTF, tf[term])
	}

	for term, count := range tf {
		idx, exists := e.vocab[term]
		if !exists {
			continue
		}
		embedding[idx] = float32(float64(count) / float64(maxTF) * e.idf[term])
	}

	normalize(embedding)
	return embedding
}

// TFIDFScorer fits a fresh TF-IDF model to each candidate set.
type TFIDFScorer struct{}

// NewTFIDFScorer creates a TF-IDF scorer.
func NewTFIDFScorer() *TFIDFScorer {
	return &TFIDFScorer{}
}

// Name implements Scorer.
func (s *TFIDFScorer) Name() string { return ScorerTFIDF }

// Score implements Scorer: the model is fitted on docs, then the query and
// every document are compared by cosine similarity.
func (s *TFIDFScorer) Score(ctx context.Context, query string, docs []string) ([]float64, error) {
	e := NewTFIDFEmbedder()
	e.Fit(docs)

	q := e.Embed(query)
	scores := make([]float64, len(docs))
	for i, doc := range docs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		scores[i] = cosine(q, e.Embed(doc))
	}
	return scores, nil
}
