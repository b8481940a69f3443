package retrieval

import (
	"context"
	"fmt"
	"sort"

	"github.com/Benny93/repoctx/internal/chunk"
	"github.com/Benny93/repoctx/internal/embeddings"
	"github.com/Benny93/repoctx/internal/storage"
)

// Defaults for OrchestratorOptions.
const (
	DefaultResultLimit = 20
	DefaultOverfetch   = 5
	MinLexicalK        = 50
)

// Weights sets the share of each signal in the fused score. They are
// normalized to sum to one, so only their ratio matters.
type Weights struct {
	Lexical  float64 `json:"lexical"`
	Semantic float64 `json:"semantic"`
}

// OrchestratorOptions configures ranking.
type OrchestratorOptions struct {
	// ResultLimit is the number of scored candidates kept after fusion.
	// Seed candidates come on top of it.
	ResultLimit int

	// Overfetch multiplies ResultLimit to size the lexical phase. The
	// lexical phase fetches at least MinLexicalK chunks.
	Overfetch int

	// Weights for fusion. Zero value means equal weights.
	Weights Weights

	// Scorer rescales lexical candidates. Nil disables the semantic phase.
	Scorer embeddings.Scorer
}

// Orchestrator ranks chunks for a task. It holds no per-query state and is
// safe for concurrent use.
type Orchestrator struct {
	scorer   embeddings.Scorer
	weights  Weights
	limit    int
	lexicalK int
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(opts OrchestratorOptions) *Orchestrator {
	if opts.ResultLimit <= 0 {
		opts.ResultLimit = DefaultResultLimit
	}
	if opts.Overfetch <= 0 {
		opts.Overfetch = DefaultOverfetch
	}
	w := opts.Weights
	if w.Lexical < 0 || w.Semantic < 0 || w.Lexical+w.Semantic == 0 {
		w = Weights{Lexical: 0.5, Semantic: 0.5}
	}
	sum := w.Lexical + w.Semantic
	return &Orchestrator{
		scorer:   opts.Scorer,
		weights:  Weights{Lexical: w.Lexical / sum, Semantic: w.Semantic / sum},
		limit:    opts.ResultLimit,
		lexicalK: max(opts.ResultLimit*opts.Overfetch, MinLexicalK),
	}
}

// LexicalK returns the over-fetch size of the lexical phase.
func (o *Orchestrator) LexicalK() int {
	return o.lexicalK
}

// SemanticEnabled reports whether a scorer is configured.
func (o *Orchestrator) SemanticEnabled() bool {
	return o.scorer != nil
}

// Rank runs every phase and returns the final candidate order.
func (o *Orchestrator) Rank(ctx context.Context, v storage.View, task Task) ([]Candidate, error) {
	cands, err := o.Lexical(ctx, v, task.QueryText)
	if err != nil {
		return nil, err
	}
	if cands, err = o.Semantic(ctx, v, task.QueryText, cands); err != nil {
		return nil, err
	}
	return o.Seeds(ctx, v, task.SeedSymbolNames, cands)
}

// Lexical fetches the top LexicalK chunks by BM25. Empty queries yield
// no candidates.
func (o *Orchestrator) Lexical(ctx context.Context, v storage.View, query string) ([]Candidate, error) {
	hits, err := v.Search(ctx, query, o.lexicalK)
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}
	cands := make([]Candidate, 0, len(hits))
	for _, h := range hits {
		cands = append(cands, Candidate{
			ChunkID:      h.ChunkID,
			Path:         h.Path,
			StartLine:    h.StartLine,
			LexicalScore: h.Score,
			FusedScore:   h.Score,
			Tags:         []string{TagLexical},
		})
	}
	return cands, nil
}

// Semantic rescales cands with the scorer and fuses both signals. Each
// signal is min-max normalized over the candidate set before the weighted
// sum. Without a scorer the fused score stays the lexical score.
func (o *Orchestrator) Semantic(ctx context.Context, v storage.View, query string, cands []Candidate) ([]Candidate, error) {
	if o.scorer == nil || len(cands) == 0 {
		sortCandidates(cands)
		return cands, nil
	}

	kept := cands[:0]
	docs := make([]string, 0, len(cands))
	for _, c := range cands {
		ch, ok, err := v.Chunk(c.ChunkID)
		if err != nil {
			return nil, fmt.Errorf("loading chunk %s: %w", c.ChunkID, err)
		}
		if !ok {
			continue
		}
		kept = append(kept, c)
		docs = append(docs, embeddings.ChunkText(ch))
	}
	cands = kept

	scores, err := o.scorer.Score(ctx, query, docs)
	if err != nil {
		return nil, fmt.Errorf("semantic scoring with %s: %w", o.scorer.Name(), err)
	}
	if len(scores) != len(cands) {
		return nil, fmt.Errorf("semantic scorer %s returned %d scores for %d candidates", o.scorer.Name(), len(scores), len(cands))
	}

	lex := make([]float64, len(cands))
	for i, c := range cands {
		lex[i] = c.LexicalScore
	}
	nl := MinMax(lex)
	ns := MinMax(scores)

	for i := range cands {
		s := scores[i]
		cands[i].SemanticScore = &s
		cands[i].FusedScore = o.weights.Lexical*nl[i] + o.weights.Semantic*ns[i]
		cands[i].Tags = addTag(cands[i].Tags, TagSemantic)
	}
	sortCandidates(cands)
	return cands, nil
}

// Seeds resolves each seed name through the graph and forces the chunks
// owning its definitions in front of the scored candidates, in seed order.
// A seed chunk that is already a candidate keeps its scores and gains the
// seed tag. Unknown names add nothing. The scored candidates are then cut
// to the result limit.
func (o *Orchestrator) Seeds(ctx context.Context, v storage.View, names []string, cands []Candidate) ([]Candidate, error) {
	byID := make(map[string]int, len(cands))
	for i, c := range cands {
		byID[c.ChunkID] = i
	}

	var seeds []Candidate
	seen := make(map[string]bool)
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ids, err := v.Resolve(name)
		if err != nil {
			return nil, fmt.Errorf("resolving seed %q: %w", name, err)
		}
		for _, id := range ids {
			sym, ok, err := v.Symbol(id)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			owner, ok, err := owningChunk(v, sym.Path, sym.Span.Start)
			if err != nil {
				return nil, err
			}
			if !ok || seen[owner.ID] {
				continue
			}
			seen[owner.ID] = true

			seed := Candidate{
				ChunkID:   owner.ID,
				Path:      owner.Path,
				StartLine: owner.StartLine,
			}
			if i, ok := byID[owner.ID]; ok {
				seed = cands[i]
			}
			seed.Seed = true
			seed.Tags = addTag(seed.Tags, TagSeed)
			seeds = append(seeds, seed)
		}
	}

	rest := make([]Candidate, 0, len(cands))
	for _, c := range cands {
		if !seen[c.ChunkID] {
			rest = append(rest, c)
		}
	}
	if len(rest) > o.limit {
		rest = rest[:o.limit]
	}
	return append(seeds, rest...), nil
}

// MinMax rescales values to [0,1]. When all values are equal the result is
// 1 for positive values and 0 otherwise.
func MinMax(values []float64) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	lo, hi := values[0], values[0]
	for _, x := range values[1:] {
		lo = min(lo, x)
		hi = max(hi, x)
	}
	for i, x := range values {
		switch {
		case hi > lo:
			out[i] = (x - lo) / (hi - lo)
		case hi > 0:
			out[i] = 1
		}
	}
	return out
}

// sortCandidates orders by fused score, then lexical score (both
// descending), then (path, start line, chunk id).
func sortCandidates(cands []Candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.FusedScore != b.FusedScore {
			return a.FusedScore > b.FusedScore
		}
		if a.LexicalScore != b.LexicalScore {
			return a.LexicalScore > b.LexicalScore
		}
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		if a.StartLine != b.StartLine {
			return a.StartLine < b.StartLine
		}
		return a.ChunkID < b.ChunkID
	})
}

// owningChunk returns the chunk of path that owns line.
func owningChunk(v storage.View, path string, line int) (chunk.Chunk, bool, error) {
	chunks, err := v.ChunksByPath(path)
	if err != nil {
		return chunk.Chunk{}, false, fmt.Errorf("loading chunks of %s: %w", path, err)
	}
	c, ok := chunk.Owner(chunks, line)
	return c, ok, nil
}
