// Package retrieval answers task queries against an indexed repository.
//
// A query runs in phases over one store snapshot: lexical candidate
// generation (BM25 over the inverted index), optional semantic rescoring of
// those candidates, seed resolution through the symbol graph, and context
// assembly, which stitches in the chunks defining referenced symbols and
// packs everything into a token budget.
package retrieval

import (
	"github.com/Benny93/repoctx/internal/chunk"
	"github.com/Benny93/repoctx/internal/graph"
)

// Audit tags explaining why a chunk was selected.
const (
	TagLexical  = "lexical-match"
	TagSemantic = "semantic-rerank"
	TagSeed     = "seed"

	tagGraphPrefix = "graph-expanded:"
)

// Drop reasons.
const (
	ReasonBudgetExceeded = "budget-exceeded"
	ReasonStale          = "stale-chunk"
)

// Query phases, used for logging, metrics and timeout reporting.
const (
	PhaseLexical  = "lexical"
	PhaseSemantic = "semantic"
	PhaseSeed     = "seed"
	PhaseAssemble = "assemble"
)

// GraphTag returns the audit tag for a chunk reached over an edge kind.
func GraphTag(kind graph.EdgeKind) string {
	return tagGraphPrefix + string(kind)
}

// Task is one retrieval request.
type Task struct {
	// QueryText is the natural-language task description.
	QueryText string `json:"query_text"`

	// SeedSymbolNames are symbols whose defining chunks are always candidates.
	SeedSymbolNames []string `json:"seed_symbol_names,omitempty"`

	// TokenBudget caps the summed token count of the bundle.
	TokenBudget int `json:"token_budget"`

	// MaxExpansionDepth bounds graph expansion; 0 disables it.
	MaxExpansionDepth int `json:"max_expansion_depth"`
}

// Candidate is a ranked chunk before assembly.
type Candidate struct {
	ChunkID   string `json:"chunk_id"`
	Path      string `json:"path"`
	StartLine int    `json:"start_line"`

	// LexicalScore is the BM25 score, 0 for seed-only candidates.
	LexicalScore float64 `json:"lexical_score"`

	// SemanticScore is nil when no semantic scorer ran.
	SemanticScore *float64 `json:"semantic_score,omitempty"`

	FusedScore float64 `json:"fused_score"`

	// Seed is set for candidates forced in by a seed symbol.
	Seed bool `json:"seed,omitempty"`

	Tags []string `json:"audit_tags"`
}

// BundleEntry is one chunk of an assembled bundle.
type BundleEntry struct {
	Chunk chunk.Chunk `json:"chunk"`
	Tags  []string    `json:"audit_tags"`
}

// DroppedChunk records a chunk the assembler could not keep.
type DroppedChunk struct {
	ChunkID    string   `json:"chunk_id"`
	Path       string   `json:"path"`
	StartLine  int      `json:"start_line"`
	EndLine    int      `json:"end_line"`
	TokenCount int      `json:"token_count"`
	Reason     string   `json:"reason"`
	Tags       []string `json:"audit_tags,omitempty"`
}

// ContextBundle is the packed result of a query.
type ContextBundle struct {
	Entries      []BundleEntry  `json:"entries"`
	UsedTokens   int            `json:"used_tokens"`
	TokenBudget  int            `json:"token_budget"`
	DroppedCount int            `json:"dropped_count"`
	Dropped      []DroppedChunk `json:"dropped,omitempty"`
}

// addTag appends tag unless present.
func addTag(tags []string, tag string) []string {
	for _, t := range tags {
		if t == tag {
			return tags
		}
	}
	return append(tags, tag)
}

// mergeTags appends every tag of extra not already in tags.
func mergeTags(tags []string, extra ...string) []string {
	for _, t := range extra {
		tags = addTag(tags, t)
	}
	return tags
}
