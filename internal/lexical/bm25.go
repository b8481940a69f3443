package lexical

import (
	"math"
	"sort"
)

// Default BM25 parameters.
const (
	DefaultK1 = 1.2
	DefaultB  = 0.75
)

// Params holds the BM25 saturation and length-normalization constants.
type Params struct {
	K1 float64 `koanf:"k1" json:"k1"`
	B  float64 `koanf:"b" json:"b"`
}

// DefaultParams returns k1=1.2, b=0.75.
func DefaultParams() Params {
	return Params{K1: DefaultK1, B: DefaultB}
}

// CorpusStats describes the indexed corpus at query time. Stores keep it
// up to date with every document write; IDF is derived from it and the
// posting lists at query time and never stored.
type CorpusStats struct {
	// Docs is the number of indexed chunks.
	Docs int `json:"docs"`

	// TotalLen is the sum of token counts over indexed chunks.
	TotalLen int `json:"total_len"`
}

// AvgLen returns the average document length.
func (s CorpusStats) AvgLen() float64 {
	if s.Docs == 0 {
		return 0
	}
	return float64(s.TotalLen) / float64(s.Docs)
}

// IDF returns the non-negative BM25 inverse document frequency of a term that
// occurs in df of n documents.
func IDF(n, df int) float64 {
	if df <= 0 || n <= 0 {
		return 0
	}
	return math.Log(1 + (float64(n)-float64(df)+0.5)/(float64(df)+0.5))
}

// TermScore returns the BM25 contribution of a term with frequency tf in a
// document of length docLen.
func (p Params) TermScore(idf float64, tf, docLen int, avgLen float64) float64 {
	if tf <= 0 {
		return 0
	}
	norm := 1.0
	if avgLen > 0 {
		norm = 1 - p.B + p.B*float64(docLen)/avgLen
	}
	f := float64(tf)
	return idf * f * (p.K1 + 1) / (f + p.K1*norm)
}

// Doc is the metadata scoring and tie-breaking needs about one chunk.
type Doc struct {
	ChunkID   string `json:"id"`
	Path      string `json:"path"`
	StartLine int    `json:"start"`
	Len       int    `json:"len"`
}

// Hit is a scored chunk.
type Hit struct {
	ChunkID   string  `json:"chunk_id"`
	Path      string  `json:"path"`
	StartLine int     `json:"start_line"`
	Score     float64 `json:"score"`
}

// Accumulator sums per-chunk BM25 scores across query terms.
type Accumulator struct {
	params Params
	stats  CorpusStats
	scores map[string]float64
	docs   map[string]Doc
}

// NewAccumulator creates an accumulator for one query.
func NewAccumulator(params Params, stats CorpusStats) *Accumulator {
	return &Accumulator{
		params: params,
		stats:  stats,
		scores: make(map[string]float64),
		docs:   make(map[string]Doc),
	}
}

// AddTerm scores every posting of one query term. postings maps chunk ID to
// term frequency; docs resolves chunk metadata, and chunks it cannot resolve
// are skipped so stale postings are never served.
func (a *Accumulator) AddTerm(postings map[string]int, docs func(id string) (Doc, bool)) {
	idf := IDF(a.stats.Docs, len(postings))
	avg := a.stats.AvgLen()
	for id, tf := range postings {
		d, ok := a.docs[id]
		if !ok {
			if d, ok = docs(id); !ok {
				continue
			}
			a.docs[id] = d
		}
		a.scores[id] += a.params.TermScore(idf, tf, d.Len, avg)
	}
}

// Hits returns the topK hits in rank order.
func (a *Accumulator) Hits(topK int) []Hit {
	hits := make([]Hit, 0, len(a.scores))
	for id, score := range a.scores {
		d := a.docs[id]
		hits = append(hits, Hit{ChunkID: id, Path: d.Path, StartLine: d.StartLine, Score: score})
	}
	return Rank(hits, topK)
}

// Rank sorts hits by score descending, ties broken by (path, start line,
// chunk id), and keeps the first topK (all when topK <= 0).
func Rank(hits []Hit, topK int) []Hit {
	sort.Slice(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		if a.StartLine != b.StartLine {
			return a.StartLine < b.StartLine
		}
		return a.ChunkID < b.ChunkID
	})
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits
}
