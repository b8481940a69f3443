package retrieval

import (
	"context"
	"fmt"
	"sort"

	"github.com/Benny93/repoctx/internal/chunk"
	"github.com/Benny93/repoctx/internal/graph"
	"github.com/Benny93/repoctx/internal/storage"
)

// Assembler packs ranked candidates into a token budget, stitching in the
// chunks that define the symbols each selected chunk depends on.
type Assembler struct {
	// EdgeKinds limits expansion to these edge kinds; empty follows all.
	EdgeKinds []graph.EdgeKind
}

// NewAssembler creates an assembler following the given edge kinds.
func NewAssembler(kinds ...graph.EdgeKind) *Assembler {
	return &Assembler{EdgeKinds: kinds}
}

// packer is the state of one assembly.
type packer struct {
	v         storage.View
	remaining int
	bundle    *ContextBundle
	included  map[string]int
	dropped   map[string]bool
}

// Assemble walks cands in order. Each candidate chunk is kept when it fits
// the remaining budget, followed by the chunks owning the symbols reached
// from its own symbols within task.MaxExpansionDepth hops. Chunks that do
// not fit are dropped whole and the walk goes on; a chunk seen again only
// gains tags. Once the budget is exhausted the remaining candidates are
// dropped without expansion.
func (a *Assembler) Assemble(ctx context.Context, v storage.View, cands []Candidate, task Task) (*ContextBundle, error) {
	p := &packer{
		v:         v,
		remaining: max(task.TokenBudget, 0),
		bundle:    &ContextBundle{TokenBudget: task.TokenBudget},
		included:  make(map[string]int),
		dropped:   make(map[string]bool),
	}

	for i, cand := range cands {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if p.remaining == 0 {
			for _, rest := range cands[i:] {
				if err := p.dropRest(rest); err != nil {
					return nil, err
				}
			}
			break
		}

		c, ok, err := v.Chunk(cand.ChunkID)
		if err != nil {
			return nil, fmt.Errorf("loading chunk %s: %w", cand.ChunkID, err)
		}
		if !ok {
			p.drop(chunk.Chunk{ID: cand.ChunkID, Path: cand.Path, StartLine: cand.StartLine}, ReasonStale, cand.Tags)
			continue
		}
		if !p.offer(c, cand.Tags) || task.MaxExpansionDepth <= 0 {
			continue
		}
		if err := a.expand(ctx, p, c, cand.Tags, task.MaxExpansionDepth); err != nil {
			return nil, err
		}
	}

	p.bundle.DroppedCount = len(p.bundle.Dropped)
	return p.bundle, nil
}

// offer adds c when it fits or is already present, and reports whether c
// is in the bundle afterwards.
func (p *packer) offer(c chunk.Chunk, tags []string) bool {
	if i, ok := p.included[c.ID]; ok {
		p.bundle.Entries[i].Tags = mergeTags(p.bundle.Entries[i].Tags, tags...)
		return true
	}
	if c.TokenCount > p.remaining {
		p.drop(c, ReasonBudgetExceeded, tags)
		return false
	}
	p.included[c.ID] = len(p.bundle.Entries)
	p.bundle.Entries = append(p.bundle.Entries, BundleEntry{
		Chunk: c,
		Tags:  mergeTags(nil, tags...),
	})
	p.remaining -= c.TokenCount
	p.bundle.UsedTokens += c.TokenCount
	return true
}

func (p *packer) drop(c chunk.Chunk, reason string, tags []string) {
	if p.dropped[c.ID] {
		return
	}
	p.dropped[c.ID] = true
	p.bundle.Dropped = append(p.bundle.Dropped, DroppedChunk{
		ChunkID:    c.ID,
		Path:       c.Path,
		StartLine:  c.StartLine,
		EndLine:    c.EndLine,
		TokenCount: c.TokenCount,
		Reason:     reason,
		Tags:       mergeTags(nil, tags...),
	})
}

// dropRest handles a candidate reached after the budget ran out.
func (p *packer) dropRest(cand Candidate) error {
	if i, ok := p.included[cand.ChunkID]; ok {
		p.bundle.Entries[i].Tags = mergeTags(p.bundle.Entries[i].Tags, cand.Tags...)
		return nil
	}
	c, ok, err := p.v.Chunk(cand.ChunkID)
	if err != nil {
		return fmt.Errorf("loading chunk %s: %w", cand.ChunkID, err)
	}
	if !ok {
		p.drop(chunk.Chunk{ID: cand.ChunkID, Path: cand.Path, StartLine: cand.StartLine}, ReasonStale, cand.Tags)
		return nil
	}
	p.drop(c, ReasonBudgetExceeded, cand.Tags)
	return nil
}

// reached is a symbol found by expansion.
type reached struct {
	sym   graph.Symbol
	depth int
	via   graph.EdgeKind
}

// expand stitches in the chunks defining what c's symbols depend on.
func (a *Assembler) expand(ctx context.Context, p *packer, c chunk.Chunk, tags []string, depth int) error {
	syms, err := p.v.SymbolsByPath(c.Path)
	if err != nil {
		return fmt.Errorf("loading symbols of %s: %w", c.Path, err)
	}

	best := make(map[string]reached)
	for _, s := range syms {
		if !c.Contains(s.Span.Start) {
			continue
		}
		neighbors, err := storage.GetNeighbors(ctx, p.v, s.ID, a.EdgeKinds, depth)
		if err != nil {
			return fmt.Errorf("expanding %s: %w", s.Name, err)
		}
		for _, n := range neighbors {
			if r, ok := best[n.Symbol.ID]; ok && r.depth <= n.Depth {
				continue
			}
			best[n.Symbol.ID] = reached{sym: n.Symbol, depth: n.Depth, via: n.Via}
		}
	}

	order := make([]reached, 0, len(best))
	for _, r := range best {
		order = append(order, r)
	}
	sort.Slice(order, func(i, j int) bool {
		if order[i].depth != order[j].depth {
			return order[i].depth < order[j].depth
		}
		return graph.LessSymbol(order[i].sym, order[j].sym)
	})

	for _, r := range order {
		owner, ok, err := owningChunk(p.v, r.sym.Path, r.sym.Span.Start)
		if err != nil {
			return err
		}
		if !ok || owner.ID == c.ID {
			continue
		}
		p.offer(owner, append(append([]string(nil), tags...), GraphTag(r.via)))
	}
	return nil
}
