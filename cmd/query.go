package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/fatih/color"

	"github.com/Benny93/repoctx/internal/graph"
	"github.com/Benny93/repoctx/internal/render"
	"github.com/Benny93/repoctx/internal/retrieval"
)

// QueryCmd assembles the context bundle for a task.
type QueryCmd struct {
	Text   []string `arg:"" optional:"" help:"Task description"`
	Seed   []string `short:"s" help:"Symbol whose definition must be included (repeatable)"`
	Budget int      `short:"b" help:"Token budget (default: assembler.token_budget)"`
	Depth  int      `short:"d" default:"-1" help:"Graph expansion depth (default: assembler.max_expansion_depth)"`
	Ranked bool     `help:"Print the ranked candidates instead of the bundle"`
	JSON   bool     `help:"Print JSON"`
}

// Run executes the query command.
func (c *QueryCmd) Run(ctx context.Context, g *Globals) error {
	e, err := g.env()
	if err != nil {
		return err
	}
	store, _, err := e.openStore(true)
	if err != nil {
		return err
	}
	defer closeStore(store, e.logger)

	engine, err := e.engine(store, nil)
	if err != nil {
		return err
	}

	task := retrieval.Task{
		QueryText:         strings.Join(c.Text, " "),
		SeedSymbolNames:   c.Seed,
		TokenBudget:       e.cfg.Assembler.TokenBudget,
		MaxExpansionDepth: e.cfg.Assembler.MaxExpansionDepth,
	}
	if c.Budget != 0 {
		task.TokenBudget = c.Budget
	}
	if c.Depth >= 0 {
		task.MaxExpansionDepth = c.Depth
	}

	if c.Ranked {
		cands, err := engine.Rank(ctx, task)
		if err != nil {
			return fmt.Errorf("ranking: %w", err)
		}
		if c.JSON {
			return writeJSON(e.out, cands)
		}
		for i, cand := range cands {
			e.printf("%2d. %s:%d  fused=%.4f lexical=%.4f", i+1, cand.Path, cand.StartLine, cand.FusedScore, cand.LexicalScore)
			if cand.SemanticScore != nil {
				e.printf(" semantic=%.4f", *cand.SemanticScore)
			}
			e.printf("  [%s]\n", strings.Join(cand.Tags, ", "))
		}
		return nil
	}

	bundle, err := engine.Query(ctx, task)
	if err != nil {
		return fmt.Errorf("query: %w", err)
	}
	if c.JSON {
		return writeJSON(e.out, bundle)
	}
	return render.Markdown(e.out, task.QueryText, bundle)
}

// SearchCmd runs a lexical search.
type SearchCmd struct {
	Query []string `arg:"" help:"Keywords or identifiers"`
	Limit int      `short:"n" default:"10" help:"Maximum hits"`
	JSON  bool     `help:"Print JSON"`
}

// Run executes the search command.
func (c *SearchCmd) Run(ctx context.Context, g *Globals) error {
	e, err := g.env()
	if err != nil {
		return err
	}
	store, _, err := e.openStore(true)
	if err != nil {
		return err
	}
	defer closeStore(store, e.logger)

	engine, err := e.engine(store, nil)
	if err != nil {
		return err
	}
	query := strings.Join(c.Query, " ")
	hits, err := engine.Search(ctx, query, c.Limit)
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}
	if c.JSON {
		if hits == nil {
			hits = []retrieval.SearchHit{}
		}
		return writeJSON(e.out, hits)
	}

	if len(hits) == 0 {
		e.printf("No results for %q\n", query)
		return nil
	}
	bold := color.New(color.Bold)
	for i, h := range hits {
		bold.Fprintf(e.out, "%2d. %s:%d-%d", i+1, h.Path, h.StartLine, h.EndLine)
		e.printf("  score=%.4f  tokens=%d\n", h.Score, h.TokenCount)
	}
	return nil
}

// NeighborsCmd shows what a symbol reaches.
type NeighborsCmd struct {
	Symbol string   `arg:"" help:"Symbol name"`
	Kind   []string `short:"k" help:"Edge kind to follow (imports, calls, references, type-uses; repeatable)"`
	Depth  int      `short:"d" default:"1" help:"Maximum hops"`
	JSON   bool     `help:"Print JSON"`
}

// Run executes the neighbors command.
func (c *NeighborsCmd) Run(ctx context.Context, g *Globals) error {
	kinds := make([]graph.EdgeKind, 0, len(c.Kind))
	for _, name := range c.Kind {
		k, err := graph.ParseEdgeKind(name)
		if err != nil {
			return err
		}
		kinds = append(kinds, k)
	}

	e, err := g.env()
	if err != nil {
		return err
	}
	store, _, err := e.openStore(true)
	if err != nil {
		return err
	}
	defer closeStore(store, e.logger)

	engine, err := e.engine(store, nil)
	if err != nil {
		return err
	}
	matches, err := engine.Neighbors(ctx, c.Symbol, kinds, c.Depth)
	if err != nil {
		return fmt.Errorf("neighbors: %w", err)
	}
	if c.JSON {
		if matches == nil {
			matches = []retrieval.SymbolNeighbors{}
		}
		return writeJSON(e.out, matches)
	}

	if len(matches) == 0 {
		return fmt.Errorf("symbol '%s' not found", c.Symbol)
	}
	for _, m := range matches {
		s := m.Symbol
		color.New(color.Bold).Fprintf(e.out, "%s", s.Name)
		e.printf(" (%s) %s:%d-%d\n", s.Kind, s.Path, s.Span.Start, s.Span.End)
		if len(m.Neighbors) == 0 {
			e.printf("  (no neighbors)\n")
			continue
		}
		for _, n := range m.Neighbors {
			e.printf("  %s%s [%s, depth %d] %s:%d\n",
				strings.Repeat("  ", n.Depth-1), n.Symbol.Name, n.Via, n.Depth, n.Symbol.Path, n.Symbol.Span.Start)
		}
	}
	return nil
}
