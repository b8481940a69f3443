package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/Benny93/repoctx/internal/graph"
	"github.com/Benny93/repoctx/internal/render"
	"github.com/Benny93/repoctx/internal/retrieval"
	"github.com/Benny93/repoctx/internal/storage"
)

// Tool names.
const (
	ToolContext   = "repoctx_context"
	ToolSearch    = "repoctx_search"
	ToolNeighbors = "repoctx_neighbors"
	ToolStatus    = "repoctx_status"
)

// StatusURI is the resource holding the store statistics.
const StatusURI = "repoctx://status"

type contextInput struct {
	Query       string   `json:"query,omitempty" jsonschema:"Natural-language description of the task"`
	Seeds       []string `json:"seeds,omitempty" jsonschema:"Symbol names whose defining chunks must be included"`
	TokenBudget int      `json:"token_budget,omitempty" jsonschema:"Maximum summed token count of the returned chunks (default: server budget)"`
	MaxDepth    *int     `json:"max_depth,omitempty" jsonschema:"Graph expansion depth from each selected chunk; 0 disables expansion"`
}

type contextOutput struct {
	Bundle retrieval.ContextBundle `json:"bundle" jsonschema:"Selected chunks in order with audit tags and dropped chunks"`
}

type searchInput struct {
	Query string `json:"query" jsonschema:"Keywords or identifiers to match"`
	Limit int    `json:"limit,omitempty" jsonschema:"Maximum hits to return (default: 20)"`
}

type searchOutput struct {
	Hits  []retrieval.SearchHit `json:"hits" jsonschema:"Matching chunks by descending BM25 score"`
	Count int                   `json:"count" jsonschema:"Number of hits"`
}

type neighborsInput struct {
	Symbol    string   `json:"symbol" jsonschema:"Symbol name to resolve"`
	EdgeKinds []string `json:"edge_kinds,omitempty" jsonschema:"Edge kinds to follow (default: all)"`
	Depth     int      `json:"depth,omitempty" jsonschema:"Maximum hops (default: 1)"`
}

type neighborsOutput struct {
	Matches []retrieval.SymbolNeighbors `json:"matches" jsonschema:"Every symbol with that name and what it reaches"`
	Count   int                         `json:"count" jsonschema:"Number of resolved symbols"`
}

type statusInput struct{}

type statusOutput struct {
	Stats storage.Stats `json:"stats" jsonschema:"Counts of indexed files, symbols, edges, chunks and terms"`
}

func (s *Server) registerTools() error {
	contextSchema, err := schemaFor[contextInput](func(p map[string]*jsonschema.Schema) {
		p["token_budget"].Minimum = minimum(1)
		p["max_depth"].Minimum = minimum(0)
	})
	if err != nil {
		return err
	}
	searchSchema, err := schemaFor[searchInput](func(p map[string]*jsonschema.Schema) {
		p["limit"].Minimum = minimum(0)
	})
	if err != nil {
		return err
	}
	neighborsSchema, err := schemaFor[neighborsInput](func(p map[string]*jsonschema.Schema) {
		kinds := make([]any, 0, len(graph.AllEdgeKinds))
		for _, k := range graph.AllEdgeKinds {
			kinds = append(kinds, string(k))
		}
		p["edge_kinds"].Items = &jsonschema.Schema{Type: "string", Enum: kinds}
		p["depth"].Minimum = minimum(0)
	})
	if err != nil {
		return err
	}

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name: ToolContext,
		Description: "Assemble the code context for a task: ranks chunks by BM25 and semantic similarity, " +
			"forces in the definitions of seed symbols, follows the symbol graph to the definitions the " +
			"selected code depends on and packs everything into a token budget. Returns markdown.",
		InputSchema: contextSchema,
	}, s.handleContext)
	s.tools = append(s.tools, ToolContext)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        ToolSearch,
		Description: "Lexical search over indexed chunks. Returns chunk locations ranked by BM25.",
		InputSchema: searchSchema,
	}, s.handleSearch)
	s.tools = append(s.tools, ToolSearch)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        ToolNeighbors,
		Description: "Resolve a symbol name and list the symbols it reaches over imports, calls, references and type uses.",
		InputSchema: neighborsSchema,
	}, s.handleNeighbors)
	s.tools = append(s.tools, ToolNeighbors)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        ToolStatus,
		Description: "Report what the index holds.",
	}, s.handleStatus)
	s.tools = append(s.tools, ToolStatus)

	return nil
}

func (s *Server) registerResources() {
	s.mcp.AddResource(&mcp.Resource{
		URI:         StatusURI,
		Name:        "Index Status",
		Description: "Counts of indexed files, symbols, edges, chunks and terms",
		MIMEType:    "application/json",
	}, s.readStatus)
}

func (s *Server) handleContext(ctx context.Context, _ *mcp.CallToolRequest, in contextInput) (*mcp.CallToolResult, contextOutput, error) {
	task := retrieval.Task{
		QueryText:         in.Query,
		SeedSymbolNames:   in.Seeds,
		TokenBudget:       s.opts.TokenBudget,
		MaxExpansionDepth: s.opts.MaxExpansionDepth,
	}
	if in.TokenBudget != 0 {
		task.TokenBudget = in.TokenBudget
	}
	if in.MaxDepth != nil {
		task.MaxExpansionDepth = *in.MaxDepth
	}

	bundle, err := s.engine.Query(ctx, task)
	if err != nil {
		s.logger.Warn("context query failed",
			zap.String("code", string(retrieval.CodeOf(err))),
			zap.Error(err))
		return nil, contextOutput{}, err
	}

	var sb strings.Builder
	if err := render.Markdown(&sb, in.Query, bundle); err != nil {
		return nil, contextOutput{}, fmt.Errorf("rendering bundle: %w", err)
	}
	return textResult(sb.String()), contextOutput{Bundle: *bundle}, nil
}

func (s *Server) handleSearch(ctx context.Context, _ *mcp.CallToolRequest, in searchInput) (*mcp.CallToolResult, searchOutput, error) {
	if strings.TrimSpace(in.Query) == "" {
		return nil, searchOutput{}, fmt.Errorf("query is required")
	}
	hits, err := s.engine.Search(ctx, in.Query, in.Limit)
	if err != nil {
		return nil, searchOutput{}, err
	}
	if hits == nil {
		hits = []retrieval.SearchHit{}
	}

	var sb strings.Builder
	if len(hits) == 0 {
		fmt.Fprintf(&sb, "No chunks match %q.\n", in.Query)
	}
	for i, h := range hits {
		fmt.Fprintf(&sb, "%d. %s:%d-%d (score %.3f, %d tokens)\n", i+1, h.Path, h.StartLine, h.EndLine, h.Score, h.TokenCount)
	}
	return textResult(sb.String()), searchOutput{Hits: hits, Count: len(hits)}, nil
}

func (s *Server) handleNeighbors(ctx context.Context, _ *mcp.CallToolRequest, in neighborsInput) (*mcp.CallToolResult, neighborsOutput, error) {
	if strings.TrimSpace(in.Symbol) == "" {
		return nil, neighborsOutput{}, fmt.Errorf("symbol is required")
	}
	kinds := make([]graph.EdgeKind, 0, len(in.EdgeKinds))
	for _, name := range in.EdgeKinds {
		k, err := graph.ParseEdgeKind(name)
		if err != nil {
			return nil, neighborsOutput{}, err
		}
		kinds = append(kinds, k)
	}
	depth := in.Depth
	if depth <= 0 {
		depth = 1
	}

	matches, err := s.engine.Neighbors(ctx, in.Symbol, kinds, depth)
	if err != nil {
		return nil, neighborsOutput{}, err
	}
	if matches == nil {
		matches = []retrieval.SymbolNeighbors{}
	}

	var sb strings.Builder
	if len(matches) == 0 {
		fmt.Fprintf(&sb, "No symbol named %q.\n", in.Symbol)
	}
	for _, m := range matches {
		fmt.Fprintf(&sb, "%s (%s) %s:%d\n", m.Symbol.Name, m.Symbol.Kind, m.Symbol.Path, m.Symbol.Span.Start)
		if len(m.Neighbors) == 0 {
			sb.WriteString("  (no neighbors)\n")
		}
		for _, n := range m.Neighbors {
			fmt.Fprintf(&sb, "  %d %s -> %s %s:%d\n", n.Depth, n.Via, n.Symbol.Name, n.Symbol.Path, n.Symbol.Span.Start)
		}
	}
	return textResult(sb.String()), neighborsOutput{Matches: matches, Count: len(matches)}, nil
}

func (s *Server) handleStatus(ctx context.Context, _ *mcp.CallToolRequest, _ statusInput) (*mcp.CallToolResult, statusOutput, error) {
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return nil, statusOutput{}, fmt.Errorf("reading stats: %w", err)
	}
	text := fmt.Sprintf("files: %d\nsymbols: %d\nedges: %d (%d resolved, %d unresolved)\nchunks: %d\nterms: %d\nschema version: %d\n",
		stats.Files, stats.Symbols, stats.Edges, stats.ResolvedEdges, stats.UnresolvedEdges,
		stats.Chunks, stats.Terms, stats.SchemaVersion)
	return textResult(text), statusOutput{Stats: stats}, nil
}

func (s *Server) readStatus(ctx context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading stats: %w", err)
	}
	data, err := json.Marshal(stats)
	if err != nil {
		return nil, err
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      StatusURI,
			MIMEType: "application/json",
			Text:     string(data),
		}},
	}, nil
}

// schemaFor infers the input schema of T and lets tweak tighten its
// properties.
func schemaFor[T any](tweak func(props map[string]*jsonschema.Schema)) (*jsonschema.Schema, error) {
	schema, err := jsonschema.For[T](nil)
	if err != nil {
		return nil, fmt.Errorf("inferring schema: %w", err)
	}
	if tweak != nil {
		tweak(schema.Properties)
	}
	return schema, nil
}

func minimum(v float64) *float64 {
	return &v
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}
