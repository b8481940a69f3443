// Package mcp serves repository context to MCP clients over stdio.
package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/Benny93/repoctx/internal/retrieval"
	"github.com/Benny93/repoctx/internal/storage"
)

// Options configures the server.
type Options struct {
	// Name is the implementation name reported to clients (default: "repoctx").
	Name string

	// Version is the implementation version (default: "dev").
	Version string

	// TokenBudget and MaxExpansionDepth apply when a context request omits them.
	TokenBudget       int
	MaxExpansionDepth int

	Logger *zap.Logger
}

// Server exposes the retrieval engine as MCP tools.
type Server struct {
	mcp    *mcp.Server
	engine *retrieval.Engine
	store  storage.Store
	opts   Options
	tools  []string
	logger *zap.Logger
}

// NewServer creates a server answering from store through engine.
func NewServer(store storage.Store, engine *retrieval.Engine, opts Options) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if opts.Name == "" {
		opts.Name = "repoctx"
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	if opts.TokenBudget <= 0 {
		opts.TokenBudget = 8000
	}
	if opts.MaxExpansionDepth < 0 {
		opts.MaxExpansionDepth = 0
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		mcp: mcp.NewServer(&mcp.Implementation{
			Name:    opts.Name,
			Version: opts.Version,
		}, nil),
		engine: engine,
		store:  store,
		opts:   opts,
		logger: logger.Named("mcp"),
	}
	if err := s.registerTools(); err != nil {
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}
	s.registerResources()
	return s, nil
}

// Tools returns the registered tool names in registration order.
func (s *Server) Tools() []string {
	return append([]string(nil), s.tools...)
}

// Run serves MCP on stdio until ctx is done or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio transport", zap.Strings("tools", s.tools))
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}
