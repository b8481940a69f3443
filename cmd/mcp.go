package cmd

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Benny93/repoctx/internal/ingestion"
	"github.com/Benny93/repoctx/internal/metrics"
	"github.com/Benny93/repoctx/mcp"
)

// MCPCmd starts the MCP server on stdio.
type MCPCmd struct {
	Watch bool `short:"w" help:"Index on start and keep the index current while serving"`
}

// Run executes the mcp command. Stdout carries JSON-RPC only; logs go to
// stderr.
func (c *MCPCmd) Run(ctx context.Context, g *Globals) error {
	e, err := g.env()
	if err != nil {
		return err
	}
	store, info, err := e.openStore(!c.Watch)
	if err != nil {
		return err
	}
	defer closeStore(store, e.logger)

	m := metrics.New()
	engine, err := e.engine(store, m)
	if err != nil {
		return err
	}
	server, err := mcp.NewServer(store, engine, mcp.Options{
		Version:           Version,
		TokenBudget:       e.cfg.Assembler.TokenBudget,
		MaxExpansionDepth: e.cfg.Assembler.MaxExpansionDepth,
		Logger:            e.logger,
	})
	if err != nil {
		return err
	}

	grp, gctx := errgroup.WithContext(ctx)
	serveCtx, stop := context.WithCancel(gctx)
	defer stop()

	if c.Watch {
		if _, err := ingestion.Build(ctx, e.root, store, e.buildOptions(info.Rebuilt, 0, m)); err != nil {
			return fmt.Errorf("building index: %w", err)
		}
		w, err := ingestion.NewWatcher(e.root, store, ingestion.WatchOptions{
			Indexer: ingestion.NewIndexer(nil, e.chunker(), e.logger.Named("ingestion")),
			Logger:  e.logger,
			Metrics: m,
		})
		if err != nil {
			return err
		}
		grp.Go(func() error { return w.Run(serveCtx) })
	}
	if addr := e.cfg.Metrics.Addr; addr != "" {
		grp.Go(func() error { return m.Serve(serveCtx, addr, e.logger) })
	}
	grp.Go(func() error {
		// The client closing stdin ends the session and everything else.
		defer stop()
		return server.Run(serveCtx)
	})

	if err := grp.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		e.logger.Error("mcp server stopped", zap.Error(err))
		return err
	}
	return nil
}
