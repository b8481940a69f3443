package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"

	"github.com/Benny93/repoctx/internal/export"
)

// ExportCmd writes the index as a versioned dump.
type ExportCmd struct {
	Out      string `short:"o" default:"-" help:"Output file, - for stdout"`
	Compress bool   `short:"z" help:"Compress with zstd"`
	Indent   bool   `help:"Indent JSON (ignored with --compress)"`
}

// Run executes the export command.
func (c *ExportCmd) Run(ctx context.Context, g *Globals) error {
	e, err := g.env()
	if err != nil {
		return err
	}
	store, _, err := e.openStore(true)
	if err != nil {
		return err
	}
	defer closeStore(store, e.logger)

	var (
		w io.Writer = e.out
		f *os.File
	)
	if c.Out != "-" {
		if f, err = os.Create(c.Out); err != nil {
			return fmt.Errorf("creating %s: %w", c.Out, err)
		}
		defer f.Close()
		w = f
	}

	d, err := export.Write(ctx, w, store, export.WriteOptions{Compress: c.Compress, Indent: c.Indent})
	if err != nil {
		return fmt.Errorf("exporting: %w", err)
	}
	if f != nil {
		if err := f.Close(); err != nil {
			return fmt.Errorf("writing %s: %w", c.Out, err)
		}
		if !e.quiet {
			color.New(color.FgGreen).Fprintf(e.out, "✓ Exported %d files, %d symbols, %d edges, %d chunks to %s\n",
				len(d.Files), len(d.Symbols), len(d.Edges), len(d.Chunks), c.Out)
		}
	}
	return nil
}

// ImportCmd replaces the index with a dump.
type ImportCmd struct {
	File string `arg:"" type:"existingfile" help:"Dump written by export (plain or zstd)"`
}

// Run executes the import command.
func (c *ImportCmd) Run(ctx context.Context, g *Globals) error {
	e, err := g.env()
	if err != nil {
		return err
	}

	f, err := os.Open(c.File)
	if err != nil {
		return fmt.Errorf("opening %s: %w", c.File, err)
	}
	defer f.Close()
	d, err := export.Read(f)
	if err != nil {
		return fmt.Errorf("reading %s: %w", c.File, err)
	}

	store, _, err := e.openStore(false)
	if err != nil {
		return err
	}
	defer closeStore(store, e.logger)

	err = store.WithRebuild(func() error {
		if err := store.Reset(ctx); err != nil {
			return err
		}
		return d.Apply(ctx, store)
	})
	if err != nil {
		return fmt.Errorf("importing: %w", err)
	}
	if !e.quiet {
		color.New(color.FgGreen).Fprintf(e.out, "✓ Imported %d files, %d symbols, %d chunks\n",
			len(d.Files), len(d.Symbols), len(d.Chunks))
	}
	return nil
}
