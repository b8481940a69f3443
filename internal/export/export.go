// Package export writes and reads the codeintel dump: every file record,
// symbol, edge and chunk of an index in one versioned JSON document,
// optionally zstd-compressed.
package export

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/klauspost/compress/zstd"

	"github.com/Benny93/repoctx/internal/chunk"
	"github.com/Benny93/repoctx/internal/graph"
	"github.com/Benny93/repoctx/internal/storage"
)

// SchemaVersion is the dump format version. Readers refuse any other.
const SchemaVersion = 1

// ErrUnsupportedVersion is returned by Read for unknown schema versions.
var ErrUnsupportedVersion = errors.New("export: unsupported schema version")

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// Dump is the full content of an index.
type Dump struct {
	SchemaVersion      int                  `json:"schema_version"`
	StoreSchemaVersion int                  `json:"store_schema_version"`
	Files              []storage.FileRecord `json:"files"`
	Symbols            []graph.Symbol       `json:"symbols"`
	Edges              []graph.Edge         `json:"edges"`
	Chunks             []chunk.Chunk        `json:"chunks"`
}

// Source is anything a dump can be taken from.
type Source interface {
	Snapshot() (storage.View, error)
}

// WriteOptions configures Write.
type WriteOptions struct {
	// Compress wraps the JSON in a zstd frame.
	Compress bool

	// Indent pretty-prints the JSON.
	Indent bool
}

// Collect reads a dump from one snapshot of src. Records are ordered by
// path, then by position, so equal stores give equal dumps.
func Collect(ctx context.Context, src Source) (*Dump, error) {
	v, err := src.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("opening snapshot: %w", err)
	}
	defer v.Release()

	files, err := v.Files()
	if err != nil {
		return nil, fmt.Errorf("listing files: %w", err)
	}

	d := &Dump{
		SchemaVersion:      SchemaVersion,
		StoreSchemaVersion: storage.SchemaVersion,
		Files:              files,
		Symbols:            []graph.Symbol{},
		Edges:              []graph.Edge{},
		Chunks:             []chunk.Chunk{},
	}
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		syms, err := v.SymbolsByPath(f.Path)
		if err != nil {
			return nil, fmt.Errorf("loading symbols of %s: %w", f.Path, err)
		}
		for _, s := range syms {
			d.Symbols = append(d.Symbols, s)
			edges, err := v.Outgoing(s.ID)
			if err != nil {
				return nil, fmt.Errorf("loading edges of %s: %w", s.ID, err)
			}
			d.Edges = append(d.Edges, edges...)
		}
		chunks, err := v.ChunksByPath(f.Path)
		if err != nil {
			return nil, fmt.Errorf("loading chunks of %s: %w", f.Path, err)
		}
		d.Chunks = append(d.Chunks, chunks...)
	}
	return d, nil
}

// Write collects a dump from src and encodes it to w.
func Write(ctx context.Context, w io.Writer, src Source, opts WriteOptions) (*Dump, error) {
	d, err := Collect(ctx, src)
	if err != nil {
		return nil, err
	}
	if err := Encode(w, d, opts); err != nil {
		return nil, err
	}
	return d, nil
}

// Encode writes d to w.
func Encode(w io.Writer, d *Dump, opts WriteOptions) error {
	out := w
	var zw *zstd.Encoder
	if opts.Compress {
		var err error
		if zw, err = zstd.NewWriter(w); err != nil {
			return fmt.Errorf("creating zstd writer: %w", err)
		}
		out = zw
	}

	enc := json.NewEncoder(out)
	if opts.Indent {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(d); err != nil {
		if zw != nil {
			_ = zw.Close()
		}
		return fmt.Errorf("encoding dump: %w", err)
	}
	if zw != nil {
		if err := zw.Close(); err != nil {
			return fmt.Errorf("flushing zstd stream: %w", err)
		}
	}
	return nil
}

// Read decodes a dump, detecting zstd compression from the stream header.
// Dumps of any schema version other than SchemaVersion are refused with
// ErrUnsupportedVersion.
func Read(r io.Reader) (*Dump, error) {
	br := bufio.NewReader(r)
	var in io.Reader = br
	if head, err := br.Peek(len(zstdMagic)); err == nil && bytes.Equal(head, zstdMagic) {
		zr, err := zstd.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("creating zstd reader: %w", err)
		}
		defer zr.Close()
		in = zr
	}

	raw, err := io.ReadAll(in)
	if err != nil {
		return nil, fmt.Errorf("reading dump: %w", err)
	}

	var header struct {
		SchemaVersion *int `json:"schema_version"`
	}
	if err := json.Unmarshal(raw, &header); err != nil {
		return nil, fmt.Errorf("decoding dump header: %w", err)
	}
	if header.SchemaVersion == nil {
		return nil, fmt.Errorf("%w: missing schema_version", ErrUnsupportedVersion)
	}
	if *header.SchemaVersion != SchemaVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, *header.SchemaVersion)
	}

	var d Dump
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("decoding dump: %w", err)
	}
	return &d, nil
}

// Apply loads the dump into store, one file update per file record.
func (d *Dump) Apply(ctx context.Context, store storage.Store) error {
	owner := make(map[string]string, len(d.Symbols))
	byPath := make(map[string]*storage.FileUpdate, len(d.Files))
	for _, f := range d.Files {
		byPath[f.Path] = &storage.FileUpdate{Path: f.Path, Language: f.Language, SHA: f.SHA, Status: f.Status}
	}
	get := func(path string) *storage.FileUpdate {
		u, ok := byPath[path]
		if !ok {
			u = &storage.FileUpdate{Path: path}
			byPath[path] = u
		}
		return u
	}

	for _, s := range d.Symbols {
		owner[s.ID] = s.Path
		u := get(s.Path)
		u.Symbols = append(u.Symbols, s)
	}
	for _, e := range d.Edges {
		path, ok := owner[e.From]
		if !ok {
			return fmt.Errorf("edge from unknown symbol %s", e.From)
		}
		u := get(path)
		u.Edges = append(u.Edges, e)
	}
	for _, c := range d.Chunks {
		u := get(c.Path)
		u.Chunks = append(u.Chunks, c)
	}

	paths := make([]string, 0, len(byPath))
	for p := range byPath {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		if err := store.ApplyFile(ctx, *byPath[p]); err != nil {
			return fmt.Errorf("applying %s: %w", p, err)
		}
	}
	return nil
}
