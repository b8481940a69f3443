package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/Benny93/repoctx/internal/chunk"
	"github.com/Benny93/repoctx/internal/graph"
	"github.com/Benny93/repoctx/internal/lexical"
)

// Options configures Open.
type Options struct {
	// ReadOnly opens an existing store without write access.
	ReadOnly bool

	// InMemory keeps all data in memory; the path is ignored.
	InMemory bool

	// Lexical holds the BM25 parameters used by Search.
	Lexical lexical.Params

	// Logger receives store and badger logs. Defaults to a no-op logger.
	Logger *zap.Logger
}

// OpenInfo describes what Open found on disk.
type OpenInfo struct {
	// Created is set when the store was empty and has been initialized.
	Created bool

	// Rebuilt is set when a schema mismatch wiped the store. The caller
	// must reindex from scratch.
	Rebuilt bool

	// FoundVersion is the schema version found on disk (0 when absent).
	FoundVersion int
}

// BadgerStore is a BadgerDB-backed Store.
//
// Each ApplyFile is one badger transaction, so readers see a file either
// entirely before or entirely after an update. Views are badger read
// transactions and therefore snapshots.
type BadgerStore struct {
	db      *badger.DB
	params  lexical.Params
	logger  *zap.Logger
	locks   *keyLocks
	rebuild sync.RWMutex
	closed  atomic.Bool
}

var _ Store = (*BadgerStore)(nil)

// Open opens or creates the store at path and checks its schema version.
//
// A missing version initializes the store. A different version logs a
// warning, drops all data and reports OpenInfo.Rebuilt; read-only opens
// cannot rebuild and fail with ErrSchemaMismatch instead.
func Open(path string, opts Options) (*BadgerStore, OpenInfo, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("storage")

	if opts.Lexical == (lexical.Params{}) {
		opts.Lexical = lexical.DefaultParams()
	}

	bopts := badger.DefaultOptions(path)
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	}
	bopts = bopts.
		WithNumCompactors(2).
		WithNumMemtables(5).
		WithLogger(badgerLogger{logger.Named("badger").Sugar()}).
		WithLoggingLevel(badger.WARNING).
		WithReadOnly(opts.ReadOnly)

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, OpenInfo{}, fmt.Errorf("opening badger DB: %w", err)
	}

	s := &BadgerStore{
		db:     db,
		params: opts.Lexical,
		logger: logger,
		locks:  newKeyLocks(),
	}

	info, err := s.checkSchema(opts.ReadOnly)
	if err != nil {
		_ = db.Close()
		return nil, info, err
	}
	if !opts.ReadOnly {
		if err := s.ensureCorpus(); err != nil {
			_ = db.Close()
			return nil, info, err
		}
	}
	return s, info, nil
}

// ensureCorpus writes the corpus totals for stores created before they
// were kept.
func (s *BadgerStore) ensureCorpus() error {
	err := s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(keyCorpus))
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		stats, err := scanCorpus(txn)
		if err != nil || stats.Docs == 0 {
			return err
		}
		return setJSON(txn, []byte(keyCorpus), stats)
	})
	if err != nil {
		return fmt.Errorf("initializing corpus totals: %w", err)
	}
	return nil
}

func (s *BadgerStore) checkSchema(readOnly bool) (OpenInfo, error) {
	version, found, err := s.readSchema()
	if err != nil {
		return OpenInfo{}, err
	}
	info := OpenInfo{FoundVersion: version}

	switch {
	case found && version == SchemaVersion:
		return info, nil

	case !found && !s.hasData():
		if readOnly {
			return info, fmt.Errorf("%w: store is not initialized", ErrSchemaMismatch)
		}
		info.Created = true
		return info, s.writeSchema()

	case readOnly:
		return info, fmt.Errorf("%w: found %d, want %d", ErrSchemaMismatch, version, SchemaVersion)
	}

	s.logger.Warn("schema version mismatch, rebuilding store",
		zap.Int("found", version),
		zap.Int("want", SchemaVersion))

	if err := s.db.DropAll(); err != nil {
		return info, fmt.Errorf("dropping store for rebuild: %w", err)
	}
	if err := s.writeSchema(); err != nil {
		return info, err
	}
	info.Rebuilt = true
	return info, nil
}

// readSchema returns the stored version. Data without a version key is
// treated as version 1.
func (s *BadgerStore) readSchema() (int, bool, error) {
	var version int
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keySchema))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			v, err := strconv.Atoi(string(val))
			if err != nil {
				return fmt.Errorf("invalid schema version %q", val)
			}
			version, found = v, true
			return nil
		})
	})
	if err != nil {
		return 0, false, fmt.Errorf("reading schema version: %w", err)
	}
	if !found && s.hasData() {
		version = 1
	}
	return version, found, nil
}

func (s *BadgerStore) writeSchema() error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keySchema), []byte(strconv.Itoa(SchemaVersion)))
	})
	if err != nil {
		return fmt.Errorf("writing schema version: %w", err)
	}
	return nil
}

func (s *BadgerStore) hasData() bool {
	has := false
	_ = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		it.Rewind()
		has = it.Valid()
		return nil
	})
	return has
}

// Close releases all resources held by the store.
func (s *BadgerStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

// update runs fn in a read-write transaction. Transactions that lose a
// conflict on the shared corpus totals are retried.
func (s *BadgerStore) update(fn func(txn *badger.Txn) error) error {
	for {
		if s.closed.Load() {
			return ErrClosed
		}
		err := s.db.Update(fn)
		switch {
		case errors.Is(err, badger.ErrConflict):
			continue
		case errors.Is(err, badger.ErrTxnTooBig):
			return fmt.Errorf("%w: %w", ErrUpdateTooLarge, err)
		}
		return err
	}
}

// ApplyFile atomically replaces everything owned by u.Path.
func (s *BadgerStore) ApplyFile(ctx context.Context, u FileUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	unlock := s.locks.Lock(prefixFile + u.Path)
	defer unlock()

	err := s.update(func(txn *badger.Txn) error {
		var rec FileRecord
		if _, err := getJSON(txn, fileKey(u.Path), &rec); err != nil {
			return err
		}
		if err := deleteSymbols(txn, rec.SymbolIDs); err != nil {
			return err
		}
		if err := deleteChunks(txn, rec.ChunkIDs); err != nil {
			return err
		}

		var err error
		rec = FileRecord{Path: u.Path, Language: u.Language, SHA: u.SHA, Status: u.Status}
		if rec.SymbolIDs, err = putGraph(txn, u.Symbols, u.Edges); err != nil {
			return err
		}
		if rec.ChunkIDs, err = putChunks(txn, u.Chunks); err != nil {
			return err
		}
		return setJSON(txn, fileKey(u.Path), rec)
	})
	if err != nil {
		return fmt.Errorf("applying %s: %w", u.Path, err)
	}
	return nil
}

// UpsertFile atomically replaces the symbols and edges owned by path and
// keeps its chunks.
func (s *BadgerStore) UpsertFile(ctx context.Context, path string, symbols []graph.Symbol, edges []graph.Edge) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	unlock := s.locks.Lock(prefixFile + path)
	defer unlock()

	err := s.update(func(txn *badger.Txn) error {
		rec := FileRecord{Path: path}
		if _, err := getJSON(txn, fileKey(path), &rec); err != nil {
			return err
		}
		if err := deleteSymbols(txn, rec.SymbolIDs); err != nil {
			return err
		}
		var err error
		if rec.SymbolIDs, err = putGraph(txn, symbols, edges); err != nil {
			return err
		}
		return setJSON(txn, fileKey(path), rec)
	})
	if err != nil {
		return fmt.Errorf("upserting %s: %w", path, err)
	}
	return nil
}

// IndexChunk replaces the chunk and all its postings and attaches it to
// its file.
func (s *BadgerStore) IndexChunk(ctx context.Context, c chunk.Chunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	unlock := s.locks.Lock(prefixFile + c.Path)
	defer unlock()

	err := s.update(func(txn *badger.Txn) error {
		rec := FileRecord{Path: c.Path, Language: c.Language}
		if _, err := getJSON(txn, fileKey(c.Path), &rec); err != nil {
			return err
		}
		if err := deleteChunks(txn, []string{c.ID}); err != nil {
			return err
		}
		if _, err := putChunks(txn, []chunk.Chunk{c}); err != nil {
			return err
		}
		if !slices.Contains(rec.ChunkIDs, c.ID) {
			rec.ChunkIDs = append(rec.ChunkIDs, c.ID)
		}
		return setJSON(txn, fileKey(c.Path), rec)
	})
	if err != nil {
		return fmt.Errorf("indexing chunk %s: %w", c.ID, err)
	}
	return nil
}

// RemoveChunk deletes a chunk and its postings.
func (s *BadgerStore) RemoveChunk(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var c chunk.Chunk
	found := false
	if err := s.db.View(func(txn *badger.Txn) error {
		var err error
		found, err = getJSON(txn, chunkKey(id), &c)
		return err
	}); err != nil || !found {
		return err
	}

	unlock := s.locks.Lock(prefixFile + c.Path)
	defer unlock()

	return s.update(func(txn *badger.Txn) error {
		var rec FileRecord
		found, err := getJSON(txn, fileKey(c.Path), &rec)
		if err != nil {
			return err
		}
		if err := deleteChunks(txn, []string{id}); err != nil {
			return err
		}
		if !found {
			return nil
		}
		rec.ChunkIDs = slices.DeleteFunc(rec.ChunkIDs, func(v string) bool { return v == id })
		return setJSON(txn, fileKey(c.Path), rec)
	})
}

// RemoveFile deletes everything owned by path.
func (s *BadgerStore) RemoveFile(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	unlock := s.locks.Lock(prefixFile + path)
	defer unlock()

	err := s.update(func(txn *badger.Txn) error {
		var rec FileRecord
		found, err := getJSON(txn, fileKey(path), &rec)
		if err != nil || !found {
			return err
		}
		if err := deleteSymbols(txn, rec.SymbolIDs); err != nil {
			return err
		}
		if err := deleteChunks(txn, rec.ChunkIDs); err != nil {
			return err
		}
		return txn.Delete(fileKey(path))
	})
	if err != nil {
		return fmt.Errorf("removing %s: %w", path, err)
	}
	return nil
}

// Reset deletes all data and rewrites the schema version.
func (s *BadgerStore) Reset(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.closed.Load() {
		return ErrClosed
	}
	if err := s.db.DropAll(); err != nil {
		return fmt.Errorf("dropping store: %w", err)
	}
	return s.writeSchema()
}

// WithRebuild runs fn while new snapshots wait for it to finish.
func (s *BadgerStore) WithRebuild(fn func() error) error {
	s.rebuild.Lock()
	defer s.rebuild.Unlock()
	return fn()
}

// Snapshot opens a read transaction. Views taken while WithRebuild runs
// wait until it returns.
func (s *BadgerStore) Snapshot() (View, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	s.rebuild.RLock()
	txn := s.db.NewTransaction(false)
	s.rebuild.RUnlock()
	return &badgerView{txn: txn, params: s.params}, nil
}

// Files returns every file record ordered by path.
func (s *BadgerStore) Files(ctx context.Context) ([]FileRecord, error) {
	v, err := s.Snapshot()
	if err != nil {
		return nil, err
	}
	defer v.Release()
	return v.Files()
}

// Search ranks chunks against query on a fresh snapshot.
func (s *BadgerStore) Search(ctx context.Context, query string, topK int) ([]lexical.Hit, error) {
	v, err := s.Snapshot()
	if err != nil {
		return nil, err
	}
	defer v.Release()
	return v.Search(ctx, query, topK)
}

// GetNeighbors walks the graph from id on a fresh snapshot.
func (s *BadgerStore) GetNeighbors(ctx context.Context, id string, kinds []graph.EdgeKind, maxDepth int) ([]graph.Neighbor, error) {
	v, err := s.Snapshot()
	if err != nil {
		return nil, err
	}
	defer v.Release()
	return GetNeighbors(ctx, v, id, kinds, maxDepth)
}

// ResolveName returns the IDs of symbols named name, ordered by (path, span).
func (s *BadgerStore) ResolveName(name string) ([]string, error) {
	v, err := s.Snapshot()
	if err != nil {
		return nil, err
	}
	defer v.Release()
	return v.Resolve(name)
}

// Stats counts the store contents.
func (s *BadgerStore) Stats(ctx context.Context) (Stats, error) {
	if s.closed.Load() {
		return Stats{}, ErrClosed
	}
	st := Stats{SchemaVersion: SchemaVersion}
	err := s.db.View(func(txn *badger.Txn) error {
		st.Files = len(keysWithPrefix(txn, []byte(prefixFile)))
		st.Symbols = len(keysWithPrefix(txn, []byte(prefixSymbol)))
		st.Chunks = len(keysWithPrefix(txn, []byte(prefixChunk)))

		last := ""
		for _, k := range keysWithPrefix(txn, []byte(prefixPosting)) {
			if term := postingTerm(k); term != last {
				st.Terms++
				last = term
			}
		}

		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixEdges)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var edges []graph.Edge
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &edges)
			}); err != nil {
				return err
			}
			for _, e := range edges {
				st.Edges++
				if e.Resolved() {
					st.ResolvedEdges++
				} else {
					st.UnresolvedEdges++
				}
			}
		}
		return nil
	})
	if err != nil {
		return Stats{}, fmt.Errorf("collecting stats: %w", err)
	}
	return st, nil
}

func putGraph(txn *badger.Txn, symbols []graph.Symbol, edges []graph.Edge) ([]string, error) {
	ids := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		if err := setJSON(txn, symbolKey(sym.ID), sym); err != nil {
			return nil, err
		}
		if err := txn.Set(nameKey(sym.Name, sym.ID), nil); err != nil {
			return nil, err
		}
		ids = append(ids, sym.ID)
	}

	owned := ownedEdges(symbols, edges)
	froms := make([]string, 0, len(owned))
	for from := range owned {
		froms = append(froms, from)
	}
	sort.Strings(froms)
	for _, from := range froms {
		if err := setJSON(txn, edgesKey(from), owned[from]); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

func deleteSymbols(txn *badger.Txn, ids []string) error {
	for _, id := range ids {
		var sym graph.Symbol
		found, err := getJSON(txn, symbolKey(id), &sym)
		if err != nil {
			return err
		}
		if found {
			if err := txn.Delete(nameKey(sym.Name, id)); err != nil {
				return err
			}
		}
		if err := txn.Delete(symbolKey(id)); err != nil {
			return err
		}
		if err := txn.Delete(edgesKey(id)); err != nil {
			return err
		}
	}
	return nil
}

func putChunks(txn *badger.Txn, chunks []chunk.Chunk) ([]string, error) {
	ids := make([]string, 0, len(chunks))
	var delta lexical.CorpusStats
	for _, c := range chunks {
		var old lexical.Doc
		found, err := getJSON(txn, docKey(c.ID), &old)
		if err != nil {
			return nil, err
		}
		if found {
			delta.Docs--
			delta.TotalLen -= old.Len
		}
		delta.Docs++
		delta.TotalLen += c.TokenCount

		if err := setJSON(txn, chunkKey(c.ID), c); err != nil {
			return nil, err
		}
		doc := lexical.Doc{ChunkID: c.ID, Path: c.Path, StartLine: c.StartLine, Len: c.TokenCount}
		if err := setJSON(txn, docKey(c.ID), doc); err != nil {
			return nil, err
		}

		freq := lexical.Frequencies(c.Content)
		terms := make([]string, 0, len(freq))
		for term := range freq {
			terms = append(terms, term)
		}
		sort.Strings(terms)
		for _, term := range terms {
			if err := txn.Set(postingKey(term, c.ID), encodeTF(freq[term])); err != nil {
				return nil, err
			}
		}
		if err := setJSON(txn, termsKey(c.ID), terms); err != nil {
			return nil, err
		}
		ids = append(ids, c.ID)
	}
	return ids, adjustCorpus(txn, delta)
}

func deleteChunks(txn *badger.Txn, ids []string) error {
	var delta lexical.CorpusStats
	for _, id := range ids {
		var doc lexical.Doc
		found, err := getJSON(txn, docKey(id), &doc)
		if err != nil {
			return err
		}
		if found {
			delta.Docs--
			delta.TotalLen -= doc.Len
		}

		var terms []string
		if _, err := getJSON(txn, termsKey(id), &terms); err != nil {
			return err
		}
		for _, term := range terms {
			if err := txn.Delete(postingKey(term, id)); err != nil {
				return err
			}
		}
		for _, key := range [][]byte{termsKey(id), docKey(id), chunkKey(id)} {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
	}
	return adjustCorpus(txn, delta)
}

// adjustCorpus adds delta to the corpus totals in the same transaction as
// the documents it accounts for.
func adjustCorpus(txn *badger.Txn, delta lexical.CorpusStats) error {
	if delta == (lexical.CorpusStats{}) {
		return nil
	}
	var cur lexical.CorpusStats
	if _, err := getJSON(txn, []byte(keyCorpus), &cur); err != nil {
		return err
	}
	cur.Docs += delta.Docs
	cur.TotalLen += delta.TotalLen
	return setJSON(txn, []byte(keyCorpus), cur)
}

// scanCorpus recomputes the corpus totals from the document table.
func scanCorpus(txn *badger.Txn) (lexical.CorpusStats, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefixDoc)
	it := txn.NewIterator(opts)
	defer it.Close()

	var stats lexical.CorpusStats
	for it.Rewind(); it.Valid(); it.Next() {
		var d lexical.Doc
		if err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &d)
		}); err != nil {
			return stats, fmt.Errorf("decoding document: %w", err)
		}
		stats.Docs++
		stats.TotalLen += d.Len
	}
	return stats, nil
}

// badgerLogger routes badger's logs through zap.
type badgerLogger struct {
	s *zap.SugaredLogger
}

func (l badgerLogger) Errorf(f string, args ...any)   { l.s.Errorf(f, args...) }
func (l badgerLogger) Warningf(f string, args ...any) { l.s.Warnf(f, args...) }
func (l badgerLogger) Infof(f string, args ...any)    { l.s.Infof(f, args...) }
func (l badgerLogger) Debugf(f string, args ...any)   { l.s.Debugf(f, args...) }
