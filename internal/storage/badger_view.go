package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/dgraph-io/badger/v4"

	"github.com/Benny93/repoctx/internal/chunk"
	"github.com/Benny93/repoctx/internal/graph"
	"github.com/Benny93/repoctx/internal/lexical"
)

// badgerView is a View over one badger read transaction.
type badgerView struct {
	txn    *badger.Txn
	params lexical.Params
}

func (v *badgerView) Release() {
	v.txn.Discard()
}

func (v *badgerView) Symbol(id string) (graph.Symbol, bool, error) {
	var sym graph.Symbol
	found, err := getJSON(v.txn, symbolKey(id), &sym)
	return sym, found, err
}

func (v *badgerView) Outgoing(id string) ([]graph.Edge, error) {
	var edges []graph.Edge
	_, err := getJSON(v.txn, edgesKey(id), &edges)
	return edges, err
}

// Resolve returns the IDs of symbols named name, ordered by (path, span).
func (v *badgerView) Resolve(name string) ([]string, error) {
	keys := keysWithPrefix(v.txn, namePrefix(name))
	if len(keys) == 0 {
		return nil, nil
	}
	syms := make([]graph.Symbol, 0, len(keys))
	for _, k := range keys {
		sym, ok, err := v.Symbol(splitSuffix(k))
		if err != nil {
			return nil, err
		}
		if ok {
			syms = append(syms, sym)
		}
	}
	sort.Slice(syms, func(i, j int) bool { return graph.LessSymbol(syms[i], syms[j]) })

	ids := make([]string, len(syms))
	for i, s := range syms {
		ids[i] = s.ID
	}
	return ids, nil
}

func (v *badgerView) Chunk(id string) (chunk.Chunk, bool, error) {
	var c chunk.Chunk
	found, err := getJSON(v.txn, chunkKey(id), &c)
	return c, found, err
}

func (v *badgerView) file(path string) (FileRecord, bool, error) {
	var rec FileRecord
	found, err := getJSON(v.txn, fileKey(path), &rec)
	return rec, found, err
}

func (v *badgerView) ChunksByPath(path string) ([]chunk.Chunk, error) {
	rec, found, err := v.file(path)
	if err != nil || !found {
		return nil, err
	}
	out := make([]chunk.Chunk, 0, len(rec.ChunkIDs))
	for _, id := range rec.ChunkIDs {
		c, ok, err := v.Chunk(id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, c)
		}
	}
	chunk.Sort(out)
	return out, nil
}

func (v *badgerView) SymbolsByPath(path string) ([]graph.Symbol, error) {
	rec, found, err := v.file(path)
	if err != nil || !found {
		return nil, err
	}
	out := make([]graph.Symbol, 0, len(rec.SymbolIDs))
	for _, id := range rec.SymbolIDs {
		sym, ok, err := v.Symbol(id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, sym)
		}
	}
	sort.Slice(out, func(i, j int) bool { return graph.LessSymbol(out[i], out[j]) })
	return out, nil
}

func (v *badgerView) Files() ([]FileRecord, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefixFile)
	it := v.txn.NewIterator(opts)
	defer it.Close()

	var out []FileRecord
	for it.Rewind(); it.Valid(); it.Next() {
		var rec FileRecord
		if err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		}); err != nil {
			return nil, fmt.Errorf("decoding file record: %w", err)
		}
		out = append(out, rec)
	}
	// Keys are "f:<path>", so iteration order is path order.
	return out, nil
}

// Search scores query against the postings with BM25. Only the document
// records of matched chunks are read.
func (v *badgerView) Search(ctx context.Context, query string, topK int) ([]lexical.Hit, error) {
	terms := lexical.Terms(query)
	if len(terms) == 0 {
		return nil, nil
	}

	stats, err := v.corpus()
	if err != nil {
		return nil, err
	}
	if stats.Docs == 0 {
		return nil, nil
	}

	acc := lexical.NewAccumulator(v.params, stats)
	var lookupErr error
	lookup := func(id string) (lexical.Doc, bool) {
		var d lexical.Doc
		found, err := getJSON(v.txn, docKey(id), &d)
		if err != nil && lookupErr == nil {
			lookupErr = err
		}
		return d, found
	}

	for _, term := range terms {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		postings, err := v.postings(term)
		if err != nil {
			return nil, err
		}
		if len(postings) > 0 {
			acc.AddTerm(postings, lookup)
		}
		if lookupErr != nil {
			return nil, lookupErr
		}
	}
	return acc.Hits(topK), nil
}

// corpus returns the stored corpus totals. Stores opened read-only before
// the totals were kept fall back to a scan of the document table.
func (v *badgerView) corpus() (lexical.CorpusStats, error) {
	var stats lexical.CorpusStats
	found, err := getJSON(v.txn, []byte(keyCorpus), &stats)
	if err != nil || found {
		return stats, err
	}
	return scanCorpus(v.txn)
}

func (v *badgerView) postings(term string) (map[string]int, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = termPrefix(term)
	it := v.txn.NewIterator(opts)
	defer it.Close()

	postings := make(map[string]int)
	for it.Rewind(); it.Valid(); it.Next() {
		item := it.Item()
		var tf int
		if err := item.Value(func(val []byte) error {
			var err error
			tf, err = decodeTF(val)
			return err
		}); err != nil {
			return nil, fmt.Errorf("decoding posting: %w", err)
		}
		postings[splitSuffix(item.Key())] = tf
	}
	return postings, nil
}
