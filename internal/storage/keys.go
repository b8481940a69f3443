package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

// Key prefixes for different data types
const (
	keySchema     = "meta:schema" // schema version
	keyCorpus     = "meta:corpus" // running document count and total length
	prefixSymbol  = "s:"          // symbol ID -> symbol
	prefixFile    = "f:"          // path -> file record
	prefixEdges   = "e:"          // source symbol ID -> outgoing edges
	prefixName    = "n:"          // name \x00 symbol ID -> nothing
	prefixChunk   = "c:"          // chunk ID -> chunk
	prefixPosting = "t:"          // term \x00 chunk ID -> term frequency
	prefixTerms   = "ct:"         // chunk ID -> distinct terms
	prefixDoc     = "dl:"         // chunk ID -> scoring metadata
)

const sep = "\x00"

func symbolKey(id string) []byte    { return []byte(prefixSymbol + id) }
func fileKey(path string) []byte    { return []byte(prefixFile + path) }
func edgesKey(from string) []byte   { return []byte(prefixEdges + from) }
func chunkKey(id string) []byte     { return []byte(prefixChunk + id) }
func termsKey(id string) []byte     { return []byte(prefixTerms + id) }
func docKey(id string) []byte       { return []byte(prefixDoc + id) }
func namePrefix(name string) []byte { return []byte(prefixName + name + sep) }
func termPrefix(term string) []byte { return []byte(prefixPosting + term + sep) }

func nameKey(name, id string) []byte {
	return []byte(prefixName + name + sep + id)
}

func postingKey(term, chunkID string) []byte {
	return []byte(prefixPosting + term + sep + chunkID)
}

// splitSuffix returns the part of key after the last separator.
func splitSuffix(key []byte) string {
	if i := bytes.LastIndex(key, []byte(sep)); i >= 0 {
		return string(key[i+1:])
	}
	return ""
}

// postingTerm returns the term of a posting key.
func postingTerm(key []byte) string {
	k := strings.TrimPrefix(string(key), prefixPosting)
	if i := strings.Index(k, sep); i >= 0 {
		return k[:i]
	}
	return k
}

func encodeTF(tf int) []byte {
	return binary.AppendUvarint(nil, uint64(tf))
}

func decodeTF(b []byte) (int, error) {
	v, n := binary.Uvarint(b)
	if n <= 0 {
		return 0, fmt.Errorf("invalid term frequency encoding")
	}
	return int(v), nil
}

func getJSON(txn *badger.Txn, key []byte, v any) (bool, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading %q: %w", key, err)
	}
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	}); err != nil {
		return false, fmt.Errorf("decoding %q: %w", key, err)
	}
	return true, nil
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %q: %w", key, err)
	}
	if err := txn.Set(key, data); err != nil {
		return fmt.Errorf("setting %q: %w", key, err)
	}
	return nil
}

// keysWithPrefix collects every key under prefix without reading values.
func keysWithPrefix(txn *badger.Txn, prefix []byte) [][]byte {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	var keys [][]byte
	for it.Rewind(); it.Valid(); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	return keys
}
