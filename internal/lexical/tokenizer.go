// Package lexical implements the term-frequency side of retrieval: a
// code-aware tokenizer, BM25 scoring and deterministic ranking, plus an
// in-memory inverted index used by tests and ephemeral indexes.
package lexical

import (
	"strings"
	"unicode"
)

// MinTokenLen is the minimum token length in runes; shorter tokens are dropped.
const MinTokenLen = 2

// Tokenize splits text into index terms.
//
// Words are maximal runs of letters, digits and underscores. Each word is
// emitted lower-cased in whole form and, when it has inner boundaries, as its
// parts split on underscores, lower-to-upper case changes, acronym ends
// ("HTTPServer" -> "http", "server") and letter/digit changes. Tokens shorter
// than MinTokenLen are dropped. The output keeps duplicates so callers can
// count term frequency.
func Tokenize(text string) []string {
	var out []string
	for _, word := range strings.FieldsFunc(text, isBoundary) {
		whole := strings.ToLower(word)
		parts := splitIdentifier(word)

		if len(parts) != 1 || parts[0] != whole {
			out = appendToken(out, whole)
		}
		for _, p := range parts {
			out = appendToken(out, p)
		}
	}
	return out
}

// Terms returns the distinct tokens of text in first-seen order.
func Terms(text string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range Tokenize(text) {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

// Frequencies counts the tokens of text.
func Frequencies(text string) map[string]int {
	freq := make(map[string]int)
	for _, t := range Tokenize(text) {
		freq[t]++
	}
	return freq
}

func isBoundary(r rune) bool {
	return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_')
}

func appendToken(out []string, tok string) []string {
	if len([]rune(tok)) < MinTokenLen {
		return out
	}
	return append(out, tok)
}

// splitIdentifier splits one word on identifier boundaries, lower-cased.
func splitIdentifier(word string) []string {
	var parts []string
	var cur []rune

	flush := func() {
		if len(cur) > 0 {
			parts = append(parts, strings.ToLower(string(cur)))
			cur = cur[:0]
		}
	}

	runes := []rune(word)
	for i, r := range runes {
		if r == '_' {
			flush()
			continue
		}
		if len(cur) > 0 {
			prev := cur[len(cur)-1]
			switch {
			case unicode.IsLower(prev) && unicode.IsUpper(r):
				flush()
			case unicode.IsUpper(prev) && unicode.IsUpper(r) && i+1 < len(runes) && unicode.IsLower(runes[i+1]):
				flush()
			case unicode.IsDigit(prev) != unicode.IsDigit(r):
				flush()
			}
		}
		cur = append(cur, r)
	}
	flush()
	return parts
}
