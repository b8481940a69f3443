// Package chunk defines the content-addressed unit of retrieval and budgeting.
//
// A Chunk is an immutable span of a file's text. Its ID hashes path, line span
// and content together, so identical content at two locations yields two
// distinct chunks and retrieval stays path-aware.
package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"unicode/utf8"
)

// Chunk is a normalized span of file content.
type Chunk struct {
	// ID is the stable content-addressed identifier.
	ID string `json:"id"`

	// Path is the repository-relative file path (forward slashes).
	Path string `json:"path"`

	// Language is the detected language tag of the owning file.
	Language string `json:"language,omitempty"`

	// StartLine is the first line of the span (1-based, inclusive).
	StartLine int `json:"start_line"`

	// EndLine is the last line of the span (1-based, inclusive).
	EndLine int `json:"end_line"`

	// TokenCount is the estimated token cost of Content.
	TokenCount int `json:"token_count"`

	// Content is the raw text of the span.
	Content string `json:"content"`
}

// NewID returns the content-addressed ID for a span.
func NewID(path string, startLine, endLine int, content string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s:%d-%d:", path, startLine, endLine)
	h.Write([]byte(content))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// New builds a chunk, deriving its ID and token count.
func New(path, language string, startLine, endLine int, content string) Chunk {
	return Chunk{
		ID:         NewID(path, startLine, endLine, content),
		Path:       path,
		Language:   language,
		StartLine:  startLine,
		EndLine:    endLine,
		TokenCount: EstimateTokens(content),
		Content:    content,
	}
}

// EstimateTokens approximates the token cost of text as runes/4.
// Non-empty text costs at least one token.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	n := utf8.RuneCountInString(text) / 4
	if n < 1 {
		return 1
	}
	return n
}

// Contains reports whether line falls inside the chunk span.
func (c Chunk) Contains(line int) bool {
	return line >= c.StartLine && line <= c.EndLine
}

// Less orders chunks by (path, start line, id).
func Less(a, b Chunk) bool {
	if a.Path != b.Path {
		return a.Path < b.Path
	}
	if a.StartLine != b.StartLine {
		return a.StartLine < b.StartLine
	}
	return a.ID < b.ID
}

// Sort orders chunks in place by (path, start line, id).
func Sort(chunks []Chunk) {
	sort.Slice(chunks, func(i, j int) bool { return Less(chunks[i], chunks[j]) })
}

// Owner returns the chunk of a file that owns line, preferring the chunk whose
// span starts latest at or before line. Overlapping windows therefore resolve
// to the window that begins closest to the symbol. Returns false when no chunk
// covers the line.
func Owner(chunks []Chunk, line int) (Chunk, bool) {
	var best Chunk
	found := false
	for _, c := range chunks {
		if !c.Contains(line) {
			continue
		}
		if !found || c.StartLine > best.StartLine || (c.StartLine == best.StartLine && c.ID < best.ID) {
			best = c
			found = true
		}
	}
	return best, found
}
