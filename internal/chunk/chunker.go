package chunk

import (
	"strings"
)

// LineChunker splits file content into line windows sized by estimated tokens.
type LineChunker struct {
	// MaxTokens is the target size of a window.
	MaxTokens int

	// OverlapTokens is the amount of trailing context repeated in the next window.
	OverlapTokens int
}

// NewLineChunker creates a chunker with the given window and overlap sizes.
func NewLineChunker(maxTokens, overlapTokens int) *LineChunker {
	if maxTokens <= 0 {
		maxTokens = 400
	}
	if overlapTokens < 0 || overlapTokens >= maxTokens {
		overlapTokens = 0
	}
	return &LineChunker{MaxTokens: maxTokens, OverlapTokens: overlapTokens}
}

// Chunk splits content into chunks. Whitespace-only windows are skipped and
// empty content produces no chunks.
func (lc *LineChunker) Chunk(path, language, content string) []Chunk {
	lines := splitLines(content)
	if len(lines) == 0 {
		return nil
	}

	total := EstimateTokens(content)
	perLine := max(total/len(lines), 1)
	target := max(lc.MaxTokens/perLine, 1)
	overlap := lc.OverlapTokens / perLine

	var chunks []Chunk
	start := 0
	for start < len(lines) {
		end := min(start+target, len(lines))

		// Prefer ending the window on a blank line in its last fifth.
		if end < len(lines) {
			searchFrom := min(start+target*4/5, end)
			searchTo := min(end+10, len(lines))
			if b, ok := findBoundary(lines, searchFrom, searchTo); ok && b > start {
				end = b
			}
		}

		text := strings.Join(lines[start:end], "")
		if strings.TrimSpace(text) != "" {
			chunks = append(chunks, New(path, language, start+1, end, text))
		}

		next := end - overlap
		if next <= start {
			next = end
		}
		if end == len(lines) {
			break
		}
		start = next
	}
	return chunks
}

// findBoundary returns the index just past the first blank line in [from, to).
func findBoundary(lines []string, from, to int) (int, bool) {
	for i := from; i < to; i++ {
		if strings.TrimSpace(lines[i]) == "" {
			return i + 1, true
		}
	}
	return 0, false
}

// splitLines splits content keeping line terminators.
func splitLines(content string) []string {
	if content == "" {
		return nil
	}
	lines := strings.SplitAfter(content, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
