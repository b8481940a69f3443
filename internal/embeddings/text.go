package embeddings

import (
	"strings"

	"github.com/Benny93/repoctx/internal/chunk"
)

// maxTextRunes bounds how much of a chunk is embedded.
const maxTextRunes = 2000

// ChunkText returns the text a scorer sees for a chunk: its path segments
// followed by the start of its content.
func ChunkText(c chunk.Chunk) string {
	content := c.Content
	if r := []rune(content); len(r) > maxTextRunes {
		content = string(r[:maxTextRunes])
	}

	var b strings.Builder
	b.Grow(len(c.Path) + len(content) + 1)
	b.WriteString(strings.NewReplacer("/", " ", ".", " ").Replace(c.Path))
	b.WriteByte('\n')
	b.WriteString(content)
	return b.String()
}
