// Package render formats context bundles for people and agents.
package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/Benny93/repoctx/internal/retrieval"
)

// Markdown writes bundle as a markdown document: a summary line, one
// section per chunk in bundle order and a list of dropped chunks.
func Markdown(w io.Writer, title string, b *retrieval.ContextBundle) error {
	var sb strings.Builder
	if title != "" {
		fmt.Fprintf(&sb, "# Context: %s\n\n", title)
	}
	fmt.Fprintf(&sb, "%d chunks, %d/%d tokens, %d dropped\n",
		len(b.Entries), b.UsedTokens, b.TokenBudget, b.DroppedCount)

	for _, e := range b.Entries {
		c := e.Chunk
		fmt.Fprintf(&sb, "\n## %s:%d-%d\n\n", c.Path, c.StartLine, c.EndLine)
		fmt.Fprintf(&sb, "_%s · %d tokens_\n\n", strings.Join(e.Tags, ", "), c.TokenCount)
		fence := fenceFor(c.Content)
		fmt.Fprintf(&sb, "%s%s\n%s", fence, c.Language, c.Content)
		if !strings.HasSuffix(c.Content, "\n") {
			sb.WriteByte('\n')
		}
		sb.WriteString(fence + "\n")
	}

	if len(b.Dropped) > 0 {
		sb.WriteString("\n## Dropped\n\n")
		for _, d := range b.Dropped {
			fmt.Fprintf(&sb, "- %s:%d-%d (%d tokens): %s\n", d.Path, d.StartLine, d.EndLine, d.TokenCount, d.Reason)
		}
	}

	_, err := io.WriteString(w, sb.String())
	return err
}

// fenceFor returns a backtick fence longer than any run inside content.
func fenceFor(content string) string {
	longest, run := 0, 0
	for _, r := range content {
		if r == '`' {
			run++
			longest = max(longest, run)
			continue
		}
		run = 0
	}
	return strings.Repeat("`", max(3, longest+1))
}
