package window

import (
	"strconv"
	"strings"
	"time"

	"github.com/hpungsan/logtrains/internal/entry"
)

// RenderBlock turns one entry into an assembler block. With includeHeader
// the body is prefixed by a "$ <command>  [<time>] (exit N)" line and the
// block is newline-terminated; without it the body is used verbatim. The
// header already states a failed exit, so the body's exit trailer is dropped.
func RenderBlock(m entry.Meta, body string, includeHeader bool) string {
	if !includeHeader {
		return body
	}
	if m.ExitCode != nil && *m.ExitCode != 0 {
		body = strings.TrimSuffix(body, entry.ExitTrailer(*m.ExitCode))
	}

	var b strings.Builder
	b.Grow(len(body) + 64)
	b.WriteString("$ ")
	if m.Command != nil {
		b.WriteString(*m.Command)
	} else {
		b.WriteString("<stdin>")
	}
	b.WriteString("  [")
	b.WriteString(m.CapturedAt.UTC().Format(time.RFC3339))
	b.WriteString("]")
	if m.ExitCode != nil {
		b.WriteString(" (exit ")
		b.WriteString(strconv.Itoa(*m.ExitCode))
		b.WriteString(")")
	}
	b.WriteByte('\n')
	b.WriteString(body)
	if body != "" && !strings.HasSuffix(body, "\n") {
		b.WriteByte('\n')
	}
	return b.String()
}

// RenderBlocks renders metas with their loaded bodies, preserving order.
func RenderBlocks(metas []entry.Meta, bodies []string, includeHeader bool) []string {
	blocks := make([]string, len(metas))
	for i, m := range metas {
		blocks[i] = RenderBlock(m, bodies[i], includeHeader)
	}
	return blocks
}
