package chunking

import (
	"fmt"
	"strings"

	"github.com/tessera-kb/tessera/pkg/operator"
	"github.com/tessera-kb/tessera/pkg/types"
)

// MarkdownParams configures the heading-aware chunker.
type MarkdownParams struct {
	// MaxHeadingLevel is the deepest heading level that starts a new
	// chunk (1 = only "#", 3 = "#" through "###").
	MaxHeadingLevel int `mapstructure:"max_heading_level"`
	MaxChars        int `mapstructure:"max_chars"`
}

func (p *MarkdownParams) setDefaults() {
	if p.MaxHeadingLevel <= 0 {
		p.MaxHeadingLevel = 3
	}
	if p.MaxChars <= 0 {
		p.MaxChars = 2000
	}
}

// MarkdownChunker splits at heading boundaries down to the configured
// level and attaches the heading path (h1..hN) to each chunk.
type MarkdownChunker struct {
	params MarkdownParams
}

func newMarkdown(params map[string]any) (any, error) {
	var p MarkdownParams
	if err := operator.DecodeParams(params, &p); err != nil {
		return nil, err
	}
	p.setDefaults()
	return &MarkdownChunker{params: p}, nil
}

func (c *MarkdownChunker) Chunk(text string, _ DocumentInfo) ([]Piece, error) {
	lines := strings.Split(text, "\n")

	// path[i] holds the active heading text for level i+1.
	path := make([]string, c.params.MaxHeadingLevel)
	var pieces []Piece
	var current strings.Builder
	currentPath := headingPath(path)
	inFence := false

	flush := func() {
		body := strings.TrimSpace(current.String())
		current.Reset()
		if body == "" {
			return
		}
		for _, part := range hardSplit(body, c.params.MaxChars) {
			pieces = append(pieces, Piece{
				Text:     part,
				Metadata: map[string]any{types.MetaHeadings: currentPath},
			})
		}
	}

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			inFence = !inFence
		}

		level := headingLevel(trimmed)
		if !inFence && level > 0 && level <= c.params.MaxHeadingLevel {
			flush()
			path[level-1] = strings.TrimSpace(trimmed[level:])
			for i := level; i < len(path); i++ {
				path[i] = ""
			}
			currentPath = headingPath(path)
			current.WriteString(line)
			current.WriteString("\n")
			continue
		}
		current.WriteString(line)
		current.WriteString("\n")
	}
	flush()

	return finalize(pieces), nil
}

// headingLevel returns the ATX heading level of a line, or 0.
func headingLevel(line string) int {
	level := 0
	for level < len(line) && line[level] == '#' {
		level++
	}
	if level == 0 || level > 6 || level >= len(line) || line[level] != ' ' {
		return 0
	}
	return level
}

// headingPath copies the active heading levels into a h1..hN map.
func headingPath(path []string) map[string]string {
	out := make(map[string]string)
	for i, h := range path {
		if h != "" {
			out[fmt.Sprintf("h%d", i+1)] = h
		}
	}
	return out
}
