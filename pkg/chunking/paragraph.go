package chunking

import (
	"strings"

	"github.com/tessera-kb/tessera/pkg/operator"
)

// ParagraphParams configures the paragraph chunker.
type ParagraphParams struct {
	Separator string `mapstructure:"separator"`
	MaxChars  int    `mapstructure:"max_chars"`
}

func (p *ParagraphParams) setDefaults() {
	if p.Separator == "" {
		p.Separator = "\n\n"
	}
	if p.MaxChars <= 0 {
		p.MaxChars = 1000
	}
}

// ParagraphChunker splits on a separator and greedily recombines
// consecutive paragraphs to stay under max_chars.
type ParagraphChunker struct {
	params ParagraphParams
}

func newParagraph(params map[string]any) (any, error) {
	var p ParagraphParams
	if err := operator.DecodeParams(params, &p); err != nil {
		return nil, err
	}
	p.setDefaults()
	return &ParagraphChunker{params: p}, nil
}

func (c *ParagraphChunker) Chunk(text string, _ DocumentInfo) ([]Piece, error) {
	var pieces []Piece
	var current strings.Builder

	flush := func() {
		if current.Len() == 0 {
			return
		}
		pieces = append(pieces, Piece{Text: current.String()})
		current.Reset()
	}

	for _, para := range strings.Split(text, c.params.Separator) {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if len(para) > c.params.MaxChars {
			flush()
			for _, part := range hardSplit(para, c.params.MaxChars) {
				pieces = append(pieces, Piece{Text: part})
			}
			continue
		}
		if current.Len() > 0 && current.Len()+len(c.params.Separator)+len(para) > c.params.MaxChars {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString(c.params.Separator)
		}
		current.WriteString(para)
	}
	flush()

	return finalize(pieces), nil
}
