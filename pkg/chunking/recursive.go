package chunking

import (
	"strings"

	"github.com/tessera-kb/tessera/pkg/operator"
	"github.com/tessera-kb/tessera/pkg/types"
)

// RecursiveParams configures the recursive splitter.
type RecursiveParams struct {
	ChunkSize  int      `mapstructure:"chunk_size"`
	Separators []string `mapstructure:"separators"`
}

func (p *RecursiveParams) setDefaults() {
	if p.ChunkSize <= 0 {
		p.ChunkSize = 800
	}
	if len(p.Separators) == 0 {
		p.Separators = []string{"\n\n", "\n", ". ", " "}
	}
}

// RecursiveChunker splits by an ordered separator list, falling back to
// finer separators until every piece fits chunk_size. The separator
// that produced a piece is recorded in its metadata.
type RecursiveChunker struct {
	params RecursiveParams
}

func newRecursive(params map[string]any) (any, error) {
	var p RecursiveParams
	if err := operator.DecodeParams(params, &p); err != nil {
		return nil, err
	}
	p.setDefaults()
	return &RecursiveChunker{params: p}, nil
}

func (c *RecursiveChunker) Chunk(text string, _ DocumentInfo) ([]Piece, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}

	var pieces []Piece
	for _, part := range c.split(text, 0) {
		pieces = append(pieces, Piece{
			Text:     part.text,
			Metadata: map[string]any{types.MetaSeparator: part.separator},
		})
	}
	return finalize(pieces), nil
}

type recursivePart struct {
	text      string
	separator string
}

// split recursively breaks text with separators[depth:], merging
// adjacent fragments back together while they fit chunk_size.
func (c *RecursiveChunker) split(text string, depth int) []recursivePart {
	if len(text) <= c.params.ChunkSize {
		sep := ""
		if depth > 0 {
			sep = c.params.Separators[depth-1]
		}
		return []recursivePart{{text: text, separator: sep}}
	}
	if depth >= len(c.params.Separators) {
		var out []recursivePart
		for _, part := range hardSplit(text, c.params.ChunkSize) {
			out = append(out, recursivePart{text: part})
		}
		return out
	}

	sep := c.params.Separators[depth]
	fragments := strings.Split(text, sep)
	if len(fragments) == 1 {
		return c.split(text, depth+1)
	}

	var out []recursivePart
	var current strings.Builder
	flush := func() {
		if current.Len() > 0 {
			out = append(out, recursivePart{text: current.String(), separator: sep})
			current.Reset()
		}
	}

	for _, frag := range fragments {
		if frag == "" {
			continue
		}
		if len(frag) > c.params.ChunkSize {
			flush()
			out = append(out, c.split(frag, depth+1)...)
			continue
		}
		if current.Len() > 0 && current.Len()+len(sep)+len(frag) > c.params.ChunkSize {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString(sep)
		}
		current.WriteString(frag)
	}
	flush()
	return out
}
