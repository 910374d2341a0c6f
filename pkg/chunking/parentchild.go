package chunking

import (
	"github.com/google/uuid"

	"github.com/tessera-kb/tessera/pkg/operator"
	"github.com/tessera-kb/tessera/pkg/types"
)

// ParentChildParams configures the two-level chunker.
type ParentChildParams struct {
	ParentChars int `mapstructure:"parent_chars"`
	ChildChars  int `mapstructure:"child_chars"`
	// WholeDoc makes the entire document a single parent.
	WholeDoc bool `mapstructure:"whole_doc"`
}

func (p *ParentChildParams) setDefaults() {
	if p.ParentChars <= 0 {
		p.ParentChars = 2000
	}
	if p.ChildChars <= 0 {
		p.ChildChars = 400
	}
}

func (p *ParentChildParams) validate() error {
	if p.ChildChars >= p.ParentChars {
		return types.NewError(types.ErrValidation,
			"child_chars (%d) must be less than parent_chars (%d)", p.ChildChars, p.ParentChars)
	}
	return nil
}

// ParentChildChunker emits parent chunks followed by the children split
// from each parent. Parents carry a stable chunk_id in metadata so
// children can reference them before any row exists; children carry
// child=true and parent_id.
type ParentChildChunker struct {
	params   ParentChildParams
	parents  *RecursiveChunker
	children *RecursiveChunker
}

func newParentChild(params map[string]any) (any, error) {
	var p ParentChildParams
	if err := operator.DecodeParams(params, &p); err != nil {
		return nil, err
	}
	p.setDefaults()
	if err := p.validate(); err != nil {
		return nil, err
	}
	return &ParentChildChunker{
		params:   p,
		parents:  &RecursiveChunker{params: RecursiveParams{ChunkSize: p.ParentChars, Separators: []string{"\n\n", "\n", ". "}}},
		children: &RecursiveChunker{params: RecursiveParams{ChunkSize: p.ChildChars, Separators: []string{"\n\n", "\n", ". ", " "}}},
	}, nil
}

func (c *ParentChildChunker) Chunk(text string, doc DocumentInfo) ([]Piece, error) {
	var parentPieces []Piece
	if c.params.WholeDoc {
		parentPieces = []Piece{{Text: text}}
	} else {
		var err error
		parentPieces, err = c.parents.Chunk(text, doc)
		if err != nil {
			return nil, err
		}
	}

	var pieces []Piece
	for _, parent := range parentPieces {
		parentID := uuid.NewString()
		pieces = append(pieces, Piece{
			Text: parent.Text,
			Metadata: map[string]any{
				types.MetaChild:   false,
				types.MetaChunkID: parentID,
			},
		})

		childPieces, err := c.children.Chunk(parent.Text, doc)
		if err != nil {
			return nil, err
		}
		for _, child := range childPieces {
			pieces = append(pieces, Piece{
				Text: child.Text,
				Metadata: map[string]any{
					types.MetaChild:    true,
					types.MetaParentID: parentID,
				},
			})
		}
	}
	return finalize(pieces), nil
}
