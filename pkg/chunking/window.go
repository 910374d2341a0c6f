package chunking

import (
	"github.com/tessera-kb/tessera/pkg/operator"
	"github.com/tessera-kb/tessera/pkg/types"
)

// SlidingWindowParams configures the fixed-size window chunker.
type SlidingWindowParams struct {
	WindowChars  int `mapstructure:"window_chars"`
	OverlapChars int `mapstructure:"overlap_chars"`
}

func (p *SlidingWindowParams) setDefaults() {
	if p.WindowChars <= 0 {
		p.WindowChars = 800
	}
	if p.OverlapChars < 0 {
		p.OverlapChars = 0
	}
}

func (p *SlidingWindowParams) validate() error {
	if p.OverlapChars >= p.WindowChars {
		return types.NewError(types.ErrValidation,
			"overlap_chars (%d) must be less than window_chars (%d)", p.OverlapChars, p.WindowChars)
	}
	return nil
}

// SlidingWindowChunker emits fixed-character windows with a fixed
// overlap between consecutive windows.
type SlidingWindowChunker struct {
	params SlidingWindowParams
}

func newSlidingWindow(params map[string]any) (any, error) {
	var p SlidingWindowParams
	if err := operator.DecodeParams(params, &p); err != nil {
		return nil, err
	}
	p.setDefaults()
	if err := p.validate(); err != nil {
		return nil, err
	}
	return &SlidingWindowChunker{params: p}, nil
}

func (c *SlidingWindowChunker) Chunk(text string, _ DocumentInfo) ([]Piece, error) {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil, nil
	}

	step := c.params.WindowChars - c.params.OverlapChars
	var pieces []Piece
	for start := 0; start < len(runes); start += step {
		end := start + c.params.WindowChars
		if end > len(runes) {
			end = len(runes)
		}
		pieces = append(pieces, Piece{Text: string(runes[start:end])})
		if end == len(runes) {
			break
		}
	}
	return finalize(pieces), nil
}
