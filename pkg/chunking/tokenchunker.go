package chunking

import (
	"github.com/tessera-kb/tessera/pkg/operator"
	"github.com/tessera-kb/tessera/pkg/token"
	"github.com/tessera-kb/tessera/pkg/types"
)

// TokenParams configures the token-window chunker.
type TokenParams struct {
	ChunkTokens   int    `mapstructure:"chunk_tokens"`
	OverlapTokens int    `mapstructure:"overlap_tokens"`
	Encoding      string `mapstructure:"encoding"`
}

func (p *TokenParams) setDefaults() {
	if p.ChunkTokens <= 0 {
		p.ChunkTokens = 256
	}
	if p.OverlapTokens < 0 {
		p.OverlapTokens = 0
	}
}

func (p *TokenParams) validate() error {
	if p.OverlapTokens >= p.ChunkTokens {
		return types.NewError(types.ErrValidation,
			"overlap_tokens (%d) must be less than chunk_tokens (%d)", p.OverlapTokens, p.ChunkTokens)
	}
	return nil
}

// TokenChunker emits fixed token-count windows with overlap, decoding
// each window back to text.
type TokenChunker struct {
	params TokenParams
	codec  token.Codec
}

func newToken(params map[string]any) (any, error) {
	var p TokenParams
	if err := operator.DecodeParams(params, &p); err != nil {
		return nil, err
	}
	p.setDefaults()
	if err := p.validate(); err != nil {
		return nil, err
	}

	codec, err := token.NewCodec(p.Encoding)
	if err != nil {
		codec = token.NewApproxCodec()
	}
	return &TokenChunker{params: p, codec: codec}, nil
}

// NewTokenChunkerWithCodec builds a token chunker on a caller-supplied
// codec. Used by tests and embedded setups.
func NewTokenChunkerWithCodec(p TokenParams, codec token.Codec) *TokenChunker {
	p.setDefaults()
	return &TokenChunker{params: p, codec: codec}
}

func (c *TokenChunker) Chunk(text string, _ DocumentInfo) ([]Piece, error) {
	tokens := c.codec.Encode(text)
	if len(tokens) == 0 {
		return nil, nil
	}

	step := c.params.ChunkTokens - c.params.OverlapTokens
	var pieces []Piece
	for start := 0; start < len(tokens); start += step {
		end := start + c.params.ChunkTokens
		if end > len(tokens) {
			end = len(tokens)
		}
		pieces = append(pieces, Piece{Text: c.codec.Decode(tokens[start:end])})
		if end == len(tokens) {
			break
		}
	}
	return finalize(pieces), nil
}
