package chunking

import (
	"strings"
	"unicode"

	"github.com/tessera-kb/tessera/pkg/operator"
)

// SentenceParams configures the sentence chunker.
type SentenceParams struct {
	// TargetChars is the size a chunk grows toward before closing.
	TargetChars int `mapstructure:"target_chars"`
	// OverlapSentences repeats the last N sentences at the start of the
	// next chunk.
	OverlapSentences int `mapstructure:"overlap_sentences"`
}

func (p *SentenceParams) setDefaults() {
	if p.TargetChars <= 0 {
		p.TargetChars = 600
	}
	if p.OverlapSentences < 0 {
		p.OverlapSentences = 0
	}
}

// SentenceChunker accumulates whole sentences up to a target size.
type SentenceChunker struct {
	params SentenceParams
}

func newSentence(params map[string]any) (any, error) {
	var p SentenceParams
	if err := operator.DecodeParams(params, &p); err != nil {
		return nil, err
	}
	p.setDefaults()
	return &SentenceChunker{params: p}, nil
}

func (c *SentenceChunker) Chunk(text string, _ DocumentInfo) ([]Piece, error) {
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return nil, nil
	}

	var pieces []Piece
	var buf []string
	size := 0

	flush := func() {
		if len(buf) == 0 {
			return
		}
		pieces = append(pieces, Piece{Text: strings.Join(buf, " ")})
		if c.params.OverlapSentences > 0 && c.params.OverlapSentences < len(buf) {
			buf = append([]string(nil), buf[len(buf)-c.params.OverlapSentences:]...)
		} else {
			buf = nil
		}
		size = 0
		for _, s := range buf {
			size += len(s) + 1
		}
	}

	for _, sentence := range sentences {
		if size > 0 && size+len(sentence) > c.params.TargetChars {
			flush()
		}
		buf = append(buf, sentence)
		size += len(sentence) + 1
	}
	if len(buf) > 0 {
		pieces = append(pieces, Piece{Text: strings.Join(buf, " ")})
	}

	return finalize(pieces), nil
}

// splitSentences breaks text on terminal punctuation followed by
// whitespace. Abbreviation handling is deliberately minimal.
func splitSentences(text string) []string {
	var out []string
	var current strings.Builder

	runes := []rune(text)
	for i, r := range runes {
		current.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			if i+1 >= len(runes) || unicode.IsSpace(runes[i+1]) {
				s := strings.TrimSpace(current.String())
				if s != "" {
					out = append(out, s)
				}
				current.Reset()
			}
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		out = append(out, s)
	}
	return out
}
