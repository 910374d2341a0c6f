// Package token wraps tokenization behind a small codec interface so
// chunkers and the context-window cap can count and split by tokens
// without caring which encoder is available.
package token

import (
	"log/slog"
	"strings"
	"sync"
	"unicode"

	"github.com/pkoukk/tiktoken-go"
)

// Codec encodes text to token ids and back.
type Codec interface {
	Encode(text string) []int
	Decode(tokens []int) string
	Count(text string) int
}

// DefaultEncoding is the encoding used by current OpenAI embedding and
// chat models.
const DefaultEncoding = "cl100k_base"

type tiktokenCodec struct {
	enc *tiktoken.Tiktoken
}

func (c *tiktokenCodec) Encode(text string) []int {
	return c.enc.Encode(text, nil, nil)
}

func (c *tiktokenCodec) Decode(tokens []int) string {
	return c.enc.Decode(tokens)
}

func (c *tiktokenCodec) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

// NewCodec returns a tiktoken-backed codec for the given encoding.
func NewCodec(encoding string) (Codec, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, err
	}
	return &tiktokenCodec{enc: enc}, nil
}

// approxCodec splits on whitespace. Token ids are indexes into an
// interned word table, so Decode reassembles the original words.
type approxCodec struct {
	mu    sync.Mutex
	words []string
	ids   map[string]int
}

// NewApproxCodec returns a whitespace-word codec used when the real
// encoder is unavailable (offline environments, tests).
func NewApproxCodec() Codec {
	return &approxCodec{ids: make(map[string]int)}
}

func (c *approxCodec) Encode(text string) []int {
	fields := strings.Fields(text)
	tokens := make([]int, 0, len(fields))

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, w := range fields {
		id, ok := c.ids[w]
		if !ok {
			id = len(c.words)
			c.words = append(c.words, w)
			c.ids[w] = id
		}
		tokens = append(tokens, id)
	}
	return tokens
}

func (c *approxCodec) Decode(tokens []int) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	parts := make([]string, 0, len(tokens))
	for _, id := range tokens {
		if id >= 0 && id < len(c.words) {
			parts = append(parts, c.words[id])
		}
	}
	return strings.Join(parts, " ")
}

func (c *approxCodec) Count(text string) int {
	return len(strings.Fields(text))
}

// Words lowercases text and splits on non-alphanumeric runes. The
// sparse store and the mock embedder share it so lexical and dense
// views agree on terms.
func Words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// Default returns the tiktoken codec when its encoding data is
// available and falls back to the approximate codec otherwise.
func Default() Codec {
	codec, err := NewCodec(DefaultEncoding)
	if err != nil {
		slog.Warn("tiktoken encoding unavailable, using approximate tokenizer", "error", err)
		return NewApproxCodec()
	}
	return codec
}
