package embedder

import (
	"context"
	"hash/fnv"
	"math"

	"github.com/tessera-kb/tessera/pkg/token"
)

// BagOfWordsEmbedder maps texts to deterministic token-bag vectors:
// each lowercased token hashes to one dimension. Cosine similarity
// between such vectors is token overlap over the geometric mean of
// token counts, which makes retrieval behavior exactly predictable.
// Used for local mode without a model provider and for tests.
type BagOfWordsEmbedder struct {
	dimension int
}

func NewBagOfWords(dimension int) *BagOfWordsEmbedder {
	if dimension <= 0 {
		dimension = 512
	}
	return &BagOfWordsEmbedder{dimension: dimension}
}

func (e *BagOfWordsEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = e.vector(text)
	}
	return out, nil
}

func (e *BagOfWordsEmbedder) vector(text string) []float32 {
	v := make([]float32, e.dimension)
	for _, tok := range token.Words(text) {
		h := fnv.New32a()
		h.Write([]byte(tok))
		v[h.Sum32()%uint32(e.dimension)]++
	}

	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range v {
			v[i] *= scale
		}
	}
	return v
}

func (e *BagOfWordsEmbedder) Dimension() int   { return e.dimension }
func (e *BagOfWordsEmbedder) Provider() string { return "mock" }
func (e *BagOfWordsEmbedder) Model() string    { return "bag-of-words" }
