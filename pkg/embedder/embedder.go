// Package embedder provides the embedding provider clients. All
// embedders return fixed-dimension vectors; a response with the wrong
// dimension is a hard error because every index write depends on it.
package embedder

import (
	"context"

	"github.com/tessera-kb/tessera/pkg/config"
	"github.com/tessera-kb/tessera/pkg/types"
)

// Embedder turns texts into dense vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	Provider() string
	Model() string
}

// New builds the embedder a provider config names.
func New(cfg *config.ProviderConfig) (Embedder, error) {
	if cfg == nil {
		return nil, types.NewError(types.ErrKBConfigError, "no embedding provider configured")
	}
	switch cfg.Type {
	case "openai":
		return NewOpenAI(cfg), nil
	case "ollama":
		return NewOllama(cfg), nil
	case "mock":
		return NewBagOfWords(cfg.Dimension), nil
	default:
		return nil, types.NewError(types.ErrKBConfigError, "unknown embedding provider type %q", cfg.Type)
	}
}

// checkDimension validates every returned vector against the expected
// dimension.
func checkDimension(vectors [][]float32, want int) error {
	if want <= 0 {
		return nil
	}
	for i, v := range vectors {
		if len(v) != want {
			return types.NewError(types.ErrEmbeddingDimMismatch,
				"embedding %d has dimension %d, expected %d", i, len(v), want)
		}
	}
	return nil
}
