// Package rerank scores query/passage pairs with a rerank model. The
// post-processing layer replaces retrieval scores with these.
package rerank

import (
	"context"

	"github.com/tessera-kb/tessera/pkg/config"
	"github.com/tessera-kb/tessera/pkg/llm"
	"github.com/tessera-kb/tessera/pkg/types"
)

// Reranker scores candidates against a query. The returned slice is
// index-aligned with candidates; higher is more relevant.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []string) ([]float32, error)
	Model() string
}

// New builds the reranker a config names. The "llm" type reranks by
// prompting the given completion provider.
func New(cfg *config.ProviderConfig, completions llm.Provider) (Reranker, error) {
	if cfg == nil {
		return nil, types.NewError(types.ErrKBConfigError, "no rerank provider configured")
	}
	switch cfg.Type {
	case "http":
		return NewHTTP(cfg), nil
	case "llm":
		if completions == nil {
			return nil, types.NewError(types.ErrKBConfigError, "llm reranker requires a completion provider")
		}
		return NewLLM(completions), nil
	default:
		return nil, types.NewError(types.ErrKBConfigError, "unknown rerank provider type %q", cfg.Type)
	}
}
