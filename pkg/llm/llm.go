// Package llm provides the completion provider clients used by
// enrichers, the hierarchical indexer, and query-expansion retrievers.
package llm

import (
	"context"

	"github.com/tessera-kb/tessera/pkg/config"
	"github.com/tessera-kb/tessera/pkg/types"
)

// Provider produces a completion for a prompt.
type Provider interface {
	Complete(ctx context.Context, prompt string, maxTokens int) (string, error)
	Model() string
}

// New builds the provider a config names.
func New(cfg *config.ProviderConfig) (Provider, error) {
	if cfg == nil {
		return nil, types.NewError(types.ErrKBConfigError, "no llm provider configured")
	}
	switch cfg.Type {
	case "openai":
		return NewOpenAI(cfg), nil
	case "ollama":
		return NewOllama(cfg), nil
	default:
		return nil, types.NewError(types.ErrKBConfigError, "unknown llm provider type %q", cfg.Type)
	}
}
