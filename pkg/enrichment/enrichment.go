// Package enrichment implements the optional LLM enrichers that run
// between chunking and indexing. Enrichers never fail ingestion: an
// LLM error downgrades to a skip and the document proceeds unenriched.
package enrichment

import (
	"context"

	"github.com/tessera-kb/tessera/pkg/llm"
	"github.com/tessera-kb/tessera/pkg/operator"
	"github.com/tessera-kb/tessera/pkg/types"
)

// Enricher mutates a document and its chunks in place before indexing.
// Implementations must be idempotent per document version.
type Enricher interface {
	Enrich(ctx context.Context, doc *types.Document, chunks []*types.Chunk) error
}

// Register adds both enrichers to the directory. The LLM provider is
// captured at registration time; a nil provider makes every enricher
// skip.
func Register(dir *operator.Directory, provider llm.Provider) error {
	entries := []operator.Descriptor{
		{
			Category: operator.CategoryEnricher,
			Name:     "document_summarizer",
			Factory: func(params map[string]any) (any, error) {
				return NewDocumentSummarizer(provider, params)
			},
		},
		{
			Category: operator.CategoryEnricher,
			Name:     "chunk_enricher",
			Factory: func(params map[string]any) (any, error) {
				return NewChunkEnricher(provider, params)
			},
		},
	}
	for _, desc := range entries {
		if err := dir.Register(desc); err != nil {
			return err
		}
	}
	return nil
}

// Build constructs the enricher a KB config names, or nil when the KB
// has none configured.
func Build(dir *operator.Directory, ref *types.OperatorRef) (Enricher, error) {
	if ref == nil {
		return nil, nil
	}
	built, err := dir.Build(operator.CategoryEnricher, *ref)
	if err != nil {
		return nil, err
	}
	enricher, ok := built.(Enricher)
	if !ok {
		return nil, types.NewError(types.ErrInternal,
			"operator %q does not implement the enricher contract", ref.Name)
	}
	return enricher, nil
}
