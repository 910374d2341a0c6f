package enrichment

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tessera-kb/tessera/pkg/llm"
	"github.com/tessera-kb/tessera/pkg/operator"
	"github.com/tessera-kb/tessera/pkg/types"
)

// ChunkEnricherParams configures contextual chunk enrichment.
type ChunkEnricherParams struct {
	// Window is how many neighboring chunks on each side feed the
	// prompt.
	Window int `mapstructure:"window"`
	// MaxTokens bounds each rewritten chunk.
	MaxTokens int `mapstructure:"max_tokens"`
}

// ChunkEnricher asks an LLM to rewrite each chunk with its surrounding
// context folded in. The rewrite lands in enriched_text and becomes
// the embedding input; the stored text stays untouched.
type ChunkEnricher struct {
	provider llm.Provider
	params   ChunkEnricherParams
}

func NewChunkEnricher(provider llm.Provider, raw map[string]any) (*ChunkEnricher, error) {
	params := ChunkEnricherParams{Window: 2, MaxTokens: 400}
	if err := operator.DecodeParams(raw, &params); err != nil {
		return nil, err
	}
	if params.Window < 1 {
		return nil, types.NewError(types.ErrValidation,
			"chunk enricher window must be at least 1, got %d", params.Window)
	}
	return &ChunkEnricher{provider: provider, params: params}, nil
}

func (e *ChunkEnricher) Enrich(ctx context.Context, doc *types.Document, chunks []*types.Chunk) error {
	if e.provider == nil {
		return nil
	}
	for i, chunk := range chunks {
		if chunk.EnrichedText != "" {
			continue
		}
		prompt := e.prompt(doc, chunks, i)
		enriched, err := e.provider.Complete(ctx, prompt, e.params.MaxTokens)
		if err != nil {
			// Per-chunk failures skip, never abort the document.
			slog.Warn("chunk enrichment failed, keeping original text",
				"doc_id", doc.ID, "chunk_id", chunk.ID, "error", err)
			continue
		}
		if enriched = strings.TrimSpace(enriched); enriched != "" {
			chunk.EnrichedText = enriched
		}
	}
	return nil
}

func (e *ChunkEnricher) prompt(doc *types.Document, chunks []*types.Chunk, i int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Document: %s\n", doc.Title)
	if doc.Summary != "" {
		fmt.Fprintf(&b, "Summary: %s\n", doc.Summary)
	}

	lo := i - e.params.Window
	if lo < 0 {
		lo = 0
	}
	hi := i + e.params.Window
	if hi > len(chunks)-1 {
		hi = len(chunks) - 1
	}
	if lo < i {
		b.WriteString("\nPreceding context:\n")
		for _, c := range chunks[lo:i] {
			b.WriteString(c.Text)
			b.WriteString("\n")
		}
	}
	b.WriteString("\nPassage:\n")
	b.WriteString(chunks[i].Text)
	b.WriteString("\n")
	if hi > i {
		b.WriteString("\nFollowing context:\n")
		for _, c := range chunks[i+1 : hi+1] {
			b.WriteString(c.Text)
			b.WriteString("\n")
		}
	}
	b.WriteString("\nRewrite the passage so it stands alone, folding in whatever surrounding context is needed to understand it. Reply with the rewritten passage only.")
	return b.String()
}
