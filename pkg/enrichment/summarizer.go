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

// SummarizerParams configures the document summarizer.
type SummarizerParams struct {
	// Length is short, medium, or long.
	Length string `mapstructure:"length"`
	// PrependSummary prefixes the summary to each chunk's embedding
	// input. The stored chunk text is never modified.
	PrependSummary bool `mapstructure:"prepend_summary"`
	// Separator sits between the summary and the chunk text when
	// prepending.
	Separator string `mapstructure:"separator"`
	// MaxContentChars bounds how much of the document is sent to the
	// LLM.
	MaxContentChars int `mapstructure:"max_content_chars"`
}

var summaryTokens = map[string]int{
	"short":  120,
	"medium": 300,
	"long":   600,
}

// DocumentSummarizer produces one summary per document and optionally
// prepends it to every chunk's embedding input.
type DocumentSummarizer struct {
	provider llm.Provider
	params   SummarizerParams
}

func NewDocumentSummarizer(provider llm.Provider, raw map[string]any) (*DocumentSummarizer, error) {
	params := SummarizerParams{
		Length:          "medium",
		Separator:       "\n\n",
		MaxContentChars: 24000,
	}
	if err := operator.DecodeParams(raw, &params); err != nil {
		return nil, err
	}
	if _, ok := summaryTokens[params.Length]; !ok {
		return nil, types.NewError(types.ErrValidation,
			"summarizer length %q is not one of short, medium, long", params.Length)
	}
	return &DocumentSummarizer{provider: provider, params: params}, nil
}

func (s *DocumentSummarizer) Enrich(ctx context.Context, doc *types.Document, chunks []*types.Chunk) error {
	switch doc.SummaryStatus {
	case types.SummaryCompleted, types.SummarySkipped:
		// Already handled for this document version.
		if doc.Summary != "" && s.params.PrependSummary {
			s.prepend(doc.Summary, chunks)
		}
		return nil
	}

	content := joinChunks(chunks)
	if s.provider == nil || strings.TrimSpace(content) == "" {
		doc.SummaryStatus = types.SummarySkipped
		return nil
	}
	if len(content) > s.params.MaxContentChars {
		content = content[:s.params.MaxContentChars]
	}

	doc.SummaryStatus = types.SummaryGenerating
	prompt := summaryPrompt(doc.Title, content, s.params.Length)
	summary, err := s.provider.Complete(ctx, prompt, summaryTokens[s.params.Length])
	if err != nil {
		slog.Warn("document summarization failed, continuing without summary",
			"doc_id", doc.ID, "error", err)
		doc.SummaryStatus = types.SummaryFailed
		return nil
	}

	doc.Summary = strings.TrimSpace(summary)
	doc.SummaryStatus = types.SummaryCompleted
	if s.params.PrependSummary {
		s.prepend(doc.Summary, chunks)
	}
	return nil
}

func (s *DocumentSummarizer) prepend(summary string, chunks []*types.Chunk) {
	prefix := summary + s.params.Separator
	for _, chunk := range chunks {
		if strings.HasPrefix(chunk.EnrichedText, prefix) {
			continue
		}
		chunk.EnrichedText = prefix + chunk.Text
	}
}

func joinChunks(chunks []*types.Chunk) string {
	parts := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		parts = append(parts, chunk.Text)
	}
	return strings.Join(parts, "\n\n")
}

func summaryPrompt(title, content, length string) string {
	return fmt.Sprintf(`Write a %s summary of the following document. Reply with the summary only.

Title: %s

%s`, length, title, content)
}
