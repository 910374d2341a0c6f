package enrichment

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tessera-kb/tessera/pkg/types"
)

type fakeProvider struct {
	replies []string
	fail    bool
	calls   int
}

func (f *fakeProvider) Complete(_ context.Context, _ string, _ int) (string, error) {
	if f.fail {
		return "", errors.New("model unavailable")
	}
	reply := f.replies[f.calls%len(f.replies)]
	f.calls++
	return reply, nil
}

func (f *fakeProvider) Model() string { return "fake" }

func testChunks(n int) []*types.Chunk {
	chunks := make([]*types.Chunk, n)
	for i := range chunks {
		chunks[i] = &types.Chunk{
			ID: fmt.Sprintf("c%d", i), DocID: "d1", Ordinal: i,
			Text: fmt.Sprintf("chunk %d text", i),
		}
	}
	return chunks
}

func TestSummarizerSetsStatusAndSummary(t *testing.T) {
	provider := &fakeProvider{replies: []string{"  a concise summary  "}}
	s, err := NewDocumentSummarizer(provider, map[string]any{"length": "short"})
	require.NoError(t, err)

	doc := &types.Document{ID: "d1", Title: "Doc", SummaryStatus: types.SummaryPending}
	chunks := testChunks(2)
	require.NoError(t, s.Enrich(context.Background(), doc, chunks))

	assert.Equal(t, types.SummaryCompleted, doc.SummaryStatus)
	assert.Equal(t, "a concise summary", doc.Summary)
	// Without prepend_summary the chunks stay untouched.
	assert.Empty(t, chunks[0].EnrichedText)
}

func TestSummarizerPrependKeepsOriginalText(t *testing.T) {
	provider := &fakeProvider{replies: []string{"overview"}}
	s, err := NewDocumentSummarizer(provider, map[string]any{"prepend_summary": true})
	require.NoError(t, err)

	doc := &types.Document{ID: "d1", Title: "Doc", SummaryStatus: types.SummaryPending}
	chunks := testChunks(2)
	require.NoError(t, s.Enrich(context.Background(), doc, chunks))

	assert.Equal(t, "overview\n\nchunk 0 text", chunks[0].EnrichedText)
	assert.Equal(t, "chunk 0 text", chunks[0].Text)

	// Re-running is idempotent.
	require.NoError(t, s.Enrich(context.Background(), doc, chunks))
	assert.Equal(t, "overview\n\nchunk 0 text", chunks[0].EnrichedText)
	assert.Equal(t, 1, provider.calls)
}

func TestSummarizerFailureIsNonFatal(t *testing.T) {
	s, err := NewDocumentSummarizer(&fakeProvider{fail: true}, nil)
	require.NoError(t, err)

	doc := &types.Document{ID: "d1", SummaryStatus: types.SummaryPending}
	require.NoError(t, s.Enrich(context.Background(), doc, testChunks(1)))
	assert.Equal(t, types.SummaryFailed, doc.SummaryStatus)
	assert.Empty(t, doc.Summary)
}

func TestSummarizerSkipsEmptyDocument(t *testing.T) {
	s, err := NewDocumentSummarizer(&fakeProvider{}, nil)
	require.NoError(t, err)

	doc := &types.Document{ID: "d1", SummaryStatus: types.SummaryPending}
	require.NoError(t, s.Enrich(context.Background(), doc, nil))
	assert.Equal(t, types.SummarySkipped, doc.SummaryStatus)
}

func TestSummarizerRejectsUnknownLength(t *testing.T) {
	_, err := NewDocumentSummarizer(&fakeProvider{}, map[string]any{"length": "huge"})
	assert.Equal(t, types.ErrValidation, types.CodeOf(err))
}

func TestChunkEnricherFillsEnrichedText(t *testing.T) {
	provider := &fakeProvider{replies: []string{"contextualized"}}
	e, err := NewChunkEnricher(provider, map[string]any{"window": 1})
	require.NoError(t, err)

	doc := &types.Document{ID: "d1", Title: "Doc", Summary: "sum"}
	chunks := testChunks(3)
	require.NoError(t, e.Enrich(context.Background(), doc, chunks))

	for _, chunk := range chunks {
		assert.Equal(t, "contextualized", chunk.EnrichedText)
		assert.Contains(t, chunk.Text, "chunk")
	}

	// Already-enriched chunks are not re-sent.
	before := provider.calls
	require.NoError(t, e.Enrich(context.Background(), doc, chunks))
	assert.Equal(t, before, provider.calls)
}

func TestChunkEnricherFailureSkips(t *testing.T) {
	e, err := NewChunkEnricher(&fakeProvider{fail: true}, nil)
	require.NoError(t, err)

	chunks := testChunks(2)
	require.NoError(t, e.Enrich(context.Background(), &types.Document{ID: "d1"}, chunks))
	for _, chunk := range chunks {
		assert.Empty(t, chunk.EnrichedText)
	}
}
