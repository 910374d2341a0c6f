package rerank

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedProvider struct {
	reply string
}

func (p *scriptedProvider) Complete(_ context.Context, _ string, _ int) (string, error) {
	return p.reply, nil
}

func (p *scriptedProvider) Model() string { return "scripted" }

func TestLLMRerankerParsesScores(t *testing.T) {
	r := NewLLM(&scriptedProvider{reply: "8\n3\n10\n"})

	scores, err := r.Rerank(context.Background(), "query", []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, []float32{0.8, 0.3, 1.0}, scores)
}

func TestParseScoresTolerantFormats(t *testing.T) {
	scores, err := parseScores("Passage 1: 7\n2.\n\nscore 5\n", 3)
	require.NoError(t, err)
	assert.InDelta(t, 0.7, scores[0], 1e-6)
	assert.InDelta(t, 0.2, scores[1], 1e-6)
	assert.InDelta(t, 0.5, scores[2], 1e-6)
}

func TestParseScoresCountMismatch(t *testing.T) {
	_, err := parseScores("8\n3\n", 3)
	require.Error(t, err)
}
