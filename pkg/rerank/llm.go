package rerank

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/tessera-kb/tessera/pkg/llm"
	"github.com/tessera-kb/tessera/pkg/types"
)

// LLMReranker scores passages by prompting a completion model for a
// 0-10 relevance rating per candidate. Slower and noisier than a
// dedicated rerank model, but needs no extra provider.
type LLMReranker struct {
	completions llm.Provider
}

func NewLLM(completions llm.Provider) *LLMReranker {
	return &LLMReranker{completions: completions}
}

const rerankPrompt = `Rate how relevant each passage is to the query on a scale of 0 to 10.
Reply with one number per line, nothing else.

Query: %s

%s`

func (r *LLMReranker) Rerank(ctx context.Context, query string, candidates []string) ([]float32, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	var passages strings.Builder
	for i, c := range candidates {
		fmt.Fprintf(&passages, "Passage %d: %s\n", i+1, c)
	}

	reply, err := r.completions.Complete(ctx, fmt.Sprintf(rerankPrompt, query, passages.String()), 256)
	if err != nil {
		return nil, err
	}

	scores, err := parseScores(reply, len(candidates))
	if err != nil {
		return nil, err
	}
	return scores, nil
}

func (r *LLMReranker) Model() string { return r.completions.Model() }

// parseScores extracts one numeric rating per line, normalized to
// [0,1].
func parseScores(reply string, want int) ([]float32, error) {
	scores := make([]float32, 0, want)
	for _, line := range strings.Split(reply, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		// Tolerate "3." and "Passage 1: 7" shapes.
		fields := strings.Fields(line)
		raw := strings.TrimSuffix(fields[len(fields)-1], ".")
		val, err := strconv.ParseFloat(raw, 32)
		if err != nil {
			continue
		}
		scores = append(scores, float32(val)/10)
		if len(scores) == want {
			break
		}
	}
	if len(scores) != want {
		return nil, types.NewError(types.ErrInternal,
			"rerank model returned %d scores for %d candidates", len(scores), want)
	}
	return scores, nil
}
