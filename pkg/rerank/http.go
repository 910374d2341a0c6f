package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/tessera-kb/tessera/pkg/config"
	"github.com/tessera-kb/tessera/pkg/retry"
	"github.com/tessera-kb/tessera/pkg/types"
)

// HTTPReranker calls a Cohere/Jina-style rerank endpoint.
type HTTPReranker struct {
	baseURL  string
	apiKey   string
	model    string
	client   *http.Client
	retryCfg retry.Config
}

func NewHTTP(cfg *config.ProviderConfig) *HTTPReranker {
	r := &HTTPReranker{
		baseURL:  cfg.BaseURL,
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		client:   &http.Client{Timeout: cfg.Timeout.Std()},
		retryCfg: retry.DefaultConfig(),
	}
	if cfg.MaxRetries > 0 {
		r.retryCfg.MaxRetries = cfg.MaxRetries
	}
	return r
}

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float32 `json:"relevance_score"`
	} `json:"results"`
}

func (r *HTTPReranker) Rerank(ctx context.Context, query string, candidates []string) ([]float32, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(rerankRequest{Model: r.model, Query: query, Documents: candidates})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rerank request: %w", err)
	}

	scores := make([]float32, len(candidates))
	err = retry.Do(ctx, r.retryCfg, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/rerank", bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		if r.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+r.apiKey)
		}

		resp, err := r.client.Do(req)
		if err != nil {
			return types.WrapError(types.ErrProviderTransient, err, "rerank request failed")
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			if retry.TransientStatus(resp.StatusCode) {
				return types.NewError(types.ErrProviderTransient, "rerank returned %d: %s", resp.StatusCode, msg)
			}
			return types.NewError(types.ErrInternal, "rerank returned %d: %s", resp.StatusCode, msg)
		}

		var parsed rerankResponse
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return fmt.Errorf("failed to decode rerank response: %w", err)
		}
		for _, result := range parsed.Results {
			if result.Index < 0 || result.Index >= len(scores) {
				return types.NewError(types.ErrInternal, "rerank result index %d out of range", result.Index)
			}
			scores[result.Index] = result.RelevanceScore
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return scores, nil
}

func (r *HTTPReranker) Model() string { return r.model }
