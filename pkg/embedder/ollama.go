package embedder

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

// OllamaEmbedder calls a local Ollama server's embed API.
type OllamaEmbedder struct {
	baseURL   string
	model     string
	dimension int
	client    *http.Client
	retryCfg  retry.Config
}

func NewOllama(cfg *config.ProviderConfig) *OllamaEmbedder {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	e := &OllamaEmbedder{
		baseURL:   baseURL,
		model:     cfg.Model,
		dimension: cfg.Dimension,
		client:    &http.Client{Timeout: cfg.Timeout.Std()},
		retryCfg:  retry.DefaultConfig(),
	}
	if cfg.MaxRetries > 0 {
		e.retryCfg.MaxRetries = cfg.MaxRetries
	}
	return e
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func (e *OllamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(ollamaEmbedRequest{Model: e.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embed request: %w", err)
	}

	var vectors [][]float32
	err = retry.Do(ctx, e.retryCfg, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embed", bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := e.client.Do(req)
		if err != nil {
			return types.WrapError(types.ErrProviderTransient, err, "ollama embed request failed")
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			if retry.TransientStatus(resp.StatusCode) {
				return types.NewError(types.ErrProviderTransient, "ollama embed returned %d: %s", resp.StatusCode, msg)
			}
			return types.NewError(types.ErrInternal, "ollama embed returned %d: %s", resp.StatusCode, msg)
		}

		var parsed ollamaEmbedResponse
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return fmt.Errorf("failed to decode embed response: %w", err)
		}
		if len(parsed.Embeddings) != len(texts) {
			return types.NewError(types.ErrInternal,
				"ollama returned %d embeddings for %d inputs", len(parsed.Embeddings), len(texts))
		}
		vectors = parsed.Embeddings
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := checkDimension(vectors, e.dimension); err != nil {
		return nil, err
	}
	return vectors, nil
}

func (e *OllamaEmbedder) Dimension() int   { return e.dimension }
func (e *OllamaEmbedder) Provider() string { return "ollama" }
func (e *OllamaEmbedder) Model() string    { return e.model }
