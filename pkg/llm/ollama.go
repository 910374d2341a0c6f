package llm

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

// OllamaProvider calls a local Ollama server's generate API.
type OllamaProvider struct {
	baseURL  string
	model    string
	client   *http.Client
	retryCfg retry.Config
}

func NewOllama(cfg *config.ProviderConfig) *OllamaProvider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	p := &OllamaProvider{
		baseURL:  baseURL,
		model:    cfg.Model,
		client:   &http.Client{Timeout: cfg.Timeout.Std()},
		retryCfg: retry.DefaultConfig(),
	}
	if cfg.MaxRetries > 0 {
		p.retryCfg.MaxRetries = cfg.MaxRetries
	}
	return p
}

type ollamaGenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
}

func (p *OllamaProvider) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	reqBody := ollamaGenerateRequest{
		Model:  p.model,
		Prompt: prompt,
		Stream: false,
	}
	if maxTokens > 0 {
		reqBody.Options = map[string]any{"num_predict": maxTokens}
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal generate request: %w", err)
	}

	var text string
	err = retry.Do(ctx, p.retryCfg, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/generate", bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := p.client.Do(req)
		if err != nil {
			return types.WrapError(types.ErrProviderTransient, err, "ollama generate request failed")
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			if retry.TransientStatus(resp.StatusCode) {
				return types.NewError(types.ErrProviderTransient, "ollama generate returned %d: %s", resp.StatusCode, msg)
			}
			return types.NewError(types.ErrInternal, "ollama generate returned %d: %s", resp.StatusCode, msg)
		}

		var parsed ollamaGenerateResponse
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return fmt.Errorf("failed to decode generate response: %w", err)
		}
		text = parsed.Response
		return nil
	})
	return text, err
}

func (p *OllamaProvider) Model() string { return p.model }
