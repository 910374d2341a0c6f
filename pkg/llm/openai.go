package llm

import (
	"context"
	"errors"

	openai "github.com/sashabaranov/go-openai"

	"github.com/tessera-kb/tessera/pkg/config"
	"github.com/tessera-kb/tessera/pkg/retry"
	"github.com/tessera-kb/tessera/pkg/types"
)

// OpenAIProvider talks to any OpenAI-compatible chat completion
// endpoint.
type OpenAIProvider struct {
	client   *openai.Client
	fallback *openai.Client
	model    string
	retryCfg retry.Config
}

func NewOpenAI(cfg *config.ProviderConfig) *OpenAIProvider {
	p := &OpenAIProvider{
		client:   newClient(cfg.APIKey, cfg.BaseURL),
		model:    cfg.Model,
		retryCfg: retry.DefaultConfig(),
	}
	if cfg.MaxRetries > 0 {
		p.retryCfg.MaxRetries = cfg.MaxRetries
	}
	if cfg.FallbackAPIKey != "" {
		p.fallback = newClient(cfg.FallbackAPIKey, cfg.BaseURL)
	}
	return p
}

func newClient(apiKey, baseURL string) *openai.Client {
	clientCfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		clientCfg.BaseURL = baseURL
	}
	return openai.NewClientWithConfig(clientCfg)
}

func (p *OpenAIProvider) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens: maxTokens,
	}

	var text string
	err := retry.Do(ctx, p.retryCfg, func(ctx context.Context) error {
		resp, err := p.client.CreateChatCompletion(ctx, req)
		if err != nil && isAuthError(err) && p.fallback != nil {
			resp, err = p.fallback.CreateChatCompletion(ctx, req)
		}
		if err != nil {
			return classifyError(err, "chat completion failed")
		}
		if len(resp.Choices) == 0 {
			return types.NewError(types.ErrInternal, "chat completion returned no choices")
		}
		text = resp.Choices[0].Message.Content
		return nil
	})
	return text, err
}

func (p *OpenAIProvider) Model() string { return p.model }

func isAuthError(err error) bool {
	var apiErr *openai.APIError
	return errors.As(err, &apiErr) && (apiErr.HTTPStatusCode == 401 || apiErr.HTTPStatusCode == 403)
}

func classifyError(err error, detail string) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && retry.TransientStatus(apiErr.HTTPStatusCode) {
		return types.WrapError(types.ErrProviderTransient, err, "%s", detail)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && retry.TransientStatus(reqErr.HTTPStatusCode) {
		return types.WrapError(types.ErrProviderTransient, err, "%s", detail)
	}
	return types.WrapError(types.ErrInternal, err, "%s", detail)
}
