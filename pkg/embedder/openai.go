package embedder

import (
	"context"
	"errors"

	openai "github.com/sashabaranov/go-openai"

	"github.com/tessera-kb/tessera/pkg/config"
	"github.com/tessera-kb/tessera/pkg/retry"
	"github.com/tessera-kb/tessera/pkg/types"
)

// maxBatchSize bounds one embeddings request.
const maxBatchSize = 64

// OpenAIEmbedder talks to any OpenAI-compatible embeddings endpoint.
type OpenAIEmbedder struct {
	client    *openai.Client
	fallback  *openai.Client
	model     string
	dimension int
	retryCfg  retry.Config
}

func NewOpenAI(cfg *config.ProviderConfig) *OpenAIEmbedder {
	e := &OpenAIEmbedder{
		client:    newOpenAIClient(cfg.APIKey, cfg.BaseURL),
		model:     cfg.Model,
		dimension: cfg.Dimension,
		retryCfg:  retry.DefaultConfig(),
	}
	if cfg.MaxRetries > 0 {
		e.retryCfg.MaxRetries = cfg.MaxRetries
	}
	if cfg.FallbackAPIKey != "" {
		e.fallback = newOpenAIClient(cfg.FallbackAPIKey, cfg.BaseURL)
	}
	return e
}

func newOpenAIClient(apiKey, baseURL string) *openai.Client {
	clientCfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		clientCfg.BaseURL = baseURL
	}
	return openai.NewClientWithConfig(clientCfg)
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += maxBatchSize {
		end := start + maxBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		vectors, err := e.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vectors...)
	}

	if err := checkDimension(out, e.dimension); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *OpenAIEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	req := openai.EmbeddingRequestStrings{
		Input: texts,
		Model: openai.EmbeddingModel(e.model),
	}

	var vectors [][]float32
	err := retry.Do(ctx, e.retryCfg, func(ctx context.Context) error {
		resp, err := e.client.CreateEmbeddings(ctx, req)
		if err != nil && isAuthError(err) && e.fallback != nil {
			resp, err = e.fallback.CreateEmbeddings(ctx, req)
		}
		if err != nil {
			return classifyOpenAIError(err, "embeddings request failed")
		}

		vectors = make([][]float32, len(resp.Data))
		for _, item := range resp.Data {
			if item.Index < 0 || item.Index >= len(vectors) {
				return types.NewError(types.ErrInternal, "embedding response index %d out of range", item.Index)
			}
			vectors[item.Index] = item.Embedding
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return vectors, nil
}

func (e *OpenAIEmbedder) Dimension() int   { return e.dimension }
func (e *OpenAIEmbedder) Provider() string { return "openai" }
func (e *OpenAIEmbedder) Model() string    { return e.model }

func isAuthError(err error) bool {
	var apiErr *openai.APIError
	return errors.As(err, &apiErr) && (apiErr.HTTPStatusCode == 401 || apiErr.HTTPStatusCode == 403)
}

// classifyOpenAIError maps provider failures onto the error taxonomy so
// the retry loop knows what is transient.
func classifyOpenAIError(err error, detail string) error {
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
