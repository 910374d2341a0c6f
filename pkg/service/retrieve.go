package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/tessera-kb/tessera/pkg/config"
	"github.com/tessera-kb/tessera/pkg/observability"
	"github.com/tessera-kb/tessera/pkg/retrieval"
	"github.com/tessera-kb/tessera/pkg/types"
	"github.com/tessera-kb/tessera/pkg/vector"
)

// RetrieveRequest is one query against a set of knowledge bases in the
// caller's tenant.
type RetrieveRequest struct {
	Query string
	KBIDs []string
	// Filter is an exact-match metadata filter applied to every leg.
	Filter map[string]any
	// Overrides are the per-request tunables; nil inherits the resolved
	// defaults chain.
	Overrides *config.Overrides
}

// Retrieve runs the KB's retrieval strategy, then security trimming,
// optional reranking, and window expansion. When multiple knowledge
// bases are queried, the first KB's retriever configuration drives the
// strategy; all of them are searched.
func (s *Service) Retrieve(ctx context.Context, key *types.APIKey, req RetrieveRequest) (*types.RetrievalResult, error) {
	ctx, span := observability.StartSpan(ctx, "service.retrieve")
	defer span.End()

	tenant, err := s.activeTenant(ctx, key)
	if err != nil {
		return nil, err
	}
	if req.Query == "" {
		return nil, types.NewError(types.ErrValidation, "query is empty")
	}
	if len(req.KBIDs) == 0 {
		return nil, types.NewError(types.ErrValidation, "at least one knowledge base id is required")
	}

	kbs := make([]*types.KnowledgeBase, 0, len(req.KBIDs))
	for _, kbID := range req.KBIDs {
		kb, err := s.scopedKB(ctx, key, kbID)
		if err != nil {
			return nil, err
		}
		kbs = append(kbs, kb)
	}
	lead := kbs[0]

	kbParams, err := decodeKBParams(lead.Config.Retriever.Params)
	if err != nil {
		return nil, err
	}
	resolved, clamped := config.Resolve(req.Overrides, kbParams, tenantDefaults(tenant), &s.cfg.Defaults)
	if clamped {
		s.deps.Metrics.TopKClamped()
		slog.Warn("top_k clamped into allowed range", "top_k", resolved.TopK)
	}

	collection := vector.CollectionFor(tenant, &s.cfg.Vector)
	retriever, err := retrieval.Build(s.deps.Directory, lead.Config.Retriever)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	hits, err := retriever.Retrieve(ctx, retrieval.Request{
		Query:      req.Query,
		TenantID:   key.TenantID,
		Collection: collection,
		KBIDs:      req.KBIDs,
		TopK:       resolved.TopK,
		Filter:     req.Filter,
		Config:     resolved,
	})
	s.deps.Metrics.ObserveRetrieval(retriever.Name(), time.Since(start), err)
	if err != nil {
		return nil, err
	}

	retrieved := len(hits)
	hits, err = s.pipeline.Run(ctx, req.Query, hits, key, resolved)
	if err != nil {
		if types.CodeOf(err) == types.ErrNoPermission {
			s.deps.Metrics.HitsTrimmed(retrieved)
		}
		return nil, err
	}
	if !resolved.Rerank.Enabled {
		s.deps.Metrics.HitsTrimmed(retrieved - len(hits))
	}

	return &types.RetrievalResult{
		Hits:  convertHits(hits),
		Model: s.modelDescriptor(retriever.Name(), resolved),
	}, nil
}

// tenantDefaults lifts a tenant's pinned tunables into the resolution
// chain between knowledge-base params and system defaults.
func tenantDefaults(t *types.Tenant) *config.TenantDefaults {
	if t.Defaults == nil {
		return nil
	}
	return &config.TenantDefaults{Retrieval: &config.RetrievalConfig{
		TopK:         t.Defaults.TopK,
		Threshold:    t.Defaults.Threshold,
		DenseWeight:  t.Defaults.DenseWeight,
		SparseWeight: t.Defaults.SparseWeight,
		FusionK:      t.Defaults.FusionK,
	}}
}

// decodeKBParams reads the retrieval tunables out of a retriever's
// param map. Unknown keys belong to the strategy itself and pass
// through untouched.
func decodeKBParams(params map[string]any) (*config.KBRetrievalParams, error) {
	if len(params) == 0 {
		return nil, nil
	}
	var out config.KBRetrievalParams
	if err := mapstructure.Decode(params, &out); err != nil {
		return nil, types.WrapError(types.ErrKBConfigError, err, "invalid retriever params")
	}
	return &out, nil
}

func convertHits(hits []retrieval.Hit) []types.Hit {
	out := make([]types.Hit, len(hits))
	for i, hit := range hits {
		out[i] = types.Hit{
			ChunkID:       hit.Payload.ChunkID,
			DocID:         hit.Payload.DocID,
			KBID:          hit.Payload.KBID,
			Text:          hit.Payload.Text,
			Score:         hit.Score,
			Ordinal:       ordinalFromMeta(hit.Payload.Metadata),
			Metadata:      hit.Payload.Metadata,
			SourceTag:     hit.SourceTag,
			ContextText:   hit.ContextText,
			ContextBefore: hit.ContextBefore,
			ContextAfter:  hit.ContextAfter,
		}
	}
	return out
}

func ordinalFromMeta(meta map[string]any) int {
	switch v := meta[types.MetaChunkIndex].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

func (s *Service) modelDescriptor(retriever string, cfg config.RetrievalConfig) types.ModelDescriptor {
	desc := types.ModelDescriptor{
		EmbeddingProvider: s.deps.Embedder.Provider(),
		EmbeddingModel:    s.deps.Embedder.Model(),
		Retriever:         retriever,
	}
	if s.deps.LLM != nil {
		desc.LLMModel = s.deps.LLM.Model()
	}
	if cfg.Rerank.Enabled && s.deps.Reranker != nil {
		desc.RerankModel = s.deps.Reranker.Model()
	}
	return desc
}
