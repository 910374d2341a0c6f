// Package service is the core's front door. It authenticates API keys,
// enforces tenant and knowledge-base scoping, and orchestrates the
// chunk/enrich/index pipeline on ingestion and the retrieve/trim/rerank
// pipeline on queries.
package service

import (
	"context"

	"github.com/tessera-kb/tessera/pkg/config"
	"github.com/tessera-kb/tessera/pkg/embedder"
	"github.com/tessera-kb/tessera/pkg/llm"
	"github.com/tessera-kb/tessera/pkg/observability"
	"github.com/tessera-kb/tessera/pkg/operator"
	"github.com/tessera-kb/tessera/pkg/postprocess"
	"github.com/tessera-kb/tessera/pkg/rerank"
	"github.com/tessera-kb/tessera/pkg/sparse"
	"github.com/tessera-kb/tessera/pkg/storage"
	"github.com/tessera-kb/tessera/pkg/token"
	"github.com/tessera-kb/tessera/pkg/types"
	"github.com/tessera-kb/tessera/pkg/vector"
)

// Deps are the backends and providers the service runs on. Sparse,
// LLM, Reranker, and Metrics may be nil; features needing them fail at
// configuration time, not mid-request.
type Deps struct {
	Store     storage.Store
	Vector    vector.Provider
	Sparse    *sparse.Index
	Directory *operator.Directory
	Embedder  embedder.Embedder
	LLM       llm.Provider
	Reranker  rerank.Reranker
	Codec     token.Codec
	Metrics   *observability.Metrics
}

// Service exposes the core operations. All methods take the caller's
// API key; nothing is reachable without one.
type Service struct {
	cfg      *config.Config
	deps     Deps
	pipeline *postprocess.Pipeline
}

func New(cfg *config.Config, deps Deps) *Service {
	if deps.Codec == nil {
		deps.Codec = token.NewApproxCodec()
	}
	return &Service{
		cfg:  cfg,
		deps: deps,
		pipeline: &postprocess.Pipeline{
			Store:    deps.Store,
			Reranker: deps.Reranker,
			Codec:    deps.Codec,
		},
	}
}

// Authenticate resolves an API key id to its record. Unknown keys are
// NO_PERMISSION; the store's not-found detail is deliberately not
// leaked.
func (s *Service) Authenticate(ctx context.Context, keyID string) (*types.APIKey, error) {
	key, err := s.deps.Store.GetAPIKey(ctx, keyID)
	if err != nil {
		return nil, types.NewError(types.ErrNoPermission, "invalid api key")
	}
	return key, nil
}

// requireRole enforces the admin > write > read ordering.
func requireRole(key *types.APIKey, want types.Role) error {
	rank := map[types.Role]int{types.RoleRead: 0, types.RoleWrite: 1, types.RoleAdmin: 2}
	have, ok := rank[key.Role]
	if !ok || have < rank[want] {
		return types.NewError(types.ErrNoPermission,
			"operation requires the %s role", want)
	}
	return nil
}

// activeTenant loads the caller's tenant and rejects disabled ones.
func (s *Service) activeTenant(ctx context.Context, key *types.APIKey) (*types.Tenant, error) {
	tenant, err := s.deps.Store.GetTenant(ctx, key.TenantID)
	if err != nil {
		return nil, err
	}
	if tenant.Status != types.TenantActive {
		return nil, types.NewError(types.ErrTenantDisabled, "tenant %q is disabled", tenant.ID)
	}
	return tenant, nil
}

// scopedKB checks key scope and loads the knowledge base. Scope is
// checked first so a key cannot probe for KB existence outside its
// scope.
func (s *Service) scopedKB(ctx context.Context, key *types.APIKey, kbID string) (*types.KnowledgeBase, error) {
	if !key.InScope(kbID) {
		return nil, types.NewError(types.ErrKBNotInScope,
			"knowledge base %q is outside this key's scope", kbID)
	}
	return s.deps.Store.GetKnowledgeBase(ctx, key.TenantID, kbID)
}

// collectionFor resolves the dense collection under the tenant's
// isolation strategy and makes sure it exists at the KB's dimension.
func (s *Service) collectionFor(ctx context.Context, tenant *types.Tenant, kb *types.KnowledgeBase) (string, error) {
	name := vector.CollectionFor(tenant, &s.cfg.Vector)
	if err := s.deps.Vector.EnsureCollection(ctx, name, kb.Config.Embedding.Dimension); err != nil {
		return "", err
	}
	return name, nil
}
