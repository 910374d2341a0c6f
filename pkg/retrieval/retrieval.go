// Package retrieval implements the pluggable retrieval strategies:
// the dense/sparse/hybrid primitives and the composite retrievers
// built on top of them. Every strategy filters on tenant and KB ids;
// results come back ordered by score with deterministic tie-breaks.
package retrieval

import (
	"context"
	"sort"

	"github.com/tessera-kb/tessera/pkg/config"
	"github.com/tessera-kb/tessera/pkg/embedder"
	"github.com/tessera-kb/tessera/pkg/llm"
	"github.com/tessera-kb/tessera/pkg/operator"
	"github.com/tessera-kb/tessera/pkg/sparse"
	"github.com/tessera-kb/tessera/pkg/storage"
	"github.com/tessera-kb/tessera/pkg/types"
	"github.com/tessera-kb/tessera/pkg/vector"
)

// Hit is one retrieval result before post-processing. The payload
// carries the ACL snapshot trimming evaluates.
type Hit struct {
	vector.ScoredPoint
	// SourceTag names the strategy that produced the hit.
	SourceTag string
	// Context fields are filled by window expansion during
	// post-processing.
	ContextText   string
	ContextBefore string
	ContextAfter  string
}

// Request is a resolved retrieval request. KBIDs must be non-empty;
// the caller has already checked scope and tenant status.
type Request struct {
	Query      string
	TenantID   string
	Collection string
	KBIDs      []string
	TopK       int
	// Filter is an exact-match metadata filter merged into every
	// search.
	Filter map[string]any
	Config config.RetrievalConfig
}

// TuningParams are the shared retrieval tunables a knowledge base may
// pin alongside a strategy's own params. The service layer resolves
// them into the request config; strategies accept them here so one
// param map serves both.
type TuningParams struct {
	TopK         int     `mapstructure:"top_k"`
	Threshold    float32 `mapstructure:"threshold"`
	DenseWeight  float32 `mapstructure:"dense_weight"`
	SparseWeight float32 `mapstructure:"sparse_weight"`
	FusionK      int     `mapstructure:"fusion_k"`
}

// Retriever is one retrieval strategy.
type Retriever interface {
	Retrieve(ctx context.Context, req Request) ([]Hit, error)
	Name() string
}

// Deps are the backends retrievers read from.
type Deps struct {
	Store    storage.Store
	Vector   vector.Provider
	Sparse   *sparse.Index
	Embedder embedder.Embedder
	LLM      llm.Provider
}

// Register adds every retrieval strategy to the directory. Composite
// retrievers resolve their base retrievers through the same directory.
func Register(dir *operator.Directory, deps Deps) error {
	entries := []operator.Descriptor{
		{
			Category: operator.CategoryRetriever,
			Name:     "dense",
			Factory: func(params map[string]any) (any, error) {
				return NewDense(deps, params)
			},
		},
		{
			Category:    operator.CategoryRetriever,
			Name:        "sparse",
			NeedsSparse: true,
			Factory: func(params map[string]any) (any, error) {
				return NewSparse(deps, params)
			},
		},
		{
			Category:    operator.CategoryRetriever,
			Name:        "hybrid",
			NeedsSparse: true,
			Factory: func(params map[string]any) (any, error) {
				return NewHybrid(deps, params)
			},
		},
		{
			Category: operator.CategoryRetriever,
			Name:     "fusion",
			Factory: func(params map[string]any) (any, error) {
				return NewFusion(dir, deps, params)
			},
		},
		{
			Category: operator.CategoryRetriever,
			Name:     "ensemble",
			Factory: func(params map[string]any) (any, error) {
				return NewEnsemble(dir, deps, params)
			},
		},
		{
			Category: operator.CategoryRetriever,
			Name:     "hyde",
			Factory: func(params map[string]any) (any, error) {
				return NewHyde(dir, deps, params)
			},
		},
		{
			Category: operator.CategoryRetriever,
			Name:     "multi_query",
			Factory: func(params map[string]any) (any, error) {
				return NewMultiQuery(dir, deps, params)
			},
		},
		{
			Category: operator.CategoryRetriever,
			Name:     "self_query",
			Factory: func(params map[string]any) (any, error) {
				return NewSelfQuery(dir, deps, params)
			},
		},
		{
			Category: operator.CategoryRetriever,
			Name:     "parent_document",
			Requires: []operator.Requirement{
				{Category: operator.CategoryChunker, Name: "parent_child"},
			},
			Factory: func(params map[string]any) (any, error) {
				return NewParentDocument(dir, deps, params)
			},
		},
		{
			Category: operator.CategoryRetriever,
			Name:     "hierarchical_tree",
			Requires: []operator.Requirement{
				{Category: operator.CategoryIndexer, Name: "hierarchical"},
			},
			Factory: func(params map[string]any) (any, error) {
				return NewHierarchicalTree(deps, params)
			},
		},
	}
	for _, desc := range entries {
		if err := dir.Register(desc); err != nil {
			return err
		}
	}
	return nil
}

// Build constructs the retriever a KB config names.
func Build(dir *operator.Directory, ref types.OperatorRef) (Retriever, error) {
	built, err := dir.Build(operator.CategoryRetriever, ref)
	if err != nil {
		return nil, err
	}
	retriever, ok := built.(Retriever)
	if !ok {
		return nil, types.NewError(types.ErrInternal,
			"operator %q does not implement the retriever contract", ref.Name)
	}
	return retriever, nil
}

func validateRequest(req Request) error {
	if len(req.KBIDs) == 0 {
		return types.NewError(types.ErrValidation, "retrieval requires at least one knowledge base id")
	}
	if req.TenantID == "" {
		return types.NewError(types.ErrValidation, "retrieval requires a tenant id")
	}
	return nil
}

// baseFilter is the mandatory tenant/KB narrowing every search runs
// under, restricted to chunk points.
func baseFilter(req Request) vector.Filter {
	return vector.Filter{
		TenantID: req.TenantID,
		KBIDs:    req.KBIDs,
		Kind:     vector.KindChunk,
		Metadata: req.Filter,
	}
}

// ordinalOf reads the chunk's dense ordinal out of its metadata for
// tie-breaking. Unknown ordinals sort last.
func ordinalOf(h Hit) int {
	if v, ok := h.Payload.Metadata[types.MetaChunkIndex]; ok {
		switch n := v.(type) {
		case int:
			return n
		case int64:
			return int(n)
		case float64:
			return int(n)
		}
	}
	return int(^uint(0) >> 1)
}

// SortHits orders by score descending, then ordinal ascending, then
// chunk id ascending. Post-processing re-sorts with the same rule
// after rerank replaces scores.
func SortHits(hits []Hit) { sortHits(hits) }

func sortHits(hits []Hit) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		oi, oj := ordinalOf(hits[i]), ordinalOf(hits[j])
		if oi != oj {
			return oi < oj
		}
		return hits[i].Payload.ChunkID < hits[j].Payload.ChunkID
	})
}

// annotate sets a metadata key on a hit, cloning the map first so
// shared payloads are never mutated.
func annotate(h *Hit, key string, value any) {
	meta := make(map[string]any, len(h.Payload.Metadata)+1)
	for k, v := range h.Payload.Metadata {
		meta[k] = v
	}
	meta[key] = value
	h.Payload.Metadata = meta
}

func truncate(hits []Hit, topK int) []Hit {
	if topK > 0 && len(hits) > topK {
		return hits[:topK]
	}
	return hits
}
