package retrieval

import (
	"context"

	"github.com/tessera-kb/tessera/pkg/operator"
	"github.com/tessera-kb/tessera/pkg/types"
)

// DenseRetriever embeds the query and k-NN searches the dense store.
type DenseRetriever struct {
	deps Deps
}

func NewDense(deps Deps, raw map[string]any) (*DenseRetriever, error) {
	var params struct {
		TuningParams `mapstructure:",squash"`
	}
	if err := operator.DecodeParams(raw, &params); err != nil {
		return nil, err
	}
	return &DenseRetriever{deps: deps}, nil
}

func (r *DenseRetriever) Name() string { return "dense" }

func (r *DenseRetriever) Retrieve(ctx context.Context, req Request) ([]Hit, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	vectors, err := r.deps.Embedder.Embed(ctx, []string{req.Query})
	if err != nil {
		return nil, err
	}
	points, err := r.deps.Vector.Search(ctx, req.Collection, vectors[0], req.TopK, baseFilter(req))
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, len(points))
	for _, point := range points {
		if req.Config.Threshold > 0 && point.Score < req.Config.Threshold {
			continue
		}
		hits = append(hits, Hit{ScoredPoint: point, SourceTag: r.Name()})
	}
	sortHits(hits)
	return hits, nil
}

// SparseRetriever runs BM25 over the lexical index. Scores come back
// already normalized to [0,1].
type SparseRetriever struct {
	deps Deps
}

func NewSparse(deps Deps, raw map[string]any) (*SparseRetriever, error) {
	var params struct {
		TuningParams `mapstructure:",squash"`
	}
	if err := operator.DecodeParams(raw, &params); err != nil {
		return nil, err
	}
	if deps.Sparse == nil {
		return nil, types.NewError(types.ErrKBConfigError, "sparse retrieval requires a sparse store")
	}
	return &SparseRetriever{deps: deps}, nil
}

func (r *SparseRetriever) Name() string { return "sparse" }

func (r *SparseRetriever) Retrieve(ctx context.Context, req Request) ([]Hit, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	points, err := r.deps.Sparse.Search(ctx, req.Query, req.TopK, baseFilter(req))
	if err != nil {
		return nil, err
	}
	hits := make([]Hit, 0, len(points))
	for _, point := range points {
		hits = append(hits, Hit{ScoredPoint: point, SourceTag: r.Name()})
	}
	sortHits(hits)
	return hits, nil
}

// HybridParams tunes the dense/sparse weighted merge. Zero weights
// fall back to the resolved retrieval config.
type HybridParams struct {
	TuningParams `mapstructure:",squash"`
}

// HybridRetriever runs dense and sparse in parallel and merges by
// weighted sum. Both inputs are on [0,1], so merged scores stay
// bounded when the weights sum to one. While the sparse index is
// rebuilding, hybrid degrades to dense-only.
type HybridRetriever struct {
	deps   Deps
	params HybridParams
	dense  *DenseRetriever
	sparse *SparseRetriever
}

func NewHybrid(deps Deps, raw map[string]any) (*HybridRetriever, error) {
	var params HybridParams
	if err := operator.DecodeParams(raw, &params); err != nil {
		return nil, err
	}
	sparse, err := NewSparse(deps, nil)
	if err != nil {
		return nil, err
	}
	return &HybridRetriever{
		deps:   deps,
		params: params,
		dense:  &DenseRetriever{deps: deps},
		sparse: sparse,
	}, nil
}

func (r *HybridRetriever) Name() string { return "hybrid" }

func (r *HybridRetriever) weights(req Request) (float64, float64) {
	dw, sw := float64(r.params.DenseWeight), float64(r.params.SparseWeight)
	if dw == 0 && sw == 0 {
		dw = float64(req.Config.DenseWeight)
		sw = float64(req.Config.SparseWeight)
	}
	return dw, sw
}

func (r *HybridRetriever) Retrieve(ctx context.Context, req Request) ([]Hit, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	if !r.deps.Sparse.Ready() {
		return r.dense.Retrieve(ctx, req)
	}

	lists, err := runLegs(ctx, req, []func(ctx context.Context, req Request) ([]Hit, error){
		r.dense.Retrieve,
		r.sparse.Retrieve,
	})
	if err != nil {
		return nil, err
	}

	dw, sw := r.weights(req)
	merged := weightedMerge(lists, []float64{dw, sw})
	for i := range merged {
		merged[i].SourceTag = r.Name()
	}
	return truncate(merged, req.TopK), nil
}
