package retrieval

import (
	"context"

	"github.com/tessera-kb/tessera/pkg/operator"
	"github.com/tessera-kb/tessera/pkg/types"
)

// FusionParams declares the base retrievers to merge.
type FusionParams struct {
	TuningParams `mapstructure:",squash"`

	Retrievers []types.OperatorRef `mapstructure:"retrievers"`
	// Merge is "rrf" or "weighted".
	Merge   string    `mapstructure:"merge"`
	Weights []float64 `mapstructure:"weights"`
	// K is the RRF rank constant; zero uses the resolved config.
	K int `mapstructure:"k"`
}

// FusionRetriever runs declared base retrievers in parallel and merges
// by RRF or weighted sum. A leg that times out or errors contributes
// nothing; the request only fails when every leg failed.
type FusionRetriever struct {
	name   string
	params FusionParams
	bases  []Retriever
}

func NewFusion(dir *operator.Directory, deps Deps, raw map[string]any) (*FusionRetriever, error) {
	return newComposite(dir, raw, "fusion", 2)
}

func newComposite(dir *operator.Directory, raw map[string]any, name string, minBases int) (*FusionRetriever, error) {
	params := FusionParams{Merge: "rrf"}
	if err := operator.DecodeParams(raw, &params); err != nil {
		return nil, err
	}
	if len(params.Retrievers) < minBases {
		return nil, types.NewError(types.ErrValidation,
			"%s requires at least %d base retrievers, got %d", name, minBases, len(params.Retrievers))
	}
	switch params.Merge {
	case "rrf", "weighted":
	default:
		return nil, types.NewError(types.ErrValidation,
			"%s merge must be rrf or weighted, got %q", name, params.Merge)
	}

	bases := make([]Retriever, len(params.Retrievers))
	for i, ref := range params.Retrievers {
		base, err := Build(dir, ref)
		if err != nil {
			return nil, err
		}
		bases[i] = base
	}
	return &FusionRetriever{name: name, params: params, bases: bases}, nil
}

func (r *FusionRetriever) Name() string { return r.name }

func (r *FusionRetriever) Retrieve(ctx context.Context, req Request) ([]Hit, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	legs := make([]func(ctx context.Context, req Request) ([]Hit, error), len(r.bases))
	for i, base := range r.bases {
		legs[i] = base.Retrieve
	}
	lists, err := runLegs(ctx, req, legs)
	if err != nil {
		return nil, err
	}

	var merged []Hit
	if r.params.Merge == "weighted" {
		merged = weightedMerge(lists, r.params.Weights)
	} else {
		k := r.params.K
		if k <= 0 {
			k = req.Config.FusionK
		}
		merged = rrfMerge(lists, r.params.Weights, k)
	}
	for i := range merged {
		merged[i].SourceTag = r.name
	}
	return truncate(merged, req.TopK), nil
}

// NewEnsemble is fusion under its other name: an arbitrary weighted
// list of retrievers with an RRF or weighted-sum merge. Unlike
// fusion it accepts a single base.
func NewEnsemble(dir *operator.Directory, deps Deps, raw map[string]any) (*FusionRetriever, error) {
	return newComposite(dir, raw, "ensemble", 1)
}
