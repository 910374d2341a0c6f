package retrieval

import (
	"context"

	"github.com/tessera-kb/tessera/pkg/operator"
	"github.com/tessera-kb/tessera/pkg/types"
	"github.com/tessera-kb/tessera/pkg/vector"
)

// TreeParams configures summary-tree retrieval.
type TreeParams struct {
	TuningParams `mapstructure:",squash"`

	// Mode is "collapsed" (flat search across all levels) or
	// "traversal" (beam descent from the roots).
	Mode string `mapstructure:"mode"`
	// Beam is how many nodes survive at each level during traversal.
	Beam int `mapstructure:"beam"`
}

// HierarchicalTreeRetriever searches the summary tree the hierarchical
// indexer maintains. Every hit carries its tree level; duplicate
// leaves reached through different branches are deduped keeping the
// highest score.
type HierarchicalTreeRetriever struct {
	deps   Deps
	params TreeParams
}

func NewHierarchicalTree(deps Deps, raw map[string]any) (*HierarchicalTreeRetriever, error) {
	params := TreeParams{Mode: "collapsed", Beam: 3}
	if err := operator.DecodeParams(raw, &params); err != nil {
		return nil, err
	}
	switch params.Mode {
	case "collapsed", "traversal":
	default:
		return nil, types.NewError(types.ErrValidation,
			"hierarchical_tree mode must be collapsed or traversal, got %q", params.Mode)
	}
	if params.Beam < 1 {
		return nil, types.NewError(types.ErrValidation,
			"hierarchical_tree beam must be at least 1, got %d", params.Beam)
	}
	return &HierarchicalTreeRetriever{deps: deps, params: params}, nil
}

func (r *HierarchicalTreeRetriever) Name() string { return "hierarchical_tree" }

func (r *HierarchicalTreeRetriever) Retrieve(ctx context.Context, req Request) ([]Hit, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	vectors, err := r.deps.Embedder.Embed(ctx, []string{req.Query})
	if err != nil {
		return nil, err
	}
	query := vectors[0]

	if r.params.Mode == "traversal" {
		return r.traverse(ctx, req, query)
	}
	return r.collapsed(ctx, req, query)
}

// collapsed treats chunks and summary nodes as one flat set and
// searches across all levels at once. Node points only count when
// their generation is the committed one, so a staged or aborted
// rebuild stays invisible.
func (r *HierarchicalTreeRetriever) collapsed(ctx context.Context, req Request, query []float32) ([]Hit, error) {
	points, err := r.deps.Vector.Search(ctx, req.Collection, query, req.TopK*2, baseFilter(req))
	if err != nil {
		return nil, err
	}

	for _, kbID := range req.KBIDs {
		gen, err := r.deps.Store.CurrentHierarchyGeneration(ctx, req.TenantID, kbID)
		if err != nil {
			return nil, err
		}
		if gen == 0 {
			continue
		}
		meta := map[string]any{"generation": gen}
		for k, v := range req.Filter {
			meta[k] = v
		}
		nodes, err := r.deps.Vector.Search(ctx, req.Collection, query, req.TopK, vector.Filter{
			TenantID: req.TenantID,
			KBIDs:    []string{kbID},
			Kind:     vector.KindNode,
			Metadata: meta,
		})
		if err != nil {
			return nil, err
		}
		points = append(points, nodes...)
	}

	hits := make([]Hit, 0, len(points))
	for _, point := range points {
		hit := Hit{ScoredPoint: point, SourceTag: r.Name()}
		annotate(&hit, types.MetaTreeLevel, point.Payload.Level)
		hits = append(hits, hit)
	}
	hits = dedupeByChunk(hits)
	sortHits(hits)
	return truncate(hits, req.TopK), nil
}

// traverse starts at the tree roots and keeps the beam's best nodes at
// each level until it reaches leaf chunks.
func (r *HierarchicalTreeRetriever) traverse(ctx context.Context, req Request, query []float32) ([]Hit, error) {
	if len(req.KBIDs) != 1 {
		return nil, types.NewError(types.ErrValidation,
			"hierarchical_tree traversal searches exactly one knowledge base, got %d", len(req.KBIDs))
	}
	kbID := req.KBIDs[0]

	gen, err := r.deps.Store.CurrentHierarchyGeneration(ctx, req.TenantID, kbID)
	if err != nil {
		return nil, err
	}
	if gen == 0 {
		return nil, types.NewError(types.ErrKBConfigError,
			"knowledge base %q has no committed summary tree", kbID)
	}
	nodes, err := r.deps.Store.ListHierarchyNodes(ctx, req.TenantID, kbID, gen)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*types.HierarchyNode, len(nodes))
	maxLevel := 0
	perLevel := map[int]int{}
	for _, node := range nodes {
		byID[node.ID] = node
		perLevel[node.Level]++
		if node.Level > maxLevel {
			maxLevel = node.Level
		}
	}
	if maxLevel == 0 {
		return nil, types.NewError(types.ErrKBConfigError,
			"knowledge base %q summary tree has no levels above the leaves", kbID)
	}

	candidates := make(map[string]bool)
	for _, node := range nodes {
		if node.Level == maxLevel {
			candidates[node.ID] = true
		}
	}

	for level := maxLevel; level >= 1; level-- {
		ranked, err := r.rankNodes(ctx, req, query, kbID, level, perLevel[level], candidates)
		if err != nil {
			return nil, err
		}
		next := make(map[string]bool)
		for _, id := range ranked {
			for _, child := range byID[id].ChildIDs {
				next[child] = true
			}
		}
		candidates = next
	}

	// The surviving level-0 nodes point at their chunks; rank those by
	// dense similarity.
	chunkIDs := make(map[string]bool, len(candidates))
	for id := range candidates {
		if node, ok := byID[id]; ok && node.ChunkID != "" {
			chunkIDs[node.ChunkID] = true
		}
	}

	overfetch := 4 * req.TopK
	if overfetch < 50 {
		overfetch = 50
	}
	filter := baseFilter(req)
	points, err := r.deps.Vector.Search(ctx, req.Collection, query, overfetch, filter)
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, req.TopK)
	for _, point := range points {
		if !chunkIDs[point.Payload.ChunkID] {
			continue
		}
		hit := Hit{ScoredPoint: point, SourceTag: r.Name()}
		annotate(&hit, types.MetaTreeLevel, 0)
		hits = append(hits, hit)
	}
	hits = dedupeByChunk(hits)
	sortHits(hits)
	return truncate(hits, req.TopK), nil
}

// rankNodes scores the candidate nodes of one level and returns the
// beam's best ids.
func (r *HierarchicalTreeRetriever) rankNodes(ctx context.Context, req Request, query []float32, kbID string, level, levelSize int, candidates map[string]bool) ([]string, error) {
	filter := vector.Filter{
		TenantID: req.TenantID,
		KBIDs:    []string{kbID},
		Kind:     vector.KindNode,
		Level:    &level,
	}
	points, err := r.deps.Vector.Search(ctx, req.Collection, query, levelSize, filter)
	if err != nil {
		return nil, err
	}

	ranked := make([]string, 0, r.params.Beam)
	for _, point := range points {
		if !candidates[point.ID] {
			continue
		}
		ranked = append(ranked, point.ID)
		if len(ranked) == r.params.Beam {
			break
		}
	}
	return ranked, nil
}

// dedupeByChunk drops repeated chunk ids, keeping the highest score.
// Summary nodes have no chunk id and always pass.
func dedupeByChunk(hits []Hit) []Hit {
	best := make(map[string]int)
	out := hits[:0]
	for _, hit := range hits {
		id := hit.Payload.ChunkID
		if id == "" {
			out = append(out, hit)
			continue
		}
		if i, ok := best[id]; ok {
			if hit.Score > out[i].Score {
				out[i] = hit
			}
			continue
		}
		best[id] = len(out)
		out = append(out, hit)
	}
	return out
}
