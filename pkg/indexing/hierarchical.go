package indexing

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/tessera-kb/tessera/pkg/operator"
	"github.com/tessera-kb/tessera/pkg/types"
	"github.com/tessera-kb/tessera/pkg/vector"
)

// HierarchicalParams configures the summary-tree build.
type HierarchicalParams struct {
	StandardParams `mapstructure:",squash"`
	// Method selects the clustering algorithm: "kmeans" for hard
	// assignments or "soft" for probabilistic ones where borderline
	// content appears under more than one summary.
	Method string `mapstructure:"method"`
	// MaxLevels bounds the tree height above the leaves.
	MaxLevels int `mapstructure:"max_levels"`
	// Branching is the target cluster size; the cluster count per
	// level is the node count divided by it.
	Branching int `mapstructure:"branching"`
	// MinClusterSize stops the build before clusters get degenerate.
	MinClusterSize int `mapstructure:"min_cluster_size"`
	// SummaryMaxTokens bounds each cluster summary.
	SummaryMaxTokens int `mapstructure:"summary_max_tokens"`
}

// HierarchicalIndexer indexes chunks like the standard indexer, then
// maintains a recursive summary tree over the KB's indexed chunks.
// Each rebuild writes a fresh generation; the old tree stays readable
// until the new one is committed.
type HierarchicalIndexer struct {
	*StandardIndexer
	deps   Deps
	params HierarchicalParams
}

func NewHierarchicalIndexer(deps Deps, raw map[string]any) (*HierarchicalIndexer, error) {
	params := HierarchicalParams{
		StandardParams:   StandardParams{BatchSize: 32, MaxRetries: 3},
		Method:           "kmeans",
		MaxLevels:        3,
		Branching:        5,
		MinClusterSize:   2,
		SummaryMaxTokens: 300,
	}
	if err := operator.DecodeParams(raw, &params); err != nil {
		return nil, err
	}
	if params.MaxLevels < 1 || params.Branching < 2 {
		return nil, types.NewError(types.ErrValidation,
			"hierarchical indexer needs max_levels >= 1 and branching >= 2")
	}
	switch params.Method {
	case "kmeans", "soft":
	default:
		return nil, types.NewError(types.ErrValidation,
			"hierarchical clustering method must be kmeans or soft, got %q", params.Method)
	}
	if deps.LLM == nil {
		return nil, types.NewError(types.ErrKBConfigError,
			"hierarchical indexer requires an llm provider for cluster summaries")
	}
	standard := &StandardIndexer{deps: deps, params: params.StandardParams}
	return &HierarchicalIndexer{StandardIndexer: standard, deps: deps, params: params}, nil
}

// BuildTree rebuilds the KB's summary tree from its indexed chunks.
// Any failure leaves the previous generation in place.
func (ix *HierarchicalIndexer) BuildTree(ctx context.Context, collection string, kb *types.KnowledgeBase) error {
	chunks, err := ix.deps.Store.ListChunksByStatus(ctx, kb.TenantID, kb.ID, types.IndexingDone)
	if err != nil {
		return err
	}
	if len(chunks) < 2 {
		return nil
	}

	prev, err := ix.deps.Store.CurrentHierarchyGeneration(ctx, kb.TenantID, kb.ID)
	if err != nil {
		return err
	}
	gen := prev + 1

	// A crashed build may have left staged records at this generation;
	// clear them before building anew.
	ix.discardGeneration(ctx, collection, kb, gen)

	leaves := make([]*types.HierarchyNode, len(chunks))
	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		leaves[i] = &types.HierarchyNode{
			ID:         uuid.NewString(),
			TenantID:   kb.TenantID,
			KBID:       kb.ID,
			Level:      0,
			Text:       chunk.Text,
			ChunkID:    chunk.ID,
			Generation: gen,
		}
		texts[i] = embedInput(chunk)
	}

	vectors, err := ix.deps.Embedder.Embed(ctx, texts)
	if err != nil {
		return err
	}

	all := append([]*types.HierarchyNode{}, leaves...)
	var summaryNodes []*types.HierarchyNode
	var summaryVecs [][]float32
	current, currentVecs := leaves, vectors
	for level := 1; level <= ix.params.MaxLevels; level++ {
		if len(current) < 2*ix.params.MinClusterSize {
			break
		}
		k := (len(current) + ix.params.Branching - 1) / ix.params.Branching
		if k < 2 {
			break
		}

		clusters := ix.cluster(currentVecs, k)
		next := make([]*types.HierarchyNode, 0, len(clusters))
		summaries := make([]string, 0, len(clusters))
		for _, members := range clusters {
			childIDs := make([]string, len(members))
			memberTexts := make([]string, len(members))
			for i, m := range members {
				childIDs[i] = current[m].ID
				memberTexts[i] = current[m].Text
			}
			summary, err := ix.summarizeCluster(ctx, memberTexts)
			if err != nil {
				return err
			}
			next = append(next, &types.HierarchyNode{
				ID:         uuid.NewString(),
				TenantID:   kb.TenantID,
				KBID:       kb.ID,
				Level:      level,
				Text:       summary,
				ChildIDs:   childIDs,
				Generation: gen,
			})
			summaries = append(summaries, summary)
		}

		nextVecs, err := ix.deps.Embedder.Embed(ctx, summaries)
		if err != nil {
			return err
		}
		summaryNodes = append(summaryNodes, next...)
		summaryVecs = append(summaryVecs, nextVecs...)
		all = append(all, next...)
		current, currentVecs = next, nextVecs
		if len(clusters) < 2 {
			break
		}
	}

	// Nothing reaches the vector store until every level has built, and
	// a failure after the upsert rolls the staged generation back, so
	// readers only ever see committed trees.
	if err := ix.upsertNodePoints(ctx, collection, summaryNodes, summaryVecs, gen); err != nil {
		return err
	}
	if err := ix.deps.Store.CreateHierarchyNodes(ctx, all); err != nil {
		ix.discardGeneration(ctx, collection, kb, gen)
		return err
	}
	if err := ix.deps.Store.CommitHierarchyGeneration(ctx, kb.TenantID, kb.ID, gen); err != nil {
		ix.discardGeneration(ctx, collection, kb, gen)
		return err
	}

	// Old generations are gone the moment the new one is committed.
	if prev > 0 {
		if err := ix.deps.Store.DeleteHierarchyBefore(ctx, kb.TenantID, kb.ID, gen); err != nil {
			return err
		}
		if err := ix.deps.Vector.DeleteByFilter(ctx, collection, vector.Filter{
			TenantID: kb.TenantID,
			KBIDs:    []string{kb.ID},
			Kind:     vector.KindNode,
			Metadata: map[string]any{"generation": prev},
		}); err != nil {
			return err
		}
	}
	return nil
}

func (ix *HierarchicalIndexer) cluster(vectors [][]float32, k int) [][]int {
	if ix.params.Method == "soft" {
		return softCluster(vectors, k, 10)
	}
	return kmeans(vectors, k, 10)
}

// discardGeneration removes a staged generation that never committed.
// Best effort; leftovers carry a generation no reader resolves to and
// are overwritten by the next rebuild's cleanup.
func (ix *HierarchicalIndexer) discardGeneration(ctx context.Context, collection string, kb *types.KnowledgeBase, gen int64) {
	if err := ix.deps.Vector.DeleteByFilter(ctx, collection, vector.Filter{
		TenantID: kb.TenantID,
		KBIDs:    []string{kb.ID},
		Kind:     vector.KindNode,
		Metadata: map[string]any{"generation": gen},
	}); err != nil {
		slog.Warn("failed to discard staged tree points",
			"kb_id", kb.ID, "generation", gen, "error", err)
	}
	if err := ix.deps.Store.DeleteHierarchyGeneration(ctx, kb.TenantID, kb.ID, gen); err != nil {
		slog.Warn("failed to discard staged tree nodes",
			"kb_id", kb.ID, "generation", gen, "error", err)
	}
}

func (ix *HierarchicalIndexer) upsertNodePoints(ctx context.Context, collection string, nodes []*types.HierarchyNode, vectors [][]float32, gen int64) error {
	if len(nodes) == 0 {
		return nil
	}
	points := make([]vector.Point, len(nodes))
	for i, node := range nodes {
		points[i] = vector.Point{
			ID:     node.ID,
			Vector: vectors[i],
			Payload: vector.Payload{
				TenantID: node.TenantID,
				KBID:     node.KBID,
				ChunkID:  node.ChunkID,
				Text:     node.Text,
				Kind:     vector.KindNode,
				Level:    node.Level,
				Metadata: map[string]any{"generation": gen},
				// Summary nodes aggregate many documents; they stay
				// public and trimming happens on the leaf chunks they
				// resolve to.
				Sensitivity: types.SensitivityPublic,
			},
		}
	}
	return ix.deps.Vector.Upsert(ctx, collection, points)
}

func (ix *HierarchicalIndexer) summarizeCluster(ctx context.Context, texts []string) (string, error) {
	prompt := fmt.Sprintf(`Summarize the common themes of the following passages in a few sentences. Reply with the summary only.

%s`, strings.Join(texts, "\n---\n"))
	summary, err := ix.deps.LLM.Complete(ctx, prompt, ix.params.SummaryMaxTokens)
	if err != nil {
		return "", types.WrapError(types.ErrIndexingFailed, err, "cluster summarization failed")
	}
	return strings.TrimSpace(summary), nil
}
