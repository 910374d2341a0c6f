package indexing

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tessera-kb/tessera/pkg/config"
	"github.com/tessera-kb/tessera/pkg/embedder"
	"github.com/tessera-kb/tessera/pkg/sparse"
	"github.com/tessera-kb/tessera/pkg/storage"
	"github.com/tessera-kb/tessera/pkg/types"
	"github.com/tessera-kb/tessera/pkg/vector"
)

// flakyEmbedder fails any batch containing a marked text.
type flakyEmbedder struct {
	embedder.Embedder
	failOn map[string]bool
}

func (f *flakyEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	for _, text := range texts {
		if f.failOn[text] {
			return nil, errors.New("embedding backend down")
		}
	}
	return f.Embedder.Embed(ctx, texts)
}

type scriptedLLM struct {
	calls int
}

func (s *scriptedLLM) Complete(_ context.Context, _ string, _ int) (string, error) {
	s.calls++
	return fmt.Sprintf("summary %d", s.calls), nil
}

func (s *scriptedLLM) Model() string { return "scripted" }

// failingLLM serves a fixed number of summaries, then errors.
type failingLLM struct {
	scriptedLLM
	failAfter int
}

func (f *failingLLM) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if f.calls >= f.failAfter {
		return "", errors.New("llm backend down")
	}
	return f.scriptedLLM.Complete(ctx, prompt, maxTokens)
}

func newTestDeps(t *testing.T) Deps {
	t.Helper()
	cfg := &config.SparseConfig{}
	cfg.SetDefaults()
	return Deps{
		Store:    storage.NewMemoryStore(),
		Vector:   vector.NewMemory(),
		Sparse:   sparse.NewIndex(cfg),
		Embedder: embedder.NewBagOfWords(64),
		LLM:      &scriptedLLM{},
	}
}

func seedDoc(t *testing.T, deps Deps, kb *types.KnowledgeBase, docID string, texts []string) (*types.Document, []*types.Chunk) {
	t.Helper()
	ctx := context.Background()

	doc := &types.Document{
		ID: docID, TenantID: kb.TenantID, KBID: kb.ID, Title: docID,
		SummaryStatus: types.SummaryPending,
		Sensitivity:   types.SensitivityRestricted,
		ACL:           types.ACL{AllowUsers: []string{"alice"}},
	}
	require.NoError(t, deps.Store.CreateDocument(ctx, doc))

	chunks := make([]*types.Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = &types.Chunk{
			ID:       fmt.Sprintf("%s-c%d", docID, i),
			TenantID: kb.TenantID, KBID: kb.ID, DocID: docID,
			Ordinal: i, Text: text, Status: types.IndexingPending,
		}
	}
	require.NoError(t, deps.Store.CreateChunks(ctx, chunks))
	return doc, chunks
}

func testKB(sparseEnabled bool) *types.KnowledgeBase {
	return &types.KnowledgeBase{
		ID: "kb1", TenantID: "t1",
		Config: types.KBConfig{SparseEnabled: sparseEnabled},
	}
}

func TestStandardIndexerIndexesChunks(t *testing.T) {
	deps := newTestDeps(t)
	ix, err := NewStandardIndexer(deps, nil)
	require.NoError(t, err)

	kb := testKB(true)
	doc, chunks := seedDoc(t, deps, kb, "d1", []string{
		"postgres vacuum tuning",
		"kubernetes pod eviction",
	})

	ctx := context.Background()
	report, err := ix.IndexDocument(ctx, "chunks", kb, doc, chunks)
	require.NoError(t, err)
	assert.Equal(t, Report{Indexed: 2}, report)

	count, err := deps.Store.CountIndexedChunks(ctx, "t1", "kb1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	// The dense point carries the document's ACL snapshot.
	qv, err := deps.Embedder.Embed(ctx, []string{"postgres vacuum"})
	require.NoError(t, err)
	hits, err := deps.Vector.Search(ctx, "chunks", qv[0], 1, vector.Filter{TenantID: "t1"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "d1-c0", hits[0].ID)
	assert.Equal(t, types.SensitivityRestricted, hits[0].Payload.Sensitivity)
	assert.Equal(t, []string{"alice"}, hits[0].Payload.ACL.AllowUsers)

	// Sparse records mirror the same payload.
	sp, err := deps.Sparse.Search(ctx, "kubernetes eviction", 5, vector.Filter{TenantID: "t1"})
	require.NoError(t, err)
	require.Len(t, sp, 1)
	assert.Equal(t, "d1-c1", sp[0].ID)
	assert.Equal(t, []string{"alice"}, sp[0].Payload.ACL.AllowUsers)
}

func TestStandardIndexerPartialFailure(t *testing.T) {
	deps := newTestDeps(t)
	deps.Embedder = &flakyEmbedder{
		Embedder: deps.Embedder,
		failOn:   map[string]bool{"bad chunk": true},
	}
	ix, err := NewStandardIndexer(deps, map[string]any{"batch_size": 1})
	require.NoError(t, err)

	kb := testKB(false)
	doc, chunks := seedDoc(t, deps, kb, "d1", []string{"good chunk", "bad chunk", "another good chunk"})

	ctx := context.Background()
	report, err := ix.IndexDocument(ctx, "chunks", kb, doc, chunks)
	require.NoError(t, err)
	assert.Equal(t, Report{Indexed: 2, Failed: 1}, report)

	// Partial success is a resting state, recorded per chunk.
	failed, err := deps.Store.ListChunksByStatus(ctx, "t1", "kb1", types.IndexingFailed)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "d1-c1", failed[0].ID)
	assert.Equal(t, "embedding backend down", failed[0].IndexError)
	assert.Equal(t, 1, failed[0].RetryCount)
}

func TestRetryFailedRespectsCap(t *testing.T) {
	deps := newTestDeps(t)
	flaky := &flakyEmbedder{
		Embedder: deps.Embedder,
		failOn:   map[string]bool{"bad chunk": true},
	}
	deps.Embedder = flaky
	ix, err := NewStandardIndexer(deps, map[string]any{"batch_size": 1, "max_retries": 2})
	require.NoError(t, err)

	kb := testKB(false)
	doc, chunks := seedDoc(t, deps, kb, "d1", []string{"good chunk", "bad chunk"})
	ctx := context.Background()

	_, err = ix.IndexDocument(ctx, "chunks", kb, doc, chunks)
	require.NoError(t, err)

	// First retry still fails and burns the second attempt.
	report, err := ix.RetryFailed(ctx, "chunks", kb, nil)
	require.NoError(t, err)
	assert.Equal(t, Report{Failed: 1}, report)

	// The cap is reached; nothing is eligible even though the backend
	// recovered.
	flaky.failOn = nil
	report, err = ix.RetryFailed(ctx, "chunks", kb, nil)
	require.NoError(t, err)
	assert.Equal(t, Report{}, report)
}

func TestRetryFailedRecovers(t *testing.T) {
	deps := newTestDeps(t)
	flaky := &flakyEmbedder{
		Embedder: deps.Embedder,
		failOn:   map[string]bool{"bad chunk": true},
	}
	deps.Embedder = flaky
	ix, err := NewStandardIndexer(deps, map[string]any{"batch_size": 1})
	require.NoError(t, err)

	kb := testKB(false)
	doc, chunks := seedDoc(t, deps, kb, "d1", []string{"good chunk", "bad chunk"})
	ctx := context.Background()

	_, err = ix.IndexDocument(ctx, "chunks", kb, doc, chunks)
	require.NoError(t, err)

	flaky.failOn = nil
	report, err := ix.RetryFailed(ctx, "chunks", kb, nil)
	require.NoError(t, err)
	assert.Equal(t, Report{Indexed: 1}, report)

	count, err := deps.Store.CountIndexedChunks(ctx, "t1", "kb1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	// Retrying with everything indexed is a no-op.
	report, err = ix.RetryFailed(ctx, "chunks", kb, nil)
	require.NoError(t, err)
	assert.Equal(t, Report{}, report)
}

func TestHierarchicalBuildTree(t *testing.T) {
	deps := newTestDeps(t)
	ix, err := NewHierarchicalIndexer(deps, map[string]any{"branching": 3})
	require.NoError(t, err)

	kb := testKB(false)
	doc, chunks := seedDoc(t, deps, kb, "d1", []string{
		"postgres vacuum tuning and autovacuum thresholds",
		"postgres query planner and index statistics",
		"postgres replication slots and wal retention",
		"kubernetes pod scheduling and node affinity",
		"kubernetes ingress controllers and load balancing",
		"kubernetes horizontal pod autoscaling",
	})

	ctx := context.Background()
	_, err = ix.IndexDocument(ctx, "chunks", kb, doc, chunks)
	require.NoError(t, err)
	require.NoError(t, ix.BuildTree(ctx, "chunks", kb))

	gen, err := deps.Store.CurrentHierarchyGeneration(ctx, "t1", "kb1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), gen)

	nodes, err := deps.Store.ListHierarchyNodes(ctx, "t1", "kb1", gen)
	require.NoError(t, err)

	byLevel := map[int]int{}
	for _, node := range nodes {
		byLevel[node.Level]++
		if node.Level == 0 {
			assert.NotEmpty(t, node.ChunkID)
		} else {
			assert.NotEmpty(t, node.ChildIDs)
			assert.Contains(t, node.Text, "summary")
		}
	}
	assert.Equal(t, 6, byLevel[0])
	assert.Greater(t, byLevel[1], 0)

	// Summary nodes are searchable as their own kind.
	qv, err := deps.Embedder.Embed(ctx, []string{"summary"})
	require.NoError(t, err)
	hits, err := deps.Vector.Search(ctx, "chunks", qv[0], 10,
		vector.Filter{TenantID: "t1", Kind: vector.KindNode})
	require.NoError(t, err)
	assert.Len(t, hits, byLevel[1]+byLevel[2])

	// A rebuild replaces the whole generation.
	require.NoError(t, ix.BuildTree(ctx, "chunks", kb))
	gen, err = deps.Store.CurrentHierarchyGeneration(ctx, "t1", "kb1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), gen)

	old, err := deps.Store.ListHierarchyNodes(ctx, "t1", "kb1", 1)
	require.NoError(t, err)
	assert.Empty(t, old)

	hits, err = deps.Vector.Search(ctx, "chunks", qv[0], 50,
		vector.Filter{TenantID: "t1", Kind: vector.KindNode})
	require.NoError(t, err)
	for _, hit := range hits {
		assert.EqualValues(t, 2, hit.Payload.Metadata["generation"])
	}
}

func TestHierarchicalBuildTreeFailureLeavesNoTrace(t *testing.T) {
	deps := newTestDeps(t)
	llm := &failingLLM{failAfter: 5}
	deps.LLM = llm
	ix, err := NewHierarchicalIndexer(deps, map[string]any{"branching": 2})
	require.NoError(t, err)

	kb := testKB(false)
	doc, chunks := seedDoc(t, deps, kb, "d1", []string{
		"alpha anchor rigging notes",
		"bravo ballast trim notes",
		"charlie compass heading notes",
		"delta dock mooring notes",
		"echo engine cooling notes",
		"foxtrot fuel transfer notes",
		"golf galley storage notes",
		"hotel hull painting notes",
		"india inventory audit notes",
	})

	ctx := context.Background()
	_, err = ix.IndexDocument(ctx, "chunks", kb, doc, chunks)
	require.NoError(t, err)

	// The first level's summaries succeed; the backend dies during the
	// second level.
	err = ix.BuildTree(ctx, "chunks", kb)
	require.Error(t, err)

	gen, err := deps.Store.CurrentHierarchyGeneration(ctx, "t1", "kb1")
	require.NoError(t, err)
	assert.Zero(t, gen)

	// A flat search across all kinds sees only chunk points; the aborted
	// build left nothing behind for collapsed retrieval to pick up.
	qv, err := deps.Embedder.Embed(ctx, []string{"summary"})
	require.NoError(t, err)
	hits, err := deps.Vector.Search(ctx, "chunks", qv[0], 50, vector.Filter{TenantID: "t1"})
	require.NoError(t, err)
	for _, hit := range hits {
		assert.Equal(t, vector.KindChunk, hit.Payload.Kind)
	}

	staged, err := deps.Store.ListHierarchyNodes(ctx, "t1", "kb1", 1)
	require.NoError(t, err)
	assert.Empty(t, staged)

	// Once the backend recovers the rebuild commits normally.
	llm.failAfter = 1 << 30
	require.NoError(t, ix.BuildTree(ctx, "chunks", kb))
	gen, err = deps.Store.CurrentHierarchyGeneration(ctx, "t1", "kb1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), gen)

	hits, err = deps.Vector.Search(ctx, "chunks", qv[0], 50,
		vector.Filter{TenantID: "t1", Kind: vector.KindNode})
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	for _, hit := range hits {
		assert.EqualValues(t, 1, hit.Payload.Metadata["generation"])
	}
}

func TestHierarchicalSoftClusteringBuildsTree(t *testing.T) {
	deps := newTestDeps(t)
	ix, err := NewHierarchicalIndexer(deps, map[string]any{"branching": 3, "method": "soft"})
	require.NoError(t, err)

	kb := testKB(false)
	doc, chunks := seedDoc(t, deps, kb, "d1", []string{
		"postgres vacuum tuning and autovacuum thresholds",
		"postgres query planner and index statistics",
		"postgres replication slots and wal retention",
		"kubernetes pod scheduling and node affinity",
		"kubernetes ingress controllers and load balancing",
		"kubernetes horizontal pod autoscaling",
	})

	ctx := context.Background()
	_, err = ix.IndexDocument(ctx, "chunks", kb, doc, chunks)
	require.NoError(t, err)
	require.NoError(t, ix.BuildTree(ctx, "chunks", kb))

	gen, err := deps.Store.CurrentHierarchyGeneration(ctx, "t1", "kb1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), gen)

	nodes, err := deps.Store.ListHierarchyNodes(ctx, "t1", "kb1", gen)
	require.NoError(t, err)

	leafByChunk := map[string]string{}
	covered := map[string]bool{}
	for _, node := range nodes {
		if node.Level == 0 {
			leafByChunk[node.ChunkID] = node.ID
		}
	}
	for _, node := range nodes {
		if node.Level > 0 {
			for _, child := range node.ChildIDs {
				covered[child] = true
			}
		}
	}
	require.Len(t, leafByChunk, len(chunks))

	// Soft assignments may place a leaf under several summaries, but
	// never under none.
	for chunkID, leafID := range leafByChunk {
		assert.True(t, covered[leafID], "chunk %s has no summary parent", chunkID)
	}
}

func TestHierarchicalRejectsUnknownMethod(t *testing.T) {
	deps := newTestDeps(t)
	_, err := NewHierarchicalIndexer(deps, map[string]any{"method": "voronoi"})
	assert.Equal(t, types.ErrValidation, types.CodeOf(err))
}

func TestSoftClusterCoversEveryVector(t *testing.T) {
	vectors := [][]float32{
		{1, 0, 0}, {0.9, 0.1, 0}, {0.95, 0.05, 0},
		{0, 1, 0}, {0.1, 0.9, 0}, {0, 0.95, 0.05},
	}
	clusters := softCluster(vectors, 2, 10)
	require.Len(t, clusters, 2)

	seen := map[int]bool{}
	for _, members := range clusters {
		assert.NotEmpty(t, members)
		for _, m := range members {
			seen[m] = true
		}
	}
	for i := range vectors {
		assert.True(t, seen[i], "vector %d unassigned", i)
	}
}
