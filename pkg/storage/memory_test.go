package storage

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tessera-kb/tessera/pkg/types"
)

func seedDocument(t *testing.T, store Store, tenantID, kbID, docID string, chunkCount int) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, store.CreateDocument(ctx, &types.Document{
		ID: docID, TenantID: tenantID, KBID: kbID, Title: docID,
		SummaryStatus: types.SummaryPending, Sensitivity: types.SensitivityPublic,
	}))

	chunks := make([]*types.Chunk, chunkCount)
	for i := range chunks {
		chunks[i] = &types.Chunk{
			ID:       fmt.Sprintf("%s-c%d", docID, i),
			TenantID: tenantID, KBID: kbID, DocID: docID,
			Ordinal: i, Text: fmt.Sprintf("chunk %d", i),
			Status: types.IndexingPending,
		}
	}
	require.NoError(t, store.CreateChunks(ctx, chunks))
}

func TestMemoryStoreTenantScoping(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.CreateKnowledgeBase(ctx, &types.KnowledgeBase{ID: "kb1", TenantID: "t1"}))

	kb, err := store.GetKnowledgeBase(ctx, "t1", "kb1")
	require.NoError(t, err)
	assert.Equal(t, "kb1", kb.ID)

	// Another tenant sees KB_NOT_FOUND, not a permission error, so
	// existence never leaks.
	_, err = store.GetKnowledgeBase(ctx, "t2", "kb1")
	assert.Equal(t, types.ErrKBNotFound, types.CodeOf(err))

	seedDocument(t, store, "t1", "kb1", "doc1", 2)
	_, err = store.GetDocument(ctx, "t2", "doc1")
	assert.Equal(t, types.ErrDocNotFound, types.CodeOf(err))

	chunks, err := store.GetChunksByIDs(ctx, "t2", []string{"doc1-c0"})
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestMemoryStoreChunkStatusLifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	seedDocument(t, store, "t1", "kb1", "doc1", 3)

	require.NoError(t, store.UpdateChunkStatus(ctx, "t1", "doc1-c0", types.IndexingRunning, ""))
	require.NoError(t, store.UpdateChunkStatus(ctx, "t1", "doc1-c0", types.IndexingDone, ""))
	require.NoError(t, store.UpdateChunkStatus(ctx, "t1", "doc1-c1", types.IndexingFailed, "embed failed"))
	require.NoError(t, store.IncrementChunkRetry(ctx, "t1", "doc1-c1"))

	count, err := store.CountIndexedChunks(ctx, "t1", "kb1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	failed, err := store.ListChunksByStatus(ctx, "t1", "kb1", types.IndexingFailed)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "doc1-c1", failed[0].ID)
	assert.Equal(t, "embed failed", failed[0].IndexError)
	assert.Equal(t, 1, failed[0].RetryCount)
}

func TestMemoryStoreChunkRange(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	seedDocument(t, store, "t1", "kb1", "doc1", 5)

	chunks, err := store.ListChunkRange(ctx, "t1", "doc1", 1, 3)
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	for i, chunk := range chunks {
		assert.Equal(t, i+1, chunk.Ordinal)
	}

	// Range clamping happens naturally at document boundaries.
	chunks, err = store.ListChunkRange(ctx, "t1", "doc1", 3, 99)
	require.NoError(t, err)
	assert.Len(t, chunks, 2)
}

func TestMemoryStoreDeleteCascade(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	seedDocument(t, store, "t1", "kb1", "doc1", 2)
	seedDocument(t, store, "t1", "kb1", "doc2", 2)

	require.NoError(t, store.DeleteDocumentCascade(ctx, "t1", "doc1"))

	_, err := store.GetDocument(ctx, "t1", "doc1")
	assert.Equal(t, types.ErrDocNotFound, types.CodeOf(err))
	chunks, err := store.ListChunksForDocument(ctx, "t1", "doc1")
	require.NoError(t, err)
	assert.Empty(t, chunks)

	// Sibling documents are untouched.
	chunks, err = store.ListChunksForDocument(ctx, "t1", "doc2")
	require.NoError(t, err)
	assert.Len(t, chunks, 2)
}

func TestMemoryStoreHierarchyGenerations(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	gen, err := store.CurrentHierarchyGeneration(ctx, "t1", "kb1")
	require.NoError(t, err)
	assert.Zero(t, gen)

	require.NoError(t, store.CreateHierarchyNodes(ctx, []*types.HierarchyNode{
		{ID: "n1", TenantID: "t1", KBID: "kb1", Level: 0, ChunkID: "c1", Generation: 1},
		{ID: "n2", TenantID: "t1", KBID: "kb1", Level: 1, ChildIDs: []string{"n1"}, Generation: 1},
	}))
	require.NoError(t, store.CommitHierarchyGeneration(ctx, "t1", "kb1", 1))

	// A rebuild writes generation 2 while generation 1 stays readable.
	require.NoError(t, store.CreateHierarchyNodes(ctx, []*types.HierarchyNode{
		{ID: "n3", TenantID: "t1", KBID: "kb1", Level: 0, ChunkID: "c1", Generation: 2},
	}))
	old, err := store.ListHierarchyNodes(ctx, "t1", "kb1", 1)
	require.NoError(t, err)
	assert.Len(t, old, 2)

	require.NoError(t, store.CommitHierarchyGeneration(ctx, "t1", "kb1", 2))
	gen, err = store.CurrentHierarchyGeneration(ctx, "t1", "kb1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), gen)

	require.NoError(t, store.DeleteHierarchyBefore(ctx, "t1", "kb1", 2))
	old, err = store.ListHierarchyNodes(ctx, "t1", "kb1", 1)
	require.NoError(t, err)
	assert.Empty(t, old)

	// A staged generation that never commits can be rolled back without
	// touching the committed one.
	require.NoError(t, store.CreateHierarchyNodes(ctx, []*types.HierarchyNode{
		{ID: "n4", TenantID: "t1", KBID: "kb1", Level: 0, ChunkID: "c1", Generation: 3},
	}))
	require.NoError(t, store.DeleteHierarchyGeneration(ctx, "t1", "kb1", 3))
	staged, err := store.ListHierarchyNodes(ctx, "t1", "kb1", 3)
	require.NoError(t, err)
	assert.Empty(t, staged)
	kept, err := store.ListHierarchyNodes(ctx, "t1", "kb1", 2)
	require.NoError(t, err)
	assert.Len(t, kept, 1)
}

func TestSQLRebind(t *testing.T) {
	pg := &SQLStore{dialect: "postgres"}
	assert.Equal(t,
		`SELECT id FROM chunks WHERE tenant_id = $1 AND kb_id = $2`,
		pg.rebind(`SELECT id FROM chunks WHERE tenant_id = ? AND kb_id = ?`))

	lite := &SQLStore{dialect: "sqlite"}
	assert.Equal(t,
		`SELECT id FROM chunks WHERE tenant_id = ?`,
		lite.rebind(`SELECT id FROM chunks WHERE tenant_id = ?`))
}
