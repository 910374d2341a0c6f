package sparse

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tessera-kb/tessera/pkg/config"
	"github.com/tessera-kb/tessera/pkg/vector"
)

func newTestIndex(normalization string) *Index {
	cfg := &config.SparseConfig{Normalization: normalization}
	cfg.SetDefaults()
	return NewIndex(cfg)
}

func seedIndex(t *testing.T, idx *Index) {
	t.Helper()
	require.NoError(t, idx.Upsert(context.Background(), []Record{
		{ID: "c1", Text: "kubernetes pod scheduling and affinity rules",
			Payload: vector.Payload{TenantID: "t1", KBID: "kb1", DocID: "d1", ChunkID: "c1"}},
		{ID: "c2", Text: "postgres query planner statistics",
			Payload: vector.Payload{TenantID: "t1", KBID: "kb1", DocID: "d1", ChunkID: "c2"}},
		{ID: "c3", Text: "kubernetes ingress controller setup",
			Payload: vector.Payload{TenantID: "t2", KBID: "kb9", DocID: "d9", ChunkID: "c3"}},
	}))
}

func TestSearchRanksLexicalMatches(t *testing.T) {
	idx := newTestIndex("sigmoid")
	seedIndex(t, idx)

	got, err := idx.Search(context.Background(), "kubernetes scheduling", 10,
		vector.Filter{TenantID: "t1"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "c1", got[0].ID)
	assert.Greater(t, got[0].Score, float32(0))
	assert.LessOrEqual(t, got[0].Score, float32(1))
}

func TestSearchTenantFilter(t *testing.T) {
	idx := newTestIndex("sigmoid")
	seedIndex(t, idx)

	// "kubernetes" appears in both tenants; only t2's record may come back.
	got, err := idx.Search(context.Background(), "kubernetes", 10,
		vector.Filter{TenantID: "t2"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "c3", got[0].ID)
}

func TestMinMaxNormalization(t *testing.T) {
	idx := newTestIndex("minmax")
	seedIndex(t, idx)

	got, err := idx.Search(context.Background(), "kubernetes planner", 10,
		vector.Filter{TenantID: "t1"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	for _, p := range got {
		assert.GreaterOrEqual(t, p.Score, float32(0))
		assert.LessOrEqual(t, p.Score, float32(1))
	}
	assert.Equal(t, float32(1), got[0].Score)
}

func TestUpsertReplacesRecord(t *testing.T) {
	idx := newTestIndex("sigmoid")
	seedIndex(t, idx)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, []Record{
		{ID: "c1", Text: "terraform state locking",
			Payload: vector.Payload{TenantID: "t1", KBID: "kb1", DocID: "d1", ChunkID: "c1"}},
	}))

	got, err := idx.Search(ctx, "kubernetes", 10, vector.Filter{TenantID: "t1"})
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = idx.Search(ctx, "terraform", 10, vector.Filter{TenantID: "t1"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "c1", got[0].ID)
}

func TestDeleteByFilter(t *testing.T) {
	idx := newTestIndex("sigmoid")
	seedIndex(t, idx)
	ctx := context.Background()

	require.NoError(t, idx.DeleteByFilter(ctx, vector.Filter{TenantID: "t1", DocID: "d1"}))

	got, err := idx.Search(ctx, "kubernetes postgres", 10, vector.Filter{TenantID: "t1"})
	require.NoError(t, err)
	assert.Empty(t, got)

	// The other tenant's records survive.
	got, err = idx.Search(ctx, "kubernetes", 10, vector.Filter{TenantID: "t2"})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestRebuildSwapsContents(t *testing.T) {
	idx := newTestIndex("sigmoid")
	seedIndex(t, idx)
	ctx := context.Background()

	err := idx.Rebuild(ctx, func(ctx context.Context) ([]Record, error) {
		// Queries degrade to dense-only while the rebuild runs.
		assert.False(t, idx.Ready())
		return []Record{
			{ID: "c9", Text: "redis cluster failover",
				Payload: vector.Payload{TenantID: "t1", KBID: "kb1", DocID: "d2", ChunkID: "c9"}},
		}, nil
	})
	require.NoError(t, err)
	require.True(t, idx.Ready())

	got, err := idx.Search(ctx, "kubernetes", 10, vector.Filter{TenantID: "t1"})
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = idx.Search(ctx, "redis failover", 10, vector.Filter{TenantID: "t1"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "c9", got[0].ID)
}
