package vector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tessera-kb/tessera/pkg/config"
	"github.com/tessera-kb/tessera/pkg/types"
)

func TestCollectionFor(t *testing.T) {
	cfg := &config.VectorConfig{SharedCollection: "tessera_chunks", AutoThreshold: 10000}

	shared := &types.Tenant{ID: "acme", Isolation: types.IsolationShared}
	assert.Equal(t, "tessera_chunks", CollectionFor(shared, cfg))

	dedicated := &types.Tenant{ID: "acme", Isolation: types.IsolationPerTenant}
	assert.Equal(t, "tessera_acme", CollectionFor(dedicated, cfg))

	auto := &types.Tenant{ID: "acme", Isolation: types.IsolationAuto, DocCount: 9999}
	assert.Equal(t, "tessera_chunks", CollectionFor(auto, cfg))
	auto.DocCount = 10000
	assert.Equal(t, "tessera_acme", CollectionFor(auto, cfg))
}

func seedPoints(t *testing.T, p Provider, collection string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, p.EnsureCollection(ctx, collection, 3))
	require.NoError(t, p.Upsert(ctx, collection, []Point{
		{ID: "a", Vector: []float32{1, 0, 0}, Payload: Payload{
			TenantID: "t1", KBID: "kb1", DocID: "d1", ChunkID: "a", Kind: KindChunk,
		}},
		{ID: "b", Vector: []float32{0.9, 0.1, 0}, Payload: Payload{
			TenantID: "t1", KBID: "kb2", DocID: "d2", ChunkID: "b", Kind: KindChunk,
		}},
		{ID: "c", Vector: []float32{0, 1, 0}, Payload: Payload{
			TenantID: "t2", KBID: "kb1", DocID: "d3", ChunkID: "c", Kind: KindChunk,
		}},
	}))
}

func TestMemorySearchFiltersTenant(t *testing.T) {
	p := NewMemory()
	seedPoints(t, p, "chunks")
	ctx := context.Background()

	got, err := p.Search(ctx, "chunks", []float32{1, 0, 0}, 10, Filter{TenantID: "t1"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "b", got[1].ID)

	// Tenant two only ever sees its own points regardless of similarity.
	got, err = p.Search(ctx, "chunks", []float32{1, 0, 0}, 10, Filter{TenantID: "t2"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "c", got[0].ID)
}

func TestMemorySearchKBScope(t *testing.T) {
	p := NewMemory()
	seedPoints(t, p, "chunks")

	got, err := p.Search(context.Background(), "chunks", []float32{1, 0, 0}, 10,
		Filter{TenantID: "t1", KBIDs: []string{"kb2"}})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].ID)
}

func TestMemoryDimensionMismatch(t *testing.T) {
	p := NewMemory()
	seedPoints(t, p, "chunks")
	ctx := context.Background()

	_, err := p.Search(ctx, "chunks", []float32{1, 0}, 10, Filter{TenantID: "t1"})
	assert.Equal(t, types.ErrEmbeddingDimMismatch, types.CodeOf(err))

	err = p.EnsureCollection(ctx, "chunks", 4)
	assert.Equal(t, types.ErrEmbeddingDimMismatch, types.CodeOf(err))
}

func TestMemoryDeleteByFilter(t *testing.T) {
	p := NewMemory()
	seedPoints(t, p, "chunks")
	ctx := context.Background()

	require.NoError(t, p.DeleteByFilter(ctx, "chunks", Filter{TenantID: "t1", DocID: "d1"}))

	got, err := p.Search(ctx, "chunks", []float32{1, 0, 0}, 10, Filter{TenantID: "t1"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].ID)
}

func TestFilterMetadataCoercion(t *testing.T) {
	f := Filter{TenantID: "t1", Metadata: map[string]any{"chunk_index": 3}}
	p := Payload{TenantID: "t1", Metadata: map[string]any{"chunk_index": float64(3)}}
	assert.True(t, f.Matches(p))

	f.Metadata["chunk_index"] = 4
	assert.False(t, f.Matches(p))
}
