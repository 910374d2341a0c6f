package postprocess

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tessera-kb/tessera/pkg/config"
	"github.com/tessera-kb/tessera/pkg/retrieval"
	"github.com/tessera-kb/tessera/pkg/storage"
	"github.com/tessera-kb/tessera/pkg/token"
	"github.com/tessera-kb/tessera/pkg/types"
	"github.com/tessera-kb/tessera/pkg/vector"
)

func makeHit(chunkID string, score float32, sensitivity types.SensitivityLevel, acl types.ACL) retrieval.Hit {
	return retrieval.Hit{ScoredPoint: vector.ScoredPoint{
		Point: vector.Point{
			ID: chunkID,
			Payload: vector.Payload{
				TenantID: "t1", KBID: "kb1", DocID: "d1", ChunkID: chunkID,
				Text: "text of " + chunkID, Sensitivity: sensitivity, ACL: acl,
			},
		},
		Score: score,
	}}
}

func readKey(identity types.Identity) *types.APIKey {
	return &types.APIKey{ID: "k1", TenantID: "t1", Role: types.RoleRead, Identity: identity}
}

func TestTrimACLPublicPasses(t *testing.T) {
	hits := []retrieval.Hit{
		makeHit("c1", 0.9, types.SensitivityPublic, types.ACL{}),
	}
	out, err := TrimACL(hits, readKey(types.Identity{User: "nobody"}))
	require.NoError(t, err)
	assert.Len(t, out, 1)
}

func TestTrimACLRestrictedNeedsMembership(t *testing.T) {
	acl := types.ACL{AllowRoles: []string{"sales"}}
	hits := []retrieval.Hit{
		makeHit("c1", 0.9, types.SensitivityRestricted, acl),
		makeHit("c2", 0.8, types.SensitivityPublic, types.ACL{}),
	}

	// A viewer without the role loses the restricted hit only.
	out, err := TrimACL(hits, readKey(types.Identity{User: "bob", Roles: []string{"viewer"}}))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "c2", out[0].Payload.ChunkID)

	// Role membership grants access.
	out, err = TrimACL(hits, readKey(types.Identity{User: "carol", Roles: []string{"sales"}}))
	require.NoError(t, err)
	assert.Len(t, out, 2)

	// Clearance bypasses ACL membership.
	out, err = TrimACL(hits, readKey(types.Identity{User: "dave", Clearance: types.ClearanceRestricted}))
	require.NoError(t, err)
	assert.Len(t, out, 2)
}

func TestTrimACLAdminBypass(t *testing.T) {
	hits := []retrieval.Hit{
		makeHit("c1", 0.9, types.SensitivityRestricted, types.ACL{AllowUsers: []string{"alice"}}),
	}
	key := &types.APIKey{ID: "k1", TenantID: "t1", Role: types.RoleAdmin}
	out, err := TrimACL(hits, key)
	require.NoError(t, err)
	assert.Len(t, out, 1)
}

func TestTrimACLAllTrimmedIsNoPermission(t *testing.T) {
	hits := []retrieval.Hit{
		makeHit("c1", 0.9, types.SensitivityRestricted, types.ACL{AllowRoles: []string{"sales"}}),
	}
	_, err := TrimACL(hits, readKey(types.Identity{User: "bob", Roles: []string{"viewer"}}))
	assert.Equal(t, types.ErrNoPermission, types.CodeOf(err))

	// An empty input stays empty without an error.
	out, err := TrimACL(nil, readKey(types.Identity{}))
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestTrimACLRestrictedEmptyACL(t *testing.T) {
	hits := []retrieval.Hit{
		makeHit("c1", 0.9, types.SensitivityRestricted, types.ACL{}),
	}
	// No ACL means no implicit allow below clearance.
	_, err := TrimACL(hits, readKey(types.Identity{User: "bob"}))
	assert.Equal(t, types.ErrNoPermission, types.CodeOf(err))

	out, err := TrimACL(hits, readKey(types.Identity{Clearance: types.ClearanceRestricted}))
	require.NoError(t, err)
	assert.Len(t, out, 1)
}

type fixedReranker struct {
	scores []float32
}

func (f *fixedReranker) Rerank(_ context.Context, _ string, candidates []string) ([]float32, error) {
	return f.scores[:len(candidates)], nil
}

func (f *fixedReranker) Model() string { return "fixed" }

func TestRerankMigratesVisualizationFields(t *testing.T) {
	first := makeHit("c1", 0.9, types.SensitivityPublic, types.ACL{})
	first.Payload.Metadata = map[string]any{
		types.MetaHydeQueries: []string{"q1", "q2"},
		types.MetaChunkIndex:  0,
	}
	second := makeHit("c2", 0.5, types.SensitivityPublic, types.ACL{})
	second.Payload.Metadata = map[string]any{types.MetaChunkIndex: 1}

	// The reranker inverts the order.
	out, err := Rerank(context.Background(), &fixedReranker{scores: []float32{0.1, 0.95}},
		"query", []retrieval.Hit{first, second}, 0)
	require.NoError(t, err)
	require.Len(t, out, 2)

	assert.Equal(t, "c2", out[0].Payload.ChunkID)
	assert.Equal(t, []string{"q1", "q2"}, out[0].Payload.Metadata[types.MetaHydeQueries])
	// The old top hit no longer carries the migrated fields.
	assert.NotContains(t, out[1].Payload.Metadata, types.MetaHydeQueries)
	// Structural metadata stays where it was.
	assert.Equal(t, 0, out[1].Payload.Metadata[types.MetaChunkIndex])
}

func seedNeighborDoc(t *testing.T, store storage.Store, n int) {
	t.Helper()
	chunks := make([]*types.Chunk, n)
	for i := range chunks {
		chunks[i] = &types.Chunk{
			ID: fmt.Sprintf("c%d", i), TenantID: "t1", KBID: "kb1", DocID: "d1",
			Ordinal: i, Text: fmt.Sprintf("chunk %d body", i),
			Status: types.IndexingDone,
		}
	}
	require.NoError(t, store.CreateChunks(context.Background(), chunks))
}

func TestExpandWindows(t *testing.T) {
	store := storage.NewMemoryStore()
	seedNeighborDoc(t, store, 5)
	p := &Pipeline{Store: store, Codec: token.NewApproxCodec()}

	hit := makeHit("c2", 0.9, types.SensitivityPublic, types.ACL{})
	hit.Payload.Text = "chunk 2 body"
	hit.Payload.Metadata = map[string]any{types.MetaChunkIndex: 2}
	hits := []retrieval.Hit{hit}

	cfg := config.WindowConfig{Enabled: true, Before: 1, After: 1, MaxTokens: 2000}
	require.NoError(t, p.ExpandWindows(context.Background(), hits, cfg))

	assert.Equal(t, "chunk 1 body", hits[0].ContextBefore)
	assert.Equal(t, "chunk 3 body", hits[0].ContextAfter)
	assert.Equal(t, "chunk 1 body\nchunk 2 body\nchunk 3 body", hits[0].ContextText)
}

func TestExpandWindowsDocumentBoundary(t *testing.T) {
	store := storage.NewMemoryStore()
	seedNeighborDoc(t, store, 3)
	p := &Pipeline{Store: store, Codec: token.NewApproxCodec()}

	hit := makeHit("c0", 0.9, types.SensitivityPublic, types.ACL{})
	hit.Payload.Text = "chunk 0 body"
	hit.Payload.Metadata = map[string]any{types.MetaChunkIndex: 0}
	hits := []retrieval.Hit{hit}

	cfg := config.WindowConfig{Enabled: true, Before: 2, After: 1, MaxTokens: 2000}
	require.NoError(t, p.ExpandWindows(context.Background(), hits, cfg))

	assert.Empty(t, hits[0].ContextBefore)
	assert.Equal(t, "chunk 1 body", hits[0].ContextAfter)
}

func TestExpandWindowsTokenCap(t *testing.T) {
	store := storage.NewMemoryStore()
	seedNeighborDoc(t, store, 5)
	p := &Pipeline{Store: store, Codec: token.NewApproxCodec()}

	hit := makeHit("c2", 0.9, types.SensitivityPublic, types.ACL{})
	hit.Payload.Text = "chunk 2 body"
	hit.Payload.Metadata = map[string]any{types.MetaChunkIndex: 2}
	hits := []retrieval.Hit{hit}

	// Budget covers the hit itself but no neighbors; the hit text is
	// kept intact and the expansion is dropped.
	cfg := config.WindowConfig{Enabled: true, Before: 2, After: 2, MaxTokens: 4}
	require.NoError(t, p.ExpandWindows(context.Background(), hits, cfg))

	assert.Empty(t, hits[0].ContextBefore)
	assert.Empty(t, hits[0].ContextAfter)
	assert.Equal(t, "chunk 2 body", hits[0].ContextText)
}
