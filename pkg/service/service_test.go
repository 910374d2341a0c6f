package service

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tessera-kb/tessera/pkg/chunking"
	"github.com/tessera-kb/tessera/pkg/config"
	"github.com/tessera-kb/tessera/pkg/embedder"
	"github.com/tessera-kb/tessera/pkg/enrichment"
	"github.com/tessera-kb/tessera/pkg/indexing"
	"github.com/tessera-kb/tessera/pkg/operator"
	"github.com/tessera-kb/tessera/pkg/retrieval"
	"github.com/tessera-kb/tessera/pkg/sparse"
	"github.com/tessera-kb/tessera/pkg/storage"
	"github.com/tessera-kb/tessera/pkg/types"
	"github.com/tessera-kb/tessera/pkg/vector"
)

// scriptedLLM answers hypothetical-passage and paraphrase prompts with
// fixed numbered lines built from the prompt's query words.
type scriptedLLM struct{}

func (s *scriptedLLM) Complete(_ context.Context, prompt string, _ int) (string, error) {
	// Echo the prompt's last line as three variants so dense search on
	// the generated text still overlaps the corpus.
	lines := strings.Split(strings.TrimSpace(prompt), "\n")
	seed := lines[len(lines)-1]
	return fmt.Sprintf("1. %s\n2. %s again\n3. %s once more", seed, seed, seed), nil
}

func (s *scriptedLLM) Model() string { return "scripted" }

// overlapReranker scores candidates by word overlap with the query.
type overlapReranker struct{}

func (r *overlapReranker) Rerank(_ context.Context, query string, candidates []string) ([]float32, error) {
	queryWords := map[string]bool{}
	for _, w := range strings.Fields(strings.ToLower(query)) {
		queryWords[w] = true
	}
	scores := make([]float32, len(candidates))
	for i, c := range candidates {
		for _, w := range strings.Fields(strings.ToLower(c)) {
			if queryWords[w] {
				scores[i]++
			}
		}
	}
	return scores, nil
}

func (r *overlapReranker) Model() string { return "overlap" }

func newTestService(t *testing.T) *Service {
	t.Helper()

	cfg := &config.Config{}
	cfg.Storage.Driver = "memory"
	cfg.SetDefaults()

	sparseCfg := &config.SparseConfig{}
	sparseCfg.SetDefaults()

	deps := Deps{
		Store:     storage.NewMemoryStore(),
		Vector:    vector.NewMemory(),
		Sparse:    sparse.NewIndex(sparseCfg),
		Directory: operator.NewDirectory(),
		Embedder:  embedder.NewBagOfWords(256),
		LLM:       &scriptedLLM{},
		Reranker:  &overlapReranker{},
	}
	require.NoError(t, chunking.Register(deps.Directory))
	require.NoError(t, enrichment.Register(deps.Directory, deps.LLM))
	require.NoError(t, indexing.Register(deps.Directory, indexing.Deps{
		Store: deps.Store, Vector: deps.Vector, Sparse: deps.Sparse,
		Embedder: deps.Embedder, LLM: deps.LLM,
	}))
	require.NoError(t, retrieval.Register(deps.Directory, retrieval.Deps{
		Store: deps.Store, Vector: deps.Vector, Sparse: deps.Sparse,
		Embedder: deps.Embedder, LLM: deps.LLM,
	}))

	return New(cfg, deps)
}

func testKBConfig(chunker, retriever types.OperatorRef, sparseEnabled bool) types.KBConfig {
	return types.KBConfig{
		Chunker:   chunker,
		Indexer:   types.OperatorRef{Name: "standard"},
		Retriever: retriever,
		Embedding: types.EmbeddingConfig{
			Provider: "mock", Model: "bag-of-words", Dimension: 256,
		},
		SparseEnabled: sparseEnabled,
	}
}

// bootstrap creates a tenant, one KB, and admin/write/read keys.
func bootstrap(t *testing.T, svc *Service, tenantID, kbID string, kbCfg types.KBConfig) (admin, write, read *types.APIKey) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, svc.deps.Store.CreateTenant(ctx, &types.Tenant{
		ID: tenantID, Status: types.TenantActive, Isolation: types.IsolationShared,
	}))

	admin = &types.APIKey{ID: tenantID + "-admin", TenantID: tenantID, Role: types.RoleAdmin}
	write = &types.APIKey{ID: tenantID + "-write", TenantID: tenantID, Role: types.RoleWrite}
	read = &types.APIKey{ID: tenantID + "-read", TenantID: tenantID, Role: types.RoleRead,
		Identity: types.Identity{User: "reader", Roles: []string{"viewer"}}}
	for _, key := range []*types.APIKey{admin, write, read} {
		require.NoError(t, svc.deps.Store.CreateAPIKey(ctx, key))
	}

	require.NoError(t, svc.CreateKnowledgeBase(ctx, admin, &types.KnowledgeBase{
		ID: kbID, Name: kbID, Config: kbCfg,
	}))
	return admin, write, read
}

func TestDenseRecall(t *testing.T) {
	svc := newTestService(t)
	_, write, read := bootstrap(t, svc, "t1", "kb1", testKBConfig(
		types.OperatorRef{Name: "recursive", Params: map[string]any{"chunk_size": 200}},
		types.OperatorRef{Name: "dense"},
		false,
	))
	ctx := context.Background()

	res, err := svc.Ingest(ctx, write, IngestRequest{
		KBID:    "kb1",
		Title:   "Aspirin",
		Content: "Aspirin is used to relieve pain. Pregnant women should not take it.",
	})
	require.NoError(t, err)
	assert.Equal(t, res.Chunks, res.Indexed)
	assert.Zero(t, res.Failed)

	topK := 3
	out, err := svc.Retrieve(ctx, read, RetrieveRequest{
		Query:     "Can pregnant women take aspirin?",
		KBIDs:     []string{"kb1"},
		Overrides: &config.Overrides{TopK: &topK},
	})
	require.NoError(t, err)
	require.NotEmpty(t, out.Hits)
	assert.Contains(t, out.Hits[0].Text, "Pregnant women should not take it")
	assert.Greater(t, out.Hits[0].Score, float32(0.5))
	assert.Equal(t, "dense", out.Model.Retriever)
	assert.Equal(t, "bag-of-words", out.Model.EmbeddingModel)
}

func TestACLTrimming(t *testing.T) {
	svc := newTestService(t)
	_, write, read := bootstrap(t, svc, "t1", "kb1", testKBConfig(
		types.OperatorRef{Name: "recursive", Params: map[string]any{"chunk_size": 200}},
		types.OperatorRef{Name: "dense"},
		false,
	))
	ctx := context.Background()

	_, err := svc.Ingest(ctx, write, IngestRequest{
		KBID:        "kb1",
		Title:       "Pricing",
		Content:     "Confidential pricing: $42.",
		Sensitivity: types.SensitivityRestricted,
		ACL:         types.ACL{AllowRoles: []string{"sales"}},
	})
	require.NoError(t, err)

	// The restricted document is the only match; a viewer gets an
	// explicit denial rather than silent emptiness.
	_, err = svc.Retrieve(ctx, read, RetrieveRequest{
		Query: "pricing", KBIDs: []string{"kb1"},
	})
	assert.Equal(t, types.ErrNoPermission, types.CodeOf(err))

	// A sales-role caller sees it.
	sales := &types.APIKey{ID: "t1-sales", TenantID: "t1", Role: types.RoleRead,
		Identity: types.Identity{User: "seller", Roles: []string{"sales"}}}
	require.NoError(t, svc.deps.Store.CreateAPIKey(ctx, sales))
	out, err := svc.Retrieve(ctx, sales, RetrieveRequest{
		Query: "pricing", KBIDs: []string{"kb1"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, out.Hits)
	assert.Contains(t, out.Hits[0].Text, "Confidential pricing")
}

func TestParentDocumentExpansion(t *testing.T) {
	svc := newTestService(t)
	_, write, read := bootstrap(t, svc, "t1", "kb1", testKBConfig(
		types.OperatorRef{Name: "parent_child", Params: map[string]any{
			"parent_chars": 200, "child_chars": 50,
		}},
		types.OperatorRef{Name: "parent_document"},
		false,
	))
	ctx := context.Background()

	_, err := svc.Ingest(ctx, write, IngestRequest{
		KBID:    "kb1",
		Title:   "Paragraphs",
		Content: "A. First paragraph here. B. Second paragraph here.",
	})
	require.NoError(t, err)

	topK := 1
	out, err := svc.Retrieve(ctx, read, RetrieveRequest{
		Query:     "First paragraph",
		KBIDs:     []string{"kb1"},
		Overrides: &config.Overrides{TopK: &topK},
	})
	require.NoError(t, err)
	require.Len(t, out.Hits, 1)
	hit := out.Hits[0]
	assert.Contains(t, hit.Text, "First paragraph")
	assert.Contains(t, hit.Text, "Second paragraph")
	assert.NotEmpty(t, hit.Metadata[types.MetaParentID])
}

func TestHydeVisibilityThroughRerank(t *testing.T) {
	svc := newTestService(t)
	_, write, read := bootstrap(t, svc, "t1", "kb1", testKBConfig(
		types.OperatorRef{Name: "paragraph"},
		types.OperatorRef{Name: "hyde", Params: map[string]any{
			"base": map[string]any{"name": "dense"},
		}},
		false,
	))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := svc.Ingest(ctx, write, IngestRequest{
			KBID:    "kb1",
			Title:   fmt.Sprintf("doc %d", i),
			Content: fmt.Sprintf("release notes item %d for the gadget", i),
		})
		require.NoError(t, err)
	}

	rerank := true
	out, err := svc.Retrieve(ctx, read, RetrieveRequest{
		Query:     "gadget release notes",
		KBIDs:     []string{"kb1"},
		Overrides: &config.Overrides{Rerank: &rerank},
	})
	require.NoError(t, err)
	require.NotEmpty(t, out.Hits)
	assert.NotEmpty(t, out.Hits[0].Metadata[types.MetaHydeQueries])
	assert.Equal(t, "overlap", out.Model.RerankModel)
	// Migrated fields appear exactly once.
	for _, hit := range out.Hits[1:] {
		assert.NotContains(t, hit.Metadata, types.MetaHydeQueries)
	}
}

func TestEmbeddingChangeGuard(t *testing.T) {
	svc := newTestService(t)
	kbCfg := testKBConfig(
		types.OperatorRef{Name: "paragraph"},
		types.OperatorRef{Name: "dense"},
		false,
	)
	admin, write, _ := bootstrap(t, svc, "t1", "kb1", kbCfg)
	ctx := context.Background()

	_, err := svc.Ingest(ctx, write, IngestRequest{
		KBID: "kb1", Title: "doc", Content: "some indexed content",
	})
	require.NoError(t, err)

	changed := kbCfg
	changed.Embedding.Model = "other-model"
	err = svc.UpdateKBConfig(ctx, admin, "kb1", changed)
	assert.Equal(t, types.ErrKBConfigError, types.CodeOf(err))

	// Identical embedding with a different retriever passes.
	retuned := kbCfg
	retuned.Retriever = types.OperatorRef{Name: "dense", Params: map[string]any{"top_k": 5}}
	require.NoError(t, svc.UpdateKBConfig(ctx, admin, "kb1", retuned))
}

func TestTenantIsolation(t *testing.T) {
	svc := newTestService(t)
	kbCfg := testKBConfig(
		types.OperatorRef{Name: "paragraph"},
		types.OperatorRef{Name: "dense"},
		false,
	)
	_, write1, _ := bootstrap(t, svc, "t1", "kb-t1", kbCfg)
	_, write2, read2 := bootstrap(t, svc, "t2", "kb-t2", kbCfg)
	ctx := context.Background()

	_, err := svc.Ingest(ctx, write1, IngestRequest{
		KBID: "kb-t1", Title: "a", Content: "the widget-alpha component",
	})
	require.NoError(t, err)
	_, err = svc.Ingest(ctx, write2, IngestRequest{
		KBID: "kb-t2", Title: "b", Content: "the widget-alpha component",
	})
	require.NoError(t, err)

	out, err := svc.Retrieve(ctx, read2, RetrieveRequest{
		Query: "widget-alpha", KBIDs: []string{"kb-t2"},
	})
	require.NoError(t, err)
	assert.Len(t, out.Hits, 1)
	assert.Equal(t, "kb-t2", out.Hits[0].KBID)

	// The other tenant's KB id behaves like a missing resource.
	_, err = svc.Retrieve(ctx, read2, RetrieveRequest{
		Query: "widget-alpha", KBIDs: []string{"kb-t1"},
	})
	assert.Equal(t, types.ErrKBNotFound, types.CodeOf(err))
}

func TestIngestIdempotence(t *testing.T) {
	svc := newTestService(t)
	_, write, read := bootstrap(t, svc, "t1", "kb1", testKBConfig(
		types.OperatorRef{Name: "paragraph"},
		types.OperatorRef{Name: "dense"},
		false,
	))
	ctx := context.Background()

	first, err := svc.Ingest(ctx, write, IngestRequest{
		KBID: "kb1", DocID: "doc-1", Title: "doc", Content: "stable content here",
	})
	require.NoError(t, err)
	assert.False(t, first.Unchanged)

	second, err := svc.Ingest(ctx, write, IngestRequest{
		KBID: "kb1", DocID: "doc-1", Title: "doc", Content: "stable content here",
	})
	require.NoError(t, err)
	assert.True(t, second.Unchanged)

	// No duplicate vector points.
	topK := 10
	out, err := svc.Retrieve(ctx, read, RetrieveRequest{
		Query:     "stable content",
		KBIDs:     []string{"kb1"},
		Overrides: &config.Overrides{TopK: &topK},
	})
	require.NoError(t, err)
	assert.Len(t, out.Hits, 1)

	// Changed content replaces the old records instead of piling on.
	third, err := svc.Ingest(ctx, write, IngestRequest{
		KBID: "kb1", DocID: "doc-1", Title: "doc", Content: "revised content here",
	})
	require.NoError(t, err)
	assert.False(t, third.Unchanged)

	out, err = svc.Retrieve(ctx, read, RetrieveRequest{
		Query:     "content here",
		KBIDs:     []string{"kb1"},
		Overrides: &config.Overrides{TopK: &topK},
	})
	require.NoError(t, err)
	require.Len(t, out.Hits, 1)
	assert.Contains(t, out.Hits[0].Text, "revised")
}

func TestDeleteDocumentRemovesEverything(t *testing.T) {
	svc := newTestService(t)
	_, write, read := bootstrap(t, svc, "t1", "kb1", testKBConfig(
		types.OperatorRef{Name: "paragraph"},
		types.OperatorRef{Name: "hybrid"},
		true,
	))
	ctx := context.Background()

	res, err := svc.Ingest(ctx, write, IngestRequest{
		KBID: "kb1", Title: "doc", Content: "ephemeral payload text",
	})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteDocument(ctx, write, "kb1", res.DocID))

	out, err := svc.Retrieve(ctx, read, RetrieveRequest{
		Query: "ephemeral payload", KBIDs: []string{"kb1"},
	})
	require.NoError(t, err)
	assert.Empty(t, out.Hits)

	err = svc.DeleteDocument(ctx, write, "kb1", res.DocID)
	assert.Equal(t, types.ErrDocNotFound, types.CodeOf(err))
}

func TestRoleAndScopeEnforcement(t *testing.T) {
	svc := newTestService(t)
	_, write, read := bootstrap(t, svc, "t1", "kb1", testKBConfig(
		types.OperatorRef{Name: "paragraph"},
		types.OperatorRef{Name: "dense"},
		false,
	))
	ctx := context.Background()

	_, err := svc.Ingest(ctx, read, IngestRequest{
		KBID: "kb1", Title: "doc", Content: "text",
	})
	assert.Equal(t, types.ErrNoPermission, types.CodeOf(err))

	scoped := &types.APIKey{ID: "t1-scoped", TenantID: "t1", Role: types.RoleWrite,
		KBScope: []string{"kb-other"}}
	require.NoError(t, svc.deps.Store.CreateAPIKey(ctx, scoped))
	_, err = svc.Ingest(ctx, scoped, IngestRequest{
		KBID: "kb1", Title: "doc", Content: "text",
	})
	assert.Equal(t, types.ErrKBNotInScope, types.CodeOf(err))

	_, err = svc.Ingest(ctx, write, IngestRequest{KBID: "kb1", Title: "doc"})
	assert.Equal(t, types.ErrValidation, types.CodeOf(err))
}

func TestDisabledTenantRejected(t *testing.T) {
	svc := newTestService(t)
	_, write, _ := bootstrap(t, svc, "t1", "kb1", testKBConfig(
		types.OperatorRef{Name: "paragraph"},
		types.OperatorRef{Name: "dense"},
		false,
	))
	ctx := context.Background()

	require.NoError(t, svc.deps.Store.CreateTenant(ctx, &types.Tenant{
		ID: "t-off", Status: types.TenantDisabled, Isolation: types.IsolationShared,
	}))
	offKey := &types.APIKey{ID: "off-write", TenantID: "t-off", Role: types.RoleWrite}
	require.NoError(t, svc.deps.Store.CreateAPIKey(ctx, offKey))

	_, err := svc.Ingest(ctx, offKey, IngestRequest{
		KBID: "kb1", Title: "doc", Content: "text",
	})
	assert.Equal(t, types.ErrTenantDisabled, types.CodeOf(err))

	// The active tenant is unaffected.
	_, err = svc.Ingest(ctx, write, IngestRequest{
		KBID: "kb1", Title: "doc", Content: "text",
	})
	require.NoError(t, err)
}

func TestTopKClamping(t *testing.T) {
	svc := newTestService(t)
	_, write, read := bootstrap(t, svc, "t1", "kb1", testKBConfig(
		types.OperatorRef{Name: "paragraph"},
		types.OperatorRef{Name: "dense"},
		false,
	))
	ctx := context.Background()

	_, err := svc.Ingest(ctx, write, IngestRequest{
		KBID: "kb1", Title: "doc", Content: "clamp test text",
	})
	require.NoError(t, err)

	// Out-of-range top_k is clamped, not rejected.
	huge := 5000
	out, err := svc.Retrieve(ctx, read, RetrieveRequest{
		Query:     "clamp test",
		KBIDs:     []string{"kb1"},
		Overrides: &config.Overrides{TopK: &huge},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, out.Hits)
}

func TestAuthenticate(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.deps.Store.CreateAPIKey(ctx, &types.APIKey{
		ID: "key-1", TenantID: "t1", Role: types.RoleRead,
	}))

	key, err := svc.Authenticate(ctx, "key-1")
	require.NoError(t, err)
	assert.Equal(t, "t1", key.TenantID)

	_, err = svc.Authenticate(ctx, "nope")
	assert.Equal(t, types.ErrNoPermission, types.CodeOf(err))
}

func TestTenantDefaultsResolution(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.deps.Store.CreateTenant(ctx, &types.Tenant{
		ID: "t1", Status: types.TenantActive, Isolation: types.IsolationShared,
		Defaults: &types.TenantDefaults{TopK: 2},
	}))
	admin := &types.APIKey{ID: "t1-admin", TenantID: "t1", Role: types.RoleAdmin}
	read := &types.APIKey{ID: "t1-read", TenantID: "t1", Role: types.RoleRead}
	for _, key := range []*types.APIKey{admin, read} {
		require.NoError(t, svc.deps.Store.CreateAPIKey(ctx, key))
	}

	require.NoError(t, svc.CreateKnowledgeBase(ctx, admin, &types.KnowledgeBase{
		ID: "plain", Name: "plain", Config: testKBConfig(
			types.OperatorRef{Name: "paragraph"},
			types.OperatorRef{Name: "dense"},
			false,
		),
	}))
	require.NoError(t, svc.CreateKnowledgeBase(ctx, admin, &types.KnowledgeBase{
		ID: "pinned", Name: "pinned", Config: testKBConfig(
			types.OperatorRef{Name: "paragraph"},
			types.OperatorRef{Name: "dense", Params: map[string]any{"top_k": 3}},
			false,
		),
	}))

	content := strings.Join([]string{
		"lighthouse beacon one",
		"lighthouse beacon two",
		"lighthouse beacon three",
		"lighthouse beacon four",
		"lighthouse beacon five",
	}, "\n\n")
	for _, kbID := range []string{"plain", "pinned"} {
		_, err := svc.Ingest(ctx, admin, IngestRequest{
			KBID: kbID, DocID: kbID + "-doc", Title: "doc", Content: content,
		})
		require.NoError(t, err)
	}

	// The tenant's pinned top_k beats the system default of ten.
	out, err := svc.Retrieve(ctx, read, RetrieveRequest{
		Query: "lighthouse beacon", KBIDs: []string{"plain"},
	})
	require.NoError(t, err)
	assert.Len(t, out.Hits, 2)

	// Knowledge-base params beat the tenant's defaults.
	out, err = svc.Retrieve(ctx, read, RetrieveRequest{
		Query: "lighthouse beacon", KBIDs: []string{"pinned"},
	})
	require.NoError(t, err)
	assert.Len(t, out.Hits, 3)
}

func TestReconcileMarksDrift(t *testing.T) {
	svc := newTestService(t)
	admin, write, _ := bootstrap(t, svc, "t1", "kb1", testKBConfig(
		types.OperatorRef{Name: "paragraph"},
		types.OperatorRef{Name: "dense"},
		false,
	))
	ctx := context.Background()

	res, err := svc.Ingest(ctx, write, IngestRequest{
		KBID: "kb1", Title: "doc", Content: "drifting record",
	})
	require.NoError(t, err)

	report, err := svc.Reconcile(ctx, admin, "kb1")
	require.NoError(t, err)
	assert.Equal(t, res.Indexed, report.Checked)
	assert.Zero(t, report.Drifted)

	// Remove the vectors behind the store's back.
	require.NoError(t, svc.deps.Vector.DeleteByFilter(ctx,
		svc.cfg.Vector.SharedCollection,
		vector.Filter{TenantID: "t1", KBIDs: []string{"kb1"}, DocID: res.DocID}))

	report, err = svc.Reconcile(ctx, admin, "kb1")
	require.NoError(t, err)
	assert.Equal(t, res.Indexed, report.Drifted)

	failed, err := svc.deps.Store.ListChunksByStatus(ctx, "t1", "kb1", types.IndexingFailed)
	require.NoError(t, err)
	assert.Len(t, failed, report.Drifted)
}

func TestReconcileRemovesOrphans(t *testing.T) {
	svc := newTestService(t)
	admin, write, _ := bootstrap(t, svc, "t1", "kb1", testKBConfig(
		types.OperatorRef{Name: "paragraph"},
		types.OperatorRef{Name: "dense"},
		false,
	))
	ctx := context.Background()

	_, err := svc.Ingest(ctx, write, IngestRequest{
		KBID: "kb1", Title: "doc", Content: "legitimate record",
	})
	require.NoError(t, err)

	// Plant a point whose document does not exist in the store.
	collection := svc.cfg.Vector.SharedCollection
	vec := make([]float32, 256)
	vec[0] = 1
	require.NoError(t, svc.deps.Vector.Upsert(ctx, collection, []vector.Point{{
		ID:     "stray",
		Vector: vec,
		Payload: vector.Payload{
			TenantID: "t1",
			KBID:     "kb1",
			DocID:    "ghost-doc",
			ChunkID:  "stray",
			Kind:     vector.KindChunk,
		},
	}}))

	report, err := svc.Reconcile(ctx, admin, "kb1")
	require.NoError(t, err)
	assert.Zero(t, report.Drifted)
	assert.Equal(t, 1, report.Orphans)

	points, err := svc.deps.Vector.Search(ctx, collection, vec, 10, vector.Filter{
		TenantID: "t1", KBIDs: []string{"kb1"}, DocID: "ghost-doc",
	})
	require.NoError(t, err)
	assert.Empty(t, points)
}

func TestRebuildSparse(t *testing.T) {
	svc := newTestService(t)
	admin, write, read := bootstrap(t, svc, "t1", "kb1", testKBConfig(
		types.OperatorRef{Name: "paragraph"},
		types.OperatorRef{Name: "sparse"},
		true,
	))
	ctx := context.Background()

	_, err := svc.Ingest(ctx, write, IngestRequest{
		KBID: "kb1", Title: "doc", Content: "lexical rebuild target",
	})
	require.NoError(t, err)

	// Wipe the in-memory sparse index, then rebuild from the store.
	require.NoError(t, svc.deps.Sparse.DeleteByFilter(ctx,
		vector.Filter{TenantID: "t1", KBIDs: []string{"kb1"}}))
	out, err := svc.Retrieve(ctx, read, RetrieveRequest{
		Query: "lexical rebuild", KBIDs: []string{"kb1"},
	})
	require.NoError(t, err)
	assert.Empty(t, out.Hits)

	require.NoError(t, svc.RebuildSparse(ctx, admin, "kb1"))
	out, err = svc.Retrieve(ctx, read, RetrieveRequest{
		Query: "lexical rebuild", KBIDs: []string{"kb1"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, out.Hits)
}
