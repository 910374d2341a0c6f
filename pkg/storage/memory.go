package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tessera-kb/tessera/pkg/types"
)

// MemoryStore keeps everything in maps. It backs local mode and tests
// and doubles as the reference behavior for the SQL store.
type MemoryStore struct {
	mu          sync.RWMutex
	tenants     map[string]*types.Tenant
	kbs         map[string]*types.KnowledgeBase
	apiKeys     map[string]*types.APIKey
	documents   map[string]*types.Document
	chunks      map[string]*types.Chunk
	hierarchy   map[string]*types.HierarchyNode
	generations map[string]int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tenants:     make(map[string]*types.Tenant),
		kbs:         make(map[string]*types.KnowledgeBase),
		apiKeys:     make(map[string]*types.APIKey),
		documents:   make(map[string]*types.Document),
		chunks:      make(map[string]*types.Chunk),
		hierarchy:   make(map[string]*types.HierarchyNode),
		generations: make(map[string]int64),
	}
}

func genKey(tenantID, kbID string) string { return tenantID + "/" + kbID }

func (s *MemoryStore) CreateTenant(_ context.Context, tenant *types.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tenants[tenant.ID]; exists {
		return types.NewError(types.ErrValidation, "tenant %q already exists", tenant.ID)
	}
	cp := *tenant
	s.tenants[tenant.ID] = &cp
	return nil
}

func (s *MemoryStore) GetTenant(_ context.Context, tenantID string) (*types.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tenant, ok := s.tenants[tenantID]
	if !ok {
		return nil, types.NewError(types.ErrNoPermission, "tenant %q not found", tenantID)
	}
	cp := *tenant
	return &cp, nil
}

func (s *MemoryStore) IncrementTenantDocCount(_ context.Context, tenantID string, delta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tenant, ok := s.tenants[tenantID]
	if !ok {
		return types.NewError(types.ErrNoPermission, "tenant %q not found", tenantID)
	}
	tenant.DocCount += delta
	if tenant.DocCount < 0 {
		tenant.DocCount = 0
	}
	return nil
}

func (s *MemoryStore) CreateKnowledgeBase(_ context.Context, kb *types.KnowledgeBase) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.kbs[kb.ID]; exists {
		return types.NewError(types.ErrValidation, "knowledge base %q already exists", kb.ID)
	}
	cp := *kb
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	s.kbs[kb.ID] = &cp
	return nil
}

func (s *MemoryStore) GetKnowledgeBase(_ context.Context, tenantID, kbID string) (*types.KnowledgeBase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	kb, ok := s.kbs[kbID]
	// Cross-tenant lookups behave like missing rows.
	if !ok || kb.TenantID != tenantID {
		return nil, types.NewError(types.ErrKBNotFound, "knowledge base %q not found", kbID)
	}
	cp := *kb
	return &cp, nil
}

func (s *MemoryStore) UpdateKBConfig(_ context.Context, tenantID, kbID string, cfg types.KBConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kb, ok := s.kbs[kbID]
	if !ok || kb.TenantID != tenantID {
		return types.NewError(types.ErrKBNotFound, "knowledge base %q not found", kbID)
	}
	kb.Config = cfg
	kb.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) CreateAPIKey(_ context.Context, key *types.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *key
	s.apiKeys[key.ID] = &cp
	return nil
}

func (s *MemoryStore) GetAPIKey(_ context.Context, keyID string) (*types.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key, ok := s.apiKeys[keyID]
	if !ok {
		return nil, types.NewError(types.ErrNoPermission, "unknown api key")
	}
	cp := *key
	return &cp, nil
}

func (s *MemoryStore) CreateDocument(_ context.Context, doc *types.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *doc
	now := time.Now()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	s.documents[doc.ID] = &cp
	return nil
}

func (s *MemoryStore) GetDocument(_ context.Context, tenantID, docID string) (*types.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.documents[docID]
	if !ok || doc.TenantID != tenantID {
		return nil, types.NewError(types.ErrDocNotFound, "document %q not found", docID)
	}
	cp := *doc
	return &cp, nil
}

func (s *MemoryStore) GetDocumentsByIDs(_ context.Context, tenantID string, ids []string) ([]*types.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*types.Document, 0, len(ids))
	for _, id := range ids {
		if doc, ok := s.documents[id]; ok && doc.TenantID == tenantID {
			cp := *doc
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) UpdateDocumentSummary(_ context.Context, tenantID, docID, summary string, status types.SummaryStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.documents[docID]
	if !ok || doc.TenantID != tenantID {
		return types.NewError(types.ErrDocNotFound, "document %q not found", docID)
	}
	doc.Summary = summary
	doc.SummaryStatus = status
	doc.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) DeleteDocumentCascade(_ context.Context, tenantID, docID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.documents[docID]
	if !ok || doc.TenantID != tenantID {
		return types.NewError(types.ErrDocNotFound, "document %q not found", docID)
	}
	delete(s.documents, docID)
	for id, chunk := range s.chunks {
		if chunk.DocID == docID {
			delete(s.chunks, id)
		}
	}
	return nil
}

func (s *MemoryStore) CreateChunks(_ context.Context, chunks []*types.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for _, chunk := range chunks {
		cp := *chunk
		if cp.CreatedAt.IsZero() {
			cp.CreatedAt = now
		}
		cp.UpdatedAt = now
		s.chunks[chunk.ID] = &cp
	}
	return nil
}

func (s *MemoryStore) GetChunksByIDs(_ context.Context, tenantID string, ids []string) ([]*types.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*types.Chunk, 0, len(ids))
	for _, id := range ids {
		if chunk, ok := s.chunks[id]; ok && chunk.TenantID == tenantID {
			cp := *chunk
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListChunksForDocument(_ context.Context, tenantID, docID string) ([]*types.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*types.Chunk
	for _, chunk := range s.chunks {
		if chunk.DocID == docID && chunk.TenantID == tenantID {
			cp := *chunk
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ordinal < out[j].Ordinal })
	return out, nil
}

func (s *MemoryStore) ListChunkRange(_ context.Context, tenantID, docID string, from, to int) ([]*types.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*types.Chunk
	for _, chunk := range s.chunks {
		if chunk.DocID == docID && chunk.TenantID == tenantID && chunk.Ordinal >= from && chunk.Ordinal <= to {
			cp := *chunk
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ordinal < out[j].Ordinal })
	return out, nil
}

func (s *MemoryStore) ListChunksByStatus(_ context.Context, tenantID, kbID string, status types.IndexingStatus) ([]*types.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*types.Chunk
	for _, chunk := range s.chunks {
		if chunk.TenantID == tenantID && chunk.KBID == kbID && chunk.Status == status {
			cp := *chunk
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DocID != out[j].DocID {
			return out[i].DocID < out[j].DocID
		}
		return out[i].Ordinal < out[j].Ordinal
	})
	return out, nil
}

func (s *MemoryStore) UpdateChunkStatus(_ context.Context, tenantID, chunkID string, status types.IndexingStatus, indexError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	chunk, ok := s.chunks[chunkID]
	if !ok || chunk.TenantID != tenantID {
		return types.NewError(types.ErrDocNotFound, "chunk %q not found", chunkID)
	}
	chunk.Status = status
	chunk.IndexError = indexError
	chunk.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) IncrementChunkRetry(_ context.Context, tenantID, chunkID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	chunk, ok := s.chunks[chunkID]
	if !ok || chunk.TenantID != tenantID {
		return types.NewError(types.ErrDocNotFound, "chunk %q not found", chunkID)
	}
	chunk.RetryCount++
	chunk.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) UpdateChunkEnrichment(_ context.Context, tenantID, chunkID, enrichedText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	chunk, ok := s.chunks[chunkID]
	if !ok || chunk.TenantID != tenantID {
		return types.NewError(types.ErrDocNotFound, "chunk %q not found", chunkID)
	}
	chunk.EnrichedText = enrichedText
	chunk.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) CountIndexedChunks(_ context.Context, tenantID, kbID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, chunk := range s.chunks {
		if chunk.TenantID == tenantID && chunk.KBID == kbID && chunk.Status == types.IndexingDone {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) CreateHierarchyNodes(_ context.Context, nodes []*types.HierarchyNode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, node := range nodes {
		cp := *node
		s.hierarchy[node.ID] = &cp
	}
	return nil
}

func (s *MemoryStore) ListHierarchyNodes(_ context.Context, tenantID, kbID string, generation int64) ([]*types.HierarchyNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*types.HierarchyNode
	for _, node := range s.hierarchy {
		if node.TenantID == tenantID && node.KBID == kbID && node.Generation == generation {
			cp := *node
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Level != out[j].Level {
			return out[i].Level > out[j].Level
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) GetHierarchyNodes(_ context.Context, tenantID, kbID string, generation int64, ids []string) ([]*types.HierarchyNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*types.HierarchyNode, 0, len(ids))
	for _, id := range ids {
		node, ok := s.hierarchy[id]
		if ok && node.TenantID == tenantID && node.KBID == kbID && node.Generation == generation {
			cp := *node
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) CurrentHierarchyGeneration(_ context.Context, tenantID, kbID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.generations[genKey(tenantID, kbID)], nil
}

func (s *MemoryStore) CommitHierarchyGeneration(_ context.Context, tenantID, kbID string, generation int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.generations[genKey(tenantID, kbID)] = generation
	return nil
}

func (s *MemoryStore) DeleteHierarchyBefore(_ context.Context, tenantID, kbID string, generation int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, node := range s.hierarchy {
		if node.TenantID == tenantID && node.KBID == kbID && node.Generation < generation {
			delete(s.hierarchy, id)
		}
	}
	return nil
}

func (s *MemoryStore) DeleteHierarchyGeneration(_ context.Context, tenantID, kbID string, generation int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, node := range s.hierarchy {
		if node.TenantID == tenantID && node.KBID == kbID && node.Generation == generation {
			delete(s.hierarchy, id)
		}
	}
	return nil
}

func (s *MemoryStore) Close() error { return nil }
