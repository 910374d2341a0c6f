// Package storage defines the relational driver the core writes
// documents, chunks, and hierarchy records through, with SQL
// (sqlite/postgres) and in-memory implementations.
package storage

import (
	"context"

	"github.com/tessera-kb/tessera/pkg/config"
	"github.com/tessera-kb/tessera/pkg/types"
)

// Store is the relational contract. Every lookup is tenant-scoped: a
// row owned by another tenant behaves exactly like a missing row.
type Store interface {
	// Tenants, knowledge bases, identity. The core assumes these exist;
	// the create methods serve local mode and tests.
	CreateTenant(ctx context.Context, tenant *types.Tenant) error
	GetTenant(ctx context.Context, tenantID string) (*types.Tenant, error)
	IncrementTenantDocCount(ctx context.Context, tenantID string, delta int64) error

	CreateKnowledgeBase(ctx context.Context, kb *types.KnowledgeBase) error
	GetKnowledgeBase(ctx context.Context, tenantID, kbID string) (*types.KnowledgeBase, error)
	UpdateKBConfig(ctx context.Context, tenantID, kbID string, cfg types.KBConfig) error

	CreateAPIKey(ctx context.Context, key *types.APIKey) error
	GetAPIKey(ctx context.Context, keyID string) (*types.APIKey, error)

	// Documents.
	CreateDocument(ctx context.Context, doc *types.Document) error
	GetDocument(ctx context.Context, tenantID, docID string) (*types.Document, error)
	GetDocumentsByIDs(ctx context.Context, tenantID string, ids []string) ([]*types.Document, error)
	UpdateDocumentSummary(ctx context.Context, tenantID, docID, summary string, status types.SummaryStatus) error
	// DeleteDocumentCascade removes the document and its chunks. Vector
	// and sparse cleanup is the caller's responsibility.
	DeleteDocumentCascade(ctx context.Context, tenantID, docID string) error

	// Chunks.
	CreateChunks(ctx context.Context, chunks []*types.Chunk) error
	GetChunksByIDs(ctx context.Context, tenantID string, ids []string) ([]*types.Chunk, error)
	ListChunksForDocument(ctx context.Context, tenantID, docID string) ([]*types.Chunk, error)
	// ListChunkRange returns a document's chunks with ordinal in
	// [from, to], ordered by ordinal. Used by window expansion.
	ListChunkRange(ctx context.Context, tenantID, docID string, from, to int) ([]*types.Chunk, error)
	ListChunksByStatus(ctx context.Context, tenantID, kbID string, status types.IndexingStatus) ([]*types.Chunk, error)
	UpdateChunkStatus(ctx context.Context, tenantID, chunkID string, status types.IndexingStatus, indexError string) error
	IncrementChunkRetry(ctx context.Context, tenantID, chunkID string) error
	UpdateChunkEnrichment(ctx context.Context, tenantID, chunkID, enrichedText string) error
	CountIndexedChunks(ctx context.Context, tenantID, kbID string) (int64, error)

	// Hierarchy tree, versioned by generation.
	CreateHierarchyNodes(ctx context.Context, nodes []*types.HierarchyNode) error
	ListHierarchyNodes(ctx context.Context, tenantID, kbID string, generation int64) ([]*types.HierarchyNode, error)
	GetHierarchyNodes(ctx context.Context, tenantID, kbID string, generation int64, ids []string) ([]*types.HierarchyNode, error)
	// CurrentHierarchyGeneration returns 0 when no tree is committed.
	CurrentHierarchyGeneration(ctx context.Context, tenantID, kbID string) (int64, error)
	// CommitHierarchyGeneration atomically switches readers to the new
	// generation; older generations may be garbage-collected afterwards.
	CommitHierarchyGeneration(ctx context.Context, tenantID, kbID string, generation int64) error
	DeleteHierarchyBefore(ctx context.Context, tenantID, kbID string, generation int64) error
	// DeleteHierarchyGeneration removes one generation's nodes, used to
	// roll back a staged build that never committed.
	DeleteHierarchyGeneration(ctx context.Context, tenantID, kbID string, generation int64) error

	Close() error
}

// Open builds the store a config names.
func Open(cfg *config.StorageConfig) (Store, error) {
	switch cfg.Driver {
	case "memory":
		return NewMemoryStore(), nil
	case "sqlite", "postgres":
		return OpenSQL(cfg.Driver, cfg.DSN)
	default:
		return nil, types.NewError(types.ErrValidation, "unknown storage driver %q", cfg.Driver)
	}
}
