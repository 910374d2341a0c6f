// Package indexing writes chunks to the persistence backends and
// tracks the per-chunk status machine. Progress is per chunk, never
// per document: a document with some chunks indexed and some failed is
// a valid resting state.
package indexing

import (
	"context"

	"github.com/tessera-kb/tessera/pkg/embedder"
	"github.com/tessera-kb/tessera/pkg/llm"
	"github.com/tessera-kb/tessera/pkg/operator"
	"github.com/tessera-kb/tessera/pkg/sparse"
	"github.com/tessera-kb/tessera/pkg/storage"
	"github.com/tessera-kb/tessera/pkg/types"
	"github.com/tessera-kb/tessera/pkg/vector"
)

// Deps are the backends an indexer writes to. Sparse may be nil when
// the deployment has no sparse store at all; a KB with sparse enabled
// and a nil index is a configuration error caught at build time.
type Deps struct {
	Store    storage.Store
	Vector   vector.Provider
	Sparse   *sparse.Index
	Embedder embedder.Embedder
	LLM      llm.Provider
}

// Report summarizes one indexing run.
type Report struct {
	Indexed int
	Failed  int
}

// Indexer writes a document's chunks into the given dense collection.
type Indexer interface {
	IndexDocument(ctx context.Context, collection string, kb *types.KnowledgeBase, doc *types.Document, chunks []*types.Chunk) (Report, error)
}

// TreeBuilder is the extra contract of the hierarchical indexer: after
// chunk indexing it rebuilds the KB's summary tree.
type TreeBuilder interface {
	BuildTree(ctx context.Context, collection string, kb *types.KnowledgeBase) error
}

// Register adds both indexers to the directory.
func Register(dir *operator.Directory, deps Deps) error {
	entries := []operator.Descriptor{
		{
			Category: operator.CategoryIndexer,
			Name:     "standard",
			Factory: func(params map[string]any) (any, error) {
				return NewStandardIndexer(deps, params)
			},
		},
		{
			Category: operator.CategoryIndexer,
			Name:     "hierarchical",
			Factory: func(params map[string]any) (any, error) {
				return NewHierarchicalIndexer(deps, params)
			},
		},
	}
	for _, desc := range entries {
		if err := dir.Register(desc); err != nil {
			return err
		}
	}
	return nil
}

// Build constructs the indexer a KB config names.
func Build(dir *operator.Directory, ref types.OperatorRef) (Indexer, error) {
	built, err := dir.Build(operator.CategoryIndexer, ref)
	if err != nil {
		return nil, err
	}
	indexer, ok := built.(Indexer)
	if !ok {
		return nil, types.NewError(types.ErrInternal,
			"operator %q does not implement the indexer contract", ref.Name)
	}
	return indexer, nil
}

// embedInput picks the text a chunk is embedded from. Enriched text
// wins; the stored text is what callers always get back.
func embedInput(chunk *types.Chunk) string {
	if chunk.EnrichedText != "" {
		return chunk.EnrichedText
	}
	return chunk.Text
}

// payloadFor snapshots the owning document's ACL onto a chunk's
// payload. Trimming evaluates this copy, not the live document row.
func payloadFor(doc *types.Document, chunk *types.Chunk) vector.Payload {
	return vector.Payload{
		TenantID:    chunk.TenantID,
		KBID:        chunk.KBID,
		DocID:       chunk.DocID,
		ChunkID:     chunk.ID,
		Text:        chunk.Text,
		Kind:        vector.KindChunk,
		Metadata:    chunk.Metadata,
		Sensitivity: doc.Sensitivity,
		ACL:         doc.ACL,
	}
}
