package indexing

import (
	"context"
	"log/slog"

	"github.com/tessera-kb/tessera/pkg/operator"
	"github.com/tessera-kb/tessera/pkg/sparse"
	"github.com/tessera-kb/tessera/pkg/types"
	"github.com/tessera-kb/tessera/pkg/vector"
)

// StandardParams configures the standard indexer.
type StandardParams struct {
	// BatchSize is how many chunks are embedded per provider call.
	BatchSize int `mapstructure:"batch_size"`
	// MaxRetries caps retry_count for the failed-chunk retry operation.
	MaxRetries int `mapstructure:"max_retries"`
}

// StandardIndexer embeds chunks in batches and writes dense points,
// sparse records, and per-chunk status. Failures are recorded per
// batch and never abort the document.
type StandardIndexer struct {
	deps   Deps
	params StandardParams
}

func NewStandardIndexer(deps Deps, raw map[string]any) (*StandardIndexer, error) {
	params := StandardParams{BatchSize: 32, MaxRetries: 3}
	if err := operator.DecodeParams(raw, &params); err != nil {
		return nil, err
	}
	if params.BatchSize < 1 {
		return nil, types.NewError(types.ErrValidation,
			"indexer batch_size must be at least 1, got %d", params.BatchSize)
	}
	return &StandardIndexer{deps: deps, params: params}, nil
}

func (ix *StandardIndexer) IndexDocument(ctx context.Context, collection string, kb *types.KnowledgeBase, doc *types.Document, chunks []*types.Chunk) (Report, error) {
	if err := ix.deps.Vector.EnsureCollection(ctx, collection, ix.deps.Embedder.Dimension()); err != nil {
		return Report{}, err
	}

	var report Report
	for start := 0; start < len(chunks); start += ix.params.BatchSize {
		end := start + ix.params.BatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		if err := ix.indexBatch(ctx, collection, kb, doc, batch); err != nil {
			ix.markFailed(ctx, batch, err)
			report.Failed += len(batch)
			continue
		}
		for _, chunk := range batch {
			if err := ix.deps.Store.UpdateChunkStatus(ctx, chunk.TenantID, chunk.ID, types.IndexingDone, ""); err != nil {
				return report, err
			}
			chunk.Status = types.IndexingDone
			report.Indexed++
		}
	}
	return report, nil
}

func (ix *StandardIndexer) indexBatch(ctx context.Context, collection string, kb *types.KnowledgeBase, doc *types.Document, batch []*types.Chunk) error {
	texts := make([]string, len(batch))
	for i, chunk := range batch {
		if err := ix.deps.Store.UpdateChunkStatus(ctx, chunk.TenantID, chunk.ID, types.IndexingRunning, ""); err != nil {
			return err
		}
		chunk.Status = types.IndexingRunning
		texts[i] = embedInput(chunk)
	}

	vectors, err := ix.deps.Embedder.Embed(ctx, texts)
	if err != nil {
		return err
	}

	points := make([]vector.Point, len(batch))
	for i, chunk := range batch {
		points[i] = vector.Point{
			ID:      chunk.ID,
			Vector:  vectors[i],
			Payload: payloadFor(doc, chunk),
		}
	}
	if err := ix.deps.Vector.Upsert(ctx, collection, points); err != nil {
		return err
	}

	if kb.Config.SparseEnabled {
		if ix.deps.Sparse == nil {
			return types.NewError(types.ErrKBConfigError,
				"knowledge base %q has sparse enabled but no sparse store is available", kb.ID)
		}
		records := make([]sparse.Record, len(batch))
		for i, chunk := range batch {
			records[i] = sparse.Record{
				ID:      chunk.ID,
				Text:    chunk.Text,
				Payload: points[i].Payload,
			}
		}
		if err := ix.deps.Sparse.Upsert(ctx, records); err != nil {
			return err
		}
	}
	return nil
}

// markFailed records a batch-level failure on every chunk in the
// batch. Status write errors here are logged and dropped; the original
// indexing error is what matters.
func (ix *StandardIndexer) markFailed(ctx context.Context, batch []*types.Chunk, cause error) {
	slog.Warn("chunk batch failed to index", "chunks", len(batch), "error", cause)
	for _, chunk := range batch {
		if err := ix.deps.Store.UpdateChunkStatus(ctx, chunk.TenantID, chunk.ID, types.IndexingFailed, cause.Error()); err != nil {
			slog.Error("failed to record chunk failure", "chunk_id", chunk.ID, "error", err)
			continue
		}
		if err := ix.deps.Store.IncrementChunkRetry(ctx, chunk.TenantID, chunk.ID); err != nil {
			slog.Error("failed to bump chunk retry count", "chunk_id", chunk.ID, "error", err)
		}
		chunk.Status = types.IndexingFailed
		chunk.IndexError = cause.Error()
		chunk.RetryCount++
	}
}

// RetryFailed re-indexes the KB's failed chunks whose retry budget is
// not exhausted. It is idempotent: already-indexed chunks are never
// touched and each attempt bumps retry_count exactly once on failure.
func (ix *StandardIndexer) RetryFailed(ctx context.Context, collection string, kb *types.KnowledgeBase, doc *types.Document) (Report, error) {
	failed, err := ix.deps.Store.ListChunksByStatus(ctx, kb.TenantID, kb.ID, types.IndexingFailed)
	if err != nil {
		return Report{}, err
	}

	eligible := make([]*types.Chunk, 0, len(failed))
	for _, chunk := range failed {
		if doc != nil && chunk.DocID != doc.ID {
			continue
		}
		if chunk.RetryCount >= ix.params.MaxRetries {
			continue
		}
		eligible = append(eligible, chunk)
	}
	if len(eligible) == 0 {
		return Report{}, nil
	}

	if doc == nil {
		// KB-wide retry: resolve each chunk's document for its ACL
		// snapshot.
		return ix.retryByDocument(ctx, collection, kb, eligible)
	}
	return ix.IndexDocument(ctx, collection, kb, doc, eligible)
}

func (ix *StandardIndexer) retryByDocument(ctx context.Context, collection string, kb *types.KnowledgeBase, chunks []*types.Chunk) (Report, error) {
	byDoc := make(map[string][]*types.Chunk)
	for _, chunk := range chunks {
		byDoc[chunk.DocID] = append(byDoc[chunk.DocID], chunk)
	}

	var report Report
	for docID, docChunks := range byDoc {
		doc, err := ix.deps.Store.GetDocument(ctx, kb.TenantID, docID)
		if err != nil {
			slog.Warn("skipping retry for chunks of missing document", "doc_id", docID, "error", err)
			continue
		}
		sub, err := ix.IndexDocument(ctx, collection, kb, doc, docChunks)
		report.Indexed += sub.Indexed
		report.Failed += sub.Failed
		if err != nil {
			return report, err
		}
	}
	return report, nil
}
