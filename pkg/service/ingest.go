package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tessera-kb/tessera/pkg/chunking"
	"github.com/tessera-kb/tessera/pkg/enrichment"
	"github.com/tessera-kb/tessera/pkg/indexing"
	"github.com/tessera-kb/tessera/pkg/types"
	"github.com/tessera-kb/tessera/pkg/vector"
)

// IngestRequest describes one document to ingest. An empty DocID gets
// a generated id; a known DocID with unchanged content is a no-op.
type IngestRequest struct {
	KBID        string
	DocID       string
	Title       string
	Content     string
	Language    string
	Source      map[string]any
	Sensitivity types.SensitivityLevel
	ACL         types.ACL
}

// IngestResult reports what ingestion did.
type IngestResult struct {
	DocID   string
	Chunks  int
	Indexed int
	Failed  int
	// Unchanged is set when the content hash matched an existing
	// fully-indexed document and nothing was written.
	Unchanged bool
}

// Ingest runs the full pipeline: chunk, enrich, persist, index, and
// (for hierarchical KBs) rebuild the summary tree. Indexing progress is
// per chunk; a partially indexed document is a valid outcome reported
// in the result, not an error.
func (s *Service) Ingest(ctx context.Context, key *types.APIKey, req IngestRequest) (*IngestResult, error) {
	if err := requireRole(key, types.RoleWrite); err != nil {
		return nil, err
	}
	tenant, err := s.activeTenant(ctx, key)
	if err != nil {
		return nil, err
	}
	kb, err := s.scopedKB(ctx, key, req.KBID)
	if err != nil {
		return nil, err
	}
	if err := s.deps.Directory.ValidateKB(kb.Config); err != nil {
		return nil, err
	}
	if req.Content == "" {
		return nil, types.NewError(types.ErrValidation, "document content is empty")
	}
	if req.Sensitivity == "" {
		req.Sensitivity = types.SensitivityPublic
	}
	switch req.Sensitivity {
	case types.SensitivityPublic, types.SensitivityRestricted:
	default:
		return nil, types.NewError(types.ErrValidation,
			"unknown sensitivity level %q", req.Sensitivity)
	}

	hash := contentHash(req.Content)
	isNew := true
	if req.DocID != "" {
		existing, err := s.deps.Store.GetDocument(ctx, key.TenantID, req.DocID)
		switch {
		case err == nil && existing.ContentHash == hash:
			unchanged, err := s.allChunksIndexed(ctx, key.TenantID, req.DocID)
			if err != nil {
				return nil, err
			}
			if unchanged {
				return &IngestResult{DocID: req.DocID, Unchanged: true}, nil
			}
			// Same content but incomplete indexing: fall through and
			// re-ingest from scratch.
			fallthrough
		case err == nil:
			if err := s.deleteDocumentData(ctx, tenant, kb, req.DocID); err != nil {
				return nil, err
			}
			isNew = false
		case types.CodeOf(err) != types.ErrDocNotFound:
			return nil, err
		}
	} else {
		req.DocID = uuid.NewString()
	}

	chunker, err := chunking.Build(s.deps.Directory, kb.Config.Chunker)
	if err != nil {
		return nil, err
	}
	pieces, err := chunker.Chunk(req.Content, chunking.DocumentInfo{
		Title:    req.Title,
		Language: req.Language,
	})
	if err != nil {
		return nil, err
	}
	if len(pieces) == 0 {
		return nil, types.NewError(types.ErrValidation, "document produced no chunks")
	}

	now := time.Now().UTC()
	doc := &types.Document{
		ID:          req.DocID,
		TenantID:    key.TenantID,
		KBID:        kb.ID,
		Title:       req.Title,
		Source:      req.Source,
		Sensitivity: req.Sensitivity,
		ACL:         req.ACL,
		ContentHash: hash,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.deps.Store.CreateDocument(ctx, doc); err != nil {
		return nil, err
	}

	chunks := make([]*types.Chunk, len(pieces))
	for i, piece := range pieces {
		id, _ := piece.Metadata[types.MetaChunkID].(string)
		if id == "" {
			id = uuid.NewString()
		}
		chunks[i] = &types.Chunk{
			ID:        id,
			TenantID:  key.TenantID,
			KBID:      kb.ID,
			DocID:     doc.ID,
			Ordinal:   piece.Ordinal,
			Text:      piece.Text,
			Metadata:  piece.Metadata,
			Status:    types.IndexingPending,
			CreatedAt: now,
			UpdatedAt: now,
		}
	}
	if err := s.deps.Store.CreateChunks(ctx, chunks); err != nil {
		return nil, err
	}

	if err := s.enrich(ctx, kb, doc, chunks); err != nil {
		return nil, err
	}

	collection, err := s.collectionFor(ctx, tenant, kb)
	if err != nil {
		return nil, err
	}
	indexer, err := indexing.Build(s.deps.Directory, kb.Config.Indexer)
	if err != nil {
		return nil, err
	}
	report, err := indexer.IndexDocument(ctx, collection, kb, doc, chunks)
	s.deps.Metrics.IndexingReport(report.Indexed, report.Failed)
	if err != nil {
		return nil, err
	}

	if isNew {
		if err := s.deps.Store.IncrementTenantDocCount(ctx, tenant.ID, 1); err != nil {
			return nil, err
		}
	}
	s.deps.Metrics.DocumentIngested()

	if builder, ok := indexer.(indexing.TreeBuilder); ok {
		if err := builder.BuildTree(ctx, collection, kb); err != nil {
			// The previous tree generation stays live; chunks are
			// already searchable, so ingestion still counts.
			slog.Warn("summary tree rebuild failed",
				"kb_id", kb.ID, "doc_id", doc.ID, "error", err)
		}
	}

	return &IngestResult{
		DocID:   doc.ID,
		Chunks:  len(chunks),
		Indexed: report.Indexed,
		Failed:  report.Failed,
	}, nil
}

// enrich runs the KB's enricher, if any, and persists what it produced.
// Enrichment failures degrade, they never fail ingestion.
func (s *Service) enrich(ctx context.Context, kb *types.KnowledgeBase, doc *types.Document, chunks []*types.Chunk) error {
	enricher, err := enrichment.Build(s.deps.Directory, kb.Config.Enricher)
	if err != nil {
		return err
	}
	if enricher == nil {
		return nil
	}
	if err := enricher.Enrich(ctx, doc, chunks); err != nil {
		slog.Warn("enrichment failed, indexing unenriched",
			"doc_id", doc.ID, "error", err)
		return nil
	}
	if doc.SummaryStatus != "" {
		if err := s.deps.Store.UpdateDocumentSummary(ctx, doc.TenantID, doc.ID, doc.Summary, doc.SummaryStatus); err != nil {
			return err
		}
	}
	for _, chunk := range chunks {
		if chunk.EnrichedText == "" {
			continue
		}
		if err := s.deps.Store.UpdateChunkEnrichment(ctx, chunk.TenantID, chunk.ID, chunk.EnrichedText); err != nil {
			return err
		}
	}
	return nil
}

// DeleteDocument removes a document and every derived record: chunks,
// dense points, and sparse entries.
func (s *Service) DeleteDocument(ctx context.Context, key *types.APIKey, kbID, docID string) error {
	if err := requireRole(key, types.RoleWrite); err != nil {
		return err
	}
	tenant, err := s.activeTenant(ctx, key)
	if err != nil {
		return err
	}
	kb, err := s.scopedKB(ctx, key, kbID)
	if err != nil {
		return err
	}
	if _, err := s.deps.Store.GetDocument(ctx, key.TenantID, docID); err != nil {
		return err
	}
	if err := s.deleteDocumentData(ctx, tenant, kb, docID); err != nil {
		return err
	}
	return s.deps.Store.IncrementTenantDocCount(ctx, tenant.ID, -1)
}

// deleteDocumentData cascades one document out of every backend.
func (s *Service) deleteDocumentData(ctx context.Context, tenant *types.Tenant, kb *types.KnowledgeBase, docID string) error {
	if err := s.deps.Store.DeleteDocumentCascade(ctx, tenant.ID, docID); err != nil {
		return err
	}
	filter := vector.Filter{TenantID: tenant.ID, KBIDs: []string{kb.ID}, DocID: docID}
	collection := vector.CollectionFor(tenant, &s.cfg.Vector)
	if err := s.deps.Vector.DeleteByFilter(ctx, collection, filter); err != nil {
		return err
	}
	if s.deps.Sparse != nil && kb.Config.SparseEnabled {
		if err := s.deps.Sparse.DeleteByFilter(ctx, filter); err != nil {
			return err
		}
	}
	return nil
}

// allChunksIndexed reports whether every chunk of a document reached
// the indexed state.
func (s *Service) allChunksIndexed(ctx context.Context, tenantID, docID string) (bool, error) {
	chunks, err := s.deps.Store.ListChunksForDocument(ctx, tenantID, docID)
	if err != nil {
		return false, err
	}
	if len(chunks) == 0 {
		return false, nil
	}
	for _, chunk := range chunks {
		if chunk.Status != types.IndexingDone {
			return false, nil
		}
	}
	return true, nil
}

func contentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
