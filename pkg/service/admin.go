package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tessera-kb/tessera/pkg/config"
	"github.com/tessera-kb/tessera/pkg/indexing"
	"github.com/tessera-kb/tessera/pkg/sparse"
	"github.com/tessera-kb/tessera/pkg/types"
	"github.com/tessera-kb/tessera/pkg/vector"
)

// CreateTenant provisions a tenant. An empty isolation strategy takes
// the system default.
func (s *Service) CreateTenant(ctx context.Context, key *types.APIKey, tenant *types.Tenant) error {
	if err := requireRole(key, types.RoleAdmin); err != nil {
		return err
	}
	if tenant.ID == "" {
		tenant.ID = uuid.NewString()
	}
	if tenant.Status == "" {
		tenant.Status = types.TenantActive
	}
	if tenant.Isolation == "" {
		tenant.Isolation = types.IsolationStrategy(s.cfg.Defaults.Isolation)
	}
	tenant.CreatedAt = time.Now().UTC()
	return s.deps.Store.CreateTenant(ctx, tenant)
}

// CreateKnowledgeBase provisions a KB after validating its operator
// configuration against the directory.
func (s *Service) CreateKnowledgeBase(ctx context.Context, key *types.APIKey, kb *types.KnowledgeBase) error {
	if err := requireRole(key, types.RoleAdmin); err != nil {
		return err
	}
	if _, err := s.activeTenant(ctx, key); err != nil {
		return err
	}
	if kb.ID == "" {
		kb.ID = uuid.NewString()
	}
	kb.TenantID = key.TenantID
	if err := s.deps.Directory.ValidateKB(kb.Config); err != nil {
		return err
	}
	now := time.Now().UTC()
	kb.CreatedAt = now
	kb.UpdatedAt = now
	return s.deps.Store.CreateKnowledgeBase(ctx, kb)
}

// UpdateKBConfig swaps a knowledge base's operator configuration.
// Embedding settings freeze once the KB has indexed chunks; everything
// else only affects future ingestion.
func (s *Service) UpdateKBConfig(ctx context.Context, key *types.APIKey, kbID string, proposed types.KBConfig) error {
	if err := requireRole(key, types.RoleAdmin); err != nil {
		return err
	}
	if _, err := s.activeTenant(ctx, key); err != nil {
		return err
	}
	kb, err := s.scopedKB(ctx, key, kbID)
	if err != nil {
		return err
	}
	if err := s.deps.Directory.ValidateKB(proposed); err != nil {
		return err
	}
	indexed, err := s.deps.Store.CountIndexedChunks(ctx, key.TenantID, kbID)
	if err != nil {
		return err
	}
	if err := config.ValidateKBConfigUpdate(kb.Config, proposed, indexed); err != nil {
		return err
	}
	return s.deps.Store.UpdateKBConfig(ctx, key.TenantID, kbID, proposed)
}

// RetryFailedChunks re-indexes a KB's failed chunks that still have
// retry budget.
func (s *Service) RetryFailedChunks(ctx context.Context, key *types.APIKey, kbID string) (indexing.Report, error) {
	if err := requireRole(key, types.RoleWrite); err != nil {
		return indexing.Report{}, err
	}
	tenant, err := s.activeTenant(ctx, key)
	if err != nil {
		return indexing.Report{}, err
	}
	kb, err := s.scopedKB(ctx, key, kbID)
	if err != nil {
		return indexing.Report{}, err
	}

	indexer, err := indexing.Build(s.deps.Directory, kb.Config.Indexer)
	if err != nil {
		return indexing.Report{}, err
	}
	retrier, ok := indexer.(interface {
		RetryFailed(ctx context.Context, collection string, kb *types.KnowledgeBase, doc *types.Document) (indexing.Report, error)
	})
	if !ok {
		return indexing.Report{}, types.NewError(types.ErrKBConfigError,
			"indexer %q does not support retry", kb.Config.Indexer.Name)
	}

	collection, err := s.collectionFor(ctx, tenant, kb)
	if err != nil {
		return indexing.Report{}, err
	}
	report, err := retrier.RetryFailed(ctx, collection, kb, nil)
	s.deps.Metrics.IndexingReport(report.Indexed, report.Failed)
	return report, err
}

// ReconcileReport summarizes one reconciliation pass.
type ReconcileReport struct {
	Checked int
	Drifted int
	Orphans int
}

// Reconcile compares the relational chunk state against the dense
// store in both directions: chunks whose vectors are missing are
// marked failed so a retry can repair them, and vector points whose
// document no longer exists are deleted. Eventually consistent, not
// transactional.
func (s *Service) Reconcile(ctx context.Context, key *types.APIKey, kbID string) (ReconcileReport, error) {
	if err := requireRole(key, types.RoleAdmin); err != nil {
		return ReconcileReport{}, err
	}
	tenant, err := s.activeTenant(ctx, key)
	if err != nil {
		return ReconcileReport{}, err
	}
	kb, err := s.scopedKB(ctx, key, kbID)
	if err != nil {
		return ReconcileReport{}, err
	}
	collection, err := s.collectionFor(ctx, tenant, kb)
	if err != nil {
		return ReconcileReport{}, err
	}

	indexed, err := s.deps.Store.ListChunksByStatus(ctx, key.TenantID, kbID, types.IndexingDone)
	if err != nil {
		return ReconcileReport{}, err
	}
	report := ReconcileReport{Checked: len(indexed)}

	byDoc := make(map[string][]*types.Chunk)
	for _, chunk := range indexed {
		byDoc[chunk.DocID] = append(byDoc[chunk.DocID], chunk)
	}

	probe := probeVector(kb.Config.Embedding.Dimension)
	for docID, chunks := range byDoc {
		points, err := s.deps.Vector.Search(ctx, collection, probe, len(chunks), vector.Filter{
			TenantID: key.TenantID,
			KBIDs:    []string{kbID},
			DocID:    docID,
			Kind:     vector.KindChunk,
		})
		if err != nil {
			return report, err
		}
		present := make(map[string]bool, len(points))
		for _, point := range points {
			present[point.Payload.ChunkID] = true
		}
		for _, chunk := range chunks {
			if present[chunk.ID] {
				continue
			}
			report.Drifted++
			if err := s.deps.Store.UpdateChunkStatus(ctx, key.TenantID, chunk.ID,
				types.IndexingFailed, "vector record missing"); err != nil {
				return report, err
			}
		}
	}
	orphans, err := s.sweepOrphans(ctx, key.TenantID, kbID, collection, probe, len(indexed), byDoc)
	if err != nil {
		return report, err
	}
	report.Orphans = orphans

	if report.Drifted > 0 || report.Orphans > 0 {
		slog.Warn("reconciliation found inconsistencies",
			"kb_id", kbID, "drifted", report.Drifted, "orphans", report.Orphans)
	}
	return report, nil
}

// sweepOrphans deletes vector points belonging to documents that no
// longer exist in the relational store.
func (s *Service) sweepOrphans(ctx context.Context, tenantID, kbID, collection string, probe []float32, indexed int, byDoc map[string][]*types.Chunk) (int, error) {
	points, err := s.deps.Vector.Search(ctx, collection, probe, indexed+reconcileOverfetch, vector.Filter{
		TenantID: tenantID,
		KBIDs:    []string{kbID},
		Kind:     vector.KindChunk,
	})
	if err != nil {
		return 0, err
	}

	orphanDocs := make(map[string]int)
	for _, point := range points {
		docID := point.Payload.DocID
		if _, known := byDoc[docID]; known {
			continue
		}
		if _, err := s.deps.Store.GetDocument(ctx, tenantID, docID); err == nil {
			continue
		} else if types.CodeOf(err) != types.ErrDocNotFound {
			return 0, err
		}
		orphanDocs[docID]++
	}

	total := 0
	for docID, count := range orphanDocs {
		if err := s.deps.Vector.DeleteByFilter(ctx, collection, vector.Filter{
			TenantID: tenantID,
			KBIDs:    []string{kbID},
			DocID:    docID,
		}); err != nil {
			return total, err
		}
		total += count
	}
	return total, nil
}

// reconcileOverfetch bounds how many extra points an orphan sweep can
// see beyond the chunks the store knows about.
const reconcileOverfetch = 1000

// probeVector is a fixed unit vector used only to enumerate points
// under a filter; the scores are irrelevant.
func probeVector(dim int) []float32 {
	if dim < 1 {
		dim = 1
	}
	v := make([]float32, dim)
	v[0] = 1
	return v
}

// RebuildSparse reloads a KB's sparse records from the relational
// store. Other knowledge bases in the index are untouched.
func (s *Service) RebuildSparse(ctx context.Context, key *types.APIKey, kbID string) error {
	if err := requireRole(key, types.RoleAdmin); err != nil {
		return err
	}
	if _, err := s.activeTenant(ctx, key); err != nil {
		return err
	}
	kb, err := s.scopedKB(ctx, key, kbID)
	if err != nil {
		return err
	}
	if s.deps.Sparse == nil || !kb.Config.SparseEnabled {
		return types.NewError(types.ErrKBConfigError,
			"knowledge base %q has no sparse index", kbID)
	}

	if err := s.deps.Sparse.DeleteByFilter(ctx, vector.Filter{
		TenantID: key.TenantID,
		KBIDs:    []string{kbID},
	}); err != nil {
		return err
	}

	chunks, err := s.deps.Store.ListChunksByStatus(ctx, key.TenantID, kbID, types.IndexingDone)
	if err != nil {
		return err
	}
	byDoc := make(map[string][]*types.Chunk)
	for _, chunk := range chunks {
		byDoc[chunk.DocID] = append(byDoc[chunk.DocID], chunk)
	}

	for docID, docChunks := range byDoc {
		doc, err := s.deps.Store.GetDocument(ctx, key.TenantID, docID)
		if err != nil {
			slog.Warn("skipping sparse rebuild for chunks of missing document",
				"doc_id", docID, "error", err)
			continue
		}
		records := make([]sparse.Record, len(docChunks))
		for i, chunk := range docChunks {
			records[i] = sparse.Record{
				ID:   chunk.ID,
				Text: chunk.Text,
				Payload: vector.Payload{
					TenantID:    chunk.TenantID,
					KBID:        chunk.KBID,
					DocID:       chunk.DocID,
					ChunkID:     chunk.ID,
					Text:        chunk.Text,
					Kind:        vector.KindChunk,
					Metadata:    chunk.Metadata,
					Sensitivity: doc.Sensitivity,
					ACL:         doc.ACL,
				},
			}
		}
		if err := s.deps.Sparse.Upsert(ctx, records); err != nil {
			return err
		}
	}
	return nil
}
