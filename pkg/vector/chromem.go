package vector

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/tessera-kb/tessera/pkg/config"
	"github.com/tessera-kb/tessera/pkg/types"
)

// ChromemProvider is the embedded dense store for local mode. Chromem
// only filters on flat string metadata, so structured payload fields
// are JSON-encoded and the Filter is re-applied after search.
type ChromemProvider struct {
	db *chromem.DB

	mu   sync.RWMutex
	dims map[string]int
}

func NewChromem(cfg *config.VectorConfig) (*ChromemProvider, error) {
	var db *chromem.DB
	var err error
	if cfg.PersistPath != "" {
		db, err = chromem.NewPersistentDB(cfg.PersistPath, false)
		if err != nil {
			return nil, fmt.Errorf("failed to open chromem store: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}
	return &ChromemProvider{db: db, dims: make(map[string]int)}, nil
}

// noEmbed satisfies chromem's embedding hook; vectors always arrive
// precomputed.
func noEmbed(_ context.Context, _ string) ([]float32, error) {
	return nil, fmt.Errorf("chromem provider only accepts precomputed vectors")
}

func (p *ChromemProvider) EnsureCollection(_ context.Context, name string, dim int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if known, ok := p.dims[name]; ok {
		if known != dim {
			return types.NewError(types.ErrEmbeddingDimMismatch,
				"collection %q has dimension %d, requested %d", name, known, dim)
		}
		return nil
	}
	if _, err := p.db.GetOrCreateCollection(name, nil, noEmbed); err != nil {
		return fmt.Errorf("failed to create collection %q: %w", name, err)
	}
	p.dims[name] = dim
	return nil
}

func (p *ChromemProvider) checkDim(collection string, dim int) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if known, ok := p.dims[collection]; ok && known != dim {
		return types.NewError(types.ErrEmbeddingDimMismatch,
			"query dimension %d does not match collection %q dimension %d", dim, collection, known)
	}
	return nil
}

func (p *ChromemProvider) Upsert(ctx context.Context, collection string, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	if err := p.checkDim(collection, len(points[0].Vector)); err != nil {
		return err
	}

	col := p.db.GetCollection(collection, noEmbed)
	if col == nil {
		return types.NewError(types.ErrInternal, "collection %q does not exist", collection)
	}

	docs := make([]chromem.Document, 0, len(points))
	for _, point := range points {
		encoded, err := json.Marshal(point.Payload)
		if err != nil {
			return fmt.Errorf("failed to encode payload: %w", err)
		}
		docs = append(docs, chromem.Document{
			ID:        point.ID,
			Embedding: point.Vector,
			Content:   point.Payload.Text,
			Metadata: map[string]string{
				"tenant_id": point.Payload.TenantID,
				"kb_id":     point.Payload.KBID,
				"doc_id":    point.Payload.DocID,
				"kind":      point.Payload.Kind,
				"level":     fmt.Sprint(point.Payload.Level),
				"payload":   string(encoded),
			},
		})
	}
	if err := col.AddDocuments(ctx, docs, 1); err != nil {
		return fmt.Errorf("failed to upsert %d documents: %w", len(docs), err)
	}
	return nil
}

func (p *ChromemProvider) Search(ctx context.Context, collection string, queryVector []float32, topK int, filter Filter) ([]ScoredPoint, error) {
	if err := p.checkDim(collection, len(queryVector)); err != nil {
		return nil, err
	}

	col := p.db.GetCollection(collection, noEmbed)
	if col == nil {
		return nil, nil
	}

	// Tenant narrowing happens in chromem; the rest of the filter is
	// applied on the decoded payload.
	where := map[string]string{}
	if filter.TenantID != "" {
		where["tenant_id"] = filter.TenantID
	}
	if len(filter.KBIDs) == 1 {
		where["kb_id"] = filter.KBIDs[0]
	}

	limit := topK * 4
	if limit > col.Count() {
		limit = col.Count()
	}
	if limit == 0 {
		return nil, nil
	}

	results, err := col.QueryEmbedding(ctx, queryVector, limit, where, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query collection %q: %w", collection, err)
	}

	out := make([]ScoredPoint, 0, topK)
	for _, result := range results {
		var payload Payload
		if err := json.Unmarshal([]byte(result.Metadata["payload"]), &payload); err != nil {
			return nil, fmt.Errorf("failed to decode payload: %w", err)
		}
		if !filter.Matches(payload) {
			continue
		}
		out = append(out, ScoredPoint{
			Point: Point{ID: result.ID, Payload: payload},
			Score: result.Similarity,
		})
		if len(out) == topK {
			break
		}
	}
	return out, nil
}

// DeleteByFilter removes matching documents. Deletes always target a
// tenant and usually a document, so the flat metadata keys cover every
// filter shape deletion uses.
func (p *ChromemProvider) DeleteByFilter(ctx context.Context, collection string, filter Filter) error {
	col := p.db.GetCollection(collection, noEmbed)
	if col == nil {
		return nil
	}

	where := map[string]string{}
	if filter.TenantID != "" {
		where["tenant_id"] = filter.TenantID
	}
	if filter.DocID != "" {
		where["doc_id"] = filter.DocID
	}
	if filter.Kind != "" {
		where["kind"] = filter.Kind
	}
	if filter.Level != nil {
		where["level"] = fmt.Sprint(*filter.Level)
	}

	kbs := filter.KBIDs
	if len(kbs) == 0 {
		kbs = []string{""}
	}
	for _, kb := range kbs {
		if kb != "" {
			where["kb_id"] = kb
		} else {
			delete(where, "kb_id")
		}
		if err := col.Delete(ctx, where, nil); err != nil {
			return fmt.Errorf("failed to delete documents: %w", err)
		}
	}
	return nil
}

func (p *ChromemProvider) Close() error { return nil }
