package vector

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/qdrant/go-client/qdrant"

	"github.com/tessera-kb/tessera/pkg/config"
	"github.com/tessera-kb/tessera/pkg/types"
)

// QdrantProvider stores vectors in a Qdrant server over gRPC.
type QdrantProvider struct {
	client *qdrant.Client

	mu   sync.RWMutex
	dims map[string]int
}

func NewQdrant(cfg *config.VectorConfig) (*QdrantProvider, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.EnableTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}
	return &QdrantProvider{client: client, dims: make(map[string]int)}, nil
}

func (p *QdrantProvider) EnsureCollection(ctx context.Context, name string, dim int) error {
	p.mu.RLock()
	known, ok := p.dims[name]
	p.mu.RUnlock()
	if ok {
		if known != dim {
			return types.NewError(types.ErrEmbeddingDimMismatch,
				"collection %q has dimension %d, requested %d", name, known, dim)
		}
		return nil
	}

	exists, err := p.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to check collection %q: %w", name, err)
	}
	if !exists {
		err = p.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(dim),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return fmt.Errorf("failed to create collection %q: %w", name, err)
		}
	}

	p.mu.Lock()
	p.dims[name] = dim
	p.mu.Unlock()
	return nil
}

func (p *QdrantProvider) checkDim(collection string, dim int) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if known, ok := p.dims[collection]; ok && known != dim {
		return types.NewError(types.ErrEmbeddingDimMismatch,
			"query dimension %d does not match collection %q dimension %d", dim, collection, known)
	}
	return nil
}

func (p *QdrantProvider) Upsert(ctx context.Context, collection string, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	if err := p.checkDim(collection, len(points[0].Vector)); err != nil {
		return err
	}

	qpoints := make([]*qdrant.PointStruct, 0, len(points))
	for _, point := range points {
		payload, err := payloadToQdrant(point.Payload)
		if err != nil {
			return err
		}
		qpoints = append(qpoints, &qdrant.PointStruct{
			Id:      qdrant.NewID(point.ID),
			Vectors: qdrant.NewVectors(point.Vector...),
			Payload: payload,
		})
	}

	_, err := p.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Points:         qpoints,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert %d points: %w", len(qpoints), err)
	}
	return nil
}

func (p *QdrantProvider) Search(ctx context.Context, collection string, queryVector []float32, topK int, filter Filter) ([]ScoredPoint, error) {
	if err := p.checkDim(collection, len(queryVector)); err != nil {
		return nil, err
	}

	limit := uint64(topK)
	results, err := p.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(queryVector...),
		Limit:          &limit,
		Filter:         buildFilter(filter),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search collection %q: %w", collection, err)
	}

	out := make([]ScoredPoint, 0, len(results))
	for _, scored := range results {
		point, err := pointFromQdrant(scored)
		if err != nil {
			return nil, err
		}
		out = append(out, point)
	}
	return out, nil
}

func (p *QdrantProvider) DeleteByFilter(ctx context.Context, collection string, filter Filter) error {
	_, err := p.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{Filter: buildFilter(filter)},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete points from %q: %w", collection, err)
	}
	return nil
}

func (p *QdrantProvider) Close() error { return p.client.Close() }

// buildFilter converts a Filter into qdrant must-conditions.
func buildFilter(filter Filter) *qdrant.Filter {
	var must []*qdrant.Condition
	if filter.TenantID != "" {
		must = append(must, qdrant.NewMatch("tenant_id", filter.TenantID))
	}
	if len(filter.KBIDs) == 1 {
		must = append(must, qdrant.NewMatch("kb_id", filter.KBIDs[0]))
	} else if len(filter.KBIDs) > 1 {
		must = append(must, qdrant.NewMatchKeywords("kb_id", filter.KBIDs...))
	}
	if filter.DocID != "" {
		must = append(must, qdrant.NewMatch("doc_id", filter.DocID))
	}
	if filter.Kind != "" {
		must = append(must, qdrant.NewMatch("kind", filter.Kind))
	}
	if filter.Level != nil {
		must = append(must, qdrant.NewMatchInt("level", int64(*filter.Level)))
	}
	for key, value := range filter.Metadata {
		switch v := value.(type) {
		case string:
			must = append(must, qdrant.NewMatch("meta_"+key, v))
		case bool:
			must = append(must, qdrant.NewMatchBool("meta_"+key, v))
		case int:
			must = append(must, qdrant.NewMatchInt("meta_"+key, int64(v)))
		case int64:
			must = append(must, qdrant.NewMatchInt("meta_"+key, v))
		case float64:
			must = append(must, qdrant.NewMatchInt("meta_"+key, int64(v)))
		}
	}
	if len(must) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: must}
}

// payloadToQdrant flattens the payload. Structured fields go through
// JSON; metadata entries are mirrored as meta_* keys so they are
// filterable.
func payloadToQdrant(payload Payload) (map[string]*qdrant.Value, error) {
	out := map[string]*qdrant.Value{
		"tenant_id":         qdrant.NewValueString(payload.TenantID),
		"kb_id":             qdrant.NewValueString(payload.KBID),
		"doc_id":            qdrant.NewValueString(payload.DocID),
		"chunk_id":          qdrant.NewValueString(payload.ChunkID),
		"text":              qdrant.NewValueString(payload.Text),
		"kind":              qdrant.NewValueString(payload.Kind),
		"level":             qdrant.NewValueInt(int64(payload.Level)),
		"sensitivity_level": qdrant.NewValueString(string(payload.Sensitivity)),
	}

	acl, err := json.Marshal(payload.ACL)
	if err != nil {
		return nil, fmt.Errorf("failed to encode acl payload: %w", err)
	}
	out["acl"] = qdrant.NewValueString(string(acl))

	if len(payload.Metadata) > 0 {
		metadata, err := json.Marshal(payload.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to encode metadata payload: %w", err)
		}
		out["metadata"] = qdrant.NewValueString(string(metadata))

		for key, value := range payload.Metadata {
			val, err := qdrant.NewValue(value)
			if err != nil {
				continue
			}
			out["meta_"+key] = val
		}
	}
	return out, nil
}

func pointFromQdrant(scored *qdrant.ScoredPoint) (ScoredPoint, error) {
	var out ScoredPoint
	out.Score = scored.Score
	if scored.Id != nil {
		out.ID = scored.Id.GetUuid()
	}

	get := func(key string) string {
		if v, ok := scored.Payload[key]; ok {
			return v.GetStringValue()
		}
		return ""
	}
	out.Payload = Payload{
		TenantID:    get("tenant_id"),
		KBID:        get("kb_id"),
		DocID:       get("doc_id"),
		ChunkID:     get("chunk_id"),
		Text:        get("text"),
		Kind:        get("kind"),
		Sensitivity: types.SensitivityLevel(get("sensitivity_level")),
	}
	if v, ok := scored.Payload["level"]; ok {
		out.Payload.Level = int(v.GetIntegerValue())
	}
	if acl := get("acl"); acl != "" {
		if err := json.Unmarshal([]byte(acl), &out.Payload.ACL); err != nil {
			return out, fmt.Errorf("failed to decode acl payload: %w", err)
		}
	}
	if metadata := get("metadata"); metadata != "" {
		if err := json.Unmarshal([]byte(metadata), &out.Payload.Metadata); err != nil {
			return out, fmt.Errorf("failed to decode metadata payload: %w", err)
		}
	}
	return out, nil
}
