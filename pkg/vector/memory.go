package vector

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/tessera-kb/tessera/pkg/types"
)

// MemoryProvider is an exact-cosine in-memory store used by tests and
// throwaway local setups.
type MemoryProvider struct {
	mu          sync.RWMutex
	collections map[string]map[string]Point
	dims        map[string]int
}

func NewMemory() *MemoryProvider {
	return &MemoryProvider{
		collections: make(map[string]map[string]Point),
		dims:        make(map[string]int),
	}
}

func (p *MemoryProvider) EnsureCollection(_ context.Context, name string, dim int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if known, ok := p.dims[name]; ok {
		if known != dim {
			return types.NewError(types.ErrEmbeddingDimMismatch,
				"collection %q has dimension %d, requested %d", name, known, dim)
		}
		return nil
	}
	p.collections[name] = make(map[string]Point)
	p.dims[name] = dim
	return nil
}

func (p *MemoryProvider) Upsert(_ context.Context, collection string, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if known, ok := p.dims[collection]; ok && known != len(points[0].Vector) {
		return types.NewError(types.ErrEmbeddingDimMismatch,
			"point dimension %d does not match collection %q dimension %d",
			len(points[0].Vector), collection, known)
	}
	col, ok := p.collections[collection]
	if !ok {
		col = make(map[string]Point)
		p.collections[collection] = col
		p.dims[collection] = len(points[0].Vector)
	}
	for _, point := range points {
		col[point.ID] = point
	}
	return nil
}

func (p *MemoryProvider) Search(_ context.Context, collection string, queryVector []float32, topK int, filter Filter) ([]ScoredPoint, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if known, ok := p.dims[collection]; ok && known != len(queryVector) {
		return nil, types.NewError(types.ErrEmbeddingDimMismatch,
			"query dimension %d does not match collection %q dimension %d",
			len(queryVector), collection, known)
	}

	var out []ScoredPoint
	for _, point := range p.collections[collection] {
		if !filter.Matches(point.Payload) {
			continue
		}
		out = append(out, ScoredPoint{Point: point, Score: cosine(queryVector, point.Vector)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func (p *MemoryProvider) DeleteByFilter(_ context.Context, collection string, filter Filter) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	col := p.collections[collection]
	for id, point := range col {
		if filter.Matches(point.Payload) {
			delete(col, id)
		}
	}
	return nil
}

func (p *MemoryProvider) Close() error { return nil }

func cosine(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
