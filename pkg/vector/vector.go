// Package vector defines the dense-store driver contract and its
// qdrant, chromem, and in-memory implementations. Every point carries
// tenant_id and kb_id in its payload; retrieval always filters on them.
package vector

import (
	"context"

	"github.com/tessera-kb/tessera/pkg/config"
	"github.com/tessera-kb/tessera/pkg/types"
)

// Payload kinds stored alongside vectors.
const (
	KindChunk = "chunk"
	KindNode  = "node"
)

// Payload is the denormalized record stored with each vector. The ACL
// fields are a snapshot copied at index time so trimming can work from
// search results alone.
type Payload struct {
	TenantID    string                 `json:"tenant_id"`
	KBID        string                 `json:"kb_id"`
	DocID       string                 `json:"doc_id"`
	ChunkID     string                 `json:"chunk_id"`
	Text        string                 `json:"text"`
	Kind        string                 `json:"kind"`
	Level       int                    `json:"level,omitempty"`
	Metadata    map[string]any         `json:"metadata,omitempty"`
	Sensitivity types.SensitivityLevel `json:"sensitivity_level"`
	ACL         types.ACL              `json:"acl"`
}

// Point is one dense record.
type Point struct {
	ID      string
	Vector  []float32
	Payload Payload
}

// ScoredPoint is a search result.
type ScoredPoint struct {
	Point
	Score float32
}

// Filter restricts searches and deletes. TenantID is mandatory on
// every call; zero values elsewhere mean "no constraint". Metadata
// entries are exact-match conditions against payload metadata.
type Filter struct {
	TenantID string
	KBIDs    []string
	DocID    string
	Kind     string
	// Level filters hierarchy nodes; nil means any level.
	Level    *int
	Metadata map[string]any
}

// Provider is the dense-store driver.
type Provider interface {
	EnsureCollection(ctx context.Context, name string, dim int) error
	Upsert(ctx context.Context, collection string, points []Point) error
	// Search returns the topK nearest points by cosine similarity. A
	// query vector whose dimension differs from the collection's fails
	// with EMBEDDING_DIM_MISMATCH.
	Search(ctx context.Context, collection string, queryVector []float32, topK int, filter Filter) ([]ScoredPoint, error)
	DeleteByFilter(ctx context.Context, collection string, filter Filter) error
	Close() error
}

// Open builds the provider a config names.
func Open(cfg *config.VectorConfig) (Provider, error) {
	switch cfg.Type {
	case "qdrant":
		return NewQdrant(cfg)
	case "chromem":
		return NewChromem(cfg)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, types.NewError(types.ErrValidation, "unknown vector store type %q", cfg.Type)
	}
}

// CollectionFor resolves the collection a tenant writes to under its
// isolation strategy. The auto strategy switches to a per-tenant
// collection once the tenant's document volume crosses the threshold;
// the switch is one-way and existing data is not migrated.
func CollectionFor(tenant *types.Tenant, cfg *config.VectorConfig) string {
	switch tenant.Isolation {
	case types.IsolationPerTenant:
		return "tessera_" + tenant.ID
	case types.IsolationAuto:
		if tenant.DocCount >= cfg.AutoThreshold {
			return "tessera_" + tenant.ID
		}
		return cfg.SharedCollection
	default:
		return cfg.SharedCollection
	}
}

// Matches applies a Filter to a payload. Shared by the memory driver,
// the chromem driver's post-filtering, and the sparse index.
func (f Filter) Matches(p Payload) bool {
	if f.TenantID != "" && p.TenantID != f.TenantID {
		return false
	}
	if len(f.KBIDs) > 0 {
		found := false
		for _, id := range f.KBIDs {
			if p.KBID == id {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.DocID != "" && p.DocID != f.DocID {
		return false
	}
	if f.Kind != "" && p.Kind != f.Kind {
		return false
	}
	if f.Level != nil && p.Level != *f.Level {
		return false
	}
	for key, want := range f.Metadata {
		if !looseEqual(p.Metadata[key], want) {
			return false
		}
	}
	return true
}

// looseEqual compares metadata values across the numeric types JSON
// round-trips introduce.
func looseEqual(have, want any) bool {
	if have == want {
		return true
	}
	hf, hok := asFloat(have)
	wf, wok := asFloat(want)
	return hok && wok && hf == wf
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
