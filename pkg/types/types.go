// Package types holds the entities shared across the retrieval core:
// tenants, knowledge bases, documents, chunks, hierarchy nodes,
// identities, and the coded error taxonomy.
package types

import (
	"time"
)

// TenantStatus gates all core calls for a tenant.
type TenantStatus string

const (
	TenantActive   TenantStatus = "active"
	TenantDisabled TenantStatus = "disabled"
)

// IsolationStrategy determines how a tenant's vectors are laid out in
// the dense store.
type IsolationStrategy string

const (
	// IsolationShared stores every tenant in one named collection and
	// relies on payload filtering.
	IsolationShared IsolationStrategy = "shared"
	// IsolationPerTenant gives each tenant its own collection.
	IsolationPerTenant IsolationStrategy = "per_tenant"
	// IsolationAuto picks per-tenant once a tenant's document volume
	// crosses a threshold. The switch is one-way and does not migrate
	// existing data.
	IsolationAuto IsolationStrategy = "auto"
)

// Tenant is the unit of data ownership. Disabled tenants reject all
// core calls.
type Tenant struct {
	ID        string            `json:"id"`
	Name      string            `json:"name,omitempty"`
	Status    TenantStatus      `json:"status"`
	Isolation IsolationStrategy `json:"isolation"`
	// Defaults, when set, override system defaults for every query in
	// the tenant; knowledge-base params and request overrides still win.
	Defaults *TenantDefaults `json:"defaults,omitempty"`
	// DocCount feeds the auto isolation decision.
	DocCount  int64     `json:"doc_count"`
	CreatedAt time.Time `json:"created_at"`
}

// TenantDefaults are the retrieval tunables a tenant may pin. Zero
// values inherit from the system layer.
type TenantDefaults struct {
	TopK         int     `json:"top_k,omitempty" yaml:"top_k,omitempty"`
	Threshold    float32 `json:"threshold,omitempty" yaml:"threshold,omitempty"`
	DenseWeight  float32 `json:"dense_weight,omitempty" yaml:"dense_weight,omitempty"`
	SparseWeight float32 `json:"sparse_weight,omitempty" yaml:"sparse_weight,omitempty"`
	FusionK      int     `json:"fusion_k,omitempty" yaml:"fusion_k,omitempty"`
}

// SummaryStatus tracks document summarization progress.
type SummaryStatus string

const (
	SummaryPending    SummaryStatus = "pending"
	SummaryGenerating SummaryStatus = "generating"
	SummaryCompleted  SummaryStatus = "completed"
	SummaryFailed     SummaryStatus = "failed"
	SummarySkipped    SummaryStatus = "skipped"
)

// SensitivityLevel controls ACL evaluation during security trimming.
type SensitivityLevel string

const (
	SensitivityPublic     SensitivityLevel = "public"
	SensitivityRestricted SensitivityLevel = "restricted"
)

// ACL lists the principals allowed to see a restricted document.
type ACL struct {
	AllowUsers  []string `json:"allow_users,omitempty"`
	AllowRoles  []string `json:"allow_roles,omitempty"`
	AllowGroups []string `json:"allow_groups,omitempty"`
}

// Empty reports whether the ACL grants to no explicit principal.
func (a ACL) Empty() bool {
	return len(a.AllowUsers) == 0 && len(a.AllowRoles) == 0 && len(a.AllowGroups) == 0
}

// Document is an ingested text document. Its chunks, vector records,
// and sparse records are owned exclusively by it.
type Document struct {
	ID            string           `json:"id"`
	TenantID      string           `json:"tenant_id"`
	KBID          string           `json:"kb_id"`
	Title         string           `json:"title"`
	Source        map[string]any   `json:"source,omitempty"`
	Summary       string           `json:"summary,omitempty"`
	SummaryStatus SummaryStatus    `json:"summary_status"`
	Sensitivity   SensitivityLevel `json:"sensitivity_level"`
	ACL           ACL              `json:"acl"`
	// ContentHash detects idempotent re-ingestion of identical content.
	ContentHash string    `json:"content_hash,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// IndexingStatus is the per-chunk state machine:
// pending -> indexing -> indexed | failed, with failed -> indexing only
// via an explicit retry.
type IndexingStatus string

const (
	IndexingPending IndexingStatus = "pending"
	IndexingRunning IndexingStatus = "indexing"
	IndexingDone    IndexingStatus = "indexed"
	IndexingFailed  IndexingStatus = "failed"
)

// Well-known chunk metadata keys.
const (
	MetaChunkIndex = "chunk_index"
	MetaChunkID    = "chunk_id"
	MetaParentID   = "parent_id"
	MetaChild      = "child"
	MetaHeadings   = "headings"
	MetaLanguage   = "language"
	MetaBlockKind  = "block_kind"
	MetaSeparator  = "separator"
)

// Chunk is the atomic retrieval unit: a contiguous slice of a document
// with a stable id and a dense 0-based ordinal.
type Chunk struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	KBID     string `json:"kb_id"`
	DocID    string `json:"doc_id"`
	Ordinal  int    `json:"ordinal"`
	Text     string `json:"text"`
	// EnrichedText, when present, is used as the embedding input; the
	// original Text is always what callers get back.
	EnrichedText string         `json:"enriched_text,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Status       IndexingStatus `json:"indexing_status"`
	IndexError   string         `json:"indexing_error,omitempty"`
	RetryCount   int            `json:"retry_count"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// IsChild reports whether the chunk is a child under parent-child
// chunking.
func (c *Chunk) IsChild() bool {
	v, ok := c.Metadata[MetaChild].(bool)
	return ok && v
}

// ParentID returns the parent chunk id for child chunks, or "".
func (c *Chunk) ParentID() string {
	v, _ := c.Metadata[MetaParentID].(string)
	return v
}

// HierarchyNode is one node of a knowledge base's summary tree.
// Level 0 nodes correspond one-to-one with the chunks they cover at
// build time; higher levels are LLM summaries of clustered children.
type HierarchyNode struct {
	ID       string   `json:"id"`
	TenantID string   `json:"tenant_id"`
	KBID     string   `json:"kb_id"`
	Level    int      `json:"level"`
	Text     string   `json:"text"`
	ChildIDs []string `json:"child_ids,omitempty"`
	// ChunkID links a level-0 node back to its chunk.
	ChunkID string `json:"chunk_id,omitempty"`
	// Generation identifies the tree build this node belongs to; a
	// rebuild swaps the whole generation atomically.
	Generation int64 `json:"generation"`
}

// Role is the coarse permission attached to an API key.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleWrite Role = "write"
	RoleRead  Role = "read"
)

// Clearance orders sensitivity levels a caller may see regardless of
// explicit ACL membership.
type Clearance string

const (
	ClearanceNone       Clearance = ""
	ClearancePublic     Clearance = "public"
	ClearanceRestricted Clearance = "restricted"
)

// AtLeast reports whether the clearance covers the given sensitivity.
func (c Clearance) AtLeast(level SensitivityLevel) bool {
	switch level {
	case SensitivityPublic:
		return true
	case SensitivityRestricted:
		return c == ClearanceRestricted
	default:
		return false
	}
}

// Identity is the caller's principal set, evaluated against document
// ACLs during security trimming.
type Identity struct {
	User      string    `json:"user,omitempty"`
	Roles     []string  `json:"roles,omitempty"`
	Groups    []string  `json:"groups,omitempty"`
	Clearance Clearance `json:"clearance,omitempty"`
}

// APIKey is the read-only identity record presented per request.
type APIKey struct {
	ID       string   `json:"id"`
	TenantID string   `json:"tenant_id"`
	Role     Role     `json:"role"`
	KBScope  []string `json:"kb_scope,omitempty"`
	Identity Identity `json:"identity"`
}

// InScope reports whether the key may touch the given knowledge base.
// An empty scope list means all of the tenant's knowledge bases.
func (k *APIKey) InScope(kbID string) bool {
	if len(k.KBScope) == 0 {
		return true
	}
	for _, id := range k.KBScope {
		if id == kbID {
			return true
		}
	}
	return false
}

// KnowledgeBase binds a tenant's documents to an operator configuration.
// The embedding part of the config freezes once any document reaches
// indexed.
type KnowledgeBase struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Name      string    `json:"name"`
	Config    KBConfig  `json:"config"`
	DocCount  int64     `json:"doc_count"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// OperatorRef names a registered operator together with its parameter
// map. Params are decoded into the operator's typed parameter struct at
// construction time.
type OperatorRef struct {
	Name   string         `json:"name" yaml:"name"`
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

// EmbeddingConfig identifies the embedding provider/model for a KB.
// Immutable once the KB has indexed chunks.
type EmbeddingConfig struct {
	Provider  string `json:"provider" yaml:"provider"`
	Model     string `json:"model" yaml:"model"`
	Dimension int    `json:"dimension" yaml:"dimension"`
}

// Equal reports whether two embedding configs describe the same model.
func (e EmbeddingConfig) Equal(other EmbeddingConfig) bool {
	return e.Provider == other.Provider && e.Model == other.Model && e.Dimension == other.Dimension
}

// KBConfig is a knowledge base's operator selection.
type KBConfig struct {
	Chunker   OperatorRef     `json:"chunker" yaml:"chunker"`
	Enricher  *OperatorRef    `json:"enricher,omitempty" yaml:"enricher,omitempty"`
	Indexer   OperatorRef     `json:"indexer" yaml:"indexer"`
	Retriever OperatorRef     `json:"retriever" yaml:"retriever"`
	Embedding EmbeddingConfig `json:"embedding" yaml:"embedding"`
	// SparseEnabled mirrors chunks into the sparse store for BM25 and
	// hybrid retrieval.
	SparseEnabled bool `json:"sparse_enabled" yaml:"sparse_enabled"`
}
