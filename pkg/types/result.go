package types

// Visualization metadata keys attached by composite retrievers. After
// reranking these keys are migrated to the new top-1 hit so clients see
// them regardless of ordering.
const (
	MetaHydeQueries      = "hyde_queries"
	MetaGeneratedQueries = "generated_queries"
	MetaSemanticQuery    = "semantic_query"
	MetaParsedFilters    = "parsed_filters"
	MetaRetrievalDetails = "retrieval_details"
	MetaParentNotFound   = "parent_not_found"
	MetaTreeLevel        = "level"
)

// VisualizationKeys lists the metadata keys migrated across rerank.
var VisualizationKeys = []string{
	MetaHydeQueries,
	MetaGeneratedQueries,
	MetaSemanticQuery,
	MetaParsedFilters,
	MetaRetrievalDetails,
}

// Hit is one ranked retrieval result.
type Hit struct {
	ChunkID  string         `json:"chunk_id"`
	DocID    string         `json:"doc_id"`
	KBID     string         `json:"kb_id"`
	Text     string         `json:"text"`
	Score    float32        `json:"score"`
	Ordinal  int            `json:"ordinal"`
	Metadata map[string]any `json:"metadata,omitempty"`
	// SourceTag identifies the strategy that produced the hit, for
	// diagnostics and for preserving visualization fields across fusion.
	SourceTag string `json:"source_tag,omitempty"`
	// Context fields are filled by window expansion.
	ContextText   string `json:"context_text,omitempty"`
	ContextBefore string `json:"context_before,omitempty"`
	ContextAfter  string `json:"context_after,omitempty"`
}

// Meta returns the hit's metadata map, allocating it on first use.
func (h *Hit) Meta() map[string]any {
	if h.Metadata == nil {
		h.Metadata = make(map[string]any)
	}
	return h.Metadata
}

// ModelDescriptor identifies which models and retriever produced a
// result set.
type ModelDescriptor struct {
	EmbeddingProvider string `json:"embedding_provider,omitempty"`
	EmbeddingModel    string `json:"embedding_model,omitempty"`
	LLMModel          string `json:"llm_model,omitempty"`
	RerankModel       string `json:"rerank_model,omitempty"`
	Retriever         string `json:"retriever"`
}

// RetrievalResult is the core's answer to a retrieval request.
type RetrievalResult struct {
	Hits  []Hit           `json:"hits"`
	Model ModelDescriptor `json:"model"`
}
