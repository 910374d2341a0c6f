// Package tessera is a multi-tenant knowledge-base retrieval core.
//
// Documents are chunked, optionally enriched by an LLM, embedded, and
// written to dense and sparse indexes; queries run through pluggable
// retrieval strategies followed by security trimming, reranking, and
// context-window expansion. Every record and every search is scoped to
// a tenant.
//
// The building blocks live under pkg/:
//
//   - pkg/chunking: splitters from paragraph to parent-child
//   - pkg/enrichment: document summaries and contextual chunk text
//   - pkg/indexing: the standard and hierarchical (summary tree) indexers
//   - pkg/retrieval: dense, sparse, hybrid, and composite strategies
//   - pkg/postprocess: ACL trimming, rerank, window expansion
//   - pkg/service: the orchestrating front door
//
// The tessera CLI in cmd/tessera wires everything from a YAML config:
//
//	tessera bootstrap --config tessera.yaml --tenant acme
//	tessera create-kb --kb docs --file kb.yaml
//	tessera ingest --kb docs --title "Guide" --file guide.md
//	tessera query --kb docs "how do I rotate keys?"
package tessera
