package storage

// schema is shared by the sqlite and postgres dialects: TEXT ids, JSON
// stored as TEXT, TIMESTAMP times.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS tenants (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL DEFAULT '',
		status     TEXT NOT NULL DEFAULT 'active',
		isolation  TEXT NOT NULL DEFAULT 'shared',
		defaults   TEXT NOT NULL DEFAULT 'null',
		doc_count  BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS knowledge_bases (
		id         TEXT PRIMARY KEY,
		tenant_id  TEXT NOT NULL,
		name       TEXT NOT NULL DEFAULT '',
		config     TEXT NOT NULL DEFAULT '{}',
		doc_count  BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_kb_tenant ON knowledge_bases (tenant_id)`,
	`CREATE TABLE IF NOT EXISTS api_keys (
		id        TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		role      TEXT NOT NULL DEFAULT 'read',
		kb_scope  TEXT NOT NULL DEFAULT 'null',
		identity  TEXT NOT NULL DEFAULT '{}'
	)`,
	`CREATE TABLE IF NOT EXISTS documents (
		id                TEXT PRIMARY KEY,
		tenant_id         TEXT NOT NULL,
		kb_id             TEXT NOT NULL,
		title             TEXT NOT NULL DEFAULT '',
		source            TEXT NOT NULL DEFAULT 'null',
		summary           TEXT NOT NULL DEFAULT '',
		summary_status    TEXT NOT NULL DEFAULT 'pending',
		sensitivity_level TEXT NOT NULL DEFAULT 'public',
		acl               TEXT NOT NULL DEFAULT '{}',
		content_hash      TEXT NOT NULL DEFAULT '',
		created_at        TIMESTAMP NOT NULL,
		updated_at        TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_documents_kb ON documents (tenant_id, kb_id)`,
	`CREATE TABLE IF NOT EXISTS chunks (
		id              TEXT PRIMARY KEY,
		tenant_id       TEXT NOT NULL,
		kb_id           TEXT NOT NULL,
		doc_id          TEXT NOT NULL,
		ordinal         INTEGER NOT NULL,
		text            TEXT NOT NULL,
		enriched_text   TEXT NOT NULL DEFAULT '',
		metadata        TEXT NOT NULL DEFAULT '{}',
		indexing_status TEXT NOT NULL DEFAULT 'pending',
		indexing_error  TEXT NOT NULL DEFAULT '',
		retry_count     INTEGER NOT NULL DEFAULT 0,
		created_at      TIMESTAMP NOT NULL,
		updated_at      TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_chunks_doc ON chunks (tenant_id, doc_id, ordinal)`,
	`CREATE INDEX IF NOT EXISTS idx_chunks_status ON chunks (tenant_id, kb_id, indexing_status)`,
	`CREATE TABLE IF NOT EXISTS hierarchy_nodes (
		id         TEXT NOT NULL,
		tenant_id  TEXT NOT NULL,
		kb_id      TEXT NOT NULL,
		level      INTEGER NOT NULL,
		text       TEXT NOT NULL,
		child_ids  TEXT NOT NULL DEFAULT 'null',
		chunk_id   TEXT NOT NULL DEFAULT '',
		generation BIGINT NOT NULL,
		PRIMARY KEY (id, generation)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_hierarchy_kb ON hierarchy_nodes (tenant_id, kb_id, generation)`,
	`CREATE TABLE IF NOT EXISTS hierarchy_generations (
		tenant_id  TEXT NOT NULL,
		kb_id      TEXT NOT NULL,
		generation BIGINT NOT NULL,
		PRIMARY KEY (tenant_id, kb_id)
	)`,
}
