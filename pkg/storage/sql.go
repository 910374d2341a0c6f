package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/tessera-kb/tessera/pkg/types"
)

// SQLStore implements Store over database/sql with sqlite and postgres
// dialects. Structured fields (configs, metadata, ACLs) are stored as
// JSON text so both dialects share one schema.
type SQLStore struct {
	db      *sql.DB
	dialect string
}

// OpenSQL opens the database, applies the schema, and returns the
// store.
func OpenSQL(dialect, dsn string) (*SQLStore, error) {
	driver := dialect
	if dialect == "sqlite" {
		driver = "sqlite3"
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", dialect, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to %s database: %w", dialect, err)
	}

	s := &SQLStore{db: db, dialect: dialect}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// rebind translates '?' placeholders to the dialect's form.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

func (s *SQLStore) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.rebind(query), args...)
}

func (s *SQLStore) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(query), args...)
}

func (s *SQLStore) migrate() error {
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

func marshalJSON(v any) (string, error) {
	if v == nil {
		return "null", nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal field: %w", err)
	}
	return string(data), nil
}

func unmarshalJSON(data string, v any) error {
	if data == "" || data == "null" {
		return nil
	}
	return json.Unmarshal([]byte(data), v)
}

func (s *SQLStore) CreateTenant(ctx context.Context, tenant *types.Tenant) error {
	defaults, err := marshalJSON(tenant.Defaults)
	if err != nil {
		return err
	}
	_, err = s.exec(ctx,
		`INSERT INTO tenants (id, name, status, isolation, defaults, doc_count, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		tenant.ID, tenant.Name, string(tenant.Status), string(tenant.Isolation), defaults, tenant.DocCount, time.Now())
	if err != nil {
		return fmt.Errorf("failed to create tenant: %w", err)
	}
	return nil
}

func (s *SQLStore) GetTenant(ctx context.Context, tenantID string) (*types.Tenant, error) {
	var t types.Tenant
	var status, isolation, defaults string
	err := s.queryRow(ctx,
		`SELECT id, name, status, isolation, defaults, doc_count, created_at FROM tenants WHERE id = ?`,
		tenantID).Scan(&t.ID, &t.Name, &status, &isolation, &defaults, &t.DocCount, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.NewError(types.ErrNoPermission, "tenant %q not found", tenantID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load tenant: %w", err)
	}
	t.Status = types.TenantStatus(status)
	t.Isolation = types.IsolationStrategy(isolation)
	if err := unmarshalJSON(defaults, &t.Defaults); err != nil {
		return nil, fmt.Errorf("failed to decode tenant defaults: %w", err)
	}
	return &t, nil
}

func (s *SQLStore) IncrementTenantDocCount(ctx context.Context, tenantID string, delta int64) error {
	// sqlite spells two-argument max differently from postgres.
	fn := "MAX"
	if s.dialect == "postgres" {
		fn = "GREATEST"
	}
	res, err := s.exec(ctx,
		`UPDATE tenants SET doc_count = `+fn+`(doc_count + ?, 0) WHERE id = ?`, delta, tenantID)
	if err != nil {
		return fmt.Errorf("failed to update tenant doc count: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.NewError(types.ErrNoPermission, "tenant %q not found", tenantID)
	}
	return nil
}

func (s *SQLStore) CreateKnowledgeBase(ctx context.Context, kb *types.KnowledgeBase) error {
	cfg, err := marshalJSON(kb.Config)
	if err != nil {
		return err
	}
	now := time.Now()
	_, err = s.exec(ctx,
		`INSERT INTO knowledge_bases (id, tenant_id, name, config, doc_count, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		kb.ID, kb.TenantID, kb.Name, cfg, kb.DocCount, now, now)
	if err != nil {
		return fmt.Errorf("failed to create knowledge base: %w", err)
	}
	return nil
}

func (s *SQLStore) GetKnowledgeBase(ctx context.Context, tenantID, kbID string) (*types.KnowledgeBase, error) {
	var kb types.KnowledgeBase
	var cfg string
	err := s.queryRow(ctx,
		`SELECT id, tenant_id, name, config, doc_count, created_at, updated_at
		 FROM knowledge_bases WHERE id = ? AND tenant_id = ?`,
		kbID, tenantID).Scan(&kb.ID, &kb.TenantID, &kb.Name, &cfg, &kb.DocCount, &kb.CreatedAt, &kb.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		// Cross-tenant lookups behave like missing rows.
		return nil, types.NewError(types.ErrKBNotFound, "knowledge base %q not found", kbID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load knowledge base: %w", err)
	}
	if err := unmarshalJSON(cfg, &kb.Config); err != nil {
		return nil, fmt.Errorf("failed to decode kb config: %w", err)
	}
	return &kb, nil
}

func (s *SQLStore) UpdateKBConfig(ctx context.Context, tenantID, kbID string, cfg types.KBConfig) error {
	encoded, err := marshalJSON(cfg)
	if err != nil {
		return err
	}
	res, err := s.exec(ctx,
		`UPDATE knowledge_bases SET config = ?, updated_at = ? WHERE id = ? AND tenant_id = ?`,
		encoded, time.Now(), kbID, tenantID)
	if err != nil {
		return fmt.Errorf("failed to update kb config: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.NewError(types.ErrKBNotFound, "knowledge base %q not found", kbID)
	}
	return nil
}

func (s *SQLStore) CreateAPIKey(ctx context.Context, key *types.APIKey) error {
	identity, err := marshalJSON(key.Identity)
	if err != nil {
		return err
	}
	scope, err := marshalJSON(key.KBScope)
	if err != nil {
		return err
	}
	_, err = s.exec(ctx,
		`INSERT INTO api_keys (id, tenant_id, role, kb_scope, identity) VALUES (?, ?, ?, ?, ?)`,
		key.ID, key.TenantID, string(key.Role), scope, identity)
	if err != nil {
		return fmt.Errorf("failed to create api key: %w", err)
	}
	return nil
}

func (s *SQLStore) GetAPIKey(ctx context.Context, keyID string) (*types.APIKey, error) {
	var key types.APIKey
	var role, scope, identity string
	err := s.queryRow(ctx,
		`SELECT id, tenant_id, role, kb_scope, identity FROM api_keys WHERE id = ?`,
		keyID).Scan(&key.ID, &key.TenantID, &role, &scope, &identity)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.NewError(types.ErrNoPermission, "unknown api key")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load api key: %w", err)
	}
	key.Role = types.Role(role)
	if err := unmarshalJSON(scope, &key.KBScope); err != nil {
		return nil, fmt.Errorf("failed to decode key scope: %w", err)
	}
	if err := unmarshalJSON(identity, &key.Identity); err != nil {
		return nil, fmt.Errorf("failed to decode key identity: %w", err)
	}
	return &key, nil
}

func (s *SQLStore) CreateDocument(ctx context.Context, doc *types.Document) error {
	source, err := marshalJSON(doc.Source)
	if err != nil {
		return err
	}
	acl, err := marshalJSON(doc.ACL)
	if err != nil {
		return err
	}
	now := time.Now()
	created := doc.CreatedAt
	if created.IsZero() {
		created = now
	}
	_, err = s.exec(ctx,
		`INSERT INTO documents
		 (id, tenant_id, kb_id, title, source, summary, summary_status, sensitivity_level, acl, content_hash, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.TenantID, doc.KBID, doc.Title, source, doc.Summary,
		string(doc.SummaryStatus), string(doc.Sensitivity), acl, doc.ContentHash, created, now)
	if err != nil {
		return fmt.Errorf("failed to create document: %w", err)
	}
	return nil
}

func (s *SQLStore) scanDocument(row interface{ Scan(...any) error }) (*types.Document, error) {
	var doc types.Document
	var source, summaryStatus, sensitivity, acl string
	err := row.Scan(&doc.ID, &doc.TenantID, &doc.KBID, &doc.Title, &source, &doc.Summary,
		&summaryStatus, &sensitivity, &acl, &doc.ContentHash, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	doc.SummaryStatus = types.SummaryStatus(summaryStatus)
	doc.Sensitivity = types.SensitivityLevel(sensitivity)
	if err := unmarshalJSON(source, &doc.Source); err != nil {
		return nil, fmt.Errorf("failed to decode document source: %w", err)
	}
	if err := unmarshalJSON(acl, &doc.ACL); err != nil {
		return nil, fmt.Errorf("failed to decode document acl: %w", err)
	}
	return &doc, nil
}

const documentColumns = `id, tenant_id, kb_id, title, source, summary, summary_status, sensitivity_level, acl, content_hash, created_at, updated_at`

func (s *SQLStore) GetDocument(ctx context.Context, tenantID, docID string) (*types.Document, error) {
	row := s.queryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = ? AND tenant_id = ?`, docID, tenantID)
	doc, err := s.scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.NewError(types.ErrDocNotFound, "document %q not found", docID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load document: %w", err)
	}
	return doc, nil
}

func (s *SQLStore) GetDocumentsByIDs(ctx context.Context, tenantID string, ids []string) ([]*types.Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat("?, ", len(ids)-1) + "?"
	args := make([]any, 0, len(ids)+1)
	args = append(args, tenantID)
	for _, id := range ids {
		args = append(args, id)
	}

	rows, err := s.query(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE tenant_id = ? AND id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load documents: %w", err)
	}
	defer rows.Close()

	var out []*types.Document
	for rows.Next() {
		doc, err := s.scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

func (s *SQLStore) UpdateDocumentSummary(ctx context.Context, tenantID, docID, summary string, status types.SummaryStatus) error {
	res, err := s.exec(ctx,
		`UPDATE documents SET summary = ?, summary_status = ?, updated_at = ? WHERE id = ? AND tenant_id = ?`,
		summary, string(status), time.Now(), docID, tenantID)
	if err != nil {
		return fmt.Errorf("failed to update document summary: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.NewError(types.ErrDocNotFound, "document %q not found", docID)
	}
	return nil
}

func (s *SQLStore) DeleteDocumentCascade(ctx context.Context, tenantID, docID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin delete: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM documents WHERE id = ? AND tenant_id = ?`), docID, tenantID)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.NewError(types.ErrDocNotFound, "document %q not found", docID)
	}
	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM chunks WHERE doc_id = ? AND tenant_id = ?`), docID, tenantID); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	return tx.Commit()
}

const chunkColumns = `id, tenant_id, kb_id, doc_id, ordinal, text, enriched_text, metadata, indexing_status, indexing_error, retry_count, created_at, updated_at`

func (s *SQLStore) CreateChunks(ctx context.Context, chunks []*types.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin chunk insert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.rebind(
		`INSERT INTO chunks (`+chunkColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`))
	if err != nil {
		return fmt.Errorf("failed to prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	for _, chunk := range chunks {
		metadata, err := marshalJSON(chunk.Metadata)
		if err != nil {
			return err
		}
		created := chunk.CreatedAt
		if created.IsZero() {
			created = now
		}
		if _, err := stmt.ExecContext(ctx,
			chunk.ID, chunk.TenantID, chunk.KBID, chunk.DocID, chunk.Ordinal, chunk.Text,
			chunk.EnrichedText, metadata, string(chunk.Status), chunk.IndexError,
			chunk.RetryCount, created, now); err != nil {
			return fmt.Errorf("failed to insert chunk %s: %w", chunk.ID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLStore) scanChunk(row interface{ Scan(...any) error }) (*types.Chunk, error) {
	var chunk types.Chunk
	var metadata, status string
	err := row.Scan(&chunk.ID, &chunk.TenantID, &chunk.KBID, &chunk.DocID, &chunk.Ordinal,
		&chunk.Text, &chunk.EnrichedText, &metadata, &status, &chunk.IndexError,
		&chunk.RetryCount, &chunk.CreatedAt, &chunk.UpdatedAt)
	if err != nil {
		return nil, err
	}
	chunk.Status = types.IndexingStatus(status)
	if err := unmarshalJSON(metadata, &chunk.Metadata); err != nil {
		return nil, fmt.Errorf("failed to decode chunk metadata: %w", err)
	}
	return &chunk, nil
}

func (s *SQLStore) listChunks(ctx context.Context, query string, args ...any) ([]*types.Chunk, error) {
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load chunks: %w", err)
	}
	defer rows.Close()

	var out []*types.Chunk
	for rows.Next() {
		chunk, err := s.scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, chunk)
	}
	return out, rows.Err()
}

func (s *SQLStore) GetChunksByIDs(ctx context.Context, tenantID string, ids []string) ([]*types.Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat("?, ", len(ids)-1) + "?"
	args := make([]any, 0, len(ids)+1)
	args = append(args, tenantID)
	for _, id := range ids {
		args = append(args, id)
	}
	return s.listChunks(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE tenant_id = ? AND id IN (`+placeholders+`)`, args...)
}

func (s *SQLStore) ListChunksForDocument(ctx context.Context, tenantID, docID string) ([]*types.Chunk, error) {
	return s.listChunks(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE tenant_id = ? AND doc_id = ? ORDER BY ordinal`,
		tenantID, docID)
}

func (s *SQLStore) ListChunkRange(ctx context.Context, tenantID, docID string, from, to int) ([]*types.Chunk, error) {
	return s.listChunks(ctx,
		`SELECT `+chunkColumns+` FROM chunks
		 WHERE tenant_id = ? AND doc_id = ? AND ordinal >= ? AND ordinal <= ? ORDER BY ordinal`,
		tenantID, docID, from, to)
}

func (s *SQLStore) ListChunksByStatus(ctx context.Context, tenantID, kbID string, status types.IndexingStatus) ([]*types.Chunk, error) {
	return s.listChunks(ctx,
		`SELECT `+chunkColumns+` FROM chunks
		 WHERE tenant_id = ? AND kb_id = ? AND indexing_status = ? ORDER BY doc_id, ordinal`,
		tenantID, kbID, string(status))
}

func (s *SQLStore) UpdateChunkStatus(ctx context.Context, tenantID, chunkID string, status types.IndexingStatus, indexError string) error {
	res, err := s.exec(ctx,
		`UPDATE chunks SET indexing_status = ?, indexing_error = ?, updated_at = ? WHERE id = ? AND tenant_id = ?`,
		string(status), indexError, time.Now(), chunkID, tenantID)
	if err != nil {
		return fmt.Errorf("failed to update chunk status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.NewError(types.ErrDocNotFound, "chunk %q not found", chunkID)
	}
	return nil
}

func (s *SQLStore) IncrementChunkRetry(ctx context.Context, tenantID, chunkID string) error {
	res, err := s.exec(ctx,
		`UPDATE chunks SET retry_count = retry_count + 1, updated_at = ? WHERE id = ? AND tenant_id = ?`,
		time.Now(), chunkID, tenantID)
	if err != nil {
		return fmt.Errorf("failed to increment chunk retry count: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.NewError(types.ErrDocNotFound, "chunk %q not found", chunkID)
	}
	return nil
}

func (s *SQLStore) UpdateChunkEnrichment(ctx context.Context, tenantID, chunkID, enrichedText string) error {
	res, err := s.exec(ctx,
		`UPDATE chunks SET enriched_text = ?, updated_at = ? WHERE id = ? AND tenant_id = ?`,
		enrichedText, time.Now(), chunkID, tenantID)
	if err != nil {
		return fmt.Errorf("failed to update chunk enrichment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.NewError(types.ErrDocNotFound, "chunk %q not found", chunkID)
	}
	return nil
}

func (s *SQLStore) CountIndexedChunks(ctx context.Context, tenantID, kbID string) (int64, error) {
	var count int64
	err := s.queryRow(ctx,
		`SELECT COUNT(*) FROM chunks WHERE tenant_id = ? AND kb_id = ? AND indexing_status = ?`,
		tenantID, kbID, string(types.IndexingDone)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count indexed chunks: %w", err)
	}
	return count, nil
}

const hierarchyColumns = `id, tenant_id, kb_id, level, text, child_ids, chunk_id, generation`

func (s *SQLStore) CreateHierarchyNodes(ctx context.Context, nodes []*types.HierarchyNode) error {
	if len(nodes) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin hierarchy insert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.rebind(
		`INSERT INTO hierarchy_nodes (`+hierarchyColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`))
	if err != nil {
		return fmt.Errorf("failed to prepare hierarchy insert: %w", err)
	}
	defer stmt.Close()

	for _, node := range nodes {
		childIDs, err := marshalJSON(node.ChildIDs)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx,
			node.ID, node.TenantID, node.KBID, node.Level, node.Text, childIDs, node.ChunkID, node.Generation); err != nil {
			return fmt.Errorf("failed to insert hierarchy node %s: %w", node.ID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLStore) scanHierarchyNodes(rows *sql.Rows) ([]*types.HierarchyNode, error) {
	defer rows.Close()

	var out []*types.HierarchyNode
	for rows.Next() {
		var node types.HierarchyNode
		var childIDs string
		if err := rows.Scan(&node.ID, &node.TenantID, &node.KBID, &node.Level, &node.Text,
			&childIDs, &node.ChunkID, &node.Generation); err != nil {
			return nil, err
		}
		if err := unmarshalJSON(childIDs, &node.ChildIDs); err != nil {
			return nil, fmt.Errorf("failed to decode hierarchy children: %w", err)
		}
		out = append(out, &node)
	}
	return out, rows.Err()
}

func (s *SQLStore) ListHierarchyNodes(ctx context.Context, tenantID, kbID string, generation int64) ([]*types.HierarchyNode, error) {
	rows, err := s.query(ctx,
		`SELECT `+hierarchyColumns+` FROM hierarchy_nodes
		 WHERE tenant_id = ? AND kb_id = ? AND generation = ? ORDER BY level DESC, id`,
		tenantID, kbID, generation)
	if err != nil {
		return nil, fmt.Errorf("failed to load hierarchy nodes: %w", err)
	}
	return s.scanHierarchyNodes(rows)
}

func (s *SQLStore) GetHierarchyNodes(ctx context.Context, tenantID, kbID string, generation int64, ids []string) ([]*types.HierarchyNode, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat("?, ", len(ids)-1) + "?"
	args := []any{tenantID, kbID, generation}
	for _, id := range ids {
		args = append(args, id)
	}
	rows, err := s.query(ctx,
		`SELECT `+hierarchyColumns+` FROM hierarchy_nodes
		 WHERE tenant_id = ? AND kb_id = ? AND generation = ? AND id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load hierarchy nodes: %w", err)
	}
	return s.scanHierarchyNodes(rows)
}

func (s *SQLStore) CurrentHierarchyGeneration(ctx context.Context, tenantID, kbID string) (int64, error) {
	var generation int64
	err := s.queryRow(ctx,
		`SELECT generation FROM hierarchy_generations WHERE tenant_id = ? AND kb_id = ?`,
		tenantID, kbID).Scan(&generation)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load hierarchy generation: %w", err)
	}
	return generation, nil
}

func (s *SQLStore) CommitHierarchyGeneration(ctx context.Context, tenantID, kbID string, generation int64) error {
	query := `INSERT INTO hierarchy_generations (tenant_id, kb_id, generation) VALUES (?, ?, ?)
		 ON CONFLICT (tenant_id, kb_id) DO UPDATE SET generation = excluded.generation`
	if _, err := s.exec(ctx, query, tenantID, kbID, generation); err != nil {
		return fmt.Errorf("failed to commit hierarchy generation: %w", err)
	}
	return nil
}

func (s *SQLStore) DeleteHierarchyBefore(ctx context.Context, tenantID, kbID string, generation int64) error {
	if _, err := s.exec(ctx,
		`DELETE FROM hierarchy_nodes WHERE tenant_id = ? AND kb_id = ? AND generation < ?`,
		tenantID, kbID, generation); err != nil {
		return fmt.Errorf("failed to prune hierarchy: %w", err)
	}
	return nil
}

func (s *SQLStore) DeleteHierarchyGeneration(ctx context.Context, tenantID, kbID string, generation int64) error {
	if _, err := s.exec(ctx,
		`DELETE FROM hierarchy_nodes WHERE tenant_id = ? AND kb_id = ? AND generation = ?`,
		tenantID, kbID, generation); err != nil {
		return fmt.Errorf("failed to delete hierarchy generation: %w", err)
	}
	return nil
}

func (s *SQLStore) Close() error { return s.db.Close() }
