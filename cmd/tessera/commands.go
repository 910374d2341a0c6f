package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tessera-kb/tessera/pkg/chunking"
	"github.com/tessera-kb/tessera/pkg/config"
	"github.com/tessera-kb/tessera/pkg/embedder"
	"github.com/tessera-kb/tessera/pkg/enrichment"
	"github.com/tessera-kb/tessera/pkg/indexing"
	"github.com/tessera-kb/tessera/pkg/llm"
	"github.com/tessera-kb/tessera/pkg/observability"
	"github.com/tessera-kb/tessera/pkg/operator"
	"github.com/tessera-kb/tessera/pkg/rerank"
	"github.com/tessera-kb/tessera/pkg/retrieval"
	"github.com/tessera-kb/tessera/pkg/service"
	"github.com/tessera-kb/tessera/pkg/sparse"
	"github.com/tessera-kb/tessera/pkg/storage"
	"github.com/tessera-kb/tessera/pkg/token"
	"github.com/tessera-kb/tessera/pkg/types"
	"github.com/tessera-kb/tessera/pkg/vector"
)

// runtime holds the wired backends for one command invocation.
type runtime struct {
	svc   *service.Service
	store storage.Store
	vec   vector.Provider
}

func (r *runtime) Close() {
	_ = r.vec.Close()
	_ = r.store.Close()
}

// buildRuntime wires every backend the config names. Without an
// embedding provider the deterministic local embedder is used, which
// makes the CLI usable with no credentials at all.
func buildRuntime(cfg *config.Config) (*runtime, error) {
	store, err := storage.Open(&cfg.Storage)
	if err != nil {
		return nil, err
	}
	vec, err := vector.Open(&cfg.Vector)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	var sparseIndex *sparse.Index
	if cfg.Sparse.Enabled {
		sparseIndex = sparse.NewIndex(&cfg.Sparse)
	}

	var embed embedder.Embedder
	if cfg.Providers.Embedding != nil {
		embed, err = embedder.New(cfg.Providers.Embedding)
		if err != nil {
			return nil, err
		}
	} else {
		embed = embedder.NewBagOfWords(0)
	}

	var completions llm.Provider
	if cfg.Providers.LLM != nil {
		completions, err = llm.New(cfg.Providers.LLM)
		if err != nil {
			return nil, err
		}
	}
	var reranker rerank.Reranker
	if cfg.Providers.Rerank != nil {
		reranker, err = rerank.New(cfg.Providers.Rerank, completions)
		if err != nil {
			return nil, err
		}
	}

	dir := operator.NewDirectory()
	if err := chunking.Register(dir); err != nil {
		return nil, err
	}
	if err := enrichment.Register(dir, completions); err != nil {
		return nil, err
	}
	backends := indexing.Deps{
		Store: store, Vector: vec, Sparse: sparseIndex,
		Embedder: embed, LLM: completions,
	}
	if err := indexing.Register(dir, backends); err != nil {
		return nil, err
	}
	if err := retrieval.Register(dir, retrieval.Deps{
		Store: store, Vector: vec, Sparse: sparseIndex,
		Embedder: embed, LLM: completions,
	}); err != nil {
		return nil, err
	}

	svc := service.New(cfg, service.Deps{
		Store:     store,
		Vector:    vec,
		Sparse:    sparseIndex,
		Directory: dir,
		Embedder:  embed,
		LLM:       completions,
		Reranker:  reranker,
		Codec:     token.Default(),
		Metrics:   observability.NewMetrics(),
	})
	return &runtime{svc: svc, store: store, vec: vec}, nil
}

// authenticate resolves the caller's API key flag.
func authenticate(ctx context.Context, cli *CLI, rt *runtime) (*types.APIKey, error) {
	if cli.APIKey == "" {
		return nil, fmt.Errorf("an API key is required (--api-key or TESSERA_API_KEY)")
	}
	return rt.svc.Authenticate(ctx, cli.APIKey)
}

// BootstrapCmd provisions a tenant and prints its admin key. It writes
// through the store directly because no key exists yet.
type BootstrapCmd struct {
	Tenant    string `required:"" help:"Tenant id to create."`
	Isolation string `help:"Isolation strategy (shared, per_tenant, auto)." default:""`
}

func (c *BootstrapCmd) Run(cli *CLI) error {
	cfg, err := cli.loadConfig()
	if err != nil {
		return err
	}
	rt, err := buildRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.Close()
	ctx := context.Background()

	isolation := types.IsolationStrategy(c.Isolation)
	if isolation == "" {
		isolation = types.IsolationStrategy(cfg.Defaults.Isolation)
	}
	if err := rt.store.CreateTenant(ctx, &types.Tenant{
		ID: c.Tenant, Status: types.TenantActive, Isolation: isolation,
	}); err != nil {
		return err
	}

	key := &types.APIKey{
		ID:       c.Tenant + "-admin",
		TenantID: c.Tenant,
		Role:     types.RoleAdmin,
		Identity: types.Identity{Clearance: types.ClearanceRestricted},
	}
	if err := rt.store.CreateAPIKey(ctx, key); err != nil {
		return err
	}
	fmt.Printf("tenant %s created, admin key: %s\n", c.Tenant, key.ID)
	return nil
}

// CreateKBCmd creates a knowledge base from a YAML operator config.
type CreateKBCmd struct {
	KB   string `required:"" help:"Knowledge base id."`
	Name string `help:"Display name (defaults to the id)."`
	File string `required:"" help:"YAML file with the KB operator config." type:"path"`
}

func (c *CreateKBCmd) Run(cli *CLI) error {
	cfg, err := cli.loadConfig()
	if err != nil {
		return err
	}
	rt, err := buildRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.Close()
	ctx := context.Background()

	key, err := authenticate(ctx, cli, rt)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(c.File)
	if err != nil {
		return err
	}
	var kbCfg types.KBConfig
	if err := yaml.Unmarshal(data, &kbCfg); err != nil {
		return fmt.Errorf("invalid KB config: %w", err)
	}

	name := c.Name
	if name == "" {
		name = c.KB
	}
	if err := rt.svc.CreateKnowledgeBase(ctx, key, &types.KnowledgeBase{
		ID: c.KB, Name: name, Config: kbCfg,
	}); err != nil {
		return err
	}
	fmt.Printf("knowledge base %s created\n", c.KB)
	return nil
}

// IngestCmd ingests one document from a file or stdin.
type IngestCmd struct {
	KB          string   `required:"" help:"Knowledge base id."`
	Title       string   `required:"" help:"Document title."`
	File        string   `help:"File to ingest ('-' or empty reads stdin)." type:"path"`
	DocID       string   `name:"doc-id" help:"Stable document id for idempotent re-ingestion."`
	Language    string   `help:"Language hint for the code chunker."`
	Sensitivity string   `help:"Sensitivity level (public, restricted)." default:"public"`
	AllowUsers  []string `name:"allow-user" help:"ACL users for restricted documents."`
	AllowRoles  []string `name:"allow-role" help:"ACL roles for restricted documents."`
	AllowGroups []string `name:"allow-group" help:"ACL groups for restricted documents."`
}

func (c *IngestCmd) Run(cli *CLI) error {
	cfg, err := cli.loadConfig()
	if err != nil {
		return err
	}
	rt, err := buildRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.Close()
	ctx := context.Background()

	key, err := authenticate(ctx, cli, rt)
	if err != nil {
		return err
	}

	var content []byte
	if c.File == "" || c.File == "-" {
		content, err = io.ReadAll(os.Stdin)
	} else {
		content, err = os.ReadFile(c.File)
	}
	if err != nil {
		return err
	}

	res, err := rt.svc.Ingest(ctx, key, service.IngestRequest{
		KBID:        c.KB,
		DocID:       c.DocID,
		Title:       c.Title,
		Content:     string(content),
		Language:    c.Language,
		Sensitivity: types.SensitivityLevel(c.Sensitivity),
		ACL: types.ACL{
			AllowUsers:  c.AllowUsers,
			AllowRoles:  c.AllowRoles,
			AllowGroups: c.AllowGroups,
		},
	})
	if err != nil {
		return err
	}
	if res.Unchanged {
		fmt.Printf("document %s unchanged, nothing to do\n", res.DocID)
		return nil
	}
	fmt.Printf("document %s: %d chunks, %d indexed, %d failed\n",
		res.DocID, res.Chunks, res.Indexed, res.Failed)
	return nil
}

// QueryCmd runs one retrieval request and prints the hits as JSON.
type QueryCmd struct {
	Query  string   `arg:"" help:"The query text."`
	KB     []string `required:"" help:"Knowledge base ids (repeatable)."`
	TopK   int      `name:"top-k" help:"Result count (clamped to the allowed range)." default:"0"`
	Rerank *bool    `help:"Force reranking on or off." negatable:""`
	Window *bool    `help:"Force window expansion on or off." negatable:""`
}

func (c *QueryCmd) Run(cli *CLI) error {
	cfg, err := cli.loadConfig()
	if err != nil {
		return err
	}
	rt, err := buildRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.Close()
	ctx := context.Background()

	key, err := authenticate(ctx, cli, rt)
	if err != nil {
		return err
	}

	overrides := &config.Overrides{Rerank: c.Rerank, Window: c.Window}
	if c.TopK > 0 {
		overrides.TopK = &c.TopK
	}
	result, err := rt.svc.Retrieve(ctx, key, service.RetrieveRequest{
		Query:     c.Query,
		KBIDs:     c.KB,
		Overrides: overrides,
	})
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

// DeleteCmd removes a document everywhere.
type DeleteCmd struct {
	KB    string `required:"" help:"Knowledge base id."`
	DocID string `arg:"" name:"doc-id" help:"Document id to delete."`
}

func (c *DeleteCmd) Run(cli *CLI) error {
	cfg, err := cli.loadConfig()
	if err != nil {
		return err
	}
	rt, err := buildRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.Close()
	ctx := context.Background()

	key, err := authenticate(ctx, cli, rt)
	if err != nil {
		return err
	}
	if err := rt.svc.DeleteDocument(ctx, key, c.KB, c.DocID); err != nil {
		return err
	}
	fmt.Printf("document %s deleted\n", c.DocID)
	return nil
}

// RetryCmd re-indexes failed chunks with remaining retry budget.
type RetryCmd struct {
	KB string `required:"" help:"Knowledge base id."`
}

func (c *RetryCmd) Run(cli *CLI) error {
	cfg, err := cli.loadConfig()
	if err != nil {
		return err
	}
	rt, err := buildRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.Close()
	ctx := context.Background()

	key, err := authenticate(ctx, cli, rt)
	if err != nil {
		return err
	}
	report, err := rt.svc.RetryFailedChunks(ctx, key, c.KB)
	if err != nil {
		return err
	}
	fmt.Printf("retry: %d indexed, %d still failed\n", report.Indexed, report.Failed)
	return nil
}

// ReconcileCmd sweeps indexed chunks against the vector store.
type ReconcileCmd struct {
	KB string `required:"" help:"Knowledge base id."`
}

func (c *ReconcileCmd) Run(cli *CLI) error {
	cfg, err := cli.loadConfig()
	if err != nil {
		return err
	}
	rt, err := buildRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.Close()
	ctx := context.Background()

	key, err := authenticate(ctx, cli, rt)
	if err != nil {
		return err
	}
	report, err := rt.svc.Reconcile(ctx, key, c.KB)
	if err != nil {
		return err
	}
	fmt.Printf("reconcile: %d checked, %d drifted, %d orphans removed\n",
		report.Checked, report.Drifted, report.Orphans)
	if report.Drifted > 0 {
		fmt.Println("run 'tessera retry' to re-index the drifted chunks")
	}
	return nil
}

// RebuildSparseCmd reloads a KB's sparse records from storage.
type RebuildSparseCmd struct {
	KB string `required:"" help:"Knowledge base id."`
}

func (c *RebuildSparseCmd) Run(cli *CLI) error {
	cfg, err := cli.loadConfig()
	if err != nil {
		return err
	}
	rt, err := buildRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.Close()
	ctx := context.Background()

	key, err := authenticate(ctx, cli, rt)
	if err != nil {
		return err
	}
	if err := rt.svc.RebuildSparse(ctx, key, c.KB); err != nil {
		return err
	}
	fmt.Printf("sparse index rebuilt for %s\n", c.KB)
	return nil
}
