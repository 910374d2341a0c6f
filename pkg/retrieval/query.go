package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/tessera-kb/tessera/pkg/operator"
	"github.com/tessera-kb/tessera/pkg/types"
)

// expandParams is shared by the LLM query-expansion retrievers.
type expandParams struct {
	TuningParams `mapstructure:",squash"`

	Base *types.OperatorRef `mapstructure:"base"`
	// NumQueries is how many variants the LLM produces.
	NumQueries int `mapstructure:"num_queries"`
	// IncludeOriginal adds the verbatim query as one leg.
	IncludeOriginal bool `mapstructure:"include_original"`
}

func decodeExpandParams(dir *operator.Directory, raw map[string]any, name string) (expandParams, Retriever, error) {
	params := expandParams{NumQueries: 3, IncludeOriginal: true}
	if err := operator.DecodeParams(raw, &params); err != nil {
		return params, nil, err
	}
	if params.NumQueries < 1 || params.NumQueries > 10 {
		return params, nil, types.NewError(types.ErrValidation,
			"%s num_queries must be in [1,10], got %d", name, params.NumQueries)
	}
	ref := types.OperatorRef{Name: "dense"}
	if params.Base != nil {
		ref = *params.Base
	}
	base, err := Build(dir, ref)
	if err != nil {
		return params, nil, err
	}
	return params, base, nil
}

// numberedItem matches "1. text", "2) text", and bare lines.
var numberedItem = regexp.MustCompile(`^\s*(?:\d+[.):]\s*)?(.+)$`)

// parseNumberedList splits an LLM completion into up to n items,
// tolerating numbering variants and blank lines.
func parseNumberedList(completion string, n int) []string {
	var items []string
	for _, line := range strings.Split(completion, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if m := numberedItem.FindStringSubmatch(line); m != nil {
			items = append(items, strings.TrimSpace(m[1]))
		}
		if len(items) == n {
			break
		}
	}
	return items
}

// HydeRetriever generates hypothetical answers to the query and
// retrieves with each of them; passages near a plausible answer rank
// higher than passages near the question.
type HydeRetriever struct {
	deps   Deps
	params expandParams
	base   Retriever
}

func NewHyde(dir *operator.Directory, deps Deps, raw map[string]any) (*HydeRetriever, error) {
	if deps.LLM == nil {
		return nil, types.NewError(types.ErrKBConfigError, "hyde requires an llm provider")
	}
	params, base, err := decodeExpandParams(dir, raw, "hyde")
	if err != nil {
		return nil, err
	}
	return &HydeRetriever{deps: deps, params: params, base: base}, nil
}

func (r *HydeRetriever) Name() string { return "hyde" }

func (r *HydeRetriever) Retrieve(ctx context.Context, req Request) ([]Hit, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	prompt := fmt.Sprintf(`Write %d short passages, one per line numbered 1. to %d., each a plausible direct answer to the question below. Invent specifics freely.

Question: %s`, r.params.NumQueries, r.params.NumQueries, req.Query)
	completion, err := r.deps.LLM.Complete(ctx, prompt, 120*r.params.NumQueries)
	if err != nil {
		return nil, err
	}
	generated := parseNumberedList(completion, r.params.NumQueries)
	if len(generated) == 0 {
		generated = []string{req.Query}
	}

	queries := generated
	if r.params.IncludeOriginal {
		queries = append([]string{req.Query}, generated...)
	}
	lists, err := r.runQueries(ctx, req, queries)
	if err != nil {
		return nil, err
	}

	merged := rrfMerge(lists, nil, req.Config.FusionK)
	for i := range merged {
		merged[i].SourceTag = r.Name()
	}
	merged = truncate(merged, req.TopK)
	if len(merged) > 0 {
		annotate(&merged[0], types.MetaHydeQueries, generated)
	}
	return merged, nil
}

func (r *HydeRetriever) runQueries(ctx context.Context, req Request, queries []string) ([][]Hit, error) {
	legs := make([]func(ctx context.Context, req Request) ([]Hit, error), len(queries))
	for i, q := range queries {
		legs[i] = func(ctx context.Context, req Request) ([]Hit, error) {
			sub := req
			sub.Query = q
			return r.base.Retrieve(ctx, sub)
		}
	}
	return runLegs(ctx, req, legs)
}

// MultiQueryRetriever paraphrases the query and RRF-merges the
// per-paraphrase results.
type MultiQueryRetriever struct {
	deps   Deps
	params expandParams
	base   Retriever
}

func NewMultiQuery(dir *operator.Directory, deps Deps, raw map[string]any) (*MultiQueryRetriever, error) {
	if deps.LLM == nil {
		return nil, types.NewError(types.ErrKBConfigError, "multi_query requires an llm provider")
	}
	params, base, err := decodeExpandParams(dir, raw, "multi_query")
	if err != nil {
		return nil, err
	}
	return &MultiQueryRetriever{deps: deps, params: params, base: base}, nil
}

func (r *MultiQueryRetriever) Name() string { return "multi_query" }

func (r *MultiQueryRetriever) Retrieve(ctx context.Context, req Request) ([]Hit, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	prompt := fmt.Sprintf(`Rephrase the following search query %d different ways, one per line numbered 1. to %d. Keep the meaning, vary the wording.

Query: %s`, r.params.NumQueries, r.params.NumQueries, req.Query)
	completion, err := r.deps.LLM.Complete(ctx, prompt, 60*r.params.NumQueries)
	if err != nil {
		return nil, err
	}
	generated := parseNumberedList(completion, r.params.NumQueries)

	queries := generated
	if r.params.IncludeOriginal || len(queries) == 0 {
		queries = append([]string{req.Query}, generated...)
	}

	legs := make([]func(ctx context.Context, req Request) ([]Hit, error), len(queries))
	for i, q := range queries {
		legs[i] = func(ctx context.Context, req Request) ([]Hit, error) {
			sub := req
			sub.Query = q
			return r.base.Retrieve(ctx, sub)
		}
	}
	lists, err := runLegs(ctx, req, legs)
	if err != nil {
		return nil, err
	}

	details := make(map[string]any, len(queries))
	for i, q := range queries {
		details[q] = len(lists[i])
	}

	merged := rrfMerge(lists, nil, req.Config.FusionK)
	for i := range merged {
		merged[i].SourceTag = r.Name()
	}
	merged = truncate(merged, req.TopK)
	if len(merged) > 0 {
		annotate(&merged[0], types.MetaGeneratedQueries, generated)
		annotate(&merged[0], types.MetaRetrievalDetails, details)
	}
	return merged, nil
}

// SelfQueryRetriever asks the LLM to split the query into a semantic
// part and a metadata filter, then retrieves with both. An unusable
// decomposition falls back to the verbatim query.
type SelfQueryRetriever struct {
	deps Deps
	base Retriever
}

func NewSelfQuery(dir *operator.Directory, deps Deps, raw map[string]any) (*SelfQueryRetriever, error) {
	if deps.LLM == nil {
		return nil, types.NewError(types.ErrKBConfigError, "self_query requires an llm provider")
	}
	var params struct {
		TuningParams `mapstructure:",squash"`

		Base *types.OperatorRef `mapstructure:"base"`
	}
	if err := operator.DecodeParams(raw, &params); err != nil {
		return nil, err
	}
	ref := types.OperatorRef{Name: "dense"}
	if params.Base != nil {
		ref = *params.Base
	}
	base, err := Build(dir, ref)
	if err != nil {
		return nil, err
	}
	return &SelfQueryRetriever{deps: deps, base: base}, nil
}

func (r *SelfQueryRetriever) Name() string { return "self_query" }

type decomposition struct {
	Query   string         `json:"query"`
	Filters map[string]any `json:"filters"`
}

func (r *SelfQueryRetriever) Retrieve(ctx context.Context, req Request) ([]Hit, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	prompt := fmt.Sprintf(`Decompose the search query below into a semantic search string and an exact-match metadata filter. Reply with JSON only, shaped {"query": "...", "filters": {"key": "value"}}. Use an empty filters object when no filter applies.

Query: %s`, req.Query)
	completion, err := r.deps.LLM.Complete(ctx, prompt, 200)

	parsed := decomposition{Query: req.Query}
	if err != nil {
		slog.Warn("self_query decomposition failed, using verbatim query", "error", err)
	} else if decoded, ok := parseDecomposition(completion); ok {
		parsed = decoded
	}

	sub := req
	sub.Query = parsed.Query
	if len(parsed.Filters) > 0 {
		merged := make(map[string]any, len(req.Filter)+len(parsed.Filters))
		for k, v := range req.Filter {
			merged[k] = v
		}
		for k, v := range parsed.Filters {
			merged[k] = v
		}
		sub.Filter = merged
	}

	hits, err := r.base.Retrieve(ctx, sub)
	if err != nil {
		return nil, err
	}
	for i := range hits {
		hits[i].SourceTag = r.Name()
	}
	if len(hits) > 0 {
		annotate(&hits[0], types.MetaSemanticQuery, parsed.Query)
		annotate(&hits[0], types.MetaParsedFilters, parsed.Filters)
	}
	return hits, nil
}

func parseDecomposition(completion string) (decomposition, bool) {
	start := strings.Index(completion, "{")
	end := strings.LastIndex(completion, "}")
	if start < 0 || end <= start {
		return decomposition{}, false
	}
	var parsed decomposition
	if err := json.Unmarshal([]byte(completion[start:end+1]), &parsed); err != nil {
		return decomposition{}, false
	}
	if strings.TrimSpace(parsed.Query) == "" {
		return decomposition{}, false
	}
	return parsed, true
}
