// Package postprocess applies the fixed-order steps that run after a
// retriever returns: ACL security trimming, optional rerank, and
// context-window expansion.
package postprocess

import (
	"context"

	"github.com/tessera-kb/tessera/pkg/config"
	"github.com/tessera-kb/tessera/pkg/rerank"
	"github.com/tessera-kb/tessera/pkg/retrieval"
	"github.com/tessera-kb/tessera/pkg/storage"
	"github.com/tessera-kb/tessera/pkg/token"
	"github.com/tessera-kb/tessera/pkg/types"
)

// Pipeline runs the post-processing steps in order. Reranker may be
// nil when the deployment has no rerank provider.
type Pipeline struct {
	Store    storage.Store
	Reranker rerank.Reranker
	Codec    token.Codec
}

// Run trims, reranks, and expands the hits. The input order is the
// retriever's; the output order is final.
func (p *Pipeline) Run(ctx context.Context, query string, hits []retrieval.Hit, key *types.APIKey, cfg config.RetrievalConfig) ([]retrieval.Hit, error) {
	trimmed, err := TrimACL(hits, key)
	if err != nil {
		return nil, err
	}

	if cfg.Rerank.Enabled && p.Reranker != nil && len(trimmed) > 1 {
		trimmed, err = Rerank(ctx, p.Reranker, query, trimmed, cfg.Rerank.TopN)
		if err != nil {
			return nil, err
		}
	}

	if cfg.Window.Enabled {
		if err := p.ExpandWindows(ctx, trimmed, cfg.Window); err != nil {
			return nil, err
		}
	}
	return trimmed, nil
}

// TrimACL drops hits the caller's identity may not see. Admin keys
// bypass trimming; public documents pass for any caller in the tenant;
// restricted documents need an ACL match or sufficient clearance. A
// non-empty input trimmed to nothing is NO_PERMISSION.
func TrimACL(hits []retrieval.Hit, key *types.APIKey) ([]retrieval.Hit, error) {
	if key.Role == types.RoleAdmin {
		return hits, nil
	}

	out := make([]retrieval.Hit, 0, len(hits))
	for _, hit := range hits {
		if hit.Payload.TenantID != key.TenantID {
			continue
		}
		if allowed(hit, key.Identity) {
			out = append(out, hit)
		}
	}
	if len(hits) > 0 && len(out) == 0 {
		return nil, types.NewError(types.ErrNoPermission, "all results were removed by security trimming")
	}
	return out, nil
}

func allowed(hit retrieval.Hit, id types.Identity) bool {
	if hit.Payload.Sensitivity != types.SensitivityRestricted {
		return true
	}
	if id.Clearance.AtLeast(types.SensitivityRestricted) {
		return true
	}

	// A restricted document with an empty ACL grants to nobody below
	// clearance; there is no implicit allow.
	acl := hit.Payload.ACL
	if id.User != "" && contains(acl.AllowUsers, id.User) {
		return true
	}
	if intersects(acl.AllowRoles, id.Roles) {
		return true
	}
	return intersects(acl.AllowGroups, id.Groups)
}

func contains(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}

func intersects(a, b []string) bool {
	for _, v := range b {
		if contains(a, v) {
			return true
		}
	}
	return false
}

// Rerank rescores the hits with the rerank model and re-sorts.
// Visualization fields attached to the pre-rerank top hit migrate to
// the new top hit so clients see them regardless of ordering.
func Rerank(ctx context.Context, reranker rerank.Reranker, query string, hits []retrieval.Hit, topN int) ([]retrieval.Hit, error) {
	texts := make([]string, len(hits))
	for i, hit := range hits {
		texts[i] = hit.Payload.Text
	}
	scores, err := reranker.Rerank(ctx, query, texts)
	if err != nil {
		return nil, err
	}
	if len(scores) != len(hits) {
		return nil, types.NewError(types.ErrInternal,
			"reranker returned %d scores for %d candidates", len(scores), len(hits))
	}

	visualization := extractVisualization(&hits[0])
	for i := range hits {
		hits[i].Score = scores[i]
	}
	retrieval.SortHits(hits)
	if topN > 0 && len(hits) > topN {
		hits = hits[:topN]
	}
	restoreVisualization(&hits[0], visualization)
	return hits, nil
}

func extractVisualization(h *retrieval.Hit) map[string]any {
	fields := make(map[string]any)
	for _, key := range types.VisualizationKeys {
		if v, ok := h.Payload.Metadata[key]; ok {
			fields[key] = v
		}
	}
	if len(fields) == 0 {
		return nil
	}
	meta := make(map[string]any, len(h.Payload.Metadata))
	for k, v := range h.Payload.Metadata {
		if _, drop := fields[k]; !drop {
			meta[k] = v
		}
	}
	h.Payload.Metadata = meta
	return fields
}

func restoreVisualization(h *retrieval.Hit, fields map[string]any) {
	if len(fields) == 0 {
		return
	}
	meta := make(map[string]any, len(h.Payload.Metadata)+len(fields))
	for k, v := range h.Payload.Metadata {
		meta[k] = v
	}
	for k, v := range fields {
		meta[k] = v
	}
	h.Payload.Metadata = meta
}

// ExpandWindows attaches neighboring chunk text to each hit. Neighbors
// come from the same document only, in chunk order, and the assembled
// context is capped by token count with the hit chunk always kept
// intact.
func (p *Pipeline) ExpandWindows(ctx context.Context, hits []retrieval.Hit, cfg config.WindowConfig) error {
	for i := range hits {
		hit := &hits[i]
		ordinal, ok := ordinalFromMetadata(hit.Payload.Metadata)
		if !ok {
			continue
		}

		lo := ordinal - cfg.Before
		if lo < 0 {
			lo = 0
		}
		count := ordinal - lo + 1 + cfg.After
		neighbors, err := p.Store.ListChunkRange(ctx, hit.Payload.TenantID, hit.Payload.DocID, lo, count)
		if err != nil {
			return err
		}

		var before, after []string
		for _, chunk := range neighbors {
			switch {
			case chunk.Ordinal < ordinal:
				before = append(before, chunk.Text)
			case chunk.Ordinal > ordinal:
				after = append(after, chunk.Text)
			}
		}
		beforeText, afterText := p.capWindow(hit.Payload.Text, before, after, cfg.MaxTokens)

		hit.ContextBefore = beforeText
		hit.ContextAfter = afterText
		hit.ContextText = hit.Payload.Text
		if beforeText != "" {
			hit.ContextText = beforeText + "\n" + hit.ContextText
		}
		if afterText != "" {
			hit.ContextText = hit.ContextText + "\n" + afterText
		}
	}
	return nil
}

// capWindow trims the expansion to the token budget, dropping the
// outermost neighbors first. The hit text itself never shrinks.
func (p *Pipeline) capWindow(hitText string, before, after []string, maxTokens int) (string, string) {
	if maxTokens <= 0 {
		return join(before), join(after)
	}
	budget := maxTokens - p.Codec.Count(hitText)
	for budget > 0 && (len(before) > 0 || len(after) > 0) {
		total := 0
		for _, t := range before {
			total += p.Codec.Count(t)
		}
		for _, t := range after {
			total += p.Codec.Count(t)
		}
		if total <= budget {
			return join(before), join(after)
		}
		// Drop the farthest neighbor from whichever side is longer.
		if len(before) >= len(after) && len(before) > 0 {
			before = before[1:]
		} else {
			after = after[:len(after)-1]
		}
	}
	if budget <= 0 {
		return "", ""
	}
	return join(before), join(after)
}

func join(parts []string) string {
	out := ""
	for i, part := range parts {
		if i > 0 {
			out += "\n"
		}
		out += part
	}
	return out
}

func ordinalFromMetadata(meta map[string]any) (int, bool) {
	switch v := meta[types.MetaChunkIndex].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}
