package retrieval

import (
	"context"

	"github.com/tessera-kb/tessera/pkg/operator"
	"github.com/tessera-kb/tessera/pkg/types"
)

// ParentDocumentParams configures parent resolution.
type ParentDocumentParams struct {
	TuningParams `mapstructure:",squash"`

	Base *types.OperatorRef `mapstructure:"base"`
	// ReturnMode is "parent" or "parent_with_children".
	ReturnMode string `mapstructure:"return_mode"`
}

// ParentDocumentRetriever searches over child chunks for precision and
// returns their parents for context. Requires the parent_child
// chunker, which stamps parent_id on every child.
type ParentDocumentRetriever struct {
	deps   Deps
	params ParentDocumentParams
	base   Retriever
}

func NewParentDocument(dir *operator.Directory, deps Deps, raw map[string]any) (*ParentDocumentRetriever, error) {
	params := ParentDocumentParams{ReturnMode: "parent"}
	if err := operator.DecodeParams(raw, &params); err != nil {
		return nil, err
	}
	switch params.ReturnMode {
	case "parent", "parent_with_children":
	default:
		return nil, types.NewError(types.ErrValidation,
			"parent_document return_mode must be parent or parent_with_children, got %q", params.ReturnMode)
	}

	ref := types.OperatorRef{Name: "dense"}
	if params.Base != nil {
		ref = *params.Base
	}
	base, err := Build(dir, ref)
	if err != nil {
		return nil, err
	}
	return &ParentDocumentRetriever{deps: deps, params: params, base: base}, nil
}

func (r *ParentDocumentRetriever) Name() string { return "parent_document" }

func (r *ParentDocumentRetriever) Retrieve(ctx context.Context, req Request) ([]Hit, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	// Search child chunks only.
	sub := req
	sub.Filter = map[string]any{types.MetaChild: true}
	for k, v := range req.Filter {
		sub.Filter[k] = v
	}
	children, err := r.base.Retrieve(ctx, sub)
	if err != nil {
		return nil, err
	}
	if len(children) == 0 {
		return nil, nil
	}

	parentIDs := make([]string, 0, len(children))
	seen := make(map[string]bool)
	for _, child := range children {
		if id, ok := child.Payload.Metadata[types.MetaParentID].(string); ok && id != "" && !seen[id] {
			seen[id] = true
			parentIDs = append(parentIDs, id)
		}
	}
	parents, err := r.deps.Store.GetChunksByIDs(ctx, req.TenantID, parentIDs)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*types.Chunk, len(parents))
	for _, parent := range parents {
		byID[parent.ID] = parent
	}

	// One hit per parent, scored by its best-matching child. Children
	// whose parent row is gone fall back to themselves.
	out := make([]Hit, 0, len(children))
	emitted := make(map[string]int)
	for _, child := range children {
		parentID, _ := child.Payload.Metadata[types.MetaParentID].(string)
		parent, ok := byID[parentID]
		if !ok {
			fallback := child
			fallback.SourceTag = r.Name()
			annotate(&fallback, types.MetaParentNotFound, true)
			out = append(out, fallback)
			continue
		}
		if i, dup := emitted[parentID]; dup {
			if r.params.ReturnMode == "parent_with_children" {
				appendMatchedChild(&out[i], child.Payload.ChunkID)
			}
			continue
		}

		hit := child
		hit.ID = parent.ID
		hit.SourceTag = r.Name()
		hit.Payload.ChunkID = parent.ID
		hit.Payload.Text = parent.Text
		hit.Payload.Metadata = parent.Metadata
		// The hit keeps a parent_id reference so callers can tell a
		// resolved parent from a plain chunk.
		annotate(&hit, types.MetaParentID, parent.ID)
		if r.params.ReturnMode == "parent_with_children" {
			appendMatchedChild(&hit, child.Payload.ChunkID)
		}
		emitted[parentID] = len(out)
		out = append(out, hit)
	}
	return truncate(out, req.TopK), nil
}

func appendMatchedChild(h *Hit, childID string) {
	existing, _ := h.Payload.Metadata["matched_children"].([]string)
	annotate(h, "matched_children", append(existing, childID))
}
