package retrieval

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// runLegs executes base retrievals in parallel. A leg that errors or
// exceeds the per-leg deadline contributes an empty list; if every leg
// fails, the first error surfaces.
func runLegs(ctx context.Context, req Request, legs []func(ctx context.Context, req Request) ([]Hit, error)) ([][]Hit, error) {
	results := make([][]Hit, len(legs))
	errs := make([]error, len(legs))

	group, groupCtx := errgroup.WithContext(ctx)
	for i, leg := range legs {
		group.Go(func() error {
			legCtx := groupCtx
			if req.Config.LegTimeout > 0 {
				var cancel context.CancelFunc
				legCtx, cancel = context.WithTimeout(groupCtx, time.Duration(req.Config.LegTimeout))
				defer cancel()
			}
			hits, err := leg(legCtx, req)
			if err != nil {
				// Degrade to an empty sub-result; the merge decides
				// whether anything survived.
				slog.Warn("retrieval leg failed", "error", err)
				errs[i] = err
				return nil
			}
			results[i] = hits
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	failed := 0
	var first error
	for i := range legs {
		if errs[i] != nil {
			failed++
			if first == nil {
				first = errs[i]
			}
		}
	}
	if failed == len(legs) && first != nil {
		return nil, first
	}
	return results, nil
}

// rrfMerge combines ranked lists by Reciprocal Rank Fusion:
// score = sum over lists of weight/(k + rank). Duplicate chunks
// accumulate across lists; the merged hit keeps the payload of its
// first appearance.
func rrfMerge(lists [][]Hit, weights []float64, k int) []Hit {
	if k <= 0 {
		k = 60
	}
	merged := make(map[string]*Hit)
	var order []string
	for li, list := range lists {
		weight := 1.0
		if li < len(weights) && weights[li] > 0 {
			weight = weights[li]
		}
		for rank, hit := range list {
			contribution := float32(weight / float64(k+rank+1))
			id := hit.Payload.ChunkID
			if id == "" {
				id = hit.ID
			}
			if existing, ok := merged[id]; ok {
				existing.Score += contribution
				continue
			}
			copied := hit
			copied.Score = contribution
			merged[id] = &copied
			order = append(order, id)
		}
	}

	out := make([]Hit, 0, len(order))
	for _, id := range order {
		out = append(out, *merged[id])
	}
	sortHits(out)
	return out
}

// weightedMerge combines lists by weighted score sum. Inputs must
// already be normalized to [0,1].
func weightedMerge(lists [][]Hit, weights []float64) []Hit {
	merged := make(map[string]*Hit)
	var order []string
	for li, list := range lists {
		weight := 1.0
		if li < len(weights) && weights[li] > 0 {
			weight = weights[li]
		}
		for _, hit := range list {
			contribution := float32(weight) * hit.Score
			id := hit.Payload.ChunkID
			if id == "" {
				id = hit.ID
			}
			if existing, ok := merged[id]; ok {
				existing.Score += contribution
				continue
			}
			copied := hit
			copied.Score = contribution
			merged[id] = &copied
			order = append(order, id)
		}
	}

	out := make([]Hit, 0, len(order))
	for _, id := range order {
		out = append(out, *merged[id])
	}
	sortHits(out)
	return out
}
