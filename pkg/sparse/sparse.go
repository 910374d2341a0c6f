// Package sparse holds the in-memory BM25 index used for lexical and
// hybrid retrieval. The index is a cache of the relational store, never
// the source of truth: it is rebuilt at startup and after crashes, and
// retrieval degrades to dense-only while a rebuild is running.
package sparse

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/tessera-kb/tessera/pkg/config"
	"github.com/tessera-kb/tessera/pkg/token"
	"github.com/tessera-kb/tessera/pkg/vector"
)

// Record is one indexed chunk. The payload carries the same tenant,
// KB, document, and ACL snapshot as the chunk's dense point so
// security trimming works identically on sparse results.
type Record struct {
	ID      string
	Text    string
	Payload vector.Payload
}

type entry struct {
	payload vector.Payload
	terms   map[string]int
	length  int
}

// Index is a BM25 inverted index guarded by single-writer,
// multi-reader discipline. Rebuilds swap the whole structure under the
// write lock.
type Index struct {
	k1            float64
	b             float64
	normalization string
	threshold     float64

	mu       sync.RWMutex
	ready    bool
	entries  map[string]*entry
	postings map[string]map[string]int
	totalLen int
}

func NewIndex(cfg *config.SparseConfig) *Index {
	return &Index{
		k1:            cfg.K1,
		b:             cfg.B,
		normalization: cfg.Normalization,
		threshold:     cfg.SigmoidThreshold,
		ready:         true,
		entries:       make(map[string]*entry),
		postings:      make(map[string]map[string]int),
	}
}

// Ready reports whether the index can serve queries. It is false while
// a rebuild holds the structure; hybrid retrieval falls back to
// dense-only until it turns true again.
func (idx *Index) Ready() bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.ready
}

// Upsert adds or replaces records.
func (idx *Index) Upsert(_ context.Context, records []Record) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, record := range records {
		idx.insertLocked(record)
	}
	return nil
}

func (idx *Index) insertLocked(record Record) {
	idx.removeLocked(record.ID)

	terms := make(map[string]int)
	words := token.Words(record.Text)
	for _, word := range words {
		terms[word]++
	}

	idx.entries[record.ID] = &entry{
		payload: record.Payload,
		terms:   terms,
		length:  len(words),
	}
	idx.totalLen += len(words)
	for term, tf := range terms {
		posting, ok := idx.postings[term]
		if !ok {
			posting = make(map[string]int)
			idx.postings[term] = posting
		}
		posting[record.ID] = tf
	}
}

func (idx *Index) removeLocked(id string) {
	existing, ok := idx.entries[id]
	if !ok {
		return
	}
	idx.totalLen -= existing.length
	for term := range existing.terms {
		delete(idx.postings[term], id)
		if len(idx.postings[term]) == 0 {
			delete(idx.postings, term)
		}
	}
	delete(idx.entries, id)
}

// DeleteByFilter removes every record whose payload matches the filter.
func (idx *Index) DeleteByFilter(_ context.Context, filter vector.Filter) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	var ids []string
	for id, e := range idx.entries {
		if filter.Matches(e.payload) {
			ids = append(ids, id)
		}
	}
	for _, id := range ids {
		idx.removeLocked(id)
	}
	return nil
}

// Search scores the query with BM25 over records matching the filter
// and returns the topK, with scores normalized into [0,1]. A search
// during a rebuild returns no results.
func (idx *Index) Search(_ context.Context, query string, topK int, filter vector.Filter) ([]vector.ScoredPoint, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if !idx.ready || len(idx.entries) == 0 || topK <= 0 {
		return nil, nil
	}

	queryTerms := token.Words(query)
	if len(queryTerms) == 0 {
		return nil, nil
	}

	n := float64(len(idx.entries))
	avgLen := float64(idx.totalLen) / n

	raw := make(map[string]float64)
	for _, term := range queryTerms {
		posting, ok := idx.postings[term]
		if !ok {
			continue
		}
		df := float64(len(posting))
		idf := math.Log(1 + (n-df+0.5)/(df+0.5))
		for id, tf := range posting {
			e := idx.entries[id]
			if !filter.Matches(e.payload) {
				continue
			}
			freq := float64(tf)
			norm := 1 - idx.b + idx.b*float64(e.length)/avgLen
			raw[id] += idf * freq * (idx.k1 + 1) / (freq + idx.k1*norm)
		}
	}
	if len(raw) == 0 {
		return nil, nil
	}

	out := make([]vector.ScoredPoint, 0, len(raw))
	for id, score := range raw {
		out = append(out, vector.ScoredPoint{
			Point: vector.Point{ID: id, Payload: idx.entries[id].payload},
			Score: float32(score),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > topK {
		out = out[:topK]
	}
	idx.normalize(out)
	return out, nil
}

// normalize maps raw BM25 scores into [0,1]. Sigmoid uses an absolute
// midpoint so scores are comparable across queries; minmax rescales
// within the batch.
func (idx *Index) normalize(points []vector.ScoredPoint) {
	switch idx.normalization {
	case "minmax":
		if len(points) == 0 {
			return
		}
		lo, hi := points[0].Score, points[0].Score
		for _, p := range points[1:] {
			if p.Score < lo {
				lo = p.Score
			}
			if p.Score > hi {
				hi = p.Score
			}
		}
		for i := range points {
			if hi == lo {
				points[i].Score = 1
				continue
			}
			points[i].Score = (points[i].Score - lo) / (hi - lo)
		}
	default:
		for i := range points {
			raw := float64(points[i].Score)
			points[i].Score = float32(1 / (1 + math.Exp(-(raw - idx.threshold))))
		}
	}
}

// Rebuild repopulates the index from the relational store. The index
// is unavailable for the duration; readers see Ready() == false and
// fall back to dense retrieval.
func (idx *Index) Rebuild(ctx context.Context, load func(ctx context.Context) ([]Record, error)) error {
	idx.mu.Lock()
	idx.ready = false
	idx.mu.Unlock()

	records, err := load(ctx)

	idx.mu.Lock()
	defer idx.mu.Unlock()
	if err != nil {
		idx.ready = true
		return err
	}

	idx.entries = make(map[string]*entry, len(records))
	idx.postings = make(map[string]map[string]int)
	idx.totalLen = 0
	for _, record := range records {
		idx.insertLocked(record)
	}
	idx.ready = true
	return nil
}
