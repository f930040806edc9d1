package store

import (
	"context"

	"github.com/rodrigopitanga/patchvec/internal/engine"
)

// Search runs the query pipeline for one collection: filter split,
// overfetch, engine search under the collection lock, post-filter
// evaluation against sidecar metadata, text hydration, and match-reason
// assembly.
func (s *Store) Search(ctx context.Context, tenant, collection, query string, k int, filters map[string]interface{}) ([]Match, error) {
	kk := k
	if kk < 1 {
		kk = 1
	}
	fetchK := 5 * kk
	if fetchK < 50 {
		fetchK = 50
	}

	pre, post := engine.SplitFilters(filters)
	req := engine.Request{
		Query: engine.SanitSQL(query, s.maxQueryChars),
		Limit: fetchK,
		Pre:   pre,
	}

	type keptHit struct {
		id    string
		score float64
		text  *string
	}
	var kept []keptHit
	var needLookup []string
	var metaSide map[string]map[string]interface{}
	lookup := map[string]string{}

	mu := s.Lock(tenant, collection)
	mu.Lock()
	err := func() error {
		if err := s.loadOrInitLocked(tenant, collection); err != nil {
			return err
		}
		eng, _ := s.handle(tenant, collection)

		hits, err := eng.Search(ctx, req)
		if err != nil {
			return err
		}
		metaSide = s.loadMeta(tenant, collection)

		for _, hit := range hits {
			if hit.ID == "" {
				continue
			}
			if !engine.MatchesFilters(metaSide[hit.ID], post) {
				continue
			}
			kept = append(kept, keptHit{id: hit.ID, score: hit.Score, text: hit.Text})
			if hit.Text == nil {
				needLookup = append(needLookup, hit.ID)
			}
			if len(kept) >= kk {
				break
			}
		}

		if len(needLookup) > 0 {
			found, err := eng.Lookup(ctx, needLookup)
			if err == nil {
				lookup = found
			}
		}
		return nil
	}()
	mu.Unlock()
	if err != nil {
		return nil, err
	}

	chunksDir := s.chunksDir(tenant, collection)
	out := make([]Match, 0, len(kept))
	for _, h := range kept {
		text := h.text
		if text == nil {
			if v, ok := lookup[h.id]; ok {
				text = &v
			} else if v, ok := loadChunkText(chunksDir, h.id); ok {
				text = &v
			}
		}
		meta := metaSide[h.id]
		if meta == nil {
			meta = map[string]interface{}{}
		}
		out = append(out, Match{
			ID:          h.id,
			Score:       h.score,
			Text:        text,
			Tenant:      tenant,
			Collection:  collection,
			Meta:        meta,
			MatchReason: engine.BuildMatchReason(query, h.score, filters, meta),
		})
	}
	return out, nil
}
