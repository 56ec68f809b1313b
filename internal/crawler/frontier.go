package crawler

import (
	"sort"

	"github.com/nao1215/keyharvest/internal/model"
	"github.com/nao1215/keyharvest/internal/phrase"
)

// FilterRows drops rows below minShows and rows equal to the query or to the
// seed, compared case-insensitively. Order is preserved.
func FilterRows(rows []model.Suggestion, query, seed string, minShows int64) []model.Suggestion {
	qk, sk := phrase.Key(query), phrase.Key(seed)
	kept := make([]model.Suggestion, 0, len(rows))
	for _, r := range rows {
		if r.Shows < minShows {
			continue
		}
		if k := phrase.Key(r.Phrase); k == qk || k == sk {
			continue
		}
		kept = append(kept, r)
	}
	return kept
}

// SelectFrontier returns the children of one parent to expand next: rows
// with shows >= expandMin sorted by shows descending, ties in first-seen
// order, truncated to topK. topK <= 0 keeps every candidate.
func SelectFrontier(rows []model.Suggestion, expandMin int64, topK int) []model.Suggestion {
	candidates := make([]model.Suggestion, 0, len(rows))
	for _, r := range rows {
		if r.Shows >= expandMin {
			candidates = append(candidates, r)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Shows > candidates[j].Shows
	})
	if topK > 0 && len(candidates) > topK {
		candidates = candidates[:topK]
	}
	return candidates
}
