// Jobdigest - Personalized Posting Ranking and Allocation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/jobdigest

package scoring

import (
	"sort"

	"github.com/tomtom215/jobdigest/internal/catalog"
	"github.com/tomtom215/jobdigest/internal/snapshot"
)

// scoredField is one weighted free-text field of an item. Fields are
// evaluated in descending weight, then lexical name order, which makes
// the per-keyword best-field choice deterministic: a later field only
// wins with a strictly greater score.
type scoredField struct {
	name   string
	weight float64
	text   func(*catalog.Item) string
}

// Title and advertiser name carry the highest weight; compensation and
// hours the lowest.
var relevanceFields = []scoredField{
	{"advertiser_name", 1.0, func(it *catalog.Item) string { return it.AdvertiserName }},
	{"title", 1.0, func(it *catalog.Item) string { return it.Title }},
	{"description", 0.7, func(it *catalog.Item) string { return it.Description }},
	{"category_text", 0.5, func(it *catalog.Item) string { return it.CategoryText }},
	{"compensation", 0.3, func(it *catalog.Item) string { return it.Compensation }},
	{"hours", 0.3, func(it *catalog.Item) string { return it.Hours }},
}

// relevanceScore matches the snapshot's keyword corpus against the item's
// normalized text fields. Per keyword, the highest-scoring field wins;
// the top MaxKeywordMatches keyword scores are summed and clamped to 100.
func (s *Scorer) relevanceScore(item *catalog.Item) float64 {
	index := s.snap.Keywords()
	if index == nil || index.Len() == 0 {
		return 0
	}

	// keyword text -> best score across fields
	best := make(map[string]float64)

	for _, field := range relevanceFields {
		raw := field.text(item)
		if raw == "" {
			continue
		}
		normed := snapshot.NormalizeText(raw)
		for _, kw := range index.Match(normed) {
			score := kw.BaseScore() * kw.Intent.Multiplier() * field.weight
			if score > best[kw.Text] {
				best[kw.Text] = score
			}
		}
	}

	if len(best) == 0 {
		return 0
	}

	type match struct {
		keyword string
		score   float64
	}
	matches := make([]match, 0, len(best))
	for kw, score := range best {
		matches = append(matches, match{kw, score})
	}
	// Highest score first; equal scores order by keyword text so the
	// accumulated set is stable across runs.
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		return matches[i].keyword < matches[j].keyword
	})

	limit := s.params.MaxKeywordMatches
	if limit <= 0 || limit > len(matches) {
		limit = len(matches)
	}
	var sum float64
	for _, m := range matches[:limit] {
		sum += m.score
	}
	return clamp(sum)
}
