// Jobdigest - Personalized Posting Ranking and Allocation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/jobdigest

package snapshot

import (
	"github.com/cloudflare/ahocorasick"

	"github.com/tomtom215/jobdigest/internal/catalog"
)

// KeywordIndex is the precomputed replacement for per-candidate substring
// scans: one Aho-Corasick automaton over the normalized corpus, built once
// at snapshot construction, giving a single O(n) pass per field instead of
// one scan per keyword.
type KeywordIndex struct {
	matcher *ahocorasick.Matcher
	entries []catalog.Keyword
}

// NewKeywordIndex compiles the corpus. Keywords that normalize to the
// empty string are dropped; duplicates after normalization keep the first
// occurrence.
func NewKeywordIndex(corpus []catalog.Keyword) *KeywordIndex {
	seen := make(map[string]struct{}, len(corpus))
	dict := make([]string, 0, len(corpus))
	entries := make([]catalog.Keyword, 0, len(corpus))

	for _, kw := range corpus {
		normed := NormalizeText(kw.Text)
		if normed == "" {
			continue
		}
		if _, dup := seen[normed]; dup {
			continue
		}
		seen[normed] = struct{}{}
		dict = append(dict, normed)
		kw.Text = normed
		entries = append(entries, kw)
	}

	return &KeywordIndex{
		matcher: ahocorasick.NewStringMatcher(dict),
		entries: entries,
	}
}

// Match returns the corpus entries contained in the already-normalized
// text. Each keyword is reported at most once per call.
func (ix *KeywordIndex) Match(normalizedText string) []catalog.Keyword {
	if len(ix.entries) == 0 || normalizedText == "" {
		return nil
	}
	hits := ix.matcher.Match([]byte(normalizedText))
	if len(hits) == 0 {
		return nil
	}
	out := make([]catalog.Keyword, 0, len(hits))
	for _, i := range hits {
		out = append(out, ix.entries[i])
	}
	return out
}

// Len returns the number of indexed keywords.
func (ix *KeywordIndex) Len() int {
	return len(ix.entries)
}
