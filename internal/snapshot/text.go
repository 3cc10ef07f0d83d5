// Jobdigest - Personalized Posting Ranking and Allocation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/jobdigest

package snapshot

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeText canonicalizes free text for keyword matching: NFKC fold
// (unifies full-width/half-width forms), lower-casing, markup stripping,
// and whitespace collapsing. Both corpus keywords and item fields pass
// through this exact function so containment checks compare like with
// like.
func NormalizeText(s string) string {
	s = stripMarkup(s)
	s = norm.NFKC.String(s)
	s = strings.ToLower(s)
	return strings.Join(strings.Fields(s), " ")
}

// stripMarkup removes HTML-ish tags and decodes the handful of entities
// that show up in ingested posting text.
func stripMarkup(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
			b.WriteByte(' ')
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}

	out := b.String()
	for entity, repl := range map[string]string{
		"&amp;":  "&",
		"&lt;":   "<",
		"&gt;":   ">",
		"&quot;": `"`,
		"&#39;":  "'",
		"&nbsp;": " ",
	} {
		out = strings.ReplaceAll(out, entity, repl)
	}
	return out
}
