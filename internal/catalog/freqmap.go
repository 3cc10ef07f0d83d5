// Jobdigest - Personalized Posting Ranking and Allocation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/jobdigest

package catalog

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// ErrMalformedFreqMap is returned when a frequency-map encoding cannot be
// parsed. Parsing is all-or-nothing: a single bad pair rejects the whole
// encoding rather than silently truncating it.
var ErrMalformedFreqMap = errors.New("catalog: malformed frequency map")

// FreqMap is an insertion-ordered code -> count map. It replaces the legacy
// delimited-string frequency encoding ("13:5,14:3") with an explicit type
// that round-trips losslessly through ParseFreqMap and Encode.
//
// The zero value is an empty, usable map.
type FreqMap struct {
	entries []FreqEntry
	index   map[string]int
	total   int
}

// FreqEntry is one code/count pair of a FreqMap.
type FreqEntry struct {
	Code  string `json:"code"`
	Count int    `json:"count"`
}

// ParseFreqMap decodes the wire encoding "code:count,code:count,...".
// Empty input yields an empty map. Duplicate codes, empty codes, and
// non-positive counts are rejected with ErrMalformedFreqMap.
func ParseFreqMap(s string) (FreqMap, error) {
	var fm FreqMap
	s = strings.TrimSpace(s)
	if s == "" {
		return fm, nil
	}

	for _, pair := range strings.Split(s, ",") {
		code, countStr, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if !ok {
			return FreqMap{}, fmt.Errorf("%w: pair %q missing separator", ErrMalformedFreqMap, pair)
		}
		code = strings.TrimSpace(code)
		if code == "" {
			return FreqMap{}, fmt.Errorf("%w: empty code in pair %q", ErrMalformedFreqMap, pair)
		}
		count, err := strconv.Atoi(strings.TrimSpace(countStr))
		if err != nil {
			return FreqMap{}, fmt.Errorf("%w: count in pair %q: %v", ErrMalformedFreqMap, pair, err)
		}
		if count <= 0 {
			return FreqMap{}, fmt.Errorf("%w: non-positive count in pair %q", ErrMalformedFreqMap, pair)
		}
		if _, dup := fm.lookup(code); dup {
			return FreqMap{}, fmt.Errorf("%w: duplicate code %q", ErrMalformedFreqMap, code)
		}
		fm.Add(code, count)
	}
	return fm, nil
}

// Encode serializes the map back to the wire encoding in insertion order.
func (fm *FreqMap) Encode() string {
	if len(fm.entries) == 0 {
		return ""
	}
	var b strings.Builder
	for i, e := range fm.entries {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(e.Code)
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(e.Count))
	}
	return b.String()
}

// Add increases the count for code by n, inserting the code at the end of
// the iteration order if new. Non-positive n is a no-op.
func (fm *FreqMap) Add(code string, n int) {
	if n <= 0 || code == "" {
		return
	}
	if i, ok := fm.lookup(code); ok {
		fm.entries[i].Count += n
	} else {
		if fm.index == nil {
			fm.index = make(map[string]int)
		}
		fm.index[code] = len(fm.entries)
		fm.entries = append(fm.entries, FreqEntry{Code: code, Count: n})
	}
	fm.total += n
}

// Count returns the count recorded for code, zero if absent.
func (fm *FreqMap) Count(code string) int {
	if i, ok := fm.lookup(code); ok {
		return fm.entries[i].Count
	}
	return 0
}

// Ratio returns count(code) / total, zero for an empty map.
func (fm *FreqMap) Ratio(code string) float64 {
	if fm.total == 0 {
		return 0
	}
	return float64(fm.Count(code)) / float64(fm.total)
}

// MaxRatio returns the largest single-code ratio, zero for an empty map.
func (fm *FreqMap) MaxRatio() float64 {
	if fm.total == 0 {
		return 0
	}
	maxCount := 0
	for _, e := range fm.entries {
		if e.Count > maxCount {
			maxCount = e.Count
		}
	}
	return float64(maxCount) / float64(fm.total)
}

// Top returns the code with the highest count, breaking ties by insertion
// order. Returns "" for an empty map.
func (fm *FreqMap) Top() string {
	top := ""
	maxCount := 0
	for _, e := range fm.entries {
		if e.Count > maxCount {
			maxCount = e.Count
			top = e.Code
		}
	}
	return top
}

// Total returns the sum of all counts.
func (fm *FreqMap) Total() int { return fm.total }

// Len returns the number of distinct codes.
func (fm *FreqMap) Len() int { return len(fm.entries) }

// Entries returns the pairs in insertion order. The returned slice is a
// copy and safe to retain.
func (fm *FreqMap) Entries() []FreqEntry {
	out := make([]FreqEntry, len(fm.entries))
	copy(out, fm.entries)
	return out
}

func (fm *FreqMap) lookup(code string) (int, bool) {
	if fm.index == nil {
		return 0, false
	}
	i, ok := fm.index[code]
	return i, ok
}

// MarshalJSON encodes the map as an ordered array of entries.
func (fm FreqMap) MarshalJSON() ([]byte, error) {
	var b strings.Builder
	b.WriteByte('[')
	for i, e := range fm.entries {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, `{"code":%q,"count":%d}`, e.Code, e.Count)
	}
	b.WriteByte(']')
	return []byte(b.String()), nil
}

// UnmarshalJSON decodes the ordered-array form produced by MarshalJSON.
func (fm *FreqMap) UnmarshalJSON(data []byte) error {
	var entries []FreqEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedFreqMap, err)
	}
	*fm = FreqMap{}
	for _, e := range entries {
		if e.Code == "" || e.Count <= 0 {
			return fmt.Errorf("%w: entry %+v", ErrMalformedFreqMap, e)
		}
		if _, dup := fm.lookup(e.Code); dup {
			return fmt.Errorf("%w: duplicate code %q", ErrMalformedFreqMap, e.Code)
		}
		fm.Add(e.Code, e.Count)
	}
	return nil
}
