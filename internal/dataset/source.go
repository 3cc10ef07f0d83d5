// Jobdigest - Personalized Posting Ranking and Allocation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/jobdigest

// Package dataset abstracts the input datasets produced by out-of-scope
// ingestion (items, users, profiles, the action log, the keyword corpus)
// and the allocation output sink. The batch reads through the Source
// interface; production runs use the DuckDB-backed implementation,
// tests use MemorySource.
package dataset

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/tomtom215/jobdigest/internal/catalog"
)

// ErrProfileNotFound is returned when a user has no interaction profile.
// Callers fall back to the neutral personalized score.
var ErrProfileNotFound = errors.New("dataset: profile not found")

// Source provides read-only access to the input datasets. Range methods
// exist so orchestrator partitions can fetch disjoint id slices without
// shared state.
type Source interface {
	// ItemIDBounds returns the inclusive [min, max] item id range of
	// active items, ok=false when the catalog is empty.
	ItemIDBounds(ctx context.Context) (lo, hi int64, ok bool, err error)

	// ItemRange returns active items with lo <= id < hi, ordered by id.
	ItemRange(ctx context.Context, lo, hi int64) ([]catalog.Item, error)

	// UserIDBounds returns the inclusive [min, max] user id range,
	// ok=false when there are no users.
	UserIDBounds(ctx context.Context) (lo, hi int64, ok bool, err error)

	// UserRange returns users with lo <= id < hi, ordered by id.
	UserRange(ctx context.Context, lo, hi int64) ([]catalog.User, error)

	// Profile returns the user's interaction profile, or
	// ErrProfileNotFound when none exists.
	Profile(ctx context.Context, userID int64) (*catalog.UserProfile, error)

	// ActionsSince returns action-log rows with OccurredAt >= since.
	ActionsSince(ctx context.Context, since time.Time) ([]catalog.Action, error)

	// Keywords returns the relevance keyword corpus.
	Keywords(ctx context.Context) ([]catalog.Keyword, error)
}

// Sink receives per-user allocation output. WriteUser must be atomic per
// user: either all of a user's rows land or none do.
type Sink interface {
	WriteUser(ctx context.Context, userID int64, runDate string, rows []AllocationRow) error
	Close() error
}

// AllocationRow is one output record of the batch, the sole contract with
// the downstream renderer.
type AllocationRow struct {
	UserID      int64   `json:"user_id"`
	RunDate     string  `json:"run_date"`
	ItemID      int64   `json:"item_id"`
	SectionName string  `json:"section_name"`
	Rank        int     `json:"rank"`
	TotalScore  float64 `json:"total_score"`
}

// MemorySource is an in-memory Source for tests and fixtures.
type MemorySource struct {
	mu       sync.RWMutex
	items    []catalog.Item
	users    []catalog.User
	profiles map[int64]*catalog.UserProfile
	actions  []catalog.Action
	keywords []catalog.Keyword

	// Now anchors item activity checks; zero means time.Now().
	Now time.Time
}

// NewMemorySource returns an empty MemorySource.
func NewMemorySource() *MemorySource {
	return &MemorySource{profiles: make(map[int64]*catalog.UserProfile)}
}

// AddItems appends items, keeping the set sorted by id.
func (m *MemorySource) AddItems(items ...catalog.Item) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = append(m.items, items...)
	sort.Slice(m.items, func(i, j int) bool { return m.items[i].ID < m.items[j].ID })
}

// AddUsers appends users, keeping the set sorted by id.
func (m *MemorySource) AddUsers(users ...catalog.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users = append(m.users, users...)
	sort.Slice(m.users, func(i, j int) bool { return m.users[i].ID < m.users[j].ID })
}

// SetProfile stores a user profile.
func (m *MemorySource) SetProfile(p *catalog.UserProfile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.UserID] = p
}

// AddActions appends action-log rows.
func (m *MemorySource) AddActions(actions ...catalog.Action) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actions = append(m.actions, actions...)
}

// SetKeywords replaces the keyword corpus.
func (m *MemorySource) SetKeywords(kws ...catalog.Keyword) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keywords = kws
}

func (m *MemorySource) now() time.Time {
	if m.Now.IsZero() {
		return time.Now()
	}
	return m.Now
}

// ItemIDBounds implements Source.
func (m *MemorySource) ItemIDBounds(ctx context.Context) (int64, int64, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	lo, hi := int64(0), int64(0)
	found := false
	for i := range m.items {
		if !m.items[i].ActiveAt(m.now()) {
			continue
		}
		if !found || m.items[i].ID < lo {
			lo = m.items[i].ID
		}
		if !found || m.items[i].ID > hi {
			hi = m.items[i].ID
		}
		found = true
	}
	return lo, hi, found, nil
}

// ItemRange implements Source.
func (m *MemorySource) ItemRange(ctx context.Context, lo, hi int64) ([]catalog.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []catalog.Item
	for i := range m.items {
		if m.items[i].ID >= lo && m.items[i].ID < hi && m.items[i].ActiveAt(m.now()) {
			out = append(out, m.items[i])
		}
	}
	return out, nil
}

// UserIDBounds implements Source.
func (m *MemorySource) UserIDBounds(ctx context.Context) (int64, int64, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.users) == 0 {
		return 0, 0, false, nil
	}
	return m.users[0].ID, m.users[len(m.users)-1].ID, true, nil
}

// UserRange implements Source.
func (m *MemorySource) UserRange(ctx context.Context, lo, hi int64) ([]catalog.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []catalog.User
	for _, u := range m.users {
		if u.ID >= lo && u.ID < hi {
			out = append(out, u)
		}
	}
	return out, nil
}

// Profile implements Source.
func (m *MemorySource) Profile(ctx context.Context, userID int64) (*catalog.UserProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[userID]
	if !ok {
		return nil, ErrProfileNotFound
	}
	return p, nil
}

// ActionsSince implements Source.
func (m *MemorySource) ActionsSince(ctx context.Context, since time.Time) ([]catalog.Action, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []catalog.Action
	for _, a := range m.actions {
		if !a.OccurredAt.Before(since) {
			out = append(out, a)
		}
	}
	return out, nil
}

// Keywords implements Source.
func (m *MemorySource) Keywords(ctx context.Context) ([]catalog.Keyword, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]catalog.Keyword, len(m.keywords))
	copy(out, m.keywords)
	return out, nil
}

// MemorySink collects allocation rows in memory for tests.
type MemorySink struct {
	mu   sync.Mutex
	rows map[int64][]AllocationRow
}

// NewMemorySink returns an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{rows: make(map[int64][]AllocationRow)}
}

// WriteUser implements Sink.
func (s *MemorySink) WriteUser(ctx context.Context, userID int64, runDate string, rows []AllocationRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]AllocationRow, len(rows))
	copy(cp, rows)
	s.rows[userID] = cp
	return nil
}

// Close implements Sink.
func (s *MemorySink) Close() error { return nil }

// Rows returns the rows written for a user.
func (s *MemorySink) Rows(userID int64) []AllocationRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows[userID]
}

// UserCount returns how many users have written rows.
func (s *MemorySink) UserCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}
