// Jobdigest - Personalized Posting Ranking and Allocation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/jobdigest

package allocation

import (
	"reflect"
	"testing"
	"time"

	"github.com/tomtom215/jobdigest/internal/catalog"
	"github.com/tomtom215/jobdigest/internal/dataset"
	"github.com/tomtom215/jobdigest/internal/scoring"
)

var testRunDate = time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

func testParams() Params {
	return Params{
		Sections: []SectionSpec{
			{Name: "top_picks", Capacity: 3, Filter: FilterNone, RankBy: RankByPersonalized},
			{Name: "new_arrivals", Capacity: 3, Filter: FilterRecent, RankBy: RankByTotal, RecencyDays: 7},
			{Name: "nearby", Capacity: 3, Filter: FilterNearby, RankBy: RankByTotal},
			{Name: "featured", Capacity: 3, Filter: FilterFeatured, RankBy: RankByTotal, FeeMultiple: 3},
		},
		TargetTotal:  12,
		FeeThreshold: 500,
	}
}

// candidate builds a scored candidate with the item's id doubling as a
// deterministic score handle.
func candidate(id, advertiserID int64, total, personalized float64, opts ...func(*catalog.Item)) Candidate {
	item := catalog.Item{
		ID:           id,
		AdvertiserID: advertiserID,
		RegionCode:   "13",
		Fee:          600,
		WageMin:      1200,
		PostedAt:     testRunDate.AddDate(0, 0, -30),
	}
	for _, opt := range opts {
		opt(&item)
	}
	return Candidate{
		Item: item,
		Score: scoring.ScoreRecord{
			UserID:       1,
			ItemID:       id,
			Total:        total,
			Personalized: personalized,
		},
	}
}

func recent(c *catalog.Item)  { c.PostedAt = testRunDate.AddDate(0, 0, -2) }
func highFee(c *catalog.Item) { c.Fee = 2000 }
func region(code string) func(*catalog.Item) {
	return func(c *catalog.Item) { c.RegionCode = code }
}

func testProfile() *catalog.UserProfile {
	p := &catalog.UserProfile{UserID: 1}
	p.RegionFreq.Add("13", 5)
	p.RegionFreq.Add("14", 1)
	return p
}

func TestParamsValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Params)
		wantErr bool
	}{
		{"valid defaults", func(p *Params) {}, false},
		{"zero target", func(p *Params) { p.TargetTotal = 0 }, true},
		{"no sections", func(p *Params) { p.Sections = nil }, true},
		{"capacity mismatch", func(p *Params) { p.TargetTotal = 99 }, true},
		{"duplicate section", func(p *Params) { p.Sections[1].Name = "top_picks" }, true},
		{"unknown backfill section", func(p *Params) { p.BackfillOrder = []string{"bogus"} }, true},
		{"valid backfill order", func(p *Params) { p.BackfillOrder = []string{"nearby", "top_picks"} }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testParams()
			tt.mutate(&p)
			err := p.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestAllocateNoDuplicatesAndTarget(t *testing.T) {
	eng, err := NewEngine(testParams())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	// 40 candidates, plenty for every section.
	var cands []Candidate
	for i := int64(1); i <= 40; i++ {
		opts := []func(*catalog.Item){}
		if i%3 == 0 {
			opts = append(opts, recent)
		}
		if i%4 == 0 {
			opts = append(opts, highFee)
		}
		if i%5 == 0 {
			opts = append(opts, region("27"))
		}
		cands = append(cands, candidate(i, 100+i, float64(50+i), float64(90-i), opts...))
	}

	rows, state, err := eng.Allocate(catalog.User{ID: 1}, testProfile(), cands, nil, testRunDate, Degrade{})
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if state != StateComplete {
		t.Fatalf("state = %v, want %v", state, StateComplete)
	}
	if len(rows) != 12 {
		t.Fatalf("allocated %d rows, want 12", len(rows))
	}

	seen := make(map[int64]bool)
	for _, r := range rows {
		if seen[r.ItemID] {
			t.Errorf("item %d allocated more than once", r.ItemID)
		}
		seen[r.ItemID] = true
	}
}

func TestAllocateShortCatalog(t *testing.T) {
	// Fewer eligible candidates than the target: every eligible item is
	// allocated exactly once and the run still completes.
	eng, err := NewEngine(testParams())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	var cands []Candidate
	for i := int64(1); i <= 8; i++ {
		cands = append(cands, candidate(i, 100+i, float64(50+i), float64(50+i)))
	}

	rows, state, err := eng.Allocate(catalog.User{ID: 1}, testProfile(), cands, nil, testRunDate, Degrade{})
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if state != StateComplete {
		t.Fatalf("state = %v, want %v", state, StateComplete)
	}
	if len(rows) != 8 {
		t.Fatalf("allocated %d rows, want all 8 eligible", len(rows))
	}
	seen := make(map[int64]bool)
	for _, r := range rows {
		if seen[r.ItemID] {
			t.Errorf("item %d allocated more than once", r.ItemID)
		}
		seen[r.ItemID] = true
	}
}

func TestAllocateFeeCutNeverEnters(t *testing.T) {
	eng, err := NewEngine(testParams())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	cut := candidate(99, 999, 100, 100)
	cut.FeeCut = true
	cands := []Candidate{cut, candidate(1, 101, 60, 60), candidate(2, 102, 55, 55)}

	rows, _, err := eng.Allocate(catalog.User{ID: 1}, testProfile(), cands, nil, testRunDate, Degrade{})
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	for _, r := range rows {
		if r.ItemID == 99 {
			t.Fatal("fee-cut item was allocated")
		}
	}
	if len(rows) != 2 {
		t.Fatalf("allocated %d rows, want 2", len(rows))
	}
}

func TestAllocateExclusionAppliesEverywhere(t *testing.T) {
	eng, err := NewEngine(testParams())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	// Advertiser 500 was interacted with inside the window. Its items
	// must not appear in any section, backfill included.
	excl := BuildExclusions([]catalog.Action{
		{UserID: 1, ItemID: 7, AdvertiserID: 500, Kind: catalog.ActionApply, OccurredAt: testRunDate.AddDate(0, 0, -3)},
	}, testRunDate, 14*24*time.Hour)

	var cands []Candidate
	for i := int64(1); i <= 20; i++ {
		adv := int64(100 + i)
		if i%2 == 0 {
			adv = 500
		}
		cands = append(cands, candidate(i, adv, float64(50+i), float64(50+i), recent, highFee))
	}

	rows, _, err := eng.Allocate(catalog.User{ID: 1}, testProfile(), cands, excl, testRunDate, Degrade{})
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	for _, r := range rows {
		if r.ItemID%2 == 0 {
			t.Errorf("item %d from excluded advertiser was allocated", r.ItemID)
		}
	}
	// 10 non-excluded candidates remain; all should be placed.
	if len(rows) != 10 {
		t.Fatalf("allocated %d rows, want 10", len(rows))
	}
}

func TestAllocateDeterministic(t *testing.T) {
	eng, err := NewEngine(testParams())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	build := func() []Candidate {
		var cands []Candidate
		for i := int64(1); i <= 30; i++ {
			cands = append(cands, candidate(i, 100+i, float64(40+i%7), float64(40+i%5), recent))
		}
		return cands
	}

	first, _, err := eng.Allocate(catalog.User{ID: 1}, testProfile(), build(), nil, testRunDate, Degrade{})
	if err != nil {
		t.Fatalf("first Allocate: %v", err)
	}

	// Same candidates in reversed input order must yield an identical
	// allocation, row for row.
	reversed := build()
	for i, j := 0, len(reversed)-1; i < j; i, j = i+1, j-1 {
		reversed[i], reversed[j] = reversed[j], reversed[i]
	}
	second, _, err := eng.Allocate(catalog.User{ID: 1}, testProfile(), reversed, nil, testRunDate, Degrade{})
	if err != nil {
		t.Fatalf("second Allocate: %v", err)
	}

	if !reflect.DeepEqual(first, second) {
		t.Fatalf("allocations differ across input orderings:\nfirst:  %+v\nsecond: %+v", first, second)
	}
}

func TestAllocateTieBreakLowerIDFirst(t *testing.T) {
	params := Params{
		Sections: []SectionSpec{
			{Name: "top_picks", Capacity: 2, Filter: FilterNone, RankBy: RankByTotal},
		},
		TargetTotal:  2,
		FeeThreshold: 500,
	}
	eng, err := NewEngine(params)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	// Three candidates with identical scores; only the two lowest ids fit.
	cands := []Candidate{
		candidate(30, 130, 75, 75),
		candidate(10, 110, 75, 75),
		candidate(20, 120, 75, 75),
	}
	rows, _, err := eng.Allocate(catalog.User{ID: 1}, testProfile(), cands, nil, testRunDate, Degrade{})
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	want := []int64{10, 20}
	if len(rows) != len(want) {
		t.Fatalf("allocated %d rows, want %d", len(rows), len(want))
	}
	for i, r := range rows {
		if r.ItemID != want[i] {
			t.Errorf("rank %d: item %d, want %d", i+1, r.ItemID, want[i])
		}
		if r.Rank != i+1 {
			t.Errorf("item %d: rank %d, want %d", r.ItemID, r.Rank, i+1)
		}
	}
}

func TestAllocateSectionRanking(t *testing.T) {
	// top_picks ranks by personalized score, not total.
	params := Params{
		Sections: []SectionSpec{
			{Name: "top_picks", Capacity: 2, Filter: FilterNone, RankBy: RankByPersonalized},
		},
		TargetTotal:  2,
		FeeThreshold: 500,
	}
	eng, err := NewEngine(params)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	cands := []Candidate{
		candidate(1, 101, 90, 10),
		candidate(2, 102, 10, 90),
		candidate(3, 103, 50, 50),
	}
	rows, _, err := eng.Allocate(catalog.User{ID: 1}, testProfile(), cands, nil, testRunDate, Degrade{})
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	want := []int64{2, 3}
	for i, r := range rows {
		if r.ItemID != want[i] {
			t.Errorf("rank %d: item %d, want %d", i+1, r.ItemID, want[i])
		}
	}
}

func TestAllocateBackfillRoundRobin(t *testing.T) {
	// Two sections with strict filters nothing passes; backfill must
	// distribute the pool round-robin in section order.
	params := Params{
		Sections: []SectionSpec{
			{Name: "new_arrivals", Capacity: 2, Filter: FilterRecent, RankBy: RankByTotal, RecencyDays: 7},
			{Name: "featured", Capacity: 2, Filter: FilterFeatured, RankBy: RankByTotal, FeeMultiple: 3},
		},
		TargetTotal:  4,
		FeeThreshold: 500,
	}
	eng, err := NewEngine(params)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	// Stale, low-fee items: no section admits them directly.
	cands := []Candidate{
		candidate(1, 101, 80, 80),
		candidate(2, 102, 70, 70),
		candidate(3, 103, 60, 60),
		candidate(4, 104, 50, 50),
	}
	rows, state, err := eng.Allocate(catalog.User{ID: 1}, testProfile(), cands, nil, testRunDate, Degrade{})
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if state != StateComplete {
		t.Fatalf("state = %v, want %v", state, StateComplete)
	}
	if len(rows) != 4 {
		t.Fatalf("allocated %d rows, want 4", len(rows))
	}

	bySection := make(map[string][]int64)
	for _, r := range rows {
		bySection[r.SectionName] = append(bySection[r.SectionName], r.ItemID)
	}
	// Round-robin by descending total: 1→new_arrivals, 2→featured,
	// 3→new_arrivals, 4→featured.
	if want := []int64{1, 3}; !reflect.DeepEqual(bySection["new_arrivals"], want) {
		t.Errorf("new_arrivals = %v, want %v", bySection["new_arrivals"], want)
	}
	if want := []int64{2, 4}; !reflect.DeepEqual(bySection["featured"], want) {
		t.Errorf("featured = %v, want %v", bySection["featured"], want)
	}
}

func TestAllocateDegrade(t *testing.T) {
	eng, err := NewEngine(testParams())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	// Only 4 candidates pass any section filter; the rest would arrive
	// via backfill.
	var cands []Candidate
	for i := int64(1); i <= 20; i++ {
		cands = append(cands, candidate(i, 100+i, float64(50+i), float64(50+i)))
	}

	t.Run("skip backfill", func(t *testing.T) {
		rows, state, err := eng.Allocate(catalog.User{ID: 1}, testProfile(), cands, nil, testRunDate, Degrade{SkipBackfill: true})
		if err != nil {
			t.Fatalf("Allocate: %v", err)
		}
		if state != StateComplete {
			t.Fatalf("state = %v, want %v", state, StateComplete)
		}
		// top_picks (none filter, cap 3) and nearby (region 13 matches,
		// cap 3) fill; new_arrivals and featured admit nothing; no
		// backfill tops up the shortfall.
		if len(rows) != 6 {
			t.Fatalf("allocated %d rows, want 6 without backfill", len(rows))
		}
	})

	t.Run("max sections", func(t *testing.T) {
		rows, _, err := eng.Allocate(catalog.User{ID: 1}, testProfile(), cands, nil, testRunDate,
			Degrade{SkipBackfill: true, MaxSections: 1})
		if err != nil {
			t.Fatalf("Allocate: %v", err)
		}
		if len(rows) != 3 {
			t.Fatalf("allocated %d rows, want 3 from the first section only", len(rows))
		}
		for _, r := range rows {
			if r.SectionName != "top_picks" {
				t.Errorf("row in section %q, want only top_picks", r.SectionName)
			}
		}
	})
}

func TestAllocateRowShape(t *testing.T) {
	eng, err := NewEngine(testParams())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	cands := []Candidate{candidate(1, 101, 77, 77)}
	rows, _, err := eng.Allocate(catalog.User{ID: 42}, testProfile(), cands, nil, testRunDate, Degrade{})
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("allocated %d rows, want 1", len(rows))
	}
	want := dataset.AllocationRow{
		UserID:      42,
		RunDate:     "2026-08-01",
		ItemID:      1,
		SectionName: "top_picks",
		Rank:        1,
		TotalScore:  77,
	}
	if rows[0] != want {
		t.Fatalf("row = %+v, want %+v", rows[0], want)
	}
}
