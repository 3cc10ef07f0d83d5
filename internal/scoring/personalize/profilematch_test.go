// Jobdigest - Personalized Posting Ranking and Allocation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/jobdigest

package personalize

import (
	"testing"

	"github.com/tomtom215/jobdigest/internal/catalog"
)

func profileWithRegionHistory(t *testing.T) *catalog.UserProfile {
	t.Helper()
	// 80% of interactions in region 13, 20% in region 14.
	region, err := catalog.ParseFreqMap("13:8,14:2")
	if err != nil {
		t.Fatalf("ParseFreqMap: %v", err)
	}
	return &catalog.UserProfile{
		UserID:      1,
		RegionFreq:  region,
		ActionCount: 10,
	}
}

func TestProfileMatchNilProfileIsNeutral(t *testing.T) {
	m := NewProfileMatch()
	item := &catalog.Item{ID: 1, RegionCode: "13"}

	if got := m.Score(nil, item); got != NeutralScore {
		t.Errorf("Score(nil profile) = %g, want %g", got, NeutralScore)
	}
	empty := &catalog.UserProfile{UserID: 1}
	if got := m.Score(empty, item); got != NeutralScore {
		t.Errorf("Score(empty profile) = %g, want %g", got, NeutralScore)
	}
}

func TestProfileMatchLocationPreference(t *testing.T) {
	// A region the user frequents must strictly beat an unseen region on
	// an otherwise identical item.
	m := NewProfileMatch()
	profile := profileWithRegionHistory(t)

	seen := &catalog.Item{ID: 1, AdvertiserID: 5, RegionCode: "13"}
	unseen := &catalog.Item{ID: 2, AdvertiserID: 5, RegionCode: "40"}

	seenScore := m.Score(profile, seen)
	unseenScore := m.Score(profile, unseen)
	if seenScore <= unseenScore {
		t.Errorf("region-X candidate = %g must strictly exceed unseen region = %g", seenScore, unseenScore)
	}
}

func TestProfileMatchWeightRenormalization(t *testing.T) {
	// With only the location dimension present, its score passes through
	// at full weight rather than being diluted by absent dimensions.
	m := NewProfileMatch()
	profile := profileWithRegionHistory(t)

	item := &catalog.Item{ID: 1, RegionCode: "13"}
	if got, want := m.Score(profile, item), 80.0; got != want {
		t.Errorf("single-dimension score = %g, want %g", got, want)
	}
}

func TestProfileMatchSalaryProximity(t *testing.T) {
	tests := []struct {
		name string
		wage float64
		want float64 // expected proximity sub-score
	}{
		{"inside band", 1200, 100},
		{"at lower bound", 1000, 100},
		{"at upper bound", 1500, 100},
		{"just below", 900, 80},    // 10% below min -> 100*(1-0.1/0.5)
		{"far above", 3000, 0},     // 100% above max
		{"half above max", 2250, 0}, // 50% above max decays to zero
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			profile := &catalog.UserProfile{SalaryMin: 1000, SalaryMax: 1500}
			got := salaryProximityScore(profile, tt.wage)
			if got != tt.want {
				t.Errorf("salaryProximityScore(%g) = %g, want %g", tt.wage, got, tt.want)
			}
		})
	}
}

func TestProfileMatchAdvertiserRepeatPenalty(t *testing.T) {
	adv, err := catalog.ParseFreqMap("5:9,6:1")
	if err != nil {
		t.Fatalf("ParseFreqMap: %v", err)
	}
	profile := &catalog.UserProfile{UserID: 1, AdvertiserFreq: adv, ActionCount: 10}
	m := NewProfileMatch()

	repeat := &catalog.Item{ID: 1, AdvertiserID: 5}
	fresh := &catalog.Item{ID: 2, AdvertiserID: 99}

	if rs, fs := m.Score(profile, repeat), m.Score(profile, fresh); rs >= fs {
		t.Errorf("heavily repeated advertiser = %g must score below fresh advertiser = %g", rs, fs)
	}
}

func TestProfileMatchScoreBounds(t *testing.T) {
	m := NewProfileMatch()
	profile := profileWithRegionHistory(t)
	profile.SalaryMin, profile.SalaryAvg, profile.SalaryMax = 1000, 1200, 1500
	profile.SalaryType = "hourly"

	items := []*catalog.Item{
		{ID: 1, RegionCode: "13", SalaryType: "hourly", WageMin: 1200},
		{ID: 2, RegionCode: "40", SalaryType: "monthly", WageMin: 9000},
		{ID: 3},
	}
	for _, it := range items {
		got := m.Score(profile, it)
		if got < 0 || got > 100 {
			t.Errorf("Score(item %d) = %g, out of [0,100]", it.ID, got)
		}
	}
}
